package native

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/javapathfinder/jpf-core-sub000/pkg/heap"
	"github.com/javapathfinder/jpf-core-sub000/pkg/thread"
	"github.com/javapathfinder/jpf-core-sub000/pkg/types"
)

// JavaName converts an internal class name to its source form.
func JavaName(internal string) string {
	return strings.ReplaceAll(internal, "/", ".")
}

// InternalName converts a source class name to its internal form.
func InternalName(name string) string {
	return strings.ReplaceAll(name, ".", "/")
}

// StringHash is String.hashCode over UTF-16 units.
func StringHash(s string) int32 {
	var h int32
	for _, c := range []rune(s) {
		h = 31*h + int32(uint16(c))
	}
	return h
}

// Format renders ref the way String.valueOf(Object) does for the model
// library classes. Other objects use the Object.toString form.
func Format(env Env, ref heap.Ref) string {
	h := env.Heap()
	if ref == heap.Null {
		return "null"
	}
	if s, ok := h.StringValue(ref); ok {
		return s
	}
	r := h.MustGet(ref)
	ci := r.Class()
	switch {
	case ci.Name == types.IntegerClass:
		return strconv.Itoa(int(r.Int(ci.InstanceField("value"))))
	case ci.Name == types.ClassClass:
		if c := h.ClassOf(ref); c != nil {
			return "class " + JavaName(c.Name)
		}
	case ci.IsSubclassOf(h.Registry().Lookup(types.ThrowableClass)):
		msg := r.Reference(ci.InstanceField("detailMessage"))
		if msg == heap.Null {
			return JavaName(ci.Name)
		}
		return JavaName(ci.Name) + ": " + Format(env, msg)
	}
	return fmt.Sprintf("%s@%x", JavaName(ci.Name), int32(ref))
}

func stringArg(env Env, v thread.Value) (string, error) {
	if v.IsNull() {
		return "", env.Throw(types.NPEClass, "")
	}
	s, _ := env.Heap().StringValue(v.Ref())
	return s, nil
}

func registerLang(t Table) {
	const (
		obj = types.ObjectClass
		str = types.StringClass
	)
	t.Register(obj, "hashCode", "()I", func(env Env, args []thread.Value) (thread.Value, error) {
		return thread.IntValue(int32(args[0].Ref())), nil
	})
	t.Register(obj, "getClass", "()Ljava/lang/Class;", func(env Env, args []thread.Value) (thread.Value, error) {
		h := env.Heap()
		ci := h.MustGet(args[0].Ref()).Class()
		return thread.RefValue(h.ClassObject(ci, env.Thread().ID())), nil
	})
	t.Register(obj, "toString", "()Ljava/lang/String;", func(env Env, args []thread.Value) (thread.Value, error) {
		return newString(env, Format(env, args[0].Ref())), nil
	})

	t.Register(str, "length", "()I", func(env Env, args []thread.Value) (thread.Value, error) {
		s, _ := env.Heap().StringValue(args[0].Ref())
		return thread.IntValue(int32(len([]rune(s)))), nil
	})
	t.Register(str, "charAt", "(I)C", func(env Env, args []thread.Value) (thread.Value, error) {
		s, _ := env.Heap().StringValue(args[0].Ref())
		rs := []rune(s)
		i := int(args[1].Int())
		if i < 0 || i >= len(rs) {
			return void, env.Throw("java/lang/StringIndexOutOfBoundsException", strconv.Itoa(i))
		}
		return thread.IntValue(int32(uint16(rs[i]))), nil
	})
	t.Register(str, "equals", "(Ljava/lang/Object;)Z", func(env Env, args []thread.Value) (thread.Value, error) {
		h := env.Heap()
		a, _ := h.StringValue(args[0].Ref())
		b, ok := h.StringValue(args[1].Ref())
		return boolValue(ok && a == b), nil
	})
	t.Register(str, "hashCode", "()I", func(env Env, args []thread.Value) (thread.Value, error) {
		s, _ := env.Heap().StringValue(args[0].Ref())
		return thread.IntValue(StringHash(s)), nil
	})
	t.Register(str, "concat", "(Ljava/lang/String;)Ljava/lang/String;", func(env Env, args []thread.Value) (thread.Value, error) {
		a, _ := env.Heap().StringValue(args[0].Ref())
		b, err := stringArg(env, args[1])
		if err != nil {
			return void, err
		}
		return newString(env, a+b), nil
	})
	t.Register(str, "intern", "()Ljava/lang/String;", func(env Env, args []thread.Value) (thread.Value, error) {
		s, _ := env.Heap().StringValue(args[0].Ref())
		return thread.RefValue(env.Heap().Intern(s, env.Thread().ID())), nil
	})
	t.Register(str, "valueOf", "(I)Ljava/lang/String;", func(env Env, args []thread.Value) (thread.Value, error) {
		return newString(env, strconv.Itoa(int(args[0].Int()))), nil
	})
	t.Register(str, "valueOf", "(Ljava/lang/Object;)Ljava/lang/String;", func(env Env, args []thread.Value) (thread.Value, error) {
		return newString(env, Format(env, args[0].Ref())), nil
	})

	t.Register(types.IntegerClass, "equals", "(Ljava/lang/Object;)Z", func(env Env, args []thread.Value) (thread.Value, error) {
		h := env.Heap()
		if args[1].IsNull() {
			return boolValue(false), nil
		}
		a, b := h.MustGet(args[0].Ref()), h.MustGet(args[1].Ref())
		if b.Class() != a.Class() {
			return boolValue(false), nil
		}
		value := a.Class().InstanceField("value")
		return boolValue(a.Int(value) == b.Int(value)), nil
	})
	t.Register(types.IntegerClass, "toString", "()Ljava/lang/String;", func(env Env, args []thread.Value) (thread.Value, error) {
		return newString(env, Format(env, args[0].Ref())), nil
	})

	t.Register(types.ThrowableClass, "toString", "()Ljava/lang/String;", func(env Env, args []thread.Value) (thread.Value, error) {
		return newString(env, Format(env, args[0].Ref())), nil
	})
	t.Register(types.ThrowableClass, "printStackTrace", "()V", func(env Env, args []thread.Value) (thread.Value, error) {
		fmt.Fprintln(env.Out(), Format(env, args[0].Ref()))
		for _, f := range env.Thread().Frames() {
			fmt.Fprintf(env.Out(), "\tat %s.%s(pc %d)\n", JavaName(f.Method().Class.Name), f.Method().Name, f.PC())
		}
		return void, nil
	})
}
