package native

import (
	"bytes"
	"fmt"
	"io"
	"testing"

	"github.com/javapathfinder/jpf-core-sub000/pkg/heap"
	"github.com/javapathfinder/jpf-core-sub000/pkg/thread"
	"github.com/javapathfinder/jpf-core-sub000/pkg/types"
)

type testEnv struct {
	h      *heap.Heap
	t      *thread.ThreadInfo
	out    bytes.Buffer
	thrown string
}

func newTestEnv(t *testing.T) *testEnv {
	reg, err := types.NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return &testEnv{h: heap.New(reg), t: thread.NewThreadInfo(0, "main", heap.Null, heap.Null)}
}

func (e *testEnv) Heap() *heap.Heap           { return e.h }
func (e *testEnv) Thread() *thread.ThreadInfo { return e.t }
func (e *testEnv) Out() io.Writer             { return &e.out }

func (e *testEnv) Throw(class, msg string) error {
	e.thrown = class
	return fmt.Errorf("%s: %s", class, msg)
}

func (e *testEnv) str(s string) thread.Value {
	return thread.RefValue(e.h.NewString(s, 0).Ref())
}

func call(t *testing.T, env *testEnv, class, name, desc string, args ...thread.Value) (thread.Value, error) {
	m := Builtins()[Key(class, name, desc)]
	if m == nil {
		t.Fatalf("no peer for %s", Key(class, name, desc))
	}
	return m(env, args)
}

func TestStringPeers(t *testing.T) {
	env := newTestEnv(t)
	hello := env.str("hello")

	t.Run("length", func(t *testing.T) {
		v, err := call(t, env, types.StringClass, "length", "()I", hello)
		if err != nil || v.Int() != 5 {
			t.Errorf("length: got %v, %v, want 5", v, err)
		}
	})

	t.Run("charAt", func(t *testing.T) {
		v, _ := call(t, env, types.StringClass, "charAt", "(I)C", hello, thread.IntValue(1))
		if got := rune(v.Int()); got != 'e' {
			t.Errorf("charAt(1): got %q, want 'e'", got)
		}
		if _, err := call(t, env, types.StringClass, "charAt", "(I)C", hello, thread.IntValue(9)); err == nil {
			t.Errorf("charAt(9): expected an exception")
		}
	})

	t.Run("equals", func(t *testing.T) {
		v, _ := call(t, env, types.StringClass, "equals", "(Ljava/lang/Object;)Z", hello, env.str("hello"))
		if v.Int() != 1 {
			t.Errorf("equals same text: got %v, want 1", v.Int())
		}
		v, _ = call(t, env, types.StringClass, "equals", "(Ljava/lang/Object;)Z", hello, thread.NullValue())
		if v.Int() != 0 {
			t.Errorf("equals null: got %v, want 0", v.Int())
		}
	})

	t.Run("hashCode", func(t *testing.T) {
		v, _ := call(t, env, types.StringClass, "hashCode", "()I", hello)
		if v.Int() != 99162322 {
			t.Errorf("hashCode: got %d, want 99162322", v.Int())
		}
	})

	t.Run("concat", func(t *testing.T) {
		v, err := call(t, env, types.StringClass, "concat", "(Ljava/lang/String;)Ljava/lang/String;", hello, env.str(" world"))
		if err != nil {
			t.Fatalf("concat: %v", err)
		}
		if s, _ := env.h.StringValue(v.Ref()); s != "hello world" {
			t.Errorf("concat: got %q", s)
		}
		if _, err := call(t, env, types.StringClass, "concat", "(Ljava/lang/String;)Ljava/lang/String;", hello, thread.NullValue()); err == nil || env.thrown != types.NPEClass {
			t.Errorf("concat(null): got %v, thrown %s", err, env.thrown)
		}
	})

	t.Run("intern", func(t *testing.T) {
		a, _ := call(t, env, types.StringClass, "intern", "()Ljava/lang/String;", hello)
		b, _ := call(t, env, types.StringClass, "intern", "()Ljava/lang/String;", env.str("hello"))
		if a.Ref() != b.Ref() {
			t.Errorf("intern: got %d and %d, want the same ref", a.Ref(), b.Ref())
		}
	})
}

func TestFormat(t *testing.T) {
	env := newTestEnv(t)
	reg := env.h.Registry()

	integer := env.h.NewObject(reg.Lookup(types.IntegerClass), 0)
	integer.SetInt(integer.Class().InstanceField("value"), -7)

	npe := env.h.NewObject(reg.Lookup(types.NPEClass), 0)
	withMsg := env.h.NewObject(reg.Lookup(types.NPEClass), 0)
	withMsg.SetReference(withMsg.Class().InstanceField("detailMessage"), env.str("boom").Ref())

	obj := env.h.NewObject(reg.Lookup(types.ObjectClass), 0)
	cls := env.h.ClassObject(reg.Lookup(types.ThreadClass), 0)

	tests := []struct {
		name string
		ref  heap.Ref
		want string
	}{
		{"null", heap.Null, "null"},
		{"string", env.str("text").Ref(), "text"},
		{"integer", integer.Ref(), "-7"},
		{"throwable", npe.Ref(), "java.lang.NullPointerException"},
		{"throwable with message", withMsg.Ref(), "java.lang.NullPointerException: boom"},
		{"class", cls, "class java.lang.Thread"},
		{"object", obj.Ref(), fmt.Sprintf("java.lang.Object@%x", int32(obj.Ref()))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Format(env, tt.ref); got != tt.want {
				t.Errorf("Format: got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrintStream(t *testing.T) {
	tests := []struct {
		desc string
		arg  func(env *testEnv) thread.Value
		want string
	}{
		{"()V", nil, "\n"},
		{"(Ljava/lang/String;)V", func(env *testEnv) thread.Value { return env.str("hi") }, "hi\n"},
		{"(I)V", func(*testEnv) thread.Value { return thread.IntValue(-3) }, "-3\n"},
		{"(J)V", func(*testEnv) thread.Value { return thread.LongValue(1 << 40) }, "1099511627776\n"},
		{"(Z)V", func(*testEnv) thread.Value { return thread.IntValue(1) }, "true\n"},
		{"(C)V", func(*testEnv) thread.Value { return thread.IntValue('x') }, "x\n"},
		{"(D)V", func(*testEnv) thread.Value { return thread.DoubleValue(2) }, "2.0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			env := newTestEnv(t)
			args := []thread.Value{thread.NullValue()}
			if tt.arg != nil {
				args = append(args, tt.arg(env))
			}
			if _, err := call(t, env, types.PrintStreamClass, "println", tt.desc, args...); err != nil {
				t.Fatalf("println: %v", err)
			}
			if got := env.out.String(); got != tt.want {
				t.Errorf("println%s: got %q, want %q", tt.desc, got, tt.want)
			}
		})
	}
}

func TestFormatDouble(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{1, "1.0"},
		{0.5, "0.5"},
		{-12.25, "-12.25"},
	}
	for _, tt := range tests {
		if got := FormatDouble(tt.in); got != tt.want {
			t.Errorf("FormatDouble(%v): got %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestArraycopyExceptions(t *testing.T) {
	env := newTestEnv(t)
	reg := env.h.Registry()
	ints := reg.MustResolve("[I")
	chars := reg.MustResolve("[C")
	a := thread.RefValue(env.h.NewArray(ints, 4, 0).Ref())
	b := thread.RefValue(env.h.NewArray(ints, 2, 0).Ref())
	c := thread.RefValue(env.h.NewArray(chars, 4, 0).Ref())

	tests := []struct {
		name string
		args []thread.Value
		want string
	}{
		{"ok", []thread.Value{a, thread.IntValue(0), b, thread.IntValue(0), thread.IntValue(2)}, ""},
		{"null", []thread.Value{thread.NullValue(), thread.IntValue(0), b, thread.IntValue(0), thread.IntValue(1)}, types.NPEClass},
		{"kinds", []thread.Value{a, thread.IntValue(0), c, thread.IntValue(0), thread.IntValue(1)}, types.ArrayStoreClass},
		{"bounds", []thread.Value{a, thread.IntValue(0), b, thread.IntValue(0), thread.IntValue(3)}, types.AIOOBEClass},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.thrown = ""
			_, err := call(t, env, types.SystemClass, "arraycopy", "(Ljava/lang/Object;ILjava/lang/Object;II)V", tt.args...)
			if (err != nil) != (tt.want != "") || env.thrown != tt.want {
				t.Errorf("arraycopy: got err %v thrown %q, want %q", err, env.thrown, tt.want)
			}
		})
	}
}
