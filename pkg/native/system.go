package native

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/javapathfinder/jpf-core-sub000/pkg/heap"
	"github.com/javapathfinder/jpf-core-sub000/pkg/thread"
	"github.com/javapathfinder/jpf-core-sub000/pkg/types"
)

// Epoch is the value of System.currentTimeMillis. Time is not modeled, so
// the clock is constant and replays stay deterministic.
const Epoch = 1_000_000

// FormatDouble renders v like Double.toString for the common cases.
func FormatDouble(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

func registerSystem(t Table) {
	t.Register(types.SystemClass, "arraycopy", "(Ljava/lang/Object;ILjava/lang/Object;II)V", arraycopy)
	t.Register(types.SystemClass, "identityHashCode", "(Ljava/lang/Object;)I", func(env Env, args []thread.Value) (thread.Value, error) {
		return thread.IntValue(int32(args[0].Ref())), nil
	})
	t.Register(types.SystemClass, "currentTimeMillis", "()J", func(env Env, args []thread.Value) (thread.Value, error) {
		return thread.LongValue(Epoch), nil
	})

	ps := types.PrintStreamClass
	println := func(desc string, format func(Env, thread.Value) string) {
		t.Register(ps, "println", desc, func(env Env, args []thread.Value) (thread.Value, error) {
			if format == nil {
				fmt.Fprintln(env.Out())
			} else {
				fmt.Fprintln(env.Out(), format(env, args[1]))
			}
			return void, nil
		})
	}
	ref := func(env Env, v thread.Value) string { return Format(env, v.Ref()) }
	integer := func(env Env, v thread.Value) string { return strconv.Itoa(int(v.Int())) }
	println("()V", nil)
	println("(Ljava/lang/String;)V", ref)
	println("(Ljava/lang/Object;)V", ref)
	println("(I)V", integer)
	println("(J)V", func(env Env, v thread.Value) string { return strconv.FormatInt(v.Long(), 10) })
	println("(Z)V", func(env Env, v thread.Value) string { return strconv.FormatBool(v.Int() != 0) })
	println("(C)V", func(env Env, v thread.Value) string { return string(rune(uint16(v.Int()))) })
	println("(D)V", func(env Env, v thread.Value) string { return FormatDouble(v.Double()) })

	t.Register(ps, "print", "(Ljava/lang/String;)V", func(env Env, args []thread.Value) (thread.Value, error) {
		fmt.Fprint(env.Out(), ref(env, args[1]))
		return void, nil
	})
	t.Register(ps, "print", "(I)V", func(env Env, args []thread.Value) (thread.Value, error) {
		fmt.Fprint(env.Out(), integer(env, args[1]))
		return void, nil
	})
}

func arraycopy(env Env, args []thread.Value) (thread.Value, error) {
	src, srcPos := args[0].Ref(), int(args[1].Int())
	dst, dstPos := args[2].Ref(), int(args[3].Int())
	n := int(args[4].Int())
	err := env.Heap().ArrayCopy(src, srcPos, dst, dstPos, n)
	switch errors.Cause(err) {
	case nil:
		return void, nil
	case heap.ErrNullArray:
		return void, env.Throw(types.NPEClass, "arraycopy")
	case heap.ErrArrayStore:
		return void, env.Throw(types.ArrayStoreClass, err.Error())
	case heap.ErrIndexOutOfBounds:
		return void, env.Throw(types.AIOOBEClass, err.Error())
	}
	return void, err
}
