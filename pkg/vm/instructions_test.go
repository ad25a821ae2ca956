package vm

import (
	"bytes"
	"math"
	"strings"
	"testing"

	cf "github.com/javapathfinder/jpf-core-sub000/pkg/classfile"
	"github.com/javapathfinder/jpf-core-sub000/pkg/types"
)

const (
	pubStatic   = cf.AccPublic | cf.AccStatic
	printStream = "Ljava/io/PrintStream;"
)

// newTestVM links classes into a VM with default settings whose output is
// captured. Thread bookkeeping fields never break transitions so tests
// explore only the interleavings of the program's own accesses.
func newTestVM(t *testing.T, target string, classes ...*cf.ClassFile) (*VM, *bytes.Buffer) {
	t.Helper()
	src := types.MapSource{}
	for _, c := range classes {
		name, err := c.ClassName()
		if err != nil {
			t.Fatalf("ClassName: %v", err)
		}
		src[name] = c
	}
	var out bytes.Buffer
	cfg := DefaultConfig()
	cfg.Target = target
	cfg.Sources = []types.Source{src}
	cfg.Out = &out
	cfg.Shared.NeverBreakFields = []string{"java.lang.Thread.*"}
	v, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := v.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return v, &out
}

// runPath follows the first alternative of every choice until an end
// state.
func runPath(t *testing.T, v *VM) {
	t.Helper()
	for {
		ok, err := v.Forward()
		if err != nil {
			t.Fatalf("Forward: %v", err)
		}
		if !ok {
			return
		}
	}
}

// runProgram runs target on a single path and returns its output. The
// path must not violate a property.
func runProgram(t *testing.T, target string, classes ...*cf.ClassFile) string {
	t.Helper()
	v, out := newTestVM(t, target, classes...)
	runPath(t, v)
	if viol := v.Violation(); viol != nil {
		t.Fatalf("unexpected violation: %v", viol)
	}
	return out.String()
}

// mainMethod adds main([Ljava/lang/String;)V to b.
func mainMethod(b *cf.ClassBuilder, maxStack, maxLocals int, code *cf.Asm) {
	b.Method(pubStatic, "main", mainDescriptor, maxStack, maxLocals, code)
}

// eval builds class T with a static method f returning ret, whose body is
// emitted by body, and a main printing f's result. It returns the printed
// value.
func eval(t *testing.T, ret string, body func(a *cf.Asm)) string {
	t.Helper()
	b := cf.NewClass("T", types.ObjectClass)
	a := b.Code()
	body(a)
	b.Method(pubStatic, "f", "()"+ret, 10, 6, a)
	main := b.Code().
		Field(cf.OpGetstatic, types.SystemClass, "out", printStream).
		Invoke(cf.OpInvokestatic, "T", "f", "()"+ret).
		Invoke(cf.OpInvokevirtual, types.PrintStreamClass, "println", "("+ret+")V").
		Op(cf.OpReturn)
	mainMethod(b, 3, 1, main)
	return strings.TrimSuffix(runProgram(t, "T", b.MustBuild()), "\n")
}

type evalCase struct {
	name string
	body func(a *cf.Asm)
	want string
}

func runEvalCases(t *testing.T, ret string, tests []evalCase) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := eval(t, ret, tt.body); got != tt.want {
				t.Errorf("%s: got %s, want %s", tt.name, got, tt.want)
			}
		})
	}
}

// binop returns a body computing "x op y" on ints.
func binop(x, y int32, op byte) func(a *cf.Asm) {
	return func(a *cf.Asm) { a.Iconst(x).Iconst(y).Op(op, cf.OpIreturn) }
}

func TestIntConstants(t *testing.T) {
	runEvalCases(t, "I", []evalCase{
		{"iconst_m1", func(a *cf.Asm) { a.Op(cf.OpIconstM1, cf.OpIreturn) }, "-1"},
		{"iconst_5", func(a *cf.Asm) { a.Op(cf.OpIconst5, cf.OpIreturn) }, "5"},
		{"bipush", func(a *cf.Asm) { a.Iconst(-100).Op(cf.OpIreturn) }, "-100"},
		{"sipush", func(a *cf.Asm) { a.Iconst(30000).Op(cf.OpIreturn) }, "30000"},
		{"ldc", func(a *cf.Asm) { a.Iconst(100000).Op(cf.OpIreturn) }, "100000"},
	})
}

func TestIntArithmetic(t *testing.T) {
	runEvalCases(t, "I", []evalCase{
		{"iadd", binop(3, 4, cf.OpIadd), "7"},
		{"isub", binop(3, 10, cf.OpIsub), "-7"},
		{"imul", binop(6, 7, cf.OpImul), "42"},
		{"idiv", binop(7, 2, cf.OpIdiv), "3"},
		{"idiv negative", binop(-7, 2, cf.OpIdiv), "-3"},
		{"irem negative", binop(-7, 2, cf.OpIrem), "-1"},
		{"iadd overflow", binop(math.MaxInt32, 1, cf.OpIadd), "-2147483648"},
		{"idiv min by -1", binop(math.MinInt32, -1, cf.OpIdiv), "-2147483648"},
		{"ishl masks shift", binop(1, 33, cf.OpIshl), "2"},
		{"ishr", binop(-16, 2, cf.OpIshr), "-4"},
		{"iushr", binop(-1, 28, cf.OpIushr), "15"},
		{"iand", binop(12, 10, cf.OpIand), "8"},
		{"ior", binop(12, 10, cf.OpIor), "14"},
		{"ixor", binop(12, 10, cf.OpIxor), "6"},
		{"ineg", func(a *cf.Asm) { a.Iconst(9).Op(cf.OpIneg, cf.OpIreturn) }, "-9"},
		{"iinc", func(a *cf.Asm) {
			a.Iconst(5).Local(cf.OpIstore, 0).Iinc(0, -3).Local(cf.OpIload, 0).Op(cf.OpIreturn)
		}, "2"},
	})
}

func TestConversions(t *testing.T) {
	runEvalCases(t, "I", []evalCase{
		{"i2b", func(a *cf.Asm) { a.Iconst(200).Op(cf.OpI2b, cf.OpIreturn) }, "-56"},
		{"i2c", func(a *cf.Asm) { a.Iconst(-1).Op(cf.OpI2c, cf.OpIreturn) }, "65535"},
		{"i2s", func(a *cf.Asm) { a.Iconst(70000).Op(cf.OpI2s, cf.OpIreturn) }, "4464"},
		{"l2i", func(a *cf.Asm) { a.Ldc(int64(1<<32 + 5)).Op(cf.OpL2i, cf.OpIreturn) }, "5"},
		{"d2i NaN", func(a *cf.Asm) { a.Op(cf.OpDconst0, cf.OpDconst0, cf.OpDdiv, cf.OpD2i, cf.OpIreturn) }, "0"},
		{"d2i saturates", func(a *cf.Asm) { a.Ldc(1e20).Op(cf.OpD2i, cf.OpIreturn) }, "2147483647"},
		{"f2i saturates", func(a *cf.Asm) { a.Ldc(float32(-1e20)).Op(cf.OpF2i, cf.OpIreturn) }, "-2147483648"},
	})
}

func TestComparisons(t *testing.T) {
	nan := func(a *cf.Asm) { a.Op(cf.OpFconst0, cf.OpFconst0, cf.OpFdiv, cf.OpFconst1) }
	runEvalCases(t, "I", []evalCase{
		{"lcmp", func(a *cf.Asm) { a.Ldc(int64(5)).Ldc(int64(3)).Op(cf.OpLcmp, cf.OpIreturn) }, "1"},
		{"lcmp equal", func(a *cf.Asm) { a.Op(cf.OpLconst1, cf.OpLconst1, cf.OpLcmp, cf.OpIreturn) }, "0"},
		{"fcmpl NaN", func(a *cf.Asm) { nan(a); a.Op(cf.OpFcmpl, cf.OpIreturn) }, "-1"},
		{"fcmpg NaN", func(a *cf.Asm) { nan(a); a.Op(cf.OpFcmpg, cf.OpIreturn) }, "1"},
		{"dcmpl", func(a *cf.Asm) { a.Op(cf.OpDconst0, cf.OpDconst1, cf.OpDcmpl, cf.OpIreturn) }, "-1"},
	})
}

func TestStackManipulation(t *testing.T) {
	runEvalCases(t, "I", []evalCase{
		{"dup_x1", func(a *cf.Asm) {
			a.Op(cf.OpIconst1, cf.OpIconst2, cf.OpDupX1, cf.OpIsub, cf.OpIadd, cf.OpIreturn)
		}, "1"},
		{"swap", func(a *cf.Asm) { a.Iconst(10).Iconst(3).Op(cf.OpSwap, cf.OpIsub, cf.OpIreturn) }, "-7"},
		{"dup2 ints", func(a *cf.Asm) {
			a.Op(cf.OpIconst1, cf.OpIconst2, cf.OpDup2, cf.OpIadd, cf.OpIadd, cf.OpIadd, cf.OpIreturn)
		}, "6"},
		{"pop2 long", func(a *cf.Asm) { a.Iconst(7).Ldc(int64(9)).Op(cf.OpPop2, cf.OpIreturn) }, "7"},
		{"pop", func(a *cf.Asm) { a.Iconst(7).Iconst(8).Op(cf.OpPop, cf.OpIreturn) }, "7"},
	})
}

func TestLongArithmetic(t *testing.T) {
	runEvalCases(t, "J", []evalCase{
		{"ladd overflow", func(a *cf.Asm) { a.Ldc(int64(math.MaxInt64)).Op(cf.OpLconst1, cf.OpLadd, cf.OpLreturn) }, "-9223372036854775808"},
		{"lmul", func(a *cf.Asm) { a.Ldc(int64(3)).Ldc(int64(4)).Op(cf.OpLmul, cf.OpLreturn) }, "12"},
		{"lshl", func(a *cf.Asm) { a.Op(cf.OpLconst1).Iconst(40).Op(cf.OpLshl, cf.OpLreturn) }, "1099511627776"},
		{"lushr", func(a *cf.Asm) { a.Ldc(int64(-1)).Iconst(60).Op(cf.OpLushr, cf.OpLreturn) }, "15"},
		{"i2l", func(a *cf.Asm) { a.Op(cf.OpIconstM1, cf.OpI2l, cf.OpLreturn) }, "-1"},
		{"long locals", func(a *cf.Asm) {
			a.Ldc(int64(1 << 40)).Local(cf.OpLstore, 0).Iconst(3).Local(cf.OpIstore, 2).
				Local(cf.OpLload, 0).Local(cf.OpIload, 2).Op(cf.OpI2l, cf.OpLadd, cf.OpLreturn)
		}, "1099511627779"},
	})
}

func TestDoubleArithmetic(t *testing.T) {
	runEvalCases(t, "D", []evalCase{
		{"dadd", func(a *cf.Asm) { a.Ldc(1.5).Ldc(2.25).Op(cf.OpDadd, cf.OpDreturn) }, "3.75"},
		{"i2d", func(a *cf.Asm) { a.Iconst(3).Op(cf.OpI2d, cf.OpDreturn) }, "3.0"},
		{"ddiv by zero", func(a *cf.Asm) { a.Op(cf.OpDconst1, cf.OpDconst0, cf.OpDdiv, cf.OpDreturn) }, "Infinity"},
		{"f2d", func(a *cf.Asm) { a.Ldc(float32(0.5)).Op(cf.OpF2d, cf.OpDreturn) }, "0.5"},
		{"dneg", func(a *cf.Asm) { a.Op(cf.OpDconst1, cf.OpDconst1, cf.OpDadd, cf.OpDneg, cf.OpDreturn) }, "-2.0"},
	})
}

func TestBranches(t *testing.T) {
	runEvalCases(t, "I", []evalCase{
		{"loop sum", func(a *cf.Asm) {
			a.Iconst(0).Local(cf.OpIstore, 0).Iconst(1).Local(cf.OpIstore, 1).
				Label("loop").
				Local(cf.OpIload, 1).Iconst(10).Jump(cf.OpIfIcmpgt, "end").
				Local(cf.OpIload, 0).Local(cf.OpIload, 1).Op(cf.OpIadd).Local(cf.OpIstore, 0).
				Iinc(1, 1).
				Jump(cf.OpGoto, "loop").
				Label("end").
				Local(cf.OpIload, 0).Op(cf.OpIreturn)
		}, "55"},
		{"ifnull", func(a *cf.Asm) {
			a.Op(cf.OpAconstNull).Jump(cf.OpIfnull, "yes").
				Op(cf.OpIconst0, cf.OpIreturn).
				Label("yes").Op(cf.OpIconst1, cf.OpIreturn)
		}, "1"},
		{"if_acmpne", func(a *cf.Asm) {
			a.Ldc("a").Ldc("a").Jump(cf.OpIfAcmpne, "ne").
				Op(cf.OpIconst1, cf.OpIreturn).
				Label("ne").Op(cf.OpIconst0, cf.OpIreturn)
		}, "1"},
		{"goto_w", func(a *cf.Asm) {
			a.Jump(cf.OpGotoW, "skip").
				Op(cf.OpIconst0, cf.OpIreturn).
				Label("skip").Op(cf.OpIconst4, cf.OpIreturn)
		}, "4"},
	})
}

func u4(v int32) []byte { return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)} }

// tableSwitch emits a tableswitch over [low, low+n) followed by n cases
// returning results[i] and a default returning -1. Each result must fit
// iconst so every case takes two bytes.
func tableSwitch(a *cf.Asm, low int32, results []int32) {
	pc := a.PC()
	pad := (pc+4)&^3 - (pc + 1)
	n := len(results)
	length := 1 + pad + 12 + 4*n
	a.Op(cf.OpTableswitch).Bytes(make([]byte, pad)...)
	a.Bytes(u4(int32(length + 2*n))...)
	a.Bytes(u4(low)...).Bytes(u4(low + int32(n) - 1)...)
	for i := range results {
		a.Bytes(u4(int32(length + 2*i))...)
	}
	for _, r := range results {
		a.Iconst(r).Op(cf.OpIreturn)
	}
	a.Op(cf.OpIconstM1, cf.OpIreturn)
}

// lookupSwitch is like tableSwitch for sorted keys.
func lookupSwitch(a *cf.Asm, keys, results []int32) {
	pc := a.PC()
	pad := (pc+4)&^3 - (pc + 1)
	n := len(keys)
	length := 1 + pad + 8 + 8*n
	a.Op(cf.OpLookupswitch).Bytes(make([]byte, pad)...)
	a.Bytes(u4(int32(length + 2*n))...).Bytes(u4(int32(n))...)
	for i, k := range keys {
		a.Bytes(u4(k)...).Bytes(u4(int32(length + 2*i))...)
	}
	for _, r := range results {
		a.Iconst(r).Op(cf.OpIreturn)
	}
	a.Op(cf.OpIconstM1, cf.OpIreturn)
}

func TestSwitch(t *testing.T) {
	runEvalCases(t, "I", []evalCase{
		{"tableswitch hit", func(a *cf.Asm) { a.Iconst(11); tableSwitch(a, 10, []int32{3, 4, 5}) }, "4"},
		{"tableswitch default", func(a *cf.Asm) { a.Iconst(13); tableSwitch(a, 10, []int32{3, 4, 5}) }, "-1"},
		{"tableswitch unaligned", func(a *cf.Asm) { a.Op(cf.OpNop, cf.OpNop).Iconst(0); tableSwitch(a, 0, []int32{2}) }, "2"},
		{"lookupswitch hit", func(a *cf.Asm) { a.Iconst(100); lookupSwitch(a, []int32{-5, 100, 300}, []int32{1, 2, 3}) }, "2"},
		{"lookupswitch default", func(a *cf.Asm) { a.Iconst(7); lookupSwitch(a, []int32{-5, 100}, []int32{1, 2}) }, "-1"},
	})
}

// catching wraps body in a handler for class that returns result.
func catching(class string, result int32, body func(a *cf.Asm)) func(a *cf.Asm) {
	return func(a *cf.Asm) {
		a.Label("start")
		body(a)
		a.Label("end").Op(cf.OpPop).Iconst(result).Op(cf.OpIreturn)
		a.Catch("start", "end", "end", class)
	}
}

func TestArrays(t *testing.T) {
	runEvalCases(t, "I", []evalCase{
		{"int array", func(a *cf.Asm) {
			a.Iconst(3).Newarray(cf.TInt).Local(cf.OpAstore, 0).
				Local(cf.OpAload, 0).Iconst(1).Iconst(42).Op(cf.OpIastore).
				Local(cf.OpAload, 0).Iconst(1).Op(cf.OpIaload).
				Local(cf.OpAload, 0).Op(cf.OpArraylength, cf.OpIadd, cf.OpIreturn)
		}, "45"},
		{"byte array narrows", func(a *cf.Asm) {
			a.Iconst(1).Newarray(cf.TByte).Local(cf.OpAstore, 0).
				Local(cf.OpAload, 0).Iconst(0).Iconst(200).Op(cf.OpBastore).
				Local(cf.OpAload, 0).Iconst(0).Op(cf.OpBaload, cf.OpIreturn)
		}, "-56"},
		{"boolean array", func(a *cf.Asm) {
			a.Iconst(2).Newarray(cf.TBoolean).Local(cf.OpAstore, 0).
				Local(cf.OpAload, 0).Iconst(1).Iconst(1).Op(cf.OpBastore).
				Local(cf.OpAload, 0).Iconst(1).Op(cf.OpBaload, cf.OpIreturn)
		}, "1"},
		{"index out of bounds", catching(types.AIOOBEClass, -2, func(a *cf.Asm) {
			a.Iconst(2).Newarray(cf.TInt).Iconst(2).Op(cf.OpIaload, cf.OpIreturn)
		}), "-2"},
		{"negative size", catching(types.NegativeSizeClass, -3, func(a *cf.Asm) {
			a.Iconst(-1).Newarray(cf.TInt).Op(cf.OpArraylength, cf.OpIreturn)
		}), "-3"},
		{"null array", catching(types.NPEClass, -4, func(a *cf.Asm) {
			a.Op(cf.OpAconstNull, cf.OpArraylength, cf.OpIreturn)
		}), "-4"},
		{"array store", catching(types.ArrayStoreClass, -5, func(a *cf.Asm) {
			a.Iconst(1).Class(cf.OpAnewarray, types.StringClass).
				Iconst(0).Iconst(1).Invoke(cf.OpInvokestatic, types.IntegerClass, "valueOf", "(I)Ljava/lang/Integer;").
				Op(cf.OpAastore, cf.OpIconst0, cf.OpIreturn)
		}), "-5"},
	})
}

func TestExceptions(t *testing.T) {
	runEvalCases(t, "I", []evalCase{
		{"idiv by zero", catching(types.ArithmeticClass, 99, func(a *cf.Asm) {
			a.Op(cf.OpIconst1, cf.OpIconst0, cf.OpIdiv, cf.OpIreturn)
		}), "99"},
		{"lrem by zero", catching(types.ArithmeticClass, 98, func(a *cf.Asm) {
			a.Op(cf.OpLconst1, cf.OpLconst0, cf.OpLrem, cf.OpL2i, cf.OpIreturn)
		}), "98"},
		{"catch all", catching("", 97, func(a *cf.Asm) {
			a.Op(cf.OpAconstNull, cf.OpAthrow)
		}), "97"},
		{"superclass handler", catching("java/lang/RuntimeException", 96, func(a *cf.Asm) {
			a.Op(cf.OpIconst1, cf.OpIconst0, cf.OpIrem, cf.OpIreturn)
		}), "96"},
	})
}

func TestTypeChecks(t *testing.T) {
	runEvalCases(t, "Z", []evalCase{
		{"instanceof", func(a *cf.Asm) { a.Ldc("s").Class(cf.OpInstanceof, types.StringClass).Op(cf.OpIreturn) }, "true"},
		{"instanceof supertype", func(a *cf.Asm) { a.Ldc("s").Class(cf.OpInstanceof, types.ObjectClass).Op(cf.OpIreturn) }, "true"},
		{"instanceof null", func(a *cf.Asm) { a.Op(cf.OpAconstNull).Class(cf.OpInstanceof, types.StringClass).Op(cf.OpIreturn) }, "false"},
		{"checkcast null", func(a *cf.Asm) {
			a.Op(cf.OpAconstNull).Class(cf.OpCheckcast, types.StringClass).
				Class(cf.OpInstanceof, types.StringClass).Op(cf.OpIreturn)
		}, "false"},
		{"checkcast fails", func(a *cf.Asm) {
			a.Label("start").
				Ldc("s").Class(cf.OpCheckcast, types.ThreadClass).
				Op(cf.OpPop, cf.OpIconst0, cf.OpIreturn).
				Label("end").Op(cf.OpPop, cf.OpIconst1, cf.OpIreturn).
				Catch("start", "end", "end", types.ClassCastClass)
		}, "true"},
	})
}
