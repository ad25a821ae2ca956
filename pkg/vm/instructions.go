package vm

import (
	"math"

	cf "github.com/javapathfinder/jpf-core-sub000/pkg/classfile"
	"github.com/javapathfinder/jpf-core-sub000/pkg/thread"
	"github.com/javapathfinder/jpf-core-sub000/pkg/types"
	"github.com/javapathfinder/jpf-core-sub000/pkg/vmerr"
)

// execute executes the instruction at the pc of f, the writable top frame
// of the current thread. Handlers advance the pc themselves; an instruction
// that returns Reexecute leaves it unchanged.
func (vm *VM) execute(f *thread.Frame) (Step, error) {
	pc := f.PC()
	op := f.Opcode()
	n := 1

	switch op {
	case cf.OpNop:
		// do nothing

	// --- Constant load instructions ---
	case cf.OpAconstNull:
		f.Push(thread.NullValue())

	case cf.OpIconstM1, cf.OpIconst0, cf.OpIconst1, cf.OpIconst2, cf.OpIconst3, cf.OpIconst4, cf.OpIconst5:
		f.Push(thread.IntValue(int32(op) - cf.OpIconst0))

	case cf.OpLconst0, cf.OpLconst1:
		f.Push(thread.LongValue(int64(op - cf.OpLconst0)))

	case cf.OpFconst0, cf.OpFconst1, cf.OpFconst2:
		f.Push(thread.FloatValue(float32(op - cf.OpFconst0)))

	case cf.OpDconst0, cf.OpDconst1:
		f.Push(thread.DoubleValue(float64(op - cf.OpDconst0)))

	case cf.OpBipush:
		f.Push(thread.IntValue(int32(f.S1(1))))
		n = 2

	case cf.OpSipush:
		f.Push(thread.IntValue(int32(f.S2(1))))
		n = 3

	case cf.OpLdc:
		return vm.ldc(f, uint16(f.U1(1)), 2)

	case cf.OpLdcW, cf.OpLdc2W:
		return vm.ldc(f, f.U2(1), 3)

	// --- Local variable load instructions ---
	case cf.OpIload, cf.OpLload, cf.OpFload, cf.OpDload, cf.OpAload:
		f.Push(f.GetLocal(int(f.U1(1))))
		n = 2

	case cf.OpIload0, cf.OpIload1, cf.OpIload2, cf.OpIload3,
		cf.OpLload0, cf.OpLload1, cf.OpLload2, cf.OpLload3,
		cf.OpFload0, cf.OpFload1, cf.OpFload2, cf.OpFload3,
		cf.OpDload0, cf.OpDload1, cf.OpDload2, cf.OpDload3,
		cf.OpAload0, cf.OpAload1, cf.OpAload2, cf.OpAload3:
		f.Push(f.GetLocal(int(op-cf.OpIload0) % 4))

	// --- Array load ---
	case cf.OpIaload:
		return vm.arrayLoad(f, types.Int)
	case cf.OpLaload:
		return vm.arrayLoad(f, types.Long)
	case cf.OpFaload:
		return vm.arrayLoad(f, types.Float)
	case cf.OpDaload:
		return vm.arrayLoad(f, types.Double)
	case cf.OpAaload:
		return vm.arrayLoad(f, types.Reference)
	case cf.OpBaload:
		return vm.arrayLoad(f, types.Byte)
	case cf.OpCaload:
		return vm.arrayLoad(f, types.Char)
	case cf.OpSaload:
		return vm.arrayLoad(f, types.Short)

	// --- Local variable store instructions ---
	case cf.OpIstore, cf.OpLstore, cf.OpFstore, cf.OpDstore, cf.OpAstore:
		f.SetLocal(int(f.U1(1)), f.Pop())
		n = 2

	case cf.OpIstore0, cf.OpIstore1, cf.OpIstore2, cf.OpIstore3,
		cf.OpLstore0, cf.OpLstore1, cf.OpLstore2, cf.OpLstore3,
		cf.OpFstore0, cf.OpFstore1, cf.OpFstore2, cf.OpFstore3,
		cf.OpDstore0, cf.OpDstore1, cf.OpDstore2, cf.OpDstore3,
		cf.OpAstore0, cf.OpAstore1, cf.OpAstore2, cf.OpAstore3:
		f.SetLocal(int(op-cf.OpIstore0)%4, f.Pop())

	// --- Array store ---
	case cf.OpIastore:
		return vm.arrayStore(f, types.Int)
	case cf.OpLastore:
		return vm.arrayStore(f, types.Long)
	case cf.OpFastore:
		return vm.arrayStore(f, types.Float)
	case cf.OpDastore:
		return vm.arrayStore(f, types.Double)
	case cf.OpAastore:
		return vm.arrayStore(f, types.Reference)
	case cf.OpBastore:
		return vm.arrayStore(f, types.Byte)
	case cf.OpCastore:
		return vm.arrayStore(f, types.Char)
	case cf.OpSastore:
		return vm.arrayStore(f, types.Short)

	// --- Stack manipulation ---
	// long and double take one operand slot, so the category-2 forms of
	// pop2, dup2 and dup_x2 act on a single value.
	case cf.OpPop:
		f.Pop()

	case cf.OpPop2:
		if f.Pop().Wide() {
			break
		}
		f.Pop()

	case cf.OpDup:
		f.Push(f.Peek(0))

	case cf.OpDupX1:
		v1 := f.Pop()
		v2 := f.Pop()
		f.Push(v1)
		f.Push(v2)
		f.Push(v1)

	case cf.OpDupX2:
		v1 := f.Pop()
		v2 := f.Pop()
		if v2.Wide() {
			f.Push(v1)
			f.Push(v2)
			f.Push(v1)
			break
		}
		v3 := f.Pop()
		f.Push(v1)
		f.Push(v3)
		f.Push(v2)
		f.Push(v1)

	case cf.OpDup2:
		if v := f.Peek(0); v.Wide() {
			f.Push(v)
			break
		}
		v1 := f.Peek(0)
		v2 := f.Peek(1)
		f.Push(v2)
		f.Push(v1)

	case cf.OpSwap:
		v2 := f.Pop()
		v1 := f.Pop()
		f.Push(v2)
		f.Push(v1)

	// --- Arithmetic ---
	case cf.OpIadd:
		v2 := f.Pop()
		v1 := f.Pop()
		f.Push(thread.IntValue(v1.Int() + v2.Int()))
	case cf.OpLadd:
		v2 := f.Pop()
		v1 := f.Pop()
		f.Push(thread.LongValue(v1.Long() + v2.Long()))
	case cf.OpFadd:
		v2 := f.Pop()
		v1 := f.Pop()
		f.Push(thread.FloatValue(v1.Float() + v2.Float()))
	case cf.OpDadd:
		v2 := f.Pop()
		v1 := f.Pop()
		f.Push(thread.DoubleValue(v1.Double() + v2.Double()))

	case cf.OpIsub:
		v2 := f.Pop()
		v1 := f.Pop()
		f.Push(thread.IntValue(v1.Int() - v2.Int()))
	case cf.OpLsub:
		v2 := f.Pop()
		v1 := f.Pop()
		f.Push(thread.LongValue(v1.Long() - v2.Long()))
	case cf.OpFsub:
		v2 := f.Pop()
		v1 := f.Pop()
		f.Push(thread.FloatValue(v1.Float() - v2.Float()))
	case cf.OpDsub:
		v2 := f.Pop()
		v1 := f.Pop()
		f.Push(thread.DoubleValue(v1.Double() - v2.Double()))

	case cf.OpImul:
		v2 := f.Pop()
		v1 := f.Pop()
		f.Push(thread.IntValue(v1.Int() * v2.Int()))
	case cf.OpLmul:
		v2 := f.Pop()
		v1 := f.Pop()
		f.Push(thread.LongValue(v1.Long() * v2.Long()))
	case cf.OpFmul:
		v2 := f.Pop()
		v1 := f.Pop()
		f.Push(thread.FloatValue(v1.Float() * v2.Float()))
	case cf.OpDmul:
		v2 := f.Pop()
		v1 := f.Pop()
		f.Push(thread.DoubleValue(v1.Double() * v2.Double()))

	// The divisor is checked before popping so the exception leaves the
	// operands in place for the handler search.
	case cf.OpIdiv, cf.OpIrem:
		if f.Peek(0).Int() == 0 {
			return vm.throwNew(types.ArithmeticClass, "/ by zero")
		}
		v2 := f.Pop()
		v1 := f.Pop()
		if op == cf.OpIdiv {
			f.Push(thread.IntValue(v1.Int() / v2.Int()))
		} else {
			f.Push(thread.IntValue(v1.Int() % v2.Int()))
		}
	case cf.OpLdiv, cf.OpLrem:
		if f.Peek(0).Long() == 0 {
			return vm.throwNew(types.ArithmeticClass, "/ by zero")
		}
		v2 := f.Pop()
		v1 := f.Pop()
		if op == cf.OpLdiv {
			f.Push(thread.LongValue(v1.Long() / v2.Long()))
		} else {
			f.Push(thread.LongValue(v1.Long() % v2.Long()))
		}
	case cf.OpFdiv:
		v2 := f.Pop()
		v1 := f.Pop()
		f.Push(thread.FloatValue(v1.Float() / v2.Float()))
	case cf.OpDdiv:
		v2 := f.Pop()
		v1 := f.Pop()
		f.Push(thread.DoubleValue(v1.Double() / v2.Double()))

	case cf.OpIneg:
		f.Push(thread.IntValue(-f.Pop().Int()))
	case cf.OpLneg:
		f.Push(thread.LongValue(-f.Pop().Long()))
	case cf.OpFneg:
		f.Push(thread.FloatValue(-f.Pop().Float()))
	case cf.OpDneg:
		f.Push(thread.DoubleValue(-f.Pop().Double()))

	// --- Bit operations ---
	case cf.OpIshl:
		v2 := f.Pop()
		v1 := f.Pop()
		f.Push(thread.IntValue(v1.Int() << (uint(v2.Int()) & 0x1f)))
	case cf.OpLshl:
		v2 := f.Pop()
		v1 := f.Pop()
		f.Push(thread.LongValue(v1.Long() << (uint(v2.Int()) & 0x3f)))
	case cf.OpIshr:
		v2 := f.Pop()
		v1 := f.Pop()
		f.Push(thread.IntValue(v1.Int() >> (uint(v2.Int()) & 0x1f)))
	case cf.OpLshr:
		v2 := f.Pop()
		v1 := f.Pop()
		f.Push(thread.LongValue(v1.Long() >> (uint(v2.Int()) & 0x3f)))
	case cf.OpIushr:
		v2 := f.Pop()
		v1 := f.Pop()
		f.Push(thread.IntValue(int32(uint32(v1.Int()) >> (uint(v2.Int()) & 0x1f))))
	case cf.OpLushr:
		v2 := f.Pop()
		v1 := f.Pop()
		f.Push(thread.LongValue(int64(uint64(v1.Long()) >> (uint(v2.Int()) & 0x3f))))
	case cf.OpIand:
		v2 := f.Pop()
		v1 := f.Pop()
		f.Push(thread.IntValue(v1.Int() & v2.Int()))
	case cf.OpLand:
		v2 := f.Pop()
		v1 := f.Pop()
		f.Push(thread.LongValue(v1.Long() & v2.Long()))
	case cf.OpIor:
		v2 := f.Pop()
		v1 := f.Pop()
		f.Push(thread.IntValue(v1.Int() | v2.Int()))
	case cf.OpLor:
		v2 := f.Pop()
		v1 := f.Pop()
		f.Push(thread.LongValue(v1.Long() | v2.Long()))
	case cf.OpIxor:
		v2 := f.Pop()
		v1 := f.Pop()
		f.Push(thread.IntValue(v1.Int() ^ v2.Int()))
	case cf.OpLxor:
		v2 := f.Pop()
		v1 := f.Pop()
		f.Push(thread.LongValue(v1.Long() ^ v2.Long()))

	case cf.OpIinc:
		index := int(f.U1(1))
		f.SetLocal(index, thread.IntValue(f.GetLocal(index).Int()+int32(f.S1(2))))
		n = 3

	// --- Type conversions ---
	case cf.OpI2l:
		f.Push(thread.LongValue(int64(f.Pop().Int())))
	case cf.OpI2f:
		f.Push(thread.FloatValue(float32(f.Pop().Int())))
	case cf.OpI2d:
		f.Push(thread.DoubleValue(float64(f.Pop().Int())))
	case cf.OpL2i:
		f.Push(thread.IntValue(int32(f.Pop().Long())))
	case cf.OpL2f:
		f.Push(thread.FloatValue(float32(f.Pop().Long())))
	case cf.OpL2d:
		f.Push(thread.DoubleValue(float64(f.Pop().Long())))
	case cf.OpF2i:
		f.Push(thread.IntValue(toInt32(float64(f.Pop().Float()))))
	case cf.OpF2l:
		f.Push(thread.LongValue(toInt64(float64(f.Pop().Float()))))
	case cf.OpF2d:
		f.Push(thread.DoubleValue(float64(f.Pop().Float())))
	case cf.OpD2i:
		f.Push(thread.IntValue(toInt32(f.Pop().Double())))
	case cf.OpD2l:
		f.Push(thread.LongValue(toInt64(f.Pop().Double())))
	case cf.OpD2f:
		f.Push(thread.FloatValue(float32(f.Pop().Double())))
	case cf.OpI2b:
		f.Push(thread.IntValue(int32(int8(f.Pop().Int()))))
	case cf.OpI2c:
		f.Push(thread.IntValue(int32(uint16(f.Pop().Int()))))
	case cf.OpI2s:
		f.Push(thread.IntValue(int32(int16(f.Pop().Int()))))

	// --- Comparisons ---
	case cf.OpLcmp:
		v2 := f.Pop()
		v1 := f.Pop()
		f.Push(thread.IntValue(compare(v1.Long(), v2.Long())))

	case cf.OpFcmpl, cf.OpFcmpg:
		v2 := f.Pop()
		v1 := f.Pop()
		f.Push(thread.IntValue(fcompare(float64(v1.Float()), float64(v2.Float()), op == cf.OpFcmpg)))

	case cf.OpDcmpl, cf.OpDcmpg:
		v2 := f.Pop()
		v1 := f.Pop()
		f.Push(thread.IntValue(fcompare(v1.Double(), v2.Double(), op == cf.OpDcmpg)))

	// --- Comparison and branch ---
	case cf.OpIfeq:
		return vm.branchUnary(f, func(v int32) bool { return v == 0 })
	case cf.OpIfne:
		return vm.branchUnary(f, func(v int32) bool { return v != 0 })
	case cf.OpIflt:
		return vm.branchUnary(f, func(v int32) bool { return v < 0 })
	case cf.OpIfge:
		return vm.branchUnary(f, func(v int32) bool { return v >= 0 })
	case cf.OpIfgt:
		return vm.branchUnary(f, func(v int32) bool { return v > 0 })
	case cf.OpIfle:
		return vm.branchUnary(f, func(v int32) bool { return v <= 0 })

	case cf.OpIfIcmpeq:
		return vm.branchBinary(f, func(v1, v2 int32) bool { return v1 == v2 })
	case cf.OpIfIcmpne:
		return vm.branchBinary(f, func(v1, v2 int32) bool { return v1 != v2 })
	case cf.OpIfIcmplt:
		return vm.branchBinary(f, func(v1, v2 int32) bool { return v1 < v2 })
	case cf.OpIfIcmpge:
		return vm.branchBinary(f, func(v1, v2 int32) bool { return v1 >= v2 })
	case cf.OpIfIcmpgt:
		return vm.branchBinary(f, func(v1, v2 int32) bool { return v1 > v2 })
	case cf.OpIfIcmple:
		return vm.branchBinary(f, func(v1, v2 int32) bool { return v1 <= v2 })

	case cf.OpIfAcmpeq, cf.OpIfAcmpne:
		v2 := f.Pop()
		v1 := f.Pop()
		eq := v1.Ref() == v2.Ref()
		return vm.branch(f, eq == (op == cf.OpIfAcmpeq))

	case cf.OpIfnull, cf.OpIfnonnull:
		isNull := f.Pop().IsNull()
		return vm.branch(f, isNull == (op == cf.OpIfnull))

	case cf.OpGoto:
		return vm.branch(f, true)

	case cf.OpGotoW:
		f.SetPC(pc + int(f.S4(1)))
		return done, nil

	case cf.OpTableswitch:
		// Operands start at the next 4-byte boundary after the opcode.
		pos := (pc + 4) &^ 3
		def := f.S4At(pos)
		low := f.S4At(pos + 4)
		high := f.S4At(pos + 8)
		index := f.Pop().Int()
		if index >= low && index <= high {
			f.SetPC(pc + int(f.S4At(pos+12+4*int(index-low))))
		} else {
			f.SetPC(pc + int(def))
		}
		return done, nil

	case cf.OpLookupswitch:
		pos := (pc + 4) &^ 3
		def := f.S4At(pos)
		npairs := int(f.S4At(pos + 4))
		key := f.Pop().Int()
		target := pc + int(def)
		for i := 0; i < npairs; i++ {
			if f.S4At(pos+8+8*i) == key {
				target = pc + int(f.S4At(pos+12+8*i))
				break
			}
		}
		f.SetPC(target)
		return done, nil

	// --- Return ---
	case cf.OpIreturn, cf.OpLreturn, cf.OpFreturn, cf.OpDreturn, cf.OpAreturn, cf.OpReturn:
		return vm.doReturn(f)

	// --- Method invocation and field access ---
	case cf.OpGetstatic:
		return vm.getstatic(f)
	case cf.OpPutstatic:
		return vm.putstatic(f)
	case cf.OpGetfield:
		return vm.getfield(f)
	case cf.OpPutfield:
		return vm.putfield(f)

	case cf.OpInvokevirtual, cf.OpInvokespecial, cf.OpInvokestatic, cf.OpInvokeinterface:
		return vm.invoke(f, op)

	// --- Objects and arrays ---
	case cf.OpNew:
		return vm.newObject(f)
	case cf.OpNewarray:
		return vm.newarray(f)
	case cf.OpAnewarray:
		return vm.anewarray(f)
	case cf.OpArraylength:
		return vm.arraylength(f)

	case cf.OpAthrow:
		exc := f.Peek(0)
		if exc.IsNull() {
			return vm.npe("athrow")
		}
		return Step{}, &JavaException{Ref: exc.Ref(), Class: vm.heap.MustGet(exc.Ref()).Class().Name}

	case cf.OpCheckcast:
		return vm.typeCheck(f, true)
	case cf.OpInstanceof:
		return vm.typeCheck(f, false)

	// --- Monitors ---
	case cf.OpMonitorenter:
		obj := f.Peek(0)
		if obj.IsNull() {
			return vm.npe("monitorenter")
		}
		if !vm.enterMonitor(obj.Ref()) {
			return again, nil
		}
		f.Pop()

	case cf.OpMonitorexit:
		obj := f.Peek(0)
		if obj.IsNull() {
			return vm.npe("monitorexit")
		}
		if vm.heap.MustGet(obj.Ref()).LockOwner() != vm.tid {
			return vm.throwNew(types.IllegalMonitor, "current thread is not owner")
		}
		f.Pop()
		f.SetPC(pc + 1)
		vm.exitMonitor(obj.Ref())
		return done, nil

	default:
		vmerr.Fail(vmerr.IllegalState, f, "unsupported opcode %s (0x%02X) at pc %d in %s",
			cf.OpName(op), op, pc, f.Method().FullName())
	}

	f.SetPC(pc + n)
	return done, nil
}

// branch jumps by the 16-bit offset of the current instruction if taken.
func (vm *VM) branch(f *thread.Frame, taken bool) (Step, error) {
	if taken {
		f.SetPC(f.PC() + int(f.S2(1)))
	} else {
		f.SetPC(f.PC() + 3)
	}
	return done, nil
}

// branchUnary handles unary branch instructions (ifeq, ifne, etc.)
func (vm *VM) branchUnary(f *thread.Frame, cond func(int32) bool) (Step, error) {
	return vm.branch(f, cond(f.Pop().Int()))
}

// branchBinary handles binary branch instructions (if_icmpeq, etc.)
func (vm *VM) branchBinary(f *thread.Frame, cond func(int32, int32) bool) (Step, error) {
	v2 := f.Pop()
	v1 := f.Pop()
	return vm.branch(f, cond(v1.Int(), v2.Int()))
}

func compare(a, b int64) int32 {
	switch {
	case a > b:
		return 1
	case a < b:
		return -1
	}
	return 0
}

// fcompare implements fcmp and dcmp; nanGreater selects the g variant.
func fcompare(a, b float64, nanGreater bool) int32 {
	switch {
	case math.IsNaN(a) || math.IsNaN(b):
		if nanGreater {
			return 1
		}
		return -1
	case a > b:
		return 1
	case a < b:
		return -1
	}
	return 0
}

// toInt32 converts with Java semantics: NaN is 0, out of range saturates.
func toInt32(v float64) int32 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt32:
		return math.MaxInt32
	case v <= math.MinInt32:
		return math.MinInt32
	}
	return int32(v)
}

func toInt64(v float64) int64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt64:
		return math.MaxInt64
	case v <= math.MinInt64:
		return math.MinInt64
	}
	return int64(v)
}
