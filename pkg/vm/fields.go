package vm

import (
	"fmt"

	cf "github.com/javapathfinder/jpf-core-sub000/pkg/classfile"
	"github.com/javapathfinder/jpf-core-sub000/pkg/heap"
	"github.com/javapathfinder/jpf-core-sub000/pkg/native"
	"github.com/javapathfinder/jpf-core-sub000/pkg/thread"
	"github.com/javapathfinder/jpf-core-sub000/pkg/types"
	"github.com/javapathfinder/jpf-core-sub000/pkg/vmerr"
)

// exposedAt marks a reference store (putfield, putstatic, aastore) that
// already happened before an exposure break; the value is the pc of the
// instruction.
var exposedAt = types.NewKey[int]("vm.exposedAt")

func (vm *VM) fieldRef(f *thread.Frame) *cf.MemberRef {
	mr, err := cf.ResolveMemberRef(f.Method().Pool(), f.U2(1), cf.TagFieldref)
	if err != nil {
		vmerr.Fail(vmerr.IllegalState, f, "%s: %v", cf.OpName(f.Opcode()), err)
	}
	return mr
}

func (vm *VM) instanceField(f *thread.Frame) (*types.FieldInfo, error) {
	mr := vm.fieldRef(f)
	ci, err := vm.resolveClass(mr.ClassName)
	if err != nil {
		return nil, err
	}
	fi := ci.InstanceField(mr.Name)
	if fi == nil {
		return nil, vm.newException(types.NoSuchFieldClass, native.JavaName(ci.Name)+"."+mr.Name)
	}
	return fi, nil
}

// staticField resolves the field of a getstatic or putstatic and checks
// that its class is initialized.
func (vm *VM) staticField(f *thread.Frame) (*types.FieldInfo, Step, bool, error) {
	mr := vm.fieldRef(f)
	ci, err := vm.resolveClass(mr.ClassName)
	if err != nil {
		return nil, Step{}, true, err
	}
	fi := ci.StaticField(mr.Name)
	if fi == nil {
		return nil, Step{}, true, vm.newException(types.NoSuchFieldClass, native.JavaName(ci.Name)+"."+mr.Name)
	}
	st, pending, err := vm.initCheck(fi.Class)
	return fi, st, pending, err
}

func (vm *VM) getfield(f *thread.Frame) (Step, error) {
	fi, err := vm.instanceField(f)
	if err != nil {
		return Step{}, err
	}
	obj := f.Peek(0)
	if obj.IsNull() {
		return vm.npe("getfield " + fi.Name)
	}
	if vm.cfg.POR && vm.policy.FieldAccess(vm, obj.Ref(), fi) {
		return again, nil
	}
	f.Pop()
	f.Push(thread.FromRaw(fi.Kind, vm.heap.MustGet(obj.Ref()).Raw(fi)))
	f.SetPC(f.PC() + 3)
	return done, nil
}

// putfield stores before it checks for exposure. When exposing a
// reference breaks the transition, the re-execution only pops the operands.
func (vm *VM) putfield(f *thread.Frame) (Step, error) {
	pc := f.PC()
	if vm.storedBeforeBreak(f, 2, 3) {
		return done, nil
	}
	fi, err := vm.instanceField(f)
	if err != nil {
		return Step{}, err
	}
	v, obj := f.Peek(0), f.Peek(1)
	if obj.IsNull() {
		return vm.npe("putfield " + fi.Name)
	}
	if vm.cfg.POR && vm.policy.FieldAccess(vm, obj.Ref(), fi) {
		return again, nil
	}
	vm.heap.Modifiable(obj.Ref()).SetRaw(fi, v.Bits)
	if fi.Kind == types.Reference && vm.storedBreak(f, obj.Ref(), fi, v) {
		return again, nil
	}
	f.PopN(2)
	f.SetPC(pc + 3)
	return done, nil
}

// storedBreak requests an exposure break after a reference store whose
// operands are still on the stack.
func (vm *VM) storedBreak(f *thread.Frame, owner heap.Ref, fi *types.FieldInfo, v thread.Value) bool {
	if !vm.cfg.POR || !vm.policy.Exposure(vm, owner, fi, v.Ref()) {
		return false
	}
	f.SetAttrs(types.WithAttr(f.Attrs(), exposedAt, f.PC()))
	return true
}

// storedBeforeBreak completes a store re-executed after an exposure
// break: it pops the operands and moves past the instruction.
func (vm *VM) storedBeforeBreak(f *thread.Frame, operands, size int) bool {
	at, ok := types.GetAttr(f.Attrs(), exposedAt)
	if !ok || at != f.PC() {
		return false
	}
	f.SetAttrs(types.WithoutAttr(f.Attrs(), exposedAt))
	f.PopN(operands)
	f.SetPC(f.PC() + size)
	return true
}

func (vm *VM) getstatic(f *thread.Frame) (Step, error) {
	fi, st, pending, err := vm.staticField(f)
	if pending || err != nil {
		return st, err
	}
	if vm.cfg.POR && vm.policy.StaticAccess(vm, fi) {
		return again, nil
	}
	f.Push(thread.FromRaw(fi.Kind, vm.heap.Statics(fi.Class).Raw(fi)))
	f.SetPC(f.PC() + 3)
	return done, nil
}

func (vm *VM) putstatic(f *thread.Frame) (Step, error) {
	if vm.storedBeforeBreak(f, 1, 3) {
		return done, nil
	}
	fi, st, pending, err := vm.staticField(f)
	if pending || err != nil {
		return st, err
	}
	if vm.cfg.POR && vm.policy.StaticAccess(vm, fi) {
		return again, nil
	}
	v := f.Peek(0)
	statics := vm.heap.ModifiableStatics(fi.Class)
	statics.SetRaw(fi, v.Bits)
	if fi.Kind == types.Reference && vm.storedBreak(f, statics.Ref(), fi, v) {
		return again, nil
	}
	f.Pop()
	f.SetPC(f.PC() + 3)
	return done, nil
}

func (vm *VM) aioobe(idx int32, n int) (Step, error) {
	return vm.throwNew(types.AIOOBEClass, fmt.Sprintf("Index %d out of bounds for length %d", idx, n))
}

// arrayLoad executes the xaload instructions. baload serves both byte and
// boolean arrays, so the element kind comes from the array.
func (vm *VM) arrayLoad(f *thread.Frame, kind types.Kind) (Step, error) {
	idx, arr := f.Peek(0).Int(), f.Peek(1)
	if arr.IsNull() {
		return vm.npe("array load")
	}
	r := vm.heap.MustGet(arr.Ref())
	if !r.InBounds(int(idx)) {
		return vm.aioobe(idx, r.Len())
	}
	if vm.cfg.POR && vm.policy.ArrayAccess(vm, arr.Ref(), int(idx)) {
		return again, nil
	}
	if kind == types.Byte {
		kind = r.ElemKind()
	}
	v := thread.FromRaw(kind, r.Elem(kind, int(idx)))
	f.PopN(2)
	f.Push(v)
	f.SetPC(f.PC() + 1)
	return done, nil
}

func (vm *VM) arrayStore(f *thread.Frame, kind types.Kind) (Step, error) {
	if vm.storedBeforeBreak(f, 3, 1) {
		return done, nil
	}
	v, idx, arr := f.Peek(0), f.Peek(1).Int(), f.Peek(2)
	if arr.IsNull() {
		return vm.npe("array store")
	}
	r := vm.heap.MustGet(arr.Ref())
	if !r.InBounds(int(idx)) {
		return vm.aioobe(idx, r.Len())
	}
	if kind == types.Reference && !v.IsNull() {
		vc := vm.heap.MustGet(v.Ref()).Class()
		if !vc.AssignableTo(r.Class().Component) {
			return vm.throwNew(types.ArrayStoreClass, native.JavaName(vc.Name))
		}
	}
	if vm.cfg.POR && vm.policy.ArrayAccess(vm, arr.Ref(), int(idx)) {
		return again, nil
	}
	if kind == types.Byte {
		kind = r.ElemKind()
	}
	vm.heap.Modifiable(arr.Ref()).SetElem(kind, int(idx), v.Bits)
	if kind == types.Reference && vm.storedBreak(f, arr.Ref(), nil, v) {
		return again, nil
	}
	f.PopN(3)
	f.SetPC(f.PC() + 1)
	return done, nil
}

func (vm *VM) className(f *thread.Frame) string {
	name, err := cf.GetClassName(f.Method().Pool(), f.U2(1))
	if err != nil {
		vmerr.Fail(vmerr.IllegalState, f, "%s: %v", cf.OpName(f.Opcode()), err)
	}
	return name
}

func (vm *VM) newObject(f *thread.Frame) (Step, error) {
	ci, err := vm.resolveClass(vm.className(f))
	if err != nil {
		return Step{}, err
	}
	if ci.IsAbstract() || ci.IsInterface() {
		return vm.throwNew(types.NoClassDefClass, "cannot instantiate "+native.JavaName(ci.Name))
	}
	if st, pending, err := vm.initCheck(ci); pending || err != nil {
		return st, err
	}
	r := vm.heap.NewObject(ci, vm.tid)
	f.Push(thread.RefValue(r.Ref()))
	f.SetPC(f.PC() + 3)
	return done, nil
}

func (vm *VM) newArray(f *thread.Frame, ci *types.ClassInfo, size int) (Step, error) {
	n := f.Peek(0).Int()
	if n < 0 {
		return vm.throwNew(types.NegativeSizeClass, fmt.Sprint(n))
	}
	r := vm.heap.NewArray(ci, int(n), vm.tid)
	f.Pop()
	f.Push(thread.RefValue(r.Ref()))
	f.SetPC(f.PC() + size)
	return done, nil
}

func (vm *VM) newarray(f *thread.Frame) (Step, error) {
	k, err := types.ArrayKind(f.U1(1))
	if err != nil {
		vmerr.Fail(vmerr.IllegalState, f, "newarray: %v", err)
	}
	return vm.newArray(f, vm.reg.MustResolve(types.ArrayClassName(k)), 2)
}

func (vm *VM) anewarray(f *thread.Frame) (Step, error) {
	elem, err := vm.resolveClass(vm.className(f))
	if err != nil {
		return Step{}, err
	}
	ci, err := vm.reg.ArrayOf(elem)
	if err != nil {
		vmerr.Fail(vmerr.IllegalState, f, "anewarray: %v", err)
	}
	return vm.newArray(f, ci, 3)
}

func (vm *VM) arraylength(f *thread.Frame) (Step, error) {
	arr := f.Peek(0)
	if arr.IsNull() {
		return vm.npe("arraylength")
	}
	n := vm.heap.MustGet(arr.Ref()).Len()
	f.Pop()
	f.Push(thread.IntValue(int32(n)))
	f.SetPC(f.PC() + 1)
	return done, nil
}

// typeCheck executes checkcast and instanceof.
func (vm *VM) typeCheck(f *thread.Frame, cast bool) (Step, error) {
	target, err := vm.resolveClass(vm.className(f))
	if err != nil {
		return Step{}, err
	}
	v := f.Peek(0)
	ok := !v.IsNull() && vm.heap.MustGet(v.Ref()).Class().AssignableTo(target)
	if cast {
		if !ok && !v.IsNull() {
			from := vm.heap.MustGet(v.Ref()).Class()
			return vm.throwNew(types.ClassCastClass,
				native.JavaName(from.Name)+" cannot be cast to "+native.JavaName(target.Name))
		}
	} else {
		f.Pop()
		f.Push(thread.IntValue(boolInt(ok)))
	}
	f.SetPC(f.PC() + 3)
	return done, nil
}

func boolInt(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

// ldc pushes a constant. String constants are interned, class constants
// yield the class object.
func (vm *VM) ldc(f *thread.Frame, index uint16, size int) (Step, error) {
	pool := f.Method().Pool()
	if int(index) >= len(pool) || pool[index] == nil {
		vmerr.Fail(vmerr.IllegalState, f, "ldc: invalid constant pool index %d", index)
	}
	switch c := pool[index].(type) {
	case *cf.ConstantInteger:
		f.Push(thread.IntValue(c.Value))
	case *cf.ConstantFloat:
		f.Push(thread.FloatValue(c.Value))
	case *cf.ConstantLong:
		f.Push(thread.LongValue(c.Value))
	case *cf.ConstantDouble:
		f.Push(thread.DoubleValue(c.Value))
	case *cf.ConstantString:
		s, err := cf.GetUtf8(pool, c.StringIndex)
		if err != nil {
			vmerr.Fail(vmerr.IllegalState, f, "ldc: %v", err)
		}
		f.Push(thread.RefValue(vm.heap.Intern(s, vm.tid)))
	case *cf.ConstantClass:
		name, err := cf.GetUtf8(pool, c.NameIndex)
		if err != nil {
			vmerr.Fail(vmerr.IllegalState, f, "ldc: %v", err)
		}
		ci, err := vm.resolveClass(name)
		if err != nil {
			return Step{}, err
		}
		f.Push(thread.RefValue(vm.heap.ClassObject(ci, vm.tid)))
	default:
		vmerr.Fail(vmerr.IllegalState, f, "ldc: unsupported constant %T at index %d", c, index)
	}
	f.SetPC(f.PC() + size)
	return done, nil
}
