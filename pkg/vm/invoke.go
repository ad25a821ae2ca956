package vm

import (
	"github.com/pkg/errors"
	"v.io/x/lib/vlog"

	cf "github.com/javapathfinder/jpf-core-sub000/pkg/classfile"
	"github.com/javapathfinder/jpf-core-sub000/pkg/heap"
	"github.com/javapathfinder/jpf-core-sub000/pkg/native"
	"github.com/javapathfinder/jpf-core-sub000/pkg/thread"
	"github.com/javapathfinder/jpf-core-sub000/pkg/types"
	"github.com/javapathfinder/jpf-core-sub000/pkg/vmerr"
)

// syncLock is the frame attribute holding the monitor a synchronized
// method locked on entry.
var syncLock = types.NewKey[heap.Ref]("vm.syncLock")

func invokeLength(op byte) int {
	if op == cf.OpInvokeinterface {
		return 5
	}
	return 3
}

// argCount is the number of operand slots a call to m consumes.
func argCount(m *types.MethodInfo) int {
	n := len(m.Params)
	if !m.IsStatic() {
		n++
	}
	return n
}

// invoke executes the four invoke instructions. The caller's pc stays at
// the invoke until the callee returns.
func (vm *VM) invoke(f *thread.Frame, op byte) (Step, error) {
	mr, err := cf.ResolveMemberRef(f.Method().Pool(), f.U2(1), 0)
	if err != nil {
		vmerr.Fail(vmerr.IllegalState, f, "%s: %v", cf.OpName(op), err)
	}
	ci, err := vm.resolveClass(mr.ClassName)
	if err != nil {
		return Step{}, err
	}
	m := ci.FindMethod(mr.Name, mr.Descriptor)
	if m == nil {
		return vm.throwNew(types.NoSuchMethodClass, native.JavaName(ci.Name)+"."+mr.Name+mr.Descriptor)
	}

	if op == cf.OpInvokestatic {
		if st, pending, err := vm.initCheck(m.Class); pending || err != nil {
			return st, err
		}
		return vm.call(f, m, op)
	}

	recv := f.Peek(len(m.Params))
	if recv.IsNull() {
		return vm.npe("invoke " + mr.Name + " on null")
	}
	if op != cf.OpInvokespecial {
		dyn := vm.heap.MustGet(recv.Ref()).Class()
		if dm := dyn.FindMethod(mr.Name, mr.Descriptor); dm != nil {
			m = dm
		}
	}
	if m.IsAbstract() {
		return vm.throwNew(types.NoSuchMethodClass, "abstract "+m.FullName())
	}
	return vm.call(f, m, op)
}

// call transfers control to m with its arguments on top of f's operand
// stack.
func (vm *VM) call(f *thread.Frame, m *types.MethodInfo, op byte) (Step, error) {
	if m.IsNative() {
		return vm.callNative(f, m, op)
	}
	t := vm.modThread()
	if t.Depth() >= maxFrameDepth {
		return vm.throwNew(types.StackOverflow, "")
	}
	if m.IsSynchronized() {
		lock := vm.lockTarget(f, m)
		if !vm.enterMonitor(lock) {
			return again, nil
		}
		nf := vm.newFrame(f, m)
		nf.SetAttrs(types.WithAttr(nf.Attrs(), syncLock, lock))
		t.PushFrame(nf)
		return done, nil
	}
	t.PushFrame(vm.newFrame(f, m))
	return done, nil
}

// lockTarget is the monitor of a synchronized method: the receiver, or the
// class object of a static method.
func (vm *VM) lockTarget(f *thread.Frame, m *types.MethodInfo) heap.Ref {
	if m.IsStatic() {
		return vm.heap.ClassObject(m.Class, vm.tid)
	}
	return f.Peek(len(m.Params)).Ref()
}

func (vm *VM) newFrame(caller *thread.Frame, m *types.MethodInfo) *thread.Frame {
	nf := thread.NewFrame(m)
	nf.SetArgs(caller.Operands(argCount(m)))
	vlog.VI(4).Infof("thread %d: call %s", vm.tid, m.FullName())
	return nf
}

// callNative runs the peer of m. The arguments stay on the operand stack
// until the peer completes, so a peer asking for re-execution sees the same
// operands again.
func (vm *VM) callNative(f *thread.Frame, m *types.MethodInfo, op byte) (Step, error) {
	peer := vm.peers.Lookup(m)
	if peer == nil {
		vmerr.Fail(vmerr.IllegalState, m, "no native peer for %s", m.FullName())
	}
	n := argCount(m)
	ret, err := peer(vm, f.Operands(n))
	switch {
	case errors.Is(err, native.ErrReexecute):
		return again, nil
	case err != nil:
		return Step{}, err
	}
	// The peer may have pushed frames onto this thread, so f can be stale.
	caller := vm.modThread().ModifiableFrame(f)
	caller.PopN(n)
	if m.Return != types.Void {
		caller.Push(ret)
	}
	caller.SetPC(caller.PC() + invokeLength(op))
	return done, nil
}

// doReturn pops the current frame and hands the result to the caller.
func (vm *VM) doReturn(f *thread.Frame) (Step, error) {
	m := f.Method()
	var ret thread.Value
	if m.Return != types.Void {
		ret = f.Peek(0)
	}
	t := vm.modThread()
	if m.IsInit() {
		vm.markConstructed(m, f.GetLocal(0))
	}
	direct := f.DirectCall
	vm.leaveFrame(t, false)
	if direct || t.Depth() == 0 {
		return done, nil
	}
	caller := t.ModifiableTop()
	caller.PopN(argCount(m))
	if m.Return != types.Void {
		caller.Push(ret)
	}
	caller.SetPC(caller.PC() + invokeLength(caller.Opcode()))
	return done, nil
}

// markConstructed flags this once the constructor of its exact class
// returns.
func (vm *VM) markConstructed(m *types.MethodInfo, this thread.Value) {
	if !this.IsRef() || this.IsNull() {
		return
	}
	if r := vm.heap.MustGet(this.Ref()); r.Class() == m.Class && !r.IsConstructed() {
		vm.heap.Modifiable(this.Ref()).MarkConstructed()
	}
}

// leaveFrame pops the top frame of t, releasing the lock of a synchronized
// method and finishing a class initializer.
func (vm *VM) leaveFrame(t *thread.ThreadInfo, exceptional bool) {
	f := t.PopFrame()
	m := f.Method()
	if lock, ok := types.GetAttr(f.Attrs(), syncLock); ok {
		vm.exitMonitor(lock)
	}
	if m.IsClinit() && f.DirectCall {
		vm.finishClinit(m.Class, exceptional)
	}
}
