package vm

import (
	"v.io/x/lib/vlog"

	"github.com/javapathfinder/jpf-core-sub000/pkg/heap"
	"github.com/javapathfinder/jpf-core-sub000/pkg/native"
	"github.com/javapathfinder/jpf-core-sub000/pkg/thread"
	"github.com/javapathfinder/jpf-core-sub000/pkg/types"
	"github.com/javapathfinder/jpf-core-sub000/pkg/vmerr"
)

func canLock(tid int, r *heap.Record) bool {
	return !r.IsLocked() || r.LockOwner() == tid
}

// acquire gives the monitor of ref to the current thread. A thread that
// already owns it increments the count; otherwise the count is set to
// count, which is the saved count when a waiter re-acquires its lock.
// Contenders that were unblocked but lost the race are blocked again.
func (vm *VM) acquire(ref heap.Ref, count int) {
	tid := vm.tid
	r := vm.heap.Modifiable(ref)
	switch {
	case r.LockOwner() == tid:
		count = r.LockCount() + 1
	case r.IsLocked():
		vmerr.Fail(vmerr.IllegalState, r, "thread %d locks %s held by thread %d", tid, r, r.LockOwner())
	}
	r.SetLock(tid, count)
	r.RemoveContender(tid)

	t := vm.modThread()
	t.AddLocked(ref)
	t.SetLockRef(heap.Null)
	if t.State() != thread.Running {
		vm.setState(tid, thread.Running)
	}
	for _, c := range r.Contenders() {
		if ct := vm.threads.MustGet(c); ct.State() == thread.Unblocked && ct.LockRef() == ref {
			vm.setState(c, thread.Blocked)
		}
	}
	vm.notify(func(l Listener) { l.ObjectLocked(vm, r) })
}

// unlock releases one hold of ref by the current thread and reports
// whether a contender became runnable.
func (vm *VM) unlock(ref heap.Ref) bool {
	tid := vm.tid
	r := vm.heap.Modifiable(ref)
	if r.LockOwner() != tid {
		vmerr.Fail(vmerr.IllegalUnlock, r, "thread %d unlocks %s owned by thread %d", tid, r, r.LockOwner())
	}
	if r.LockCount() > 1 {
		r.SetLock(tid, r.LockCount()-1)
		return false
	}
	return vm.release(r)
}

// release frees the monitor of r completely. Blocked contenders and
// waiters that were notified, interrupted or timed out become unblocked.
func (vm *VM) release(r *heap.Record) bool {
	r.SetLock(-1, 0)
	vm.modThread().RemoveLocked(r.Ref())
	unblocked := false
	for _, c := range r.Contenders() {
		switch vm.threads.MustGet(c).State() {
		case thread.Blocked, thread.Notified, thread.TimedOut, thread.Interrupted:
			vm.setState(c, thread.Unblocked)
			unblocked = true
		}
	}
	vm.notify(func(l Listener) { l.ObjectUnlocked(vm, r) })
	return unblocked
}

// block parks the current thread on the monitor of ref and ends the
// transition.
func (vm *VM) block(ref heap.Ref) {
	t := vm.setState(vm.tid, thread.Blocked)
	t.SetLockRef(ref)
	vm.heap.Modifiable(ref).AddContender(vm.tid)
	vlog.VI(3).Infof("thread %d: blocked on %d", vm.tid, ref)
	vm.blockingChoice(ChoiceBlock)
}

// enterMonitor locks ref for the current thread and reports whether it
// holds the lock afterwards. A contended lock blocks the thread. Taking a
// shared lock that is free is a scheduling point of its own; the
// instruction is then re-executed at the start of the next transition.
func (vm *VM) enterMonitor(ref heap.Ref) bool {
	r := vm.heap.MustGet(ref)
	if !canLock(vm.tid, r) {
		vm.block(ref)
		return false
	}
	if r.LockOwner() != vm.tid && r.IsShared() && vm.nonBlockingChoice(ChoiceLock) {
		return false
	}
	vm.acquire(ref, 1)
	return true
}

// exitMonitor releases one hold of ref. Unblocking a contender is a
// scheduling point.
func (vm *VM) exitMonitor(ref heap.Ref) {
	if vm.unlock(ref) {
		vm.nonBlockingChoice(ChoiceRelease)
	}
}

// objectWait implements Object.wait. The first execution releases the
// monitor, parks the thread and asks for re-execution; the re-execution
// after a notify, interrupt or timeout re-acquires the monitor with the
// saved count.
func (vm *VM) objectWait(ref heap.Ref, timeout int64) error {
	tid := vm.tid
	t := vm.thread()
	r := vm.heap.MustGet(ref)

	if t.LockRef() == ref && (t.State() == thread.Unblocked || t.State() == thread.TimedOut) {
		if !canLock(tid, r) {
			vm.block(ref)
			return native.ErrReexecute
		}
		vm.acquire(ref, t.LockCount())
		mt := vm.modThread()
		mt.SetLockCount(0)
		if mt.IsInterrupted() {
			mt.SetInterrupted(false)
			return vm.newException(types.InterruptedClass, "")
		}
		return nil
	}

	if r.LockOwner() != tid {
		return vm.newException(types.IllegalMonitor, "current thread is not owner")
	}
	if t.IsInterrupted() {
		vm.modThread().SetInterrupted(false)
		return vm.newException(types.InterruptedClass, "")
	}

	mt := vm.modThread()
	mt.SetLockCount(r.LockCount())
	mr := vm.heap.Modifiable(ref)
	vm.release(mr)
	state := thread.Waiting
	if timeout > 0 {
		state = thread.TimeoutWaiting
	}
	vm.setState(tid, state)
	mt.SetLockRef(ref)
	mr.AddContender(tid)
	vm.notify(func(l Listener) { l.ObjectWait(vm, mr) })
	vm.blockingChoice(ChoiceWait)
	return native.ErrReexecute
}

// waiters returns the threads in the wait set of r.
func (vm *VM) waiters(r *heap.Record) []int {
	var ws []int
	for _, c := range r.Contenders() {
		if t := vm.threads.MustGet(c); t.State().IsWaiting() && t.LockRef() == r.Ref() {
			ws = append(ws, c)
		}
	}
	return ws
}

// wake moves waiter w out of the wait set. A waiter that still has to
// re-acquire its monitor becomes NOTIFIED and stays a contender.
func (vm *VM) wake(ref heap.Ref, w int) {
	if vm.threads.MustGet(w).LockCount() > 0 {
		vm.setState(w, thread.Notified)
		return
	}
	t := vm.setState(w, thread.Running)
	t.SetLockRef(heap.Null)
	vm.heap.Modifiable(ref).RemoveContender(w)
}

// objectNotify implements Object.notify and Object.notifyAll. With more
// than one waiter notify is a data choice over which waiter wakes up.
func (vm *VM) objectNotify(ref heap.Ref, all bool) error {
	r := vm.heap.MustGet(ref)
	if r.LockOwner() != vm.tid {
		return vm.newException(types.IllegalMonitor, "current thread is not owner")
	}
	ws := vm.waiters(r)
	switch {
	case len(ws) == 0:
		return nil
	case all:
		for _, w := range ws {
			vm.wake(ref, w)
		}
		vm.notify(func(l Listener) { l.ObjectNotifyAll(vm, vm.heap.MustGet(ref)) })
		vm.nonBlockingChoice(ChoiceNotifyAll)
		return nil
	case len(ws) == 1:
		vm.wake(ref, ws[0])
	default:
		wc, ok := vm.reexecuted(ChoiceNotifyWaiter).(*WaiterChoice)
		if !ok {
			vm.setNextChoice(newWaiterChoice(vm.tid, ws))
			return native.ErrReexecute
		}
		vm.wake(ref, wc.Choice())
	}
	vm.notify(func(l Listener) { l.ObjectNotify(vm, vm.heap.MustGet(ref)) })
	vm.nonBlockingChoice(ChoiceNotify)
	return nil
}

// interrupt sets the interrupted flag of thread tid. A waiting target
// leaves the wait set and reports true.
func (vm *VM) interrupt(tid int) bool {
	t := vm.threads.Modifiable(tid)
	t.SetInterrupted(true)
	if !t.State().IsWaiting() {
		return false
	}
	if vm.heap.MustGet(t.LockRef()).IsLocked() {
		vm.setState(tid, thread.Interrupted)
	} else {
		vm.setState(tid, thread.Unblocked)
	}
	return true
}
