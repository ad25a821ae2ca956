package vm

import (
	"fmt"

	"v.io/x/lib/vlog"

	"github.com/javapathfinder/jpf-core-sub000/pkg/heap"
	"github.com/javapathfinder/jpf-core-sub000/pkg/native"
	"github.com/javapathfinder/jpf-core-sub000/pkg/thread"
	"github.com/javapathfinder/jpf-core-sub000/pkg/types"
)

var void thread.Value

// modelPeers returns the peers that drive the scheduler: monitors of
// java.lang.Object, the thread lifecycle and the Verify API.
func (vm *VM) modelPeers() native.Table {
	t := native.Table{}
	obj, thr, verify := types.ObjectClass, types.ThreadClass, types.VerifyClass

	t.Register(obj, "wait", "()V", func(_ native.Env, args []thread.Value) (thread.Value, error) {
		return void, vm.objectWait(args[0].Ref(), 0)
	})
	t.Register(obj, "wait", "(J)V", func(_ native.Env, args []thread.Value) (thread.Value, error) {
		return void, vm.objectWait(args[0].Ref(), args[1].Long())
	})
	t.Register(obj, "notify", "()V", func(_ native.Env, args []thread.Value) (thread.Value, error) {
		return void, vm.objectNotify(args[0].Ref(), false)
	})
	t.Register(obj, "notifyAll", "()V", func(_ native.Env, args []thread.Value) (thread.Value, error) {
		return void, vm.objectNotify(args[0].Ref(), true)
	})

	t.Register(thr, "register", "()V", vm.threadRegister)
	t.Register(thr, "start", "()V", vm.threadStart)
	t.Register(thr, "isAlive", "()Z", func(_ native.Env, args []thread.Value) (thread.Value, error) {
		ti := vm.threads.ByObject(args[0].Ref())
		return thread.IntValue(boolInt(ti != nil && ti.IsAlive())), nil
	})
	t.Register(thr, "interrupt", "()V", func(_ native.Env, args []thread.Value) (thread.Value, error) {
		ti := vm.threads.ByObject(args[0].Ref())
		if ti == nil || ti.IsTerminated() {
			return void, nil
		}
		if vm.interrupt(ti.ID()) {
			vm.nonBlockingChoice(ChoiceInterrupt)
		}
		return void, nil
	})
	t.Register(thr, "isInterrupted", "()Z", func(_ native.Env, args []thread.Value) (thread.Value, error) {
		ti := vm.threads.ByObject(args[0].Ref())
		return thread.IntValue(boolInt(ti != nil && ti.IsInterrupted())), nil
	})
	t.Register(thr, "getId", "()J", func(_ native.Env, args []thread.Value) (thread.Value, error) {
		if ti := vm.threads.ByObject(args[0].Ref()); ti != nil {
			return thread.LongValue(int64(ti.ID())), nil
		}
		return thread.LongValue(-1), nil
	})
	t.Register(thr, "interrupted", "()Z", func(native.Env, []thread.Value) (thread.Value, error) {
		was := vm.thread().IsInterrupted()
		if was {
			vm.modThread().SetInterrupted(false)
		}
		return thread.IntValue(boolInt(was)), nil
	})
	t.Register(thr, "currentThread", "()Ljava/lang/Thread;", func(native.Env, []thread.Value) (thread.Value, error) {
		return thread.RefValue(vm.thread().ObjRef()), nil
	})
	t.Register(thr, "yield", "()V", func(native.Env, []thread.Value) (thread.Value, error) {
		vm.nonBlockingChoice(ChoiceYield)
		return void, nil
	})
	t.Register(thr, "sleep", "(J)V", vm.threadSleep)

	t.Register(verify, "getInt", "(II)I", vm.verifyGetInt)
	t.Register(verify, "getBoolean", "()Z", func(native.Env, []thread.Value) (thread.Value, error) {
		if c, ok := vm.reexecuted(ChoiceGetBoolean).(*BoolChoice); ok {
			return thread.IntValue(boolInt(c.Value())), nil
		}
		vm.setNextChoice(newBoolChoice(vm.tid))
		return void, native.ErrReexecute
	})
	t.Register(verify, "beginAtomic", "()V", func(native.Env, []thread.Value) (thread.Value, error) {
		vm.atomic++
		return void, nil
	})
	t.Register(verify, "endAtomic", "()V", func(native.Env, []thread.Value) (thread.Value, error) {
		if vm.atomic > 0 {
			vm.atomic--
		}
		return void, nil
	})
	t.Register(verify, "ignoreIf", "(Z)V", func(_ native.Env, args []thread.Value) (thread.Value, error) {
		if args[0].Int() != 0 {
			vm.IgnoreState()
			vm.forceChoice(ChoiceBreak)
		}
		return void, nil
	})
	t.Register(verify, "breakTransition", "()V", func(native.Env, []thread.Value) (thread.Value, error) {
		vm.forceChoice(ChoiceBreak)
		return void, nil
	})
	return t
}

// threadRegister creates the thread control block of a new Thread object.
// Constructors call it after the fields are set.
func (vm *VM) threadRegister(_ native.Env, args []thread.Value) (thread.Value, error) {
	obj := args[0].Ref()
	if vm.threads.ByObject(obj) != nil {
		return void, nil
	}
	id := vm.threads.Len()
	r := vm.heap.Modifiable(obj)
	ci := r.Class()
	nameF, groupF := vm.field(ci, "name"), vm.field(ci, "group")

	name, ok := vm.heap.StringValue(r.Reference(nameF))
	if !ok {
		name = fmt.Sprintf("Thread-%d", id)
		s := vm.heap.NewString(name, vm.tid).Ref()
		vm.heap.Modifiable(obj).SetReference(nameF, s)
	}
	group := r.Reference(groupF)
	if group == heap.Null {
		group = vm.thread().GroupRef()
		vm.heap.Modifiable(obj).SetReference(groupF, group)
	}
	vm.threads.Add(thread.NewThreadInfo(id, name, obj, group))
	vlog.VI(2).Infof("thread %d: registered %q", id, name)
	return void, nil
}

func (vm *VM) threadStart(_ native.Env, args []thread.Value) (thread.Value, error) {
	obj := args[0].Ref()
	ti := vm.threads.ByObject(obj)
	if ti == nil || ti.State() != thread.New {
		return void, vm.newException(types.IllegalThreadSt, "")
	}
	run := vm.heap.MustGet(obj).Class().FindMethod("run", "()V")
	f := thread.NewFrame(run)
	f.SetArgs([]thread.Value{args[0]})
	nt := vm.threads.Modifiable(ti.ID())
	nt.PushFrame(f)
	vm.setState(nt.ID(), thread.Running)
	vm.addToGroup(nt.GroupRef(), obj)
	vm.notify(func(l Listener) { l.ThreadStarted(vm, nt) })
	vm.nonBlockingChoice(ChoiceStart)
	return void, nil
}

// threadSleep parks the thread for one scheduling point. Time is not
// modeled, so the re-execution simply resumes.
func (vm *VM) threadSleep(native.Env, []thread.Value) (thread.Value, error) {
	if vm.thread().State() == thread.Sleeping {
		vm.setState(vm.tid, thread.Running)
		return void, vm.checkInterrupted()
	}
	if err := vm.checkInterrupted(); err != nil {
		return void, err
	}
	vm.setState(vm.tid, thread.Sleeping)
	vm.forceChoice(ChoiceSleep)
	return void, native.ErrReexecute
}

// checkInterrupted clears the interrupted flag of the current thread and
// returns an InterruptedException if it was set.
func (vm *VM) checkInterrupted() error {
	if !vm.thread().IsInterrupted() {
		return nil
	}
	vm.modThread().SetInterrupted(false)
	return vm.newException(types.InterruptedClass, "")
}

func (vm *VM) verifyGetInt(_ native.Env, args []thread.Value) (thread.Value, error) {
	if c, ok := vm.reexecuted(ChoiceGetInt).(*IntChoice); ok {
		return thread.IntValue(c.Value()), nil
	}
	lo, hi := args[0].Int(), args[1].Int()
	switch {
	case lo > hi:
		return void, vm.newException(types.AssertionClass, fmt.Sprintf("empty choice range [%d,%d]", lo, hi))
	case lo == hi:
		return thread.IntValue(lo), nil
	}
	vm.setNextChoice(newIntChoice(vm.tid, lo, hi))
	return void, native.ErrReexecute
}

// newThreadGroup allocates a constructed ThreadGroup named name.
func (vm *VM) newThreadGroup(name string) heap.Ref {
	ci := vm.reg.MustResolve(types.ThreadGroupClass)
	r := vm.heap.NewObject(ci, vm.tid)
	r.SetReference(vm.field(ci, "name"), vm.heap.Intern(name, vm.tid))
	r.MarkConstructed()
	return r.Ref()
}

// newThreadObject allocates the constructed Thread object of a thread the
// VM creates itself.
func (vm *VM) newThreadObject(name string, group heap.Ref) heap.Ref {
	ci := vm.reg.MustResolve(types.ThreadClass)
	r := vm.heap.NewObject(ci, vm.tid)
	r.SetReference(vm.field(ci, "name"), vm.heap.Intern(name, vm.tid))
	r.SetReference(vm.field(ci, "group"), group)
	r.SetInt(vm.field(ci, "priority"), 5)
	r.MarkConstructed()
	return r.Ref()
}

// addToGroup appends obj to the threads array of group, growing it when
// full.
func (vm *VM) addToGroup(group, obj heap.Ref) {
	if group == heap.Null {
		return
	}
	g := vm.heap.Modifiable(group)
	ci := g.Class()
	threadsF, countF := vm.field(ci, "threads"), vm.field(ci, "nthreads")
	n := int(g.Int(countF))
	arr := g.Reference(threadsF)
	if arr == heap.Null || vm.heap.MustGet(arr).Len() == n {
		grown := vm.heap.NewArray(vm.reg.MustResolve("[Ljava/lang/Thread;"), max(4, 2*n), vm.tid)
		if arr != heap.Null {
			old := vm.heap.MustGet(arr)
			for i := 0; i < n; i++ {
				grown.SetRefElem(i, old.RefElem(i))
			}
		}
		arr = grown.Ref()
		g.SetReference(threadsF, arr)
	}
	vm.heap.Modifiable(arr).SetRefElem(n, obj)
	g.SetInt(countF, int32(n+1))
}

// removeFromGroup drops obj from the threads array of group.
func (vm *VM) removeFromGroup(group, obj heap.Ref) {
	if group == heap.Null {
		return
	}
	g := vm.heap.Modifiable(group)
	ci := g.Class()
	threadsF, countF := vm.field(ci, "threads"), vm.field(ci, "nthreads")
	n := int(g.Int(countF))
	arr := g.Reference(threadsF)
	if arr == heap.Null {
		return
	}
	a := vm.heap.Modifiable(arr)
	for i := 0; i < n; i++ {
		if a.RefElem(i) != obj {
			continue
		}
		for j := i; j < n-1; j++ {
			a.SetRefElem(j, a.RefElem(j+1))
		}
		a.SetRefElem(n-1, heap.Null)
		g.SetInt(countF, int32(n-1))
		return
	}
}

// finishThread terminates the current thread after its last frame
// returned. It needs the monitors of its Thread object, to notify joiners,
// and of its group; if either is taken it blocks and retries when
// unblocked.
func (vm *VM) finishThread() {
	t := vm.thread()
	obj, group := t.ObjRef(), t.GroupRef()
	for _, ref := range []heap.Ref{obj, group} {
		if ref != heap.Null && !canLock(vm.tid, vm.heap.MustGet(ref)) {
			vm.block(ref)
			return
		}
	}
	if obj != heap.Null {
		vm.acquire(obj, 1)
		for _, w := range vm.waiters(vm.heap.MustGet(obj)) {
			vm.wake(obj, w)
		}
		vm.unlock(obj)
	}
	if group != heap.Null {
		vm.acquire(group, 1)
		vm.removeFromGroup(group, obj)
		vm.unlock(group)
	}

	mt := vm.setState(vm.tid, thread.Terminated)
	mt.ClearStack()
	vlog.VI(2).Infof("thread %d: terminated", vm.tid)
	vm.notify(func(l Listener) { l.ThreadTerminated(vm, mt) })
	if vm.threads.Alive() > 0 {
		vm.setNextChoice(newThreadChoice(ChoiceTerminate, vm.tid, vm.runnableIDs(true)))
	}
}
