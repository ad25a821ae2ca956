package vm

import (
	"v.io/x/lib/vlog"

	"github.com/javapathfinder/jpf-core-sub000/pkg/heap"
	"github.com/javapathfinder/jpf-core-sub000/pkg/thread"
)

func schedulable(t *thread.ThreadInfo) bool {
	return t.IsRunnable() || t.State() == thread.TimeoutWaiting
}

// runnableIDs lists the threads a thread choice can pick, the current
// thread first so that the first alternative continues it.
func (vm *VM) runnableIDs(includeCurrent bool) []int {
	var ids []int
	if cur := vm.threads.Get(vm.tid); includeCurrent && cur != nil && schedulable(cur) {
		ids = append(ids, vm.tid)
	}
	for _, t := range vm.threads.All() {
		if t.ID() != vm.tid && schedulable(t) {
			ids = append(ids, t.ID())
		}
	}
	return ids
}

// setNextChoice registers cg as the choice ending the current transition.
// Only the first registration of a transition counts.
func (vm *VM) setNextChoice(cg ChoiceGenerator) {
	if vm.nextCG != nil {
		vlog.VI(3).Infof("thread %d: choice %s ignored after %s", vm.tid, cg.ID(), vm.nextCG.ID())
		return
	}
	vm.nextCG = cg
	vlog.VI(2).Infof("thread %d: next choice %s", vm.tid, cg)
	vm.notify(func(l Listener) { l.ChoiceRegistered(vm, cg) })
}

// nonBlockingChoice registers a thread choice at a point where the current
// thread could go on. It is skipped on the first step of a transition,
// inside atomic sections and when no other thread could run.
func (vm *VM) nonBlockingChoice(id string) bool {
	if vm.IsFirstStep() || vm.atomic > 0 || !vm.HasOtherRunnables() {
		return false
	}
	vm.setNextChoice(newThreadChoice(id, vm.tid, vm.runnableIDs(true)))
	return true
}

// blockingChoice registers a thread choice after the current thread lost
// the ability to run. It always ends the transition and breaks an atomic
// section.
func (vm *VM) blockingChoice(id string) {
	if vm.atomic > 0 {
		vlog.VI(1).Infof("thread %d: atomic section interrupted by %s", vm.tid, id)
		vm.atomic = 0
	}
	vm.setNextChoice(newThreadChoice(id, vm.tid, vm.runnableIDs(true)))
}

// forceChoice ends the transition with a thread choice regardless of the
// first-step rule.
func (vm *VM) forceChoice(id string) {
	vm.setNextChoice(newThreadChoice(id, vm.tid, vm.runnableIDs(true)))
}

// yieldTo ends the transition offering only the other threads, or the
// current one when nobody else can run.
func (vm *VM) yieldTo(id string) {
	ids := vm.runnableIDs(false)
	if len(ids) == 0 {
		ids = []int{vm.tid}
	}
	vm.setNextChoice(newThreadChoice(id, vm.tid, ids))
}

// reexecuted returns the generator that started the current transition if
// the current instruction is its re-execution: nothing has executed yet and
// the generator with the given id was registered by this thread.
func (vm *VM) reexecuted(id string) ChoiceGenerator {
	if vm.executed == 0 && vm.cg != nil && vm.cg.ID() == id && vm.cg.Thread() == vm.tid {
		return vm.cg
	}
	return nil
}

// IsFirstStep implements por.Context.
func (vm *VM) IsFirstStep() bool { return vm.executed == 0 }

// HasOtherRunnables implements por.Context.
func (vm *VM) HasOtherRunnables() bool { return vm.threads.HasOtherRunnables(vm.tid) }

// BreakShared implements por.Context.
func (vm *VM) BreakShared(reason string) bool { return vm.nonBlockingChoice(reason) }

// NotifyShared implements por.Context.
func (vm *VM) NotifyShared(r *heap.Record) {
	vm.notify(func(l Listener) { l.ObjectShared(vm, r) })
}

// NotifyExposed implements por.Context.
func (vm *VM) NotifyExposed(owner, exposed *heap.Record) {
	vm.notify(func(l Listener) { l.ObjectExposed(vm, owner, exposed) })
}
