package vm

import (
	"github.com/javapathfinder/jpf-core-sub000/pkg/heap"
	"github.com/javapathfinder/jpf-core-sub000/pkg/thread"
	"github.com/javapathfinder/jpf-core-sub000/pkg/types"
)

// Inspector is the read-only view of a VM given to listeners. IgnoreState
// and ForceState are the only ways a listener can influence the search.
type Inspector interface {
	Heap() *heap.Heap
	Threads() []*thread.ThreadInfo
	CurrentThread() *thread.ThreadInfo
	// Choice returns the generator whose choice drives the current
	// transition.
	Choice() ChoiceGenerator
	Depth() int
	Path() []Choice
	// IgnoreState makes the search treat the state reached by the current
	// transition as already visited.
	IgnoreState()
	// ForceState makes the search treat it as new.
	ForceState()
}

// Listener observes the VM. Events are delivered synchronously from the
// transition that causes them.
type Listener interface {
	ObjectCreated(in Inspector, r *heap.Record)
	ObjectReleased(in Inspector, r *heap.Record)
	ObjectLocked(in Inspector, r *heap.Record)
	ObjectUnlocked(in Inspector, r *heap.Record)
	ObjectWait(in Inspector, r *heap.Record)
	ObjectNotify(in Inspector, r *heap.Record)
	ObjectNotifyAll(in Inspector, r *heap.Record)
	ObjectShared(in Inspector, r *heap.Record)
	ObjectExposed(in Inspector, owner, exposed *heap.Record)
	ThreadStarted(in Inspector, t *thread.ThreadInfo)
	ThreadStateChanged(in Inspector, t *thread.ThreadInfo, from thread.State)
	ThreadTerminated(in Inspector, t *thread.ThreadInfo)
	ExceptionThrown(in Inspector, t *thread.ThreadInfo, exc *heap.Record)
	InstructionExecuted(in Inspector, t *thread.ThreadInfo, m *types.MethodInfo, pc int)
	GCBegin(in Inspector)
	GCEnd(in Inspector)
	ChoiceRegistered(in Inspector, cg ChoiceGenerator)
}

// ListenerAdapter implements Listener with no-ops. Embed it and override
// the events of interest.
type ListenerAdapter struct{}

func (ListenerAdapter) ObjectCreated(Inspector, *heap.Record)               {}
func (ListenerAdapter) ObjectReleased(Inspector, *heap.Record)              {}
func (ListenerAdapter) ObjectLocked(Inspector, *heap.Record)                {}
func (ListenerAdapter) ObjectUnlocked(Inspector, *heap.Record)              {}
func (ListenerAdapter) ObjectWait(Inspector, *heap.Record)                  {}
func (ListenerAdapter) ObjectNotify(Inspector, *heap.Record)                {}
func (ListenerAdapter) ObjectNotifyAll(Inspector, *heap.Record)             {}
func (ListenerAdapter) ObjectShared(Inspector, *heap.Record)                {}
func (ListenerAdapter) ObjectExposed(Inspector, *heap.Record, *heap.Record) {}

func (ListenerAdapter) ThreadStarted(Inspector, *thread.ThreadInfo)                               {}
func (ListenerAdapter) ThreadStateChanged(Inspector, *thread.ThreadInfo, thread.State)            {}
func (ListenerAdapter) ThreadTerminated(Inspector, *thread.ThreadInfo)                            {}
func (ListenerAdapter) ExceptionThrown(Inspector, *thread.ThreadInfo, *heap.Record)               {}
func (ListenerAdapter) InstructionExecuted(Inspector, *thread.ThreadInfo, *types.MethodInfo, int) {}

func (ListenerAdapter) GCBegin(Inspector)                           {}
func (ListenerAdapter) GCEnd(Inspector)                             {}
func (ListenerAdapter) ChoiceRegistered(Inspector, ChoiceGenerator) {}

func (vm *VM) notify(fn func(l Listener)) {
	for _, l := range vm.listeners {
		fn(l)
	}
}

// heapObserver forwards heap events to the listeners.
type heapObserver struct{ vm *VM }

func (o heapObserver) ObjectCreated(r *heap.Record) {
	o.vm.notify(func(l Listener) { l.ObjectCreated(o.vm, r) })
}

func (o heapObserver) ObjectReleased(r *heap.Record) {
	o.vm.notify(func(l Listener) { l.ObjectReleased(o.vm, r) })
}

func (o heapObserver) GCBegin() { o.vm.notify(func(l Listener) { l.GCBegin(o.vm) }) }
func (o heapObserver) GCEnd()   { o.vm.notify(func(l Listener) { l.GCEnd(o.vm) }) }
