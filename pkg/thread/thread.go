// Package thread holds thread control blocks, their call stacks and the
// thread table. Threads and frames are frozen on snapshot like heap records;
// mutating a frozen frame requires ThreadInfo.ModifiableFrame, which clones
// it together with every frame above it.
package thread

import (
	"fmt"

	"github.com/javapathfinder/jpf-core-sub000/pkg/heap"
	"github.com/javapathfinder/jpf-core-sub000/pkg/types"
	"github.com/javapathfinder/jpf-core-sub000/pkg/vmerr"
)

// State is a thread's scheduling state.
type State uint8

const (
	New State = iota
	Running
	Blocked
	Unblocked
	Waiting
	TimeoutWaiting
	Notified
	Interrupted
	TimedOut
	Terminated
	Sleeping
)

var stateNames = [...]string{
	"NEW", "RUNNING", "BLOCKED", "UNBLOCKED", "WAITING", "TIMEOUT_WAITING",
	"NOTIFIED", "INTERRUPTED", "TIMEDOUT", "TERMINATED", "SLEEPING",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", s)
}

// IsRunnable reports whether a thread in state s can be scheduled. Time is
// not modeled, so sleeping threads count as runnable.
func (s State) IsRunnable() bool {
	switch s {
	case Running, Unblocked, Sleeping, TimedOut:
		return true
	}
	return false
}

// IsWaiting reports a thread parked in a wait set.
func (s State) IsWaiting() bool {
	return s == Waiting || s == TimeoutWaiting
}

// ThreadInfo is the control block of one modeled thread.
type ThreadInfo struct {
	id          int
	name        string
	state       State
	objRef      heap.Ref
	groupRef    heap.Ref
	lockRef     heap.Ref
	lockCount   int
	locked      []heap.Ref
	top         *Frame
	depth       int
	interrupted bool
	frozen      bool
}

// NewThreadInfo creates a thread in state NEW for the given Thread object.
func NewThreadInfo(id int, name string, obj, group heap.Ref) *ThreadInfo {
	return &ThreadInfo{id: id, name: name, objRef: obj, groupRef: group}
}

func (t *ThreadInfo) clone() *ThreadInfo {
	c := *t
	c.locked = append([]heap.Ref(nil), t.locked...)
	c.frozen = false
	return &c
}

func (t *ThreadInfo) String() string {
	return fmt.Sprintf("%s(%d,%s)", t.name, t.id, t.state)
}

func (t *ThreadInfo) ID() int             { return t.id }
func (t *ThreadInfo) Name() string        { return t.name }
func (t *ThreadInfo) State() State        { return t.state }
func (t *ThreadInfo) ObjRef() heap.Ref    { return t.objRef }
func (t *ThreadInfo) GroupRef() heap.Ref  { return t.groupRef }
func (t *ThreadInfo) LockRef() heap.Ref   { return t.lockRef }
func (t *ThreadInfo) LockCount() int      { return t.lockCount }
func (t *ThreadInfo) Top() *Frame         { return t.top }
func (t *ThreadInfo) Depth() int          { return t.depth }
func (t *ThreadInfo) IsInterrupted() bool { return t.interrupted }
func (t *ThreadInfo) IsFrozen() bool      { return t.frozen }
func (t *ThreadInfo) IsRunnable() bool    { return t.state.IsRunnable() }
func (t *ThreadInfo) IsTerminated() bool  { return t.state == Terminated }

// IsAlive reports a started, not yet terminated thread.
func (t *ThreadInfo) IsAlive() bool {
	return t.state != New && t.state != Terminated
}

// LockedObjects returns a copy of the objects whose monitors t holds, in
// acquisition order.
func (t *ThreadInfo) LockedObjects() []heap.Ref {
	return append([]heap.Ref(nil), t.locked...)
}

// Holds reports whether t owns the monitor of ref.
func (t *ThreadInfo) Holds(ref heap.Ref) bool {
	for _, r := range t.locked {
		if r == ref {
			return true
		}
	}
	return false
}

func (t *ThreadInfo) checkMutable() {
	if t.frozen {
		vmerr.Fail(vmerr.FrozenMutation, t, "mutation of frozen thread %s", t)
	}
}

func (t *ThreadInfo) SetState(s State) {
	t.checkMutable()
	if t.state == Terminated && s != Terminated {
		vmerr.Fail(vmerr.IllegalState, t, "thread %s leaving TERMINATED for %s", t, s)
	}
	t.state = s
}

// SetLockRef records the object t is blocked or waiting on.
func (t *ThreadInfo) SetLockRef(ref heap.Ref) {
	t.checkMutable()
	t.lockRef = ref
}

// SetLockCount stores the recursion count saved across wait.
func (t *ThreadInfo) SetLockCount(n int) {
	t.checkMutable()
	t.lockCount = n
}

func (t *ThreadInfo) SetInterrupted(b bool) {
	t.checkMutable()
	t.interrupted = b
}

func (t *ThreadInfo) SetGroupRef(ref heap.Ref) {
	t.checkMutable()
	t.groupRef = ref
}

func (t *ThreadInfo) AddLocked(ref heap.Ref) {
	t.checkMutable()
	if !t.Holds(ref) {
		t.locked = append(t.locked, ref)
	}
}

func (t *ThreadInfo) RemoveLocked(ref heap.Ref) {
	t.checkMutable()
	for i, r := range t.locked {
		if r == ref {
			t.locked = append(t.locked[:i:i], t.locked[i+1:]...)
			return
		}
	}
}

// PushFrame makes f the top frame.
func (t *ThreadInfo) PushFrame(f *Frame) {
	t.checkMutable()
	f.checkMutable()
	f.prev = t.top
	t.top = f
	t.depth++
}

// PopFrame removes and returns the top frame.
func (t *ThreadInfo) PopFrame() *Frame {
	t.checkMutable()
	f := t.top
	if f == nil {
		vmerr.Fail(vmerr.StackUnderflow, t, "pop frame of empty stack in %s", t)
	}
	t.top = f.prev
	t.depth--
	return f
}

// ClearStack drops all frames, used when a thread terminates.
func (t *ThreadInfo) ClearStack() {
	t.checkMutable()
	t.top = nil
	t.depth = 0
}

// ModifiableTop returns a writable top frame.
func (t *ThreadInfo) ModifiableTop() *Frame {
	return t.ModifiableFrame(t.top)
}

// ModifiableFrame returns a writable version of f, which must be on t's
// stack. Every frozen frame above f is cloned as well and relinked, so the
// frozen chain seen by earlier mementos stays intact while the unchanged
// frames below f are shared.
func (t *ThreadInfo) ModifiableFrame(f *Frame) *Frame {
	if f == nil {
		vmerr.Fail(vmerr.StackUnderflow, t, "no frame in %s", t)
	}
	var above []*Frame
	for g := t.top; g != f; g = g.prev {
		if g == nil {
			vmerr.Fail(vmerr.IllegalState, t, "frame %s not on stack of %s", f, t)
		}
		above = append(above, g)
	}
	if !f.frozen {
		return f
	}
	t.checkMutable()

	nf := f.clone()
	below := nf
	for i := len(above) - 1; i >= 0; i-- {
		g := above[i]
		if g.frozen {
			g = g.clone()
		}
		g.prev = below
		below = g
	}
	t.top = below
	return nf
}

// Frames returns the call stack, top first.
func (t *ThreadInfo) Frames() []*Frame {
	var fs []*Frame
	for f := t.top; f != nil; f = f.prev {
		fs = append(fs, f)
	}
	return fs
}

// Roots marks references held by the thread: its Thread object, the
// object it waits on, held monitors and stack slots.
func (t *ThreadInfo) Roots(mark func(heap.Ref)) {
	mark(t.objRef)
	mark(t.groupRef)
	mark(t.lockRef)
	for _, r := range t.locked {
		mark(r)
	}
	for f := t.top; f != nil; f = f.prev {
		f.Roots(mark)
	}
}

// freeze marks the thread and its unfrozen frames. Frozen frames only ever
// sit below unfrozen ones, so the walk stops at the first frozen frame.
func (t *ThreadInfo) freeze() {
	t.frozen = true
	for f := t.top; f != nil && !f.frozen; f = f.prev {
		f.frozen = true
	}
}

// MethodOnStack reports whether any frame runs a method satisfying pred.
func (t *ThreadInfo) MethodOnStack(pred func(*types.MethodInfo) bool) bool {
	for f := t.top; f != nil; f = f.prev {
		if pred(f.method) {
			return true
		}
	}
	return false
}
