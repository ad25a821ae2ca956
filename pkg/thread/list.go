package thread

import (
	"github.com/javapathfinder/jpf-core-sub000/pkg/heap"
	"github.com/javapathfinder/jpf-core-sub000/pkg/vmerr"
)

// List is the thread table, indexed by thread id. It is shared with
// mementos after a snapshot and copied on the next write.
type List struct {
	threads []*ThreadInfo
	shared  bool
}

// Memento captures the thread table. Threads and frames it refers to are
// frozen.
type Memento struct {
	threads []*ThreadInfo
}

func NewList() *List { return &List{} }

func (l *List) Len() int { return len(l.threads) }

// Get returns the thread with id, or nil.
func (l *List) Get(id int) *ThreadInfo {
	if id < 0 || id >= len(l.threads) {
		return nil
	}
	return l.threads[id]
}

// MustGet is Get that fails on an unknown id.
func (l *List) MustGet(id int) *ThreadInfo {
	t := l.Get(id)
	if t == nil {
		vmerr.Fail(vmerr.IllegalState, id, "no thread with id %d", id)
	}
	return t
}

func (l *List) unshare() {
	if l.shared {
		l.threads = append([]*ThreadInfo(nil), l.threads...)
		l.shared = false
	}
}

// Add registers a new thread. Its id must be the next free index.
func (l *List) Add(t *ThreadInfo) {
	if t.id != len(l.threads) {
		vmerr.Fail(vmerr.IllegalState, t, "thread id %d, expected %d", t.id, len(l.threads))
	}
	l.unshare()
	l.threads = append(l.threads, t)
}

// Modifiable returns a writable version of thread id, cloning it if frozen.
// Frames are shared with the frozen original until ModifiableFrame.
func (l *List) Modifiable(id int) *ThreadInfo {
	t := l.MustGet(id)
	if !t.frozen {
		return t
	}
	l.unshare()
	c := t.clone()
	l.threads[id] = c
	return c
}

// All returns the threads in id order.
func (l *List) All() []*ThreadInfo {
	return append([]*ThreadInfo(nil), l.threads...)
}

// Runnable returns the runnable threads in id order.
func (l *List) Runnable() []*ThreadInfo {
	var ts []*ThreadInfo
	for _, t := range l.threads {
		if t.IsRunnable() {
			ts = append(ts, t)
		}
	}
	return ts
}

// Alive counts threads that are started and not terminated.
func (l *List) Alive() int {
	n := 0
	for _, t := range l.threads {
		if t.IsAlive() {
			n++
		}
	}
	return n
}

// HasOtherRunnables reports whether any thread besides tid could run.
func (l *List) HasOtherRunnables(tid int) bool {
	for _, t := range l.threads {
		if t.id != tid && t.IsRunnable() {
			return true
		}
	}
	return false
}

// ByObject finds the thread whose java.lang.Thread object is ref.
func (l *List) ByObject(ref heap.Ref) *ThreadInfo {
	for _, t := range l.threads {
		if t.objRef == ref {
			return t
		}
	}
	return nil
}

// Snapshot freezes every thread and the frames above its first frozen
// frame, then hands the table to a memento.
func (l *List) Snapshot() *Memento {
	for _, t := range l.threads {
		t.freeze()
	}
	l.shared = true
	return &Memento{threads: l.threads}
}

// Restore reinstates the table captured by m.
func (l *List) Restore(m *Memento) {
	l.threads = m.threads
	l.shared = true
}

// Roots marks the references held by all threads.
func (l *List) Roots(mark func(heap.Ref)) {
	for _, t := range l.threads {
		t.Roots(mark)
	}
}

// Len reports the number of threads captured.
func (m *Memento) Len() int { return len(m.threads) }
