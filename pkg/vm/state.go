package vm

import (
	"io"

	"github.com/javapathfinder/jpf-core-sub000/pkg/heap"
	"github.com/javapathfinder/jpf-core-sub000/pkg/native"
	"github.com/javapathfinder/jpf-core-sub000/pkg/por"
	"github.com/javapathfinder/jpf-core-sub000/pkg/thread"
)

var (
	_ native.Env  = (*VM)(nil)
	_ por.Context = (*VM)(nil)
	_ Inspector   = (*VM)(nil)
)

// backtrackState is everything Backtrack needs to return to the state
// before a Forward. The heap and thread table are captured as mementos;
// the choice generator is kept by pointer so its position survives.
type backtrackState struct {
	heap     *heap.Memento
	threads  *thread.Memento
	cg       ChoiceGenerator
	tid      int
	atomic   int
	pathLen  int
	uncaught *uncaughtException
	violated *Violation
}

func (vm *VM) pushState() {
	vm.stack = append(vm.stack, &backtrackState{
		heap:     vm.heap.Snapshot(),
		threads:  vm.threads.Snapshot(),
		cg:       vm.cg,
		tid:      vm.tid,
		atomic:   vm.atomic,
		pathLen:  len(vm.path),
		uncaught: vm.uncaught,
		violated: vm.violated,
	})
}

func (vm *VM) restore(s *backtrackState) {
	vm.heap.Restore(s.heap)
	vm.threads.Restore(s.threads)
	vm.cg = s.cg
	vm.nextCG = nil
	vm.tid = s.tid
	vm.atomic = s.atomic
	vm.path = vm.path[:s.pathLen]
	vm.uncaught = s.uncaught
	vm.violated = s.violated
	vm.ignored = false
	vm.forced = false
}

// Heap implements native.Env and Inspector.
func (vm *VM) Heap() *heap.Heap { return vm.heap }

// Thread implements native.Env and por.Context.
func (vm *VM) Thread() *thread.ThreadInfo { return vm.thread() }

// Out implements native.Env.
func (vm *VM) Out() io.Writer { return vm.cfg.Out }

func (vm *VM) Threads() []*thread.ThreadInfo     { return vm.threads.All() }
func (vm *VM) CurrentThread() *thread.ThreadInfo { return vm.threads.Get(vm.tid) }
func (vm *VM) Choice() ChoiceGenerator           { return vm.cg }
func (vm *VM) Depth() int                        { return len(vm.path) }
func (vm *VM) IgnoreState()                      { vm.ignored = true }
func (vm *VM) ForceState()                       { vm.forced = true }

// Path returns the choices leading from the initial state to the current
// one.
func (vm *VM) Path() []Choice { return append([]Choice(nil), vm.path...) }

// IsIgnored reports whether the last transition asked the search not to
// explore the reached state.
func (vm *VM) IsIgnored() bool { return vm.ignored }

// IsForced reports whether the reached state must be explored even if it
// was seen before.
func (vm *VM) IsForced() bool { return vm.forced }

// IsEndState reports whether no transition leaves the current state.
func (vm *VM) IsEndState() bool { return vm.cg == nil }

// Violation returns the property violated in the current state, or nil.
func (vm *VM) Violation() *Violation { return vm.violated }
