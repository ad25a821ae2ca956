package vm

import (
	"github.com/pkg/errors"
	"v.io/x/lib/vlog"

	"github.com/javapathfinder/jpf-core-sub000/pkg/heap"
	"github.com/javapathfinder/jpf-core-sub000/pkg/thread"
	"github.com/javapathfinder/jpf-core-sub000/pkg/types"
	"github.com/javapathfinder/jpf-core-sub000/pkg/vmerr"
)

// StepKind is the outcome of executing one instruction.
type StepKind uint8

const (
	// Completed instructions advanced the pc or transferred control.
	Completed StepKind = iota
	// Reexecute leaves the pc unchanged; the instruction runs again at the
	// start of the next transition of its thread.
	Reexecute
	// NeedsPrecondition asks for the class initializers of Work to run
	// before the instruction.
	NeedsPrecondition
)

// Step is the result of an instruction handler.
type Step struct {
	Kind StepKind
	Work *types.ClassInfo
}

var (
	done  = Step{Kind: Completed}
	again = Step{Kind: Reexecute}
)

// step executes one instruction of the current thread.
func (vm *VM) step() {
	t := vm.modThread()
	f := t.ModifiableTop()
	m, pc := f.Method(), f.PC()

	st, err := vm.execute(f)
	var exc *JavaException
	switch {
	case errors.As(err, &exc):
		vm.executed++
		vm.stats.Instructions++
		vm.unwind(exc.Ref)
		return
	case err != nil:
		vmerr.Fail(vmerr.IllegalState, f, "%s@%d: %v", m.FullName(), pc, err)
	}

	switch st.Kind {
	case Completed:
		vm.executed++
		vm.stats.Instructions++
		vm.notify(func(l Listener) { l.InstructionExecuted(vm, t, m, pc) })
	case Reexecute:
		if vm.nextCG == nil && vm.thread().IsRunnable() {
			vmerr.Fail(vmerr.IllegalState, f, "%s@%d re-executes without a choice", m.FullName(), pc)
		}
	case NeedsPrecondition:
		vm.pushClinit(st.Work)
	}
}

// runTransition runs the thread selected by the current choice until a new
// choice is registered, the thread cannot continue, or an exception escapes
// a thread.
func (vm *VM) runTransition() (err error) {
	defer vmerr.Recover(&err)
	vm.nextCG = nil
	vm.executed = 0
	vm.ignored = false
	vm.forced = false

	vm.tid = vm.cg.Thread()
	if tc, ok := vm.cg.(*ThreadChoice); ok {
		vm.tid = tc.Choice()
	}
	if vm.thread().State() == thread.TimeoutWaiting {
		vm.setState(vm.tid, thread.TimedOut)
	}
	vlog.VI(2).Infof("transition %d: thread %d after %s", vm.stats.Transitions, vm.tid, vm.cg)

	for vm.nextCG == nil && vm.uncaught == nil && vm.thread().IsRunnable() {
		switch {
		case vm.thread().Depth() == 0:
			vm.finishThread()
		case vm.executed >= vm.cfg.MaxTransitionLength:
			vm.forceChoice(ChoiceMaxLength)
		default:
			vm.step()
		}
	}

	if vm.nextCG == nil && vm.uncaught == nil && vm.threads.Alive() > 0 {
		vm.setNextChoice(newThreadChoice(ChoiceEndTransit, vm.tid, vm.runnableIDs(true)))
	}
	vm.cg = vm.nextCG
	vm.nextCG = nil
	if vm.cg != nil && vm.cg.Len() == 0 {
		// Nothing can run: the state is an end state.
		vm.cg = nil
	}

	vm.checkProperties()
	if vm.cfg.GC {
		vm.collect()
	}
	vm.stats.Transitions++
	return nil
}

// collect runs the garbage collector with the threads and the pending
// exception as roots.
func (vm *VM) collect() {
	roots := []heap.RootSet{vm.threads}
	if vm.uncaught != nil {
		ref := vm.uncaught.ref
		roots = append(roots, heap.RootFunc(func(mark func(heap.Ref)) { mark(ref) }))
	}
	n := vm.heap.GC(roots...)
	vlog.VI(3).Infof("gc: %d records released", n)
}

// Forward advances the current choice and runs the transition it selects.
// It reports false when the current state has no unexplored choice left.
func (vm *VM) Forward() (bool, error) {
	if vm.cg == nil || !vm.cg.HasMore() {
		return false, nil
	}
	vm.pushState()
	vm.cg.Advance()
	return true, vm.enter()
}

// ForwardChoice runs the transition of choice i of the current choice.
// Replaying a recorded path uses it. An index outside the choice is a
// ConsistencyError.
func (vm *VM) ForwardChoice(i int) (err error) {
	if vm.cg == nil {
		return errors.New("vm: no choice in current state")
	}
	defer vmerr.Recover(&err)
	vm.cg.Select(i)
	vm.pushState()
	return vm.enter()
}

func (vm *VM) enter() error {
	vm.path = append(vm.path, Choice{ID: vm.cg.ID(), Index: vm.cg.Index()})
	if d := len(vm.path); d > vm.stats.MaxDepth {
		vm.stats.MaxDepth = d
	}
	return vm.runTransition()
}

// Backtrack restores the state before the last Forward, whose choice keeps
// its position so the next Forward selects the following alternative.
func (vm *VM) Backtrack() bool {
	n := len(vm.stack)
	if n == 0 {
		return false
	}
	s := vm.stack[n-1]
	vm.stack = vm.stack[:n-1]
	vm.restore(s)
	vm.stats.Backtracks++
	return true
}
