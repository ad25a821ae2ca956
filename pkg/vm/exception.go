package vm

import (
	"fmt"

	"v.io/x/lib/vlog"

	"github.com/javapathfinder/jpf-core-sub000/pkg/heap"
	"github.com/javapathfinder/jpf-core-sub000/pkg/native"
	"github.com/javapathfinder/jpf-core-sub000/pkg/thread"
	"github.com/javapathfinder/jpf-core-sub000/pkg/types"
)

// JavaException is a modeled exception being thrown in the current
// thread. Instruction handlers and peers return it as an error; the
// interpreter unwinds the modeled stack.
type JavaException struct {
	Ref   heap.Ref
	Class string
}

func (e *JavaException) Error() string {
	return fmt.Sprintf("JavaException: %s", e.Class)
}

// newException allocates an exception of class with detail message msg
// without running a constructor.
func (vm *VM) newException(class, msg string) *JavaException {
	ci := vm.reg.MustResolve(class)
	tid := vm.tid
	r := vm.heap.NewObject(ci, tid)
	if msg != "" {
		r.SetReference(vm.field(ci, "detailMessage"), vm.heap.NewString(msg, tid).Ref())
	}
	r.MarkConstructed()
	return &JavaException{Ref: r.Ref(), Class: class}
}

// Throw implements native.Env.
func (vm *VM) Throw(class, msg string) error { return vm.newException(class, msg) }

type uncaughtException struct {
	tid   int
	ref   heap.Ref
	class string
	text  string
}

// unwind searches the stack of the current thread for a handler of exc,
// popping frames without one. Synchronized frames release their lock and
// class initializers mark their class erroneous. Without a handler the
// exception is recorded as uncaught and the stack is left empty.
func (vm *VM) unwind(exc heap.Ref) {
	t := vm.modThread()
	ci := vm.heap.MustGet(exc).Class()
	vm.notify(func(l Listener) { l.ExceptionThrown(vm, t, vm.heap.MustGet(exc)) })
	for t.Depth() > 0 {
		f := t.Top()
		m := f.Method()
		if h, ok := m.HandlerFor(f.PC(), ci, vm.reg.Lookup); ok {
			f = t.ModifiableTop()
			f.PopN(f.SP())
			f.Push(thread.RefValue(exc))
			f.SetPC(h.PC)
			vlog.VI(2).Infof("thread %d: %s caught in %s@%d", t.ID(), ci.Name, m.FullName(), h.PC)
			return
		}
		vm.leaveFrame(t, true)
	}
	text := native.Format(vm, exc)
	vlog.VI(1).Infof("thread %d: uncaught %s", t.ID(), text)
	vm.uncaught = &uncaughtException{tid: t.ID(), ref: exc, class: ci.Name, text: text}
}

// throwNew is the common exit of instruction handlers raising a modeled
// exception.
func (vm *VM) throwNew(class, msg string) (Step, error) {
	return Step{}, vm.newException(class, msg)
}

// npe reports a null receiver.
func (vm *VM) npe(what string) (Step, error) {
	return vm.throwNew(types.NPEClass, what)
}
