package vm

import (
	"fmt"
	"strings"

	"v.io/x/lib/vlog"

	"github.com/javapathfinder/jpf-core-sub000/pkg/thread"
)

// Property is checked after every transition.
type Property interface {
	Name() string
	// Check returns a message describing the violation, or "" if the
	// current state satisfies the property.
	Check(vm *VM) string
}

// Violation describes a property that failed in the current state.
type Violation struct {
	Property string
	Message  string
	// Thread is the thread whose transition reached the state.
	Thread int
}

func (v *Violation) Error() string {
	return v.Property + ": " + v.Message
}

// DefaultProperties returns the properties checked when Config.Properties
// is nil.
func DefaultProperties() []Property {
	return []Property{NotDeadlocked{}, NoUncaughtExceptions{}}
}

// NotDeadlocked fails when live threads remain but none can run.
type NotDeadlocked struct{}

func (NotDeadlocked) Name() string { return "gov.nasa.jpf.vm.NotDeadlockedProperty" }

func (NotDeadlocked) Check(vm *VM) string {
	var alive []string
	for _, t := range vm.Threads() {
		if !t.IsAlive() {
			continue
		}
		if schedulable(t) {
			return ""
		}
		alive = append(alive, describeBlocked(vm, t))
	}
	if len(alive) == 0 {
		return ""
	}
	return "deadlock encountered:\n  " + strings.Join(alive, "\n  ")
}

func describeBlocked(vm *VM, t *thread.ThreadInfo) string {
	s := fmt.Sprintf("thread %s:{id:%d,state:%s", t.Name(), t.ID(), t.State())
	if ref := t.LockRef(); ref != 0 {
		if r := vm.heap.Get(ref); r != nil {
			s += fmt.Sprintf(",lock:%s@%d", r.Class().Name, ref)
		}
	}
	return s + "}"
}

// NoUncaughtExceptions fails when an exception escaped the run method of
// a thread.
type NoUncaughtExceptions struct{}

func (NoUncaughtExceptions) Name() string { return "gov.nasa.jpf.vm.NoUncaughtExceptionsProperty" }

func (NoUncaughtExceptions) Check(vm *VM) string {
	u := vm.uncaught
	if u == nil {
		return ""
	}
	return fmt.Sprintf("uncaught exception in thread %d:\n%s", u.tid, u.text)
}

// checkProperties records the first violated property of the reached
// state.
func (vm *VM) checkProperties() {
	if vm.violated != nil {
		return
	}
	for _, p := range vm.properties {
		if msg := p.Check(vm); msg != "" {
			vm.violated = &Violation{Property: p.Name(), Message: msg, Thread: vm.tid}
			vlog.VI(1).Infof("property violated: %s", vm.violated)
			return
		}
	}
}
