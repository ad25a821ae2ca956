// Package vmerr defines the failure taxonomy of the checker core.
//
// A ConsistencyError means the core broke its own calling discipline (a
// type-mismatched field access, a write to a frozen record, an operand stack
// underflow). It is raised with panic inside the core and recovered at the
// transition boundary, where it becomes a fatal error for the run. Faults of
// the program under test are not errors at this level; they are modeled
// exceptions thrown into the program.
package vmerr

import (
	"fmt"

	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
)

type ConsistencyKind int

const (
	TypeMismatch ConsistencyKind = iota
	FrozenMutation
	StackUnderflow
	StackOverflow
	IllegalUnlock
	DeadRef
	IllegalState
)

func (k ConsistencyKind) String() string {
	switch k {
	case TypeMismatch:
		return "type mismatch"
	case FrozenMutation:
		return "frozen mutation"
	case StackUnderflow:
		return "stack underflow"
	case StackOverflow:
		return "stack overflow"
	case IllegalUnlock:
		return "illegal unlock"
	case DeadRef:
		return "dead reference"
	case IllegalState:
		return "illegal state"
	}
	return fmt.Sprintf("ConsistencyKind(%d)", int(k))
}

// ConsistencyError reports a violated core invariant. Subject is the record,
// frame or thread involved and is included in Dump.
type ConsistencyError struct {
	Kind    ConsistencyKind
	Subject interface{}
	err     error
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.err)
}

func (e *ConsistencyError) Unwrap() error { return e.err }

// Fail panics with a ConsistencyError carrying the caller's stack.
func Fail(kind ConsistencyKind, subject interface{}, format string, args ...interface{}) {
	panic(&ConsistencyError{Kind: kind, Subject: subject, err: errors.Errorf(format, args...)})
}

// Recover converts a ConsistencyError panic into an error stored in *errp.
// Any other panic is propagated. It must be called directly by defer.
func Recover(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	if ce, ok := r.(*ConsistencyError); ok {
		*errp = ce
		return
	}
	panic(r)
}

// AsConsistency unwraps err to a ConsistencyError.
func AsConsistency(err error) (*ConsistencyError, bool) {
	var ce *ConsistencyError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

var dumpConfig = spew.ConfigState{
	Indent:                  "  ",
	MaxDepth:                4,
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	SortKeys:                true,
}

// Dump renders a diagnostic for a fatal error: the message, the stack where
// the invariant broke and the offending subject.
func Dump(err error) string {
	ce, ok := AsConsistency(err)
	if !ok {
		return err.Error()
	}
	return fmt.Sprintf("%s\n%+v\nsubject:\n%s", ce.Error(), ce.err, dumpConfig.Sdump(ce.Subject))
}

// Sdump formats v the same way Dump formats a subject.
func Sdump(v interface{}) string {
	return dumpConfig.Sdump(v)
}

// ConfigurationError reports a malformed setting.
type ConfigurationError struct {
	Key    string
	Value  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("configuration %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("configuration %s=%q: %s", e.Key, e.Value, e.Reason)
}

// ResolutionError reports a class that could not be loaded or linked.
// Bootstrap is set when the class is part of the model library, which makes
// the failure fatal rather than a modeled NoClassDefFoundError.
type ResolutionError struct {
	Class     string
	Bootstrap bool
	Err       error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve class %s: %v", e.Class, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }
