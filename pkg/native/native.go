// Package native implements peer methods: Go stand-ins for the native
// methods of the model library. Peers see the VM only through Env.
package native

import (
	"io"

	"github.com/pkg/errors"

	"github.com/javapathfinder/jpf-core-sub000/pkg/heap"
	"github.com/javapathfinder/jpf-core-sub000/pkg/thread"
	"github.com/javapathfinder/jpf-core-sub000/pkg/types"
)

// ErrReexecute is returned by a peer that registered a choice and wants its
// invoke instruction executed again in the next transition. The arguments
// stay on the caller's operand stack.
var ErrReexecute = errors.New("native: re-execute")

// Env is the view of the running VM given to peers.
type Env interface {
	Heap() *heap.Heap
	// Thread returns the calling thread.
	Thread() *thread.ThreadInfo
	// Out is where the model program's standard output goes.
	Out() io.Writer
	// Throw allocates an exception of class with message msg and returns
	// the error a peer returns to throw it.
	Throw(class, msg string) error
}

// Method is a peer. args holds the receiver first for instance methods.
type Method func(env Env, args []thread.Value) (thread.Value, error)

// Table maps class.name+descriptor to peers.
type Table map[string]Method

// Key returns the table key of a method.
func Key(class, name, desc string) string {
	return class + "." + name + desc
}

func (t Table) Register(class, name, desc string, m Method) {
	t[Key(class, name, desc)] = m
}

// Lookup returns the peer of mi, or nil.
func (t Table) Lookup(mi *types.MethodInfo) Method {
	return t[Key(mi.Class.Name, mi.Name, mi.Descriptor)]
}

// Merge copies the entries of o into t, replacing existing ones.
func (t Table) Merge(o Table) Table {
	for k, v := range o {
		t[k] = v
	}
	return t
}

// Builtins returns the peers that need nothing beyond Env.
func Builtins() Table {
	t := Table{}
	registerLang(t)
	registerSystem(t)
	return t
}

var void = thread.Value{}

func boolValue(b bool) thread.Value {
	if b {
		return thread.IntValue(1)
	}
	return thread.IntValue(0)
}

func newString(env Env, s string) thread.Value {
	return thread.RefValue(env.Heap().NewString(s, env.Thread().ID()).Ref())
}
