// Package search explores the state space of a VM depth first, matching
// states by fingerprint so every distinct state is expanded once.
package search

import (
	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/mem"
	"v.io/x/lib/vlog"

	"github.com/javapathfinder/jpf-core-sub000/pkg/serialize"
	"github.com/javapathfinder/jpf-core-sub000/pkg/thread"
	"github.com/javapathfinder/jpf-core-sub000/pkg/vm"
)

// Constraints reported to SearchConstraintHit.
const (
	DepthLimit  = "depth limit"
	StateLimit  = "state limit"
	MemoryLimit = "memory limit"
)

// memCheckInterval is the number of new states between free memory checks.
const memCheckInterval = 64

// freeMemory returns the memory available to the host in bytes.
var freeMemory = func() (uint64, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return v.Available, nil
}

// Options bounds a search. Zero values mean no bound.
type Options struct {
	DepthLimit int
	MaxStates  int
	// MinFree is the free host memory in MiB below which the search stops.
	MinFree        int
	MultipleErrors bool
	// VisitedCapacity bounds the number of remembered fingerprints.
	VisitedCapacity int
}

// Stats counts the states of a search.
type Stats struct {
	NewStates     int
	VisitedStates int
	Backtracked   int
	EndStates     int
	MaxDepth      int
	Constraints   int
}

// Error is a property violation together with the path to it.
type Error struct {
	ID        int
	Violation *vm.Violation
	Trace     Trace
	// Thread is the thread whose transition reached the state.
	Thread *thread.ThreadInfo
	// Hash is the fingerprint of the violating state.
	Hash uint64
}

func (e *Error) Error() string { return e.Violation.Error() }

// Search is a depth first search over the choices of a VM.
type Search struct {
	vm        *vm.VM
	opts      Options
	id        uuid.UUID
	ser       *serialize.Serializer
	visited   *visitedSet
	listeners []Listener

	stats  Stats
	errors []*Error

	hash       uint64
	isNew      bool
	done       bool
	constraint string
}

// New creates a search over v, which must be initialized.
func New(v *vm.VM, opts Options) *Search {
	return &Search{
		vm:      v,
		opts:    opts,
		id:      uuid.New(),
		ser:     serialize.New(),
		visited: newVisitedSet(opts.VisitedCapacity),
	}
}

func (s *Search) AddListener(l Listener) { s.listeners = append(s.listeners, l) }

func (s *Search) VM() *vm.VM       { return s.vm }
func (s *Search) ID() uuid.UUID    { return s.id }
func (s *Search) Options() Options { return s.opts }
func (s *Search) Stats() Stats     { return s.stats }
func (s *Search) Errors() []*Error { return s.errors }
func (s *Search) Depth() int       { return s.vm.Depth() }

// IsNewState reports whether the current state was reached for the first
// time.
func (s *Search) IsNewState() bool { return s.isNew }

func (s *Search) IsEndState() bool { return s.vm.IsEndState() }

// StateHash returns the fingerprint of the current state.
func (s *Search) StateHash() uint64 { return s.hash }

// Constraint returns the limit that ended the search, or "".
func (s *Search) Constraint() string { return s.constraint }

// Terminate stops the search after the current step.
func (s *Search) Terminate() { s.done = true }

func (s *Search) notify(fn func(l Listener)) {
	for _, l := range s.listeners {
		fn(l)
	}
}

// Run searches until the state space is exhausted, a property is violated
// and MultipleErrors is unset, or a limit is hit. The returned error is a
// fatal VM failure; property violations are reported by Errors.
func (s *Search) Run() error {
	vlog.Infof("search %s started", s.id)
	s.notify(func(l Listener) { l.SearchStarted(s) })
	defer s.notify(func(l Listener) { l.SearchFinished(s) })

	s.hash = s.ser.Hash(s.vm.Heap(), s.vm.Threads())
	s.visited.add(s.hash)
	s.isNew = true

	for !s.done {
		ok, err := s.vm.Forward()
		if err != nil {
			return err
		}
		if !ok {
			s.notify(func(l Listener) { l.StateProcessed(s) })
			if !s.backtrack() {
				break
			}
			continue
		}
		s.advanced()
		if !s.done && !s.descend() {
			s.backtrack()
		}
	}
	vlog.Infof("search %s finished: %d new, %d visited, %d errors", s.id, s.stats.NewStates, s.stats.VisitedStates, len(s.errors))
	return nil
}

func (s *Search) advanced() {
	s.hash = s.ser.Hash(s.vm.Heap(), s.vm.Threads())
	s.isNew = s.visited.add(s.hash) || s.vm.IsForced()
	if s.vm.IsIgnored() {
		s.isNew = false
	}
	if s.isNew {
		s.stats.NewStates++
		if s.vm.IsEndState() && s.vm.Violation() == nil {
			s.stats.EndStates++
		}
	} else {
		s.stats.VisitedStates++
	}
	if d := s.vm.Depth(); d > s.stats.MaxDepth {
		s.stats.MaxDepth = d
	}
	vlog.VI(2).Infof("state %x depth %d new %t end %t", s.hash, s.vm.Depth(), s.isNew, s.vm.IsEndState())
	s.notify(func(l Listener) { l.StateAdvanced(s) })

	if v := s.vm.Violation(); v != nil {
		s.violated(v)
	}
	if s.isNew {
		s.checkLimits()
	}
}

func (s *Search) violated(v *vm.Violation) {
	e := &Error{
		ID:        len(s.errors) + 1,
		Violation: v,
		Trace:     Trace(s.vm.Path()),
		Hash:      s.hash,
	}
	for _, t := range s.vm.Threads() {
		if t.ID() == v.Thread {
			e.Thread = t
		}
	}
	s.errors = append(s.errors, e)
	vlog.Infof("error %d: %s", e.ID, v)
	s.notify(func(l Listener) { l.PropertyViolated(s, e) })
	if !s.opts.MultipleErrors {
		s.done = true
	}
}

func (s *Search) checkLimits() {
	if s.opts.MaxStates > 0 && s.stats.NewStates >= s.opts.MaxStates {
		s.hit(StateLimit, true)
		return
	}
	if s.opts.MinFree > 0 && s.stats.NewStates%memCheckInterval == 1 {
		free, err := freeMemory()
		if err != nil {
			vlog.Errorf("cannot read free memory: %v", err)
			return
		}
		if free < uint64(s.opts.MinFree)<<20 {
			s.hit(MemoryLimit, true)
		}
	}
}

func (s *Search) hit(constraint string, stop bool) {
	s.stats.Constraints++
	vlog.VI(1).Infof("search constraint hit: %s", constraint)
	s.notify(func(l Listener) { l.SearchConstraintHit(s, constraint) })
	if stop {
		s.constraint = constraint
		s.done = true
	}
}

// descend reports whether the search continues below the current state.
func (s *Search) descend() bool {
	if !s.isNew || s.vm.IsEndState() || s.vm.Violation() != nil {
		return false
	}
	if s.opts.DepthLimit > 0 && s.vm.Depth() >= s.opts.DepthLimit {
		s.hit(DepthLimit, false)
		return false
	}
	return true
}

func (s *Search) backtrack() bool {
	if !s.vm.Backtrack() {
		return false
	}
	s.stats.Backtracked++
	s.isNew = false
	s.hash = s.ser.Hash(s.vm.Heap(), s.vm.Threads())
	s.notify(func(l Listener) { l.StateBacktracked(s) })
	return true
}
