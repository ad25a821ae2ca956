package report

import (
	"fmt"
	"io"

	"v.io/x/lib/vlog"

	cf "github.com/javapathfinder/jpf-core-sub000/pkg/classfile"
	"github.com/javapathfinder/jpf-core-sub000/pkg/heap"
	"github.com/javapathfinder/jpf-core-sub000/pkg/search"
	"github.com/javapathfinder/jpf-core-sub000/pkg/thread"
	"github.com/javapathfinder/jpf-core-sub000/pkg/types"
	"github.com/javapathfinder/jpf-core-sub000/pkg/vm"
)

var (
	_ vm.Listener     = (*Statistics)(nil)
	_ search.Listener = (*Statistics)(nil)
	_ vm.Listener     = (*ExecTracker)(nil)
	_ search.Listener = (*ExecTracker)(nil)
)

// searchAdapter gives the embedded search no-op adapter a field name
// distinct from vm.ListenerAdapter.
type searchAdapter = search.ListenerAdapter

// Statistics counts VM events the search does not see. Attach it to the
// VM; it logs a summary every LogInterval new states when also attached to
// the search.
type Statistics struct {
	vm.ListenerAdapter
	searchAdapter

	ThreadChoices int
	DataChoices   int
	Shared        int
	Exposed       int
	Locks         int

	LogInterval int
}

func NewStatistics() *Statistics { return &Statistics{LogInterval: 10000} }

func (s *Statistics) ChoiceRegistered(_ vm.Inspector, cg vm.ChoiceGenerator) {
	switch cg.(type) {
	case *vm.IntChoice, *vm.BoolChoice:
		s.DataChoices++
	default:
		s.ThreadChoices++
	}
}

func (s *Statistics) ObjectShared(vm.Inspector, *heap.Record)                { s.Shared++ }
func (s *Statistics) ObjectExposed(vm.Inspector, *heap.Record, *heap.Record) { s.Exposed++ }
func (s *Statistics) ObjectLocked(vm.Inspector, *heap.Record)                { s.Locks++ }

func (s *Statistics) StateAdvanced(se *search.Search) {
	st := se.Stats()
	if s.LogInterval <= 0 || !se.IsNewState() || st.NewStates%s.LogInterval != 0 {
		return
	}
	vlog.Infof("states new=%d visited=%d depth=%d choices thread=%d data=%d", st.NewStates, st.VisitedStates, se.Depth(), s.ThreadChoices, s.DataChoices)
}

// ExecTracker prints every executed instruction, choice point and search
// step, indented by search depth.
type ExecTracker struct {
	vm.ListenerAdapter
	searchAdapter

	w     io.Writer
	depth int
}

func NewExecTracker(w io.Writer) *ExecTracker { return &ExecTracker{w: w} }

func (t *ExecTracker) InstructionExecuted(_ vm.Inspector, th *thread.ThreadInfo, m *types.MethodInfo, pc int) {
	fmt.Fprintf(t.w, "%*s[%d] %s@%d %s\n", 2*t.depth, "", th.ID(), m.FullName(), pc, cf.OpName(m.Code[pc]))
}

func (t *ExecTracker) ChoiceRegistered(in vm.Inspector, cg vm.ChoiceGenerator) {
	fmt.Fprintf(t.w, "%*s# choice: %s\n", 2*t.depth, "", cg)
	vlog.VI(2).Infof("choice %s at depth %d", cg, in.Depth())
}

func (t *ExecTracker) ThreadStateChanged(_ vm.Inspector, th *thread.ThreadInfo, from thread.State) {
	fmt.Fprintf(t.w, "%*s# thread %d: %s -> %s\n", 2*t.depth, "", th.ID(), from, th.State())
}

func (t *ExecTracker) StateAdvanced(s *search.Search) {
	kind := "visited"
	switch {
	case s.IsEndState():
		kind = "end"
	case s.IsNewState():
		kind = "new"
	}
	t.depth = s.Depth()
	fmt.Fprintf(t.w, "%*s----------------------------------- [%d] forward: %x %s\n", 2*(t.depth-1), "", t.depth, s.StateHash(), kind)
}

func (t *ExecTracker) StateBacktracked(s *search.Search) {
	t.depth = s.Depth()
	fmt.Fprintf(t.w, "%*s----------------------------------- [%d] backtrack\n", 2*t.depth, "", t.depth)
}

func (t *ExecTracker) PropertyViolated(_ *search.Search, e *search.Error) {
	fmt.Fprintf(t.w, "%*s# property violated: %s\n", 2*t.depth, "", e.Violation.Property)
}
