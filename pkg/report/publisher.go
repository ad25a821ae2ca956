// Package report prints the outcome of a search: a header naming the run,
// every property violation with the path leading to it, and statistics.
package report

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/shirou/gopsutil/v3/mem"
	"golang.org/x/term"

	"github.com/javapathfinder/jpf-core-sub000/pkg/search"
	"github.com/javapathfinder/jpf-core-sub000/pkg/thread"
)

const ruleWidth = 54

// progressInterval is the number of new states between progress lines.
const progressInterval = 1000

var snapshotConfig = spew.ConfigState{
	Indent:                  "  ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
}

// Publisher is a search listener writing a console report.
type Publisher struct {
	search.ListenerAdapter

	w      io.Writer
	target string
	stats  *Statistics
	start  time.Time
	now    func() time.Time

	// progress prints a status line while searching; set when w is a
	// terminal.
	progress bool
}

// NewPublisher returns a publisher writing to w. stats may be nil.
func NewPublisher(w io.Writer, target string, stats *Statistics) *Publisher {
	p := &Publisher{w: w, target: target, stats: stats, now: time.Now}
	if f, ok := w.(*os.File); ok {
		p.progress = term.IsTerminal(int(f.Fd()))
	}
	return p
}

func (p *Publisher) rule(title string) {
	fmt.Fprintf(p.w, "%s %s\n", strings.Repeat("=", ruleWidth), title)
}

func (p *Publisher) SearchStarted(s *search.Search) {
	p.start = p.now()
	fmt.Fprintf(p.w, "gojpf model checker, run %s\n", s.ID())
	p.rule("system under test")
	fmt.Fprintf(p.w, "%s.main()\n\n", p.target)
	p.rule("search started: " + p.start.Format(time.DateTime))
}

func (p *Publisher) StateAdvanced(s *search.Search) {
	if !p.progress || !s.IsNewState() {
		return
	}
	if st := s.Stats(); st.NewStates%progressInterval == 0 {
		fmt.Fprintf(p.w, "\rstates: new=%d visited=%d depth=%d", st.NewStates, st.VisitedStates, s.Depth())
	}
}

func (p *Publisher) PropertyViolated(s *search.Search, e *search.Error) {
	if p.progress {
		fmt.Fprint(p.w, "\r")
	}
	fmt.Fprintln(p.w)
	p.rule(fmt.Sprintf("error %d", e.ID))
	fmt.Fprintln(p.w, e.Violation.Property)
	fmt.Fprintln(p.w, e.Violation.Message)
	fmt.Fprintln(p.w)
	if e.Thread != nil {
		p.rule(fmt.Sprintf("snapshot #%d", e.ID))
		fmt.Fprint(p.w, snapshotConfig.Sdump(Snapshot(e.Thread)))
		fmt.Fprintln(p.w)
	}
	p.rule(fmt.Sprintf("trace #%d", e.ID))
	for i, c := range e.Trace {
		fmt.Fprintf(p.w, "------ transition #%d %s\n", i, c)
	}
	fmt.Fprintln(p.w)
}

func (p *Publisher) SearchFinished(s *search.Search) {
	if p.progress {
		fmt.Fprint(p.w, "\r")
	}
	fmt.Fprintln(p.w)
	p.rule("results")
	if len(s.Errors()) == 0 {
		fmt.Fprintln(p.w, "no errors detected")
	}
	for _, e := range s.Errors() {
		fmt.Fprintf(p.w, "error #%d: %s %q\n", e.ID, e.Violation.Property, firstLine(e.Violation.Message))
	}
	if c := s.Constraint(); c != "" {
		fmt.Fprintf(p.w, "search constraint: %s\n", c)
	}
	fmt.Fprintln(p.w)
	p.rule("statistics")
	p.statistics(s)
	p.rule("search finished: " + p.now().Format(time.DateTime))
}

func (p *Publisher) statistics(s *search.Search) {
	v := s.VM()
	st := s.Stats()
	vs := v.Stats()
	hs := v.Heap().Stats()
	elapsed := p.now().Sub(p.start).Round(time.Millisecond)
	fmt.Fprintf(p.w, "%-20s%s\n", "elapsed time:", elapsed)
	fmt.Fprintf(p.w, "%-20snew=%d,visited=%d,backtracked=%d,end=%d\n", "states:", st.NewStates, st.VisitedStates, st.Backtracked, st.EndStates)
	fmt.Fprintf(p.w, "%-20smaxDepth=%d,constraints=%d\n", "search:", st.MaxDepth, st.Constraints)
	if p.stats != nil {
		fmt.Fprintf(p.w, "%-20sthread=%d,data=%d\n", "choice generators:", p.stats.ThreadChoices, p.stats.DataChoices)
	}
	fmt.Fprintf(p.w, "%-20snew=%d,maxLive=%d,gcCycles=%d\n", "heap:", hs.Allocated, hs.PeakLive, hs.GCRuns)
	fmt.Fprintf(p.w, "%-20s%d\n", "instructions:", vs.Instructions)
	fmt.Fprintf(p.w, "%-20s%d\n", "transitions:", vs.Transitions)
	if m, err := mem.VirtualMemory(); err == nil {
		fmt.Fprintf(p.w, "%-20s%dMB\n", "free memory:", m.Available>>20)
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// ThreadSnapshot is the printable state of a thread.
type ThreadSnapshot struct {
	ID     int
	Name   string
	State  string
	Locked []int32
	Frames []string
}

// Snapshot captures t for printing, top frame first.
func Snapshot(t *thread.ThreadInfo) ThreadSnapshot {
	s := ThreadSnapshot{ID: t.ID(), Name: t.Name(), State: t.State().String()}
	for _, r := range t.LockedObjects() {
		s.Locked = append(s.Locked, int32(r))
	}
	for _, f := range t.Frames() {
		s.Frames = append(s.Frames, frameString(f))
	}
	return s
}

func frameString(f *thread.Frame) string {
	line := f.Line()
	if line == 0 {
		return f.String()
	}
	src := f.Method().Class.SourceFile()
	if src == "" {
		src = "Unknown Source"
	}
	return fmt.Sprintf("%s (%s:%d)", f, src, line)
}

var _ search.Listener = (*Publisher)(nil)
