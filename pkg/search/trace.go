package search

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/javapathfinder/jpf-core-sub000/pkg/serialize"
	"github.com/javapathfinder/jpf-core-sub000/pkg/vm"
)

// Trace is the sequence of choices leading from the initial state to a
// state.
type Trace []vm.Choice

func (t Trace) String() string {
	parts := make([]string, len(t))
	for i, c := range t {
		parts[i] = c.String()
	}
	return strings.Join(parts, " ")
}

// WriteTo writes one id:index line per choice.
func (t Trace) WriteTo(w io.Writer) (int64, error) {
	var n int64
	for _, c := range t {
		m, err := fmt.Fprintln(w, c.String())
		n += int64(m)
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// ReadTrace parses the format written by Trace.WriteTo.
func ReadTrace(r io.Reader) (Trace, error) {
	var t Trace
	sc := bufio.NewScanner(r)
	for line := 1; sc.Scan(); line++ {
		s := strings.TrimSpace(sc.Text())
		if s == "" {
			continue
		}
		i := strings.LastIndexByte(s, ':')
		if i < 0 {
			return nil, fmt.Errorf("trace line %d: missing ':' in %q", line, s)
		}
		idx, err := strconv.Atoi(s[i+1:])
		if err != nil {
			return nil, fmt.Errorf("trace line %d: %w", line, err)
		}
		t = append(t, vm.Choice{ID: s[:i], Index: idx})
	}
	return t, sc.Err()
}

// Fingerprint returns the state hash of v.
func Fingerprint(v *vm.VM) uint64 {
	return serialize.New().Hash(v.Heap(), v.Threads())
}

// Replay drives the initialized VM v along t and returns the fingerprint
// of the state reached. Every step must offer a choice with the recorded
// id.
func Replay(v *vm.VM, t Trace) (uint64, error) {
	for i, c := range t {
		cg := v.Choice()
		if cg == nil {
			return 0, fmt.Errorf("replay step %d: end state reached, want %s", i, c)
		}
		if cg.ID() != c.ID {
			return 0, fmt.Errorf("replay step %d: choice %s, want %s", i, cg.ID(), c.ID)
		}
		if c.Index < 0 || c.Index >= cg.Len() {
			return 0, fmt.Errorf("replay step %d: index %d out of range [0,%d)", i, c.Index, cg.Len())
		}
		if err := v.ForwardChoice(c.Index); err != nil {
			return 0, fmt.Errorf("replay step %d: %w", i, err)
		}
	}
	return Fingerprint(v), nil
}
