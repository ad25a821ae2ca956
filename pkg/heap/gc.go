package heap

import (
	"v.io/x/lib/vlog"

	"github.com/javapathfinder/jpf-core-sub000/pkg/types"
)

// RootSet enumerates references held outside the heap, such as the
// reference slots of live thread stacks.
type RootSet interface {
	Roots(mark func(Ref))
}

// RootFunc adapts a function to RootSet.
type RootFunc func(mark func(Ref))

func (f RootFunc) Roots(mark func(Ref)) { f(mark) }

// GC marks from roots, static storage and pinned records, clears weak
// referents that were not reached, and releases every unreached record.
// It returns the number of released records.
func (h *Heap) GC(roots ...RootSet) int {
	if h.observer != nil {
		h.observer.GCBegin()
	}

	recs := h.objects.recs
	marked := make([]bool, len(recs))
	var stack []Ref
	mark := func(ref Ref) {
		if ref <= 0 || int(ref) >= len(recs) || marked[ref] || recs[ref] == nil {
			return
		}
		marked[ref] = true
		stack = append(stack, ref)
	}

	for _, rs := range roots {
		rs.Roots(mark)
	}
	for _, s := range h.statics.recs {
		if s == nil {
			continue
		}
		mark(s.classObj)
		for _, f := range s.class.StaticFields {
			if f.Kind == types.Reference {
				mark(Ref(s.slots[f.Offset]))
			}
		}
	}
	for _, r := range recs {
		if r != nil && r.PinCount() > 0 {
			mark(r.ref)
		}
	}

	var weak []*Record
	for len(stack) > 0 {
		r := recs[stack[len(stack)-1]]
		stack = stack[:len(stack)-1]
		switch r.kind {
		case Array:
			if r.class.ElemKind == types.Reference {
				for _, v := range r.slots {
					mark(Ref(v))
				}
			}
		case Instance:
			for _, f := range r.class.InstanceFields {
				if f.Kind != types.Reference {
					continue
				}
				if f == h.referent {
					weak = append(weak, r)
					continue
				}
				mark(Ref(r.slots[f.Offset]))
			}
		}
	}

	for _, w := range weak {
		if ref := Ref(w.slots[h.referent.Offset]); ref != Null && !marked[ref] {
			h.Modifiable(w.ref).SetReference(h.referent, Null)
		}
	}

	released := 0
	for i, r := range recs {
		if r == nil || marked[i] {
			continue
		}
		h.objects.set(i, nil)
		h.live--
		released++
		if h.observer != nil {
			h.observer.ObjectReleased(r)
		}
	}
	h.gcRuns++
	vlog.VI(2).Infof("gc: released %d, live %d", released, h.live)

	if h.observer != nil {
		h.observer.GCEnd()
	}
	return released
}
