package heap

import (
	"github.com/pkg/errors"

	"github.com/javapathfinder/jpf-core-sub000/pkg/types"
)

// Errors returned by ArrayCopy. Callers map them to the corresponding
// modeled exceptions.
var (
	ErrNullArray        = errors.New("arraycopy: null array")
	ErrArrayStore       = errors.New("arraycopy: incompatible array types")
	ErrIndexOutOfBounds = errors.New("arraycopy: index out of bounds")
)

// ArrayCopy copies n elements from src[srcPos:] to dst[dstPos:] with the
// semantics of System.arraycopy. Type and bounds checks happen before any
// element moves, except for reference elements incompatible with the
// destination component type: those stop the copy with ErrArrayStore and
// leave the already copied prefix in place.
func (h *Heap) ArrayCopy(src Ref, srcPos int, dst Ref, dstPos int, n int) error {
	if src == Null || dst == Null {
		return ErrNullArray
	}
	s, d := h.MustGet(src), h.MustGet(dst)
	if !s.IsArray() || !d.IsArray() {
		return ErrArrayStore
	}
	sk, dk := s.ElemKind(), d.ElemKind()
	if sk != dk {
		return ErrArrayStore
	}
	if n < 0 || srcPos < 0 || dstPos < 0 || srcPos+n > len(s.slots) || dstPos+n > len(d.slots) {
		return ErrIndexOutOfBounds
	}
	if n == 0 {
		return nil
	}

	if sk != types.Reference || s.class.AssignableTo(d.class) {
		// Read the source before cloning the destination; src may be dst.
		vals := append([]int64(nil), s.slots[srcPos:srcPos+n]...)
		d = h.Modifiable(dst)
		copy(d.slots[dstPos:], vals)
		return nil
	}

	vals := append([]int64(nil), s.slots[srcPos:srcPos+n]...)
	d = h.Modifiable(dst)
	for i, v := range vals {
		if ref := Ref(v); ref != Null {
			if !h.MustGet(ref).class.AssignableTo(d.class.Component) {
				return ErrArrayStore
			}
		}
		d.slots[dstPos+i] = v
	}
	return nil
}
