// Package serialize computes canonical fingerprints of program states for
// state matching. References are renumbered in the order a traversal from
// the roots first reaches them, so two states that differ only in the
// identities the allocator picked hash the same.
package serialize

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/javapathfinder/jpf-core-sub000/pkg/heap"
	"github.com/javapathfinder/jpf-core-sub000/pkg/thread"
	"github.com/javapathfinder/jpf-core-sub000/pkg/types"
)

// Record attributes that influence later scheduling decisions and are
// therefore part of the state.
const (
	bitShared = 1 << iota
	bitExposed
	bitConstructed
)

// Serializer hashes states. It reuses its buffers, so a Serializer must not
// be used concurrently.
type Serializer struct {
	d     *xxhash.Digest
	buf   [8]byte
	ids   map[heap.Ref]uint64
	queue []heap.Ref
}

func New() *Serializer {
	return &Serializer{d: xxhash.New(), ids: map[heap.Ref]uint64{}}
}

// Hash returns the fingerprint of the heap h together with the thread
// table threads.
func (s *Serializer) Hash(h *heap.Heap, threads []*thread.ThreadInfo) uint64 {
	s.d.Reset()
	for k := range s.ids {
		delete(s.ids, k)
	}
	s.queue = s.queue[:0]

	// Static records are visited in class ID order, which is fixed for the
	// lifetime of a registry.
	h.EachStatic(func(r *heap.Record) {
		s.u64(uint64(r.Class().ID))
		s.u64(uint64(r.ClassStatus()))
		s.u64(uint64(int64(r.InitThread())))
		s.ref(r.ClassObject())
		s.fields(r, r.Class().StaticFields)
		s.monitor(r)
	})

	for _, t := range threads {
		s.thread(t)
	}

	for i := 0; i < len(s.queue); i++ {
		s.record(h.MustGet(s.queue[i]))
	}
	return s.d.Sum64()
}

func (s *Serializer) u64(v uint64) {
	binary.LittleEndian.PutUint64(s.buf[:], v)
	s.d.Write(s.buf[:])
}

func (s *Serializer) str(v string) {
	s.u64(uint64(len(v)))
	s.d.WriteString(v)
}

// ref writes the canonical number of r, assigning the next one and queueing
// the record on first sight. Null is 0.
func (s *Serializer) ref(r heap.Ref) {
	if r == heap.Null {
		s.u64(0)
		return
	}
	id, ok := s.ids[r]
	if !ok {
		id = uint64(len(s.ids) + 1)
		s.ids[r] = id
		s.queue = append(s.queue, r)
	}
	s.u64(id)
}

func (s *Serializer) slot(k types.Kind, v int64) {
	if k == types.Reference {
		s.ref(heap.Ref(v))
		return
	}
	s.u64(uint64(v))
}

func (s *Serializer) fields(r *heap.Record, fields []*types.FieldInfo) {
	slots := r.Slots()
	for _, f := range fields {
		s.slot(f.Kind, slots[f.Offset])
	}
}

func (s *Serializer) monitor(r *heap.Record) {
	s.u64(uint64(int64(r.LockOwner())))
	s.u64(uint64(r.LockCount()))
	c := r.Contenders()
	s.u64(uint64(len(c)))
	for _, tid := range c {
		s.u64(uint64(tid))
	}
}

func (s *Serializer) record(r *heap.Record) {
	ci := r.Class()
	s.u64(uint64(ci.ID))
	var bits uint64
	if r.IsShared() {
		bits |= bitShared
	}
	if r.IsExposed() {
		bits |= bitExposed
	}
	if r.IsConstructed() {
		bits |= bitConstructed
	}
	s.u64(bits)
	if r.IsArray() {
		slots := r.Slots()
		s.u64(uint64(len(slots)))
		for _, v := range slots {
			s.slot(ci.ElemKind, v)
		}
	} else {
		s.fields(r, ci.InstanceFields)
	}
	s.monitor(r)
}

func (s *Serializer) thread(t *thread.ThreadInfo) {
	s.u64(uint64(t.ID()))
	s.u64(uint64(t.State()))
	s.ref(t.ObjRef())
	s.ref(t.GroupRef())
	s.ref(t.LockRef())
	s.u64(uint64(t.LockCount()))
	if t.IsInterrupted() {
		s.u64(1)
	} else {
		s.u64(0)
	}
	locked := t.LockedObjects()
	s.u64(uint64(len(locked)))
	for _, r := range locked {
		s.ref(r)
	}

	frames := t.Frames()
	s.u64(uint64(len(frames)))
	for _, f := range frames {
		s.str(f.Method().FullName())
		s.u64(uint64(f.PC()))
		for _, vs := range [][]thread.Value{f.Locals(), f.Stack()} {
			s.u64(uint64(len(vs)))
			for _, v := range vs {
				s.u64(uint64(v.Kind))
				s.slot(v.Kind, v.Bits)
			}
		}
	}
}
