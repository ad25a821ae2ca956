package heap

import (
	"fmt"
	"math"

	"github.com/javapathfinder/jpf-core-sub000/pkg/types"
	"github.com/javapathfinder/jpf-core-sub000/pkg/vmerr"
)

// Ref is the stable identity of a record. Null is 0.
type Ref int32

const Null Ref = 0

// RecordKind tags what a Record stores.
type RecordKind uint8

const (
	Instance RecordKind = iota
	Array
	Static
)

func (k RecordKind) String() string {
	switch k {
	case Instance:
		return "instance"
	case Array:
		return "array"
	}
	return "static"
}

// ClassStatus tracks class initialization on a Static record.
type ClassStatus uint8

const (
	Uninitialized ClassStatus = iota
	Initializing
	Initialized
	Erroneous
)

const (
	pinMask         = 0xff
	attrFrozen      = 1 << 8
	attrImmutable   = 1 << 9
	attrShared      = 1 << 10
	attrExposed     = 1 << 11
	attrConstructed = 1 << 12
)

// FieldLockInfo is the lock-protection state of one field of one record.
// Implementations are immutable; Check returns the successor state.
type FieldLockInfo interface {
	Check(tid int, held []Ref) FieldLockInfo
	IsProtected() bool
}

// Record is the memory of one object, array or class-static block.
// A frozen record belongs to a memento and rejects every mutation; use
// Heap.Modifiable to obtain a writable copy.
type Record struct {
	ref     Ref
	kind    RecordKind
	class   *types.ClassInfo
	slots   []int64
	monitor Monitor
	attrs   uint32
	tids    ThreadSet
	locks   map[*types.FieldInfo]FieldLockInfo
	ext     types.Attributes

	status     ClassStatus
	initThread int
	classObj   Ref
}

func newRecord(ref Ref, kind RecordKind, ci *types.ClassInfo, n int) *Record {
	return &Record{ref: ref, kind: kind, class: ci, slots: make([]int64, n), monitor: newMonitor(), initThread: -1}
}

func (r *Record) clone() *Record {
	c := *r
	c.slots = append([]int64(nil), r.slots...)
	c.monitor = r.monitor.clone()
	c.attrs &^= attrFrozen
	return &c
}

func (r *Record) String() string {
	return fmt.Sprintf("%s@%d", r.class.Name, r.ref)
}

func (r *Record) Ref() Ref                      { return r.ref }
func (r *Record) Kind() RecordKind              { return r.kind }
func (r *Record) Class() *types.ClassInfo       { return r.class }
func (r *Record) IsArray() bool                 { return r.kind == Array }
func (r *Record) IsFrozen() bool                { return r.attrs&attrFrozen != 0 }
func (r *Record) IsShared() bool                { return r.attrs&attrShared != 0 }
func (r *Record) IsExposed() bool               { return r.attrs&attrExposed != 0 }
func (r *Record) IsImmutable() bool             { return r.attrs&attrImmutable != 0 }
func (r *Record) IsConstructed() bool           { return r.attrs&attrConstructed != 0 }
func (r *Record) PinCount() int                 { return int(r.attrs & pinMask) }
func (r *Record) ReferencingThreads() ThreadSet { return r.tids }
func (r *Record) Ext() types.Attributes         { return r.ext }

// Slots exposes the raw field block for hashing. Callers must not modify it.
func (r *Record) Slots() []int64 { return r.slots }

func (r *Record) checkMutable() {
	if r.IsFrozen() {
		vmerr.Fail(vmerr.FrozenMutation, r, "mutation of frozen record %s", r)
	}
}

// MarkShared sets the shared attribute. Sharedness never reverts.
func (r *Record) MarkShared() {
	r.checkMutable()
	r.attrs |= attrShared
}

func (r *Record) MarkExposed() {
	r.checkMutable()
	r.attrs |= attrExposed
}

func (r *Record) MarkConstructed() {
	r.checkMutable()
	r.attrs |= attrConstructed
}

func (r *Record) SetImmutable() {
	r.checkMutable()
	r.attrs |= attrImmutable
}

// AddReferencingThread records that tid accessed r and reports whether the
// set grew.
func (r *Record) AddReferencingThread(tid int) bool {
	if r.tids.Contains(tid) {
		return false
	}
	r.checkMutable()
	r.tids = r.tids.Add(tid)
	return true
}

func (r *Record) SetExt(a types.Attributes) {
	r.checkMutable()
	r.ext = a
}

// LockInfo returns the lock-protection state of f, or nil.
func (r *Record) LockInfo(f *types.FieldInfo) FieldLockInfo {
	return r.locks[f]
}

func (r *Record) SetLockInfo(f *types.FieldInfo, li FieldLockInfo) {
	r.checkMutable()
	m := make(map[*types.FieldInfo]FieldLockInfo, len(r.locks)+1)
	for k, v := range r.locks {
		m[k] = v
	}
	m[f] = li
	r.locks = m
}

// Monitor returns a read-only view of the monitor.
func (r *Record) Monitor() Monitor { return r.monitor }

// LockOwner returns the owning thread id, or -1.
func (r *Record) LockOwner() int { return r.monitor.Owner }
func (r *Record) LockCount() int { return r.monitor.Count }
func (r *Record) IsLocked() bool { return r.monitor.IsLocked() }

// Contenders returns a copy of the monitor's contender list.
func (r *Record) Contenders() []int {
	return append([]int(nil), r.monitor.Contenders...)
}

// SetLock sets owner and count. A zero count frees the lock.
func (r *Record) SetLock(owner, count int) {
	r.checkMutable()
	if count < 0 || (count == 0) != (owner < 0) {
		vmerr.Fail(vmerr.IllegalState, r, "inconsistent lock state owner=%d count=%d", owner, count)
	}
	r.monitor.Owner = owner
	r.monitor.Count = count
}

func (r *Record) AddContender(tid int) {
	r.checkMutable()
	if !r.monitor.HasContender(tid) {
		r.monitor.Contenders = append(r.monitor.Contenders, tid)
	}
}

func (r *Record) RemoveContender(tid int) {
	r.checkMutable()
	cs := r.monitor.Contenders
	for i, c := range cs {
		if c == tid {
			r.monitor.Contenders = append(cs[:i:i], cs[i+1:]...)
			return
		}
	}
}

// ClassStatus returns the initialization state of a Static record.
func (r *Record) ClassStatus() ClassStatus { return r.status }
func (r *Record) InitThread() int          { return r.initThread }
func (r *Record) ClassObject() Ref         { return r.classObj }

func (r *Record) SetClassStatus(s ClassStatus, tid int) {
	r.checkMutable()
	r.status = s
	r.initThread = tid
}

// field access

func (r *Record) slotFor(f *types.FieldInfo, want types.Kind) int {
	if f.Kind != want {
		vmerr.Fail(vmerr.TypeMismatch, r, "%s field %s accessed as %s", f.Kind, f.FullName(), want)
	}
	if f.IsStatic() != (r.kind == Static) || r.kind == Array {
		vmerr.Fail(vmerr.TypeMismatch, r, "field %s does not belong to %s record %s", f.FullName(), r.kind, r)
	}
	if r.kind == Static {
		if f.Class != r.class {
			vmerr.Fail(vmerr.TypeMismatch, r, "static field %s read through %s", f.FullName(), r.class.Name)
		}
	} else if !r.class.IsSubclassOf(f.Class) {
		vmerr.Fail(vmerr.TypeMismatch, r, "field %s not declared in hierarchy of %s", f.FullName(), r.class.Name)
	}
	return f.Offset
}

func (r *Record) get(f *types.FieldInfo, want types.Kind) int64 {
	return r.slots[r.slotFor(f, want)]
}

func (r *Record) set(f *types.FieldInfo, want types.Kind, v int64) {
	i := r.slotFor(f, want)
	r.checkMutable()
	r.slots[i] = v
}

func (r *Record) Boolean(f *types.FieldInfo) bool  { return r.get(f, types.Boolean) != 0 }
func (r *Record) Byte(f *types.FieldInfo) int8     { return int8(r.get(f, types.Byte)) }
func (r *Record) Char(f *types.FieldInfo) uint16   { return uint16(r.get(f, types.Char)) }
func (r *Record) Short(f *types.FieldInfo) int16   { return int16(r.get(f, types.Short)) }
func (r *Record) Int(f *types.FieldInfo) int32     { return int32(r.get(f, types.Int)) }
func (r *Record) Long(f *types.FieldInfo) int64    { return r.get(f, types.Long) }
func (r *Record) Reference(f *types.FieldInfo) Ref { return Ref(r.get(f, types.Reference)) }
func (r *Record) Float(f *types.FieldInfo) float32 {
	return math.Float32frombits(uint32(r.get(f, types.Float)))
}
func (r *Record) Double(f *types.FieldInfo) float64 {
	return math.Float64frombits(uint64(r.get(f, types.Double)))
}

func (r *Record) SetBoolean(f *types.FieldInfo, v bool) {
	var b int64
	if v {
		b = 1
	}
	r.set(f, types.Boolean, b)
}
func (r *Record) SetByte(f *types.FieldInfo, v int8)     { r.set(f, types.Byte, int64(v)) }
func (r *Record) SetChar(f *types.FieldInfo, v uint16)   { r.set(f, types.Char, int64(v)) }
func (r *Record) SetShort(f *types.FieldInfo, v int16)   { r.set(f, types.Short, int64(v)) }
func (r *Record) SetInt(f *types.FieldInfo, v int32)     { r.set(f, types.Int, int64(v)) }
func (r *Record) SetLong(f *types.FieldInfo, v int64)    { r.set(f, types.Long, v) }
func (r *Record) SetReference(f *types.FieldInfo, v Ref) { r.set(f, types.Reference, int64(v)) }
func (r *Record) SetFloat(f *types.FieldInfo, v float32) {
	r.set(f, types.Float, int64(math.Float32bits(v)))
}
func (r *Record) SetDouble(f *types.FieldInfo, v float64) {
	r.set(f, types.Double, int64(math.Float64bits(v)))
}

// Raw reads a field's slot after checking its kind. Int-like kinds come
// back sign or zero extended, float and double as their IEEE bits.
func (r *Record) Raw(f *types.FieldInfo) int64 { return r.get(f, f.Kind) }

// SetRaw stores a slot value, normalizing int-like kinds to their width.
func (r *Record) SetRaw(f *types.FieldInfo, v int64) { r.set(f, f.Kind, Narrow(f.Kind, v)) }

// Narrow truncates v to the value range of k.
func Narrow(k types.Kind, v int64) int64 {
	switch k {
	case types.Boolean:
		return v & 1
	case types.Byte:
		return int64(int8(v))
	case types.Char:
		return int64(uint16(v))
	case types.Short:
		return int64(int16(v))
	case types.Int:
		return int64(int32(v))
	case types.Float:
		return int64(uint32(v))
	}
	return v
}

// array access

// Len returns the array length.
func (r *Record) Len() int {
	if r.kind != Array {
		vmerr.Fail(vmerr.TypeMismatch, r, "length of non-array %s", r)
	}
	return len(r.slots)
}

func (r *Record) ElemKind() types.Kind { return r.class.ElemKind }

func (r *Record) InBounds(i int) bool { return i >= 0 && i < r.Len() }

func (r *Record) elemIndex(want types.Kind, i int) int {
	if r.kind != Array {
		vmerr.Fail(vmerr.TypeMismatch, r, "element access on non-array %s", r)
	}
	if r.class.ElemKind != want {
		vmerr.Fail(vmerr.TypeMismatch, r, "%s array %s accessed as %s", r.class.ElemKind, r, want)
	}
	if i < 0 || i >= len(r.slots) {
		vmerr.Fail(vmerr.IllegalState, r, "unchecked index %d into %s (length %d)", i, r, len(r.slots))
	}
	return i
}

// Elem reads element i, which must hold kind k.
func (r *Record) Elem(k types.Kind, i int) int64 { return r.slots[r.elemIndex(k, i)] }

// SetElem writes element i, which must hold kind k.
func (r *Record) SetElem(k types.Kind, i int, v int64) {
	i = r.elemIndex(k, i)
	r.checkMutable()
	r.slots[i] = Narrow(k, v)
}

func (r *Record) IntElem(i int) int32         { return int32(r.Elem(types.Int, i)) }
func (r *Record) CharElem(i int) uint16       { return uint16(r.Elem(types.Char, i)) }
func (r *Record) RefElem(i int) Ref           { return Ref(r.Elem(types.Reference, i)) }
func (r *Record) SetIntElem(i int, v int32)   { r.SetElem(types.Int, i, int64(v)) }
func (r *Record) SetCharElem(i int, v uint16) { r.SetElem(types.Char, i, int64(v)) }
func (r *Record) SetRefElem(i int, v Ref)     { r.SetElem(types.Reference, i, int64(v)) }
