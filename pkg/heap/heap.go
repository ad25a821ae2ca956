// Package heap is the object store: object, array and class-static records
// under a copy-on-write discipline. Snapshot freezes every record written
// since the previous snapshot and shares the tables with the returned
// Memento; the next write to a frozen record or a shared table copies it
// first, so a memento never observes later mutation.
package heap

import (
	"v.io/x/lib/vlog"

	"github.com/javapathfinder/jpf-core-sub000/pkg/types"
	"github.com/javapathfinder/jpf-core-sub000/pkg/vmerr"
)

// Observer receives allocation and collection events.
type Observer interface {
	ObjectCreated(r *Record)
	ObjectReleased(r *Record)
	GCBegin()
	GCEnd()
}

// table is a copy-on-write slice of records.
type table struct {
	recs   []*Record
	shared bool
}

func (t *table) get(i int) *Record {
	if i < 0 || i >= len(t.recs) {
		return nil
	}
	return t.recs[i]
}

func (t *table) set(i int, r *Record) {
	if t.shared {
		t.recs = append([]*Record(nil), t.recs...)
		t.shared = false
	}
	for i >= len(t.recs) {
		t.recs = append(t.recs, nil)
	}
	t.recs[i] = r
}

// Memento is an immutable capture of the heap. It holds the tables by
// reference; it stays valid because everything in it is frozen.
type Memento struct {
	objects  []*Record
	statics  []*Record
	interned map[string]Ref
}

// Heap owns all records of one VM.
type Heap struct {
	reg      *types.Registry
	objects  table
	statics  table
	dirty    []*Record
	observer Observer

	interned       map[string]Ref
	internedShared bool

	stringValue *types.FieldInfo
	classClass  *types.ClassInfo
	className   *types.FieldInfo
	charArray   *types.ClassInfo
	weakClass   *types.ClassInfo
	referent    *types.FieldInfo

	live      int
	peakLive  int
	allocated int
	gcRuns    int
}

// New creates an empty heap for classes of reg.
func New(reg *types.Registry) *Heap {
	h := &Heap{
		reg:      reg,
		objects:  table{recs: []*Record{nil}},
		interned: make(map[string]Ref),
	}
	str := reg.MustResolve(types.StringClass)
	h.stringValue = str.InstanceField("value")
	h.classClass = reg.MustResolve(types.ClassClass)
	h.className = h.classClass.InstanceField("name")
	h.charArray = reg.MustResolve("[C")
	h.weakClass = reg.MustResolve(types.WeakRefClass)
	h.referent = h.weakClass.InstanceField("referent")
	return h
}

// SetObserver installs the event sink. Nil disables notifications.
func (h *Heap) SetObserver(o Observer) { h.observer = o }

func (h *Heap) Registry() *types.Registry { return h.reg }

// Get returns the record for ref as a read-only view, or nil. Negative refs
// name static records.
func (h *Heap) Get(ref Ref) *Record {
	if ref < 0 {
		return h.statics.get(int(-ref) - 1)
	}
	return h.objects.get(int(ref))
}

// MustGet is Get for references the caller knows to be live.
func (h *Heap) MustGet(ref Ref) *Record {
	r := h.Get(ref)
	if r == nil {
		vmerr.Fail(vmerr.DeadRef, ref, "dereference of dead or null ref %d", ref)
	}
	return r
}

// Modifiable returns a writable record for ref, cloning it if frozen.
func (h *Heap) Modifiable(ref Ref) *Record {
	r := h.MustGet(ref)
	if !r.IsFrozen() {
		return r
	}
	if ref < 0 {
		return h.ModifiableStatics(r.class)
	}
	c := r.clone()
	h.objects.set(int(ref), c)
	h.dirty = append(h.dirty, c)
	return c
}

// Len returns the number of live records.
func (h *Heap) Len() int { return h.live }

// Each calls fn for every live record in ascending ref order.
func (h *Heap) Each(fn func(*Record)) {
	for _, r := range h.objects.recs {
		if r != nil {
			fn(r)
		}
	}
}

// EachStatic calls fn for every static record in class ID order.
func (h *Heap) EachStatic(fn func(*Record)) {
	for _, r := range h.statics.recs {
		if r != nil {
			fn(r)
		}
	}
}

// nextRef returns the lowest free identity, which keeps allocation
// deterministic across backtracking.
func (h *Heap) nextRef() Ref {
	for i := 1; i < len(h.objects.recs); i++ {
		if h.objects.recs[i] == nil {
			return Ref(i)
		}
	}
	return Ref(len(h.objects.recs))
}

func (h *Heap) add(kind RecordKind, ci *types.ClassInfo, n int, tid int) *Record {
	ref := h.nextRef()
	r := newRecord(ref, kind, ci, n)
	if ci.Immutable {
		r.attrs |= attrImmutable
	}
	if tid >= 0 {
		r.tids = NewThreadSet(tid)
	}
	h.objects.set(int(ref), r)
	h.dirty = append(h.dirty, r)
	h.live++
	h.allocated++
	if h.live > h.peakLive {
		h.peakLive = h.live
	}
	if h.observer != nil {
		h.observer.ObjectCreated(r)
	}
	return r
}

// NewObject allocates an instance of ci on behalf of thread tid.
func (h *Heap) NewObject(ci *types.ClassInfo, tid int) *Record {
	if ci.IsArray() {
		vmerr.Fail(vmerr.TypeMismatch, ci, "NewObject with array class %s", ci.Name)
	}
	return h.add(Instance, ci, len(ci.InstanceFields), tid)
}

// NewArray allocates an array of class ci (an array class) and length n.
func (h *Heap) NewArray(ci *types.ClassInfo, n int, tid int) *Record {
	if !ci.IsArray() || n < 0 {
		vmerr.Fail(vmerr.TypeMismatch, ci, "NewArray(%s, %d)", ci.Name, n)
	}
	return h.add(Array, ci, n, tid)
}

// NewString allocates a String holding s.
func (h *Heap) NewString(s string, tid int) *Record {
	chars := []rune(s)
	arr := h.NewArray(h.charArray, len(chars), tid)
	for i, c := range chars {
		arr.slots[i] = int64(uint16(c))
	}
	str := h.add(Instance, h.stringValue.Class, len(h.stringValue.Class.InstanceFields), tid)
	str.SetReference(h.stringValue, arr.ref)
	str.attrs |= attrConstructed
	return str
}

// Intern returns the canonical String for s. Interned strings are pinned.
func (h *Heap) Intern(s string, tid int) Ref {
	if ref, ok := h.interned[s]; ok {
		return ref
	}
	r := h.NewString(s, tid)
	r.attrs++ // pin
	if h.internedShared {
		m := make(map[string]Ref, len(h.interned)+1)
		for k, v := range h.interned {
			m[k] = v
		}
		h.interned = m
		h.internedShared = false
	}
	h.interned[s] = r.ref
	return r.ref
}

// StringValue decodes a String record. ok is false for null or non-strings.
func (h *Heap) StringValue(ref Ref) (string, bool) {
	r := h.Get(ref)
	if r == nil || r.class != h.stringValue.Class {
		return "", false
	}
	arr := h.Get(r.Reference(h.stringValue))
	if arr == nil {
		return "", true
	}
	chars := make([]rune, len(arr.slots))
	for i, c := range arr.slots {
		chars[i] = rune(uint16(c))
	}
	return string(chars), true
}

// Statics returns the static record of ci, or nil before it exists.
func (h *Heap) Statics(ci *types.ClassInfo) *Record {
	return h.statics.get(ci.ID)
}

// NewStatics creates the static record of ci in state Uninitialized. The
// record's ref is the negated class ID so it never collides with objects.
func (h *Heap) NewStatics(ci *types.ClassInfo) *Record {
	if r := h.Statics(ci); r != nil {
		return r
	}
	r := newRecord(Ref(-ci.ID-1), Static, ci, len(ci.StaticFields))
	h.statics.set(ci.ID, r)
	h.dirty = append(h.dirty, r)
	return r
}

// ModifiableStatics returns a writable static record of ci.
func (h *Heap) ModifiableStatics(ci *types.ClassInfo) *Record {
	r := h.Statics(ci)
	if r == nil {
		return h.NewStatics(ci)
	}
	if !r.IsFrozen() {
		return r
	}
	c := r.clone()
	h.statics.set(ci.ID, c)
	h.dirty = append(h.dirty, c)
	return c
}

// ClassObject returns the java.lang.Class object of ci, allocating it on
// first use. Class objects are reachable through their static record.
func (h *Heap) ClassObject(ci *types.ClassInfo, tid int) Ref {
	if s := h.Statics(ci); s != nil && s.classObj != Null {
		return s.classObj
	}
	name := h.Intern(ci.Name, tid)
	obj := h.add(Instance, h.classClass, len(h.classClass.InstanceFields), tid)
	obj.SetReference(h.className, name)
	obj.attrs |= attrConstructed
	s := h.ModifiableStatics(ci)
	s.classObj = obj.ref
	return obj.ref
}

// ClassOf returns the class a Class object stands for, or nil.
func (h *Heap) ClassOf(ref Ref) *types.ClassInfo {
	for _, s := range h.statics.recs {
		if s != nil && s.classObj == ref {
			return s.class
		}
	}
	return nil
}

// RegisterPinDown keeps ref alive regardless of reachability.
func (h *Heap) RegisterPinDown(ref Ref) {
	r := h.Modifiable(ref)
	if r.PinCount() == pinMask {
		vmerr.Fail(vmerr.IllegalState, r, "pin count overflow on %s", r)
	}
	r.attrs++
}

// ReleasePinDown undoes one RegisterPinDown.
func (h *Heap) ReleasePinDown(ref Ref) {
	r := h.Modifiable(ref)
	if r.PinCount() == 0 {
		vmerr.Fail(vmerr.IllegalState, r, "pin count underflow on %s", r)
	}
	r.attrs--
}

// Snapshot freezes all records written since the last snapshot and
// captures the tables by reference.
func (h *Heap) Snapshot() *Memento {
	for _, r := range h.dirty {
		r.attrs |= attrFrozen
	}
	vlog.VI(3).Infof("heap snapshot: froze %d records", len(h.dirty))
	h.dirty = h.dirty[:0]
	h.objects.shared = true
	h.statics.shared = true
	h.internedShared = true
	return &Memento{objects: h.objects.recs, statics: h.statics.recs, interned: h.interned}
}

// Restore replaces the heap contents with m.
func (h *Heap) Restore(m *Memento) {
	h.objects = table{recs: m.objects, shared: true}
	h.statics = table{recs: m.statics, shared: true}
	h.interned = m.interned
	h.internedShared = true
	h.dirty = h.dirty[:0]
	h.live = 0
	for _, r := range m.objects {
		if r != nil {
			h.live++
		}
	}
}

// Stats reports allocation counters.
type Stats struct {
	Live, PeakLive, Allocated, GCRuns int
}

func (h *Heap) Stats() Stats {
	return Stats{Live: h.live, PeakLive: h.peakLive, Allocated: h.allocated, GCRuns: h.gcRuns}
}
