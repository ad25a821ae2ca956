package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cf "github.com/javapathfinder/jpf-core-sub000/pkg/classfile"
	"github.com/javapathfinder/jpf-core-sub000/pkg/types"
	"github.com/javapathfinder/jpf-core-sub000/pkg/vmerr"
)

type fixture struct {
	reg   *types.Registry
	h     *Heap
	node  *types.ClassInfo
	val   *types.FieldInfo
	next  *types.FieldInfo
	total *types.FieldInfo
	head  *types.FieldInfo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg, err := types.NewRegistry()
	require.NoError(t, err)
	b := cf.NewClass("t/Node", types.ObjectClass)
	b.Field(0, "val", "I")
	b.Field(0, "next", "Lt/Node;")
	b.Field(0, "total", "J")
	b.Field(cf.AccStatic, "head", "Lt/Node;")
	require.NoError(t, reg.Define(b.MustBuild()))
	node := reg.Lookup("t/Node")
	return &fixture{
		reg:   reg,
		h:     New(reg),
		node:  node,
		val:   node.InstanceField("val"),
		next:  node.InstanceField("next"),
		total: node.InstanceField("total"),
		head:  node.StaticField("head"),
	}
}

func consistencyKind(t *testing.T, fn func()) vmerr.ConsistencyKind {
	t.Helper()
	var err error
	func() {
		defer vmerr.Recover(&err)
		fn()
	}()
	ce, ok := vmerr.AsConsistency(err)
	require.True(t, ok, "expected a consistency error, got %v", err)
	return ce.Kind
}

func TestFreezeInvariant(t *testing.T) {
	f := newFixture(t)
	obj := f.h.NewObject(f.node, 0)
	obj.SetInt(f.val, 1)

	m := f.h.Snapshot()
	old := f.h.Get(obj.Ref())
	require.True(t, old.IsFrozen())
	assert.Equal(t, vmerr.FrozenMutation, consistencyKind(t, func() { old.SetInt(f.val, 2) }))

	mod := f.h.Modifiable(obj.Ref())
	assert.NotSame(t, old, mod)
	assert.False(t, mod.IsFrozen())
	assert.Equal(t, obj.Ref(), mod.Ref())
	mod.SetInt(f.val, 2)
	assert.Same(t, mod, f.h.Modifiable(obj.Ref()), "unfrozen record is not cloned again")

	assert.Equal(t, int32(1), old.Int(f.val))
	assert.Equal(t, int32(2), f.h.Get(obj.Ref()).Int(f.val))

	f.h.Restore(m)
	assert.Equal(t, int32(1), f.h.Get(obj.Ref()).Int(f.val))
	assert.True(t, f.h.Get(obj.Ref()).IsFrozen())
}

func TestRestoreDropsLaterAllocations(t *testing.T) {
	f := newFixture(t)
	a := f.h.NewObject(f.node, 0)
	m := f.h.Snapshot()
	require.Equal(t, 1, f.h.Len())

	b := f.h.NewObject(f.node, 0)
	f.h.Modifiable(a.Ref()).SetReference(f.next, b.Ref())
	require.Equal(t, 2, f.h.Len())

	f.h.Restore(m)
	assert.Equal(t, 1, f.h.Len())
	assert.Nil(t, f.h.Get(b.Ref()))
	assert.Equal(t, Null, f.h.Get(a.Ref()).Reference(f.next))

	// lowest free identity is reused deterministically
	c := f.h.NewObject(f.node, 0)
	assert.Equal(t, b.Ref(), c.Ref())
}

func TestTypedAccessorsCheckKind(t *testing.T) {
	f := newFixture(t)
	obj := f.h.NewObject(f.node, 0)
	obj.SetLong(f.total, 1<<40)
	assert.Equal(t, int64(1<<40), obj.Long(f.total))

	assert.Equal(t, vmerr.TypeMismatch, consistencyKind(t, func() { obj.Int(f.total) }))
	assert.Equal(t, vmerr.TypeMismatch, consistencyKind(t, func() { obj.SetReference(f.val, 1) }))
	assert.Equal(t, vmerr.TypeMismatch, consistencyKind(t, func() { obj.Reference(f.head) }), "static field on instance")

	str := f.h.NewString("x", 0)
	assert.Equal(t, vmerr.TypeMismatch, consistencyKind(t, func() { str.Int(f.val) }), "field of unrelated class")
	assert.Equal(t, vmerr.DeadRef, consistencyKind(t, func() { f.h.MustGet(99) }))
}

func TestStatics(t *testing.T) {
	f := newFixture(t)
	assert.Nil(t, f.h.Statics(f.node))
	s := f.h.NewStatics(f.node)
	obj := f.h.NewObject(f.node, 0)
	s.SetReference(f.head, obj.Ref())
	assert.Equal(t, Uninitialized, s.ClassStatus())
	assert.Same(t, s, f.h.Get(s.Ref()))

	m := f.h.Snapshot()
	mod := f.h.ModifiableStatics(f.node)
	assert.NotSame(t, s, mod)
	mod.SetClassStatus(Initialized, 0)
	assert.Equal(t, Uninitialized, s.ClassStatus())

	f.h.Restore(m)
	assert.Equal(t, Uninitialized, f.h.Statics(f.node).ClassStatus())
}

func TestMonitorBookkeeping(t *testing.T) {
	f := newFixture(t)
	obj := f.h.NewObject(f.node, 0)
	assert.Equal(t, -1, obj.LockOwner())

	obj.SetLock(1, 2)
	obj.AddContender(2)
	obj.AddContender(3)
	obj.AddContender(2)
	assert.Equal(t, []int{2, 3}, obj.Contenders())

	f.h.Snapshot()
	mod := f.h.Modifiable(obj.Ref())
	mod.RemoveContender(2)
	assert.Equal(t, []int{3}, mod.Contenders())
	assert.Equal(t, []int{2, 3}, obj.Contenders(), "frozen monitor unchanged")

	assert.Equal(t, vmerr.IllegalState, consistencyKind(t, func() { mod.SetLock(-1, 1) }))
	mod.SetLock(-1, 0)
	assert.False(t, mod.IsLocked())
}

func TestThreadSetIsPersistent(t *testing.T) {
	s := NewThreadSet(3, 1)
	u := s.Add(2)
	assert.Equal(t, []int{1, 3}, s.IDs())
	assert.Equal(t, []int{1, 2, 3}, u.IDs())
	assert.True(t, u.Contains(2))
	assert.Equal(t, u, u.Add(2))

	f := newFixture(t)
	obj := f.h.NewObject(f.node, 5)
	assert.False(t, obj.AddReferencingThread(5))
	assert.True(t, obj.AddReferencingThread(6))
	assert.Equal(t, 2, obj.ReferencingThreads().Len())
}

func TestStringsAndInterning(t *testing.T) {
	f := newFixture(t)
	a := f.h.Intern("hello", 0)
	b := f.h.Intern("hello", 1)
	assert.Equal(t, a, b)
	s, ok := f.h.StringValue(a)
	require.True(t, ok)
	assert.Equal(t, "hello", s)
	assert.True(t, f.h.Get(a).IsImmutable())
	assert.Equal(t, 1, f.h.Get(a).PinCount())

	fresh := f.h.NewString("hello", 0)
	assert.NotEqual(t, a, fresh.Ref())

	_, ok = f.h.StringValue(f.h.NewObject(f.node, 0).Ref())
	assert.False(t, ok)
}

func TestArrayCopy(t *testing.T) {
	f := newFixture(t)
	ints, err := f.reg.Resolve("[I")
	require.NoError(t, err)
	objs, err := f.reg.Resolve("[Ljava/lang/Object;")
	require.NoError(t, err)
	strs, err := f.reg.Resolve("[Ljava/lang/String;")
	require.NoError(t, err)

	src := f.h.NewArray(ints, 4, 0)
	for i := 0; i < 4; i++ {
		src.SetIntElem(i, int32(i+1))
	}
	require.NoError(t, f.h.ArrayCopy(src.Ref(), 0, src.Ref(), 1, 3))
	assert.Equal(t, []int64{1, 1, 2, 3}, f.h.Get(src.Ref()).Slots())

	assert.ErrorIs(t, f.h.ArrayCopy(src.Ref(), 2, src.Ref(), 0, 3), ErrIndexOutOfBounds)
	assert.ErrorIs(t, f.h.ArrayCopy(Null, 0, src.Ref(), 0, 1), ErrNullArray)
	dstObjs := f.h.NewArray(objs, 2, 0)
	assert.ErrorIs(t, f.h.ArrayCopy(src.Ref(), 0, dstObjs.Ref(), 0, 1), ErrArrayStore)

	mixed := f.h.NewArray(objs, 3, 0)
	s1 := f.h.NewString("a", 0).Ref()
	node := f.h.NewObject(f.node, 0).Ref()
	s2 := f.h.NewString("b", 0).Ref()
	mixed.SetRefElem(0, s1)
	mixed.SetRefElem(1, node)
	mixed.SetRefElem(2, s2)
	dst := f.h.NewArray(strs, 3, 0)

	err = f.h.ArrayCopy(mixed.Ref(), 0, dst.Ref(), 0, 3)
	assert.ErrorIs(t, err, ErrArrayStore)
	got := f.h.Get(dst.Ref())
	assert.Equal(t, s1, got.RefElem(0), "prefix before the failing element is kept")
	assert.Equal(t, Null, got.RefElem(1))
	assert.Equal(t, Null, got.RefElem(2))

	assert.Equal(t, vmerr.TypeMismatch, consistencyKind(t, func() { got.IntElem(0) }))
}

type recorder struct {
	created, released []Ref
	gcs               int
}

func (r *recorder) ObjectCreated(rec *Record)  { r.created = append(r.created, rec.Ref()) }
func (r *recorder) ObjectReleased(rec *Record) { r.released = append(r.released, rec.Ref()) }
func (r *recorder) GCBegin()                   { r.gcs++ }
func (r *recorder) GCEnd()                     {}

func TestGC(t *testing.T) {
	f := newFixture(t)
	obs := &recorder{}
	f.h.SetObserver(obs)

	root := f.h.NewObject(f.node, 0)
	child := f.h.NewObject(f.node, 0)
	root.SetReference(f.next, child.Ref())
	garbage := f.h.NewObject(f.node, 0)
	garbage.SetReference(f.next, root.Ref())
	pinned := f.h.NewObject(f.node, 0)
	f.h.RegisterPinDown(pinned.Ref())
	viaStatic := f.h.NewObject(f.node, 0)
	f.h.NewStatics(f.node).SetReference(f.head, viaStatic.Ref())

	weakClass := f.reg.Lookup(types.WeakRefClass)
	referent := weakClass.InstanceField("referent")
	weak := f.h.NewObject(weakClass, 0)
	weakTarget := f.h.NewObject(f.node, 0)
	weak.SetReference(referent, weakTarget.Ref())
	weakKept := f.h.NewObject(weakClass, 0)
	weakKept.SetReference(referent, child.Ref())

	f.h.Snapshot()
	roots := RootFunc(func(mark func(Ref)) {
		mark(root.Ref())
		mark(weak.Ref())
		mark(weakKept.Ref())
	})
	released := f.h.GC(roots)

	assert.Equal(t, 2, released)
	assert.ElementsMatch(t, []Ref{garbage.Ref(), weakTarget.Ref()}, obs.released)
	assert.Equal(t, 1, obs.gcs)
	assert.Nil(t, f.h.Get(garbage.Ref()))
	assert.NotNil(t, f.h.Get(child.Ref()))
	assert.NotNil(t, f.h.Get(pinned.Ref()))
	assert.NotNil(t, f.h.Get(viaStatic.Ref()))
	assert.Equal(t, Null, f.h.Get(weak.Ref()).Reference(referent))
	assert.Equal(t, child.Ref(), f.h.Get(weakKept.Ref()).Reference(referent))
	assert.Equal(t, weakTarget.Ref(), weak.Reference(referent), "frozen weak record untouched")
	assert.Len(t, obs.created, 8)

	f.h.ReleasePinDown(pinned.Ref())
	assert.Equal(t, 1, f.h.GC(roots))
	assert.Equal(t, 2, f.h.Stats().GCRuns)
}

func TestClassObject(t *testing.T) {
	f := newFixture(t)
	ref := f.h.ClassObject(f.node, 0)
	assert.Equal(t, ref, f.h.ClassObject(f.node, 1))
	assert.Same(t, f.node, f.h.ClassOf(ref))
	name := f.h.Get(ref).Reference(f.reg.Lookup(types.ClassClass).InstanceField("name"))
	s, _ := f.h.StringValue(name)
	assert.Equal(t, "t/Node", s)

	f.h.GC()
	assert.NotNil(t, f.h.Get(ref))
}
