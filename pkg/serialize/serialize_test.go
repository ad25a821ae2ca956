package serialize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javapathfinder/jpf-core-sub000/pkg/heap"
	"github.com/javapathfinder/jpf-core-sub000/pkg/thread"
	"github.com/javapathfinder/jpf-core-sub000/pkg/types"
)

type fixture struct {
	reg     *types.Registry
	h       *heap.Heap
	threads *thread.List
	group   *types.ClassInfo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg, err := types.NewRegistry()
	require.NoError(t, err)
	return &fixture{
		reg:     reg,
		h:       heap.New(reg),
		threads: thread.NewList(),
		group:   reg.MustResolve(types.ThreadGroupClass),
	}
}

// build allocates garbage unreachable records first, then a thread group
// with n threads reachable from thread 0 and from System.out's slot.
func (f *fixture) build(garbage int, n int32) {
	for i := 0; i < garbage; i++ {
		f.h.NewObject(f.group, 0)
	}
	g := f.h.NewObject(f.group, 0)
	g.SetInt(f.group.InstanceField("nthreads"), n)
	name := f.h.NewString("main", 0)
	g.SetReference(f.group.InstanceField("name"), name.Ref())
	f.threads.Add(thread.NewThreadInfo(0, "main", heap.Null, g.Ref()))
}

func (f *fixture) hash() uint64 {
	return New().Hash(f.h, f.threads.All())
}

func TestHashIgnoresIdentities(t *testing.T) {
	a, b := newFixture(t), newFixture(t)
	a.build(0, 2)
	b.build(3, 2)
	assert.Equal(t, a.hash(), b.hash())
}

func TestHashSeesFieldValues(t *testing.T) {
	a, b := newFixture(t), newFixture(t)
	a.build(0, 2)
	b.build(0, 3)
	assert.NotEqual(t, a.hash(), b.hash())
}

func TestHashSeesThreadState(t *testing.T) {
	f := newFixture(t)
	f.build(0, 1)
	before := f.hash()
	f.threads.Modifiable(0).SetState(thread.Running)
	assert.NotEqual(t, before, f.hash())
}

func TestHashSeesMonitors(t *testing.T) {
	f := newFixture(t)
	f.build(0, 1)
	before := f.hash()
	ref := f.threads.MustGet(0).GroupRef()
	f.h.Modifiable(ref).SetLock(0, 1)
	assert.NotEqual(t, before, f.hash())
}

func TestHashSeesStatics(t *testing.T) {
	f := newFixture(t)
	f.build(0, 1)
	before := f.hash()
	sys := f.reg.MustResolve(types.SystemClass)
	out := f.h.NewObject(f.reg.MustResolve(types.PrintStreamClass), 0)
	f.h.ModifiableStatics(sys).SetReference(sys.StaticField("out"), out.Ref())
	assert.NotEqual(t, before, f.hash())
}

func TestHashStableAcrossRestore(t *testing.T) {
	f := newFixture(t)
	f.build(1, 4)
	hm := f.h.Snapshot()
	tm := f.threads.Snapshot()
	want := f.hash()

	g := f.h.Modifiable(f.threads.MustGet(0).GroupRef())
	g.SetInt(f.group.InstanceField("nthreads"), 5)
	f.threads.Modifiable(0).SetState(thread.Terminated)
	require.NotEqual(t, want, f.hash())

	f.h.Restore(hm)
	f.threads.Restore(tm)
	assert.Equal(t, want, f.hash())
}

func TestSerializerReuse(t *testing.T) {
	a, b := newFixture(t), newFixture(t)
	a.build(0, 1)
	b.build(2, 7)
	s := New()
	ha := s.Hash(a.h, a.threads.All())
	hb := s.Hash(b.h, b.threads.All())
	assert.NotEqual(t, ha, hb)
	assert.Equal(t, ha, s.Hash(a.h, a.threads.All()))
}
