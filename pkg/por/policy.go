// Package por decides when an access to memory must end the current
// transition so other threads can be interleaved. Only accesses to records
// that more than one thread has touched can race; the policy tracks the
// threads that reference each record and infers which fields are
// consistently lock protected.
package por

import (
	"strings"

	"v.io/x/lib/vlog"

	"github.com/javapathfinder/jpf-core-sub000/pkg/heap"
	"github.com/javapathfinder/jpf-core-sub000/pkg/thread"
	"github.com/javapathfinder/jpf-core-sub000/pkg/types"
)

// Break reasons passed to Context.BreakShared.
const (
	SharedObject = "SHARED_OBJECT"
	SharedClass  = "SHARED_CLASS"
	SharedArray  = "SHARED_ARRAY"
	Expose       = "EXPOSE"
)

// Settings configures a Policy.
type Settings struct {
	NeverBreakMethods []string
	NeverBreakTypes   []string
	AlwaysBreakTypes  []string
	NeverBreakFields  []string
	AlwaysBreakFields []string

	SkipFinals            bool
	SkipConstructedFinals bool
	SkipStaticFinals      bool
	SkipInits             bool
	BreakOnExposure       bool
	SyncDetection         bool

	// LockThreshold is the number of confirming accesses before a
	// candidate lock set counts as protection.
	LockThreshold int
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		SkipFinals:       true,
		SkipStaticFinals: true,
		SkipInits:        true,
		BreakOnExposure:  true,
		SyncDetection:    true,
	}
}

// Context is the view of the running VM the policy needs.
type Context interface {
	Heap() *heap.Heap
	// Thread returns the current thread.
	Thread() *thread.ThreadInfo
	// IsFirstStep reports whether the current instruction is the first of
	// the transition.
	IsFirstStep() bool
	HasOtherRunnables() bool
	// BreakShared asks the scheduler for a thread choice and reports
	// whether one was registered.
	BreakShared(reason string) bool
	NotifyShared(r *heap.Record)
	NotifyExposed(owner, exposed *heap.Record)
}

type rule uint8

const (
	noRule rule = iota
	neverBreak
	alwaysBreak
)

// Policy is the sharedness policy. Filter results are cached in the
// attribute maps of classes, fields and methods under keys private to the
// policy instance.
type Policy struct {
	s Settings

	neverMethods *matcher
	neverTypes   *matcher
	alwaysTypes  *matcher
	neverFields  *matcher
	alwaysFields *matcher

	typeKey   *types.Key[rule]
	fieldKey  *types.Key[rule]
	methodKey *types.Key[rule]
}

// New compiles the filter patterns of s. Malformed patterns are reported
// as a *vmerr.ConfigurationError.
func New(s Settings) (*Policy, error) {
	p := &Policy{
		s:         s,
		typeKey:   types.NewKey[rule]("por.type"),
		fieldKey:  types.NewKey[rule]("por.field"),
		methodKey: types.NewKey[rule]("por.method"),
	}
	var err error
	if p.neverMethods, err = newMatcher("vm.shared.never_break_methods", s.NeverBreakMethods, true); err != nil {
		return nil, err
	}
	if p.neverTypes, err = newMatcher("vm.shared.never_break_types", s.NeverBreakTypes, false); err != nil {
		return nil, err
	}
	if p.alwaysTypes, err = newMatcher("vm.shared.always_break_types", s.AlwaysBreakTypes, false); err != nil {
		return nil, err
	}
	if p.neverFields, err = newMatcher("vm.shared.never_break_fields", s.NeverBreakFields, true); err != nil {
		return nil, err
	}
	if p.alwaysFields, err = newMatcher("vm.shared.always_break_fields", s.AlwaysBreakFields, true); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Policy) Settings() Settings { return p.s }

// typeRule walks the superclass chain; the first class matching a pattern
// decides, an always pattern winning over a never pattern on the same class.
func (p *Policy) typeRule(ci *types.ClassInfo) rule {
	if r, ok := types.GetAttr(ci.Attrs, p.typeKey); ok {
		return r
	}
	r := noRule
	for c := ci; c != nil; c = c.Super {
		if p.alwaysTypes.match(c.Name) {
			r = alwaysBreak
			break
		}
		if p.neverTypes.match(c.Name) {
			r = neverBreak
			break
		}
	}
	ci.Attrs = types.WithAttr(ci.Attrs, p.typeKey, r)
	return r
}

func (p *Policy) fieldRule(fi *types.FieldInfo) rule {
	if r, ok := types.GetAttr(fi.Attrs, p.fieldKey); ok {
		return r
	}
	r := noRule
	switch {
	case !fi.IsStatic() && strings.HasPrefix(fi.Name, "this$"):
		r = neverBreak
	case fi.IsStatic() && fi.Name == "$assertionsDisabled":
		r = neverBreak
	case p.neverFields.match(fi.FullName()):
		r = neverBreak
	case p.alwaysFields.match(fi.FullName()):
		r = alwaysBreak
	}
	fi.Attrs = types.WithAttr(fi.Attrs, p.fieldKey, r)
	return r
}

func (p *Policy) neverBreakIn(m *types.MethodInfo) bool {
	if r, ok := types.GetAttr(m.Attrs, p.methodKey); ok {
		return r == neverBreak
	}
	r := noRule
	if p.neverMethods.match(m.Class.Name + "." + m.Name) {
		r = neverBreak
	}
	m.Attrs = types.WithAttr(m.Attrs, p.methodKey, r)
	return r == neverBreak
}

// inNeverBreakMethod reports whether any frame of t runs a method excluded
// from breaking.
func (p *Policy) inNeverBreakMethod(t *thread.ThreadInfo) bool {
	if p.neverMethods.empty() {
		return false
	}
	return t.MethodOnStack(p.neverBreakIn)
}

// filter applies the checks common to all accesses. ok is false when the
// filters did not decide.
func (p *Policy) filter(ctx Context, owner *heap.Record, fi *types.FieldInfo) (brk, ok bool) {
	if ctx.IsFirstStep() || !ctx.HasOtherRunnables() {
		return false, true
	}
	if p.inNeverBreakMethod(ctx.Thread()) {
		return false, true
	}
	switch p.typeRule(owner.Class()) {
	case neverBreak:
		return false, true
	case alwaysBreak:
		return true, true
	}
	if fi != nil {
		switch p.fieldRule(fi) {
		case alwaysBreak:
			return true, true
		case neverBreak:
			return false, true
		}
	}
	return false, false
}

// updateSharedness adds the current thread to the record's referencing
// threads and marks the record shared once a second thread shows up.
func (p *Policy) updateSharedness(ctx Context, ref heap.Ref) *heap.Record {
	h := ctx.Heap()
	tid := ctx.Thread().ID()
	rec := h.MustGet(ref)
	if !rec.ReferencingThreads().Contains(tid) {
		rec = h.Modifiable(ref)
		rec.AddReferencingThread(tid)
	}
	if !rec.IsShared() && rec.ReferencingThreads().Len() > 1 {
		rec = h.Modifiable(ref)
		rec.MarkShared()
		vlog.VI(3).Infof("shared: %s by %v", rec, rec.ReferencingThreads().IDs())
		ctx.NotifyShared(rec)
	}
	return rec
}

// nextLockInfo computes the lock inference state of fi after the current
// access without storing it. nil means fi is not tracked.
func (p *Policy) nextLockInfo(ctx Context, rec *heap.Record, fi *types.FieldInfo) heap.FieldLockInfo {
	if !rec.IsShared() || !p.s.SyncDetection {
		return nil
	}
	held := ctx.Thread().LockedObjects()
	li := rec.LockInfo(fi)
	if li == nil {
		return newLockInfo(held, p.s.LockThreshold)
	}
	next := li.Check(ctx.Thread().ID(), held)
	if li.IsProtected() && !next.IsProtected() {
		vlog.VI(3).Infof("lock assumption failed: %s.%s", rec, fi.Name)
	}
	return next
}

// access finishes an access to fi of rec: the lock state advances only
// when the access executes, so a break and the re-execution that follows
// it count once.
func (p *Policy) access(ctx Context, rec *heap.Record, fi *types.FieldInfo, li heap.FieldLockInfo, brk bool) bool {
	if !brk && li != nil && rec.LockInfo(fi) != li {
		ctx.Heap().Modifiable(rec.Ref()).SetLockInfo(fi, li)
	}
	return brk
}

func (p *Policy) sharedBreak(ctx Context, rec *heap.Record, fi *types.FieldInfo, li heap.FieldLockInfo, reason string) bool {
	if p.typeRule(rec.Class()) == alwaysBreak || (rec.IsShared() && (li == nil || !li.IsProtected())) {
		vlog.VI(3).Infof("%s: %s.%s", reason, rec, fi.Name)
		return ctx.BreakShared(reason)
	}
	return false
}

// FieldAccess processes an access to instance field fi of obj and reports
// whether the transition breaks before it.
func (p *Policy) FieldAccess(ctx Context, obj heap.Ref, fi *types.FieldInfo) bool {
	rec := p.updateSharedness(ctx, obj)
	li := p.nextLockInfo(ctx, rec, fi)
	return p.access(ctx, rec, fi, li, p.fieldBreak(ctx, rec, fi, li))
}

func (p *Policy) fieldBreak(ctx Context, rec *heap.Record, fi *types.FieldInfo, li heap.FieldLockInfo) bool {
	if brk, ok := p.filter(ctx, rec, fi); ok {
		return brk && ctx.BreakShared(SharedObject)
	}
	switch {
	case rec.IsImmutable():
		return false
	case p.s.SkipFinals && fi.IsFinal():
		return false
	case p.s.SkipConstructedFinals && fi.IsFinal() && rec.IsConstructed():
		return false
	case p.s.SkipInits && ctx.Thread().Top().Method().IsInit():
		return false
	}
	return p.sharedBreak(ctx, rec, fi, li, SharedObject)
}

// StaticAccess processes an access to static field fi. The statics of the
// declaring class must exist.
func (p *Policy) StaticAccess(ctx Context, fi *types.FieldInfo) bool {
	rec := p.updateSharedness(ctx, ctx.Heap().Statics(fi.Class).Ref())
	li := p.nextLockInfo(ctx, rec, fi)
	return p.access(ctx, rec, fi, li, p.staticBreak(ctx, rec, fi, li))
}

func (p *Policy) staticBreak(ctx Context, rec *heap.Record, fi *types.FieldInfo, li heap.FieldLockInfo) bool {
	if brk, ok := p.filter(ctx, rec, fi); ok {
		return brk && ctx.BreakShared(SharedClass)
	}
	if rec.IsImmutable() || (p.s.SkipStaticFinals && fi.IsFinal()) {
		return false
	}
	if m := ctx.Thread().Top().Method(); m.IsClinit() && m.Class == fi.Class {
		return false
	}
	return p.sharedBreak(ctx, rec, fi, li, SharedClass)
}

// ArrayAccess processes an element access of arr.
func (p *Policy) ArrayAccess(ctx Context, arr heap.Ref, index int) bool {
	rec := p.updateSharedness(ctx, arr)
	if brk, ok := p.filter(ctx, rec, nil); ok {
		if brk {
			return ctx.BreakShared(SharedArray)
		}
		return false
	}
	if rec.IsShared() {
		vlog.VI(3).Infof("%s: %s[%d]", SharedArray, rec, index)
		return ctx.BreakShared(SharedArray)
	}
	return false
}

// Exposure is called after a reference to exposed was stored into owner:
// field fi of an object or class, or an element of an array when fi is
// nil. If owner is shared or exposed and exposed was not yet visible
// to other threads, exposed is marked exposed and a break is requested so
// other threads can observe it before the storing thread continues.
func (p *Policy) Exposure(ctx Context, owner heap.Ref, fi *types.FieldInfo, exposed heap.Ref) bool {
	if !p.s.BreakOnExposure || exposed == heap.Null {
		return false
	}
	h := ctx.Heap()
	ex := h.MustGet(exposed)
	switch p.typeRule(ex.Class()) {
	case neverBreak:
		return false
	case alwaysBreak:
		return ctx.BreakShared(Expose)
	}
	if p.inNeverBreakMethod(ctx.Thread()) {
		return false
	}
	own := h.MustGet(owner)
	if !own.IsShared() && !own.IsExposed() {
		return false
	}
	if ex.IsImmutable() || ex.IsShared() || ex.IsExposed() {
		return false
	}
	ex = h.Modifiable(exposed)
	ex.MarkExposed()
	if fi != nil {
		vlog.VI(3).Infof("exposed: %s via %s.%s", ex, own, fi.Name)
	} else {
		vlog.VI(3).Infof("exposed: %s via element of %s", ex, own)
	}
	ctx.NotifyExposed(own, ex)
	return ctx.BreakShared(Expose)
}
