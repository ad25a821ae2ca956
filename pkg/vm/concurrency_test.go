package vm

import (
	"bytes"
	"fmt"
	"sort"
	"testing"

	cf "github.com/javapathfinder/jpf-core-sub000/pkg/classfile"
	"github.com/javapathfinder/jpf-core-sub000/pkg/heap"
	"github.com/javapathfinder/jpf-core-sub000/pkg/types"
)

const maxTestDepth = 500

type exploration struct {
	// ends counts end states by key.
	ends       map[string]int
	violations []*Violation
	ignored    int
}

func (e exploration) endKeys() []string {
	var keys []string
	for k := range e.ends {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// explore runs a stateless depth-first search over every path of v. End
// states are keyed by key, or by the output of their path when key is nil.
func explore(t *testing.T, v *VM, out *bytes.Buffer, key func() string) exploration {
	t.Helper()
	e := exploration{ends: map[string]int{}}
	var walk func(prefix string, depth int)
	walk = func(prefix string, depth int) {
		if depth > maxTestDepth {
			t.Fatalf("path longer than %d transitions: %v", maxTestDepth, v.Path())
		}
		for {
			out.Reset()
			ok, err := v.Forward()
			if err != nil {
				t.Fatalf("Forward: %v", err)
			}
			if !ok {
				return
			}
			s := prefix + out.String()
			switch {
			case v.Violation() != nil:
				e.violations = append(e.violations, v.Violation())
			case v.IsIgnored():
				e.ignored++
			case v.IsEndState():
				k := s
				if key != nil {
					k = key()
				}
				e.ends[k]++
			default:
				walk(s, depth+1)
			}
			v.Backtrack()
		}
	}
	walk("", 0)
	return e
}

// staticInt returns a key reading int static field name of class.
func staticInt(v *VM, class, name string) func() string {
	return func() string {
		ci := v.Registry().Lookup(class)
		return fmt.Sprint(v.Heap().Statics(ci).Int(ci.StaticField(name)))
	}
}

// runnable builds a Runnable class whose run method is built by run.
func runnable(name string, maxStack, maxLocals int, run func(a *cf.Asm)) *cf.ClassBuilder {
	b := cf.NewClass(name, types.ObjectClass).Implements(types.RunnableClass)
	defaultCtor(b, types.ObjectClass)
	a := b.Code()
	run(a)
	b.Method(cf.AccPublic, "run", "()V", maxStack, maxLocals, a.Op(cf.OpReturn))
	return b
}

// startThread emits "new Thread(new class()).start()".
func startThread(a *cf.Asm, class string) *cf.Asm {
	return a.Class(cf.OpNew, types.ThreadClass).Op(cf.OpDup).
		Class(cf.OpNew, class).Op(cf.OpDup).Invoke(cf.OpInvokespecial, class, "<init>", "()V").
		Invoke(cf.OpInvokespecial, types.ThreadClass, "<init>", "(Ljava/lang/Runnable;)V").
		Invoke(cf.OpInvokevirtual, types.ThreadClass, "start", "()V")
}

// newObject emits "new Object()".
func newObject(a *cf.Asm) *cf.Asm {
	return a.Class(cf.OpNew, types.ObjectClass).Op(cf.OpDup).
		Invoke(cf.OpInvokespecial, types.ObjectClass, "<init>", "()V")
}

// racyProgram starts two threads that increment Racer.count without
// synchronization, optionally inside an atomic section.
func racyProgram(atomic bool) []*cf.ClassFile {
	racer := runnable("Racer", 2, 1, func(a *cf.Asm) {
		if atomic {
			a.Invoke(cf.OpInvokestatic, types.VerifyClass, "beginAtomic", "()V")
		}
		a.Field(cf.OpGetstatic, "Racer", "count", "I").Op(cf.OpIconst1, cf.OpIadd).
			Field(cf.OpPutstatic, "Racer", "count", "I")
		if atomic {
			a.Invoke(cf.OpInvokestatic, types.VerifyClass, "endAtomic", "()V")
		}
	})
	racer.Field(cf.AccStatic, "count", "I")

	main := cf.NewClass("Main", types.ObjectClass)
	code := main.Code().Op(cf.OpIconst0).Field(cf.OpPutstatic, "Racer", "count", "I")
	startThread(code, "Racer")
	startThread(code, "Racer").Op(cf.OpReturn)
	mainMethod(main, 4, 1, code)
	return []*cf.ClassFile{main.MustBuild(), racer.MustBuild()}
}

func TestRacyIncrement(t *testing.T) {
	v, out := newTestVM(t, "Main", racyProgram(false)...)
	e := explore(t, v, out, staticInt(v, "Racer", "count"))
	if len(e.violations) != 0 {
		t.Fatalf("unexpected violations: %v", e.violations)
	}
	if got, want := fmt.Sprint(e.endKeys()), "[1 2]"; got != want {
		t.Errorf("final counts: got %s, want %s", got, want)
	}
}

func TestAtomicSection(t *testing.T) {
	v, out := newTestVM(t, "Main", racyProgram(true)...)
	e := explore(t, v, out, staticInt(v, "Racer", "count"))
	if got, want := fmt.Sprint(e.endKeys()), "[2]"; got != want {
		t.Errorf("final counts: got %s, want %s", got, want)
	}
}

func TestWithoutPORNoInterleaving(t *testing.T) {
	classes := racyProgram(false)
	v, out := newTestVM(t, "Main", classes...)
	v.cfg.POR = false
	e := explore(t, v, out, staticInt(v, "Racer", "count"))
	// Thread starts and terminations still interleave, increments do not.
	if got, want := fmt.Sprint(e.endKeys()), "[2]"; got != want {
		t.Errorf("final counts: got %s, want %s", got, want)
	}
}

// lockOrder builds a Runnable locking D.<first> then D.<second>.
func lockOrder(name, first, second string) *cf.ClassFile {
	return runnable(name, 2, 3, func(a *cf.Asm) {
		a.Field(cf.OpGetstatic, "D", first, "Ljava/lang/Object;").Local(cf.OpAstore, 1).
			Local(cf.OpAload, 1).Op(cf.OpMonitorenter).
			Field(cf.OpGetstatic, "D", second, "Ljava/lang/Object;").Local(cf.OpAstore, 2).
			Local(cf.OpAload, 2).Op(cf.OpMonitorenter).
			Local(cf.OpAload, 2).Op(cf.OpMonitorexit).
			Local(cf.OpAload, 1).Op(cf.OpMonitorexit)
	}).MustBuild()
}

func TestDeadlock(t *testing.T) {
	d := cf.NewClass("D", types.ObjectClass)
	d.Field(cf.AccStatic, "a", "Ljava/lang/Object;")
	d.Field(cf.AccStatic, "b", "Ljava/lang/Object;")

	main := cf.NewClass("Main", types.ObjectClass)
	code := newObject(main.Code()).Field(cf.OpPutstatic, "D", "a", "Ljava/lang/Object;")
	newObject(code).Field(cf.OpPutstatic, "D", "b", "Ljava/lang/Object;")
	startThread(code, "AB")
	startThread(code, "BA").Op(cf.OpReturn)
	mainMethod(main, 4, 1, code)

	v, out := newTestVM(t, "Main", main.MustBuild(), d.MustBuild(), lockOrder("AB", "a", "b"), lockOrder("BA", "b", "a"))
	e := explore(t, v, out, nil)
	if len(e.violations) == 0 {
		t.Fatal("deadlock not found")
	}
	for _, viol := range e.violations {
		if viol.Property != (NotDeadlocked{}).Name() {
			t.Errorf("unexpected violation %v", viol)
		}
	}
	if len(e.ends) == 0 {
		t.Error("no deadlock-free end state")
	}
}

type choiceRecorder struct {
	ListenerAdapter
	waiterChoices []int
	ids           map[string]int
}

func (r *choiceRecorder) ChoiceRegistered(_ Inspector, cg ChoiceGenerator) {
	if r.ids == nil {
		r.ids = map[string]int{}
	}
	r.ids[cg.ID()]++
	if wc, ok := cg.(*WaiterChoice); ok {
		r.waiterChoices = append(r.waiterChoices, wc.Len())
	}
}

func TestNotifyChoosesWaiter(t *testing.T) {
	w := cf.NewClass("W", types.ObjectClass)
	w.Field(cf.AccStatic, "lock", "Ljava/lang/Object;")
	waiter := runnable("Waiter", 2, 2, func(a *cf.Asm) {
		a.Field(cf.OpGetstatic, "W", "lock", "Ljava/lang/Object;").Local(cf.OpAstore, 1).
			Local(cf.OpAload, 1).Op(cf.OpMonitorenter).
			Local(cf.OpAload, 1).Invoke(cf.OpInvokevirtual, types.ObjectClass, "wait", "()V").
			Local(cf.OpAload, 1).Op(cf.OpMonitorexit)
	})

	main := cf.NewClass("Main", types.ObjectClass)
	code := newObject(main.Code()).Field(cf.OpPutstatic, "W", "lock", "Ljava/lang/Object;")
	startThread(code, "Waiter")
	startThread(code, "Waiter")
	code.Field(cf.OpGetstatic, "W", "lock", "Ljava/lang/Object;").Local(cf.OpAstore, 1).
		Local(cf.OpAload, 1).Op(cf.OpMonitorenter).
		Local(cf.OpAload, 1).Invoke(cf.OpInvokevirtual, types.ObjectClass, "notify", "()V").
		Local(cf.OpAload, 1).Op(cf.OpMonitorexit).
		Op(cf.OpReturn)
	mainMethod(main, 4, 2, code)

	v, out := newTestVM(t, "Main", main.MustBuild(), w.MustBuild(), waiter.MustBuild())
	rec := &choiceRecorder{}
	v.AddListener(rec)
	e := explore(t, v, out, nil)

	found := false
	for _, n := range rec.waiterChoices {
		if n != 2 {
			t.Errorf("waiter choice with %d alternatives, want 2", n)
		}
		found = true
	}
	if !found {
		t.Fatal("no waiter choice registered")
	}
	// A single notify leaves one of two waiters parked forever.
	if len(e.violations) == 0 {
		t.Error("no deadlock reported for the waiter left behind")
	}
	for _, viol := range e.violations {
		if viol.Property != (NotDeadlocked{}).Name() {
			t.Errorf("unexpected violation %v", viol)
		}
	}
}

func TestJoin(t *testing.T) {
	child := runnable("Child", 2, 1, func(a *cf.Asm) { printString(a, "child") })
	main := cf.NewClass("Main", types.ObjectClass)
	code := main.Code().
		Class(cf.OpNew, types.ThreadClass).Op(cf.OpDup).
		Class(cf.OpNew, "Child").Op(cf.OpDup).Invoke(cf.OpInvokespecial, "Child", "<init>", "()V").
		Invoke(cf.OpInvokespecial, types.ThreadClass, "<init>", "(Ljava/lang/Runnable;)V").
		Local(cf.OpAstore, 1).
		Local(cf.OpAload, 1).Invoke(cf.OpInvokevirtual, types.ThreadClass, "start", "()V").
		Local(cf.OpAload, 1).Invoke(cf.OpInvokevirtual, types.ThreadClass, "join", "()V")
	printString(code, "done").Op(cf.OpReturn)
	mainMethod(main, 4, 2, code)

	v, out := newTestVM(t, "Main", main.MustBuild(), child.MustBuild())
	e := explore(t, v, out, nil)
	if len(e.violations) != 0 {
		t.Fatalf("unexpected violations: %v", e.violations)
	}
	if got, want := fmt.Sprintf("%q", e.endKeys()), `["child\ndone\n"]`; got != want {
		t.Errorf("outputs: got %s, want %s", got, want)
	}
}

func TestVerifyGetInt(t *testing.T) {
	b := cf.NewClass("Main", types.ObjectClass)
	code := printInt(b.Code(), func(a *cf.Asm) {
		a.Iconst(0).Iconst(2).Invoke(cf.OpInvokestatic, types.VerifyClass, "getInt", "(II)I")
	}).Op(cf.OpReturn)
	mainMethod(b, 3, 1, code)

	v, out := newTestVM(t, "Main", b.MustBuild())
	e := explore(t, v, out, nil)
	if got, want := fmt.Sprintf("%q", e.endKeys()), `["0\n" "1\n" "2\n"]`; got != want {
		t.Errorf("outputs: got %s, want %s", got, want)
	}
	for k, n := range e.ends {
		if n != 1 {
			t.Errorf("output %q reached %d times, want 1", k, n)
		}
	}
}

func TestVerifyIgnoreIf(t *testing.T) {
	b := cf.NewClass("Main", types.ObjectClass)
	code := b.Code().
		Invoke(cf.OpInvokestatic, types.VerifyClass, "getBoolean", "()Z").
		Invoke(cf.OpInvokestatic, types.VerifyClass, "ignoreIf", "(Z)V")
	printString(code, "kept").Op(cf.OpReturn)
	mainMethod(b, 2, 1, code)

	v, out := newTestVM(t, "Main", b.MustBuild())
	e := explore(t, v, out, nil)
	if e.ignored != 1 {
		t.Errorf("ignored states: got %d, want 1", e.ignored)
	}
	if got, want := fmt.Sprintf("%q", e.endKeys()), `["kept\n"]`; got != want {
		t.Errorf("outputs: got %s, want %s", got, want)
	}
}

func flagProgram() *cf.ClassFile {
	b := cf.NewClass("Main", types.ObjectClass)
	b.Field(cf.AccStatic, "flag", "I")
	code := b.Code().
		Invoke(cf.OpInvokestatic, types.VerifyClass, "getBoolean", "()Z").
		Op(cf.OpIconst1, cf.OpIadd).
		Field(cf.OpPutstatic, "Main", "flag", "I").
		Op(cf.OpReturn)
	mainMethod(b, 2, 1, code)
	return b.MustBuild()
}

func TestBacktrackRestoresState(t *testing.T) {
	v, _ := newTestVM(t, "Main", flagProgram())
	flag := staticInt(v, "Main", "flag")

	if ok, err := v.Forward(); !ok || err != nil {
		t.Fatalf("Forward root: got %v, %v", ok, err)
	}
	if got, want := v.Choice().ID(), ChoiceGetBoolean; got != want {
		t.Fatalf("choice: got %s, want %s", got, want)
	}
	threads, objects := len(v.Threads()), v.Heap().Len()

	for _, want := range []string{"1", "2"} {
		if ok, err := v.Forward(); !ok || err != nil {
			t.Fatalf("Forward: got %v, %v", ok, err)
		}
		if got := flag(); got != want {
			t.Errorf("flag: got %s, want %s", got, want)
		}
		if !v.IsEndState() {
			t.Error("not an end state")
		}
		if !v.Backtrack() {
			t.Fatal("Backtrack: nothing to restore")
		}
		if got := flag(); got != "0" {
			t.Errorf("flag after Backtrack: got %s, want 0", got)
		}
		if got := v.Heap().Len(); got != objects {
			t.Errorf("objects after Backtrack: got %d, want %d", got, objects)
		}
		if got := len(v.Threads()); got != threads {
			t.Errorf("threads after Backtrack: got %d, want %d", got, threads)
		}
		if got := v.Depth(); got != 1 {
			t.Errorf("depth after Backtrack: got %d, want 1", got)
		}
	}
	if ok, _ := v.Forward(); ok {
		t.Error("Forward after exhausting the choice: got true")
	}
	if got := v.Stats().Backtracks; got != 2 {
		t.Errorf("backtracks: got %d, want 2", got)
	}
}

func TestReplayPath(t *testing.T) {
	v, _ := newTestVM(t, "Main", racyProgram(false)...)
	// Follow the last alternative of every choice.
	for v.Choice() != nil {
		if err := v.ForwardChoice(v.Choice().Len() - 1); err != nil {
			t.Fatalf("ForwardChoice: %v", err)
		}
	}
	path := v.Path()
	count := staticInt(v, "Racer", "count")()

	r, _ := newTestVM(t, "Main", racyProgram(false)...)
	for i, c := range path {
		if got := r.Choice(); got == nil || got.ID() != c.ID {
			t.Fatalf("step %d: choice %v, want %s", i, got, c.ID)
		}
		if err := r.ForwardChoice(c.Index); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	if !r.IsEndState() {
		t.Error("replay did not reach an end state")
	}
	if got := staticInt(r, "Racer", "count")(); got != count {
		t.Errorf("replayed count: got %s, want %s", got, count)
	}
	if got, want := fmt.Sprint(r.Path()), fmt.Sprint(path); got != want {
		t.Errorf("replayed path: got %s, want %s", got, want)
	}
}

// exposureCounter counts ObjectExposed events by the class of the owner.
type exposureCounter struct {
	ListenerAdapter
	owners map[string]int
}

func (c *exposureCounter) ObjectExposed(_ Inspector, owner, _ *heap.Record) {
	if c.owners == nil {
		c.owners = map[string]int{}
	}
	c.owners[owner.Class().Name]++
}

func checkExposed(t *testing.T, owner string, classes ...*cf.ClassFile) {
	t.Helper()
	v, out := newTestVM(t, "Main", classes...)
	c := &exposureCounter{}
	v.AddListener(c)
	e := explore(t, v, out, nil)
	if len(e.violations) != 0 {
		t.Fatalf("unexpected violations: %v", e.violations)
	}
	if len(e.ends) == 0 {
		t.Fatal("no end state")
	}
	if c.owners[owner] == 0 {
		t.Errorf("no object exposed through %s, got %v", owner, c.owners)
	}
}

func TestExposureThroughStaticField(t *testing.T) {
	holder := cf.NewClass("Holder", types.ObjectClass)
	holder.Field(cf.AccStatic, "box", "Ljava/lang/Object;")
	pub := runnable("Publisher", 2, 1, func(a *cf.Asm) {
		newObject(a).Field(cf.OpPutstatic, "Holder", "box", "Ljava/lang/Object;")
	})

	main := cf.NewClass("Main", types.ObjectClass)
	code := newObject(main.Code()).Field(cf.OpPutstatic, "Holder", "box", "Ljava/lang/Object;")
	startThread(code, "Publisher").Op(cf.OpReturn)
	mainMethod(main, 4, 1, code)

	checkExposed(t, "Holder", main.MustBuild(), holder.MustBuild(), pub.MustBuild())
}

func TestExposureThroughArrayElement(t *testing.T) {
	holder := cf.NewClass("Holder", types.ObjectClass)
	holder.Field(cf.AccStatic, "arr", "[Ljava/lang/Object;")
	pub := runnable("Publisher", 4, 1, func(a *cf.Asm) {
		a.Field(cf.OpGetstatic, "Holder", "arr", "[Ljava/lang/Object;").Op(cf.OpIconst0)
		newObject(a).Op(cf.OpAastore)
	})

	main := cf.NewClass("Main", types.ObjectClass)
	code := main.Code().Op(cf.OpIconst1).Class(cf.OpAnewarray, types.ObjectClass).
		Field(cf.OpPutstatic, "Holder", "arr", "[Ljava/lang/Object;").
		Field(cf.OpGetstatic, "Holder", "arr", "[Ljava/lang/Object;").Op(cf.OpIconst0)
	newObject(code).Op(cf.OpAastore)
	startThread(code, "Publisher").Op(cf.OpReturn)
	mainMethod(main, 5, 1, code)

	checkExposed(t, "[Ljava/lang/Object;", main.MustBuild(), holder.MustBuild(), pub.MustBuild())
}

// orderedInit builds a class whose initializer appends digit to
// Order.log, yielding first when yield is set.
func orderedInit(name, super, field string, digit int32, yield bool) *cf.ClassFile {
	b := cf.NewClass(name, super)
	b.Field(cf.AccStatic, field, "I")
	a := b.Code().Op(cf.OpNop)
	if yield {
		a.Invoke(cf.OpInvokestatic, types.ThreadClass, "yield", "()V")
	}
	a.Field(cf.OpGetstatic, "Order", "log", "I").Iconst(10).Op(cf.OpImul).Iconst(digit).Op(cf.OpIadd).
		Field(cf.OpPutstatic, "Order", "log", "I").
		Op(cf.OpReturn)
	b.Method(cf.AccStatic, "<clinit>", "()V", 2, 0, a)
	return b.MustBuild()
}

func TestSuperclassInitializedFirst(t *testing.T) {
	order := cf.NewClass("Order", types.ObjectClass)
	order.Field(cf.AccStatic, "log", "I")
	initBase := runnable("InitBase", 1, 1, func(a *cf.Asm) {
		a.Field(cf.OpGetstatic, "Base", "x", "I").Op(cf.OpPop)
	})
	initSub := runnable("InitSub", 1, 1, func(a *cf.Asm) {
		a.Field(cf.OpGetstatic, "Sub", "y", "I").Op(cf.OpPop)
	})

	main := cf.NewClass("Main", types.ObjectClass)
	code := startThread(main.Code(), "InitBase")
	startThread(code, "InitSub").Op(cf.OpReturn)
	mainMethod(main, 4, 1, code)

	v, out := newTestVM(t, "Main", main.MustBuild(), order.MustBuild(),
		orderedInit("Base", types.ObjectClass, "x", 1, true), orderedInit("Sub", "Base", "y", 2, false),
		initBase.MustBuild(), initSub.MustBuild())
	rec := &choiceRecorder{}
	v.AddListener(rec)
	e := explore(t, v, out, staticInt(v, "Order", "log"))
	if len(e.violations) != 0 {
		t.Fatalf("unexpected violations: %v", e.violations)
	}
	if got, want := fmt.Sprint(e.endKeys()), "[12]"; got != want {
		t.Errorf("initialization order: got %s, want %s", got, want)
	}
	if rec.ids[ChoiceClinit] == 0 {
		t.Errorf("no %s choice registered, got %v", ChoiceClinit, rec.ids)
	}
}
