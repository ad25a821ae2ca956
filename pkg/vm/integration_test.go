package vm

import (
	"strings"
	"testing"

	cf "github.com/javapathfinder/jpf-core-sub000/pkg/classfile"
	"github.com/javapathfinder/jpf-core-sub000/pkg/heap"
	"github.com/javapathfinder/jpf-core-sub000/pkg/types"
)

// defaultCtor adds a no-argument constructor calling super's.
func defaultCtor(b *cf.ClassBuilder, super string) {
	ctor := b.Code().Local(cf.OpAload, 0).
		Invoke(cf.OpInvokespecial, super, "<init>", "()V").
		Op(cf.OpReturn)
	b.Method(cf.AccPublic, "<init>", "()V", 1, 1, ctor)
}

// printInt emits System.out.println(int) for the int produced by value.
func printInt(a *cf.Asm, value func(a *cf.Asm)) *cf.Asm {
	a.Field(cf.OpGetstatic, types.SystemClass, "out", printStream)
	value(a)
	return a.Invoke(cf.OpInvokevirtual, types.PrintStreamClass, "println", "(I)V")
}

func printString(a *cf.Asm, s string) *cf.Asm {
	return a.Field(cf.OpGetstatic, types.SystemClass, "out", printStream).
		Ldc(s).
		Invoke(cf.OpInvokevirtual, types.PrintStreamClass, "println", "(Ljava/lang/String;)V")
}

func TestHello(t *testing.T) {
	b := cf.NewClass("Hello", types.ObjectClass)
	main := printString(b.Code(), "hello")
	printInt(main, func(a *cf.Asm) { a.Iconst(42) }).Op(cf.OpReturn)
	mainMethod(b, 2, 1, main)

	got := runProgram(t, "Hello", b.MustBuild())
	want := "hello\n42\n"
	if got != want {
		t.Errorf("Hello output:\ngot  %q\nwant %q", got, want)
	}
}

func TestFib(t *testing.T) {
	b := cf.NewClass("Fib", types.ObjectClass)
	fib := b.Code().
		Local(cf.OpIload, 0).Iconst(2).Jump(cf.OpIfIcmpge, "rec").
		Local(cf.OpIload, 0).Op(cf.OpIreturn).
		Label("rec").
		Local(cf.OpIload, 0).Op(cf.OpIconst1, cf.OpIsub).Invoke(cf.OpInvokestatic, "Fib", "fib", "(I)I").
		Local(cf.OpIload, 0).Op(cf.OpIconst2, cf.OpIsub).Invoke(cf.OpInvokestatic, "Fib", "fib", "(I)I").
		Op(cf.OpIadd, cf.OpIreturn)
	b.Method(pubStatic, "fib", "(I)I", 3, 1, fib)
	main := printInt(b.Code(), func(a *cf.Asm) {
		a.Iconst(15).Invoke(cf.OpInvokestatic, "Fib", "fib", "(I)I")
	}).Op(cf.OpReturn)
	mainMethod(b, 2, 1, main)

	if got, want := runProgram(t, "Fib", b.MustBuild()), "610\n"; got != want {
		t.Errorf("Fib output: got %q, want %q", got, want)
	}
}

func TestInheritance(t *testing.T) {
	animal := cf.NewClass("Animal", types.ObjectClass)
	defaultCtor(animal, types.ObjectClass)
	animal.Method(cf.AccPublic, "sound", "()I", 1, 1, animal.Code().Op(cf.OpIconst1, cf.OpIreturn))

	dog := cf.NewClass("Dog", "Animal")
	defaultCtor(dog, "Animal")
	dog.Method(cf.AccPublic, "sound", "()I", 1, 1, dog.Code().Op(cf.OpIconst2, cf.OpIreturn))
	base := dog.Code().Local(cf.OpAload, 0).Invoke(cf.OpInvokespecial, "Animal", "sound", "()I").Op(cf.OpIreturn)
	dog.Method(cf.AccPublic, "base", "()I", 1, 1, base)

	main := cf.NewClass("Main", types.ObjectClass)
	code := main.Code().
		Class(cf.OpNew, "Dog").Op(cf.OpDup).Invoke(cf.OpInvokespecial, "Dog", "<init>", "()V").
		Local(cf.OpAstore, 1)
	printInt(code, func(a *cf.Asm) { a.Local(cf.OpAload, 1).Invoke(cf.OpInvokevirtual, "Animal", "sound", "()I") })
	printInt(code, func(a *cf.Asm) { a.Local(cf.OpAload, 1).Invoke(cf.OpInvokevirtual, "Dog", "base", "()I") })
	code.Op(cf.OpReturn)
	mainMethod(main, 3, 2, code)

	got := runProgram(t, "Main", main.MustBuild(), animal.MustBuild(), dog.MustBuild())
	if want := "2\n1\n"; got != want {
		t.Errorf("Inheritance output:\ngot  %q\nwant %q", got, want)
	}
}

func TestInterface(t *testing.T) {
	shape := cf.NewClass("Shape", types.ObjectClass).Flags(cf.AccPublic | cf.AccInterface | cf.AccAbstract)
	shape.Method(cf.AccPublic|cf.AccAbstract, "area", "()I", 0, 0, nil)

	square := cf.NewClass("Square", types.ObjectClass).Implements("Shape")
	square.Field(cf.AccPrivate, "side", "I")
	ctor := square.Code().
		Local(cf.OpAload, 0).Invoke(cf.OpInvokespecial, types.ObjectClass, "<init>", "()V").
		Local(cf.OpAload, 0).Local(cf.OpIload, 1).Field(cf.OpPutfield, "Square", "side", "I").
		Op(cf.OpReturn)
	square.Method(cf.AccPublic, "<init>", "(I)V", 2, 2, ctor)
	area := square.Code().
		Local(cf.OpAload, 0).Field(cf.OpGetfield, "Square", "side", "I").
		Op(cf.OpDup, cf.OpImul, cf.OpIreturn)
	square.Method(cf.AccPublic, "area", "()I", 2, 1, area)

	main := cf.NewClass("Main", types.ObjectClass)
	code := printInt(main.Code(), func(a *cf.Asm) {
		a.Class(cf.OpNew, "Square").Op(cf.OpDup).Iconst(5).
			Invoke(cf.OpInvokespecial, "Square", "<init>", "(I)V").
			Class(cf.OpCheckcast, "Shape").
			Invoke(cf.OpInvokeinterface, "Shape", "area", "()I")
	}).Op(cf.OpReturn)
	mainMethod(main, 4, 1, code)

	got := runProgram(t, "Main", main.MustBuild(), shape.MustBuild(), square.MustBuild())
	if want := "25\n"; got != want {
		t.Errorf("Interface output: got %q, want %q", got, want)
	}
}

func TestTryCatch(t *testing.T) {
	b := cf.NewClass("Main", types.ObjectClass)
	main := b.Code().
		Label("start").
		Class(cf.OpNew, "java/lang/RuntimeException").Op(cf.OpDup).Ldc("boom").
		Invoke(cf.OpInvokespecial, "java/lang/RuntimeException", "<init>", "(Ljava/lang/String;)V").
		Op(cf.OpAthrow).
		Label("handler").
		Local(cf.OpAstore, 1).
		Field(cf.OpGetstatic, types.SystemClass, "out", printStream).
		Local(cf.OpAload, 1).Invoke(cf.OpInvokevirtual, types.ThrowableClass, "getMessage", "()Ljava/lang/String;").
		Invoke(cf.OpInvokevirtual, types.PrintStreamClass, "println", "(Ljava/lang/String;)V").
		Op(cf.OpReturn).
		Catch("start", "handler", "handler", "java/lang/Exception")
	mainMethod(b, 3, 2, main)

	if got, want := runProgram(t, "Main", b.MustBuild()), "boom\n"; got != want {
		t.Errorf("TryCatch output: got %q, want %q", got, want)
	}
}

// TestExceptionAcrossFrames throws in a callee and catches in main; the
// callee's frame is unwound.
func TestExceptionAcrossFrames(t *testing.T) {
	b := cf.NewClass("Main", types.ObjectClass)
	b.Method(pubStatic, "fail", "()I", 2, 0, b.Code().Op(cf.OpIconst1, cf.OpIconst0, cf.OpIdiv, cf.OpIreturn))
	main := b.Code().
		Label("start").
		Invoke(cf.OpInvokestatic, "Main", "fail", "()I").Op(cf.OpPop, cf.OpReturn).
		Label("handler").Op(cf.OpPop)
	printString(main, "caught").Op(cf.OpReturn).
		Catch("start", "handler", "handler", types.ArithmeticClass)
	mainMethod(b, 2, 1, main)

	if got, want := runProgram(t, "Main", b.MustBuild()), "caught\n"; got != want {
		t.Errorf("output: got %q, want %q", got, want)
	}
}

func TestStaticInitializer(t *testing.T) {
	c := cf.NewClass("C", types.ObjectClass)
	c.Field(cf.AccStatic, "v", "I")
	clinit := printString(c.Code(), "init").
		Iconst(7).Field(cf.OpPutstatic, "C", "v", "I").
		Op(cf.OpReturn)
	c.Method(cf.AccStatic, "<clinit>", "()V", 2, 0, clinit)

	main := cf.NewClass("Main", types.ObjectClass)
	code := printString(main.Code(), "main")
	printInt(code, func(a *cf.Asm) { a.Field(cf.OpGetstatic, "C", "v", "I") })
	printInt(code, func(a *cf.Asm) { a.Field(cf.OpGetstatic, "C", "v", "I") }).Op(cf.OpReturn)
	mainMethod(main, 2, 1, code)

	got := runProgram(t, "Main", main.MustBuild(), c.MustBuild())
	if want := "main\ninit\n7\n7\n"; got != want {
		t.Errorf("StaticInitializer output:\ngot  %q\nwant %q", got, want)
	}
}

func TestConstantValue(t *testing.T) {
	c := cf.NewClass("C", types.ObjectClass)
	c.Constant(0, "K", "I", int32(41))
	c.Constant(0, "S", "Ljava/lang/String;", "hi")
	// <clinit> observes the preset value.
	clinit := printInt(c.Code(), func(a *cf.Asm) { a.Field(cf.OpGetstatic, "C", "K", "I") }).Op(cf.OpReturn)
	c.Method(cf.AccStatic, "<clinit>", "()V", 2, 0, clinit)

	main := cf.NewClass("Main", types.ObjectClass)
	code := main.Code().
		Field(cf.OpGetstatic, types.SystemClass, "out", printStream).
		Field(cf.OpGetstatic, "C", "S", "Ljava/lang/String;").
		Invoke(cf.OpInvokevirtual, types.PrintStreamClass, "println", "(Ljava/lang/String;)V").
		Op(cf.OpReturn)
	mainMethod(main, 2, 1, code)

	got := runProgram(t, "Main", main.MustBuild(), c.MustBuild())
	if want := "41\nhi\n"; got != want {
		t.Errorf("ConstantValue output:\ngot  %q\nwant %q", got, want)
	}
}

func TestSynchronizedReentrant(t *testing.T) {
	b := cf.NewClass("Main", types.ObjectClass)
	// count(n) is synchronized on the class and recurses n times.
	count := b.Code().
		Local(cf.OpIload, 0).Jump(cf.OpIfne, "rec").
		Op(cf.OpIconst0, cf.OpIreturn).
		Label("rec").
		Local(cf.OpIload, 0).Op(cf.OpIconst1, cf.OpIsub).Invoke(cf.OpInvokestatic, "Main", "count", "(I)I").
		Op(cf.OpIconst1, cf.OpIadd, cf.OpIreturn)
	b.Method(pubStatic|cf.AccSynchronized, "count", "(I)I", 2, 1, count)
	main := b.Code().
		Class(cf.OpNew, types.ObjectClass).Op(cf.OpDup).Invoke(cf.OpInvokespecial, types.ObjectClass, "<init>", "()V").
		Local(cf.OpAstore, 1).
		Local(cf.OpAload, 1).Op(cf.OpMonitorenter).
		Local(cf.OpAload, 1).Op(cf.OpMonitorenter).
		Local(cf.OpAload, 1).Invoke(cf.OpInvokevirtual, types.ObjectClass, "notify", "()V").
		Local(cf.OpAload, 1).Op(cf.OpMonitorexit).
		Local(cf.OpAload, 1).Op(cf.OpMonitorexit)
	printInt(main, func(a *cf.Asm) { a.Iconst(4).Invoke(cf.OpInvokestatic, "Main", "count", "(I)I") }).Op(cf.OpReturn)
	mainMethod(b, 2, 2, main)

	v, out := newTestVM(t, "Main", b.MustBuild())
	runPath(t, v)
	if viol := v.Violation(); viol != nil {
		t.Fatalf("unexpected violation: %v", viol)
	}
	if got, want := out.String(), "4\n"; got != want {
		t.Errorf("output: got %q, want %q", got, want)
	}
	v.Heap().Each(func(r *heap.Record) {
		if r.IsLocked() {
			t.Errorf("%v still locked by thread %d", r, r.LockOwner())
		}
	})
}

func TestUncaughtException(t *testing.T) {
	b := cf.NewClass("Main", types.ObjectClass)
	main := printString(b.Code(), "before").
		Op(cf.OpIconst1, cf.OpIconst0, cf.OpIdiv, cf.OpPop)
	printString(main, "after").Op(cf.OpReturn)
	mainMethod(b, 2, 1, main)

	v, out := newTestVM(t, "Main", b.MustBuild())
	runPath(t, v)
	viol := v.Violation()
	if viol == nil {
		t.Fatal("no violation for uncaught exception")
	}
	if got, want := viol.Property, (NoUncaughtExceptions{}).Name(); got != want {
		t.Errorf("property: got %s, want %s", got, want)
	}
	if !strings.Contains(viol.Message, "java.lang.ArithmeticException: / by zero") {
		t.Errorf("message %q does not name the exception", viol.Message)
	}
	if got, want := out.String(), "before\n"; got != want {
		t.Errorf("output: got %q, want %q", got, want)
	}
	if !v.IsEndState() {
		t.Error("state after uncaught exception is not an end state")
	}
}

func TestWaitWithoutLock(t *testing.T) {
	b := cf.NewClass("Main", types.ObjectClass)
	main := b.Code().
		Class(cf.OpNew, types.ObjectClass).Op(cf.OpDup).Invoke(cf.OpInvokespecial, types.ObjectClass, "<init>", "()V").
		Invoke(cf.OpInvokevirtual, types.ObjectClass, "wait", "()V").
		Op(cf.OpReturn)
	mainMethod(b, 2, 1, main)

	v, _ := newTestVM(t, "Main", b.MustBuild())
	runPath(t, v)
	viol := v.Violation()
	if viol == nil || !strings.Contains(viol.Message, "IllegalMonitorStateException") {
		t.Fatalf("violation: got %v, want an uncaught IllegalMonitorStateException", viol)
	}
}

func TestStackOverflow(t *testing.T) {
	b := cf.NewClass("Main", types.ObjectClass)
	b.Method(pubStatic, "r", "()V", 0, 0, b.Code().Invoke(cf.OpInvokestatic, "Main", "r", "()V").Op(cf.OpReturn))
	mainMethod(b, 0, 1, b.Code().Invoke(cf.OpInvokestatic, "Main", "r", "()V").Op(cf.OpReturn))

	v, _ := newTestVM(t, "Main", b.MustBuild())
	runPath(t, v)
	viol := v.Violation()
	if viol == nil || !strings.Contains(viol.Message, "StackOverflowError") {
		t.Fatalf("violation: got %v, want an uncaught StackOverflowError", viol)
	}
}

func TestMissingClass(t *testing.T) {
	b := cf.NewClass("Main", types.ObjectClass)
	main := b.Code().
		Label("start").
		Class(cf.OpNew, "Missing").Op(cf.OpPop, cf.OpReturn).
		Label("handler").Op(cf.OpPop)
	printString(main, "no class").Op(cf.OpReturn).
		Catch("start", "handler", "handler", types.NoClassDefClass)
	mainMethod(b, 2, 1, main)

	if got, want := runProgram(t, "Main", b.MustBuild()), "no class\n"; got != want {
		t.Errorf("output: got %q, want %q", got, want)
	}
}

func TestInitializeErrors(t *testing.T) {
	noMain := cf.NewClass("NoMain", types.ObjectClass).MustBuild()
	cfg := DefaultConfig()
	cfg.Sources = []types.Source{types.MapSource{"NoMain": noMain}}
	for _, target := range []string{"NoMain", "Absent"} {
		cfg.Target = target
		v, err := New(cfg)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if err := v.Initialize(); err == nil {
			t.Errorf("Initialize(%s): got nil error", target)
		}
	}
}
