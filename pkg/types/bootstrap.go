package types

import (
	cf "github.com/javapathfinder/jpf-core-sub000/pkg/classfile"
)

// Model library class names the engine refers to directly.
const (
	ObjectClass       = "java/lang/Object"
	ClassClass        = "java/lang/Class"
	StringClass       = "java/lang/String"
	IntegerClass      = "java/lang/Integer"
	RunnableClass     = "java/lang/Runnable"
	ThreadClass       = "java/lang/Thread"
	ThreadGroupClass  = "java/lang/ThreadGroup"
	SystemClass       = "java/lang/System"
	PrintStreamClass  = "java/io/PrintStream"
	ThrowableClass    = "java/lang/Throwable"
	WeakRefClass      = "java/lang/ref/WeakReference"
	VerifyClass       = "gov/nasa/jpf/vm/Verify"
	NPEClass          = "java/lang/NullPointerException"
	AIOOBEClass       = "java/lang/ArrayIndexOutOfBoundsException"
	ArithmeticClass   = "java/lang/ArithmeticException"
	NegativeSizeClass = "java/lang/NegativeArraySizeException"
	ClassCastClass    = "java/lang/ClassCastException"
	ArrayStoreClass   = "java/lang/ArrayStoreException"
	IllegalMonitor    = "java/lang/IllegalMonitorStateException"
	IllegalThreadSt   = "java/lang/IllegalThreadStateException"
	InterruptedClass  = "java/lang/InterruptedException"
	NoClassDefClass   = "java/lang/NoClassDefFoundError"
	NoSuchMethodClass = "java/lang/NoSuchMethodError"
	NoSuchFieldClass  = "java/lang/NoSuchFieldError"
	AssertionClass    = "java/lang/AssertionError"
	StackOverflow     = "java/lang/StackOverflowError"
)

var immutableClasses = map[string]bool{
	StringClass:  true,
	IntegerClass: true,
	ClassClass:   true,
}

var exceptionHierarchy = [][2]string{
	{"java/lang/Exception", ThrowableClass},
	{"java/lang/Error", ThrowableClass},
	{"java/lang/RuntimeException", "java/lang/Exception"},
	{NPEClass, "java/lang/RuntimeException"},
	{AIOOBEClass, "java/lang/RuntimeException"},
	{ArithmeticClass, "java/lang/RuntimeException"},
	{NegativeSizeClass, "java/lang/RuntimeException"},
	{ClassCastClass, "java/lang/RuntimeException"},
	{ArrayStoreClass, "java/lang/RuntimeException"},
	{IllegalMonitor, "java/lang/RuntimeException"},
	{IllegalThreadSt, "java/lang/RuntimeException"},
	{InterruptedClass, "java/lang/Exception"},
	{NoClassDefClass, "java/lang/Error"},
	{NoSuchMethodClass, "java/lang/Error"},
	{NoSuchFieldClass, "java/lang/Error"},
	{AssertionClass, "java/lang/Error"},
	{StackOverflow, "java/lang/Error"},
}

var bootstrapNames = func() map[string]struct{} {
	m := map[string]struct{}{}
	for _, b := range Bootstrap() {
		name, _ := b.ClassName()
		m[name] = struct{}{}
	}
	return m
}()

const (
	pub    = cf.AccPublic
	static = cf.AccStatic
	native = cf.AccNative
	final  = cf.AccFinal
)

// superCtor emits "aload_0; invokespecial super.<init>()V".
func superCtor(a *cf.Asm, super string) *cf.Asm {
	return a.Local(cf.OpAload, 0).Invoke(cf.OpInvokespecial, super, "<init>", "()V")
}

func defaultCtor(b *cf.ClassBuilder, super string) {
	b.Method(pub, "<init>", "()V", 1, 1, superCtor(b.Code(), super).Op(cf.OpReturn))
}

func getter(b *cf.ClassBuilder, class, method, field, desc string, ret byte) {
	code := b.Code().Local(cf.OpAload, 0).Field(cf.OpGetfield, class, field, desc).Op(ret)
	b.Method(pub, method, "()"+desc, 1, 1, code)
}

// Bootstrap returns the class files of the model library. Native methods are
// implemented by the VM's peer table.
func Bootstrap() []*cf.ClassFile {
	files := []*cf.ClassFile{
		objectClass(), classClass(), stringClass(), integerClass(), runnableClass(),
		threadClass(), threadGroupClass(), systemClass(), printStreamClass(),
		throwableClass(), weakRefClass(), verifyClass(),
	}
	for _, e := range exceptionHierarchy {
		files = append(files, exceptionClass(e[0], e[1]))
	}
	return files
}

func objectClass() *cf.ClassFile {
	b := cf.NewClass(ObjectClass, "")
	b.Method(pub, "<init>", "()V", 0, 1, b.Code().Op(cf.OpReturn))
	eq := b.Code().
		Local(cf.OpAload, 0).Local(cf.OpAload, 1).Jump(cf.OpIfAcmpne, "ne").
		Iconst(1).Op(cf.OpIreturn).
		Label("ne").Iconst(0).Op(cf.OpIreturn)
	b.Method(pub, "equals", "(Ljava/lang/Object;)Z", 2, 2, eq)
	b.Native(pub, "hashCode", "()I")
	b.Native(pub|final, "getClass", "()Ljava/lang/Class;")
	b.Native(pub, "toString", "()Ljava/lang/String;")
	b.Native(pub|final, "wait", "()V")
	b.Native(pub|final, "wait", "(J)V")
	b.Native(pub|final, "notify", "()V")
	b.Native(pub|final, "notifyAll", "()V")
	return b.MustBuild()
}

func classClass() *cf.ClassFile {
	b := cf.NewClass(ClassClass, ObjectClass).Flags(pub | final | cf.AccSuper)
	b.Field(cf.AccPrivate|final, "name", "Ljava/lang/String;")
	defaultCtor(b, ObjectClass)
	getter(b, ClassClass, "getName", "name", "Ljava/lang/String;", cf.OpAreturn)
	return b.MustBuild()
}

func stringClass() *cf.ClassFile {
	b := cf.NewClass(StringClass, ObjectClass).Flags(pub | final | cf.AccSuper)
	b.Field(cf.AccPrivate|final, "value", "[C")
	defaultCtor(b, ObjectClass)
	b.Native(pub, "length", "()I")
	b.Native(pub, "charAt", "(I)C")
	b.Native(pub, "equals", "(Ljava/lang/Object;)Z")
	b.Native(pub, "hashCode", "()I")
	b.Native(pub, "concat", "(Ljava/lang/String;)Ljava/lang/String;")
	b.Native(pub, "intern", "()Ljava/lang/String;")
	b.Native(pub|static, "valueOf", "(I)Ljava/lang/String;")
	b.Native(pub|static, "valueOf", "(Ljava/lang/Object;)Ljava/lang/String;")
	b.Method(pub, "toString", "()Ljava/lang/String;", 1, 1, b.Code().Local(cf.OpAload, 0).Op(cf.OpAreturn))
	return b.MustBuild()
}

func integerClass() *cf.ClassFile {
	b := cf.NewClass(IntegerClass, ObjectClass).Flags(pub | final | cf.AccSuper)
	b.Field(cf.AccPrivate|final, "value", "I")
	ctor := superCtor(b.Code(), ObjectClass).
		Local(cf.OpAload, 0).Local(cf.OpIload, 1).Field(cf.OpPutfield, IntegerClass, "value", "I").
		Op(cf.OpReturn)
	b.Method(pub, "<init>", "(I)V", 2, 2, ctor)
	valueOf := b.Code().
		Class(cf.OpNew, IntegerClass).Op(cf.OpDup).Local(cf.OpIload, 0).
		Invoke(cf.OpInvokespecial, IntegerClass, "<init>", "(I)V").
		Op(cf.OpAreturn)
	b.Method(pub|static, "valueOf", "(I)Ljava/lang/Integer;", 3, 1, valueOf)
	getter(b, IntegerClass, "intValue", "value", "I", cf.OpIreturn)
	getter(b, IntegerClass, "hashCode", "value", "I", cf.OpIreturn)
	b.Native(pub, "equals", "(Ljava/lang/Object;)Z")
	b.Native(pub, "toString", "()Ljava/lang/String;")
	return b.MustBuild()
}

func runnableClass() *cf.ClassFile {
	b := cf.NewClass(RunnableClass, ObjectClass).Flags(pub | cf.AccInterface | cf.AccAbstract)
	b.Method(pub|cf.AccAbstract, "run", "()V", 0, 0, nil)
	return b.MustBuild()
}

func threadClass() *cf.ClassFile {
	const (
		runnable = "Ljava/lang/Runnable;"
		str      = "Ljava/lang/String;"
	)
	b := cf.NewClass(ThreadClass, ObjectClass).Implements(RunnableClass)
	b.Field(cf.AccPrivate, "name", str)
	b.Field(cf.AccPrivate, "target", runnable)
	b.Field(cf.AccPrivate, "group", "Ljava/lang/ThreadGroup;")
	b.Field(cf.AccPrivate, "priority", "I")
	b.Field(cf.AccPrivate, "daemon", "Z")
	b.Field(cf.AccPrivate, "interrupted", "Z")

	full := superCtor(b.Code(), ObjectClass).
		Local(cf.OpAload, 0).Iconst(5).Field(cf.OpPutfield, ThreadClass, "priority", "I").
		Local(cf.OpAload, 0).Local(cf.OpAload, 1).Field(cf.OpPutfield, ThreadClass, "target", runnable).
		Local(cf.OpAload, 0).Local(cf.OpAload, 2).Field(cf.OpPutfield, ThreadClass, "name", str).
		Local(cf.OpAload, 0).Invoke(cf.OpInvokespecial, ThreadClass, "register", "()V").
		Op(cf.OpReturn)
	b.Method(pub, "<init>", "("+runnable+str+")V", 2, 3, full)
	// delegate forwards to the full constructor; a negative local passes null.
	delegate := func(desc string, target, name int) {
		a := b.Code().Local(cf.OpAload, 0)
		for _, local := range []int{target, name} {
			if local < 0 {
				a.Op(cf.OpAconstNull)
			} else {
				a.Local(cf.OpAload, local)
			}
		}
		a.Invoke(cf.OpInvokespecial, ThreadClass, "<init>", "("+runnable+str+")V").Op(cf.OpReturn)
		b.Method(pub, "<init>", desc, 3, 2, a)
	}
	delegate("()V", -1, -1)
	delegate("("+runnable+")V", 1, -1)
	delegate("("+str+")V", -1, 1)
	b.Native(cf.AccPrivate, "register", "()V")

	run := b.Code().
		Local(cf.OpAload, 0).Field(cf.OpGetfield, ThreadClass, "target", runnable).
		Local(cf.OpAstore, 1).
		Local(cf.OpAload, 1).Jump(cf.OpIfnull, "done").
		Local(cf.OpAload, 1).Invoke(cf.OpInvokeinterface, RunnableClass, "run", "()V").
		Label("done").Op(cf.OpReturn)
	b.Method(pub, "run", "()V", 1, 2, run)

	join := b.Code().
		Label("loop").
		Local(cf.OpAload, 0).Invoke(cf.OpInvokevirtual, ThreadClass, "isAlive", "()Z").
		Jump(cf.OpIfeq, "done").
		Local(cf.OpAload, 0).Invoke(cf.OpInvokevirtual, ObjectClass, "wait", "()V").
		Jump(cf.OpGoto, "loop").
		Label("done").Op(cf.OpReturn)
	b.Method(pub|final|cf.AccSynchronized, "join", "()V", 1, 1, join)

	getter(b, ThreadClass, "getName", "name", str, cf.OpAreturn)
	setDaemon := b.Code().
		Local(cf.OpAload, 0).Local(cf.OpIload, 1).Field(cf.OpPutfield, ThreadClass, "daemon", "Z").
		Op(cf.OpReturn)
	b.Method(pub|final, "setDaemon", "(Z)V", 2, 2, setDaemon)

	b.Native(pub, "start", "()V")
	b.Native(pub|final, "isAlive", "()Z")
	b.Native(pub, "interrupt", "()V")
	b.Native(pub, "isInterrupted", "()Z")
	b.Native(pub, "getId", "()J")
	b.Native(pub|static, "interrupted", "()Z")
	b.Native(pub|static, "currentThread", "()Ljava/lang/Thread;")
	b.Native(pub|static, "yield", "()V")
	b.Native(pub|static, "sleep", "(J)V")
	return b.MustBuild()
}

func threadGroupClass() *cf.ClassFile {
	b := cf.NewClass(ThreadGroupClass, ObjectClass)
	b.Field(cf.AccPrivate, "name", "Ljava/lang/String;")
	b.Field(cf.AccPrivate, "threads", "[Ljava/lang/Thread;")
	b.Field(cf.AccPrivate, "nthreads", "I")
	ctor := superCtor(b.Code(), ObjectClass).
		Local(cf.OpAload, 0).Local(cf.OpAload, 1).Field(cf.OpPutfield, ThreadGroupClass, "name", "Ljava/lang/String;").
		Op(cf.OpReturn)
	b.Method(pub, "<init>", "(Ljava/lang/String;)V", 2, 2, ctor)
	getter(b, ThreadGroupClass, "activeCount", "nthreads", "I", cf.OpIreturn)
	return b.MustBuild()
}

func systemClass() *cf.ClassFile {
	b := cf.NewClass(SystemClass, ObjectClass).Flags(pub | final | cf.AccSuper)
	b.Field(pub|static|final, "out", "Ljava/io/PrintStream;")
	clinit := b.Code().
		Class(cf.OpNew, PrintStreamClass).Op(cf.OpDup).
		Invoke(cf.OpInvokespecial, PrintStreamClass, "<init>", "()V").
		Field(cf.OpPutstatic, SystemClass, "out", "Ljava/io/PrintStream;").
		Op(cf.OpReturn)
	b.Method(static, "<clinit>", "()V", 2, 0, clinit)
	b.Native(pub|static, "arraycopy", "(Ljava/lang/Object;ILjava/lang/Object;II)V")
	b.Native(pub|static, "identityHashCode", "(Ljava/lang/Object;)I")
	b.Native(pub|static, "currentTimeMillis", "()J")
	return b.MustBuild()
}

func printStreamClass() *cf.ClassFile {
	b := cf.NewClass(PrintStreamClass, ObjectClass)
	defaultCtor(b, ObjectClass)
	for _, d := range []string{"()V", "(Ljava/lang/String;)V", "(Ljava/lang/Object;)V", "(I)V", "(J)V", "(Z)V", "(C)V", "(D)V"} {
		b.Native(pub, "println", d)
	}
	b.Native(pub, "print", "(Ljava/lang/String;)V")
	b.Native(pub, "print", "(I)V")
	return b.MustBuild()
}

func throwableClass() *cf.ClassFile {
	b := cf.NewClass(ThrowableClass, ObjectClass)
	b.Field(cf.AccPrivate, "detailMessage", "Ljava/lang/String;")
	exceptionCtors(b, ObjectClass, true)
	getter(b, ThrowableClass, "getMessage", "detailMessage", "Ljava/lang/String;", cf.OpAreturn)
	b.Native(pub, "printStackTrace", "()V")
	b.Native(pub, "toString", "()Ljava/lang/String;")
	return b.MustBuild()
}

// exceptionCtors adds ()V and (String)V constructors. The root class stores
// the message; subclasses delegate.
func exceptionCtors(b *cf.ClassBuilder, super string, root bool) {
	defaultCtor(b, super)
	withMsg := b.Code().Local(cf.OpAload, 0)
	if root {
		withMsg.Invoke(cf.OpInvokespecial, super, "<init>", "()V").
			Local(cf.OpAload, 0).Local(cf.OpAload, 1).
			Field(cf.OpPutfield, ThrowableClass, "detailMessage", "Ljava/lang/String;")
	} else {
		withMsg.Local(cf.OpAload, 1).Invoke(cf.OpInvokespecial, super, "<init>", "(Ljava/lang/String;)V")
	}
	b.Method(pub, "<init>", "(Ljava/lang/String;)V", 2, 2, withMsg.Op(cf.OpReturn))
}

func exceptionClass(name, super string) *cf.ClassFile {
	b := cf.NewClass(name, super)
	exceptionCtors(b, super, false)
	if name == AssertionClass {
		// javac emits new AssertionError(Object) for "assert c : detail".
		detail := superCtor(b.Code(), super).
			Local(cf.OpAload, 0).Local(cf.OpAload, 1).
			Field(cf.OpPutfield, ThrowableClass, "detailMessage", "Ljava/lang/String;").
			Op(cf.OpReturn)
		b.Method(pub, "<init>", "(Ljava/lang/Object;)V", 2, 2, detail)
	}
	return b.MustBuild()
}

func weakRefClass() *cf.ClassFile {
	b := cf.NewClass(WeakRefClass, ObjectClass)
	b.Field(cf.AccPrivate, "referent", "Ljava/lang/Object;")
	ctor := superCtor(b.Code(), ObjectClass).
		Local(cf.OpAload, 0).Local(cf.OpAload, 1).Field(cf.OpPutfield, WeakRefClass, "referent", "Ljava/lang/Object;").
		Op(cf.OpReturn)
	b.Method(pub, "<init>", "(Ljava/lang/Object;)V", 2, 2, ctor)
	getter(b, WeakRefClass, "get", "referent", "Ljava/lang/Object;", cf.OpAreturn)
	clear := b.Code().
		Local(cf.OpAload, 0).Op(cf.OpAconstNull).Field(cf.OpPutfield, WeakRefClass, "referent", "Ljava/lang/Object;").
		Op(cf.OpReturn)
	b.Method(pub, "clear", "()V", 2, 1, clear)
	return b.MustBuild()
}

func verifyClass() *cf.ClassFile {
	b := cf.NewClass(VerifyClass, ObjectClass)
	b.Native(pub|static, "getInt", "(II)I")
	b.Native(pub|static, "getBoolean", "()Z")
	b.Native(pub|static, "beginAtomic", "()V")
	b.Native(pub|static, "endAtomic", "()V")
	b.Native(pub|static, "ignoreIf", "(Z)V")
	b.Native(pub|static, "breakTransition", "()V")
	return b.MustBuild()
}
