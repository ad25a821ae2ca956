package classfile

// Access flags
const (
	AccPublic       = 0x0001
	AccPrivate      = 0x0002
	AccProtected    = 0x0004
	AccStatic       = 0x0008
	AccFinal        = 0x0010
	AccSuper        = 0x0020
	AccSynchronized = 0x0020
	AccVolatile     = 0x0040
	AccTransient    = 0x0080
	AccNative       = 0x0100
	AccInterface    = 0x0200
	AccAbstract     = 0x0400
)

// ClassFile is a decoded class file. Member names and descriptors are
// resolved while parsing; everything else refers into ConstantPool.
type ClassFile struct {
	MinorVersion uint16
	MajorVersion uint16
	ConstantPool []ConstantPoolEntry
	AccessFlags  uint16
	ThisClass    uint16
	SuperClass   uint16
	Interfaces   []uint16
	Fields       []FieldInfo
	Methods      []MethodInfo
	Attributes   []AttributeInfo

	// SourceFile is the SourceFile attribute, "" when absent.
	SourceFile string
}

// ClassName is the internal name of the class, e.g. "java/lang/Thread".
func (cf *ClassFile) ClassName() (string, error) {
	return GetClassName(cf.ConstantPool, cf.ThisClass)
}

// SuperClassName is the superclass's internal name; "" for a root class
// or an unresolvable index.
func (cf *ClassFile) SuperClassName() string {
	name, _ := GetClassName(cf.ConstantPool, cf.SuperClass)
	return name
}

// InterfaceNames resolves the direct superinterfaces.
func (cf *ClassFile) InterfaceNames() ([]string, error) {
	names := make([]string, len(cf.Interfaces))
	for i, idx := range cf.Interfaces {
		name, err := GetClassName(cf.ConstantPool, idx)
		if err != nil {
			return nil, err
		}
		names[i] = name
	}
	return names, nil
}

// FindMethod returns the declared method with the given name and
// descriptor, or nil.
func (cf *ClassFile) FindMethod(name, descriptor string) *MethodInfo {
	for i := range cf.Methods {
		if cf.Methods[i].Name == name && cf.Methods[i].Descriptor == descriptor {
			return &cf.Methods[i]
		}
	}
	return nil
}

// MethodInfo is a method declaration; Code is nil for native and abstract
// methods.
type MethodInfo struct {
	AccessFlags uint16
	Name        string
	Descriptor  string
	Attributes  []AttributeInfo
	Code        *CodeAttribute
}

type FieldInfo struct {
	AccessFlags uint16
	Name        string
	Descriptor  string
	Attributes  []AttributeInfo

	// ConstantValue indexes the pool entry a static field starts with, or
	// is zero.
	ConstantValue uint16
}

// AttributeInfo is an undecoded attribute body.
type AttributeInfo struct {
	Name string
	Data []byte
}

// ExceptionHandler covers [StartPC, EndPC). A zero CatchType catches all.
type ExceptionHandler struct {
	StartPC   uint16
	EndPC     uint16
	HandlerPC uint16
	CatchType uint16
}

type CodeAttribute struct {
	MaxStack          uint16
	MaxLocals         uint16
	Code              []byte
	ExceptionHandlers []ExceptionHandler
	LineNumbers       []LineNumber
}

// LineNumber maps the instructions from StartPC on to a source line.
type LineNumber struct {
	StartPC uint16
	Line    uint16
}

// LineAt returns the source line of pc, or 0 without line information.
func (c *CodeAttribute) LineAt(pc int) int {
	return LineAt(c.LineNumbers, pc)
}

// LineAt picks the entry with the greatest StartPC not after pc. Tables
// need not be sorted.
func LineAt(table []LineNumber, pc int) int {
	line, best := 0, -1
	for _, ln := range table {
		if start := int(ln.StartPC); start <= pc && start > best {
			line, best = int(ln.Line), start
		}
	}
	return line
}
