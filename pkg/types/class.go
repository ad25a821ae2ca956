package types

import (
	"strings"

	"github.com/javapathfinder/jpf-core-sub000/pkg/classfile"
)

// ClassInfo is the linked form of a class: resolved supertypes, field layout
// and method table. Layout is fixed once the class is linked.
type ClassInfo struct {
	ID         int
	Name       string
	Super      *ClassInfo
	Interfaces []*ClassInfo
	Flags      uint16
	File       *classfile.ClassFile

	// InstanceFields holds all instance fields including inherited ones,
	// indexed by FieldInfo.Offset.
	InstanceFields []*FieldInfo
	StaticFields   []*FieldInfo
	Methods        map[string]*MethodInfo

	// Component and ElemKind are set for array classes.
	Component *ClassInfo
	ElemKind  Kind

	// Immutable instances never change after construction (String, Integer).
	Immutable bool
	Bootstrap bool

	// Attrs carries cached policy decisions. Classes are not part of the
	// explored state, so this is plain mutable storage.
	Attrs Attributes
}

func (c *ClassInfo) String() string { return c.Name }

// SourceFile names the source the class was compiled from, if recorded.
func (c *ClassInfo) SourceFile() string {
	if c.File == nil {
		return ""
	}
	return c.File.SourceFile
}

func (c *ClassInfo) IsArray() bool     { return strings.HasPrefix(c.Name, "[") }
func (c *ClassInfo) IsInterface() bool { return c.Flags&classfile.AccInterface != 0 }
func (c *ClassInfo) IsAbstract() bool  { return c.Flags&classfile.AccAbstract != 0 }

// IsSubclassOf reports whether c is other, extends it or implements it.
func (c *ClassInfo) IsSubclassOf(other *ClassInfo) bool {
	for k := c; k != nil; k = k.Super {
		if k == other {
			return true
		}
		for _, i := range k.Interfaces {
			if i.IsSubclassOf(other) {
				return true
			}
		}
	}
	return false
}

// AssignableTo applies the checkcast/aastore compatibility rules.
func (c *ClassInfo) AssignableTo(target *ClassInfo) bool {
	if c.IsArray() && target.IsArray() {
		if c.Component == nil || target.Component == nil {
			return c.ElemKind == target.ElemKind && c.Component == nil && target.Component == nil
		}
		return c.Component.AssignableTo(target.Component)
	}
	return c.IsSubclassOf(target)
}

// FindMethod looks up name+descriptor along the superclass chain, then in
// superinterfaces.
func (c *ClassInfo) FindMethod(name, desc string) *MethodInfo {
	key := name + desc
	for k := c; k != nil; k = k.Super {
		if m, ok := k.Methods[key]; ok {
			return m
		}
	}
	for k := c; k != nil; k = k.Super {
		for _, i := range k.Interfaces {
			if m := i.FindMethod(name, desc); m != nil {
				return m
			}
		}
	}
	return nil
}

// DeclaredMethod returns a method declared by c itself.
func (c *ClassInfo) DeclaredMethod(name, desc string) *MethodInfo {
	return c.Methods[name+desc]
}

// Clinit returns the class initializer, if any.
func (c *ClassInfo) Clinit() *MethodInfo {
	return c.Methods["<clinit>()V"]
}

// InstanceField finds an instance field by name, innermost declaration first.
func (c *ClassInfo) InstanceField(name string) *FieldInfo {
	for i := len(c.InstanceFields) - 1; i >= 0; i-- {
		if c.InstanceFields[i].Name == name {
			return c.InstanceFields[i]
		}
	}
	return nil
}

// StaticField resolves a static field through superclasses and
// superinterfaces. The returned field's Class is the declaring class.
func (c *ClassInfo) StaticField(name string) *FieldInfo {
	for _, f := range c.StaticFields {
		if f.Name == name {
			return f
		}
	}
	for _, i := range c.Interfaces {
		if f := i.StaticField(name); f != nil {
			return f
		}
	}
	if c.Super != nil {
		return c.Super.StaticField(name)
	}
	return nil
}

// FieldInfo describes one field and its slot offset in the owning record.
type FieldInfo struct {
	Class      *ClassInfo
	Name       string
	Descriptor string
	Kind       Kind
	Flags      uint16
	Offset     int
	Attrs      Attributes

	// ConstantValue indexes the class pool entry a static final field is
	// preset to before <clinit> runs; zero means none.
	ConstantValue uint16
}

func (f *FieldInfo) IsStatic() bool   { return f.Flags&classfile.AccStatic != 0 }
func (f *FieldInfo) IsFinal() bool    { return f.Flags&classfile.AccFinal != 0 }
func (f *FieldInfo) IsVolatile() bool { return f.Flags&classfile.AccVolatile != 0 }

// FullName is "pkg/Class.field".
func (f *FieldInfo) FullName() string { return f.Class.Name + "." + f.Name }

func (f *FieldInfo) String() string { return f.FullName() }

// Handler is a linked exception table entry. An empty CatchType catches
// everything.
type Handler struct {
	Start, End, PC int
	CatchType      string
}

// MethodInfo is a linked method.
type MethodInfo struct {
	Class      *ClassInfo
	Name       string
	Descriptor string
	Flags      uint16
	Code       []byte
	MaxStack   int
	MaxLocals  int
	Handlers   []Handler
	Params     []Kind
	Return     Kind
	// ArgSlots counts local slots taken by arguments, including this.
	ArgSlots int
	Attrs    Attributes
	Lines    []classfile.LineNumber
}

func (m *MethodInfo) IsStatic() bool       { return m.Flags&classfile.AccStatic != 0 }
func (m *MethodInfo) IsNative() bool       { return m.Flags&classfile.AccNative != 0 }
func (m *MethodInfo) IsAbstract() bool     { return m.Flags&classfile.AccAbstract != 0 }
func (m *MethodInfo) IsSynchronized() bool { return m.Flags&classfile.AccSynchronized != 0 }
func (m *MethodInfo) IsInit() bool         { return m.Name == "<init>" }
func (m *MethodInfo) IsClinit() bool       { return m.Name == "<clinit>" }

// UniqueName is name+descriptor.
func (m *MethodInfo) UniqueName() string { return m.Name + m.Descriptor }

// FullName is "pkg/Class.name(desc)ret".
func (m *MethodInfo) FullName() string { return m.Class.Name + "." + m.Name + m.Descriptor }

func (m *MethodInfo) String() string { return m.FullName() }

// LineAt returns the source line of pc, or 0 if unknown.
func (m *MethodInfo) LineAt(pc int) int { return classfile.LineAt(m.Lines, pc) }

// Pool returns the constant pool the method's code indexes into.
func (m *MethodInfo) Pool() []classfile.ConstantPoolEntry {
	if m.Class.File == nil {
		return nil
	}
	return m.Class.File.ConstantPool
}

// HandlerFor returns the first handler covering pc whose catch type accepts
// exc, using resolve to look up catch type names.
func (m *MethodInfo) HandlerFor(pc int, exc *ClassInfo, resolve func(string) *ClassInfo) (Handler, bool) {
	for _, h := range m.Handlers {
		if pc < h.Start || pc >= h.End {
			continue
		}
		if h.CatchType == "" {
			return h, true
		}
		if ct := resolve(h.CatchType); ct != nil && exc.IsSubclassOf(ct) {
			return h, true
		}
	}
	return Handler{}, false
}
