package classfile

import (
	"fmt"
	"math"
)

// Constant pool entry tags.
const (
	TagUtf8               = 1
	TagInteger            = 3
	TagFloat              = 4
	TagLong               = 5
	TagDouble             = 6
	TagClass              = 7
	TagString             = 8
	TagFieldref           = 9
	TagMethodref          = 10
	TagInterfaceMethodref = 11
	TagNameAndType        = 12
	TagMethodHandle       = 15
	TagMethodType         = 16
	TagDynamic            = 17
	TagInvokeDynamic      = 18
)

// ConstantPoolEntry is one decoded pool slot.
type ConstantPoolEntry interface {
	Tag() uint8
}

type (
	ConstantUtf8    struct{ Value string }
	ConstantInteger struct{ Value int32 }
	ConstantFloat   struct{ Value float32 }
	ConstantLong    struct{ Value int64 }
	ConstantDouble  struct{ Value float64 }
	ConstantClass   struct{ NameIndex uint16 }
	ConstantString  struct{ StringIndex uint16 }

	// ConstantMemberref is a Fieldref, Methodref or InterfaceMethodref.
	ConstantMemberref struct {
		tag              uint8
		ClassIndex       uint16
		NameAndTypeIndex uint16
	}

	ConstantNameAndType struct {
		NameIndex       uint16
		DescriptorIndex uint16
	}
)

func (*ConstantUtf8) Tag() uint8         { return TagUtf8 }
func (*ConstantInteger) Tag() uint8      { return TagInteger }
func (*ConstantFloat) Tag() uint8        { return TagFloat }
func (*ConstantLong) Tag() uint8         { return TagLong }
func (*ConstantDouble) Tag() uint8       { return TagDouble }
func (*ConstantClass) Tag() uint8        { return TagClass }
func (*ConstantString) Tag() uint8       { return TagString }
func (c *ConstantMemberref) Tag() uint8  { return c.tag }
func (*ConstantNameAndType) Tag() uint8  { return TagNameAndType }
func (*ConstantMethodHandle) Tag() uint8 { return TagMethodHandle }
func (*ConstantMethodType) Tag() uint8   { return TagMethodType }
func (c *ConstantDynamic) Tag() uint8    { return c.tag }

// parseConstantPool decodes count-1 entries into a pool indexed from 1.
// Long and double entries leave the following slot nil.
func parseConstantPool(r *reader, count uint16) ([]ConstantPoolEntry, error) {
	pool := make([]ConstantPoolEntry, count)
	for i := 1; i < int(count); i++ {
		tag := r.u1()
		e, wide := decodeEntry(r, tag)
		if r.err != nil {
			return nil, fmt.Errorf("entry %d (tag=%d): %w", i, tag, r.err)
		}
		if e == nil {
			return nil, fmt.Errorf("unknown constant pool tag %d at index %d", tag, i)
		}
		pool[i] = e
		if wide {
			i++
		}
	}
	return pool, nil
}

func decodeEntry(r *reader, tag uint8) (e ConstantPoolEntry, wide bool) {
	switch tag {
	case TagUtf8:
		return &ConstantUtf8{Value: string(r.bytes(int(r.u2())))}, false
	case TagInteger:
		return &ConstantInteger{Value: int32(r.u4())}, false
	case TagFloat:
		return &ConstantFloat{Value: math.Float32frombits(r.u4())}, false
	case TagLong:
		return &ConstantLong{Value: int64(r.u8())}, true
	case TagDouble:
		return &ConstantDouble{Value: math.Float64frombits(r.u8())}, true
	case TagClass:
		return &ConstantClass{NameIndex: r.u2()}, false
	case TagString:
		return &ConstantString{StringIndex: r.u2()}, false
	case TagFieldref, TagMethodref, TagInterfaceMethodref:
		c := &ConstantMemberref{tag: tag}
		c.ClassIndex, c.NameAndTypeIndex = r.u2(), r.u2()
		return c, false
	case TagNameAndType:
		c := &ConstantNameAndType{}
		c.NameIndex, c.DescriptorIndex = r.u2(), r.u2()
		return c, false
	case TagMethodHandle:
		c := &ConstantMethodHandle{}
		c.RefKind, c.RefIndex = r.u1(), r.u2()
		return c, false
	case TagMethodType:
		return &ConstantMethodType{DescriptorIndex: r.u2()}, false
	case TagDynamic, TagInvokeDynamic:
		c := &ConstantDynamic{tag: tag}
		c.BootstrapIndex, c.NameAndTypeIndex = r.u2(), r.u2()
		return c, false
	}
	return nil, false
}

// ConstantMethodHandle, ConstantMethodType and ConstantDynamic are decoded
// so pools stay indexable; the interpreter rejects instructions using them.
type ConstantMethodHandle struct {
	RefKind  uint8
	RefIndex uint16
}

type ConstantMethodType struct {
	DescriptorIndex uint16
}

// ConstantDynamic covers CONSTANT_Dynamic and CONSTANT_InvokeDynamic.
type ConstantDynamic struct {
	tag              uint8
	BootstrapIndex   uint16
	NameAndTypeIndex uint16
}

// entryAs fetches pool[index] as a T.
func entryAs[T ConstantPoolEntry](pool []ConstantPoolEntry, index uint16, kind string) (T, error) {
	var zero T
	if int(index) >= len(pool) || pool[index] == nil {
		return zero, fmt.Errorf("invalid constant pool index %d", index)
	}
	e, ok := pool[index].(T)
	if !ok {
		return zero, fmt.Errorf("constant pool index %d is %s, not %s", index, tagName(pool[index].Tag()), kind)
	}
	return e, nil
}

func tagName(tag uint8) string {
	switch tag {
	case TagUtf8:
		return "Utf8"
	case TagInteger:
		return "Integer"
	case TagFloat:
		return "Float"
	case TagLong:
		return "Long"
	case TagDouble:
		return "Double"
	case TagClass:
		return "Class"
	case TagString:
		return "String"
	case TagFieldref:
		return "Fieldref"
	case TagMethodref:
		return "Methodref"
	case TagInterfaceMethodref:
		return "InterfaceMethodref"
	case TagNameAndType:
		return "NameAndType"
	case TagMethodHandle:
		return "MethodHandle"
	case TagMethodType:
		return "MethodType"
	case TagDynamic:
		return "Dynamic"
	case TagInvokeDynamic:
		return "InvokeDynamic"
	}
	return fmt.Sprintf("tag %d", tag)
}

// GetUtf8 returns the string of a CONSTANT_Utf8 entry.
func GetUtf8(pool []ConstantPoolEntry, index uint16) (string, error) {
	u, err := entryAs[*ConstantUtf8](pool, index, "Utf8")
	if err != nil {
		return "", err
	}
	return u.Value, nil
}

// GetClassName returns the internal name a CONSTANT_Class entry refers to.
func GetClassName(pool []ConstantPoolEntry, index uint16) (string, error) {
	c, err := entryAs[*ConstantClass](pool, index, "Class")
	if err != nil {
		return "", err
	}
	return GetUtf8(pool, c.NameIndex)
}

// MemberRef holds a resolved field or method reference.
type MemberRef struct {
	ClassName  string
	Name       string
	Descriptor string
	Interface  bool
}

func (m *MemberRef) String() string {
	return m.ClassName + "." + m.Name + m.Descriptor
}

// ResolveMemberRef resolves a Fieldref, Methodref or InterfaceMethodref entry.
// want is the expected tag; 0 accepts any of the three.
func ResolveMemberRef(pool []ConstantPoolEntry, index uint16, want uint8) (*MemberRef, error) {
	ref, err := entryAs[*ConstantMemberref](pool, index, "a member ref")
	if err != nil {
		return nil, err
	}
	if want != 0 && ref.tag != want {
		return nil, fmt.Errorf("constant pool index %d is %s, not %s", index, tagName(ref.tag), tagName(want))
	}
	m := &MemberRef{Interface: ref.tag == TagInterfaceMethodref}
	if m.ClassName, err = GetClassName(pool, ref.ClassIndex); err != nil {
		return nil, fmt.Errorf("member class: %w", err)
	}
	nat, err := entryAs[*ConstantNameAndType](pool, ref.NameAndTypeIndex, "NameAndType")
	if err != nil {
		return nil, err
	}
	if m.Name, err = GetUtf8(pool, nat.NameIndex); err != nil {
		return nil, fmt.Errorf("member name: %w", err)
	}
	if m.Descriptor, err = GetUtf8(pool, nat.DescriptorIndex); err != nil {
		return nil, fmt.Errorf("member descriptor: %w", err)
	}
	return m, nil
}
