package classfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

type writer struct {
	buf bytes.Buffer
}

func (w *writer) u1(v uint8)  { w.buf.WriteByte(v) }
func (w *writer) u2(v uint16) { w.buf.Write([]byte{byte(v >> 8), byte(v)}) }
func (w *writer) u4(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}
func (w *writer) u8(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

// encodeCode lays out a Code attribute body. lineTable is the pool index of
// the "LineNumberTable" name and is only used when c has line numbers.
func encodeCode(c *CodeAttribute, lineTable uint16) []byte {
	w := &writer{}
	w.u2(c.MaxStack)
	w.u2(c.MaxLocals)
	w.u4(uint32(len(c.Code)))
	w.buf.Write(c.Code)
	w.u2(uint16(len(c.ExceptionHandlers)))
	for _, h := range c.ExceptionHandlers {
		w.u2(h.StartPC)
		w.u2(h.EndPC)
		w.u2(h.HandlerPC)
		w.u2(h.CatchType)
	}
	if len(c.LineNumbers) == 0 {
		w.u2(0)
		return w.buf.Bytes()
	}
	w.u2(1)
	w.u2(lineTable)
	w.u4(uint32(2 + 4*len(c.LineNumbers)))
	w.u2(uint16(len(c.LineNumbers)))
	for _, ln := range c.LineNumbers {
		w.u2(ln.StartPC)
		w.u2(ln.Line)
	}
	return w.buf.Bytes()
}

func utf8Index(pool []ConstantPoolEntry, s string) (uint16, error) {
	for i, e := range pool {
		if u, ok := e.(*ConstantUtf8); ok && u.Value == s {
			return uint16(i), nil
		}
	}
	return 0, fmt.Errorf("no Utf8 constant %q in pool", s)
}

// Encode serializes cf into class file bytes. Attribute names and member
// names must already be present in the constant pool.
func Encode(cf *ClassFile) ([]byte, error) {
	w := &writer{}
	w.u4(classMagic)
	w.u2(cf.MinorVersion)
	w.u2(cf.MajorVersion)

	w.u2(uint16(len(cf.ConstantPool)))
	for i := 1; i < len(cf.ConstantPool); i++ {
		e := cf.ConstantPool[i]
		if e == nil {
			return nil, fmt.Errorf("empty constant pool slot %d", i)
		}
		w.u1(e.Tag())
		switch c := e.(type) {
		case *ConstantUtf8:
			w.u2(uint16(len(c.Value)))
			w.buf.WriteString(c.Value)
		case *ConstantInteger:
			w.u4(uint32(c.Value))
		case *ConstantFloat:
			w.u4(math.Float32bits(c.Value))
		case *ConstantLong:
			w.u8(uint64(c.Value))
			i++
		case *ConstantDouble:
			w.u8(math.Float64bits(c.Value))
			i++
		case *ConstantClass:
			w.u2(c.NameIndex)
		case *ConstantString:
			w.u2(c.StringIndex)
		case *ConstantMemberref:
			w.u2(c.ClassIndex)
			w.u2(c.NameAndTypeIndex)
		case *ConstantNameAndType:
			w.u2(c.NameIndex)
			w.u2(c.DescriptorIndex)
		case *ConstantMethodHandle:
			w.u1(c.RefKind)
			w.u2(c.RefIndex)
		case *ConstantMethodType:
			w.u2(c.DescriptorIndex)
		case *ConstantDynamic:
			w.u2(c.BootstrapIndex)
			w.u2(c.NameAndTypeIndex)
		default:
			return nil, fmt.Errorf("cannot encode constant pool entry %d (tag=%d)", i, e.Tag())
		}
	}

	w.u2(cf.AccessFlags)
	w.u2(cf.ThisClass)
	w.u2(cf.SuperClass)
	w.u2(uint16(len(cf.Interfaces)))
	for _, i := range cf.Interfaces {
		w.u2(i)
	}

	member := func(flags uint16, name, desc string, attrs []AttributeInfo) error {
		ni, err := utf8Index(cf.ConstantPool, name)
		if err != nil {
			return err
		}
		di, err := utf8Index(cf.ConstantPool, desc)
		if err != nil {
			return err
		}
		w.u2(flags)
		w.u2(ni)
		w.u2(di)
		return writeAttributes(w, cf.ConstantPool, attrs)
	}

	w.u2(uint16(len(cf.Fields)))
	for _, f := range cf.Fields {
		if err := member(f.AccessFlags, f.Name, f.Descriptor, f.Attributes); err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
	}
	w.u2(uint16(len(cf.Methods)))
	for _, m := range cf.Methods {
		if err := member(m.AccessFlags, m.Name, m.Descriptor, m.Attributes); err != nil {
			return nil, fmt.Errorf("method %s: %w", m.Name, err)
		}
	}
	if err := writeAttributes(w, cf.ConstantPool, cf.Attributes); err != nil {
		return nil, fmt.Errorf("class attributes: %w", err)
	}
	return w.buf.Bytes(), nil
}

func writeAttributes(w *writer, pool []ConstantPoolEntry, attrs []AttributeInfo) error {
	w.u2(uint16(len(attrs)))
	for _, a := range attrs {
		idx, err := utf8Index(pool, a.Name)
		if err != nil {
			return err
		}
		w.u2(idx)
		w.u4(uint32(len(a.Data)))
		w.buf.Write(a.Data)
	}
	return nil
}

// WriteTo encodes cf and writes it to out.
func WriteTo(out io.Writer, cf *ClassFile) error {
	b, err := Encode(cf)
	if err != nil {
		return err
	}
	_, err = out.Write(b)
	return err
}
