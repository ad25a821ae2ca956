package classfile

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
)

const classMagic = 0xCAFEBABE

// ParseFile opens and parses a .class file from the given path.
func ParseFile(path string) (*ClassFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(bufio.NewReader(f))
}

// Parse reads a .class file from the given reader and returns a ClassFile.
func Parse(in io.Reader) (*ClassFile, error) {
	r := &reader{r: in}
	cf := &ClassFile{}

	if magic := r.u4(); r.err != nil {
		return nil, fmt.Errorf("reading magic number: %w", r.err)
	} else if magic != classMagic {
		return nil, fmt.Errorf("invalid magic number: 0x%X (expected 0xCAFEBABE)", magic)
	}

	cf.MinorVersion = r.u2()
	cf.MajorVersion = r.u2()
	cpCount := r.u2()
	if r.err != nil {
		return nil, fmt.Errorf("reading header: %w", r.err)
	}
	pool, err := parseConstantPool(r, cpCount)
	if err != nil {
		return nil, fmt.Errorf("parsing constant pool: %w", err)
	}
	cf.ConstantPool = pool

	cf.AccessFlags = r.u2()
	cf.ThisClass = r.u2()
	cf.SuperClass = r.u2()
	cf.Interfaces = make([]uint16, r.u2())
	for i := range cf.Interfaces {
		cf.Interfaces[i] = r.u2()
	}
	if r.err != nil {
		return nil, fmt.Errorf("reading class header: %w", r.err)
	}

	if cf.Fields, err = parseFields(r, pool); err != nil {
		return nil, fmt.Errorf("parsing fields: %w", err)
	}
	if cf.Methods, err = parseMethods(r, pool); err != nil {
		return nil, fmt.Errorf("parsing methods: %w", err)
	}

	if cf.Attributes, err = parseAttributeInfos(r, pool); err != nil {
		return nil, fmt.Errorf("parsing class attributes: %w", err)
	}
	for _, a := range cf.Attributes {
		if a.Name != "SourceFile" {
			continue
		}
		idx, err := attrIndex(a)
		if err == nil {
			cf.SourceFile, err = GetUtf8(pool, idx)
		}
		if err != nil {
			return nil, fmt.Errorf("SourceFile attribute: %w", err)
		}
	}

	return cf, nil
}

func parseMember(r *reader, pool []ConstantPoolEntry) (flags uint16, name, desc string, attrs []AttributeInfo, err error) {
	flags = r.u2()
	nameIndex := r.u2()
	descIndex := r.u2()
	if r.err != nil {
		return 0, "", "", nil, r.err
	}
	if name, err = GetUtf8(pool, nameIndex); err != nil {
		return 0, "", "", nil, fmt.Errorf("resolving name: %w", err)
	}
	if desc, err = GetUtf8(pool, descIndex); err != nil {
		return 0, "", "", nil, fmt.Errorf("resolving descriptor of %s: %w", name, err)
	}
	if attrs, err = parseAttributeInfos(r, pool); err != nil {
		return 0, "", "", nil, fmt.Errorf("attributes of %s: %w", name, err)
	}
	return flags, name, desc, attrs, nil
}

func parseFields(r *reader, pool []ConstantPoolEntry) ([]FieldInfo, error) {
	fields := make([]FieldInfo, r.u2())
	for i := range fields {
		flags, name, desc, attrs, err := parseMember(r, pool)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		f := FieldInfo{AccessFlags: flags, Name: name, Descriptor: desc, Attributes: attrs}
		for _, a := range attrs {
			if a.Name != "ConstantValue" {
				continue
			}
			if f.ConstantValue, err = attrIndex(a); err != nil {
				return nil, fmt.Errorf("field %s: %w", name, err)
			}
			if int(f.ConstantValue) >= len(pool) || pool[f.ConstantValue] == nil {
				return nil, fmt.Errorf("field %s: ConstantValue index %d out of range", name, f.ConstantValue)
			}
		}
		fields[i] = f
	}
	return fields, r.err
}

func parseMethods(r *reader, pool []ConstantPoolEntry) ([]MethodInfo, error) {
	methods := make([]MethodInfo, r.u2())
	for i := range methods {
		flags, name, desc, attrs, err := parseMember(r, pool)
		if err != nil {
			return nil, fmt.Errorf("method %d: %w", i, err)
		}
		m := MethodInfo{AccessFlags: flags, Name: name, Descriptor: desc, Attributes: attrs}
		for _, attr := range attrs {
			if attr.Name == "Code" {
				if m.Code, err = parseCodeAttribute(attr.Data, pool); err != nil {
					return nil, fmt.Errorf("parsing Code attribute for method %s: %w", name, err)
				}
				break
			}
		}
		methods[i] = m
	}
	return methods, r.err
}

func parseAttributeInfos(r *reader, pool []ConstantPoolEntry) ([]AttributeInfo, error) {
	attrs := make([]AttributeInfo, r.u2())
	for i := range attrs {
		nameIndex := r.u2()
		data := r.bytes(int(r.u4()))
		if r.err != nil {
			return nil, fmt.Errorf("reading attribute %d: %w", i, r.err)
		}
		name, err := GetUtf8(pool, nameIndex)
		if err != nil {
			return nil, fmt.Errorf("resolving attribute %d name: %w", i, err)
		}
		attrs[i] = AttributeInfo{Name: name, Data: data}
	}
	return attrs, r.err
}

// attrIndex decodes an attribute whose body is a single pool index.
func attrIndex(a AttributeInfo) (uint16, error) {
	if len(a.Data) != 2 {
		return 0, fmt.Errorf("%s attribute has length %d, want 2", a.Name, len(a.Data))
	}
	return uint16(a.Data[0])<<8 | uint16(a.Data[1]), nil
}

func parseCodeAttribute(data []byte, pool []ConstantPoolEntry) (*CodeAttribute, error) {
	r := &reader{r: bytes.NewReader(data)}
	c := &CodeAttribute{MaxStack: r.u2(), MaxLocals: r.u2()}
	n := r.u4()
	if r.err != nil {
		return nil, fmt.Errorf("Code attribute too short: %d bytes", len(data))
	}
	if uint64(n) > uint64(len(data)) {
		return nil, fmt.Errorf("Code attribute data too short for code_length %d", n)
	}
	c.Code = r.bytes(int(n))

	c.ExceptionHandlers = make([]ExceptionHandler, r.u2())
	for i := range c.ExceptionHandlers {
		c.ExceptionHandlers[i] = ExceptionHandler{StartPC: r.u2(), EndPC: r.u2(), HandlerPC: r.u2(), CatchType: r.u2()}
	}
	if r.err != nil {
		return nil, fmt.Errorf("exception table truncated: %w", r.err)
	}

	attrs, err := parseAttributeInfos(r, pool)
	if err != nil {
		return nil, err
	}
	for _, a := range attrs {
		if a.Name == "LineNumberTable" {
			lines, err := parseLineNumbers(a.Data)
			if err != nil {
				return nil, err
			}
			c.LineNumbers = append(c.LineNumbers, lines...)
		}
	}
	return c, nil
}

func parseLineNumbers(data []byte) ([]LineNumber, error) {
	r := &reader{r: bytes.NewReader(data)}
	lines := make([]LineNumber, r.u2())
	for i := range lines {
		lines[i] = LineNumber{StartPC: r.u2(), Line: r.u2()}
	}
	if r.err != nil {
		return nil, fmt.Errorf("LineNumberTable truncated: %w", r.err)
	}
	return lines, nil
}
