package classfile

import (
	"fmt"
	"math"
)

// PoolBuilder accumulates constant pool entries, reusing identical ones.
type PoolBuilder struct {
	entries []ConstantPoolEntry
	index   map[string]uint16
}

func NewPoolBuilder() *PoolBuilder {
	return &PoolBuilder{entries: []ConstantPoolEntry{nil}, index: map[string]uint16{}}
}

func (p *PoolBuilder) add(key string, e ConstantPoolEntry, wide bool) uint16 {
	if idx, ok := p.index[key]; ok {
		return idx
	}
	idx := uint16(len(p.entries))
	p.entries = append(p.entries, e)
	if wide {
		p.entries = append(p.entries, nil)
	}
	p.index[key] = idx
	return idx
}

func (p *PoolBuilder) Utf8(s string) uint16 {
	return p.add("u:"+s, &ConstantUtf8{Value: s}, false)
}

func (p *PoolBuilder) Integer(v int32) uint16 {
	return p.add(fmt.Sprintf("i:%d", v), &ConstantInteger{Value: v}, false)
}

func (p *PoolBuilder) Float(v float32) uint16 {
	return p.add(fmt.Sprintf("f:%x", math.Float32bits(v)), &ConstantFloat{Value: v}, false)
}

func (p *PoolBuilder) Long(v int64) uint16 {
	return p.add(fmt.Sprintf("j:%d", v), &ConstantLong{Value: v}, true)
}

func (p *PoolBuilder) Double(v float64) uint16 {
	return p.add(fmt.Sprintf("d:%x", math.Float64bits(v)), &ConstantDouble{Value: v}, true)
}

func (p *PoolBuilder) Class(name string) uint16 {
	n := p.Utf8(name)
	return p.add("c:"+name, &ConstantClass{NameIndex: n}, false)
}

func (p *PoolBuilder) String(s string) uint16 {
	n := p.Utf8(s)
	return p.add("s:"+s, &ConstantString{StringIndex: n}, false)
}

func (p *PoolBuilder) NameAndType(name, desc string) uint16 {
	n, d := p.Utf8(name), p.Utf8(desc)
	return p.add("n:"+name+":"+desc, &ConstantNameAndType{NameIndex: n, DescriptorIndex: d}, false)
}

// Member adds a Fieldref, Methodref or InterfaceMethodref entry.
func (p *PoolBuilder) Member(tag uint8, class, name, desc string) uint16 {
	c, nt := p.Class(class), p.NameAndType(name, desc)
	key := fmt.Sprintf("m%d:%s.%s:%s", tag, class, name, desc)
	return p.add(key, &ConstantMemberref{tag: tag, ClassIndex: c, NameAndTypeIndex: nt}, false)
}

// Entries returns the 1-indexed pool.
func (p *PoolBuilder) Entries() []ConstantPoolEntry {
	return p.entries
}

type fixup struct {
	at    int // pc of the branching instruction
	pos   int // where the offset is written
	label string
	wide  bool
}

type catchSpec struct {
	start, end, handler string
	class               string
}

// Asm assembles the bytecode of a single method. Branch targets are named
// labels resolved when the owning ClassBuilder builds the class.
type Asm struct {
	pool    *PoolBuilder
	code    []byte
	labels  map[string]int
	fixups  []fixup
	catches []catchSpec
	lines   []LineNumber
	err     error
}

func (a *Asm) fail(err error) {
	if a.err == nil && err != nil {
		a.err = err
	}
}

// PC returns the offset of the next instruction.
func (a *Asm) PC() int { return len(a.code) }

// Op appends operand-less instructions.
func (a *Asm) Op(ops ...byte) *Asm {
	a.code = append(a.code, ops...)
	return a
}

// Bytes appends raw bytes.
func (a *Asm) Bytes(b ...byte) *Asm {
	a.code = append(a.code, b...)
	return a
}

func (a *Asm) u2(v uint16) {
	a.code = append(a.code, byte(v>>8), byte(v))
}

// Iconst pushes an int using the shortest encoding.
func (a *Asm) Iconst(v int32) *Asm {
	switch {
	case v >= -1 && v <= 5:
		a.code = append(a.code, byte(OpIconst0+v))
	case v >= math.MinInt8 && v <= math.MaxInt8:
		a.code = append(a.code, OpBipush, byte(int8(v)))
	case v >= math.MinInt16 && v <= math.MaxInt16:
		a.code = append(a.code, OpSipush)
		a.u2(uint16(int16(v)))
	default:
		a.ldcIndex(a.pool.Integer(v))
	}
	return a
}

func (a *Asm) ldcIndex(idx uint16) {
	if idx <= 0xff {
		a.code = append(a.code, OpLdc, byte(idx))
		return
	}
	a.code = append(a.code, OpLdcW)
	a.u2(idx)
}

// Ldc loads a constant. Supported values are int32, float32, string,
// int64 and float64; the last two use ldc2_w.
func (a *Asm) Ldc(v interface{}) *Asm {
	switch v := v.(type) {
	case int32:
		a.ldcIndex(a.pool.Integer(v))
	case float32:
		a.ldcIndex(a.pool.Float(v))
	case string:
		a.ldcIndex(a.pool.String(v))
	case int64:
		a.code = append(a.code, OpLdc2W)
		a.u2(a.pool.Long(v))
	case float64:
		a.code = append(a.code, OpLdc2W)
		a.u2(a.pool.Double(v))
	default:
		a.fail(fmt.Errorf("ldc: unsupported constant %T", v))
	}
	return a
}

// Local emits a load or store. op is one of the indexed forms (iload,
// astore, ...); indices 0-3 use the short encodings.
func (a *Asm) Local(op byte, idx int) *Asm {
	switch {
	case idx < 0 || idx > 0xff:
		a.fail(fmt.Errorf("local index %d out of range", idx))
	case idx <= 3 && op >= OpIload && op <= OpAload:
		a.code = append(a.code, OpIload0+(op-OpIload)*4+byte(idx))
	case idx <= 3 && op >= OpIstore && op <= OpAstore:
		a.code = append(a.code, OpIstore0+(op-OpIstore)*4+byte(idx))
	default:
		a.code = append(a.code, op, byte(idx))
	}
	return a
}

func (a *Asm) Iinc(idx int, delta int8) *Asm {
	a.code = append(a.code, OpIinc, byte(idx), byte(delta))
	return a
}

// Field emits getfield, putfield, getstatic or putstatic.
func (a *Asm) Field(op byte, class, name, desc string) *Asm {
	a.code = append(a.code, op)
	a.u2(a.pool.Member(TagFieldref, class, name, desc))
	return a
}

// Invoke emits a method invocation.
func (a *Asm) Invoke(op byte, class, name, desc string) *Asm {
	if op != OpInvokeinterface {
		a.code = append(a.code, op)
		a.u2(a.pool.Member(TagMethodref, class, name, desc))
		return a
	}
	n, err := ArgSlots(desc)
	a.fail(err)
	a.code = append(a.code, op)
	a.u2(a.pool.Member(TagInterfaceMethodref, class, name, desc))
	a.code = append(a.code, byte(n+1), 0)
	return a
}

// Class emits new, anewarray, checkcast or instanceof.
func (a *Asm) Class(op byte, name string) *Asm {
	a.code = append(a.code, op)
	a.u2(a.pool.Class(name))
	return a
}

func (a *Asm) Newarray(atype byte) *Asm {
	a.code = append(a.code, OpNewarray, atype)
	return a
}

// Line attributes the instructions that follow to source line n.
func (a *Asm) Line(n int) *Asm {
	a.lines = append(a.lines, LineNumber{StartPC: uint16(len(a.code)), Line: uint16(n)})
	return a
}

// Label binds name to the current pc.
func (a *Asm) Label(name string) *Asm {
	if _, dup := a.labels[name]; dup {
		a.fail(fmt.Errorf("duplicate label %q", name))
	}
	a.labels[name] = len(a.code)
	return a
}

// Jump emits a branch to label. goto_w gets a 4-byte offset.
func (a *Asm) Jump(op byte, label string) *Asm {
	at := len(a.code)
	a.code = append(a.code, op)
	wide := op == OpGotoW
	a.fixups = append(a.fixups, fixup{at: at, pos: len(a.code), label: label, wide: wide})
	if wide {
		a.code = append(a.code, 0, 0, 0, 0)
	} else {
		a.code = append(a.code, 0, 0)
	}
	return a
}

// Catch registers an exception handler for [start, end). An empty class
// catches everything.
func (a *Asm) Catch(start, end, handler, class string) *Asm {
	a.catches = append(a.catches, catchSpec{start: start, end: end, handler: handler, class: class})
	return a
}

func (a *Asm) resolve() ([]byte, []ExceptionHandler, error) {
	if a.err != nil {
		return nil, nil, a.err
	}
	code := append([]byte(nil), a.code...)
	for _, f := range a.fixups {
		target, ok := a.labels[f.label]
		if !ok {
			return nil, nil, fmt.Errorf("undefined label %q", f.label)
		}
		off := target - f.at
		if f.wide {
			code[f.pos] = byte(off >> 24)
			code[f.pos+1] = byte(off >> 16)
			code[f.pos+2] = byte(off >> 8)
			code[f.pos+3] = byte(off)
			continue
		}
		if off < math.MinInt16 || off > math.MaxInt16 {
			return nil, nil, fmt.Errorf("branch to %q out of range", f.label)
		}
		code[f.pos] = byte(off >> 8)
		code[f.pos+1] = byte(off)
	}
	handlers := make([]ExceptionHandler, len(a.catches))
	for i, c := range a.catches {
		var pcs [3]uint16
		for j, l := range []string{c.start, c.end, c.handler} {
			pc, ok := a.labels[l]
			if !ok {
				return nil, nil, fmt.Errorf("undefined label %q in handler", l)
			}
			pcs[j] = uint16(pc)
		}
		var catchType uint16
		if c.class != "" {
			catchType = a.pool.Class(c.class)
		}
		handlers[i] = ExceptionHandler{StartPC: pcs[0], EndPC: pcs[1], HandlerPC: pcs[2], CatchType: catchType}
	}
	return code, handlers, nil
}

type methodSpec struct {
	flags               uint16
	name, desc          string
	maxStack, maxLocals int
	code                *Asm
}

// ClassBuilder synthesizes a ClassFile in memory.
type ClassBuilder struct {
	pool       *PoolBuilder
	name       string
	super      string
	flags      uint16
	interfaces []string
	fields     []FieldInfo
	methods    []methodSpec
	source     string
}

// NewClass starts a public class. An empty super means no superclass.
func NewClass(name, super string) *ClassBuilder {
	return &ClassBuilder{pool: NewPoolBuilder(), name: name, super: super, flags: AccPublic | AccSuper}
}

func (b *ClassBuilder) Flags(flags uint16) *ClassBuilder {
	b.flags = flags
	return b
}

func (b *ClassBuilder) Implements(names ...string) *ClassBuilder {
	b.interfaces = append(b.interfaces, names...)
	return b
}

func (b *ClassBuilder) Field(flags uint16, name, desc string) *ClassBuilder {
	b.fields = append(b.fields, FieldInfo{AccessFlags: flags, Name: name, Descriptor: desc})
	return b
}

// Constant adds a static final field initialized from the constant pool.
// value is an int32, int64, float32, float64 or string.
func (b *ClassBuilder) Constant(flags uint16, name, desc string, value interface{}) *ClassBuilder {
	var idx uint16
	switch v := value.(type) {
	case int32:
		idx = b.pool.Integer(v)
	case int64:
		idx = b.pool.Long(v)
	case float32:
		idx = b.pool.Float(v)
	case float64:
		idx = b.pool.Double(v)
	case string:
		idx = b.pool.String(v)
	default:
		panic(fmt.Sprintf("unsupported constant %T for %s", value, name))
	}
	b.pool.Utf8("ConstantValue")
	b.fields = append(b.fields, FieldInfo{
		AccessFlags:   flags | AccStatic | AccFinal,
		Name:          name,
		Descriptor:    desc,
		Attributes:    []AttributeInfo{{Name: "ConstantValue", Data: []byte{byte(idx >> 8), byte(idx)}}},
		ConstantValue: idx,
	})
	return b
}

// Source records the SourceFile attribute.
func (b *ClassBuilder) Source(name string) *ClassBuilder {
	b.source = name
	return b
}

// Code returns an assembler bound to this class's constant pool.
func (b *ClassBuilder) Code() *Asm {
	return &Asm{pool: b.pool, labels: map[string]int{}}
}

// Method adds a method. A nil code adds a method without a Code attribute
// (native or abstract).
func (b *ClassBuilder) Method(flags uint16, name, desc string, maxStack, maxLocals int, code *Asm) *ClassBuilder {
	b.methods = append(b.methods, methodSpec{flags: flags, name: name, desc: desc, maxStack: maxStack, maxLocals: maxLocals, code: code})
	return b
}

func (b *ClassBuilder) Native(flags uint16, name, desc string) *ClassBuilder {
	return b.Method(flags|AccNative, name, desc, 0, 0, nil)
}

// Build produces the ClassFile.
func (b *ClassBuilder) Build() (*ClassFile, error) {
	cf := &ClassFile{
		MajorVersion: 52,
		AccessFlags:  b.flags,
		ThisClass:    b.pool.Class(b.name),
	}
	if b.super != "" {
		cf.SuperClass = b.pool.Class(b.super)
	}
	for _, i := range b.interfaces {
		cf.Interfaces = append(cf.Interfaces, b.pool.Class(i))
	}
	for _, f := range b.fields {
		b.pool.Utf8(f.Name)
		b.pool.Utf8(f.Descriptor)
		cf.Fields = append(cf.Fields, f)
	}
	for _, ms := range b.methods {
		b.pool.Utf8(ms.name)
		b.pool.Utf8(ms.desc)
		m := MethodInfo{AccessFlags: ms.flags, Name: ms.name, Descriptor: ms.desc}
		if ms.code != nil {
			code, handlers, err := ms.code.resolve()
			if err != nil {
				return nil, fmt.Errorf("%s.%s%s: %w", b.name, ms.name, ms.desc, err)
			}
			m.Code = &CodeAttribute{
				MaxStack:          uint16(ms.maxStack),
				MaxLocals:         uint16(ms.maxLocals),
				Code:              code,
				ExceptionHandlers: handlers,
				LineNumbers:       ms.code.lines,
			}
			b.pool.Utf8("Code")
			var lt uint16
			if len(m.Code.LineNumbers) > 0 {
				lt = b.pool.Utf8("LineNumberTable")
			}
			m.Attributes = []AttributeInfo{{Name: "Code", Data: encodeCode(m.Code, lt)}}
		}
		cf.Methods = append(cf.Methods, m)
	}
	if b.source != "" {
		b.pool.Utf8("SourceFile")
		idx := b.pool.Utf8(b.source)
		cf.SourceFile = b.source
		cf.Attributes = []AttributeInfo{{Name: "SourceFile", Data: []byte{byte(idx >> 8), byte(idx)}}}
	}
	cf.ConstantPool = b.pool.Entries()
	return cf, nil
}

// MustBuild is like Build but panics on error.
func (b *ClassBuilder) MustBuild() *ClassFile {
	cf, err := b.Build()
	if err != nil {
		panic(err)
	}
	return cf
}

// ArgSlots returns the number of argument slots a method descriptor takes,
// with long and double counting two.
func ArgSlots(desc string) (int, error) {
	if len(desc) == 0 || desc[0] != '(' {
		return 0, fmt.Errorf("invalid method descriptor %q", desc)
	}
	n := 0
	for i := 1; i < len(desc); i++ {
		switch desc[i] {
		case ')':
			return n, nil
		case 'J', 'D':
			n += 2
		case 'L':
			for i < len(desc) && desc[i] != ';' {
				i++
			}
			n++
		case '[':
			for i < len(desc) && desc[i] == '[' {
				i++
			}
			if i < len(desc) && desc[i] == 'L' {
				for i < len(desc) && desc[i] != ';' {
					i++
				}
			}
			n++
		default:
			n++
		}
	}
	return 0, fmt.Errorf("unterminated method descriptor %q", desc)
}
