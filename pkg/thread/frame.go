package thread

import (
	"fmt"

	"github.com/javapathfinder/jpf-core-sub000/pkg/heap"
	"github.com/javapathfinder/jpf-core-sub000/pkg/types"
	"github.com/javapathfinder/jpf-core-sub000/pkg/vmerr"
)

// Frame is one activation of a method: locals, operand stack and pc.
// Frames follow the same freeze discipline as heap records.
type Frame struct {
	method    *types.MethodInfo
	pc        int
	locals    []Value
	stack     []Value
	sp        int
	slotAttrs []types.Attributes
	attrs     types.Attributes
	prev      *Frame
	frozen    bool

	// DirectCall frames (class initializers) return without touching the
	// caller's operand stack or pc.
	DirectCall bool
}

// NewFrame creates a frame for m.
func NewFrame(m *types.MethodInfo) *Frame {
	maxStack := m.MaxStack
	if maxStack < 1 {
		maxStack = 1
	}
	return &Frame{
		method: m,
		locals: make([]Value, m.MaxLocals),
		stack:  make([]Value, maxStack),
	}
}

func (f *Frame) clone() *Frame {
	c := *f
	c.locals = append([]Value(nil), f.locals...)
	c.stack = append([]Value(nil), f.stack...)
	if f.slotAttrs != nil {
		c.slotAttrs = append([]types.Attributes(nil), f.slotAttrs...)
	}
	c.frozen = false
	return &c
}

func (f *Frame) String() string {
	return fmt.Sprintf("%s@%d", f.method.FullName(), f.pc)
}

// Line is the source line of the current pc, 0 without line numbers.
func (f *Frame) Line() int { return f.method.LineAt(f.pc) }

func (f *Frame) Method() *types.MethodInfo { return f.method }
func (f *Frame) PC() int                   { return f.pc }
func (f *Frame) Prev() *Frame              { return f.prev }
func (f *Frame) IsFrozen() bool            { return f.frozen }
func (f *Frame) SP() int                   { return f.sp }
func (f *Frame) Attrs() types.Attributes   { return f.attrs }

func (f *Frame) checkMutable() {
	if f.frozen {
		vmerr.Fail(vmerr.FrozenMutation, f, "mutation of frozen frame %s", f)
	}
}

func (f *Frame) SetPC(pc int) {
	f.checkMutable()
	f.pc = pc
}

func (f *Frame) SetAttrs(a types.Attributes) {
	f.checkMutable()
	f.attrs = a
}

// Opcode returns the instruction at pc.
func (f *Frame) Opcode() byte { return f.method.Code[f.pc] }

// Operand readers take an offset from pc and never move it, so an
// instruction can be executed again from the same pc.

func (f *Frame) U1(off int) uint8 { return f.method.Code[f.pc+off] }
func (f *Frame) S1(off int) int8  { return int8(f.method.Code[f.pc+off]) }

func (f *Frame) U2(off int) uint16 {
	c := f.method.Code
	return uint16(c[f.pc+off])<<8 | uint16(c[f.pc+off+1])
}

func (f *Frame) S2(off int) int16 { return int16(f.U2(off)) }

func (f *Frame) S4(off int) int32 {
	c := f.method.Code
	i := f.pc + off
	return int32(uint32(c[i])<<24 | uint32(c[i+1])<<16 | uint32(c[i+2])<<8 | uint32(c[i+3]))
}

// S4At reads a 4-byte operand at an absolute code offset.
func (f *Frame) S4At(pos int) int32 { return f.S4(pos - f.pc) }

// Push pushes a value onto the operand stack.
func (f *Frame) Push(v Value) {
	f.checkMutable()
	if f.sp >= len(f.stack) {
		vmerr.Fail(vmerr.StackOverflow, f, "operand stack overflow: SP=%d, max=%d", f.sp, len(f.stack))
	}
	f.stack[f.sp] = v
	if f.slotAttrs != nil {
		f.slotAttrs[f.sp] = types.Attributes{}
	}
	f.sp++
}

// Pop pops a value from the operand stack.
func (f *Frame) Pop() Value {
	f.checkMutable()
	if f.sp <= 0 {
		vmerr.Fail(vmerr.StackUnderflow, f, "operand stack underflow in %s", f)
	}
	f.sp--
	return f.stack[f.sp]
}

// PopN discards n operands.
func (f *Frame) PopN(n int) {
	f.checkMutable()
	if n > f.sp {
		vmerr.Fail(vmerr.StackUnderflow, f, "pop %d with SP=%d in %s", n, f.sp, f)
	}
	f.sp -= n
}

// Peek returns the value n slots below the top (0 is the top).
func (f *Frame) Peek(n int) Value {
	if n < 0 || n >= f.sp {
		vmerr.Fail(vmerr.StackUnderflow, f, "peek %d with SP=%d in %s", n, f.sp, f)
	}
	return f.stack[f.sp-1-n]
}

// Operands returns the top n operands, deepest first, without popping.
func (f *Frame) Operands(n int) []Value {
	if n > f.sp {
		vmerr.Fail(vmerr.StackUnderflow, f, "operands %d with SP=%d in %s", n, f.sp, f)
	}
	return append([]Value(nil), f.stack[f.sp-n:f.sp]...)
}

// SetOperandAttr attaches an attribute bag to the operand n slots below
// the top.
func (f *Frame) SetOperandAttr(n int, a types.Attributes) {
	f.checkMutable()
	if f.slotAttrs == nil {
		f.slotAttrs = make([]types.Attributes, len(f.stack))
	}
	f.slotAttrs[f.sp-1-n] = a
}

func (f *Frame) OperandAttr(n int) types.Attributes {
	if f.slotAttrs == nil {
		return types.Attributes{}
	}
	return f.slotAttrs[f.sp-1-n]
}

// GetLocal returns the value at the given local variable index.
func (f *Frame) GetLocal(index int) Value {
	if index < 0 || index >= len(f.locals) {
		vmerr.Fail(vmerr.IllegalState, f, "local variable index out of range: index=%d, max=%d", index, len(f.locals))
	}
	return f.locals[index]
}

// SetLocal sets the value at the given local variable index. A wide value
// also invalidates the following index.
func (f *Frame) SetLocal(index int, v Value) {
	f.checkMutable()
	if last := index + max(v.Kind.Size(), 1) - 1; index < 0 || last >= len(f.locals) {
		vmerr.Fail(vmerr.IllegalState, f, "local variable index out of range: index=%d, max=%d", index, len(f.locals))
	}
	f.locals[index] = v
	if v.Wide() {
		f.locals[index+1] = Value{}
	}
}

// SetArgs stores call arguments into the leading locals, wide values taking
// two indices.
func (f *Frame) SetArgs(args []Value) {
	i := 0
	for _, a := range args {
		f.SetLocal(i, a)
		i += max(a.Kind.Size(), 1)
	}
}

// Locals returns a copy of the local variable array.
func (f *Frame) Locals() []Value { return append([]Value(nil), f.locals...) }

// Stack returns a copy of the live operand stack, bottom first.
func (f *Frame) Stack() []Value { return append([]Value(nil), f.stack[:f.sp]...) }

// Roots marks every reference held in locals or on the operand stack.
func (f *Frame) Roots(mark func(heap.Ref)) {
	for _, v := range f.locals {
		if v.IsRef() {
			mark(v.Ref())
		}
	}
	for _, v := range f.stack[:f.sp] {
		if v.IsRef() {
			mark(v.Ref())
		}
	}
}
