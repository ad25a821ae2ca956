package thread

import (
	"fmt"
	"math"

	"github.com/javapathfinder/jpf-core-sub000/pkg/heap"
	"github.com/javapathfinder/jpf-core-sub000/pkg/types"
)

// Value is a local variable or operand stack entry. Kind tags the slot as
// reference or primitive; long and double take one operand slot but two
// local variable indices.
type Value struct {
	Kind types.Kind
	Bits int64
}

// IntValue creates an int Value.
func IntValue(v int32) Value {
	return Value{Kind: types.Int, Bits: int64(v)}
}

func LongValue(v int64) Value {
	return Value{Kind: types.Long, Bits: v}
}

func FloatValue(v float32) Value {
	return Value{Kind: types.Float, Bits: int64(math.Float32bits(v))}
}

func DoubleValue(v float64) Value {
	return Value{Kind: types.Double, Bits: int64(math.Float64bits(v))}
}

// RefValue creates a reference Value.
func RefValue(ref heap.Ref) Value {
	return Value{Kind: types.Reference, Bits: int64(ref)}
}

// NullValue creates a null reference Value.
func NullValue() Value {
	return Value{Kind: types.Reference}
}

// FromRaw turns a field slot of kind k into an operand stack value.
func FromRaw(k types.Kind, raw int64) Value {
	return Value{Kind: k.StackKind(), Bits: raw}
}

func (v Value) Int() int32      { return int32(v.Bits) }
func (v Value) Long() int64     { return v.Bits }
func (v Value) Float() float32  { return math.Float32frombits(uint32(v.Bits)) }
func (v Value) Double() float64 { return math.Float64frombits(uint64(v.Bits)) }
func (v Value) Ref() heap.Ref   { return heap.Ref(v.Bits) }
func (v Value) IsRef() bool     { return v.Kind == types.Reference }
func (v Value) IsNull() bool    { return v.Kind == types.Reference && v.Bits == 0 }

// Wide reports a category 2 value (long, double).
func (v Value) Wide() bool { return v.Kind.Size() == 2 }

func (v Value) String() string {
	switch v.Kind {
	case types.Reference:
		if v.Bits == 0 {
			return "null"
		}
		return fmt.Sprintf("@%d", v.Bits)
	case types.Float:
		return fmt.Sprint(v.Float())
	case types.Double:
		return fmt.Sprint(v.Double())
	case types.Void:
		return "-"
	}
	return fmt.Sprint(v.Bits)
}
