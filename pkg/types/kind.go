package types

import "fmt"

// Kind is the value category of a field, array element or stack slot.
type Kind uint8

const (
	Void Kind = iota
	Boolean
	Byte
	Char
	Short
	Int
	Long
	Float
	Double
	Reference
)

var kindNames = [...]string{"void", "boolean", "byte", "char", "short", "int", "long", "float", "double", "reference"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Size is the number of local variable slots a value of this kind occupies.
func (k Kind) Size() int {
	switch k {
	case Void:
		return 0
	case Long, Double:
		return 2
	}
	return 1
}

func (k Kind) IsReference() bool { return k == Reference }

// IsIntLike reports whether values of k travel as int on the operand stack.
func (k Kind) IsIntLike() bool {
	return k >= Boolean && k <= Int
}

// StackKind is the kind a value of k has once loaded on the operand stack.
func (k Kind) StackKind() Kind {
	if k.IsIntLike() {
		return Int
	}
	return k
}

// KindOf returns the kind of a field descriptor.
func KindOf(desc string) Kind {
	if desc == "" {
		return Void
	}
	switch desc[0] {
	case 'Z':
		return Boolean
	case 'B':
		return Byte
	case 'C':
		return Char
	case 'S':
		return Short
	case 'I':
		return Int
	case 'J':
		return Long
	case 'F':
		return Float
	case 'D':
		return Double
	case 'L', '[':
		return Reference
	}
	return Void
}

// ArrayKind maps a newarray atype operand to the element kind.
func ArrayKind(atype byte) (Kind, error) {
	switch atype {
	case 4:
		return Boolean, nil
	case 5:
		return Char, nil
	case 6:
		return Float, nil
	case 7:
		return Double, nil
	case 8:
		return Byte, nil
	case 9:
		return Short, nil
	case 10:
		return Int, nil
	case 11:
		return Long, nil
	}
	return Void, fmt.Errorf("invalid newarray type %d", atype)
}

// ArrayClassName returns the descriptor-style class name of a primitive array.
func ArrayClassName(elem Kind) string {
	return "[" + string("VZBCSIJFD"[elem])
}

// ParseMethodDescriptor splits a method descriptor into parameter kinds and
// the return kind.
func ParseMethodDescriptor(desc string) ([]Kind, Kind, error) {
	if len(desc) < 3 || desc[0] != '(' {
		return nil, Void, fmt.Errorf("invalid method descriptor %q", desc)
	}
	var params []Kind
	i := 1
	for i < len(desc) && desc[i] != ')' {
		n, err := fieldDescLen(desc[i:])
		if err != nil {
			return nil, Void, fmt.Errorf("method descriptor %q: %w", desc, err)
		}
		params = append(params, KindOf(desc[i:i+n]))
		i += n
	}
	if i >= len(desc)-1 {
		return nil, Void, fmt.Errorf("invalid method descriptor %q", desc)
	}
	ret := desc[i+1:]
	if ret != "V" {
		if n, err := fieldDescLen(ret); err != nil || n != len(ret) {
			return nil, Void, fmt.Errorf("invalid return type in %q", desc)
		}
	}
	return params, KindOf(ret), nil
}

func fieldDescLen(s string) (int, error) {
	i := 0
	for i < len(s) && s[i] == '[' {
		i++
	}
	if i >= len(s) {
		return 0, fmt.Errorf("truncated type in %q", s)
	}
	switch s[i] {
	case 'Z', 'B', 'C', 'S', 'I', 'J', 'F', 'D':
		return i + 1, nil
	case 'L':
		for j := i; j < len(s); j++ {
			if s[j] == ';' {
				return j + 1, nil
			}
		}
		return 0, fmt.Errorf("unterminated class type in %q", s)
	}
	return 0, fmt.Errorf("invalid type character %q", s[i])
}
