package types

// Key identifies one typed attribute. Keys compare by identity, so two
// keys with the same name are still distinct.
type Key[T any] struct {
	name string
}

func NewKey[T any](name string) *Key[T] {
	return &Key[T]{name: name}
}

func (k *Key[T]) String() string { return k.name }

// Attributes is a persistent map of typed extension values. Updates return
// a new map and leave the receiver untouched, so an Attributes value held by
// a frozen record never changes.
type Attributes struct {
	m map[interface{}]interface{}
}

func (a Attributes) Len() int { return len(a.m) }

// GetAttr returns the value stored under k.
func GetAttr[T any](a Attributes, k *Key[T]) (T, bool) {
	v, ok := a.m[k]
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}

// WithAttr returns a copy of a with k set to v.
func WithAttr[T any](a Attributes, k *Key[T], v T) Attributes {
	m := make(map[interface{}]interface{}, len(a.m)+1)
	for key, val := range a.m {
		m[key] = val
	}
	m[k] = v
	return Attributes{m: m}
}

// WithoutAttr returns a copy of a without k.
func WithoutAttr[T any](a Attributes, k *Key[T]) Attributes {
	if _, ok := a.m[k]; !ok {
		return a
	}
	m := make(map[interface{}]interface{}, len(a.m))
	for key, val := range a.m {
		if key != k {
			m[key] = val
		}
	}
	return Attributes{m: m}
}
