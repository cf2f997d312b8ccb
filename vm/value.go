package vm

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// ---------------------------------------------------------------------------
// Value: tagged runtime values
// ---------------------------------------------------------------------------

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNone Kind = iota
	KindBool
	KindInt
	KindDouble
	KindString
	KindTensor
	KindTuple
	KindList
	KindDict
	KindObject
	KindCapsule
)

var kindNames = [...]string{
	KindNone:    "None",
	KindBool:    "bool",
	KindInt:     "int",
	KindDouble:  "float",
	KindString:  "str",
	KindTensor:  "Tensor",
	KindTuple:   "Tuple",
	KindList:    "List",
	KindDict:    "Dict",
	KindObject:  "Object",
	KindCapsule: "Capsule",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Value is any value that can live in a register, on the operand stack or
// in a constant pool.
type Value interface {
	Kind() Kind
	String() string
}

// NoneType is the type of None.
type NoneType struct{}

// None is the singleton none value.
var None Value = NoneType{}

func (NoneType) Kind() Kind     { return KindNone }
func (NoneType) String() string { return "None" }

// Bool is a boolean value.
type Bool bool

func (Bool) Kind() Kind { return KindBool }
func (b Bool) String() string {
	if b {
		return "True"
	}
	return "False"
}

// Int is a 64-bit integer value.
type Int int64

func (Int) Kind() Kind       { return KindInt }
func (i Int) String() string { return strconv.FormatInt(int64(i), 10) }

// Double is a 64-bit float value.
type Double float64

func (Double) Kind() Kind { return KindDouble }
func (d Double) String() string {
	s := strconv.FormatFloat(float64(d), 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEn") {
		s += "."
	}
	return s
}

// Str is a string value.
type Str string

func (Str) Kind() Kind       { return KindString }
func (s Str) String() string { return string(s) }

// Tuple is an immutable fixed-size sequence.
type Tuple struct {
	Elems []Value
}

// NewTuple creates a tuple from the given elements.
func NewTuple(elems ...Value) *Tuple {
	return &Tuple{Elems: elems}
}

func (*Tuple) Kind() Kind { return KindTuple }
func (t *Tuple) String() string {
	if len(t.Elems) == 1 {
		return "(" + t.Elems[0].String() + ",)"
	}
	return "(" + joinValues(t.Elems) + ")"
}

// List is a mutable sequence. ElemType is the element type annotation
// recorded by the exporter (may be empty).
type List struct {
	Elems    []Value
	ElemType string
}

func (*List) Kind() Kind       { return KindList }
func (l *List) String() string { return "[" + joinValues(l.Elems) + "]" }

func joinValues(vs []Value) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = v.String()
	}
	return strings.Join(parts, ", ")
}

// ---------------------------------------------------------------------------
// Dict
// ---------------------------------------------------------------------------

type dictKey struct {
	kind Kind
	repr string
}

func keyOf(v Value) (dictKey, error) {
	switch v.Kind() {
	case KindNone, KindBool, KindInt, KindDouble, KindString:
		return dictKey{kind: v.Kind(), repr: v.String()}, nil
	}
	return dictKey{}, fmt.Errorf("unhashable dict key of type %s", v.Kind())
}

// Dict is an insertion-ordered mapping with scalar keys.
type Dict struct {
	keys  []Value
	vals  []Value
	index map[dictKey]int
}

// NewDict creates an empty dict.
func NewDict() *Dict {
	return &Dict{index: make(map[dictKey]int)}
}

func (*Dict) Kind() Kind { return KindDict }

func (d *Dict) String() string {
	parts := make([]string, len(d.keys))
	for i := range d.keys {
		parts[i] = d.keys[i].String() + ": " + d.vals[i].String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Set inserts or replaces the value for key.
func (d *Dict) Set(key, val Value) error {
	k, err := keyOf(key)
	if err != nil {
		return err
	}
	if i, ok := d.index[k]; ok {
		d.vals[i] = val
		return nil
	}
	d.index[k] = len(d.keys)
	d.keys = append(d.keys, key)
	d.vals = append(d.vals, val)
	return nil
}

// Get returns the value for key.
func (d *Dict) Get(key Value) (Value, bool) {
	k, err := keyOf(key)
	if err != nil {
		return nil, false
	}
	i, ok := d.index[k]
	if !ok {
		return nil, false
	}
	return d.vals[i], true
}

// Len returns the number of entries.
func (d *Dict) Len() int { return len(d.keys) }

// Keys returns the keys in insertion order.
func (d *Dict) Keys() []Value { return append([]Value(nil), d.keys...) }

// Values returns the values in insertion order.
func (d *Dict) Values() []Value { return append([]Value(nil), d.vals...) }

// ---------------------------------------------------------------------------
// Object: module and class instances with named attributes
// ---------------------------------------------------------------------------

// Object is a generic instance of a named type with ordered attributes.
// Module owners and submodules are Objects. Attribute access is safe for
// concurrent use; concurrent writers to one attribute race last-writer-wins.
type Object struct {
	Type string

	mu    sync.RWMutex
	names []string
	slots []Value
}

// NewObject creates an object of the given type with no attributes.
func NewObject(typ string) *Object {
	return &Object{Type: typ}
}

func (*Object) Kind() Kind { return KindObject }
func (o *Object) String() string {
	return fmt.Sprintf("<%s object>", o.Type)
}

// GetAttr returns the named attribute.
func (o *Object) GetAttr(name string) (Value, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for i, n := range o.names {
		if n == name {
			return o.slots[i], true
		}
	}
	return nil, false
}

// SetAttr sets (or adds) the named attribute.
func (o *Object) SetAttr(name string, v Value) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, n := range o.names {
		if n == name {
			o.slots[i] = v
			return
		}
	}
	o.names = append(o.names, name)
	o.slots = append(o.slots, v)
}

// AttrNames returns attribute names in definition order.
func (o *Object) AttrNames() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]string(nil), o.names...)
}

// NumAttrs returns the number of attributes.
func (o *Object) NumAttrs() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.names)
}

// attrs returns a snapshot of the attribute names and values.
func (o *Object) attrs() ([]string, []Value) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]string(nil), o.names...), append([]Value(nil), o.slots...)
}

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

// AsBool converts a condition operand to a Go bool.
func AsBool(v Value) (bool, error) {
	switch x := v.(type) {
	case Bool:
		return bool(x), nil
	case Int:
		return x != 0, nil
	case *Tensor:
		f, err := x.Item()
		if err != nil {
			return false, err
		}
		return f != 0, nil
	}
	return false, fmt.Errorf("expected bool, got %s", v.Kind())
}

// AsInt converts an integral value to int64.
func AsInt(v Value) (int64, error) {
	switch x := v.(type) {
	case Int:
		return int64(x), nil
	case Bool:
		if x {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("expected int, got %s", v.Kind())
}

// AsFloat converts a numeric scalar to float64.
func AsFloat(v Value) (float64, error) {
	switch x := v.(type) {
	case Double:
		return float64(x), nil
	case Int:
		return float64(x), nil
	case Bool:
		if x {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("expected number, got %s", v.Kind())
}

// AsString converts a string value to a Go string.
func AsString(v Value) (string, error) {
	if s, ok := v.(Str); ok {
		return string(s), nil
	}
	return "", fmt.Errorf("expected str, got %s", v.Kind())
}

// Elements returns the elements of a tuple or list.
func Elements(v Value) ([]Value, error) {
	switch x := v.(type) {
	case *Tuple:
		return x.Elems, nil
	case *List:
		return x.Elems, nil
	}
	return nil, fmt.Errorf("expected tuple or list, got %s", v.Kind())
}

// Equal reports deep equality of two values. Tensors compare by shape,
// dtype and elements.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch x := a.(type) {
	case NoneType:
		return true
	case Bool, Int, Double, Str:
		return a == b
	case *Tensor:
		return x.Equal(b.(*Tensor))
	case *Tuple:
		return equalSlices(x.Elems, b.(*Tuple).Elems)
	case *List:
		return equalSlices(x.Elems, b.(*List).Elems)
	case *Dict:
		y := b.(*Dict)
		if x.Len() != y.Len() {
			return false
		}
		for i, k := range x.keys {
			v, ok := y.Get(k)
			if !ok || !Equal(x.vals[i], v) {
				return false
			}
		}
		return true
	case *Object:
		y := b.(*Object)
		if x == y {
			return true
		}
		names, slots := x.attrs()
		if x.Type != y.Type || len(names) != y.NumAttrs() {
			return false
		}
		for i, n := range names {
			v, ok := y.GetAttr(n)
			if !ok || !Equal(slots[i], v) {
				return false
			}
		}
		return true
	case *Capsule:
		return x == b.(*Capsule)
	}
	return false
}

func equalSlices(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}
