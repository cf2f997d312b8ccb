package format

import (
	"fmt"
	"math/bits"

	"github.com/chazu/litert/vm"
	"github.com/fxamacker/cbor/v2"
)

// Record payloads are CBOR with canonical encoding, so saving the same
// module twice produces identical bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("format: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

func marshal(v any) ([]byte, error) {
	return cborEncMode.Marshal(v)
}

func unmarshal(name string, data []byte, v any) error {
	if err := cbor.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: record %s: %v", ErrMalformed, name, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Values
// ---------------------------------------------------------------------------

// Value kinds on the wire.
const (
	wireNone   = "none"
	wireBool   = "bool"
	wireInt    = "int"
	wireFloat  = "float"
	wireStr    = "str"
	wireTensor = "tensor"
	wireTuple  = "tuple"
	wireList   = "list"
	wireDict   = "dict"
	wireObject = "object"
)

// ValueRecord is the tagged wire form of a vm.Value.
type ValueRecord struct {
	Kind  string        `cbor:"k"`
	Bool  bool          `cbor:"b,omitempty"`
	Int   int64         `cbor:"i,omitempty"`
	Float float64       `cbor:"f"`
	Str   string        `cbor:"s,omitempty"`
	Shape []int         `cbor:"shape,omitempty"`
	Data  []float64     `cbor:"data,omitempty"`
	DType uint8         `cbor:"dt,omitempty"`
	Elems []ValueRecord `cbor:"e,omitempty"`
	Keys  []ValueRecord `cbor:"keys,omitempty"`
	Type  string        `cbor:"ty,omitempty"`
	Names []string      `cbor:"names,omitempty"`
}

// EncodeValue converts a value to its wire form. Capsules have no wire
// form.
func EncodeValue(v vm.Value) (ValueRecord, error) {
	switch x := v.(type) {
	case nil, vm.NoneType:
		return ValueRecord{Kind: wireNone}, nil
	case vm.Bool:
		return ValueRecord{Kind: wireBool, Bool: bool(x)}, nil
	case vm.Int:
		return ValueRecord{Kind: wireInt, Int: int64(x)}, nil
	case vm.Double:
		return ValueRecord{Kind: wireFloat, Float: float64(x)}, nil
	case vm.Str:
		return ValueRecord{Kind: wireStr, Str: string(x)}, nil
	case *vm.Tensor:
		shape := x.Shape
		if shape == nil {
			shape = []int{}
		}
		return ValueRecord{Kind: wireTensor, Shape: shape, Data: x.Data, DType: uint8(x.DType)}, nil
	case *vm.Tuple:
		elems, err := encodeValues(x.Elems)
		return ValueRecord{Kind: wireTuple, Elems: elems}, err
	case *vm.List:
		elems, err := encodeValues(x.Elems)
		return ValueRecord{Kind: wireList, Elems: elems, Type: x.ElemType}, err
	case *vm.Dict:
		keys, err := encodeValues(x.Keys())
		if err != nil {
			return ValueRecord{}, err
		}
		vals, err := encodeValues(x.Values())
		return ValueRecord{Kind: wireDict, Keys: keys, Elems: vals}, err
	case *vm.Object:
		names := x.AttrNames()
		vals := make([]vm.Value, len(names))
		for i, n := range names {
			vals[i], _ = x.GetAttr(n)
		}
		elems, err := encodeValues(vals)
		return ValueRecord{Kind: wireObject, Type: x.Type, Names: names, Elems: elems}, err
	}
	return ValueRecord{}, fmt.Errorf("format: cannot serialize %s value", v.Kind())
}

func encodeValues(vs []vm.Value) ([]ValueRecord, error) {
	if len(vs) == 0 {
		return nil, nil
	}
	out := make([]ValueRecord, len(vs))
	for i, v := range vs {
		r, err := EncodeValue(v)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

// DecodeValue converts a wire value back into a vm.Value.
func DecodeValue(r ValueRecord) (vm.Value, error) {
	switch r.Kind {
	case wireNone:
		return vm.None, nil
	case wireBool:
		return vm.Bool(r.Bool), nil
	case wireInt:
		return vm.Int(r.Int), nil
	case wireFloat:
		return vm.Double(r.Float), nil
	case wireStr:
		return vm.Str(r.Str), nil
	case wireTensor:
		if dt := vm.DType(r.DType); !dt.Valid() {
			return nil, fmt.Errorf("%w: tensor dtype %s", ErrMalformed, dt)
		}
		if n, ok := elementCount(r.Shape, len(r.Data)); !ok || n != len(r.Data) {
			return nil, fmt.Errorf("%w: tensor shape %v with %d elements", ErrMalformed, r.Shape, len(r.Data))
		}
		var shape []int
		if len(r.Shape) > 0 {
			shape = r.Shape
		}
		data := append([]float64{}, r.Data...)
		return &vm.Tensor{Shape: shape, Data: data, DType: vm.DType(r.DType)}, nil
	case wireTuple:
		elems, err := decodeValues(r.Elems)
		if err != nil {
			return nil, err
		}
		return vm.NewTuple(elems...), nil
	case wireList:
		elems, err := decodeValues(r.Elems)
		if err != nil {
			return nil, err
		}
		return &vm.List{Elems: elems, ElemType: r.Type}, nil
	case wireDict:
		if len(r.Keys) != len(r.Elems) {
			return nil, fmt.Errorf("%w: dict with %d keys and %d values", ErrMalformed, len(r.Keys), len(r.Elems))
		}
		keys, err := decodeValues(r.Keys)
		if err != nil {
			return nil, err
		}
		vals, err := decodeValues(r.Elems)
		if err != nil {
			return nil, err
		}
		d := vm.NewDict()
		for i := range keys {
			if err := d.Set(keys[i], vals[i]); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
		}
		return d, nil
	case wireObject:
		if len(r.Names) != len(r.Elems) {
			return nil, fmt.Errorf("%w: object with %d names and %d values", ErrMalformed, len(r.Names), len(r.Elems))
		}
		vals, err := decodeValues(r.Elems)
		if err != nil {
			return nil, err
		}
		obj := vm.NewObject(r.Type)
		for i, n := range r.Names {
			obj.SetAttr(n, vals[i])
		}
		return obj, nil
	}
	return nil, fmt.Errorf("%w: unknown value kind %q", ErrMalformed, r.Kind)
}

// elementCount multiplies out shape, saturating at limit+1 so that huge
// dimensions cannot wrap around. ok is false for a negative dimension.
func elementCount(shape []int, limit int) (n int, ok bool) {
	n = 1
	for _, d := range shape {
		if d < 0 {
			return 0, false
		}
		hi, lo := bits.Mul(uint(n), uint(d))
		if hi != 0 || lo > uint(limit) {
			n = limit + 1
			continue
		}
		n = int(lo)
	}
	return n, true
}

func decodeValues(rs []ValueRecord) ([]vm.Value, error) {
	out := make([]vm.Value, len(rs))
	for i, r := range rs {
		v, err := DecodeValue(r)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
