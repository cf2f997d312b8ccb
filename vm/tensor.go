package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DType is a tensor element type. Codes follow the exporter's scalar type
// numbering so that dtype constants in bytecode can be passed through.
type DType uint8

const (
	Long  DType = 4
	Float DType = 6
	Bool8 DType = 11
)

// Valid reports whether d is one of the supported element types.
func (d DType) Valid() bool {
	return d == Long || d == Float || d == Bool8
}

func (d DType) String() string {
	switch d {
	case Long:
		return "Long"
	case Float:
		return "Float"
	case Bool8:
		return "Bool"
	}
	return "DType(" + strconv.Itoa(int(d)) + ")"
}

// Tensor is a dense row-major tensor. Elements are stored as float64
// regardless of DType; integral dtypes hold truncated values.
type Tensor struct {
	Shape []int
	Data  []float64
	DType DType
}

// NewTensor creates a Float tensor. len(data) must equal the product of
// shape.
func NewTensor(shape []int, data []float64) *Tensor {
	if numel(shape) != len(data) {
		panic(fmt.Sprintf("NewTensor: shape %v needs %d elements, got %d", shape, numel(shape), len(data)))
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: data, DType: Float}
}

// Full creates a tensor of the given shape filled with v.
func Full(shape []int, v float64, dtype DType) *Tensor {
	data := make([]float64, numel(shape))
	v = castTo(v, dtype)
	for i := range data {
		data[i] = v
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: data, DType: dtype}
}

// Zeros creates a Float tensor of zeros.
func Zeros(shape ...int) *Tensor { return Full(shape, 0, Float) }

// Ones creates a Float tensor of ones.
func Ones(shape ...int) *Tensor { return Full(shape, 1, Float) }

// Scalar creates a 0-dimensional Float tensor.
func Scalar(v float64) *Tensor { return Full(nil, v, Float) }

func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func castTo(v float64, dtype DType) float64 {
	switch dtype {
	case Long:
		return math.Trunc(v)
	case Bool8:
		if v != 0 {
			return 1
		}
		return 0
	}
	return v
}

func (*Tensor) Kind() Kind { return KindTensor }

// Numel returns the number of elements.
func (t *Tensor) Numel() int { return len(t.Data) }

// Dim returns the number of dimensions.
func (t *Tensor) Dim() int { return len(t.Shape) }

// Item returns the only element of a single-element tensor.
func (t *Tensor) Item() (float64, error) {
	if len(t.Data) != 1 {
		return 0, fmt.Errorf("a Tensor with %d elements cannot be converted to Scalar", len(t.Data))
	}
	return t.Data[0], nil
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		Shape: append([]int(nil), t.Shape...),
		Data:  append([]float64(nil), t.Data...),
		DType: t.DType,
	}
}

// Cast returns a copy converted to dtype.
func (t *Tensor) Cast(dtype DType) *Tensor {
	c := t.Clone()
	c.DType = dtype
	for i, v := range c.Data {
		c.Data[i] = castTo(v, dtype)
	}
	return c
}

// Fill sets every element to v (cast to the tensor's dtype) in place.
func (t *Tensor) Fill(v float64) {
	v = castTo(v, t.DType)
	for i := range t.Data {
		t.Data[i] = v
	}
}

// Equal reports whether both tensors have the same dtype, shape and
// elements.
func (t *Tensor) Equal(o *Tensor) bool {
	if t.DType != o.DType || len(t.Shape) != len(o.Shape) || len(t.Data) != len(o.Data) {
		return false
	}
	for i := range t.Shape {
		if t.Shape[i] != o.Shape[i] {
			return false
		}
	}
	for i := range t.Data {
		if t.Data[i] != o.Data[i] {
			return false
		}
	}
	return true
}

func (t *Tensor) String() string {
	var b strings.Builder
	b.WriteString("tensor(")
	if len(t.Data) <= 8 {
		for i, v := range t.Data {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		}
	} else {
		b.WriteString("...")
	}
	fmt.Fprintf(&b, ", shape=%v, dtype=%s)", t.Shape, t.DType)
	return b.String()
}

// ---------------------------------------------------------------------------
// Broadcasting
// ---------------------------------------------------------------------------

// BroadcastShapes computes the broadcast shape of a and b, right-aligned.
func BroadcastShapes(a, b []int) ([]int, error) {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	out := make([]int, n)
	for i := 0; i < n; i++ {
		da, db := 1, 1
		if j := len(a) - n + i; j >= 0 {
			da = a[j]
		}
		if j := len(b) - n + i; j >= 0 {
			db = b[j]
		}
		switch {
		case da == db, db == 1:
			out[i] = da
		case da == 1:
			out[i] = db
		default:
			return nil, fmt.Errorf("The size of tensor a (%d) must match the size of tensor b (%d) at non-singleton dimension %d", da, db, i)
		}
	}
	return out, nil
}

// Broadcast applies f element-wise over the broadcast of a and b. The
// result dtype is Float if either input is Float, otherwise Long.
func Broadcast(a, b *Tensor, f func(x, y float64) float64) (*Tensor, error) {
	shape, err := BroadcastShapes(a.Shape, b.Shape)
	if err != nil {
		return nil, err
	}
	dtype := Long
	if a.DType == Float || b.DType == Float {
		dtype = Float
	}
	out := &Tensor{Shape: shape, Data: make([]float64, numel(shape)), DType: dtype}
	sa := stridesFor(a.Shape, shape)
	sb := stridesFor(b.Shape, shape)
	idx := make([]int, len(shape))
	for k := range out.Data {
		ia, ib := 0, 0
		for d := range idx {
			ia += idx[d] * sa[d]
			ib += idx[d] * sb[d]
		}
		out.Data[k] = castTo(f(a.Data[ia], b.Data[ib]), dtype)
		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < shape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return out, nil
}

// stridesFor returns strides of shape expanded to out, with zero strides
// on broadcast dimensions.
func stridesFor(shape, out []int) []int {
	strides := make([]int, len(out))
	stride := 1
	for i := len(out) - 1; i >= 0; i-- {
		j := len(shape) - len(out) + i
		if j < 0 || shape[j] == 1 {
			strides[i] = 0
		} else {
			strides[i] = stride
		}
		if j >= 0 {
			stride *= shape[j]
		}
	}
	return strides
}
