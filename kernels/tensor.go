package kernels

import (
	"errors"
	"fmt"
	"math"

	"github.com/chazu/litert/vm"
)

// asTensor accepts a tensor or a number; numbers become 0-d tensors.
func asTensor(v vm.Value) (*vm.Tensor, error) {
	switch x := v.(type) {
	case *vm.Tensor:
		return x, nil
	case vm.Int:
		return vm.Full(nil, float64(x), vm.Long), nil
	case vm.Bool:
		f := 0.0
		if x {
			f = 1
		}
		return vm.Full(nil, f, vm.Long), nil
	case vm.Double:
		return vm.Full(nil, float64(x), vm.Float), nil
	}
	return nil, fmt.Errorf("expected Tensor or number, got %s", v.Kind())
}

// asSize accepts an int list, tuple or single int.
func asSize(v vm.Value) ([]int, error) {
	if i, ok := v.(vm.Int); ok {
		return []int{int(i)}, nil
	}
	elems, err := vm.Elements(v)
	if err != nil {
		return nil, err
	}
	shape := make([]int, len(elems))
	for i, e := range elems {
		n, err := vm.AsInt(e)
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, fmt.Errorf("negative dimension %d", n)
		}
		shape[i] = int(n)
	}
	return shape, nil
}

// asDType reads an optional dtype code, falling back to def.
func asDType(v vm.Value, def vm.DType) (vm.DType, error) {
	if v == nil || v.Kind() == vm.KindNone {
		return def, nil
	}
	n, err := vm.AsInt(v)
	if err != nil {
		return 0, err
	}
	if d := vm.DType(n); int64(d) == n && d.Valid() {
		return d, nil
	}
	return 0, fmt.Errorf("unsupported dtype %d", n)
}

func addKernel(sign float64) vm.KernelFunc {
	return func(args []vm.Value) (vm.Value, error) {
		a, err := asTensor(args[0])
		if err != nil {
			return nil, argError("add", "self", err)
		}
		b, err := asTensor(args[1])
		if err != nil {
			return nil, argError("add", "other", err)
		}
		alpha, err := vm.AsFloat(args[2])
		if err != nil {
			return nil, argError("add", "alpha", err)
		}
		k := sign * alpha
		return vm.Broadcast(a, b, func(x, y float64) float64 { return x + k*y })
	}
}

func binary(f func(x, y float64) float64) vm.KernelFunc {
	return func(args []vm.Value) (vm.Value, error) {
		a, err := asTensor(args[0])
		if err != nil {
			return nil, argError("binary", "self", err)
		}
		b, err := asTensor(args[1])
		if err != nil {
			return nil, argError("binary", "other", err)
		}
		return vm.Broadcast(a, b, f)
	}
}

func divKernel(args []vm.Value) (vm.Value, error) {
	a, err := asTensor(args[0])
	if err != nil {
		return nil, argError("div", "self", err)
	}
	b, err := asTensor(args[1])
	if err != nil {
		return nil, argError("div", "other", err)
	}
	return vm.Broadcast(a.Cast(vm.Float), b.Cast(vm.Float), func(x, y float64) float64 { return x / y })
}

func mmKernel(args []vm.Value) (vm.Value, error) {
	a, err := asTensor(args[0])
	if err != nil {
		return nil, argError("mm", "self", err)
	}
	b, err := asTensor(args[1])
	if err != nil {
		return nil, argError("mm", "mat2", err)
	}
	if a.Dim() != 2 || b.Dim() != 2 {
		return nil, errors.New("mm: both arguments must be 2-D")
	}
	n, k, m := a.Shape[0], a.Shape[1], b.Shape[1]
	if b.Shape[0] != k {
		return nil, fmt.Errorf("mat1 and mat2 shapes cannot be multiplied (%dx%d and %dx%d)", n, k, b.Shape[0], m)
	}
	out := vm.Zeros(n, m)
	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			var s float64
			for p := 0; p < k; p++ {
				s += a.Data[i*k+p] * b.Data[p*m+j]
			}
			out.Data[i*m+j] = s
		}
	}
	return out, nil
}

func reluKernel(args []vm.Value) (vm.Value, error) {
	a, err := asTensor(args[0])
	if err != nil {
		return nil, argError("relu", "self", err)
	}
	out := a.Clone()
	for i, v := range out.Data {
		out.Data[i] = math.Max(v, 0)
	}
	return out, nil
}

func clampKernel(args []vm.Value) (vm.Value, error) {
	a, err := asTensor(args[0])
	if err != nil {
		return nil, argError("clamp", "self", err)
	}
	lo, hi := math.Inf(-1), math.Inf(1)
	noneMin, noneMax := args[1].Kind() == vm.KindNone, args[2].Kind() == vm.KindNone
	if noneMin && noneMax {
		return nil, errors.New("torch.clamp: At least one of 'min' or 'max' must not be None")
	}
	if !noneMin {
		if lo, err = vm.AsFloat(args[1]); err != nil {
			return nil, argError("clamp", "min", err)
		}
	}
	if !noneMax {
		if hi, err = vm.AsFloat(args[2]); err != nil {
			return nil, argError("clamp", "max", err)
		}
	}
	out := a.Clone()
	for i, v := range out.Data {
		out.Data[i] = math.Min(math.Max(v, lo), hi)
	}
	return out, nil
}

func fullKernel(fill float64) vm.KernelFunc {
	return func(args []vm.Value) (vm.Value, error) {
		shape, err := asSize(args[0])
		if err != nil {
			return nil, argError("factory", "size", err)
		}
		dtype, err := asDType(args[1], vm.Float)
		if err != nil {
			return nil, argError("factory", "dtype", err)
		}
		return vm.Full(shape, fill, dtype), nil
	}
}

func fullValueKernel(args []vm.Value) (vm.Value, error) {
	shape, err := asSize(args[0])
	if err != nil {
		return nil, argError("full", "size", err)
	}
	v, err := vm.AsFloat(args[1])
	if err != nil {
		return nil, argError("full", "fill_value", err)
	}
	def := vm.Float
	if args[1].Kind() == vm.KindInt {
		def = vm.Long
	}
	dtype, err := asDType(args[2], def)
	if err != nil {
		return nil, argError("full", "dtype", err)
	}
	return vm.Full(shape, v, dtype), nil
}

func emptyLikeKernel(args []vm.Value) (vm.Value, error) {
	a, err := asTensor(args[0])
	if err != nil {
		return nil, argError("empty_like", "self", err)
	}
	dtype, err := asDType(args[1], a.DType)
	if err != nil {
		return nil, argError("empty_like", "dtype", err)
	}
	return vm.Full(a.Shape, 0, dtype), nil
}

func newEmptyKernel(args []vm.Value) (vm.Value, error) {
	a, err := asTensor(args[0])
	if err != nil {
		return nil, argError("new_empty", "self", err)
	}
	shape, err := asSize(args[1])
	if err != nil {
		return nil, argError("new_empty", "size", err)
	}
	dtype, err := asDType(args[2], a.DType)
	if err != nil {
		return nil, argError("new_empty", "dtype", err)
	}
	return vm.Full(shape, 0, dtype), nil
}

func fillKernel(args []vm.Value) (vm.Value, error) {
	a, ok := args[0].(*vm.Tensor)
	if !ok {
		return nil, argError("fill_", "self", fmt.Errorf("expected Tensor, got %s", args[0].Kind()))
	}
	v, err := vm.AsFloat(args[1])
	if err != nil {
		return nil, argError("fill_", "value", err)
	}
	a.Fill(v)
	return a, nil
}

func numelKernel(args []vm.Value) (vm.Value, error) {
	a, err := asTensor(args[0])
	if err != nil {
		return nil, argError("numel", "self", err)
	}
	return vm.Int(a.Numel()), nil
}

func intKernel(args []vm.Value) (vm.Value, error) {
	a, err := asTensor(args[0])
	if err != nil {
		return nil, argError("Int", "a", err)
	}
	f, err := a.Item()
	if err != nil {
		return nil, err
	}
	return vm.Int(int64(f)), nil
}

func itemKernel(args []vm.Value) (vm.Value, error) {
	a, err := asTensor(args[0])
	if err != nil {
		return nil, argError("item", "self", err)
	}
	f, err := a.Item()
	if err != nil {
		return nil, err
	}
	switch a.DType {
	case vm.Float:
		return vm.Double(f), nil
	case vm.Bool8:
		return vm.Bool(f != 0), nil
	}
	return vm.Int(int64(f)), nil
}

func numToTensorKernel(args []vm.Value) (vm.Value, error) {
	return asTensor(args[0])
}
