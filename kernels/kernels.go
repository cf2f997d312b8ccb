// Package kernels provides the operator kernels the runtime ships with:
// a small dense tensor library plus the prim:: container and control
// operators that bytecode relies on.
package kernels

import (
	"fmt"

	"github.com/chazu/litert/vm"
)

// Register adds every built-in operator to reg.
func Register(reg *vm.Registry) error {
	for _, s := range schemas() {
		if err := reg.Register(s); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a fresh registry with every built-in operator.
func Default() *vm.Registry {
	reg := vm.NewRegistry()
	if err := Register(reg); err != nil {
		panic(err)
	}
	return reg
}

// tensorOptions are the trailing keyword arguments of factory functions.
var tensorOptions = []vm.Argument{
	vm.ArgDefault("dtype", vm.None),
	vm.ArgDefault("layout", vm.None),
	vm.ArgDefault("device", vm.None),
	vm.ArgDefault("pin_memory", vm.None),
}

func withOptions(args ...vm.Argument) []vm.Argument {
	return append(args, tensorOptions...)
}

func schemas() []*vm.Schema {
	alpha := vm.ArgDefault("alpha", vm.Int(1))
	return []*vm.Schema{
		// Arithmetic
		{Name: "aten::add", Overload: "Tensor", Args: []vm.Argument{vm.Arg("self"), vm.Arg("other"), alpha}, Returns: 1, Kernel: addKernel(1)},
		{Name: "aten::add", Overload: "Scalar", Args: []vm.Argument{vm.Arg("self"), vm.Arg("other"), alpha}, Returns: 1, Kernel: addKernel(1)},
		{Name: "aten::sub", Overload: "Tensor", Args: []vm.Argument{vm.Arg("self"), vm.Arg("other"), alpha}, Returns: 1, Kernel: addKernel(-1)},
		{Name: "aten::mul", Overload: "Tensor", Args: []vm.Argument{vm.Arg("self"), vm.Arg("other")}, Returns: 1, Kernel: binary(func(x, y float64) float64 { return x * y })},
		{Name: "aten::mul", Overload: "Scalar", Args: []vm.Argument{vm.Arg("self"), vm.Arg("other")}, Returns: 1, Kernel: binary(func(x, y float64) float64 { return x * y })},
		{Name: "aten::div", Overload: "Tensor", Args: []vm.Argument{vm.Arg("self"), vm.Arg("other")}, Returns: 1, Kernel: divKernel},
		{Name: "aten::mm", Args: []vm.Argument{vm.Arg("self"), vm.Arg("mat2")}, Returns: 1, Kernel: mmKernel},
		{Name: "aten::relu", Args: []vm.Argument{vm.Arg("self")}, Returns: 1, Kernel: reluKernel},
		{Name: "aten::clamp", Args: []vm.Argument{vm.Arg("self"), vm.ArgDefault("min", vm.None), vm.ArgDefault("max", vm.None)}, Returns: 1, Kernel: clampKernel},

		// Factories
		{Name: "aten::zeros", Args: withOptions(vm.Arg("size")), Returns: 1, Kernel: fullKernel(0)},
		{Name: "aten::ones", Args: withOptions(vm.Arg("size")), Returns: 1, Kernel: fullKernel(1)},
		{Name: "aten::empty", Overload: "memory_format", Args: append(withOptions(vm.Arg("size")), vm.ArgDefault("memory_format", vm.None)), Returns: 1, Kernel: fullKernel(0)},
		{Name: "aten::empty_like", Args: append(withOptions(vm.Arg("self")), vm.ArgDefault("memory_format", vm.None)), Returns: 1, Kernel: emptyLikeKernel},
		{Name: "aten::full", Args: withOptions(vm.Arg("size"), vm.Arg("fill_value")), Returns: 1, Kernel: fullValueKernel},
		{Name: "aten::new_empty", Args: withOptions(vm.Arg("self"), vm.Arg("size")), Returns: 1, Kernel: newEmptyKernel},
		{Name: "aten::fill_", Overload: "Scalar", Args: []vm.Argument{vm.Arg("self"), vm.Arg("value")}, Returns: 1, Kernel: fillKernel},

		// Tensor <-> scalar
		{Name: "aten::numel", Args: []vm.Argument{vm.Arg("self")}, Returns: 1, Kernel: numelKernel},
		{Name: "aten::Int", Overload: "Tensor", Args: []vm.Argument{vm.Arg("a")}, Returns: 1, Kernel: intKernel},
		{Name: "aten::item", Args: []vm.Argument{vm.Arg("self")}, Returns: 1, Kernel: itemKernel},
		{Name: "prim::NumToTensor", Overload: "Scalar", Args: []vm.Argument{vm.Arg("a")}, Returns: 1, Kernel: numToTensorKernel},

		// Integer arithmetic and comparison
		{Name: "aten::add", Overload: "int", Args: []vm.Argument{vm.Arg("a"), vm.Arg("b")}, Returns: 1, Kernel: intBinary(func(a, b int64) vm.Value { return vm.Int(a + b) })},
		{Name: "aten::eq", Overload: "int", Args: []vm.Argument{vm.Arg("a"), vm.Arg("b")}, Returns: 1, Kernel: intBinary(func(a, b int64) vm.Value { return vm.Bool(a == b) })},
		{Name: "aten::gt", Overload: "int", Args: []vm.Argument{vm.Arg("a"), vm.Arg("b")}, Returns: 1, Kernel: intBinary(func(a, b int64) vm.Value { return vm.Bool(a > b) })},
		{Name: "aten::lt", Overload: "int", Args: []vm.Argument{vm.Arg("a"), vm.Arg("b")}, Returns: 1, Kernel: intBinary(func(a, b int64) vm.Value { return vm.Bool(a < b) })},

		// Containers
		{Name: "aten::__getitem__", Overload: "t", Args: []vm.Argument{vm.Arg("list"), vm.Arg("idx")}, Returns: 1, Kernel: getItemKernel},
		{Name: "aten::len", Overload: "t", Args: []vm.Argument{vm.Arg("a")}, Returns: 1, Kernel: lenKernel},
		{Name: "aten::str", Args: []vm.Argument{vm.Arg("elem")}, Returns: 1, Kernel: strKernel},
		{Name: "prim::TupleConstruct", Variadic: true, Returns: 1, Kernel: tupleConstruct},
		{Name: "prim::ListConstruct", Variadic: true, Returns: 1, Kernel: listConstruct},
		{Name: "prim::DictConstruct", Variadic: true, Returns: 1, Kernel: dictConstruct},

		// Control
		{Name: "prim::RaiseException", Args: []vm.Argument{vm.Arg("msg")}, Kernel: raiseKernel},
	}
}

// argError reports a bad argument to an operator.
func argError(op, arg string, err error) error {
	return fmt.Errorf("%s: argument %q: %w", op, arg, err)
}
