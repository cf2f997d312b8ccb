package kernels_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/chazu/litert/kernels"
	"github.com/chazu/litert/vm"
)

func call(t *testing.T, reg *vm.Registry, name, overload string, args ...vm.Value) (vm.Value, error) {
	t.Helper()
	op, err := reg.Resolve(name, overload, len(args))
	if err != nil {
		t.Fatalf("Resolve(%s.%s, %d): %v", name, overload, len(args), err)
	}
	return op.Call(args)
}

func tensor(data ...float64) *vm.Tensor {
	return vm.NewTensor([]int{len(data)}, data)
}

// The same operator reached with one, two and three specified arguments
// must pad each call site with its own defaults.
func TestClampArities(t *testing.T) {
	reg := kernels.Default()
	x := tensor(-2, 0.5, 3)

	_, err := call(t, reg, "aten::clamp", "", x)
	if err == nil || err.Error() != "torch.clamp: At least one of 'min' or 'max' must not be None" {
		t.Errorf("clamp(x) error = %v", err)
	}

	got, err := call(t, reg, "aten::clamp", "", x, vm.Int(0))
	if err != nil {
		t.Fatal(err)
	}
	if want := tensor(0, 0.5, 3); !vm.Equal(got, want) {
		t.Errorf("clamp(x, 0) = %s, want %s", got, want)
	}

	got, err = call(t, reg, "aten::clamp", "", x, vm.Int(0), vm.Int(1))
	if err != nil {
		t.Fatal(err)
	}
	if want := tensor(0, 0.5, 1); !vm.Equal(got, want) {
		t.Errorf("clamp(x, 0, 1) = %s, want %s", got, want)
	}

	got, err = call(t, reg, "aten::clamp", "", x, vm.None, vm.Double(0))
	if err != nil {
		t.Fatal(err)
	}
	if want := tensor(-2, 0, 0); !vm.Equal(got, want) {
		t.Errorf("clamp(x, None, 0) = %s, want %s", got, want)
	}
}

func TestArithmetic(t *testing.T) {
	reg := kernels.Default()
	a := vm.NewTensor([]int{2, 2}, []float64{1, 2, 3, 4})
	b := tensor(10, 20)

	tests := []struct {
		name, overload string
		args           []vm.Value
		want           vm.Value
	}{
		{"aten::add", "Tensor", []vm.Value{a, b}, vm.NewTensor([]int{2, 2}, []float64{11, 22, 13, 24})},
		{"aten::add", "Tensor", []vm.Value{a, b, vm.Int(2)}, vm.NewTensor([]int{2, 2}, []float64{21, 42, 23, 44})},
		{"aten::sub", "Tensor", []vm.Value{b, a}, vm.NewTensor([]int{2, 2}, []float64{9, 18, 7, 16})},
		{"aten::add", "Scalar", []vm.Value{a, vm.Double(0.5)}, vm.NewTensor([]int{2, 2}, []float64{1.5, 2.5, 3.5, 4.5})},
		{"aten::mul", "Tensor", []vm.Value{a, b}, vm.NewTensor([]int{2, 2}, []float64{10, 40, 30, 80})},
		{"aten::mul", "Scalar", []vm.Value{b, vm.Int(3)}, tensor(30, 60)},
		{"aten::div", "Tensor", []vm.Value{vm.Full([]int{2}, 3, vm.Long), vm.Full(nil, 2, vm.Long)}, tensor(1.5, 1.5)},
		{"aten::mm", "", []vm.Value{a, vm.NewTensor([]int{2, 1}, []float64{1, 1})}, vm.NewTensor([]int{2, 1}, []float64{3, 7})},
		{"aten::relu", "", []vm.Value{tensor(-1, 2)}, tensor(0, 2)},
	}
	for _, tt := range tests {
		got, err := call(t, reg, tt.name, tt.overload, tt.args...)
		if err != nil {
			t.Errorf("%s.%s: %v", tt.name, tt.overload, err)
			continue
		}
		if !vm.Equal(got, tt.want) {
			t.Errorf("%s.%s = %s, want %s", tt.name, tt.overload, got, tt.want)
		}
	}

	_, err := call(t, reg, "aten::mm", "", a, vm.Ones(3, 1))
	if err == nil || err.Error() != "mat1 and mat2 shapes cannot be multiplied (2x2 and 3x1)" {
		t.Errorf("mm shape error = %v", err)
	}
	if _, err := reg.Resolve("aten::mm", "", 3); !errors.Is(err, vm.ErrArityMismatch) {
		t.Errorf("Resolve(mm, 3) = %v, want ErrArityMismatch", err)
	}
}

func TestFactories(t *testing.T) {
	reg := kernels.Default()
	size := vm.NewTuple(vm.Int(2), vm.Int(3))

	got, err := call(t, reg, "aten::zeros", "", size)
	if err != nil {
		t.Fatal(err)
	}
	if !vm.Equal(got, vm.Zeros(2, 3)) {
		t.Errorf("zeros = %s", got)
	}

	got, err = call(t, reg, "aten::ones", "", &vm.List{Elems: []vm.Value{vm.Int(2)}}, vm.Int(int64(vm.Long)))
	if err != nil {
		t.Fatal(err)
	}
	if !vm.Equal(got, vm.Full([]int{2}, 1, vm.Long)) {
		t.Errorf("ones(long) = %s", got)
	}

	got, err = call(t, reg, "aten::empty", "memory_format", size)
	if err != nil {
		t.Fatal(err)
	}
	if g := got.(*vm.Tensor); g.Numel() != 6 {
		t.Errorf("empty numel = %d", g.Numel())
	}

	got, err = call(t, reg, "aten::full", "", vm.Int(2), vm.Int(7))
	if err != nil {
		t.Fatal(err)
	}
	if !vm.Equal(got, vm.Full([]int{2}, 7, vm.Long)) {
		t.Errorf("full(int) = %s, want Long", got)
	}

	long := vm.Full([]int{1}, 1, vm.Long)
	got, err = call(t, reg, "aten::new_empty", "", long, vm.Int(3))
	if err != nil {
		t.Fatal(err)
	}
	if g := got.(*vm.Tensor); g.DType != vm.Long || g.Numel() != 3 {
		t.Errorf("new_empty = %s, want 3 Long elements", got)
	}

	got, err = call(t, reg, "aten::empty_like", "", vm.Ones(4))
	if err != nil {
		t.Fatal(err)
	}
	if !vm.Equal(got, vm.Zeros(4)) {
		t.Errorf("empty_like = %s", got)
	}

	x := vm.Zeros(2)
	if _, err := call(t, reg, "aten::fill_", "Scalar", x, vm.Double(2.5)); err != nil {
		t.Fatal(err)
	}
	if x.Data[1] != 2.5 {
		t.Errorf("fill_ did not modify in place: %s", x)
	}

	if _, err := call(t, reg, "aten::zeros", "", vm.Int(-1)); err == nil {
		t.Error("expected negative dimension error")
	}
	if _, err := call(t, reg, "aten::zeros", "", vm.Int(1), vm.Int(99)); err == nil {
		t.Error("expected unsupported dtype error")
	}
}

func TestScalarConversions(t *testing.T) {
	reg := kernels.Default()
	tests := []struct {
		name, overload string
		arg            vm.Value
		want           vm.Value
	}{
		{"aten::numel", "", vm.Zeros(2, 3), vm.Int(6)},
		{"aten::Int", "Tensor", vm.Scalar(3.7), vm.Int(3)},
		{"aten::item", "", vm.Scalar(3.5), vm.Double(3.5)},
		{"aten::item", "", vm.Full(nil, 4, vm.Long), vm.Int(4)},
		{"aten::item", "", vm.Full(nil, 1, vm.Bool8), vm.Bool(true)},
		{"prim::NumToTensor", "Scalar", vm.Int(5), vm.Full(nil, 5, vm.Long)},
	}
	for _, tt := range tests {
		got, err := call(t, reg, tt.name, tt.overload, tt.arg)
		if err != nil {
			t.Errorf("%s(%s): %v", tt.name, tt.arg, err)
			continue
		}
		if !vm.Equal(got, tt.want) {
			t.Errorf("%s(%s) = %s, want %s", tt.name, tt.arg, got, tt.want)
		}
	}
	if _, err := call(t, reg, "aten::item", "", vm.Ones(2)); err == nil ||
		!strings.Contains(err.Error(), "cannot be converted to Scalar") {
		t.Errorf("item on two elements: %v", err)
	}
}

func TestPrimOperators(t *testing.T) {
	reg := kernels.Default()
	list := &vm.List{Elems: []vm.Value{vm.Int(1), vm.Int(2), vm.Int(3)}}

	got, err := call(t, reg, "aten::__getitem__", "t", list, vm.Int(-1))
	if err != nil || got != vm.Int(3) {
		t.Errorf("list[-1] = %v, %v", got, err)
	}
	if _, err := call(t, reg, "aten::__getitem__", "t", list, vm.Int(3)); err == nil {
		t.Error("expected index error")
	}
	if got, _ := call(t, reg, "aten::len", "t", list); got != vm.Int(3) {
		t.Errorf("len = %v", got)
	}
	if got, _ := call(t, reg, "aten::str", "", vm.Double(2)); got != vm.Str("2.") {
		t.Errorf("str(2.0) = %v", got)
	}
	for _, tt := range []struct {
		op   string
		a, b int64
		want vm.Value
	}{
		{"aten::add", 2, 3, vm.Int(5)},
		{"aten::eq", 2, 2, vm.Bool(true)},
		{"aten::gt", 2, 3, vm.Bool(false)},
		{"aten::lt", 2, 3, vm.Bool(true)},
	} {
		got, err := call(t, reg, tt.op, "int", vm.Int(tt.a), vm.Int(tt.b))
		if err != nil || got != tt.want {
			t.Errorf("%s(%d, %d) = %v, %v; want %v", tt.op, tt.a, tt.b, got, err, tt.want)
		}
	}

	got, err = call(t, reg, "prim::DictConstruct", "", vm.Str("a"), vm.Int(1), vm.Str("b"), vm.Int(2))
	if err != nil {
		t.Fatal(err)
	}
	if got.String() != "{a: 1, b: 2}" {
		t.Errorf("DictConstruct = %s", got)
	}
	if _, err := call(t, reg, "prim::DictConstruct", "", vm.Str("a")); err == nil {
		t.Error("expected odd input error")
	}
	got, _ = call(t, reg, "prim::TupleConstruct", "", vm.Int(1), vm.Str("x"))
	if got.String() != "(1, x)" {
		t.Errorf("TupleConstruct = %s", got)
	}
	got, _ = call(t, reg, "prim::ListConstruct", "")
	if got.String() != "[]" {
		t.Errorf("empty ListConstruct = %s", got)
	}

	_, err = call(t, reg, "prim::RaiseException", "", vm.Str("AssertionError: bad"))
	var raised *kernels.RaisedError
	if !errors.As(err, &raised) || raised.Msg != "AssertionError: bad" || !errors.Is(err, kernels.ErrRaised) {
		t.Errorf("RaiseException error = %v", err)
	}
}

func TestRegisterTwice(t *testing.T) {
	reg := kernels.Default()
	if err := kernels.Register(reg); err == nil {
		t.Error("registering built-ins twice should fail")
	}
}
