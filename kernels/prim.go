package kernels

import (
	"errors"
	"fmt"

	"github.com/chazu/litert/vm"
)

func intBinary(f func(a, b int64) vm.Value) vm.KernelFunc {
	return func(args []vm.Value) (vm.Value, error) {
		a, err := vm.AsInt(args[0])
		if err != nil {
			return nil, argError("int op", "a", err)
		}
		b, err := vm.AsInt(args[1])
		if err != nil {
			return nil, argError("int op", "b", err)
		}
		return f(a, b), nil
	}
}

func getItemKernel(args []vm.Value) (vm.Value, error) {
	elems, err := vm.Elements(args[0])
	if err != nil {
		return nil, argError("__getitem__", "list", err)
	}
	idx, err := vm.AsInt(args[1])
	if err != nil {
		return nil, argError("__getitem__", "idx", err)
	}
	i := idx
	if i < 0 {
		i += int64(len(elems))
	}
	if i < 0 || i >= int64(len(elems)) {
		return nil, fmt.Errorf("list index %d out of range", idx)
	}
	return elems[i], nil
}

func lenKernel(args []vm.Value) (vm.Value, error) {
	switch x := args[0].(type) {
	case *vm.Dict:
		return vm.Int(x.Len()), nil
	case vm.Str:
		return vm.Int(len(x)), nil
	}
	elems, err := vm.Elements(args[0])
	if err != nil {
		return nil, argError("len", "a", err)
	}
	return vm.Int(len(elems)), nil
}

func strKernel(args []vm.Value) (vm.Value, error) {
	return vm.Str(args[0].String()), nil
}

func tupleConstruct(args []vm.Value) (vm.Value, error) {
	return vm.NewTuple(append([]vm.Value(nil), args...)...), nil
}

func listConstruct(args []vm.Value) (vm.Value, error) {
	return &vm.List{Elems: append([]vm.Value(nil), args...)}, nil
}

func dictConstruct(args []vm.Value) (vm.Value, error) {
	if len(args)%2 != 0 {
		return nil, fmt.Errorf("DictConstruct: odd number of inputs (%d)", len(args))
	}
	d := vm.NewDict()
	for i := 0; i < len(args); i += 2 {
		if err := d.Set(args[i], args[i+1]); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// ErrRaised is wrapped by errors raised from bytecode.
var ErrRaised = errors.New("exception raised")

// RaisedError is the error raised by prim::RaiseException.
type RaisedError struct {
	Msg string
}

func (e *RaisedError) Error() string { return e.Msg }

func (e *RaisedError) Unwrap() error { return ErrRaised }

func raiseKernel(args []vm.Value) (vm.Value, error) {
	msg, err := vm.AsString(args[0])
	if err != nil {
		msg = args[0].String()
	}
	return nil, &RaisedError{Msg: msg}
}
