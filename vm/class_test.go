package vm_test

import (
	"fmt"
	"testing"

	"github.com/chazu/litert/asm"
	"github.com/chazu/litert/vm"
)

const counterClass = "__torch__.torch.classes.test.Counter"

// counter is a host class: __init__(base) stores base, get(x) returns
// base + x.
type counter struct {
	base int64
}

func (c *counter) ClassName() string { return counterClass }

func (c *counter) CallMethod(name string, args []vm.Value) (vm.Value, error) {
	switch name {
	case "__init__":
		n, err := vm.AsInt(args[0])
		if err != nil {
			return nil, err
		}
		c.base = n
		return vm.None, nil
	case "get":
		n, err := vm.AsInt(args[0])
		if err != nil {
			return nil, err
		}
		return vm.Int(c.base + n), nil
	}
	return nil, fmt.Errorf("%s has no method %s", counterClass, name)
}

func counterModule(t *testing.T, rt *vm.Runtime, method string) *vm.Module {
	t.Helper()
	b := asm.New(rt, "__torch__.M")
	b.Func("forward", "self", "x").
		StoreN(0, 2).
		CreateObject(counterClass).Store(2).
		Load(2).LoadC(vm.Int(10)).InterfaceCall("__init__", 2).Drop().
		Load(2).Move(1).InterfaceCall(method, 2).
		Ret()
	return b.MustModule()
}

func TestCustomClass(t *testing.T) {
	rt := newRuntime()
	rt.Classes.Register(counterClass, func() vm.CustomObject { return &counter{} })
	m := counterModule(t, rt, "get")

	got, err := m.Forward(vm.Int(5))
	if err != nil {
		t.Fatal(err)
	}
	if got != vm.Int(15) {
		t.Errorf("got %v, want 15", got)
	}
	if names := rt.Classes.Names(); len(names) != 1 || names[0] != counterClass {
		t.Errorf("Names = %v", names)
	}
}

func TestCustomClassErrors(t *testing.T) {
	rt := newRuntime()
	rt.Classes.Register(counterClass, func() vm.CustomObject { return &counter{} })
	if _, err := counterModule(t, rt, "missing").Forward(vm.Int(1)); err == nil {
		t.Error("expected error for unknown method")
	}

	// Without a registered constructor CREATE_OBJECT yields a plain
	// object, whose methods are looked up as bytecode functions.
	if _, err := counterModule(t, newRuntime(), "get").Forward(vm.Int(1)); err == nil {
		t.Error("expected error for unregistered class")
	}
}
