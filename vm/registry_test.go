package vm

import (
	"errors"
	"sync"
	"testing"
)

// echo returns its (padded) arguments as a tuple.
func echo(args []Value) (Value, error) { return NewTuple(args...), nil }

func clampRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	reg.MustRegister(&Schema{
		Name:    "aten::clamp",
		Args:    []Argument{Arg("self"), ArgDefault("min", None), ArgDefault("max", None)},
		Returns: 1,
		Kernel:  echo,
	})
	reg.MustRegister(&Schema{
		Name:     "aten::add",
		Overload: "int",
		Args:     []Argument{Arg("a"), Arg("b")},
		Returns:  1,
		Kernel:   echo,
	})
	reg.MustRegister(&Schema{Name: "prim::TupleConstruct", Variadic: true, Returns: 1, Kernel: echo})
	return reg
}

func TestResolvePadsDefaults(t *testing.T) {
	reg := clampRegistry(t)
	x := Int(7)

	tests := []struct {
		specified int
		args      []Value
		want      []Value
	}{
		{1, []Value{x}, []Value{x, None, None}},
		{2, []Value{x, Int(0)}, []Value{x, Int(0), None}},
		{3, []Value{x, Int(0), Int(9)}, []Value{x, Int(0), Int(9)}},
		{-1, []Value{x, Int(1), Int(2)}, []Value{x, Int(1), Int(2)}},
	}
	for _, tt := range tests {
		op, err := reg.Resolve("aten::clamp", "", tt.specified)
		if err != nil {
			t.Fatalf("Resolve(clamp, %d): %v", tt.specified, err)
		}
		got, err := op.Call(tt.args)
		if err != nil {
			t.Fatalf("Call: %v", err)
		}
		if !Equal(got, NewTuple(tt.want...)) {
			t.Errorf("specified %d: got %s, want %s", tt.specified, got, NewTuple(tt.want...))
		}
	}

	op, _ := reg.Resolve("aten::clamp", "", -1)
	if op.NumInputs() != 3 {
		t.Errorf("NumInputs for -1 = %d, want 3", op.NumInputs())
	}
	op, _ = reg.Resolve("aten::clamp", "", 1)
	if op.NumInputs() != 1 || op.Specified() != 1 {
		t.Errorf("NumInputs = %d, Specified = %d, want 1, 1", op.NumInputs(), op.Specified())
	}
}

func TestResolveErrors(t *testing.T) {
	reg := clampRegistry(t)

	if _, err := reg.Resolve("aten::nope", "", 1); !errors.Is(err, ErrOperatorNotFound) {
		t.Errorf("unknown operator: got %v, want ErrOperatorNotFound", err)
	}
	if _, err := reg.Resolve("aten::add", "Tensor", 2); !errors.Is(err, ErrOperatorNotFound) {
		t.Errorf("unknown overload: got %v, want ErrOperatorNotFound", err)
	}
	if _, err := reg.Resolve("aten::clamp", "", 4); !errors.Is(err, ErrArityMismatch) {
		t.Errorf("too many arguments: got %v, want ErrArityMismatch", err)
	}
	if _, err := reg.Resolve("aten::add", "int", 1); !errors.Is(err, ErrArityMismatch) {
		t.Errorf("missing default: got %v, want ErrArityMismatch", err)
	}
	if _, err := reg.Resolve("prim::TupleConstruct", "", 5); err != nil {
		t.Errorf("variadic resolve: %v", err)
	}
}

func TestResolveFailureNotCached(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Resolve("aten::relu", "", 1); err == nil {
		t.Fatal("expected error before registration")
	}
	reg.MustRegister(&Schema{Name: "aten::relu", Args: []Argument{Arg("self")}, Returns: 1, Kernel: echo})
	if _, err := reg.Resolve("aten::relu", "", 1); err != nil {
		t.Fatalf("Resolve after registration: %v", err)
	}
	if s := reg.Stats(); s.Cached != 1 {
		t.Errorf("cached = %d, want 1", s.Cached)
	}
}

func TestResolveCachesByArity(t *testing.T) {
	reg := clampRegistry(t)
	a, _ := reg.Resolve("aten::clamp", "", 1)
	b, _ := reg.Resolve("aten::clamp", "", 1)
	c, _ := reg.Resolve("aten::clamp", "", 2)
	if a != b {
		t.Error("same key resolved to different handles")
	}
	if a == c {
		t.Error("different arity shares a handle")
	}
	s := reg.Stats()
	if s.Cached != 2 || s.Hits != 1 || s.Misses != 2 {
		t.Errorf("stats = %+v, want 2 cached, 1 hit, 2 misses", s)
	}
}

func TestResolveConcurrentFirstUse(t *testing.T) {
	reg := clampRegistry(t)
	const n = 64
	handles := make([]*Operator, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			op, err := reg.Resolve("aten::clamp", "", 1)
			if err != nil {
				t.Error(err)
				return
			}
			handles[i] = op
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 1; i < n; i++ {
		if handles[i] != handles[0] {
			t.Fatalf("goroutine %d got a different handle", i)
		}
	}
	if s := reg.Stats(); s.Cached != 1 {
		t.Errorf("cached = %d, want 1", s.Cached)
	}
}

func TestRegisterErrors(t *testing.T) {
	reg := clampRegistry(t)
	if err := reg.Register(&Schema{Name: "aten::clamp", Kernel: echo}); err == nil {
		t.Error("expected duplicate registration error")
	}
	if err := reg.Register(&Schema{Name: "aten::other"}); err == nil {
		t.Error("expected nil kernel error")
	}
}

func TestOperatorsAndInfo(t *testing.T) {
	reg := clampRegistry(t)
	info := reg.OperatorsAndInfo()
	want := map[string]int{
		"aten::clamp":          3,
		"aten::add.int":        2,
		"prim::TupleConstruct": -1,
	}
	if len(info) != len(want) {
		t.Fatalf("got %d operators, want %d", len(info), len(want))
	}
	for name, n := range want {
		if info[name].NumSchemaArgs != n {
			t.Errorf("%s: NumSchemaArgs = %d, want %d", name, info[name].NumSchemaArgs, n)
		}
	}
	names := reg.Names()
	if names[0] != "aten::add.int" || names[2] != "prim::TupleConstruct" {
		t.Errorf("Names() = %v, want sorted", names)
	}
}
