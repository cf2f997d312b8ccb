package backport_test

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/chazu/litert/archive"
	"github.com/chazu/litert/asm"
	"github.com/chazu/litert/backport"
	"github.com/chazu/litert/format"
	"github.com/chazu/litert/kernels"
	"github.com/chazu/litert/vm"
)

const src = "def forward(self, x, flag: bool):\n    y = torch.clamp(x, 0) if flag else x\n    return (y, 1), [1, 2], {'k': y}\n"

func newRuntime() *vm.Runtime { return vm.NewRuntime(kernels.Default()) }

// branchModel exercises every lowering step: packed words, the three
// construct instructions, an operator call relying on a schema default
// and jumps across that call.
func branchModel(t *testing.T) *vm.Module {
	t.Helper()
	b := asm.New(newRuntime(), "__torch__.M")
	s := b.Source("m.py", src, 1)
	f := b.Func("forward", "self", "x", "flag").Top("forward")
	f.StoreN(0, 3).Load(2)
	jf := f.PC()
	f.JF(0)
	f.Load(1).LoadC(vm.Int(0))
	f.Debug(vm.DebugEntry{Op: "aten::clamp", Range: b.Span(s, "torch.clamp(x, 0)", 0)})
	f.Op("aten::clamp", "", 2)
	jmp := f.PC()
	f.JMP(0)
	f.PatchJump(jf, f.PC())
	f.Load(1)
	f.PatchJump(jmp, f.PC())
	f.Store(3)
	f.Load(3).LoadC(vm.Int(1)).TupleConstruct(2)
	f.LoadC(vm.Int(1)).LoadC(vm.Int(2)).ListConstruct("List[int]", 2)
	f.LoadC(vm.Str("k")).Load(3).DictConstruct("Dict[str, Tensor]", 2)
	f.TupleConstruct(3).Ret()
	m, err := b.Module()
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func saved(t *testing.T, m *vm.Module) *archive.Memory {
	t.Helper()
	mem := archive.NewMemory()
	if err := format.Save(mem, m); err != nil {
		t.Fatal(err)
	}
	return mem
}

func outputs(t *testing.T, m *vm.Module) []vm.Value {
	t.Helper()
	var out []vm.Value
	for _, flag := range []bool{true, false} {
		v, err := m.Forward(vm.NewTensor([]int{3}, []float64{-1, 0.5, 2}), vm.Bool(flag))
		if err != nil {
			t.Fatalf("forward(flag=%v) at version %d: %v", flag, m.Version, err)
		}
		out = append(out, v)
	}
	return out
}

func TestBackportEveryTarget(t *testing.T) {
	orig := branchModel(t)
	want := outputs(t, orig)
	if vm.Equal(want[0], want[1]) {
		t.Fatalf("both branches returned %s", want[0])
	}
	in := saved(t, orig)

	for target := vm.ProducedBytecodeVersion - 1; target >= vm.MinSupportedBytecodeVersion; target-- {
		out := archive.NewMemory()
		if err := backport.NewManager(nil).Backport(in, out, target); err != nil {
			t.Fatalf("target %d: %v", target, err)
		}
		rs, err := format.ReadRecords(out)
		if err != nil {
			t.Fatal(err)
		}
		if rs.Version != target {
			t.Errorf("target %d: version record %d", target, rs.Version)
		}
		fr, _ := rs.Function("__torch__.M.forward")
		if len(fr.Packed) != 0 {
			t.Errorf("target %d: packed instructions remain", target)
		}
		for _, in := range fr.Instructions {
			if target < 7 && strings.HasSuffix(in.Op, "_CONSTRUCT") {
				t.Errorf("target %d: %s remains", target, in.Op)
			}
		}
		if target < 6 {
			for _, op := range fr.Operators {
				if op.NumArgs != nil {
					t.Errorf("target %d: %s keeps an argument count", target, op.Name)
				}
			}
			if len(fr.Instructions) != len(orig.Functions()[0].Instructions)+1 {
				t.Errorf("target %d: %d instructions, want one LOADC inserted", target, len(fr.Instructions))
			}
		}
		if target < 5 && (rs.Constants != nil || len(fr.ConstantRefs) != 0 || len(fr.Constants) == 0) {
			t.Errorf("target %d: constants not inlined", target)
		}

		m, err := format.Load(out, newRuntime())
		if err != nil {
			t.Fatalf("target %d: load: %v", target, err)
		}
		if got := outputs(t, m); !vm.Equal(got[0], want[0]) || !vm.Equal(got[1], want[1]) {
			t.Errorf("target %d: outputs %v, want %v", target, got, want)
		}

		clampPC := 5
		if target < 6 {
			clampPC = 6
		}
		info, err := m.ForwardDebugInfo(clampPC)
		if err != nil {
			t.Fatal(err)
		}
		if info != "top(M)::forward.aten::clamp" {
			t.Errorf("target %d: pc %d debug info %q", target, clampPC, info)
		}
	}
}

func listElemType(t *testing.T, m *vm.Module) string {
	t.Helper()
	out := outputs(t, m)[0].(*vm.Tuple)
	l, ok := out.Elems[1].(*vm.List)
	if !ok {
		t.Fatalf("second output is %s, want a list", out.Elems[1].Kind())
	}
	return l.ElemType
}

func TestLoweredListDropsElementType(t *testing.T) {
	orig := branchModel(t)
	if got := listElemType(t, orig); got != "List[int]" {
		t.Fatalf("version %d list type = %q", orig.Version, got)
	}

	for _, target := range []int{7, 6} {
		out := archive.NewMemory()
		if err := backport.NewManager(nil).Backport(saved(t, orig), out, target); err != nil {
			t.Fatalf("target %d: %v", target, err)
		}
		m, err := format.Load(out, newRuntime())
		if err != nil {
			t.Fatalf("target %d: %v", target, err)
		}
		want := "List[int]"
		if target < 7 {
			want = ""
		}
		if got := listElemType(t, m); got != want {
			t.Errorf("target %d: list type = %q, want %q", target, got, want)
		}
	}
}

func TestBackportErrors(t *testing.T) {
	in := saved(t, branchModel(t))
	mgr := backport.NewManager(newRuntime())
	tests := []struct {
		target int
		want   error
	}{
		{3, backport.ErrBackportRange},
		{0, backport.ErrBackportRange},
		{8, backport.ErrNoDowngrade},
		{9, backport.ErrNoDowngrade},
	}
	for _, tt := range tests {
		out := archive.NewMemory()
		if err := mgr.Backport(in, out, tt.target); !errors.Is(err, tt.want) {
			t.Errorf("target %d: %v, want %v", tt.target, err, tt.want)
		}
		if len(out.Records()) != 0 {
			t.Errorf("target %d: records written on failure", tt.target)
		}
	}

	if err := mgr.Backport(archive.NewMemory(), archive.NewMemory(), 5); !errors.Is(err, format.ErrMissingVersion) {
		t.Errorf("empty input: %v, want ErrMissingVersion", err)
	}
}

func TestBackportBool(t *testing.T) {
	in := saved(t, branchModel(t))

	out := archive.NewMemory()
	if backport.Backport(in, out, 3) {
		t.Error("Backport to 3 succeeded")
	}
	if len(out.Records()) != 0 {
		t.Error("failed backport wrote records")
	}

	if !backport.Backport(in, out, 5) {
		t.Fatal("Backport to 5 failed")
	}
	if v, _ := format.Version(out); v != 5 {
		t.Errorf("version = %d, want 5", v)
	}
}

func TestVerifyHook(t *testing.T) {
	in := saved(t, branchModel(t))

	var steps [][2]int
	record := func(from, to int, m *vm.Module) error {
		if m.Version != to {
			t.Errorf("hook for %d -> %d got a version %d module", from, to, m.Version)
		}
		steps = append(steps, [2]int{from, to})
		return nil
	}
	if err := backport.NewManager(nil, backport.WithVerify(record)).Backport(in, archive.NewMemory(), 4); err != nil {
		t.Fatal(err)
	}
	if want := [][2]int{{8, 7}, {7, 6}, {6, 5}, {5, 4}}; !reflect.DeepEqual(steps, want) {
		t.Errorf("verified steps %v, want %v", steps, want)
	}

	reject := func(from, to int, m *vm.Module) error {
		if to == 6 {
			return errors.New("no")
		}
		return nil
	}
	out := archive.NewMemory()
	err := backport.NewManager(nil, backport.WithVerify(reject)).Backport(in, out, 4)
	if !errors.Is(err, backport.ErrStepVerification) || !strings.Contains(err.Error(), "version 6") {
		t.Errorf("rejected step: %v", err)
	}
	if len(out.Records()) != 0 {
		t.Error("records written after a rejected step")
	}
}

func TestCustomSteps(t *testing.T) {
	in := saved(t, branchModel(t))

	// A step that forgets to unpack leaves packed words in a version 7
	// record set, which must not load.
	noop := func(rs *format.Records, _ *vm.Registry) error { return nil }
	err := backport.NewManager(nil, backport.WithStep(8, noop)).Backport(in, archive.NewMemory(), 7)
	if !errors.Is(err, backport.ErrStepVerification) {
		t.Errorf("noop step: %v, want ErrStepVerification", err)
	}

	boom := errors.New("boom")
	failing := func(rs *format.Records, _ *vm.Registry) error { return boom }
	err = backport.NewManager(nil, backport.WithStep(7, failing)).Backport(in, archive.NewMemory(), 5)
	if !errors.Is(err, boom) || !strings.Contains(err.Error(), "7 -> 6") {
		t.Errorf("failing step: %v", err)
	}

	// The input record set is never modified by a step.
	if v, _ := format.Version(in); v != vm.ProducedBytecodeVersion {
		t.Errorf("input version changed to %d", v)
	}
}
