package asm

import (
	"strings"
	"testing"

	"github.com/chazu/litert/kernels"
	"github.com/chazu/litert/vm"
)

const scaleDesc = `type: __torch__.M
attributes:
  scale: {tensor: [2, 3]}
submodules:
  - {instance: L, type: __torch__.Linear, parent: 0}
sources:
  - file: m.py
    text: |
      def forward(self, x):
          return self.L(x)
  - file: linear.py
    line: 7
    text: |
      def forward(self, x):
          return x * self.scale
extra:
  meta.json: '{}'
functions:
  - name: forward
    args: [self, x]
    top: forward
    constants: [scale]
    operators:
      - {name: aten::mul, overload: Tensor, args: 2}
    code:
      - [STOREN, 0, 2]
      - [MOVE, 1]
      - [MOVE, 0]
      - [GETATTR, 0]
      - inst: [OP, 0]
        debug:
          op: aten::mul
          source: 1
          span: x * self.scale
          calls:
            - {node: 1, method: forward, source: 0, span: self.L(x)}
      - [RET]
`

func TestAssembleYAML(t *testing.T) {
	m, err := AssembleYAML([]byte(scaleDesc), vm.NewRuntime(kernels.Default()))
	if err != nil {
		t.Fatal(err)
	}
	if m.Name != "M" {
		t.Errorf("Name = %q", m.Name)
	}
	if m.ExtraFiles["meta.json"] != "{}" {
		t.Errorf("ExtraFiles = %v", m.ExtraFiles)
	}
	if len(m.Sources) != 2 || m.Sources[0].StartLine != 1 || m.Sources[1].StartLine != 7 {
		t.Errorf("Sources = %+v", m.Sources)
	}
	fn, ok := m.Function("__torch__.M.forward")
	if !ok {
		t.Fatal("forward not qualified with the root type")
	}
	if fn.RegisterSize != 2 {
		t.Errorf("RegisterSize = %d, want 2", fn.RegisterSize)
	}

	got, err := m.Forward(vm.NewTensor([]int{2}, []float64{1, 1}))
	if err != nil {
		t.Fatal(err)
	}
	if want := vm.NewTensor([]int{2}, []float64{2, 3}); !vm.Equal(got, want) {
		t.Errorf("forward = %s, want %s", got, want)
	}

	info, err := m.ForwardDebugInfo(4)
	if err != nil {
		t.Fatal(err)
	}
	if want := "top(M)::forward.L(Linear)::forward.aten::mul"; info != want {
		t.Errorf("debug info = %q, want %q", info, want)
	}
}

func TestAssembleErrors(t *testing.T) {
	tests := []struct {
		name, desc, want string
	}{
		{"no type", "functions: []\n", "model type is required"},
		{"bad opcode", "type: M\nfunctions:\n  - name: f\n    code: [[FROB]]\n", "FROB"},
		{"bad operand", "type: M\nfunctions:\n  - name: f\n    code: [[RET, x]]\n", `operand "x"`},
		{"empty instruction", "type: M\nfunctions:\n  - name: f\n    code: [[]]\n", "instruction must be [OP, x, n]"},
		{"missing span", `type: M
sources: [{file: m.py, text: "a + b"}]
functions:
  - name: f
    code:
      - inst: [RET]
        debug: {source: 0, span: "c + d"}
`, `"c + d" occurs fewer than 1 times`},
		{"invalid bytecode", "type: M\nfunctions:\n  - name: f\n    code: [[LOADC, 3], [RET]]\n", "constant"},
	}
	rt := vm.NewRuntime(kernels.Default())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := AssembleYAML([]byte(tt.desc), rt)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestParseValue(t *testing.T) {
	dict := vm.NewDict()
	dict.Set(vm.Str("a"), vm.Int(1))

	tests := []struct {
		in   string
		want vm.Value
	}{
		{"", vm.None},
		{"null", vm.None},
		{"true", vm.Bool(true)},
		{"3", vm.Int(3)},
		{"-2.5", vm.Double(-2.5)},
		{"hello", vm.Str("hello")},
		{`"42"`, vm.Str("42")},
		{"[1, 2]", &vm.List{Elems: []vm.Value{vm.Int(1), vm.Int(2)}}},
		{"{tuple: [1, x]}", vm.NewTuple(vm.Int(1), vm.Str("x"))},
		{"{dict: [[a, 1]]}", dict},
		{"{tensor: [1, 2, 3, 4], shape: [2, 2]}", vm.NewTensor([]int{2, 2}, []float64{1, 2, 3, 4})},
		{"{tensor: [1.7], shape: [], dtype: long}", vm.Full(nil, 1, vm.Long)},
	}
	for _, tt := range tests {
		got, err := ParseValue(tt.in)
		if err != nil {
			t.Errorf("ParseValue(%q): %v", tt.in, err)
			continue
		}
		if !vm.Equal(got, tt.want) {
			t.Errorf("ParseValue(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}

	for _, in := range []string{
		"{tensor: [1, 2, 3], shape: [2, 2]}",
		"{tensor: [1], dtype: half}",
		"{other: 1}",
		"{dict: [[a]]}",
		"[1, 2",
	} {
		if _, err := ParseValue(in); err == nil {
			t.Errorf("ParseValue(%q): expected error", in)
		}
	}
}

func TestBuilderInterning(t *testing.T) {
	b := New(vm.NewRuntime(kernels.Default()), "__torch__.M")
	f := b.Func("forward", "self")
	if a, c := f.Const(vm.Int(1)), f.Const(vm.Int(1)); a != c {
		t.Errorf("equal constants interned at %d and %d", a, c)
	}
	if a, c := f.Const(vm.Int(1)), f.Const(vm.Double(1)); a == c {
		t.Error("Int(1) and Double(1) share a constant slot")
	}
	if a, c := f.Operator("aten::add", "int", 2), f.Operator("aten::add", "int", 1); a == c {
		t.Error("different specified counts share an operator slot")
	}
	if a, c := f.Type("int"), f.Type("int"); a != c {
		t.Error("equal types interned twice")
	}
}
