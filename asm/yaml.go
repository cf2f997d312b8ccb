package asm

import (
	"fmt"
	"os"
	"strconv"

	"github.com/chazu/litert/vm"
	"gopkg.in/yaml.v3"
)

// Description is a YAML model description.
//
//	type: __torch__.M
//	attributes:
//	  scale: 2
//	submodules:
//	  - {instance: A0, type: __torch__.A, parent: 0}
//	sources:
//	  - file: model.py
//	    line: 1
//	    text: |
//	      def forward(self, x):
//	          return x + 1
//	functions:
//	  - name: forward
//	    args: [self, x]
//	    constants: [1]
//	    operators:
//	      - {name: aten::add, overload: Tensor, args: 2}
//	    code:
//	      - [STOREN, 0, 2]
//	      - [MOVE, 1]
//	      - [LOADC, 0]
//	      - inst: [OP, 0]
//	        debug: {op: aten::add, source: 0, span: "x + 1"}
//	      - [RET]
type Description struct {
	Type       string            `yaml:"type"`
	Attributes yaml.Node         `yaml:"attributes,omitempty"`
	Submodules []SubmoduleDesc   `yaml:"submodules,omitempty"`
	Sources    []SourceDesc      `yaml:"sources,omitempty"`
	Functions  []FunctionDesc    `yaml:"functions"`
	Extra      map[string]string `yaml:"extra,omitempty"`
}

// SubmoduleDesc is a hierarchy node.
type SubmoduleDesc struct {
	Instance string `yaml:"instance"`
	Type     string `yaml:"type"`
	Parent   int    `yaml:"parent"`
}

// SourceDesc is a retained source text.
type SourceDesc struct {
	File string `yaml:"file"`
	Line int    `yaml:"line,omitempty"`
	Text string `yaml:"text"`
}

// FunctionDesc describes one function.
type FunctionDesc struct {
	Name      string            `yaml:"name"`
	Args      []string          `yaml:"args,omitempty"`
	Registers *int              `yaml:"registers,omitempty"`
	Top       string            `yaml:"top,omitempty"`
	Constants []yaml.Node       `yaml:"constants,omitempty"`
	Operators []OperatorDesc    `yaml:"operators,omitempty"`
	Types     []string          `yaml:"types,omitempty"`
	Code      []InstructionDesc `yaml:"code"`
}

// OperatorDesc is an operator table entry; Args defaults to -1.
type OperatorDesc struct {
	Name     string `yaml:"name"`
	Overload string `yaml:"overload,omitempty"`
	Args     *int   `yaml:"args,omitempty"`
}

// DebugDesc attaches a debug entry to an instruction. Spans are located
// by searching the named source for the given text.
type DebugDesc struct {
	Op     string     `yaml:"op,omitempty"`
	Source int        `yaml:"source"`
	Span   string     `yaml:"span,omitempty"`
	Nth    int        `yaml:"nth,omitempty"`
	Calls  []CallDesc `yaml:"calls,omitempty"`
}

// CallDesc is one call level of a debug entry.
type CallDesc struct {
	Node   int    `yaml:"node"`
	Method string `yaml:"method"`
	Source int    `yaml:"source"`
	Span   string `yaml:"span"`
	Nth    int    `yaml:"nth,omitempty"`
}

// InstructionDesc is written either as a sequence [OP, x, n] or as a
// mapping {inst: [OP, x, n], debug: {...}}.
type InstructionDesc struct {
	Op    string
	X, N  int32
	Debug *DebugDesc
}

func (d *InstructionDesc) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.MappingNode {
		var m struct {
			Inst  yaml.Node  `yaml:"inst"`
			Debug *DebugDesc `yaml:"debug"`
		}
		if err := node.Decode(&m); err != nil {
			return err
		}
		d.Debug = m.Debug
		node = &m.Inst
	}
	if node.Kind != yaml.SequenceNode || len(node.Content) == 0 || len(node.Content) > 3 {
		return fmt.Errorf("line %d: instruction must be [OP, x, n]", node.Line)
	}
	d.Op = node.Content[0].Value
	ops := []*int32{&d.X, &d.N}
	for i, c := range node.Content[1:] {
		v, err := strconv.ParseInt(c.Value, 10, 32)
		if err != nil {
			return fmt.Errorf("line %d: operand %q: %w", c.Line, c.Value, err)
		}
		*ops[i] = int32(v)
	}
	return nil
}

// Parse decodes a YAML model description.
func Parse(data []byte) (*Description, error) {
	var d Description
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("asm: %w", err)
	}
	if d.Type == "" {
		return nil, fmt.Errorf("asm: model type is required")
	}
	return &d, nil
}

// AssembleYAML builds a module from a YAML description.
func AssembleYAML(data []byte, rt *vm.Runtime) (*vm.Module, error) {
	d, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return d.Assemble(rt)
}

// AssembleFile builds a module from a YAML description on disk.
func AssembleFile(path string, rt *vm.Runtime) (*vm.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("asm: %w", err)
	}
	return AssembleYAML(data, rt)
}

// Assemble builds a module from the description.
func (d *Description) Assemble(rt *vm.Runtime) (*vm.Module, error) {
	b := New(rt, d.Type)
	if d.Attributes.Kind == yaml.MappingNode {
		c := d.Attributes.Content
		for i := 0; i+1 < len(c); i += 2 {
			v, err := decodeValue(c[i+1])
			if err != nil {
				return nil, fmt.Errorf("asm: attribute %s: %w", c[i].Value, err)
			}
			b.Attr(c[i].Value, v)
		}
	}
	for _, s := range d.Submodules {
		b.Submodule(s.Parent, s.Instance, s.Type)
	}
	for _, s := range d.Sources {
		line := s.Line
		if line == 0 {
			line = 1
		}
		b.Source(s.File, s.Text, line)
	}
	for name, content := range d.Extra {
		b.ExtraFile(name, content)
	}

	for _, fd := range d.Functions {
		f := b.Func(fd.Name, fd.Args...)
		if fd.Registers != nil {
			f.Registers(*fd.Registers)
		}
		f.Top(fd.Top)
		for i := range fd.Constants {
			v, err := decodeValue(&fd.Constants[i])
			if err != nil {
				return nil, fmt.Errorf("asm: %s constant %d: %w", fd.Name, i, err)
			}
			f.fn.Constants = append(f.fn.Constants, v)
		}
		for _, op := range fd.Operators {
			n := -1
			if op.Args != nil {
				n = *op.Args
			}
			f.fn.Operators = append(f.fn.Operators, vm.OperatorRef{Name: op.Name, Overload: op.Overload, NumSpecifiedArgs: n})
		}
		f.fn.Types = append(f.fn.Types, fd.Types...)
		for pc, in := range fd.Code {
			op, err := vm.ParseOpCode(in.Op)
			if err != nil {
				return nil, fmt.Errorf("asm: %s pc %d: %w", fd.Name, pc, err)
			}
			if in.Debug != nil {
				f.Debug(b.debugEntry(in.Debug))
			}
			f.Emit(op, in.X, in.N)
		}
	}
	return b.Module()
}

func (b *Builder) debugEntry(d *DebugDesc) vm.DebugEntry {
	e := vm.DebugEntry{Op: d.Op, Range: vm.NoRange}
	if d.Span != "" {
		e.Range = b.Span(d.Source, d.Span, d.Nth)
	}
	for _, c := range d.Calls {
		r := vm.NoRange
		if c.Span != "" {
			r = b.Span(c.Source, c.Span, c.Nth)
		}
		e.Calls = append(e.Calls, vm.CallSite{Node: c.Node, Method: c.Method, Range: r})
	}
	return e
}

// ParseValue parses a single value written in the description syntax,
// e.g. "3", "[1, 2]" or "{tensor: [1, 2], dtype: long}".
func ParseValue(text string) (vm.Value, error) {
	var n yaml.Node
	if err := yaml.Unmarshal([]byte(text), &n); err != nil {
		return nil, fmt.Errorf("asm: %w", err)
	}
	if n.Kind == 0 || len(n.Content) == 0 {
		return vm.None, nil
	}
	return decodeValue(n.Content[0])
}

// decodeValue converts a YAML node into a value. Scalars map to None,
// bool, int, float and str; sequences to lists; single-key mappings
// {tensor: [...], shape: [...], dtype: long}, {tuple: [...]} and
// {dict: [[k, v], ...]} to the corresponding values.
func decodeValue(n *yaml.Node) (vm.Value, error) {
	switch n.Kind {
	case yaml.AliasNode:
		return decodeValue(n.Alias)
	case yaml.ScalarNode:
		switch n.ShortTag() {
		case "!!null":
			return vm.None, nil
		case "!!bool":
			var b bool
			err := n.Decode(&b)
			return vm.Bool(b), err
		case "!!int":
			var i int64
			err := n.Decode(&i)
			return vm.Int(i), err
		case "!!float":
			var f float64
			err := n.Decode(&f)
			return vm.Double(f), err
		}
		return vm.Str(n.Value), nil
	case yaml.SequenceNode:
		elems, err := decodeValues(n.Content)
		if err != nil {
			return nil, err
		}
		return &vm.List{Elems: elems}, nil
	case yaml.MappingNode:
		return decodeTagged(n)
	}
	return nil, fmt.Errorf("line %d: unsupported value", n.Line)
}

func decodeValues(ns []*yaml.Node) ([]vm.Value, error) {
	out := make([]vm.Value, len(ns))
	for i, c := range ns {
		v, err := decodeValue(c)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func decodeTagged(n *yaml.Node) (vm.Value, error) {
	fields := make(map[string]*yaml.Node)
	for i := 0; i+1 < len(n.Content); i += 2 {
		fields[n.Content[i].Value] = n.Content[i+1]
	}
	switch {
	case fields["tensor"] != nil:
		var data []float64
		if err := fields["tensor"].Decode(&data); err != nil {
			return nil, err
		}
		shape := []int{len(data)}
		if s := fields["shape"]; s != nil {
			shape = nil
			if err := s.Decode(&shape); err != nil {
				return nil, err
			}
		}
		dtype := vm.Float
		if d := fields["dtype"]; d != nil {
			switch d.Value {
			case "long":
				dtype = vm.Long
			case "bool":
				dtype = vm.Bool8
			case "float":
			default:
				return nil, fmt.Errorf("line %d: unknown dtype %q", d.Line, d.Value)
			}
		}
		count := 1
		for _, d := range shape {
			count *= d
		}
		if count != len(data) {
			return nil, fmt.Errorf("tensor shape %v needs %d elements, got %d", shape, count, len(data))
		}
		return vm.NewTensor(shape, data).Cast(dtype), nil
	case fields["tuple"] != nil:
		elems, err := decodeValues(fields["tuple"].Content)
		if err != nil {
			return nil, err
		}
		return vm.NewTuple(elems...), nil
	case fields["dict"] != nil:
		d := vm.NewDict()
		for _, pair := range fields["dict"].Content {
			if len(pair.Content) != 2 {
				return nil, fmt.Errorf("line %d: dict entries are [key, value]", pair.Line)
			}
			kv, err := decodeValues(pair.Content)
			if err != nil {
				return nil, err
			}
			if err := d.Set(kv[0], kv[1]); err != nil {
				return nil, err
			}
		}
		return d, nil
	}
	return nil, fmt.Errorf("line %d: mapping values need a tensor, tuple or dict key", n.Line)
}
