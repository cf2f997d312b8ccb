// Package asm assembles modules from a programmatic builder or a YAML
// description. It stands in for the graph compiler that normally produces
// model archives, and is what the tests and the assemble command use.
package asm

import (
	"fmt"
	"strings"

	"github.com/chazu/litert/vm"
)

// Builder assembles a module.
type Builder struct {
	mod        *vm.Module
	funcs      []*FuncBuilder
	nextHandle int64
	err        error
}

// New starts a module whose root object has type typ (e.g. "__torch__.M").
func New(rt *vm.Runtime, typ string) *Builder {
	obj := vm.NewObject(typ)
	obj.SetAttr("training", vm.Bool(false))
	return &Builder{mod: vm.NewModule(rt, obj)}
}

// Attr sets an attribute of the root object.
func (b *Builder) Attr(name string, v vm.Value) *Builder {
	b.mod.Object.SetAttr(name, v)
	return b
}

// Submodule adds a hierarchy node under parent and returns its index.
func (b *Builder) Submodule(parent int, instance, typ string) int {
	b.mod.Hierarchy = append(b.mod.Hierarchy, vm.ModuleInfo{Instance: instance, Type: typ, Parent: parent})
	return len(b.mod.Hierarchy) - 1
}

// Source retains a source text and returns its index.
func (b *Builder) Source(filename, text string, startLine int) int {
	b.mod.Sources = append(b.mod.Sources, vm.Source{Filename: filename, Text: text, StartLine: startLine})
	return len(b.mod.Sources) - 1
}

// Span returns the range of the nth (0-based) occurrence of substr in
// source src.
func (b *Builder) Span(src int, substr string, nth int) vm.SourceRange {
	if src < 0 || src >= len(b.mod.Sources) {
		b.fail(fmt.Errorf("source %d not defined", src))
		return vm.NoRange
	}
	text := b.mod.Sources[src].Text
	off := 0
	for i := 0; ; i++ {
		j := strings.Index(text[off:], substr)
		if j < 0 {
			b.fail(fmt.Errorf("%q occurs fewer than %d times in source %d", substr, nth+1, src))
			return vm.NoRange
		}
		if i == nth {
			return vm.SourceRange{Source: src, Start: off + j, End: off + j + len(substr)}
		}
		off += j + len(substr)
	}
}

// ExtraFile attaches a side file.
func (b *Builder) ExtraFile(name, content string) *Builder {
	b.mod.ExtraFiles[name] = content
	return b
}

// Func starts a function. An unqualified name is qualified with the root
// type.
func (b *Builder) Func(name string, args ...string) *FuncBuilder {
	if !strings.Contains(name, ".") {
		name = b.mod.Object.Type + "." + name
	}
	f := &FuncBuilder{
		b:       b,
		fn:      &vm.Function{Name: name, Arguments: args},
		regSize: -1,
	}
	b.funcs = append(b.funcs, f)
	return f
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Module finishes the module and validates it.
func (b *Builder) Module() (*vm.Module, error) {
	if b.err != nil {
		return nil, b.err
	}
	for _, f := range b.funcs {
		f.finish()
		if err := b.mod.AddFunction(f.fn); err != nil {
			return nil, err
		}
	}
	b.funcs = nil
	if err := b.mod.Validate(); err != nil {
		return nil, err
	}
	return b.mod, nil
}

// MustModule is like Module but panics on error.
func (b *Builder) MustModule() *vm.Module {
	m, err := b.Module()
	if err != nil {
		panic(err)
	}
	return m
}

// ---------------------------------------------------------------------------
// FuncBuilder
// ---------------------------------------------------------------------------

// FuncBuilder emits the instructions and tables of one function.
type FuncBuilder struct {
	b        *Builder
	fn       *vm.Function
	pending  *vm.DebugEntry
	handles  bool
	regSize  int
	fixedReg bool
}

// Registers fixes the register count. Without it the count is derived
// from the highest register used.
func (f *FuncBuilder) Registers(n int) *FuncBuilder {
	f.regSize = n
	f.fixedReg = true
	return f
}

// Top records the method name shown at the root of debug strings.
func (f *FuncBuilder) Top(method string) *FuncBuilder {
	f.fn.DebugTop = method
	return f
}

// Debug attaches a debug entry to the next emitted instruction.
func (f *FuncBuilder) Debug(e vm.DebugEntry) *FuncBuilder {
	f.pending = &e
	return f
}

// PC returns the index the next instruction will get.
func (f *FuncBuilder) PC() int { return len(f.fn.Instructions) }

// Emit appends an instruction.
func (f *FuncBuilder) Emit(op vm.OpCode, x, n int32) *FuncBuilder {
	h := int64(-1)
	if f.pending != nil {
		h = f.b.nextHandle
		f.b.nextHandle++
		f.b.mod.Debug[h] = f.pending
		f.pending = nil
		f.handles = true
	}
	f.fn.Instructions = append(f.fn.Instructions, vm.Inst(op, x, n))
	f.fn.DebugHandles = append(f.fn.DebugHandles, h)
	switch op {
	case vm.OpLOAD, vm.OpMOVE, vm.OpSTORE, vm.OpDROPR:
		f.useReg(int(x) + 1)
	case vm.OpSTOREN:
		f.useReg(int(x + n))
	}
	return f
}

func (f *FuncBuilder) useReg(n int) {
	if !f.fixedReg && n > f.regSize {
		f.regSize = n
	}
}

// Const interns a constant and returns its index.
func (f *FuncBuilder) Const(v vm.Value) int32 {
	for i, c := range f.fn.Constants {
		if c.Kind() == v.Kind() && vm.Equal(c, v) {
			return int32(i)
		}
	}
	f.fn.Constants = append(f.fn.Constants, v)
	return int32(len(f.fn.Constants) - 1)
}

// Operator interns an operator table entry and returns its index.
func (f *FuncBuilder) Operator(name, overload string, specified int) int32 {
	ref := vm.OperatorRef{Name: name, Overload: overload, NumSpecifiedArgs: specified}
	for i, r := range f.fn.Operators {
		if r == ref {
			return int32(i)
		}
	}
	f.fn.Operators = append(f.fn.Operators, ref)
	return int32(len(f.fn.Operators) - 1)
}

// Type interns a type table entry and returns its index.
func (f *FuncBuilder) Type(t string) int32 {
	for i, s := range f.fn.Types {
		if s == t {
			return int32(i)
		}
	}
	f.fn.Types = append(f.fn.Types, t)
	return int32(len(f.fn.Types) - 1)
}

// Convenience emitters.

func (f *FuncBuilder) StoreN(first, n int) *FuncBuilder {
	return f.Emit(vm.OpSTOREN, int32(first), int32(n))
}
func (f *FuncBuilder) Load(r int) *FuncBuilder  { return f.Emit(vm.OpLOAD, int32(r), 0) }
func (f *FuncBuilder) Move(r int) *FuncBuilder  { return f.Emit(vm.OpMOVE, int32(r), 0) }
func (f *FuncBuilder) Store(r int) *FuncBuilder { return f.Emit(vm.OpSTORE, int32(r), 0) }
func (f *FuncBuilder) Drop() *FuncBuilder       { return f.Emit(vm.OpDROP, 0, 0) }
func (f *FuncBuilder) DropR(r int) *FuncBuilder { return f.Emit(vm.OpDROPR, int32(r), 0) }
func (f *FuncBuilder) Ret() *FuncBuilder        { return f.Emit(vm.OpRET, 0, 0) }
func (f *FuncBuilder) Warn() *FuncBuilder       { return f.Emit(vm.OpWARN, 0, 0) }

// LoadC pushes a constant.
func (f *FuncBuilder) LoadC(v vm.Value) *FuncBuilder {
	return f.Emit(vm.OpLOADC, f.Const(v), 0)
}

// Op calls an operator with specified pushed arguments (-1 = all).
func (f *FuncBuilder) Op(name, overload string, specified int) *FuncBuilder {
	return f.Emit(vm.OpOP, f.Operator(name, overload, specified), 0)
}

// OpN calls a variadic operator with n operands.
func (f *FuncBuilder) OpN(name, overload string, n int) *FuncBuilder {
	return f.Emit(vm.OpOPN, f.Operator(name, overload, -1), int32(n))
}

// Call calls a function by qualified name with n operands.
func (f *FuncBuilder) Call(qualified string, n int) *FuncBuilder {
	return f.Emit(vm.OpCALL, f.Const(vm.Str(qualified)), int32(n))
}

// InterfaceCall calls method on the first of n operands.
func (f *FuncBuilder) InterfaceCall(method string, n int) *FuncBuilder {
	return f.Emit(vm.OpINTERFACECALL, f.Const(vm.Str(method)), int32(n))
}

// GetAttr replaces the object on top of the stack with its attribute.
func (f *FuncBuilder) GetAttr(name string) *FuncBuilder {
	return f.Emit(vm.OpGETATTR, f.Const(vm.Str(name)), 0)
}

// SetAttr pops a value and an object and sets the attribute.
func (f *FuncBuilder) SetAttr(name string) *FuncBuilder {
	return f.Emit(vm.OpSETATTR, f.Const(vm.Str(name)), 0)
}

// CreateObject pushes a new instance of typ.
func (f *FuncBuilder) CreateObject(typ string) *FuncBuilder {
	return f.Emit(vm.OpCREATEOBJECT, f.Type(typ), 0)
}

func (f *FuncBuilder) TupleConstruct(n int) *FuncBuilder {
	return f.Emit(vm.OpTUPLECONSTRUCT, int32(n), 0)
}

func (f *FuncBuilder) ListConstruct(elemType string, n int) *FuncBuilder {
	return f.Emit(vm.OpLISTCONSTRUCT, f.Type(elemType), int32(n))
}

func (f *FuncBuilder) DictConstruct(typ string, n int) *FuncBuilder {
	return f.Emit(vm.OpDICTCONSTRUCT, f.Type(typ), int32(n))
}

func (f *FuncBuilder) ListUnpack(n int) *FuncBuilder {
	return f.Emit(vm.OpLISTUNPACK, int32(n), 0)
}

func (f *FuncBuilder) Format(n int) *FuncBuilder {
	return f.Emit(vm.OpFORMAT, int32(n), 0)
}

// JF emits a conditional jump; PatchJump fixes its target later.
func (f *FuncBuilder) JF(offset int) *FuncBuilder { return f.Emit(vm.OpJF, int32(offset), 0) }

// JMP emits an unconditional jump.
func (f *FuncBuilder) JMP(offset int) *FuncBuilder { return f.Emit(vm.OpJMP, int32(offset), 0) }

// PatchJump points the jump at pc to target.
func (f *FuncBuilder) PatchJump(pc, target int) *FuncBuilder {
	f.fn.Instructions[pc].X = int32(target - pc)
	return f
}

// Done returns to the module builder.
func (f *FuncBuilder) Done() *Builder { return f.b }

func (f *FuncBuilder) finish() {
	if f.regSize < 0 {
		f.regSize = 0
	}
	f.fn.RegisterSize = f.regSize
	if !f.handles {
		f.fn.DebugHandles = nil
	}
}
