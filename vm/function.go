package vm

import (
	"strings"
)

// ---------------------------------------------------------------------------
// Function: one bytecode method
// ---------------------------------------------------------------------------

// OperatorRef is an operator table entry: the operator name, overload and
// the number of arguments the call site pushes (-1 = all of them).
type OperatorRef struct {
	Name             string
	Overload         string
	NumSpecifiedArgs int
}

// FullName returns "name.overload".
func (r OperatorRef) FullName() string { return FullName(r.Name, r.Overload) }

// Function is a compiled method: instructions plus the tables they index.
// It is immutable after load apart from its operator cache.
type Function struct {
	// Name is the qualified name, e.g. "__torch__.M.forward".
	Name string
	// Arguments names the inputs, including self.
	Arguments []string

	Instructions []Instruction
	Constants    []Value
	Operators    []OperatorRef
	Types        []string
	RegisterSize int

	// DebugHandles has one entry per instruction (-1 = none), or is empty.
	DebugHandles []int64
	// DebugTop names the method at the root of debug traces; empty when the
	// exporter did not record it.
	DebugTop string

	ops opCache
}

// OwnerType returns the qualified type name that owns the function.
func (f *Function) OwnerType() string {
	if i := strings.LastIndexByte(f.Name, '.'); i >= 0 {
		return f.Name[:i]
	}
	return ""
}

// MethodName returns the unqualified method name.
func (f *Function) MethodName() string {
	if i := strings.LastIndexByte(f.Name, '.'); i >= 0 {
		return f.Name[i+1:]
	}
	return f.Name
}

// DebugHandle returns the debug handle of the instruction at pc, or -1.
func (f *Function) DebugHandle(pc int) int64 {
	if pc < 0 || pc >= len(f.DebugHandles) {
		return -1
	}
	return f.DebugHandles[pc]
}

// Clone returns a copy with fresh tables and an empty operator cache.
func (f *Function) Clone() *Function {
	return &Function{
		Name:         f.Name,
		Arguments:    append([]string(nil), f.Arguments...),
		Instructions: append([]Instruction(nil), f.Instructions...),
		Constants:    append([]Value(nil), f.Constants...),
		Operators:    append([]OperatorRef(nil), f.Operators...),
		Types:        append([]string(nil), f.Types...),
		RegisterSize: f.RegisterSize,
		DebugHandles: append([]int64(nil), f.DebugHandles...),
		DebugTop:     f.DebugTop,
	}
}
