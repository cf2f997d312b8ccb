package vm

import (
	"fmt"
)

// Method is a function of a loaded module, ready to invoke.
type Method struct {
	fn  *Function
	mod *Module
}

// Name returns the method's qualified name.
func (m *Method) Name() string { return m.fn.Name }

// Function returns the underlying bytecode function.
func (m *Method) Function() *Function { return m.fn }

// Module returns the owning module.
func (m *Method) Module() *Module { return m.mod }

// Invoke runs the method with the module object as self followed by args.
// Each call gets its own frames and operand stack, so one method can be
// invoked from several goroutines.
func (m *Method) Invoke(args ...Value) (Value, error) {
	inputs := make([]Value, 0, len(args)+1)
	inputs = append(inputs, m.mod.Object)
	inputs = append(inputs, args...)
	if want := len(m.fn.Arguments); want > 0 && want != len(inputs) {
		return nil, fmt.Errorf("%s expects %d arguments (including self), got %d",
			m.fn.Name, want, len(inputs))
	}
	return m.mod.execute(m.fn, inputs)
}

// DebugInfo returns the debug string for the instruction at pc. Iterating
// pc from zero ends with ErrDebugInfoExhausted at the instruction count.
// Without retained debug records the result is empty, or a raw handle
// marker when the instruction has a handle.
func (m *Method) DebugInfo(pc int) (string, error) {
	if pc < 0 || pc >= len(m.fn.Instructions) {
		return "", fmt.Errorf("%w: pc %d, %s has %d instructions",
			ErrDebugInfoExhausted, pc, m.fn.Name, len(m.fn.Instructions))
	}
	h := m.fn.DebugHandle(pc)
	if h < 0 {
		return "", nil
	}
	e, ok := m.mod.Debug[h]
	if !ok {
		return rawHandle(h), nil
	}
	return debugString(m.mod.Hierarchy, m.fn, e), nil
}
