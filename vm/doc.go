// Package vm implements the litert bytecode runtime.
//
// This package contains:
//   - the value model (scalars, tensors, containers, objects, capsules)
//   - bytecode functions and the instruction set
//   - the operator registry and its (name, arity) resolution cache
//   - the register-machine interpreter
//   - module-hierarchy debug information and execution traces
package vm
