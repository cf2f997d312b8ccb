// Package compat decides whether a model can run on a runtime by comparing
// the model's bytecode version, operators and types against what the
// runtime provides.
package compat

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/chazu/litert/archive"
	"github.com/chazu/litert/format"
	"github.com/chazu/litert/vm"
	"github.com/hashicorp/go-multierror"
)

// OperatorInfo is per-operator compatibility information.
type OperatorInfo = vm.OperatorInfo

// ModelInfo is what a model requires.
type ModelInfo struct {
	BytecodeVersion int
	Operators       map[string]OperatorInfo
	TypeTable       []string
}

// RuntimeInfo is what a runtime provides.
type RuntimeInfo struct {
	BytecodeVersion    int
	MinBytecodeVersion int
	Operators          map[string]OperatorInfo
	SupportedTypes     []string
}

// Status is the outcome of a compatibility check.
type Status int

const (
	OK Status = iota
	Error
)

func (s Status) String() string {
	if s == OK {
		return "OK"
	}
	return "ERROR"
}

// Result is the outcome of IsCompatible with every reason it failed.
type Result struct {
	Status Status
	Errors []string
}

// Err returns nil for a compatible result, or all reasons combined.
func (r Result) Err() error {
	var result *multierror.Error
	for _, e := range r.Errors {
		result = multierror.Append(result, errors.New(e))
	}
	return result.ErrorOrNil()
}

// SupportedTypes lists the primitive types this runtime understands.
// Container types ("List[int]", "Dict[str, Tensor]", ...) are supported
// when all of their element types are.
func SupportedTypes() []string {
	return []string{
		"int", "float", "bool", "str", "complex", "None", "NoneType", "Tensor",
		"Any", "AnyType", "Device", "Layout", "ScalarType", "MemoryFormat",
		"List", "Tuple", "Dict", "Optional", "Union",
	}
}

// RuntimeInfoFrom describes a runtime built on reg.
func RuntimeInfoFrom(reg *vm.Registry) RuntimeInfo {
	return RuntimeInfo{
		BytecodeVersion:    vm.RuntimeBytecodeVersion(),
		MinBytecodeVersion: vm.MinSupportedBytecodeVersion,
		Operators:          reg.OperatorsAndInfo(),
		SupportedTypes:     SupportedTypes(),
	}
}

// ModelInfoFrom reads a model's requirements from its archive without
// loading it for execution.
func ModelInfoFrom(r archive.Reader) (ModelInfo, error) {
	rs, err := format.ReadRecords(r)
	if err != nil {
		return ModelInfo{}, err
	}
	info := ModelInfo{BytecodeVersion: rs.Version, Operators: make(map[string]OperatorInfo)}
	seenType := make(map[string]bool)
	for _, fr := range rs.Functions {
		for _, op := range fr.Operators {
			n := -1
			if rs.Version >= 6 && op.NumArgs != nil {
				n = *op.NumArgs
			}
			mergeOperator(info.Operators, vm.FullName(op.Name, op.Overload), n)
		}
		for _, t := range fr.Types {
			if !seenType[t] {
				seenType[t] = true
				info.TypeTable = append(info.TypeTable, t)
			}
		}
	}
	return info, nil
}

// ModelInfoFromModule describes an already loaded module.
func ModelInfoFromModule(m *vm.Module) ModelInfo {
	info := ModelInfo{BytecodeVersion: m.Version, Operators: make(map[string]OperatorInfo)}
	seenType := make(map[string]bool)
	for _, fn := range m.Functions() {
		for _, ref := range fn.Operators {
			mergeOperator(info.Operators, ref.FullName(), ref.NumSpecifiedArgs)
		}
		for _, t := range fn.Types {
			if !seenType[t] {
				seenType[t] = true
				info.TypeTable = append(info.TypeTable, t)
			}
		}
	}
	return info
}

// mergeOperator keeps the largest argument count seen for an operator.
func mergeOperator(ops map[string]OperatorInfo, name string, n int) {
	if prev, ok := ops[name]; ok && prev.NumSchemaArgs >= n {
		return
	}
	ops[name] = OperatorInfo{NumSchemaArgs: n}
}

// IsCompatible checks model against runtime and collects every mismatch.
func IsCompatible(runtime RuntimeInfo, model ModelInfo) Result {
	var errs []string
	if model.BytecodeVersion > runtime.BytecodeVersion {
		errs = append(errs, fmt.Sprintf(
			"model bytecode version %d is greater than the max supported bytecode version %d in runtime",
			model.BytecodeVersion, runtime.BytecodeVersion))
	}
	if runtime.MinBytecodeVersion > 0 && model.BytecodeVersion < runtime.MinBytecodeVersion {
		errs = append(errs, fmt.Sprintf(
			"model bytecode version %d is less than the minimum supported bytecode version %d in runtime",
			model.BytecodeVersion, runtime.MinBytecodeVersion))
	}

	names := make([]string, 0, len(model.Operators))
	for name := range model.Operators {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rtInfo, ok := runtime.Operators[name]
		if !ok {
			errs = append(errs, fmt.Sprintf("Operator '%s' missing from runtime (not found)", name))
			continue
		}
		m, r := model.Operators[name].NumSchemaArgs, rtInfo.NumSchemaArgs
		if m >= 0 && r >= 0 && m > r {
			errs = append(errs, fmt.Sprintf(
				"Operator schema for '%s' has %d args in model but only %d in the runtime", name, m, r))
		}
	}

	if runtime.SupportedTypes != nil {
		supported := make(map[string]bool, len(runtime.SupportedTypes))
		for _, t := range runtime.SupportedTypes {
			supported[t] = true
		}
		reported := make(map[string]bool)
		for _, t := range model.TypeTable {
			for _, prim := range primitiveTypes(t) {
				if !supported[prim] && !reported[prim] {
					reported[prim] = true
					errs = append(errs, fmt.Sprintf("Primitive type: '%s' is not supported in current runtime", prim))
				}
			}
		}
	}

	if len(errs) > 0 {
		return Result{Status: Error, Errors: errs}
	}
	return Result{Status: OK}
}

// primitiveTypes splits a type expression such as "Dict[str, List[Tensor]]"
// into its primitive names. Qualified class names ("__torch__.A") are user
// types and are skipped.
func primitiveTypes(t string) []string {
	var out []string
	for _, f := range strings.FieldsFunc(t, func(r rune) bool {
		return r == '[' || r == ']' || r == ',' || r == ' ' || r == '(' || r == ')'
	}) {
		if f == "" || strings.Contains(f, ".") {
			continue
		}
		out = append(out, strings.TrimSuffix(f, "?"))
	}
	return out
}
