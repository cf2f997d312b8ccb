package vm

import (
	"github.com/tliron/commonlog"
)

// DefaultMaxCallDepth bounds nested CALL/INTERFACE_CALL frames per
// invocation.
const DefaultMaxCallDepth = 1024

// Runtime bundles what loaded modules execute against: the operator
// registry, custom classes and execution limits. One runtime is shared by
// every module loaded into it.
type Runtime struct {
	Operators    *Registry
	Classes      *ClassRegistry
	MaxCallDepth int

	log commonlog.Logger
}

// NewRuntime creates a runtime over an operator registry. A nil registry
// yields an empty one.
func NewRuntime(reg *Registry) *Runtime {
	if reg == nil {
		reg = NewRegistry()
	}
	return &Runtime{
		Operators:    reg,
		Classes:      NewClassRegistry(),
		MaxCallDepth: DefaultMaxCallDepth,
		log:          commonlog.GetLogger("litert.vm"),
	}
}

// Logger returns the runtime's logger.
func (rt *Runtime) Logger() commonlog.Logger { return rt.log }
