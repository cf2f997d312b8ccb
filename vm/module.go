package vm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// ---------------------------------------------------------------------------
// Module: a loaded model
// ---------------------------------------------------------------------------

// Module is a loaded model: its functions, the owner object they run
// against, and the diagnostic tables. A module may be invoked from several
// goroutines at once. Its tables are read-only after loading; methods that
// run SET_ATTR mutate the shared root object, whose attribute writes are
// serialized but not ordered between invocations.
type Module struct {
	ID      uuid.UUID
	Name    string
	Version int

	// Object is the root module instance passed as self to its methods.
	Object *Object

	Hierarchy Hierarchy
	Sources   []Source
	Debug     DebugTable

	// ExtraFiles holds side files requested at load time.
	ExtraFiles map[string]string

	functions map[string]*Function
	order     []string
	rt        *Runtime
}

// NewModule creates an empty module owned by obj and bound to rt.
func NewModule(rt *Runtime, obj *Object) *Module {
	if rt == nil {
		rt = NewRuntime(nil)
	}
	if obj == nil {
		obj = NewObject("__torch__.Module")
	}
	return &Module{
		ID:         uuid.New(),
		Name:       shortType(obj.Type),
		Version:    ProducedBytecodeVersion,
		Object:     obj,
		Hierarchy:  Hierarchy{{Instance: "top", Type: obj.Type, Parent: -1}},
		Debug:      make(DebugTable),
		ExtraFiles: make(map[string]string),
		functions:  make(map[string]*Function),
		rt:         rt,
	}
}

// Runtime returns the runtime the module executes against.
func (m *Module) Runtime() *Runtime { return m.rt }

// AddFunction adds fn under its qualified name.
func (m *Module) AddFunction(fn *Function) error {
	if _, dup := m.functions[fn.Name]; dup {
		return fmt.Errorf("duplicate function %s", fn.Name)
	}
	m.functions[fn.Name] = fn
	m.order = append(m.order, fn.Name)
	return nil
}

// Function returns the function with the given qualified name.
func (m *Module) Function(name string) (*Function, bool) {
	fn, ok := m.functions[name]
	return fn, ok
}

// Functions returns all functions in the order they were added.
func (m *Module) Functions() []*Function {
	out := make([]*Function, len(m.order))
	for i, name := range m.order {
		out[i] = m.functions[name]
	}
	return out
}

// FindMethod returns the method named name on the root object. name may
// also be a qualified function name.
func (m *Module) FindMethod(name string) (*Method, bool) {
	if fn, ok := m.functions[m.Object.Type+"."+name]; ok {
		return &Method{fn: fn, mod: m}, true
	}
	if strings.Contains(name, ".") {
		if fn, ok := m.functions[name]; ok {
			return &Method{fn: fn, mod: m}, true
		}
	}
	return nil, false
}

// GetMethod is like FindMethod but fails with ErrMethodNotFound.
func (m *Module) GetMethod(name string) (*Method, error) {
	if meth, ok := m.FindMethod(name); ok {
		return meth, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrMethodNotFound, name)
}

// RunMethod invokes the named method with positional args.
func (m *Module) RunMethod(name string, args ...Value) (Value, error) {
	meth, err := m.GetMethod(name)
	if err != nil {
		return nil, err
	}
	return meth.Invoke(args...)
}

// Forward invokes the forward method.
func (m *Module) Forward(args ...Value) (Value, error) {
	return m.RunMethod("forward", args...)
}

// Methods returns every function in the module as a method.
func (m *Module) Methods() []*Method {
	fns := m.Functions()
	out := make([]*Method, len(fns))
	for i, fn := range fns {
		out[i] = &Method{fn: fn, mod: m}
	}
	return out
}

// OperatorList returns the sorted set of full operator names the module
// calls.
func (m *Module) OperatorList() []string {
	seen := make(map[string]struct{})
	for _, fn := range m.functions {
		for _, ref := range fn.Operators {
			seen[ref.FullName()] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ForwardDebugInfo returns the debug string of forward's instruction pc.
func (m *Module) ForwardDebugInfo(pc int) (string, error) {
	meth, err := m.GetMethod("forward")
	if err != nil {
		return "", err
	}
	return meth.DebugInfo(pc)
}

// Validate checks every function against the module's bytecode version
// and every debug entry against the hierarchy and sources.
func (m *Module) Validate() error {
	var result *multierror.Error
	for _, fn := range m.Functions() {
		if err := fn.Validate(m.Version); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := m.ValidateDebug(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", ErrLoad, err)
	}
	return nil
}

// ValidateDebug checks that debug entries name existing hierarchy nodes
// and byte ranges inside the retained sources.
func (m *Module) ValidateDebug() error {
	handles := make([]int64, 0, len(m.Debug))
	for h := range m.Debug {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	var result *multierror.Error
	for _, h := range handles {
		if err := m.validateDebugEntry(m.Debug[h]); err != nil {
			result = multierror.Append(result, fmt.Errorf("debug handle %d: %w", h, err))
		}
	}
	return result.ErrorOrNil()
}

func (m *Module) validateDebugEntry(e *DebugEntry) error {
	if e == nil {
		return nil
	}
	if err := m.validateRange(e.Range); err != nil {
		return err
	}
	for _, c := range e.Calls {
		if c.Node < 0 || c.Node >= len(m.Hierarchy) {
			return fmt.Errorf("call into %s: hierarchy node %d outside %d nodes", c.Method, c.Node, len(m.Hierarchy))
		}
		if err := m.validateRange(c.Range); err != nil {
			return fmt.Errorf("call into %s: %w", c.Method, err)
		}
	}
	return nil
}

func (m *Module) validateRange(r SourceRange) error {
	if !r.Valid() {
		if r.Source != NoRange.Source {
			return fmt.Errorf("source index %d", r.Source)
		}
		return nil
	}
	if r.Source >= len(m.Sources) {
		return fmt.Errorf("source %d outside %d sources", r.Source, len(m.Sources))
	}
	if r.Start < 0 || r.End < r.Start || r.End > len(m.Sources[r.Source].Text) {
		return fmt.Errorf("range [%d, %d) outside %s", r.Start, r.End, m.Sources[r.Source].Filename)
	}
	return nil
}

// Train sets the root object's training flag.
func (m *Module) Train() { m.Object.SetAttr("training", Bool(true)) }

// Eval clears the root object's training flag.
func (m *Module) Eval() { m.Object.SetAttr("training", Bool(false)) }

// IsTraining reports the root object's training flag.
func (m *Module) IsTraining() bool {
	v, ok := m.Object.GetAttr("training")
	if !ok {
		return false
	}
	b, _ := AsBool(v)
	return b
}
