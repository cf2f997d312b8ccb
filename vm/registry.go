package vm

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// ---------------------------------------------------------------------------
// Operator: a resolved, callable handle
// ---------------------------------------------------------------------------

// Operator is a schema resolved for a particular number of specified
// arguments. Calling it pads the remaining arguments with schema defaults.
type Operator struct {
	schema    *Schema
	specified int     // -1 = every schema argument is supplied
	defaults  []Value // appended after the specified arguments
}

// Schema returns the operator's schema.
func (op *Operator) Schema() *Schema { return op.schema }

// Specified returns the specified-argument count this handle was resolved for.
func (op *Operator) Specified() int { return op.specified }

// NumInputs is the number of operands the caller supplies for OP.
func (op *Operator) NumInputs() int {
	if op.specified < 0 {
		return len(op.schema.Args)
	}
	return op.specified
}

// Call runs the kernel on args, padded with defaults.
func (op *Operator) Call(args []Value) (Value, error) {
	if len(op.defaults) > 0 {
		full := make([]Value, 0, len(args)+len(op.defaults))
		full = append(full, args...)
		args = append(full, op.defaults...)
	}
	return op.schema.Kernel(args)
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// OperatorInfo is the per-operator compatibility information published by
// a runtime or recorded by a model.
type OperatorInfo struct {
	// NumSchemaArgs is the argument count, or -1 when unknown/variadic.
	NumSchemaArgs int
}

type opKey struct {
	name      string
	specified int
}

// Registry holds operator schemas and a cache of resolved handles keyed
// by (full name, specified-argument count). It is safe for concurrent use;
// after warm-up lookups only take the read lock.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*Schema
	cache   map[opKey]*Operator
	group   singleflight.Group

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		schemas: make(map[string]*Schema),
		cache:   make(map[opKey]*Operator),
	}
}

// Register adds a schema. Registering the same full name twice is an error.
func (r *Registry) Register(s *Schema) error {
	if s.Kernel == nil {
		return fmt.Errorf("operator %s: nil kernel", s.FullName())
	}
	name := s.FullName()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.schemas[name]; dup {
		return fmt.Errorf("operator %s already registered", name)
	}
	r.schemas[name] = s
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(s *Schema) {
	if err := r.Register(s); err != nil {
		panic(err)
	}
}

// Lookup returns the schema registered under name.overload.
func (r *Registry) Lookup(name, overload string) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[FullName(name, overload)]
	return s, ok
}

// Resolve returns the cached handle for (name.overload, specified),
// resolving it on first use. specified == -1 means all schema arguments
// are supplied by the caller. Failed resolutions are not cached.
func (r *Registry) Resolve(name, overload string, specified int) (*Operator, error) {
	key := opKey{name: FullName(name, overload), specified: specified}

	r.mu.RLock()
	op, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		r.hits.Add(1)
		return op, nil
	}
	r.misses.Add(1)

	v, err, _ := r.group.Do(key.name+"/"+strconv.Itoa(specified), func() (any, error) {
		r.mu.RLock()
		op, ok := r.cache[key]
		r.mu.RUnlock()
		if ok {
			return op, nil
		}
		op, err := r.build(key)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		if prev, ok := r.cache[key]; ok {
			op = prev
		} else {
			r.cache[key] = op
		}
		r.mu.Unlock()
		return op, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Operator), nil
}

func (r *Registry) build(key opKey) (*Operator, error) {
	r.mu.RLock()
	s, ok := r.schemas[key.name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOperatorNotFound, key.name)
	}
	op := &Operator{schema: s, specified: key.specified}
	if key.specified < 0 || s.Variadic {
		return op, nil
	}
	if key.specified > len(s.Args) {
		return nil, fmt.Errorf("%w: %s called with %d arguments, schema has %d",
			ErrArityMismatch, key.name, key.specified, len(s.Args))
	}
	for _, a := range s.Args[key.specified:] {
		if !a.HasDefault {
			return nil, fmt.Errorf("%w: %s called with %d arguments, argument %q has no default",
				ErrArityMismatch, key.name, key.specified, a.Name)
		}
		op.defaults = append(op.defaults, a.Default)
	}
	return op, nil
}

// OperatorsAndInfo returns every registered operator's full name with its
// compatibility info.
func (r *Registry) OperatorsAndInfo() map[string]OperatorInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]OperatorInfo, len(r.schemas))
	for name, s := range r.schemas {
		out[name] = OperatorInfo{NumSchemaArgs: s.NumSchemaArgs()}
	}
	return out
}

// Names returns the registered full names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// RegistryStats reports cache behaviour.
type RegistryStats struct {
	Schemas int
	Cached  int
	Hits    uint64
	Misses  uint64
}

// Stats returns a snapshot of registry statistics.
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return RegistryStats{
		Schemas: len(r.schemas),
		Cached:  len(r.cache),
		Hits:    r.hits.Load(),
		Misses:  r.misses.Load(),
	}
}
