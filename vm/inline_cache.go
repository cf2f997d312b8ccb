package vm

import (
	"sync"
	"sync/atomic"
)

// Per-call-site operator caching
//
// The registry already caches handles by (name, arity), but that still
// costs a map lookup under a read lock on every OP. Each function also
// keeps one slot per operator table entry, filled on first execution, so
// the hot path is a single atomic load.
//
// Slots are tied to the registry that filled them; a function executed
// against a different registry falls back to the registry lookup.

type opCache struct {
	once  sync.Once
	reg   atomic.Pointer[Registry]
	slots []atomic.Pointer[Operator]

	hits   atomic.Uint64
	misses atomic.Uint64
}

// operator returns the resolved handle for operator table entry idx.
func (f *Function) operator(reg *Registry, idx int) (*Operator, error) {
	c := &f.ops
	c.once.Do(func() {
		c.slots = make([]atomic.Pointer[Operator], len(f.Operators))
		c.reg.Store(reg)
	})
	if c.reg.Load() == reg {
		if op := c.slots[idx].Load(); op != nil {
			c.hits.Add(1)
			return op, nil
		}
	}
	c.misses.Add(1)

	ref := f.Operators[idx]
	op, err := reg.Resolve(ref.Name, ref.Overload, ref.NumSpecifiedArgs)
	if err != nil {
		return nil, err // failed lookups stay unresolved
	}
	if c.reg.Load() == reg {
		c.slots[idx].Store(op)
	}
	return op, nil
}

// CacheStats returns per-call-site cache hits and misses.
func (f *Function) CacheStats() (hits, misses uint64) {
	return f.ops.hits.Load(), f.ops.misses.Load()
}
