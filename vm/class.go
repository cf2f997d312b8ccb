package vm

import (
	"fmt"
	"sort"
	"sync"
)

// ---------------------------------------------------------------------------
// Custom classes: host-implemented objects reachable from bytecode
// ---------------------------------------------------------------------------

// CustomObject is a host object whose methods are called through
// INTERFACE_CALL.
type CustomObject interface {
	ClassName() string
	CallMethod(name string, args []Value) (Value, error)
}

// Capsule wraps a CustomObject as a Value.
type Capsule struct {
	Obj CustomObject
}

func (*Capsule) Kind() Kind { return KindCapsule }
func (c *Capsule) String() string {
	return fmt.Sprintf("<%s capsule>", c.Obj.ClassName())
}

// Constructor creates a fresh instance of a custom class. The bytecode
// initializes it afterwards by calling its __init__ method.
type Constructor func() CustomObject

// ClassRegistry maps qualified class names to constructors.
type ClassRegistry struct {
	mu      sync.RWMutex
	classes map[string]Constructor
}

// NewClassRegistry creates an empty class registry.
func NewClassRegistry() *ClassRegistry {
	return &ClassRegistry{classes: make(map[string]Constructor)}
}

// Register adds a class constructor, replacing any previous one.
func (cr *ClassRegistry) Register(name string, ctor Constructor) {
	cr.mu.Lock()
	cr.classes[name] = ctor
	cr.mu.Unlock()
}

// Lookup returns the constructor for name.
func (cr *ClassRegistry) Lookup(name string) (Constructor, bool) {
	cr.mu.RLock()
	defer cr.mu.RUnlock()
	ctor, ok := cr.classes[name]
	return ctor, ok
}

// Names returns the registered class names, sorted.
func (cr *ClassRegistry) Names() []string {
	cr.mu.RLock()
	defer cr.mu.RUnlock()
	names := make([]string, 0, len(cr.classes))
	for n := range cr.classes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
