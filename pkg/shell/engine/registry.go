package engine

import (
	"maps"
	"slices"
	"sync"
	"sync/atomic"
)

// Builtin is a command implemented inside the shell. Invoke returns the
// exit status; a non-nil error is reported on the command's standard
// error and, when the status is zero, mapped to a status by category.
type Builtin interface {
	Name() string
	Invoke(ec *ExecutionContext) (int, error)
}

// ObjectBuiltin is implemented by builtins that read or write structured
// values. Pipes between two object-capable stages carry values natively.
type ObjectBuiltin interface {
	ObjectIO() (in, out bool)
}

// PureBuiltin is implemented by builtins that have no side effects and
// ignore their input. The optimizer may drop such a producer when its
// output is discarded.
type PureBuiltin interface {
	Pure() bool
}

// Func adapts a function to the Builtin interface.
type Func struct {
	N  string
	Fn func(ec *ExecutionContext) (int, error)
}

func (f Func) Name() string                             { return f.N }
func (f Func) Invoke(ec *ExecutionContext) (int, error) { return f.Fn(ec) }

// Registry maps names to builtins. Lookups never block: writers publish a
// new map.
type Registry struct {
	mu sync.Mutex
	m  atomic.Pointer[map[string]Builtin]
}

// NewRegistry returns a registry holding bs.
func NewRegistry(bs ...Builtin) *Registry {
	r := &Registry{}
	m := make(map[string]Builtin, len(bs))
	for _, b := range bs {
		m[b.Name()] = b
	}
	r.m.Store(&m)
	return r
}

// Register adds or replaces builtins.
func (r *Registry) Register(bs ...Builtin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := maps.Clone(r.load())
	if m == nil {
		m = map[string]Builtin{}
	}
	for _, b := range bs {
		m[b.Name()] = b
	}
	r.m.Store(&m)
}

// Unregister removes a builtin.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := maps.Clone(r.load())
	delete(m, name)
	r.m.Store(&m)
}

func (r *Registry) load() map[string]Builtin {
	if p := r.m.Load(); p != nil {
		return *p
	}
	return nil
}

// Lookup returns the builtin registered under name.
func (r *Registry) Lookup(name string) (Builtin, bool) {
	b, ok := r.load()[name]
	return b, ok
}

// Names returns the registered names in order.
func (r *Registry) Names() []string {
	return slices.Sorted(maps.Keys(r.load()))
}

// Pure reports whether name is a registered pure builtin.
func (r *Registry) Pure(name string) bool {
	b, ok := r.Lookup(name)
	if !ok {
		return false
	}
	p, ok := b.(PureBuiltin)
	return ok && p.Pure()
}

func objectIO(b Builtin) (in, out bool) {
	if ob, ok := b.(ObjectBuiltin); ok {
		return ob.ObjectIO()
	}
	return false, false
}
