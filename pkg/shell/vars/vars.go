// Package vars is the shell variable store.
package vars

import (
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
)

type entry struct {
	value    string
	exported bool
}

// Store holds shell variables. Names are case-sensitive. It is safe for
// concurrent use.
type Store struct {
	mu sync.RWMutex
	m  map[string]entry
}

// New returns an empty store.
func New() *Store {
	return &Store{m: map[string]entry{}}
}

// FromEnviron returns a store holding env ("k=v" pairs) as exported
// variables.
func FromEnviron(env []string) *Store {
	s := New()
	for _, kv := range env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		s.m[k] = entry{value: v, exported: true}
	}
	return s
}

// FromOS imports the process environment.
func FromOS() *Store { return FromEnviron(os.Environ()) }

// Get returns a variable value.
func (s *Store) Get(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.m[name]
	return e.value, ok
}

// Lookup returns the value or the empty string.
func (s *Store) Lookup(name string) string {
	v, _ := s.Get(name)
	return v
}

// Set assigns a variable, keeping its export flag.
func (s *Store) Set(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.m[name]
	e.value = value
	s.m[name] = e
}

// Export marks a variable for the environment of child processes, creating
// it empty if needed.
func (s *Store) Export(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.m[name]
	e.exported = true
	s.m[name] = e
}

// IsExported reports whether name is exported.
func (s *Store) IsExported(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.m[name].exported
}

// Unset removes a variable.
func (s *Store) Unset(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, name)
}

// Names returns all variable names in sorted order.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.m))
}

// Env returns the exported variables with overrides applied on top.
func (s *Store) Env(overrides map[string]string) map[string]string {
	s.mu.RLock()
	env := make(map[string]string, len(s.m)+len(overrides))
	for k, e := range s.m {
		if e.exported {
			env[k] = e.value
		}
	}
	s.mu.RUnlock()
	maps.Copy(env, overrides)
	return env
}

// Clone returns an independent copy, used for subshells.
func (s *Store) Clone() *Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &Store{m: maps.Clone(s.m)}
}

// Environ renders env as sorted "k=v" pairs for process creation.
func Environ(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for _, k := range slices.Sorted(maps.Keys(env)) {
		out = append(out, k+"="+env[k])
	}
	return out
}

// IsName reports whether s is a valid variable name.
func IsName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || i > 0 && c >= '0' && c <= '9' {
			continue
		}
		return false
	}
	return true
}
