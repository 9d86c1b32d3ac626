// Package alias holds the alias table.
//
// Readers take an immutable snapshot without locking; alias and unalias
// replace the snapshot under a writer lock.
package alias

import (
	"errors"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rcarmo/go-nxsh/pkg/shell/shellerr"
	"github.com/rcarmo/go-nxsh/pkg/shell/token"
)

// ErrNotPlain marks alias bodies that need the parser: they hold
// operators, expansions or redirections.
var ErrNotPlain = errors.New("body is not a plain command")

// Snapshot is an immutable view of the table.
type Snapshot struct {
	version uint64
	m       map[string]string
}

// Table is the process-wide alias table.
type Table struct {
	mu  sync.Mutex
	cur atomic.Pointer[Snapshot]
}

// New returns a table holding the given aliases.
func New(initial map[string]string) *Table {
	t := &Table{}
	m := maps.Clone(initial)
	if m == nil {
		m = map[string]string{}
	}
	t.cur.Store(&Snapshot{m: m})
	return t
}

// Snapshot returns the current table contents.
func (t *Table) Snapshot() *Snapshot { return t.cur.Load() }

// Set defines or replaces an alias.
func (t *Table) Set(name, body string) {
	t.update(func(m map[string]string) { m[name] = body })
}

// Remove deletes an alias and reports whether it existed.
func (t *Table) Remove(name string) bool {
	_, ok := t.cur.Load().m[name]
	if ok {
		t.update(func(m map[string]string) { delete(m, name) })
	}
	return ok
}

// Clear removes every alias.
func (t *Table) Clear() {
	t.update(func(m map[string]string) { clear(m) })
}

func (t *Table) update(fn func(map[string]string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	old := t.cur.Load()
	m := maps.Clone(old.m)
	fn(m)
	t.cur.Store(&Snapshot{version: old.version + 1, m: m})
}

// Version increases with every mutation.
func (s *Snapshot) Version() uint64 { return s.version }

// Get returns the body of an alias.
func (s *Snapshot) Get(name string) (string, bool) {
	body, ok := s.m[name]
	return body, ok
}

// Len reports the number of aliases.
func (s *Snapshot) Len() int { return len(s.m) }

// Names returns alias names in sorted order.
func (s *Snapshot) Names() []string {
	return slices.Sorted(maps.Keys(s.m))
}

// Expand resolves name through the alias chain and returns the words that
// replace it. ok is false when name is not an alias. A chain that revisits
// a name fails with an alias cycle error.
func (s *Snapshot) Expand(name string) ([]string, bool, error) {
	body, found := s.m[name]
	if !found {
		return nil, false, nil
	}
	seen := []string{name}
	var rest []string
	for {
		ws, plain := Words(body)
		if !plain {
			return nil, true, &shellerr.RuntimeError{Kind: shellerr.Unsupported,
				Message: "alias " + name, Err: ErrNotPlain}
		}
		if len(ws) == 0 {
			return rest, true, nil
		}
		next, isAlias := s.m[ws[0]]
		if !isAlias {
			return append(ws, rest...), true, nil
		}
		if slices.Contains(seen, ws[0]) {
			return nil, true, shellerr.Runtimef(shellerr.AliasCycle,
				"alias cycle: %s -> %s", strings.Join(seen, " -> "), ws[0])
		}
		seen = append(seen, ws[0])
		rest = append(slices.Clone(ws[1:]), rest...)
		body = next
	}
}

// Words splits an alias body into literal words using shell quoting. plain
// is false when the body holds operators, expansions or redirections.
func Words(body string) (words []string, plain bool) {
	for _, tok := range token.Tokenize(body) {
		switch tok.Kind {
		case token.EOF, token.Comment:
			continue
		case token.Word:
			if strings.ContainsAny(tok.Text, "$`") {
				return nil, false
			}
			words = append(words, token.Unquote(tok.Text))
		default:
			return nil, false
		}
	}
	return words, true
}
