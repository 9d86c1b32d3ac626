// Package sandbox provides capability-based filesystem access control.
// A Policy grants read, write and execute permissions on path prefixes; the
// shell consults it before opening redirection targets and before running
// external programs.
package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Sandbox errors. Both wrap fs.ErrPermission.
var (
	ErrAccessDenied = fmt.Errorf("access denied: path not in sandbox: %w", fs.ErrPermission)
	ErrReadOnly     = fmt.Errorf("write access denied: sandbox is read-only: %w", fs.ErrPermission)
)

// Permission represents file access permissions.
type Permission uint8

const (
	PermNone  Permission = 0
	PermRead  Permission = 1 << (iota - 1) // Can read files
	PermWrite                              // Can write/create files
	PermExec                               // Can run files as programs
)

func (p Permission) String() string {
	if p == PermNone {
		return "-"
	}
	var b strings.Builder
	for _, c := range []struct {
		bit  Permission
		name byte
	}{{PermRead, 'r'}, {PermWrite, 'w'}, {PermExec, 'x'}} {
		if p&c.bit != 0 {
			b.WriteByte(c.name)
		}
	}
	return b.String()
}

// ParsePermission accepts the letters r, w and x in any order, or the
// words read, write and exec separated by commas.
func ParsePermission(s string) (Permission, error) {
	var p Permission
	if strings.Contains(s, ",") || len(s) > 3 {
		for _, w := range strings.Split(s, ",") {
			switch strings.TrimSpace(w) {
			case "read":
				p |= PermRead
			case "write":
				p |= PermWrite
			case "exec":
				p |= PermExec
			default:
				return 0, fmt.Errorf("invalid permission %q", w)
			}
		}
		return p, nil
	}
	for _, c := range s {
		switch c {
		case 'r':
			p |= PermRead
		case 'w':
			p |= PermWrite
		case 'x':
			p |= PermExec
		default:
			return 0, fmt.Errorf("invalid permission %q", s)
		}
	}
	return p, nil
}

// Rule grants Perm on Path and everything below it.
type Rule struct {
	Path string
	Perm Permission
}

// Policy is a set of rules. The zero Policy and a nil *Policy allow
// everything; New returns an enforcing policy. A Policy is safe for
// concurrent use.
type Policy struct {
	mu      sync.RWMutex
	rules   []Rule
	enabled bool
}

// New returns an enforcing policy holding rules. Rule paths are made
// absolute; rules whose path cannot be resolved are dropped.
func New(rules ...Rule) *Policy {
	p := &Policy{enabled: true}
	for _, r := range rules {
		_ = p.Allow(r.Path, r.Perm)
	}
	return p
}

// Allow adds a rule.
func (p *Policy) Allow(path string, perm Permission) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rules = append(p.rules, Rule{Path: filepath.Clean(abs), Perm: perm})
	return nil
}

// SetEnabled switches enforcement on or off.
func (p *Policy) SetEnabled(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = on
}

// Enabled reports whether p enforces its rules.
func (p *Policy) Enabled() bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.enabled
}

// Rules returns a copy of the rules.
func (p *Policy) Rules() []Rule {
	if p == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Rule(nil), p.rules...)
}

// Check verifies that path may be accessed with perm. It returns
// ErrReadOnly when a matching rule lacks only write access and
// ErrAccessDenied otherwise.
func (p *Policy) Check(path string, perm Permission) error {
	if !p.Enabled() {
		return nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return ErrAccessDenied
	}
	// Clean the path to prevent traversal attacks
	abs = filepath.Clean(abs)

	p.mu.RLock()
	defer p.mu.RUnlock()
	denied := ErrAccessDenied
	for _, rule := range p.rules {
		if !within(abs, rule.Path) {
			continue
		}
		if rule.Perm&perm == perm {
			return nil
		}
		if perm&PermWrite != 0 && rule.Perm&PermWrite == 0 {
			denied = ErrReadOnly
		}
	}
	return denied
}

func within(path, root string) bool {
	if path == root {
		return true
	}
	rest, ok := strings.CutPrefix(path, root)
	return ok && (strings.HasPrefix(rest, string(filepath.Separator)) || strings.HasSuffix(root, string(filepath.Separator)))
}

func pathError(op, path string, err error) error {
	return &fs.PathError{Op: op, Path: path, Err: err}
}

// FlagPermission returns the permission an os.OpenFile flag set requires.
func FlagPermission(flag int) Permission {
	perm := PermNone
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
		perm |= PermWrite
	}
	if flag&os.O_WRONLY == 0 {
		perm |= PermRead
	}
	return perm
}

// OpenFile opens a file with the given flags if the policy allows it.
func (p *Policy) OpenFile(path string, flag int, mode os.FileMode) (*os.File, error) {
	if err := p.Check(path, FlagPermission(flag)); err != nil {
		return nil, pathError("open", path, err)
	}
	return os.OpenFile(path, flag, mode) // #nosec G304 -- Check enforces allowed paths
}

// Open opens a file for reading.
func (p *Policy) Open(path string) (*os.File, error) {
	return p.OpenFile(path, os.O_RDONLY, 0)
}

// ReadFile reads a whole file.
func (p *Policy) ReadFile(path string) ([]byte, error) {
	if err := p.Check(path, PermRead); err != nil {
		return nil, pathError("open", path, err)
	}
	return os.ReadFile(path) // #nosec G304 -- Check enforces allowed paths
}

// Stat returns file info.
func (p *Policy) Stat(path string) (os.FileInfo, error) {
	if err := p.Check(path, PermRead); err != nil {
		return nil, pathError("stat", path, err)
	}
	return os.Stat(path)
}

// CheckExec verifies that the program at path may be run.
func (p *Policy) CheckExec(path string) error {
	if err := p.Check(path, PermExec); err != nil {
		return pathError("exec", path, err)
	}
	return nil
}

// IsDenied reports whether err is a sandbox denial.
func IsDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied) || errors.Is(err, ErrReadOnly)
}
