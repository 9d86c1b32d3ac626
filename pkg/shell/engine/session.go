package engine

import (
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/rcarmo/go-nxsh/pkg/shell/alias"
	"github.com/rcarmo/go-nxsh/pkg/shell/jobs"
	"github.com/rcarmo/go-nxsh/pkg/shell/mir"
	"github.com/rcarmo/go-nxsh/pkg/shell/vars"
)

// Option names accepted by `set -o`.
const (
	OptPipefail = "pipefail"
	OptNoGlob   = "noglob"
)

var optionNames = []string{OptNoGlob, OptPipefail}

// function is a shell function: a body lowered into some program.
type function struct {
	prog *mir.Program
	id   mir.FuncID
}

// Session is the mutable state of one shell: variables, aliases,
// functions, options and the working directory. Subshells and
// concurrently running pipeline stages work on a clone.
type Session struct {
	Vars    *vars.Store
	Aliases *alias.Table
	Jobs    *jobs.Scheduler
	Log     *slog.Logger

	engine *Engine

	mu     sync.RWMutex
	funcs  map[string]function
	dir    string
	opts   map[string]bool
	lastBg string
	params []string
	status int
}

func newSession(e *Engine, store *vars.Store, aliases map[string]string, dir string) *Session {
	s := &Session{
		Vars:    store,
		Aliases: alias.New(aliases),
		Jobs:    e.sched,
		Log:     e.log,
		engine:  e,
		funcs:   map[string]function{},
		dir:     dir,
		opts:    map[string]bool{},
	}
	if _, ok := store.Get("PWD"); !ok {
		store.Set("PWD", dir)
	}
	return s
}

// Clone returns an independent copy of s sharing its job table.
func (s *Session) Clone() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.Aliases.Snapshot()
	table := make(map[string]string, snap.Len())
	for _, n := range snap.Names() {
		table[n], _ = snap.Get(n)
	}
	return &Session{
		Vars:    s.Vars.Clone(),
		Aliases: alias.New(table),
		Jobs:    s.Jobs,
		Log:     s.Log,
		engine:  s.engine,
		funcs:   maps.Clone(s.funcs),
		dir:     s.dir,
		opts:    maps.Clone(s.opts),
		lastBg:  s.lastBg,
		params:  slices.Clone(s.params),
		status:  s.status,
	}
}

// Dir returns the working directory.
func (s *Session) Dir() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dir
}

// Abs resolves path against the working directory.
func (s *Session) Abs(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(s.Dir(), path)
}

// Chdir changes the working directory and updates PWD and OLDPWD. The
// process working directory is left alone: it is shared by every session.
func (s *Session) Chdir(path string) error {
	target := s.Abs(path)
	fi, err := os.Stat(target)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s: not a directory", path)
	}
	s.mu.Lock()
	old := s.dir
	s.dir = target
	s.mu.Unlock()
	s.Vars.Set("OLDPWD", old)
	s.Vars.Set("PWD", target)
	return nil
}

// Option reports whether a `set -o` option is on.
func (s *Session) Option(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts[name]
}

// SetOption turns an option on or off.
func (s *Session) SetOption(name string, on bool) error {
	if !slices.Contains(optionNames, name) {
		return fmt.Errorf("%s: invalid option name", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts[name] = on
	return nil
}

// Options returns every option name with its state, in name order.
func (s *Session) Options() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(optionNames))
	for _, n := range optionNames {
		out[n] = s.opts[n]
	}
	return out
}

// OptionNames lists the known options.
func OptionNames() []string { return slices.Clone(optionNames) }

func (s *Session) defineFunc(name string, prog *mir.Program, id mir.FuncID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.funcs[name] = function{prog: prog, id: id}
}

func (s *Session) function(name string) (function, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn, ok := s.funcs[name]
	return fn, ok
}

// HasFunction reports whether name is a shell function.
func (s *Session) HasFunction(name string) bool {
	_, ok := s.function(name)
	return ok
}

// UnsetFunction removes a shell function.
func (s *Session) UnsetFunction(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.funcs[name]
	delete(s.funcs, name)
	return ok
}

// Functions lists the function names.
func (s *Session) Functions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.funcs))
}

// LastBackground returns the value of $!.
func (s *Session) LastBackground() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastBg
}

func (s *Session) setLastBackground(v string) {
	s.mu.Lock()
	s.lastBg = v
	s.mu.Unlock()
}

// Status returns the exit status of the last top-level run.
func (s *Session) Status() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Session) positional() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.params)
}

func (s *Session) save(params []string, status int) {
	s.mu.Lock()
	s.params = slices.Clone(params)
	s.status = status
	s.mu.Unlock()
}

// CommandKind classifies what a command name resolves to.
type CommandKind uint8

const (
	NotFound CommandKind = iota
	FunctionCommand
	AliasCommand
	BuiltinCommand
	ExternalCommand
)

func (k CommandKind) String() string {
	switch k {
	case FunctionCommand:
		return "function"
	case AliasCommand:
		return "alias"
	case BuiltinCommand:
		return "builtin"
	case ExternalCommand:
		return "file"
	}
	return "not found"
}

// Resolve reports what name would run as, following the command lookup
// order: function, alias, builtin, PATH. Detail is the alias body or the
// program path.
func (s *Session) Resolve(name string) (kind CommandKind, detail string) {
	if s.HasFunction(name) {
		return FunctionCommand, ""
	}
	if body, ok := s.Aliases.Snapshot().Get(name); ok {
		return AliasCommand, body
	}
	if !strings.ContainsRune(name, '/') {
		if _, ok := s.engine.registry.Lookup(name); ok {
			return BuiltinCommand, ""
		}
	}
	path, err := lookPath(s, name)
	if err != nil {
		return NotFound, ""
	}
	return ExternalCommand, path
}

// Builtin returns the builtin registered under name.
func (s *Session) Builtin(name string) (Builtin, bool) {
	return s.engine.registry.Lookup(name)
}
