package engine

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rcarmo/go-nxsh/pkg/shell/alias"
	"github.com/rcarmo/go-nxsh/pkg/shell/mir"
	"github.com/rcarmo/go-nxsh/pkg/shell/parser"
	"github.com/rcarmo/go-nxsh/pkg/shell/shellerr"
)

type stageKind uint8

const (
	kindEmpty stageKind = iota
	kindBuiltin
	kindFunction
	kindBody
	kindScript
	kindProcess
	kindError
)

// inProcess reports whether the stage runs as a goroutine rather than an
// OS process.
func (k stageKind) inProcess() bool { return k != kindProcess }

// lookPath finds the program name runs. Names containing a slash are
// taken relative to the session directory; others are searched in the
// session's PATH.
func lookPath(s *Session, name string) (string, error) {
	if strings.ContainsRune(name, '/') || strings.ContainsRune(name, filepath.Separator) {
		return checkProgram(name, s.Abs(name))
	}
	denied := false
	for _, dir := range filepath.SplitList(s.Vars.Lookup("PATH")) {
		if dir == "" {
			dir = "."
		}
		path, err := exec.LookPath(filepath.Join(s.Abs(dir), name))
		if err == nil {
			return path, nil
		}
		if errors.Is(err, fs.ErrPermission) {
			denied = true
		}
	}
	if denied {
		return "", shellerr.Runtimef(shellerr.NotExecutable, "%s: permission denied", name)
	}
	return "", shellerr.Runtimef(shellerr.NotFound, "%s: command not found", name)
}

func checkProgram(name, path string) (string, error) {
	fi, err := os.Stat(path)
	switch {
	case err != nil:
		return "", &shellerr.RuntimeError{Kind: shellerr.NotFound, Message: name, Err: fs.ErrNotExist}
	case fi.IsDir():
		return "", shellerr.Runtimef(shellerr.NotExecutable, "%s: is a directory", name)
	}
	found, err := exec.LookPath(path)
	if err != nil {
		return "", shellerr.Runtimef(shellerr.NotExecutable, "%s: permission denied", name)
	}
	return found, nil
}

// stage is one pipeline stage after command resolution.
type stage struct {
	cmd     *mir.Command
	kind    stageKind
	name    string
	args    []string
	builtin Builtin
	fn      function
	path    string
	err     error

	// prog holds the body of a compound stage.
	prog *mir.Program
	// fd holds standard input, output and error after pipe wiring and
	// redirection; res owns what was opened for them.
	fd  [3]any
	res resources
}

func (st *stage) fdReader(n int) io.Reader {
	r, _ := st.fd[n].(io.Reader)
	return r
}

func (st *stage) fdWriter(n int) io.Writer {
	w, _ := st.fd[n].(io.Writer)
	return w
}

// resolve decides what a stage runs.
func (h *shell) resolve(c *mir.Command) *stage {
	st := &stage{cmd: c, args: c.Args}
	switch {
	case c.Err != nil:
		st.kind, st.err = kindError, c.Err
		return st
	case c.Body != mir.NoFunc:
		st.kind, st.name = kindBody, "{...}"
		if c.Subshell {
			st.name = "(...)"
		}
		return st
	case len(c.Args) == 0:
		st.kind = kindEmpty
		return st
	}
	h.lookup(st, !c.AliasDone)
	return st
}

func (h *shell) lookup(st *stage, aliases bool) {
	name := st.args[0]
	st.name = name
	if fn, ok := h.s.function(name); ok {
		st.kind, st.fn = kindFunction, fn
		return
	}
	if aliases {
		words, ok, err := h.s.Aliases.Snapshot().Expand(name)
		switch {
		case ok && errors.Is(err, alias.ErrNotPlain):
			h.aliasScript(st)
			return
		case ok && err != nil:
			st.kind, st.err = kindError, err
			return
		case ok:
			st.args = append(words, st.args[1:]...)
			if len(st.args) == 0 {
				st.kind = kindEmpty
				return
			}
			h.lookup(st, false)
			return
		}
	}
	if !strings.ContainsRune(name, '/') {
		if b, ok := h.e.registry.Lookup(name); ok {
			st.kind, st.builtin = kindBuiltin, b
			return
		}
	}
	path, err := lookPath(h.s, name)
	if err == nil {
		err = h.e.policy.CheckExec(path)
		if err != nil {
			err = &shellerr.SecurityError{Op: "exec", Path: path, Err: err}
		}
	}
	if err != nil {
		st.kind, st.err = kindError, err
		return
	}
	st.kind, st.path = kindProcess, path
}

// aliasScript handles an alias whose body is more than a list of words:
// the body is parsed with the remaining arguments appended and runs as a
// compound command. Stages naming the alias itself are not expanded again.
func (h *shell) aliasScript(st *stage) {
	name := st.args[0]
	body, _ := h.s.Aliases.Snapshot().Get(name)
	src := body
	for _, a := range st.args[1:] {
		src += " " + quote(a)
	}
	script, err := parser.Parse(src)
	if err != nil {
		st.kind, st.err = kindError, shellerr.Runtimef(shellerr.Unsupported, "alias %s: %v", name, err)
		return
	}
	prog, err := mir.Lower(script)
	if err != nil {
		st.kind, st.err = kindError, err
		return
	}
	for _, fn := range prog.Funcs {
		for _, b := range fn.Blocks {
			for i := range b.Instrs {
				if b.Instrs[i].Op != mir.OpExec {
					continue
				}
				for _, s := range b.Instrs[i].Pipe.Stages {
					if n, ok := s.Name(); ok && n == name {
						s.AliasDone = true
					}
				}
			}
		}
	}
	st.kind, st.fn = kindScript, function{prog: prog, id: 0}
}

// quote renders s as a single shell word.
func quote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n'\"\\$`|&;<>()*?[]{}~#=!") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
