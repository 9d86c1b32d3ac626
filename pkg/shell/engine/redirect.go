package engine

import (
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/rcarmo/go-nxsh/pkg/shell/mir"
	"github.com/rcarmo/go-nxsh/pkg/shell/shellerr"
	"github.com/rcarmo/go-nxsh/pkg/shell/token"
)

// resources is a closer scope: everything opened for a stage is added to
// it and released exactly once, whichever way the stage ends.
type resources struct {
	mu      sync.Mutex
	closers []func() error
	done    bool
}

func (r *resources) add(c io.Closer) {
	r.addFunc(c.Close)
}

func (r *resources) addFunc(fn func() error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		_ = fn()
		return
	}
	r.closers = append(r.closers, fn)
}

// close releases everything in reverse order and returns the first error.
func (r *resources) close() error {
	r.mu.Lock()
	fns := r.closers
	r.closers, r.done = nil, true
	r.mu.Unlock()
	var first error
	for i := len(fns) - 1; i >= 0; i-- {
		if err := fns[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// redirect applies the stage's redirections, in order, on top of its
// piped streams. Files are opened through the sandbox policy.
func (h *shell) redirect(st *stage) error {
	for _, rd := range st.cmd.Redirs {
		if rd.Fd < 0 || rd.Fd > 2 {
			return shellerr.Runtimef(shellerr.BadRedirect, "%d: bad file descriptor", rd.Fd)
		}
		if rd.HasHere {
			r, err := h.hereDoc(st, rd.Here)
			if err != nil {
				return err
			}
			st.fd[rd.Fd] = r
			continue
		}
		switch rd.Op {
		case token.Less:
			if err := h.open(st, rd, os.O_RDONLY); err != nil {
				return err
			}
		case token.Great:
			if err := h.open(st, rd, os.O_WRONLY|os.O_CREATE|os.O_TRUNC); err != nil {
				return err
			}
		case token.DGreat:
			if err := h.open(st, rd, os.O_WRONLY|os.O_CREATE|os.O_APPEND); err != nil {
				return err
			}
		case token.LessGreat:
			if err := h.open(st, rd, os.O_RDWR|os.O_CREATE); err != nil {
				return err
			}
		case token.AndGreat:
			if err := h.open(st, rd, os.O_WRONLY|os.O_CREATE|os.O_TRUNC); err != nil {
				return err
			}
			st.fd[2] = st.fd[1]
		case token.GreatAnd, token.LessAnd:
			if err := h.dup(st, rd); err != nil {
				return err
			}
		default:
			return shellerr.Runtimef(shellerr.BadRedirect, "unsupported redirection %s", rd.Op)
		}
	}
	return nil
}

func (h *shell) open(st *stage, rd mir.Redirect, flag int) error {
	path := h.s.Abs(rd.Target)
	f, err := h.e.policy.OpenFile(path, flag, 0o666)
	if err != nil {
		return shellerr.FromOS("open", rd.Target, err)
	}
	st.res.add(f)
	fd := rd.Fd
	if rd.Op == token.AndGreat {
		fd = 1
	}
	st.fd[fd] = f
	return nil
}

// dup handles n>&m, n<&m and the close forms n>&- and n<&-. A target that
// is not a descriptor makes >& write to that file, as &> does.
func (h *shell) dup(st *stage, rd mir.Redirect) error {
	switch {
	case rd.Target == "-":
		f, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		if err != nil {
			return shellerr.FromOS("open", os.DevNull, err)
		}
		st.res.add(f)
		st.fd[rd.Fd] = f
		return nil
	case isDigits(rd.Target):
		n, _ := strconv.Atoi(rd.Target)
		if n > 2 {
			return shellerr.Runtimef(shellerr.BadRedirect, "%d: bad file descriptor", n)
		}
		st.fd[rd.Fd] = st.fd[n]
		return nil
	case rd.Op == token.GreatAnd && rd.Fd == 1:
		rd.Op = token.AndGreat
		return h.open(st, rd, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	}
	return shellerr.Runtimef(shellerr.BadRedirect, "%s: ambiguous redirect", rd.Target)
}

func isDigits(s string) bool {
	return s != "" && strings.Trim(s, "0123456789") == ""
}

// hereDoc returns a reader over a here-document body. Processes need a
// file, so for them the body goes through an unlinked temporary file.
func (h *shell) hereDoc(st *stage, body string) (io.Reader, error) {
	if st.kind.inProcess() {
		return strings.NewReader(body), nil
	}
	f, err := os.CreateTemp("", "nxsh-here-*")
	if err != nil {
		return nil, shellerr.FromOS("here-document", "", err)
	}
	name := f.Name()
	st.res.addFunc(func() error {
		err := f.Close()
		_ = os.Remove(name)
		return err
	})
	if _, err := io.WriteString(f, body); err != nil {
		return nil, shellerr.FromOS("here-document", name, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, shellerr.FromOS("here-document", name, err)
	}
	return f, nil
}
