//go:build unix

package engine

import (
	"context"
	"os"
	"path/filepath"
	"slices"

	"golang.org/x/sys/unix"

	"github.com/rcarmo/go-nxsh/pkg/shell/mir"
	"github.com/rcarmo/go-nxsh/pkg/shell/shellerr"
)

// processSubst runs fn in a subshell connected to a named pipe and returns
// the pipe's path. For <(...) fn writes the pipe; for >(...) it reads it.
// The pipe and its directory are removed when the run finishes.
func (h *shell) processSubst(ctx context.Context, f *mir.Frame, prog *mir.Program, fn mir.FuncID, out bool) (string, error) {
	dir, err := os.MkdirTemp("", "nxsh-fifo-*")
	if err != nil {
		return "", shellerr.FromOS("mkdir", "", err)
	}
	path := filepath.Join(dir, "fifo")
	if err := unix.Mkfifo(path, 0o600); err != nil {
		_ = os.RemoveAll(dir)
		return "", shellerr.FromOS("mkfifo", path, err)
	}

	flag := os.O_WRONLY
	if out {
		flag = os.O_RDONLY
	}
	name, params, status := f.Name, slices.Clone(f.Params), f.Status
	go func() {
		// Opening blocks until the command using the path opens the other end.
		fifo, err := os.OpenFile(path, flag, 0)
		if err != nil {
			return
		}
		defer fifo.Close()
		io := stdio{in: h.io.in, out: fifo, err: h.io.err}
		if out {
			io = stdio{in: fifo, out: h.io.out, err: h.io.err}
		}
		child := h.with(h.s.Clone(), io)
		fr := &mir.Frame{Host: child, Name: name, Params: params, Status: status}
		_, _ = h.e.machine.Call(ctx, prog, fn, fr)
	}()

	h.run.onFinish(func() {
		// An open nobody answered is released by briefly holding the other
		// end. O_RDWR on a FIFO never blocks.
		if peer, err := os.OpenFile(path, os.O_RDWR|unix.O_NONBLOCK, 0); err == nil {
			_ = peer.Close()
		}
		_ = os.RemoveAll(dir)
	})
	return path, nil
}
