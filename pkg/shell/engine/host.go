package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"syscall"

	"github.com/rcarmo/go-nxsh/pkg/core"
	"github.com/rcarmo/go-nxsh/pkg/shell/diag"
	"github.com/rcarmo/go-nxsh/pkg/shell/expand"
	"github.com/rcarmo/go-nxsh/pkg/shell/jobs"
	"github.com/rcarmo/go-nxsh/pkg/shell/mir"
	"github.com/rcarmo/go-nxsh/pkg/shell/parser"
	"github.com/rcarmo/go-nxsh/pkg/shell/pipe"
	"github.com/rcarmo/go-nxsh/pkg/shell/shellerr"
)

// maxDepth bounds function call nesting.
const maxDepth = 1000

type stdio struct {
	in       io.Reader
	out, err io.Writer
}

// shell is the mir.Host of one execution context: a session plus the
// streams and job gate commands inherit.
type shell struct {
	e     *Engine
	s     *Session
	io    stdio
	gate  *jobs.Gate
	run   *run
	log   *slog.Logger
	depth int
}

var _ mir.Host = (*shell)(nil)

func (h *shell) with(s *Session, io stdio) *shell {
	c := *h
	c.s, c.io = s, io
	return &c
}

func (h *shell) Var(name string) (string, bool) {
	switch name {
	case "$":
		return strconv.Itoa(os.Getpid()), true
	case "!":
		v := h.s.LastBackground()
		return v, v != ""
	case "-":
		if h.s.Option(OptNoGlob) {
			return "f", true
		}
		return "", true
	}
	return h.s.Vars.Get(name)
}

func (h *shell) SetVar(name, value string) error {
	h.s.Vars.Set(name, value)
	return nil
}

func (h *shell) Define(name string, prog *mir.Program, fn mir.FuncID) {
	h.s.defineFunc(name, prog, fn)
	h.log.Debug("function defined", slog.String("name", name))
}

func (h *shell) ExpandConfig() expand.Config {
	cfg := expand.Config{
		Dir:       h.s.Dir(),
		Home:      h.s.Vars.Lookup("HOME"),
		MaxFields: h.e.maxFields,
		NoGlob:    h.s.Option(OptNoGlob),
	}
	if ifs, ok := h.s.Vars.Get("IFS"); ok {
		cfg.IFS = &ifs
	}
	return cfg
}

func (h *shell) Truncated(text string) {
	h.run.mu.Lock()
	h.run.truncated = true
	h.run.mu.Unlock()
	h.log.Debug("expansion truncated", slog.String("text", text), slog.Int("limit", h.e.maxFields))
	diag.New(h.io.err, h.e.name).Truncated(text, h.e.maxFields)
}

func (h *shell) Exec(ctx context.Context, f *mir.Frame, prog *mir.Program, p *mir.Pipeline, cmds []*mir.Command) (int, error) {
	return h.pipeline(ctx, f, prog, p, cmds)
}

// Substitute runs fn in a subshell and captures its standard output.
func (h *shell) Substitute(ctx context.Context, f *mir.Frame, prog *mir.Program, fn mir.FuncID) (string, error) {
	var buf bytes.Buffer
	child := h.with(h.s.Clone(), stdio{in: h.io.in, out: &lockedWriter{w: &buf}, err: h.io.err})
	fr := &mir.Frame{Host: child, Name: f.Name, Params: slices.Clone(f.Params), Status: f.Status}
	_, err := h.e.machine.Call(ctx, prog, fn, fr)
	if _, ok := exitStatus(err); ok {
		err = nil
	}
	return buf.String(), err
}

func (h *shell) ProcessSubst(ctx context.Context, f *mir.Frame, prog *mir.Program, fn mir.FuncID, out bool) (string, error) {
	return h.processSubst(ctx, f, prog, fn, out)
}

// report prints a command failure as "nxsh: name: message".
func (h *shell) report(name string, err error) {
	if name != "" && !strings.HasPrefix(err.Error(), name+":") {
		err = fmt.Errorf("%s: %w", name, err)
	}
	diag.New(h.io.err, h.e.name).Error("", err)
	if _, ok := shellerr.CategoryOf(err); ok {
		h.run.fail(err)
	}
}

// eval runs src in the current shell with frame f.
func (h *shell) eval(ctx context.Context, f *mir.Frame, src string) (int, error) {
	script, err := parser.Parse(src)
	if err != nil {
		diag.New(h.io.err, h.e.name).Error(src, err)
		return shellerr.ExitStatus(err), nil
	}
	prog, err := mir.Lower(script)
	if err != nil {
		return shellerr.ExitStatus(err), err
	}
	fr := &mir.Frame{Host: h, Name: f.Name, Params: f.Params, Status: f.Status}
	status, err := h.e.machine.Call(ctx, prog, 0, fr)
	f.Params = fr.Params
	return status, err
}

// builtinStreams returns the streams a builtin sees: gated when it runs
// as a job task.
func (h *shell) builtinStreams() (io.Reader, io.Writer, io.Writer) {
	in, out, errw := h.io.in, h.io.out, h.io.err
	if in == nil {
		in = eofReader{}
	}
	if out == nil {
		out = io.Discard
	}
	if errw == nil {
		errw = io.Discard
	}
	if h.gate == nil {
		return in, out, errw
	}
	return pipe.GateReader(in, h.gate), pipe.GateWriter(out, h.gate), pipe.GateWriter(errw, h.gate)
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }

// runStage runs an in-process stage on its own streams. Control flow
// (exit, return) and cancellation come back as errors; other failures are
// reported and turned into a status.
func (h *shell) runStage(ctx context.Context, st *stage, f *mir.Frame) (int, error) {
	sh := h.with(h.s, stdio{in: st.fdReader(0), out: st.fdWriter(1), err: st.fdWriter(2)})
	switch st.kind {
	case kindEmpty:
		for _, a := range st.cmd.Assigns {
			sh.s.Vars.Set(a.Name, a.Value)
		}
		return 0, nil
	case kindError:
		sh.report("", st.err)
		return shellerr.ExitStatus(st.err), nil
	case kindBuiltin:
		return sh.invoke(ctx, st, f)
	case kindFunction:
		return sh.call(ctx, st, f)
	case kindBody, kindScript:
		return sh.body(ctx, st, f)
	}
	return 1, shellerr.Runtimef(shellerr.Internal, "%s: process stage run in-process", st.name)
}

func assignMap(assigns []mir.EnvPair) map[string]string {
	if len(assigns) == 0 {
		return nil
	}
	m := make(map[string]string, len(assigns))
	for _, a := range assigns {
		m[a.Name] = a.Value
	}
	return m
}

func (h *shell) invoke(ctx context.Context, st *stage, f *mir.Frame) (int, error) {
	in, out, errw := h.builtinStreams()
	assigns := assignMap(st.cmd.Assigns)
	ec := &ExecutionContext{
		Args:    st.args,
		Env:     h.s.Vars.Env(assigns),
		Stdin:   in,
		Stdout:  out,
		Stderr:  errw,
		Dir:     h.s.Dir(),
		Context: ctx,
		Session: h.s,
		Gate:    h.gate,
		assigns: assigns,
		frame:   f,
		shell:   h,
	}
	status, err := st.builtin.Invoke(ec)
	if err == nil {
		return status, nil
	}
	if _, ok := exitStatus(err); ok || ctx.Err() != nil {
		return status, err
	}
	if isBrokenPipe(err) {
		return core.ExitBrokenPipe, nil
	}
	h.with(h.s, stdio{err: errw}).report(st.name, err)
	if status == 0 {
		status = shellerr.ExitStatus(err)
	}
	return status, nil
}

// isBrokenPipe reports a write to a stage whose reader went away.
func isBrokenPipe(err error) bool {
	return errors.Is(err, pipe.ErrClosed) || errors.Is(err, syscall.EPIPE)
}

// call runs a shell function with the stage arguments as positional
// parameters. Stage-local assignments last for the call.
func (h *shell) call(ctx context.Context, st *stage, f *mir.Frame) (int, error) {
	if h.depth >= maxDepth {
		h.report("", shellerr.Runtimef(shellerr.Internal, "%s: maximum function nesting level exceeded (%d)", st.name, maxDepth))
		return 1, nil
	}
	child := *h
	child.depth++
	restore := h.setTemp(st.cmd.Assigns)
	defer restore()
	fr := &mir.Frame{Host: &child, Name: f.Name, Params: slices.Clone(st.args[1:]), Status: f.Status}
	status, err := h.e.machine.Call(ctx, st.fn.prog, st.fn.id, fr)
	var re *ReturnError
	if errors.As(err, &re) {
		return re.Status, nil
	}
	return status, err
}

// setTemp assigns vars and returns a function restoring the old values.
func (h *shell) setTemp(assigns []mir.EnvPair) func() {
	if len(assigns) == 0 {
		return func() {}
	}
	type saved struct {
		name, val string
		set       bool
	}
	old := make([]saved, 0, len(assigns))
	for _, a := range assigns {
		v, ok := h.s.Vars.Get(a.Name)
		old = append(old, saved{a.Name, v, ok})
		h.s.Vars.Set(a.Name, a.Value)
	}
	return func() {
		for _, o := range slices.Backward(old) {
			if o.set {
				h.s.Vars.Set(o.name, o.val)
			} else {
				h.s.Vars.Unset(o.name)
			}
		}
	}
}

// body runs a compound stage: a group in the current shell, a subshell on
// a copy of the session, or the script an alias stands for.
func (h *shell) body(ctx context.Context, st *stage, f *mir.Frame) (int, error) {
	child := h
	if st.cmd.Subshell {
		child = h.with(h.s.Clone(), h.io)
	}
	prog, id := st.fn.prog, st.fn.id
	if st.kind == kindBody {
		prog, id = st.prog, st.cmd.Body
	}
	fr := &mir.Frame{Host: child, Name: f.Name, Params: f.Params, Status: f.Status}
	status, err := h.e.machine.Call(ctx, prog, id, fr)
	if st.cmd.Subshell {
		var ee *ExitError
		if errors.As(err, &ee) {
			return ee.Status, nil
		}
		return status, err
	}
	f.Params = fr.Params
	return status, err
}
