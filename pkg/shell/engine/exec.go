package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/rcarmo/go-nxsh/pkg/core"
	"github.com/rcarmo/go-nxsh/pkg/shell/jobs"
	"github.com/rcarmo/go-nxsh/pkg/shell/mir"
	"github.com/rcarmo/go-nxsh/pkg/shell/pipe"
	"github.com/rcarmo/go-nxsh/pkg/shell/shellerr"
	"github.com/rcarmo/go-nxsh/pkg/shell/vars"
)

// pipelineRun tracks one pipeline through its lifecycle.
type pipelineRun struct {
	h     *shell
	p     *mir.Pipeline
	state State
	log   *slog.Logger
}

func (pr *pipelineRun) advance(to State) {
	from := pr.state
	if err := pr.state.advance(to); err != nil {
		pr.log.Error("pipeline state", slog.Any("err", err))
		return
	}
	pr.log.Debug("pipeline", slog.String("from", from.String()), slog.String("to", to.String()))
}

// pipeline resolves, wires and runs the stages of p.
func (h *shell) pipeline(ctx context.Context, f *mir.Frame, prog *mir.Program, p *mir.Pipeline, cmds []*mir.Command) (int, error) {
	start := time.Now()
	pr := &pipelineRun{h: h, p: p, state: Parsed, log: h.log.With(slog.String("pipeline", p.Text))}
	status, err := pr.run(ctx, f, prog, cmds)
	if p.Negated && err == nil {
		if status == 0 {
			status = 1
		} else {
			status = 0
		}
	}
	if !pr.state.Terminal() {
		pr.advance(Completed)
	}
	h.run.setState(pr.state)
	h.e.metrics.PipelineDone(pr.state.String(), time.Since(start))
	return status, err
}

func (pr *pipelineRun) run(ctx context.Context, f *mir.Frame, prog *mir.Program, cmds []*mir.Command) (int, error) {
	h := pr.h
	pr.advance(Resolving)
	stages := make([]*stage, len(cmds))
	for i, c := range cmds {
		stages[i] = h.resolve(c)
		stages[i].prog = prog
	}

	pr.advance(Spawning)
	closeAll := func() {
		for _, st := range stages {
			_ = st.res.close()
		}
	}
	if err := h.wire(pr.p, stages); err != nil {
		closeAll()
		h.report("", err)
		pr.advance(Failed)
		return core.ExitFailure, nil
	}
	for _, st := range stages {
		if err := h.redirect(st); err != nil {
			closeAll()
			h.report("", err)
			pr.advance(Failed)
			return core.ExitFailure, nil
		}
	}

	if pr.inline(stages) {
		st := stages[0]
		pr.advance(Running)
		status, err := h.runStage(ctx, st, f)
		_ = st.res.close()
		switch {
		case err != nil && ctx.Err() != nil:
			pr.advance(Interrupted)
			return core.ExitInterrupted, err
		case st.kind == kindError:
			pr.advance(Failed)
		}
		return status, err
	}
	return pr.launch(ctx, f, stages, closeAll)
}

// inline reports whether the pipeline is a single foreground in-process
// command, which runs on the calling goroutine in the current shell.
func (pr *pipelineRun) inline(stages []*stage) bool {
	if len(stages) != 1 || pr.p.Background {
		return false
	}
	st := stages[0]
	return st.kind.inProcess() && !(st.kind == kindBody && st.cmd.Subshell)
}

// wire connects adjacent stages. Two in-process stages share a pipe.Pipe
// of the negotiated kind; when either side is a process they share an OS
// pipe, which carries bytes only.
func (h *shell) wire(p *mir.Pipeline, stages []*stage) error {
	for _, st := range stages {
		st.fd = [3]any{h.io.in, h.io.out, h.io.err}
	}
	for i := 0; i+1 < len(stages); i++ {
		a, b := stages[i], stages[i+1]
		if a.kind.inProcess() && b.kind.inProcess() {
			_, produces := a.objectIO()
			consumes, _ := b.objectIO()
			pp := pipe.Connect(p.Ops[i], produces, consumes, h.e.pipeCap)
			h.e.metrics.PipeKind(pp.Kind())
			w, r := pp.Writer(), pp.Reader()
			a.fd[1] = w
			a.res.add(w)
			b.fd[0] = r
			b.res.add(r)
			continue
		}
		r, w, err := os.Pipe()
		if err != nil {
			return shellerr.FromOS("pipe", "", err)
		}
		h.e.metrics.PipeKind(pipe.Byte)
		a.fd[1] = w
		a.res.add(w)
		b.fd[0] = r
		b.res.add(r)
	}
	return nil
}

func (st *stage) objectIO() (in, out bool) {
	if st.kind == kindBuiltin {
		return objectIO(st.builtin)
	}
	return false, false
}

// launch hands the pipeline to the scheduler as one job.
func (pr *pipelineRun) launch(ctx context.Context, f *mir.Frame, stages []*stage, closeAll func()) (int, error) {
	h, p := pr.h, pr.p
	spec := jobs.Spec{Command: p.Text, Background: p.Background}
	if h.s.Option(OptPipefail) {
		spec.Combine = jobs.FirstFailure
	}
	for i, st := range stages {
		sess := h.s
		if p.Background || i < len(stages)-1 {
			sess = h.s.Clone()
		}
		ts, err := h.task(st, sess, f)
		if err != nil {
			closeAll()
			h.report("", err)
			pr.advance(Failed)
			return core.ExitFailure, nil
		}
		spec.Tasks = append(spec.Tasks, ts)
	}
	id, err := h.s.Jobs.Launch(spec)
	if err != nil {
		closeAll()
		h.report("", err)
		pr.advance(Failed)
		return shellerr.ExitStatus(err), nil
	}
	pr.advance(Running)
	sum, _ := h.s.Jobs.Get(id)
	if p.Background {
		bg := strconv.Itoa(int(id))
		if sum.PGID != 0 {
			bg = strconv.Itoa(sum.PGID)
		}
		h.s.setLastBackground(bg)
		h.run.mu.Lock()
		h.run.jobID = id
		h.run.mu.Unlock()
		if h.e.interactive {
			fmt.Fprintf(h.io.err, "[%d] %s\n", id, bg)
		}
		return 0, nil
	}
	h.run.mu.Lock()
	h.run.pid = sum.PGID
	h.run.mu.Unlock()
	status, st, err := h.waitForeground(ctx, id)
	switch {
	case err != nil:
		pr.advance(Interrupted)
	case st == jobs.Failed:
		pr.advance(Failed)
	}
	return status, err
}

// waitForeground waits for a foreground job. A stopped job stays in the
// table and yields 128+SIGTSTP; a cancelled wait interrupts the job.
func (h *shell) waitForeground(ctx context.Context, id jobs.ID) (int, jobs.State, error) {
	st, err := h.s.Jobs.Foreground(ctx, id)
	if err != nil {
		status, _ := h.s.Jobs.Wait(context.Background(), id)
		if status == 0 {
			status = core.ExitInterrupted
		}
		return status, st, err
	}
	if st == jobs.Stopped {
		if sum, ok := h.s.Jobs.Get(id); ok {
			fmt.Fprintf(h.io.err, "\n%s\n", sum)
		}
		h.run.mu.Lock()
		h.run.jobID = id
		h.run.mu.Unlock()
		return core.ExitSignalBase + 20, st, nil
	}
	status, err := h.s.Jobs.Wait(ctx, id)
	if err != nil && !errors.Is(err, jobs.ErrNoSuchJob) {
		h.report("", err)
	}
	return status, st, nil
}

// foreground implements fg.
func (h *shell) foreground(ctx context.Context, id jobs.ID) (int, error) {
	status, _, err := h.waitForeground(ctx, id)
	return status, err
}

// task turns a stage into a job task.
func (h *shell) task(st *stage, sess *Session, f *mir.Frame) (jobs.TaskSpec, error) {
	if st.kind == kindProcess {
		return h.processTask(st, sess)
	}
	// The task runs on its own goroutine while the frame moves on.
	name, params, last := f.Name, slices.Clone(f.Params), f.Status
	return jobs.TaskSpec{
		Name: st.name,
		Run: func(ctx context.Context, g *jobs.Gate) (int, error) {
			sh := h.with(sess, h.io)
			sh.gate = g
			fr := &mir.Frame{Host: sh, Name: name, Params: params, Status: last}
			status, err := sh.runStage(ctx, st, fr)
			if s, ok := exitStatus(err); ok {
				return s, nil
			}
			if err != nil && ctx.Err() == nil {
				if isBrokenPipe(err) {
					return core.ExitBrokenPipe, nil
				}
				sh.with(sess, stdio{err: st.fdWriter(2)}).report(st.name, err)
				if status == 0 {
					status = shellerr.ExitStatus(err)
				}
			}
			return status, nil
		},
		Done: func() { _ = st.res.close() },
	}, nil
}

// processTask builds the command for a process stage. Streams that are
// not files are bridged through OS pipes: the scheduler reaps processes
// itself, so exec's own copying goroutines would never be waited for.
func (h *shell) processTask(st *stage, sess *Session) (jobs.TaskSpec, error) {
	cmd := &exec.Cmd{
		Path: st.path,
		Args: st.args,
		Dir:  sess.Dir(),
		Env:  vars.Environ(sess.Vars.Env(assignMap(st.cmd.Assigns))),
	}
	// Parent copies of bridge ends join the stage resources, released
	// once the process has started.
	var copiers sync.WaitGroup
	in, err := inputFile(st.fd[0], &st.res)
	if err != nil {
		return jobs.TaskSpec{}, err
	}
	cmd.Stdin = in
	out, err := outputFile(st.fd[1], &st.res, &copiers)
	if err != nil {
		return jobs.TaskSpec{}, err
	}
	cmd.Stdout = out
	if same(st.fd[2], st.fd[1]) {
		cmd.Stderr = out
	} else if cmd.Stderr, err = outputFile(st.fd[2], &st.res, &copiers); err != nil {
		return jobs.TaskSpec{}, err
	}
	return jobs.TaskSpec{
		Name: st.name,
		Cmd:  cmd,
		Started: func() { _ = st.res.close() },
		Done: func() {
			_ = st.res.close()
			copiers.Wait()
		},
	}, nil
}

// inputFile returns a file a process can read s from.
func inputFile(s any, started *resources) (*os.File, error) {
	switch v := s.(type) {
	case *os.File:
		return v, nil
	case nil:
		return nil, nil
	case io.Reader:
		r, w, err := os.Pipe()
		if err != nil {
			return nil, shellerr.FromOS("pipe", "", err)
		}
		started.add(r)
		go func() {
			_, _ = io.Copy(w, v)
			_ = w.Close()
		}()
		return r, nil
	}
	return nil, shellerr.Runtimef(shellerr.BadRedirect, "standard input is not readable")
}

// outputFile returns a file a process can write s through. Copying ends
// when the process and every child holding the pipe have exited.
func outputFile(s any, started *resources, copiers *sync.WaitGroup) (*os.File, error) {
	switch v := s.(type) {
	case *os.File:
		return v, nil
	case nil:
		return nil, nil
	case io.Writer:
		r, w, err := os.Pipe()
		if err != nil {
			return nil, shellerr.FromOS("pipe", "", err)
		}
		started.add(w)
		copiers.Add(1)
		go func() {
			defer copiers.Done()
			_, _ = io.Copy(v, r)
			_ = r.Close()
		}()
		return w, nil
	}
	return nil, shellerr.Runtimef(shellerr.BadRedirect, "standard output is not writable")
}

// same reports whether two streams are the same value. Streams of
// incomparable dynamic types are never the same.
func same(a, b any) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = false
		}
	}()
	return a != nil && a == b
}
