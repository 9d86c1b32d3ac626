// Package engine executes parsed shell scripts. It lowers a script to MIR,
// optionally optimizes it, and runs it on the MIR machine; pipelines are
// resolved, wired and handed to the job scheduler, or run directly on the
// calling goroutine when they are a single in-process command.
package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rcarmo/go-nxsh/pkg/core"
	"github.com/rcarmo/go-nxsh/pkg/logging"
	"github.com/rcarmo/go-nxsh/pkg/metrics"
	"github.com/rcarmo/go-nxsh/pkg/sandbox"
	"github.com/rcarmo/go-nxsh/pkg/shell/ast"
	"github.com/rcarmo/go-nxsh/pkg/shell/diag"
	"github.com/rcarmo/go-nxsh/pkg/shell/expand"
	"github.com/rcarmo/go-nxsh/pkg/shell/jobs"
	"github.com/rcarmo/go-nxsh/pkg/shell/mir"
	"github.com/rcarmo/go-nxsh/pkg/shell/parser"
	"github.com/rcarmo/go-nxsh/pkg/shell/pipe"
	"github.com/rcarmo/go-nxsh/pkg/shell/shellerr"
	"github.com/rcarmo/go-nxsh/pkg/shell/vars"
)

// Engine runs scripts against one shell session.
type Engine struct {
	name        string
	log         *slog.Logger
	registry    *Registry
	sched       *jobs.Scheduler
	ownSched    bool
	machine     *mir.Machine
	policy      *sandbox.Policy
	metrics     *metrics.Metrics
	stdio       stdio
	maxFields   int
	pipeCap     int
	optimize    bool
	interactive bool
	jit         bool
	jitAfter    int
	pipefail    bool
	aliases     map[string]string
	store       *vars.Store
	dir         string
	params      []string

	session *Session
}

// Option configures an Engine.
type Option func(*Engine)

// WithName sets $0 and the prefix of diagnostics.
func WithName(name string) Option { return func(e *Engine) { e.name = name } }

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

// WithRegistry sets the builtin registry.
func WithRegistry(r *Registry) Option { return func(e *Engine) { e.registry = r } }

// WithBuiltins registers builtins in the engine's registry.
func WithBuiltins(bs ...Builtin) Option {
	return func(e *Engine) { e.registry.Register(bs...) }
}

// WithStdio sets the shell's standard streams.
func WithStdio(in io.Reader, out, errw io.Writer) Option {
	return func(e *Engine) { e.stdio = stdio{in: in, out: out, err: errw} }
}

// WithScheduler shares a job scheduler. By default the engine owns one.
func WithScheduler(s *jobs.Scheduler) Option { return func(e *Engine) { e.sched = s } }

// WithJIT enables block compilation after threshold entries.
func WithJIT(enabled bool, threshold int) Option {
	return func(e *Engine) { e.jit, e.jitAfter = enabled, threshold }
}

// WithPipefail sets the initial pipefail option.
func WithPipefail(on bool) Option { return func(e *Engine) { e.pipefail = on } }

// WithPolicy enforces a sandbox policy on redirections and programs.
func WithPolicy(p *sandbox.Policy) Option { return func(e *Engine) { e.policy = p } }

// WithMetrics records pipeline, pipe, job and JIT metrics.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithMaxFields caps the fields one expansion may produce.
func WithMaxFields(n int) Option { return func(e *Engine) { e.maxFields = n } }

// WithPipeCapacity sets the frame capacity of in-process pipes.
func WithPipeCapacity(n int) Option { return func(e *Engine) { e.pipeCap = n } }

// WithOptimize turns the MIR optimizer on or off.
func WithOptimize(on bool) Option { return func(e *Engine) { e.optimize = on } }

// WithAliases seeds the alias table.
func WithAliases(m map[string]string) Option { return func(e *Engine) { e.aliases = m } }

// WithVars sets the variable store. By default the process environment
// is imported.
func WithVars(s *vars.Store) Option { return func(e *Engine) { e.store = s } }

// WithDir sets the initial working directory.
func WithDir(dir string) Option { return func(e *Engine) { e.dir = dir } }

// WithPositional sets the initial positional parameters.
func WithPositional(args ...string) Option { return func(e *Engine) { e.params = args } }

// WithInteractive makes the engine announce background jobs.
func WithInteractive(on bool) Option { return func(e *Engine) { e.interactive = on } }

// New returns an engine with a fresh session.
func New(opts ...Option) *Engine {
	e := &Engine{
		name:      "nxsh",
		log:       logging.NewNop(),
		registry:  NewRegistry(),
		stdio:     stdio{in: os.Stdin, out: os.Stdout, err: os.Stderr},
		maxFields: expand.DefaultMaxFields,
		pipeCap:   pipe.DefaultCapacity,
		optimize:  true,
		jitAfter:  16,
	}
	for _, o := range opts {
		o(e)
	}
	e.stdio.out = syncWriter(e.stdio.out)
	e.stdio.err = syncWriter(e.stdio.err)
	if e.sched == nil {
		e.sched = jobs.New(
			jobs.WithController(jobs.NewController()),
			jobs.WithLogger(e.log),
			jobs.WithHook(e.metrics.JobTransition),
		)
		e.ownSched = true
	}
	mopts := []mir.Option{mir.WithJIT(e.jit, e.jitAfter), mir.WithLogger(e.log)}
	if e.metrics != nil {
		mopts = append(mopts, mir.WithObserver(e.metrics))
	}
	e.machine = mir.NewMachine(mopts...)
	if e.store == nil {
		e.store = vars.FromOS()
	}
	if e.dir == "" {
		e.dir, _ = os.Getwd()
	}
	e.session = newSession(e, e.store, e.aliases, e.dir)
	e.session.params = e.params
	if e.pipefail {
		_ = e.session.SetOption(OptPipefail, true)
	}
	return e
}

// Session returns the engine's shell session.
func (e *Engine) Session() *Session { return e.session }

// Registry returns the builtin registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Jobs returns the job scheduler.
func (e *Engine) Jobs() *jobs.Scheduler { return e.sched }

// Close shuts down the scheduler if the engine owns it.
func (e *Engine) Close(ctx context.Context) {
	if e.ownSched {
		e.sched.Shutdown(ctx)
	}
}

// Result describes one Run.
type Result struct {
	ExitCode int
	Duration time.Duration
	// PID is the process group of the last foreground job, if any.
	PID int
	// JobID is the last job started in the background or stopped.
	JobID jobs.ID
	// State is the final state of the last pipeline.
	State State
	// Err is the last categorized error reported during the run.
	Err error
	// Exit is set when the script ran the exit builtin.
	Exit bool
	// Truncated is set when an expansion hit the field cap.
	Truncated bool
}

// run collects what a Run reports. Background stages may report into it
// after Run returned.
type run struct {
	id  string
	log *slog.Logger

	mu        sync.Mutex
	state     State
	err       error
	pid       int
	jobID     jobs.ID
	truncated bool
	cleanups  []func()
}

func (r *run) fail(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *run) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *run) onFinish(fn func()) {
	r.mu.Lock()
	r.cleanups = append(r.cleanups, fn)
	r.mu.Unlock()
}

func (r *run) finish() {
	r.mu.Lock()
	fns := r.cleanups
	r.cleanups = nil
	r.mu.Unlock()
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}

// Run parses and executes src.
func (e *Engine) Run(ctx context.Context, src string) Result {
	start := time.Now()
	script, err := parser.Parse(src)
	if err != nil {
		diag.New(e.stdio.err, e.name).Error(src, err)
		e.session.save(e.session.positional(), shellerr.ExitStatus(err))
		return Result{ExitCode: shellerr.ExitStatus(err), Err: err, State: Failed, Duration: time.Since(start)}
	}
	return e.execute(ctx, script, start)
}

// Execute runs an already parsed script.
func (e *Engine) Execute(ctx context.Context, script *ast.Script) Result {
	return e.execute(ctx, script, time.Now())
}

func (e *Engine) execute(ctx context.Context, script *ast.Script, start time.Time) Result {
	id := uuid.NewString()
	r := &run{id: id, log: e.log.With(slog.String("run", id)), state: Completed}
	defer r.finish()

	prog, err := mir.Lower(script)
	if err != nil {
		diag.New(e.stdio.err, e.name).Error("", err)
		return Result{ExitCode: shellerr.ExitStatus(err), Err: err, State: Failed, Duration: time.Since(start)}
	}
	s := e.session
	if e.optimize {
		prog = mir.Optimize(prog, mir.Options{
			Aliases:    s.Aliases.Snapshot(),
			Pure:       e.registry.Pure,
			IsFunction: s.HasFunction,
		})
	}
	h := &shell{e: e, s: s, io: e.stdio, run: r, log: r.log}
	f := &mir.Frame{Host: h, Name: e.name, Params: s.positional(), Status: s.Status()}
	status, err := e.machine.Call(ctx, prog, 0, f)

	res := Result{}
	var (
		ee *ExitError
		re *ReturnError
	)
	switch {
	case err == nil:
	case errors.As(err, &ee):
		status, res.Exit = ee.Status, true
	case errors.As(err, &re):
		status = re.Status
	case ctx.Err() != nil:
		status = core.ExitInterrupted
		r.setState(Interrupted)
		r.fail(err)
	default:
		diag.New(e.stdio.err, e.name).Error("", err)
		status = shellerr.ExitStatus(err)
		r.setState(Failed)
		r.fail(err)
	}
	s.save(f.Params, status)
	if stats := prog.Stats(); stats.Compiled > 0 || stats.Fallbacks > 0 {
		r.log.Debug("jit", slog.String("stats", stats.String()))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	res.ExitCode = status
	res.Duration = time.Since(start)
	res.PID = r.pid
	res.JobID = r.jobID
	res.State = r.state
	res.Err = r.err
	res.Truncated = r.truncated
	return res
}

// Notify reports background jobs that finished since the last call, the
// way an interactive shell does before its prompt.
func (e *Engine) Notify() {
	for _, sum := range e.sched.Finished() {
		_, _ = io.WriteString(e.stdio.err, sum.String()+"\n")
	}
}

// syncWriter serializes writes to streams shared by concurrent stages.
// Files are left alone: the kernel orders their writes.
func syncWriter(w io.Writer) io.Writer {
	switch w.(type) {
	case *os.File, *lockedWriter, nil:
		return w
	}
	return &lockedWriter{w: w}
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(b []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(b)
}
