package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/rcarmo/go-nxsh/pkg/shell/shellerr"
)

// DefaultWorkers bounds the builtin tasks of background jobs running at
// once.
const DefaultWorkers = 8

// DefaultGrace is how long an interrupted foreground job may take to exit
// before it is terminated, and then killed.
const DefaultGrace = 2 * time.Second

type task struct {
	spec   TaskSpec
	pid    int
	proc   *os.Process
	state  State
	status int
	err    error
}

func (t *task) builtin() bool { return t.spec.Cmd == nil }

type job struct {
	id         ID
	pgid       int
	command    string
	tasks      []*task
	state      State
	combine    func([]int) int
	changed    chan struct{}
	gate       *Gate
	cancel     context.CancelCauseFunc
	background bool
	started    time.Time
}

func (j *job) group() Group {
	g := Group{PGID: j.pgid}
	for _, t := range j.tasks {
		if t.pid != 0 {
			g.PIDs = append(g.PIDs, t.pid)
		}
	}
	return g
}

func (j *job) hasProcs() bool {
	return slices.ContainsFunc(j.tasks, func(t *task) bool { return !t.builtin() })
}

func (j *job) status() int {
	statuses := make([]int, len(j.tasks))
	for i, t := range j.tasks {
		statuses[i] = t.status
	}
	return j.combine(statuses)
}

func (j *job) err() error {
	for _, t := range j.tasks {
		if t.err != nil {
			return t.err
		}
	}
	return nil
}

// derive computes the job state from its tasks: Stopped when every live
// task is stopped, Running while any task runs, and otherwise a terminal
// state decided by failures and the last task.
func (j *job) derive() State {
	live, stopped, failed := 0, 0, false
	for _, t := range j.tasks {
		switch {
		case !t.state.Terminal():
			live++
			if t.state == Stopped {
				stopped++
			}
		case t.state == Failed:
			failed = true
		}
	}
	switch {
	case live > 0 && stopped == live:
		return Stopped
	case live > 0:
		return Running
	case failed:
		return Failed
	case j.tasks[len(j.tasks)-1].state == Killed:
		return Killed
	}
	return Completed
}

// Scheduler owns the job table.
type Scheduler struct {
	ctrl    Controller
	log     *slog.Logger
	hook    func(Transition)
	pool    *semaphore.Weighted
	workers int64
	grace   time.Duration

	mu     sync.Mutex
	table  map[ID]*job
	fg     ID
	closed bool
	wg     sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithController replaces the platform controller.
func WithController(c Controller) Option { return func(s *Scheduler) { s.ctrl = c } }

func WithLogger(l *slog.Logger) Option { return func(s *Scheduler) { s.log = l } }

// WithHook registers a function called on every job state change. It runs
// with the table locked and must not call back into the scheduler.
func WithHook(fn func(Transition)) Option { return func(s *Scheduler) { s.hook = fn } }

// WithWorkers sets the size of the builtin worker pool.
func WithWorkers(n int) Option {
	return func(s *Scheduler) { s.workers = int64(max(n, 1)) }
}

// WithGrace sets the interrupt escalation delay.
func WithGrace(d time.Duration) Option { return func(s *Scheduler) { s.grace = d } }

// New returns a scheduler using the platform controller.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		log:     slog.New(slog.DiscardHandler),
		workers: DefaultWorkers,
		grace:   DefaultGrace,
		table:   map[ID]*job{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.ctrl == nil {
		s.ctrl = NewController()
	}
	s.pool = semaphore.NewWeighted(s.workers)
	return s
}

// ErrShutdown is returned by Launch after Shutdown.
var ErrShutdown = errors.New("scheduler is shut down")

// Launch starts every task of spec and adds the job to the table. When a
// process cannot be started, the tasks already started are torn down and
// a *LaunchError is returned; the job never enters the table.
func (s *Scheduler) Launch(spec Spec) (ID, error) {
	if len(spec.Tasks) == 0 {
		return 0, errors.New("jobs: launch without tasks")
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	j := &job{
		command:    spec.Command,
		combine:    spec.Combine,
		changed:    make(chan struct{}),
		gate:       NewGate(ctx),
		cancel:     cancel,
		background: spec.Background,
		started:    time.Now(),
	}
	if j.combine == nil {
		j.combine = LastStatus
	}
	for _, ts := range spec.Tasks {
		t := &task{spec: ts}
		j.tasks = append(j.tasks, t)
		if ts.Cmd == nil {
			continue
		}
		s.ctrl.Prepare(ts.Cmd, j.pgid)
		if err := ts.Cmd.Start(); err != nil {
			s.abort(j)
			cancel(nil)
			return 0, &LaunchError{Command: spec.Command, Task: ts.Name, Err: shellerr.FromOS("exec", ts.Cmd.Path, err)}
		}
		t.proc, t.pid = ts.Cmd.Process, ts.Cmd.Process.Pid
		pgid, err := s.ctrl.Started(ts.Cmd, j.pgid)
		if err != nil {
			s.log.Debug("job group setup failed", slog.String("cmd", spec.Command), slog.Any("err", err))
		}
		j.pgid = pgid
		if ts.Started != nil {
			ts.Started()
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.abort(j)
		cancel(ErrShutdown)
		return 0, ErrShutdown
	}
	j.id = s.nextID()
	s.table[j.id] = j
	s.mu.Unlock()
	s.log.Debug("job launched", slog.Int("job", int(j.id)), slog.Int("pgid", j.pgid), slog.String("cmd", j.command))

	var builtins []*task
	for _, t := range j.tasks {
		if t.builtin() {
			builtins = append(builtins, t)
			continue
		}
		s.wg.Add(1)
		go s.reap(j, t)
	}
	if len(builtins) > 0 {
		s.wg.Add(1)
		go s.runBuiltins(ctx, j, builtins, spec.Background)
	}
	return j.id, nil
}

func (s *Scheduler) nextID() ID {
	id := ID(1)
	for k := range s.table {
		id = max(id, k+1)
	}
	return id
}

// abort tears down the processes of a job that failed to launch.
func (s *Scheduler) abort(j *job) {
	for _, t := range j.tasks {
		if t.proc == nil {
			continue
		}
		_ = t.proc.Kill()
		for {
			ev, err := s.ctrl.Wait(t.proc)
			if err != nil || ev.terminal() {
				break
			}
		}
		_ = t.proc.Release()
	}
	s.ctrl.Release(j.group())
}

// reap follows one process until it reaches a terminal state.
func (s *Scheduler) reap(j *job, t *task) {
	defer s.wg.Done()
	for {
		ev, err := s.ctrl.Wait(t.proc)
		done := err != nil || ev.terminal()
		if done {
			// Output bridges drain before waiters see the terminal state.
			_ = t.proc.Release()
			if t.spec.Done != nil {
				t.spec.Done()
			}
		}
		s.mu.Lock()
		switch {
		case err != nil:
			t.state, t.status, t.err = Failed, 1, fmt.Errorf("wait %d: %w", t.pid, err)
		case ev.Kind == Exited:
			t.state, t.status = Completed, ev.Status
		case ev.Kind == Signaled:
			t.state, t.status = Killed, ev.Status
		case ev.Kind == StoppedEvent:
			t.state = Stopped
		case ev.Kind == Continued:
			t.state = Running
		}
		s.refresh(j)
		s.mu.Unlock()
		if done {
			return
		}
	}
}

func (s *Scheduler) runBuiltins(ctx context.Context, j *job, tasks []*task, pooled bool) {
	defer s.wg.Done()
	if pooled {
		n := min(int64(len(tasks)), s.workers)
		if err := s.pool.Acquire(ctx, n); err != nil {
			s.mu.Lock()
			for _, t := range tasks {
				s.finish(ctx, t, 0, nil)
			}
			s.refresh(j)
			s.mu.Unlock()
			return
		}
		defer s.pool.Release(n)
	}
	var wg sync.WaitGroup
	for _, t := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if t.spec.Started != nil {
				t.spec.Started()
			}
			status, err := call(ctx, j.gate, t.spec.Run)
			// A stopped task does not finish until it is resumed or killed.
			_ = j.gate.Pass()
			if t.spec.Done != nil {
				t.spec.Done()
			}
			s.mu.Lock()
			s.finish(ctx, t, status, err)
			s.refresh(j)
			s.mu.Unlock()
		}()
	}
	wg.Wait()
}

func call(ctx context.Context, g *Gate, fn BuiltinFunc) (status int, err error) {
	defer func() {
		if r := recover(); r != nil {
			status, err = 1, &panicError{r}
		}
	}()
	return fn(ctx, g)
}

type panicError struct{ v any }

func (e *panicError) Error() string { return fmt.Sprintf("builtin panic: %v", e.v) }

// finish records the result of a builtin task; s.mu is held.
func (s *Scheduler) finish(ctx context.Context, t *task, status int, err error) {
	var pe *panicError
	var se *SignalError
	switch {
	case errors.As(err, &pe):
		t.state, t.status, t.err = Failed, status, shellerr.Runtimef(shellerr.Internal, "%v", pe)
	case ctx.Err() != nil && errors.As(context.Cause(ctx), &se):
		t.state, t.status = Killed, se.Status()
	default:
		t.state, t.status, t.err = Completed, status, err
	}
}

// refresh moves j to the state derived from its tasks; s.mu is held.
func (s *Scheduler) refresh(j *job) {
	to := j.derive()
	if to == j.state || j.state.Terminal() {
		return
	}
	if !allowed(j.state, to) {
		// A stopped job whose tasks finished had them resumed first.
		s.move(j, Running)
	}
	s.move(j, to)
}

func (s *Scheduler) move(j *job, to State) {
	from := j.state
	j.state = to
	close(j.changed)
	j.changed = make(chan struct{})
	s.log.Debug("job state", slog.Int("job", int(j.id)), slog.String("from", from.String()), slog.String("to", to.String()))
	if s.hook != nil {
		s.hook(Transition{Job: j.id, From: from, To: to, Command: j.command})
	}
	if to.Terminal() {
		j.cancel(nil)
		if j.hasProcs() {
			s.ctrl.Release(j.group())
		}
	}
}

func (s *Scheduler) lookup(id ID) (*job, error) {
	j, ok := s.table[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNoSuchJob)
	}
	return j, nil
}

// await blocks until pred holds for the job state or ctx is done.
func (s *Scheduler) await(ctx context.Context, j *job, pred func(State) bool) (State, error) {
	for {
		s.mu.Lock()
		st, ch := j.state, j.changed
		s.mu.Unlock()
		if pred(st) {
			return st, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

func settled(st State) bool { return st == Stopped || st.Terminal() }

// Foreground gives the terminal to the job, resumes it if stopped and
// blocks until it stops or terminates. When ctx is cancelled first the job
// is interrupted, then terminated and killed if it does not exit.
func (s *Scheduler) Foreground(ctx context.Context, id ID) (State, error) {
	s.mu.Lock()
	j, err := s.lookup(id)
	if err != nil {
		s.mu.Unlock()
		return 0, err
	}
	if j.state.Terminal() {
		st := j.state
		s.mu.Unlock()
		return st, nil
	}
	j.background = false
	s.fg = id
	stopped, pgid := j.state == Stopped, j.pgid
	s.mu.Unlock()

	if pgid != 0 {
		if err := s.ctrl.SetForeground(pgid); err != nil {
			s.log.Debug("terminal handover failed", slog.Int("job", int(id)), slog.Any("err", err))
		}
		defer func() { _ = s.ctrl.SetForeground(0) }()
	}
	defer func() {
		s.mu.Lock()
		if s.fg == id {
			s.fg = 0
		}
		s.mu.Unlock()
	}()
	if stopped {
		if err := s.Resume(id); err != nil {
			return Stopped, err
		}
	}
	st, err := s.await(ctx, j, settled)
	if err == nil {
		if st == Stopped {
			s.mu.Lock()
			j.background = true
			s.mu.Unlock()
		}
		return st, nil
	}
	return s.escalate(j, err)
}

// escalate interrupts j and waits for it, terminating and finally killing
// it when it does not exit within the grace period.
func (s *Scheduler) escalate(j *job, cause error) (State, error) {
	for _, sig := range []Signal{Interrupt, Terminate} {
		_ = s.signal(j, sig)
		ctx, cancel := context.WithTimeout(context.Background(), s.grace)
		st, err := s.await(ctx, j, State.Terminal)
		cancel()
		if err == nil {
			return st, cause
		}
	}
	_ = s.signal(j, Kill)
	st, _ := s.await(context.Background(), j, State.Terminal)
	return st, cause
}

// Background resumes a stopped job without giving it the terminal.
func (s *Scheduler) Background(id ID) error {
	s.mu.Lock()
	j, err := s.lookup(id)
	if err == nil {
		j.background = true
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Resume(id)
}

// Stop suspends every task of the job.
func (s *Scheduler) Stop(id ID) error { return s.Signal(id, Stop) }

// Resume continues every task of a stopped job.
func (s *Scheduler) Resume(id ID) error { return s.Signal(id, Continue) }

// Signal delivers a logical signal to the job.
func (s *Scheduler) Signal(id ID, sig Signal) error {
	s.mu.Lock()
	j, err := s.lookup(id)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.signal(j, sig)
}

func (s *Scheduler) signal(j *job, sig Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j.state.Terminal() {
		return fmt.Errorf("%s: %w", j.id, ErrJobDone)
	}
	switch sig {
	case Stop:
		if j.state == Stopped {
			return nil
		}
	case Continue:
		if j.state == Running {
			return nil
		}
	}
	var err error
	if j.hasProcs() {
		err = s.ctrl.Signal(j.group(), sig)
		if err == nil && j.state == Stopped && sig != Continue {
			// A stopped process only acts on the signal once continued.
			err = s.ctrl.Signal(j.group(), Continue)
		}
	}
	if err != nil {
		return fmt.Errorf("%s: %w", j.id, err)
	}
	switch sig {
	case Stop:
		j.gate.set(true)
		s.mark(j, Running, Stopped)
	case Continue:
		j.gate.set(false)
		s.mark(j, Stopped, Running)
	default:
		j.cancel(&SignalError{Signal: sig})
	}
	s.refresh(j)
	return nil
}

// mark moves live tasks in state from to state to.
func (s *Scheduler) mark(j *job, from, to State) {
	for _, t := range j.tasks {
		if t.state == from {
			t.state = to
		}
	}
}

// Wait blocks until the job terminates, removes it from the table and
// returns its status and the first task error.
func (s *Scheduler) Wait(ctx context.Context, id ID) (int, error) {
	s.mu.Lock()
	j, err := s.lookup(id)
	s.mu.Unlock()
	if err != nil {
		return 127, err
	}
	if _, err := s.await(ctx, j, State.Terminal); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.table[id] == j {
		delete(s.table, id)
	}
	return j.status(), j.err()
}

// WaitAll waits for every job in the table and returns the status of the
// last one.
func (s *Scheduler) WaitAll(ctx context.Context) (int, error) {
	status := 0
	for _, sum := range s.List() {
		st, err := s.Wait(ctx, sum.ID)
		if errors.Is(err, ErrNoSuchJob) {
			continue
		}
		if ctx.Err() != nil {
			return st, ctx.Err()
		}
		status = st
	}
	return status, nil
}

// List returns the jobs in the table ordered by ID.
func (s *Scheduler) List() []Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summaries(func(*job) bool { return true })
}

func (s *Scheduler) summaries(keep func(*job) bool) []Summary {
	ids := make([]ID, 0, len(s.table))
	var current ID
	for id := range s.table {
		ids = append(ids, id)
		current = max(current, id)
	}
	slices.Sort(ids)
	var out []Summary
	for _, id := range ids {
		j := s.table[id]
		if !keep(j) {
			continue
		}
		sum := Summary{
			ID:      id,
			PGID:    j.pgid,
			PIDs:    j.group().PIDs,
			State:   j.state,
			Command: j.command,
			Started: j.started,
			Current: id == current,
		}
		if j.state.Terminal() {
			sum.Status = j.status()
		}
		out = append(out, sum)
	}
	return out
}

// Finished removes background jobs that terminated without being waited
// for and returns them, for done-job notifications.
func (s *Scheduler) Finished() []Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	done := s.summaries(func(j *job) bool { return j.background && j.state.Terminal() })
	for _, sum := range done {
		delete(s.table, sum.ID)
	}
	return done
}

// Get returns the summary of one job.
func (s *Scheduler) Get(id ID) (Summary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sum := range s.summaries(func(j *job) bool { return j.id == id }) {
		return sum, true
	}
	return Summary{}, false
}

// Resolve parses a job specification: %N, N, %+, %%, %- or %prefix.
func (s *Scheduler) Resolve(spec string) (ID, error) {
	list := s.List()
	switch spec {
	case "", "%", "%%", "%+":
		if len(list) == 0 {
			return 0, fmt.Errorf("current: %w", ErrNoSuchJob)
		}
		return list[len(list)-1].ID, nil
	case "%-":
		if len(list) < 2 {
			return 0, fmt.Errorf("previous: %w", ErrNoSuchJob)
		}
		return list[len(list)-2].ID, nil
	}
	rest := strings.TrimPrefix(spec, "%")
	if n, err := strconv.Atoi(rest); err == nil {
		for _, sum := range list {
			if sum.ID == ID(n) {
				return sum.ID, nil
			}
		}
		return 0, fmt.Errorf("%s: %w", spec, ErrNoSuchJob)
	}
	var found []ID
	for _, sum := range list {
		if strings.HasPrefix(sum.Command, rest) {
			found = append(found, sum.ID)
		}
	}
	switch len(found) {
	case 0:
		return 0, fmt.Errorf("%s: %w", spec, ErrNoSuchJob)
	case 1:
		return found[0], nil
	}
	return 0, fmt.Errorf("%s: ambiguous job spec", spec)
}

// Disown removes the job from the table. Its processes keep running and
// are still reaped.
func (s *Scheduler) Disown(id ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.lookup(id); err != nil {
		return err
	}
	delete(s.table, id)
	if s.fg == id {
		s.fg = 0
	}
	return nil
}

// InterruptForeground interrupts the foreground job, if any. Background
// jobs are not affected.
func (s *Scheduler) InterruptForeground() bool {
	s.mu.Lock()
	id := s.fg
	s.mu.Unlock()
	if id == 0 {
		return false
	}
	return s.Signal(id, Interrupt) == nil
}

// Current returns the job currently in the foreground.
func (s *Scheduler) Current() (ID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fg, s.fg != 0
}

// Shutdown terminates every job in the table and waits for all tasks,
// including those of disowned jobs, to be reaped. Tasks still alive after
// ctx is done are killed.
func (s *Scheduler) Shutdown(ctx context.Context) {
	s.mu.Lock()
	s.closed = true
	live := make([]*job, 0, len(s.table))
	for _, j := range s.table {
		if !j.state.Terminal() {
			live = append(live, j)
		}
	}
	s.mu.Unlock()
	for _, j := range live {
		_ = s.signal(j, Terminate)
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return
	case <-ctx.Done():
	}
	for _, j := range live {
		_ = s.signal(j, Kill)
	}
	select {
	case <-done:
	case <-time.After(s.grace):
		s.log.Debug("shutdown left builtin tasks running")
	}
}
