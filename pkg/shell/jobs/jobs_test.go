package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// spin runs until stopped or cancelled through its gate.
func spin(_ context.Context, g *Gate) (int, error) {
	for {
		if err := g.Pass(); err != nil {
			return 1, err
		}
		time.Sleep(time.Millisecond)
	}
}

func exitWith(n int) BuiltinFunc {
	return func(context.Context, *Gate) (int, error) { return n, nil }
}

func builtinJob(cmd string, fns ...BuiltinFunc) Spec {
	spec := Spec{Command: cmd}
	for _, fn := range fns {
		spec.Tasks = append(spec.Tasks, TaskSpec{Name: cmd, Run: fn})
	}
	return spec
}

type recorder struct {
	mu  sync.Mutex
	got []Transition
}

func (r *recorder) hook(t Transition) {
	r.mu.Lock()
	r.got = append(r.got, t)
	r.mu.Unlock()
}

func (r *recorder) states(id ID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, t := range r.got {
		if t.Job == id {
			out = append(out, t.From.String()+">"+t.To.String())
		}
	}
	return out
}

// commands returns the transitions of the jobs launched as cmd. Job IDs are
// reused once a job is waited for, so tests that launch several jobs in
// turn key on the command instead.
func (r *recorder) commands(cmd string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, t := range r.got {
		if t.Command == cmd {
			out = append(out, t.From.String()+">"+t.To.String())
		}
	}
	return out
}

func newScheduler(t *testing.T, opts ...Option) *Scheduler {
	t.Helper()
	s := New(append([]Option{WithGrace(50 * time.Millisecond)}, opts...)...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})
	return s
}

func stateOf(s *Scheduler, id ID) State {
	sum, _ := s.Get(id)
	return sum.State
}

func TestLaunchAndWait(t *testing.T) {
	s := newScheduler(t)
	id, err := s.Launch(builtinJob("three", exitWith(3)))
	require.NoError(t, err)
	assert.Equal(t, ID(1), id)

	status, err := s.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 3, status)
	assert.Empty(t, s.List(), "waited jobs leave the table")

	_, err = s.Wait(context.Background(), id)
	assert.ErrorIs(t, err, ErrNoSuchJob)
}

func TestLaunchWithoutTasks(t *testing.T) {
	_, err := newScheduler(t).Launch(Spec{Command: "nothing"})
	assert.Error(t, err)
}

func TestStopResumeKill(t *testing.T) {
	rec := &recorder{}
	s := newScheduler(t, WithHook(rec.hook))
	id, err := s.Launch(builtinJob("spin", spin, spin))
	require.NoError(t, err)

	require.NoError(t, s.Stop(id))
	assert.Equal(t, Stopped, stateOf(s, id))
	require.NoError(t, s.Stop(id), "stopping a stopped job is a no-op")

	require.NoError(t, s.Resume(id))
	assert.Equal(t, Running, stateOf(s, id))

	require.NoError(t, s.Signal(id, Terminate))
	status, err := s.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 143, status)
	assert.Equal(t, []string{"Running>Stopped", "Stopped>Running", "Running>Killed"}, rec.states(id))
}

func TestStoppedJobCanBeKilled(t *testing.T) {
	rec := &recorder{}
	s := newScheduler(t, WithHook(rec.hook))
	id, err := s.Launch(builtinJob("spin", spin))
	require.NoError(t, err)
	require.NoError(t, s.Stop(id))
	require.NoError(t, s.Signal(id, Interrupt))

	status, err := s.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 130, status)
	assert.Equal(t, []string{"Running>Stopped", "Stopped>Killed"}, rec.states(id))
}

func TestTerminalStateIsFinal(t *testing.T) {
	rec := &recorder{}
	s := newScheduler(t, WithHook(rec.hook))
	id, err := s.Launch(builtinJob("spin", spin))
	require.NoError(t, err)
	require.NoError(t, s.Signal(id, Terminate))
	require.Eventually(t, func() bool { return stateOf(s, id) == Killed }, waitFor, tick)

	assert.ErrorIs(t, s.Signal(id, Interrupt), ErrJobDone)
	assert.ErrorIs(t, s.Resume(id), ErrJobDone)
	assert.Equal(t, []string{"Running>Killed"}, rec.states(id))
}

func TestStoppedTaskFinishesAfterResume(t *testing.T) {
	release := make(chan struct{})
	s := newScheduler(t)
	id, err := s.Launch(builtinJob("quiet", func(context.Context, *Gate) (int, error) {
		<-release
		return 0, nil
	}))
	require.NoError(t, err)
	require.NoError(t, s.Stop(id))
	close(release)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, Stopped, stateOf(s, id))

	require.NoError(t, s.Resume(id))
	status, err := s.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.Zero(t, status)
}

func TestStatusCombination(t *testing.T) {
	s := newScheduler(t)
	id, err := s.Launch(builtinJob("p", exitWith(1), exitWith(0)))
	require.NoError(t, err)
	status, _ := s.Wait(context.Background(), id)
	assert.Equal(t, 0, status)

	spec := builtinJob("p", exitWith(0), exitWith(4), exitWith(0))
	spec.Combine = FirstFailure
	id, err = s.Launch(spec)
	require.NoError(t, err)
	status, _ = s.Wait(context.Background(), id)
	assert.Equal(t, 4, status)
}

func TestBuiltinErrorAndPanic(t *testing.T) {
	rec := &recorder{}
	s := newScheduler(t, WithHook(rec.hook))
	boom := errors.New("boom")
	id, err := s.Launch(builtinJob("err", func(context.Context, *Gate) (int, error) { return 2, boom }))
	require.NoError(t, err)
	status, err := s.Wait(context.Background(), id)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, status)

	id, err = s.Launch(builtinJob("panic", func(context.Context, *Gate) (int, error) { panic("bad") }))
	require.NoError(t, err)
	status, err = s.Wait(context.Background(), id)
	assert.ErrorContains(t, err, "bad")
	assert.Equal(t, 1, status)
	assert.Equal(t, []string{"Running>Failed"}, rec.commands("err"))
	assert.Equal(t, []string{"Running>Failed"}, rec.commands("panic"))
}

func TestForegroundCancelInterrupts(t *testing.T) {
	s := newScheduler(t)
	id, err := s.Launch(builtinJob("spin", spin))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	st, err := s.Foreground(ctx, id)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, Killed, st)
	status, _ := s.Wait(context.Background(), id)
	assert.Equal(t, 130, status)
}

func TestForegroundResumesStoppedJob(t *testing.T) {
	s := newScheduler(t)
	release := make(chan struct{})
	id, err := s.Launch(builtinJob("wait", func(_ context.Context, g *Gate) (int, error) {
		<-release
		return 5, g.Pass()
	}))
	require.NoError(t, err)
	require.NoError(t, s.Stop(id))
	close(release)

	st, err := s.Foreground(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, Completed, st)
	_, ok := s.Current()
	assert.False(t, ok)
}

func TestInterruptForegroundLeavesBackground(t *testing.T) {
	s := newScheduler(t)
	bg, err := s.Launch(builtinJob("bg", spin))
	require.NoError(t, err)
	fg, err := s.Launch(builtinJob("fg", spin))
	require.NoError(t, err)

	assert.False(t, s.InterruptForeground(), "nothing in the foreground yet")
	done := make(chan State, 1)
	go func() {
		st, _ := s.Foreground(context.Background(), fg)
		done <- st
	}()
	require.Eventually(t, func() bool {
		cur, ok := s.Current()
		return ok && cur == fg
	}, waitFor, tick)
	assert.True(t, s.InterruptForeground())
	select {
	case st := <-done:
		assert.Equal(t, Killed, st)
	case <-time.After(waitFor):
		t.Fatal("foreground job was not interrupted")
	}
	assert.Equal(t, Running, stateOf(s, bg))
}

func TestDisownRemovesJob(t *testing.T) {
	s := newScheduler(t)
	release := make(chan struct{})
	var finished atomic.Bool
	id, err := s.Launch(Spec{Command: "d", Tasks: []TaskSpec{{
		Run:  func(context.Context, *Gate) (int, error) { <-release; return 0, nil },
		Done: func() { finished.Store(true) },
	}}})
	require.NoError(t, err)
	require.NoError(t, s.Disown(id))
	assert.Empty(t, s.List())
	assert.ErrorIs(t, s.Disown(id), ErrNoSuchJob)

	close(release)
	assert.Eventually(t, finished.Load, waitFor, tick, "disowned tasks still run to completion")
}

func TestResolve(t *testing.T) {
	s := newScheduler(t)
	_, err := s.Resolve("%+")
	assert.ErrorIs(t, err, ErrNoSuchJob)

	first, err := s.Launch(builtinJob("sleep 5", spin))
	require.NoError(t, err)
	second, err := s.Launch(builtinJob("yes", spin))
	require.NoError(t, err)

	for spec, want := range map[string]ID{"%+": second, "%%": second, "": second, "%-": first, "%1": first, "2": second, "%sl": first, "%y": second} {
		got, err := s.Resolve(spec)
		require.NoError(t, err, spec)
		assert.Equal(t, want, got, spec)
	}
	for _, spec := range []string{"%9", "%zz"} {
		_, err := s.Resolve(spec)
		assert.Error(t, err, spec)
	}
}

func TestFinishedReportsBackgroundJobs(t *testing.T) {
	s := newScheduler(t)
	spec := builtinJob("bg", exitWith(0))
	spec.Background = true
	id, err := s.Launch(spec)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return stateOf(s, id) == Completed }, waitFor, tick)

	done := s.Finished()
	require.Len(t, done, 1)
	assert.Equal(t, id, done[0].ID)
	assert.Empty(t, s.List())
	assert.Empty(t, s.Finished())
}

func TestWorkerPoolBoundsBackgroundBuiltins(t *testing.T) {
	s := newScheduler(t, WithWorkers(1))
	var running, peak atomic.Int32
	work := func(context.Context, *Gate) (int, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return 0, nil
	}
	for range 3 {
		spec := builtinJob("w", work)
		spec.Background = true
		_, err := s.Launch(spec)
		require.NoError(t, err)
	}
	status, err := s.WaitAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, status)
	assert.Equal(t, int32(1), peak.Load())
}

func TestWaitAllHonoursContext(t *testing.T) {
	s := newScheduler(t)
	_, err := s.Launch(builtinJob("spin", spin))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = s.WaitAll(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestShutdownTerminatesJobs(t *testing.T) {
	s := New(WithGrace(50 * time.Millisecond))
	id, err := s.Launch(builtinJob("spin", spin))
	require.NoError(t, err)
	s.Shutdown(context.Background())
	assert.Equal(t, Killed, stateOf(s, id))
	_, err = s.Launch(builtinJob("late", exitWith(0)))
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestKillSignalIsNotTerminate(t *testing.T) {
	rec := &recorder{}
	s := newScheduler(t, WithHook(rec.hook))
	id, err := s.Launch(builtinJob("spin", spin))
	require.NoError(t, err)
	require.NoError(t, s.Signal(id, Kill))
	status, err := s.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 137, status)
	assert.Equal(t, "killed", (&SignalError{Signal: Kill}).Error())
	assert.Equal(t, []string{"Running>Killed"}, rec.commands("spin"))
}

func TestSummaryFormatting(t *testing.T) {
	sum := Summary{ID: 2, PGID: 41, State: Running, Command: "sleep 5", Current: true}
	assert.Equal(t, "[2]+  Running    sleep 5", sum.String())
	assert.Equal(t, "[2]+ 41 Running    sleep 5", sum.Long())
	sum = Summary{ID: 1, State: Completed, Status: 3, Command: "false"}
	assert.Equal(t, "[1]   Exit 3     false", sum.String())
}

func TestParseSignal(t *testing.T) {
	for in, want := range map[string]Signal{
		"INT": Interrupt, "-int": Interrupt, "SIGTERM": Terminate, "15": Terminate,
		"KILL": Kill, "-9": Kill, "SIGKILL": Kill, "HUP": Hangup, "1": Hangup,
		"QUIT": Quit, "3": Quit,
		"-STOP": Stop, "TSTP": Stop, "cont": Continue, "2": Interrupt,
	} {
		got, err := ParseSignal(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseSignal("BOGUS")
	assert.Error(t, err)
}

func TestGate(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	g := NewGate(ctx)
	require.NoError(t, g.Pass())

	g.set(true)
	assert.True(t, g.Stopped())
	passed := make(chan error, 1)
	go func() { passed <- g.Pass() }()
	select {
	case <-passed:
		t.Fatal("Pass returned while stopped")
	case <-time.After(20 * time.Millisecond):
	}
	cancel(&SignalError{Signal: Interrupt})
	err := <-passed
	var se *SignalError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 130, se.Status())
}
