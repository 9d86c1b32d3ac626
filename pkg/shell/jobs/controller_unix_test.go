//go:build unix

package jobs

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/rcarmo/go-nxsh/pkg/shell/shellerr"
)

func lookPath(t *testing.T, name string) string {
	t.Helper()
	p, err := exec.LookPath(name)
	if err != nil {
		t.Skipf("%s not available", name)
	}
	return p
}

func procJob(cmd string, cmds ...*exec.Cmd) Spec {
	spec := Spec{Command: cmd}
	for _, c := range cmds {
		spec.Tasks = append(spec.Tasks, TaskSpec{Name: filepath.Base(c.Path), Cmd: c})
	}
	return spec
}

func TestProcessExitStatus(t *testing.T) {
	sh := lookPath(t, "sh")
	s := newScheduler(t, WithController(NewController()))
	id, err := s.Launch(procJob("exit 3", exec.Command(sh, "-c", "exit 3")))
	require.NoError(t, err)
	sum, ok := s.Get(id)
	require.True(t, ok)
	assert.NotZero(t, sum.PGID)
	assert.Equal(t, []int{sum.PGID}, sum.PIDs, "the first process leads the group")

	status, err := s.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 3, status)
}

func TestProcessStopResumeTerminate(t *testing.T) {
	sleep := lookPath(t, "sleep")
	rec := &recorder{}
	s := newScheduler(t, WithController(NewController()), WithHook(rec.hook))
	id, err := s.Launch(procJob("sleep 30", exec.Command(sleep, "30")))
	require.NoError(t, err)

	require.NoError(t, s.Stop(id))
	assert.Equal(t, Stopped, stateOf(s, id))
	require.NoError(t, s.Resume(id))
	// Wait4 reports the stop and the continue asynchronously.
	require.Eventually(t, func() bool { return stateOf(s, id) == Running }, waitFor, tick)
	require.NoError(t, s.Signal(id, Terminate))

	status, err := s.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 143, status)
	states := rec.states(id)
	require.NotEmpty(t, states)
	assert.Contains(t, states, "Running>Stopped")
	assert.Regexp(t, ">Killed$", states[len(states)-1])
}

func TestProcessGroupSharedAcrossPipeline(t *testing.T) {
	sleep := lookPath(t, "sleep")
	s := newScheduler(t, WithController(NewController()))
	id, err := s.Launch(procJob("sleep 30 | sleep 30", exec.Command(sleep, "30"), exec.Command(sleep, "30")))
	require.NoError(t, err)
	sum, _ := s.Get(id)
	require.Len(t, sum.PIDs, 2)
	for _, pid := range sum.PIDs {
		pgid, err := unix.Getpgid(pid)
		require.NoError(t, err)
		assert.Equal(t, sum.PGID, pgid)
	}
	require.NoError(t, s.Signal(id, Interrupt))
	status, _ := s.Wait(context.Background(), id)
	assert.Equal(t, 130, status)
}

func TestLaunchMissingBinary(t *testing.T) {
	s := newScheduler(t, WithController(NewController()))
	_, err := s.Launch(procJob("nope", exec.Command(filepath.Join(t.TempDir(), "nope"))))
	var le *LaunchError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, Failed, le.State())
	var ioe *shellerr.IOError
	assert.ErrorAs(t, err, &ioe)
	assert.Empty(t, s.List(), "a job that failed to launch never enters the table")
}

func TestLaunchNotExecutable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o644))
	s := newScheduler(t, WithController(NewController()))
	_, err := s.Launch(procJob("script", exec.Command(path)))
	var se *shellerr.SecurityError
	assert.ErrorAs(t, err, &se)
}

// pidRecorder notes every pid the scheduler starts. The scheduler releases
// the os.Process of a task it tears down, which resets Process.Pid.
type pidRecorder struct {
	Controller
	mu   sync.Mutex
	pids []int
}

func (c *pidRecorder) Started(cmd *exec.Cmd, pgid int) (int, error) {
	c.mu.Lock()
	c.pids = append(c.pids, cmd.Process.Pid)
	c.mu.Unlock()
	return c.Controller.Started(cmd, pgid)
}

func TestLaunchFailureTearsDownStartedTasks(t *testing.T) {
	sleep := lookPath(t, "sleep")
	ctl := &pidRecorder{Controller: NewController()}
	s := newScheduler(t, WithController(ctl))
	_, err := s.Launch(procJob("sleep | nope", exec.Command(sleep, "30"), exec.Command(filepath.Join(t.TempDir(), "nope"))))
	require.Error(t, err)
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	require.Len(t, ctl.pids, 1)
	assert.ErrorIs(t, unix.Kill(ctl.pids[0], 0), unix.ESRCH, "started tasks are killed and reaped")
}

func TestProcessKillIgnoresTrap(t *testing.T) {
	sh := lookPath(t, "sh")
	cmd := exec.Command(sh, "-c", "trap '' TERM; echo ready; while :; do sleep 1; done")
	out, err := cmd.StdoutPipe()
	require.NoError(t, err)
	s := newScheduler(t, WithController(NewController()))
	id, err := s.Launch(procJob("trap", cmd))
	require.NoError(t, err)
	line, err := bufio.NewReader(out).ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "ready\n", line)

	require.NoError(t, s.Signal(id, Terminate))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, Running, stateOf(s, id), "TERM is trapped")

	require.NoError(t, s.Signal(id, Kill))
	status, err := s.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 137, status)
}

func TestSignalProcessOutsideJobTable(t *testing.T) {
	sleep := lookPath(t, "sleep")
	cmd := exec.Command(sleep, "30")
	require.NoError(t, cmd.Start())
	pid, reaped := cmd.Process.Pid, false
	t.Cleanup(func() {
		if !reaped {
			_ = unix.Kill(pid, unix.SIGKILL)
			_, _ = unix.Wait4(pid, nil, 0, nil)
		}
	})

	var ws unix.WaitStatus
	require.NoError(t, SignalProcess(pid, "STOP"))
	_, err := unix.Wait4(pid, &ws, unix.WUNTRACED, nil)
	require.NoError(t, err)
	require.True(t, ws.Stopped())
	assert.Equal(t, unix.SIGSTOP, ws.StopSignal())

	require.NoError(t, SignalProcess(pid, "-CONT"))
	require.NoError(t, SignalProcess(pid, "1"))
	_, err = unix.Wait4(pid, &ws, 0, nil)
	require.NoError(t, err)
	reaped = true
	require.True(t, ws.Signaled())
	assert.Equal(t, unix.SIGHUP, ws.Signal())

	assert.Error(t, SignalProcess(pid, "BOGUS"))
}

func TestMixedProcessAndBuiltinJob(t *testing.T) {
	sh := lookPath(t, "sh")
	s := newScheduler(t, WithController(NewController()))
	spec := procJob("sh | builtin", exec.Command(sh, "-c", "exit 0"))
	spec.Tasks = append(spec.Tasks, TaskSpec{Name: "builtin", Run: func(ctx context.Context, g *Gate) (int, error) {
		select {
		case <-time.After(10 * time.Millisecond):
		case <-ctx.Done():
		}
		return 7, g.Pass()
	}})
	id, err := s.Launch(spec)
	require.NoError(t, err)
	status, err := s.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 7, status)
}
