//go:build unix

package jobs

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// unixController uses process groups, group signals and the terminal's
// foreground process group.
type unixController struct {
	tty   int
	shell int
}

// NewController returns the controller for this platform. Terminal
// handover is enabled when stdin is a terminal.
func NewController() Controller {
	c := &unixController{tty: -1, shell: unix.Getpgrp()}
	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		c.tty = fd
	}
	return c
}

func (c *unixController) Prepare(cmd *exec.Cmd, pgid int) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
	cmd.SysProcAttr.Pgid = pgid
}

func (c *unixController) Started(cmd *exec.Cmd, pgid int) (int, error) {
	if pgid != 0 {
		return pgid, nil
	}
	return cmd.Process.Pid, nil
}

var unixSignals = map[Signal]unix.Signal{
	Interrupt: unix.SIGINT,
	Terminate: unix.SIGTERM,
	Stop:      unix.SIGSTOP,
	Continue:  unix.SIGCONT,
	Kill:      unix.SIGKILL,
	Hangup:    unix.SIGHUP,
	Quit:      unix.SIGQUIT,
}

func (c *unixController) Signal(g Group, sig Signal) error {
	s, ok := unixSignals[sig]
	if !ok {
		return errors.New("unsupported signal " + sig.String())
	}
	if g.PGID <= 0 {
		return nil
	}
	err := unix.Kill(-g.PGID, s)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

func (c *unixController) Wait(p *os.Process) (Event, error) {
	for {
		var ws unix.WaitStatus
		_, err := unix.Wait4(p.Pid, &ws, unix.WUNTRACED|unix.WCONTINUED, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return Event{}, err
		}
		switch {
		case ws.Exited():
			return Event{Kind: Exited, Status: ws.ExitStatus()}, nil
		case ws.Signaled():
			return Event{Kind: Signaled, Status: 128 + int(ws.Signal())}, nil
		case ws.Stopped():
			return Event{Kind: StoppedEvent}, nil
		case ws.Continued():
			return Event{Kind: Continued}, nil
		}
	}
}

func (c *unixController) SetForeground(pgid int) error {
	if c.tty < 0 {
		return nil
	}
	if pgid == 0 {
		pgid = c.shell
	}
	// The shell is in the background while it does this; ignore SIGTTOU.
	signal.Ignore(syscall.SIGTTOU)
	defer signal.Reset(syscall.SIGTTOU)
	return unix.IoctlSetPointerInt(c.tty, unix.TIOCSPGRP, pgid)
}

func (c *unixController) Release(Group) {}

// SignalProcess sends the signal called name, a name with or without the
// SIG prefix or a number, to a process outside the job table.
func SignalProcess(pid int, name string) error {
	n := strings.ToUpper(strings.TrimPrefix(name, "-"))
	sig := unix.SignalNum("SIG" + strings.TrimPrefix(n, "SIG"))
	if sig == 0 {
		num, err := strconv.Atoi(n)
		if err != nil || num <= 0 {
			return fmt.Errorf("%s: invalid signal specification", name)
		}
		sig = syscall.Signal(num)
	}
	return unix.Kill(pid, sig)
}
