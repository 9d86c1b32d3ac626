//go:build !unix && !windows

package jobs

import (
	"errors"
	"os"
	"os/exec"
)

// basicController supports termination only; there are no process groups
// or stop signals on these platforms.
type basicController struct{}

// NewController returns the controller for this platform.
func NewController() Controller { return basicController{} }

func (basicController) Prepare(*exec.Cmd, int) {}

func (basicController) Started(cmd *exec.Cmd, pgid int) (int, error) {
	if pgid == 0 {
		return cmd.Process.Pid, nil
	}
	return pgid, nil
}

func (basicController) Signal(g Group, sig Signal) error {
	if !terminates(sig) {
		return errors.New("unsupported signal " + sig.String())
	}
	var errs []error
	for _, pid := range g.PIDs {
		if p, err := os.FindProcess(pid); err == nil {
			errs = append(errs, p.Kill())
		}
	}
	return errors.Join(errs...)
}

func (basicController) Wait(p *os.Process) (Event, error) {
	st, err := p.Wait()
	if err != nil {
		return Event{}, err
	}
	return Event{Kind: Exited, Status: st.ExitCode()}, nil
}

func (basicController) SetForeground(int) error { return nil }

func (basicController) Release(Group) {}

func terminates(sig Signal) bool {
	switch sig {
	case Interrupt, Terminate, Kill, Hangup, Quit:
		return true
	}
	return false
}

// SignalProcess ends a process outside the job table.
func SignalProcess(pid int, name string) error {
	sig, err := ParseSignal(name)
	if err != nil {
		return err
	}
	if !terminates(sig) {
		return errors.New("unsupported signal " + sig.String())
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}
