//go:build windows

package jobs

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

// windowsController groups the processes of a job in a job object. Ctrl+C
// is delivered as a console control event to the process group; stop and
// continue suspend and resume every thread of the group's processes.
type windowsController struct {
	mu   sync.Mutex
	objs map[int]windows.Handle
}

var (
	kernel32          = windows.NewLazySystemDLL("kernel32.dll")
	procSuspendThread = kernel32.NewProc("SuspendThread")
)

// NewController returns the controller for this platform.
func NewController() Controller {
	return &windowsController{objs: map[int]windows.Handle{}}
}

func (c *windowsController) Prepare(cmd *exec.Cmd, pgid int) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	if pgid == 0 {
		cmd.SysProcAttr.CreationFlags |= windows.CREATE_NEW_PROCESS_GROUP
	}
}

func (c *windowsController) Started(cmd *exec.Cmd, pgid int) (int, error) {
	pid := cmd.Process.Pid
	if pgid == 0 {
		pgid = pid
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	obj, ok := c.objs[pgid]
	if !ok {
		var err error
		obj, err = windows.CreateJobObject(nil, nil)
		if err != nil {
			return pgid, err
		}
		c.objs[pgid] = obj
	}
	h, err := windows.OpenProcess(windows.PROCESS_SET_QUOTA|windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		return pgid, err
	}
	defer windows.CloseHandle(h)
	return pgid, windows.AssignProcessToJobObject(obj, h)
}

func (c *windowsController) Signal(g Group, sig Signal) error {
	switch sig {
	case Interrupt:
		return windows.GenerateConsoleCtrlEvent(windows.CTRL_BREAK_EVENT, uint32(g.PGID))
	case Terminate, Kill, Hangup, Quit:
		c.mu.Lock()
		obj, ok := c.objs[g.PGID]
		c.mu.Unlock()
		if !ok {
			return nil
		}
		return windows.TerminateJobObject(obj, 1)
	case Stop:
		return eachThread(g.PIDs, suspendThread)
	case Continue:
		return eachThread(g.PIDs, func(h windows.Handle) error {
			_, err := windows.ResumeThread(h)
			return err
		})
	}
	return errors.New("unsupported signal " + sig.String())
}

func suspendThread(h windows.Handle) error {
	r, _, err := procSuspendThread.Call(uintptr(h))
	if int32(r) == -1 {
		return err
	}
	return nil
}

// eachThread applies fn to every thread owned by one of pids.
func eachThread(pids []int, fn func(windows.Handle) error) error {
	owned := make(map[uint32]bool, len(pids))
	for _, pid := range pids {
		owned[uint32(pid)] = true
	}
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPTHREAD, 0)
	if err != nil {
		return err
	}
	defer windows.CloseHandle(snap)
	var te windows.ThreadEntry32
	te.Size = uint32(unsafe.Sizeof(te))
	var errs []error
	for err = windows.Thread32First(snap, &te); err == nil; err = windows.Thread32Next(snap, &te) {
		if !owned[te.OwnerProcessID] {
			continue
		}
		h, err := windows.OpenThread(windows.THREAD_SUSPEND_RESUME, false, te.ThreadID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		errs = append(errs, fn(h))
		windows.CloseHandle(h)
	}
	return errors.Join(errs...)
}

func (c *windowsController) Wait(p *os.Process) (Event, error) {
	st, err := p.Wait()
	if err != nil {
		return Event{}, err
	}
	return Event{Kind: Exited, Status: st.ExitCode()}, nil
}

func (c *windowsController) SetForeground(int) error { return nil }

func (c *windowsController) Release(g Group) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if obj, ok := c.objs[g.PGID]; ok {
		windows.CloseHandle(obj)
		delete(c.objs, g.PGID)
	}
}

// SignalProcess ends a process outside the job table. Windows has no
// signals to deliver to an arbitrary process, so only the terminating
// names are accepted.
func SignalProcess(pid int, name string) error {
	sig, err := ParseSignal(name)
	if err != nil {
		return err
	}
	switch sig {
	case Terminate, Kill, Hangup, Quit:
		p, err := os.FindProcess(pid)
		if err != nil {
			return err
		}
		return p.Kill()
	}
	return errors.New("unsupported signal " + sig.String())
}
