package jobs

import (
	"os"
	"os/exec"
)

// EventKind classifies a process state change.
type EventKind uint8

const (
	Exited EventKind = iota
	Signaled
	StoppedEvent
	Continued
)

// Event is a process state change reported by Controller.Wait.
type Event struct {
	Kind EventKind
	// Status is the exit status, or 128+signal number for Signaled.
	Status int
}

func (e Event) terminal() bool { return e.Kind == Exited || e.Kind == Signaled }

// Group identifies the OS side of a job: its process group and the
// processes in it.
type Group struct {
	PGID int
	PIDs []int
}

// Controller is the platform job-control backend.
type Controller interface {
	// Prepare configures cmd before it starts. pgid is zero for the first
	// process of a job, which then leads the group.
	Prepare(cmd *exec.Cmd, pgid int)
	// Started registers a started process. It returns the job's group id.
	Started(cmd *exec.Cmd, pgid int) (int, error)
	// Signal delivers a logical signal to every process of the group.
	Signal(g Group, sig Signal) error
	// Wait blocks until the next state change of p. It must retry on
	// interruption and eventually report a terminal event.
	Wait(p *os.Process) (Event, error)
	// SetForeground hands the terminal to pgid; zero returns it to the shell.
	SetForeground(pgid int) error
	// Release frees any resources held for the group.
	Release(g Group)
}
