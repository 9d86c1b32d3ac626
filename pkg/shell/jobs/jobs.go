// Package jobs tracks pipelines launched by the shell as jobs and
// implements job control on top of a platform Controller.
//
// A job is made of tasks: OS processes, which share one process group, and
// in-process builtins, which run as goroutines and stop cooperatively
// through a Gate. The Scheduler owns the job table; every state change goes
// through it under one lock.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ID identifies a job in the table. IDs start at 1.
type ID int

func (id ID) String() string { return "%" + strconv.Itoa(int(id)) }

// State is the state of a job or task.
type State uint8

const (
	Running State = iota
	Stopped
	Completed
	Failed
	Killed
)

var stateNames = [...]string{"Running", "Stopped", "Done", "Failed", "Killed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool { return s >= Completed }

// allowed reports whether a job may move from one state to another.
func allowed(from, to State) bool {
	switch from {
	case Running:
		return to != Running
	case Stopped:
		return to == Running || to == Killed
	}
	return false
}

// Signal is a logical job-control signal. Controllers map it to the
// platform mechanism.
type Signal uint8

const (
	Interrupt Signal = iota + 1
	Terminate
	Stop
	Continue
	Kill
	Hangup
	Quit
)

var signalNames = map[Signal]string{
	Interrupt: "INT",
	Terminate: "TERM",
	Stop:      "STOP",
	Continue:  "CONT",
	Kill:      "KILL",
	Hangup:    "HUP",
	Quit:      "QUIT",
}

// signalNumbers are the conventional numbers accepted by ParseSignal.
var signalNumbers = map[string]Signal{
	"1":  Hangup,
	"2":  Interrupt,
	"3":  Quit,
	"9":  Kill,
	"15": Terminate,
}

// signalStatus is the conventional exit status of a task ended by sig.
var signalStatus = map[Signal]int{
	Hangup:    129,
	Interrupt: 130,
	Quit:      131,
	Kill:      137,
	Terminate: 143,
}

func (s Signal) String() string {
	if n, ok := signalNames[s]; ok {
		return n
	}
	return "Signal(" + strconv.Itoa(int(s)) + ")"
}

// ParseSignal accepts names with or without the SIG prefix, in any case,
// the numbers 1, 2, 3, 9 and 15, and TSTP as an alias for Stop.
func ParseSignal(name string) (Signal, error) {
	n := strings.TrimPrefix(strings.ToUpper(strings.TrimPrefix(name, "-")), "SIG")
	if n == "TSTP" {
		return Stop, nil
	}
	if s, ok := signalNumbers[n]; ok {
		return s, nil
	}
	for s, sn := range signalNames {
		if sn == n {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%s: invalid signal specification", name)
}

// ErrNoSuchJob is returned for IDs not in the table.
var ErrNoSuchJob = errors.New("no such job")

// ErrJobDone is returned for job control on a finished job.
var ErrJobDone = errors.New("job has terminated")

// BuiltinFunc is the body of an in-process task. It must call Pass on the
// gate, directly or through gated streams, so that it can be stopped and
// interrupted.
type BuiltinFunc func(ctx context.Context, g *Gate) (int, error)

// TaskSpec describes one task. Exactly one of Cmd and Run is set.
type TaskSpec struct {
	Name string
	// Cmd is an unstarted process. Its standard streams must be nil or
	// *os.File values: the scheduler reaps the process itself.
	Cmd *exec.Cmd
	Run BuiltinFunc
	// Started runs after the task has started, for example to close the
	// parent's copies of pipe descriptors.
	Started func()
	// Done runs once the task has finished.
	Done func()
}

// Spec describes a job to launch.
type Spec struct {
	Command string
	Tasks   []TaskSpec
	// Background jobs run builtin tasks on the worker pool.
	Background bool
	// Combine computes the job status from the task statuses. The
	// default is the status of the last task.
	Combine func(statuses []int) int
}

// LastStatus is the default status combiner.
func LastStatus(statuses []int) int {
	if len(statuses) == 0 {
		return 0
	}
	return statuses[len(statuses)-1]
}

// FirstFailure returns the first non-zero status, for pipefail.
func FirstFailure(statuses []int) int {
	for _, s := range statuses {
		if s != 0 {
			return s
		}
	}
	return 0
}

// LaunchError reports a job that could not be started. The job never
// entered the table and its state is Failed.
type LaunchError struct {
	Command string
	Task    string
	Err     error
}

func (e *LaunchError) Error() string {
	return e.Task + ": " + e.Err.Error()
}

func (e *LaunchError) Unwrap() error { return e.Err }

// State is always Failed.
func (e *LaunchError) State() State { return Failed }

// Summary is a snapshot of a job for listing.
type Summary struct {
	ID      ID
	PGID    int
	PIDs    []int
	State   State
	Status  int
	Command string
	Started time.Time
	Current bool
}

// String renders s the way `jobs` prints it.
func (s Summary) String() string {
	mark := " "
	if s.Current {
		mark = "+"
	}
	state := s.State.String()
	if s.State == Completed && s.Status != 0 {
		state = "Exit " + strconv.Itoa(s.Status)
	}
	return fmt.Sprintf("[%d]%s  %-10s %s", s.ID, mark, state, s.Command)
}

// Long renders s with its process group, as `jobs -l` does.
func (s Summary) Long() string {
	mark := " "
	if s.Current {
		mark = "+"
	}
	return fmt.Sprintf("[%d]%s %d %-10s %s", s.ID, mark, s.PGID, s.State, s.Command)
}

// Transition is reported to the scheduler hook on every job state change.
type Transition struct {
	Job      ID
	From, To State
	Command  string
}
