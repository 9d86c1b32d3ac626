package builtins

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rcarmo/go-nxsh/pkg/core"
	"github.com/rcarmo/go-nxsh/pkg/shell/engine"
	"github.com/rcarmo/go-nxsh/pkg/shell/jobs"
)

// Jobs lists the job table; -l adds process groups.
func Jobs(ec *engine.ExecutionContext) (int, error) {
	long := false
	rest, code := core.ParseBoolFlags(ec.Stdio(), "jobs", ec.Args[1:], map[byte]*bool{'l': &long})
	if code != core.ExitSuccess {
		return code, nil
	}
	sched := ec.Jobs()
	list := sched.List()
	if len(rest) > 0 {
		list = list[:0:0]
		for _, spec := range rest {
			id, err := sched.Resolve(spec)
			if err != nil {
				ec.Errorf("%v", err)
				return core.ExitFailure, nil
			}
			sum, _ := sched.Get(id)
			list = append(list, sum)
		}
	}
	for _, sum := range list {
		line := sum.String()
		if long {
			line = sum.Long()
		}
		if _, err := fmt.Fprintln(ec.Stdout, line); err != nil {
			return core.ExitFailure, err
		}
	}
	return core.ExitSuccess, nil
}

// jobArgs resolves job specifications, defaulting to the current job.
func jobArgs(ec *engine.ExecutionContext, args []string) ([]jobs.ID, bool) {
	if len(args) == 0 {
		args = []string{"%+"}
	}
	ids := make([]jobs.ID, 0, len(args))
	for _, spec := range args {
		id, err := ec.Jobs().Resolve(spec)
		if err != nil {
			ec.Errorf("%v", err)
			return nil, false
		}
		ids = append(ids, id)
	}
	return ids, true
}

// Fg continues a job in the foreground and waits for it.
func Fg(ec *engine.ExecutionContext) (int, error) {
	ids, ok := jobArgs(ec, ec.Args[1:])
	if !ok {
		return core.ExitFailure, nil
	}
	id := ids[0]
	if sum, found := ec.Jobs().Get(id); found {
		fmt.Fprintln(ec.Stdout, sum.Command)
	}
	return ec.Foreground(id)
}

// Bg continues stopped jobs in the background.
func Bg(ec *engine.ExecutionContext) (int, error) {
	ids, ok := jobArgs(ec, ec.Args[1:])
	if !ok {
		return core.ExitFailure, nil
	}
	status := core.ExitSuccess
	for _, id := range ids {
		if err := ec.Jobs().Background(id); err != nil {
			ec.Errorf("%s: %v", id, err)
			status = core.ExitFailure
			continue
		}
		if sum, found := ec.Jobs().Get(id); found {
			fmt.Fprintf(ec.Stdout, "[%d] %s &\n", sum.ID, sum.Command)
		}
	}
	return status, nil
}

// Wait waits for the given jobs, or for every job, and returns the status
// of the last one.
func Wait(ec *engine.ExecutionContext) (int, error) {
	sched := ec.Jobs()
	if len(ec.Args) < 2 {
		status, err := sched.WaitAll(ec.Context)
		if err != nil {
			return core.ExitInterrupted, err
		}
		return status, nil
	}
	status := core.ExitSuccess
	for _, spec := range ec.Args[1:] {
		id, err := resolvePID(ec, spec)
		if err != nil {
			ec.Errorf("%v", err)
			status = core.ExitNotFound
			continue
		}
		status, err = sched.Wait(ec.Context, id)
		switch {
		case errors.Is(err, jobs.ErrNoSuchJob):
			status = core.ExitNotFound
		case err != nil && ec.Context.Err() != nil:
			return core.ExitInterrupted, err
		}
	}
	return status, nil
}

// resolvePID accepts a job specification or the process group of a job,
// as $! reports it.
func resolvePID(ec *engine.ExecutionContext, spec string) (jobs.ID, error) {
	sched := ec.Jobs()
	if strings.HasPrefix(spec, "%") {
		return sched.Resolve(spec)
	}
	n, err := strconv.Atoi(spec)
	if err != nil {
		return 0, fmt.Errorf("%s: not a pid or valid job spec", spec)
	}
	for _, sum := range sched.List() {
		if sum.PGID == n || sum.PGID == 0 && int(sum.ID) == n {
			return sum.ID, nil
		}
	}
	return 0, fmt.Errorf("%s: %w", spec, jobs.ErrNoSuchJob)
}

// Disown removes jobs from the table without stopping them; -a removes
// every job.
func Disown(ec *engine.ExecutionContext) (int, error) {
	sched := ec.Jobs()
	args := ec.Args[1:]
	if len(args) == 1 && args[0] == "-a" {
		for _, sum := range sched.List() {
			_ = sched.Disown(sum.ID)
		}
		return core.ExitSuccess, nil
	}
	ids, ok := jobArgs(ec, args)
	if !ok {
		return core.ExitFailure, nil
	}
	for _, id := range ids {
		if err := sched.Disown(id); err != nil {
			ec.Errorf("%s: %v", id, err)
			return core.ExitFailure, nil
		}
	}
	return core.ExitSuccess, nil
}

// Kill sends a signal, TERM by default, to jobs named by %spec or to
// process IDs. -l lists the signal names.
func Kill(ec *engine.ExecutionContext) (int, error) {
	args := ec.Args[1:]
	if len(args) == 0 {
		return usage(ec, "usage: kill [-s sigspec | -sigspec] pid | jobspec ...")
	}
	if args[0] == "-l" {
		fmt.Fprintln(ec.Stdout, "INT TERM KILL STOP TSTP CONT HUP QUIT")
		return core.ExitSuccess, nil
	}
	name := "TERM"
	switch {
	case args[0] == "-s" && len(args) > 1:
		name, args = args[1], args[2:]
	case len(args[0]) > 1 && args[0][0] == '-' && args[0] != "--":
		name, args = args[0][1:], args[1:]
	case args[0] == "--":
		args = args[1:]
	}
	sig, err := jobs.ParseSignal(name)
	if err != nil {
		ec.Errorf("%v", err)
		return core.ExitFailure, nil
	}
	if len(args) == 0 {
		return usage(ec, "missing pid")
	}
	status := core.ExitSuccess
	for _, target := range args {
		if err := signalTarget(ec, target, sig, name); err != nil {
			ec.Errorf("%s: %v", target, err)
			status = core.ExitFailure
		}
	}
	return status, nil
}

func signalTarget(ec *engine.ExecutionContext, target string, sig jobs.Signal, name string) error {
	sched := ec.Jobs()
	if strings.HasPrefix(target, "%") {
		id, err := sched.Resolve(target)
		if err != nil {
			return err
		}
		return sched.Signal(id, sig)
	}
	pid, err := strconv.Atoi(target)
	if err != nil {
		return errors.New("arguments must be process or job IDs")
	}
	for _, sum := range sched.List() {
		if sum.PGID != 0 && sum.PGID == pid {
			return sched.Signal(sum.ID, sig)
		}
	}
	return jobs.SignalProcess(pid, name)
}
