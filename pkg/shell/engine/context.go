package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/rcarmo/go-nxsh/pkg/core"
	"github.com/rcarmo/go-nxsh/pkg/shell/jobs"
	"github.com/rcarmo/go-nxsh/pkg/shell/mir"
	"github.com/rcarmo/go-nxsh/pkg/shell/pipe"
	"github.com/rcarmo/go-nxsh/pkg/shell/shellerr"
	"github.com/rcarmo/go-nxsh/pkg/shell/value"
)

// ExecutionContext is what a builtin sees of one invocation: its
// arguments and environment, its three streams after redirection and the
// session it runs in. A new context is created for every invocation.
//
// Stdin and Stdout may carry structured values; use ReadValue and
// WriteValue, which fall back to text lines on byte streams.
type ExecutionContext struct {
	Args    []string
	Env     map[string]string
	Stdin   io.Reader
	Stdout  io.Writer
	Stderr  io.Writer
	Dir     string
	Context context.Context
	Session *Session
	// Gate is set when the builtin runs as a job task.
	Gate *jobs.Gate

	assigns map[string]string
	frame   *mir.Frame
	shell   *shell
	values  pipe.ValueReader
}

// Name returns the name the builtin was invoked as.
func (ec *ExecutionContext) Name() string {
	if len(ec.Args) == 0 {
		return ""
	}
	return ec.Args[0]
}

// Stdio bundles the streams for helpers written against core.Stdio.
func (ec *ExecutionContext) Stdio() *core.Stdio {
	return &core.Stdio{In: ec.Stdin, Out: ec.Stdout, Err: ec.Stderr}
}

// Errorf writes "name: message" to standard error.
func (ec *ExecutionContext) Errorf(format string, args ...any) {
	fmt.Fprintf(ec.Stderr, "%s: %s\n", ec.Name(), fmt.Sprintf(format, args...))
}

// Logger returns the session logger.
func (ec *ExecutionContext) Logger() *slog.Logger {
	return ec.Session.Log.With(slog.String("builtin", ec.Name()))
}

// Var returns a variable, preferring assignments made on the command line.
func (ec *ExecutionContext) Var(name string) (string, bool) {
	if v, ok := ec.assigns[name]; ok {
		return v, true
	}
	if ec.shell != nil {
		return ec.shell.Var(name)
	}
	return ec.Session.Vars.Get(name)
}

// SetVar assigns a session variable.
func (ec *ExecutionContext) SetVar(name, val string) {
	ec.Session.Vars.Set(name, val)
}

// Status returns $?, the status of the previous command.
func (ec *ExecutionContext) Status() int {
	if ec.frame == nil {
		return ec.Session.Status()
	}
	return ec.frame.Status
}

// Positional returns the positional parameters.
func (ec *ExecutionContext) Positional() []string {
	if ec.frame == nil {
		return ec.Session.positional()
	}
	return slices.Clone(ec.frame.Params)
}

// SetPositional replaces the positional parameters.
func (ec *ExecutionContext) SetPositional(params []string) {
	if ec.frame != nil {
		ec.frame.Params = slices.Clone(params)
	}
}

// InFunction reports whether the builtin runs inside a function call.
func (ec *ExecutionContext) InFunction() bool {
	return ec.shell != nil && ec.shell.depth > 0
}

// Pass blocks while the job is stopped and fails once it is cancelled.
func (ec *ExecutionContext) Pass() error {
	if ec.Gate != nil {
		return ec.Gate.Pass()
	}
	return ec.Context.Err()
}

// ReadValue reads the next value from standard input.
func (ec *ExecutionContext) ReadValue() (value.Value, error) {
	if ec.values == nil {
		ec.values = pipe.Values(ec.Stdin)
	}
	return ec.values.ReadValue()
}

// WriteValue writes v to standard output, as text when the output only
// carries bytes.
func (ec *ExecutionContext) WriteValue(v value.Value) error {
	return pipe.WriteValue(ec.Stdout, v)
}

// ObjectInput reports whether standard input carries values natively.
func (ec *ExecutionContext) ObjectInput() bool { return pipe.IsObjectStream(ec.Stdin) }

// ObjectOutput reports whether standard output carries values natively.
func (ec *ExecutionContext) ObjectOutput() bool { return pipe.IsObjectStream(ec.Stdout) }

// Foreground brings a job to the foreground and waits for it as if it
// had been started there.
func (ec *ExecutionContext) Foreground(id jobs.ID) (int, error) {
	return ec.shell.foreground(ec.Context, id)
}

// Eval runs src in the current shell.
func (ec *ExecutionContext) Eval(src string) (int, error) {
	return ec.shell.eval(ec.Context, ec.frame, src)
}

// Open opens a file for reading relative to the session directory,
// subject to the sandbox policy.
func (ec *ExecutionContext) Open(name string) (*os.File, error) {
	f, err := ec.Session.engine.policy.Open(ec.Session.Abs(name))
	if err != nil {
		return nil, shellerr.FromOS("open", name, err)
	}
	return f, nil
}

// Jobs is the session's job scheduler.
func (ec *ExecutionContext) Jobs() *jobs.Scheduler { return ec.Session.Jobs }

// Stat returns file info relative to the session directory, subject to
// the sandbox policy.
func (ec *ExecutionContext) Stat(name string) (os.FileInfo, error) {
	return ec.Session.engine.policy.Stat(ec.Session.Abs(name))
}

// Sandboxed reports whether file and program access is restricted.
func (ec *ExecutionContext) Sandboxed() bool {
	return ec.Session.engine.policy.Enabled()
}
