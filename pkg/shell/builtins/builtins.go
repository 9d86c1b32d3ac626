// Package builtins implements the commands built into the shell.
//
// Each builtin follows the engine's invocation contract: it reads its
// arguments and streams from an ExecutionContext and returns an exit
// status. Failures are reported as "name: message" on standard error.
package builtins

import (
	"github.com/rcarmo/go-nxsh/pkg/core"
	"github.com/rcarmo/go-nxsh/pkg/shell/engine"
)

// command is a builtin backed by a function.
type command struct {
	name string
	run  func(ec *engine.ExecutionContext) (int, error)
	pure bool
}

func (c *command) Name() string                                    { return c.name }
func (c *command) Invoke(ec *engine.ExecutionContext) (int, error) { return c.run(ec) }
func (c *command) Pure() bool                                      { return c.pure }

// objectCommand is a builtin that reads and writes structured values.
type objectCommand struct {
	command
	in, out bool
}

func (c *objectCommand) ObjectIO() (in, out bool) { return c.in, c.out }

func simple(name string, run func(ec *engine.ExecutionContext) (int, error)) engine.Builtin {
	return &command{name: name, run: run}
}

func pure(name string, run func(ec *engine.ExecutionContext) (int, error)) engine.Builtin {
	return &command{name: name, run: run, pure: true}
}

func object(name string, in, out bool, run func(ec *engine.ExecutionContext) (int, error)) engine.Builtin {
	return &objectCommand{command: command{name: name, run: run}, in: in, out: out}
}

// All returns every builtin.
func All() []engine.Builtin {
	return []engine.Builtin{
		pure("echo", Echo),
		pure("true", True),
		pure(":", True),
		simple("false", False),
		simple("cat", Cat),
		simple("head", Head),
		simple("yes", Yes),
		simple("sleep", Sleep),
		simple("pwd", Pwd),
		simple("cd", Cd),
		simple("exit", Exit),
		simple("return", Return),
		simple("break", LoopControl),
		simple("continue", LoopControl),
		simple("export", Export),
		simple("unset", Unset),
		simple("set", Set),
		simple("alias", Alias),
		simple("unalias", Unalias),
		simple("jobs", Jobs),
		simple("fg", Fg),
		simple("bg", Bg),
		simple("wait", Wait),
		simple("disown", Disown),
		simple("kill", Kill),
		simple("read", Read),
		simple("test", Test),
		simple("[", Test),
		simple("type", Type),
		simple("eval", Eval),
		simple("awk", Awk),
		object("select", true, true, Select),
		object("where", true, true, Where),
		object("sort-by", true, true, SortBy),
		object("group-by", true, true, GroupBy),
		object("from-json", false, true, FromJSON),
		object("to-json", true, false, ToJSON),
	}
}

// Registry returns a registry holding every builtin.
func Registry() *engine.Registry {
	return engine.NewRegistry(All()...)
}

func usage(ec *engine.ExecutionContext, message string) (int, error) {
	return core.UsageError(ec.Stdio(), ec.Name(), message), nil
}
