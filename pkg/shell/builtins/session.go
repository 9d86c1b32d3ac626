package builtins

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rcarmo/go-nxsh/pkg/core"
	"github.com/rcarmo/go-nxsh/pkg/shell/engine"
	"github.com/rcarmo/go-nxsh/pkg/shell/vars"
)

// Pwd prints the working directory.
func Pwd(ec *engine.ExecutionContext) (int, error) {
	_, err := fmt.Fprintln(ec.Stdout, ec.Session.Dir())
	return core.ExitSuccess, err
}

// Cd changes the working directory: to $HOME without an argument and to
// $OLDPWD for "-".
func Cd(ec *engine.ExecutionContext) (int, error) {
	args := ec.Args[1:]
	if len(args) > 0 && args[0] == "--" {
		args = args[1:]
	}
	var target string
	switch len(args) {
	case 0:
		home, ok := ec.Var("HOME")
		if !ok || home == "" {
			ec.Errorf("HOME not set")
			return core.ExitFailure, nil
		}
		target = home
	case 1:
		target = args[0]
	default:
		ec.Errorf("too many arguments")
		return core.ExitFailure, nil
	}
	if target == "-" {
		old, ok := ec.Var("OLDPWD")
		if !ok || old == "" {
			ec.Errorf("OLDPWD not set")
			return core.ExitFailure, nil
		}
		target = old
		defer fmt.Fprintln(ec.Stdout, old)
	}
	if err := ec.Session.Chdir(target); err != nil {
		ec.Errorf("%s: %v", target, unwrapPath(err))
		return core.ExitFailure, nil
	}
	return core.ExitSuccess, nil
}

func unwrapPath(err error) error {
	if u := errors.Unwrap(err); u != nil {
		return u
	}
	return err
}

// statusArg parses the optional status argument of exit and return.
func statusArg(ec *engine.ExecutionContext) (int, bool) {
	if len(ec.Args) < 2 {
		return ec.Status(), true
	}
	n, err := strconv.Atoi(ec.Args[1])
	if err != nil {
		ec.Errorf("%s: numeric argument required", ec.Args[1])
		return core.ExitUsage, false
	}
	return n & 0xff, true
}

// Exit leaves the shell, or the subshell it runs in.
func Exit(ec *engine.ExecutionContext) (int, error) {
	n, _ := statusArg(ec)
	return n, &engine.ExitError{Status: n}
}

// Return leaves the current function.
func Return(ec *engine.ExecutionContext) (int, error) {
	if !ec.InFunction() {
		ec.Errorf("can only `return' from a function")
		return core.ExitFailure, nil
	}
	n, ok := statusArg(ec)
	if !ok {
		return n, nil
	}
	return n, &engine.ReturnError{Status: n}
}

// LoopControl is break and continue where they cannot be resolved to an
// enclosing loop.
func LoopControl(ec *engine.ExecutionContext) (int, error) {
	ec.Errorf("%v", engine.ErrNotInLoop)
	return core.ExitSuccess, nil
}

// Export marks variables for the environment of child processes. -p, or
// no arguments, lists them.
func Export(ec *engine.ExecutionContext) (int, error) {
	args := ec.Args[1:]
	if len(args) == 0 || args[0] == "-p" {
		store := ec.Session.Vars
		for _, name := range store.Names() {
			if store.IsExported(name) {
				v, _ := store.Get(name)
				fmt.Fprintf(ec.Stdout, "export %s=%s\n", name, quote(v))
			}
		}
		return core.ExitSuccess, nil
	}
	status := core.ExitSuccess
	for _, arg := range args {
		name, val, hasVal := strings.Cut(arg, "=")
		if !vars.IsName(name) {
			ec.Errorf("`%s': not a valid identifier", arg)
			status = core.ExitFailure
			continue
		}
		if hasVal {
			ec.SetVar(name, val)
		}
		ec.Session.Vars.Export(name)
	}
	return status, nil
}

// Unset removes variables, or functions with -f.
func Unset(ec *engine.ExecutionContext) (int, error) {
	args := ec.Args[1:]
	funcs := false
	for len(args) > 0 && strings.HasPrefix(args[0], "-") {
		switch args[0] {
		case "-f":
			funcs = true
		case "-v":
			funcs = false
		case "--":
		default:
			return usage(ec, "invalid option -- '"+strings.TrimPrefix(args[0], "-")+"'")
		}
		args = args[1:]
	}
	for _, name := range args {
		switch {
		case funcs:
			ec.Session.UnsetFunction(name)
		case !vars.IsName(name):
			ec.Errorf("`%s': not a valid identifier", name)
			return core.ExitFailure, nil
		default:
			ec.Session.Vars.Unset(name)
		}
	}
	return core.ExitSuccess, nil
}

// Set lists variables, changes options with -o/+o and the short flags -f
// and +f, and replaces the positional parameters.
func Set(ec *engine.ExecutionContext) (int, error) {
	args := ec.Args[1:]
	if len(args) == 0 {
		store := ec.Session.Vars
		for _, name := range store.Names() {
			v, _ := store.Get(name)
			fmt.Fprintf(ec.Stdout, "%s=%s\n", name, quote(v))
		}
		return core.ExitSuccess, nil
	}
	for len(args) > 0 {
		arg := args[0]
		if arg == "--" {
			ec.SetPositional(args[1:])
			return core.ExitSuccess, nil
		}
		if len(arg) < 2 || arg[0] != '-' && arg[0] != '+' {
			break
		}
		on := arg[0] == '-'
		args = args[1:]
		if arg[1:] == "o" {
			if len(args) == 0 {
				printOptions(ec, on)
				return core.ExitSuccess, nil
			}
			if err := ec.Session.SetOption(args[0], on); err != nil {
				ec.Errorf("%v", err)
				return core.ExitUsage, nil
			}
			args = args[1:]
			continue
		}
		for _, c := range arg[1:] {
			if c != 'f' {
				return usage(ec, "invalid option -- '"+string(c)+"'")
			}
			_ = ec.Session.SetOption(engine.OptNoGlob, on)
		}
	}
	if len(args) > 0 {
		ec.SetPositional(args)
	}
	return core.ExitSuccess, nil
}

func printOptions(ec *engine.ExecutionContext, table bool) {
	opts := ec.Session.Options()
	for _, name := range engine.OptionNames() {
		if table {
			state := "off"
			if opts[name] {
				state = "on"
			}
			fmt.Fprintf(ec.Stdout, "%-15s%s\n", name, state)
			continue
		}
		flag := "+o"
		if opts[name] {
			flag = "-o"
		}
		fmt.Fprintf(ec.Stdout, "set %s %s\n", flag, name)
	}
}

// Alias defines aliases or prints them.
func Alias(ec *engine.ExecutionContext) (int, error) {
	snap := ec.Session.Aliases.Snapshot()
	args := ec.Args[1:]
	if len(args) > 0 && args[0] == "-p" {
		args = args[1:]
	}
	if len(args) == 0 {
		for _, name := range snap.Names() {
			body, _ := snap.Get(name)
			fmt.Fprintf(ec.Stdout, "alias %s=%s\n", name, quote(body))
		}
		return core.ExitSuccess, nil
	}
	status := core.ExitSuccess
	for _, arg := range args {
		name, body, ok := strings.Cut(arg, "=")
		if ok {
			if name == "" || strings.ContainsAny(name, " \t\n/$`=\"'") {
				ec.Errorf("`%s': invalid alias name", name)
				status = core.ExitFailure
				continue
			}
			ec.Session.Aliases.Set(name, body)
			continue
		}
		body, found := snap.Get(name)
		if !found {
			ec.Errorf("%s: not found", name)
			status = core.ExitFailure
			continue
		}
		fmt.Fprintf(ec.Stdout, "alias %s=%s\n", name, quote(body))
	}
	return status, nil
}

// Unalias removes aliases; -a removes all of them.
func Unalias(ec *engine.ExecutionContext) (int, error) {
	args := ec.Args[1:]
	if len(args) == 0 {
		return usage(ec, "usage: unalias [-a] name [name ...]")
	}
	if args[0] == "-a" {
		ec.Session.Aliases.Clear()
		return core.ExitSuccess, nil
	}
	status := core.ExitSuccess
	for _, name := range args {
		if !ec.Session.Aliases.Remove(name) {
			ec.Errorf("%s: not found", name)
			status = core.ExitFailure
		}
	}
	return status, nil
}

// Read reads a line and splits it into the named variables, the last
// taking the remainder. -r keeps backslashes; without names the line goes
// to REPLY.
func Read(ec *engine.ExecutionContext) (int, error) {
	args := ec.Args[1:]
	raw := false
	prompt := ""
flags:
	for len(args) > 0 && strings.HasPrefix(args[0], "-") && args[0] != "-" {
		switch args[0] {
		case "-r":
			raw = true
		case "-p":
			if len(args) < 2 {
				return usage(ec, "-p: option requires an argument")
			}
			prompt = args[1]
			args = args[1:]
		case "--":
			args = args[1:]
			break flags
		default:
			return usage(ec, "invalid option -- '"+strings.TrimPrefix(args[0], "-")+"'")
		}
		args = args[1:]
	}
	for _, name := range args {
		if !vars.IsName(name) {
			ec.Errorf("`%s': not a valid identifier", name)
			return core.ExitFailure, nil
		}
	}
	if prompt != "" {
		fmt.Fprint(ec.Stderr, prompt)
	}
	line, err := readLine(ec.Stdin, raw)
	if err != nil && (err != io.EOF || line == "") {
		if err != io.EOF {
			return core.ExitFailure, err
		}
		for _, name := range args {
			ec.SetVar(name, "")
		}
		return core.ExitFailure, nil
	}
	if len(args) == 0 {
		ec.SetVar("REPLY", line)
		return core.ExitSuccess, nil
	}
	ifs, ok := ec.Var("IFS")
	if !ok {
		ifs = " \t\n"
	}
	fields := splitN(line, ifs, len(args))
	for i, name := range args {
		v := ""
		if i < len(fields) {
			v = fields[i]
		}
		ec.SetVar(name, v)
	}
	if err == io.EOF {
		return core.ExitFailure, nil
	}
	return core.ExitSuccess, nil
}

// readLine reads one line a byte at a time, so that input past the line
// stays unread for the next command. A backslash-newline continues the
// line unless raw is set.
func readLine(r io.Reader, raw bool) (string, error) {
	var b strings.Builder
	one := make([]byte, 1)
	escaped := false
	for {
		n, err := r.Read(one)
		if n == 1 {
			c := one[0]
			switch {
			case escaped:
				escaped = false
				if c != '\n' {
					b.WriteByte(c)
				}
			case c == '\\' && !raw:
				escaped = true
			case c == '\n':
				return b.String(), nil
			default:
				b.WriteByte(c)
			}
		}
		if err != nil {
			return b.String(), err
		}
	}
}

// splitN splits s on ifs into at most n fields. The last field keeps the
// rest of the line with surrounding whitespace trimmed.
func splitN(s, ifs string, n int) []string {
	isSep := func(r rune) bool { return strings.ContainsRune(ifs, r) }
	s = strings.TrimLeftFunc(s, isSep)
	var out []string
	for len(out) < n-1 && s != "" {
		i := strings.IndexFunc(s, isSep)
		if i < 0 {
			break
		}
		out = append(out, s[:i])
		s = strings.TrimLeftFunc(s[i:], isSep)
	}
	if s = strings.TrimRightFunc(s, isSep); s != "" {
		out = append(out, s)
	}
	return out
}

// Type reports how each name would be resolved.
func Type(ec *engine.ExecutionContext) (int, error) {
	status := core.ExitSuccess
	for _, name := range ec.Args[1:] {
		kind, detail := ec.Session.Resolve(name)
		switch kind {
		case engine.FunctionCommand:
			fmt.Fprintf(ec.Stdout, "%s is a function\n", name)
		case engine.AliasCommand:
			fmt.Fprintf(ec.Stdout, "%s is an alias for %s\n", name, detail)
		case engine.BuiltinCommand:
			fmt.Fprintf(ec.Stdout, "%s is a shell builtin\n", name)
		case engine.ExternalCommand:
			fmt.Fprintf(ec.Stdout, "%s is %s\n", name, detail)
		default:
			ec.Errorf("%s: not found", name)
			status = core.ExitFailure
		}
	}
	return status, nil
}

// Eval runs its arguments, joined by spaces, in the current shell.
func Eval(ec *engine.ExecutionContext) (int, error) {
	src := strings.Join(ec.Args[1:], " ")
	if strings.TrimSpace(src) == "" {
		return core.ExitSuccess, nil
	}
	return ec.Eval(src)
}

// quote renders s so the shell reads it back as one word.
func quote(s string) string {
	if s != "" && !strings.ContainsFunc(s, func(r rune) bool {
		return !(r == '_' || r == '-' || r == '.' || r == '/' || r == ':' || r == ',' || r == '+' || r == '@' || r == '%' ||
			'a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' || '0' <= r && r <= '9')
	}) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
