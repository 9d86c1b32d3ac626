package builtins

import (
	"errors"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/benhoyt/goawk/interp"
	"github.com/benhoyt/goawk/parser"

	"github.com/rcarmo/go-nxsh/pkg/core"
	"github.com/rcarmo/go-nxsh/pkg/shell/engine"
	"github.com/rcarmo/go-nxsh/pkg/shell/pipe"
	"github.com/rcarmo/go-nxsh/pkg/shell/vars"
)

// Awk runs an AWK program over its files or standard input.
//
//	awk [-F fs] [-v var=value]... [-f progfile | 'prog'] [file ...]
//
// File operands are taken relative to the session directory. In a
// sandboxed session the program cannot open files or run commands; its
// inputs are opened by the shell instead.
func Awk(ec *engine.ExecutionContext) (int, error) {
	args := ec.Args[1:]
	var (
		fs       string
		assigns  []string
		progFile string
	)
loop:
	for len(args) > 0 {
		arg := args[0]
		switch {
		case arg == "--":
			args = args[1:]
			break loop
		case arg == "-F" || arg == "-v" || arg == "-f":
			if len(args) < 2 {
				return usage(ec, "option requires an argument -- '"+arg[1:]+"'")
			}
			switch arg {
			case "-F":
				fs = args[1]
			case "-v":
				assigns = append(assigns, args[1])
			case "-f":
				progFile = args[1]
			}
			args = args[2:]
		case strings.HasPrefix(arg, "-F") && len(arg) > 2:
			fs = arg[2:]
			args = args[1:]
		case strings.HasPrefix(arg, "-v") && len(arg) > 2:
			assigns = append(assigns, arg[2:])
			args = args[1:]
		case len(arg) > 1 && arg[0] == '-':
			return usage(ec, "invalid option -- '"+arg[1:2]+"'")
		default:
			break loop
		}
	}

	var src []byte
	if progFile != "" {
		f, err := ec.Open(progFile)
		if err != nil {
			return core.FileError(ec.Stdio(), "awk", progFile, err), nil
		}
		src, err = io.ReadAll(f)
		f.Close()
		if err != nil {
			return core.FileError(ec.Stdio(), "awk", progFile, err), nil
		}
	} else {
		if len(args) == 0 {
			return usage(ec, "usage: awk [-F fs] [-v var=value] [-f progfile | 'prog'] [file ...]")
		}
		src, args = []byte(args[0]), args[1:]
	}

	prog, err := parser.ParseProgram(src, nil)
	if err != nil {
		var pe *parser.ParseError
		if errors.As(err, &pe) {
			ec.Errorf("line %d: %s", pe.Position.Line, pe.Message)
		} else {
			ec.Errorf("%v", err)
		}
		return core.ExitUsage, nil
	}

	config := &interp.Config{
		Argv0:  "awk",
		Stdin:  ec.Stdin,
		Output: ec.Stdout,
		Error:  ec.Stderr,
	}
	for name, val := range ec.Env {
		config.Environ = append(config.Environ, name, val)
	}
	if fs != "" {
		config.Vars = append(config.Vars, "FS", fs)
	}
	for _, a := range assigns {
		name, val, ok := strings.Cut(a, "=")
		if !ok || !vars.IsName(name) {
			return usage(ec, "invalid -v argument: "+a)
		}
		config.Vars = append(config.Vars, name, val)
	}

	if ec.Sandboxed() {
		config.NoExec, config.NoFileReads, config.NoFileWrites = true, true, true
		in, closeAll, err := openInputs(ec, args)
		if err != nil {
			ec.Errorf("%v", err)
			return core.ExitFailure, nil
		}
		defer closeAll()
		config.Stdin = in
	} else {
		for _, a := range args {
			if a == "-" || isAssignment(a) {
				config.Args = append(config.Args, a)
				continue
			}
			config.Args = append(config.Args, ec.Session.Abs(a))
		}
	}

	status, err := interp.ExecProgram(prog, config)
	if err != nil {
		if isWriteClosed(err) {
			return core.ExitBrokenPipe, nil
		}
		ec.Errorf("%v", err)
		return core.ExitFailure, nil
	}
	return status, nil
}

func isAssignment(arg string) bool {
	name, _, ok := strings.Cut(arg, "=")
	return ok && vars.IsName(name)
}

// openInputs concatenates the file operands through the sandbox. Command
// line assignments are not supported in this mode and are skipped.
func openInputs(ec *engine.ExecutionContext, args []string) (io.Reader, func(), error) {
	var (
		readers []io.Reader
		files   []*os.File
	)
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}
	for _, a := range args {
		if isAssignment(a) {
			continue
		}
		if a == "-" {
			readers = append(readers, ec.Stdin)
			continue
		}
		f, err := ec.Open(a)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		files = append(files, f)
		readers = append(readers, f)
	}
	if len(readers) == 0 {
		return ec.Stdin, closeAll, nil
	}
	return io.MultiReader(readers...), closeAll, nil
}

func isWriteClosed(err error) bool {
	return errors.Is(err, pipe.ErrClosed) || errors.Is(err, syscall.EPIPE)
}
