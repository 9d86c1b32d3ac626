// Package core holds exit statuses and argument helpers shared by the
// engine and the builtins.
package core

import (
	"fmt"
	"io"
)

// Exit statuses. A command killed by signal n exits ExitSignalBase+n.
const (
	ExitSuccess       = 0
	ExitFailure       = 1
	ExitUsage         = 2
	ExitCannotExecute = 126
	ExitNotFound      = 127
	ExitSignalBase    = 128
	ExitInterrupted   = ExitSignalBase + 2
	ExitBrokenPipe    = ExitSignalBase + 13
)

// Stdio is the stream triple a builtin reports through.
type Stdio struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// Errorf writes a formatted message to the error stream.
func (s *Stdio) Errorf(format string, args ...any) {
	fmt.Fprintf(s.Err, format, args...)
}

// UsageError reports "name: message" and returns ExitUsage.
func UsageError(stdio *Stdio, name, message string) int {
	stdio.Errorf("%s: %s\n", name, message)
	return ExitUsage
}

// FileError reports "name: path: err" and returns ExitFailure.
func FileError(stdio *Stdio, name, path string, err error) int {
	stdio.Errorf("%s: %s: %v\n", name, path, err)
	return ExitFailure
}

// ParseBoolFlags sets the flags named by clustered short options (-abc)
// and returns the operands. Parsing stops at "--", a lone "-" or the first
// operand. A nil target accepts the flag and ignores it.
func ParseBoolFlags(stdio *Stdio, name string, args []string, flags map[byte]*bool) ([]string, int) {
	for i, arg := range args {
		if arg == "--" {
			return args[i+1:], ExitSuccess
		}
		if len(arg) < 2 || arg[0] != '-' {
			return args[i:], ExitSuccess
		}
		for j := 1; j < len(arg); j++ {
			target, ok := flags[arg[j]]
			if !ok {
				return nil, UsageError(stdio, name, "invalid option -- '"+string(arg[j])+"'")
			}
			if target != nil {
				*target = true
			}
		}
	}
	return nil, ExitSuccess
}
