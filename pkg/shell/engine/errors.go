package engine

import (
	"errors"
	"strconv"
)

// ExitError unwinds the shell or subshell executing the exit builtin.
type ExitError struct {
	Status int
}

func (e *ExitError) Error() string { return "exit " + strconv.Itoa(e.Status) }

// ReturnError unwinds the innermost function call.
type ReturnError struct {
	Status int
}

func (e *ReturnError) Error() string { return "return " + strconv.Itoa(e.Status) }

// ErrNotInLoop is reported by break and continue outside a loop.
var ErrNotInLoop = errors.New("only meaningful in a loop")

// exitStatus extracts the status carried by an exit or return.
func exitStatus(err error) (int, bool) {
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Status, true
	}
	var re *ReturnError
	if errors.As(err, &re) {
		return re.Status, true
	}
	return 0, false
}
