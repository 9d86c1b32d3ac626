// Package shellerr defines the categorized errors reported by the shell
// core. Every error that reaches a caller carries one of four categories;
// only transient I/O errors are candidates for a caller-directed retry.
package shellerr

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"

	"github.com/rcarmo/go-nxsh/pkg/core"
)

// Category classifies an error for reporting.
type Category uint8

const (
	Parse Category = iota + 1
	Runtime
	IO
	Security
)

func (c Category) String() string {
	switch c {
	case Parse:
		return "parse"
	case Runtime:
		return "runtime"
	case IO:
		return "io"
	case Security:
		return "security"
	}
	return "unknown"
}

// Categorized is implemented by errors that know their category.
type Categorized interface {
	error
	Category() Category
}

// RuntimeKind identifies the kind of a RuntimeError.
type RuntimeKind string

const (
	NotFound        RuntimeKind = "command not found"
	NotExecutable   RuntimeKind = "not executable"
	AliasCycle      RuntimeKind = "alias cycle"
	Arithmetic      RuntimeKind = "arithmetic error"
	BadRedirect     RuntimeKind = "invalid redirection"
	BadSubstitution RuntimeKind = "bad substitution"
	Unsupported     RuntimeKind = "unsupported"
	Internal        RuntimeKind = "internal error"
)

// RuntimeError is a failure detected while executing a command.
type RuntimeError struct {
	Kind    RuntimeKind
	Message string
	Err     error
}

// Runtimef returns a RuntimeError with a formatted message.
func Runtimef(kind RuntimeKind, format string, args ...any) *RuntimeError {
	return &RuntimeError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (e *RuntimeError) Error() string {
	switch {
	case e.Message == "":
		return string(e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *RuntimeError) Unwrap() error { return e.Err }

func (e *RuntimeError) Category() Category { return Runtime }

// IOError is a filesystem or descriptor failure.
type IOError struct {
	Op        string
	Path      string
	Err       error
	Transient bool
}

// NewIOError wraps err, classifying interrupted or resource-exhaustion
// errors as transient.
func NewIOError(op, path string, err error) *IOError {
	return &IOError{Op: op, Path: path, Err: err, Transient: transientErrno(err)}
}

func transientErrno(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	switch errno {
	case syscall.EINTR, syscall.EAGAIN, syscall.EMFILE, syscall.ENFILE, syscall.EBUSY:
		return true
	}
	return false
}

func (e *IOError) Error() string {
	err := e.Err
	var pe *fs.PathError
	if errors.As(err, &pe) {
		err = pe.Err
	}
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Path, err)
}

func (e *IOError) Unwrap() error { return e.Err }

func (e *IOError) Category() Category { return IO }

// SecurityError is a permission or capability denial.
type SecurityError struct {
	Op   string
	Path string
	Err  error
}

func (e *SecurityError) Error() string {
	err := e.Err
	var pe *fs.PathError
	if errors.As(err, &pe) {
		err = pe.Err
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Path, err)
}

func (e *SecurityError) Unwrap() error { return e.Err }

func (e *SecurityError) Category() Category { return Security }

// FromOS classifies an error returned by an open, exec or stat call.
func FromOS(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var c Categorized
	if errors.As(err, &c) {
		return err
	}
	if errors.Is(err, fs.ErrPermission) {
		return &SecurityError{Op: op, Path: path, Err: err}
	}
	return NewIOError(op, path, err)
}

// CategoryOf returns the category of err, if it has one.
func CategoryOf(err error) (Category, bool) {
	var c Categorized
	if errors.As(err, &c) {
		return c.Category(), true
	}
	return 0, false
}

// IsTransient reports whether err is an I/O error marked transient.
func IsTransient(err error) bool {
	var ioe *IOError
	return errors.As(err, &ioe) && ioe.Transient
}

// ExitStatus maps err to the status recorded for $?.
func ExitStatus(err error) int {
	if err == nil {
		return core.ExitSuccess
	}
	var re *RuntimeError
	if errors.As(err, &re) {
		switch re.Kind {
		case NotFound:
			return core.ExitNotFound
		case NotExecutable:
			return core.ExitCannotExecute
		}
		return core.ExitFailure
	}
	cat, _ := CategoryOf(err)
	switch cat {
	case Parse:
		return core.ExitUsage
	case Security:
		return core.ExitCannotExecute
	}
	return core.ExitFailure
}
