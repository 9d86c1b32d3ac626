package builtins

import (
	"errors"
	"strconv"

	"github.com/rcarmo/go-nxsh/pkg/core"
	"github.com/rcarmo/go-nxsh/pkg/shell/engine"
)

// Test evaluates a conditional expression; as "[" the last argument must
// be "]". Status is 0 for true, 1 for false and 2 for a malformed
// expression.
func Test(ec *engine.ExecutionContext) (int, error) {
	args := ec.Args[1:]
	if ec.Name() == "[" {
		if len(args) == 0 || args[len(args)-1] != "]" {
			ec.Errorf("missing ]")
			return core.ExitUsage, nil
		}
		args = args[:len(args)-1]
	}
	ok, err := evalTest(ec, args)
	if err != nil {
		ec.Errorf("%v", err)
		return core.ExitUsage, nil
	}
	if ok {
		return core.ExitSuccess, nil
	}
	return core.ExitFailure, nil
}

func evalTest(ec *engine.ExecutionContext, args []string) (bool, error) {
	// -a binds tighter than -o.
	for i := len(args) - 2; i > 0; i-- {
		if args[i] == "-o" {
			l, err := evalTest(ec, args[:i])
			if err != nil {
				return false, err
			}
			r, err := evalTest(ec, args[i+1:])
			return l || r, err
		}
	}
	for i := len(args) - 2; i > 0; i-- {
		if args[i] == "-a" {
			l, err := evalTest(ec, args[:i])
			if err != nil {
				return false, err
			}
			r, err := evalTest(ec, args[i+1:])
			return l && r, err
		}
	}
	switch len(args) {
	case 0:
		return false, nil
	case 1:
		return args[0] != "", nil
	case 2:
		if args[0] == "!" {
			ok, err := evalTest(ec, args[1:])
			return !ok, err
		}
		return unaryTest(ec, args[0], args[1])
	case 3:
		if args[0] == "!" {
			ok, err := evalTest(ec, args[1:])
			return !ok, err
		}
		if args[0] == "(" && args[2] == ")" {
			return evalTest(ec, args[1:2])
		}
		return binaryTest(args[0], args[1], args[2])
	}
	if args[0] == "!" {
		ok, err := evalTest(ec, args[1:])
		return !ok, err
	}
	if args[0] == "(" && args[len(args)-1] == ")" {
		return evalTest(ec, args[1:len(args)-1])
	}
	return false, errors.New("too many arguments")
}

func unaryTest(ec *engine.ExecutionContext, op, arg string) (bool, error) {
	switch op {
	case "-z":
		return arg == "", nil
	case "-n":
		return arg != "", nil
	case "-e", "-f", "-d", "-s", "-r", "-w", "-x":
		fi, err := ec.Stat(arg)
		if err != nil {
			return false, nil
		}
		switch op {
		case "-f":
			return fi.Mode().IsRegular(), nil
		case "-d":
			return fi.IsDir(), nil
		case "-s":
			return fi.Size() > 0, nil
		case "-r":
			return fi.Mode().Perm()&0o444 != 0, nil
		case "-w":
			return fi.Mode().Perm()&0o222 != 0, nil
		case "-x":
			return fi.Mode().Perm()&0o111 != 0, nil
		}
		return true, nil
	}
	return false, errors.New(op + ": unary operator expected")
}

func binaryTest(left, op, right string) (bool, error) {
	switch op {
	case "=", "==":
		return left == right, nil
	case "!=":
		return left != right, nil
	case "<":
		return left < right, nil
	case ">":
		return left > right, nil
	case "-eq", "-ne", "-lt", "-le", "-gt", "-ge":
		l, lerr := strconv.ParseInt(left, 10, 64)
		r, rerr := strconv.ParseInt(right, 10, 64)
		if lerr != nil || rerr != nil {
			return false, errors.New("integer expression expected")
		}
		switch op {
		case "-eq":
			return l == r, nil
		case "-ne":
			return l != r, nil
		case "-lt":
			return l < r, nil
		case "-le":
			return l <= r, nil
		case "-gt":
			return l > r, nil
		}
		return l >= r, nil
	}
	return false, errors.New(op + ": binary operator expected")
}
