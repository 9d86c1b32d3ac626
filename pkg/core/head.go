package core

import (
	"strconv"
)

// HeadOptions are the parsed arguments of head. Bytes is -1 unless -c
// was given.
type HeadOptions struct {
	Lines int
	Bytes int
	Files []string
}

// ParseHeadArgs parses -n N, -c N, -nN, -cN and -N. With no files it
// reads "-", standard input.
func ParseHeadArgs(stdio *Stdio, name string, args []string) (*HeadOptions, int) {
	opts := &HeadOptions{
		Lines: 10,
		Bytes: -1,
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			opts.Files = append(opts.Files, args[i+1:]...)
			break
		}
		if len(arg) > 1 && arg[0] == '-' {
			if arg[1] >= '0' && arg[1] <= '9' {
				n, err := strconv.Atoi(arg[1:])
				if err != nil {
					return nil, UsageError(stdio, name, "invalid number: "+arg[1:])
				}
				opts.Lines = n
				continue
			}
			switch arg[1] {
			case 'n', 'c':
				val, next, code := numericValue(stdio, name, args, i, arg)
				if code != ExitSuccess {
					return nil, code
				}
				i = next
				if val < 0 {
					return nil, UsageError(stdio, name, "invalid number: "+strconv.Itoa(val))
				}
				if arg[1] == 'n' {
					opts.Lines = val
				} else {
					opts.Bytes = val
				}
			default:
				return nil, UsageError(stdio, name, "invalid option -- '"+string(arg[1])+"'")
			}
		} else {
			opts.Files = append(opts.Files, arg)
		}
	}

	if len(opts.Files) == 0 {
		opts.Files = []string{"-"}
	}
	return opts, ExitSuccess
}

// numericValue reads the value of -n or -c, attached or in the next
// argument, and returns it with the index of the last argument consumed.
func numericValue(stdio *Stdio, name string, args []string, i int, arg string) (int, int, int) {
	if len(arg) > 2 {
		n, err := strconv.Atoi(arg[2:])
		if err != nil {
			return 0, i, UsageError(stdio, name, "invalid number: "+arg[2:])
		}
		return n, i, ExitSuccess
	}
	if i+1 < len(args) {
		i++
		n, err := strconv.Atoi(args[i])
		if err != nil {
			return 0, i, UsageError(stdio, name, "invalid number: "+args[i])
		}
		return n, i, ExitSuccess
	}
	return 0, i, UsageError(stdio, name, "missing number")
}
