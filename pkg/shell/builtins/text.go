package builtins

import (
	"bufio"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rcarmo/go-nxsh/pkg/core"
	"github.com/rcarmo/go-nxsh/pkg/shell/engine"
)

// Echo writes its arguments separated by spaces. -n drops the newline;
// -e enables backslash escapes and -E disables them.
func Echo(ec *engine.ExecutionContext) (int, error) {
	args := ec.Args[1:]
	noNewline, escapes := false, false
	start := 0
	for i, arg := range args {
		if len(arg) < 2 || arg[0] != '-' || strings.Trim(arg[1:], "neE") != "" {
			break
		}
		for _, c := range arg[1:] {
			switch c {
			case 'n':
				noNewline = true
			case 'e':
				escapes = true
			case 'E':
				escapes = false
			}
		}
		start = i + 1
	}
	out := strings.Join(args[start:], " ")
	halt := false
	if escapes {
		out, halt = processEscapes(out)
	}
	if !noNewline && !halt {
		out += "\n"
	}
	if _, err := io.WriteString(ec.Stdout, out); err != nil {
		return core.ExitFailure, err
	}
	return core.ExitSuccess, nil
}

// processEscapes expands \n, \t, octal \0NNN and hex \xHH escapes. A \c
// stops output, which the second result reports.
func processEscapes(s string) (string, bool) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch c := s[i]; c {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case 'a':
			b.WriteByte('\a')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'v':
			b.WriteByte('\v')
		case 'e':
			b.WriteByte(0x1b)
		case '\\':
			b.WriteByte('\\')
		case 'c':
			return b.String(), true
		case '0':
			v, n := digits(s[i+1:], 3, 8)
			b.WriteByte(byte(v))
			i += n
		case 'x':
			v, n := digits(s[i+1:], 2, 16)
			if n == 0 {
				b.WriteString(`\x`)
				continue
			}
			b.WriteByte(byte(v))
			i += n
		default:
			b.WriteByte('\\')
			b.WriteByte(c)
		}
	}
	return b.String(), false
}

// digits parses up to max digits of the given base from the front of s.
func digits(s string, max, base int) (int, int) {
	v, n := 0, 0
	for n < max && n < len(s) {
		d, err := strconv.ParseUint(s[n:n+1], base, 8)
		if err != nil {
			break
		}
		v = v*base + int(d)
		n++
	}
	return v, n
}

// True does nothing and succeeds.
func True(*engine.ExecutionContext) (int, error) { return core.ExitSuccess, nil }

// False does nothing and fails.
func False(*engine.ExecutionContext) (int, error) { return core.ExitFailure, nil }

// Cat copies its files, or standard input, to standard output. -n
// numbers lines.
func Cat(ec *engine.ExecutionContext) (int, error) {
	var number bool
	files, code := core.ParseBoolFlags(ec.Stdio(), "cat", ec.Args[1:], map[byte]*bool{'n': &number, 'u': nil})
	if code != core.ExitSuccess {
		return code, nil
	}
	if len(files) == 0 {
		files = []string{"-"}
	}
	status := core.ExitSuccess
	line := 0
	out := output{ec.Stdout}
	for _, name := range files {
		err := withInput(ec, name, func(r io.Reader) error {
			if !number {
				_, err := io.Copy(out, r)
				return err
			}
			sc := bufio.NewScanner(r)
			sc.Buffer(nil, 1<<20)
			for sc.Scan() {
				line++
				if _, err := io.WriteString(out, padLeft(strconv.Itoa(line), 6)+"\t"+sc.Text()+"\n"); err != nil {
					return err
				}
			}
			return sc.Err()
		})
		if err != nil {
			if isWriteError(err) {
				return core.ExitFailure, err
			}
			status = core.FileError(ec.Stdio(), "cat", name, err)
		}
	}
	return status, nil
}

func padLeft(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return strings.Repeat(" ", n-len(s)) + s
}

// Head writes the first lines, or bytes with -c, of its input.
func Head(ec *engine.ExecutionContext) (int, error) {
	opts, code := core.ParseHeadArgs(ec.Stdio(), "head", ec.Args[1:])
	if code != core.ExitSuccess {
		return code, nil
	}
	status := core.ExitSuccess
	out := output{ec.Stdout}
	for i, name := range opts.Files {
		if len(opts.Files) > 1 {
			sep := ""
			if i > 0 {
				sep = "\n"
			}
			if _, err := io.WriteString(ec.Stdout, sep+"==> "+name+" <==\n"); err != nil {
				return core.ExitFailure, err
			}
		}
		err := withInput(ec, name, func(r io.Reader) error {
			if opts.Bytes >= 0 {
				_, err := io.CopyN(out, r, int64(opts.Bytes))
				if err == io.EOF {
					err = nil
				}
				return err
			}
			br := bufio.NewReader(r)
			for n := 0; n < opts.Lines; n++ {
				line, err := br.ReadString('\n')
				if line != "" {
					if _, werr := io.WriteString(out, line); werr != nil {
						return werr
					}
				}
				if err == io.EOF {
					return nil
				}
				if err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			if isWriteError(err) {
				return core.ExitFailure, err
			}
			status = core.FileError(ec.Stdio(), "head", name, err)
		}
	}
	return status, nil
}

// Yes writes its arguments, or "y", until its output is closed.
func Yes(ec *engine.ExecutionContext) (int, error) {
	line := "y\n"
	if len(ec.Args) > 1 {
		line = strings.Join(ec.Args[1:], " ") + "\n"
	}
	for {
		if err := ec.Pass(); err != nil {
			return core.ExitFailure, err
		}
		if _, err := io.WriteString(ec.Stdout, line); err != nil {
			return core.ExitFailure, err
		}
	}
}

// Sleep pauses for the sum of its arguments. Each is a number with an
// optional s, m, h or d suffix.
func Sleep(ec *engine.ExecutionContext) (int, error) {
	if len(ec.Args) < 2 {
		return usage(ec, "missing operand")
	}
	var total time.Duration
	for _, arg := range ec.Args[1:] {
		d, err := parseDuration(arg)
		if err != nil {
			ec.Errorf("invalid number '%s'", arg)
			return core.ExitFailure, nil
		}
		total += d
	}
	t := time.NewTimer(total)
	defer t.Stop()
	select {
	case <-t.C:
		return core.ExitSuccess, nil
	case <-ec.Context.Done():
		return core.ExitInterrupted, ec.Context.Err()
	}
}

func parseDuration(s string) (time.Duration, error) {
	unit := time.Second
	switch {
	case strings.HasSuffix(s, "s"):
		s = s[:len(s)-1]
	case strings.HasSuffix(s, "m"):
		s, unit = s[:len(s)-1], time.Minute
	case strings.HasSuffix(s, "h"):
		s, unit = s[:len(s)-1], time.Hour
	case strings.HasSuffix(s, "d"):
		s, unit = s[:len(s)-1], 24*time.Hour
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0, strconv.ErrSyntax
	}
	return time.Duration(f * float64(unit)), nil
}

// withInput calls fn with standard input for "-" and the named file
// otherwise.
func withInput(ec *engine.ExecutionContext, name string, fn func(io.Reader) error) error {
	if name == "-" {
		return fn(ec.Stdin)
	}
	f, err := ec.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()
	return fn(f)
}

// writeError marks a failure to write standard output, as opposed to a
// failure reading an input file.
type writeError struct{ err error }

func (e *writeError) Error() string { return e.err.Error() }
func (e *writeError) Unwrap() error { return e.err }

type output struct{ w io.Writer }

func (o output) Write(b []byte) (int, error) {
	n, err := o.w.Write(b)
	if err != nil {
		err = &writeError{err}
	}
	return n, err
}

func isWriteError(err error) bool {
	var we *writeError
	return errors.As(err, &we)
}
