package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/rcarmo/go-nxsh/pkg/shell/engine"
	"github.com/rcarmo/go-nxsh/pkg/shell/parser"
)

// lineReader reads one line of input after showing a prompt.
type lineReader interface {
	ReadLine(prompt string) (string, error)
}

// termReader edits lines on a terminal. The terminal is in raw mode only
// while a line is read, so commands see it in its normal state.
type termReader struct {
	fd int
	t  *term.Terminal
}

func newTermReader(f *os.File, out io.Writer) *termReader {
	return &termReader{
		fd: int(f.Fd()),
		t:  term.NewTerminal(struct {
			io.Reader
			io.Writer
		}{f, out}, ""),
	}
}

func (r *termReader) ReadLine(prompt string) (string, error) {
	old, err := term.MakeRaw(r.fd)
	if err != nil {
		return "", err
	}
	defer func() { _ = term.Restore(r.fd, old) }()
	if w, _, err := term.GetSize(r.fd); err == nil && w > 0 {
		_ = r.t.SetSize(w, 0)
	}
	r.t.SetPrompt(prompt)
	return r.t.ReadLine()
}

// plainReader reads lines from a stream that is not a terminal.
type plainReader struct {
	r      *bufio.Reader
	prompt io.Writer
}

func (p *plainReader) ReadLine(prompt string) (string, error) {
	fmt.Fprint(p.prompt, prompt)
	line, err := p.r.ReadString('\n')
	if err == io.EOF && line != "" {
		err = nil
	}
	return strings.TrimSuffix(line, "\n"), err
}

// repl is the interactive loop: it reports finished jobs, prompts, reads
// lines until they form a complete script and runs it.
type repl struct {
	e    *engine.Engine
	in   io.Reader
	out  io.Writer
	errw io.Writer
	intr *interrupter
	log  *slog.Logger
}

func (r *repl) reader() lineReader {
	if f, ok := r.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return newTermReader(f, r.out)
	}
	return &plainReader{r: bufio.NewReader(r.in), prompt: r.errw}
}

func (r *repl) loop() int {
	lines := r.reader()
	status := 0
	var pending strings.Builder
	for {
		r.e.Notify()
		line, err := lines.ReadLine(prompt(r.e, pending.Len() > 0))
		if errors.Is(err, io.EOF) {
			if pending.Len() > 0 {
				status = r.intr.run(r.e, pending.String()).ExitCode
			}
			if _, ok := lines.(*termReader); ok {
				fmt.Fprintln(r.out)
			}
			return status
		}
		if err != nil {
			r.log.Error("read", slog.Any("error", err))
			return status
		}
		pending.WriteString(line)
		pending.WriteByte('\n')
		src := pending.String()
		if strings.TrimSpace(src) == "" {
			pending.Reset()
			continue
		}
		var pe *parser.ParseError
		if _, err := parser.Parse(src); errors.As(err, &pe) && pe.Incomplete {
			continue
		}
		pending.Reset()
		res := r.intr.run(r.e, src)
		status = res.ExitCode
		if res.Exit {
			return status
		}
	}
}
