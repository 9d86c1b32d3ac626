// Package diag renders shell errors for people: syntax errors get the
// offending source line with a caret under the span, other errors a
// categorized one-line message.
package diag

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/muesli/termenv"

	"github.com/rcarmo/go-nxsh/pkg/shell/parser"
	"github.com/rcarmo/go-nxsh/pkg/shell/shellerr"
	"github.com/rcarmo/go-nxsh/pkg/shell/token"
)

// Printer writes diagnostics to one stream. Colors are used only when the
// stream is a color-capable terminal.
type Printer struct {
	out  *termenv.Output
	name string
}

// New returns a printer for w, detecting its color profile.
func New(w io.Writer, name string) *Printer {
	return &Printer{out: termenv.NewOutput(w), name: name}
}

// NewPlain returns a printer that never emits escape sequences.
func NewPlain(w io.Writer, name string) *Printer {
	return &Printer{out: termenv.NewOutput(w, termenv.WithProfile(termenv.Ascii)), name: name}
}

func (p *Printer) style(s, color string) string {
	return p.out.String(s).Foreground(p.out.Color(color)).Bold().String()
}

// Error renders err. Source is used for syntax errors.
func (p *Printer) Error(src string, err error) {
	if err == nil {
		return
	}
	var pe *parser.ParseError
	if errors.As(err, &pe) {
		p.ParseError(src, pe)
		return
	}
	fmt.Fprintf(p.out, "%s: %s\n", p.name, err)
}

// ParseError renders a syntax error with the source line it points at.
func (p *Printer) ParseError(src string, pe *parser.ParseError) {
	fmt.Fprintf(p.out, "%s: %s\n", p.name, p.style(pe.Error(), "1"))
	line, no, marker := Caret(src, pe.Span)
	if line == "" && marker == "" {
		return
	}
	gutter := fmt.Sprintf("%4d | ", no)
	fmt.Fprintf(p.out, "%s%s\n", gutter, line)
	fmt.Fprintf(p.out, "%s%s\n", strings.Repeat(" ", len(gutter)-2)+"| ", p.style(marker, "9"))
}

// Truncated reports an expansion cut off at limit fields.
func (p *Printer) Truncated(text string, limit int) {
	fmt.Fprintf(p.out, "%s: %s: expansion truncated to %d fields\n", p.name, p.style(text, "3"), limit)
}

// Caret returns the source line holding the start of span, its 1-based
// number and a marker line with carets under the span. A span reaching
// past the line is marked to the line end; an empty span gets one caret.
func Caret(src string, span token.Span) (line string, lineNo int, marker string) {
	start := min(max(span.Start, 0), len(src))
	lineStart := strings.LastIndexByte(src[:start], '\n') + 1
	lineEnd := strings.IndexByte(src[start:], '\n')
	if lineEnd < 0 {
		lineEnd = len(src)
	} else {
		lineEnd += start
	}
	line = src[lineStart:lineEnd]
	lineNo = strings.Count(src[:lineStart], "\n") + 1

	end := min(max(span.End, start), lineEnd)
	var b strings.Builder
	for _, r := range src[lineStart:start] {
		if r == '\t' {
			b.WriteByte('\t')
		} else {
			b.WriteByte(' ')
		}
	}
	n := max(utf8.RuneCountInString(src[start:end]), 1)
	b.WriteString(strings.Repeat("^", n))
	return line, lineNo, b.String()
}

// Describe returns a one-line categorized description of err, such as
// "io: open /x: permission denied".
func Describe(err error) string {
	if c, ok := shellerr.CategoryOf(err); ok {
		return c.String() + ": " + err.Error()
	}
	return err.Error()
}
