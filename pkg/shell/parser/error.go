package parser

import (
	"fmt"
	"strings"

	"github.com/rcarmo/go-nxsh/pkg/shell/shellerr"
	"github.com/rcarmo/go-nxsh/pkg/shell/token"
)

// ParseError describes a syntax error at Span. Incomplete is set when the
// input ended early and more text could complete it, which interactive
// callers use to ask for a continuation line.
type ParseError struct {
	Span       token.Span
	Expected   []token.Kind
	Found      token.Kind
	Message    string
	Incomplete bool
}

func (e *ParseError) Error() string {
	if e.Message != "" {
		return "syntax error: " + e.Message
	}
	if len(e.Expected) == 0 {
		return fmt.Sprintf("syntax error: unexpected %s", e.Found)
	}
	names := make([]string, len(e.Expected))
	for i, k := range e.Expected {
		names[i] = k.String()
	}
	return fmt.Sprintf("syntax error: unexpected %s, expected %s", e.Found, strings.Join(names, " or "))
}

// Category reports the parse category.
func (e *ParseError) Category() shellerr.Category { return shellerr.Parse }
