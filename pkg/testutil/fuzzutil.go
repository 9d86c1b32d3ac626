package testutil

import (
	"errors"
	"testing"

	"github.com/rcarmo/go-nxsh/pkg/shell/ast"
	"github.com/rcarmo/go-nxsh/pkg/shell/parser"
	"github.com/rcarmo/go-nxsh/pkg/shell/token"
)

// MaxFuzzBytes bounds fuzz inputs.
const MaxFuzzBytes = 2048

// ClampString truncates data to max bytes.
func ClampString(data string, max int) string {
	if len(data) > max {
		return data[:max]
	}
	return data
}

// FuzzSeeds are shell fragments covering the grammar.
var FuzzSeeds = []string{
	"echo hi",
	"a=1 b=2 env | grep a",
	"ls -l | head -n 3 > out.txt 2>&1",
	"if true; then echo y; else echo n; fi",
	"while false; do :; done",
	"for x in a b c; do echo $x; done",
	"f() { echo \"$@\"; }; f 1 2",
	"echo $(echo nested) ${HOME:-/} $((1 + 2 * 3))",
	"cat <<EOF\nbody $x\nEOF\n",
	"diff <(ls) >(cat)",
	"sleep 1 & wait",
	"echo 'unterminated",
	"( cd /tmp && pwd ) || echo fail",
	"from-json |> where age gt 3 ||> to-json",
	"echo a$`echo x` \\$HOME $",
}

// CheckParse tokenizes and parses src and checks the invariants that hold
// for any input: the token stream ends in EOF or a lex error with spans
// inside the input, errors are ParseErrors, and rendering a successful
// parse parses back to an equal tree.
func CheckParse(t *testing.T, src string) {
	t.Helper()
	src = ClampString(src, MaxFuzzBytes)
	toks := token.Tokenize(src)
	if len(toks) == 0 {
		t.Fatal("no tokens")
	}
	if last := toks[len(toks)-1].Kind; last != token.EOF && last != token.LexError {
		t.Fatalf("token stream ends with %v", last)
	}
	for _, tok := range toks {
		if tok.Span.Start < 0 || tok.Span.End > len(src) || tok.Span.Start > tok.Span.End {
			t.Fatalf("token %v has span %v outside input of length %d", tok.Kind, tok.Span, len(src))
		}
	}
	script, err := parser.Parse(src)
	if err != nil {
		var pe *parser.ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("parse error has type %T: %v", err, err)
		}
		if pe.Span.Start > len(src) || pe.Span.End > len(src)+1 {
			t.Fatalf("error span %v outside input of length %d", pe.Span, len(src))
		}
		return
	}
	text := ast.Render(script)
	again, err := parser.Parse(text)
	if err != nil {
		t.Fatalf("rendering %q of %q does not parse: %v", text, src, err)
	}
	if !ast.Equal(script, again) {
		t.Fatalf("render does not round-trip:\nfirst:  %q\nsecond: %q", text, ast.Render(again))
	}
}
