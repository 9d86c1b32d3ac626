package parser_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcarmo/go-nxsh/pkg/shell/ast"
	"github.com/rcarmo/go-nxsh/pkg/shell/parser"
	"github.com/rcarmo/go-nxsh/pkg/shell/shellerr"
	"github.com/rcarmo/go-nxsh/pkg/shell/token"
	"github.com/rcarmo/go-nxsh/pkg/testutil"
)

func mustParse(t *testing.T, src string) *ast.Script {
	t.Helper()
	s, err := parser.Parse(src)
	require.NoError(t, err, src)
	return s
}

func TestPrecedence(t *testing.T) {
	s := mustParse(t, "a | b && c |> d; e &")
	require.Len(t, s.Stmts, 2)

	first := s.Stmts[0]
	assert.False(t, first.Background)
	require.Len(t, first.AndOr.Pipelines, 2)
	assert.Equal(t, []token.Kind{token.AndIf}, first.AndOr.Ops)
	assert.Len(t, first.AndOr.Pipelines[0].Cmds, 2)
	assert.Equal(t, []token.Kind{token.PipeObject}, first.AndOr.Pipelines[1].Ops)

	assert.True(t, s.Stmts[1].Background)
}

func TestRedirectionsAttachToNearestCommand(t *testing.T) {
	s := mustParse(t, "a >out | b 2>>err <in; { c; } >g")
	pl := s.Stmts[0].AndOr.Pipelines[0]
	a := pl.Cmds[0].(*ast.SimpleCommand)
	b := pl.Cmds[1].(*ast.SimpleCommand)
	require.Len(t, a.Redirs, 1)
	assert.Equal(t, ast.ModeWrite, a.Redirs[0].Mode())
	require.Len(t, b.Redirs, 2)
	assert.Equal(t, 2, b.Redirs[0].Source())
	assert.Equal(t, ast.ModeAppend, b.Redirs[0].Mode())
	assert.Equal(t, 0, b.Redirs[1].Source())

	g := s.Stmts[1].AndOr.Pipelines[0].Cmds[0].(*ast.Group)
	require.Len(t, g.Redirs, 1)
	target, _ := g.Redirs[0].Target.Static()
	assert.Equal(t, "g", target)
}

func TestAssignments(t *testing.T) {
	s := mustParse(t, "A=1 B=$x cmd C=3")
	cmd := s.Stmts[0].AndOr.Pipelines[0].Cmds[0].(*ast.SimpleCommand)
	require.Len(t, cmd.Assigns, 2)
	assert.Equal(t, "A", cmd.Assigns[0].Name)
	assert.IsType(t, &ast.VariableRef{}, cmd.Assigns[1].Value.Parts[0])
	require.Len(t, cmd.Words, 2)
	text, _ := cmd.Words[1].Static()
	assert.Equal(t, "C=3", text)
}

func TestSubstitutionsAreSubtrees(t *testing.T) {
	s := mustParse(t, `echo "x $(ls | wc -l) y" <(sort f) $((1 + 2 * 3)) ${v:-d}`)
	words := s.Stmts[0].AndOr.Pipelines[0].Cmds[0].(*ast.SimpleCommand).Words

	dq := words[1].Parts[0].(*ast.DblQuoted)
	cs := dq.Parts[1].(*ast.CommandSubstitution)
	assert.Len(t, cs.Body.Stmts[0].AndOr.Pipelines[0].Cmds, 2)

	ps := words[2].Parts[0].(*ast.ProcessSubstitution)
	assert.False(t, ps.Out)

	ar := words[3].Parts[0].(*ast.Arithmetic)
	bin := ar.Expr.(*ast.Binary)
	assert.Equal(t, "+", bin.Op)
	assert.Equal(t, "*", bin.Y.(*ast.Binary).Op)

	ref := words[4].Parts[0].(*ast.VariableRef)
	assert.Equal(t, "v", ref.Name)
	assert.Equal(t, ":-", ref.Op)
}

func TestNestedSpansAreAbsolute(t *testing.T) {
	src := "echo $(cat file)"
	s := mustParse(t, src)
	cs := s.Stmts[0].AndOr.Pipelines[0].Cmds[0].(*ast.SimpleCommand).Words[1].Parts[0].(*ast.CommandSubstitution)
	inner := cs.Body.Stmts[0].AndOr.Pipelines[0].Cmds[0].(*ast.SimpleCommand).Words[1]
	assert.Equal(t, "file", src[inner.Span.Start:inner.Span.End])
}

func TestCompoundCommands(t *testing.T) {
	s := mustParse(t, `
if test -n "$x"; then echo yes
elif false; then echo maybe
else echo no; fi
while read line; do echo "$line"; done < input
until false; do break; done
for f in a b c; do echo $f; done
for arg; do echo $arg; done
greet() { echo "hello $1"; }
function bye { echo bye; }
(cd /tmp && ls)
`)
	require.Len(t, s.Stmts, 8)
	cmd := func(i int) ast.Command { return s.Stmts[i].AndOr.Pipelines[0].Cmds[0] }

	ifc := cmd(0).(*ast.If)
	assert.Len(t, ifc.Clauses, 2)
	assert.NotNil(t, ifc.Else)

	wh := cmd(1).(*ast.While)
	assert.False(t, wh.Until)
	assert.Len(t, wh.Redirs, 1)
	assert.True(t, cmd(2).(*ast.While).Until)

	fr := cmd(3).(*ast.For)
	assert.True(t, fr.HasIn)
	assert.Len(t, fr.Items, 3)
	assert.False(t, cmd(4).(*ast.For).HasIn)

	fn := cmd(5).(*ast.FunctionDef)
	assert.Equal(t, "greet", fn.Name)
	assert.IsType(t, &ast.Group{}, fn.Body)
	assert.Equal(t, "bye", cmd(6).(*ast.FunctionDef).Name)
	assert.IsType(t, &ast.Subshell{}, cmd(7))
}

func TestHereDocuments(t *testing.T) {
	s := mustParse(t, "cat <<EOF | wc -l\nhello $name\nEOF\ncat <<'RAW'\n$not\nRAW\n")
	first := s.Stmts[0].AndOr.Pipelines[0].Cmds[0].(*ast.SimpleCommand).Redirs[0]
	require.NotNil(t, first.Here)
	assert.Equal(t, "hello $name\n", first.Here.Body)
	require.NotNil(t, first.Here.Word)
	assert.IsType(t, &ast.VariableRef{}, first.Here.Word.Parts[1])

	second := s.Stmts[1].AndOr.Pipelines[0].Cmds[0].(*ast.SimpleCommand).Redirs[0]
	assert.True(t, second.Here.Quoted)
	assert.Nil(t, second.Here.Word)
	assert.Equal(t, "$not\n", second.Here.Body)
}

func TestNegation(t *testing.T) {
	s := mustParse(t, "! grep x f")
	assert.True(t, s.Stmts[0].AndOr.Pipelines[0].Negated)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name       string
		src        string
		start      int
		found      token.Kind
		incomplete bool
	}{
		{"unterminated quote", `echo "unterminated`, 5, token.LexError, true},
		{"dangling pipe", "echo a |", 8, token.EOF, true},
		{"missing fi", "if true; then echo x", 20, token.EOF, true},
		{"stray then", "then echo", 0, token.Then, false},
		{"stray paren", "echo a )", 7, token.RParen, false},
		{"empty group", "{ }", 2, token.RBrace, false},
		{"double semicolon", "a; ; b", 3, token.Semi, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parser.Parse(tt.src)
			var pe *parser.ParseError
			require.True(t, errors.As(err, &pe), "got %v", err)
			assert.Equal(t, tt.start, pe.Span.Start)
			assert.Equal(t, tt.found, pe.Found)
			assert.Equal(t, tt.incomplete, pe.Incomplete)
			cat, ok := shellerr.CategoryOf(err)
			assert.True(t, ok)
			assert.Equal(t, shellerr.Parse, cat)
		})
	}
}

func TestExpectedKinds(t *testing.T) {
	_, err := parser.Parse("for x in a b; echo $x; done")
	var pe *parser.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Expected, token.Do)
	assert.Contains(t, err.Error(), "'do'")
}

func TestBadSubstitution(t *testing.T) {
	_, err := parser.Parse("echo ${%x}")
	var pe *parser.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Message, "bad substitution")
	assert.Equal(t, 5, pe.Span.Start)
}

var roundTrip = []string{
	"echo hi | cat",
	"false; echo $?",
	"sleep 5 &",
	"yes | head -n 3",
	"alias ll='ls -la'; ll",
	`echo 'it''s' "a \"b\" $c" d\ e`,
	"a && b || ! c |> d ||> e",
	"x=1 y=\"$x\" env >out 2>&1 <in",
	"cat <<EOF\nbody $x\nEOF",
	"cat <<-'X' | tr a b\n\tquoted\n\tX",
	"if a; then b; elif c; then d; else e; fi > log",
	"while read l; do echo \"$l\"; done < f",
	"for i in 1 2 3; do echo $i & done",
	"f() { echo $1; }; f x",
	"(cd /tmp; ls) | wc -l",
	"echo $(echo $(echo deep)) `date` <(ls) >(cat)",
	"echo $((1 + 2 * (3 - 4) / -5 % 6)) $((a < b && !c))",
	"echo ${x:-default value} ${#y} ${z:=w} ${1} $@ $# $$",
	"echo {a,b}{1..3} ~/x *.go",
	"echo a#b # trailing comment",
	"echo a$`echo x` \\$HOME",
}

func TestRenderRoundTrip(t *testing.T) {
	for _, src := range roundTrip {
		t.Run(src, func(t *testing.T) {
			first := mustParse(t, src)
			rendered := ast.Render(first)
			second, err := parser.Parse(rendered)
			require.NoError(t, err, "rendered: %q", rendered)
			assert.Equal(t, rendered, ast.Render(second))

			ast.ClearPos(first)
			ast.ClearPos(second)
			assert.Equal(t, first, second, "rendered: %q", rendered)
		})
	}
}

func TestWalkVisitsSubstitutions(t *testing.T) {
	s := mustParse(t, "echo $(a | b) && c")
	var names []string
	ast.Walk(s, func(n ast.Node) bool {
		if sc, ok := n.(*ast.SimpleCommand); ok {
			name, _ := sc.Words[0].Static()
			names = append(names, name)
		}
		return true
	})
	assert.Equal(t, []string{"echo", "a", "b", "c"}, names)
}

func TestSeedsRoundTrip(t *testing.T) {
	for _, src := range testutil.FuzzSeeds {
		t.Run(src, func(t *testing.T) { testutil.CheckParse(t, src) })
	}
}

func TestEscapedDollarIsLiteral(t *testing.T) {
	s := mustParse(t, `echo \$HOME a$`)
	sc := s.Stmts[0].AndOr.Pipelines[0].Cmds[0].(*ast.SimpleCommand)
	for i, want := range []string{"$HOME", "a$"} {
		got, ok := sc.Words[i+1].Bare()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func FuzzParse(f *testing.F) {
	for _, src := range roundTrip {
		f.Add(src)
	}
	for _, src := range testutil.FuzzSeeds {
		f.Add(src)
	}
	f.Fuzz(testutil.CheckParse)
}

func TestParseTokensMatchesParse(t *testing.T) {
	src := "a | b && c\ncat <<EOF\nx\nEOF\n"
	fromTokens, err := parser.ParseTokens(src, token.Tokenize(src))
	require.NoError(t, err)
	assert.True(t, ast.Equal(mustParse(t, src), fromTokens))

	_, err = parser.ParseTokens(`echo "open`, token.Tokenize(`echo "open`))
	var pe *parser.ParseError
	require.ErrorAs(t, err, &pe)
	assert.True(t, pe.Incomplete)
}
