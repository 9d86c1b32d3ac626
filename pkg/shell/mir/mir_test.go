package mir

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcarmo/go-nxsh/pkg/shell/alias"
	"github.com/rcarmo/go-nxsh/pkg/shell/expand"
	"github.com/rcarmo/go-nxsh/pkg/shell/parser"
	"github.com/rcarmo/go-nxsh/pkg/shell/shellerr"
)

// testHost runs a handful of fake commands and writes their output to a
// buffer.
type testHost struct {
	m         *Machine
	vars      map[string]string
	funcs     map[string]FuncID
	out       *strings.Builder
	cfg       expand.Config
	truncated []string
	execs     int
}

func newTestHost(m *Machine) *testHost {
	return &testHost{m: m, vars: map[string]string{}, funcs: map[string]FuncID{}, out: &strings.Builder{}}
}

func (h *testHost) Var(name string) (string, bool) {
	v, ok := h.vars[name]
	return v, ok
}

func (h *testHost) SetVar(name, value string) error {
	h.vars[name] = value
	return nil
}

func (h *testHost) Define(name string, _ *Program, fn FuncID) { h.funcs[name] = fn }

func (h *testHost) ExpandConfig() expand.Config { return h.cfg }

func (h *testHost) Truncated(text string) { h.truncated = append(h.truncated, text) }

func (h *testHost) Substitute(ctx context.Context, f *Frame, prog *Program, fn FuncID) (string, error) {
	saved := h.out
	h.out = &strings.Builder{}
	defer func() { h.out = saved }()
	child := &Frame{Host: h, Name: f.Name, Params: f.Params, Status: f.Status}
	_, err := h.m.Call(ctx, prog, fn, child)
	return h.out.String(), err
}

func (h *testHost) ProcessSubst(context.Context, *Frame, *Program, FuncID, bool) (string, error) {
	return "/dev/fd/63", nil
}

func (h *testHost) Exec(ctx context.Context, f *Frame, prog *Program, p *Pipeline, cmds []*Command) (int, error) {
	h.execs++
	status := 0
	for _, c := range cmds {
		var err error
		status, err = h.run(ctx, f, prog, c)
		if err != nil {
			return status, err
		}
	}
	if p.Negated {
		return int(boolInt(status == 0)), nil
	}
	return status, nil
}

func (h *testHost) run(ctx context.Context, f *Frame, prog *Program, c *Command) (int, error) {
	if c.Err != nil {
		return 1, nil
	}
	if c.Body != NoFunc {
		return h.m.Call(ctx, prog, c.Body, f)
	}
	if len(c.Args) == 0 {
		return 0, nil
	}
	args := c.Args[1:]
	if fn, ok := h.funcs[c.Args[0]]; ok {
		return h.m.Call(ctx, prog, fn, &Frame{Host: h, Name: c.Args[0], Params: args})
	}
	switch c.Args[0] {
	case "echo":
		h.out.WriteString(strings.Join(args, " ") + "\n")
	case "true", ":":
	case "false":
		return 1, nil
	case "eq":
		return int(boolInt(args[0] != args[1])), nil
	case "lt":
		x, _ := strconv.Atoi(args[0])
		y, _ := strconv.Atoi(args[1])
		return int(boolInt(x >= y)), nil
	default:
		return 127, nil
	}
	return 0, nil
}

func lower(t *testing.T, src string) *Program {
	t.Helper()
	script, err := parser.Parse(src)
	require.NoError(t, err, src)
	prog, err := Lower(script)
	require.NoError(t, err, src)
	return prog
}

func runProgram(t *testing.T, m *Machine, prog *Program) (string, int, error) {
	t.Helper()
	h := newTestHost(m)
	status, err := m.Call(context.Background(), prog, 0, &Frame{Host: h, Name: "nxsh"})
	return h.out.String(), status, err
}

var pureBuiltins = func(name string) bool { return name == "echo" || name == "true" || name == ":" }

var scripts = []struct {
	src    string
	out    string
	status int
}{
	{"echo a b", "a b\n", 0},
	{"true && echo yes || echo no", "yes\n", 0},
	{"false && echo yes || echo no", "no\n", 0},
	{"false; echo $?", "1\n", 0},
	{"! true", "", 1},
	{"x=3; echo $x ${x:-d} ${y:-d}", "3 3 d\n", 0},
	{"x=${y:=z}; echo $x $y", "z z\n", 0},
	{"echo ${x+set} ${#v}", "0\n", 0},
	{"for i in 1 2 3; do echo $i; done", "1\n2\n3\n", 0},
	{"i=0; while lt $i 3; do echo $i; i=$((i+1)); done", "0\n1\n2\n", 0},
	{"until lt 0 0; do echo once; break; done", "once\n", 0},
	{"for i in a b c; do if eq $i b; then break; fi; echo $i; done; echo $?", "a\n0\n", 0},
	{"for i in a b c; do if eq $i b; then continue; fi; echo $i; done", "a\nc\n", 0},
	{"for i in 1 2; do for j in x y; do if eq $j y; then continue 2; fi; echo $i$j; done; done", "1x\n2x\n", 0},
	{"f() { echo in $1 $#; }; f x y", "in x 2\n", 0},
	{"echo $(echo inner)", "inner\n", 0},
	{`echo "$((2*3+1))" $((7%4))`, "7 3\n", 0},
	{"echo {a,b}c x{1..3}", "ac bc x1 x2 x3\n", 0},
	{"if false; then echo a; elif true; then echo b; else echo c; fi", "b\n", 0},
	{"if false; then echo a; fi", "", 0},
	{"for i in a b; do false; done", "", 1},
	{"echo a | echo b", "a\nb\n", 0},
	{"missing", "", 127},
}

func TestRunInterpreted(t *testing.T) {
	for _, tc := range scripts {
		out, status, err := runProgram(t, NewMachine(), lower(t, tc.src))
		require.NoError(t, err, tc.src)
		assert.Equal(t, tc.out, out, tc.src)
		assert.Equal(t, tc.status, status, tc.src)
	}
}

func TestRunCompiledMatchesInterpreter(t *testing.T) {
	for _, tc := range scripts {
		prog := lower(t, tc.src)
		m := NewMachine(WithJIT(true, 1))
		// Run twice so blocks compiled during the first pass execute compiled
		// in the second.
		for range 2 {
			out, status, err := runProgram(t, m, prog)
			require.NoError(t, err, tc.src)
			assert.Equal(t, tc.out, out, tc.src)
			assert.Equal(t, tc.status, status, tc.src)
		}
		assert.Zero(t, prog.Stats().Fallbacks, tc.src)
	}
}

func TestOptimizedMatchesUnoptimized(t *testing.T) {
	for _, tc := range scripts {
		if strings.Contains(tc.src, "|") {
			continue
		}
		prog := Optimize(lower(t, tc.src), Options{Pure: pureBuiltins})
		out, status, err := runProgram(t, NewMachine(WithJIT(true, 2)), prog)
		require.NoError(t, err, tc.src)
		assert.Equal(t, tc.out, out, tc.src)
		assert.Equal(t, tc.status, status, tc.src)
	}
}

func TestRuntimeErrors(t *testing.T) {
	for _, tc := range []struct {
		src  string
		kind shellerr.RuntimeKind
	}{
		{"echo $((1/0))", shellerr.Arithmetic},
		{"echo $((5%0))", shellerr.Arithmetic},
		{": ${u:?gone}", shellerr.BadSubstitution},
		{"x=abc; echo $((x+1))", shellerr.Arithmetic},
	} {
		for _, jit := range []bool{false, true} {
			_, _, err := runProgram(t, NewMachine(WithJIT(jit, 1)), lower(t, tc.src))
			var re *shellerr.RuntimeError
			require.ErrorAs(t, err, &re, tc.src)
			assert.Equal(t, tc.kind, re.Kind, tc.src)
		}
	}
}

func TestParameterErrorMessage(t *testing.T) {
	_, _, err := runProgram(t, NewMachine(), lower(t, ": ${u:?gone}"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "u: gone")
}

func TestLowerShapes(t *testing.T) {
	dump := lower(t, "a && b").Dump()
	assert.Contains(t, dump, "status")
	assert.Contains(t, dump, "branch v")

	dump = lower(t, "x=1").Dump()
	assert.Contains(t, dump, "assign v")
	assert.NotContains(t, dump, "exec")

	prog := lower(t, "f() { echo hi; }")
	assert.Contains(t, prog.Dump(), "define f f1")
	require.Len(t, prog.Funcs, 2)
	assert.Equal(t, FuncBody, prog.Funcs[1].Kind)

	prog = lower(t, "echo ${x:-$(pwd)}")
	kinds := map[FuncKind]int{}
	for _, fn := range prog.Funcs {
		kinds[fn.Kind]++
	}
	assert.Equal(t, 1, kinds[FuncArg])
	assert.Equal(t, 1, kinds[FuncSubst])

	prog = lower(t, "sleep 1 &")
	require.Len(t, prog.Funcs[0].Blocks[0].Instrs, 7)
	assert.Contains(t, prog.Dump(), "&")

	prog = lower(t, "while true; do :; done")
	assert.Equal(t, 1, prog.Funcs[0].Slots)
	assert.Len(t, prog.Funcs[0].Blocks, 4)
}

func TestOptimizeFoldsConstants(t *testing.T) {
	prog := Optimize(lower(t, `echo "$((2*3))" done`), Options{})
	dump := prog.Dump()
	assert.Contains(t, dump, `[["echo"] ["6"] ["done"]]`)
	assert.NotContains(t, dump, "binary")
	assert.Len(t, prog.Funcs[0].Blocks[0].Instrs, 1)

	prog = Optimize(lower(t, `echo "$((1/0))"`), Options{})
	assert.Contains(t, prog.Dump(), "binary", "division by zero is left for run time")

	prog = Optimize(lower(t, "echo {a,b}"), Options{})
	assert.Contains(t, prog.Dump(), `["a" "b"]`)

	prog = Optimize(lower(t, "echo *.go ~"), Options{})
	assert.Contains(t, prog.Dump(), "fields", "globs and tildes depend on the environment")
}

func TestOptimizeDeadPipes(t *testing.T) {
	opts := Options{Pure: pureBuiltins}
	prog := Optimize(lower(t, "echo a | echo b"), opts)
	dump := prog.Dump()
	assert.Contains(t, dump, `[["echo"] ["b"]]`)
	assert.NotContains(t, dump, `["a"]`)

	prog = Optimize(lower(t, "echo a | echo b | echo c"), opts)
	assert.NotContains(t, prog.Dump(), "'|'")

	for _, src := range []string{
		"echo $x | echo b",
		"echo a >f | echo b",
		"echo a | cat",
		"cat f | echo b",
		"echo() { :; }; echo a | echo b",
		"x=1 echo a | echo b",
	} {
		prog := Optimize(lower(t, src), opts)
		assert.Contains(t, prog.Dump(), "'|'", src)
	}
	prog = Optimize(lower(t, "echo a ||> echo b"), opts)
	assert.Contains(t, prog.Dump(), "'||>'", "structured stages are kept")
}

func TestOptimizeAliases(t *testing.T) {
	table := alias.New(map[string]string{"ll": "ls -l", "a": "b", "b": "a"})
	opts := Options{Aliases: table.Snapshot()}

	prog := Optimize(lower(t, "ll /tmp"), opts)
	assert.Contains(t, prog.Dump(), `[["ls" "-l"] ["/tmp"] alias]`)
	assert.True(t, prog.AliasesDone)
	assert.Equal(t, table.Snapshot().Version(), prog.AliasVersion)

	prog = Optimize(lower(t, "a"), opts)
	assert.NotContains(t, prog.Dump(), "alias]", "cycles are left to run time")
	assert.False(t, prog.AliasesDone)

	for _, src := range []string{
		"alias x=y; ll",
		"$cmd; ll",
		"ll() { :; }; ll",
	} {
		prog := Optimize(lower(t, src), opts)
		assert.NotContains(t, prog.Dump(), `"ls"`, src)
	}

	opts.IsFunction = func(name string) bool { return name == "ll" }
	prog = Optimize(lower(t, "ll"), opts)
	assert.NotContains(t, prog.Dump(), `"ls"`)
}

func TestOptimizeIsIdempotent(t *testing.T) {
	table := alias.New(map[string]string{"ll": "ls -l"})
	opts := Options{Aliases: table.Snapshot(), Pure: pureBuiltins}
	for _, tc := range scripts {
		prog := Optimize(lower(t, tc.src), opts)
		once := prog.Dump()
		assert.Equal(t, once, Optimize(prog, opts).Dump(), tc.src)
	}
	prog := Optimize(lower(t, "ll | echo x; echo $((1+2))"), opts)
	once := prog.Dump()
	assert.Equal(t, once, Optimize(prog, opts).Dump())
}

type countingObserver struct{ compiled, fallbacks int }

func (o *countingObserver) JITCompiled() { o.compiled++ }
func (o *countingObserver) JITFallback() { o.fallbacks++ }

func TestJITCompilesHotBlocks(t *testing.T) {
	obs := &countingObserver{}
	prog := lower(t, "for i in 1 2 3 4 5; do echo $i; done")
	m := NewMachine(WithJIT(true, 3), WithObserver(obs))
	out, _, err := runProgram(t, m, prog)
	require.NoError(t, err)
	assert.Equal(t, "1\n2\n3\n4\n5\n", out)
	stats := prog.Stats()
	assert.Positive(t, stats.Compiled)
	assert.Equal(t, stats.Compiled, obs.compiled)
	assert.Contains(t, stats.String(), "compiled=")
}

func TestJITDisabledNeverCompiles(t *testing.T) {
	prog := lower(t, "for i in 1 2 3 4 5; do echo $i; done")
	_, _, err := runProgram(t, NewMachine(), prog)
	require.NoError(t, err)
	assert.Zero(t, prog.Stats().Compiled)
}

func TestJITFallsBackToInterpreter(t *testing.T) {
	compileFault = func(*Block) error { return errors.New("unsupported") }
	t.Cleanup(func() { compileFault = nil })

	obs := &countingObserver{}
	prog := lower(t, "i=0; while lt $i 4; do echo $i; i=$((i+1)); done")
	out, _, err := runProgram(t, NewMachine(WithJIT(true, 1), WithObserver(obs)), prog)
	require.NoError(t, err)
	assert.Equal(t, "0\n1\n2\n3\n", out)
	stats := prog.Stats()
	assert.Zero(t, stats.Compiled)
	assert.Positive(t, stats.Fallbacks)
	assert.Equal(t, stats.Fallbacks, obs.fallbacks)
}

func TestCompileRejectsMalformedBlocks(t *testing.T) {
	b := &Block{Instrs: []Instr{{Op: OpItoa, Args: []ValueID{3}}}}
	_, err := compileBlock(b)
	assert.Error(t, err)

	b = &Block{Instrs: []Instr{{Op: OpBinary, Str: "**", Args: []ValueID{}}}}
	_, err = compileBlock(b)
	assert.Error(t, err)

	b = &Block{Term: Term{Kind: TermBranch, Cond: 5}}
	_, err = compileBlock(b)
	assert.Error(t, err)
}

func TestCancelledContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := newTestHost(NewMachine())
	_, err := h.m.Call(ctx, lower(t, "echo a"), 0, &Frame{Host: h})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, h.execs)
}

func TestFieldCapTruncates(t *testing.T) {
	m := NewMachine()
	h := newTestHost(m)
	h.cfg.MaxFields = 3
	_, err := m.Call(context.Background(), lower(t, "echo {1..10}"), 0, &Frame{Host: h})
	require.NoError(t, err)
	assert.NotEmpty(t, h.truncated)
	assert.Equal(t, "1 2\n", h.out.String())
}

func TestAmbiguousRedirectFailsStage(t *testing.T) {
	m := NewMachine()
	h := newTestHost(m)
	status, err := m.Call(context.Background(), lower(t, "echo a > {x,y}"), 0, &Frame{Host: h})
	require.NoError(t, err)
	assert.Equal(t, 1, status)
	assert.Empty(t, h.out.String())
}
