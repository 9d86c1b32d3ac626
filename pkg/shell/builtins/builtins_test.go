package builtins_test

import (
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcarmo/go-nxsh/pkg/core"
	"github.com/rcarmo/go-nxsh/pkg/sandbox"
	"github.com/rcarmo/go-nxsh/pkg/shell/builtins"
	"github.com/rcarmo/go-nxsh/pkg/shell/engine"
	"github.com/rcarmo/go-nxsh/pkg/testutil"
)

func TestEcho(t *testing.T) {
	tests := []testutil.ScriptTestCase{
		{Name: "no_args", Script: "echo", WantOut: "\n"},
		{Name: "words", Script: "echo hello   world", WantOut: "hello world\n"},
		{Name: "no_newline", Script: "echo -n hello", WantOut: "hello"},
		{Name: "escape_newline", Script: `echo -e 'a\nb'`, WantOut: "a\nb\n"},
		{Name: "escape_disabled", Script: `echo -E 'a\nb'`, WantOut: "a\\nb\n"},
		{Name: "escape_stop", Script: `echo -e 'hi\cbye'`, WantOut: "hi"},
		{Name: "escape_octal", Script: `echo -e '\0101'`, WantOut: "A\n"},
		{Name: "escape_hex", Script: `echo -e '\x42'`, WantOut: "B\n"},
		{Name: "not_a_flag", Script: "echo -x hi", WantOut: "-x hi\n"},
		{Name: "double_dash", Script: "echo -- -n", WantOut: "-- -n\n"},
	}
	testutil.RunScriptTests(t, tests)
}

func TestTrueFalse(t *testing.T) {
	tests := []testutil.ScriptTestCase{
		{Name: "true", Script: "true", WantCode: core.ExitSuccess},
		{Name: "colon", Script: ":", WantCode: core.ExitSuccess},
		{Name: "false", Script: "false", WantCode: core.ExitFailure},
		{Name: "status", Script: "false; echo $?", WantOut: "1\n"},
	}
	testutil.RunScriptTests(t, tests)
}

func TestCat(t *testing.T) {
	tests := []testutil.ScriptTestCase{
		{Name: "stdin", Script: "cat", Input: "a\nb\n", WantOut: "a\nb\n"},
		{Name: "files", Script: "cat one.txt two.txt", Files: map[string]string{"one.txt": "1\n", "two.txt": "2\n"}, WantOut: "1\n2\n"},
		{Name: "dash", Script: "cat one.txt - one.txt", Input: "x\n", Files: map[string]string{"one.txt": "1\n"}, WantOut: "1\nx\n1\n"},
		{Name: "number", Script: "cat -n", Input: "a\nb\n", WantOut: "     1\ta\n     2\tb\n"},
		{
			Name:     "missing",
			Script:   "cat nope.txt",
			WantCode: core.ExitFailure,
			WantErr:  "cat: nope.txt",
		},
		{Name: "bad_flag", Script: "cat -z", WantCode: core.ExitUsage},
	}
	testutil.RunScriptTests(t, tests)
}

func TestHead(t *testing.T) {
	input := "1\n2\n3\n4\n5\n6\n7\n8\n9\n10\n11\n12\n"
	tests := []testutil.ScriptTestCase{
		{Name: "default", Script: "head", Input: input, WantOut: "1\n2\n3\n4\n5\n6\n7\n8\n9\n10\n"},
		{Name: "lines", Script: "head -n 2", Input: input, WantOut: "1\n2\n"},
		{Name: "bytes", Script: "head -c 3", Input: input, WantOut: "1\n2"},
		{
			Name:    "headers",
			Script:  "head -n 1 a b",
			Files:   map[string]string{"a": "x\ny\n", "b": "z\n"},
			WantOut: "==> a <==\nx\n\n==> b <==\nz\n",
		},
		{Name: "after_yes", Script: "yes | head -n 3", WantOut: "y\ny\ny\n"},
		{Name: "yes_words", Script: "yes a b | head -n 2", WantOut: "a b\na b\n"},
	}
	testutil.RunScriptTests(t, tests)
}

func TestSleep(t *testing.T) {
	tests := []testutil.ScriptTestCase{
		{Name: "zero", Script: "sleep 0", WantCode: core.ExitSuccess},
		{Name: "fraction", Script: "sleep 0.01s", WantCode: core.ExitSuccess},
		{Name: "missing", Script: "sleep", WantCode: core.ExitUsage},
		{Name: "invalid", Script: "sleep soon", WantCode: core.ExitFailure, WantErr: "invalid number"},
	}
	testutil.RunScriptTests(t, tests)
}

func TestDirectories(t *testing.T) {
	tests := []testutil.ScriptTestCase{
		{
			Name:       "cd_relative",
			Script:     "cd sub && pwd",
			Files:      map[string]string{"sub/keep": ""},
			WantOutSub: string(filepath.Separator) + "sub\n",
		},
		{
			Name:       "cd_updates_pwd",
			Script:     "cd sub; echo $PWD",
			Files:      map[string]string{"sub/keep": ""},
			WantOutSub: string(filepath.Separator) + "sub\n",
		},
		{Name: "cd_missing", Script: "cd nowhere", WantCode: core.ExitFailure, WantErr: "cd: nowhere"},
		{Name: "cd_file", Script: "cd f", Files: map[string]string{"f": ""}, WantCode: core.ExitFailure, WantErr: "not a directory"},
		{Name: "cd_too_many", Script: "cd a b", WantCode: core.ExitFailure, WantErr: "too many arguments"},
	}
	testutil.RunScriptTests(t, tests)
}

func TestCdHome(t *testing.T) {
	sh := testutil.NewShell(t, "", "")
	res := sh.Run(t, "cd /; cd; pwd")
	assert.Equal(t, core.ExitSuccess, res.ExitCode)
	assert.Equal(t, sh.Dir+"\n", sh.Out.String())
	assert.Equal(t, sh.Dir, sh.Session().Dir())
}

func TestCdDash(t *testing.T) {
	dir := testutil.TempDirWithFiles(t, map[string]string{"sub/keep": ""})
	sh := testutil.NewShell(t, dir, "")
	res := sh.Run(t, "cd sub; cd -")
	assert.Equal(t, core.ExitSuccess, res.ExitCode)
	assert.Equal(t, dir+"\n", sh.Out.String())
	assert.Equal(t, dir, sh.Session().Dir())
}

func TestExitAndReturn(t *testing.T) {
	tests := []testutil.ScriptTestCase{
		{Name: "exit_status", Script: "exit 3; echo no", WantCode: 3},
		{Name: "exit_wraps", Script: "exit 258", WantCode: 2},
		{Name: "exit_last", Script: "false; exit", WantCode: 1},
		{Name: "exit_bad", Script: "exit x", WantCode: core.ExitUsage, WantErr: "numeric argument required"},
		{Name: "exit_subshell", Script: "(exit 4); echo $?", WantOut: "4\n"},
		{Name: "return", Script: "f() { return 5; echo no; }; f; echo $?", WantOut: "5\n"},
		{Name: "return_outside", Script: "return", WantCode: core.ExitFailure, WantErr: "can only `return' from a function"},
		{Name: "break_outside", Script: "break; echo after", WantOut: "after\n", WantErr: "only meaningful in a loop"},
	}
	testutil.RunScriptTests(t, tests)
}

func TestVariables(t *testing.T) {
	tests := []testutil.ScriptTestCase{
		{Name: "export_lists", Script: "export GREETING=hi; export -p", WantOutSub: "export GREETING=hi\n"},
		{Name: "export_invalid", Script: "export 1x=2", WantCode: core.ExitFailure, WantErr: "not a valid identifier"},
		{Name: "unset", Script: "x=1; unset x; echo \"[$x]\"", WantOut: "[]\n"},
		{Name: "unset_function", Script: "f() { echo f; }; unset -f f; type f", WantCode: core.ExitFailure},
		{Name: "set_positional", Script: "set -- a b c; echo $# $2", WantOut: "3 b\n"},
		{Name: "set_words", Script: "set x y; echo $1$2", WantOut: "xy\n"},
		{Name: "set_lists", Script: "ANSWER=42; set", WantOutSub: "ANSWER=42\n"},
		{Name: "set_option", Script: "set -o pipefail; set -o", WantOutSub: "pipefail       on\n"},
		{Name: "set_plus_o", Script: "set +o", WantOutSub: "set +o noglob\n"},
		{Name: "set_bad_option", Script: "set -o nosuch", WantCode: core.ExitUsage, WantErr: "invalid option name"},
		{Name: "noglob", Script: "set -f; echo *.txt; echo $-", Files: map[string]string{"a.txt": ""}, WantOut: "*.txt\nf\n"},
		{Name: "glob", Script: "echo *.txt", Files: map[string]string{"a.txt": "", "b.txt": ""}, WantOut: "a.txt b.txt\n"},
	}
	testutil.RunScriptTests(t, tests)
}

func TestRead(t *testing.T) {
	tests := []testutil.ScriptTestCase{
		{Name: "fields", Script: `read a b; echo "$a|$b"`, Input: "one two three\n", WantOut: "one|two three\n"},
		{Name: "reply", Script: `read; echo "$REPLY"`, Input: "  kept  \n", WantOut: "  kept  \n"},
		{Name: "eof", Script: "read x; echo $?", WantOut: "1\n"},
		{Name: "partial_line", Script: `read x; echo "$? $x"`, Input: "tail", WantOut: "1 tail\n"},
		{Name: "continuation", Script: `read x; echo "$x"`, Input: "a\\\nb\n", WantOut: "ab\n"},
		{Name: "raw", Script: `read -r x; echo "$x"`, Input: "a\\b\n", WantOut: "a\\b\n"},
		{Name: "lines", Script: `read a; read b; echo "$b$a"`, Input: "1\n2\n", WantOut: "21\n"},
		{Name: "ifs", Script: `IFS=: read a b; echo "$a $b"`, Input: "x:y\n", WantOut: "x y\n"},
		{Name: "prompt", Script: "read -p 'name? ' n", Input: "z\n", WantErr: "name? "},
		{Name: "invalid_name", Script: "read 9", WantCode: core.ExitFailure, WantErr: "not a valid identifier"},
	}
	testutil.RunScriptTests(t, tests)
}

func TestAlias(t *testing.T) {
	tests := []testutil.ScriptTestCase{
		{Name: "define_and_use", Script: "alias greet='echo hello'\ngreet world", WantOut: "hello world\n"},
		{Name: "print", Script: "alias ll='ls -l'; alias ll", WantOut: "alias ll='ls -l'\n"},
		{Name: "list", Script: "alias b=y a=x; alias", WantOut: "alias a=x\nalias b=y\n"},
		{Name: "missing", Script: "alias nope", WantCode: core.ExitFailure, WantErr: "nope: not found"},
		{Name: "invalid", Script: "alias 'a b=c'", WantCode: core.ExitFailure, WantErr: "invalid alias name"},
		{Name: "unalias", Script: "alias a=x; unalias a; alias", WantOut: ""},
		{Name: "unalias_all", Script: "alias a=x b=y; unalias -a; alias", WantOut: ""},
		{Name: "unalias_missing", Script: "unalias nope", WantCode: core.ExitFailure},
		{Name: "self_reference", Script: "alias echo='echo x'\necho y", WantCode: core.ExitFailure, WantErr: "alias cycle: echo -> echo"},
		{Name: "cycle", Script: "alias a=b b=a\na", WantCode: core.ExitFailure, WantErr: "alias cycle: a -> b -> a"},
		{Name: "chain", Script: "alias a=b b='echo x'\na y", WantOut: "x y\n"},
	}
	testutil.RunScriptTests(t, tests)
}

func TestType(t *testing.T) {
	tests := []testutil.ScriptTestCase{
		{Name: "builtin", Script: "type cd", WantOut: "cd is a shell builtin\n"},
		{Name: "function", Script: "f() { :; }; type f", WantOut: "f is a function\n"},
		{Name: "alias", Script: "alias l='ls -l'; type l", WantOut: "l is an alias for ls -l\n"},
		{Name: "missing", Script: "type no-such-command", WantCode: core.ExitFailure, WantErr: "not found"},
	}
	testutil.RunScriptTests(t, tests)
}

func TestEval(t *testing.T) {
	tests := []testutil.ScriptTestCase{
		{Name: "simple", Script: "eval echo hi", WantOut: "hi\n"},
		{Name: "assign", Script: "eval 'x=5'; echo $x", WantOut: "5\n"},
		{Name: "status", Script: "eval false", WantCode: core.ExitFailure},
		{Name: "empty", Script: "eval", WantCode: core.ExitSuccess},
		{Name: "syntax", Script: "eval 'if'", WantCode: core.ExitUsage},
	}
	testutil.RunScriptTests(t, tests)
}

func TestTest(t *testing.T) {
	files := map[string]string{"file.txt": "data", "empty.txt": "", "dir/keep": ""}
	tests := []testutil.ScriptTestCase{
		{Name: "empty", Script: "test", WantCode: core.ExitFailure},
		{Name: "string", Script: "test abc", WantCode: core.ExitSuccess},
		{Name: "z", Script: `test -z ""`, WantCode: core.ExitSuccess},
		{Name: "n", Script: `test -n ""`, WantCode: core.ExitFailure},
		{Name: "equal", Script: "test a = a", WantCode: core.ExitSuccess},
		{Name: "not_equal", Script: "test a != a", WantCode: core.ExitFailure},
		{Name: "less", Script: `test a '<' b`, WantCode: core.ExitSuccess},
		{Name: "eq", Script: "test 10 -eq 10", WantCode: core.ExitSuccess},
		{Name: "lt", Script: "test 2 -lt 10", WantCode: core.ExitSuccess},
		{Name: "ge", Script: "test 2 -ge 10", WantCode: core.ExitFailure},
		{Name: "not_integer", Script: "test a -eq 1", WantCode: core.ExitUsage, WantErr: "integer expression expected"},
		{Name: "negate", Script: "test ! a = b", WantCode: core.ExitSuccess},
		{Name: "and", Script: "test a = a -a b = c", WantCode: core.ExitFailure},
		{Name: "or", Script: "test a = b -o b = b", WantCode: core.ExitSuccess},
		{Name: "parens", Script: `test '(' a = a ')'`, WantCode: core.ExitSuccess},
		{Name: "file", Script: "test -f file.txt", Files: files, WantCode: core.ExitSuccess},
		{Name: "file_is_dir", Script: "test -f dir", Files: files, WantCode: core.ExitFailure},
		{Name: "dir", Script: "test -d dir", Files: files, WantCode: core.ExitSuccess},
		{Name: "exists", Script: "test -e nope", Files: files, WantCode: core.ExitFailure},
		{Name: "size", Script: "test -s file.txt && ! test -s empty.txt", Files: files, WantCode: core.ExitSuccess},
		{Name: "bracket", Script: "[ 1 -lt 2 ]", WantCode: core.ExitSuccess},
		{Name: "bracket_missing", Script: "[ 1 -lt 2", WantCode: core.ExitUsage, WantErr: "missing ]"},
		{Name: "bad_unary", Script: "test -q x", WantCode: core.ExitUsage, WantErr: "unary operator expected"},
		{Name: "in_if", Script: "if [ -d dir ]; then echo yes; fi", Files: files, WantOut: "yes\n"},
	}
	testutil.RunScriptTests(t, tests)
}

func TestAwk(t *testing.T) {
	tests := []testutil.ScriptTestCase{
		{Name: "fields", Script: "awk '{ print $2 }'", Input: "a b\nc d\n", WantOut: "b\nd\n"},
		{Name: "separator", Script: "awk -F: '{ print $1 }' data", Files: map[string]string{"data": "x:1\ny:2\n"}, WantOut: "x\ny\n"},
		{Name: "var", Script: "awk -v n=3 'BEGIN { print n * 2 }'", WantOut: "6\n"},
		{Name: "progfile", Script: "awk -f prog.awk", Input: "1\n2\n", Files: map[string]string{"prog.awk": "{ s += $1 } END { print s }\n"}, WantOut: "3\n"},
		{Name: "exit_status", Script: "awk 'BEGIN { exit 3 }'", WantCode: 3},
		{Name: "syntax", Script: "awk '{'", WantCode: core.ExitUsage},
		{Name: "missing_program", Script: "awk", WantCode: core.ExitUsage},
		{Name: "in_pipeline", Script: "echo 'a b c' | awk '{ print NF }'", WantOut: "3\n"},
		{Name: "head_closes", Script: "yes | awk '{ print NR }' | head -n 2", WantOut: "1\n2\n"},
	}
	testutil.RunScriptTests(t, tests)
}

func TestAwkSandboxed(t *testing.T) {
	dir := testutil.TempDirWithFiles(t, map[string]string{"data": "1\n2\n"})
	policy := sandbox.New(sandbox.Rule{Path: dir, Perm: sandbox.PermRead})
	out, errOut, code := testutil.RunScript(t, dir, `awk '{ print $1 * 10 }' data`, "", engine.WithPolicy(policy))
	assert.Equal(t, core.ExitSuccess, code, errOut)
	assert.Equal(t, "10\n20\n", out)

	_, errOut, code = testutil.RunScript(t, dir, `awk 'BEGIN { system("true") }'`, "", engine.WithPolicy(policy))
	assert.NotEqual(t, core.ExitSuccess, code)
	assert.NotEmpty(t, errOut)
}

func TestObjects(t *testing.T) {
	people := `[{"name":"ann","age":31,"team":"a"},{"name":"bob","age":25,"team":"b"},{"name":"cy","age":40,"team":"a"}]`
	files := map[string]string{"people.json": people}
	tests := []testutil.ScriptTestCase{
		{
			Name:    "from_json_array",
			Script:  "cat people.json | from-json | select name",
			Files:   files,
			WantOut: "{\"name\":\"ann\"}\n{\"name\":\"bob\"}\n{\"name\":\"cy\"}\n",
		},
		{
			Name:    "from_json_lines",
			Script:  "from-json | to-json",
			Input:   "{\"a\":1}\n{\"a\":2}\n",
			WantOut: "{\"a\":1}\n{\"a\":2}\n",
		},
		{
			Name:     "from_json_invalid",
			Script:   "from-json",
			Input:    "{nope",
			WantCode: core.ExitFailure,
			WantErr:  "invalid JSON",
		},
		{
			Name:    "where_numeric",
			Script:  "cat people.json | from-json | where age gt 30 | select name",
			Files:   files,
			WantOut: "{\"name\":\"ann\"}\n{\"name\":\"cy\"}\n",
		},
		{
			Name:    "where_equal",
			Script:  "cat people.json | from-json |> where team == b |> select name",
			Files:   files,
			WantOut: "{\"name\":\"bob\"}\n",
		},
		{
			Name:    "where_contains",
			Script:  "cat people.json | from-json | where name contains n | select name",
			Files:   files,
			WantOut: "{\"name\":\"ann\"}\n",
		},
		{
			Name:     "where_bad_operator",
			Script:   "where a like b",
			WantCode: core.ExitUsage,
			WantErr:  "unknown operator",
		},
		{
			Name:    "sort_by",
			Script:  "cat people.json | from-json | sort-by age | select name",
			Files:   files,
			WantOut: "{\"name\":\"bob\"}\n{\"name\":\"ann\"}\n{\"name\":\"cy\"}\n",
		},
		{
			Name:    "sort_by_reverse",
			Script:  "cat people.json | from-json | sort-by -r name | select name",
			Files:   files,
			WantOut: "{\"name\":\"cy\"}\n{\"name\":\"bob\"}\n{\"name\":\"ann\"}\n",
		},
		{
			Name:    "group_by",
			Script:  "cat people.json | from-json | select name team | group-by team",
			Files:   files,
			WantOut: `{"a":[{"name":"ann","team":"a"},{"name":"cy","team":"a"}],"b":[{"name":"bob","team":"b"}]}` + "\n",
		},
		{
			Name:    "to_json_array",
			Script:  "cat people.json | from-json | select age | to-json -a",
			Files:   files,
			WantOut: "[{\"age\":31},{\"age\":25},{\"age\":40}]\n",
		},
		{
			Name:    "to_json_pretty",
			Script:  "echo '{\"k\":1}' | from-json | to-json -p",
			WantOut: "{\n  \"k\": 1\n}\n",
		},
		{
			Name:    "mixed_pipe",
			Script:  "cat people.json | from-json ||> where age lt 30 ||> to-json",
			Files:   files,
			WantOut: "{\"age\":25,\"name\":\"bob\",\"team\":\"b\"}\n",
		},
		{Name: "select_usage", Script: "select", WantCode: core.ExitUsage},
	}
	testutil.RunScriptTests(t, tests)
}

func TestJobControl(t *testing.T) {
	tests := []testutil.ScriptTestCase{
		{Name: "jobs_lists", Script: "sleep 5 &\njobs", WantOutSub: "Running"},
		{Name: "jobs_long", Script: "sleep 5 &\njobs -l %1", WantOutSub: "sleep 5"},
		{Name: "jobs_unknown", Script: "jobs %9", WantCode: core.ExitFailure, WantErr: "no such job"},
		{Name: "wait_status", Script: "false &\nwait $!; echo $?", WantOut: "1\n"},
		{Name: "wait_all", Script: "true &\ntrue &\nwait; echo done", WantOut: "done\n"},
		{Name: "wait_unknown", Script: "wait %7", WantCode: core.ExitNotFound},
		{Name: "fg_finished", Script: "echo bg > out.txt &\nfg", WantOutSub: "echo bg"},
		{Name: "fg_none", Script: "fg", WantCode: core.ExitFailure},
		{Name: "disown", Script: "sleep 1 &\ndisown; jobs", WantOut: ""},
		{Name: "kill_list", Script: "kill -l", WantOutSub: "TERM"},
		{Name: "kill_usage", Script: "kill", WantCode: core.ExitUsage},
		{Name: "kill_bad_signal", Script: "sleep 5 &\nkill -s BOGUS %1", WantCode: core.ExitFailure},
		{Name: "kill_bad_target", Script: "kill -TERM abc", WantCode: core.ExitFailure, WantErr: "arguments must be process or job IDs"},
	}
	testutil.RunScriptTests(t, tests)
}

func TestKillJob(t *testing.T) {
	sh := testutil.NewShell(t, "", "")
	res := sh.Run(t, "sleep 30 &\nkill %1\nwait %1")
	assert.NotEqual(t, core.ExitSuccess, res.ExitCode)
	assert.Empty(t, sh.Jobs().List())
}

func TestKillSignalNames(t *testing.T) {
	for _, script := range []string{
		"sleep 30 &\nkill -9 %1\nwait %1\necho $?",
		"sleep 30 &\nkill -s KILL %1\nwait %1\necho $?",
		"sleep 30 &\nkill -SIGKILL %1\nwait %1\necho $?",
	} {
		out, _, _ := testutil.RunScript(t, "", script, "")
		assert.Equal(t, "137\n", out, script)
	}
	out, _, _ := testutil.RunScript(t, "", "sleep 30 &\nkill %1\nwait %1\necho $?", "")
	assert.Equal(t, "143\n", out)
}

func TestRegistry(t *testing.T) {
	reg := builtins.Registry()
	names := reg.Names()
	for _, want := range []string{"cd", "echo", "awk", "where", "to-json", "[", "kill"} {
		assert.True(t, slices.Contains(names, want), want)
	}
	assert.True(t, reg.Pure("echo"))
	assert.False(t, reg.Pure("cat"))

	seen := map[string]bool{}
	for _, b := range builtins.All() {
		require.False(t, seen[b.Name()], "duplicate builtin %s", b.Name())
		seen[b.Name()] = true
	}
	b, ok := reg.Lookup("where")
	require.True(t, ok)
	ob, ok := b.(engine.ObjectBuiltin)
	require.True(t, ok)
	in, out := ob.ObjectIO()
	assert.True(t, in)
	assert.True(t, out)
}

func TestRedirectedBuiltins(t *testing.T) {
	tests := []testutil.ScriptTestCase{
		{
			Name:   "echo_to_file",
			Script: "echo hi > out.txt; echo more >> out.txt",
			Check: func(t *testing.T, dir string) {
				testutil.AssertFileContent(t, filepath.Join(dir, "out.txt"), "hi\nmore\n")
			},
		},
		{
			Name:    "cat_from_file",
			Script:  "cat < in.txt",
			Files:   map[string]string{"in.txt": "from file\n"},
			WantOut: "from file\n",
		},
		{
			Name:       "stderr_to_stdout",
			Script:     "cat nope 2>&1",
			WantCode:   core.ExitFailure,
			WantOutSub: "cat: nope",
		},
		{
			Name:     "stderr_to_file",
			Script:   "cat nope 2> err.txt",
			WantCode: core.ExitFailure,
			Check: func(t *testing.T, dir string) {
				testutil.AssertFileExists(t, filepath.Join(dir, "err.txt"))
			},
		},
		{
			Name:    "here_doc",
			Script:  "x=2\ncat <<EOF\nline $x\nEOF\n",
			WantOut: "line 2\n",
		},
	}
	testutil.RunScriptTests(t, tests)
}
