// Package testutil provides shared testing utilities and fixtures.
package testutil

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rcarmo/go-nxsh/pkg/shell/builtins"
	"github.com/rcarmo/go-nxsh/pkg/shell/engine"
	"github.com/rcarmo/go-nxsh/pkg/shell/vars"
)

// ScriptTimeout bounds a single script run in tests.
const ScriptTimeout = 30 * time.Second

// TempFile creates a temp file with content, returns path.
func TempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// TempDirWithFiles creates a temp directory populated with files.
// The files map keys are relative paths, values are file contents.
func TempDirWithFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

// AssertExitCode checks that the exit code matches expected.
func AssertExitCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("exit code = %d, want %d", got, want)
	}
}

// AssertOutput checks that stdout matches expected.
func AssertOutput(t *testing.T, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

// AssertOutputContains checks that stdout contains expected substring.
func AssertOutputContains(t *testing.T, got, want string) {
	t.Helper()
	if !strings.Contains(got, want) {
		t.Errorf("output %q does not contain %q", got, want)
	}
}

// AssertFileExists checks that a file exists.
func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("file %s does not exist", path)
	}
}

// AssertFileContent checks that a file contains expected content.
func AssertFileContent(t *testing.T, path, want string) {
	t.Helper()
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read file %s: %v", path, err)
	}
	if string(got) != want {
		t.Errorf("file %s content = %q, want %q", path, got, want)
	}
}

// Shell is an engine wired to captured streams for tests.
type Shell struct {
	*engine.Engine
	Out *bytes.Buffer
	Err *bytes.Buffer
	Dir string
}

// NewShell returns an engine with every builtin, running in dir with
// input as standard input. The environment is reduced to PATH and HOME.
// The engine is closed when the test ends.
func NewShell(t *testing.T, dir, input string, opts ...engine.Option) *Shell {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	out, errBuf := &bytes.Buffer{}, &bytes.Buffer{}
	store := vars.FromEnviron([]string{"PATH=" + os.Getenv("PATH"), "HOME=" + dir})
	base := []engine.Option{
		engine.WithRegistry(builtins.Registry()),
		engine.WithStdio(strings.NewReader(input), out, errBuf),
		engine.WithVars(store),
		engine.WithDir(dir),
	}
	e := engine.New(append(base, opts...)...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		e.Close(ctx)
	})
	return &Shell{Engine: e, Out: out, Err: errBuf, Dir: dir}
}

// Run executes script with a timeout.
func (s *Shell) Run(t *testing.T, script string) engine.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), ScriptTimeout)
	defer cancel()
	return s.Engine.Run(ctx, script)
}

// RunScript runs one script in a fresh shell and returns its output.
func RunScript(t *testing.T, dir, script, input string, opts ...engine.Option) (string, string, int) {
	t.Helper()
	sh := NewShell(t, dir, input, opts...)
	res := sh.Run(t, script)
	return sh.Out.String(), sh.Err.String(), res.ExitCode
}

// ScriptTestCase defines a parameterized test case for shell scripts.
type ScriptTestCase struct {
	Name       string                         // Test name
	Script     string                         // Shell source
	Input      string                         // Stdin input
	WantCode   int                            // Expected exit code
	WantOut    string                         // Expected stdout (exact match)
	WantOutSub string                         // Expected stdout substring
	WantErr    string                         // Expected stderr substring
	Files      map[string]string              // Files to create in temp dir
	Options    []engine.Option                // Extra engine options
	Setup      func(t *testing.T, dir string) // Optional setup function
	Check      func(t *testing.T, dir string) // Optional post-run check
}

// RunScriptTests runs a slice of parameterized script test cases.
func RunScriptTests(t *testing.T, tests []ScriptTestCase) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.Name, func(t *testing.T) {
			dir := TempDirWithFiles(t, tt.Files)
			if tt.Setup != nil {
				tt.Setup(t, dir)
			}

			out, errOut, code := RunScript(t, dir, tt.Script, tt.Input, tt.Options...)

			AssertExitCode(t, code, tt.WantCode)
			if tt.WantOut != "" {
				AssertOutput(t, out, tt.WantOut)
			}
			if tt.WantOutSub != "" {
				AssertOutputContains(t, out, tt.WantOutSub)
			}
			if tt.WantErr != "" {
				AssertOutputContains(t, errOut, tt.WantErr)
			}
			if tt.Check != nil {
				tt.Check(t, dir)
			}
		})
	}
}
