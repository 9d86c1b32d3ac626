package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcarmo/go-nxsh/pkg/sandbox"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 4096, cfg.Expansion.MaxFields)
	assert.False(t, cfg.JIT.Enabled)
	assert.True(t, cfg.Engine.Optimize)
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
pipe:
  capacity: "8"
expansion:
  max_fields: 100
jit:
  enabled: true
  threshold: 2
engine:
  pipefail: true
jobs:
  workers: 3
  grace: 500ms
log:
  level: debug
aliases:
  ll: ls -la
`))
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Pipe.Capacity, "weakly typed input")
	assert.Equal(t, 100, cfg.Expansion.MaxFields)
	assert.True(t, cfg.JIT.Enabled)
	assert.Equal(t, 2, cfg.JIT.Threshold)
	assert.True(t, cfg.Engine.Pipefail)
	assert.True(t, cfg.Engine.Optimize, "unset keys keep their default")
	assert.Equal(t, 3, cfg.Jobs.Workers)
	assert.Equal(t, 500*time.Millisecond, cfg.Jobs.Grace)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, map[string]string{"ll": "ls -la"}, cfg.Aliases)
}

func TestRejectsUnknownKeysAndBadValues(t *testing.T) {
	_, err := Parse([]byte("pipe:\n  capacty: 3\n"))
	assert.ErrorContains(t, err, "capacty")

	_, err = Parse([]byte("jit:\n  threshold: 0\n"))
	assert.ErrorContains(t, err, "jit.threshold")

	_, err = Parse([]byte("sandbox:\n  allow:\n    - path: /tmp\n      perm: rq\n"))
	assert.ErrorContains(t, err, "sandbox.allow")

	_, err = Parse([]byte("pipe: [1"))
	assert.Error(t, err)
}

func TestSandboxPolicy(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Decode(map[string]any{
		"sandbox": map[string]any{
			"enabled": true,
			"allow":   []any{map[string]any{"path": dir, "perm": "rw"}},
		},
	})
	require.NoError(t, err)
	p, err := cfg.Policy()
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.NoError(t, p.Check(filepath.Join(dir, "f"), sandbox.PermWrite))
	assert.Error(t, p.Check("/", sandbox.PermRead))

	p, err = Default().Policy()
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestLoadAndLocate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nxsh.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  pipefail: true\n"), 0o644))

	t.Setenv(EnvVar, path)
	assert.Equal(t, path, Locate(""))
	assert.Equal(t, "/explicit", Locate("/explicit"))

	cfg, err := Load(Locate(""))
	require.NoError(t, err)
	assert.True(t, cfg.Engine.Pipefail)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
