// Package config loads the shell configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/rcarmo/go-nxsh/pkg/sandbox"
	"github.com/rcarmo/go-nxsh/pkg/shell/expand"
	"github.com/rcarmo/go-nxsh/pkg/shell/jobs"
	"github.com/rcarmo/go-nxsh/pkg/shell/pipe"
)

// EnvVar names the environment variable holding the config file path.
const EnvVar = "NXSH_CONFIG"

// Config is the shell configuration.
type Config struct {
	Pipe      PipeConfig        `mapstructure:"pipe"`
	Expansion ExpansionConfig   `mapstructure:"expansion"`
	JIT       JITConfig         `mapstructure:"jit"`
	Engine    EngineConfig      `mapstructure:"engine"`
	Jobs      JobsConfig        `mapstructure:"jobs"`
	Log       LogConfig         `mapstructure:"log"`
	Sandbox   SandboxConfig     `mapstructure:"sandbox"`
	Aliases   map[string]string `mapstructure:"aliases"`
}

type PipeConfig struct {
	// Capacity is the number of frames an in-process pipe buffers.
	Capacity int `mapstructure:"capacity"`
}

type ExpansionConfig struct {
	MaxFields int `mapstructure:"max_fields"`
}

type JITConfig struct {
	Enabled   bool `mapstructure:"enabled"`
	Threshold int  `mapstructure:"threshold"`
}

type EngineConfig struct {
	Pipefail bool `mapstructure:"pipefail"`
	Optimize bool `mapstructure:"optimize"`
}

type JobsConfig struct {
	Workers int           `mapstructure:"workers"`
	Grace   time.Duration `mapstructure:"grace"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type SandboxConfig struct {
	Enabled bool        `mapstructure:"enabled"`
	Allow   []AllowRule `mapstructure:"allow"`
}

// AllowRule grants Perm ("r", "rw", "rwx" or "read,write,exec") on Path.
type AllowRule struct {
	Path string `mapstructure:"path"`
	Perm string `mapstructure:"perm"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Pipe:      PipeConfig{Capacity: pipe.DefaultCapacity},
		Expansion: ExpansionConfig{MaxFields: expand.DefaultMaxFields},
		JIT:       JITConfig{Enabled: false, Threshold: 16},
		Engine:    EngineConfig{Optimize: true},
		Jobs:      JobsConfig{Workers: jobs.DefaultWorkers, Grace: jobs.DefaultGrace},
		Log:       LogConfig{Level: "warn"},
		Aliases:   map[string]string{},
	}
}

// Decode applies raw on top of the defaults. Scalars are converted
// between types where unambiguous ("8" for an int, "2s" for a duration)
// and unknown keys are rejected.
func Decode(raw map[string]any) (Config, error) {
	cfg := Default()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return cfg, err
	}
	if err := dec.Decode(raw); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Parse decodes YAML text.
func Parse(data []byte) (Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Default(), fmt.Errorf("config: %w", err)
	}
	return Decode(raw)
}

// Load reads the file at path. An empty path yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Default(), fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Locate picks the config file: the explicit path, then $NXSH_CONFIG,
// then $XDG_CONFIG_HOME/nxsh/config.yaml (or ~/.config) when it exists.
func Locate(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv(EnvVar); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	p := filepath.Join(dir, "nxsh", "config.yaml")
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}

// Validate checks value ranges.
func (c Config) Validate() error {
	var errs []error
	if c.Pipe.Capacity < 1 {
		errs = append(errs, fmt.Errorf("pipe.capacity must be at least 1, got %d", c.Pipe.Capacity))
	}
	if c.Expansion.MaxFields < 1 {
		errs = append(errs, fmt.Errorf("expansion.max_fields must be at least 1, got %d", c.Expansion.MaxFields))
	}
	if c.JIT.Threshold < 1 {
		errs = append(errs, fmt.Errorf("jit.threshold must be at least 1, got %d", c.JIT.Threshold))
	}
	if c.Jobs.Workers < 1 {
		errs = append(errs, fmt.Errorf("jobs.workers must be at least 1, got %d", c.Jobs.Workers))
	}
	for _, r := range c.Sandbox.Allow {
		if r.Path == "" {
			errs = append(errs, errors.New("sandbox.allow: empty path"))
		}
		if _, err := sandbox.ParsePermission(r.Perm); err != nil {
			errs = append(errs, fmt.Errorf("sandbox.allow %s: %w", r.Path, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Policy builds the sandbox policy. It returns nil when the sandbox is
// disabled.
func (c Config) Policy() (*sandbox.Policy, error) {
	if !c.Sandbox.Enabled {
		return nil, nil
	}
	p := sandbox.New()
	for _, r := range c.Sandbox.Allow {
		perm, err := sandbox.ParsePermission(r.Perm)
		if err != nil {
			return nil, err
		}
		if err := p.Allow(r.Path, perm); err != nil {
			return nil, fmt.Errorf("sandbox.allow %s: %w", r.Path, err)
		}
	}
	return p, nil
}
