package core

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStdio() (*Stdio, *bytes.Buffer) {
	errBuf := &bytes.Buffer{}
	return &Stdio{Out: &bytes.Buffer{}, Err: errBuf}, errBuf
}

func TestParseBoolFlags(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantRest []string
		wantA    bool
		wantB    bool
		wantCode int
		wantErr  string
	}{
		{name: "none", args: []string{"x"}, wantRest: []string{"x"}},
		{name: "cluster", args: []string{"-ab", "x"}, wantRest: []string{"x"}, wantA: true, wantB: true},
		{name: "separate", args: []string{"-a", "-b"}, wantA: true, wantB: true},
		{name: "dashdash", args: []string{"-a", "--", "-b"}, wantRest: []string{"-b"}, wantA: true},
		{name: "stdin", args: []string{"-", "-a"}, wantRest: []string{"-", "-a"}},
		{name: "ignored", args: []string{"-u", "x"}, wantRest: []string{"x"}},
		{name: "invalid", args: []string{"-z"}, wantCode: ExitUsage, wantErr: "t: invalid option -- 'z'\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var a, b bool
			stdio, errBuf := newStdio()
			rest, code := ParseBoolFlags(stdio, "t", tt.args, map[byte]*bool{'a': &a, 'b': &b, 'u': nil})
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantErr, errBuf.String())
			if tt.wantCode != ExitSuccess {
				return
			}
			assert.Equal(t, tt.wantRest, rest)
			assert.Equal(t, tt.wantA, a)
			assert.Equal(t, tt.wantB, b)
		})
	}
}

func TestParseHeadArgs(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		lines int
		bytes int
		files []string
	}{
		{name: "defaults", lines: 10, bytes: -1, files: []string{"-"}},
		{name: "separate", args: []string{"-n", "3", "f"}, lines: 3, bytes: -1, files: []string{"f"}},
		{name: "attached", args: []string{"-n3"}, lines: 3, bytes: -1, files: []string{"-"}},
		{name: "short", args: []string{"-5", "a", "b"}, lines: 5, bytes: -1, files: []string{"a", "b"}},
		{name: "bytes", args: []string{"-c", "4"}, lines: 10, bytes: 4, files: []string{"-"}},
		{name: "dashdash", args: []string{"--", "-n"}, lines: 10, bytes: -1, files: []string{"-n"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdio, _ := newStdio()
			opts, code := ParseHeadArgs(stdio, "head", tt.args)
			require.Equal(t, ExitSuccess, code)
			assert.Equal(t, tt.lines, opts.Lines)
			assert.Equal(t, tt.bytes, opts.Bytes)
			assert.Equal(t, tt.files, opts.Files)
		})
	}
}

func TestParseHeadArgsErrors(t *testing.T) {
	for _, args := range [][]string{{"-n"}, {"-n", "x"}, {"-n", "-2"}, {"-q"}, {"-1x"}} {
		stdio, errBuf := newStdio()
		_, code := ParseHeadArgs(stdio, "head", args)
		assert.Equal(t, ExitUsage, code, "%q", args)
		assert.Contains(t, errBuf.String(), "head: ", "%q", args)
	}
}

func TestFileError(t *testing.T) {
	stdio, errBuf := newStdio()
	assert.Equal(t, ExitFailure, FileError(stdio, "cat", "x", assert.AnError))
	assert.Equal(t, "cat: x: "+assert.AnError.Error()+"\n", errBuf.String())
}
