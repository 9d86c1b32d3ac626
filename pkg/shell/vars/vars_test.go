package vars

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStore(t *testing.T) {
	s := FromEnviron([]string{"HOME=/h", "PATH=/bin:/usr/bin", "junk", "=x"})
	assert.Equal(t, "/h", s.Lookup("HOME"))
	assert.True(t, s.IsExported("PATH"))

	s.Set("local", "1")
	assert.False(t, s.IsExported("local"))
	env := s.Env(map[string]string{"EXTRA": "e"})
	assert.Equal(t, map[string]string{"HOME": "/h", "PATH": "/bin:/usr/bin", "EXTRA": "e"}, env)

	s.Export("local")
	assert.Equal(t, "1", s.Env(nil)["local"])

	s.Set("HOME", "/new")
	assert.True(t, s.IsExported("HOME"), "assignment keeps the export flag")

	c := s.Clone()
	c.Set("HOME", "/child")
	assert.Equal(t, "/new", s.Lookup("HOME"))

	s.Unset("local")
	_, ok := s.Get("local")
	assert.False(t, ok)
	assert.Equal(t, []string{"HOME", "PATH"}, s.Names())
}

func TestCaseSensitive(t *testing.T) {
	s := New()
	s.Set("path", "a")
	s.Set("PATH", "b")
	assert.Equal(t, "a", s.Lookup("path"))
	assert.Equal(t, "b", s.Lookup("PATH"))
}

func TestEnviron(t *testing.T) {
	assert.Equal(t, []string{"A=1", "B=2"}, Environ(map[string]string{"B": "2", "A": "1"}))
}

func TestIsName(t *testing.T) {
	assert.True(t, IsName("_x1"))
	assert.False(t, IsName("1x"))
	assert.False(t, IsName("a-b"))
	assert.False(t, IsName(""))
}
