package alias

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcarmo/go-nxsh/pkg/shell/shellerr"
)

func TestExpandChain(t *testing.T) {
	tb := New(map[string]string{"ll": "ls -la", "l": "ll --color", "q": `echo 'a b'`})
	snap := tb.Snapshot()

	words, ok, err := snap.Expand("ll")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"ls", "-la"}, words)

	words, _, err = snap.Expand("l")
	require.NoError(t, err)
	assert.Equal(t, []string{"ls", "-la", "--color"}, words)

	words, _, err = snap.Expand("q")
	require.NoError(t, err)
	assert.Equal(t, []string{"echo", "a b"}, words)

	_, ok, err = snap.Expand("nope")
	assert.False(t, ok)
	assert.NoError(t, err)
}

func TestExpandCycle(t *testing.T) {
	for _, m := range []map[string]string{
		{"a": "b", "b": "a"},
		{"a": "a -x"},
		{"a": "b", "b": "c", "c": "a"},
	} {
		_, ok, err := New(m).Snapshot().Expand("a")
		assert.True(t, ok)
		var re *shellerr.RuntimeError
		require.ErrorAs(t, err, &re)
		assert.Equal(t, shellerr.AliasCycle, re.Kind)
	}
}

func TestNotPlainBody(t *testing.T) {
	_, _, err := New(map[string]string{"x": "cd /tmp && ls"}).Snapshot().Expand("x")
	assert.True(t, errors.Is(err, ErrNotPlain))
	_, _, err = New(map[string]string{"x": "echo $HOME"}).Snapshot().Expand("x")
	assert.True(t, errors.Is(err, ErrNotPlain))
}

func TestCopyOnWrite(t *testing.T) {
	tb := New(nil)
	before := tb.Snapshot()
	tb.Set("g", "git")
	after := tb.Snapshot()

	_, ok := before.Get("g")
	assert.False(t, ok, "old snapshot must not change")
	body, ok := after.Get("g")
	assert.True(t, ok)
	assert.Equal(t, "git", body)
	assert.Greater(t, after.Version(), before.Version())

	assert.True(t, tb.Remove("g"))
	assert.False(t, tb.Remove("g"))
	assert.Equal(t, 0, tb.Snapshot().Len())
}

func TestConcurrentAccess(t *testing.T) {
	tb := New(nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			tb.Set("a", "b")
			tb.Remove("a")
		}()
		go func() {
			defer wg.Done()
			tb.Snapshot().Expand("a")
		}()
	}
	wg.Wait()
	tb.Set("z", "1")
	tb.Set("y", "2")
	assert.Equal(t, []string{"y", "z"}, tb.Snapshot().Names())
}
