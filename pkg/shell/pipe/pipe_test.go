package pipe

import (
	"bytes"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcarmo/go-nxsh/pkg/shell/token"
	"github.com/rcarmo/go-nxsh/pkg/shell/value"
)

func TestNegotiate(t *testing.T) {
	tests := []struct {
		op         token.Kind
		prod, cons bool
		want       Kind
	}{
		{token.Pipe, true, true, Object},
		{token.PipeObject, true, true, Object},
		{token.PipeMixed, true, true, Mixed},
		{token.PipeObject, false, true, Byte},
		{token.PipeObject, true, false, Byte},
		{token.Pipe, false, false, Byte},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Negotiate(tt.op, tt.prod, tt.cons), "%v %v %v", tt.op, tt.prod, tt.cons)
	}
}

func TestObjectOrdering(t *testing.T) {
	for _, n := range []int{0, 1, 7, 500} {
		p := New(Object, 4)
		go func() {
			for i := 0; i < n; i++ {
				if err := p.WriteValue(value.Integer(int64(i))); err != nil {
					break
				}
			}
			p.Close()
		}()
		var got []int64
		for {
			v, err := p.ReadValue()
			if errors.Is(err, ErrEnded) {
				break
			}
			require.NoError(t, err)
			i, ok := v.AsInt()
			require.True(t, ok)
			got = append(got, i)
		}
		require.Len(t, got, n)
		for i, v := range got {
			assert.Equal(t, int64(i), v)
		}
	}
}

func TestBackpressure(t *testing.T) {
	p := New(Byte, 1)
	require.NoError(t, p.WriteValue(value.Str("first")))

	var wrote atomic.Bool
	go func() {
		p.Write([]byte("second\n"))
		wrote.Store(true)
		p.Close()
	}()
	time.Sleep(20 * time.Millisecond)
	assert.False(t, wrote.Load(), "write to a full pipe must block")

	data, err := io.ReadAll(p)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(data))
	assert.True(t, wrote.Load())
}

func TestMixedFraming(t *testing.T) {
	p := New(Mixed, 8)
	require.NoError(t, p.WriteValue(value.NewMap(map[string]value.Value{"a": value.Integer(1)})))
	_, err := p.Write([]byte("plain line\n"))
	require.NoError(t, err)
	p.Close()

	v, err := p.ReadValue()
	require.NoError(t, err)
	assert.Equal(t, value.Map, v.Kind())
	v, err = p.ReadValue()
	require.NoError(t, err)
	assert.Equal(t, "plain line", v.Text())
	_, err = p.ReadValue()
	assert.ErrorIs(t, err, ErrEnded)
}

func TestObjectPipeDowngradesForByteReaders(t *testing.T) {
	p := New(Object, 8)
	p.WriteValue(value.Str("x"))
	p.WriteValue(value.NewList(value.Integer(1), value.Integer(2)))
	p.Close()
	data, err := io.ReadAll(p)
	require.NoError(t, err)
	assert.Equal(t, "x\n[1,2]\n", string(data))
}

func TestWriteValueToPlainWriter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteValue(&buf, value.Boolean(true)))
	assert.Equal(t, "true\n", buf.String())

	r := Values(bytes.NewBufferString("a\n\x1e{\"k\":2}\n"))
	v, err := r.ReadValue()
	require.NoError(t, err)
	assert.Equal(t, "a", v.Text())
	v, err = r.ReadValue()
	require.NoError(t, err)
	k, _ := v.Field("k")
	assert.Equal(t, "2", k.Text())
}

func TestReaderCloseBreaksProducer(t *testing.T) {
	p := New(Byte, 1)
	p.Write([]byte("fill"))
	errc := make(chan error, 1)
	go func() {
		_, err := p.Write([]byte("blocked"))
		errc <- err
	}()
	p.CloseRead()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("producer stayed blocked after reader close")
	}
	_, err := p.Write([]byte("later"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseWithError(t *testing.T) {
	boom := errors.New("boom")
	p := New(Byte, 2)
	p.Write([]byte("data"))
	p.CloseWithError(boom)
	buf := make([]byte, 16)
	n, err := p.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "data", string(buf[:n]))
	_, err = p.Read(buf)
	assert.ErrorIs(t, err, boom)
}

type stopGate struct{ err error }

func (g *stopGate) Pass() error { return g.err }

func TestGates(t *testing.T) {
	g := &stopGate{}
	p := New(Object, 4)
	w := GateWriter(p.Writer(), g)
	require.NoError(t, WriteValue(w, value.Integer(1)))
	assert.True(t, IsObjectStream(w))

	g.err = errors.New("cancelled")
	assert.Error(t, WriteValue(w, value.Integer(2)))
	_, err := w.Write([]byte("x"))
	assert.Error(t, err)

	r := GateReader(p.Reader(), g)
	_, err = Values(r).ReadValue()
	assert.EqualError(t, err, "cancelled")
	g.err = nil
	v, err := Values(r).ReadValue()
	require.NoError(t, err)
	assert.Equal(t, "1", v.Text())
}
