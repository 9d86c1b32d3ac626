// Package pipe implements the transport between pipeline stages.
//
// A Pipe carries bytes, structured values, or both. It has exactly one
// producer and one consumer, keeps frames in write order and holds at most
// its capacity in frames: a producer writing to a full pipe blocks until the
// consumer drains it. Closing the producer end is the only end-of-stream
// signal.
package pipe

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/rcarmo/go-nxsh/pkg/shell/token"
	"github.com/rcarmo/go-nxsh/pkg/shell/value"
)

// Kind is the transport kind of a pipe, fixed at construction.
type Kind uint8

const (
	Byte Kind = iota
	Object
	Mixed
)

func (k Kind) String() string {
	switch k {
	case Object:
		return "object"
	case Mixed:
		return "mixed"
	}
	return "byte"
}

// RecordSeparator starts a framed value inside a mixed byte stream. The
// JSON encoding of the value follows, terminated by a newline.
const RecordSeparator = 0x1e

// DefaultCapacity is the frame capacity used when none is configured.
const DefaultCapacity = 64

var (
	// ErrClosed is returned to a producer once the consumer has gone away.
	ErrClosed = errors.New("broken pipe")
	// ErrEnded is what a consumer sees after the producer closed and every
	// frame was read.
	ErrEnded = io.EOF
)

type frame struct {
	data []byte
	val  value.Value
	obj  bool
}

// Pipe is a bounded single-producer single-consumer channel.
type Pipe struct {
	kind   Kind
	frames chan frame

	closeOnce sync.Once
	done      chan struct{}
	doneOnce  sync.Once

	errMu sync.Mutex
	err   error

	// Consumer side state, touched only by the consumer.
	pending []byte
	lines   *bufio.Reader
}

// New creates a pipe of the given kind holding at most capacity frames.
func New(kind Kind, capacity int) *Pipe {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Pipe{
		kind:   kind,
		frames: make(chan frame, capacity),
		done:   make(chan struct{}),
	}
}

// Negotiate picks the transport for one pipe operator given whether the
// producer writes values and the consumer reads them.
func Negotiate(op token.Kind, producerObjects, consumerObjects bool) Kind {
	if !producerObjects || !consumerObjects {
		return Byte
	}
	if op == token.PipeMixed {
		return Mixed
	}
	return Object
}

// Connect negotiates and constructs the pipe between two adjacent stages.
func Connect(op token.Kind, producerObjects, consumerObjects bool, capacity int) *Pipe {
	return New(Negotiate(op, producerObjects, consumerObjects), capacity)
}

func (p *Pipe) Kind() Kind { return p.kind }

func (p *Pipe) send(f frame) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	select {
	case p.frames <- f:
		return nil
	case <-p.done:
		return ErrClosed
	}
}

// Write sends raw bytes. On object pipes the bytes are kept as text and
// surface as string values, one per line.
func (p *Pipe) Write(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	if err := p.send(frame{data: bytes.Clone(b)}); err != nil {
		return 0, err
	}
	return len(b), nil
}

// WriteValue sends one structured value. Byte pipes receive its text
// rendering and mixed pipes a framed record.
func (p *Pipe) WriteValue(v value.Value) error {
	switch p.kind {
	case Object:
		return p.send(frame{val: v, obj: true})
	case Mixed:
		b, err := EncodeRecord(v)
		if err != nil {
			return err
		}
		return p.send(frame{data: b})
	}
	return p.send(frame{data: []byte(v.Text() + "\n")})
}

// Close ends the stream after all written frames.
func (p *Pipe) Close() error {
	return p.CloseWithError(nil)
}

// CloseWithError ends the stream; the consumer sees err after draining
// instead of ErrEnded.
func (p *Pipe) CloseWithError(err error) error {
	p.closeOnce.Do(func() {
		p.errMu.Lock()
		p.err = err
		p.errMu.Unlock()
		close(p.frames)
	})
	return nil
}

// CloseRead releases the consumer end. Blocked and later writes fail with
// ErrClosed.
func (p *Pipe) CloseRead() error {
	p.doneOnce.Do(func() { close(p.done) })
	return nil
}

func (p *Pipe) endErr() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	if p.err != nil {
		return p.err
	}
	return ErrEnded
}

func (p *Pipe) recv() (frame, error) {
	select {
	case <-p.done:
		return frame{}, ErrClosed
	default:
	}
	f, ok := <-p.frames
	if !ok {
		return frame{}, p.endErr()
	}
	return f, nil
}

// Read reads bytes. Values on an object pipe are rendered as text lines.
func (p *Pipe) Read(b []byte) (int, error) {
	for len(p.pending) == 0 {
		f, err := p.recv()
		if err != nil {
			return 0, err
		}
		if f.obj {
			p.pending = []byte(f.val.Text() + "\n")
		} else {
			p.pending = f.data
		}
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

// ReadValue reads the next value. Text on the stream becomes one string
// value per line; mixed records are decoded back into values.
func (p *Pipe) ReadValue() (value.Value, error) {
	if p.kind == Object && len(p.pending) == 0 && (p.lines == nil || p.lines.Buffered() == 0) {
		f, err := p.recv()
		if err != nil {
			return value.Value{}, err
		}
		if f.obj {
			return f.val, nil
		}
		p.pending = f.data
	}
	if p.lines == nil {
		p.lines = bufio.NewReader(readerFunc(p.Read))
	}
	return decodeLine(p.lines)
}

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(b []byte) (int, error) { return f(b) }

// Reader returns the consumer end as an io.ReadCloser that also reads
// values.
func (p *Pipe) Reader() *ReadEnd { return &ReadEnd{p: p} }

// Writer returns the producer end as an io.WriteCloser that also writes
// values.
func (p *Pipe) Writer() *WriteEnd { return &WriteEnd{p: p} }

// ReadEnd is the consumer side of a pipe.
type ReadEnd struct{ p *Pipe }

func (r *ReadEnd) Read(b []byte) (int, error)       { return r.p.Read(b) }
func (r *ReadEnd) ReadValue() (value.Value, error) { return r.p.ReadValue() }
func (r *ReadEnd) Close() error                    { return r.p.CloseRead() }
func (r *ReadEnd) Kind() Kind                      { return r.p.kind }

// WriteEnd is the producer side of a pipe.
type WriteEnd struct{ p *Pipe }

func (w *WriteEnd) Write(b []byte) (int, error)     { return w.p.Write(b) }
func (w *WriteEnd) WriteValue(v value.Value) error { return w.p.WriteValue(v) }
func (w *WriteEnd) Close() error                   { return w.p.Close() }
func (w *WriteEnd) CloseWithError(err error) error { return w.p.CloseWithError(err) }
func (w *WriteEnd) Kind() Kind                     { return w.p.kind }

// EncodeRecord frames v for a mixed stream.
func EncodeRecord(v value.Value) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(b)+2)
	out = append(out, RecordSeparator)
	out = append(out, b...)
	return append(out, '\n'), nil
}

// decodeLine reads one line and turns it into a value: framed records are
// decoded, anything else is a string without its newline.
func decodeLine(r *bufio.Reader) (value.Value, error) {
	line, err := r.ReadBytes('\n')
	if len(line) == 0 {
		if err == nil {
			err = ErrEnded
		}
		return value.Value{}, err
	}
	line = bytes.TrimSuffix(line, []byte("\n"))
	if len(line) > 0 && line[0] == RecordSeparator {
		return value.Parse(line[1:])
	}
	return value.Str(string(bytes.TrimSuffix(line, []byte("\r")))), nil
}
