package pipe

import (
	"bufio"
	"io"

	"github.com/rcarmo/go-nxsh/pkg/shell/value"
)

// ValueReader is implemented by streams that deliver structured values.
type ValueReader interface {
	ReadValue() (value.Value, error)
}

// ValueWriter is implemented by streams that accept structured values.
type ValueWriter interface {
	WriteValue(value.Value) error
}

// WriteValue writes v to w. Streams without value support receive the text
// rendering of v followed by a newline.
func WriteValue(w io.Writer, v value.Value) error {
	if vw, ok := w.(ValueWriter); ok {
		return vw.WriteValue(v)
	}
	_, err := io.WriteString(w, v.Text()+"\n")
	return err
}

// Values returns a ValueReader for r. Plain byte streams are decoded line
// by line, recovering mixed records.
func Values(r io.Reader) ValueReader {
	if vr, ok := r.(ValueReader); ok {
		return vr
	}
	return &lineValues{r: bufio.NewReader(r)}
}

type lineValues struct{ r *bufio.Reader }

func (l *lineValues) ReadValue() (value.Value, error) { return decodeLine(l.r) }

// IsObjectStream reports whether s carries values natively.
func IsObjectStream(s any) bool {
	k, ok := s.(interface{ Kind() Kind })
	return ok && k.Kind() != Byte
}

// Gate is consulted before every stream operation of an in-process task.
// Pass blocks while the task is stopped and returns an error once it has
// been cancelled.
type Gate interface {
	Pass() error
}

// GateReader wraps r so each read first passes g.
func GateReader(r io.Reader, g Gate) io.Reader {
	if g == nil {
		return r
	}
	return &gatedReader{r: r, g: g}
}

// GateWriter wraps w so each write first passes g.
func GateWriter(w io.Writer, g Gate) io.Writer {
	if g == nil {
		return w
	}
	return &gatedWriter{w: w, g: g}
}

type gatedReader struct {
	r  io.Reader
	g  Gate
	vr ValueReader
}

func (r *gatedReader) Read(b []byte) (int, error) {
	if err := r.g.Pass(); err != nil {
		return 0, err
	}
	return r.r.Read(b)
}

func (r *gatedReader) ReadValue() (value.Value, error) {
	if err := r.g.Pass(); err != nil {
		return value.Value{}, err
	}
	if r.vr == nil {
		r.vr = Values(r.r)
	}
	return r.vr.ReadValue()
}

func (r *gatedReader) Kind() Kind {
	if k, ok := r.r.(interface{ Kind() Kind }); ok {
		return k.Kind()
	}
	return Byte
}

type gatedWriter struct {
	w io.Writer
	g Gate
}

func (w *gatedWriter) Write(b []byte) (int, error) {
	if err := w.g.Pass(); err != nil {
		return 0, err
	}
	return w.w.Write(b)
}

func (w *gatedWriter) WriteValue(v value.Value) error {
	if err := w.g.Pass(); err != nil {
		return err
	}
	return WriteValue(w.w, v)
}

func (w *gatedWriter) Kind() Kind {
	if k, ok := w.w.(interface{ Kind() Kind }); ok {
		return k.Kind()
	}
	return Byte
}
