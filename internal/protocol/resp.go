package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrFrameTooLarge indicates that a connection buffered more bytes than allowed
// without completing a frame.
var ErrFrameTooLarge = errors.New("protocol: frame exceeds buffer limit")

const (
	defaultBufSize       = 64 * 1024 // 64 KiB read/write buffers
	DefaultMaxFrameBytes = maxBulkStringLength + 64*1024
)

// scratchPool provides encode buffers for Writer.
var scratchPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, 0, 512)
		return &b
	},
}

// Reader feeds bytes from a transport into a Buffer and decodes frames from it.
type Reader struct {
	rd       io.Reader
	buf      Buffer
	chunk    []byte
	maxBytes int
}

// NewReader creates a Reader. maxBytes caps the bytes buffered for a single
// incomplete frame; zero or less selects DefaultMaxFrameBytes.
func NewReader(r io.Reader, maxBytes int) *Reader {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFrameBytes
	}
	return &Reader{
		rd:       r,
		chunk:    make([]byte, defaultBufSize),
		maxBytes: maxBytes,
	}
}

// Buffered returns the number of received but not yet decoded bytes.
func (r *Reader) Buffered() int {
	return r.buf.Len()
}

// Next decodes the next frame from already received bytes without touching the
// transport. It returns ErrNotComplete when more bytes are needed.
func (r *Reader) Next() (Frame, error) {
	return r.buf.Decode()
}

// Fill performs a single read from the transport into the buffer.
func (r *Reader) Fill() error {
	if r.buf.Len() >= r.maxBytes {
		return fmt.Errorf("%w: %d bytes buffered", ErrFrameTooLarge, r.buf.Len())
	}
	n, err := r.rd.Read(r.chunk)
	if n > 0 {
		r.buf.Write(r.chunk[:n])
	}
	if err != nil {
		if errors.Is(err, io.EOF) && r.buf.Len() > 0 {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	return nil
}

// ReadFrame blocks until a whole frame has been received and returns it.
func (r *Reader) ReadFrame() (Frame, error) {
	for {
		f, err := r.Next()
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, ErrNotComplete) {
			return nil, err
		}
		if err := r.Fill(); err != nil {
			return nil, err
		}
	}
}

// Writer wraps a bufio.Writer for frame encoding.
// By default every WriteFrame call flushes immediately (autoFlush=true).
// Call SetAutoFlush(false) before a pipeline batch, then Flush()
// once at the end, to amortise syscalls across many responses.
type Writer struct {
	wr        *bufio.Writer
	autoFlush bool
}

// NewWriter creates a new Writer with an optimised buffer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{wr: bufio.NewWriterSize(w, defaultBufSize), autoFlush: true}
}

// SetAutoFlush controls whether each write flushes automatically.
func (w *Writer) SetAutoFlush(on bool) { w.autoFlush = on }

// Flush writes any buffered data to the underlying io.Writer.
func (w *Writer) Flush() error { return w.wr.Flush() }

// Buffered returns the number of bytes waiting to be flushed.
func (w *Writer) Buffered() int { return w.wr.Buffered() }

func (w *Writer) flush() error {
	if w.autoFlush {
		return w.wr.Flush()
	}
	return nil
}

// WriteFrame encodes f into the output buffer.
func (w *Writer) WriteFrame(f Frame) error {
	bp := scratchPool.Get().(*[]byte)
	b := AppendFrame((*bp)[:0], f)
	_, err := w.wr.Write(b)
	*bp = b
	scratchPool.Put(bp)
	if err != nil {
		return err
	}
	return w.flush()
}

// WriteCommand writes args as an array of bulk strings, the shape clients use
// to send commands.
func (w *Writer) WriteCommand(args ...string) error {
	items := make([]Frame, len(args))
	for i, arg := range args {
		items[i] = BulkStringFromString(arg)
	}
	return w.WriteFrame(NewArray(items...))
}
