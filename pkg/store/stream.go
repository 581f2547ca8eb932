package store

import (
	"errors"
	"io"
)

// Stream is the byte medium a log store appends to. *os.File satisfies it, as
// does MemoryStream.
type Stream interface {
	io.Reader
	io.Writer
	io.Seeker
	Truncate(size int64) error
}

// StreamFactory returns a new stream.
type StreamFactory func() (Stream, error)

// StreamCleanup releases a stream the store no longer needs.
type StreamCleanup func(Stream) error

type syncer interface {
	Sync() error
}

// CloseStream is a StreamCleanup that closes streams implementing io.Closer.
func CloseStream(s Stream) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

var errStreamClosed = errors.New("stream is closed")

// MemoryStream is an in-memory Stream.
type MemoryStream struct {
	data   []byte
	pos    int64
	closed bool
}

// NewMemoryStream creates an empty memory stream
func NewMemoryStream() *MemoryStream {
	return &MemoryStream{}
}

// NewMemoryStreamFrom creates a memory stream over a copy of data
func NewMemoryStreamFrom(data []byte) *MemoryStream {
	return &MemoryStream{data: append([]byte(nil), data...)}
}

func (m *MemoryStream) Read(p []byte) (int, error) {
	if m.closed {
		return 0, errStreamClosed
	}
	if m.pos >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[m.pos:])
	m.pos += int64(n)
	return n, nil
}

func (m *MemoryStream) Write(p []byte) (int, error) {
	if m.closed {
		return 0, errStreamClosed
	}
	end := m.pos + int64(len(p))
	if end > int64(len(m.data)) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	copy(m.data[m.pos:], p)
	m.pos = end
	return len(p), nil
}

func (m *MemoryStream) Seek(offset int64, whence int) (int64, error) {
	if m.closed {
		return 0, errStreamClosed
	}
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = m.pos + offset
	case io.SeekEnd:
		abs = int64(len(m.data)) + offset
	default:
		return 0, errors.New("memory stream: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("memory stream: negative position")
	}
	m.pos = abs
	return abs, nil
}

func (m *MemoryStream) Truncate(size int64) error {
	if m.closed {
		return errStreamClosed
	}
	if size < 0 {
		return errors.New("memory stream: negative size")
	}
	if size <= int64(len(m.data)) {
		m.data = m.data[:size]
	} else {
		grown := make([]byte, size)
		copy(grown, m.data)
		m.data = grown
	}
	return nil
}

// Close marks the stream unusable.
func (m *MemoryStream) Close() error {
	m.closed = true
	return nil
}

// Len returns the stream length in bytes
func (m *MemoryStream) Len() int {
	return len(m.data)
}

// Bytes returns a copy of the stream contents
func (m *MemoryStream) Bytes() []byte {
	return append([]byte(nil), m.data...)
}

// MemoryStreamConfig returns a config whose factories hand out fresh memory
// streams and whose cleanups close them.
func MemoryStreamConfig() LogStoreConfig {
	factory := func() (Stream, error) { return NewMemoryStream(), nil }
	return LogStoreConfig{
		PrimaryFactory: factory,
		TempFactory:    factory,
		PrimaryCleanup: CloseStream,
		TempCleanup:    CloseStream,
	}
}
