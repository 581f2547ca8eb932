package store

import (
	"fmt"
	"io"

	"github.com/TravisTheTechie/Cashbox/pkg/codec"
)

// logWriter handles append-only writes to a stream
type logWriter struct {
	stream Stream
	codec  *codec.RecordCodec
	sync   bool
}

func newLogWriter(stream Stream, c *codec.RecordCodec, sync bool) *logWriter {
	return &logWriter{stream: stream, codec: c, sync: sync}
}

// appendResult locates a record written by Append
type appendResult struct {
	HeaderOffset int64
	HeaderSize   int
	Offset       int64 // payload offset
	End          int64 // offset immediately after the record
}

// Reset empties the stream and writes a fresh stream header.
func (w *logWriter) Reset() error {
	if err := w.stream.Truncate(0); err != nil {
		return err
	}
	if _, err := w.stream.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := w.stream.Write(w.codec.EncodeStreamHeader(codec.StreamHeader{Version: codec.StreamVersion})); err != nil {
		return err
	}
	return w.flush()
}

// Append writes a header and its payload at the end of the stream as one
// write. A failed write is rolled back to the record start so the log still
// ends on a record boundary.
func (w *logWriter) Append(header codec.RecordHeader, payload []byte) (appendResult, error) {
	encoded, err := w.codec.EncodeRecordHeader(header)
	if err != nil {
		return appendResult{}, err
	}

	start, err := w.stream.Seek(0, io.SeekEnd)
	if err != nil {
		return appendResult{}, err
	}

	buf := make([]byte, 0, len(encoded)+len(payload))
	buf = append(buf, encoded...)
	buf = append(buf, payload...)

	n, err := w.stream.Write(buf)
	if err == nil && n != len(buf) {
		err = io.ErrShortWrite
	}
	if err != nil {
		if truncErr := w.stream.Truncate(start); truncErr != nil {
			return appendResult{}, fmt.Errorf("append failed (%v) and rollback failed: %w", err, truncErr)
		}
		return appendResult{}, err
	}

	if err := w.flush(); err != nil {
		return appendResult{}, err
	}

	return appendResult{
		HeaderOffset: start,
		HeaderSize:   len(encoded),
		Offset:       start + int64(len(encoded)),
		End:          start + int64(len(buf)),
	}, nil
}

// flush forces an fsync when configured and supported by the stream
func (w *logWriter) flush() error {
	if !w.sync {
		return nil
	}
	if s, ok := w.stream.(syncer); ok {
		return s.Sync()
	}
	return nil
}
