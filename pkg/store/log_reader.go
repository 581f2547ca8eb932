package store

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/TravisTheTechie/Cashbox/pkg/codec"
)

// logReader provides sequential access to the headers in a stream
type logReader struct {
	reader *bufio.Reader
	codec  *codec.RecordCodec
	offset int64
}

// countingReader tracks how many bytes the codec consumed
type countingReader struct {
	r *logReader
}

func (c countingReader) Read(p []byte) (int, error) {
	n, err := c.r.reader.Read(p)
	c.r.offset += int64(n)
	return n, err
}

// newLogReader positions a reader at the start of the stream
func newLogReader(stream Stream, c *codec.RecordCodec) (*logReader, error) {
	if _, err := stream.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return &logReader{
		reader: bufio.NewReader(stream),
		codec:  c,
	}, nil
}

// ReadStreamHeader reads the stream header at offset 0
func (r *logReader) ReadStreamHeader() (codec.StreamHeader, error) {
	return r.codec.ReadStreamHeader(countingReader{r})
}

// Next reads the next record header and records where its payload starts.
func (r *logReader) Next() (codec.RecordHeader, error) {
	header, err := r.codec.DecodeRecordHeader(countingReader{r})
	if err != nil {
		return header, err
	}
	header.RecordLocation = r.offset
	return header, nil
}

// Skip moves past n payload bytes without reading them
func (r *logReader) Skip(n uint64) error {
	for n > 0 {
		chunk := n
		if chunk > 1<<30 {
			chunk = 1 << 30
		}
		skipped, err := r.reader.Discard(int(chunk))
		r.offset += int64(skipped)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return codec.ErrTruncated
			}
			return err
		}
		n -= chunk
	}
	return nil
}

// Offset returns the current read offset
func (r *logReader) Offset() int64 {
	return r.offset
}

// readPayload reads the payload an index entry points at.
func readPayload(stream Stream, entry *IndexEntry) ([]byte, error) {
	if _, err := stream.Seek(entry.Offset, io.SeekStart); err != nil {
		return nil, err
	}

	data := make([]byte, entry.Size)
	if _, err := io.ReadFull(stream, data); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: payload at offset %d shorter than %d bytes", ErrCorruptRecord, entry.Offset, entry.Size)
		}
		return nil, err
	}
	return data, nil
}
