package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// StreamVersion is the only on-disk log format this package reads and writes.
	StreamVersion uint32 = 1

	// RecordHeaderVersion is written into every record header.
	RecordHeaderVersion uint32 = 1

	// StreamHeaderSize is the encoded size of a StreamHeader.
	StreamHeaderSize = 4

	// fixedHeaderSize covers headerVersion(4) + recordSize(8) + action(4) + tableLen(4).
	fixedHeaderSize = 20

	// MaxNameSize bounds the table and key lengths. Larger length fields are
	// treated as corruption instead of being allocated.
	MaxNameSize = 1 << 20
)

var (
	// ErrCorruptRecord is returned when a header cannot be decoded.
	ErrCorruptRecord = errors.New("corrupt record")

	// ErrTruncated is returned when the stream ends in the middle of a header.
	// It matches ErrCorruptRecord with errors.Is.
	ErrTruncated = fmt.Errorf("%w: truncated header", ErrCorruptRecord)

	// ErrUnsupportedVersion is returned for stream headers with an unknown version.
	ErrUnsupportedVersion = errors.New("unsupported stream version")

	// ErrNameTooLarge is returned when encoding a table or key longer than MaxNameSize.
	ErrNameTooLarge = errors.New("table or key too large")
)

// Action is the kind of mutation a record describes.
type Action uint32

const (
	ActionStore  Action = 0
	ActionDelete Action = 1
)

func (a Action) String() string {
	switch a {
	case ActionStore:
		return "store"
	case ActionDelete:
		return "delete"
	default:
		return fmt.Sprintf("action(%d)", uint32(a))
	}
}

// StreamHeader is written once at offset 0 of every log.
type StreamHeader struct {
	Version uint32
}

// RecordHeader describes the payload that follows it in the log.
// Delete records carry no payload.
type RecordHeader struct {
	HeaderVersion uint32
	RecordSize    uint64
	Action        Action
	Table         string
	Key           string

	// RecordLocation is the stream offset of the payload. It is derived from
	// the stream position and never encoded.
	RecordLocation int64
}

// NewStoreHeader builds the header for a payload of the given size.
func NewStoreHeader(table, key string, size int) RecordHeader {
	return RecordHeader{
		HeaderVersion: RecordHeaderVersion,
		RecordSize:    uint64(size),
		Action:        ActionStore,
		Table:         table,
		Key:           key,
	}
}

// NewDeleteHeader builds a tombstone header.
func NewDeleteHeader(table, key string) RecordHeader {
	return RecordHeader{
		HeaderVersion: RecordHeaderVersion,
		Action:        ActionDelete,
		Table:         table,
		Key:           key,
	}
}

// Size returns the encoded size of the header, excluding the payload.
func (h RecordHeader) Size() int {
	return fixedHeaderSize + len(h.Table) + 4 + len(h.Key)
}

// RecordCodec handles serialization and deserialization of log headers
type RecordCodec struct{}

// NewRecordCodec creates a new record codec instance
func NewRecordCodec() *RecordCodec {
	return &RecordCodec{}
}

// EncodeStreamHeader serializes a stream header.
func (c *RecordCodec) EncodeStreamHeader(h StreamHeader) []byte {
	buf := make([]byte, StreamHeaderSize)
	binary.LittleEndian.PutUint32(buf, h.Version)
	return buf
}

// DecodeStreamHeader deserializes a stream header and rejects unknown versions.
func (c *RecordCodec) DecodeStreamHeader(data []byte) (StreamHeader, error) {
	if len(data) < StreamHeaderSize {
		return StreamHeader{}, ErrTruncated
	}

	h := StreamHeader{Version: binary.LittleEndian.Uint32(data[:StreamHeaderSize])}
	if h.Version != StreamVersion {
		return h, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}

	return h, nil
}

// ReadStreamHeader reads and decodes a stream header from r.
func (c *RecordCodec) ReadStreamHeader(r io.Reader) (StreamHeader, error) {
	buf := make([]byte, StreamHeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return StreamHeader{}, ErrTruncated
		}
		return StreamHeader{}, err
	}
	return c.DecodeStreamHeader(buf)
}

// EncodeRecordHeader serializes a record header.
// Format: [HeaderVersion(4)][RecordSize(8)][Action(4)][TableLen(4)][Table][KeyLen(4)][Key]
func (c *RecordCodec) EncodeRecordHeader(h RecordHeader) ([]byte, error) {
	if len(h.Table) > MaxNameSize || len(h.Key) > MaxNameSize {
		return nil, ErrNameTooLarge
	}

	buf := make([]byte, h.Size())

	binary.LittleEndian.PutUint32(buf[0:], h.HeaderVersion)
	binary.LittleEndian.PutUint64(buf[4:], h.RecordSize)
	binary.LittleEndian.PutUint32(buf[12:], uint32(h.Action))
	binary.LittleEndian.PutUint32(buf[16:], uint32(len(h.Table)))
	n := copy(buf[fixedHeaderSize:], h.Table)
	pos := fixedHeaderSize + n
	binary.LittleEndian.PutUint32(buf[pos:], uint32(len(h.Key)))
	copy(buf[pos+4:], h.Key)

	return buf, nil
}

// DecodeRecordHeader reads one record header from r.
//
// It returns io.EOF when r is exhausted exactly at a record boundary,
// ErrTruncated when r ends part way through the header, and ErrCorruptRecord
// when a field holds an impossible value.
func (c *RecordCodec) DecodeRecordHeader(r io.Reader) (RecordHeader, error) {
	fixed := make([]byte, fixedHeaderSize)
	if _, err := io.ReadFull(r, fixed); err != nil {
		return RecordHeader{}, shortRead(err, true)
	}

	h := RecordHeader{
		HeaderVersion: binary.LittleEndian.Uint32(fixed[0:4]),
		RecordSize:    binary.LittleEndian.Uint64(fixed[4:12]),
		Action:        Action(binary.LittleEndian.Uint32(fixed[12:16])),
	}

	if h.HeaderVersion != RecordHeaderVersion {
		return h, fmt.Errorf("%w: header version %d", ErrCorruptRecord, h.HeaderVersion)
	}
	switch h.Action {
	case ActionStore:
	case ActionDelete:
		if h.RecordSize != 0 {
			return h, fmt.Errorf("%w: delete record with size %d", ErrCorruptRecord, h.RecordSize)
		}
	default:
		return h, fmt.Errorf("%w: unknown %s", ErrCorruptRecord, h.Action)
	}

	table, err := readName(r, binary.LittleEndian.Uint32(fixed[16:20]))
	if err != nil {
		return h, err
	}

	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return h, shortRead(err, false)
	}
	key, err := readName(r, binary.LittleEndian.Uint32(lenBuf))
	if err != nil {
		return h, err
	}

	h.Table = table
	h.Key = key
	return h, nil
}

func readName(r io.Reader, n uint32) (string, error) {
	if n > MaxNameSize {
		return "", fmt.Errorf("%w: name length %d", ErrCorruptRecord, n)
	}
	if n == 0 {
		return "", nil
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", shortRead(err, false)
	}
	return string(buf), nil
}

// shortRead maps io errors from a header read. A clean EOF is only valid
// before the first byte of a header.
func shortRead(err error, atBoundary bool) error {
	switch {
	case err == io.EOF && atBoundary:
		return io.EOF
	case err == io.EOF || err == io.ErrUnexpectedEOF:
		return ErrTruncated
	default:
		return err
	}
}
