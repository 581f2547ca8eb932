// Package codec provides the binary framing for Cashbox's log-structured store.
//
// A log is a stream header followed by a flat sequence of records. Each record
// is a header and, for store records, the raw payload bytes. The codec only
// encodes and decodes headers; it performs no I/O beyond reading from the
// io.Reader it is handed.
//
// # Stream Header
//
//	[Version(4)]
//
// Version is currently 1. Readers reject any other value with
// ErrUnsupportedVersion.
//
// # Record Header
//
//	[HeaderVersion(4)][RecordSize(8)][Action(4)][TableLen(4)][Table][KeyLen(4)][Key]
//
// Fields:
//   - HeaderVersion: 32-bit record header version, currently 1 (little-endian)
//   - RecordSize: 64-bit payload length in bytes, 0 for deletes (little-endian)
//   - Action: 32-bit action, 0 = store, 1 = delete (little-endian)
//   - TableLen/Table: length-prefixed UTF-8 table name
//   - KeyLen/Key: length-prefixed UTF-8 key
//
// A store header is followed immediately by RecordSize payload bytes. There is
// no trailer, so a valid truncation point is always a record boundary.
//
// # Error Handling
//
// DecodeRecordHeader distinguishes three end states:
//   - io.EOF: the reader ended exactly on a record boundary
//   - ErrTruncated: the reader ended part way through a header
//   - ErrCorruptRecord: a field holds an impossible value
//
// ErrTruncated wraps ErrCorruptRecord, so callers that only care about
// corruption can test for ErrCorruptRecord alone. The log store uses the
// distinction to treat a torn trailing record as uncommitted.
//
// # Thread Safety
//
// RecordCodec is stateless and safe for concurrent use.
package codec
