package store

import (
	"log/slog"
	"time"

	"github.com/TravisTheTechie/Cashbox/pkg/codec"
)

// RecordKey identifies one logical document slot. Both parts are compared
// exactly (case-sensitive).
type RecordKey struct {
	Table string
	Key   string
}

// IndexEntry represents the location of the latest payload for a key
type IndexEntry struct {
	HeaderOffset int64  // Byte offset of the record header
	HeaderSize   int    // Encoded header size in bytes
	Offset       int64  // Byte offset of the payload
	Size         uint64 // Payload size in bytes
}

// RecordSize returns the bytes this record occupies in the log.
func (e *IndexEntry) RecordSize() int64 {
	return int64(e.HeaderSize) + int64(e.Size)
}

// LogStoreConfig holds the stream providers for a log store.
//
// The primary stream handed to NewLogStore is owned by the store from then on.
// During compaction the store releases it through PrimaryCleanup and asks
// PrimaryFactory for its replacement; TempFactory and TempCleanup manage the
// staging stream.
type LogStoreConfig struct {
	PrimaryFactory StreamFactory
	TempFactory    StreamFactory
	PrimaryCleanup StreamCleanup
	TempCleanup    StreamCleanup

	SyncWrites bool         // fsync after every append when the stream supports it
	Logger     *slog.Logger // optional
}

// RecoveryResult describes the replay performed when a store is opened
type RecoveryResult struct {
	RecordsReplayed int64
	BytesTruncated  int64
	FileSizeBefore  int64
	FileSizeAfter   int64
	IndexRebuilt    bool
	RecoveryTime    time.Duration
}

// Errors
var (
	ErrStoreClosed = &StoreError{"store is closed"}
	ErrStoreBroken = &StoreError{"store lost its primary stream during compaction"}
	ErrBadConfig   = &StoreError{"log store config is missing a stream provider"}

	// ErrCorruptRecord is returned when the log cannot be decoded or a payload
	// is shorter than its header claims.
	ErrCorruptRecord = codec.ErrCorruptRecord
)

// StoreError represents a log store error
type StoreError struct {
	Message string
}

func (e *StoreError) Error() string {
	return e.Message
}
