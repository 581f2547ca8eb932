package store

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/TravisTheTechie/Cashbox/pkg/codec"
)

// LogStore is an append-only table/key store over a single Stream with an
// in-memory index rebuilt by replaying the stream.
//
// LogStore takes no locks. Callers must give it exclusive access, which the
// engine does by driving it from a single worker.
type LogStore struct {
	config  LogStoreConfig
	codec   *codec.RecordCodec
	logger  *slog.Logger
	primary Stream
	writer  *logWriter
	index   *HashIndex

	size        int64 // end of the last complete record
	compactions int
	recovery    RecoveryResult
	closed      bool
	broken      error
}

// NewLogStore takes ownership of primary. A non-empty stream is replayed to
// rebuild the index; an empty one gets a fresh stream header. Replay failures
// other than a torn trailing record are returned and leave the store unusable.
func NewLogStore(primary Stream, config LogStoreConfig) (*LogStore, error) {
	if primary == nil || config.PrimaryFactory == nil || config.TempFactory == nil {
		return nil, ErrBadConfig
	}
	if config.PrimaryCleanup == nil {
		config.PrimaryCleanup = CloseStream
	}
	if config.TempCleanup == nil {
		config.TempCleanup = CloseStream
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &LogStore{
		config: config,
		codec:  codec.NewRecordCodec(),
		logger: logger,
		index:  NewHashIndex(),
	}
	s.attach(primary)

	recovery, err := s.rebuildIndex()
	if err != nil {
		return nil, err
	}
	s.recovery = recovery

	if recovery.BytesTruncated > 0 {
		logger.Warn("truncated torn tail of log",
			"bytes", recovery.BytesTruncated,
			"size", recovery.FileSizeAfter)
	}

	return s, nil
}

func (s *LogStore) attach(primary Stream) {
	s.primary = primary
	s.writer = newLogWriter(primary, s.codec, s.config.SyncWrites)
}

func (s *LogStore) usable() error {
	if s.closed {
		return ErrStoreClosed
	}
	return s.broken
}

// Store appends a payload for table/key and points the index at it. It
// returns the stream offset immediately after the new record.
func (s *LogStore) Store(table, key string, data []byte) (int64, error) {
	if err := s.usable(); err != nil {
		return 0, err
	}

	res, err := s.writer.Append(codec.NewStoreHeader(table, key, len(data)), data)
	if err != nil {
		return 0, fmt.Errorf("failed to append record: %w", err)
	}

	s.index.Put(RecordKey{Table: table, Key: key}, &IndexEntry{
		HeaderOffset: res.HeaderOffset,
		HeaderSize:   res.HeaderSize,
		Offset:       res.Offset,
		Size:         uint64(len(data)),
	})
	s.size = res.End

	return res.End, nil
}

// Remove appends a delete record for table/key and drops it from the index.
func (s *LogStore) Remove(table, key string) error {
	if err := s.usable(); err != nil {
		return err
	}

	res, err := s.writer.Append(codec.NewDeleteHeader(table, key), nil)
	if err != nil {
		return fmt.Errorf("failed to append delete record: %w", err)
	}

	s.index.Delete(RecordKey{Table: table, Key: key})
	s.size = res.End

	return nil
}

// Read returns the latest payload for table/key. A missing key is reported
// with ok == false and no error.
func (s *LogStore) Read(table, key string) (data []byte, ok bool, err error) {
	if err := s.usable(); err != nil {
		return nil, false, err
	}

	entry, exists := s.index.Get(RecordKey{Table: table, Key: key})
	if !exists {
		return nil, false, nil
	}

	data, err = readPayload(s.primary, entry)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Contains reports whether table/key is live
func (s *LogStore) Contains(table, key string) bool {
	_, exists := s.index.Get(RecordKey{Table: table, Key: key})
	return exists
}

// ListKeys returns a snapshot of every live key, ordered by table then key
func (s *LogStore) ListKeys() []RecordKey {
	return s.index.Keys()
}

// KeysForTable returns the sorted live keys of one table
func (s *LogStore) KeysForTable(table string) []string {
	return s.index.KeysForTable(table)
}

// Len returns the number of live keys
func (s *LogStore) Len() int {
	return s.index.Size()
}

// Size returns the stream length
func (s *LogStore) Size() int64 {
	return s.size
}

// Recovery returns what happened when the store was opened
func (s *LogStore) Recovery() RecoveryResult {
	return s.recovery
}

// CleanUp compacts the log.
//
// Every live payload is copied into a temporary stream, the primary stream is
// released and replaced with a fresh one from PrimaryFactory, the staged
// records are copied back, and the index is rebuilt from the new primary.
func (s *LogStore) CleanUp() error {
	if err := s.usable(); err != nil {
		return err
	}

	start := time.Now()
	before := s.size

	temp, err := s.config.TempFactory()
	if err != nil {
		return fmt.Errorf("failed to open temp stream: %w", err)
	}

	tempIndex, err := s.copyLive(s.primary, s.index, temp)
	if err != nil {
		s.cleanupTemp(temp)
		return fmt.Errorf("failed to stage live records: %w", err)
	}

	if err := s.config.PrimaryCleanup(s.primary); err != nil {
		s.cleanupTemp(temp)
		return fmt.Errorf("failed to release primary stream: %w", err)
	}

	primary, err := s.config.PrimaryFactory()
	if err != nil {
		s.broken = fmt.Errorf("%w: %v", ErrStoreBroken, err)
		return s.broken
	}
	s.attach(primary)

	if _, err := s.copyLive(temp, tempIndex, primary); err != nil {
		s.broken = fmt.Errorf("%w: %v", ErrStoreBroken, err)
		return s.broken
	}
	s.cleanupTemp(temp)

	if _, err := s.rebuildIndex(); err != nil {
		s.broken = fmt.Errorf("%w: %v", ErrStoreBroken, err)
		return s.broken
	}
	s.compactions++

	s.logger.Info("compacted log",
		"live_keys", s.index.Size(),
		"size_before", before,
		"size_after", s.size,
		"duration", time.Since(start))

	return nil
}

// copyLive resets dst and appends every record idx knows about in src,
// returning the index of the copies.
func (s *LogStore) copyLive(src Stream, idx *HashIndex, dst Stream) (*HashIndex, error) {
	w := newLogWriter(dst, s.codec, false)
	if err := w.Reset(); err != nil {
		return nil, err
	}

	copied := NewHashIndex()
	for _, key := range idx.Keys() {
		entry, _ := idx.Get(key)
		data, err := readPayload(src, entry)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s/%s: %w", key.Table, key.Key, err)
		}

		res, err := w.Append(codec.NewStoreHeader(key.Table, key.Key, len(data)), data)
		if err != nil {
			return nil, err
		}
		copied.Put(key, &IndexEntry{
			HeaderOffset: res.HeaderOffset,
			HeaderSize:   res.HeaderSize,
			Offset:       res.Offset,
			Size:         uint64(len(data)),
		})
	}

	if s.config.SyncWrites {
		if sy, ok := dst.(syncer); ok {
			if err := sy.Sync(); err != nil {
				return nil, err
			}
		}
	}
	return copied, nil
}

func (s *LogStore) cleanupTemp(temp Stream) {
	if err := s.config.TempCleanup(temp); err != nil {
		s.logger.Warn("failed to clean up temp stream", "error", err)
	}
}

// rebuildIndex replays the primary stream from offset 0.
//
// A torn trailing record (header or payload cut short by a crash) is treated
// as uncommitted: replay stops and the stream is truncated back to the last
// record boundary. Any other decode failure is returned.
func (s *LogStore) rebuildIndex() (RecoveryResult, error) {
	started := time.Now()
	s.index.Clear()

	length, err := s.primary.Seek(0, io.SeekEnd)
	if err != nil {
		return RecoveryResult{}, err
	}

	result := RecoveryResult{FileSizeBefore: length, IndexRebuilt: true}

	if length == 0 {
		if err := s.writer.Reset(); err != nil {
			return result, fmt.Errorf("failed to write stream header: %w", err)
		}
		s.size = codec.StreamHeaderSize
		result.FileSizeAfter = s.size
		result.RecoveryTime = time.Since(started)
		return result, nil
	}

	reader, err := newLogReader(s.primary, s.codec)
	if err != nil {
		return result, err
	}

	if _, err := reader.ReadStreamHeader(); err != nil {
		if !errors.Is(err, codec.ErrTruncated) {
			return result, err
		}
		// the header itself was torn, so no record can have been committed
		if err := s.writer.Reset(); err != nil {
			return result, err
		}
		s.size = codec.StreamHeaderSize
		result.BytesTruncated = length
		result.FileSizeAfter = s.size
		result.RecoveryTime = time.Since(started)
		return result, nil
	}

	validEnd := reader.Offset()
replay:
	for {
		header, err := reader.Next()
		if err == io.EOF {
			break
		}
		if errors.Is(err, codec.ErrTruncated) {
			break
		}
		if err != nil {
			return result, fmt.Errorf("failed to replay log at offset %d: %w", validEnd, err)
		}

		key := RecordKey{Table: header.Table, Key: header.Key}
		switch header.Action {
		case codec.ActionStore:
			if header.RecordSize > uint64(length-header.RecordLocation) {
				// payload cut short
				break replay
			}
			if err := reader.Skip(header.RecordSize); err != nil {
				if errors.Is(err, codec.ErrTruncated) {
					break replay
				}
				return result, err
			}
			s.index.Put(key, &IndexEntry{
				HeaderOffset: validEnd,
				HeaderSize:   header.Size(),
				Offset:       header.RecordLocation,
				Size:         header.RecordSize,
			})
		case codec.ActionDelete:
			s.index.Delete(key)
		}

		validEnd = reader.Offset()
		result.RecordsReplayed++
	}

	if validEnd < length {
		if err := s.primary.Truncate(validEnd); err != nil {
			return result, fmt.Errorf("failed to truncate torn record: %w", err)
		}
		result.BytesTruncated = length - validEnd
	}

	s.size = validEnd
	result.FileSizeAfter = validEnd
	result.RecoveryTime = time.Since(started)
	return result, nil
}

// Close releases the primary stream
func (s *LogStore) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	if s.broken != nil {
		return nil
	}
	return s.config.PrimaryCleanup(s.primary)
}
