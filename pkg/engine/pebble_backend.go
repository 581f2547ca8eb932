package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/cockroachdb/pebble"
)

// PebbleOptions configures a PebbleBackend
type PebbleOptions struct {
	Dir        string
	SyncWrites bool
	Logger     *slog.Logger
}

// PebbleBackend stores documents in a Pebble LSM. Keys are the table name, a
// NUL byte and the document key, so one table is one contiguous key range.
type PebbleBackend struct {
	opts   PebbleOptions
	logger *slog.Logger
	write  *pebble.WriteOptions

	db *pebble.DB
}

// NewPebbleBackend creates a pebble backend. The database is opened on Startup.
func NewPebbleBackend(opts PebbleOptions) *PebbleBackend {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	write := pebble.NoSync
	if opts.SyncWrites {
		write = pebble.Sync
	}
	return &PebbleBackend{opts: opts, logger: logger, write: write}
}

func (b *PebbleBackend) Name() string { return "pebble" }

// ValidateKey rejects table names containing the key separator
func (b *PebbleBackend) ValidateKey(table, key string) error {
	if strings.ContainsRune(table, 0) {
		return newError("", table, key, ErrInvalidKey, errors.New("table name contains a NUL byte"))
	}
	return nil
}

func pebbleKey(table, key string) []byte {
	k := make([]byte, 0, len(table)+1+len(key))
	k = append(k, table...)
	k = append(k, 0)
	return append(k, key...)
}

func (b *PebbleBackend) Startup(_ context.Context) error {
	db, err := pebble.Open(b.opts.Dir, &pebble.Options{})
	if err != nil {
		return newError("startup", "", "", ErrBackendUnavailable, err)
	}
	b.db = db
	b.logger.Info("pebble opened", "dir", b.opts.Dir)
	return nil
}

func (b *PebbleBackend) Shutdown(_ context.Context) error {
	if b.db == nil {
		return nil
	}
	if err := b.db.Flush(); err != nil {
		b.logger.Warn("failed to flush memtable", "error", err)
	}
	err := b.db.Close()
	b.db = nil
	return err
}

func (b *PebbleBackend) Store(table, key string, value []byte) error {
	return b.db.Set(pebbleKey(table, key), value, b.write)
}

func (b *PebbleBackend) Retrieve(table, key string) ([]byte, bool, error) {
	data, closer, err := b.db.Get(pebbleKey(table, key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()

	return copyBytes(data), true, nil
}

func (b *PebbleBackend) RetrieveWithDefault(table, key string, def []byte) ([]byte, error) {
	value, ok, err := b.Retrieve(table, key)
	if err != nil {
		return nil, err
	}
	if ok {
		return value, nil
	}
	if err := b.Store(table, key, def); err != nil {
		return nil, err
	}
	return copyBytes(def), nil
}

// tableBounds returns the key range holding every key of table
func tableBounds(table string) (lower, upper []byte) {
	lower = append([]byte(table), 0)
	upper = append([]byte(table), 1)
	return lower, upper
}

func (b *PebbleBackend) List(table string) ([]Entry, error) {
	lower, upper := tableBounds(table)
	iter, err := b.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}

	entries := []Entry{}
	for iter.First(); iter.Valid(); iter.Next() {
		entries = append(entries, Entry{
			Key:   string(iter.Key()[len(lower):]),
			Value: copyBytes(iter.Value()),
		})
	}
	if err := iter.Error(); err != nil {
		iter.Close()
		return nil, err
	}
	return entries, iter.Close()
}

func (b *PebbleBackend) Remove(table, key string) error {
	return b.db.Delete(pebbleKey(table, key), b.write)
}

// Compact asks pebble to compact the whole key space
func (b *PebbleBackend) Compact() error {
	iter, err := b.db.NewIter(nil)
	if err != nil {
		return err
	}
	var first, last []byte
	if iter.First() {
		first = copyBytes(iter.Key())
	}
	if iter.Last() {
		last = copyBytes(iter.Key())
	}
	if err := iter.Close(); err != nil {
		return err
	}
	if first == nil {
		return nil
	}
	return b.db.Compact(first, append(last, 0), true)
}

func (b *PebbleBackend) Stats() (Stats, error) {
	iter, err := b.db.NewIter(nil)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Backend: b.Name(), Tables: map[string]int{}}
	for iter.First(); iter.Valid(); iter.Next() {
		table, _, _ := strings.Cut(string(iter.Key()), "\x00")
		stats.Tables[table]++
		stats.Keys++
		stats.LiveSize += int64(len(iter.Key()) + len(iter.Value()))
	}
	if err := iter.Error(); err != nil {
		iter.Close()
		return Stats{}, err
	}
	stats.DataSize = int64(b.db.Metrics().DiskSpaceUsage())
	return stats, iter.Close()
}
