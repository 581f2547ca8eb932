package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/TravisTheTechie/Cashbox/pkg/actor"
	"github.com/TravisTheTechie/Cashbox/pkg/metrics"
)

// DefaultSnapshotDelay is the coalescing window for memory snapshots
const DefaultSnapshotDelay = 250 * time.Millisecond

const snapshotVersion = 1

// MemoryOptions configures a MemoryBackend
type MemoryOptions struct {
	// SnapshotPath is where the tables are persisted. Empty means the backend
	// is purely in-memory.
	SnapshotPath  string
	SnapshotDelay time.Duration
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
}

type snapshotFile struct {
	Version int                          `json:"version"`
	Tables  map[string]map[string][]byte `json:"tables"`
}

// MemoryBackend keeps every table in a map and writes the whole set to a
// snapshot file a short while after it changes. Mutations inside one delay
// window share a single snapshot write.
type MemoryBackend struct {
	opts    MemoryOptions
	logger  *slog.Logger
	metrics *metrics.Metrics
	worker  *actor.Worker

	tables    map[string]map[string][]byte
	dirty     bool
	scheduled bool
	timer     *time.Timer
	snapshots int
}

// NewMemoryBackend creates a memory backend
func NewMemoryBackend(opts MemoryOptions) *MemoryBackend {
	if opts.SnapshotDelay <= 0 {
		opts.SnapshotDelay = DefaultSnapshotDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &MemoryBackend{
		opts:    opts,
		logger:  logger,
		metrics: opts.Metrics,
		tables:  map[string]map[string][]byte{},
	}
}

func (b *MemoryBackend) Name() string { return "memory" }

func (b *MemoryBackend) bindWorker(w *actor.Worker) {
	b.worker = w
}

func (b *MemoryBackend) Startup(_ context.Context) error {
	b.tables = map[string]map[string][]byte{}
	if b.opts.SnapshotPath == "" {
		return nil
	}

	data, err := os.ReadFile(b.opts.SnapshotPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return newError("startup", "", "", ErrBackendUnavailable, err)
	}

	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		return newError("startup", "", "", ErrCorruptRecord, fmt.Errorf("failed to parse snapshot: %w", err))
	}
	if snap.Version != snapshotVersion {
		return newError("startup", "", "", ErrCorruptRecord, fmt.Errorf("unsupported snapshot version %d", snap.Version))
	}
	for table, rows := range snap.Tables {
		if len(rows) > 0 {
			b.tables[table] = rows
		}
	}

	b.logger.Info("snapshot loaded", "path", b.opts.SnapshotPath, "tables", len(b.tables))
	return nil
}

// Shutdown cancels any pending snapshot and writes the final one before
// returning.
func (b *MemoryBackend) Shutdown(_ context.Context) error {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.scheduled = false

	if b.opts.SnapshotPath == "" || !b.dirty {
		return nil
	}
	return b.writeSnapshot()
}

func (b *MemoryBackend) Store(table, key string, value []byte) error {
	rows, ok := b.tables[table]
	if !ok {
		rows = map[string][]byte{}
		b.tables[table] = rows
	}
	rows[key] = copyBytes(value)
	b.mutated()
	return nil
}

func (b *MemoryBackend) Retrieve(table, key string) ([]byte, bool, error) {
	value, ok := b.tables[table][key]
	if !ok {
		return nil, false, nil
	}
	return copyBytes(value), true, nil
}

func (b *MemoryBackend) RetrieveWithDefault(table, key string, def []byte) ([]byte, error) {
	if value, ok, _ := b.Retrieve(table, key); ok {
		return value, nil
	}
	if err := b.Store(table, key, def); err != nil {
		return nil, err
	}
	return copyBytes(def), nil
}

func (b *MemoryBackend) List(table string) ([]Entry, error) {
	rows := b.tables[table]
	entries := make([]Entry, 0, len(rows))
	for key, value := range rows {
		entries = append(entries, Entry{Key: key, Value: copyBytes(value)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

func (b *MemoryBackend) Remove(table, key string) error {
	rows, ok := b.tables[table]
	if !ok {
		return nil
	}
	if _, ok := rows[key]; !ok {
		return nil
	}
	delete(rows, key)
	if len(rows) == 0 {
		delete(b.tables, table)
	}
	b.mutated()
	return nil
}

func (b *MemoryBackend) Stats() (Stats, error) {
	stats := Stats{Backend: b.Name(), Tables: map[string]int{}}
	for table, rows := range b.tables {
		stats.Tables[table] = len(rows)
		stats.Keys += len(rows)
		for _, value := range rows {
			stats.LiveSize += int64(len(value))
		}
	}
	return stats, nil
}

func (b *MemoryBackend) mutated() {
	b.dirty = true
	b.schedule()
}

// schedule arms the snapshot timer unless one is already pending
func (b *MemoryBackend) schedule() {
	if b.opts.SnapshotPath == "" || b.worker == nil || b.scheduled {
		return
	}

	b.scheduled = true
	b.timer = time.AfterFunc(b.opts.SnapshotDelay, func() {
		err := b.worker.Send(context.Background(), "snapshot", b.snapshotTurn)
		if err != nil {
			b.logger.Debug("snapshot not scheduled", "error", err)
		}
	})
}

// snapshotTurn runs on the worker when the delay window closes. A failed
// write is retried after another delay.
func (b *MemoryBackend) snapshotTurn() error {
	if !b.scheduled {
		// cancelled by Shutdown
		return nil
	}
	b.scheduled = false
	b.timer = nil
	if !b.dirty {
		return nil
	}

	if err := b.writeSnapshot(); err != nil {
		b.schedule()
		return err
	}
	return nil
}

// writeSnapshot replaces the snapshot file atomically
func (b *MemoryBackend) writeSnapshot() error {
	data, err := json.Marshal(snapshotFile{Version: snapshotVersion, Tables: b.tables})
	if err != nil {
		return err
	}

	dir := filepath.Dir(b.opts.SnapshotPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return newError("snapshot", "", "", ErrBackendUnavailable, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(b.opts.SnapshotPath)+".*.tmp")
	if err != nil {
		return newError("snapshot", "", "", ErrBackendUnavailable, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), b.opts.SnapshotPath); err != nil {
		return err
	}

	b.dirty = false
	b.snapshots++
	b.metrics.RecordSnapshot()
	b.logger.Debug("snapshot written", "path", b.opts.SnapshotPath, "bytes", len(data))
	return nil
}
