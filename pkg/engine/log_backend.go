package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/TravisTheTechie/Cashbox/pkg/codec"
	"github.com/TravisTheTechie/Cashbox/pkg/metrics"
	"github.com/TravisTheTechie/Cashbox/pkg/store"
)

// DefaultCompactionFrequency is the number of mutations between compactions
const DefaultCompactionFrequency = 250

// LogOpener opens the log store a LogBackend wraps
type LogOpener func() (*store.LogStore, error)

// FileLogOpener opens a file-backed log at dir/name
func FileLogOpener(dir, name string, syncWrites bool, logger *slog.Logger) LogOpener {
	return func() (*store.LogStore, error) {
		return store.OpenFileLogStore(dir, name, syncWrites, logger)
	}
}

// MemoryLogOpener opens a log over an in-memory stream. Each open starts empty.
func MemoryLogOpener(logger *slog.Logger) LogOpener {
	return func() (*store.LogStore, error) {
		config := store.MemoryStreamConfig()
		config.Logger = logger
		return store.NewLogStore(store.NewMemoryStream(), config)
	}
}

// LogOptions configures a LogBackend
type LogOptions struct {
	// CompactionFrequency is the number of mutations between automatic
	// compactions. Zero disables them.
	CompactionFrequency int
	Logger              *slog.Logger
	Metrics             *metrics.Metrics
}

// LogBackend stores documents in an append-only log.
type LogBackend struct {
	open    LogOpener
	opts    LogOptions
	logger  *slog.Logger
	metrics *metrics.Metrics

	store     *store.LogStore
	mutations int
}

// NewLogBackend creates a log backend. The log is opened on Startup.
func NewLogBackend(open LogOpener, opts LogOptions) *LogBackend {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &LogBackend{
		open:    open,
		opts:    opts,
		logger:  logger,
		metrics: opts.Metrics,
	}
}

func (b *LogBackend) Name() string { return "log" }

func (b *LogBackend) Startup(_ context.Context) error {
	s, err := b.open()
	if err != nil {
		kind := ErrBackendUnavailable
		if errors.Is(err, codec.ErrCorruptRecord) || errors.Is(err, codec.ErrUnsupportedVersion) {
			kind = ErrCorruptRecord
		}
		return newError("startup", "", "", kind, err)
	}

	b.store = s
	b.mutations = 0
	b.updateMetrics()

	recovery := s.Recovery()
	b.logger.Info("log opened",
		"records", recovery.RecordsReplayed,
		"live_keys", s.Len(),
		"size", s.Size(),
		"recovery_time", recovery.RecoveryTime)
	return nil
}

func (b *LogBackend) Shutdown(_ context.Context) error {
	if b.store == nil {
		return nil
	}
	err := b.store.Close()
	b.store = nil
	return err
}

func (b *LogBackend) Store(table, key string, value []byte) error {
	if _, err := b.store.Store(table, key, value); err != nil {
		return err
	}
	b.mutated()
	return nil
}

func (b *LogBackend) Retrieve(table, key string) ([]byte, bool, error) {
	return b.store.Read(table, key)
}

func (b *LogBackend) RetrieveWithDefault(table, key string, def []byte) ([]byte, error) {
	value, ok, err := b.store.Read(table, key)
	if err != nil {
		return nil, err
	}
	if ok {
		return value, nil
	}

	if err := b.Store(table, key, def); err != nil {
		return nil, err
	}
	return def, nil
}

func (b *LogBackend) List(table string) ([]Entry, error) {
	keys := b.store.KeysForTable(table)
	entries := make([]Entry, 0, len(keys))
	for _, key := range keys {
		value, ok, err := b.store.Read(table, key)
		if err != nil {
			return nil, err
		}
		if ok {
			entries = append(entries, Entry{Key: key, Value: value})
		}
	}
	return entries, nil
}

func (b *LogBackend) Remove(table, key string) error {
	if err := b.store.Remove(table, key); err != nil {
		return err
	}
	b.mutated()
	return nil
}

// mutated counts a write and compacts when the counter reaches the
// configured frequency. A failed compaction does not fail the write that
// triggered it.
func (b *LogBackend) mutated() {
	b.mutations++
	if b.opts.CompactionFrequency > 0 && b.mutations >= b.opts.CompactionFrequency {
		if err := b.Compact(); err != nil {
			b.logger.Error("automatic compaction failed", "error", err)
		}
		return
	}
	b.updateMetrics()
}

// Compact rewrites the log with only live records
func (b *LogBackend) Compact() error {
	if err := b.store.CleanUp(); err != nil {
		return err
	}
	b.mutations = 0
	b.metrics.RecordCompaction()
	b.updateMetrics()
	return nil
}

func (b *LogBackend) updateMetrics() {
	b.metrics.UpdateLogStats(b.store.Len(), b.store.Size())
}

func (b *LogBackend) Stats() (Stats, error) {
	s := b.store.Stats()
	tables := map[string]int{}
	for _, key := range b.store.ListKeys() {
		tables[key.Table]++
	}
	return Stats{
		Backend:                  b.Name(),
		Keys:                     s.Keys,
		Tables:                   tables,
		DataSize:                 s.DataSize,
		LiveSize:                 s.LiveSize,
		Compactions:              s.Compactions,
		MutationsSinceCompaction: b.mutations,
	}, nil
}

func (b *LogBackend) Explain(opts store.ExplainOptions) (*store.ExplainResult, error) {
	return b.store.Explain(opts)
}
