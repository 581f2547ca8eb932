package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"
)

// tableSeparator joins a table and a key into one SQL row key
const tableSeparator = "\x1f"

// DefaultSQLTable is the table documents are kept in
const DefaultSQLTable = "documents"

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Dialect captures the differences between the supported SQL engines
type Dialect struct {
	Name        string
	DriverName  string
	BlobType    string
	placeholder func(n int) string
	// MaxOpenConns limits the pool; zero leaves the driver default
	MaxOpenConns int
	// rejectNUL is set for engines whose TEXT type cannot hold NUL bytes
	rejectNUL bool
}

var (
	// SQLite uses the pure Go modernc.org/sqlite driver, registered as "sqlite"
	SQLite = Dialect{
		Name:         "sqlite",
		DriverName:   "sqlite",
		BlobType:     "BLOB",
		placeholder:  func(int) string { return "?" },
		MaxOpenConns: 1,
	}

	// Postgres uses github.com/lib/pq, registered as "postgres"
	Postgres = Dialect{
		Name:        "postgres",
		DriverName:  "postgres",
		BlobType:    "BYTEA",
		placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
		rejectNUL:   true,
	}
)

// DialectByName returns the dialect called name
func DialectByName(name string) (Dialect, error) {
	switch name {
	case SQLite.Name:
		return SQLite, nil
	case Postgres.Name:
		return Postgres, nil
	}
	return Dialect{}, fmt.Errorf("unknown sql dialect %q", name)
}

// SQLOptions configures a SQLBackend
type SQLOptions struct {
	Dialect Dialect
	DSN     string
	Table   string
	// OpTimeout bounds each statement
	OpTimeout time.Duration
	Logger    *slog.Logger
}

type sqlQueries struct {
	create  string
	upsert  string
	insert  string
	selectq string
	list    string
	delete  string
	keys    string
}

// SQLBackend keeps every document as one row of a two column table. The row
// key is the table name and the document key joined by a unit separator.
type SQLBackend struct {
	opts    SQLOptions
	logger  *slog.Logger
	queries sqlQueries

	db *sql.DB
}

// NewSQLBackend creates a SQL backend. The connection is opened on Startup.
func NewSQLBackend(opts SQLOptions) (*SQLBackend, error) {
	if opts.Table == "" {
		opts.Table = DefaultSQLTable
	}
	if !identifierPattern.MatchString(opts.Table) {
		return nil, newError("configure", "", "", ErrInvalidKey, fmt.Errorf("invalid sql table name %q", opts.Table))
	}
	if opts.Dialect.DriverName == "" {
		opts.Dialect = SQLite
	}
	if opts.Dialect.placeholder == nil {
		// dialects built outside this package bind with "?"
		opts.Dialect.placeholder = func(int) string { return "?" }
	}
	if opts.Dialect.BlobType == "" {
		opts.Dialect.BlobType = "BLOB"
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &SQLBackend{
		opts:    opts,
		logger:  logger,
		queries: buildQueries(opts.Dialect, opts.Table),
	}, nil
}

func buildQueries(d Dialect, table string) sqlQueries {
	p := d.placeholder
	return sqlQueries{
		create: fmt.Sprintf(
			"CREATE TABLE IF NOT EXISTS %s (key TEXT PRIMARY KEY, value %s)",
			table, d.BlobType),
		upsert: fmt.Sprintf(
			"INSERT INTO %s (key, value) VALUES (%s, %s) ON CONFLICT (key) DO UPDATE SET value = excluded.value",
			table, p(1), p(2)),
		insert: fmt.Sprintf(
			"INSERT INTO %s (key, value) VALUES (%s, %s) ON CONFLICT (key) DO NOTHING",
			table, p(1), p(2)),
		selectq: fmt.Sprintf("SELECT value FROM %s WHERE key = %s", table, p(1)),
		list: fmt.Sprintf(
			"SELECT key, value FROM %s WHERE key LIKE %s ESCAPE '\\' ORDER BY key",
			table, p(1)),
		delete: fmt.Sprintf("DELETE FROM %s WHERE key = %s", table, p(1)),
		keys:   fmt.Sprintf("SELECT key FROM %s", table),
	}
}

func (b *SQLBackend) Name() string { return b.opts.Dialect.Name }

// ValidateKey rejects names that would break the row key encoding
func (b *SQLBackend) ValidateKey(table, key string) error {
	if strings.Contains(table, tableSeparator) {
		return newError("", table, key, ErrInvalidKey, errors.New("table name contains the unit separator"))
	}
	if b.opts.Dialect.rejectNUL && (strings.ContainsRune(table, 0) || strings.ContainsRune(key, 0)) {
		return newError("", table, key, ErrInvalidKey, errors.New("NUL bytes are not supported"))
	}
	return nil
}

func rowKey(table, key string) string {
	return table + tableSeparator + key
}

// likePrefix escapes LIKE metacharacters in the table prefix
func likePrefix(table string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(table+tableSeparator) + "%"
}

func (b *SQLBackend) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), b.opts.OpTimeout)
}

func (b *SQLBackend) Startup(ctx context.Context) error {
	db, err := sql.Open(b.opts.Dialect.DriverName, b.opts.DSN)
	if err != nil {
		return newError("startup", "", "", ErrBackendUnavailable, err)
	}
	if b.opts.Dialect.MaxOpenConns > 0 {
		db.SetMaxOpenConns(b.opts.Dialect.MaxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return newError("startup", "", "", ErrBackendUnavailable, err)
	}

	if _, err := db.ExecContext(ctx, b.queries.create); err != nil {
		db.Close()
		return newError("startup", "", "", ErrOperationFailed, fmt.Errorf("failed to create table: %w", err))
	}

	b.db = db
	b.logger.Info("sql backend started", "dialect", b.opts.Dialect.Name, "table", b.opts.Table)
	return nil
}

func (b *SQLBackend) Shutdown(_ context.Context) error {
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

func (b *SQLBackend) Store(table, key string, value []byte) error {
	ctx, cancel := b.ctx()
	defer cancel()

	if _, err := b.db.ExecContext(ctx, b.queries.upsert, rowKey(table, key), copyBytes(value)); err != nil {
		return newError("store", table, key, ErrOperationFailed, err)
	}
	return nil
}

func (b *SQLBackend) Retrieve(table, key string) ([]byte, bool, error) {
	ctx, cancel := b.ctx()
	defer cancel()

	var value []byte
	err := b.db.QueryRowContext(ctx, b.queries.selectq, rowKey(table, key)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, newError("retrieve", table, key, ErrOperationFailed, err)
	}
	return copyBytes(value), true, nil
}

func (b *SQLBackend) RetrieveWithDefault(table, key string, def []byte) ([]byte, error) {
	ctx, cancel := b.ctx()
	defer cancel()

	if _, err := b.db.ExecContext(ctx, b.queries.insert, rowKey(table, key), copyBytes(def)); err != nil {
		return nil, newError("retrieve_with_default", table, key, ErrOperationFailed, err)
	}

	value, ok, err := b.Retrieve(table, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, newError("retrieve_with_default", table, key, ErrOperationFailed, errors.New("default row vanished"))
	}
	return value, nil
}

func (b *SQLBackend) List(table string) ([]Entry, error) {
	ctx, cancel := b.ctx()
	defer cancel()

	rows, err := b.db.QueryContext(ctx, b.queries.list, likePrefix(table))
	if err != nil {
		return nil, newError("list", table, "", ErrOperationFailed, err)
	}
	defer rows.Close()

	prefix := table + tableSeparator
	entries := []Entry{}
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, newError("list", table, "", ErrOperationFailed, err)
		}
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		entries = append(entries, Entry{Key: strings.TrimPrefix(key, prefix), Value: copyBytes(value)})
	}
	if err := rows.Err(); err != nil {
		return nil, newError("list", table, "", ErrOperationFailed, err)
	}

	// collation order differs between engines
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

func (b *SQLBackend) Remove(table, key string) error {
	ctx, cancel := b.ctx()
	defer cancel()

	if _, err := b.db.ExecContext(ctx, b.queries.delete, rowKey(table, key)); err != nil {
		return newError("remove", table, key, ErrOperationFailed, err)
	}
	return nil
}

func (b *SQLBackend) Stats() (Stats, error) {
	ctx, cancel := b.ctx()
	defer cancel()

	rows, err := b.db.QueryContext(ctx, b.queries.keys)
	if err != nil {
		return Stats{}, newError("stats", "", "", ErrOperationFailed, err)
	}
	defer rows.Close()

	stats := Stats{Backend: b.Name(), Tables: map[string]int{}}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return Stats{}, newError("stats", "", "", ErrOperationFailed, err)
		}
		table, _, _ := strings.Cut(key, tableSeparator)
		stats.Tables[table]++
		stats.Keys++
	}
	if err := rows.Err(); err != nil {
		return Stats{}, newError("stats", "", "", ErrOperationFailed, err)
	}
	return stats, nil
}
