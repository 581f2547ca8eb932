// Package session provides typed document access on top of an engine.
//
// Each document type lives in its own table. Documents are encoded with a
// pluggable Codec before they reach the engine.
package session

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/TravisTheTechie/Cashbox/pkg/engine"
)

// ErrDecode is returned when stored bytes cannot be decoded into the document type
var ErrDecode = errors.New("failed to decode document")

// Session owns an engine for the lifetime of a unit of work.
type Session struct {
	engine *engine.Engine
	codec  Codec
}

// Option configures a Session
type Option func(*Session)

// WithCodec sets the document codec. The default is JSONCodec.
func WithCodec(c Codec) Option {
	return func(s *Session) {
		if c != nil {
			s.codec = c
		}
	}
}

// Open starts e and returns a session over it
func Open(ctx context.Context, e *engine.Engine, opts ...Option) (*Session, error) {
	s := &Session{engine: e, codec: JSONCodec{}}
	for _, opt := range opts {
		opt(s)
	}

	if err := e.Startup(ctx); err != nil {
		return nil, fmt.Errorf("failed to start engine: %w", err)
	}
	return s, nil
}

// Engine returns the underlying engine
func (s *Session) Engine() *engine.Engine {
	return s.engine
}

// Close shuts the engine down and waits for pending writes and snapshots
func (s *Session) Close() error {
	return s.engine.Shutdown(context.Background())
}

// TableNamer lets a document type choose its table name
type TableNamer interface {
	TableName() string
}

// tableFor returns the table a document type lives in: its TableName when it
// implements TableNamer, otherwise the Go type name.
func tableFor[T any]() string {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	if namer, ok := reflect.New(t).Interface().(TableNamer); ok {
		return namer.TableName()
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}

// Collection is the set of documents of type T in one table
type Collection[T any] struct {
	session *Session
	table   string
}

// Documents returns the collection for T
func Documents[T any](s *Session) *Collection[T] {
	return DocumentsIn[T](s, tableFor[T]())
}

// DocumentsIn returns a collection of T stored in table
func DocumentsIn[T any](s *Session, table string) *Collection[T] {
	return &Collection[T]{session: s, table: table}
}

// Table returns the table the collection is stored in
func (c *Collection[T]) Table() string {
	return c.table
}

func (c *Collection[T]) decode(key string, data []byte) (T, error) {
	var doc T
	if err := c.session.codec.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("%w %s/%s: %v", ErrDecode, c.table, key, err)
	}
	return doc, nil
}

// Store saves doc under key. The write is queued; a later read through the
// same session observes it.
func (c *Collection[T]) Store(ctx context.Context, key string, doc T) error {
	data, err := c.session.codec.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", c.table, key, err)
	}
	return c.session.engine.Store(ctx, c.table, key, data)
}

// Retrieve loads the document under key. A missing document is reported with
// ok == false.
func (c *Collection[T]) Retrieve(ctx context.Context, key string) (doc T, ok bool, err error) {
	data, ok, err := c.session.engine.Retrieve(ctx, c.table, key)
	if err != nil || !ok {
		return doc, false, err
	}
	doc, err = c.decode(key, data)
	if err != nil {
		return doc, false, err
	}
	return doc, true, nil
}

// RetrieveWithDefault loads the document under key, storing def() first when
// it is missing. def is evaluated before the engine is asked.
func (c *Collection[T]) RetrieveWithDefault(ctx context.Context, key string, def func() T) (T, error) {
	var zero T
	data, err := c.session.codec.Marshal(def())
	if err != nil {
		return zero, fmt.Errorf("failed to encode default %s/%s: %w", c.table, key, err)
	}

	stored, err := c.session.engine.RetrieveWithDefault(ctx, c.table, key, data)
	if err != nil {
		return zero, err
	}
	return c.decode(key, stored)
}

// List returns every document in the collection, ordered by key
func (c *Collection[T]) List(ctx context.Context) ([]T, error) {
	entries, err := c.session.engine.List(ctx, c.table)
	if err != nil {
		return nil, err
	}

	docs := make([]T, 0, len(entries))
	for _, entry := range entries {
		doc, err := c.decode(entry.Key, entry.Value)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Keys returns the keys of every document in the collection, in order
func (c *Collection[T]) Keys(ctx context.Context) ([]string, error) {
	entries, err := c.session.engine.List(ctx, c.table)
	if err != nil {
		return nil, err
	}

	keys := make([]string, len(entries))
	for i, entry := range entries {
		keys[i] = entry.Key
	}
	return keys, nil
}

// Delete removes the document under key
func (c *Collection[T]) Delete(ctx context.Context, key string) error {
	return c.session.engine.Remove(ctx, c.table, key)
}
