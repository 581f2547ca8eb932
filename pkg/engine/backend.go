// Package engine defines the storage command surface shared by every backend
// and hosts each backend on a single-writer worker.
package engine

import (
	"context"

	"github.com/TravisTheTechie/Cashbox/pkg/actor"
	"github.com/TravisTheTechie/Cashbox/pkg/store"
)

// Entry is one key/value pair returned by List
type Entry struct {
	Key   string
	Value []byte
}

// Backend is a physical store. Implementations are driven from a single worker
// goroutine and must not take locks of their own.
//
// Retrieve reports a miss with ok == false and no error. List returns entries
// sorted by key.
type Backend interface {
	Name() string
	Startup(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Store(table, key string, value []byte) error
	Retrieve(table, key string) (value []byte, ok bool, err error)
	RetrieveWithDefault(table, key string, def []byte) ([]byte, error)
	List(table string) ([]Entry, error)
	Remove(table, key string) error
}

// KeyValidator is implemented by backends with addressing restrictions. It is
// called on the caller's goroutine and must not touch backend state.
type KeyValidator interface {
	ValidateKey(table, key string) error
}

// Compactor is implemented by backends that can reclaim space on demand
type Compactor interface {
	Compact() error
}

// Statter is implemented by backends that report statistics
type Statter interface {
	Stats() (Stats, error)
}

// Explainer is implemented by backends with detailed diagnostics
type Explainer interface {
	Explain(opts store.ExplainOptions) (*store.ExplainResult, error)
}

// workerBound backends schedule their own follow-up work on the worker
type workerBound interface {
	bindWorker(w *actor.Worker)
}

// Stats is a backend-agnostic summary
type Stats struct {
	Backend                  string         `json:"backend"`
	Keys                     int            `json:"keys"`
	Tables                   map[string]int `json:"tables"`
	DataSize                 int64          `json:"data_size_bytes,omitempty"`
	LiveSize                 int64          `json:"live_size_bytes,omitempty"`
	Compactions              int            `json:"compactions,omitempty"`
	MutationsSinceCompaction int            `json:"mutations_since_compaction,omitempty"`
}

func copyBytes(b []byte) []byte {
	return append([]byte{}, b...)
}
