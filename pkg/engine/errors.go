package engine

import (
	"errors"
	"strings"

	"github.com/TravisTheTechie/Cashbox/pkg/actor"
	"github.com/TravisTheTechie/Cashbox/pkg/codec"
	"github.com/TravisTheTechie/Cashbox/pkg/store"
)

// Error kinds. Every *Error carries exactly one of them.
var (
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrCorruptRecord      = errors.New("corrupt record")
	ErrOperationFailed    = errors.New("operation failed")
	ErrInvalidKey         = errors.New("invalid key")
	ErrUnsupported        = errors.New("unsupported operation")
)

var errNotStarted = errors.New("engine not started")

// Error describes a failed engine operation. errors.Is matches both Kind and
// the underlying cause.
type Error struct {
	Op    string
	Table string
	Key   string
	Kind  error
	Err   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Table != "" || e.Key != "" {
		b.WriteString(" ")
		b.WriteString(e.Table)
		b.WriteString("/")
		b.WriteString(e.Key)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(op, table, key string, kind, err error) *Error {
	return &Error{Op: op, Table: table, Key: key, Kind: kind, Err: err}
}

// classify turns a backend error into an *Error. Errors that already carry a
// kind keep it; the operation and key are filled in when missing.
func classify(op, table, key string, err error) error {
	if err == nil {
		return nil
	}

	var engineErr *Error
	if errors.As(err, &engineErr) {
		if engineErr.Op == "" {
			engineErr.Op = op
		}
		if engineErr.Table == "" && engineErr.Key == "" {
			engineErr.Table, engineErr.Key = table, key
		}
		return engineErr
	}

	kind := ErrOperationFailed
	switch {
	case errors.Is(err, codec.ErrCorruptRecord), errors.Is(err, codec.ErrUnsupportedVersion):
		kind = ErrCorruptRecord
	case errors.Is(err, store.ErrStoreClosed), errors.Is(err, store.ErrStoreBroken):
		kind = ErrBackendUnavailable
	case errors.Is(err, actor.ErrStopped):
		kind = ErrBackendUnavailable
	case errors.Is(err, actor.ErrTimeout):
		// timeouts stay caller-side and are returned unwrapped
		return err
	}
	return newError(op, table, key, kind, err)
}
