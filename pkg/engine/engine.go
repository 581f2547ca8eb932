package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/TravisTheTechie/Cashbox/pkg/actor"
	"github.com/TravisTheTechie/Cashbox/pkg/metrics"
	"github.com/TravisTheTechie/Cashbox/pkg/store"
)

// Options configures an Engine
type Options struct {
	RequestTimeout  time.Duration
	StartupTimeout  time.Duration
	ShutdownTimeout time.Duration
	MailboxSize     int
	Logger          *slog.Logger
	Metrics         *metrics.Metrics
}

// DefaultOptions returns the default engine options
func DefaultOptions() Options {
	return Options{
		RequestTimeout:  actor.DefaultRequestTimeout,
		StartupTimeout:  30 * time.Second,
		ShutdownTimeout: 2 * time.Minute,
		MailboxSize:     actor.DefaultMailboxSize,
	}
}

// Engine runs every command against its backend on one worker, in arrival
// order. Store and Remove are fire-and-forget; everything else waits for the
// worker's reply.
type Engine struct {
	backend Backend
	worker  *actor.Worker
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics

	started bool // worker-owned
}

// New creates an engine and starts its worker. The backend is not touched
// until Startup.
func New(backend Backend, opts Options) *Engine {
	defaults := DefaultOptions()
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaults.RequestTimeout
	}
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = defaults.StartupTimeout
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = defaults.MailboxSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	e := &Engine{
		backend: backend,
		opts:    opts,
		logger:  logger.With("engine", backend.Name()),
		metrics: opts.Metrics,
	}
	e.worker = actor.New(backend.Name(),
		actor.WithMailboxSize(opts.MailboxSize),
		actor.WithRequestTimeout(opts.RequestTimeout),
		actor.WithLogger(logger),
		actor.WithMetrics(opts.Metrics),
	)

	if b, ok := backend.(workerBound); ok {
		b.bindWorker(e.worker)
	}
	return e
}

// Name returns the backend name
func (e *Engine) Name() string {
	return e.backend.Name()
}

// observe runs inside a worker turn and records the outcome
func (e *Engine) observe(op, table, key string, fn func() error) error {
	start := time.Now()

	var err error
	if !e.started && op != "startup" {
		err = newError(op, table, key, ErrBackendUnavailable, errNotStarted)
	} else {
		err = classify(op, table, key, fn())
	}

	e.metrics.RecordEngineOperation(e.backend.Name(), op, err == nil, time.Since(start))
	return err
}

func (e *Engine) validate(op, table, key string) error {
	if table == "" {
		return newError(op, table, key, ErrInvalidKey, errors.New("table name is empty"))
	}
	if v, ok := e.backend.(KeyValidator); ok {
		if err := v.ValidateKey(table, key); err != nil {
			return classify(op, table, key, err)
		}
	}
	return nil
}

// Startup opens the backend. Calling it on a started engine is a no-op.
func (e *Engine) Startup(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, e.opts.StartupTimeout)
	defer cancel()

	_, err := e.worker.Request(waitCtx, "startup", func() (any, error) {
		if e.started {
			return nil, nil
		}
		turnCtx, cancel := e.turnContext(ctx, e.opts.StartupTimeout)
		defer cancel()

		err := e.observe("startup", "", "", func() error {
			return e.backend.Startup(turnCtx)
		})
		if err == nil {
			e.started = true
			e.logger.Info("engine started")
		}
		return nil, err
	})
	return classify("startup", "", "", err)
}

// turnContext gives a lifecycle turn its own deadline, starting when the turn
// runs. A caller that gave up waiting does not cancel it.
func (e *Engine) turnContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

// Shutdown flushes and closes the backend, then stops the worker once every
// queued command has run. The engine cannot be restarted.
func (e *Engine) Shutdown(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, e.opts.ShutdownTimeout)
	defer cancel()

	_, err := e.worker.Request(waitCtx, "shutdown", func() (any, error) {
		if !e.started {
			return nil, nil
		}
		e.started = false

		turnCtx, cancel := e.turnContext(ctx, e.opts.ShutdownTimeout)
		defer cancel()

		err := classify("shutdown", "", "", e.backend.Shutdown(turnCtx))
		e.metrics.RecordEngineOperation(e.backend.Name(), "shutdown", err == nil, 0)
		e.logger.Info("engine shut down", "error", err)
		return nil, err
	})
	if errors.Is(err, actor.ErrStopped) {
		err = nil
	}

	return errors.Join(classify("shutdown", "", "", err), e.worker.Stop(waitCtx))
}

// Store saves value under table/key. The write happens asynchronously, after
// every command already queued; its failure is logged, not returned.
func (e *Engine) Store(ctx context.Context, table, key string, value []byte) error {
	if err := e.validate("store", table, key); err != nil {
		return err
	}

	value = copyBytes(value)
	err := e.worker.Send(ctx, "store", func() error {
		return e.observe("store", table, key, func() error {
			return e.backend.Store(table, key, value)
		})
	})
	return classify("store", table, key, err)
}

// Remove deletes table/key asynchronously
func (e *Engine) Remove(ctx context.Context, table, key string) error {
	if err := e.validate("remove", table, key); err != nil {
		return err
	}

	err := e.worker.Send(ctx, "remove", func() error {
		return e.observe("remove", table, key, func() error {
			return e.backend.Remove(table, key)
		})
	})
	return classify("remove", table, key, err)
}

type retrieved struct {
	value []byte
	ok    bool
}

// Retrieve returns the value under table/key. A miss is ok == false with a
// nil error.
func (e *Engine) Retrieve(ctx context.Context, table, key string) ([]byte, bool, error) {
	if err := e.validate("retrieve", table, key); err != nil {
		return nil, false, err
	}

	res, err := actor.Call(ctx, e.worker, "retrieve", func() (retrieved, error) {
		var r retrieved
		err := e.observe("retrieve", table, key, func() error {
			var err error
			r.value, r.ok, err = e.backend.Retrieve(table, key)
			return err
		})
		return r, err
	})
	if err != nil {
		return nil, false, classify("retrieve", table, key, err)
	}
	return res.value, res.ok, nil
}

// RetrieveWithDefault returns the value under table/key, first storing def if
// the key is missing. The check and the store happen in one worker turn.
func (e *Engine) RetrieveWithDefault(ctx context.Context, table, key string, def []byte) ([]byte, error) {
	if err := e.validate("retrieve_with_default", table, key); err != nil {
		return nil, err
	}

	def = copyBytes(def)
	value, err := actor.Call(ctx, e.worker, "retrieve_with_default", func() ([]byte, error) {
		var value []byte
		err := e.observe("retrieve_with_default", table, key, func() error {
			var err error
			value, err = e.backend.RetrieveWithDefault(table, key, def)
			return err
		})
		return value, err
	})
	return value, classify("retrieve_with_default", table, key, err)
}

// List returns every entry in table, sorted by key
func (e *Engine) List(ctx context.Context, table string) ([]Entry, error) {
	if err := e.validate("list", table, ""); err != nil {
		return nil, err
	}

	entries, err := actor.Call(ctx, e.worker, "list", func() ([]Entry, error) {
		var entries []Entry
		err := e.observe("list", table, "", func() error {
			var err error
			entries, err = e.backend.List(table)
			return err
		})
		return entries, err
	})
	return entries, classify("list", table, "", err)
}

// Compact reclaims space on backends that support it
func (e *Engine) Compact(ctx context.Context) error {
	_, err := e.worker.Request(ctx, "compact", func() (any, error) {
		return nil, e.observe("compact", "", "", func() error {
			c, ok := e.backend.(Compactor)
			if !ok {
				return newError("compact", "", "", ErrUnsupported, nil)
			}
			return c.Compact()
		})
	})
	return classify("compact", "", "", err)
}

// Stats returns backend statistics
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	stats, err := actor.Call(ctx, e.worker, "stats", func() (Stats, error) {
		var stats Stats
		err := e.observe("stats", "", "", func() error {
			s, ok := e.backend.(Statter)
			if !ok {
				return newError("stats", "", "", ErrUnsupported, nil)
			}
			var err error
			stats, err = s.Stats()
			return err
		})
		return stats, err
	})
	return stats, classify("stats", "", "", err)
}

// Explain returns detailed diagnostics on backends that support it
func (e *Engine) Explain(ctx context.Context, opts store.ExplainOptions) (*store.ExplainResult, error) {
	res, err := actor.Call(ctx, e.worker, "explain", func() (*store.ExplainResult, error) {
		var res *store.ExplainResult
		err := e.observe("explain", "", "", func() error {
			x, ok := e.backend.(Explainer)
			if !ok {
				return newError("explain", "", "", ErrUnsupported, nil)
			}
			var err error
			res, err = x.Explain(opts)
			return err
		})
		return res, err
	})
	return res, classify("explain", "", "", err)
}
