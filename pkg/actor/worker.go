// Package actor runs commands one at a time on a single goroutine.
//
// A Worker owns a FIFO mailbox. Callers either Send a command and move on, or
// Request it and block until the worker replies or the request times out. A
// timed-out request is not retracted: the worker still runs it and the late
// reply is dropped.
package actor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TravisTheTechie/Cashbox/pkg/metrics"
	"github.com/segmentio/ksuid"
)

var (
	// ErrTimeout is returned to a caller that stopped waiting for a reply
	ErrTimeout = errors.New("actor: request timed out")
	// ErrStopped is returned when the worker no longer accepts messages
	ErrStopped = errors.New("actor: worker stopped")
	// ErrPanic wraps a panic recovered inside a worker turn
	ErrPanic = errors.New("actor: worker turn panicked")
)

const (
	DefaultMailboxSize    = 1024
	DefaultRequestTimeout = 10 * time.Second
)

// Task is the body of a request. It runs on the worker goroutine.
type Task func() (any, error)

type result struct {
	value any
	err   error
}

type envelope struct {
	id        ksuid.KSUID
	op        string
	task      Task
	reply     chan result // nil for sends
	abandoned *atomic.Bool
}

// Worker executes tasks strictly in the order they were enqueued.
type Worker struct {
	name    string
	mailbox chan envelope
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// Option configures a Worker
type Option func(*Worker)

// WithMailboxSize sets the mailbox capacity. Enqueueing blocks while it is full.
func WithMailboxSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.mailbox = make(chan envelope, n)
		}
	}
}

// WithRequestTimeout sets how long Request waits when ctx has no deadline
func WithRequestTimeout(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.timeout = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

// New starts a worker goroutine.
func New(name string, opts ...Option) *Worker {
	w := &Worker{
		name:    name,
		mailbox: make(chan envelope, DefaultMailboxSize),
		timeout: DefaultRequestTimeout,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("worker", name)

	go w.run()
	return w
}

// Name returns the worker name
func (w *Worker) Name() string {
	return w.name
}

// QueueDepth returns the number of messages waiting in the mailbox
func (w *Worker) QueueDepth() int {
	return len(w.mailbox)
}

// Done is closed once the worker goroutine has exited
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// enqueue holds the read lock until the message is in the mailbox, so Stop
// cannot close the mailbox under an accepted message.
func (w *Worker) enqueue(ctx context.Context, env envelope) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return ErrStopped
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case w.mailbox <- env:
		w.metrics.SetQueueDepth(w.name, len(w.mailbox))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send enqueues task without waiting for it to run. A failure inside task is
// logged and counted; only enqueue failures are returned.
func (w *Worker) Send(ctx context.Context, op string, task func() error) error {
	return w.enqueue(ctx, envelope{
		id: ksuid.New(),
		op: op,
		task: func() (any, error) {
			return nil, task()
		},
	})
}

// Request enqueues task and waits for its result. If ctx carries no deadline
// the worker's request timeout applies. Running out of time yields ErrTimeout;
// the task itself still runs.
func (w *Worker) Request(ctx context.Context, op string, task Task) (any, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	env := envelope{
		id:        ksuid.New(),
		op:        op,
		task:      task,
		reply:     make(chan result, 1),
		abandoned: &atomic.Bool{},
	}

	if err := w.enqueue(ctx, env); err != nil {
		return nil, w.waitError(env, err)
	}

	select {
	case res := <-env.reply:
		return res.value, res.err
	case <-ctx.Done():
		env.abandoned.Store(true)
		return nil, w.waitError(env, ctx.Err())
	}
}

func (w *Worker) waitError(env envelope, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		w.metrics.RecordTimeout(w.name)
		w.logger.Debug("request timed out", "op", env.op, "id", env.id.String())
		return fmt.Errorf("%w: %s", ErrTimeout, env.op)
	}
	return err
}

// Call is Request with a typed result.
func Call[T any](ctx context.Context, w *Worker, op string, task func() (T, error)) (T, error) {
	var zero T

	value, err := w.Request(ctx, op, func() (any, error) {
		return task()
	})
	if err != nil {
		return zero, err
	}

	typed, ok := value.(T)
	if !ok && value != nil {
		return zero, fmt.Errorf("actor: %s returned %T", op, value)
	}
	return typed, nil
}

// Stop stops accepting messages, lets the worker finish everything already
// queued, and waits for it to exit or for ctx to end. The worker exits once
// the queue is drained even if ctx ends first.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.mailbox)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: stop", ErrTimeout)
	}
}

func (w *Worker) run() {
	defer close(w.done)
	defer w.logger.Debug("worker stopped")

	for env := range w.mailbox {
		w.metrics.SetQueueDepth(w.name, len(w.mailbox))

		value, err := w.execute(env)

		if env.reply == nil {
			if err != nil {
				w.metrics.RecordSendFailure(w.name)
				w.logger.Error("send failed", "op", env.op, "id", env.id.String(), "error", err)
			}
			continue
		}

		if env.abandoned.Load() {
			w.logger.Debug("dropping late reply", "op", env.op, "id", env.id.String())
		}
		env.reply <- result{value: value, err: err}
	}
}

func (w *Worker) execute(env envelope) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.metrics.RecordPanic(w.name)
			w.logger.Error("recovered panic in worker turn", "op", env.op, "id", env.id.String(), "panic", r)
			value, err = nil, fmt.Errorf("%w: %s: %v", ErrPanic, env.op, r)
		}
	}()
	return env.task()
}
