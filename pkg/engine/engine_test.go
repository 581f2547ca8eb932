package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/TravisTheTechie/Cashbox/pkg/actor"
	"github.com/TravisTheTechie/Cashbox/pkg/metrics"
	"github.com/TravisTheTechie/Cashbox/pkg/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubBackend is a memory backend whose hooks can fail or block
type stubBackend struct {
	*MemoryBackend
	startupErr error
	onStartup  func(ctx context.Context)
	retrieve   func(table, key string) ([]byte, bool, error)
}

func newStubBackend() *stubBackend {
	return &stubBackend{MemoryBackend: NewMemoryBackend(MemoryOptions{})}
}

func (b *stubBackend) Startup(ctx context.Context) error {
	if b.onStartup != nil {
		b.onStartup(ctx)
	}
	if b.startupErr != nil {
		return b.startupErr
	}
	return b.MemoryBackend.Startup(ctx)
}

func (b *stubBackend) Retrieve(table, key string) ([]byte, bool, error) {
	if b.retrieve != nil {
		return b.retrieve(table, key)
	}
	return b.MemoryBackend.Retrieve(table, key)
}

func TestEngine_OperationsBeforeStartup(t *testing.T) {
	e := New(NewMemoryBackend(MemoryOptions{}), testOptions())
	defer e.Shutdown(context.Background())

	_, _, err := e.Retrieve(context.Background(), "Test", "k")
	assert.ErrorIs(t, err, ErrBackendUnavailable)

	var engineErr *Error
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, "retrieve", engineErr.Op)
	assert.Equal(t, "Test", engineErr.Table)
	assert.Equal(t, "k", engineErr.Key)
}

func TestEngine_StartupTwice(t *testing.T) {
	e := startEngine(t, NewMemoryBackend(MemoryOptions{}))
	ctx := context.Background()

	require.NoError(t, e.Store(ctx, "Test", "k", []byte("v")))
	require.NoError(t, e.Startup(ctx))

	_, ok, err := e.Retrieve(ctx, "Test", "k")
	require.NoError(t, err)
	assert.True(t, ok, "second startup must not reset the backend")
}

func TestEngine_StartupFailure(t *testing.T) {
	b := newStubBackend()
	b.startupErr = newError("startup", "", "", ErrBackendUnavailable, errors.New("no disk"))

	e := New(b, testOptions())
	defer e.Shutdown(context.Background())

	err := e.Startup(context.Background())
	assert.ErrorIs(t, err, ErrBackendUnavailable)

	_, _, err = e.Retrieve(context.Background(), "Test", "k")
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestEngine_ShutdownStopsWorker(t *testing.T) {
	e := New(NewMemoryBackend(MemoryOptions{}), testOptions())
	ctx := context.Background()
	require.NoError(t, e.Startup(ctx))
	require.NoError(t, e.Shutdown(ctx))
	require.NoError(t, e.Shutdown(ctx))

	_, _, err := e.Retrieve(ctx, "Test", "k")
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.ErrorIs(t, err, actor.ErrStopped)

	err = e.Store(ctx, "Test", "k", []byte("v"))
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestEngine_ShutdownDrainsQueuedSends(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	e := New(NewLogBackend(FileLogOpener(dir, "cashbox.data", false, nil), LogOptions{}), testOptions())
	require.NoError(t, e.Startup(ctx))
	const writes = 500
	for i := 0; i < writes; i++ {
		require.NoError(t, e.Store(ctx, "Test", "k", []byte{byte(i)}))
	}
	require.NoError(t, e.Shutdown(ctx))

	s, err := store.OpenFileLogStore(dir, "cashbox.data", false, nil)
	require.NoError(t, err)
	defer s.Close()
	got, ok, err := s.Read("Test", "k")
	require.NoError(t, err)
	assert.True(t, ok)
	last := writes - 1
	assert.Equal(t, []byte{byte(last)}, got)
}

func TestEngine_LateStartupTurnKeepsItsContext(t *testing.T) {
	b := newStubBackend()
	seen := make(chan error, 1)
	b.onStartup = func(ctx context.Context) {
		seen <- ctx.Err()
	}

	e := New(b, testOptions())
	defer e.Shutdown(context.Background())

	release := make(chan struct{})
	require.NoError(t, e.worker.Send(context.Background(), "block", func() error {
		<-release
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, e.Startup(ctx), actor.ErrTimeout)
	<-ctx.Done()
	close(release)

	select {
	case err := <-seen:
		assert.NoError(t, err, "startup turn ran with the caller's expired context")
	case <-time.After(5 * time.Second):
		t.Fatal("startup turn never ran")
	}

	_, _, err := e.Retrieve(context.Background(), "Test", "k")
	assert.NoError(t, err)
}

func TestEngine_RequestTimeout(t *testing.T) {
	b := newStubBackend()
	release := make(chan struct{})
	b.retrieve = func(table, key string) ([]byte, bool, error) {
		<-release
		return nil, false, nil
	}

	opts := testOptions()
	opts.RequestTimeout = 20 * time.Millisecond
	e := New(b, opts)
	require.NoError(t, e.Startup(context.Background()))
	defer e.Shutdown(context.Background())

	_, _, err := e.Retrieve(context.Background(), "Test", "slow")
	assert.ErrorIs(t, err, actor.ErrTimeout)
	close(release)
}

func TestEngine_PanicBecomesOperationFailed(t *testing.T) {
	b := newStubBackend()
	b.retrieve = func(table, key string) ([]byte, bool, error) {
		panic("backend bug")
	}
	e := startEngine(t, b)

	_, _, err := e.Retrieve(context.Background(), "Test", "k")
	assert.ErrorIs(t, err, ErrOperationFailed)
	assert.ErrorIs(t, err, actor.ErrPanic)

	// the engine keeps serving
	_, err = e.List(context.Background(), "Test")
	assert.NoError(t, err)
}

func TestEngine_CompactUnsupported(t *testing.T) {
	e := startEngine(t, NewMemoryBackend(MemoryOptions{}))

	err := e.Compact(context.Background())
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = e.Explain(context.Background(), store.ExplainOptions{})
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestEngine_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	opts := testOptions()
	opts.Metrics = metrics.NewMetrics(reg)

	e := New(NewMemoryBackend(MemoryOptions{}), opts)
	ctx := context.Background()
	require.NoError(t, e.Startup(ctx))
	require.NoError(t, e.Store(ctx, "Test", "k", []byte("v")))
	_, _, err := e.Retrieve(ctx, "Test", "k")
	require.NoError(t, err)
	require.NoError(t, e.Shutdown(ctx))

	count, err := testutil.GatherAndCount(reg, "cashbox_engine_operations_total")
	require.NoError(t, err)
	// startup, store, retrieve, shutdown
	assert.Equal(t, 4, count)
}
