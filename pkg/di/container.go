// Package di provides dependency injection container
package di

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/TravisTheTechie/Cashbox/pkg/config"
	"github.com/TravisTheTechie/Cashbox/pkg/engine"
	"github.com/TravisTheTechie/Cashbox/pkg/metrics"
	"github.com/TravisTheTechie/Cashbox/pkg/session"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	_ "modernc.org/sqlite"
)

// BackendFactory builds the backend named by the configuration
type BackendFactory func(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (engine.Backend, error)

// Container holds all the dependencies for the application
type Container struct {
	config         *config.Config
	logger         *slog.Logger
	registry       *prometheus.Registry
	metrics        *metrics.Metrics
	backendFactory BackendFactory
}

// NewContainer creates a new dependency injection container. A nil logger
// discards output.
func NewContainer(cfg *config.Config, logger *slog.Logger) *Container {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	registry := prometheus.NewRegistry()
	return &Container{
		config:         cfg,
		logger:         logger,
		registry:       registry,
		metrics:        metrics.NewMetrics(registry),
		backendFactory: DefaultBackendFactory,
	}
}

// GetConfig returns the configuration
func (c *Container) GetConfig() *config.Config {
	return c.config
}

// GetLogger returns the logger
func (c *Container) GetLogger() *slog.Logger {
	return c.logger
}

// GetRegistry returns the registry the metrics are registered with
func (c *Container) GetRegistry() *prometheus.Registry {
	return c.registry
}

// GetMetrics returns the metrics
func (c *Container) GetMetrics() *metrics.Metrics {
	return c.metrics
}

// SetBackendFactory allows overriding the backend factory (for testing)
func (c *Container) SetBackendFactory(factory BackendFactory) {
	c.backendFactory = factory
}

// NewBackend builds the configured backend
func (c *Container) NewBackend() (engine.Backend, error) {
	if err := c.config.Validate(); err != nil {
		return nil, err
	}
	return c.backendFactory(c.config, c.logger, c.metrics)
}

// NewEngine builds the configured backend and an engine around it. The engine
// is not started.
func (c *Container) NewEngine() (*engine.Engine, error) {
	backend, err := c.NewBackend()
	if err != nil {
		return nil, err
	}

	return engine.New(backend, engine.Options{
		RequestTimeout:  c.config.Timeouts.Request,
		StartupTimeout:  c.config.Timeouts.Startup,
		ShutdownTimeout: c.config.Timeouts.Shutdown,
		MailboxSize:     c.config.Engine.MailboxSize,
		Logger:          c.logger,
		Metrics:         c.metrics,
	}), nil
}

// OpenSession builds and starts an engine and returns a session over it
func (c *Container) OpenSession(ctx context.Context, opts ...session.Option) (*session.Session, error) {
	e, err := c.NewEngine()
	if err != nil {
		return nil, err
	}

	s, err := session.Open(ctx, e, opts...)
	if err != nil {
		_ = e.Shutdown(ctx)
		return nil, err
	}
	return s, nil
}

// DefaultBackendFactory maps engine.kind to a backend
func DefaultBackendFactory(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (engine.Backend, error) {
	switch cfg.Engine.Kind {
	case config.KindLog:
		open := engine.FileLogOpener(cfg.DataDir, cfg.EngineFile(), cfg.Engine.SyncWrites, logger)
		return engine.NewLogBackend(open, engine.LogOptions{
			CompactionFrequency: cfg.Engine.CompactionFrequency,
			Logger:              logger,
			Metrics:             m,
		}), nil

	case config.KindMemory:
		return engine.NewMemoryBackend(engine.MemoryOptions{
			SnapshotPath:  filepath.Join(cfg.DataDir, cfg.EngineFile()),
			SnapshotDelay: cfg.Engine.SnapshotDelay,
			Logger:        logger,
			Metrics:       m,
		}), nil

	case config.KindSQLite, config.KindPostgres:
		dialect, err := engine.DialectByName(cfg.Engine.Kind)
		if err != nil {
			return nil, err
		}
		dsn := cfg.Engine.DSN
		if cfg.Engine.Kind == config.KindSQLite {
			dsn = cfg.SQLiteDSN()
		}
		return engine.NewSQLBackend(engine.SQLOptions{
			Dialect:   dialect,
			DSN:       dsn,
			Table:     cfg.Engine.Table,
			OpTimeout: cfg.Timeouts.Request,
			Logger:    logger,
		})

	case config.KindPebble:
		return engine.NewPebbleBackend(engine.PebbleOptions{
			Dir:        filepath.Join(cfg.DataDir, "pebble"),
			SyncWrites: cfg.Engine.SyncWrites,
			Logger:     logger,
		}), nil
	}

	return nil, fmt.Errorf("unknown engine kind %q", cfg.Engine.Kind)
}
