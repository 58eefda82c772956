package warden

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/appfort/warden/internal/config"
	"github.com/appfort/warden/internal/env"
	"github.com/appfort/warden/internal/events"
	eventfactory "github.com/appfort/warden/internal/events/factory"
	"github.com/appfort/warden/internal/launcher"
	"github.com/appfort/warden/internal/logger"
	"github.com/appfort/warden/internal/logstore"
	logfactory "github.com/appfort/warden/internal/logstore/factory"
	"github.com/appfort/warden/internal/metrics"
	"github.com/appfort/warden/internal/server"
	"github.com/appfort/warden/internal/store"
	storefactory "github.com/appfort/warden/internal/store/factory"
	"github.com/appfort/warden/internal/supervisor"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Status = store.Status

const (
	StatusStopped      = store.StatusStopped
	StatusStarting     = store.StatusStarting
	StatusRunning      = store.StatusRunning
	StatusError        = store.StatusError
	StatusUnresponsive = store.StatusUnresponsive
)

type Record = store.Record

type Entry = logstore.Entry

type Event = events.Event

type EventType = events.EventType

type Config = config.Config

type HealthOptions = supervisor.HealthOptions

type RetryOptions = supervisor.RetryOptions

// Mirror configures optional per-process log files alongside the log store.
type Mirror = logger.Mirror

var (
	ErrNotFound      = store.ErrNotFound
	ErrAlreadyExists = store.ErrAlreadyExists
	ErrShuttingDown  = supervisor.ErrShuttingDown
)

// Options configures an embedded supervisor. Zero values pick the same
// defaults the daemon uses.
type Options struct {
	StoreDSN       string   // process store: postgres DSN or sqlite path (default "warden.db")
	LogsDSN        string   // captured-output store: "memory" or sqlite path (default "memory")
	LogsMaxEntries int      // captured lines kept per process
	EventSinkDSNs  []string // optional lifecycle event sinks (sql, clickhouse, opensearch)
	ProcessesDir   string   // root for per-process directories (default "./processes")
	GracePeriod    time.Duration
	StopTimeout    time.Duration
	Health         HealthOptions
	Retry          RetryOptions
	Env            []string // global KEY=VALUE pairs passed to children
	Mirror         Mirror
	Logger         *slog.Logger
}

// Supervisor is a thin facade over the internal supervisor for embedding.
// It owns the store, log store, and event bus it was built with; Shutdown
// releases all of them.
type Supervisor struct {
	inner *supervisor.Supervisor
	bus   *events.Bus
	store store.Store
	logs  logstore.Store
}

// New builds an embedded supervisor from Options.
func New(opts Options) (*Supervisor, error) {
	defaults := config.Default()
	if opts.StoreDSN == "" {
		opts.StoreDSN = defaults.Store.DSN
	}
	if opts.LogsDSN == "" {
		opts.LogsDSN = defaults.Logs.DSN
	}
	if opts.LogsMaxEntries <= 0 {
		opts.LogsMaxEntries = defaults.Logs.MaxEntries
	}
	if opts.ProcessesDir == "" {
		opts.ProcessesDir = defaults.Supervisor.ProcessesDir
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	st, err := storefactory.NewFromDSN(opts.StoreDSN)
	if err != nil {
		return nil, err
	}
	if err := st.EnsureSchema(context.Background()); err != nil {
		_ = st.Close()
		return nil, err
	}

	logs, err := logfactory.NewFromDSN(opts.LogsDSN, opts.LogsMaxEntries)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	bus := events.NewBus(opts.Logger)
	for _, dsn := range opts.EventSinkDSNs {
		sink, err := eventfactory.NewSinkFromDSN(dsn)
		if err != nil {
			_ = bus.Close()
			_ = logs.Close()
			_ = st.Close()
			return nil, err
		}
		bus.AddSink(sink)
	}

	environment := env.New()
	environment.SetPairs(opts.Env)

	inner, err := supervisor.New(supervisor.Options{
		Store:        st,
		Logs:         logs,
		Bus:          bus,
		Launcher:     launcher.New(environment, opts.Logger),
		Logger:       opts.Logger,
		Mirror:       opts.Mirror,
		ProcessesDir: opts.ProcessesDir,
		GracePeriod:  opts.GracePeriod,
		StopTimeout:  opts.StopTimeout,
		Health:       opts.Health,
		Retry:        opts.Retry,
	})
	if err != nil {
		_ = bus.Close()
		_ = logs.Close()
		_ = st.Close()
		return nil, err
	}

	return &Supervisor{inner: inner, bus: bus, store: st, logs: logs}, nil
}

// OptionsFromConfig maps a loaded Config onto embedding Options.
func OptionsFromConfig(cfg Config) (Options, error) {
	extra, err := cfg.GlobalEnv()
	if err != nil {
		return Options{}, err
	}
	opts := Options{
		StoreDSN:       cfg.Store.DSN,
		LogsDSN:        cfg.Logs.DSN,
		LogsMaxEntries: cfg.Logs.MaxEntries,
		ProcessesDir:   cfg.Supervisor.ProcessesDir,
		GracePeriod:    cfg.Supervisor.GracePeriod,
		StopTimeout:    cfg.Supervisor.StopTimeout,
		Health: HealthOptions{
			Interval:    cfg.Health.Interval,
			Timeout:     cfg.Health.Timeout,
			MaxFailures: cfg.Health.MaxFailures,
		},
		Retry: RetryOptions{
			BaseDelay:   cfg.Retry.BaseDelay,
			JitterMax:   cfg.Retry.JitterMax,
			MaxAttempts: cfg.Retry.MaxAttempts,
		},
		Env:    extra,
		Mirror: cfg.Logs.Mirror,
	}
	for _, s := range cfg.EventSinks {
		opts.EventSinkDSNs = append(opts.EventSinkDSNs, s.DSN)
	}
	return opts, nil
}

// LoadConfig reads a TOML config file with defaults applied for missing keys.
func LoadConfig(path string) (Config, error) {
	return config.Load(path)
}

func (s *Supervisor) Create(ctx context.Context, id, entryFile string) (Record, error) {
	return s.inner.Create(ctx, id, entryFile)
}

func (s *Supervisor) Start(ctx context.Context, id string) (bool, error) {
	return s.inner.Start(ctx, id)
}

func (s *Supervisor) Stop(ctx context.Context, id string) (bool, error) {
	return s.inner.Stop(ctx, id)
}

func (s *Supervisor) Delete(ctx context.Context, id string) (bool, error) {
	return s.inner.Delete(ctx, id)
}

func (s *Supervisor) Get(ctx context.Context, id string) (Record, error) {
	return s.inner.Get(ctx, id)
}

func (s *Supervisor) List(ctx context.Context) ([]Record, error) {
	return s.inner.List(ctx)
}

func (s *Supervisor) Logs(ctx context.Context, id string, limit int) ([]Entry, error) {
	return s.inner.Logs(ctx, id, limit)
}

func (s *Supervisor) ClearLogs(ctx context.Context, id string) error {
	return s.inner.ClearLogs(ctx, id)
}

// Recover resets statuses left over from a previous run. Call once after New
// when reusing a persistent store.
func (s *Supervisor) Recover(ctx context.Context) error {
	return s.inner.Recover(ctx)
}

// Running returns pids of live children keyed by process id.
func (s *Supervisor) Running() map[string]int { return s.inner.Running() }

// LiveCount returns the number of live children.
func (s *Supervisor) LiveCount() int { return s.inner.LiveCount() }

// Subscribe delivers lifecycle events to the returned channel until the
// cancel func is called.
func (s *Supervisor) Subscribe(buffer int) (<-chan Event, func()) {
	return s.bus.Subscribe(buffer)
}

// Shutdown stops all supervised processes and closes the owned store, log
// store, and event bus.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	err := s.inner.Shutdown(ctx)
	_ = s.bus.Close()
	_ = s.logs.Close()
	if cerr := s.store.Close(); err == nil {
		err = cerr
	}
	return err
}

// NewHTTPServer starts an HTTP server on addr exposing the REST API backed
// by s. The caller owns shutdown via the returned http.Server.
func NewHTTPServer(addr, basePath string, s *Supervisor) *http.Server {
	return server.NewServer(addr, basePath, s.inner, nil)
}

// NewHTTPHandler returns the REST API handler for mounting into an existing
// HTTP application.
func NewHTTPHandler(basePath string, s *Supervisor) http.Handler {
	return server.NewRouter(s.inner, basePath).Handler()
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

func RegisterMetricsDefault() error { return metrics.Register(prometheus.DefaultRegisterer) }

// MetricsHandler serves Prometheus metrics from the default registry.
func MetricsHandler() http.Handler { return metrics.Handler() }
