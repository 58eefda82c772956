package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/appfort/warden/internal/config"
	"github.com/appfort/warden/internal/env"
	"github.com/appfort/warden/internal/events"
	eventfactory "github.com/appfort/warden/internal/events/factory"
	"github.com/appfort/warden/internal/launcher"
	"github.com/appfort/warden/internal/logstore"
	logfactory "github.com/appfort/warden/internal/logstore/factory"
	"github.com/appfort/warden/internal/metrics"
	"github.com/appfort/warden/internal/server"
	"github.com/appfort/warden/internal/store"
	storefactory "github.com/appfort/warden/internal/store/factory"
	"github.com/appfort/warden/internal/supervisor"
	wardentls "github.com/appfort/warden/internal/tls"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// createServeCommand creates the serve subcommand.
func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}

	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the warden daemon",
		Long: `Start the warden daemon: it recovers persisted process records, serves
the REST API, and supervises processes until stopped.

Without a config file the built-in defaults apply (listen on
127.0.0.1:8085, sqlite store in ./warden.db, processes in ./processes).

Examples:
  warden serve                      # Start with defaults
  warden serve config.toml          # Start with a specific config file
  warden serve --config=config.toml
  warden serve --daemon --pidfile=/var/run/warden.pid`,
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			return runServe(serveFlags, args)
		},
	}

	cmd.Flags().BoolVar(&serveFlags.Daemon, "daemon", false, "run in the background as a detached session")
	cmd.Flags().StringVar(&serveFlags.PidFile, "pidfile", "", "write the daemon PID to this file")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon output to this file")

	return cmd
}

func runServe(flags *ServeFlags, args []string) error {
	configPath := flags.ConfigPath
	if len(args) > 0 {
		configPath = args[0]
	}

	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}

	if flags.Daemon {
		// On success the parent exits inside daemonize; reaching past it
		// means we are already detached and should serve in the foreground.
		if err := daemonize(flags.PidFile, flags.LogFile); err != nil {
			return err
		}
	}
	if flags.PidFile != "" {
		defer func() { _ = removePidFile(flags.PidFile) }()
	}

	rt, err := buildDaemonRuntime(cfg)
	if err != nil {
		return err
	}
	if err := rt.start(); err != nil {
		rt.closeComponents()
		return err
	}
	rt.logger.Info("daemon listening", "addr", rt.addr(), "base_path", cfg.Server.BasePath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	rt.logger.Info("shutting down", "signal", sig.String())

	shutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	rt.shutdown(shutCtx)
	return nil
}

// daemonRuntime bundles everything serve wires together so startup, shutdown,
// and tests share one path.
type daemonRuntime struct {
	cfg       config.Config
	logger    *slog.Logger
	store     store.Store
	logs      logstore.Store
	bus       *events.Bus
	sup       *supervisor.Supervisor
	resources *metrics.ResourceCollector
	srv       *http.Server
	ln        net.Listener
}

// buildDaemonRuntime wires config into a ready-to-start daemon: store, log
// store, event sinks, supervisor with recovery, metrics, and the HTTP server.
func buildDaemonRuntime(cfg config.Config) (*daemonRuntime, error) {
	rt := &daemonRuntime{cfg: cfg}
	ctx := context.Background()

	logger := cfg.Log.NewSlogger()
	slog.SetDefault(logger)
	rt.logger = logger

	st, err := storefactory.NewFromDSN(cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store %q: %w", cfg.Store.DSN, err)
	}
	rt.store = st
	if err := st.EnsureSchema(ctx); err != nil {
		rt.closeComponents()
		return nil, fmt.Errorf("prepare store schema: %w", err)
	}

	logs, err := logfactory.NewFromDSN(cfg.Logs.DSN, cfg.Logs.MaxEntries)
	if err != nil {
		rt.closeComponents()
		return nil, fmt.Errorf("open log store %q: %w", cfg.Logs.DSN, err)
	}
	rt.logs = logs

	bus := events.NewBus(logger)
	rt.bus = bus
	for _, sc := range cfg.EventSinks {
		sink, err := eventfactory.NewSinkFromDSN(sc.DSN)
		if err != nil {
			rt.closeComponents()
			return nil, fmt.Errorf("event sink %q: %w", sc.DSN, err)
		}
		bus.AddSink(sink)
	}

	extra, err := cfg.GlobalEnv()
	if err != nil {
		rt.closeComponents()
		return nil, fmt.Errorf("resolve global env: %w", err)
	}
	environment := env.New()
	environment.SetPairs(extra)

	sup, err := supervisor.New(supervisor.Options{
		Store:        st,
		Logs:         logs,
		Bus:          bus,
		Launcher:     launcher.New(environment, logger),
		Logger:       logger,
		Mirror:       cfg.Logs.Mirror,
		ProcessesDir: cfg.Supervisor.ProcessesDir,
		GracePeriod:  cfg.Supervisor.GracePeriod,
		StopTimeout:  cfg.Supervisor.StopTimeout,
		Health: supervisor.HealthOptions{
			Interval:    cfg.Health.Interval,
			Timeout:     cfg.Health.Timeout,
			MaxFailures: cfg.Health.MaxFailures,
		},
		Retry: supervisor.RetryOptions{
			BaseDelay:   cfg.Retry.BaseDelay,
			JitterMax:   cfg.Retry.JitterMax,
			MaxAttempts: cfg.Retry.MaxAttempts,
		},
	})
	if err != nil {
		rt.closeComponents()
		return nil, err
	}
	rt.sup = sup

	if err := sup.Recover(ctx); err != nil {
		rt.closeComponents()
		return nil, fmt.Errorf("recover persisted processes: %w", err)
	}

	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			logger.Warn("metrics registration failed", "error", err)
		} else {
			rc := metrics.NewResourceCollector(0)
			if err := rc.Register(prometheus.DefaultRegisterer); err != nil {
				logger.Warn("resource metrics registration failed", "error", err)
			} else {
				rc.Start(ctx, sup.Running)
				rt.resources = rc
			}
		}
	}

	tlsConf, err := wardentls.Setup(cfg.Server)
	if err != nil {
		rt.closeComponents()
		return nil, fmt.Errorf("tls setup: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := server.NewRouter(sup, cfg.Server.BasePath)
	if cfg.Metrics.Enabled {
		router.ServeMetrics(cfg.Metrics.Path)
	}
	rt.srv = &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           router.Handler(),
		TLSConfig:         tlsConf,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return rt, nil
}

// start binds the listen address and serves in the background. Binding
// upfront surfaces address errors immediately and lets ":0" configs report
// the chosen port.
func (rt *daemonRuntime) start() error {
	ln, err := net.Listen("tcp", rt.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", rt.srv.Addr, err)
	}
	rt.ln = ln
	go func() {
		var serveErr error
		if rt.srv.TLSConfig != nil {
			serveErr = rt.srv.ServeTLS(ln, "", "")
		} else {
			serveErr = rt.srv.Serve(ln)
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			rt.logger.Error("http server stopped", "error", serveErr)
		}
	}()
	return nil
}

func (rt *daemonRuntime) addr() string {
	if rt.ln != nil {
		return rt.ln.Addr().String()
	}
	return rt.srv.Addr
}

// shutdown stops the HTTP server, then the supervised processes, then the
// backing components.
func (rt *daemonRuntime) shutdown(ctx context.Context) {
	_ = rt.srv.Shutdown(ctx)
	if err := rt.sup.Shutdown(ctx); err != nil {
		rt.logger.Error("supervisor shutdown", "error", err)
	}
	if rt.resources != nil {
		rt.resources.Stop()
	}
	rt.closeComponents()
}

// closeComponents closes whatever has been opened so far, in reverse wiring
// order. Safe to call on a partially built runtime.
func (rt *daemonRuntime) closeComponents() {
	if rt.bus != nil {
		_ = rt.bus.Close()
	}
	if rt.logs != nil {
		_ = rt.logs.Close()
	}
	if rt.store != nil {
		_ = rt.store.Close()
	}
}
