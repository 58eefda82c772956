package warden

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("unix-only test")
	}
}

func newFacade(t *testing.T, mutate func(*Options)) *Supervisor {
	t.Helper()
	dir := t.TempDir()
	opts := Options{
		StoreDSN:     filepath.Join(dir, "warden.db"),
		ProcessesDir: filepath.Join(dir, "processes"),
		GracePeriod:  100 * time.Millisecond,
		StopTimeout:  400 * time.Millisecond,
		Health:       HealthOptions{Interval: time.Hour},
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Shutdown(context.Background()); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	})
	return s
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestFacadeLifecycle(t *testing.T) {
	requireUnix(t)
	s := newFacade(t, nil)
	ctx := context.Background()

	rec, err := s.Create(ctx, "app", "entry.sh")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.Status != StatusStopped {
		t.Fatalf("new process should be stopped, got %s", rec.Status)
	}
	script := "echo up\nsleep 30\n"
	if err := os.WriteFile(filepath.Join(rec.Directory, "entry.sh"), []byte(script), 0o755); err != nil {
		t.Fatalf("write entry: %v", err)
	}

	changed, err := s.Start(ctx, "app")
	if err != nil || !changed {
		t.Fatalf("start: changed=%v err=%v", changed, err)
	}
	waitFor(t, 3*time.Second, "running status", func() bool {
		got, err := s.Get(ctx, "app")
		return err == nil && got.Status == StatusRunning
	})
	if s.LiveCount() != 1 {
		t.Fatalf("live count = %d, want 1", s.LiveCount())
	}
	if pids := s.Running(); len(pids) != 1 || pids["app"] <= 0 {
		t.Fatalf("unexpected running map: %v", pids)
	}

	waitFor(t, 3*time.Second, "captured output", func() bool {
		entries, err := s.Logs(ctx, "app", 0)
		return err == nil && len(entries) > 0
	})

	changed, err = s.Stop(ctx, "app")
	if err != nil || !changed {
		t.Fatalf("stop: changed=%v err=%v", changed, err)
	}
	if err := s.ClearLogs(ctx, "app"); err != nil {
		t.Fatalf("clear logs: %v", err)
	}
	if _, err := s.Delete(ctx, "app"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "app"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFacadeEvents(t *testing.T) {
	requireUnix(t)
	s := newFacade(t, nil)
	ctx := context.Background()

	ch, cancel := s.Subscribe(64)
	defer cancel()

	rec, err := s.Create(ctx, "evt", "entry.sh")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := os.WriteFile(filepath.Join(rec.Directory, "entry.sh"), []byte("sleep 30\n"), 0o755); err != nil {
		t.Fatalf("write entry: %v", err)
	}
	if _, err := s.Start(ctx, "evt"); err != nil {
		t.Fatalf("start: %v", err)
	}

	seen := map[EventType]bool{}
	deadline := time.After(3 * time.Second)
	for !seen["created"] || !seen["starting"] {
		select {
		case e := <-ch:
			seen[e.Type] = true
		case <-deadline:
			t.Fatalf("missing events, saw %v", seen)
		}
	}
}

func TestFacadeHTTPHandler(t *testing.T) {
	s := newFacade(t, nil)

	srv := httptest.NewServer(NewHTTPHandler("/api", s))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("status request: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d", resp.StatusCode)
	}
}

func TestLoadConfigAndOptions(t *testing.T) {
	dir := t.TempDir()
	content := `
[supervisor]
processes_dir = "` + filepath.Join(dir, "procs") + `"
grace_period = "2s"

[store]
dsn = "` + filepath.Join(dir, "w.db") + `"

[[event_sink]]
dsn = "` + filepath.Join(dir, "events.db") + `"

[health]
interval = "45s"
timeout = "10s"
`
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Health.Interval != 45*time.Second {
		t.Fatalf("health interval = %s", cfg.Health.Interval)
	}

	opts, err := OptionsFromConfig(cfg)
	if err != nil {
		t.Fatalf("options from config: %v", err)
	}
	if opts.GracePeriod != 2*time.Second {
		t.Fatalf("grace period = %s", opts.GracePeriod)
	}
	if len(opts.EventSinkDSNs) != 1 {
		t.Fatalf("event sinks = %v", opts.EventSinkDSNs)
	}
	if opts.Health.MaxFailures != 3 {
		t.Fatalf("default max failures should survive, got %d", opts.Health.MaxFailures)
	}

	s, err := New(opts)
	if err != nil {
		t.Fatalf("new from config options: %v", err)
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestRegisterMetricsFacade(t *testing.T) {
	if err := RegisterMetrics(prometheus.NewRegistry()); err != nil {
		t.Fatalf("register: %v", err)
	}
	// Second registration is a no-op.
	if err := RegisterMetricsDefault(); err != nil {
		t.Fatalf("register default: %v", err)
	}

	srv := httptest.NewServer(MetricsHandler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("metrics request: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics code = %d", resp.StatusCode)
	}
}
