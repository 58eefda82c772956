package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/appfort/warden/internal/logstore"
	"github.com/appfort/warden/internal/server"
	"github.com/appfort/warden/internal/store/sqlite"
	"github.com/appfort/warden/internal/supervisor"
)

func newTestDaemon(t *testing.T) *Client {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st, err := sqlite.New(filepath.Join(t.TempDir(), "warden.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("schema: %v", err)
	}
	sup, err := supervisor.New(supervisor.Options{
		Store:        st,
		Logs:         logstore.NewMemory(0),
		ProcessesDir: t.TempDir(),
		GracePeriod:  100 * time.Millisecond,
		StopTimeout:  400 * time.Millisecond,
		Health:       supervisor.HealthOptions{Interval: time.Hour},
	})
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}
	srv := httptest.NewServer(server.NewRouter(sup, "/api").Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = sup.Shutdown(context.Background())
		_ = st.Close()
	})
	return New(Config{
		BaseURL: srv.URL + "/api",
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestLifecycleRoundTrip(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix-only test")
	}
	c := newTestDaemon(t)
	ctx := context.Background()

	p, err := c.Create(ctx, "svc", "entry.sh")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Status != "stopped" || p.Directory == "" {
		t.Fatalf("unexpected created process: %+v", p)
	}
	script := "echo hello-from-svc\nsleep 30\n"
	if err := os.WriteFile(filepath.Join(p.Directory, "entry.sh"), []byte(script), 0o755); err != nil {
		t.Fatalf("write entry: %v", err)
	}

	started, err := c.Start(ctx, "svc")
	if err != nil || !started {
		t.Fatalf("start: started=%v err=%v", started, err)
	}
	started, err = c.Start(ctx, "svc")
	if err != nil || started {
		t.Fatalf("second start should be a no-op, got started=%v err=%v", started, err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		entries, err := c.Logs(ctx, "svc", 0)
		if err != nil {
			t.Fatalf("logs: %v", err)
		}
		if len(entries) > 0 {
			if entries[0].Message != "hello-from-svc" {
				t.Fatalf("unexpected log entry: %+v", entries[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no log entries captured")
		}
		time.Sleep(10 * time.Millisecond)
	}

	sum, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if sum.Total != 1 || sum.Live != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}

	stopped, err := c.Stop(ctx, "svc")
	if err != nil || !stopped {
		t.Fatalf("stop: stopped=%v err=%v", stopped, err)
	}
	if err := c.ClearLogs(ctx, "svc"); err != nil {
		t.Fatalf("clear logs: %v", err)
	}
	if err := c.Delete(ctx, "svc"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := c.Get(ctx, "svc"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestNotFoundSentinel(t *testing.T) {
	c := newTestDaemon(t)
	ctx := context.Background()

	if _, err := c.Get(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get: expected ErrNotFound, got %v", err)
	}
	if _, err := c.Start(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("start: expected ErrNotFound, got %v", err)
	}
	if err := c.Delete(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("delete: expected ErrNotFound, got %v", err)
	}
}

func TestIsReachable(t *testing.T) {
	c := newTestDaemon(t)
	if !c.IsReachable(context.Background()) {
		t.Fatalf("daemon should be reachable")
	}
	dead := New(Config{
		BaseURL: "http://127.0.0.1:1/api",
		Timeout: 200 * time.Millisecond,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if dead.IsReachable(context.Background()) {
		t.Fatalf("closed port should be unreachable")
	}
}
