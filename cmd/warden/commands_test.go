package main

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/appfort/warden/internal/config"
)

// startTestDaemon boots a full runtime on a random port and returns its
// config together with the API base URL.
func startTestDaemon(t *testing.T) (config.Config, string) {
	t.Helper()
	cfg := testConfig(t)
	rt, err := buildDaemonRuntime(cfg)
	if err != nil {
		t.Fatalf("build runtime: %v", err)
	}
	if err := rt.start(); err != nil {
		t.Fatalf("start runtime: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rt.shutdown(ctx)
	})
	return cfg, "http://" + rt.addr() + "/api"
}

func TestCommandsRoundTrip(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix shell")
	}
	cfg, apiURL := startTestDaemon(t)
	c := command{global: &GlobalFlags{APIUrl: apiURL, APITimeout: 5 * time.Second}}

	if err := c.Create(CreateFlags{ID: "svc", EntryFile: "entry.sh"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	script := "echo booted\nsleep 30\n"
	entry := filepath.Join(cfg.Supervisor.ProcessesDir, "svc", "entry.sh")
	if err := os.WriteFile(entry, []byte(script), 0o755); err != nil {
		t.Fatalf("write entry: %v", err)
	}

	if err := c.Start(ProcessFlags{ID: "svc"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Status(StatusFlags{}); err != nil {
		t.Fatalf("status all: %v", err)
	}
	if err := c.Status(StatusFlags{ID: "svc"}); err != nil {
		t.Fatalf("status one: %v", err)
	}
	if err := c.Logs(LogsFlags{ID: "svc", Limit: 10}); err != nil {
		t.Fatalf("logs: %v", err)
	}
	if err := c.Stop(ProcessFlags{ID: "svc"}); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := c.Logs(LogsFlags{ID: "svc", Clear: true}); err != nil {
		t.Fatalf("clear logs: %v", err)
	}
	if err := c.Delete(ProcessFlags{ID: "svc"}); err != nil {
		t.Fatalf("delete: %v", err)
	}

	err := c.Status(StatusFlags{ID: "svc"})
	if err == nil {
		t.Fatalf("status of deleted process should fail")
	}
}

func TestCommandsUnknownProcess(t *testing.T) {
	_, apiURL := startTestDaemon(t)
	c := command{global: &GlobalFlags{APIUrl: apiURL, APITimeout: 5 * time.Second}}

	if err := c.Start(ProcessFlags{ID: "ghost"}); err == nil {
		t.Fatalf("start of unknown process should fail")
	}
	if err := c.Delete(ProcessFlags{ID: "ghost"}); err == nil {
		t.Fatalf("delete of unknown process should fail")
	}
}

func TestDaemonNotReachable(t *testing.T) {
	c := command{global: &GlobalFlags{
		APIUrl:     "http://127.0.0.1:1/api",
		APITimeout: 200 * time.Millisecond,
	}}

	err := c.Status(StatusFlags{})
	if err == nil {
		t.Fatalf("expected error for unreachable daemon")
	}
	if !strings.Contains(err.Error(), "daemon not reachable") {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(err.Error(), "warden serve") {
		t.Fatalf("error should point at 'warden serve': %v", err)
	}
}
