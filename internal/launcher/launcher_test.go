package launcher

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh on Unix-like systems")
	}
}

func writeEntry(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o700); err != nil {
		t.Fatalf("write entry: %v", err)
	}
}

func TestResolveCommandJavaScript(t *testing.T) {
	l := New(nil, nil)
	dir := t.TempDir()
	for _, name := range []string{"index.js", "bot.mjs", "app.cjs"} {
		argv, err := l.ResolveCommand(dir, name)
		if err != nil {
			t.Fatalf("resolve %s: %v", name, err)
		}
		if argv[0] != "node" || argv[1] != filepath.Join(dir, name) {
			t.Fatalf("unexpected argv for %s: %v", name, argv)
		}
	}
}

func TestResolveCommandPythonFallback(t *testing.T) {
	l := New(nil, nil)
	dir := t.TempDir()
	argv, err := l.ResolveCommand(dir, "bot.py")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if argv[0] != "python3" {
		t.Fatalf("expected system python fallback, got %v", argv)
	}
}

func TestResolveCommandPythonVenv(t *testing.T) {
	requireUnix(t)
	l := New(nil, nil)
	dir := t.TempDir()
	venvBin := filepath.Join(dir, "venv", "bin")
	if err := os.MkdirAll(venvBin, 0o755); err != nil {
		t.Fatalf("mkdir venv: %v", err)
	}
	py := filepath.Join(venvBin, "python")
	if err := os.WriteFile(py, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("write venv python: %v", err)
	}
	argv, err := l.ResolveCommand(dir, "bot.py")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if argv[0] != py {
		t.Fatalf("expected venv interpreter %s, got %v", py, argv)
	}
}

func TestResolveCommandShell(t *testing.T) {
	l := New(nil, nil)
	dir := t.TempDir()
	argv, err := l.ResolveCommand(dir, "run.sh")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if argv[0] != shellPath() {
		t.Fatalf("expected %s, got %v", shellPath(), argv)
	}
}

func TestResolveCommandUnsupported(t *testing.T) {
	l := New(nil, nil)
	_, err := l.ResolveCommand(t.TempDir(), "readme.txt")
	if !errors.Is(err, ErrUnsupportedEntryType) {
		t.Fatalf("expected ErrUnsupportedEntryType, got %v", err)
	}
}

func TestLaunchMissingEntry(t *testing.T) {
	l := New(nil, nil)
	_, err := l.Launch(t.TempDir(), "ghost.sh", nil)
	if !errors.Is(err, ErrEntryFileMissing) {
		t.Fatalf("expected ErrEntryFileMissing, got %v", err)
	}
}

func TestValidateEntry(t *testing.T) {
	l := New(nil, nil)
	dir := t.TempDir()
	writeEntry(t, dir, "run.sh", "#!/bin/sh\n")

	if err := l.ValidateEntry(dir, "run.sh"); err != nil {
		t.Fatalf("validate existing: %v", err)
	}
	if err := l.ValidateEntry(dir, "other.sh"); !errors.Is(err, ErrEntryFileMissing) {
		t.Fatalf("expected ErrEntryFileMissing, got %v", err)
	}
	if err := l.ValidateEntry(dir, "data.bin"); !errors.Is(err, ErrUnsupportedEntryType) {
		t.Fatalf("expected ErrUnsupportedEntryType, got %v", err)
	}
}

func TestLaunchCapturesStreams(t *testing.T) {
	requireUnix(t)
	l := New(nil, nil)
	dir := t.TempDir()
	writeEntry(t, dir, "echoer.sh", "#!/bin/sh\necho hello\nread line\necho \"got:$line\"\n")

	child, err := l.Launch(dir, "echoer.sh", nil)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	sc := bufio.NewScanner(child.Stdout)
	if !sc.Scan() || sc.Text() != "hello" {
		t.Fatalf("expected hello on stdout, got %q (err %v)", sc.Text(), sc.Err())
	}
	if _, err := fmt.Fprintln(child.Stdin, "ping"); err != nil {
		t.Fatalf("write stdin: %v", err)
	}
	if !sc.Scan() || sc.Text() != "got:ping" {
		t.Fatalf("expected echoed stdin, got %q", sc.Text())
	}
	if err := child.Cmd.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if child.PID() <= 0 {
		t.Fatalf("expected positive pid")
	}
}

func TestLaunchRunsInDirectory(t *testing.T) {
	requireUnix(t)
	l := New(nil, nil)
	dir := t.TempDir()
	writeEntry(t, dir, "cwd.sh", "#!/bin/sh\npwd\n")

	child, err := l.Launch(dir, "cwd.sh", nil)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	sc := bufio.NewScanner(child.Stdout)
	if !sc.Scan() {
		t.Fatalf("no output: %v", sc.Err())
	}
	got := sc.Text()
	_ = child.Cmd.Wait()
	// TempDir may be a symlink (macOS); resolve both sides
	want, _ := filepath.EvalSymlinks(dir)
	gotResolved, _ := filepath.EvalSymlinks(got)
	if gotResolved != want {
		t.Fatalf("expected cwd %s, got %s", want, got)
	}
}

func TestTerminateStopsProcessGroup(t *testing.T) {
	requireUnix(t)
	l := New(nil, nil)
	dir := t.TempDir()
	writeEntry(t, dir, "sleeper.sh", "#!/bin/sh\nsleep 30\n")

	child, err := l.Launch(dir, "sleeper.sh", nil)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	pid := child.PID()
	if err := Terminate(pid); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- child.Cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		_ = Kill(pid)
		t.Fatalf("process did not exit after graceful signal")
	}
	if !ExitedViaStopSignal(child.Cmd.ProcessState) {
		t.Fatalf("expected stop-signal exit, got %v", child.Cmd.ProcessState)
	}
}

func TestAlive(t *testing.T) {
	if !Alive(os.Getpid()) {
		t.Fatalf("expected current process to be alive")
	}
	if Alive(0) {
		t.Fatalf("pid 0 must not be alive")
	}
	if Alive(1 << 30) {
		t.Fatalf("absurd pid must not be alive")
	}
}
