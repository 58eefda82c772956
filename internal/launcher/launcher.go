package launcher

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/appfort/warden/internal/env"
)

var (
	// ErrUnsupportedEntryType means the entry file extension maps to no known runtime.
	ErrUnsupportedEntryType = errors.New("unsupported entry file type")
	// ErrEntryFileMissing means the resolved entry path does not exist.
	ErrEntryFileMissing = errors.New("entry file does not exist")
)

// Launcher resolves the run command for a process directory's entry file and
// spawns the child with all three standard streams captured.
type Launcher struct {
	env    *env.Env
	logger *slog.Logger
}

func New(environment *env.Env, logger *slog.Logger) *Launcher {
	if environment == nil {
		environment = env.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{env: environment, logger: logger}
}

// Child is a spawned managed process and its captured streams. The pipes are
// owned by the caller once Launch returns.
type Child struct {
	Cmd    *exec.Cmd
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	Stderr io.ReadCloser
}

// PID returns the native process identifier, or 0 before start.
func (c *Child) PID() int {
	if c.Cmd != nil && c.Cmd.Process != nil {
		return c.Cmd.Process.Pid
	}
	return 0
}

// Supported reports whether the entry file extension maps to a known
// runtime. It does not touch the filesystem.
func Supported(entryFile string) bool {
	switch strings.ToLower(filepath.Ext(entryFile)) {
	case ".js", ".mjs", ".cjs", ".py", ".sh":
		return true
	}
	return false
}

// ResolveCommand maps an entry file to its interpreter argv. JavaScript
// entries run under node; Python entries prefer a venv provisioned inside the
// process directory and fall back to the system interpreter with a logged
// warning; shell entries run under sh.
func (l *Launcher) ResolveCommand(dir, entryFile string) ([]string, error) {
	entry := filepath.Join(dir, entryFile)
	switch strings.ToLower(filepath.Ext(entryFile)) {
	case ".js", ".mjs", ".cjs":
		return []string{"node", entry}, nil
	case ".py":
		if py := venvPython(dir); py != "" {
			return []string{py, entry}, nil
		}
		l.logger.Warn("no provisioned venv for python entry, using system interpreter",
			"dir", dir, "entry", entryFile)
		return []string{"python3", entry}, nil
	case ".sh":
		return []string{shellPath(), entry}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEntryType, entryFile)
	}
}

// Launch spawns the child for dir/entryFile: working directory dir, inherited
// environment plus configured extras, stdin/stdout/stderr piped, own process
// group. extraEnv entries are per-process "K=V" overrides.
func (l *Launcher) Launch(dir, entryFile string, extraEnv []string) (*Child, error) {
	argv, err := l.ResolveCommand(dir, entryFile)
	if err != nil {
		return nil, err
	}
	entry := filepath.Join(dir, entryFile)
	if _, err := os.Stat(entry); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrEntryFileMissing, entry)
	}
	// ok: argv is derived from the validated entry file, not raw user input
	// #nosec G204
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = l.env.Merge(extraEnv)
	configureSysProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn %s: %w", entry, err)
	}
	return &Child{Cmd: cmd, Stdin: stdin, Stdout: stdout, Stderr: stderr}, nil
}

// ValidateEntry checks that dir/entryFile resolves to a supported, existing
// entry without spawning anything. Used when registering a new process.
func (l *Launcher) ValidateEntry(dir, entryFile string) error {
	if _, err := l.ResolveCommand(dir, entryFile); err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(dir, entryFile)); err != nil {
		return fmt.Errorf("%w: %s", ErrEntryFileMissing, filepath.Join(dir, entryFile))
	}
	return nil
}
