package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/appfort/warden/internal/events"
	"github.com/appfort/warden/internal/launcher"
	"github.com/appfort/warden/internal/logger"
	"github.com/appfort/warden/internal/logstore"
	"github.com/appfort/warden/internal/metrics"
	"github.com/appfort/warden/internal/store"
)

const (
	defaultGracePeriod = time.Second
	defaultStopTimeout = 5 * time.Second
)

// ErrShuttingDown is returned by Start once Shutdown has begun.
var ErrShuttingDown = errors.New("supervisor is shutting down")

var allStatuses = []store.Status{
	store.StatusStopped,
	store.StatusStarting,
	store.StatusRunning,
	store.StatusError,
	store.StatusUnresponsive,
}

// HealthOptions tunes the stdin/stdout liveness protocol.
type HealthOptions struct {
	Interval    time.Duration
	Timeout     time.Duration
	MaxFailures int
}

// RetryOptions tunes crash-restart backoff.
type RetryOptions struct {
	BaseDelay   time.Duration
	JitterMax   time.Duration
	MaxAttempts int
}

type Options struct {
	Store        store.Store    // required
	Logs         logstore.Store // defaults to an in-memory sink
	Bus          *events.Bus    // optional lifecycle event fan-out
	Launcher     *launcher.Launcher
	Logger       *slog.Logger
	Mirror       logger.Mirror // zero value disables per-process log files
	ProcessesDir string        // root for <id>/<entryFile> directories
	GracePeriod  time.Duration // spawn-to-running confirmation window
	StopTimeout  time.Duration // graceful-signal-to-kill escalation window
	Health       HealthOptions
	Retry        RetryOptions
}

// child is the live in-memory handle for one spawned process. It exists only
// between a successful spawn and the exit bookkeeping; the persisted record
// outlives it.
type child struct {
	id        string
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	pid       int
	startedAt time.Time
	status    store.Status // last status persisted for this child

	outMirror io.WriteCloser
	errMirror io.WriteCloser
	pumps     sync.WaitGroup

	waitDone     chan struct{} // closed after exit bookkeeping completes
	exitCode     int           // valid once waitDone is closed
	exitSignaled bool          // exited via the graceful stop signal
	forceKilled  bool
}

// Supervisor owns the live-process table and drives every lifecycle
// transition. The three registries (children, health records, retry records)
// are guarded by mu and mutated only here; mu is never held across process
// waits, store I/O, or child stream writes.
type Supervisor struct {
	store        store.Store
	logs         logstore.Store
	bus          *events.Bus
	launcher     *launcher.Launcher
	logger       *slog.Logger
	mirror       logger.Mirror
	processesDir string
	grace        time.Duration
	stopTimeout  time.Duration
	health       HealthOptions
	retry        RetryOptions

	mu       sync.Mutex
	children map[string]*child
	healths  map[string]*healthRecord
	retries  map[string]*retryRecord
	closed   bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(opts Options) (*Supervisor, error) {
	if opts.Store == nil {
		return nil, errors.New("supervisor requires a store")
	}
	if opts.Logs == nil {
		opts.Logs = logstore.NewMemory(0)
	}
	if opts.Launcher == nil {
		opts.Launcher = launcher.New(nil, opts.Logger)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = defaultGracePeriod
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = defaultStopTimeout
	}
	if opts.Health.Interval <= 0 {
		opts.Health.Interval = defaultHealthInterval
	}
	if opts.Health.Timeout <= 0 {
		opts.Health.Timeout = defaultHealthTimeout
	}
	if opts.Health.MaxFailures <= 0 {
		opts.Health.MaxFailures = defaultMaxFailures
	}
	if opts.Retry.BaseDelay <= 0 {
		opts.Retry.BaseDelay = defaultRetryBaseDelay
	}
	if opts.Retry.JitterMax <= 0 {
		opts.Retry.JitterMax = defaultRetryJitterMax
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry.MaxAttempts = defaultMaxRetryAttempts
	}

	s := &Supervisor{
		store:        opts.Store,
		logs:         opts.Logs,
		bus:          opts.Bus,
		launcher:     opts.Launcher,
		logger:       opts.Logger,
		mirror:       opts.Mirror,
		processesDir: opts.ProcessesDir,
		grace:        opts.GracePeriod,
		stopTimeout:  opts.StopTimeout,
		health:       opts.Health,
		retry:        opts.Retry,
		children:     make(map[string]*child),
		healths:      make(map[string]*healthRecord),
		retries:      make(map[string]*retryRecord),
		stopCh:       make(chan struct{}),
	}
	s.wg.Add(1)
	go s.healthLoop()
	return s, nil
}

// Create registers a new managed process in the stopped state and prepares
// its directory under the processes root. The entry extension is validated
// up front so unsupported uploads fail at registration, not at first start.
func (s *Supervisor) Create(ctx context.Context, id, entryFile string) (store.Record, error) {
	if id == "" {
		return store.Record{}, errors.New("process id must not be empty")
	}
	if entryFile == "" {
		return store.Record{}, errors.New("entry file must not be empty")
	}
	dir := filepath.Join(s.processesDir, id)
	if !launcher.Supported(entryFile) {
		return store.Record{}, fmt.Errorf("%w: %s", launcher.ErrUnsupportedEntryType, entryFile)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return store.Record{}, fmt.Errorf("create process directory: %w", err)
	}
	rec := store.Record{
		ID:           id,
		EntryFile:    entryFile,
		Directory:    dir,
		Status:       store.StatusStopped,
		LastActivity: time.Now().UTC(),
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return store.Record{}, err
	}
	s.logger.Info("process created", "id", id, "entry", entryFile)
	s.publish(events.Event{ProcessID: id, Type: events.EventCreated, Status: store.StatusStopped})
	return rec, nil
}

// Start launches the process for id. It returns false without side effects
// when the id is already live, and false with the persisted status set to
// error on any launch failure.
func (s *Supervisor) Start(ctx context.Context, id string) (bool, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, ErrShuttingDown
	}
	if _, live := s.children[id]; live {
		s.mu.Unlock()
		s.logger.Debug("start ignored, process already live", "id", id)
		return false, nil
	}
	// Reserve the slot before any awaited work so a concurrent start for the
	// same id fails fast instead of racing the spawn.
	c := &child{id: id, status: store.StatusStarting, waitDone: make(chan struct{})}
	s.children[id] = c
	s.mu.Unlock()

	if err := s.setStatus(ctx, id, rec.Status, store.StatusStarting, nil); err != nil {
		s.dropChild(c)
		return false, err
	}
	s.publish(events.Event{ProcessID: id, Type: events.EventStarting, Status: store.StatusStarting})

	ch, err := s.launcher.Launch(rec.Directory, rec.EntryFile, nil)
	if err != nil {
		s.dropChild(c)
		s.markError(ctx, id, store.StatusStarting, fmt.Sprintf("launch failed: %v", err))
		return false, err
	}

	outW, errW := s.mirror.Writers(id)
	s.mu.Lock()
	c.cmd = ch.Cmd
	c.stdin = ch.Stdin
	c.pid = ch.PID()
	c.startedAt = time.Now()
	c.outMirror = outW
	c.errMirror = errW
	s.healths[id] = &healthRecord{}
	s.mu.Unlock()

	c.pumps.Add(2)
	s.wg.Add(3)
	go s.pumpStream(c, ch.Stdout, "stdout", outW)
	go s.pumpStream(c, ch.Stderr, "stderr", errW)
	go s.waitChild(c)

	s.logger.Info("process spawned", "id", id, "pid", c.pid)

	// Confirmation grace: the spawn only counts as a start if the child
	// survives the window without exiting.
	grace := time.NewTimer(s.grace)
	defer grace.Stop()
	select {
	case <-c.waitDone:
		// Exit bookkeeping has already persisted the outcome and, for
		// crashes, engaged the retry scheduler.
		return false, nil
	case <-grace.C:
	}

	s.mu.Lock()
	if s.children[id] != c {
		// Stopped or replaced while we waited.
		s.mu.Unlock()
		return false, nil
	}
	c.status = store.StatusRunning
	s.mu.Unlock()

	if err := s.setStatus(ctx, id, store.StatusStarting, store.StatusRunning, &c.pid); err != nil {
		s.logger.Error("failed to persist running status", "id", id, "error", err)
	}
	s.mu.Lock()
	lost := s.children[id] != c
	s.mu.Unlock()
	if lost {
		// A stop raced the confirmation; its stopped status must win.
		s.setStatusLogged(ctx, id, store.StatusRunning, store.StatusStopped, nil)
		return false, nil
	}
	s.confirmRestart(id)
	metrics.IncStart(id)
	s.logger.Info("process running", "id", id, "pid", c.pid)
	s.publish(events.Event{ProcessID: id, Type: events.EventRunning, Status: store.StatusRunning, PID: c.pid})
	return true, nil
}

// Get returns the persisted record for id.
func (s *Supervisor) Get(ctx context.Context, id string) (store.Record, error) {
	return s.store.Get(ctx, id)
}

// List returns all persisted records.
func (s *Supervisor) List(ctx context.Context) ([]store.Record, error) {
	return s.store.List(ctx)
}

// Logs returns up to limit most recent log entries for id, oldest first.
func (s *Supervisor) Logs(ctx context.Context, id string, limit int) ([]logstore.Entry, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.logs.Read(ctx, id, limit)
}

// ClearLogs discards the retained log entries for id.
func (s *Supervisor) ClearLogs(ctx context.Context, id string) error {
	if _, err := s.store.Get(ctx, id); err != nil {
		return err
	}
	return s.logs.Clear(ctx, id)
}

// Delete stops id if live, then removes its directory (best effort), its
// persisted record, and its logs.
func (s *Supervisor) Delete(ctx context.Context, id string) (bool, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if _, err := s.Stop(ctx, id); err != nil {
		s.logger.Warn("stop before delete failed", "id", id, "error", err)
	}
	if rec.Directory != "" {
		if err := os.RemoveAll(rec.Directory); err != nil {
			s.logger.Warn("failed to remove process directory", "id", id, "dir", rec.Directory, "error", err)
		}
	}
	if err := s.store.Delete(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, err
	}
	if err := s.logs.Delete(ctx, id); err != nil {
		s.logger.Warn("failed to purge process logs", "id", id, "error", err)
	}
	metrics.ForgetProcess(id)
	s.logger.Info("process deleted", "id", id)
	s.publish(events.Event{ProcessID: id, Type: events.EventDeleted})
	return true, nil
}

// Recover reconciles persisted records with reality after a supervisor
// restart: no live handle survives one, so anything recorded as starting,
// running, or unresponsive is reset to stopped. Restarting them is the
// caller's policy decision.
func (s *Supervisor) Recover(ctx context.Context) error {
	recs, err := s.store.List(ctx)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		switch rec.Status {
		case store.StatusStarting, store.StatusRunning, store.StatusUnresponsive:
		default:
			continue
		}
		if err := s.setStatus(ctx, rec.ID, rec.Status, store.StatusStopped, nil); err != nil {
			s.logger.Error("failed to reset stale status", "id", rec.ID, "error", err)
			continue
		}
		s.logger.Warn("process was live at last shutdown, reset to stopped", "id", rec.ID, "was", rec.Status)
		s.publish(events.Event{ProcessID: rec.ID, Type: events.EventBootReset, Status: store.StatusStopped, Detail: string(rec.Status)})
	}
	return nil
}

// Running returns the pids of currently live children keyed by process id.
func (s *Supervisor) Running() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.children))
	for id, c := range s.children {
		if c.pid > 0 {
			out[id] = c.pid
		}
	}
	return out
}

// LiveCount returns the number of live children.
func (s *Supervisor) LiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.children)
}

// Shutdown stops the health loop, cancels all pending retries, terminates
// every live child, and waits for the per-child goroutines to drain.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.stopCh)
	ids := make([]string, 0, len(s.children))
	for id := range s.children {
		ids = append(ids, id)
	}
	for id, r := range s.retries {
		if r.timer != nil {
			r.timer.Stop()
		}
		delete(s.retries, id)
	}
	s.mu.Unlock()

	var stops sync.WaitGroup
	for _, id := range ids {
		stops.Add(1)
		go func(id string) {
			defer stops.Done()
			if _, err := s.Stop(ctx, id); err != nil {
				s.logger.Error("shutdown stop failed", "id", id, "error", err)
			}
		}(id)
	}
	stops.Wait()
	s.wg.Wait()
	return nil
}

// waitChild reaps the process and performs exit bookkeeping. The live entry
// and health record are removed before any store I/O so a concurrent start
// for the same id cannot observe the dying child.
func (s *Supervisor) waitChild(c *child) {
	defer s.wg.Done()
	c.pumps.Wait()
	err := c.cmd.Wait()

	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}
	signaled := launcher.ExitedViaStopSignal(c.cmd.ProcessState)

	s.mu.Lock()
	live := s.children[c.id] == c
	if live {
		delete(s.children, c.id)
		s.clearHealthLocked(c.id)
	}
	from := c.status
	c.exitCode = code
	c.exitSignaled = signaled
	s.mu.Unlock()

	if c.stdin != nil {
		_ = c.stdin.Close()
	}
	c.closeMirrors()

	if live {
		ctx := context.Background()
		if code == 0 {
			s.setStatusLogged(ctx, c.id, from, store.StatusStopped, nil)
			s.logger.Info("process exited", "id", c.id, "code", 0)
			s.publish(events.Event{ProcessID: c.id, Type: events.EventStopped, Status: store.StatusStopped, ExitCode: &c.exitCode})
		} else {
			s.setStatusLogged(ctx, c.id, from, store.StatusError, nil)
			s.logger.Warn("process exited unexpectedly", "id", c.id, "code", code, "signaled", signaled)
			s.publish(events.Event{ProcessID: c.id, Type: events.EventCrashed, Status: store.StatusError, ExitCode: &c.exitCode})
			if !signaled {
				s.scheduleRetry(c.id)
			}
		}
	}
	close(c.waitDone)
}

// dropChild removes a reservation that never produced a live process.
func (s *Supervisor) dropChild(c *child) {
	s.mu.Lock()
	if s.children[c.id] == c {
		delete(s.children, c.id)
	}
	s.mu.Unlock()
}

// markError persists the error status for a failed launch and reports it.
func (s *Supervisor) markError(ctx context.Context, id string, from store.Status, detail string) {
	s.setStatusLogged(ctx, id, from, store.StatusError, nil)
	s.logger.Error("failed to start process", "id", id, "detail", detail)
	s.publish(events.Event{ProcessID: id, Type: events.EventCrashed, Status: store.StatusError, Detail: detail})
}

// setStatus persists a status transition. The store row is the single
// authoritative copy; metrics observe the same transition.
func (s *Supervisor) setStatus(ctx context.Context, id string, from, to store.Status, pid *int) error {
	if err := s.store.UpdateStatus(ctx, id, to, pid); err != nil {
		return err
	}
	metrics.RecordStateTransition(id, string(from), string(to))
	for _, st := range allStatuses {
		metrics.SetCurrentState(id, string(st), st == to)
	}
	return nil
}

func (s *Supervisor) setStatusLogged(ctx context.Context, id string, from, to store.Status, pid *int) {
	if err := s.setStatus(ctx, id, from, to, pid); err != nil {
		s.logger.Error("failed to persist status", "id", id, "status", to, "error", err)
	}
}

func (s *Supervisor) publish(e events.Event) {
	if s.bus != nil {
		s.bus.Publish(e)
	}
}

func (c *child) closeMirrors() {
	if c.outMirror != nil {
		_ = c.outMirror.Close()
	}
	if c.errMirror != nil {
		_ = c.errMirror.Close()
	}
}
