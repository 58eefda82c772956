package supervisor

import (
	"context"
	"errors"
	"syscall"
	"time"

	"github.com/appfort/warden/internal/events"
	"github.com/appfort/warden/internal/launcher"
	"github.com/appfort/warden/internal/metrics"
	"github.com/appfort/warden/internal/store"
)

// Stop terminates the live child for id, gracefully first and forcibly after
// the escalation window. It returns false when the id has no live handle.
// The live entry is removed before any signal is sent so neither the health
// monitor nor an exit-triggered retry can race the intentional shutdown.
func (s *Supervisor) Stop(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	c, live := s.children[id]
	if !live || c.cmd == nil {
		// A crash episode may still have a restart pending; an explicit stop
		// always cancels it.
		s.cancelRetryLocked(id)
		s.mu.Unlock()
		return false, nil
	}
	delete(s.children, id)
	s.clearHealthLocked(id)
	s.cancelRetryLocked(id)
	from := c.status
	s.mu.Unlock()

	s.setStatusLogged(ctx, id, from, store.StatusStopped, nil)
	s.logger.Info("stopping process", "id", id, "pid", c.pid)

	if err := s.terminate(ctx, c); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Caller gave up waiting. The escalation timer still finishes
			// the shutdown, so the stopped status stands.
			s.logger.Warn("stop wait abandoned", "id", id, "pid", c.pid, "error", err)
			return false, err
		}
		s.setStatusLogged(context.Background(), id, store.StatusStopped, store.StatusError, nil)
		s.logger.Error("failed to signal process", "id", id, "pid", c.pid, "error", err)
		return false, err
	}

	metrics.IncStop(id)
	s.mu.Lock()
	forced := c.forceKilled
	s.mu.Unlock()
	detail := ""
	if forced {
		detail = "force killed"
	}
	s.logger.Info("process stopped", "id", id, "forced", forced)
	s.publish(events.Event{ProcessID: id, Type: events.EventStopped, Status: store.StatusStopped, ExitCode: &c.exitCode, Detail: detail})
	return true, nil
}

// terminate drives the two-stage shutdown: graceful signal, then a forced
// kill if the child outlives the escalation window. Only a failure to
// deliver the initial signal is an error; both exit paths count as success.
func (s *Supervisor) terminate(ctx context.Context, c *child) error {
	if err := launcher.Terminate(c.pid); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}

	kill := time.AfterFunc(s.stopTimeout, func() {
		select {
		case <-c.waitDone:
			return // already exited, do not kill a possibly reused pid
		default:
		}
		s.mu.Lock()
		c.forceKilled = true
		s.mu.Unlock()
		s.logger.Warn("process did not exit in time, killing", "id", c.id, "pid", c.pid)
		_ = launcher.Kill(c.pid)
	})

	select {
	case <-c.waitDone:
		kill.Stop()
		return nil
	case <-ctx.Done():
		// Leave the escalation timer armed; the wait goroutine still reaps
		// the child whichever way it exits.
		return ctx.Err()
	}
}
