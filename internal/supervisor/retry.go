package supervisor

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/appfort/warden/internal/events"
	"github.com/appfort/warden/internal/metrics"
	"github.com/appfort/warden/internal/store"
)

const (
	defaultRetryBaseDelay   = 2000 * time.Millisecond
	defaultRetryJitterMax   = 1000 * time.Millisecond
	defaultMaxRetryAttempts = 5
)

// retryRecord tracks one crash episode. attempts grows monotonically until
// the record is discarded, either by a confirmed successful restart or by
// hitting the attempt cap.
type retryRecord struct {
	attempts      int
	lastAttemptAt time.Time
	nextRetryAt   time.Time
	timer         *time.Timer
}

// backoffDelay computes the delay before restart attempt number
// attempts+1: base * 2^attempts plus uniform jitter.
func (s *Supervisor) backoffDelay(attempts int) time.Duration {
	d := s.retry.BaseDelay << uint(attempts)
	if s.retry.JitterMax > 0 {
		d += time.Duration(rand.Int63n(int64(s.retry.JitterMax)))
	}
	return d
}

// scheduleRetry arms a backoff-delayed restart after an unexpected exit.
// Called only from exit bookkeeping, never for deliberate stops.
func (s *Supervisor) scheduleRetry(id string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	r := s.retries[id]
	if r == nil {
		r = &retryRecord{}
		s.retries[id] = r
	}
	if r.attempts >= s.retry.MaxAttempts {
		attempts := r.attempts
		delete(s.retries, id)
		s.mu.Unlock()
		s.logger.Error("restart limit reached, giving up", "id", id, "attempts", attempts)
		s.publish(events.Event{ProcessID: id, Type: events.EventRestartExhausted, Detail: "restart limit reached"})
		return
	}
	delay := s.backoffDelay(r.attempts)
	r.attempts++
	r.lastAttemptAt = time.Now()
	r.nextRetryAt = r.lastAttemptAt.Add(delay)
	r.timer = time.AfterFunc(delay, func() { s.runRetry(id) })
	attempt := r.attempts
	s.mu.Unlock()

	metrics.ObserveRestartDelay(delay.Seconds())
	s.logger.Info("restart scheduled", "id", id, "attempt", attempt, "delay", delay)
	s.publish(events.Event{ProcessID: id, Type: events.EventRestartScheduled, Detail: delay.String()})
}

// runRetry fires a scheduled restart. The record survives a failed attempt
// so the next crash keeps counting from where this episode left off.
func (s *Supervisor) runRetry(id string) {
	s.mu.Lock()
	r := s.retries[id]
	if r == nil || s.closed {
		s.mu.Unlock()
		return
	}
	r.timer = nil
	s.mu.Unlock()

	s.logger.Info("attempting automatic restart", "id", id)
	metrics.IncRestart(id)
	ok, err := s.Start(context.Background(), id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) && !errors.Is(err, ErrShuttingDown) {
			s.logger.Warn("automatic restart failed", "id", id, "error", err)
		}
		return
	}
	if !ok {
		s.logger.Warn("automatic restart did not take", "id", id)
	}
}

// confirmRestart discards the retry record once a (re)start is confirmed
// past the grace window. The backoff counter resets only here.
func (s *Supervisor) confirmRestart(id string) {
	s.mu.Lock()
	s.cancelRetryLocked(id)
	s.mu.Unlock()
}

// cancelRetryLocked stops any pending retry timer for id and drops the
// record. Caller holds mu.
func (s *Supervisor) cancelRetryLocked(id string) {
	r := s.retries[id]
	if r == nil {
		return
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	delete(s.retries, id)
}
