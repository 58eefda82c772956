package supervisor

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/appfort/warden/internal/events"
	"github.com/appfort/warden/internal/launcher"
	"github.com/appfort/warden/internal/metrics"
	"github.com/appfort/warden/internal/store"
)

// Wire protocol: probes go to the child's stdin, responses come back on
// stdout. Any process that never answers accumulates failures and is marked
// unresponsive; it is not killed for that.
const (
	healthProbeMarker    = "__HEALTH_CHECK__"
	healthResponseMarker = "__HEALTH_CHECK_RESPONSE__"

	defaultHealthInterval = 60 * time.Second
	defaultHealthTimeout  = 30 * time.Second
	defaultMaxFailures    = 3
)

// healthRecord tracks the liveness protocol state for one live child. At
// most one probe is outstanding per process; a new probe is not sent while
// awaiting is true.
type healthRecord struct {
	lastCheckAt         time.Time
	lastResponseAt      time.Time
	consecutiveFailures int
	awaiting            bool
	token               string
	sentAt              time.Time
	timeout             *time.Timer
}

func (s *Supervisor) healthLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.health.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.checkAllProcesses(context.Background())
		}
	}
}

// checkAllProcesses runs one probe cycle over every live child.
func (s *Supervisor) checkAllProcesses(ctx context.Context) {
	s.mu.Lock()
	snapshot := make([]*child, 0, len(s.children))
	for _, c := range s.children {
		if c.cmd != nil {
			snapshot = append(snapshot, c)
		}
	}
	s.mu.Unlock()

	for _, c := range snapshot {
		if !launcher.Alive(c.pid) {
			s.purgeDeadChild(ctx, c)
			continue
		}
		s.probe(c)
	}
}

// purgeDeadChild drops a tracked child whose OS process no longer exists.
// The wait goroutine normally beats us to this; it covers handles that died
// without delivering an exit (e.g. reparented or reaped elsewhere).
func (s *Supervisor) purgeDeadChild(ctx context.Context, c *child) {
	s.mu.Lock()
	if s.children[c.id] != c {
		s.mu.Unlock()
		return
	}
	delete(s.children, c.id)
	s.clearHealthLocked(c.id)
	from := c.status
	s.mu.Unlock()

	s.setStatusLogged(ctx, c.id, from, store.StatusError, nil)
	s.logger.Warn("tracked process no longer alive, purging", "id", c.id, "pid", c.pid)
	s.publish(events.Event{ProcessID: c.id, Type: events.EventCrashed, Status: store.StatusError, Detail: "process handle dead"})
}

// probe sends one health check to the child unless a previous probe is still
// outstanding. An outstanding probe past its deadline is counted as a
// failure here only if its timeout timer somehow never fired.
func (s *Supervisor) probe(c *child) {
	s.mu.Lock()
	if s.children[c.id] != c {
		s.mu.Unlock()
		return
	}
	h := s.healths[c.id]
	if h == nil {
		h = &healthRecord{}
		s.healths[c.id] = h
	}
	if h.awaiting {
		overdue := time.Since(h.sentAt) > s.health.Timeout
		token := h.token
		s.mu.Unlock()
		if overdue {
			s.recordHealthFailure(c, token, "probe still outstanding past deadline")
		}
		return
	}
	token := uuid.NewString()
	h.awaiting = true
	h.token = token
	h.lastCheckAt = time.Now()
	h.sentAt = h.lastCheckAt
	h.timeout = time.AfterFunc(s.health.Timeout, func() {
		s.recordHealthFailure(c, token, "no response within timeout")
	})
	stdin := c.stdin
	s.mu.Unlock()

	if stdin == nil {
		s.recordHealthFailure(c, token, "stdin unavailable")
		return
	}
	if _, err := io.WriteString(stdin, healthProbeMarker+":"+token+"\n"); err != nil {
		s.recordHealthFailure(c, token, "probe write failed: "+err.Error())
	}
}

// recordHealthFailure accounts one failed probe identified by token. Stale
// invocations (response already accepted, child replaced or gone) are no-ops.
func (s *Supervisor) recordHealthFailure(c *child, token, reason string) {
	s.mu.Lock()
	h := s.healths[c.id]
	if s.children[c.id] != c || h == nil || !h.awaiting || h.token != token {
		s.mu.Unlock()
		return
	}
	h.awaiting = false
	h.token = ""
	if h.timeout != nil {
		h.timeout.Stop()
		h.timeout = nil
	}
	h.consecutiveFailures++
	failures := h.consecutiveFailures
	s.mu.Unlock()

	metrics.IncHealthCheckFailure(c.id)
	s.logger.Warn("health check failed", "id", c.id, "reason", reason, "failures", failures)

	if failures < s.health.MaxFailures {
		return
	}
	ctx := context.Background()
	rec, err := s.store.Get(ctx, c.id)
	if err != nil || rec.Status == store.StatusUnresponsive {
		return
	}
	s.mu.Lock()
	if s.children[c.id] == c {
		c.status = store.StatusUnresponsive
	}
	s.mu.Unlock()
	s.setStatusLogged(ctx, c.id, rec.Status, store.StatusUnresponsive, &c.pid)
	s.logger.Error("process marked unresponsive", "id", c.id, "failures", failures)
	s.publish(events.Event{ProcessID: c.id, Type: events.EventUnresponsive, Status: store.StatusUnresponsive, PID: c.pid})
}

// handleHealthResponse accepts a stdout line carrying the response marker.
// Only the currently outstanding token clears the probe; stale or duplicate
// responses are discarded silently, unparseable ones get a warning.
func (s *Supervisor) handleHealthResponse(c *child, line string) {
	idx := strings.Index(line, healthResponseMarker+":")
	if idx < 0 {
		s.logger.Warn("malformed health check response", "id", c.id, "line", line)
		return
	}
	token := strings.TrimSpace(line[idx+len(healthResponseMarker)+1:])
	if token == "" {
		s.logger.Warn("malformed health check response", "id", c.id, "line", line)
		return
	}

	s.mu.Lock()
	h := s.healths[c.id]
	if s.children[c.id] != c || h == nil || !h.awaiting || h.token != token {
		s.mu.Unlock()
		return
	}
	h.awaiting = false
	h.token = ""
	if h.timeout != nil {
		h.timeout.Stop()
		h.timeout = nil
	}
	h.consecutiveFailures = 0
	h.lastResponseAt = time.Now()
	s.mu.Unlock()

	ctx := context.Background()
	rec, err := s.store.Get(ctx, c.id)
	if err != nil || rec.Status != store.StatusUnresponsive {
		return
	}
	s.mu.Lock()
	if s.children[c.id] == c {
		c.status = store.StatusRunning
	}
	s.mu.Unlock()
	s.setStatusLogged(ctx, c.id, store.StatusUnresponsive, store.StatusRunning, &c.pid)
	s.logger.Info("process responsive again", "id", c.id)
	s.publish(events.Event{ProcessID: c.id, Type: events.EventRecovered, Status: store.StatusRunning, PID: c.pid})
}

// clearHealthLocked removes the health record for id and cancels its pending
// timeout. Caller holds mu.
func (s *Supervisor) clearHealthLocked(id string) {
	h := s.healths[id]
	if h == nil {
		return
	}
	if h.timeout != nil {
		h.timeout.Stop()
	}
	delete(s.healths, id)
}
