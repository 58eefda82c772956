package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/appfort/warden/internal/store"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventCreated          EventType = "created"
	EventStarting         EventType = "starting"
	EventRunning          EventType = "running"
	EventStopped          EventType = "stopped"
	EventCrashed          EventType = "crashed"
	EventUnresponsive     EventType = "unresponsive"
	EventRecovered        EventType = "recovered"
	EventRestartScheduled EventType = "restart_scheduled"
	EventRestartExhausted EventType = "restart_exhausted"
	EventDeleted          EventType = "deleted"
	EventBootReset        EventType = "boot_reset"
)

// Event is one supervisor lifecycle occurrence, exported to sinks and
// in-process subscribers.
type Event struct {
	ProcessID  string       `json:"process_id"`
	Type       EventType    `json:"type"`
	Status     store.Status `json:"status,omitempty"`
	PID        int          `json:"pid,omitempty"`
	ExitCode   *int         `json:"exit_code,omitempty"`
	Detail     string       `json:"detail,omitempty"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// Sink is an export destination for lifecycle events (analytics, audit).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}

const sinkSendTimeout = 5 * time.Second

// Bus fans events out to sinks and to in-process subscribers. Sink failures
// are logged and never propagate to the publisher; slow subscribers drop
// events rather than block the supervisor.
type Bus struct {
	mu     sync.Mutex
	sinks  []Sink
	subs   map[int]chan Event
	nextID int
	logger *slog.Logger
	wg     sync.WaitGroup
	closed bool
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{subs: make(map[int]chan Event), logger: logger}
}

// AddSink registers an export destination. Call during wiring, before the
// supervisor starts publishing.
func (b *Bus) AddSink(s Sink) {
	if s == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Subscribe returns a channel of future events and a cancel function. buffer
// <= 0 gets a small default. Events published while the channel is full are
// dropped for that subscriber.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()
	cancel := func() {
		b.mu.Lock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish stamps and delivers an event. Subscriber delivery is non-blocking;
// sink delivery happens on a background goroutine with a per-sink timeout.
func (b *Bus) Publish(e Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
	sinks := make([]Sink, len(b.sinks))
	copy(sinks, b.sinks)
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		for _, s := range sinks {
			ctx, cancel := context.WithTimeout(context.Background(), sinkSendTimeout)
			if err := s.Send(ctx, e); err != nil {
				b.logger.Error("event sink send failed", "type", string(e.Type), "process", e.ProcessID, "error", err)
			}
			cancel()
		}
	}()
}

// Close waits for in-flight sink sends, then closes sinks and subscriber
// channels. Publish after Close is a no-op.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	sinks := b.sinks
	b.sinks = nil
	subs := b.subs
	b.subs = make(map[int]chan Event)
	b.mu.Unlock()

	b.wg.Wait()
	var firstErr error
	for _, s := range sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, ch := range subs {
		close(ch)
	}
	return firstErr
}
