package logstore

import (
	"context"
	"sync"
	"time"
)

// Level classifies a captured output line.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelDebug Level = "debug"
)

// Entry is one captured line of managed-process output. Immutable once
// written. ID is assigned by the sink, monotonically increasing per process.
type Entry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
}

// Store is the per-process append log. Implementations bound the number of
// retained entries per process and drop the oldest first.
type Store interface {
	Append(ctx context.Context, processID string, e Entry) error
	// Read returns entries oldest first. limit <= 0 means all retained;
	// otherwise the most recent limit entries.
	Read(ctx context.Context, processID string, limit int) ([]Entry, error)
	Clear(ctx context.Context, processID string) error
	// Delete removes the process's log entirely (teardown on process delete).
	Delete(ctx context.Context, processID string) error
	Close() error
}

// DefaultMaxEntries bounds per-process retention when no limit is configured.
const DefaultMaxEntries = 1000

// Memory is an in-memory Store, used for tests and for embedders that do not
// need durable logs.
type Memory struct {
	mu   sync.Mutex
	max  int
	next map[string]int64
	logs map[string][]Entry
}

func NewMemory(maxEntries int) *Memory {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Memory{
		max:  maxEntries,
		next: make(map[string]int64),
		logs: make(map[string][]Entry),
	}
}

func (m *Memory) Append(_ context.Context, processID string, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next[processID]++
	e.ID = m.next[processID]
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	buf := append(m.logs[processID], e)
	if n := len(buf) - m.max; n > 0 {
		buf = buf[n:]
	}
	m.logs[processID] = buf
	return nil
}

func (m *Memory) Read(_ context.Context, processID string, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := m.logs[processID]
	if limit > 0 && len(buf) > limit {
		buf = buf[len(buf)-limit:]
	}
	out := make([]Entry, len(buf))
	copy(out, buf)
	return out, nil
}

func (m *Memory) Clear(_ context.Context, processID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.logs, processID)
	return nil
}

func (m *Memory) Delete(ctx context.Context, processID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.logs, processID)
	delete(m.next, processID)
	return nil
}

func (m *Memory) Close() error { return nil }
