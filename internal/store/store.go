package store

import (
	"context"
	"errors"
	"time"
)

// Status is the persisted lifecycle state of a managed process. The store
// holds the single authoritative copy; the supervisor is the only writer.
type Status string

const (
	StatusStopped      Status = "stopped"
	StatusStarting     Status = "starting"
	StatusRunning      Status = "running"
	StatusError        Status = "error"
	StatusUnresponsive Status = "unresponsive"
)

func (s Status) Valid() bool {
	switch s {
	case StatusStopped, StatusStarting, StatusRunning, StatusError, StatusUnresponsive:
		return true
	}
	return false
}

// ErrNotFound is returned by Get/UpdateStatus/Delete for an unknown process id.
var ErrNotFound = errors.New("process not found")

// ErrAlreadyExists is returned by Create when the id is taken.
var ErrAlreadyExists = errors.New("process already exists")

// Record is what we persist per managed process. ID is unique. EntryFile and
// Directory are resolved at creation and immutable afterward. PID is the
// native process identifier, present only while the process is believed
// running. LastActivity is bumped on every status transition, in UTC.
type Record struct {
	ID           string    `json:"id"`
	EntryFile    string    `json:"entry_file"`
	Directory    string    `json:"directory"`
	Status       Status    `json:"status"`
	PID          *int      `json:"pid,omitempty"`
	LastActivity time.Time `json:"last_activity"`
}

// Store persists managed-process records.
type Store interface {
	EnsureSchema(ctx context.Context) error
	Create(ctx context.Context, rec Record) error
	Get(ctx context.Context, id string) (Record, error)
	List(ctx context.Context) ([]Record, error)
	UpdateStatus(ctx context.Context, id string, status Status, pid *int) error
	Delete(ctx context.Context, id string) error
	Close() error
}
