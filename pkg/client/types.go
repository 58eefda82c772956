package client

import "time"

// Process mirrors the daemon's process record.
type Process struct {
	ID           string    `json:"id"`
	EntryFile    string    `json:"entry_file"`
	Directory    string    `json:"directory"`
	Status       string    `json:"status"`
	PID          *int      `json:"pid,omitempty"`
	LastActivity time.Time `json:"last_activity"`
}

// LogEntry is one captured line of process output.
type LogEntry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// Summary is the daemon-wide status overview.
type Summary struct {
	Total    int            `json:"total"`
	Live     int            `json:"live"`
	Statuses map[string]int `json:"statuses"`
}

// ActionResult reports the outcome of a start or stop call. Changed is false
// when the call was a no-op (already running, already stopped).
type ActionResult struct {
	OK      bool `json:"ok"`
	Changed bool `json:"changed"`
}

// ErrorResponse is the daemon's error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CreateRequest registers a new managed process.
type CreateRequest struct {
	ID        string `json:"id"`
	EntryFile string `json:"entry_file"`
}
