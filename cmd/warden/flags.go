package main

import "time"

// Flag structs decouple cobra wiring from command logic so tests can drive
// the handlers directly.

// GlobalFlags holds persistent flags shared by every subcommand.
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
}

// CreateFlags holds flags for the create command.
type CreateFlags struct {
	ID        string
	EntryFile string
}

// ProcessFlags holds flags for commands addressing one process.
type ProcessFlags struct {
	ID string
}

// StatusFlags holds flags for the status command. An empty ID means all
// processes.
type StatusFlags struct {
	ID string
}

// LogsFlags holds flags for the logs command.
type LogsFlags struct {
	ID    string
	Limit int
	Clear bool
}

// ServeFlags holds flags for the serve command.
type ServeFlags struct {
	ConfigPath string
	Daemon     bool
	PidFile    string
	LogFile    string
}
