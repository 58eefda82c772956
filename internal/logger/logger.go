package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Rotation defaults for per-process output mirrors.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes warden's own structured logging.
type Config struct {
	Level  string `mapstructure:"level"`  // debug|info|warn|error (default info)
	Format string `mapstructure:"format"` // text|json (default text)
}

// NewSlogger builds the application logger: colored text on stdout by
// default, JSON when configured.
func (c Config) NewSlogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.Level)}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(NewColorTextHandler(os.Stdout, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Mirror describes rotating on-disk copies of managed-process output, kept in
// addition to the structured log sink. Empty Dir disables mirroring.
// Rotation parameters follow lumberjack semantics.
type Mirror struct {
	Dir        string `mapstructure:"dir"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Writers returns rotating stdout/stderr writers for the given process id at
// Dir/<id>.stdout.log and Dir/<id>.stderr.log. Both are nil when no Dir is
// configured.
func (m Mirror) Writers(id string) (io.WriteCloser, io.WriteCloser) {
	if m.Dir == "" {
		return nil, nil
	}
	return m.newWriter(fmt.Sprintf("%s.stdout.log", id)), m.newWriter(fmt.Sprintf("%s.stderr.log", id))
}

func (m Mirror) newWriter(name string) io.WriteCloser {
	return &lj.Logger{
		Filename:   filepath.Join(m.Dir, name),
		MaxSize:    valOr(m.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(m.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(m.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   m.Compress,
	}
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
