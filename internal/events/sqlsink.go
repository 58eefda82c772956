package events

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// SQLSink appends lifecycle events to a relational table warden_events.
// It supports SQLite (modernc.org/sqlite) and Postgres (pgx stdlib) based on
// DSN. The schema is created if missing. This sink is independent of the
// metadata store; it only appends.

type SQLSink struct {
	db      *sql.DB
	dialect string // "sqlite" or "postgres"
}

func NewSQLSinkFromDSN(dsn string) (*SQLSink, error) {
	d := strings.TrimSpace(dsn)
	if d == "" {
		return nil, errors.New("empty DSN for SQL event sink")
	}
	ld := strings.ToLower(d)
	var drv, dialect, path string
	switch {
	case strings.HasPrefix(ld, "postgres://") || strings.HasPrefix(ld, "postgresql://"):
		drv, dialect, path = "pgx", "postgres", d
	case strings.HasPrefix(ld, "sqlite://"):
		drv, dialect, path = "sqlite", "sqlite", strings.TrimPrefix(d, "sqlite://")
	default:
		drv, dialect, path = "sqlite", "sqlite", d
	}
	db, err := sql.Open(drv, path)
	if err != nil {
		return nil, err
	}
	s := &SQLSink{db: db, dialect: dialect}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLSink) ensureSchema(ctx context.Context) error {
	var stmts []string
	if s.dialect == "sqlite" {
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS warden_events(
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				occurred_at TIMESTAMP NOT NULL,
				event TEXT NOT NULL,
				process_id TEXT NOT NULL,
				status TEXT NOT NULL,
				pid INTEGER NOT NULL,
				exit_code INTEGER NULL,
				detail TEXT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_warden_events_process ON warden_events(process_id);`,
		}
	} else {
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS warden_events(
				id BIGSERIAL PRIMARY KEY,
				occurred_at TIMESTAMPTZ NOT NULL,
				event TEXT NOT NULL,
				process_id TEXT NOT NULL,
				status TEXT NOT NULL,
				pid INTEGER NOT NULL,
				exit_code INTEGER NULL,
				detail TEXT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_warden_events_process ON warden_events(process_id);`,
		}
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLSink) Send(ctx context.Context, e Event) error {
	var exitCode any
	if e.ExitCode != nil {
		exitCode = *e.ExitCode
	}
	var err error
	if s.dialect == "sqlite" {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO warden_events(occurred_at, event, process_id, status, pid, exit_code, detail)
			VALUES(?, ?, ?, ?, ?, ?, ?);`,
			e.OccurredAt.UTC(), string(e.Type), e.ProcessID, string(e.Status), e.PID, exitCode, e.Detail)
	} else {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO warden_events(occurred_at, event, process_id, status, pid, exit_code, detail)
			VALUES($1, $2, $3, $4, $5, $6, $7);`,
			e.OccurredAt.UTC(), string(e.Type), e.ProcessID, string(e.Status), e.PID, exitCode, e.Detail)
	}
	return err
}

func (s *SQLSink) Close() error { return s.db.Close() }
