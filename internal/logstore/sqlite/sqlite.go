package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/appfort/warden/internal/logstore"
)

// DB implements logstore.Store on SQLite. Retention is bounded per process:
// after each append, entries beyond maxEntries are trimmed oldest first.

type DB struct {
	db  *sql.DB
	max int
}

func New(path string, maxEntries int) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	if maxEntries <= 0 {
		maxEntries = logstore.DefaultMaxEntries
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d, max: maxEntries}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS process_log(
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			process_id TEXT NOT NULL,
			ts TIMESTAMP NOT NULL,
			level TEXT NOT NULL,
			message TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_process_log_process ON process_log(process_id, seq);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) Append(ctx context.Context, processID string, e logstore.Entry) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO process_log(process_id, ts, level, message) VALUES(?, ?, ?, ?);`,
		processID, ts.UTC(), string(e.Level), e.Message)
	if err != nil {
		return err
	}
	// keep only the newest max entries for this process
	_, err = s.db.ExecContext(ctx, `
		DELETE FROM process_log
		WHERE process_id=? AND seq NOT IN (
			SELECT seq FROM process_log WHERE process_id=? ORDER BY seq DESC LIMIT ?
		);`, processID, processID, s.max)
	return err
}

func (s *DB) Read(ctx context.Context, processID string, limit int) ([]logstore.Entry, error) {
	q := `SELECT seq, ts, level, message FROM process_log WHERE process_id=? ORDER BY seq ASC;`
	args := []any{processID}
	if limit > 0 {
		q = `SELECT seq, ts, level, message FROM (
			SELECT seq, ts, level, message FROM process_log WHERE process_id=? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC;`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]logstore.Entry, 0)
	for rows.Next() {
		var e logstore.Entry
		var level string
		if err := rows.Scan(&e.ID, &e.Timestamp, &level, &e.Message); err != nil {
			return nil, err
		}
		e.Level = logstore.Level(level)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *DB) Clear(ctx context.Context, processID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM process_log WHERE process_id=?;`, processID)
	return err
}

func (s *DB) Delete(ctx context.Context, processID string) error {
	return s.Clear(ctx, processID)
}
