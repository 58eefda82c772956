package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/appfort/warden/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// DSN is a filesystem path to the SQLite database file. Use ":memory:" for in-memory.

type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS managed_process(
			id TEXT PRIMARY KEY,
			entry_file TEXT NOT NULL,
			directory TEXT NOT NULL,
			status TEXT NOT NULL,
			pid INTEGER NULL,
			last_activity TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_managed_process_status ON managed_process(status);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) Create(ctx context.Context, rec store.Record) error {
	if rec.LastActivity.IsZero() {
		rec.LastActivity = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO managed_process(id, entry_file, directory, status, pid, last_activity)
		VALUES(?, ?, ?, ?, ?, ?);`,
		rec.ID, rec.EntryFile, rec.Directory, string(rec.Status), nullPID(rec.PID), rec.LastActivity.UTC())
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint") {
		return store.ErrAlreadyExists
	}
	return err
}

func (s *DB) Get(ctx context.Context, id string) (store.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, entry_file, directory, status, pid, last_activity
		FROM managed_process WHERE id=?;`, id)
	return scanRecord(row)
}

func (s *DB) List(ctx context.Context) ([]store.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entry_file, directory, status, pid, last_activity
		FROM managed_process ORDER BY id;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]store.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *DB) UpdateStatus(ctx context.Context, id string, status store.Status, pid *int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE managed_process SET status=?, pid=?, last_activity=? WHERE id=?;`,
		string(status), nullPID(pid), time.Now().UTC(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *DB) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM managed_process WHERE id=?;`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullPID(pid *int) any {
	if pid == nil {
		return nil
	}
	return *pid
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (store.Record, error) {
	var rec store.Record
	var status string
	var pid sql.NullInt64
	err := row.Scan(&rec.ID, &rec.EntryFile, &rec.Directory, &status, &pid, &rec.LastActivity)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, store.ErrNotFound
	}
	if err != nil {
		return store.Record{}, err
	}
	rec.Status = store.Status(status)
	if pid.Valid {
		v := int(pid.Int64)
		rec.PID = &v
	}
	return rec, nil
}
