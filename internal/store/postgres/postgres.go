package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/appfort/warden/internal/store"
)

// DB implements store.Store for PostgreSQL via the pgx stdlib driver.

type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS managed_process(
			id TEXT PRIMARY KEY,
			entry_file TEXT NOT NULL,
			directory TEXT NOT NULL,
			status TEXT NOT NULL,
			pid INTEGER NULL,
			last_activity TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_managed_process_status ON managed_process(status);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) Create(ctx context.Context, rec store.Record) error {
	if rec.LastActivity.IsZero() {
		rec.LastActivity = time.Now().UTC()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO managed_process(id, entry_file, directory, status, pid, last_activity)
		VALUES($1, $2, $3, $4, $5, $6);`,
		rec.ID, rec.EntryFile, rec.Directory, string(rec.Status), nullPID(rec.PID), rec.LastActivity.UTC())
	if err != nil && strings.Contains(err.Error(), "duplicate key") {
		return store.ErrAlreadyExists
	}
	return err
}

func (p *DB) Get(ctx context.Context, id string) (store.Record, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, entry_file, directory, status, pid, last_activity
		FROM managed_process WHERE id=$1;`, id)
	return scanRecord(row)
}

func (p *DB) List(ctx context.Context) ([]store.Record, error) {
	rows, err := p.db.QueryContext(ctx, `
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

func (p *DB) UpdateStatus(ctx context.Context, id string, status store.Status, pid *int) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE managed_process SET status=$1, pid=$2, last_activity=$3 WHERE id=$4;`,
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

func (p *DB) Delete(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM managed_process WHERE id=$1;`, id)
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
