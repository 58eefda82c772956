package factory

import (
	"context"
	"strings"

	"github.com/appfort/warden/internal/logstore"
	sq "github.com/appfort/warden/internal/logstore/sqlite"
)

// NewFromDSN selects a log sink implementation based on DSN.
// Supported:
//   - "" or "memory": in-memory ring (non-durable)
//   - sqlite: "sqlite:///<path>" or bare filepath
func NewFromDSN(dsn string, maxEntries int) (logstore.Store, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	if ld == "" || ld == "memory" {
		return logstore.NewMemory(maxEntries), nil
	}
	path := d
	if strings.HasPrefix(ld, "sqlite://") {
		path = strings.TrimPrefix(d, "sqlite://")
	}
	db, err := sq.New(path, maxEntries)
	if err != nil {
		return nil, err
	}
	if err := db.EnsureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
