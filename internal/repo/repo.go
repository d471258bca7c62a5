package repo

import (
	"context"
	"database/sql"
	"time"

	"planline/internal/domain"
)

// Repo is the single-writer data access layer. All mutating methods open
// their own transaction; Tx variants exist for callers composing larger
// units of work (batch executor, action processor).
type Repo struct {
	DB  *sql.DB
	Now func() time.Time
}

func New(db *sql.DB) Repo {
	return Repo{DB: db, Now: time.Now}
}

func (r Repo) now() string {
	if r.Now != nil {
		return r.Now().UTC().Format(time.RFC3339Nano)
	}
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// begin opens a write transaction, surfacing lock contention as a typed
// storage failure instead of a raw driver error.
func (r Repo) begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, domain.WrapStorage("begin tx", err)
	}
	return tx, nil
}

// execer abstracts *sql.DB and *sql.Tx so read helpers can run inside or
// outside a transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func nullablePtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func scanNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
