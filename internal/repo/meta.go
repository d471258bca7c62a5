package repo

import (
	"context"
	"database/sql"
)

// Meta keys tracking the last successful mutation per record family.
const (
	MetaProjectsLastUpdated = "projects.lastUpdated"
	MetaRunsLastUpdated     = "agent_runs.lastUpdated"
	MetaEventsLastUpdated   = "agent_events.lastUpdated"
	MetaProfilesLastUpdated = "agent_profiles.lastUpdated"
	MetaUsageLastUpdated    = "token_usage.lastUpdated"
)

func setMeta(ctx context.Context, q execer, key, value string) error {
	_, err := q.ExecContext(ctx, `INSERT INTO meta(key,value) VALUES (?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	return err
}

func getMeta(ctx context.Context, q execer, key string) (string, error) {
	var v string
	err := q.QueryRowContext(ctx, `SELECT value FROM meta WHERE key=?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return v, err
}

// touch records that a family was mutated at ts.
func (r Repo) touch(ctx context.Context, q execer, key, ts string) error {
	return setMeta(ctx, q, key, ts)
}

// LastUpdated returns the recorded mutation timestamp for a family, empty
// when the family has never been written.
func (r Repo) LastUpdated(ctx context.Context, key string) (string, error) {
	return getMeta(ctx, r.DB, key)
}

// SetMeta stores an arbitrary key in the meta table.
func (r Repo) SetMeta(ctx context.Context, key, value string) error {
	return setMeta(ctx, r.DB, key, value)
}

// GetMeta reads an arbitrary key from the meta table ("" when absent).
func (r Repo) GetMeta(ctx context.Context, key string) (string, error) {
	return getMeta(ctx, r.DB, key)
}
