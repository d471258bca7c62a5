package migrate

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// A Migration bumps the schema by exactly one version. Migrations are Go
// functions rather than SQL files because some of them backfill columns
// from values computed out of each row's payload JSON.
type Migration struct {
	Version int
	Name    string
	Up      func(tx *sql.Tx) error
}

var migrations = []Migration{
	{Version: 1, Name: "base schema", Up: migrateV1},
	{Version: 2, Name: "project budget columns", Up: migrateV2},
	{Version: 3, Name: "agent profiles and token usage", Up: migrateV3},
}

// Version reports the schema version currently persisted in the database.
func Version(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow(`PRAGMA user_version`).Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

// Latest is the highest schema version this build knows about.
func Latest() int {
	return migrations[len(migrations)-1].Version
}

// Migrate applies pending migrations in order, one transaction per
// migration. A database written by a newer build is refused rather than
// guessed at.
func Migrate(db *sql.DB) error {
	current, err := Version(db)
	if err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	if current > Latest() {
		return fmt.Errorf("database schema version %d is newer than this build supports (%d); refusing to open", current, Latest())
	}
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := applyOne(db, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
		current = m.Version
	}
	return nil
}

func applyOne(db *sql.DB, m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := m.Up(tx); err != nil {
		return err
	}
	// PRAGMA does not accept bound parameters.
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
		return err
	}
	return tx.Commit()
}

func migrateV1(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			sort_order INTEGER NOT NULL DEFAULT 0,
			name TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'planning',
			priority TEXT NOT NULL DEFAULT 'medium',
			category TEXT NOT NULL DEFAULT '',
			progress INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			payload_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_projects_sort ON projects(sort_order, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_projects_status ON projects(status)`,
		`CREATE INDEX IF NOT EXISTS idx_projects_category ON projects(category)`,
		`CREATE TABLE IF NOT EXISTS agent_runs (
			id TEXT PRIMARY KEY,
			project_id TEXT REFERENCES projects(id) ON DELETE SET NULL,
			agent_id TEXT,
			status TEXT NOT NULL DEFAULT 'running',
			started_at TEXT NOT NULL,
			finished_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			payload_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_project ON agent_runs(project_id)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_agent ON agent_runs(agent_id)`,
		`CREATE TABLE IF NOT EXISTS agent_events (
			id TEXT PRIMARY KEY,
			ts TEXT NOT NULL,
			type TEXT NOT NULL,
			level TEXT NOT NULL DEFAULT 'info',
			project_id TEXT,
			run_id TEXT,
			agent_id TEXT,
			payload_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_ts ON agent_events(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_events_project ON agent_events(project_id, ts)`,
		`CREATE INDEX IF NOT EXISTS idx_events_run ON agent_events(run_id, ts)`,
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// migrateV2 adds indexed budget columns and backfills them from the payload
// each row already carries. Older payloads used a few different shapes for
// budget, so the lookup walks them in precedence order.
func migrateV2(tx *sql.Tx) error {
	if _, err := tx.Exec(`ALTER TABLE projects ADD COLUMN budget REAL NOT NULL DEFAULT 0`); err != nil {
		return err
	}
	if _, err := tx.Exec(`ALTER TABLE projects ADD COLUMN actual_cost REAL NOT NULL DEFAULT 0`); err != nil {
		return err
	}
	rows, err := tx.Query(`SELECT id, payload_json FROM projects`)
	if err != nil {
		return err
	}
	type fill struct {
		id         string
		budget     float64
		actualCost float64
	}
	var fills []fill
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			rows.Close()
			return err
		}
		var doc map[string]any
		if err := json.Unmarshal([]byte(payload), &doc); err != nil {
			continue // unreadable payload keeps the zero defaults
		}
		fills = append(fills, fill{
			id:         id,
			budget:     numberAt(doc, "budget", "planned", "total", "amount"),
			actualCost: numberAt(doc, "cost", "total"),
		})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()
	for _, f := range fills {
		if _, err := tx.Exec(`UPDATE projects SET budget = ?, actual_cost = ? WHERE id = ?`, f.budget, f.actualCost, f.id); err != nil {
			return err
		}
	}
	return nil
}

// numberAt reads doc[key] as a number, or as an object trying each of the
// given subkeys in order. Negative values clamp to zero.
func numberAt(doc map[string]any, key string, subkeys ...string) float64 {
	v, ok := doc[key]
	if !ok || v == nil {
		return 0
	}
	if n, ok := asNumber(v); ok {
		return clampZero(n)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return 0
	}
	for _, sk := range subkeys {
		if n, ok := asNumber(obj[sk]); ok {
			return clampZero(n)
		}
	}
	return 0
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func clampZero(f float64) float64 {
	if f < 0 {
		return 0
	}
	return f
}

func migrateV3(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS agent_profiles (
			agent_id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			payload_json TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS agent_capabilities (
			agent_id TEXT NOT NULL REFERENCES agent_profiles(agent_id) ON DELETE CASCADE,
			capability TEXT NOT NULL,
			PRIMARY KEY (agent_id, capability)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_capabilities_cap ON agent_capabilities(capability)`,
		`CREATE TABLE IF NOT EXISTS token_usage_records (
			id TEXT PRIMARY KEY,
			ts TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			run_id TEXT,
			project_id TEXT,
			model TEXT NOT NULL DEFAULT '',
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			cost_usd REAL NOT NULL DEFAULT 0,
			payload_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_agent ON token_usage_records(agent_id, ts)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_ts ON token_usage_records(ts)`,
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return err
		}
	}
	return nil
}
