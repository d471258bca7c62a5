package migrate

import (
	"database/sql"
	"strings"
	"testing"

	"planline/internal/db"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestMigrateFresh(t *testing.T) {
	conn := openTestDB(t)

	if err := Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	v, err := Version(conn)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if v != Latest() {
		t.Fatalf("version = %d, want %d", v, Latest())
	}
	// Re-running against an up-to-date database is a no-op.
	if err := Migrate(conn); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	for _, table := range []string{"meta", "projects", "agent_runs", "agent_events", "agent_profiles", "agent_capabilities", "token_usage_records"} {
		var n int
		if err := conn.QueryRow(`SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n); err != nil {
			t.Fatalf("sqlite_master: %v", err)
		}
		if n != 1 {
			t.Fatalf("table %s missing", table)
		}
	}
}

func TestMigrateRefusesNewerSchema(t *testing.T) {
	conn := openTestDB(t)
	if err := Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := conn.Exec(`PRAGMA user_version = 99`); err != nil {
		t.Fatalf("set version: %v", err)
	}
	err := Migrate(conn)
	if err == nil || !strings.Contains(err.Error(), "newer than this build") {
		t.Fatalf("err = %v, want refusal", err)
	}
}

func TestMigrateV2Backfill(t *testing.T) {
	conn := openTestDB(t)
	if err := applyOne(conn, migrations[0]); err != nil {
		t.Fatalf("apply v1: %v", err)
	}

	rows := []struct {
		id      string
		payload string
	}{
		{"proj-flat", `{"budget": 120.5, "cost": {"total": 30}}`},
		{"proj-nested", `{"budget": {"planned": 80}, "cost": {"total": -5}}`},
		{"proj-amount", `{"budget": {"amount": 40}}`},
		{"proj-bad", `not json at all`},
	}
	for _, r := range rows {
		if _, err := conn.Exec(`INSERT INTO projects (id, created_at, updated_at, payload_json) VALUES (?,?,?,?)`,
			r.id, "2024-01-01T00:00:00Z", "2024-01-01T00:00:00Z", r.payload); err != nil {
			t.Fatalf("seed %s: %v", r.id, err)
		}
	}

	if err := Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	want := map[string][2]float64{
		"proj-flat":   {120.5, 30},
		"proj-nested": {80, 0}, // negative cost clamps
		"proj-amount": {40, 0},
		"proj-bad":    {0, 0}, // unreadable payload keeps defaults
	}
	for id, exp := range want {
		var budget, actual float64
		if err := conn.QueryRow(`SELECT budget, actual_cost FROM projects WHERE id=?`, id).Scan(&budget, &actual); err != nil {
			t.Fatalf("read %s: %v", id, err)
		}
		if budget != exp[0] || actual != exp[1] {
			t.Fatalf("%s: budget=%v actual=%v, want %v", id, budget, actual, exp)
		}
	}
}

func TestNumberAtPrecedence(t *testing.T) {
	doc := map[string]any{
		"budget": map[string]any{"total": float64(10), "planned": float64(7)},
	}
	if got := numberAt(doc, "budget", "planned", "total"); got != 7 {
		t.Fatalf("numberAt = %v, want planned to win", got)
	}
	if got := numberAt(doc, "missing", "planned"); got != 0 {
		t.Fatalf("numberAt(missing) = %v", got)
	}
	if got := numberAt(map[string]any{"budget": float64(-3)}, "budget"); got != 0 {
		t.Fatalf("negative not clamped: %v", got)
	}
}
