package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"planline/internal/domain"
)

type EventFilter struct {
	ProjectID string
	RunID     string
	AgentID   string
	Type      string
	SinceTS   string
	Limit     int
}

const eventCols = `id, ts, type, level, project_id, run_id, agent_id, payload_json`

func rowToEvent(scan func(dest ...any) error) (domain.AgentEvent, error) {
	var (
		ev        domain.AgentEvent
		payload   string
		projectID sql.NullString
		runID     sql.NullString
		agentID   sql.NullString
	)
	var id, ts, typ, level string
	if err := scan(&id, &ts, &typ, &level, &projectID, &runID, &agentID, &payload); err != nil {
		return ev, err
	}
	_ = json.Unmarshal([]byte(payload), &ev)
	ev.ID = id
	ev.TS = ts
	ev.Type = typ
	ev.Level = level
	ev.ProjectID = scanNullString(projectID)
	ev.RunID = scanNullString(runID)
	ev.AgentID = scanNullString(agentID)
	domain.NormalizeEvent(&ev)
	return ev, nil
}

// AppendEvent writes to the ledger if and only if the id is new. A replay
// of an already-recorded id is reported as inserted=false and changes
// nothing; the ledger is append-only in every other respect too.
func (r Repo) AppendEvent(ctx context.Context, ev domain.AgentEvent) (domain.AgentEvent, bool, error) {
	tx, err := r.begin(ctx)
	if err != nil {
		return domain.AgentEvent{}, false, err
	}
	defer tx.Rollback()
	ev, inserted, err := r.appendEventTx(ctx, tx, ev)
	if err != nil {
		return domain.AgentEvent{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AgentEvent{}, false, err
	}
	return ev, inserted, nil
}

// AppendEventTx is AppendEvent inside a caller-owned transaction (the
// action processor writes its ledger entry atomically with the mutation).
func (r Repo) AppendEventTx(ctx context.Context, tx *sql.Tx, ev domain.AgentEvent) (domain.AgentEvent, bool, error) {
	return r.appendEventTx(ctx, tx, ev)
}

func (r Repo) appendEventTx(ctx context.Context, q execer, ev domain.AgentEvent) (domain.AgentEvent, bool, error) {
	if strings.TrimSpace(ev.ID) == "" {
		ev.ID = domain.NewID("evt")
	}
	if ev.TS == "" {
		ev.TS = r.now()
	}
	domain.NormalizeEvent(&ev)
	payload, err := json.Marshal(ev)
	if err != nil {
		return ev, false, err
	}
	res, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO agent_events
(id, ts, type, level, project_id, run_id, agent_id, payload_json)
VALUES (?,?,?,?,?,?,?,?)`,
		ev.ID, ev.TS, ev.Type, ev.Level,
		nullablePtr(ev.ProjectID), nullablePtr(ev.RunID), nullablePtr(ev.AgentID), string(payload))
	if err != nil {
		return ev, false, err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		stored, err := getEventTx(ctx, q, ev.ID)
		if err != nil {
			return ev, false, err
		}
		return stored, false, nil
	}
	if err := r.touch(ctx, q, MetaEventsLastUpdated, ev.TS); err != nil {
		return ev, false, err
	}
	return ev, true, nil
}

// GetEventTx looks up one ledger entry inside a caller-owned transaction
// (the action processor's replay check needs the stored entry, not just
// its existence).
func (r Repo) GetEventTx(ctx context.Context, tx *sql.Tx, id string) (domain.AgentEvent, error) {
	return getEventTx(ctx, tx, id)
}

func getEventTx(ctx context.Context, q execer, id string) (domain.AgentEvent, error) {
	row := q.QueryRowContext(ctx, `SELECT `+eventCols+` FROM agent_events WHERE id=?`, id)
	ev, err := rowToEvent(row.Scan)
	if err == sql.ErrNoRows {
		return ev, &domain.NotFoundError{Kind: "event", ID: id}
	}
	return ev, err
}

// HasEvent reports whether the ledger already holds the id.
func (r Repo) HasEvent(ctx context.Context, id string) (bool, error) {
	return hasEventTx(ctx, r.DB, id)
}

// HasEventTx is HasEvent inside a caller-owned transaction.
func (r Repo) HasEventTx(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	return hasEventTx(ctx, tx, id)
}

func hasEventTx(ctx context.Context, q execer, id string) (bool, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(1) FROM agent_events WHERE id=?`, id).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListEvents selects the newest matching entries, then returns them in
// chronological order so callers can replay them forward.
func (r Repo) ListEvents(ctx context.Context, f EventFilter) ([]domain.AgentEvent, error) {
	var (
		clauses []string
		args    []any
	)
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.RunID != "" {
		clauses = append(clauses, "run_id=?")
		args = append(args, f.RunID)
	}
	if f.AgentID != "" {
		clauses = append(clauses, "agent_id=?")
		args = append(args, f.AgentID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.SinceTS != "" {
		clauses = append(clauses, "ts>=?")
		args = append(args, f.SinceTS)
	}
	query := `SELECT ` + eventCols + ` FROM agent_events`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY ts DESC, id DESC LIMIT ?"
	args = append(args, clampLimit(f.Limit, 200, 2000))
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AgentEvent
	for rows.Next() {
		ev, err := rowToEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(res)-1; i < j; i, j = i+1, j-1 {
		res[i], res[j] = res[j], res[i]
	}
	if res == nil {
		res = []domain.AgentEvent{}
	}
	return res, nil
}
