package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"planline/internal/domain"
)

type RunFilter struct {
	ProjectID string
	AgentID   string
	Status    string
	Limit     int
	Offset    int
}

const runCols = `id, project_id, agent_id, status, started_at, finished_at, created_at, updated_at, payload_json`

func rowToRun(scan func(dest ...any) error) (domain.AgentRun, error) {
	var (
		run       domain.AgentRun
		payload   string
		projectID sql.NullString
		agentID   sql.NullString
		finished  sql.NullString
	)
	var id, status, startedAt, createdAt, updatedAt string
	if err := scan(&id, &projectID, &agentID, &status, &startedAt, &finished, &createdAt, &updatedAt, &payload); err != nil {
		return run, err
	}
	_ = json.Unmarshal([]byte(payload), &run)
	run.ID = id
	run.ProjectID = scanNullString(projectID)
	run.AgentID = scanNullString(agentID)
	run.Status = status
	run.StartedAt = startedAt
	run.FinishedAt = scanNullString(finished)
	run.CreatedAt = createdAt
	run.UpdatedAt = updatedAt
	domain.NormalizeRun(&run, updatedAt)
	return run, nil
}

func getRunTx(ctx context.Context, q execer, id string) (domain.AgentRun, error) {
	row := q.QueryRowContext(ctx, `SELECT `+runCols+` FROM agent_runs WHERE id=?`, id)
	run, err := rowToRun(row.Scan)
	if err == sql.ErrNoRows {
		return run, &domain.NotFoundError{Kind: "run", ID: id}
	}
	return run, err
}

func writeRunTx(ctx context.Context, q execer, run domain.AgentRun, insert bool) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return err
	}
	if insert {
		_, err = q.ExecContext(ctx, `INSERT INTO agent_runs
(id, project_id, agent_id, status, started_at, finished_at, created_at, updated_at, payload_json)
VALUES (?,?,?,?,?,?,?,?,?)`,
			run.ID, nullablePtr(run.ProjectID), nullablePtr(run.AgentID), run.Status,
			run.StartedAt, nullablePtr(run.FinishedAt), run.CreatedAt, run.UpdatedAt, string(payload))
		return err
	}
	_, err = q.ExecContext(ctx, `UPDATE agent_runs SET
project_id=?, agent_id=?, status=?, started_at=?, finished_at=?, updated_at=?, payload_json=?
WHERE id=?`,
		nullablePtr(run.ProjectID), nullablePtr(run.AgentID), run.Status,
		run.StartedAt, nullablePtr(run.FinishedAt), run.UpdatedAt, string(payload), run.ID)
	return err
}

func (r Repo) GetRun(ctx context.Context, id string) (domain.AgentRun, error) {
	return getRunTx(ctx, r.DB, id)
}

func (r Repo) ListRuns(ctx context.Context, f RunFilter) ([]domain.AgentRun, int, error) {
	var (
		clauses []string
		args    []any
	)
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.AgentID != "" {
		clauses = append(clauses, "agent_id=?")
		args = append(args, f.AgentID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(1) FROM agent_runs`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit := clampLimit(f.Limit, 50, 500)
	query := `SELECT ` + runCols + ` FROM agent_runs` + where + ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := r.DB.QueryContext(ctx, query, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	res := []domain.AgentRun{}
	for rows.Next() {
		run, err := rowToRun(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		res = append(res, run)
	}
	return res, total, rows.Err()
}

// CreateRun is idempotent on id: when the id already exists the stored run
// comes back untouched. This is deliberately different from the event
// ledger's insert-if-absent signal; run creators expect the record, not a
// flag.
func (r Repo) CreateRun(ctx context.Context, run domain.AgentRun) (domain.AgentRun, bool, error) {
	tx, err := r.begin(ctx)
	if err != nil {
		return domain.AgentRun{}, false, err
	}
	defer tx.Rollback()
	if strings.TrimSpace(run.ID) != "" {
		existing, err := getRunTx(ctx, tx, run.ID)
		if err == nil {
			return existing, false, tx.Commit()
		}
		if !domain.IsNotFound(err) {
			return domain.AgentRun{}, false, err
		}
	}
	now := r.now()
	run.CreatedAt = ""
	run.UpdatedAt = ""
	domain.NormalizeRun(&run, now)
	if err := writeRunTx(ctx, tx, run, true); err != nil {
		return domain.AgentRun{}, false, err
	}
	if err := r.touch(ctx, tx, MetaRunsLastUpdated, now); err != nil {
		return domain.AgentRun{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AgentRun{}, false, err
	}
	return run, true, nil
}

// PatchRun merges a loosely-typed patch. Agent clients send whatever their
// tooling produced, so structurally wrong values for the collection fields
// are dropped rather than failing the whole patch. id and createdAt are
// never writable.
func (r Repo) PatchRun(ctx context.Context, id string, patch map[string]any) (domain.AgentRun, error) {
	tx, err := r.begin(ctx)
	if err != nil {
		return domain.AgentRun{}, err
	}
	defer tx.Rollback()
	run, err := getRunTx(ctx, tx, id)
	if err != nil {
		return domain.AgentRun{}, err
	}
	applyRunPatch(&run, patch)
	now := r.now()
	domain.NormalizeRun(&run, now)
	run.UpdatedAt = now
	if err := writeRunTx(ctx, tx, run, false); err != nil {
		return domain.AgentRun{}, err
	}
	if err := r.touch(ctx, tx, MetaRunsLastUpdated, now); err != nil {
		return domain.AgentRun{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AgentRun{}, err
	}
	return run, nil
}

func applyRunPatch(run *domain.AgentRun, patch map[string]any) {
	for key, val := range patch {
		switch key {
		case "id", "createdAt", "updatedAt":
			// protected
		case "projectId":
			if s, ok := optString(val); ok {
				run.ProjectID = s
			}
		case "agentId":
			if s, ok := optString(val); ok {
				run.AgentID = s
			}
		case "title":
			if s, ok := optString(val); ok {
				run.Title = s
			}
		case "summary":
			if s, ok := optString(val); ok {
				run.Summary = s
			}
		case "finishedAt":
			if s, ok := optString(val); ok {
				run.FinishedAt = s
			}
		case "status":
			if s, ok := val.(string); ok && domain.ValidRunStatus(s) {
				run.Status = s
			}
		case "startedAt":
			if s, ok := val.(string); ok && s != "" {
				run.StartedAt = s
			}
		case "links":
			if list, ok := stringList(val); ok {
				run.Links = list
			}
		case "tags":
			if list, ok := stringList(val); ok {
				run.Tags = list
			}
		case "metrics":
			if m, ok := val.(map[string]any); ok {
				run.Metrics = m
			}
		case "meta":
			if m, ok := val.(map[string]any); ok {
				run.Meta = m
			}
		}
	}
}

func optString(v any) (*string, bool) {
	if v == nil {
		return nil, true
	}
	if s, ok := v.(string); ok {
		return &s, true
	}
	return nil, false
}

func stringList(v any) ([]string, bool) {
	raw, ok := v.([]any)
	if !ok {
		if typed, ok := v.([]string); ok {
			return typed, true
		}
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

func clampLimit(v, def, max int) int {
	if v <= 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}
