package repo

import (
	"context"
	"encoding/json"
	"strings"

	"planline/internal/domain"
)

type UsageFilter struct {
	AgentID   string
	ProjectID string
	RunID     string
	Model     string
	SinceTS   string
	UntilTS   string
}

// UsageAggregate is one (agentId, model) bucket of the usage report.
type UsageAggregate struct {
	AgentID      string  `json:"agentId"`
	Model        string  `json:"model"`
	Records      int     `json:"records"`
	InputTokens  int64   `json:"inputTokens"`
	OutputTokens int64   `json:"outputTokens"`
	CostUSD      float64 `json:"costUSD"`
}

// IngestUsage stores a usage record if its id is new; a replayed id is a
// no-op reported as inserted=false, so collectors can resend batches
// safely.
func (r Repo) IngestUsage(ctx context.Context, rec domain.TokenUsageRecord) (domain.TokenUsageRecord, bool, error) {
	if strings.TrimSpace(rec.AgentID) == "" {
		return domain.TokenUsageRecord{}, false, domain.Validationf("agentId is required")
	}
	if rec.InputTokens < 0 || rec.OutputTokens < 0 {
		return domain.TokenUsageRecord{}, false, domain.Validationf("token counts must be non-negative")
	}
	if strings.TrimSpace(rec.ID) == "" {
		rec.ID = domain.NewID("tur")
	}
	if rec.TS == "" {
		rec.TS = r.now()
	}
	if rec.CostUSD < 0 {
		rec.CostUSD = 0
	}
	if rec.Meta == nil {
		rec.Meta = map[string]any{}
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return domain.TokenUsageRecord{}, false, err
	}
	tx, err := r.begin(ctx)
	if err != nil {
		return domain.TokenUsageRecord{}, false, err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO token_usage_records
(id, ts, agent_id, run_id, project_id, model, input_tokens, output_tokens, cost_usd, payload_json)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.TS, rec.AgentID, nullablePtr(rec.RunID), nullablePtr(rec.ProjectID),
		rec.Model, rec.InputTokens, rec.OutputTokens, rec.CostUSD, string(payload))
	if err != nil {
		return domain.TokenUsageRecord{}, false, err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return rec, false, tx.Commit()
	}
	if err := r.touch(ctx, tx, MetaUsageLastUpdated, rec.TS); err != nil {
		return domain.TokenUsageRecord{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TokenUsageRecord{}, false, err
	}
	return rec, true, nil
}

// UsageReport aggregates usage by agent and model over an optional window.
func (r Repo) UsageReport(ctx context.Context, f UsageFilter) ([]UsageAggregate, error) {
	var (
		clauses []string
		args    []any
	)
	if f.AgentID != "" {
		clauses = append(clauses, "agent_id=?")
		args = append(args, f.AgentID)
	}
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.RunID != "" {
		clauses = append(clauses, "run_id=?")
		args = append(args, f.RunID)
	}
	if f.Model != "" {
		clauses = append(clauses, "model=?")
		args = append(args, f.Model)
	}
	if f.SinceTS != "" {
		clauses = append(clauses, "ts>=?")
		args = append(args, f.SinceTS)
	}
	if f.UntilTS != "" {
		clauses = append(clauses, "ts<?")
		args = append(args, f.UntilTS)
	}
	query := `SELECT agent_id, model, COUNT(1), SUM(input_tokens), SUM(output_tokens), SUM(cost_usd)
FROM token_usage_records`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " GROUP BY agent_id, model ORDER BY agent_id, model"
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []UsageAggregate{}
	for rows.Next() {
		var agg UsageAggregate
		if err := rows.Scan(&agg.AgentID, &agg.Model, &agg.Records, &agg.InputTokens, &agg.OutputTokens, &agg.CostUSD); err != nil {
			return nil, err
		}
		res = append(res, agg)
	}
	return res, rows.Err()
}
