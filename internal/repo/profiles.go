package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"strings"

	"planline/internal/domain"
)

const profileCols = `agent_id, display_name, role, description, created_at, updated_at, payload_json`

func rowToProfile(scan func(dest ...any) error) (domain.AgentProfile, error) {
	var (
		prof    domain.AgentProfile
		payload string
	)
	var agentID, displayName, role, description, createdAt, updatedAt string
	if err := scan(&agentID, &displayName, &role, &description, &createdAt, &updatedAt, &payload); err != nil {
		return prof, err
	}
	_ = json.Unmarshal([]byte(payload), &prof)
	prof.AgentID = agentID
	prof.DisplayName = displayName
	prof.Role = role
	prof.Description = description
	prof.CreatedAt = createdAt
	prof.UpdatedAt = updatedAt
	if prof.Meta == nil {
		prof.Meta = map[string]any{}
	}
	return prof, nil
}

// UpsertProfile writes the profile and replaces its capability set.
func (r Repo) UpsertProfile(ctx context.Context, prof domain.AgentProfile) (domain.AgentProfile, error) {
	if strings.TrimSpace(prof.AgentID) == "" {
		return domain.AgentProfile{}, domain.Validationf("agentId is required")
	}
	tx, err := r.begin(ctx)
	if err != nil {
		return domain.AgentProfile{}, err
	}
	defer tx.Rollback()

	now := r.now()
	existing, err := getProfileTx(ctx, tx, prof.AgentID)
	switch {
	case err == nil:
		prof.CreatedAt = existing.CreatedAt
	case domain.IsNotFound(err):
		prof.CreatedAt = now
	default:
		return domain.AgentProfile{}, err
	}
	prof.UpdatedAt = now
	caps := dedupeStrings(prof.Capabilities)
	prof.Capabilities = caps
	if prof.Meta == nil {
		prof.Meta = map[string]any{}
	}
	payload, err := json.Marshal(prof)
	if err != nil {
		return domain.AgentProfile{}, err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO agent_profiles
(agent_id, display_name, role, description, created_at, updated_at, payload_json)
VALUES (?,?,?,?,?,?,?)
ON CONFLICT(agent_id) DO UPDATE SET
display_name=excluded.display_name, role=excluded.role, description=excluded.description,
updated_at=excluded.updated_at, payload_json=excluded.payload_json`,
		prof.AgentID, prof.DisplayName, prof.Role, prof.Description, prof.CreatedAt, prof.UpdatedAt, string(payload))
	if err != nil {
		return domain.AgentProfile{}, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM agent_capabilities WHERE agent_id=?`, prof.AgentID); err != nil {
		return domain.AgentProfile{}, err
	}
	for _, c := range caps {
		if _, err := tx.ExecContext(ctx, `INSERT INTO agent_capabilities(agent_id, capability) VALUES (?,?)`, prof.AgentID, c); err != nil {
			return domain.AgentProfile{}, err
		}
	}
	if err := r.touch(ctx, tx, MetaProfilesLastUpdated, now); err != nil {
		return domain.AgentProfile{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AgentProfile{}, err
	}
	return prof, nil
}

func getProfileTx(ctx context.Context, q execer, agentID string) (domain.AgentProfile, error) {
	row := q.QueryRowContext(ctx, `SELECT `+profileCols+` FROM agent_profiles WHERE agent_id=?`, agentID)
	prof, err := rowToProfile(row.Scan)
	if err == sql.ErrNoRows {
		return prof, &domain.NotFoundError{Kind: "agent profile", ID: agentID}
	}
	if err != nil {
		return prof, err
	}
	caps, err := capabilitiesTx(ctx, q, agentID)
	if err != nil {
		return prof, err
	}
	prof.Capabilities = caps
	return prof, nil
}

func capabilitiesTx(ctx context.Context, q execer, agentID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT capability FROM agent_capabilities WHERE agent_id=? ORDER BY capability`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	caps := []string{}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		caps = append(caps, c)
	}
	return caps, rows.Err()
}

func (r Repo) GetProfile(ctx context.Context, agentID string) (domain.AgentProfile, error) {
	return getProfileTx(ctx, r.DB, agentID)
}

// ListProfiles returns all profiles, optionally narrowed to those carrying
// a capability.
func (r Repo) ListProfiles(ctx context.Context, capability string) ([]domain.AgentProfile, error) {
	query := `SELECT ` + profileCols + ` FROM agent_profiles ORDER BY agent_id`
	args := []any{}
	if capability != "" {
		query = `SELECT ` + profileCols + ` FROM agent_profiles
WHERE agent_id IN (SELECT agent_id FROM agent_capabilities WHERE capability=?)
ORDER BY agent_id`
		args = append(args, capability)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.AgentProfile{}
	for rows.Next() {
		prof, err := rowToProfile(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, prof)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		caps, err := capabilitiesTx(ctx, r.DB, res[i].AgentID)
		if err != nil {
			return nil, err
		}
		res[i].Capabilities = caps
	}
	return res, nil
}

func dedupeStrings(in []string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
