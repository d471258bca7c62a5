package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"planline/internal/domain"
)

// ProjectFilter narrows List. Zero values mean "no constraint".
type ProjectFilter struct {
	Status   string
	Priority string
	Category string
	Tag      string
	Search   string
	Limit    int
	Offset   int
}

// ProjectPatch carries the fields a partial update may touch. Nil pointers
// are left alone; id, createdAt and sortOrder are not patchable (sortOrder
// moves only through Reorder).
type ProjectPatch struct {
	Name        *string       `json:"name,omitempty"`
	Description *string       `json:"description,omitempty"`
	Notes       *string       `json:"notes,omitempty"`
	Status      *string       `json:"status,omitempty" enum:"planning,in-progress,paused,completed,cancelled"`
	Priority    *string       `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	Progress    *int          `json:"progress,omitempty"`
	Category    *string       `json:"category,omitempty"`
	Tags        *[]string     `json:"tags,omitempty"`
	Cost        *domain.Money `json:"cost,omitempty"`
	Revenue     *domain.Money `json:"revenue,omitempty"`
	Budget      *float64      `json:"budget,omitempty"`
	ActualCost  *float64      `json:"actualCost,omitempty"`
}

const projectCols = `id, sort_order, name, status, priority, category, progress, budget, actual_cost, created_at, updated_at, payload_json`

// rowToProject rebuilds a project from its canonical payload, then forces
// the indexed columns back over it. The columns win: they are what queries
// saw, so a payload that drifted is corrected rather than trusted.
func rowToProject(scan func(dest ...any) error) (domain.Project, error) {
	var (
		p       domain.Project
		payload string
	)
	var id, name, status, priority, category, createdAt, updatedAt string
	var sortOrder, progress int
	var budget, actualCost float64
	if err := scan(&id, &sortOrder, &name, &status, &priority, &category, &progress, &budget, &actualCost, &createdAt, &updatedAt, &payload); err != nil {
		return p, err
	}
	_ = json.Unmarshal([]byte(payload), &p)
	p.ID = id
	p.SortOrder = sortOrder
	p.Name = name
	p.Status = status
	p.Priority = priority
	p.Category = category
	p.Progress = progress
	p.Budget = budget
	p.ActualCost = actualCost
	p.CreatedAt = createdAt
	p.UpdatedAt = updatedAt
	domain.NormalizeProject(&p, updatedAt)
	return p, nil
}

func getProjectTx(ctx context.Context, q execer, id string) (domain.Project, error) {
	row := q.QueryRowContext(ctx, `SELECT `+projectCols+` FROM projects WHERE id=?`, id)
	p, err := rowToProject(row.Scan)
	if err == sql.ErrNoRows {
		return p, &domain.NotFoundError{Kind: "project", ID: id}
	}
	return p, err
}

func writeProjectTx(ctx context.Context, q execer, p domain.Project, insert bool) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if insert {
		_, err = q.ExecContext(ctx, `INSERT INTO projects
(id, sort_order, name, status, priority, category, progress, budget, actual_cost, created_at, updated_at, payload_json)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
			p.ID, p.SortOrder, p.Name, p.Status, p.Priority, p.Category, p.Progress, p.Budget, p.ActualCost, p.CreatedAt, p.UpdatedAt, string(payload))
		return err
	}
	_, err = q.ExecContext(ctx, `UPDATE projects SET
sort_order=?, name=?, status=?, priority=?, category=?, progress=?, budget=?, actual_cost=?, created_at=?, updated_at=?, payload_json=?
WHERE id=?`,
		p.SortOrder, p.Name, p.Status, p.Priority, p.Category, p.Progress, p.Budget, p.ActualCost, p.CreatedAt, p.UpdatedAt, string(payload), p.ID)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return getProjectTx(ctx, r.DB, id)
}

// GetProjectTx reads a project inside a caller-owned transaction.
func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	return getProjectTx(ctx, tx, id)
}

// SaveProjectTx persists an already-mutated project: the record is
// re-normalized, updatedAt advances, and the family timestamp is touched.
func (r Repo) SaveProjectTx(ctx context.Context, tx *sql.Tx, p domain.Project) (domain.Project, error) {
	now := r.now()
	domain.NormalizeProject(&p, now)
	p.UpdatedAt = now
	if err := writeProjectTx(ctx, tx, p, false); err != nil {
		return domain.Project{}, err
	}
	if err := r.touch(ctx, tx, MetaProjectsLastUpdated, now); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// ListProjects returns the filtered page plus the total match count.
func (r Repo) ListProjects(ctx context.Context, f ProjectFilter) ([]domain.Project, int, error) {
	var (
		clauses []string
		args    []any
	)
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Priority != "" {
		clauses = append(clauses, "priority=?")
		args = append(args, f.Priority)
	}
	if f.Category != "" {
		clauses = append(clauses, "category=?")
		args = append(args, f.Category)
	}
	if f.Search != "" {
		clauses = append(clauses, "(name LIKE ? OR payload_json LIKE ?)")
		like := "%" + f.Search + "%"
		args = append(args, like, like)
	}
	query := `SELECT ` + projectCols + ` FROM projects`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY sort_order, created_at"
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := rowToProject(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		if f.Tag != "" && !p.HasTag(f.Tag) {
			continue
		}
		res = append(res, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	total := len(res)
	if f.Offset > 0 {
		if f.Offset >= len(res) {
			res = nil
		} else {
			res = res[f.Offset:]
		}
	}
	if f.Limit > 0 && len(res) > f.Limit {
		res = res[:f.Limit]
	}
	if res == nil {
		res = []domain.Project{}
	}
	return res, total, nil
}

// CreateProject inserts a normalized project at the end of the sort order.
// An explicit id that already exists is a validation failure, not an
// upsert.
func (r Repo) CreateProject(ctx context.Context, p domain.Project) (domain.Project, error) {
	tx, err := r.begin(ctx)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	created, err := r.createProjectTx(ctx, tx, p)
	if err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return created, nil
}

func (r Repo) createProjectTx(ctx context.Context, tx *sql.Tx, p domain.Project) (domain.Project, error) {
	now := r.now()
	p.CreatedAt = ""
	p.UpdatedAt = ""
	domain.NormalizeProject(&p, now)
	p.CreatedAt = now
	p.UpdatedAt = now
	if strings.TrimSpace(p.Name) == "" {
		return domain.Project{}, domain.Validationf("project name is required")
	}
	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM projects WHERE id=?`, p.ID).Scan(&exists); err != nil {
		return domain.Project{}, err
	}
	if exists > 0 {
		return domain.Project{}, domain.Validationf("project already exists: %s", p.ID)
	}
	var maxOrder sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(sort_order) FROM projects`).Scan(&maxOrder); err != nil {
		return domain.Project{}, err
	}
	if maxOrder.Valid {
		p.SortOrder = int(maxOrder.Int64) + 1
	} else {
		p.SortOrder = 0
	}
	if err := writeProjectTx(ctx, tx, p, true); err != nil {
		return domain.Project{}, err
	}
	if err := r.touch(ctx, tx, MetaProjectsLastUpdated, now); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// PatchProject merges the patch under optimistic concurrency. A non-empty
// ifUpdatedAt must equal the stored updatedAt byte for byte; otherwise the
// write is refused and nothing changes. An empty token means
// last-write-wins.
func (r Repo) PatchProject(ctx context.Context, id string, patch ProjectPatch, ifUpdatedAt string) (domain.Project, error) {
	tx, err := r.begin(ctx)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	p, err := r.patchProjectTx(ctx, tx, id, patch, ifUpdatedAt)
	if err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func (r Repo) patchProjectTx(ctx context.Context, tx *sql.Tx, id string, patch ProjectPatch, ifUpdatedAt string) (domain.Project, error) {
	p, err := getProjectTx(ctx, tx, id)
	if err != nil {
		return domain.Project{}, err
	}
	if ifUpdatedAt != "" && ifUpdatedAt != p.UpdatedAt {
		return domain.Project{}, &domain.ConflictError{Expected: ifUpdatedAt, Actual: p.UpdatedAt}
	}
	applyProjectPatch(&p, patch)
	now := r.now()
	domain.NormalizeProject(&p, now)
	p.UpdatedAt = now
	if err := writeProjectTx(ctx, tx, p, false); err != nil {
		return domain.Project{}, err
	}
	if err := r.touch(ctx, tx, MetaProjectsLastUpdated, now); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func applyProjectPatch(p *domain.Project, patch ProjectPatch) {
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.Notes != nil {
		p.Notes = *patch.Notes
	}
	if patch.Status != nil {
		p.Status = *patch.Status
	}
	if patch.Priority != nil {
		p.Priority = *patch.Priority
	}
	if patch.Progress != nil {
		p.Progress = *patch.Progress
	}
	if patch.Category != nil {
		p.Category = *patch.Category
	}
	if patch.Tags != nil {
		p.Tags = *patch.Tags
	}
	if patch.Cost != nil {
		p.Cost = *patch.Cost
	}
	if patch.Revenue != nil {
		p.Revenue = *patch.Revenue
	}
	if patch.Budget != nil {
		p.Budget = *patch.Budget
	}
	if patch.ActualCost != nil {
		p.ActualCost = *patch.ActualCost
	}
}

func (r Repo) DeleteProject(ctx context.Context, id string) error {
	tx, err := r.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.deleteProjectTx(ctx, tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) deleteProjectTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.NotFoundError{Kind: "project", ID: id}
	}
	return r.touch(ctx, tx, MetaProjectsLastUpdated, r.now())
}

// ReorderProjects moves the mentioned ids to the front in the given order;
// everything else keeps its relative order behind them. Ids not present in
// storage are skipped.
func (r Repo) ReorderProjects(ctx context.Context, ids []string) error {
	tx, err := r.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM projects ORDER BY sort_order, created_at`)
	if err != nil {
		return err
	}
	var current []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		current = append(current, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	known := make(map[string]bool, len(current))
	for _, id := range current {
		known[id] = true
	}
	mentioned := make(map[string]bool, len(ids))
	ordered := make([]string, 0, len(current))
	for _, id := range ids {
		if !known[id] || mentioned[id] {
			continue
		}
		mentioned[id] = true
		ordered = append(ordered, id)
	}
	for _, id := range current {
		if !mentioned[id] {
			ordered = append(ordered, id)
		}
	}
	for i, id := range ordered {
		if _, err := tx.ExecContext(ctx, `UPDATE projects SET sort_order=? WHERE id=?`, i, id); err != nil {
			return err
		}
	}
	if err := r.touch(ctx, tx, MetaProjectsLastUpdated, r.now()); err != nil {
		return err
	}
	return tx.Commit()
}

// ProjectStatistics is the aggregate view over all projects.
type ProjectStatistics struct {
	Total        int            `json:"total"`
	ByStatus     map[string]int `json:"byStatus"`
	ByPriority   map[string]int `json:"byPriority"`
	ByCategory   map[string]int `json:"byCategory"`
	TotalBudget  float64        `json:"totalBudget"`
	TotalCost    float64        `json:"totalCost"`
	TotalRevenue float64        `json:"totalRevenue"`
	NetProfit    float64        `json:"netProfit"`
	AvgProgress  float64        `json:"avgProgress"`
}

const uncategorized = "uncategorized"

func (r Repo) ProjectStatistics(ctx context.Context) (ProjectStatistics, error) {
	stats := ProjectStatistics{
		ByStatus:   map[string]int{},
		ByPriority: map[string]int{},
		ByCategory: map[string]int{},
	}
	projects, _, err := r.ListProjects(ctx, ProjectFilter{})
	if err != nil {
		return stats, err
	}
	var progressSum int
	for _, p := range projects {
		stats.Total++
		stats.ByStatus[p.Status]++
		stats.ByPriority[p.Priority]++
		cat := p.Category
		if strings.TrimSpace(cat) == "" {
			cat = uncategorized
		}
		stats.ByCategory[cat]++
		stats.TotalBudget += p.Budget
		stats.TotalCost += p.Cost.Total
		stats.TotalRevenue += p.Revenue.Total
		progressSum += p.Progress
	}
	stats.NetProfit = stats.TotalRevenue - stats.TotalCost
	if stats.Total > 0 {
		stats.AvgProgress = float64(progressSum) / float64(stats.Total)
	}
	return stats, nil
}
