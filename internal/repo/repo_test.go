package repo

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"planline/internal/db"
	"planline/internal/domain"
	"planline/internal/migrate"
)

type testEnv struct {
	DB   *sql.DB
	Repo Repo
}

// tickingClock advances one second per call so every write gets a distinct
// updatedAt token.
func tickingClock() func() time.Time {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	n := 0
	return func() time.Time {
		n++
		return t0.Add(time.Duration(n) * time.Second)
	}
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := New(conn)
	r.Now = tickingClock()
	return testEnv{DB: conn, Repo: r}
}

func mustCreateProject(t *testing.T, r Repo, name string) domain.Project {
	t.Helper()
	p, err := r.CreateProject(context.Background(), domain.Project{Name: name})
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	return p
}

func TestCreateProjectDefaults(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p := mustCreateProject(t, env.Repo, "alpha")
	if p.Status != domain.StatusPlanning {
		t.Fatalf("status = %q, want planning", p.Status)
	}
	if p.Priority != domain.PriorityMedium {
		t.Fatalf("priority = %q, want medium", p.Priority)
	}
	if p.Tags == nil || len(p.Tags) != 0 {
		t.Fatalf("tags = %v, want empty slice", p.Tags)
	}
	if p.ID == "" || p.CreatedAt == "" || p.UpdatedAt == "" {
		t.Fatalf("missing identity/timestamps: %+v", p)
	}

	got, err := env.Repo.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "alpha" || got.UpdatedAt != p.UpdatedAt {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
}

func TestCreateProjectDuplicateID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.Repo.CreateProject(ctx, domain.Project{ID: "proj-1", Name: "one"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := env.Repo.CreateProject(ctx, domain.Project{ID: "proj-1", Name: "two"})
	if !domain.IsValidation(err) {
		t.Fatalf("duplicate id err = %v, want validation error", err)
	}
}

func TestPatchProjectConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p := mustCreateProject(t, env.Repo, "alpha")
	stale := p.UpdatedAt

	name := "renamed"
	p2, err := env.Repo.PatchProject(ctx, p.ID, ProjectPatch{Name: &name}, stale)
	if err != nil {
		t.Fatalf("patch with current token: %v", err)
	}
	if p2.UpdatedAt == stale {
		t.Fatalf("updatedAt did not advance")
	}

	other := "lost"
	_, err = env.Repo.PatchProject(ctx, p.ID, ProjectPatch{Name: &other}, stale)
	var ce *domain.ConflictError
	if !domain.IsConflict(err) {
		t.Fatalf("stale token err = %v, want conflict", err)
	}
	if ce, _ = err.(*domain.ConflictError); ce == nil || ce.Expected != stale || ce.Actual != p2.UpdatedAt {
		t.Fatalf("conflict tokens = %+v, want expected=%s actual=%s", ce, stale, p2.UpdatedAt)
	}

	// The refused write must leave no trace.
	got, err := env.Repo.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "renamed" {
		t.Fatalf("name = %q after refused patch, want renamed", got.Name)
	}
}

func TestPatchProjectLastWriteWins(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p := mustCreateProject(t, env.Repo, "alpha")
	progress := 150
	got, err := env.Repo.PatchProject(ctx, p.ID, ProjectPatch{Progress: &progress}, "")
	if err != nil {
		t.Fatalf("patch without token: %v", err)
	}
	if got.Progress != 100 {
		t.Fatalf("progress = %d, want clamp to 100", got.Progress)
	}
}

func TestPatchProjectNotFound(t *testing.T) {
	env := newTestEnv(t)
	name := "x"
	_, err := env.Repo.PatchProject(context.Background(), "proj-missing", ProjectPatch{Name: &name}, "")
	if !domain.IsNotFound(err) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestReorderProjects(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := mustCreateProject(t, env.Repo, "a")
	b := mustCreateProject(t, env.Repo, "b")
	c := mustCreateProject(t, env.Repo, "c")

	if err := env.Repo.ReorderProjects(ctx, []string{c.ID, a.ID}); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	items, _, err := env.Repo.ListProjects(ctx, ProjectFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{c.ID, a.ID, b.ID}
	if len(items) != 3 {
		t.Fatalf("len = %d", len(items))
	}
	for i, id := range want {
		if items[i].ID != id {
			t.Fatalf("order[%d] = %s, want %s", i, items[i].ID, id)
		}
		if items[i].SortOrder != i {
			t.Fatalf("sortOrder[%d] = %d, want %d", i, items[i].SortOrder, i)
		}
	}
}

func TestReorderIgnoresUnknownIDs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := mustCreateProject(t, env.Repo, "a")
	b := mustCreateProject(t, env.Repo, "b")

	if err := env.Repo.ReorderProjects(ctx, []string{b.ID, "proj-nope", a.ID}); err != nil {
		t.Fatalf("reorder with unknown id: %v", err)
	}
	items, _, err := env.Repo.ListProjects(ctx, ProjectFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 || items[0].ID != b.ID || items[1].ID != a.ID {
		t.Fatalf("order = %v, want [b a] with ghost id skipped", items)
	}
	if items[0].SortOrder != 0 || items[1].SortOrder != 1 {
		t.Fatalf("sortOrder = %d,%d, want 0,1", items[0].SortOrder, items[1].SortOrder)
	}
}

func TestDeleteProject(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := mustCreateProject(t, env.Repo, "alpha")

	if err := env.Repo.DeleteProject(ctx, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Repo.GetProject(ctx, p.ID); !domain.IsNotFound(err) {
		t.Fatalf("get after delete err = %v, want not found", err)
	}
	if err := env.Repo.DeleteProject(ctx, p.ID); !domain.IsNotFound(err) {
		t.Fatalf("second delete err = %v, want not found", err)
	}
}

func TestListProjectsFilters(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	status := domain.StatusInProgress
	priority := domain.PriorityUrgent
	tags := []string{"infra"}
	p1 := mustCreateProject(t, env.Repo, "db layer")
	if _, err := env.Repo.PatchProject(ctx, p1.ID, ProjectPatch{Status: &status, Priority: &priority, Tags: &tags}, ""); err != nil {
		t.Fatalf("patch: %v", err)
	}
	mustCreateProject(t, env.Repo, "frontend")

	items, total, err := env.Repo.ListProjects(ctx, ProjectFilter{Status: domain.StatusInProgress})
	if err != nil {
		t.Fatalf("list by status: %v", err)
	}
	if total != 1 || len(items) != 1 || items[0].ID != p1.ID {
		t.Fatalf("status filter: total=%d items=%v", total, items)
	}

	items, _, err = env.Repo.ListProjects(ctx, ProjectFilter{Priority: domain.PriorityUrgent})
	if err != nil {
		t.Fatalf("list by priority: %v", err)
	}
	if len(items) != 1 || items[0].ID != p1.ID {
		t.Fatalf("priority filter: %v", items)
	}

	items, _, err = env.Repo.ListProjects(ctx, ProjectFilter{Tag: "infra"})
	if err != nil {
		t.Fatalf("list by tag: %v", err)
	}
	if len(items) != 1 || items[0].ID != p1.ID {
		t.Fatalf("tag filter: %v", items)
	}

	items, _, err = env.Repo.ListProjects(ctx, ProjectFilter{Search: "front"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(items) != 1 || items[0].Name != "frontend" {
		t.Fatalf("search filter: %v", items)
	}
}

func TestProjectStatistics(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	status := domain.StatusCompleted
	progress := 100
	cost := domain.Money{Total: 25}
	revenue := domain.Money{Total: 40}
	budget := 60.0
	p1 := mustCreateProject(t, env.Repo, "one")
	if _, err := env.Repo.PatchProject(ctx, p1.ID, ProjectPatch{Status: &status, Progress: &progress, Cost: &cost, Revenue: &revenue, Budget: &budget}, ""); err != nil {
		t.Fatalf("patch: %v", err)
	}
	mustCreateProject(t, env.Repo, "two")

	stats, err := env.Repo.ProjectStatistics(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 2 {
		t.Fatalf("total = %d", stats.Total)
	}
	if stats.ByStatus[domain.StatusCompleted] != 1 || stats.ByStatus[domain.StatusPlanning] != 1 {
		t.Fatalf("byStatus = %v", stats.ByStatus)
	}
	if stats.ByCategory["uncategorized"] != 2 {
		t.Fatalf("byCategory = %v", stats.ByCategory)
	}
	if stats.TotalCost != 25 || stats.TotalRevenue != 40 {
		t.Fatalf("totals = cost %v revenue %v", stats.TotalCost, stats.TotalRevenue)
	}
	if stats.NetProfit != 15 {
		t.Fatalf("netProfit = %v, want 15", stats.NetProfit)
	}
	if stats.TotalBudget != 60 {
		t.Fatalf("totalBudget = %v, want 60", stats.TotalBudget)
	}
	if stats.AvgProgress != 50 {
		t.Fatalf("avgProgress = %v", stats.AvgProgress)
	}
}

func TestMetaLastUpdated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	last, err := env.Repo.LastUpdated(ctx, MetaProjectsLastUpdated)
	if err != nil {
		t.Fatalf("lastUpdated: %v", err)
	}
	if last != "" {
		t.Fatalf("lastUpdated before writes = %q", last)
	}
	p := mustCreateProject(t, env.Repo, "alpha")
	last, err = env.Repo.LastUpdated(ctx, MetaProjectsLastUpdated)
	if err != nil {
		t.Fatalf("lastUpdated: %v", err)
	}
	if last != p.UpdatedAt {
		t.Fatalf("lastUpdated = %q, want %q", last, p.UpdatedAt)
	}
}
