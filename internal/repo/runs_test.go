package repo

import (
	"context"
	"testing"

	"planline/internal/domain"
)

func strptr(s string) *string { return &s }

func TestCreateRunIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	agent := "agent-a"
	run, created, err := env.Repo.CreateRun(ctx, domain.AgentRun{ID: "run-1", AgentID: &agent, Title: strptr("first")})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created {
		t.Fatalf("created = false on first insert")
	}
	if run.Status != domain.RunStatusRunning {
		t.Fatalf("status = %q, want running", run.Status)
	}
	if run.StartedAt == "" || run.CreatedAt == "" {
		t.Fatalf("missing timestamps: %+v", run)
	}

	replay, created, err := env.Repo.CreateRun(ctx, domain.AgentRun{ID: "run-1", Title: strptr("second")})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if created {
		t.Fatalf("created = true on replay")
	}
	if replay.Title == nil || *replay.Title != "first" {
		t.Fatalf("replay returned %v, want stored record", replay.Title)
	}
}

func TestPatchRunDropsMismatchedValues(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	run, _, err := env.Repo.CreateRun(ctx, domain.AgentRun{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := env.Repo.PatchRun(ctx, run.ID, map[string]any{
		"id":      "run-hijack",
		"status":  "exploded",       // not a valid status: dropped
		"tags":    "not-a-list",     // wrong shape: dropped
		"links":   []any{"a", 7},    // mixed list: dropped
		"metrics": map[string]any{"files": float64(3)},
		"title":   "worked",
	})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if got.ID != run.ID {
		t.Fatalf("id changed to %q", got.ID)
	}
	if got.Status != domain.RunStatusRunning {
		t.Fatalf("status = %q, want running untouched", got.Status)
	}
	if len(got.Tags) != 0 {
		t.Fatalf("tags = %v, want untouched", got.Tags)
	}
	if len(got.Links) != 0 {
		t.Fatalf("links = %v, want untouched", got.Links)
	}
	if got.Metrics["files"] != float64(3) {
		t.Fatalf("metrics = %v", got.Metrics)
	}
	if got.Title == nil || *got.Title != "worked" {
		t.Fatalf("title = %v, want worked", got.Title)
	}
	if got.UpdatedAt == run.UpdatedAt {
		t.Fatalf("updatedAt did not advance")
	}
}

func TestPatchRunFinish(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	run, _, err := env.Repo.CreateRun(ctx, domain.AgentRun{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := env.Repo.PatchRun(ctx, run.ID, map[string]any{
		"status":     domain.RunStatusCompleted,
		"finishedAt": "2024-05-01T13:00:00Z",
		"summary":    "done",
	})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if got.Status != domain.RunStatusCompleted {
		t.Fatalf("status = %q", got.Status)
	}
	if got.FinishedAt == nil || *got.FinishedAt != "2024-05-01T13:00:00Z" {
		t.Fatalf("finishedAt = %v", got.FinishedAt)
	}
}

func TestListRunsFilterAndPaging(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	agentA, agentB := "agent-a", "agent-b"
	for i := 0; i < 3; i++ {
		if _, _, err := env.Repo.CreateRun(ctx, domain.AgentRun{AgentID: &agentA}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if _, _, err := env.Repo.CreateRun(ctx, domain.AgentRun{AgentID: &agentB}); err != nil {
		t.Fatalf("create: %v", err)
	}

	runs, total, err := env.Repo.ListRuns(ctx, RunFilter{AgentID: agentA, Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}
	if len(runs) != 2 {
		t.Fatalf("page = %d, want 2", len(runs))
	}
	// Newest first.
	if runs[0].CreatedAt < runs[1].CreatedAt {
		t.Fatalf("not sorted newest first: %s then %s", runs[0].CreatedAt, runs[1].CreatedAt)
	}
}
