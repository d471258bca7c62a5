package repo

import (
	"context"
	"testing"

	"planline/internal/domain"
)

func TestBatchProjectsPartialFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p := mustCreateProject(t, env.Repo, "existing")
	name := "patched"

	res, err := env.Repo.BatchProjects(ctx, []BatchOp{
		{OpID: "op-1", Op: BatchOpCreate, Project: &domain.Project{Name: "fresh"}},
		{OpID: "op-2", Op: BatchOpPatch, ID: "proj-missing", Patch: &ProjectPatch{Name: &name}},
		{OpID: "op-3", Op: BatchOpPatch, ID: p.ID, Patch: &ProjectPatch{Name: &name}},
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(res.Results) != 3 {
		t.Fatalf("results = %d, want 3", len(res.Results))
	}
	if !res.Results[0].OK || res.Results[0].ID == "" {
		t.Fatalf("op-1 = %+v, want ok with id", res.Results[0])
	}
	if res.Results[1].OK || res.Results[1].Code != "not_found" {
		t.Fatalf("op-2 = %+v, want not_found failure", res.Results[1])
	}
	if !res.Results[2].OK {
		t.Fatalf("op-3 = %+v, want ok", res.Results[2])
	}
	if !res.AnyChanged {
		t.Fatalf("anyChanged = false")
	}

	// The failing op must not poison its neighbors.
	got, err := env.Repo.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "patched" {
		t.Fatalf("name = %q, want patched", got.Name)
	}
	_, total, err := env.Repo.ListProjects(ctx, ProjectFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 {
		t.Fatalf("total = %d, want 2", total)
	}
}

func TestBatchProjectsConflictCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p := mustCreateProject(t, env.Repo, "alpha")
	name := "one"
	first, err := env.Repo.PatchProject(ctx, p.ID, ProjectPatch{Name: &name}, "")
	if err != nil {
		t.Fatalf("patch: %v", err)
	}

	res, err := env.Repo.BatchProjects(ctx, []BatchOp{
		{Op: BatchOpPatch, ID: p.ID, Patch: &ProjectPatch{Name: &name}, IfUpdatedAt: p.UpdatedAt},
		{Op: "rename"},
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if res.Results[0].OK || res.Results[0].Code != "conflict" {
		t.Fatalf("stale op = %+v, want conflict", res.Results[0])
	}
	if res.Results[1].OK || res.Results[1].Code != "validation" {
		t.Fatalf("unknown op = %+v, want validation", res.Results[1])
	}
	if res.AnyChanged {
		t.Fatalf("anyChanged = true with no successful op")
	}
	got, err := env.Repo.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.UpdatedAt != first.UpdatedAt {
		t.Fatalf("project touched by failed batch")
	}
}
