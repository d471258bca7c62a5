package repo

import (
	"context"
	"testing"

	"planline/internal/domain"
)

func TestIngestUsageIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec, inserted, err := env.Repo.IngestUsage(ctx, domain.TokenUsageRecord{
		ID:           "tur-1",
		AgentID:      "agent-a",
		Model:        "m-large",
		InputTokens:  100,
		OutputTokens: 40,
		CostUSD:      0.5,
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !inserted {
		t.Fatalf("inserted = false on first ingest")
	}
	if rec.TS == "" {
		t.Fatalf("ts not stamped")
	}

	_, inserted, err = env.Repo.IngestUsage(ctx, domain.TokenUsageRecord{
		ID:          "tur-1",
		AgentID:     "agent-a",
		Model:       "m-large",
		InputTokens: 9999,
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if inserted {
		t.Fatalf("inserted = true on replay")
	}

	report, err := env.Repo.UsageReport(ctx, UsageFilter{})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if len(report) != 1 {
		t.Fatalf("buckets = %d, want 1", len(report))
	}
	if report[0].Records != 1 || report[0].InputTokens != 100 {
		t.Fatalf("replay counted twice: %+v", report[0])
	}
}

func TestIngestUsageValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, _, err := env.Repo.IngestUsage(ctx, domain.TokenUsageRecord{Model: "m"})
	if !domain.IsValidation(err) {
		t.Fatalf("missing agentId err = %v, want validation", err)
	}
	_, _, err = env.Repo.IngestUsage(ctx, domain.TokenUsageRecord{AgentID: "a", InputTokens: -1})
	if !domain.IsValidation(err) {
		t.Fatalf("negative tokens err = %v, want validation", err)
	}
}

func TestUsageReportGrouping(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	seed := []domain.TokenUsageRecord{
		{AgentID: "agent-a", Model: "m-large", InputTokens: 10, OutputTokens: 1, CostUSD: 0.1},
		{AgentID: "agent-a", Model: "m-large", InputTokens: 20, OutputTokens: 2, CostUSD: 0.2},
		{AgentID: "agent-a", Model: "m-small", InputTokens: 5},
		{AgentID: "agent-b", Model: "m-large", InputTokens: 7},
	}
	for _, rec := range seed {
		if _, _, err := env.Repo.IngestUsage(ctx, rec); err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}

	report, err := env.Repo.UsageReport(ctx, UsageFilter{})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if len(report) != 3 {
		t.Fatalf("buckets = %d, want 3", len(report))
	}
	first := report[0]
	if first.AgentID != "agent-a" || first.Model != "m-large" {
		t.Fatalf("ordering: first bucket = %+v", first)
	}
	if first.Records != 2 || first.InputTokens != 30 || first.OutputTokens != 3 {
		t.Fatalf("aggregate = %+v", first)
	}
	if first.CostUSD < 0.29 || first.CostUSD > 0.31 {
		t.Fatalf("costUSD = %v", first.CostUSD)
	}

	byAgent, err := env.Repo.UsageReport(ctx, UsageFilter{AgentID: "agent-b"})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if len(byAgent) != 1 || byAgent[0].InputTokens != 7 {
		t.Fatalf("agent filter = %+v", byAgent)
	}
}
