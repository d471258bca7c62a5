package repo

import (
	"context"
	"testing"

	"planline/internal/domain"
)

func TestAppendEventInsertIfAbsent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ev, inserted, err := env.Repo.AppendEvent(ctx, domain.AgentEvent{
		ID:      "evt-1",
		Type:    "status",
		Message: strptr("started"),
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if !inserted {
		t.Fatalf("inserted = false on first append")
	}
	if ev.TS == "" {
		t.Fatalf("ts not stamped")
	}
	if ev.Level != domain.LevelInfo {
		t.Fatalf("level = %q, want info default", ev.Level)
	}

	replay, inserted, err := env.Repo.AppendEvent(ctx, domain.AgentEvent{
		ID:      "evt-1",
		Type:    "status",
		Message: strptr("overwrite attempt"),
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if inserted {
		t.Fatalf("inserted = true on replay")
	}
	if replay.Message == nil || *replay.Message != "started" {
		t.Fatalf("replay returned %v, want the stored entry", replay.Message)
	}

	has, err := env.Repo.HasEvent(ctx, "evt-1")
	if err != nil || !has {
		t.Fatalf("hasEvent = %v, %v", has, err)
	}
	has, err = env.Repo.HasEvent(ctx, "evt-nope")
	if err != nil || has {
		t.Fatalf("hasEvent(missing) = %v, %v", has, err)
	}
}

func TestListEventsChronologicalWindow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	proj := "proj-1"
	for i := 0; i < 5; i++ {
		if _, _, err := env.Repo.AppendEvent(ctx, domain.AgentEvent{ProjectID: &proj, Type: "note"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if _, _, err := env.Repo.AppendEvent(ctx, domain.AgentEvent{Type: "note"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	events, err := env.Repo.ListEvents(ctx, EventFilter{ProjectID: proj, Limit: 3})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("len = %d, want the 3 newest", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i-1].TS > events[i].TS {
			t.Fatalf("not chronological: %s before %s", events[i-1].TS, events[i].TS)
		}
	}

	all, err := env.Repo.ListEvents(ctx, EventFilter{ProjectID: proj})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("project filter returned %d, want 5", len(all))
	}
	// The window keeps the newest entries: the ones cut must be the oldest.
	if events[0].TS <= all[0].TS {
		t.Fatalf("window kept oldest entries")
	}
}

func TestListEventsSince(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, _, err := env.Repo.AppendEvent(ctx, domain.AgentEvent{Type: "note"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	second, _, err := env.Repo.AppendEvent(ctx, domain.AgentEvent{Type: "note"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	events, err := env.Repo.ListEvents(ctx, EventFilter{SinceTS: second.TS})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 1 || events[0].ID != second.ID {
		t.Fatalf("since filter = %v, want only %s (first was %s)", events, second.ID, first.ID)
	}
}
