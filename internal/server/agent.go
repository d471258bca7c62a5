package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"planline/internal/engine"
	"planline/internal/repo"
)

// registerActions wires the agent action endpoint. The endpoint always
// answers 200; every action carries its own status in the results list.
func registerActions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "agent-actions",
		Method:      http.MethodPost,
		Path:        "/agent/actions",
		Summary:     "Apply agent actions",
		Errors:      []int{http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body engine.ActionRequest `json:"body"`
	}) (*struct {
		Body engine.ActionOutcome `json:"body"`
	}, error) {
		out, err := e.ProcessActions(ctx, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ActionOutcome `json:"body"`
		}{Body: out}, nil
	})
}

func registerRuns(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/agent/runs",
		Summary:     "List agent runs",
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"projectId" required:"false"`
		AgentID   string `query:"agentId" required:"false"`
		Status    string `query:"status" enum:"running,completed,failed,cancelled" required:"false"`
		Limit     int    `query:"limit" required:"false"`
		Offset    int    `query:"offset" required:"false"`
	}) (*struct {
		Body RunListResponse `json:"body"`
	}, error) {
		runs, total, err := e.Repo.ListRuns(ctx, repo.RunFilter{
			ProjectID: input.ProjectID,
			AgentID:   input.AgentID,
			Status:    input.Status,
			Limit:     input.Limit,
			Offset:    input.Offset,
		})
		if err != nil {
			return nil, handleError(err)
		}
		last, err := e.Repo.LastUpdated(ctx, repo.MetaRunsLastUpdated)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RunListResponse `json:"body"`
		}{Body: RunListResponse{Success: true, Data: runs, Total: total, LastUpdated: last}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-run",
		Method:      http.MethodPost,
		Path:        "/agent/runs",
		Summary:     "Create agent run",
		Description: "Idempotent on id: posting an existing id returns the stored run unchanged.",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateRunRequest `json:"body"`
	}) (*struct {
		Body RunResponse `json:"body"`
	}, error) {
		run, created, err := e.Repo.CreateRun(ctx, input.Body.toDomain())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RunResponse `json:"body"`
		}{Body: RunResponse{Success: true, Data: run, Created: created}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/agent/runs/{run_id}",
		Summary:     "Get agent run",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RunID string `path:"run_id"`
	}) (*struct {
		Body RunResponse `json:"body"`
	}, error) {
		run, err := e.Repo.GetRun(ctx, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RunResponse `json:"body"`
		}{Body: RunResponse{Success: true, Data: run}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "patch-run",
		Method:      http.MethodPatch,
		Path:        "/agent/runs/{run_id}",
		Summary:     "Patch agent run",
		Description: "Structurally mismatched values for links, tags, metrics and meta are dropped, not rejected.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		RunID string         `path:"run_id"`
		Body  map[string]any `json:"body"`
	}) (*struct {
		Body RunResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		run, err := e.Repo.PatchRun(ctx, input.RunID, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RunResponse `json:"body"`
		}{Body: RunResponse{Success: true, Data: run}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/agent/events",
		Summary:     "List ledger events",
		Description: "Newest matching entries, returned oldest-first. Limit clamps to 1..2000, default 200.",
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"projectId" required:"false"`
		RunID     string `query:"runId" required:"false"`
		AgentID   string `query:"agentId" required:"false"`
		Type      string `query:"type" required:"false"`
		SinceTS   string `query:"sinceTs" required:"false"`
		Limit     int    `query:"limit" required:"false"`
	}) (*struct {
		Body EventListResponse `json:"body"`
	}, error) {
		events, err := e.Repo.ListEvents(ctx, repo.EventFilter{
			ProjectID: input.ProjectID,
			RunID:     input.RunID,
			AgentID:   input.AgentID,
			Type:      input.Type,
			SinceTS:   input.SinceTS,
			Limit:     input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		last, err := e.Repo.LastUpdated(ctx, repo.MetaEventsLastUpdated)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventListResponse `json:"body"`
		}{Body: EventListResponse{Success: true, Data: events, Total: len(events), LastUpdated: last}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "append-event",
		Method:      http.MethodPost,
		Path:        "/agent/events",
		Summary:     "Append ledger event",
		Description: "Insert-if-absent by id; replaying an id is a no-op reported as inserted=false.",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body AppendEventRequest `json:"body"`
	}) (*struct {
		Body EventResponse `json:"body"`
	}, error) {
		ev, inserted, err := e.Repo.AppendEvent(ctx, input.Body.toDomain())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventResponse `json:"body"`
		}{Body: EventResponse{Success: true, Data: ev, Inserted: inserted}}, nil
	})
}

func registerProfiles(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-profiles",
		Method:      http.MethodGet,
		Path:        "/agent/profiles",
		Summary:     "List agent profiles",
	}, func(ctx context.Context, input *struct {
		Capability string `query:"capability" required:"false"`
	}) (*struct {
		Body ProfileListResponse `json:"body"`
	}, error) {
		profiles, err := e.Repo.ListProfiles(ctx, input.Capability)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProfileListResponse `json:"body"`
		}{Body: ProfileListResponse{Success: true, Data: profiles}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-profile",
		Method:      http.MethodGet,
		Path:        "/agent/profiles/{agent_id}",
		Summary:     "Get agent profile",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AgentID string `path:"agent_id"`
	}) (*struct {
		Body ProfileResponse `json:"body"`
	}, error) {
		prof, err := e.Repo.GetProfile(ctx, input.AgentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProfileResponse `json:"body"`
		}{Body: ProfileResponse{Success: true, Data: prof}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-profile",
		Method:      http.MethodPut,
		Path:        "/agent/profiles/{agent_id}",
		Summary:     "Upsert agent profile",
		Errors:      []int{http.StatusBadRequest, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		AgentID string               `path:"agent_id"`
		Body    UpsertProfileRequest `json:"body"`
	}) (*struct {
		Body ProfileResponse `json:"body"`
	}, error) {
		prof, err := e.Repo.UpsertProfile(ctx, input.Body.toDomain(input.AgentID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProfileResponse `json:"body"`
		}{Body: ProfileResponse{Success: true, Data: prof}}, nil
	})
}

func registerUsage(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "ingest-usage",
		Method:      http.MethodPost,
		Path:        "/agent/usage",
		Summary:     "Ingest token usage record",
		Description: "Idempotent on id so collectors can resend batches.",
		Errors:      []int{http.StatusBadRequest, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body IngestUsageRequest `json:"body"`
	}) (*struct {
		Body UsageResponse `json:"body"`
	}, error) {
		rec, inserted, err := e.Repo.IngestUsage(ctx, input.Body.toDomain())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UsageResponse `json:"body"`
		}{Body: UsageResponse{Success: true, Data: rec, Inserted: inserted}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "usage-report",
		Method:      http.MethodGet,
		Path:        "/agent/usage/report",
		Summary:     "Aggregate token usage by agent and model",
	}, func(ctx context.Context, input *struct {
		AgentID   string `query:"agentId" required:"false"`
		ProjectID string `query:"projectId" required:"false"`
		RunID     string `query:"runId" required:"false"`
		Model     string `query:"model" required:"false"`
		SinceTS   string `query:"sinceTs" required:"false"`
		UntilTS   string `query:"untilTs" required:"false"`
	}) (*struct {
		Body UsageReportResponse `json:"body"`
	}, error) {
		report, err := e.Repo.UsageReport(ctx, repo.UsageFilter{
			AgentID:   input.AgentID,
			ProjectID: input.ProjectID,
			RunID:     input.RunID,
			Model:     input.Model,
			SinceTS:   input.SinceTS,
			UntilTS:   input.UntilTS,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UsageReportResponse `json:"body"`
		}{Body: UsageReportResponse{Success: true, Data: report}}, nil
	})
}
