package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"planline/internal/engine"
	"planline/internal/repo"
)

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status" enum:"planning,in-progress,paused,completed,cancelled" required:"false"`
		Priority string `query:"priority" enum:"low,medium,high,urgent" required:"false"`
		Category string `query:"category" required:"false"`
		Tag      string `query:"tag" required:"false"`
		Search   string `query:"search" required:"false"`
		Limit    int    `query:"limit" required:"false"`
		Offset   int    `query:"offset" required:"false"`
	}) (*struct {
		Body ProjectListResponse `json:"body"`
	}, error) {
		items, total, err := e.Repo.ListProjects(ctx, repo.ProjectFilter{
			Status:   input.Status,
			Priority: input.Priority,
			Category: input.Category,
			Tag:      input.Tag,
			Search:   input.Search,
			Limit:    input.Limit,
			Offset:   input.Offset,
		})
		if err != nil {
			return nil, handleError(err)
		}
		last, err := e.Repo.LastUpdated(ctx, repo.MetaProjectsLastUpdated)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectListResponse `json:"body"`
		}{Body: ProjectListResponse{Success: true, Data: items, Total: total, LastUpdated: last}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, err := e.Repo.CreateProject(ctx, input.Body.toDomain())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: ProjectResponse{Success: true, Data: p, LastUpdated: p.UpdatedAt}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-statistics",
		Method:      http.MethodGet,
		Path:        "/projects/statistics",
		Summary:     "Aggregate project statistics",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StatisticsResponse `json:"body"`
	}, error) {
		stats, err := e.Repo.ProjectStatistics(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StatisticsResponse `json:"body"`
		}{Body: StatisticsResponse{Success: true, Data: stats}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: ProjectResponse{Success: true, Data: p, LastUpdated: p.UpdatedAt}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "patch-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}",
		Summary:     "Patch project",
		Description: "Partial update. When ifUpdatedAt is present it must match the stored updatedAt exactly, otherwise 409.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string              `path:"project_id"`
		Body      PatchProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, err := e.Repo.PatchProject(ctx, input.ProjectID, input.Body.ProjectPatch, input.Body.IfUpdatedAt)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: ProjectResponse{Success: true, Data: p, LastUpdated: p.UpdatedAt}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-project",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}",
		Summary:     "Delete project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body DeleteResponse `json:"body"`
	}, error) {
		if err := e.Repo.DeleteProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		last, err := e.Repo.LastUpdated(ctx, repo.MetaProjectsLastUpdated)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DeleteResponse `json:"body"`
		}{Body: DeleteResponse{Success: true, ID: input.ProjectID, LastUpdated: last}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reorder-projects",
		Method:      http.MethodPost,
		Path:        "/projects/reorder",
		Summary:     "Reorder projects",
		Description: "Mentioned ids move to the front in the given order; the rest keep their relative order.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body ReorderRequest `json:"body"`
	}) (*struct {
		Body ProjectListResponse `json:"body"`
	}, error) {
		if err := e.Repo.ReorderProjects(ctx, input.Body.IDs); err != nil {
			return nil, handleError(err)
		}
		items, total, err := e.Repo.ListProjects(ctx, repo.ProjectFilter{})
		if err != nil {
			return nil, handleError(err)
		}
		last, err := e.Repo.LastUpdated(ctx, repo.MetaProjectsLastUpdated)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectListResponse `json:"body"`
		}{Body: ProjectListResponse{Success: true, Data: items, Total: total, LastUpdated: last}}, nil
	})

	// Batch always answers 200; each op reports its own outcome.
	huma.Register(api, huma.Operation{
		OperationID: "batch-projects",
		Method:      http.MethodPost,
		Path:        "/projects/batch",
		Summary:     "Batch project operations",
	}, func(ctx context.Context, input *struct {
		Body BatchRequest `json:"body"`
	}) (*struct {
		Body repo.BatchResult `json:"body"`
	}, error) {
		res, err := e.Repo.BatchProjects(ctx, input.Body.toOps())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body repo.BatchResult `json:"body"`
		}{Body: res}, nil
	})
}
