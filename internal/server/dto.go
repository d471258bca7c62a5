package server

import (
	"planline/internal/domain"
	"planline/internal/repo"
)

// Response envelopes

type ProjectResponse struct {
	Success     bool           `json:"success"`
	Data        domain.Project `json:"data"`
	LastUpdated string         `json:"lastUpdated,omitempty"`
}

type ProjectListResponse struct {
	Success     bool             `json:"success"`
	Data        []domain.Project `json:"data"`
	Total       int              `json:"total"`
	LastUpdated string           `json:"lastUpdated,omitempty"`
}

type DeleteResponse struct {
	Success     bool   `json:"success"`
	ID          string `json:"id"`
	LastUpdated string `json:"lastUpdated,omitempty"`
}

type StatisticsResponse struct {
	Success bool                   `json:"success"`
	Data    repo.ProjectStatistics `json:"data"`
}

type RunResponse struct {
	Success bool            `json:"success"`
	Data    domain.AgentRun `json:"data"`
	Created bool            `json:"created"`
}

type RunListResponse struct {
	Success     bool              `json:"success"`
	Data        []domain.AgentRun `json:"data"`
	Total       int               `json:"total"`
	LastUpdated string            `json:"lastUpdated,omitempty"`
}

type EventResponse struct {
	Success  bool              `json:"success"`
	Data     domain.AgentEvent `json:"data"`
	Inserted bool              `json:"inserted"`
}

type EventListResponse struct {
	Success     bool                `json:"success"`
	Data        []domain.AgentEvent `json:"data"`
	Total       int                 `json:"total"`
	LastUpdated string              `json:"lastUpdated,omitempty"`
}

type ProfileResponse struct {
	Success bool                `json:"success"`
	Data    domain.AgentProfile `json:"data"`
}

type ProfileListResponse struct {
	Success bool                  `json:"success"`
	Data    []domain.AgentProfile `json:"data"`
}

type UsageResponse struct {
	Success  bool                    `json:"success"`
	Data     domain.TokenUsageRecord `json:"data"`
	Inserted bool                    `json:"inserted"`
}

type UsageReportResponse struct {
	Success bool                  `json:"success"`
	Data    []repo.UsageAggregate `json:"data"`
}

// Request payloads

type CreateProjectRequest struct {
	ID          string        `json:"id,omitempty"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Notes       string        `json:"notes,omitempty"`
	Status      string        `json:"status,omitempty" enum:"planning,in-progress,paused,completed,cancelled"`
	Priority    string        `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	Progress    int           `json:"progress,omitempty"`
	Category    string        `json:"category,omitempty"`
	Tags        []string      `json:"tags,omitempty"`
	Cost        *domain.Money `json:"cost,omitempty"`
	Revenue     *domain.Money `json:"revenue,omitempty"`
	Budget      float64       `json:"budget,omitempty"`
	ActualCost  float64       `json:"actualCost,omitempty"`
}

func (r CreateProjectRequest) toDomain() domain.Project {
	p := domain.Project{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Notes:       r.Notes,
		Status:      r.Status,
		Priority:    r.Priority,
		Progress:    r.Progress,
		Category:    r.Category,
		Tags:        r.Tags,
		Budget:      r.Budget,
		ActualCost:  r.ActualCost,
	}
	if r.Cost != nil {
		p.Cost = *r.Cost
	}
	if r.Revenue != nil {
		p.Revenue = *r.Revenue
	}
	return p
}

type PatchProjectRequest struct {
	repo.ProjectPatch
	IfUpdatedAt string `json:"ifUpdatedAt,omitempty"`
}

type ReorderRequest struct {
	IDs []string `json:"ids"`
}

type BatchOpRequest struct {
	OpID        string                `json:"opId,omitempty"`
	Op          string                `json:"op" enum:"create,patch,delete"`
	ID          string                `json:"id,omitempty"`
	Project     *CreateProjectRequest `json:"project,omitempty"`
	Patch       *repo.ProjectPatch    `json:"patch,omitempty"`
	IfUpdatedAt string                `json:"ifUpdatedAt,omitempty"`
}

type BatchRequest struct {
	Ops []BatchOpRequest `json:"ops"`
}

func (r BatchRequest) toOps() []repo.BatchOp {
	ops := make([]repo.BatchOp, 0, len(r.Ops))
	for _, op := range r.Ops {
		out := repo.BatchOp{
			OpID:        op.OpID,
			Op:          op.Op,
			ID:          op.ID,
			Patch:       op.Patch,
			IfUpdatedAt: op.IfUpdatedAt,
		}
		if op.Project != nil {
			p := op.Project.toDomain()
			out.Project = &p
		}
		ops = append(ops, out)
	}
	return ops
}

type CreateRunRequest struct {
	ID         string         `json:"id,omitempty"`
	ProjectID  *string        `json:"projectId,omitempty"`
	AgentID    *string        `json:"agentId,omitempty"`
	Title      *string        `json:"title,omitempty"`
	Summary    *string        `json:"summary,omitempty"`
	Status     string         `json:"status,omitempty" enum:"running,completed,failed,cancelled"`
	StartedAt  string         `json:"startedAt,omitempty"`
	FinishedAt *string        `json:"finishedAt,omitempty"`
	Links      []string       `json:"links,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
	Metrics    map[string]any `json:"metrics,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
}

func (r CreateRunRequest) toDomain() domain.AgentRun {
	return domain.AgentRun{
		ID:         r.ID,
		ProjectID:  r.ProjectID,
		AgentID:    r.AgentID,
		Title:      r.Title,
		Summary:    r.Summary,
		Status:     r.Status,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Links:      r.Links,
		Tags:       r.Tags,
		Metrics:    r.Metrics,
		Meta:       r.Meta,
	}
}

type AppendEventRequest struct {
	ID        string  `json:"id,omitempty"`
	TS        string  `json:"ts,omitempty"`
	Type      string  `json:"type,omitempty"`
	Level     string  `json:"level,omitempty" enum:"debug,info,warn,error"`
	ProjectID *string `json:"projectId,omitempty"`
	RunID     *string `json:"runId,omitempty"`
	AgentID   *string `json:"agentId,omitempty"`
	Title     *string `json:"title,omitempty"`
	Message   *string `json:"message,omitempty"`
	Data      any     `json:"data,omitempty"`
}

func (r AppendEventRequest) toDomain() domain.AgentEvent {
	return domain.AgentEvent{
		ID:        r.ID,
		TS:        r.TS,
		Type:      r.Type,
		Level:     r.Level,
		ProjectID: r.ProjectID,
		RunID:     r.RunID,
		AgentID:   r.AgentID,
		Title:     r.Title,
		Message:   r.Message,
		Data:      r.Data,
	}
}

type UpsertProfileRequest struct {
	DisplayName  string         `json:"displayName,omitempty"`
	Role         string         `json:"role,omitempty"`
	Description  string         `json:"description,omitempty"`
	Capabilities []string       `json:"capabilities,omitempty"`
	Meta         map[string]any `json:"meta,omitempty"`
}

func (r UpsertProfileRequest) toDomain(agentID string) domain.AgentProfile {
	return domain.AgentProfile{
		AgentID:      agentID,
		DisplayName:  r.DisplayName,
		Role:         r.Role,
		Description:  r.Description,
		Capabilities: r.Capabilities,
		Meta:         r.Meta,
	}
}

type IngestUsageRequest struct {
	ID           string         `json:"id,omitempty"`
	TS           string         `json:"ts,omitempty"`
	AgentID      string         `json:"agentId"`
	RunID        *string        `json:"runId,omitempty"`
	ProjectID    *string        `json:"projectId,omitempty"`
	Model        string         `json:"model,omitempty"`
	InputTokens  int64          `json:"inputTokens,omitempty"`
	OutputTokens int64          `json:"outputTokens,omitempty"`
	CostUSD      float64        `json:"costUSD,omitempty"`
	Meta         map[string]any `json:"meta,omitempty"`
}

func (r IngestUsageRequest) toDomain() domain.TokenUsageRecord {
	return domain.TokenUsageRecord{
		ID:           r.ID,
		TS:           r.TS,
		AgentID:      r.AgentID,
		RunID:        r.RunID,
		ProjectID:    r.ProjectID,
		Model:        r.Model,
		InputTokens:  r.InputTokens,
		OutputTokens: r.OutputTokens,
		CostUSD:      r.CostUSD,
		Meta:         r.Meta,
	}
}
