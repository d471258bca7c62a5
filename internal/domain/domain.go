package domain

import (
	"strings"

	"github.com/google/uuid"
)

// Project statuses.
const (
	StatusPlanning   = "planning"
	StatusInProgress = "in-progress"
	StatusPaused     = "paused"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

// Project priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Agent run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

// Event levels.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

var ProjectStatuses = []string{StatusPlanning, StatusInProgress, StatusPaused, StatusCompleted, StatusCancelled}
var ProjectPriorities = []string{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}
var RunStatuses = []string{RunStatusRunning, RunStatusCompleted, RunStatusFailed, RunStatusCancelled}
var EventLevels = []string{LevelDebug, LevelInfo, LevelWarn, LevelError}

func ValidStatus(s string) bool   { return contains(ProjectStatuses, s) }
func ValidPriority(s string) bool { return contains(ProjectPriorities, s) }
func ValidRunStatus(s string) bool {
	return contains(RunStatuses, s)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// NewID returns a short prefixed identifier, e.g. "proj-3fa85f64".
func NewID(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

// Money is a monetary total. Stored as an object so future breakdowns can
// live alongside the total without a schema change.
type Money struct {
	Total float64 `json:"total"`
}

type Project struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Notes       string   `json:"notes"`
	Status      string   `json:"status" enum:"planning,in-progress,paused,completed,cancelled"`
	Priority    string   `json:"priority" enum:"low,medium,high,urgent"`
	Progress    int      `json:"progress" minimum:"0" maximum:"100"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags"`
	Cost        Money    `json:"cost"`
	Revenue     Money    `json:"revenue"`
	Budget      float64  `json:"budget"`
	ActualCost  float64  `json:"actualCost"`
	SortOrder   int      `json:"sortOrder"`
	CreatedAt   string   `json:"createdAt"`
	UpdatedAt   string   `json:"updatedAt"`
}

type AgentRun struct {
	ID         string         `json:"id"`
	ProjectID  *string        `json:"projectId"`
	AgentID    *string        `json:"agentId"`
	Title      *string        `json:"title"`
	Summary    *string        `json:"summary"`
	Status     string         `json:"status" enum:"running,completed,failed,cancelled"`
	StartedAt  string         `json:"startedAt"`
	FinishedAt *string        `json:"finishedAt"`
	Links      []string       `json:"links"`
	Tags       []string       `json:"tags"`
	Metrics    map[string]any `json:"metrics"`
	Meta       map[string]any `json:"meta"`
	CreatedAt  string         `json:"createdAt"`
	UpdatedAt  string         `json:"updatedAt"`
}

type AgentEvent struct {
	ID        string  `json:"id"`
	TS        string  `json:"ts"`
	Type      string  `json:"type"`
	Level     string  `json:"level" enum:"debug,info,warn,error"`
	ProjectID *string `json:"projectId"`
	RunID     *string `json:"runId"`
	AgentID   *string `json:"agentId"`
	Title     *string `json:"title"`
	Message   *string `json:"message"`
	Data      any     `json:"data"`
}

type AgentProfile struct {
	AgentID      string         `json:"agentId"`
	DisplayName  string         `json:"displayName"`
	Role         string         `json:"role"`
	Description  string         `json:"description"`
	Capabilities []string       `json:"capabilities"`
	Meta         map[string]any `json:"meta"`
	CreatedAt    string         `json:"createdAt"`
	UpdatedAt    string         `json:"updatedAt"`
}

type TokenUsageRecord struct {
	ID           string         `json:"id"`
	TS           string         `json:"ts"`
	AgentID      string         `json:"agentId"`
	RunID        *string        `json:"runId"`
	ProjectID    *string        `json:"projectId"`
	Model        string         `json:"model"`
	InputTokens  int64          `json:"inputTokens"`
	OutputTokens int64          `json:"outputTokens"`
	CostUSD      float64        `json:"costUSD"`
	Meta         map[string]any `json:"meta"`
}

// NormalizeProject heals a project record in place and reports whether
// anything changed. Records are never rejected here; invalid values fall
// back to defaults so old rows stay readable.
func NormalizeProject(p *Project, now string) bool {
	changed := false
	if strings.TrimSpace(p.ID) == "" {
		p.ID = NewID("proj")
		changed = true
	}
	if p.CreatedAt == "" {
		if p.UpdatedAt != "" {
			p.CreatedAt = p.UpdatedAt
		} else {
			p.CreatedAt = now
		}
		changed = true
	}
	if p.UpdatedAt == "" {
		p.UpdatedAt = now
		changed = true
	}
	if !ValidStatus(p.Status) {
		p.Status = StatusPlanning
		changed = true
	}
	if !ValidPriority(p.Priority) {
		p.Priority = PriorityMedium
		changed = true
	}
	if clamped := ClampProgress(p.Progress); clamped != p.Progress {
		p.Progress = clamped
		changed = true
	}
	if tags, tc := normalizeTags(p.Tags); tc {
		p.Tags = tags
		changed = true
	} else if p.Tags == nil {
		p.Tags = []string{}
		changed = true
	}
	if p.Cost.Total < 0 {
		p.Cost.Total = 0
		changed = true
	}
	if p.Revenue.Total < 0 {
		p.Revenue.Total = 0
		changed = true
	}
	if p.Budget < 0 {
		p.Budget = 0
		changed = true
	}
	if p.ActualCost < 0 {
		p.ActualCost = 0
		changed = true
	}
	return changed
}

// NormalizeRun heals an agent run record in place.
func NormalizeRun(r *AgentRun, now string) bool {
	changed := false
	if strings.TrimSpace(r.ID) == "" {
		r.ID = NewID("run")
		changed = true
	}
	if r.CreatedAt == "" {
		r.CreatedAt = now
		changed = true
	}
	if r.UpdatedAt == "" {
		r.UpdatedAt = now
		changed = true
	}
	if r.StartedAt == "" {
		r.StartedAt = now
		changed = true
	}
	if !ValidRunStatus(r.Status) {
		r.Status = RunStatusRunning
		changed = true
	}
	if r.Links == nil {
		r.Links = []string{}
		changed = true
	}
	if tags, tc := normalizeTags(r.Tags); tc {
		r.Tags = tags
		changed = true
	} else if r.Tags == nil {
		r.Tags = []string{}
		changed = true
	}
	if r.Metrics == nil {
		r.Metrics = map[string]any{}
		changed = true
	}
	if r.Meta == nil {
		r.Meta = map[string]any{}
		changed = true
	}
	return changed
}

// NormalizeEvent fills read-side defaults. The ledger itself is append-only
// and is never rewritten.
func NormalizeEvent(e *AgentEvent) {
	if e.Type == "" {
		e.Type = "note"
	}
	if e.Level == "" {
		e.Level = LevelInfo
	}
}

func ClampProgress(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func normalizeTags(tags []string) ([]string, bool) {
	if tags == nil {
		return nil, false
	}
	out := make([]string, 0, len(tags))
	changed := false
	for _, t := range tags {
		s := strings.TrimSpace(t)
		if s == "" {
			changed = true
			continue
		}
		if contains(out, s) {
			changed = true
			continue
		}
		if s != t {
			changed = true
		}
		out = append(out, s)
	}
	return out, changed
}

// Tags returns the project's tag set, deduplicated and trimmed.
func (p *Project) TagSet() []string {
	tags, _ := normalizeTags(p.Tags)
	if tags == nil {
		return []string{}
	}
	return tags
}

func (p *Project) HasTag(tag string) bool {
	return contains(p.TagSet(), strings.TrimSpace(tag))
}
