package engine

import (
	"context"
	"fmt"
	"strings"

	"planline/internal/domain"
	"planline/internal/repo"
)

// Action types understood by the processor.
const (
	ActionSetStatus    = "set_status"
	ActionSetPriority  = "set_priority"
	ActionSetProgress  = "set_progress"
	ActionBumpProgress = "bump_progress"
	ActionAppendNote   = "append_note"
	ActionAddTag       = "add_tag"
	ActionRemoveTag    = "remove_tag"
)

// Action result statuses.
const (
	ResultOK       = "ok"
	ResultExists   = "exists"
	ResultConflict = "conflict"
	ResultError    = "error"
)

type ActionParams struct {
	Status    string `json:"status,omitempty" enum:"planning,in-progress,paused,completed,cancelled"`
	Priority  string `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	Progress  *int   `json:"progress,omitempty"`
	Delta     *int   `json:"delta,omitempty"`
	Note      string `json:"note,omitempty"`
	AlsoWrite bool   `json:"alsoWriteToProjectNotes,omitempty"`
	Tag       string `json:"tag,omitempty"`
}

type Action struct {
	ID          string       `json:"id,omitempty"`
	ProjectID   string       `json:"projectId,omitempty"`
	Type        string       `json:"type" enum:"set_status,set_priority,set_progress,bump_progress,append_note,add_tag,remove_tag"`
	Params      ActionParams `json:"params,omitempty"`
	RecordOnly  bool         `json:"recordOnly,omitempty"`
	IfUpdatedAt string       `json:"ifUpdatedAt,omitempty"`
}

type ActionRequest struct {
	AgentID   string   `json:"agentId"`
	RunID     string   `json:"runId,omitempty"`
	ProjectID string   `json:"projectId,omitempty"`
	Actions   []Action `json:"actions"`
}

type ActionResult struct {
	ID       string             `json:"id"`
	Status   string             `json:"status" enum:"ok,exists,conflict,error"`
	Message  string             `json:"message,omitempty"`
	Error    string             `json:"error,omitempty"`
	Expected string             `json:"expected,omitempty"`
	Actual   string             `json:"actual,omitempty"`
	Project  *domain.Project    `json:"project,omitempty"`
	Event    *domain.AgentEvent `json:"event,omitempty"`
}

type ActionOutcome struct {
	Results     []ActionResult `json:"results"`
	Changed     bool           `json:"changed"`
	LastUpdated string         `json:"lastUpdated,omitempty"`
}

// projectSnapshot is the slice of project state an action can touch,
// captured before and after for the ledger entry.
type projectSnapshot struct {
	Status   string   `json:"status"`
	Priority string   `json:"priority"`
	Progress int      `json:"progress"`
	Tags     []string `json:"tags"`
}

func snapshot(p domain.Project) projectSnapshot {
	return projectSnapshot{
		Status:   p.Status,
		Priority: p.Priority,
		Progress: p.Progress,
		Tags:     p.TagSet(),
	}
}

// ProcessActions applies each action in its own transaction. Idempotency
// rides on the ledger: the ledger entry carries the action's id, so a
// replayed action finds its own entry and reports "exists" without
// touching anything. A conflict or validation failure writes no ledger
// entry; everything that gets past those checks leaves one, even when the
// row write itself is skipped (recordOnly, no-op).
func (e Engine) ProcessActions(ctx context.Context, req ActionRequest) (ActionOutcome, error) {
	if strings.TrimSpace(req.AgentID) == "" {
		return ActionOutcome{}, domain.Validationf("agentId is required")
	}
	out := ActionOutcome{Results: []ActionResult{}}
	r := e.repo()
	for _, act := range req.Actions {
		res, applied, err := e.processOne(ctx, r, req, act)
		if err != nil {
			return ActionOutcome{}, err
		}
		if applied {
			out.Changed = true
		}
		out.Results = append(out.Results, res)
	}
	last, err := r.LastUpdated(ctx, repo.MetaProjectsLastUpdated)
	if err != nil {
		return ActionOutcome{}, err
	}
	out.LastUpdated = last
	return out, nil
}

func (e Engine) processOne(ctx context.Context, r repo.Repo, req ActionRequest, act Action) (ActionResult, bool, error) {
	if strings.TrimSpace(act.ID) == "" {
		act.ID = domain.NewID("act")
	}
	res := ActionResult{ID: act.ID}

	projectID := act.ProjectID
	if projectID == "" {
		projectID = req.ProjectID
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, false, domain.WrapStorage("begin tx", err)
	}
	defer tx.Rollback()

	if stored, err := r.GetEventTx(ctx, tx, act.ID); err == nil {
		// Replay: hand back the recorded event and the project as it
		// stands now, without touching either.
		res.Status = ResultExists
		res.Message = "action exists"
		res.Event = &stored
		pid := projectID
		if stored.ProjectID != nil && *stored.ProjectID != "" {
			pid = *stored.ProjectID
		}
		if pid != "" {
			p, perr := r.GetProjectTx(ctx, tx, pid)
			if perr == nil {
				res.Project = &p
			} else if !domain.IsNotFound(perr) {
				return res, false, perr
			}
		}
		return res, false, tx.Commit()
	} else if !domain.IsNotFound(err) {
		return res, false, err
	}

	if projectID == "" {
		res.Status = ResultError
		res.Error = "validation: projectId is required"
		return res, false, tx.Commit()
	}

	p, err := r.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		if domain.IsNotFound(err) {
			res.Status = ResultError
			res.Error = "not_found: " + projectID
			return res, false, tx.Commit()
		}
		return res, false, err
	}
	if act.IfUpdatedAt != "" && act.IfUpdatedAt != p.UpdatedAt {
		res.Status = ResultConflict
		res.Expected = act.IfUpdatedAt
		res.Actual = p.UpdatedAt
		return res, false, tx.Commit()
	}

	before := snapshot(p)
	mutated := p
	changed, err := e.applyAction(&mutated, req.AgentID, act)
	if err != nil {
		res.Status = ResultError
		res.Error = "validation: " + err.Error()
		return res, false, tx.Commit()
	}

	// The after snapshot reflects the computed state even when the write
	// is skipped (recordOnly, or a no-op like re-adding a present tag).
	after := snapshot(mutated)
	res.Project = &p
	applied := false
	if changed && !act.RecordOnly {
		saved, err := r.SaveProjectTx(ctx, tx, mutated)
		if err != nil {
			return res, false, err
		}
		after = snapshot(saved)
		res.Project = &saved
		applied = true
	}

	ev := domain.AgentEvent{
		ID:        act.ID,
		Type:      "action." + act.Type,
		Level:     domain.LevelInfo,
		ProjectID: &projectID,
		AgentID:   &req.AgentID,
		Data: map[string]any{
			"action": map[string]any{
				"type":        act.Type,
				"params":      act.Params,
				"recordOnly":  act.RecordOnly,
				"ifUpdatedAt": act.IfUpdatedAt,
			},
			"before":           before,
			"after":            after,
			"projectUpdatedAt": res.Project.UpdatedAt,
		},
	}
	if req.RunID != "" {
		runID := req.RunID
		ev.RunID = &runID
	}
	stored, _, err := r.AppendEventTx(ctx, tx, ev)
	if err != nil {
		return res, false, err
	}
	if err := tx.Commit(); err != nil {
		return res, false, err
	}
	res.Status = ResultOK
	res.Event = &stored
	return res, applied, nil
}

// applyAction mutates the record in place and reports whether anything
// actually changed. Setting a field to its current value is a no-op, not a
// mutation; no-ops still get their ledger entry but skip the row write.
func (e Engine) applyAction(p *domain.Project, agentID string, act Action) (bool, error) {
	changed := false
	switch act.Type {
	case ActionSetStatus:
		if !domain.ValidStatus(act.Params.Status) {
			return false, fmt.Errorf("invalid status %q", act.Params.Status)
		}
		if p.Status != act.Params.Status {
			p.Status = act.Params.Status
			changed = true
		}
	case ActionSetPriority:
		if !domain.ValidPriority(act.Params.Priority) {
			return false, fmt.Errorf("invalid priority %q", act.Params.Priority)
		}
		if p.Priority != act.Params.Priority {
			p.Priority = act.Params.Priority
			changed = true
		}
	case ActionSetProgress:
		if act.Params.Progress == nil {
			return false, fmt.Errorf("progress is required")
		}
		if v := domain.ClampProgress(*act.Params.Progress); p.Progress != v {
			p.Progress = v
			changed = true
		}
	case ActionBumpProgress:
		if act.Params.Delta == nil {
			return false, fmt.Errorf("delta is required")
		}
		if v := domain.ClampProgress(p.Progress + *act.Params.Delta); p.Progress != v {
			p.Progress = v
			changed = true
		}
	case ActionAppendNote:
		note := strings.TrimSpace(act.Params.Note)
		if note == "" {
			return false, fmt.Errorf("note is required")
		}
		// Log-only by default; the note lands in the project's notes
		// only when the caller asks for it.
		if act.Params.AlsoWrite {
			line := fmt.Sprintf("[%s] (%s) %s", e.now().UTC().Format("2006-01-02 15:04"), agentID, note)
			p.Notes = appendLine(p.Notes, line)
			changed = true
		}
	case ActionAddTag:
		tag := strings.TrimSpace(act.Params.Tag)
		if tag == "" {
			return false, fmt.Errorf("tag is required")
		}
		if !p.HasTag(tag) {
			p.Tags = append(p.TagSet(), tag)
			changed = true
		}
	case ActionRemoveTag:
		tag := strings.TrimSpace(act.Params.Tag)
		if tag == "" {
			return false, fmt.Errorf("tag is required")
		}
		if p.HasTag(tag) {
			tags := []string{}
			for _, t := range p.TagSet() {
				if t != tag {
					tags = append(tags, t)
				}
			}
			p.Tags = tags
			changed = true
		}
	default:
		return false, fmt.Errorf("unknown action type %q", act.Type)
	}
	return changed, nil
}

func appendLine(text, line string) string {
	if strings.TrimSpace(text) == "" {
		return line
	}
	return text + "\n" + line
}
