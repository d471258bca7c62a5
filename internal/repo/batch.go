package repo

import (
	"context"
	"fmt"

	"planline/internal/domain"
)

// Batch op kinds.
const (
	BatchOpCreate = "create"
	BatchOpPatch  = "patch"
	BatchOpDelete = "delete"
)

type BatchOp struct {
	OpID        string          `json:"opId,omitempty"`
	Op          string          `json:"op" enum:"create,patch,delete"`
	ID          string          `json:"id,omitempty"`
	Project     *domain.Project `json:"project,omitempty"`
	Patch       *ProjectPatch   `json:"patch,omitempty"`
	IfUpdatedAt string          `json:"ifUpdatedAt,omitempty"`
}

type BatchOpResult struct {
	OpID  string `json:"opId,omitempty"`
	OK    bool   `json:"ok"`
	ID    string `json:"id,omitempty"`
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

type BatchResult struct {
	Results     []BatchOpResult `json:"results"`
	AnyChanged  bool            `json:"anyChanged"`
	LastUpdated string          `json:"lastUpdated,omitempty"`
}

// BatchProjects runs every op inside one transaction, each op fenced by its
// own savepoint. A failing op rolls back to its savepoint only; the ops
// around it commit or fail on their own terms. The whole call errors only
// on infrastructure failure.
func (r Repo) BatchProjects(ctx context.Context, ops []BatchOp) (BatchResult, error) {
	var out BatchResult
	tx, err := r.begin(ctx)
	if err != nil {
		return out, err
	}
	defer tx.Rollback()

	for i, op := range ops {
		sp := fmt.Sprintf("batch_op_%d", i)
		if _, err := tx.ExecContext(ctx, "SAVEPOINT "+sp); err != nil {
			return out, err
		}
		res := BatchOpResult{OpID: op.OpID}
		var opErr error
		switch op.Op {
		case BatchOpCreate:
			var p domain.Project
			if op.Project != nil {
				p = *op.Project
			}
			var created domain.Project
			created, opErr = r.createProjectTx(ctx, tx, p)
			if opErr == nil {
				res.ID = created.ID
			}
		case BatchOpPatch:
			var patch ProjectPatch
			if op.Patch != nil {
				patch = *op.Patch
			}
			var patched domain.Project
			patched, opErr = r.patchProjectTx(ctx, tx, op.ID, patch, op.IfUpdatedAt)
			if opErr == nil {
				res.ID = patched.ID
			}
		case BatchOpDelete:
			opErr = r.deleteProjectTx(ctx, tx, op.ID)
			if opErr == nil {
				res.ID = op.ID
			}
		default:
			opErr = domain.Validationf("unknown batch op: %q", op.Op)
		}
		if opErr != nil {
			if _, err := tx.ExecContext(ctx, "ROLLBACK TO "+sp); err != nil {
				return out, err
			}
			res.OK = false
			res.Error = opErr.Error()
			res.Code = errorCode(opErr)
		} else {
			res.OK = true
			out.AnyChanged = true
		}
		if _, err := tx.ExecContext(ctx, "RELEASE "+sp); err != nil {
			return out, err
		}
		out.Results = append(out.Results, res)
	}
	if err := tx.Commit(); err != nil {
		return out, err
	}
	last, err := r.LastUpdated(ctx, MetaProjectsLastUpdated)
	if err != nil {
		return out, err
	}
	out.LastUpdated = last
	if out.Results == nil {
		out.Results = []BatchOpResult{}
	}
	return out, nil
}

func errorCode(err error) string {
	switch {
	case domain.IsNotFound(err):
		return "not_found"
	case domain.IsConflict(err):
		return "conflict"
	case domain.IsValidation(err):
		return "validation"
	default:
		return "internal"
	}
}
