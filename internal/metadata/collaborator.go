// Package metadata is the narrow surface the execution core uses to look up
// plans and cases and to report verdicts, plus a SQLite-backed implementation.
package metadata

import (
	"context"
	"errors"

	"github.com/msageha/tcexec/internal/model"
)

var ErrNotFound = errors.New("not found")

// Collaborator resolves plan metadata and records results upstream.
type Collaborator interface {
	ResolvePlan(ctx context.Context, project, plan string) (model.PlanInfo, error)
	OrderedCases(ctx context.Context, planID int) ([]model.CaseInfo, error)
	CaseInfo(ctx context.Context, internalID int) (model.CaseInfo, error)
	ReportResult(ctx context.Context, result model.ReportedResult) error
}
