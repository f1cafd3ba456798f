package store

import (
	"context"
	"time"

	"github.com/haatos/simple-cd/internal/types"
)

type Run struct {
	RunID            int64 `param:"run_id"`
	Pipeline         string
	Event            types.EventKind
	Branch           string
	Revision         string
	Status           types.RunStatus
	FailedStep       *string
	WorkingDirectory *string
	CacheKey         *string
	Output           *string
	CreatedOn        time.Time
	StartedOn        *time.Time
	EndedOn          *time.Time
}

func (r *Run) Finished() bool {
	switch r.Status {
	case types.StatusPassed, types.StatusFailed, types.StatusCancelled:
		return true
	}
	return false
}

type RunStore interface {
	CreateRun(context.Context, string, types.EventKind, string, string) (*Run, error)
	ReadRunByID(context.Context, int64) (*Run, error)
	UpdateRunStartedOn(context.Context, int64, string, types.RunStatus, time.Time) error
	UpdateRunEndedOn(context.Context, int64, types.RunStatus, *string, *string, time.Time) error
	AppendRunOutput(context.Context, int64, string) error
	ListPipelineRunsPaginated(context.Context, string, int64, int64) ([]Run, error)
	CountPipelineRuns(context.Context, string) (int64, error)
	DeleteRunsBefore(context.Context, time.Time) (int64, error)
	FailUnfinishedRuns(context.Context, time.Time) (int64, error)
}
