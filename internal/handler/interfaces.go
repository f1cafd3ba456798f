package handler

import (
	"context"

	"github.com/haatos/simple-cd/internal/store"
	"github.com/haatos/simple-cd/internal/types"
)

type RunServicer interface {
	TriggerPullRequest(context.Context, types.Event) ([]*store.Run, error)
	Dispatch(context.Context, string, map[string]string) (*store.Run, error)
	CancelRun(context.Context, int64) error
	GetRun(context.Context, int64) (*store.Run, error)
	ListRuns(context.Context, string, int64) ([]store.Run, int64, error)
}

type APIKeyServicer interface {
	Authenticate(context.Context, string) (*store.APIKey, error)
}
