package store

import (
	"context"
	"time"
)

// APIKey authenticates webhook and dispatch callers. Only the SHA-256 of
// the key value is stored.
type APIKey struct {
	ID         int64
	ValueHash  string
	CreatedOn  time.Time
	LastUsedOn *time.Time
}

type APIKeyStore interface {
	CreateAPIKey(context.Context, string) (*APIKey, error)
	ReadAPIKeyByID(context.Context, int64) (*APIKey, error)
	ReadAPIKeyByValueHash(context.Context, string) (*APIKey, error)
	UpdateAPIKeyLastUsedOn(context.Context, int64, time.Time) error
	DeleteAPIKey(context.Context, int64) error
	ListAPIKeys(context.Context) ([]*APIKey, error)
}
