package store

import (
	"context"
	"time"
)

// Secret is an encrypted secret value. ValueHash holds the AES-GCM cipher
// text; the plain value is never stored.
type Secret struct {
	SecretID  int64
	Name      string
	ValueHash string
	CreatedOn time.Time
	UpdatedOn time.Time
}

type SecretStore interface {
	UpsertSecret(context.Context, string, string) (*Secret, error)
	ReadSecretByName(context.Context, string) (*Secret, error)
	DeleteSecret(context.Context, string) error
	ListSecrets(context.Context) ([]*Secret, error)
}
