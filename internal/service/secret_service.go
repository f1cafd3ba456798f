package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"github.com/haatos/simple-cd/internal/secrets"
	"github.com/haatos/simple-cd/internal/security"
	"github.com/haatos/simple-cd/internal/store"
)

var secretNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type SecretWriter interface {
	UpsertSecret(context.Context, string, string) (*store.Secret, error)
	DeleteSecret(context.Context, string) error
}

type SecretReader interface {
	ReadSecretByName(context.Context, string) (*store.Secret, error)
	ListSecrets(context.Context) ([]*store.Secret, error)
}

type SecretStore interface {
	SecretWriter
	SecretReader
}

// SecretService keeps secrets encrypted at rest. It is also a
// secrets.Source, so pipelines can resolve credentials from it.
type SecretService struct {
	secretStore SecretStore
	encrypter   security.Encrypter
}

func NewSecretService(s SecretStore, encrypter security.Encrypter) *SecretService {
	return &SecretService{secretStore: s, encrypter: encrypter}
}

func (s *SecretService) SetSecret(ctx context.Context, name, value string) (*store.Secret, error) {
	if !secretNameRe.MatchString(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSecretName, name)
	}
	if value == "" {
		return nil, fmt.Errorf("secret %s has an empty value", name)
	}
	hash, err := s.encrypter.EncryptAES(value)
	if err != nil {
		return nil, err
	}
	return s.secretStore.UpsertSecret(ctx, name, hash)
}

func (s *SecretService) Lookup(ctx context.Context, name string) (string, error) {
	sec, err := s.secretStore.ReadSecretByName(ctx, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: %s", secrets.ErrSecretNotFound, name)
		}
		return "", err
	}
	b, err := s.encrypter.DecryptAES(sec.ValueHash)
	if err != nil {
		return "", fmt.Errorf("err decrypting secret %s: %w", name, err)
	}
	return string(b), nil
}

func (s *SecretService) DeleteSecret(ctx context.Context, name string) error {
	return s.secretStore.DeleteSecret(ctx, name)
}

func (s *SecretService) ListSecrets(ctx context.Context) ([]*store.Secret, error) {
	list, err := s.secretStore.ListSecrets(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return list, nil
}
