// Package secrets resolves the credentials a run needs and scopes them to
// that run only.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/zalando/go-keyring"
)

var ErrSecretNotFound = errors.New("secret not found")

// Source looks up secret values by name.
type Source interface {
	Lookup(ctx context.Context, name string) (string, error)
}

// EnvSource reads secrets from the orchestrator's process environment,
// which is how most CI hosts hand them over.
type EnvSource struct{}

func (EnvSource) Lookup(_ context.Context, name string) (string, error) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return v, nil
}

// DotenvSource reads secrets from a dotenv file without exporting them.
type DotenvSource struct {
	values map[string]string
}

func NewDotenvSource(path string) (*DotenvSource, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("err reading secrets file %s: %w", path, err)
	}
	return &DotenvSource{values: values}, nil
}

func (s *DotenvSource) Lookup(_ context.Context, name string) (string, error) {
	v, ok := s.values[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return v, nil
}

// KeyringSource reads secrets from the OS keychain, stored under Service
// with the secret name as the user.
type KeyringSource struct {
	Service string
}

func (s KeyringSource) Lookup(_ context.Context, name string) (string, error) {
	v, err := keyring.Get(s.Service, name)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
		}
		return "", fmt.Errorf("err reading %s from keyring: %w", name, err)
	}
	return v, nil
}

func (s KeyringSource) Set(name, value string) error {
	return keyring.Set(s.Service, name, value)
}

func (s KeyringSource) Delete(name string) error {
	err := keyring.Delete(s.Service, name)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

type MapSource map[string]string

func (m MapSource) Lookup(_ context.Context, name string) (string, error) {
	v, ok := m[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return v, nil
}

// Chain asks each source in order; the first that knows the name wins.
type Chain []Source

func (c Chain) Lookup(ctx context.Context, name string) (string, error) {
	for _, src := range c {
		v, err := src.Lookup(ctx, name)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrSecretNotFound) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
}
