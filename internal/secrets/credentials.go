package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/haatos/simple-cd/internal/types"
)

var ErrInvalidCredential = errors.New("invalid credential")

type Credential struct {
	Env     string
	FileKey string
	Value   string
	// Secret is set for values that came from a secret source; they are
	// redacted from run output.
	Secret bool
}

// CredentialSet is the resolved, validated set of credentials of one run.
type CredentialSet struct {
	creds []Credential
}

// Resolve looks up every binding in src. A missing, empty or malformed
// value is a configuration error; secrets are never defaulted.
func Resolve(ctx context.Context, src Source, bindings []types.CredentialBinding) (*CredentialSet, error) {
	set := &CredentialSet{creds: make([]Credential, 0, len(bindings))}
	var errs []error
	for _, b := range bindings {
		c := Credential{Env: b.Env, FileKey: b.FileKey, Value: b.Value}
		if b.Secret != "" {
			if src == nil {
				errs = append(errs, fmt.Errorf("%w: %s: no secret source configured", ErrInvalidCredential, b.Env))
				continue
			}
			v, err := src.Lookup(ctx, b.Secret)
			if err != nil {
				if errors.Is(err, ErrSecretNotFound) {
					errs = append(errs, fmt.Errorf("%w: %s: secret %s is not set", ErrInvalidCredential, b.Env, b.Secret))
					continue
				}
				return nil, fmt.Errorf("err looking up secret %s: %w", b.Secret, err)
			}
			c.Value = v
			c.Secret = true
		}
		if err := validateValue(c); err != nil {
			errs = append(errs, err)
			continue
		}
		set.creds = append(set.creds, c)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return set, nil
}

func validateValue(c Credential) error {
	switch {
	case strings.TrimSpace(c.Value) == "":
		return fmt.Errorf("%w: %s is empty", ErrInvalidCredential, c.Env)
	case strings.ContainsAny(c.Value, "\r\n\x00"):
		return fmt.Errorf("%w: %s contains a line break or NUL byte", ErrInvalidCredential, c.Env)
	}
	return nil
}

func (s *CredentialSet) Credentials() []Credential {
	return s.creds
}

// Get returns the value bound to env.
func (s *CredentialSet) Get(env string) (string, bool) {
	for _, c := range s.creds {
		if c.Env == env {
			return c.Value, true
		}
	}
	return "", false
}

func (s *CredentialSet) Env() []string {
	env := make([]string, 0, len(s.creds))
	for _, c := range s.creds {
		env = append(env, c.Env+"="+c.Value)
	}
	return env
}

// SecretValues returns the values that must never show up in output.
func (s *CredentialSet) SecretValues() []string {
	var values []string
	for _, c := range s.creds {
		if c.Secret {
			values = append(values, c.Value)
		}
	}
	return values
}

func (s *CredentialSet) String() string {
	names := make([]string, 0, len(s.creds))
	for _, c := range s.creds {
		if c.Secret {
			names = append(names, c.Env+"=***")
		} else {
			names = append(names, c.Env+"="+c.Value)
		}
	}
	return "CredentialSet[" + strings.Join(names, " ") + "]"
}

func (s *CredentialSet) GoString() string {
	return s.String()
}
