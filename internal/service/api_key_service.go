package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/haatos/simple-cd/internal/store"
)

const apiKeyPrefix = "scd_"

type KeyGenerator interface {
	GenerateKey() string
}

func NewKeyGen() *KeyGen {
	return &KeyGen{}
}

// KeyGen produces key values of the form scd_<32 hex chars>.
type KeyGen struct{}

func (kg *KeyGen) GenerateKey() string {
	return apiKeyPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// HashAPIKey returns the form in which a key value is persisted.
func HashAPIKey(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// APIKeyService manages the keys webhook and dispatch callers present in
// the X-SimpleCD-Webhook-Key header. Plain key values leave the service
// once, from CreateAPIKey.
type APIKeyService struct {
	apiKeyStore  store.APIKeyStore
	keyGenerator KeyGenerator
	now          func() time.Time
}

func NewAPIKeyService(s store.APIKeyStore, keyGenerator KeyGenerator) *APIKeyService {
	return &APIKeyService{apiKeyStore: s, keyGenerator: keyGenerator, now: time.Now}
}

func (s *APIKeyService) CreateAPIKey(ctx context.Context) (*store.APIKey, string, error) {
	value := s.keyGenerator.GenerateKey()
	ak, err := s.apiKeyStore.CreateAPIKey(ctx, HashAPIKey(value))
	if err != nil {
		return nil, "", err
	}
	return ak, value, nil
}

// Authenticate resolves a presented key value and records its use.
func (s *APIKeyService) Authenticate(ctx context.Context, value string) (*store.APIKey, error) {
	ak, err := s.apiKeyStore.ReadAPIKeyByValueHash(ctx, HashAPIKey(value))
	if err != nil {
		return nil, err
	}
	usedOn := s.now().UTC()
	if err := s.apiKeyStore.UpdateAPIKeyLastUsedOn(ctx, ak.ID, usedOn); err != nil {
		return nil, err
	}
	ak.LastUsedOn = &usedOn
	return ak, nil
}

func (s *APIKeyService) GetAPIKeyByID(ctx context.Context, id int64) (*store.APIKey, error) {
	return s.apiKeyStore.ReadAPIKeyByID(ctx, id)
}

func (s *APIKeyService) DeleteAPIKey(ctx context.Context, id int64) error {
	return s.apiKeyStore.DeleteAPIKey(ctx, id)
}

func (s *APIKeyService) ListAPIKeys(ctx context.Context) ([]*store.APIKey, error) {
	return s.apiKeyStore.ListAPIKeys(ctx)
}
