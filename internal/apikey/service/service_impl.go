package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
	apikeydomain "github.com/smallbiznis/schoolhub/internal/apikey/domain"
	"github.com/smallbiznis/schoolhub/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const apiKeySecretBytes = 32

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  apikeydomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  apikeydomain.Repository
	genID *snowflake.Node
	clock clock.Clock
}

func New(p Params) apikeydomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("apikey.service"),
		repo:  p.Repo,
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) List(ctx context.Context, tenantID snowflake.ID) ([]apikeydomain.Response, error) {
	if tenantID == 0 {
		return nil, apikeydomain.ErrInvalidTenant
	}

	items, err := s.repo.List(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}

	resp := make([]apikeydomain.Response, 0, len(items))
	for i := range items {
		resp = append(resp, toResponse(&items[i]))
	}
	return resp, nil
}

// Create issues a key. The raw secret is only ever present in the returned value.
func (s *Service) Create(ctx context.Context, tenantID snowflake.ID, req apikeydomain.CreateRequest) (*apikeydomain.SecretResponse, error) {
	if tenantID == 0 {
		return nil, apikeydomain.ErrInvalidTenant
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apikeydomain.ErrInvalidName
	}

	perms, err := apikeydomain.ParsePermissions(req.Permissions)
	if err != nil {
		return nil, err
	}

	rateLimit := req.RateLimit
	if rateLimit == 0 {
		rateLimit = apikeydomain.DefaultRateLimit
	}
	if rateLimit < 0 || rateLimit > apikeydomain.MaxRateLimit {
		return nil, apikeydomain.ErrInvalidRateLimit
	}

	now := s.clock.Now().UTC()
	var expiresAt *time.Time
	if req.ExpiresAt != nil {
		exp := req.ExpiresAt.UTC()
		if !exp.After(now) {
			return nil, apikeydomain.ErrInvalidExpiry
		}
		expiresAt = &exp
	}

	id := s.genID.Generate()
	keyID := newKeyID(id)
	plain, hash, err := generateAPIKey(keyID)
	if err != nil {
		return nil, err
	}

	stored := make(pq.StringArray, 0, len(perms))
	for _, p := range perms {
		stored = append(stored, string(p))
	}

	key := &apikeydomain.APIKey{
		ID:          id,
		TenantID:    tenantID,
		KeyID:       keyID,
		Name:        name,
		KeyPrefix:   apikeydomain.VisiblePrefix(plain),
		KeyHash:     hash,
		Permissions: stored,
		RateLimit:   rateLimit,
		ExpiresAt:   expiresAt,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.Insert(ctx, s.db, key); err != nil {
		return nil, err
	}

	s.log.Info("api key created",
		zap.String("tenant_id", tenantID.String()),
		zap.String("key_id", keyID),
		zap.Strings("permissions", key.Permissions),
	)

	return &apikeydomain.SecretResponse{Response: toResponse(key), APIKey: plain}, nil
}

// Revoke deactivates the key but keeps the row for audit.
func (s *Service) Revoke(ctx context.Context, tenantID snowflake.ID, keyID string) error {
	trimmed, err := validateKeyRef(tenantID, keyID)
	if err != nil {
		return err
	}

	moved, err := s.repo.Deactivate(ctx, s.db, tenantID, trimmed, s.clock.Now().UTC())
	if err != nil {
		return err
	}
	if !moved {
		return apikeydomain.ErrNotFound
	}
	s.log.Info("api key revoked", zap.String("tenant_id", tenantID.String()), zap.String("key_id", trimmed))
	return nil
}

func (s *Service) Delete(ctx context.Context, tenantID snowflake.ID, keyID string) error {
	trimmed, err := validateKeyRef(tenantID, keyID)
	if err != nil {
		return err
	}

	removed, err := s.repo.Delete(ctx, s.db, tenantID, trimmed)
	if err != nil {
		return err
	}
	if !removed {
		return apikeydomain.ErrNotFound
	}
	s.log.Info("api key deleted", zap.String("tenant_id", tenantID.String()), zap.String("key_id", trimmed))
	return nil
}

func validateKeyRef(tenantID snowflake.ID, keyID string) (string, error) {
	if tenantID == 0 {
		return "", apikeydomain.ErrInvalidTenant
	}
	trimmed := strings.TrimSpace(keyID)
	if trimmed == "" {
		return "", apikeydomain.ErrInvalidKeyID
	}
	return trimmed, nil
}

func toResponse(key *apikeydomain.APIKey) apikeydomain.Response {
	return apikeydomain.Response{
		KeyID:       key.KeyID,
		Name:        key.Name,
		KeyPrefix:   key.KeyPrefix,
		Permissions: append([]string(nil), key.Permissions...),
		RateLimit:   key.RateLimit,
		IsActive:    key.IsActive,
		CreatedAt:   key.CreatedAt,
		LastUsedAt:  key.LastUsedAt,
		ExpiresAt:   key.ExpiresAt,
	}
}

func generateAPIKey(keyID string) (string, string, error) {
	secret := make([]byte, apiKeySecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", "", err
	}

	secretPart := hex.EncodeToString(secret)
	trimmed := strings.TrimPrefix(keyID, "key_")
	plain := fmt.Sprintf("%s%s_%s", apikeydomain.SecretPrefix, trimmed, secretPart)
	return plain, apikeydomain.HashAPIKey(plain), nil
}

func newKeyID(id snowflake.ID) string {
	return "key_" + strconv.FormatInt(int64(id), 36)
}
