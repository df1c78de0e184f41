package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/schoolhub/internal/audit/domain"
	"github.com/smallbiznis/schoolhub/internal/audit/masking"
	"github.com/smallbiznis/schoolhub/internal/clock"
	obscontext "github.com/smallbiznis/schoolhub/internal/observability/context"
	"github.com/smallbiznis/schoolhub/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Record(ctx context.Context, entry auditdomain.Entry) error {
	action := strings.TrimSpace(entry.Action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}

	targetType := strings.TrimSpace(entry.TargetType)
	if targetType == "" {
		targetType = "unknown"
	}

	actorType, actorID := resolveActor(ctx)

	payload := masking.MaskSensitive(entry.Metadata)
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		if payload == nil {
			payload = map[string]any{}
		}
		payload["request_id"] = requestID
	}

	log := auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		ActorType:  actorType,
		ActorID:    actorID,
		Action:     action,
		TargetType: targetType,
		TargetID:   optional(entry.TargetID),
		IPAddress:  optional(entry.IPAddress),
		UserAgent:  optional(entry.UserAgent),
		CreatedAt:  s.clock.Now().UTC(),
	}
	if entry.TenantID != 0 {
		tenantID := entry.TenantID
		log.TenantID = &tenantID
	}
	if len(payload) > 0 {
		log.Metadata = datatypes.JSONMap(payload)
	}

	if err := s.repo.Insert(ctx, s.db, &log); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	if req.TenantID == 0 {
		return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidTenant
	}

	var cursor *auditdomain.AuditCursor
	if token := strings.TrimSpace(req.PageToken); token != "" {
		decoded, err := decodeCursor(token)
		if err != nil {
			return auditdomain.ListAuditLogResponse{}, err
		}
		cursor = decoded
	}

	size := pagination.Size(req.PageSize)
	items, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		TenantID:   req.TenantID,
		Action:     req.Action,
		TargetType: req.TargetType,
		ActorType:  req.ActorType,
		Cursor:     cursor,
		Limit:      size + 1,
	})
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}

	page, info := pagination.BuildCursorPageInfo(items, size, encodeCursor)
	if page == nil {
		page = []auditdomain.AuditLog{}
	}
	return auditdomain.ListAuditLogResponse{AuditLogs: page, PageInfo: info}, nil
}

func resolveActor(ctx context.Context) (string, *string) {
	actorType, actorID := obscontext.ActorFromContext(ctx)
	if strings.TrimSpace(actorType) == "" {
		return string(auditdomain.ActorTypeSystem), nil
	}
	return actorType, optional(actorID)
}

func encodeCursor(item auditdomain.AuditLog) string {
	token, err := pagination.EncodeCursor(pagination.Cursor{
		ID:        item.ID.String(),
		CreatedAt: item.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return ""
	}
	return token
}

func decodeCursor(token string) (*auditdomain.AuditCursor, error) {
	decoded, err := pagination.DecodeCursor(token)
	if err != nil {
		return nil, auditdomain.ErrInvalidPageToken
	}
	id, err := strconv.ParseInt(strings.TrimSpace(decoded.ID), 10, 64)
	if err != nil || id <= 0 {
		return nil, auditdomain.ErrInvalidPageToken
	}
	createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
	if err != nil {
		return nil, auditdomain.ErrInvalidPageToken
	}
	return &auditdomain.AuditCursor{ID: snowflake.ID(id), CreatedAt: createdAt.UTC()}, nil
}

func optional(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
