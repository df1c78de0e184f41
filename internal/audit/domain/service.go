package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/schoolhub/pkg/db/pagination"
)

// Entry is one privileged action to record. The actor is taken from the
// request context.
type Entry struct {
	TenantID   snowflake.ID
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]any
	IPAddress  string
	UserAgent  string
}

type ListAuditLogRequest struct {
	pagination.Pagination
	TenantID   snowflake.ID
	Action     string
	TargetType string
	ActorType  string
}

type ListAuditLogResponse struct {
	AuditLogs []AuditLog           `json:"audit_logs"`
	PageInfo  *pagination.PageInfo `json:"page_info"`
}

type Service interface {
	Record(ctx context.Context, entry Entry) error
	List(ctx context.Context, req ListAuditLogRequest) (ListAuditLogResponse, error)
}

var (
	ErrInvalidTenant    = errors.New("invalid_tenant")
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrInvalidAction    = errors.New("invalid_action")
)
