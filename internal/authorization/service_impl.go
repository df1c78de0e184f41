package authorization

import (
	"context"
	_ "embed"
	"net/http"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	apikeydomain "github.com/smallbiznis/schoolhub/internal/apikey/domain"
	"github.com/smallbiznis/schoolhub/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectEntitlement  = "entitlement"
	ObjectSubscription = "subscription"
	ObjectAPIKey       = "api_key"
	ObjectTenant       = "tenant"
)

const (
	ActionEntitlementView = "entitlement.view"

	ActionSubscriptionView     = "subscription.view"
	ActionSubscriptionPurchase = "subscription.purchase"

	ActionAPIKeyView   = "api_key.view"
	ActionAPIKeyCreate = "api_key.create"
	ActionAPIKeyRevoke = "api_key.revoke"
	ActionAPIKeyDelete = "api_key.delete"

	ActionTenantView      = "tenant.view"
	ActionTenantProvision = "tenant.provision"
	ActionTenantSuspend   = "tenant.suspend"
	ActionTenantReinstate = "tenant.reinstate"
)

// Session roles carried in bearer tokens.
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
	RoleOwner  = "owner"
)

// ExternalPathPattern is the route space secondary keys may reach.
const ExternalPathPattern = "/api/v1/*"

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

type EnforcerParams struct {
	fx.In

	DB          *gorm.DB
	Entitlement *config.EntitlementConfigHolder `optional:"true"`
}

// NewEnforcer loads persisted policies and seeds the built-in ones. Every
// configured platform role gets full tenant administration.
func NewEnforcer(p EnforcerParams) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(p.DB)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer, p.Entitlement.Get().PlatformRoles); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, role string, object string, action string) error {
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	allowed, err := s.enforcer.Enforce(roleSubject(role), object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Debug("authorization denied",
			zap.String("role", role),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) AuthorizeCredential(ctx context.Context, perms []apikeydomain.Permission, method string, path string) error {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		return ErrInvalidAction
	}
	if strings.TrimSpace(path) == "" {
		return ErrInvalidObject
	}

	for _, perm := range perms {
		allowed, err := s.enforcer.Enforce(permissionSubject(perm), path, method)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
	}

	s.log.Debug("credential permission denied",
		zap.String("method", method),
		zap.String("path", path),
	)
	return ErrForbidden
}

func roleSubject(role string) string {
	return "role:" + role
}

func permissionSubject(perm apikeydomain.Permission) string {
	return "perm:" + string(perm)
}

func seedPolicies(enforcer *casbin.SyncedEnforcer, platformRoles []string) error {
	policies := [][]string{
		// Member permissions (read-only)
		{roleSubject(RoleMember), ObjectEntitlement, ActionEntitlementView},
		{roleSubject(RoleMember), ObjectSubscription, ActionSubscriptionView},

		// Admin permissions
		{roleSubject(RoleAdmin), ObjectSubscription, ActionSubscriptionPurchase},
		{roleSubject(RoleAdmin), ObjectAPIKey, ActionAPIKeyView},
		{roleSubject(RoleAdmin), ObjectAPIKey, ActionAPIKeyCreate},
		{roleSubject(RoleAdmin), ObjectAPIKey, ActionAPIKeyRevoke},

		// Owner permissions
		{roleSubject(RoleOwner), ObjectAPIKey, ActionAPIKeyDelete},

		// Secondary key permissions map onto HTTP methods
		{permissionSubject(apikeydomain.PermissionRead), ExternalPathPattern, http.MethodGet},
		{permissionSubject(apikeydomain.PermissionRead), ExternalPathPattern, http.MethodHead},
		{permissionSubject(apikeydomain.PermissionWrite), ExternalPathPattern, http.MethodPost},
		{permissionSubject(apikeydomain.PermissionWrite), ExternalPathPattern, http.MethodPut},
		{permissionSubject(apikeydomain.PermissionWrite), ExternalPathPattern, http.MethodPatch},
		{permissionSubject(apikeydomain.PermissionDelete), ExternalPathPattern, http.MethodDelete},
	}
	for _, role := range platformRoles {
		role = strings.ToLower(strings.TrimSpace(role))
		if role == "" {
			continue
		}
		policies = append(policies,
			[]string{roleSubject(role), ObjectTenant, "*"},
			[]string{roleSubject(role), ObjectEntitlement, "*"},
			[]string{roleSubject(role), ObjectSubscription, ActionSubscriptionView},
		)
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}

	// owner inherits admin, admin inherits member
	groupings := [][]string{
		{roleSubject(RoleOwner), roleSubject(RoleAdmin)},
		{roleSubject(RoleAdmin), roleSubject(RoleMember)},
	}
	for _, grouping := range groupings {
		if _, err := enforcer.AddGroupingPolicy(grouping); err != nil {
			return err
		}
	}
	return nil
}
