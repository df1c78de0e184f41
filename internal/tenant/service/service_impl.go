package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/schoolhub/internal/clock"
	"github.com/smallbiznis/schoolhub/internal/config"
	plandomain "github.com/smallbiznis/schoolhub/internal/plan/domain"
	tenantdomain "github.com/smallbiznis/schoolhub/internal/tenant/domain"
	"github.com/smallbiznis/schoolhub/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  tenantdomain.Repository
	cfg   *config.EntitlementConfigHolder
}

type ServiceParam struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        tenantdomain.Repository
	Entitlement *config.EntitlementConfigHolder `optional:"true"`
}

func NewService(p ServiceParam) tenantdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("tenant.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
		cfg:   p.Entitlement,
	}
}

func (s *Service) Get(ctx context.Context, id string) (tenantdomain.Tenant, error) {
	tenantID, err := parseID(id)
	if err != nil {
		return tenantdomain.Tenant{}, err
	}
	return s.load(ctx, s.db, tenantID)
}

// Provision creates a tenant on a trial of the configured length.
func (s *Service) Provision(ctx context.Context, req tenantdomain.ProvisionRequest) (tenantdomain.Tenant, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return tenantdomain.Tenant{}, tenantdomain.ErrInvalidName
	}

	tier := plandomain.TierStarter
	if strings.TrimSpace(string(req.PlanTier)) != "" {
		parsed, err := plandomain.ParseTier(string(req.PlanTier))
		if err != nil {
			return tenantdomain.Tenant{}, err
		}
		tier = parsed
	}

	base := slug.Make(strings.TrimSpace(req.Slug))
	if base == "" {
		base = slug.Make(name)
	}
	if base == "" {
		return tenantdomain.Tenant{}, tenantdomain.ErrInvalidName
	}

	now := s.clock.Now().UTC()
	trialEndsAt := now.AddDate(0, 0, s.cfg.Get().TrialDays)
	tenant := tenantdomain.Tenant{
		ID:                 s.genID.Generate(),
		Name:               name,
		Slug:               base,
		SubscriptionStatus: tenantdomain.StatusTrial,
		PlanType:           tier,
		TrialEndsAt:        &trialEndsAt,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	err := s.repo.Insert(ctx, s.db, &tenant)
	if db.IsDuplicateKeyErr(err) {
		// slug taken; disambiguate with the row id
		tenant.Slug = base + "-" + strings.ToLower(tenant.ID.Base36())
		err = s.repo.Insert(ctx, s.db, &tenant)
	}
	if err != nil {
		return tenantdomain.Tenant{}, err
	}

	s.log.Info("tenant provisioned",
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("slug", tenant.Slug),
		zap.String("plan_type", string(tier)),
		zap.Time("trial_ends_at", trialEndsAt),
	)
	return tenant, nil
}

func (s *Service) Suspend(ctx context.Context, id string) (tenantdomain.Tenant, error) {
	tenantID, err := parseID(id)
	if err != nil {
		return tenantdomain.Tenant{}, err
	}

	var out tenantdomain.Tenant
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.load(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if current.SubscriptionStatus == tenantdomain.StatusSuspended {
			out = current
			return nil
		}

		if _, err := s.repo.TransitionStatus(ctx, tx, tenantID, []tenantdomain.SubscriptionStatus{
			tenantdomain.StatusTrial,
			tenantdomain.StatusActive,
			tenantdomain.StatusExpired,
		}, tenantdomain.StatusSuspended, s.clock.Now().UTC()); err != nil {
			return err
		}

		out, err = s.load(ctx, tx, tenantID)
		return err
	})
	if err != nil {
		return tenantdomain.Tenant{}, err
	}

	s.log.Info("tenant suspended", zap.String("tenant_id", tenantID.String()))
	return out, nil
}

// Reinstate lifts a suspension. The restored status follows the stored dates.
func (s *Service) Reinstate(ctx context.Context, id string) (tenantdomain.Tenant, error) {
	tenantID, err := parseID(id)
	if err != nil {
		return tenantdomain.Tenant{}, err
	}

	var out tenantdomain.Tenant
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.load(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if current.SubscriptionStatus != tenantdomain.StatusSuspended {
			return tenantdomain.ErrInvalidTransition
		}

		now := s.clock.Now().UTC()
		moved, err := s.repo.TransitionStatus(ctx, tx, tenantID,
			[]tenantdomain.SubscriptionStatus{tenantdomain.StatusSuspended},
			restoredStatus(current, now), now)
		if err != nil {
			return err
		}
		if !moved {
			return tenantdomain.ErrInvalidTransition
		}

		out, err = s.load(ctx, tx, tenantID)
		return err
	})
	if err != nil {
		return tenantdomain.Tenant{}, err
	}

	s.log.Info("tenant reinstated",
		zap.String("tenant_id", tenantID.String()),
		zap.String("subscription_status", string(out.SubscriptionStatus)),
	)
	return out, nil
}

func (s *Service) ExpireLapsed(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}

	now := s.clock.Now().UTC()
	lapsed, err := s.repo.ListLapsed(ctx, s.db, now, limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, tenant := range lapsed {
		moved, err := s.repo.ExpireIfStatus(ctx, s.db, tenant.ID, tenant.SubscriptionStatus, now)
		if err != nil {
			s.log.Warn("expire lapsed tenant failed",
				zap.String("tenant_id", tenant.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if moved {
			expired++
		}
	}
	return expired, nil
}

func (s *Service) load(ctx context.Context, tx *gorm.DB, id snowflake.ID) (tenantdomain.Tenant, error) {
	tenant, err := s.repo.FindByID(ctx, tx, id)
	if err != nil {
		return tenantdomain.Tenant{}, err
	}
	if tenant == nil {
		return tenantdomain.Tenant{}, tenantdomain.ErrNotFound
	}
	return *tenant, nil
}

func restoredStatus(t tenantdomain.Tenant, now time.Time) tenantdomain.SubscriptionStatus {
	if t.SubscriptionExpiresAt != nil && !t.SubscriptionExpiresAt.Before(now) {
		return tenantdomain.StatusActive
	}
	if t.SubscriptionExpiresAt == nil && t.TrialEndsAt != nil && !now.After(*t.TrialEndsAt) {
		return tenantdomain.StatusTrial
	}
	return tenantdomain.StatusExpired
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, tenantdomain.ErrInvalidID
	}
	return id, nil
}

