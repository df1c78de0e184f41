package receipt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/schoolhub/internal/config"
	"github.com/smallbiznis/schoolhub/internal/gateway"
	"github.com/smallbiznis/schoolhub/internal/plan"
	subscriptiondomain "github.com/smallbiznis/schoolhub/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/schoolhub/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrNotPaid = errors.New("order_not_paid")

var Module = fx.Module("receipt.service",
	fx.Provide(NewService),
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Config  config.Config
	Ledger  subscriptiondomain.Service
	Tenants tenantdomain.Repository
	Catalog *plan.Catalog
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	issuer  string
	ledger  subscriptiondomain.Service
	tenants tenantdomain.Repository
	catalog *plan.Catalog
}

func NewService(p Params) *Service {
	issuer := strings.TrimSpace(p.Config.AppName)
	if issuer == "" {
		issuer = "schoolhub"
	}
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("receipt.service"),
		issuer:  issuer,
		ledger:  p.Ledger,
		tenants: p.Tenants,
		catalog: p.Catalog,
	}
}

// Generate renders the receipt of a completed order owned by tenantID and
// returns it with a download file name.
func (s *Service) Generate(ctx context.Context, tenantID snowflake.ID, orderID string) ([]byte, string, error) {
	order, err := s.ledger.GetOrder(ctx, tenantID, orderID)
	if err != nil {
		return nil, "", err
	}
	if order.PaymentStatus != subscriptiondomain.PaymentStatusCompleted {
		return nil, "", ErrNotPaid
	}

	tenant, err := s.tenants.FindByID(ctx, s.db, tenantID)
	if err != nil {
		return nil, "", err
	}
	if tenant == nil {
		return nil, "", tenantdomain.ErrNotFound
	}

	data := s.dataFor(order, *tenant)
	doc, err := Render(data)
	if err != nil {
		s.log.Error("render receipt failed", zap.String("order_id", order.OrderID), zap.Error(err))
		return nil, "", fmt.Errorf("render receipt: %w", err)
	}
	return doc, "receipt-" + order.OrderID + ".pdf", nil
}

func (s *Service) dataFor(order subscriptiondomain.Order, tenant tenantdomain.Tenant) Data {
	planName := string(order.PlanTier)
	if p, ok := s.catalog.Lookup(order.PlanTier); ok && p.Name != "" {
		planName = p.Name
	}

	data := Data{
		Issuer:        s.issuer,
		SchoolName:    tenant.Name,
		OrderID:       order.OrderID,
		TrackingID:    order.Tracking(),
		PlanName:      planName,
		BillingPeriod: string(order.BillingPeriod),
		ServiceStart:  order.StartsAt,
		ServiceEnd:    order.ExpiresAt,
		Amount:        fmt.Sprintf("%s %.2f", order.Currency, gateway.MajorUnits(order.Amount)),
	}
	if order.CompletedAt != nil {
		data.DatePaid = *order.CompletedAt
	}
	if order.PaymentMethod != nil {
		data.PaymentMethod = *order.PaymentMethod
	}
	if order.ConfirmationCode != nil {
		data.ConfirmationCode = *order.ConfirmationCode
	}
	return data
}
