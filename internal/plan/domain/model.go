// Package domain defines subscription plan tiers, their limits, feature flags and prices.
package domain

import (
	"errors"
	"strings"
	"time"
)

type Tier string

const (
	TierStarter  Tier = "starter"
	TierStandard Tier = "standard"
	TierPro      Tier = "pro"
)

// ResourceKind is a countable tenant resource bounded by a plan limit.
type ResourceKind string

const (
	ResourcePupils   ResourceKind = "pupils"
	ResourceTeachers ResourceKind = "teachers"
	ResourceClasses  ResourceKind = "classes"
	ResourceParents  ResourceKind = "parents"
)

// Feature is a boolean capability granted by a plan.
type Feature string

const (
	FeatureExportPDF          Feature = "export_pdf"
	FeatureExportExcel        Feature = "export_excel"
	FeatureCustomTheme        Feature = "custom_theme"
	FeatureSMSNotifications   Feature = "sms_notifications"
	FeatureEmailNotifications Feature = "email_notifications"
	FeatureMultiLocation      Feature = "multi_location"
	FeatureAPIAccess          Feature = "api_access"
)

// Unlimited disables a numeric limit.
const Unlimited int64 = -1

type BillingPeriod string

const (
	BillingPeriodMonthly BillingPeriod = "monthly"
	BillingPeriodTermly  BillingPeriod = "termly"
	BillingPeriodYearly  BillingPeriod = "yearly"
)

// Months returns the length of the period in calendar months, or 0 if unknown.
func (p BillingPeriod) Months() int {
	switch p {
	case BillingPeriodMonthly:
		return 1
	case BillingPeriodTermly:
		return 4
	case BillingPeriodYearly:
		return 12
	default:
		return 0
	}
}

// AddTo returns start advanced by the period.
func (p BillingPeriod) AddTo(start time.Time) time.Time {
	return start.AddDate(0, p.Months(), 0)
}

func ParseTier(raw string) (Tier, error) {
	tier := Tier(strings.ToLower(strings.TrimSpace(raw)))
	switch tier {
	case TierStarter, TierStandard, TierPro:
		return tier, nil
	default:
		return "", ErrUnknownTier
	}
}

func ParseBillingPeriod(raw string) (BillingPeriod, error) {
	period := BillingPeriod(strings.ToLower(strings.TrimSpace(raw)))
	if period.Months() == 0 {
		return "", ErrUnknownPeriod
	}
	return period, nil
}

// PeriodPrices maps a billing period to an amount in minor currency units.
type PeriodPrices map[BillingPeriod]int64

// Plan is an immutable plan definition.
type Plan struct {
	Tier     Tier                    `json:"tier"`
	Name     string                  `json:"name"`
	Limits   map[ResourceKind]int64  `json:"limits"`
	Features map[Feature]bool        `json:"features"`
	Prices   map[string]PeriodPrices `json:"prices"`
}

// Clone returns a deep copy so callers cannot mutate catalog state.
func (p Plan) Clone() Plan {
	out := Plan{
		Tier:     p.Tier,
		Name:     p.Name,
		Limits:   make(map[ResourceKind]int64, len(p.Limits)),
		Features: make(map[Feature]bool, len(p.Features)),
		Prices:   make(map[string]PeriodPrices, len(p.Prices)),
	}
	for k, v := range p.Limits {
		out.Limits[k] = v
	}
	for k, v := range p.Features {
		out.Features[k] = v
	}
	for currency, prices := range p.Prices {
		copied := make(PeriodPrices, len(prices))
		for period, amount := range prices {
			copied[period] = amount
		}
		out.Prices[currency] = copied
	}
	return out
}

var (
	ErrUnknownTier         = errors.New("invalid_plan_tier")
	ErrUnknownPeriod       = errors.New("invalid_billing_period")
	ErrUnsupportedCurrency = errors.New("invalid_currency")
	ErrInvalidPlan         = errors.New("invalid_plan")
)
