// Package plan holds the immutable plan catalog used for feature gating and limits.
package plan

import (
	"fmt"
	"strings"

	"github.com/smallbiznis/schoolhub/internal/plan/domain"
)

// Catalog is a read-only table of plans keyed by tier. It is safe for concurrent use.
type Catalog struct {
	plans map[domain.Tier]domain.Plan
	order []domain.Tier
}

// NewCatalog validates and indexes the given plans.
func NewCatalog(plans ...domain.Plan) (*Catalog, error) {
	if len(plans) == 0 {
		return nil, fmt.Errorf("%w: empty catalog", domain.ErrInvalidPlan)
	}

	c := &Catalog{plans: make(map[domain.Tier]domain.Plan, len(plans))}
	for _, p := range plans {
		if _, err := domain.ParseTier(string(p.Tier)); err != nil {
			return nil, fmt.Errorf("%w: tier %q", domain.ErrInvalidPlan, p.Tier)
		}
		if _, dup := c.plans[p.Tier]; dup {
			return nil, fmt.Errorf("%w: duplicate tier %q", domain.ErrInvalidPlan, p.Tier)
		}
		for kind, limit := range p.Limits {
			if limit < domain.Unlimited {
				return nil, fmt.Errorf("%w: %s limit %s=%d", domain.ErrInvalidPlan, p.Tier, kind, limit)
			}
		}
		for currency, prices := range p.Prices {
			for period, amount := range prices {
				if period.Months() == 0 || amount <= 0 {
					return nil, fmt.Errorf("%w: %s price %s/%s", domain.ErrInvalidPlan, p.Tier, currency, period)
				}
			}
		}
		normalized := p.Clone()
		prices := normalized.Prices
		normalized.Prices = make(map[string]domain.PeriodPrices, len(prices))
		for currency, byPeriod := range prices {
			normalized.Prices[strings.ToUpper(currency)] = byPeriod
		}
		c.plans[p.Tier] = normalized
		c.order = append(c.order, p.Tier)
	}
	return c, nil
}

// DefaultCatalog returns the catalog built from DefaultPlans.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultPlans()...)
	if err != nil {
		panic(err)
	}
	return c
}

// Lookup returns a copy of the plan for tier.
func (c *Catalog) Lookup(tier domain.Tier) (domain.Plan, bool) {
	p, ok := c.plans[tier]
	if !ok {
		return domain.Plan{}, false
	}
	return p.Clone(), true
}

// List returns all plans in catalog order.
func (c *Catalog) List() []domain.Plan {
	out := make([]domain.Plan, 0, len(c.order))
	for _, tier := range c.order {
		out = append(out, c.plans[tier].Clone())
	}
	return out
}

// CheckFeature reports whether tier grants feature. Unknown tiers and features are denied.
func (c *Catalog) CheckFeature(tier domain.Tier, feature domain.Feature) bool {
	p, ok := c.plans[tier]
	if !ok {
		return false
	}
	return p.Features[feature]
}

// CheckLimit reports whether one more resource of kind may be created given currentCount.
func (c *Catalog) CheckLimit(tier domain.Tier, kind domain.ResourceKind, currentCount int64) bool {
	limit, ok := c.Limit(tier, kind)
	if !ok {
		return false
	}
	if limit == domain.Unlimited {
		return true
	}
	return currentCount < limit
}

func (c *Catalog) Limit(tier domain.Tier, kind domain.ResourceKind) (int64, bool) {
	p, ok := c.plans[tier]
	if !ok {
		return 0, false
	}
	limit, ok := p.Limits[kind]
	return limit, ok
}

// Price returns the amount in minor units for tier, period and currency.
func (c *Catalog) Price(tier domain.Tier, period domain.BillingPeriod, currency string) (int64, error) {
	p, ok := c.plans[tier]
	if !ok {
		return 0, domain.ErrUnknownTier
	}
	if period.Months() == 0 {
		return 0, domain.ErrUnknownPeriod
	}
	prices, ok := p.Prices[strings.ToUpper(strings.TrimSpace(currency))]
	if !ok {
		return 0, domain.ErrUnsupportedCurrency
	}
	amount, ok := prices[period]
	if !ok {
		return 0, domain.ErrUnknownPeriod
	}
	return amount, nil
}
