package plan

import "github.com/smallbiznis/schoolhub/internal/plan/domain"

const (
	CurrencyUSD = "USD"
	CurrencyKES = "KES"
)

// DefaultPlans returns the built-in plan table. Prices are minor currency units.
func DefaultPlans() []domain.Plan {
	return []domain.Plan{
		{
			Tier: domain.TierStarter,
			Name: "Starter",
			Limits: map[domain.ResourceKind]int64{
				domain.ResourcePupils:   100,
				domain.ResourceTeachers: 10,
				domain.ResourceClasses:  5,
				domain.ResourceParents:  200,
			},
			Features: map[domain.Feature]bool{
				domain.FeatureExportPDF:          true,
				domain.FeatureEmailNotifications: true,
			},
			Prices: map[string]domain.PeriodPrices{
				CurrencyUSD: {
					domain.BillingPeriodMonthly: 2000,
					domain.BillingPeriodTermly:  7600,
					domain.BillingPeriodYearly:  20000,
				},
				CurrencyKES: {
					domain.BillingPeriodMonthly: 250000,
					domain.BillingPeriodTermly:  950000,
					domain.BillingPeriodYearly:  2500000,
				},
			},
		},
		{
			Tier: domain.TierStandard,
			Name: "Standard",
			Limits: map[domain.ResourceKind]int64{
				domain.ResourcePupils:   500,
				domain.ResourceTeachers: 50,
				domain.ResourceClasses:  25,
				domain.ResourceParents:  1000,
			},
			Features: map[domain.Feature]bool{
				domain.FeatureExportPDF:          true,
				domain.FeatureExportExcel:        true,
				domain.FeatureCustomTheme:        true,
				domain.FeatureSMSNotifications:   true,
				domain.FeatureEmailNotifications: true,
			},
			Prices: map[string]domain.PeriodPrices{
				CurrencyUSD: {
					domain.BillingPeriodMonthly: 4000,
					domain.BillingPeriodTermly:  15200,
					domain.BillingPeriodYearly:  40000,
				},
				CurrencyKES: {
					domain.BillingPeriodMonthly: 500000,
					domain.BillingPeriodTermly:  1900000,
					domain.BillingPeriodYearly:  5000000,
				},
			},
		},
		{
			Tier: domain.TierPro,
			Name: "Pro",
			Limits: map[domain.ResourceKind]int64{
				domain.ResourcePupils:   domain.Unlimited,
				domain.ResourceTeachers: domain.Unlimited,
				domain.ResourceClasses:  domain.Unlimited,
				domain.ResourceParents:  domain.Unlimited,
			},
			Features: map[domain.Feature]bool{
				domain.FeatureExportPDF:          true,
				domain.FeatureExportExcel:        true,
				domain.FeatureCustomTheme:        true,
				domain.FeatureSMSNotifications:   true,
				domain.FeatureEmailNotifications: true,
				domain.FeatureMultiLocation:      true,
				domain.FeatureAPIAccess:          true,
			},
			Prices: map[string]domain.PeriodPrices{
				CurrencyUSD: {
					domain.BillingPeriodMonthly: 6000,
					domain.BillingPeriodTermly:  22800,
					domain.BillingPeriodYearly:  60000,
				},
				CurrencyKES: {
					domain.BillingPeriodMonthly: 750000,
					domain.BillingPeriodTermly:  2850000,
					domain.BillingPeriodYearly:  7500000,
				},
			},
		},
	}
}
