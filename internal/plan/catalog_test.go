package plan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/smallbiznis/schoolhub/internal/plan/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckFeature(t *testing.T) {
	c := DefaultCatalog()

	assert.True(t, c.CheckFeature(domain.TierPro, domain.FeatureAPIAccess))
	assert.False(t, c.CheckFeature(domain.TierStandard, domain.FeatureAPIAccess))
	assert.True(t, c.CheckFeature(domain.TierStarter, domain.FeatureExportPDF))
	assert.False(t, c.CheckFeature(domain.TierStarter, domain.Feature("teleport")))
	assert.False(t, c.CheckFeature(domain.Tier("gold"), domain.FeatureExportPDF))
}

func TestCheckLimit(t *testing.T) {
	c := DefaultCatalog()

	assert.True(t, c.CheckLimit(domain.TierStarter, domain.ResourcePupils, 99))
	assert.False(t, c.CheckLimit(domain.TierStarter, domain.ResourcePupils, 100))
	assert.False(t, c.CheckLimit(domain.TierStarter, domain.ResourcePupils, 250))

	// unlimited never blocks
	assert.True(t, c.CheckLimit(domain.TierPro, domain.ResourcePupils, 1_000_000))
	assert.True(t, c.CheckLimit(domain.TierPro, domain.ResourceTeachers, 0))

	assert.False(t, c.CheckLimit(domain.TierPro, domain.ResourceKind("buses"), 0))
	assert.False(t, c.CheckLimit(domain.Tier("gold"), domain.ResourcePupils, 0))
}

func TestPrice(t *testing.T) {
	c := DefaultCatalog()

	amount, err := c.Price(domain.TierPro, domain.BillingPeriodMonthly, "usd")
	require.NoError(t, err)
	assert.Equal(t, int64(6000), amount)

	_, err = c.Price(domain.TierPro, domain.BillingPeriodMonthly, "EUR")
	assert.ErrorIs(t, err, domain.ErrUnsupportedCurrency)

	_, err = c.Price(domain.TierPro, domain.BillingPeriod("weekly"), "USD")
	assert.ErrorIs(t, err, domain.ErrUnknownPeriod)

	_, err = c.Price(domain.Tier("gold"), domain.BillingPeriodMonthly, "USD")
	assert.ErrorIs(t, err, domain.ErrUnknownTier)
}

func TestLookupReturnsCopy(t *testing.T) {
	c := DefaultCatalog()

	p, ok := c.Lookup(domain.TierStarter)
	require.True(t, ok)
	p.Limits[domain.ResourcePupils] = domain.Unlimited
	p.Features[domain.FeatureAPIAccess] = true

	assert.False(t, c.CheckLimit(domain.TierStarter, domain.ResourcePupils, 100))
	assert.False(t, c.CheckFeature(domain.TierStarter, domain.FeatureAPIAccess))
}

func TestNewCatalogRejectsInvalidPlans(t *testing.T) {
	_, err := NewCatalog()
	assert.ErrorIs(t, err, domain.ErrInvalidPlan)

	_, err = NewCatalog(domain.Plan{Tier: domain.TierPro}, domain.Plan{Tier: domain.TierPro})
	assert.ErrorIs(t, err, domain.ErrInvalidPlan)

	_, err = NewCatalog(domain.Plan{
		Tier:   domain.TierPro,
		Limits: map[domain.ResourceKind]int64{domain.ResourcePupils: -5},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidPlan)
}

func TestLoadCatalogFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plans.yml")
	content := `plans:
  - tier: starter
    name: Basic
    limits:
      pupils: 50
      teachers: 5
    features: [export_pdf]
    prices:
      USD:
        monthly: 1500
  - tier: pro
    name: Pro
    limits:
      pupils: -1
    features: [export_pdf, api_access]
    prices:
      USD:
        monthly: 6000
        yearly: 60000
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	c, err := LoadCatalog(path)
	require.NoError(t, err)

	assert.Len(t, c.List(), 2)
	assert.True(t, c.CheckLimit(domain.TierStarter, domain.ResourcePupils, 49))
	assert.False(t, c.CheckLimit(domain.TierStarter, domain.ResourcePupils, 50))
	assert.True(t, c.CheckFeature(domain.TierPro, domain.FeatureAPIAccess))

	amount, err := c.Price(domain.TierStarter, domain.BillingPeriodMonthly, "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(1500), amount)

	_, ok := c.Lookup(domain.TierStandard)
	assert.False(t, ok)
}

func TestLoadCatalogDefaultsWithoutPath(t *testing.T) {
	c, err := LoadCatalog("")
	require.NoError(t, err)
	assert.Len(t, c.List(), 3)
}
