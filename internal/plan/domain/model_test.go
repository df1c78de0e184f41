package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBillingPeriodAddTo(t *testing.T) {
	start := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2025, 2, 15, 10, 0, 0, 0, time.UTC), BillingPeriodMonthly.AddTo(start))
	assert.Equal(t, time.Date(2025, 5, 15, 10, 0, 0, 0, time.UTC), BillingPeriodTermly.AddTo(start))
	assert.Equal(t, time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC), BillingPeriodYearly.AddTo(start))
}

func TestParse(t *testing.T) {
	tier, err := ParseTier(" Pro ")
	assert.NoError(t, err)
	assert.Equal(t, TierPro, tier)

	_, err = ParseTier("enterprise")
	assert.ErrorIs(t, err, ErrUnknownTier)

	period, err := ParseBillingPeriod("TERMLY")
	assert.NoError(t, err)
	assert.Equal(t, BillingPeriodTermly, period)

	_, err = ParseBillingPeriod("weekly")
	assert.ErrorIs(t, err, ErrUnknownPeriod)
}
