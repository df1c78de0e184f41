package plan

import (
	"errors"
	"fmt"
	"strings"

	"github.com/smallbiznis/schoolhub/internal/config"
	"github.com/smallbiznis/schoolhub/internal/plan/domain"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type planFile struct {
	Tier     string                      `mapstructure:"tier"`
	Name     string                      `mapstructure:"name"`
	Limits   map[string]int64            `mapstructure:"limits"`
	Features []string                    `mapstructure:"features"`
	Prices   map[string]map[string]int64 `mapstructure:"prices"`
}

// LoadCatalog reads a plans file. An empty path yields the built-in catalog.
func LoadCatalog(path string) (*Catalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultCatalog(), nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read plans file: %w", err)
	}

	var files []planFile
	if err := v.UnmarshalKey("plans", &files); err != nil {
		return nil, fmt.Errorf("decode plans file: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("plans file defines no plans")
	}

	plans := make([]domain.Plan, 0, len(files))
	for _, f := range files {
		p, err := f.toPlan()
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return NewCatalog(plans...)
}

func (f planFile) toPlan() (domain.Plan, error) {
	tier, err := domain.ParseTier(f.Tier)
	if err != nil {
		return domain.Plan{}, fmt.Errorf("%w: %q", err, f.Tier)
	}

	p := domain.Plan{
		Tier:     tier,
		Name:     strings.TrimSpace(f.Name),
		Limits:   make(map[domain.ResourceKind]int64, len(f.Limits)),
		Features: make(map[domain.Feature]bool, len(f.Features)),
		Prices:   make(map[string]domain.PeriodPrices, len(f.Prices)),
	}
	if p.Name == "" {
		p.Name = string(tier)
	}
	for kind, limit := range f.Limits {
		p.Limits[domain.ResourceKind(strings.ToLower(kind))] = limit
	}
	for _, feature := range f.Features {
		p.Features[domain.Feature(strings.ToLower(strings.TrimSpace(feature)))] = true
	}
	for currency, byPeriod := range f.Prices {
		prices := make(domain.PeriodPrices, len(byPeriod))
		for rawPeriod, amount := range byPeriod {
			period, err := domain.ParseBillingPeriod(rawPeriod)
			if err != nil {
				return domain.Plan{}, fmt.Errorf("%w: %s/%s", err, tier, rawPeriod)
			}
			prices[period] = amount
		}
		p.Prices[strings.ToUpper(currency)] = prices
	}
	return p, nil
}

func newCatalog(cfg config.Config, log *zap.Logger) (*Catalog, error) {
	c, err := LoadCatalog(cfg.PlansFile)
	if err != nil {
		return nil, err
	}
	log.Named("plan.catalog").Info("plan catalog loaded",
		zap.String("source", sourceName(cfg.PlansFile)),
		zap.Int("plans", len(c.order)),
	)
	return c, nil
}

func sourceName(path string) string {
	if strings.TrimSpace(path) == "" {
		return "builtin"
	}
	return path
}
