package scheduler

import (
	"time"

	"github.com/smallbiznis/schoolhub/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	Enabled        bool
	RunInterval    time.Duration
	BatchSize      int
	ReconcileAfter time.Duration
	JobTimeout     time.Duration
	EnabledJobs    []string
}

func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		RunInterval:    time.Minute,
		BatchSize:      50,
		ReconcileAfter: 10 * time.Minute,
		JobTimeout:     30 * time.Second,
	}
}

// ProvideConfig reads the scheduler section of the application config.
func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:        cfg.Scheduler.Enabled,
		RunInterval:    cfg.Scheduler.Interval,
		BatchSize:      cfg.Scheduler.BatchSize,
		ReconcileAfter: cfg.Scheduler.ReconcileAfter,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.ReconcileAfter <= 0 {
		c.ReconcileAfter = defaults.ReconcileAfter
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}
