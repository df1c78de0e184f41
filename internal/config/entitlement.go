package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EntitlementConfig tunes the subscription policy applied by the entitlement guard.
type EntitlementConfig struct {
	GracePeriodDays int      `mapstructure:"gracePeriodDays"`
	TrialDays       int      `mapstructure:"trialDays"`
	PlatformRoles   []string `mapstructure:"platformRoles"`
}

func DefaultEntitlementConfig() EntitlementConfig {
	return EntitlementConfig{
		GracePeriodDays: 7,
		TrialDays:       30,
		PlatformRoles:   []string{"platform_operator"},
	}
}

type EntitlementConfigHolder struct {
	current atomic.Value // holds EntitlementConfig
}

// NewStaticEntitlementConfig returns a holder that never reloads.
func NewStaticEntitlementConfig(cfg EntitlementConfig) *EntitlementConfigHolder {
	holder := &EntitlementConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewEntitlementConfigHolder(appCfg Config, log *zap.Logger) (*EntitlementConfigHolder, error) {
	log = log.Named("config.entitlement")
	v := viper.New()

	if appCfg.EntitlementFile != "" {
		v.SetConfigFile(appCfg.EntitlementFile)
	} else {
		v.SetConfigName("entitlement")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/schoolhub")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("SCHOOLHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultEntitlementConfig()
	v.SetDefault("entitlement.gracePeriodDays", defaults.GracePeriodDays)
	v.SetDefault("entitlement.trialDays", defaults.TrialDays)
	v.SetDefault("entitlement.platformRoles", defaults.PlatformRoles)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg EntitlementConfig
	if err := v.UnmarshalKey("entitlement", &cfg); err != nil {
		return nil, err
	}
	if err := validateEntitlementConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticEntitlementConfig(cfg)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated EntitlementConfig
		if err := v.UnmarshalKey("entitlement", &updated); err != nil {
			log.Warn("entitlement config reload failed", zap.Error(err))
			return
		}
		if err := validateEntitlementConfig(updated); err != nil {
			log.Warn("invalid entitlement config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("entitlement config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *EntitlementConfigHolder) Get() EntitlementConfig {
	if h == nil {
		return DefaultEntitlementConfig()
	}
	cfg, ok := h.current.Load().(EntitlementConfig)
	if !ok {
		return DefaultEntitlementConfig()
	}
	return cfg
}

func validateEntitlementConfig(cfg EntitlementConfig) error {
	if cfg.GracePeriodDays < 0 {
		return errors.New("entitlement.gracePeriodDays cannot be negative")
	}
	if cfg.TrialDays <= 0 {
		return errors.New("entitlement.trialDays must be positive")
	}
	return nil
}
