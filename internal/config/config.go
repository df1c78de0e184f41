package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName       string
	AppVersion    string
	Environment   string
	HTTPAddr      string
	AuthJWTSecret string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	PlansFile       string
	EntitlementFile string

	// E2ECleanupEnabled exposes the operator-only cleanup route outside production.
	E2ECleanupEnabled bool

	Gateway   GatewayConfig
	RateLimit RateLimitConfig
	Redis     RedisConfig
	Scheduler SchedulerConfig
}

// GatewayConfig configures the external payment gateway client.
type GatewayConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	CallbackURL    string
	IPNURL         string
	NotificationID string
	Timeout        time.Duration
}

type RateLimitConfig struct {
	Backend       string
	Window        time.Duration
	PurgeInterval time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type SchedulerConfig struct {
	Enabled        bool
	Interval       time.Duration
	ReconcileAfter time.Duration
	BatchSize      int
}

const (
	RateLimitBackendMemory = "memory"
	RateLimitBackendRedis  = "redis"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "schoolhub"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		AuthJWTSecret:     strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "schoolhub"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		PlansFile:         strings.TrimSpace(getenv("PLANS_FILE", "")),
		EntitlementFile:   strings.TrimSpace(getenv("ENTITLEMENT_FILE", "")),
		E2ECleanupEnabled: getenvBool("E2E_CLEANUP_ENABLED", false),
		Gateway: GatewayConfig{
			BaseURL:        strings.TrimRight(getenv("GATEWAY_BASE_URL", "https://cybqa.pesapal.com/pesapalv3"), "/"),
			ConsumerKey:    strings.TrimSpace(getenv("GATEWAY_CONSUMER_KEY", "")),
			ConsumerSecret: strings.TrimSpace(getenv("GATEWAY_CONSUMER_SECRET", "")),
			CallbackURL:    strings.TrimSpace(getenv("GATEWAY_CALLBACK_URL", "")),
			IPNURL:         strings.TrimSpace(getenv("GATEWAY_IPN_URL", "")),
			NotificationID: strings.TrimSpace(getenv("GATEWAY_NOTIFICATION_ID", "")),
			Timeout:        getenvDuration("GATEWAY_TIMEOUT", 15*time.Second),
		},
		RateLimit: RateLimitConfig{
			Backend:       normalizeBackend(getenv("RATE_LIMIT_BACKEND", RateLimitBackendMemory)),
			Window:        getenvDuration("RATE_LIMIT_WINDOW", time.Minute),
			PurgeInterval: getenvDuration("RATE_LIMIT_PURGE_INTERVAL", time.Minute),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Scheduler: SchedulerConfig{
			Enabled:        getenvBool("SCHEDULER_ENABLED", true),
			Interval:       getenvDuration("SCHEDULER_INTERVAL", time.Minute),
			ReconcileAfter: getenvDuration("RECONCILE_AFTER", 10*time.Minute),
			BatchSize:      getenvInt("SCHEDULER_BATCH_SIZE", 50),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func normalizeBackend(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case RateLimitBackendRedis:
		return RateLimitBackendRedis
	default:
		return RateLimitBackendMemory
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
