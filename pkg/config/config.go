package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/entitlements/pkg/observability"
	"github.com/platinummonkey/entitlements/pkg/storage/postgres"
	"github.com/platinummonkey/entitlements/pkg/usage"
)

// Store backends
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// EnvPrefix is prepended to every variable name
const EnvPrefix = "ENTITLEMENTS_"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Storage       StorageConfig
	Catalog       CatalogConfig
	Cache         CacheConfig
	Policy        PolicyConfig
	Janitor       JanitorConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// StorageConfig selects the backends for roles, organizations and
// overrides (Store) and for usage counters (UsageStore).
type StorageConfig struct {
	Store       string
	UsageStore  string
	Postgres    postgres.ConnectionConfig
	Redis       postgres.RedisConfig
	RedisPrefix string
}

// CatalogConfig locates the feature and plan catalog
type CatalogConfig struct {
	Path  string
	Watch bool
}

// CacheConfig covers both the client session cache and the server-side
// resolver memo. A ResolverSize of 0 disables the memo.
type CacheConfig struct {
	TTL                 time.Duration
	AutoRefreshInterval time.Duration
	ResolverSize        int
	ResolverTTL         time.Duration
}

// PolicyConfig holds behavioral switches
type PolicyConfig struct {
	RejectOverlappingOverrides bool
	UsageMaxRetries            int
}

// JanitorConfig holds the cron schedules of the maintenance binary
type JanitorConfig struct {
	CleanupSchedule    string
	UsageResetSchedule string
	Concurrency        int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// OTel converts the settings into the observability package's form
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
	}
}

// LoadEnvFile loads the dotenv file named by ENTITLEMENTS_ENV_FILE, if any.
// Variables already present in the environment are not overridden.
func LoadEnvFile() error {
	path := os.Getenv(EnvPrefix + "ENV_FILE")
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Catalog:       loadCatalogConfig(),
		Cache:         loadCacheConfig(),
		Policy:        loadPolicyConfig(),
		Janitor:       loadJanitorConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("HOST", "0.0.0.0"),
		Port:            getEnv("PORT", "8080"),
		ReadTimeout:     getEnvDuration("READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("HEALTH_PORT", "9090"),
	}
}

func loadStorageConfig() StorageConfig {
	return StorageConfig{
		Store:      strings.ToLower(getEnv("STORE", StoreMemory)),
		UsageStore: strings.ToLower(getEnv("USAGE_STORE", StoreMemory)),
		Postgres: postgres.ConnectionConfig{
			URL:      getEnv("POSTGRES_URL", ""),
			MaxConns: getEnvInt("POSTGRES_MAX_CONNS", 0),
			MinConns: getEnvInt("POSTGRES_MIN_CONNS", 0),
			Timeout:  getEnvDuration("POSTGRES_TIMEOUT", 0),
		},
		Redis: postgres.RedisConfig{
			URL:        getEnv("REDIS_URL", ""),
			Password:   getEnv("REDIS_PASSWORD", ""),
			DB:         getEnvInt("REDIS_DB", 0),
			PoolSize:   getEnvInt("REDIS_POOL_SIZE", 0),
			MaxRetries: getEnvInt("REDIS_MAX_RETRIES", 0),
		},
		RedisPrefix: getEnv("REDIS_PREFIX", usage.DefaultRedisPrefix),
	}
}

func loadCatalogConfig() CatalogConfig {
	return CatalogConfig{
		Path:  getEnv("CATALOG_PATH", "catalog.yaml"),
		Watch: getEnvBool("CATALOG_WATCH", true),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:                 getEnvDuration("CACHE_TTL", 60*time.Second),
		AutoRefreshInterval: getEnvDuration("AUTO_REFRESH_INTERVAL", 5*time.Minute),
		ResolverSize:        getEnvInt("RESOLVER_CACHE_SIZE", 0),
		ResolverTTL:         getEnvDuration("RESOLVER_CACHE_TTL", 5*time.Second),
	}
}

func loadPolicyConfig() PolicyConfig {
	return PolicyConfig{
		RejectOverlappingOverrides: getEnvBool("REJECT_OVERLAPPING_OVERRIDES", false),
		UsageMaxRetries:            getEnvInt("USAGE_MAX_RETRIES", usage.DefaultMaxRetries),
	}
}

func loadJanitorConfig() JanitorConfig {
	return JanitorConfig{
		CleanupSchedule:    getEnv("CLEANUP_SCHEDULE", "*/15 * * * *"),
		UsageResetSchedule: getEnv("USAGE_RESET_SCHEDULE", "0 0 1 * *"),
		Concurrency:        getEnvInt("JANITOR_CONCURRENCY", 4),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("OTEL_SERVICE_NAME", "entitlements"),
		OTelServiceVersion: getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	switch c.Storage.Store {
	case StoreMemory:
	case StorePostgres:
		if c.Storage.Postgres.URL == "" {
			return fmt.Errorf("postgres URL is required for postgres store")
		}
	default:
		return fmt.Errorf("invalid store: %s (must be memory or postgres)", c.Storage.Store)
	}

	switch c.Storage.UsageStore {
	case StoreMemory:
	case StorePostgres:
		if c.Storage.Postgres.URL == "" {
			return fmt.Errorf("postgres URL is required for postgres usage store")
		}
	case StoreRedis:
		if c.Storage.Redis.URL == "" {
			return fmt.Errorf("redis URL is required for redis usage store")
		}
	default:
		return fmt.Errorf("invalid usage store: %s (must be memory, postgres, or redis)", c.Storage.UsageStore)
	}

	if c.Catalog.Path == "" {
		return fmt.Errorf("catalog path is required")
	}

	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}
	if c.Cache.AutoRefreshInterval <= 0 {
		return fmt.Errorf("auto refresh interval must be positive")
	}
	if c.Cache.ResolverSize < 0 {
		return fmt.Errorf("resolver cache size must not be negative")
	}
	if c.Cache.ResolverSize > 0 && c.Cache.ResolverTTL <= 0 {
		return fmt.Errorf("resolver cache TTL must be positive when the resolver cache is enabled")
	}

	if c.Policy.UsageMaxRetries <= 0 {
		return fmt.Errorf("usage max retries must be positive")
	}

	for name, spec := range map[string]string{
		"cleanup schedule":     c.Janitor.CleanupSchedule,
		"usage reset schedule": c.Janitor.UsageResetSchedule,
	} {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, spec, err)
		}
	}
	if c.Janitor.Concurrency <= 0 {
		return fmt.Errorf("janitor concurrency must be positive")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns EnvPrefix+key or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := getEnv(key, ""); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := getEnv(key, ""); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := getEnv(key, ""); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
