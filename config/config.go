// Package config loads process configuration from the environment and the
// optional engine tuning and achievement catalog files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment represents the application environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config holds all application configuration.
type Config struct {
	App           AppConfig
	HTTP          HTTPConfig
	Store         StoreConfig
	Redis         RedisConfig
	Cache         CacheConfig
	Engine        EngineConfig
	History       HistoryConfig
	Notify        NotifyConfig
	Observability ObservabilityConfig
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string
	Environment Environment
	Version     string

	// Timezone defines calendar days for daily caps and history summaries.
	Timezone string
	Location *time.Location

	ShutdownTimeout time.Duration
}

// HTTPConfig holds REST transport settings.
type HTTPConfig struct {
	Addr           string
	RequestTimeout time.Duration
	MaxBodyBytes   int64
}

// StoreConfig selects and configures the progress store.
type StoreConfig struct {
	// Driver is memory, sqlite or postgres.
	Driver string

	// DatabaseURL is the postgres connection string.
	DatabaseURL string
	MaxConns    int32
	MinConns    int32

	// SQLiteDir is the directory holding the sqlite database file.
	SQLiteDir string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// EventChannel is the pub/sub channel carrying engine events.
	EventChannel string
}

// CacheConfig holds overview cache and idempotency settings.
type CacheConfig struct {
	// Backend is memory or redis.
	Backend string
	Size    int
	TTL     time.Duration

	// IdempotencyTTL is how long event results are replayable.
	IdempotencyTTL time.Duration
}

// EngineConfig holds award engine settings.
type EngineConfig struct {
	MaxApplyAttempts int

	// RulesFile is an optional TOML file overriding XP and leveling constants.
	RulesFile string

	// CatalogFile is an optional YAML file replacing the achievement catalog.
	CatalogFile string
}

// HistoryConfig holds history maintenance settings.
type HistoryConfig struct {
	Enabled bool

	// Schedule is "@every <duration>", "@hourly", "@daily" or a cron expression.
	Schedule  string
	Retention time.Duration
	Timeout   time.Duration
}

// NotifyConfig holds notification delivery settings.
type NotifyConfig struct {
	WebhookURL    string
	WebhookSecret string
	Timeout       time.Duration

	// InboxEnabled stores notifications in a per-user Redis list.
	InboxEnabled bool
	InboxSize    int
	InboxTTL     time.Duration
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel  string // debug, info, warn, error
	LogFormat string // json, text

	MetricsEnabled bool
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	app, err := loadAppConfig()
	if err != nil {
		return nil, fmt.Errorf("app config: %w", err)
	}

	cfg := &Config{
		App:           app,
		HTTP:          loadHTTPConfig(),
		Store:         loadStoreConfig(),
		Redis:         loadRedisConfig(),
		Cache:         loadCacheConfig(),
		Engine:        loadEngineConfig(),
		History:       loadHistoryConfig(),
		Notify:        loadNotifyConfig(),
		Observability: loadObservabilityConfig(app.Environment),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func loadAppConfig() (AppConfig, error) {
	timezone := getEnv("APP_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return AppConfig{}, fmt.Errorf("APP_TIMEZONE %q: %w", timezone, err)
	}

	return AppConfig{
		Name:            getEnv("APP_NAME", "progressd"),
		Environment:     Environment(getEnv("APP_ENV", string(EnvDevelopment))),
		Version:         getEnv("APP_VERSION", "0.1.0"),
		Timezone:        timezone,
		Location:        loc,
		ShutdownTimeout: getEnvDuration("APP_SHUTDOWN_TIMEOUT", 30*time.Second),
	}, nil
}

func loadHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Addr:           getEnv("HTTP_ADDR", ":8080"),
		RequestTimeout: getEnvDuration("HTTP_REQUEST_TIMEOUT", 10*time.Second),
		MaxBodyBytes:   int64(getEnvInt("HTTP_MAX_BODY_BYTES", 64<<10)),
	}
}

func loadStoreConfig() StoreConfig {
	url := getEnv("DATABASE_URL", "")
	driver := getEnv("STORE_DRIVER", "")
	if driver == "" {
		driver = StoreSQLite
		if url != "" {
			driver = StorePostgres
		}
	}

	return StoreConfig{
		Driver:      strings.ToLower(driver),
		DatabaseURL: url,
		MaxConns:    int32(getEnvInt("DB_MAX_CONNS", 10)),
		MinConns:    int32(getEnvInt("DB_MIN_CONNS", 2)),
		SQLiteDir:   getEnv("SQLITE_DIR", "./data"),
	}
}

func loadRedisConfig() RedisConfig {
	host := getEnv("REDIS_HOST", "")
	return RedisConfig{
		Enabled:      getEnvBool("REDIS_ENABLED", host != ""),
		Host:         getEnv("REDIS_HOST", "localhost"),
		Port:         getEnvInt("REDIS_PORT", 6379),
		Password:     getEnv("REDIS_PASSWORD", ""),
		DB:           getEnvInt("REDIS_DB", 0),
		PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
		MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
		DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		EventChannel: getEnv("REDIS_EVENT_CHANNEL", "progress:events"),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Backend:        strings.ToLower(getEnv("CACHE_BACKEND", CacheMemory)),
		Size:           getEnvInt("CACHE_SIZE", 10_000),
		TTL:            getEnvDuration("CACHE_TTL", 5*time.Minute),
		IdempotencyTTL: getEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour),
	}
}

func loadEngineConfig() EngineConfig {
	return EngineConfig{
		MaxApplyAttempts: getEnvInt("ENGINE_MAX_APPLY_ATTEMPTS", 5),
		RulesFile:        getEnv("ENGINE_RULES_FILE", ""),
		CatalogFile:      getEnv("ENGINE_CATALOG_FILE", ""),
	}
}

func loadHistoryConfig() HistoryConfig {
	return HistoryConfig{
		Enabled:   getEnvBool("HISTORY_ENABLED", true),
		Schedule:  getEnv("HISTORY_SCHEDULE", "@daily"),
		Retention: getEnvDuration("HISTORY_RETENTION", 90*24*time.Hour),
		Timeout:   getEnvDuration("HISTORY_TIMEOUT", 30*time.Minute),
	}
}

func loadNotifyConfig() NotifyConfig {
	return NotifyConfig{
		WebhookURL:    getEnv("NOTIFY_WEBHOOK_URL", ""),
		WebhookSecret: getEnv("NOTIFY_WEBHOOK_SECRET", ""),
		Timeout:       getEnvDuration("NOTIFY_TIMEOUT", 5*time.Second),
		InboxEnabled:  getEnvBool("NOTIFY_INBOX_ENABLED", false),
		InboxSize:     getEnvInt("NOTIFY_INBOX_SIZE", 50),
		InboxTTL:      getEnvDuration("NOTIFY_INBOX_TTL", 30*24*time.Hour),
	}
}

func loadObservabilityConfig(env Environment) ObservabilityConfig {
	format := "text"
	if env == EnvProduction || env == EnvStaging {
		format = "json"
	}
	return ObservabilityConfig{
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", format),
		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	switch c.App.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		errs = append(errs, fmt.Sprintf("APP_ENV %q is not one of development, staging, production", c.App.Environment))
	}

	switch c.Store.Driver {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "DATABASE_URL is required for the postgres store")
		}
	default:
		errs = append(errs, fmt.Sprintf("STORE_DRIVER %q is not one of memory, sqlite, postgres", c.Store.Driver))
	}
	if c.IsProduction() && c.Store.Driver == StoreMemory {
		errs = append(errs, "STORE_DRIVER=memory is not allowed in production")
	}

	switch c.Cache.Backend {
	case CacheMemory:
	case CacheRedis:
		if !c.Redis.Enabled {
			errs = append(errs, "CACHE_BACKEND=redis requires REDIS_HOST or REDIS_ENABLED")
		}
	default:
		errs = append(errs, fmt.Sprintf("CACHE_BACKEND %q is not one of memory, redis", c.Cache.Backend))
	}
	if c.Cache.Size <= 0 {
		errs = append(errs, "CACHE_SIZE must be > 0")
	}
	if c.Cache.TTL <= 0 || c.Cache.IdempotencyTTL <= 0 {
		errs = append(errs, "CACHE_TTL and IDEMPOTENCY_TTL must be > 0")
	}

	if c.Engine.MaxApplyAttempts < 1 {
		errs = append(errs, "ENGINE_MAX_APPLY_ATTEMPTS must be >= 1")
	}
	if c.History.Retention < 24*time.Hour {
		errs = append(errs, "HISTORY_RETENTION must be at least 24h")
	}
	if c.Notify.InboxEnabled && !c.Redis.Enabled {
		errs = append(errs, "NOTIFY_INBOX_ENABLED requires Redis")
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		errs = append(errs, "HTTP_MAX_BODY_BYTES must be > 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// --- Helper functions for environment variable parsing ---

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}
