// Package configs provides application configuration loaded from environment variables.
// All configuration is externalized via environment variables for 12-factor app compliance.
package configs

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds all application configuration.
// Load it once at startup using AppLoad().
type AppConfig struct {
	// LogLevel is the logrus level name (debug, info, warn, error).
	LogLevel string

	// Server contains HTTP listener and admin settings.
	Server ServerConfig

	// CBOE contains upstream market-data client settings.
	CBOE CBOEConfig

	// Storage selects and configures the option document store.
	Storage StorageConfig

	// Redis contains settings for the buffer/scheduler state store.
	Redis RedisConfig

	// History contains ClickHouse sync-history settings.
	History HistoryConfig

	// Kafka contains event export settings.
	Kafka KafkaConfig

	// Scheduler contains refill/drain/cleanup timing.
	Scheduler SchedulerConfig

	// Cleaner contains garbage collection settings.
	Cleaner CleanerConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Port is the HTTP listen port.
	Port string

	// AdminToken guards the sync and admin endpoints. Empty disables them.
	AdminToken string

	// GinMode is passed to gin.SetMode (debug, release, test).
	GinMode string
}

// CBOEConfig holds upstream client settings.
type CBOEConfig struct {
	// BaseURL is the chain endpoint prefix; the ticker and ".json" are appended.
	BaseURL string

	// Timeout bounds one HTTP request.
	Timeout time.Duration

	// RequestsPerSecond throttles outbound calls.
	RequestsPerSecond float64

	// MaxAttempts bounds retries on HTTP 429.
	MaxAttempts int

	// BreakerFailures opens the circuit after this many consecutive failures.
	BreakerFailures int

	// BreakerCooldown is how long the circuit stays open.
	BreakerCooldown time.Duration

	// UserAgent is sent on every request.
	UserAgent string
}

// StorageConfig holds option store settings.
type StorageConfig struct {
	// Driver is "postgres" or "memory".
	Driver string

	// PostgresDSN is the gorm postgres connection string.
	PostgresDSN string

	// OpTimeout bounds a single store read-modify-write.
	OpTimeout time.Duration
}

// RedisConfig holds state store settings.
type RedisConfig struct {
	// Driver is "redis" or "memory".
	Driver string

	Addr     string
	Password string
	DB       int

	// Prefix namespaces every key written by the state store.
	Prefix string
}

// HistoryConfig holds ClickHouse sync-history settings.
type HistoryConfig struct {
	// Enabled turns the ClickHouse sink on.
	Enabled bool

	// DSN is the ClickHouse connection string.
	DSN string

	// BatchSize is the maximum number of rows to accumulate before flushing.
	BatchSize int

	// BatchTimeout is the maximum time to wait before flushing.
	BatchTimeout time.Duration
}

// KafkaConfig holds Kafka connection settings for sync events.
type KafkaConfig struct {
	// Enabled turns the Kafka publisher on.
	Enabled bool

	// Client selects the producer implementation: "confluent" (librdkafka,
	// needs cgo) or "kafka-go" (pure Go).
	Client string

	// Broker is the Kafka broker address (e.g., "localhost:9092").
	Broker string

	// Topic receives sync, batch and cleanup events.
	Topic string
}

// SchedulerConfig holds trigger timing.
type SchedulerConfig struct {
	// RefillSchedule is used when nothing is persisted yet.
	RefillSchedule string

	// BatchSize is used when nothing is persisted yet.
	BatchSize int

	// InitialDrainDelay is the wait between a refill and the first drain.
	InitialDrainDelay time.Duration

	// DrainDelay is the wait between chained drains.
	DrainDelay time.Duration

	// CleanupInterval is the garbage collection cadence.
	CleanupInterval time.Duration

	// ProcessingLease bounds how long a crashed drain can hold the processing flag.
	ProcessingLease time.Duration
}

// CleanerConfig holds garbage collection settings.
type CleanerConfig struct {
	// FreshnessWindow is the maximum age of an upstream snapshot.
	FreshnessWindow time.Duration

	// Timezone decides which calendar day counts as "today" for expirations.
	Timezone string
}

// getPostgresDSN constructs the postgres DSN from environment variables.
func getPostgresDSN() string {
	if dsn := getEnv("POSTGRES_DSN", ""); dsn != "" {
		return dsn
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		getEnv("POSTGRES_HOST", "localhost"),
		getEnv("POSTGRES_PORT", "5432"),
		getEnv("POSTGRES_USER", "radar"),
		getEnv("POSTGRES_PASSWORD", "radar"),
		getEnv("POSTGRES_DB", "optionsradar"),
		getEnv("POSTGRES_SSLMODE", "disable"),
	)
}

// getClickHouseDSN constructs the ClickHouse DSN from environment variables.
func getClickHouseDSN() string {
	dbUser := getEnv("CLICKHOUSE_USER", "user")
	dbPassword := getEnv("CLICKHOUSE_PASSWORD", "password")
	dbHost := getEnv("CLICKHOUSE_HOST", "localhost")
	dbPort := getEnv("CLICKHOUSE_TCP_PORT", "9000")
	dbName := getEnv("CLICKHOUSE_DB", "db")

	return fmt.Sprintf(
		"clickhouse://%s:%s@%s:%s/%s?dial_timeout=10s&read_timeout=20s",
		dbUser, dbPassword, dbHost, dbPort, dbName,
	)
}

// AppLoad loads all application configuration from environment variables.
// It attempts to load a .env file first (for local development).
// Call this once at application startup.
func AppLoad() *AppConfig {
	_ = godotenv.Load() // Ignore error - .env is optional

	batchSize := getEnvInt("BUFFER_BATCH_SIZE", 5)
	if batchSize < 1 || batchSize > 50 {
		batchSize = 5
	}

	return &AppConfig{
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Server: ServerConfig{
			Port:       getEnv("SERVER_PORT", "8080"),
			AdminToken: getEnv("ADMIN_TOKEN", ""),
			GinMode:    getEnv("GIN_MODE", "release"),
		},
		CBOE: CBOEConfig{
			BaseURL:           getEnv("CBOE_BASE_URL", "https://cdn.cboe.com/api/global/delayed_quotes/options/"),
			Timeout:           getEnvDuration("CBOE_TIMEOUT", 30*time.Second),
			RequestsPerSecond: getEnvFloat("CBOE_REQUESTS_PER_SECOND", 2),
			MaxAttempts:       getEnvInt("CBOE_MAX_ATTEMPTS", 3),
			BreakerFailures:   getEnvInt("CBOE_BREAKER_FAILURES", 5),
			BreakerCooldown:   getEnvDuration("CBOE_BREAKER_COOLDOWN", time.Minute),
			UserAgent:         getEnv("CBOE_USER_AGENT", "optionsradar/1.0"),
		},
		Storage: StorageConfig{
			Driver:      strings.ToLower(getEnv("STORAGE_DRIVER", "postgres")),
			PostgresDSN: getPostgresDSN(),
			OpTimeout:   getEnvDuration("STORE_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			Driver:   strings.ToLower(getEnv("STATE_DRIVER", "redis")),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			Prefix:   getEnv("REDIS_PREFIX", "optionsradar"),
		},
		History: HistoryConfig{
			Enabled:      getEnvBool("HISTORY_ENABLED", false),
			DSN:          getClickHouseDSN(),
			BatchSize:    getEnvInt("HISTORY_BATCH_SIZE", 200),
			BatchTimeout: getEnvDuration("HISTORY_BATCH_TIMEOUT", 5*time.Second),
		},
		Kafka: KafkaConfig{
			Enabled: getEnvBool("KAFKA_ENABLED", false),
			Client:  strings.ToLower(getEnv("KAFKA_CLIENT", "confluent")),
			Broker:  getEnv("KAFKA_BROKER", "localhost:9092"),
			Topic:   getEnv("KAFKA_EVENTS_TOPIC", "optionsradar_events"),
		},
		Scheduler: SchedulerConfig{
			RefillSchedule:    getEnv("REFILL_SCHEDULE", "never"),
			BatchSize:         batchSize,
			InitialDrainDelay: getEnvDuration("INITIAL_DRAIN_DELAY", 30*time.Second),
			DrainDelay:        getEnvDuration("DRAIN_DELAY", 60*time.Second),
			CleanupInterval:   getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour),
			ProcessingLease:   getEnvDuration("PROCESSING_LEASE", 30*time.Minute),
		},
		Cleaner: CleanerConfig{
			FreshnessWindow: getEnvDuration("FRESHNESS_WINDOW", 24*time.Hour),
			Timezone:        getEnv("MARKET_TIMEZONE", "America/New_York"),
		},
	}
}

// getEnv returns the environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil || value <= 0 {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvDuration accepts Go duration strings ("90s", "5m").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(getEnv(key, ""))
	if err != nil || value <= 0 {
		return defaultValue
	}
	return value
}
