package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	ServerPort   string
	ServerHost   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers           []string
	KafkaGroupID           string
	CacheInvalidationTopic string

	// Ingestion limits
	IngestionMaxFeatures int
	IngestionMaxUploadMB int
	AttributeKeysPath    string

	// Progress streaming
	ProgressBackend   string
	ProgressNamespace string
	ProgressStreamTTL time.Duration

	// Workflow engine
	WorkflowStepMaxAttempts int
	WorkflowRetention       time.Duration
	WorkflowCleanupInterval time.Duration

	// Sessions
	SessionSecret   string
	SessionIssuer   string
	SessionAudience string
	SessionTTL      time.Duration

	// Caching and rate limiting
	LogCacheTTL    time.Duration
	RateLimitRPS   int
	RateLimitBurst int
}

const (
	DefaultMaxFeatures = 20000
	DefaultMaxUploadMB = 50
)

func Load() *Config {
	return &Config{
		ServerPort:   getEnv("SERVER_PORT", "8081"),
		ServerHost:   getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:  getDuration("READ_TIMEOUT", 60*time.Second),
		WriteTimeout: getDuration("WRITE_TIMEOUT", 0),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "cropsight"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "cropsight"),
		PostgresDB:       getEnv("POSTGRES_DB", "cropsight"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers:           getStringSliceEnv("KAFKA_BROKERS", nil),
		KafkaGroupID:           getEnv("KAFKA_GROUP_ID", "cropsight-ingestion"),
		CacheInvalidationTopic: getEnv("CACHE_INVALIDATION_TOPIC", "cropsight.cache.invalidate"),

		IngestionMaxFeatures: getPositiveIntEnv("INGESTION_MAX_FEATURES", DefaultMaxFeatures),
		IngestionMaxUploadMB: getPositiveIntEnv("INGESTION_MAX_UPLOAD_MB", DefaultMaxUploadMB),
		AttributeKeysPath:    getEnv("ATTRIBUTE_KEYS_PATH", ""),

		ProgressBackend:   strings.ToLower(getEnv("PROGRESS_BACKEND", "redis")),
		ProgressNamespace: getEnv("PROGRESS_NAMESPACE", "data-pipeline-progress"),
		ProgressStreamTTL: getDuration("PROGRESS_STREAM_TTL", time.Hour),

		WorkflowStepMaxAttempts: getPositiveIntEnv("WORKFLOW_STEP_MAX_ATTEMPTS", 3),
		WorkflowRetention:       getDuration("WORKFLOW_RETENTION", 30*24*time.Hour),
		WorkflowCleanupInterval: getDuration("WORKFLOW_CLEANUP_INTERVAL", time.Hour),

		SessionSecret:   getEnv("SESSION_SECRET", "dev-session-secret"),
		SessionIssuer:   getEnv("SESSION_ISSUER", "cropsight"),
		SessionAudience: getEnv("SESSION_AUDIENCE", "cropsight-console"),
		SessionTTL:      getDuration("SESSION_TTL", 12*time.Hour),

		LogCacheTTL:    getDuration("LOG_CACHE_TTL", 5*time.Minute),
		RateLimitRPS:   getIntEnv("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getIntEnv("RATE_LIMIT_BURST", 40),
	}
}

// MaxUploadBytes is the upload ceiling in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.IngestionMaxUploadMB) * 1024 * 1024
}

func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getPositiveIntEnv treats unparsable, zero and negative values as unset.
func getPositiveIntEnv(key string, defaultValue int) int {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil && intValue > 0 {
			return intValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
