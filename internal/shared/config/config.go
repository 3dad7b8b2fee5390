package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server          ServerConfig
	Database        DatabaseConfig
	KurrentDB       KurrentDBConfig
	Auth            AuthConfig
	Log             LogConfig
	Scheduler       SchedulerConfig
	Notification    NotificationConfig
	LegacyDirectory LegacyDirectoryConfig
	RateLimit       RateLimitConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// KurrentDBConfig holds configuration for the KurrentDB (EventStoreDB) event bus.
type KurrentDBConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Insecure bool
	Username string
	Password string
	// StreamPrefix is prepended to every stream the bus appends to
	StreamPrefix string
}

type AuthConfig struct {
	JWTSecret string
	// Required turns on JWT validation for /api/v1. Defaults to on in production.
	Required bool
}

type LogConfig struct {
	Level  string
	Format string // json or console
}

// SchedulerConfig controls the durable escalation job worker.
type SchedulerConfig struct {
	PollInterval  time.Duration
	BatchSize     int
	LeaseDuration time.Duration
	MaxAttempts   int
	RetryBackoff  time.Duration
	MaxBackoff    time.Duration
}

type NotificationConfig struct {
	// Provider: "console" logs every message, "mock" records them in memory
	Provider     string
	Workers      int
	BufferSize   int
	FromEmail    string
	// DrainTimeout bounds delivery of queued messages at shutdown
	DrainTimeout time.Duration
}

// LegacyDirectoryConfig points at the SQL Server responder directory kept by
// older dispatch installations. Responders missing from Postgres are looked up there.
type LegacyDirectoryConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Database string
	User     string
	Password string
	Table    string
	Encrypt  bool
}

type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
}

func Load() (*Config, error) {
	env := getEnv("ENV", "development")

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
			Env:  env,
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "platform"),
			Password: getEnv("DB_PASSWORD", "platform"),
			Database: getEnv("DB_NAME", "restoration"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		KurrentDB: KurrentDBConfig{
			Enabled:      getEnvBool("KURRENTDB_ENABLED", false),
			Host:         getEnv("KURRENTDB_HOST", "localhost"),
			Port:         getEnvInt("KURRENTDB_PORT", 2113),
			Insecure:     getEnvBool("KURRENTDB_INSECURE", true),
			Username:     getEnv("KURRENTDB_USERNAME", ""),
			Password:     getEnv("KURRENTDB_PASSWORD", ""),
			StreamPrefix: getEnv("KURRENTDB_STREAM_PREFIX", "restoration"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-in-prod"),
			Required:  getEnvBool("AUTH_REQUIRED", env == "production"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", defaultLogFormat(env)),
		},
		Scheduler: SchedulerConfig{
			PollInterval:  getEnvDuration("SCHEDULER_POLL_INTERVAL", 5*time.Second),
			BatchSize:     getEnvInt("SCHEDULER_BATCH_SIZE", 20),
			LeaseDuration: getEnvDuration("SCHEDULER_LEASE_DURATION", 2*time.Minute),
			MaxAttempts:   getEnvInt("SCHEDULER_MAX_ATTEMPTS", 5),
			RetryBackoff:  getEnvDuration("SCHEDULER_RETRY_BACKOFF", 15*time.Second),
			MaxBackoff:    getEnvDuration("SCHEDULER_MAX_BACKOFF", 10*time.Minute),
		},
		Notification: NotificationConfig{
			Provider:     getEnv("NOTIFICATION_PROVIDER", "console"),
			Workers:      getEnvInt("NOTIFICATION_WORKERS", 4),
			BufferSize:   getEnvInt("NOTIFICATION_BUFFER_SIZE", 1000),
			FromEmail:    getEnv("NOTIFICATION_FROM_EMAIL", "dispatch@example.com"),
			DrainTimeout: getEnvDuration("NOTIFICATION_DRAIN_TIMEOUT", 10*time.Second),
		},
		LegacyDirectory: LegacyDirectoryConfig{
			Enabled:  getEnvBool("LEGACY_DIRECTORY_ENABLED", false),
			Host:     getEnv("LEGACY_DIRECTORY_HOST", "localhost"),
			Port:     getEnvInt("LEGACY_DIRECTORY_PORT", 1433),
			Database: getEnv("LEGACY_DIRECTORY_DB", "Dispatch"),
			User:     getEnv("LEGACY_DIRECTORY_USER", "sa"),
			Password: getEnv("LEGACY_DIRECTORY_PASSWORD", ""),
			Table:    getEnv("LEGACY_DIRECTORY_TABLE", "dbo.Responders"),
			Encrypt:  getEnvBool("LEGACY_DIRECTORY_ENCRYPT", false),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvInt("RATE_LIMIT_RPS", 50),
			Burst:             getEnvInt("RATE_LIMIT_BURST", 100),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the worker cannot run with.
func (c *Config) Validate() error {
	if c.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("SCHEDULER_POLL_INTERVAL must be positive")
	}
	if c.Scheduler.BatchSize <= 0 {
		return fmt.Errorf("SCHEDULER_BATCH_SIZE must be positive")
	}
	if c.Scheduler.LeaseDuration <= 0 {
		return fmt.Errorf("SCHEDULER_LEASE_DURATION must be positive")
	}
	if c.Scheduler.MaxAttempts < 1 {
		return fmt.Errorf("SCHEDULER_MAX_ATTEMPTS must be at least 1")
	}
	if c.Notification.Workers < 1 {
		return fmt.Errorf("NOTIFICATION_WORKERS must be at least 1")
	}
	switch c.Notification.Provider {
	case "console", "mock":
	default:
		return fmt.Errorf("unknown NOTIFICATION_PROVIDER %q", c.Notification.Provider)
	}
	return nil
}

func defaultLogFormat(env string) string {
	if env == "production" {
		return "json"
	}
	return "console"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s", "2m") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
