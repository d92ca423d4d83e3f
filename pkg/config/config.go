package config

import (
	"fmt"
	"os"
	"time"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Engine   EngineConfig
	Assets   AssetsConfig
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            string
	Environment     string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig configures the PostgreSQL connection pool.
type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig configures the Redis client used for conversation locking.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// EngineConfig holds the flow engine tuning knobs.
type EngineConfig struct {
	// MaxStepChain caps how many steps a single inbound event may execute
	// before the engine aborts the event as a cycle.
	MaxStepChain int

	// MaxReplyAttempts caps re-prompts for a question step before the
	// conversation falls back to handover (0 = unlimited).
	MaxReplyAttempts int

	// ReplyTimeout is how long a pending question waits before the sweeper
	// injects a timeout event.
	ReplyTimeout time.Duration

	// LockTTL bounds how long a per-contact lock may be held.
	LockTTL time.Duration

	// LockRetryInterval is the backoff between lock acquisition attempts.
	LockRetryInterval time.Duration

	// FlowCacheTTL bounds how long a flow definition is served from cache.
	FlowCacheTTL time.Duration
}

// AssetsConfig configures the S3-backed media asset store.
type AssetsConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	URLExpiry       time.Duration
}

// Load builds the configuration from environment variables.
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			Environment:     getEnv("ENVIRONMENT", "development"),
			ReadTimeout:     getDurationEnv("READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getDurationEnv("WRITE_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", getEnv("POSTGRES_HOST", "localhost")),
			Port:            getEnv("DB_PORT", getEnv("POSTGRES_PORT", "5432")),
			User:            getEnv("DB_USER", getEnv("POSTGRES_USER", "postgres")),
			Password:        getEnv("DB_PASSWORD", getEnv("POSTGRES_PASSWORD", "postgres")),
			DBName:          getEnv("DB_NAME", getEnv("POSTGRES_DB", "kanal")),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Engine: EngineConfig{
			MaxStepChain:      getIntEnv("ENGINE_MAX_STEP_CHAIN", 25),
			MaxReplyAttempts:  getIntEnv("ENGINE_MAX_REPLY_ATTEMPTS", 3),
			ReplyTimeout:      getDurationEnv("ENGINE_REPLY_TIMEOUT", 24*time.Hour),
			LockTTL:           getDurationEnv("ENGINE_LOCK_TTL", 30*time.Second),
			LockRetryInterval: getDurationEnv("ENGINE_LOCK_RETRY_INTERVAL", 50*time.Millisecond),
			FlowCacheTTL:      getDurationEnv("ENGINE_FLOW_CACHE_TTL", time.Minute),
		},
		Assets: AssetsConfig{
			Bucket:          getEnv("ASSETS_BUCKET", ""),
			Region:          getEnv("ASSETS_REGION", "us-east-1"),
			Endpoint:        getEnv("ASSETS_ENDPOINT", ""),
			AccessKeyID:     getEnv("ASSETS_ACCESS_KEY_ID", getEnv("AWS_ACCESS_KEY_ID", "")),
			SecretAccessKey: getEnv("ASSETS_SECRET_ACCESS_KEY", getEnv("AWS_SECRET_ACCESS_KEY", "")),
			URLExpiry:       getDurationEnv("ASSETS_URL_EXPIRY", time.Hour),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("DB_USER is required")
	}
	if c.Database.DBName == "" {
		return fmt.Errorf("DB_NAME is required")
	}
	if c.Engine.MaxStepChain <= 0 {
		return fmt.Errorf("ENGINE_MAX_STEP_CHAIN must be positive")
	}
	if c.Engine.MaxReplyAttempts < 0 {
		return fmt.Errorf("ENGINE_MAX_REPLY_ATTEMPTS must not be negative")
	}
	return nil
}

// GetDSN returns the PostgreSQL DSN.
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// GetAddr returns the Redis address.
func (c *RedisConfig) GetAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intValue int
		if _, err := fmt.Sscanf(value, "%d", &intValue); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
