package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the LTV pipeline.
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Pipeline PipelineConfig
	Log      LogConfig
	Metrics  MetricsConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// RedisConfig configures the optional single-flight run lock. An empty
// Addr disables the lock entirely.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

// PipelineConfig controls ingestion and aggregation behavior.
type PipelineConfig struct {
	// InputPath is the raw attribution CSV to ingest.
	InputPath string
	// ChunkSize bounds how many rows are normalized and committed per
	// transaction.
	ChunkSize int
	// PurchaseEventName is the event name that marks purchase rows.
	PurchaseEventName string
	// ContentIDKey is the JSON key holding the product id inside the
	// event value payload.
	ContentIDKey string
	// ProductIDColumns are fallback columns checked in order when the
	// payload carries no content id.
	ProductIDColumns []string
	// InstallTimeFallback substitutes event_time for a missing
	// install_time column when true.
	InstallTimeFallback bool
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig configures the optional Prometheus listener that stays
// up while the run is in flight.
type MetricsConfig struct {
	Enabled bool
	Path    string
	Port    string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("LTV_PIPELINE_DB_HOST", "localhost"),
			Port:     getIntEnv("LTV_PIPELINE_DB_PORT", 5432),
			User:     getEnv("LTV_PIPELINE_DB_USER", "ltv"),
			Password: getEnv("LTV_PIPELINE_DB_PASSWORD", "ltv_secret"),
			DBName:   getEnv("LTV_PIPELINE_DB_NAME", "ltv"),
			SSLMode:  getEnv("LTV_PIPELINE_DB_SSLMODE", "disable"),
			MaxConns: getIntEnv("LTV_PIPELINE_DB_MAX_CONNS", 10),
			MinConns: getIntEnv("LTV_PIPELINE_DB_MIN_CONNS", 2),
		},
		Redis: RedisConfig{
			Addr:     getEnv("LTV_PIPELINE_REDIS_ADDR", ""),
			Password: getEnv("LTV_PIPELINE_REDIS_PASSWORD", ""),
			DB:       getIntEnv("LTV_PIPELINE_REDIS_DB", 0),
			LockTTL:  getDurationEnv("LTV_PIPELINE_LOCK_TTL", 30*time.Minute),
		},
		Pipeline: PipelineConfig{
			InputPath:           getEnv("LTV_PIPELINE_INPUT", ""),
			ChunkSize:           getIntEnv("LTV_PIPELINE_CHUNK_SIZE", 5000),
			PurchaseEventName:   getEnv("LTV_PIPELINE_PURCHASE_EVENT", "af_purchase"),
			ContentIDKey:        getEnv("LTV_PIPELINE_CONTENT_ID_KEY", "af_content_id"),
			ProductIDColumns:    getSliceEnv("LTV_PIPELINE_PRODUCT_ID_COLUMNS", []string{"af_content_id", "product_id", "sku"}),
			InstallTimeFallback: getBoolEnv("LTV_PIPELINE_INSTALL_TIME_FALLBACK", true),
		},
		Log: LogConfig{
			Level:  getEnv("LTV_PIPELINE_LOG_LEVEL", "info"),
			Format: getEnv("LTV_PIPELINE_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolEnv("LTV_PIPELINE_METRICS_ENABLED", false),
			Path:    getEnv("LTV_PIPELINE_METRICS_PATH", "/metrics"),
			Port:    getEnv("LTV_PIPELINE_METRICS_PORT", "9090"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Pipeline.InputPath == "" {
		return fmt.Errorf("LTV_PIPELINE_INPUT is required")
	}
	if c.Pipeline.ChunkSize <= 0 {
		return fmt.Errorf("LTV_PIPELINE_CHUNK_SIZE must be positive")
	}
	if c.Pipeline.PurchaseEventName == "" {
		return fmt.Errorf("LTV_PIPELINE_PURCHASE_EVENT must not be empty")
	}
	return nil
}

// Helper functions for reading environment variables

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getSliceEnv(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				result = append(result, p)
			}
		}
		return result
	}
	return def
}
