package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the EchoTrack attribution service.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	ClickHouse  ClickHouseConfig
	Auth        AuthConfig
	RateLimit   RateLimitConfig
	Log         LogConfig
	Metrics     MetricsConfig
	Geo         GeoConfig
	Attribution AttributionConfig
}

type ServerConfig struct {
	Addr            string
	Env             string
	ShutdownTimeout time.Duration
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

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ClickHouseConfig configures the raw touchpoint event log.
type ClickHouseConfig struct {
	Enabled  bool
	Addr     string
	Database string
	User     string
	Password string
}

type AuthConfig struct {
	Enabled   bool
	MasterKey string
	SkipPaths []string
}

type RateLimitConfig struct {
	Enabled     bool
	IngestRPS   float64
	IngestBurst int
	ReportRPS   float64
	ReportBurst int
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// GeoConfig configures GeoIP enrichment of touchpoints.
type GeoConfig struct {
	Enabled      bool
	DatabasePath string
}

// AttributionConfig holds the tunables of the attribution engine.
type AttributionConfig struct {
	// HalfLifeDays is the time-decay model half-life.
	HalfLifeDays float64
	// AppendMaxRetries bounds the optimistic-lock retry loop on path appends.
	AppendMaxRetries int
	// AggregationTimeout caps how long a single aggregation query may run.
	AggregationTimeout time.Duration
	// CounterTTL is how long daily call counters are kept in Redis.
	CounterTTL time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("ECHOTRACK_HTTP_ADDR", ":8080"),
			Env:             getEnv("ECHOTRACK_ENV", "development"),
			ShutdownTimeout: getDurationEnv("ECHOTRACK_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("ECHOTRACK_DB_HOST", "localhost"),
			Port:     getIntEnv("ECHOTRACK_DB_PORT", 5432),
			User:     getEnv("ECHOTRACK_DB_USER", "echotrack"),
			Password: getEnv("ECHOTRACK_DB_PASSWORD", "echotrack_secret"),
			DBName:   getEnv("ECHOTRACK_DB_NAME", "echotrack"),
			SSLMode:  getEnv("ECHOTRACK_DB_SSLMODE", "disable"),
			MaxConns: getIntEnv("ECHOTRACK_DB_MAX_CONNS", 25),
			MinConns: getIntEnv("ECHOTRACK_DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Addr:     getEnv("ECHOTRACK_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("ECHOTRACK_REDIS_PASSWORD", ""),
			DB:       getIntEnv("ECHOTRACK_REDIS_DB", 0),
		},
		ClickHouse: ClickHouseConfig{
			Enabled:  getBoolEnv("ECHOTRACK_CLICKHOUSE_ENABLED", false),
			Addr:     getEnv("ECHOTRACK_CLICKHOUSE_ADDR", "localhost:9000"),
			Database: getEnv("ECHOTRACK_CLICKHOUSE_DB", "echotrack"),
			User:     getEnv("ECHOTRACK_CLICKHOUSE_USER", "default"),
			Password: getEnv("ECHOTRACK_CLICKHOUSE_PASSWORD", ""),
		},
		Auth: AuthConfig{
			Enabled:   getBoolEnv("ECHOTRACK_AUTH_ENABLED", true),
			MasterKey: getEnv("ECHOTRACK_API_KEY_MASTER", ""),
			SkipPaths: getSliceEnv("ECHOTRACK_AUTH_SKIP_PATHS", []string{"/health", "/metrics", "/track"}),
		},
		RateLimit: RateLimitConfig{
			Enabled:     getBoolEnv("ECHOTRACK_RATE_LIMIT_ENABLED", true),
			IngestRPS:   getFloatEnv("ECHOTRACK_RATE_LIMIT_INGEST_RPS", 1000),
			IngestBurst: getIntEnv("ECHOTRACK_RATE_LIMIT_INGEST_BURST", 100),
			ReportRPS:   getFloatEnv("ECHOTRACK_RATE_LIMIT_REPORT_RPS", 100),
			ReportBurst: getIntEnv("ECHOTRACK_RATE_LIMIT_REPORT_BURST", 20),
		},
		Log: LogConfig{
			Level:  getEnv("ECHOTRACK_LOG_LEVEL", "info"),
			Format: getEnv("ECHOTRACK_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolEnv("ECHOTRACK_METRICS_ENABLED", true),
			Path:    getEnv("ECHOTRACK_METRICS_PATH", "/metrics"),
		},
		Geo: GeoConfig{
			Enabled:      getBoolEnv("ECHOTRACK_GEO_ENABLED", false),
			DatabasePath: getEnv("ECHOTRACK_GEO_DB_PATH", "/app/data/GeoLite2-City.mmdb"),
		},
		Attribution: AttributionConfig{
			HalfLifeDays:       getFloatEnv("ECHOTRACK_ATTR_HALF_LIFE_DAYS", 7),
			AppendMaxRetries:   getIntEnv("ECHOTRACK_ATTR_APPEND_MAX_RETRIES", 5),
			AggregationTimeout: getDurationEnv("ECHOTRACK_ATTR_AGGREGATION_TIMEOUT", 30*time.Second),
			CounterTTL:         getDurationEnv("ECHOTRACK_ATTR_COUNTER_TTL", 90*24*time.Hour),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Auth.Enabled && c.Auth.MasterKey == "" {
		return fmt.Errorf("ECHOTRACK_API_KEY_MASTER is required when auth is enabled")
	}
	if c.Attribution.HalfLifeDays <= 0 {
		return fmt.Errorf("ECHOTRACK_ATTR_HALF_LIFE_DAYS must be positive")
	}
	if c.Attribution.AppendMaxRetries < 1 {
		return fmt.Errorf("ECHOTRACK_ATTR_APPEND_MAX_RETRIES must be at least 1")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
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

func getFloatEnv(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
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
