package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the Propeller tracker.
type Config struct {
	Server     ServerConfig
	Tracking   TrackingConfig
	Store      StoreConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	ClickHouse ClickHouseConfig
	Auth       AuthConfig
	RateLimit  RateLimitConfig
	Log        LogConfig
	Metrics    MetricsConfig
}

type ServerConfig struct {
	Addr            string
	Env             string
	ShutdownTimeout time.Duration
	// Workers sets GOMAXPROCS when positive.
	Workers int
}

// TrackingConfig configures the aggregation cache.
type TrackingConfig struct {
	// Stores is the ordered list of store names; the first is the default.
	Stores []string
	// Collection is the per-store table/collection holding aggregates.
	Collection string
	// FlushThreshold triggers an early write once a key's counter reaches it.
	// Zero disables threshold flushes.
	FlushThreshold int64
	ClockInterval  time.Duration
	Timezone       string
	WriteTimeout   time.Duration
	// MaxInflightWrites bounds concurrent store writes.
	MaxInflightWrites int64
	DrainTimeout      time.Duration
}

// Location resolves Timezone; "Local" and "" mean the process time zone.
func (t TrackingConfig) Location() (*time.Location, error) {
	if t.Timezone == "" || t.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(t.Timezone)
}

// DefaultStore returns the store used when a request names none.
func (t TrackingConfig) DefaultStore() string {
	if len(t.Stores) == 0 {
		return ""
	}
	return t.Stores[0]
}

// StoreConfig selects the backing store driver.
type StoreConfig struct {
	// Driver is one of memory, postgres, redis, clickhouse.
	Driver string
	// FallbackMemory keeps the tracker up on the in-memory store when the
	// configured driver is unreachable. Counts recorded that way are lost
	// on exit and /health reports degraded.
	FallbackMemory bool
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
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	// TTL expires aggregate hashes; zero keeps them forever.
	TTL time.Duration
}

// ClickHouseConfig configures the ClickHouse connection.
type ClickHouseConfig struct {
	Addr     []string
	Database string
	Username string
	Password string
}

// AuthConfig protects the diagnostic endpoints. Tracking requests are
// never authenticated.
type AuthConfig struct {
	MasterKey string
}

// Enabled reports whether a key is configured.
func (a AuthConfig) Enabled() bool {
	return a.MasterKey != ""
}

// RateLimitConfig limits the diagnostic endpoints.
type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled   bool
	Path      string
	Namespace string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("PROPELLER_HTTP_ADDR", ":8888"),
			Env:             getEnv("PROPELLER_ENV", "development"),
			ShutdownTimeout: getDurationEnv("PROPELLER_SHUTDOWN_TIMEOUT", 30*time.Second),
			Workers:         getIntEnv("PROPELLER_WORKERS", 0),
		},
		Tracking: TrackingConfig{
			Stores:            getSliceEnv("PROPELLER_STORES", []string{"www"}),
			Collection:        getEnv("PROPELLER_COLLECTION", "log_summary"),
			FlushThreshold:    int64(getIntEnv("PROPELLER_FLUSH_THRESHOLD", 100)),
			ClockInterval:     getDurationEnv("PROPELLER_CLOCK_INTERVAL", 10*time.Second),
			Timezone:          getEnv("PROPELLER_TIMEZONE", "Local"),
			WriteTimeout:      getDurationEnv("PROPELLER_WRITE_TIMEOUT", 5*time.Second),
			MaxInflightWrites: int64(getIntEnv("PROPELLER_MAX_INFLIGHT_WRITES", 64)),
			DrainTimeout:      getDurationEnv("PROPELLER_DRAIN_TIMEOUT", 20*time.Second),
		},
		Store: StoreConfig{
			Driver:         getEnv("PROPELLER_STORE_DRIVER", "memory"),
			FallbackMemory: getBoolEnv("PROPELLER_STORE_FALLBACK_MEMORY", false),
		},
		Database: DatabaseConfig{
			Host:     getEnv("PROPELLER_DB_HOST", "localhost"),
			Port:     getIntEnv("PROPELLER_DB_PORT", 5432),
			User:     getEnv("PROPELLER_DB_USER", "propeller"),
			Password: getEnv("PROPELLER_DB_PASSWORD", "propeller"),
			DBName:   getEnv("PROPELLER_DB_NAME", "propeller"),
			SSLMode:  getEnv("PROPELLER_DB_SSLMODE", "disable"),
			MaxConns: getIntEnv("PROPELLER_DB_MAX_CONNS", 25),
			MinConns: getIntEnv("PROPELLER_DB_MIN_CONNS", 2),
		},
		Redis: RedisConfig{
			Addr:      getEnv("PROPELLER_REDIS_ADDR", "localhost:6379"),
			Password:  getEnv("PROPELLER_REDIS_PASSWORD", ""),
			DB:        getIntEnv("PROPELLER_REDIS_DB", 0),
			KeyPrefix: getEnv("PROPELLER_REDIS_PREFIX", "propeller"),
			TTL:       getDurationEnv("PROPELLER_REDIS_TTL", 0),
		},
		ClickHouse: ClickHouseConfig{
			Addr:     getSliceEnv("PROPELLER_CLICKHOUSE_ADDR", []string{"localhost:9000"}),
			Database: getEnv("PROPELLER_CLICKHOUSE_DB", "default"),
			Username: getEnv("PROPELLER_CLICKHOUSE_USER", "default"),
			Password: getEnv("PROPELLER_CLICKHOUSE_PASSWORD", ""),
		},
		Auth: AuthConfig{
			MasterKey: getEnv("PROPELLER_API_KEY", ""),
		},
		RateLimit: RateLimitConfig{
			Enabled: getBoolEnv("PROPELLER_RATE_LIMIT_ENABLED", true),
			RPS:     getFloatEnv("PROPELLER_RATE_LIMIT_RPS", 5),
			Burst:   getIntEnv("PROPELLER_RATE_LIMIT_BURST", 10),
		},
		Log: LogConfig{
			Level:  getEnv("PROPELLER_LOG_LEVEL", "info"),
			Format: getEnv("PROPELLER_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled:   getBoolEnv("PROPELLER_METRICS_ENABLED", true),
			Path:      getEnv("PROPELLER_METRICS_PATH", "/metrics"),
			Namespace: getEnv("PROPELLER_METRICS_NAMESPACE", "propeller"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if len(c.Tracking.Stores) == 0 {
		return fmt.Errorf("PROPELLER_STORES must name at least one store")
	}
	seen := make(map[string]struct{}, len(c.Tracking.Stores))
	for _, s := range c.Tracking.Stores {
		if !validIdentifier(s) {
			return fmt.Errorf("invalid store name %q: use letters, digits and underscores", s)
		}
		if _, dup := seen[s]; dup {
			return fmt.Errorf("store %q listed twice in PROPELLER_STORES", s)
		}
		seen[s] = struct{}{}
	}
	if !validIdentifier(c.Tracking.Collection) {
		return fmt.Errorf("invalid collection name %q", c.Tracking.Collection)
	}
	if c.Tracking.FlushThreshold < 0 {
		return fmt.Errorf("PROPELLER_FLUSH_THRESHOLD must be >= 0")
	}
	if c.Tracking.ClockInterval <= 0 {
		return fmt.Errorf("PROPELLER_CLOCK_INTERVAL must be positive")
	}
	if c.Tracking.MaxInflightWrites <= 0 {
		return fmt.Errorf("PROPELLER_MAX_INFLIGHT_WRITES must be positive")
	}
	if _, err := c.Tracking.Location(); err != nil {
		return fmt.Errorf("invalid PROPELLER_TIMEZONE: %w", err)
	}
	switch c.Store.Driver {
	case "memory", "postgres", "redis", "clickhouse":
	default:
		return fmt.Errorf("unknown PROPELLER_STORE_DRIVER %q", c.Store.Driver)
	}
	return nil
}

// Store and collection names end up in table and key names.
func validIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			return false
		}
	}
	return true
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
