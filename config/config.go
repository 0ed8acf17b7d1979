package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidConfig wraps every configuration problem reported by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all application configuration loaded from environment variables.
type Config struct {
	ServiceName string
	LogLevel    string

	// Storage
	StoreBackend string // "sqlite" or "postgres"
	SQLitePath   string
	PostgresDSN  string

	// Cache
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheChannel  string

	MetricsAddr string

	// Session clock
	MarketTZ     string
	CalendarPath string // optional YAML; empty = built-in calendar

	// Fetch source directory for fetch.FileSource
	FetchDir string

	// Upsert pipeline
	ChunkSize  int
	ChunkDelay time.Duration

	// Loops
	RefreshTick    time.Duration
	RefreshTimeout time.Duration // per class refresh
	WarmTick       time.Duration
	PayloadTTL     time.Duration

	// Warm breaker
	WarmFailureThreshold int
	WarmResetTimeout     time.Duration
	WarmMonitorWindow    time.Duration
	WarmCallTimeout      time.Duration

	// Fetch breaker and retry
	FetchBreakerFailures int
	FetchBreakerTimeout  time.Duration
	RetryAttempts        int
	RetryBaseDelay       time.Duration

	// Calls per minute per upstream, e.g. "market:200,fred:120"
	RateLimits string

	// Cadence overrides per session ("class:minutes,..."), keyed by
	// session name. Read from CADENCE_PREMARKET, CADENCE_OPEN,
	// CADENCE_AFTERHOURS and CADENCE_CLOSED.
	CadenceOverrides map[string]string

	errs []error
}

// Load reads configuration from environment variables with sensible defaults.
// Malformed values are reported by Validate.
func Load() *Config {
	c := &Config{}
	c.ServiceName = getEnv("SERVICE_NAME", "syncd")
	c.LogLevel = getEnv("LOG_LEVEL", "info")

	c.StoreBackend = getEnv("STORE_BACKEND", "sqlite")
	c.SQLitePath = getEnv("SQLITE_PATH", "data/market.db")
	c.PostgresDSN = getEnv("POSTGRES_DSN", "")

	c.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")
	c.RedisPassword = getEnv("REDIS_PASSWORD", "")
	c.RedisDB = c.getInt("REDIS_DB", 0)
	c.CacheChannel = getEnv("CACHE_CHANNEL", "metrics:updates")

	c.MetricsAddr = getEnv("METRICS_ADDR", ":9090")

	c.MarketTZ = getEnv("MARKET_TZ", "America/New_York")
	c.CalendarPath = getEnv("CALENDAR_PATH", "")
	c.FetchDir = getEnv("FETCH_DIR", "data/fetch")

	c.ChunkSize = c.getInt("UPSERT_CHUNK_SIZE", 100)
	c.ChunkDelay = c.getDuration("UPSERT_CHUNK_DELAY", 50*time.Millisecond)

	c.RefreshTick = c.getDuration("REFRESH_TICK", time.Minute)
	c.RefreshTimeout = c.getDuration("REFRESH_TIMEOUT", 2*time.Minute)
	c.WarmTick = c.getDuration("WARM_TICK", 5*time.Minute)
	c.PayloadTTL = c.getDuration("PAYLOAD_TTL", 15*time.Minute)

	c.WarmFailureThreshold = c.getInt("WARM_FAILURE_THRESHOLD", 3)
	c.WarmResetTimeout = c.getDuration("WARM_RESET_TIMEOUT", time.Minute)
	c.WarmMonitorWindow = c.getDuration("WARM_MONITOR_WINDOW", 10*time.Minute)
	c.WarmCallTimeout = c.getDuration("WARM_CALL_TIMEOUT", 30*time.Second)

	c.FetchBreakerFailures = c.getInt("FETCH_BREAKER_FAILURES", 5)
	c.FetchBreakerTimeout = c.getDuration("FETCH_BREAKER_TIMEOUT", 2*time.Minute)
	c.RetryAttempts = c.getInt("RETRY_ATTEMPTS", 3)
	c.RetryBaseDelay = c.getDuration("RETRY_BASE_DELAY", 500*time.Millisecond)

	c.RateLimits = getEnv("RATE_LIMITS", "market:200,fred:120")

	c.CadenceOverrides = make(map[string]string)
	for _, s := range []string{"premarket", "open", "afterhours", "closed"} {
		if v := os.Getenv("CADENCE_" + strings.ToUpper(s)); v != "" {
			c.CadenceOverrides[s] = v
		}
	}
	return c
}

// Validate returns every problem found, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	errs := append([]error(nil), c.errs...)

	switch c.StoreBackend {
	case "sqlite":
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is empty"))
		}
	case "postgres":
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required for STORE_BACKEND=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND %q: want sqlite or postgres", c.StoreBackend))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.ParseRateLimits(); err != nil {
		errs = append(errs, err)
	}

	positive := []struct {
		name string
		ok   bool
	}{
		{"UPSERT_CHUNK_SIZE", c.ChunkSize > 0},
		{"REFRESH_TICK", c.RefreshTick > 0},
		{"REFRESH_TIMEOUT", c.RefreshTimeout > 0},
		{"WARM_TICK", c.WarmTick > 0},
		{"WARM_FAILURE_THRESHOLD", c.WarmFailureThreshold > 0},
		{"WARM_RESET_TIMEOUT", c.WarmResetTimeout > 0},
		{"FETCH_BREAKER_FAILURES", c.FetchBreakerFailures > 0},
		{"RETRY_ATTEMPTS", c.RetryAttempts > 0},
	}
	for _, p := range positive {
		if !p.ok {
			errs = append(errs, fmt.Errorf("%s must be positive", p.name))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	return l, nil
}

// ParseRateLimits parses RateLimits into calls per minute per upstream.
func (c *Config) ParseRateLimits() (map[string]int, error) {
	out := make(map[string]int)
	for _, p := range strings.Split(c.RateLimits, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		name, v, ok := strings.Cut(p, ":")
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if !ok || name == "" || err != nil || n <= 0 {
			return nil, fmt.Errorf("RATE_LIMITS entry %q: want upstream:callsPerMinute", p)
		}
		out[strings.TrimSpace(name)] = n
	}
	return out, nil
}

func (c *Config) getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		c.errs = append(c.errs, fmt.Errorf("%s=%q: not an integer", key, v))
		return fallback
	}
	return n
}

func (c *Config) getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		c.errs = append(c.errs, fmt.Errorf("%s=%q: not a duration", key, v))
		return fallback
	}
	return d
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
