// Package config loads the service configuration via a CLI flag -> env ->
// default override chain, populated once into a single struct at startup.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the fully resolved configuration surface for the service.
type Config struct {
	Addr            string
	LogLevel        string
	LogConsole      bool
	DBDir           string
	ListsDir        string
	GeomapListsDir  string
	CacheDir        string
	LogsDir         string

	BaseURL         string
	SubscriptionKey string
	Authorization   string

	HotmapAlpha float64
	HotmapBeta  float64

	MetricsEnabled bool
	MetricsAddr    string

	RedisAddr           string
	ResultCacheTTL      time.Duration
	ResultCacheLRUSize  int

	UpstreamTimeout      time.Duration
	UpstreamMinInterval  time.Duration
	UpstreamMaxRetries   int

	// The Coverage* fields bound the resilient upstream client's recursive
	// quadrant split when a fetch is rejected as too large. Defaults to
	// the full WGS84 extent (worldwide coverage).
	CoverageTopLat    float64
	CoverageLeftLon   float64
	CoverageBottomLat float64
	CoverageRightLon  float64

	ShutdownTimeout time.Duration
}

// FromEnv resolves Config from environment variables layered over built-in
// defaults. It reads no CLI flags itself: cmd/server calls FromEnv and then
// overwrites fields with any non-empty flag values, so flags take precedence
// over the environment.
func FromEnv() Config {
	return Config{
		Addr:           getenv("ADDR", ":8090"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		LogConsole:     getbool("LOG_CONSOLE", false),
		DBDir:          getenv("DB_DIR", "./data/db"),
		ListsDir:       getenv("LISTS_DIR", "./data/lists"),
		GeomapListsDir: getenv("GEOMAP_LISTS_DIR", "./data/geomap-lists"),
		CacheDir:       getenv("CACHE_DIR", "./data/cache"),
		LogsDir:        getenv("LOGS_DIR", "./data/logs"),

		BaseURL:         getenv("BASE_URL", "https://api.artportalen.se"),
		SubscriptionKey: getenv("SUBSCRIPTION_KEY", ""),
		Authorization:   getenv("AUTHORIZATION", ""),

		HotmapAlpha: getfloat("HOTMAP_ALPHA", 2.0),
		HotmapBeta:  getfloat("HOTMAP_BETA", 0.5),

		MetricsEnabled: getbool("METRICS_ENABLED", true),
		MetricsAddr:    getenv("METRICS_ADDR", ":9090"),

		RedisAddr:          getenv("REDIS_ADDR", ""),
		ResultCacheTTL:     getduration("RESULT_CACHE_TTL", 5*time.Minute),
		ResultCacheLRUSize: getint("RESULT_CACHE_LRU_SIZE", 2048),

		UpstreamTimeout:     getduration("UPSTREAM_TIMEOUT", 180*time.Second),
		UpstreamMinInterval: getduration("UPSTREAM_MIN_INTERVAL", 15*time.Second),
		UpstreamMaxRetries:  getint("UPSTREAM_MAX_RETRIES", 8),

		CoverageTopLat:    getfloat("COVERAGE_TOP_LAT", 90),
		CoverageLeftLon:   getfloat("COVERAGE_LEFT_LON", -180),
		CoverageBottomLat: getfloat("COVERAGE_BOTTOM_LAT", -90),
		CoverageRightLon:  getfloat("COVERAGE_RIGHT_LON", 180),

		ShutdownTimeout: getduration("SHUTDOWN_TIMEOUT", 15*time.Second),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
