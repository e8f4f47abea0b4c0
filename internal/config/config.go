// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes cache TTLs, store
// connection settings, reconciler tuning, backend endpoints, and
// observability options.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Backend modes selecting the durable backend implementation.
const (
	BackendHTTP   = "http"
	BackendSQLite = "sqlite"
)

// StoreConfig defines the key-value store connection.
type StoreConfig struct {
	Addr     string // REDIS_ADDR (host:port)
	Password string // REDIS_PASSWORD
	DB       int    // REDIS_DB
}

// CacheConfig defines TTLs and the per-key serialization switch.
type CacheConfig struct {
	TTL       time.Duration // CACHE_TTL, lifetime of message/container/staging entries
	FlagTTL   time.Duration // PROCESSED_FLAG_TTL, lifetime of processed guards
	Serialize bool          // SERIALIZE_KEYS, opt-in per-key append serialization
}

// SyncConfig tunes the background reconciler.
type SyncConfig struct {
	Interval  time.Duration // SYNC_INTERVAL between cycles
	ScanCount int64         // SYNC_SCAN_COUNT, keyspace scan page size
	RPS       float64       // SYNC_RPS, outbound call rate (0 = unlimited)
	Burst     int           // SYNC_BURST, limiter bucket size
}

// BackendConfig selects and parameterizes the durable backend.
type BackendConfig struct {
	Mode     string // BACKEND_MODE: http|sqlite
	APIURL   string // SERVER_API_URL, hosted chats API base
	Username string // SERVICE_USERNAME, service account
	Password string // SERVICE_PASSWORD
	DBPath   string // DB_PATH, sqlite mode only
}

// ProvisionConfig points at the git host and container orchestrator.
type ProvisionConfig struct {
	GitAPIURL       string // GIT_API_URL
	ProvisionAPIURL string // PROVISION_API_URL
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// Config holds all configuration values for the application.
type Config struct {
	// Ops HTTP server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	GinMode           string        // debug|release|test

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	Store     StoreConfig
	Cache     CacheConfig
	Sync      SyncConfig
	Backend   BackendConfig
	Provision ProvisionConfig
	OTEL      OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Ops HTTP server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		Store: StoreConfig{
			Addr:     getenv("REDIS_ADDR", "localhost:6379"),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getint("REDIS_DB", 0),
		},
		Cache: CacheConfig{
			TTL:       getdur("CACHE_TTL", 20*time.Minute),
			FlagTTL:   getdur("PROCESSED_FLAG_TTL", 30*time.Minute),
			Serialize: getbool("SERIALIZE_KEYS", false),
		},
		Sync: SyncConfig{
			Interval:  getdur("SYNC_INTERVAL", 60*time.Second),
			ScanCount: int64(getint("SYNC_SCAN_COUNT", 100)),
			RPS:       getfloat("SYNC_RPS", 0),
			Burst:     getint("SYNC_BURST", 1),
		},
		Backend: BackendConfig{
			Mode:     strings.ToLower(getenv("BACKEND_MODE", BackendHTTP)),
			APIURL:   strings.TrimRight(getenv("SERVER_API_URL", ""), "/"),
			Username: getenv("SERVICE_USERNAME", ""),
			Password: getenv("SERVICE_PASSWORD", ""),
			DBPath:   getenv("DB_PATH", "deploycache.db"),
		},
		Provision: ProvisionConfig{
			GitAPIURL:       strings.TrimRight(getenv("GIT_API_URL", ""), "/"),
			ProvisionAPIURL: strings.TrimRight(getenv("PROVISION_API_URL", ""), "/"),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-deploy-cache"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if strings.TrimSpace(cfg.Store.Addr) == "" {
		return cfg, errors.New("REDIS_ADDR must not be empty")
	}
	if cfg.Store.DB < 0 {
		return cfg, errors.New("REDIS_DB must be >= 0")
	}
	if cfg.Cache.TTL <= 0 {
		return cfg, errors.New("CACHE_TTL must be > 0")
	}
	if cfg.Cache.FlagTTL <= 0 {
		return cfg, errors.New("PROCESSED_FLAG_TTL must be > 0")
	}
	if cfg.Sync.Interval <= 0 {
		return cfg, errors.New("SYNC_INTERVAL must be > 0")
	}
	if cfg.Sync.ScanCount < 1 {
		return cfg, errors.New("SYNC_SCAN_COUNT must be >= 1")
	}
	if cfg.Sync.RPS < 0 {
		return cfg, errors.New("SYNC_RPS must be >= 0")
	}
	if cfg.Sync.Burst < 1 {
		return cfg, errors.New("SYNC_BURST must be >= 1")
	}
	switch cfg.Backend.Mode {
	case BackendHTTP:
		if cfg.Backend.APIURL == "" {
			return cfg, errors.New("SERVER_API_URL is required in http backend mode")
		}
		if cfg.Backend.Username == "" || cfg.Backend.Password == "" {
			return cfg, errors.New("SERVICE_USERNAME and SERVICE_PASSWORD are required in http backend mode")
		}
	case BackendSQLite:
		if strings.TrimSpace(cfg.Backend.DBPath) == "" {
			return cfg, errors.New("DB_PATH must not be empty in sqlite backend mode")
		}
	default:
		return cfg, fmt.Errorf("BACKEND_MODE must be %q or %q", BackendHTTP, BackendSQLite)
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
