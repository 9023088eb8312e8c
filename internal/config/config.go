// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, rate limiting, merchant
// runtime tuning, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tbourn/go-merchant-backend/internal/sysutil"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-merchant-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// MerchantConfig tunes the merchant runtime. Business settings (rotation
// length, items, cooldown) live in the database and are edited by admins.
type MerchantConfig struct {
	RotationTick     time.Duration // ROTATION_TICK: scheduler interval
	PurchaseTimeout  time.Duration // PURCHASE_TIMEOUT: per store call
	SettingsCacheTTL time.Duration // SETTINGS_CACHE_TTL: staleness bound for admin edits
	AuditBuffer      int           // AUDIT_BUFFER: queued audit records
	AuditMaxRetries  int           // AUDIT_MAX_RETRIES: attempts per record
	SeedPath         string        // CATALOG_SEED_PATH: optional YAML seed
	RandomSeed       uint64        // RANDOM_SEED: 0 uses the crypto RNG
	AdminToken       string        // ADMIN_TOKEN: empty disables the admin API
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// App
	DBPath          string        // SQLite path
	ShutdownTimeout time.Duration // graceful shutdown budget
	Merchant        MerchantConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)
	BuyRPS    float64 // purchase bucket per player; 0 disables the separate bucket
	BuyBurst  int     // purchase bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
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
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DBPath:          getenv("DB_PATH", "merchant.db"),
		ShutdownTimeout: getdur("SHUTDOWN_TIMEOUT", 10*time.Second),
		Merchant: MerchantConfig{
			RotationTick:     getdur("ROTATION_TICK", time.Minute),
			PurchaseTimeout:  getdur("PURCHASE_TIMEOUT", 5*time.Second),
			SettingsCacheTTL: getdur("SETTINGS_CACHE_TTL", 2*time.Second),
			AuditBuffer:      getint("AUDIT_BUFFER", 1024),
			AuditMaxRetries:  getint("AUDIT_MAX_RETRIES", 3),
			SeedPath:         getenv("CATALOG_SEED_PATH", ""),
			RandomSeed:       getuint("RANDOM_SEED", 0),
			AdminToken:       getenv("ADMIN_TOKEN", ""),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),
		BuyRPS:    getfloat("BUY_RATE_RPS", 1.0),
		BuyBurst:  getint("BUY_RATE_BURST", 3),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-merchant-backend"),
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

	return cfg, cfg.validate()
}

// validate reports every invalid setting at once so a misconfigured
// deployment can be fixed in one pass.
func (cfg Config) validate() error {
	var errs []error
	check := func(bad bool, msg string) {
		if bad {
			errs = append(errs, errors.New(msg))
		}
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		check(true, "LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	check(strings.TrimSpace(cfg.Port) == "", "PORT must not be empty")
	check(cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0,
		"timeouts must be positive durations")
	check(cfg.MaxHeaderBytes <= 0, "MAX_HEADER_BYTES must be > 0")
	check(strings.TrimSpace(cfg.DBPath) == "", "DB_PATH must not be empty")
	check(cfg.ShutdownTimeout <= 0, "SHUTDOWN_TIMEOUT must be > 0")

	m := cfg.Merchant
	check(m.RotationTick <= 0, "ROTATION_TICK must be > 0")
	check(m.PurchaseTimeout <= 0, "PURCHASE_TIMEOUT must be > 0")
	check(m.SettingsCacheTTL < 0, "SETTINGS_CACHE_TTL must be >= 0")
	check(m.AuditBuffer < 1, "AUDIT_BUFFER must be >= 1")
	check(m.AuditMaxRetries < 1, "AUDIT_MAX_RETRIES must be >= 1")

	check(cfg.RateRPS < 0, "RATE_RPS must be >= 0")
	check(cfg.RateBurst < 1, "RATE_BURST must be >= 1")
	check(cfg.BuyRPS < 0, "BUY_RATE_RPS must be >= 0")
	check(cfg.BuyBurst < 1, "BUY_RATE_BURST must be >= 1")
	check(cfg.Security.HSTSMaxAge < 0, "HSTS_MAX_AGE must be >= 0")
	check(cfg.IdempotencyTTL <= 0, "IDEMPOTENCY_TTL must be > 0")
	check(cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	return errors.Join(errs...)
}

// ---- helpers ----

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

func getuint(k string, def uint64) uint64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if u, err := strconv.ParseUint(v, 10, 64); err == nil {
			return u
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch {
		case sysutil.IsTruthy(v):
			return true
		case sysutil.IsFalsy(v):
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

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
