// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, resolver thresholds,
// modem parameters, rate limiting, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
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
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-binwatch-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// ResolverConfig defines coordinate-resolution thresholds and fallbacks.
//
// StalenessThreshold and RetentionMaxAge are deliberately two separate
// knobs: the first demotes a backup record from STALE to BACKUP in resolver
// output, the second is how long cleanup keeps backup rows at all.
type ResolverConfig struct {
	StalenessThreshold time.Duration // STALENESS_THRESHOLD (default 30m)
	RetentionMaxAge    time.Duration // BACKUP_RETENTION_HOURS (default 24h)
	DefaultLatitude    float64       // DEFAULT_LAT, fallback marker position
	DefaultLongitude   float64       // DEFAULT_LNG
	CleanupInterval    time.Duration // CLEANUP_INTERVAL, retention worker cadence
}

// IngestConfig defines the sliding-window admission policy applied to the
// telemetry/resolution pipeline, keyed per bin.
type IngestConfig struct {
	MaxRequests int           // INGEST_MAX_REQUESTS per window
	Window      time.Duration // INGEST_WINDOW
}

// ModemConfig defines the serial SMS hardware channel.
type ModemConfig struct {
	Device      string        // MODEM_DEVICE (e.g. /dev/ttyUSB0); empty disables the modem
	BaudRate    int           // MODEM_BAUD (e.g. 115200)
	SMSC        string        // MODEM_SMSC message-center address
	SendTimeout time.Duration // MODEM_SEND_TIMEOUT, timeout-as-failure budget
	TwoSegments bool          // SMS_TWO_SEGMENTS, allow 306-char messages
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
	DBPath   string // SQLite path
	Resolver ResolverConfig
	Ingest   IngestConfig
	Modem    ModemConfig

	// Edge rate limiting (HTTP token bucket, per user/IP)
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

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
		DBPath: getenv("DB_PATH", "binwatch.db"),
		Resolver: ResolverConfig{
			StalenessThreshold: getdur("STALENESS_THRESHOLD", 30*time.Minute),
			RetentionMaxAge:    time.Duration(getint("BACKUP_RETENTION_HOURS", 24)) * time.Hour,
			DefaultLatitude:    getfloat("DEFAULT_LAT", 14.5995),
			DefaultLongitude:   getfloat("DEFAULT_LNG", 120.9842),
			CleanupInterval:    getdur("CLEANUP_INTERVAL", time.Hour),
		},
		Ingest: IngestConfig{
			MaxRequests: getint("INGEST_MAX_REQUESTS", 30),
			Window:      getdur("INGEST_WINDOW", time.Minute),
		},
		Modem: ModemConfig{
			Device:      getenv("MODEM_DEVICE", ""),
			BaudRate:    getint("MODEM_BAUD", 115200),
			SMSC:        getenv("MODEM_SMSC", ""),
			SendTimeout: getdur("MODEM_SEND_TIMEOUT", 20*time.Second),
			TwoSegments: getbool("SMS_TWO_SEGMENTS", false),
		},

		// Edge rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

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
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-binwatch-backend"),
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
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.Resolver.StalenessThreshold <= 0 {
		return cfg, errors.New("STALENESS_THRESHOLD must be > 0")
	}
	if cfg.Resolver.RetentionMaxAge <= 0 {
		return cfg, errors.New("BACKUP_RETENTION_HOURS must be > 0")
	}
	if cfg.Resolver.DefaultLatitude < -90 || cfg.Resolver.DefaultLatitude > 90 {
		return cfg, errors.New("DEFAULT_LAT must be within [-90, 90]")
	}
	if cfg.Resolver.DefaultLongitude < -180 || cfg.Resolver.DefaultLongitude > 180 {
		return cfg, errors.New("DEFAULT_LNG must be within [-180, 180]")
	}
	if cfg.Resolver.CleanupInterval <= 0 {
		return cfg, errors.New("CLEANUP_INTERVAL must be > 0")
	}
	if cfg.Ingest.MaxRequests < 1 {
		return cfg, errors.New("INGEST_MAX_REQUESTS must be >= 1")
	}
	if cfg.Ingest.Window <= 0 {
		return cfg, errors.New("INGEST_WINDOW must be > 0")
	}
	if cfg.Modem.BaudRate <= 0 {
		return cfg, errors.New("MODEM_BAUD must be > 0")
	}
	if cfg.Modem.SendTimeout <= 0 {
		return cfg, errors.New("MODEM_SEND_TIMEOUT must be > 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
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
