// Package config provides application configuration loaded from environment
// variables with defaults and validation. It covers the HTTP server, logging,
// the booking store, auth, the checkout provider, notifications and
// observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/currency"
)

// CORSConfig defines Cross-Origin Resource Sharing settings. The same
// allowlist decides which request origins checkout redirects may target.
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
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DBConfig selects the booking store.
type DBConfig struct {
	Driver  string        // DB_DRIVER: sqlite|mysql|postgres
	DSN     string        // DB_DSN; for sqlite falls back to Path
	Path    string        // DB_PATH, sqlite file
	Timeout time.Duration // STORE_TIMEOUT, per store call
}

// AuthConfig validates bearer tokens.
type AuthConfig struct {
	JWTSecret   string // AUTH_JWT_SECRET (required)
	JWTIssuer   string // AUTH_JWT_ISSUER, optional
	JWTAudience string // AUTH_JWT_AUDIENCE, optional
}

// CheckoutConfig configures the hosted checkout provider.
type CheckoutConfig struct {
	StripeSecretKey string        // STRIPE_SECRET_KEY; empty selects the stub gateway
	Currency        string        // CHECKOUT_CURRENCY, ISO 4217, lower-cased
	DefaultOrigin   string        // CHECKOUT_DEFAULT_ORIGIN
	Timeout         time.Duration // GATEWAY_TIMEOUT
	Retries         uint          // GATEWAY_RETRIES, session reads only
}

// NotifyConfig configures booking confirmation channels. Each channel is
// off while its credential is empty.
type NotifyConfig struct {
	ResendAPIKey string        // RESEND_API_KEY
	From         string        // NOTIFY_FROM
	AMQPURL      string        // AMQP_URL
	AMQPExchange string        // AMQP_EXCHANGE
	Timeout      time.Duration // NOTIFY_TIMEOUT, whole fan-out
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
	MaxBodyBytes      int64         // request body cap
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	DB       DBConfig
	Auth     AuthConfig
	Checkout CheckoutConfig
	Notify   NotifyConfig

	// Rate limiting
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
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		MaxBodyBytes:      int64(getint("MAX_BODY_BYTES", 64<<10)),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		DB: DBConfig{
			Driver:  strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			DSN:     getenv("DB_DSN", ""),
			Path:    getenv("DB_PATH", "bookings.db"),
			Timeout: getdur("STORE_TIMEOUT", 5*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:   getenv("AUTH_JWT_SECRET", ""),
			JWTIssuer:   getenv("AUTH_JWT_ISSUER", ""),
			JWTAudience: getenv("AUTH_JWT_AUDIENCE", ""),
		},
		Checkout: CheckoutConfig{
			StripeSecretKey: getenv("STRIPE_SECRET_KEY", ""),
			Currency:        strings.ToLower(strings.TrimSpace(getenv("CHECKOUT_CURRENCY", "inr"))),
			DefaultOrigin:   strings.TrimRight(getenv("CHECKOUT_DEFAULT_ORIGIN", "http://localhost:3000"), "/"),
			Timeout:         getdur("GATEWAY_TIMEOUT", 15*time.Second),
			Retries:         uint(max(getint("GATEWAY_RETRIES", 2), 0)),
		},
		Notify: NotifyConfig{
			ResendAPIKey: getenv("RESEND_API_KEY", ""),
			From:         getenv("NOTIFY_FROM", "MediConnect <onboarding@resend.dev>"),
			AMQPURL:      getenv("AMQP_URL", ""),
			AMQPExchange: getenv("AMQP_EXCHANGE", "bookings"),
			Timeout:      getdur("NOTIFY_TIMEOUT", 10*time.Second),
		},

		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "speedy-doc-link"),
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
	if cfg.DB.Driver == "postgresql" {
		cfg.DB.Driver = "postgres"
	}
	if cfg.DB.DSN == "" && cfg.DB.Driver == "sqlite" {
		cfg.DB.DSN = cfg.DB.Path
	}

	return cfg, cfg.validate()
}

func (cfg Config) validate() error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 || cfg.MaxBodyBytes <= 0 {
		return errors.New("MAX_HEADER_BYTES and MAX_BODY_BYTES must be > 0")
	}
	switch cfg.DB.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		return errors.New("DB_DRIVER must be one of: sqlite, mysql, postgres")
	}
	if strings.TrimSpace(cfg.DB.DSN) == "" {
		return errors.New("DB_DSN must not be empty (or DB_PATH for sqlite)")
	}
	if cfg.DB.Timeout <= 0 || cfg.Checkout.Timeout <= 0 || cfg.Notify.Timeout <= 0 {
		return errors.New("STORE_TIMEOUT, GATEWAY_TIMEOUT and NOTIFY_TIMEOUT must be positive")
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return errors.New("AUTH_JWT_SECRET must not be empty")
	}
	if _, err := currency.ParseISO(cfg.Checkout.Currency); err != nil {
		return errors.New("CHECKOUT_CURRENCY must be an ISO 4217 code")
	}
	if !strings.HasPrefix(cfg.Checkout.DefaultOrigin, "http://") && !strings.HasPrefix(cfg.Checkout.DefaultOrigin, "https://") {
		return errors.New("CHECKOUT_DEFAULT_ORIGIN must be an http(s) URL")
	}
	if cfg.RateRPS < 0 {
		return errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	return nil
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
