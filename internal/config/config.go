package config

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/plazadir/gatekeeper/pkg/domain"
)

// Config holds application configuration.
type Config struct {
	// Server
	ServerAddr string
	ServerPort int

	// Environment. Production enables the Secure cookie attribute.
	Production bool

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Store backends
	SessionBackend   string // "postgres" or "memory"
	RateLimitBackend string // "postgres", "redis" or "memory"
	RedisAddr        string
	RedisPassword    string
	RedisDB          int

	// Identity provider
	ProviderSecret   string
	ProviderIssuer   string
	ProviderTokenURL string

	// Session lifetimes
	SessionTTL time.Duration
	RefreshTTL time.Duration

	// Cookies
	CookieDomain string

	// Origin allowlist: exact origins plus trusted parent domains whose
	// subdomains are accepted.
	AllowedOrigins       []string
	AllowedOriginParents []string

	// Rate limiting
	RateLimitEnabled bool
	ExchangeLimit    domain.RateLimitConfig
	RestoreLimit     domain.RateLimitConfig
	CSRFLimit        domain.RateLimitConfig
	ThrottlePerMin   int

	// Security headers
	SecurityHeaders SecurityHeadersConfig

	// Request limits
	MaxRequestBodySize int64

	// Expired-session sweep
	SweepInterval time.Duration
}

// SecurityHeadersConfig controls the response header middleware.
type SecurityHeadersConfig struct {
	Enabled            bool
	CSP                string
	HSTSMaxAge         int
	FrameOptions       string
	ContentTypeOptions string
	ReferrerPolicy     string
}

// CookieSameSite is the SameSite policy for all first-party cookies.
const CookieSameSite = http.SameSiteLaxMode

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		ServerAddr: getEnv("SERVER_ADDR", "0.0.0.0"),
		ServerPort: getEnvInt("SERVER_PORT", 8080),
		Production: getEnvBool("PRODUCTION", false),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnvInt("DB_PORT", 5432),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "gatekeeper"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		SessionBackend:   getEnv("SESSION_BACKEND", "postgres"),
		RateLimitBackend: getEnv("RATE_LIMIT_BACKEND", "postgres"),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt("REDIS_DB", 0),

		ProviderSecret:   getEnv("PROVIDER_SECRET", ""),
		ProviderIssuer:   getEnv("PROVIDER_ISSUER", "plaza-identity"),
		ProviderTokenURL: getEnv("PROVIDER_TOKEN_URL", ""),

		SessionTTL: getEnvDuration("SESSION_TTL", 30*time.Minute),
		RefreshTTL: getEnvDuration("REFRESH_TTL", 30*24*time.Hour),

		CookieDomain: getEnv("COOKIE_DOMAIN", ""),

		AllowedOrigins:       getEnvList("ALLOWED_ORIGINS", nil),
		AllowedOriginParents: getEnvList("ALLOWED_ORIGIN_PARENTS", nil),

		RateLimitEnabled: getEnvBool("RATE_LIMIT_ENABLED", true),
		ExchangeLimit: domain.RateLimitConfig{
			Window:      getEnvDuration("EXCHANGE_LIMIT_WINDOW", 5*time.Minute),
			MaxRequests: getEnvInt("EXCHANGE_LIMIT_MAX", 10),
			MaxFailures: getEnvInt("EXCHANGE_LIMIT_MAX_FAILURES", 5),
			BlockFor:    getEnvDuration("EXCHANGE_LIMIT_BLOCK", 15*time.Minute),
		},
		RestoreLimit: domain.RateLimitConfig{
			Window:      getEnvDuration("RESTORE_LIMIT_WINDOW", 5*time.Minute),
			MaxRequests: getEnvInt("RESTORE_LIMIT_MAX", 20),
			MaxFailures: getEnvInt("RESTORE_LIMIT_MAX_FAILURES", 5),
			BlockFor:    getEnvDuration("RESTORE_LIMIT_BLOCK", 15*time.Minute),
		},
		CSRFLimit: domain.RateLimitConfig{
			Window:      getEnvDuration("CSRF_LIMIT_WINDOW", time.Minute),
			MaxRequests: getEnvInt("CSRF_LIMIT_MAX", 30),
		},
		ThrottlePerMin: getEnvInt("THROTTLE_PER_MINUTE", 120),

		SecurityHeaders: SecurityHeadersConfig{
			Enabled:            getEnvBool("SECURITY_HEADERS_ENABLED", true),
			CSP:                getEnv("SECURITY_CSP", "default-src 'none'; frame-ancestors 'none'"),
			HSTSMaxAge:         getEnvInt("SECURITY_HSTS_MAX_AGE", 31536000),
			FrameOptions:       getEnv("SECURITY_FRAME_OPTIONS", "DENY"),
			ContentTypeOptions: getEnv("SECURITY_CONTENT_TYPE_OPTIONS", "nosniff"),
			ReferrerPolicy:     getEnv("SECURITY_REFERRER_POLICY", "strict-origin-when-cross-origin"),
		},

		MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 64*1024)),

		SweepInterval: getEnvDuration("SWEEP_INTERVAL", 10*time.Minute),
	}

	if cfg.ProviderSecret == "" {
		return nil, fmt.Errorf("PROVIDER_SECRET is required")
	}
	switch cfg.SessionBackend {
	case "postgres", "memory":
	default:
		return nil, fmt.Errorf("unknown SESSION_BACKEND %q", cfg.SessionBackend)
	}
	switch cfg.RateLimitBackend {
	case "postgres", "redis", "memory":
	default:
		return nil, fmt.Errorf("unknown RATE_LIMIT_BACKEND %q", cfg.RateLimitBackend)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	list := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			list = append(list, p)
		}
	}
	return list
}
