package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BradenHooton/finvault/internal/models"
	"github.com/BradenHooton/finvault/internal/ratelimit"
	"github.com/joho/godotenv"
)

const (
	DegradedModeAllow = "allow"
	DegradedModeDeny  = "deny"

	RateLimitBackendMemory = "memory"
	RateLimitBackendRedis  = "redis"
)

type Config struct {
	Database    DatabaseConfig
	Server      ServerConfig
	Security    SecurityConfig
	Identity    IdentityProviderConfig
	RateLimit   RateLimitConfig
	Redis       RedisConfig
	Email       EmailConfig
	Push        PushConfig
	Maintenance MaintenanceConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

// SecurityConfig gathers every knob of the login gateway and the perimeter gate
type SecurityConfig struct {
	EncryptionKey string
	// LegacyKeys are tried after EncryptionKey when opening escrowed sessions
	LegacyKeys []string

	MaxFailedAttempts int
	LockoutDuration   time.Duration

	OTPTTL         time.Duration
	OTPMaxAttempts int
	StrictIP       bool
	DegradedMode   string
	CodeHashCost   int

	CSRFExemptPrefixes []string
	CSPConnectSources  []string
	TrustedProxies     []string

	FailureDelay       time.Duration
	FailureDelayJitter time.Duration
}

// OTPConfigured reports whether the escrow key is present
func (s SecurityConfig) OTPConfigured() bool {
	return strings.TrimSpace(s.EncryptionKey) != ""
}

// AllowDegradedLogin reports whether login may skip the OTP step when the key is missing
func (s SecurityConfig) AllowDegradedLogin() bool {
	return s.DegradedMode == DegradedModeAllow
}

type IdentityProviderConfig struct {
	URL            string
	AnonKey        string
	ServiceRoleKey string
	JWTSecret      string
	JWTAudience    string
	Timeout        time.Duration
}

type RateLimitConfig struct {
	Backend string
	Default models.RateLimitPolicy
	Rules   []ratelimit.Rule
	// LoginBurst caps login requests per IP per minute ahead of the fixed-window limiter
	LoginBurst int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type EmailConfig struct {
	AWSRegion   string
	FromAddress string
	AppBaseURL  string
}

type PushConfig struct {
	WebhookURL string
	Secret     string
}

type MaintenanceConfig struct {
	CleanupInterval time.Duration
	OTPRetention    time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")

	defaultPolicy, err := ratelimit.ParsePolicy(getEnv("RATE_LIMIT_DEFAULT", "60/1m"))
	if err != nil {
		return nil, fmt.Errorf("RATE_LIMIT_DEFAULT: %w", err)
	}
	rules, err := ratelimit.ParseRules(getEnv("RATE_LIMIT_RULES", "/api/auth/=10/1m,/api/cron/=5/1m,/api/webhooks/=30/1m"))
	if err != nil {
		return nil, fmt.Errorf("RATE_LIMIT_RULES: %w", err)
	}

	identity := IdentityProviderConfig{
		URL:            strings.TrimRight(getEnv("IDP_URL", ""), "/"),
		AnonKey:        getEnv("IDP_ANON_KEY", ""),
		ServiceRoleKey: getEnv("IDP_SERVICE_ROLE_KEY", ""),
		JWTSecret:      getEnv("IDP_JWT_SECRET", ""),
		JWTAudience:    getEnv("IDP_JWT_AUDIENCE", "authenticated"),
		Timeout:        getEnvAsDuration("IDP_TIMEOUT", 10*time.Second),
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "finvault"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Security: SecurityConfig{
			EncryptionKey:      getEnv("OTP_ENCRYPTION_KEY", ""),
			LegacyKeys:         legacyKeys(identity),
			MaxFailedAttempts:  getEnvAsInt("LOGIN_MAX_FAILED_ATTEMPTS", 5),
			LockoutDuration:    getEnvAsDuration("LOGIN_LOCKOUT_DURATION", 15*time.Minute),
			OTPTTL:             getEnvAsDuration("OTP_TTL", 10*time.Minute),
			OTPMaxAttempts:     getEnvAsInt("OTP_MAX_ATTEMPTS", 5),
			StrictIP:           getEnvAsBool("OTP_STRICT_IP", false),
			DegradedMode:       strings.ToLower(getEnv("OTP_DEGRADED_MODE", DegradedModeAllow)),
			CodeHashCost:       getEnvAsInt("OTP_HASH_COST", 10),
			CSRFExemptPrefixes: getEnvAsList("CSRF_EXEMPT_PREFIXES", []string{"/api/webhooks/", "/api/cron/"}),
			CSPConnectSources:  cspConnectSources(identity.URL),
			TrustedProxies:     getEnvAsList("TRUSTED_PROXIES", nil),
			FailureDelay:       getEnvAsDuration("LOGIN_FAILURE_DELAY", 400*time.Millisecond),
			FailureDelayJitter: getEnvAsDuration("LOGIN_FAILURE_JITTER", 200*time.Millisecond),
		},
		Identity: identity,
		RateLimit: RateLimitConfig{
			Backend:    strings.ToLower(getEnv("RATE_LIMIT_BACKEND", RateLimitBackendMemory)),
			Default:    defaultPolicy,
			Rules:      rules,
			LoginBurst: getEnvAsInt("LOGIN_BURST_PER_MINUTE", 20),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Email: EmailConfig{
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", "no-reply@finvault.local"),
			AppBaseURL:  strings.TrimRight(getEnv("APP_BASE_URL", "http://localhost:5173"), "/"),
		},
		Push: PushConfig{
			WebhookURL: getEnv("PUSH_WEBHOOK_URL", ""),
			Secret:     getEnv("PUSH_WEBHOOK_SECRET", ""),
		},
		Maintenance: MaintenanceConfig{
			CleanupInterval: getEnvAsDuration("CLEANUP_INTERVAL", 5*time.Minute),
			OTPRetention:    getEnvAsDuration("OTP_RETENTION", 24*time.Hour),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.Identity.URL == "" {
		return fmt.Errorf("IDP_URL is required")
	}
	if c.Identity.AnonKey == "" && c.Identity.ServiceRoleKey == "" {
		return fmt.Errorf("IDP_ANON_KEY or IDP_SERVICE_ROLE_KEY is required")
	}

	s := c.Security
	if s.DegradedMode != DegradedModeAllow && s.DegradedMode != DegradedModeDeny {
		return fmt.Errorf("OTP_DEGRADED_MODE must be %q or %q", DegradedModeAllow, DegradedModeDeny)
	}
	if s.MaxFailedAttempts < 1 {
		return fmt.Errorf("LOGIN_MAX_FAILED_ATTEMPTS must be positive")
	}
	if s.OTPMaxAttempts < 1 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be positive")
	}
	if s.LockoutDuration <= 0 || s.OTPTTL <= 0 {
		return fmt.Errorf("LOGIN_LOCKOUT_DURATION and OTP_TTL must be positive")
	}
	if s.OTPConfigured() && c.Server.Env == "production" && len(s.EncryptionKey) < 32 {
		return fmt.Errorf("OTP_ENCRYPTION_KEY must be at least 32 characters in production")
	}

	switch c.RateLimit.Backend {
	case RateLimitBackendMemory, RateLimitBackendRedis:
	default:
		return fmt.Errorf("RATE_LIMIT_BACKEND must be %q or %q", RateLimitBackendMemory, RateLimitBackendRedis)
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// legacyKeys lists fallback escrow secrets: explicit retired keys first,
// then the provider secrets older deployments derived the escrow key from
func legacyKeys(identity IdentityProviderConfig) []string {
	keys := getEnvAsList("OTP_LEGACY_KEYS", nil)
	if identity.ServiceRoleKey != "" {
		keys = append(keys, identity.ServiceRoleKey)
	}
	if identity.JWTSecret != "" {
		keys = append(keys, identity.JWTSecret)
	}
	return keys
}

// cspConnectSources is the identity provider origin plus any extra services in CSP_CONNECT_SOURCES
func cspConnectSources(identityURL string) []string {
	sources := []string{"'self'"}
	if identityURL != "" {
		sources = append(sources, identityURL)
	}
	return append(sources, getEnvAsList("CSP_CONNECT_SOURCES", nil)...)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsList(key string, defaultVal []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if origins := getEnvAsList("ALLOWED_ORIGINS", nil); len(origins) > 0 {
		return origins
	}
	if env == "production" {
		return []string{}
	}

	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173", // Vite default
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
