package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "PORTAL"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabaseDriver = DatabaseDriverSQLite
	defaultDatabaseDSN    = "portal.db"
	defaultLogLevel       = "info"
	defaultCookieName     = "compliance-session"
	defaultSessionTTL     = 7 * 24 * time.Hour
	defaultCraftTimeout   = 20 * time.Second
	defaultSimulatedDelay = 300 * time.Millisecond
	defaultRateLimitStore = RateLimitBackendMemory
	defaultEvidenceBucket = "evidence-files"
	defaultShutdownGrace  = 10 * time.Second
)

// Database drivers.
const (
	DatabaseDriverSQLite   = "sqlite"
	DatabaseDriverPostgres = "postgres"
)

// Rate limit backends.
const (
	RateLimitBackendMemory = "memory"
	RateLimitBackendRedis  = "redis"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress   string
	ShutdownGrace time.Duration
	LogLevel      string

	DatabaseDriver string
	DatabaseDSN    string

	SessionSecret       string
	SessionCookieName   string
	SessionTTL          time.Duration
	SessionSecureCookie bool

	AdminEmails   []string
	AdminPassword string

	CraftBaseURL        string
	CraftTimeout        time.Duration
	CraftSimulatedDelay time.Duration
	CraftTimezone       string

	RateLimitBackend string
	RedisURL         string

	EvidenceEndpoint      string
	EvidenceAccessKey     string
	EvidenceSecretKey     string
	EvidenceBucket        string
	EvidenceRegion        string
	EvidenceUseSSL        bool
	EvidencePublicBaseURL string

	CORSAllowedOrigins []string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.shutdown_grace", defaultShutdownGrace)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("session.ttl", defaultSessionTTL)
	configViper.SetDefault("session.secure_cookie", false)
	configViper.SetDefault("craft.timeout", defaultCraftTimeout)
	configViper.SetDefault("craft.simulated_delay", defaultSimulatedDelay)
	configViper.SetDefault("craft.timezone", "UTC")
	configViper.SetDefault("ratelimit.backend", defaultRateLimitStore)
	configViper.SetDefault("evidence.bucket", defaultEvidenceBucket)
	configViper.SetDefault("evidence.use_ssl", true)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		ShutdownGrace: configViper.GetDuration("http.shutdown_grace"),
		LogLevel:      configViper.GetString("log.level"),

		DatabaseDriver: strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabaseDSN:    configViper.GetString("database.dsn"),

		SessionSecret:       configViper.GetString("session.secret"),
		SessionCookieName:   configViper.GetString("session.cookie_name"),
		SessionTTL:          configViper.GetDuration("session.ttl"),
		SessionSecureCookie: configViper.GetBool("session.secure_cookie"),

		AdminEmails:   splitList(configViper.GetStringSlice("admin.emails")),
		AdminPassword: configViper.GetString("admin.password"),

		CraftBaseURL:        strings.TrimSpace(configViper.GetString("craft.base_url")),
		CraftTimeout:        configViper.GetDuration("craft.timeout"),
		CraftSimulatedDelay: configViper.GetDuration("craft.simulated_delay"),
		CraftTimezone:       configViper.GetString("craft.timezone"),

		RateLimitBackend: strings.ToLower(strings.TrimSpace(configViper.GetString("ratelimit.backend"))),
		RedisURL:         strings.TrimSpace(configViper.GetString("redis.url")),

		EvidenceEndpoint:      strings.TrimSpace(configViper.GetString("evidence.endpoint")),
		EvidenceAccessKey:     configViper.GetString("evidence.access_key"),
		EvidenceSecretKey:     configViper.GetString("evidence.secret_key"),
		EvidenceBucket:        configViper.GetString("evidence.bucket"),
		EvidenceRegion:        configViper.GetString("evidence.region"),
		EvidenceUseSSL:        configViper.GetBool("evidence.use_ssl"),
		EvidencePublicBaseURL: configViper.GetString("evidence.public_base_url"),

		CORSAllowedOrigins: splitList(configViper.GetStringSlice("cors.allowed_origins")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// CraftSimulated reports whether sync attempts run without the Craft API.
func (c AppConfig) CraftSimulated() bool {
	return c.CraftBaseURL == ""
}

// EvidenceEnabled reports whether evidence uploads have a storage backend.
func (c AppConfig) EvidenceEnabled() bool {
	return c.EvidenceEndpoint != ""
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSecret) == "" {
		return fmt.Errorf("session.secret is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session.ttl must be positive")
	}
	switch c.DatabaseDriver {
	case DatabaseDriverSQLite, DatabaseDriverPostgres:
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DatabaseDriverSQLite, DatabaseDriverPostgres, c.DatabaseDriver)
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if strings.TrimSpace(c.AdminPassword) == "" {
		return fmt.Errorf("admin.password is required")
	}
	switch c.RateLimitBackend {
	case RateLimitBackendMemory:
	case RateLimitBackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("redis.url is required when ratelimit.backend is redis")
		}
	default:
		return fmt.Errorf("ratelimit.backend must be %q or %q, got %q", RateLimitBackendMemory, RateLimitBackendRedis, c.RateLimitBackend)
	}
	if c.EvidenceEnabled() && strings.TrimSpace(c.EvidenceBucket) == "" {
		return fmt.Errorf("evidence.bucket is required when evidence.endpoint is set")
	}
	if _, err := time.LoadLocation(c.CraftTimezone); err != nil {
		return fmt.Errorf("craft.timezone: %w", err)
	}
	return nil
}

// splitList accepts both repeated values and a single comma separated value.
func splitList(values []string) []string {
	var result []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
	}
	return result
}
