package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/commentary/internal/logging"
	"github.com/MarcoPoloResearchLab/commentary/internal/ratelimit"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix              = "COMMENTARY"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabaseDriver  = "sqlite"
	defaultDatabaseDSN     = "commentary.db"
	defaultLogLevel        = "info"
	defaultIssuer          = "commentary-auth"
	defaultAudience        = "commentary-moderation"
	defaultTokenTTLMinutes = 60
	defaultKafkaTopic      = "comment-events"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	AllowedOrigins []string
	DatabaseDriver string
	DatabaseDSN    string
	LogLevel       string

	SigningSecret string
	TokenIssuer   string
	TokenAudience string
	TokenTTL      time.Duration

	ModeratorCacheTTL time.Duration

	RedisAddress  string
	RedisPassword string
	RedisDB       int

	KafkaBrokers []string
	KafkaTopic   string

	CaptchaTTL       time.Duration
	CaptchaRetention time.Duration

	AutoHideThreshold int
	SweepLookback     time.Duration
	SweepInterval     time.Duration
	ModerationWorkers int
	VelocityWindow    time.Duration
	VelocityLimit     int64

	RateLimits ratelimit.Policies

	ThreadCacheSize int
	ThreadCacheTTL  time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// LoadDotEnv copies variables from a .env file into the process environment.
// A missing file is not an error; variables already set are kept.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", "")
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("log.level", defaultLogLevel)

	configViper.SetDefault("auth.signing_secret", "")
	configViper.SetDefault("auth.issuer", defaultIssuer)
	configViper.SetDefault("auth.audience", defaultAudience)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("auth.moderator_cache_ttl_seconds", 30)

	configViper.SetDefault("redis.address", "")
	configViper.SetDefault("redis.password", "")
	configViper.SetDefault("redis.db", 0)

	configViper.SetDefault("kafka.brokers", "")
	configViper.SetDefault("kafka.topic", defaultKafkaTopic)

	configViper.SetDefault("captcha.ttl_minutes", 10)
	configViper.SetDefault("captcha.retention_minutes", 60)

	configViper.SetDefault("moderation.auto_hide_threshold", 80)
	configViper.SetDefault("moderation.sweep_lookback_minutes", 60)
	configViper.SetDefault("moderation.sweep_interval_minutes", 15)
	configViper.SetDefault("moderation.workers", 2)
	configViper.SetDefault("moderation.velocity_window_minutes", 10)
	configViper.SetDefault("moderation.velocity_limit", 3)

	for kind, policy := range ratelimit.DefaultPolicies() {
		configViper.SetDefault(rateLimitKey(kind, "limit"), policy.Limit)
		configViper.SetDefault(rateLimitKey(kind, "window_seconds"), int(policy.Window/time.Second))
	}

	configViper.SetDefault("thread_cache.size", 512)
	configViper.SetDefault("thread_cache.ttl_seconds", 120)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		AllowedOrigins: splitList(configViper.GetString("http.allowed_origins")),
		DatabaseDriver: strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabaseDSN:    configViper.GetString("database.dsn"),
		LogLevel:       configViper.GetString("log.level"),

		SigningSecret: configViper.GetString("auth.signing_secret"),
		TokenIssuer:   configViper.GetString("auth.issuer"),
		TokenAudience: configViper.GetString("auth.audience"),
		TokenTTL:      minutes(configViper, "auth.token_ttl_minutes"),

		ModeratorCacheTTL: time.Duration(configViper.GetInt("auth.moderator_cache_ttl_seconds")) * time.Second,

		RedisAddress:  strings.TrimSpace(configViper.GetString("redis.address")),
		RedisPassword: configViper.GetString("redis.password"),
		RedisDB:       configViper.GetInt("redis.db"),

		KafkaBrokers: splitList(configViper.GetString("kafka.brokers")),
		KafkaTopic:   configViper.GetString("kafka.topic"),

		CaptchaTTL:       minutes(configViper, "captcha.ttl_minutes"),
		CaptchaRetention: minutes(configViper, "captcha.retention_minutes"),

		AutoHideThreshold: configViper.GetInt("moderation.auto_hide_threshold"),
		SweepLookback:     minutes(configViper, "moderation.sweep_lookback_minutes"),
		SweepInterval:     minutes(configViper, "moderation.sweep_interval_minutes"),
		ModerationWorkers: configViper.GetInt("moderation.workers"),
		VelocityWindow:    minutes(configViper, "moderation.velocity_window_minutes"),
		VelocityLimit:     configViper.GetInt64("moderation.velocity_limit"),

		RateLimits: ratelimit.Policies{},

		ThreadCacheSize: configViper.GetInt("thread_cache.size"),
		ThreadCacheTTL:  time.Duration(configViper.GetInt("thread_cache.ttl_seconds")) * time.Second,
	}
	for _, kind := range ratelimit.Kinds {
		cfg.RateLimits[kind] = ratelimit.Policy{
			Limit:  configViper.GetInt(rateLimitKey(kind, "limit")),
			Window: time.Duration(configViper.GetInt(rateLimitKey(kind, "window_seconds"))) * time.Second,
		}
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	switch c.DatabaseDriver {
	case DriverSQLite, DriverPostgres, DriverMySQL:
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if c.CaptchaTTL <= 0 || c.CaptchaRetention < c.CaptchaTTL {
		return fmt.Errorf("captcha.retention_minutes must be at least captcha.ttl_minutes, which must be positive")
	}
	if c.AutoHideThreshold < 0 || c.AutoHideThreshold > 100 {
		return fmt.Errorf("moderation.auto_hide_threshold must be between 0 and 100")
	}
	if c.ModerationWorkers <= 0 {
		return fmt.Errorf("moderation.workers must be positive")
	}
	if len(c.KafkaBrokers) > 0 && strings.TrimSpace(c.KafkaTopic) == "" {
		return fmt.Errorf("kafka.topic is required when kafka.brokers is set")
	}
	if err := c.RateLimits.Validate(); err != nil {
		return fmt.Errorf("ratelimit: %w", err)
	}
	return nil
}

func rateLimitKey(kind ratelimit.Kind, field string) string {
	return "ratelimit." + string(kind) + "." + field
}

func minutes(configViper *viper.Viper, key string) time.Duration {
	return time.Duration(configViper.GetInt(key)) * time.Minute
}

func splitList(raw string) []string {
	var values []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
