package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Environment string           `mapstructure:"environment"`
	LogLevel    string           `mapstructure:"log_level"`
	Server      ServerConfig     `mapstructure:"server"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Redis       RedisConfig      `mapstructure:"redis"`
	Sentry      SentryConfig     `mapstructure:"sentry"`
	Auth        AuthConfig       `mapstructure:"auth"`
	NewsIndex   NewsIndexConfig  `mapstructure:"news_index"`
	Providers   []ProviderConfig `mapstructure:"providers"`
	RateLimits  RateLimitConfig  `mapstructure:"rate_limits"`
	Analysis    AnalysisConfig   `mapstructure:"analysis"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	DBName       string `mapstructure:"dbname"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SentryConfig defines settings for the error-tracking sink.
type SentryConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	DSN              string  `mapstructure:"dsn"`
	Environment      string  `mapstructure:"environment"`
	Release          string  `mapstructure:"release"`
	TracesSampleRate float64 `mapstructure:"traces_sample_rate"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" json:"-" yaml:"-"`
	JWTExpiry string `mapstructure:"jwt_expiry"`
}

// NewsIndexConfig points at the semantic news index sidecar.
type NewsIndexConfig struct {
	ServiceURL string `mapstructure:"service_url"`
	Timeout    int    `mapstructure:"timeout"`
	CacheTTL   string `mapstructure:"cache_ttl"`
	MaxItems   int    `mapstructure:"max_items"`
}

// ProviderConfig describes one inference backend in the fallback chain.
// Chain order follows the slice order in configuration; it is never
// inferred from cost or latency.
type ProviderConfig struct {
	Name            string  `mapstructure:"name"`
	Model           string  `mapstructure:"model"`
	APIKey          string  `mapstructure:"api_key" json:"-" yaml:"-"`
	Endpoint        string  `mapstructure:"endpoint"`
	Timeout         string  `mapstructure:"timeout"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	CostPer1KTokens float64 `mapstructure:"cost_per_1k_tokens"`
	Enabled         bool    `mapstructure:"enabled"`
}

// TierLimitConfig holds request quotas for one subscription tier.
// A value of -1 means unlimited.
type TierLimitConfig struct {
	RequestsPerDay  int `mapstructure:"requests_per_day"`
	RequestsPerHour int `mapstructure:"requests_per_hour"`
}

type RateLimitConfig struct {
	Free       TierLimitConfig `mapstructure:"free"`
	Pro        TierLimitConfig `mapstructure:"pro"`
	Enterprise TierLimitConfig `mapstructure:"enterprise"`
}

// AnalysisConfig exposes the calibration and gathering tunables. The
// multipliers and damping factor have no canonical values; the defaults
// below are a starting point, expected to be tuned per deployment.
type AnalysisConfig struct {
	GatherTimeout          string  `mapstructure:"gather_timeout"`
	PromptMaxTokens        int     `mapstructure:"prompt_max_tokens"`
	Temperature            float64 `mapstructure:"temperature"`
	NewsFloor              int     `mapstructure:"news_floor"`
	NoEvidenceMultiplier   float64 `mapstructure:"no_evidence_multiplier"`
	SparseNewsMultiplier   float64 `mapstructure:"sparse_news_multiplier"`
	MissingPriceMultiplier float64 `mapstructure:"missing_price_multiplier"`
	StaleNewsMultiplier    float64 `mapstructure:"stale_news_multiplier"`
	WarningDamping         float64 `mapstructure:"warning_damping"`
	Version                string  `mapstructure:"version"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	// Enable environment variable support
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.BindEnv("auth.jwt_secret", "JWT_SECRET"); err != nil {
		return nil, fmt.Errorf("failed to bind JWT_SECRET environment variable: %w", err)
	}

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, use defaults and environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Environment = strings.ToLower(config.Environment)

	if config.Environment != "development" && config.Auth.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET environment variable is required in non-development environments")
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	if c.Auth.JWTExpiry != "" {
		if _, err := time.ParseDuration(c.Auth.JWTExpiry); err != nil {
			return fmt.Errorf("invalid JWT expiry duration: %w", err)
		}
	}

	if _, err := time.ParseDuration(c.Analysis.GatherTimeout); err != nil {
		return fmt.Errorf("invalid gather timeout duration: %w", err)
	}

	for _, m := range []struct {
		name  string
		value float64
	}{
		{"no_evidence_multiplier", c.Analysis.NoEvidenceMultiplier},
		{"sparse_news_multiplier", c.Analysis.SparseNewsMultiplier},
		{"missing_price_multiplier", c.Analysis.MissingPriceMultiplier},
		{"stale_news_multiplier", c.Analysis.StaleNewsMultiplier},
		{"warning_damping", c.Analysis.WarningDamping},
	} {
		if m.value <= 0 || m.value > 1 {
			return fmt.Errorf("analysis.%s must be in (0, 1], got %v", m.name, m.value)
		}
	}

	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("providers[%d]: name is required", i)
		}
		if _, err := time.ParseDuration(p.Timeout); err != nil {
			return fmt.Errorf("providers[%d] (%s): invalid timeout: %w", i, p.Name, err)
		}
	}

	for _, t := range []struct {
		name   string
		limits TierLimitConfig
	}{
		{"free", c.RateLimits.Free},
		{"pro", c.RateLimits.Pro},
		{"enterprise", c.RateLimits.Enterprise},
	} {
		if t.limits.RequestsPerDay == 0 || t.limits.RequestsPerHour == 0 {
			return fmt.Errorf("rate_limits.%s: limits must be positive or -1 for unlimited", t.name)
		}
	}

	return nil
}

// GatherTimeoutDuration returns the parsed gather timeout. Load validates
// the string, so parsing only fails for hand-built configs; those get the
// recommended default.
func (c *AnalysisConfig) GatherTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.GatherTimeout)
	if err != nil {
		return 4 * time.Second
	}
	return d
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	// Server
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	// Database (TimescaleDB with the ohlcv hypertable)
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "quantforge")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.max_open_conns", 25)

	// Redis
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Sentry
	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
	viper.SetDefault("sentry.traces_sample_rate", 0.1)

	// Auth
	viper.SetDefault("auth.jwt_secret", "")
	viper.SetDefault("auth.jwt_expiry", "24h")

	// News index sidecar
	viper.SetDefault("news_index.service_url", "http://localhost:8090")
	viper.SetDefault("news_index.timeout", 10)
	viper.SetDefault("news_index.cache_ttl", "5m")
	viper.SetDefault("news_index.max_items", 20)

	// Rate limits per tier (-1 = unlimited)
	viper.SetDefault("rate_limits.free.requests_per_day", 50)
	viper.SetDefault("rate_limits.free.requests_per_hour", 10)
	viper.SetDefault("rate_limits.pro.requests_per_day", 10000)
	viper.SetDefault("rate_limits.pro.requests_per_hour", 500)
	viper.SetDefault("rate_limits.enterprise.requests_per_day", -1)
	viper.SetDefault("rate_limits.enterprise.requests_per_hour", -1)

	// Analysis tunables
	viper.SetDefault("analysis.gather_timeout", "4s")
	viper.SetDefault("analysis.prompt_max_tokens", 600)
	viper.SetDefault("analysis.temperature", 0.3)
	viper.SetDefault("analysis.news_floor", 3)
	viper.SetDefault("analysis.no_evidence_multiplier", 0.5)
	viper.SetDefault("analysis.sparse_news_multiplier", 0.7)
	viper.SetDefault("analysis.missing_price_multiplier", 0.8)
	viper.SetDefault("analysis.stale_news_multiplier", 0.8)
	viper.SetDefault("analysis.warning_damping", 0.85)
	viper.SetDefault("analysis.version", "1.0")
}
