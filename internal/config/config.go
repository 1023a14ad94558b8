package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ehr/qeditor/pkg/fhirmodels"
)

// Snapshot store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

type Config struct {
	Port        string        `mapstructure:"PORT"`
	Env         string        `mapstructure:"ENV"`
	LogLevel    string        `mapstructure:"LOG_LEVEL"`
	StoreDriver string        `mapstructure:"STORE_DRIVER"`
	DatabaseURL string        `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string        `mapstructure:"REDIS_URL"`
	SnapshotTTL time.Duration `mapstructure:"SNAPSHOT_TTL"`
	AuthSecret  string        `mapstructure:"AUTH_SECRET"`
	AuthIssuer  string        `mapstructure:"AUTH_ISSUER"`
	CORSOrigins []string      `mapstructure:"CORS_ORIGINS"`

	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	ExportEndpoint  string `mapstructure:"EXPORT_ENDPOINT"`
	ExportAccessKey string `mapstructure:"EXPORT_ACCESS_KEY"`
	ExportSecretKey string `mapstructure:"EXPORT_SECRET_KEY"`
	ExportBucket    string `mapstructure:"EXPORT_BUCKET"`
	ExportUseSSL    bool   `mapstructure:"EXPORT_USE_SSL"`

	TerminologyTimeout  time.Duration `mapstructure:"TERMINOLOGY_TIMEOUT"`
	TerminologyRetryMax int           `mapstructure:"TERMINOLOGY_RETRY_MAX"`
	TerminologyEnabled  bool          `mapstructure:"TERMINOLOGY_ENABLED"`

	DefaultLanguage string `mapstructure:"DEFAULT_LANGUAGE"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "STORE_DRIVER", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "SNAPSHOT_TTL", "AUTH_SECRET", "AUTH_ISSUER", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
	"EXPORT_ENDPOINT", "EXPORT_ACCESS_KEY", "EXPORT_SECRET_KEY", "EXPORT_BUCKET", "EXPORT_USE_SSL",
	"TERMINOLOGY_TIMEOUT", "TERMINOLOGY_RETRY_MAX", "TERMINOLOGY_ENABLED", "DEFAULT_LANGUAGE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_DRIVER", StoreMemory)
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("SNAPSHOT_TTL", "0s")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("REQUEST_TIMEOUT", "60s")
	v.SetDefault("TERMINOLOGY_TIMEOUT", "30s")
	v.SetDefault("TERMINOLOGY_RETRY_MAX", 3)
	v.SetDefault("TERMINOLOGY_ENABLED", true)
	v.SetDefault("DEFAULT_LANGUAGE", fhirmodels.LanguageBokmal)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// AuthEnabled reports whether bearer tokens are checked. Without a secret
// every request is treated as an admin, which Validate refuses in production.
func (c *Config) AuthEnabled() bool {
	return c.AuthSecret != ""
}

// ExportsEnabled reports whether an object store is configured for publishing.
func (c *Config) ExportsEnabled() bool {
	return c.ExportEndpoint != ""
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is %q", StorePostgres)
		}
	case StoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when STORE_DRIVER is %q", StoreRedis)
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be %q, %q or %q, got %q", StoreMemory, StorePostgres, StoreRedis, c.StoreDriver)
	}

	if c.IsProduction() && !c.AuthEnabled() {
		return fmt.Errorf("AUTH_SECRET is required in production")
	}
	if c.AuthSecret != "" && len(c.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be at least 32 bytes, got %d", len(c.AuthSecret))
	}

	if c.ExportsEnabled() && c.ExportBucket == "" {
		return fmt.Errorf("EXPORT_BUCKET is required when EXPORT_ENDPOINT is set")
	}

	if !fhirmodels.IsSupportedLanguage(c.DefaultLanguage) {
		return fmt.Errorf("DEFAULT_LANGUAGE %q is not supported", c.DefaultLanguage)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.SnapshotTTL < 0 {
		return fmt.Errorf("SNAPSHOT_TTL must not be negative")
	}
	return nil
}
