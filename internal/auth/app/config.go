package app

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/domain"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/jwtx"
)

// Config is read from the environment, optionally layered over a YAML file
// named by CONFIG_PATH. Environment values win.
type Config struct {
	Env       string `yaml:"env" env:"ENV" env-default:"dev"`                   // dev, staging, prod
	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`      // debug, info, warn, error
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT" env-default:"json"`    // json, text
	Port      int    `yaml:"port" env:"PORT" env-default:"8080"`                // HTTP listen port

	ShutdownGracePeriod  time.Duration `yaml:"shutdown_grace_period" env:"SHUTDOWN_GRACE_PERIOD" env-default:"10s"`
	HousekeepingInterval time.Duration `yaml:"housekeeping_interval" env:"HOUSEKEEPING_INTERVAL" env-default:"1h"`

	Issuer         string        `yaml:"issuer" env:"AUTH_ISSUER" env-default:"kc-auth"`
	TokenSecret    string        `yaml:"token_secret" env:"AUTH_TOKEN_SECRET"` // HMAC key, at least 32 bytes
	AccessTTL      time.Duration `yaml:"access_ttl" env:"AUTH_ACCESS_TTL" env-default:"1h"`
	RefreshTTL     time.Duration `yaml:"refresh_ttl" env:"AUTH_REFRESH_TTL" env-default:"720h"`
	RotateRefresh  bool          `yaml:"rotate_refresh" env:"AUTH_ROTATE_REFRESH" env-default:"true"`
	PepperFile     string        `yaml:"pepper_file" env:"AUTH_PEPPER_FILE" env-default:"pepper"`
	SessionTTL     time.Duration `yaml:"session_ttl" env:"SESSION_TTL" env-default:"24h"`
	AdminRoles     []string      `yaml:"admin_roles" env:"ADMIN_ROLES" env-separator:","`
	BootstrapEmail string        `yaml:"bootstrap_admin_email" env:"BOOTSTRAP_ADMIN_EMAIL"`
	BootstrapPass  string        `yaml:"bootstrap_admin_password" env:"BOOTSTRAP_ADMIN_PASSWORD"`

	DatabaseDriver string `yaml:"database_driver" env:"DATABASE_DRIVER" env-default:"sqlite"` // sqlite, postgres
	DatabaseURL    string `yaml:"database_url" env:"DATABASE_URL" env-default:"auth.db"`

	KVDriver string `yaml:"kv_driver" env:"KV_DRIVER" env-default:"memory"` // memory, redis
	RedisURL string `yaml:"redis_url" env:"REDIS_URL"`

	OIDCIssuer   string `yaml:"oidc_issuer" env:"OIDC_ISSUER" env-default:"https://accounts.google.com"`
	OIDCClientID string `yaml:"oidc_client_id" env:"OIDC_CLIENT_ID"` // empty disables provider tokens
}

// ConfigurationError is a fatal startup misconfiguration.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Key, e.Reason)
}

// LoadConfig reads CONFIG_PATH (when set) and then the environment, and
// validates the result.
func LoadConfig() (Config, error) {
	var cfg Config

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("read config %q: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("read env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first setting the service cannot start with.
func (c *Config) Validate() error {
	switch {
	case c.TokenSecret == "":
		return &ConfigurationError{Key: "AUTH_TOKEN_SECRET", Reason: "required"}
	case len(c.TokenSecret) < jwtx.MinSecretLen:
		return &ConfigurationError{Key: "AUTH_TOKEN_SECRET", Reason: fmt.Sprintf("must be at least %d bytes", jwtx.MinSecretLen)}
	case c.AccessTTL <= 0:
		return &ConfigurationError{Key: "AUTH_ACCESS_TTL", Reason: "must be positive"}
	case c.RefreshTTL < c.AccessTTL:
		return &ConfigurationError{Key: "AUTH_REFRESH_TTL", Reason: "must not be shorter than AUTH_ACCESS_TTL"}
	case c.SessionTTL <= 0:
		return &ConfigurationError{Key: "SESSION_TTL", Reason: "must be positive"}
	case c.Port <= 0 || c.Port > 65535:
		return &ConfigurationError{Key: "PORT", Reason: "out of range"}
	}

	switch c.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		return &ConfigurationError{Key: "DATABASE_DRIVER", Reason: fmt.Sprintf("unknown driver %q", c.DatabaseDriver)}
	}
	if c.DatabaseURL == "" {
		return &ConfigurationError{Key: "DATABASE_URL", Reason: "required"}
	}

	switch c.KVDriver {
	case "memory":
	case "redis":
		if c.RedisURL == "" {
			return &ConfigurationError{Key: "REDIS_URL", Reason: "required when KV_DRIVER=redis"}
		}
	default:
		return &ConfigurationError{Key: "KV_DRIVER", Reason: fmt.Sprintf("unknown driver %q", c.KVDriver)}
	}

	if c.Env == "prod" && c.KVDriver == "memory" {
		return &ConfigurationError{Key: "KV_DRIVER", Reason: "memory store is not shared between replicas; use redis in prod"}
	}

	for i, r := range c.AdminRoles {
		c.AdminRoles[i] = strings.TrimSpace(r)
	}
	c.AdminRoles = slices.DeleteFunc(c.AdminRoles, func(r string) bool { return r == "" })
	for _, r := range c.AdminRoles {
		if !slices.Contains(domain.AdminRoles, r) {
			return &ConfigurationError{Key: "ADMIN_ROLES", Reason: fmt.Sprintf("%q is not an admin role", r)}
		}
	}

	if (c.BootstrapEmail == "") != (c.BootstrapPass == "") {
		return &ConfigurationError{Key: "BOOTSTRAP_ADMIN_EMAIL", Reason: "email and password must be set together"}
	}
	return nil
}
