// Package config reads process settings from LOGBOOK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const prefix = "LOGBOOK_"

// Config is the full process configuration.
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	GRPCAddr string `env:"GRPC_ADDR" envDefault:":9090"`

	PGDSN             string        `env:"PG_DSN"`
	PGMaxOpenConns    int           `env:"PG_MAX_OPEN_CONNS" envDefault:"25"`
	PGMaxIdleConns    int           `env:"PG_MAX_IDLE_CONNS" envDefault:"10"`
	PGConnMaxLifetime time.Duration `env:"PG_CONN_MAX_LIFETIME" envDefault:"30m"`
	MemoryStore       bool          `env:"MEMORY_STORE" envDefault:"false"`
	MigrateOnStart    bool          `env:"MIGRATE_ON_START" envDefault:"false"`

	AuthSecret     string        `env:"AUTH_SECRET"`
	AuthIssuer     string        `env:"AUTH_ISSUER" envDefault:"logbook"`
	TokenTTL       time.Duration `env:"TOKEN_TTL" envDefault:"168h"`
	AllowOrgSignup bool          `env:"ALLOW_ORG_SIGNUP" envDefault:"false"`
	// ExposeTempSecrets echoes generated temporary secrets in API responses.
	// It is forced on when no SMTP host is configured.
	ExposeTempSecrets bool `env:"EXPOSE_TEMP_SECRETS" envDefault:"false"`

	SMTP SMTP `envPrefix:"SMTP_"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	LoginMaxAttempts int           `env:"LOGIN_MAX_ATTEMPTS" envDefault:"10"`
	LoginWindow      time.Duration `env:"LOGIN_WINDOW" envDefault:"15m"`

	RateBurst     int      `env:"RATE_BURST" envDefault:"40"`
	RatePerSecond float64  `env:"RATE_PER_SECOND" envDefault:"20"`
	MaxBodyBytes  int64    `env:"MAX_BODY_BYTES" envDefault:"1048576"`
	CORSOrigins   []string `env:"CORS_ORIGINS" envSeparator:","`
	// TrustProxyHeaders keys the per-IP rate limit on X-Forwarded-For. Enable
	// only behind a proxy that sets the header itself.
	TrustProxyHeaders bool `env:"TRUST_PROXY_HEADERS" envDefault:"false"`

	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	OTelEndpoint string `env:"OTEL_ENDPOINT"`

	Version string `env:"VERSION" envDefault:"dev"`
	Commit  string `env:"COMMIT" envDefault:"none"`
}

// SMTP configures credential mail. An empty Host selects the log-only sender.
type SMTP struct {
	Host     string `env:"HOST"`
	Port     int    `env:"PORT" envDefault:"587"`
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`
	From     string `env:"FROM"`
}

// EchoSecrets reports whether onboarding responses should carry temporary
// secrets: when asked to, or when mail only reaches the log.
func (c Config) EchoSecrets() bool {
	return c.ExposeTempSecrets || c.SMTP.Host == ""
}

// Load parses the process environment.
func Load() (Config, error) {
	return parse(env.Options{Prefix: prefix})
}

// LoadFrom parses vars instead of the process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	return parse(env.Options{Prefix: prefix, Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	return cfg, nil
}

// Validate reports every missing or inconsistent setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.AuthSecret == "" {
		errs = append(errs, errors.New(prefix+"AUTH_SECRET is required"))
	} else if len(c.AuthSecret) < 32 {
		errs = append(errs, errors.New(prefix+"AUTH_SECRET must be at least 32 bytes"))
	}
	if !c.MemoryStore && c.PGDSN == "" {
		errs = append(errs, errors.New(prefix+"PG_DSN is required unless "+prefix+"MEMORY_STORE=true"))
	}
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New(prefix+"HTTP_ADDR must not be empty"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New(prefix+"TOKEN_TTL must be positive"))
	}
	if c.LoginMaxAttempts <= 0 || c.LoginWindow <= 0 {
		errs = append(errs, errors.New(prefix+"LOGIN_MAX_ATTEMPTS and "+prefix+"LOGIN_WINDOW must be positive"))
	}
	if c.RatePerSecond <= 0 || c.RateBurst <= 0 {
		errs = append(errs, errors.New(prefix+"RATE_PER_SECOND and "+prefix+"RATE_BURST must be positive"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New(prefix+"MAX_BODY_BYTES must be positive"))
	}
	if c.SMTP.Host != "" && c.SMTP.From == "" {
		errs = append(errs, errors.New(prefix+"SMTP_FROM is required when "+prefix+"SMTP_HOST is set"))
	}
	return errors.Join(errs...)
}
