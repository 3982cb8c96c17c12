package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

// Template sources.
const (
	SourceFS = "fs"
	SourcePG = "pg"
)

type Config struct {
	Port     string `mapstructure:"PORT"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	TemplateSource    string `mapstructure:"TEMPLATE_SOURCE"`
	TemplateDir       string `mapstructure:"TEMPLATE_DIR"`
	TemplateManifest  string `mapstructure:"TEMPLATE_MANIFEST"`
	TemplateCacheSize int    `mapstructure:"TEMPLATE_CACHE_SIZE"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	RenderTimeout  time.Duration `mapstructure:"RENDER_TIMEOUT"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	MaxBodySize    string        `mapstructure:"MAX_BODY_SIZE"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`

	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`

	TLSEnabled  bool   `mapstructure:"TLS_ENABLED"`
	TLSCertFile string `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile  string `mapstructure:"TLS_KEY_FILE"`

	MLLPAddr            string `mapstructure:"MLLP_ADDR"`
	MLLPDefaultTemplate string `mapstructure:"MLLP_DEFAULT_TEMPLATE"`

	// Bundles converted from MLLP traffic are posted here when set.
	ForwardURL     string `mapstructure:"FORWARD_URL"`
	ForwardSecret  string `mapstructure:"FORWARD_SECRET"`
	ForwardWorkers int    `mapstructure:"FORWARD_WORKERS"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"TEMPLATE_SOURCE", "TEMPLATE_DIR", "TEMPLATE_MANIFEST", "TEMPLATE_CACHE_SIZE",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"RENDER_TIMEOUT", "REQUEST_TIMEOUT", "MAX_BODY_SIZE", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
	"TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
	"MLLP_ADDR", "MLLP_DEFAULT_TEMPLATE",
	"FORWARD_URL", "FORWARD_SECRET", "FORWARD_WORKERS",
}

// Load reads configuration from the environment and an optional .env file
// in the working directory.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile reads configuration from the environment and the optional env
// file at path. Environment variables win over the file.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("env")
	}
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("TEMPLATE_SOURCE", SourceFS)
	v.SetDefault("TEMPLATE_DIR", "./templates")
	v.SetDefault("TEMPLATE_CACHE_SIZE", 256)
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("RENDER_TIMEOUT", "0s")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("MAX_BODY_SIZE", "10M")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("RATE_LIMIT_RPS", 0)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("FORWARD_WORKERS", 2)

	// Bind env vars explicitly so Unmarshal picks them up.
	for _, k := range keys {
		v.BindEnv(k)
	}

	if path != "" {
		// A missing file is fine.
		_ = v.ReadInConfig()
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(cfg.CORSOrigins[i])
	}
	cfg.TemplateSource = strings.ToLower(cfg.TemplateSource)

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// AuthEnabled reports whether bearer tokens are required on the API.
func (c *Config) AuthEnabled() bool {
	return c.AuthSigningKey != ""
}

// Level returns the configured zerolog level, or info when invalid.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs error

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		errs = multierr.Append(errs, fmt.Errorf("PORT must be a number between 1 and 65535, got %q", c.Port))
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("LOG_LEVEL %q is not a valid level", c.LogLevel))
	}

	switch c.TemplateSource {
	case SourceFS:
		if c.TemplateDir == "" {
			errs = multierr.Append(errs, fmt.Errorf("TEMPLATE_DIR is required when TEMPLATE_SOURCE is %q", SourceFS))
		}
	case SourcePG:
		if c.DatabaseURL == "" {
			errs = multierr.Append(errs, fmt.Errorf("DATABASE_URL is required when TEMPLATE_SOURCE is %q", SourcePG))
		}
	default:
		errs = multierr.Append(errs, fmt.Errorf("TEMPLATE_SOURCE must be %q or %q, got %q", SourceFS, SourcePG, c.TemplateSource))
	}
	if c.TemplateCacheSize < 0 {
		errs = multierr.Append(errs, fmt.Errorf("TEMPLATE_CACHE_SIZE must not be negative, got %d", c.TemplateCacheSize))
	}

	if c.DBMaxConns < 1 {
		errs = multierr.Append(errs, fmt.Errorf("DB_MAX_CONNS must be at least 1, got %d", c.DBMaxConns))
	}
	if c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		errs = multierr.Append(errs, fmt.Errorf("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS, got %d", c.DBMinConns))
	}

	if c.RequestTimeout < 0 {
		errs = multierr.Append(errs, fmt.Errorf("REQUEST_TIMEOUT must not be negative, got %s", c.RequestTimeout))
	}
	if c.RateLimitRPS < 0 {
		errs = multierr.Append(errs, fmt.Errorf("RATE_LIMIT_RPS must not be negative, got %g", c.RateLimitRPS))
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		errs = multierr.Append(errs, fmt.Errorf("RATE_LIMIT_BURST must be at least 1 when RATE_LIMIT_RPS is set"))
	}

	if c.IsProduction() && !c.AuthEnabled() {
		errs = multierr.Append(errs, fmt.Errorf("AUTH_SIGNING_KEY is required in production"))
	}
	if c.AuthEnabled() && len(c.AuthSigningKey) < 32 {
		errs = multierr.Append(errs, fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes, got %d", len(c.AuthSigningKey)))
	}

	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			errs = multierr.Append(errs, fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true"))
		}
		if c.TLSKeyFile == "" {
			errs = multierr.Append(errs, fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true"))
		}
	}

	if c.ForwardURL != "" {
		if u, err := url.Parse(c.ForwardURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = multierr.Append(errs, fmt.Errorf("FORWARD_URL must be an absolute http or https url, got %q", c.ForwardURL))
		}
		if c.MLLPAddr == "" {
			errs = multierr.Append(errs, fmt.Errorf("FORWARD_URL requires MLLP_ADDR"))
		}
		if c.ForwardWorkers < 1 {
			errs = multierr.Append(errs, fmt.Errorf("FORWARD_WORKERS must be at least 1, got %d", c.ForwardWorkers))
		}
	}

	return errs
}
