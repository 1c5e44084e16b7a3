package server

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	OAuth    OAuthConfig    `yaml:"oauth"`
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Audit    AuditConfig    `yaml:"audit"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address string    `yaml:"address"`
	TLS     TLSConfig `yaml:"tls"`

	// SecureCookies marks all cookies Secure. Leave false only for local
	// development over plain HTTP.
	SecureCookies bool `yaml:"secure_cookies"`
}

// TLSConfig configures TLS.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// AuthConfig configures signing and the authentication chain.
type AuthConfig struct {
	// SigningKey is the HMAC key for signed tokens (SSO cookie). Required.
	SigningKey string `yaml:"signing_key"`

	// SessionCookie overrides the session cookie name.
	SessionCookie string `yaml:"session_cookie"`

	// SessionTTL is the session lifetime.
	SessionTTL time.Duration `yaml:"session_ttl"`

	// SSOCookie overrides the cross-domain cookie name.
	SSOCookie string `yaml:"sso_cookie"`

	// SSOMaxAge bounds how old an SSO cookie may be at verification time.
	SSOMaxAge time.Duration `yaml:"sso_max_age"`

	// LoginPath is where browsers are redirected to authenticate.
	LoginPath string `yaml:"login_path"`

	// Permissions is the allow-list of permission tokens the provisioning
	// API accepts, in addition to the built-in defaults.
	Permissions []string `yaml:"permissions"`
}

// OAuthConfig configures the external identity provider.
type OAuthConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Provider       string   `yaml:"provider"`
	ClientID       string   `yaml:"client_id"`
	ClientSecret   string   `yaml:"client_secret"`
	AuthEndpoint   string   `yaml:"auth_endpoint"`
	TokenEndpoint  string   `yaml:"token_endpoint"`
	Issuer         string   `yaml:"issuer"`
	AllowedDomains []string `yaml:"allowed_domains"`
}

// DatabaseConfig configures PostgreSQL. An empty URL selects the in-memory
// stores, for tests and single-node evaluation.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// CacheConfig configures the credential cache tiers.
type CacheConfig struct {
	LocalTTL        time.Duration `yaml:"local_ttl"`
	SharedTTL       time.Duration `yaml:"shared_ttl"`
	MaxLocalEntries int           `yaml:"max_local_entries"`
}

// AuditConfig configures the audit trail.
type AuditConfig struct {
	// RetentionDays is how long events are kept in the PostgreSQL trail.
	RetentionDays int `yaml:"retention_days"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is "json" or "text".
	Format string `yaml:"format"`
}

// LoadConfig loads configuration from a file.
// The path is expected to come from command line arguments, controlled by the
// administrator.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by admin
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Auth.SigningKey == "" {
		errs = append(errs, "auth.signing_key is required")
	}
	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		errs = append(errs, "server.tls requires cert_file and key_file")
	}
	if c.OAuth.Enabled {
		if c.OAuth.ClientID == "" || c.OAuth.ClientSecret == "" {
			errs = append(errs, "oauth requires client_id and client_secret")
		}
		if c.OAuth.AuthEndpoint == "" || c.OAuth.TokenEndpoint == "" {
			errs = append(errs, "oauth requires auth_endpoint and token_endpoint")
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}
