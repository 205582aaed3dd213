// Package config provides configuration management for the waypost client.
// It handles loading and parsing the YAML configuration file and provides
// structured access to the backend endpoint, session lifetimes, retry policy
// and local storage locations.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when the configuration file omits a value.
const (
	DefaultCookieName         = "sid"
	DefaultSessionTTLSeconds  = 30 * 24 * 60 * 60
	DefaultRefreshWindowSecs  = 3600
	DefaultRequestRetry       = 3
	DefaultBackoffCapSeconds  = 8
	DefaultRequestTimeoutSecs = 30
)

// Config represents the client configuration, loaded from a YAML file.
type Config struct {
	// BackendURL is the base URL of the session-sealing backend, e.g.
	// "https://api.waypost.example".
	BackendURL string `yaml:"backend-url" json:"backend-url"`

	// AuthDir is the directory holding the session credential file and
	// in-flight PKCE verifiers.
	AuthDir string `yaml:"auth-dir" json:"auth-dir"`

	// CookieName is the session cookie name. Defaults to "sid".
	CookieName string `yaml:"cookie-name,omitempty" json:"cookie-name,omitempty"`

	// CookieMode authenticates backend calls via the session cookie instead
	// of the Authorization header.
	CookieMode bool `yaml:"cookie-mode,omitempty" json:"cookie-mode,omitempty"`

	// SessionTTLSeconds is the lifetime assigned to a refreshed session.
	// The backend's cookie variant does not report an expiry, so the client
	// applies this fixed TTL.
	SessionTTLSeconds int `yaml:"session-ttl-seconds,omitempty" json:"session-ttl-seconds,omitempty"`

	// RefreshWindowSeconds is how far ahead of expiry the request client
	// refreshes proactively. Defaults to one hour.
	RefreshWindowSeconds int `yaml:"refresh-window-seconds,omitempty" json:"refresh-window-seconds,omitempty"`

	// RequestRetry is the maximum number of 401-then-refresh retries for an
	// authenticated request.
	RequestRetry int `yaml:"request-retry,omitempty" json:"request-retry,omitempty"`

	// BackoffCapSeconds caps the exponential backoff between retries.
	BackoffCapSeconds int `yaml:"backoff-cap-seconds,omitempty" json:"backoff-cap-seconds,omitempty"`

	// RequestTimeoutSeconds is the HTTP client timeout for backend calls.
	RequestTimeoutSeconds int `yaml:"request-timeout-seconds,omitempty" json:"request-timeout-seconds,omitempty"`

	// RequestLog enables detailed request logging.
	RequestLog bool `yaml:"request-log,omitempty" json:"request-log,omitempty"`

	// LoggingToFile writes logs to a rotated file under AuthDir instead of
	// stdout only.
	LoggingToFile bool `yaml:"logging-to-file,omitempty" json:"logging-to-file,omitempty"`
}

// LoadConfig reads and parses the configuration file at path, applying
// defaults for omitted values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s failed: %w", path, err)
	}

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s failed: %w", path, err)
	}

	cfg.ApplyDefaults()
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills omitted fields with their default values.
func (c *Config) ApplyDefaults() {
	if c.CookieName == "" {
		c.CookieName = DefaultCookieName
	}
	if c.SessionTTLSeconds <= 0 {
		c.SessionTTLSeconds = DefaultSessionTTLSeconds
	}
	if c.RefreshWindowSeconds <= 0 {
		c.RefreshWindowSeconds = DefaultRefreshWindowSecs
	}
	if c.RequestRetry <= 0 {
		c.RequestRetry = DefaultRequestRetry
	}
	if c.BackoffCapSeconds <= 0 {
		c.BackoffCapSeconds = DefaultBackoffCapSeconds
	}
	if c.RequestTimeoutSeconds <= 0 {
		c.RequestTimeoutSeconds = DefaultRequestTimeoutSecs
	}
	if c.AuthDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.AuthDir = filepath.Join(home, ".waypost")
		} else {
			c.AuthDir = ".waypost"
		}
	}
}

// Validate rejects configurations the client cannot operate with.
func (c *Config) Validate() error {
	if c.BackendURL == "" {
		return fmt.Errorf("config: backend-url is required")
	}
	u, err := url.Parse(c.BackendURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: backend-url %q is not an absolute URL", c.BackendURL)
	}
	return nil
}

// BackendHost returns the host component of the backend URL, which is also
// the session cookie domain.
func (c *Config) BackendHost() string {
	u, err := url.Parse(c.BackendURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// SessionTTL returns the session lifetime as a duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSeconds) * time.Second
}

// RefreshWindow returns the proactive refresh window as a duration.
func (c *Config) RefreshWindow() time.Duration {
	return time.Duration(c.RefreshWindowSeconds) * time.Second
}

// BackoffCap returns the retry backoff cap as a duration.
func (c *Config) BackoffCap() time.Duration {
	return time.Duration(c.BackoffCapSeconds) * time.Second
}

// RequestTimeout returns the HTTP client timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// CredentialFile returns the path of the session credential file.
func (c *Config) CredentialFile() string {
	return filepath.Join(c.AuthDir, "session.json")
}

// VerifierDir returns the directory for persisted PKCE verifiers.
func (c *Config) VerifierDir() string {
	return filepath.Join(c.AuthDir, "flows")
}
