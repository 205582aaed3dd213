package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "backend-url: https://api.waypost.example\nauth-dir: /tmp/waypost-test\n")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.CookieName != "sid" {
		t.Errorf("CookieName = %q, want sid", cfg.CookieName)
	}
	if cfg.RequestRetry != 3 {
		t.Errorf("RequestRetry = %d, want 3", cfg.RequestRetry)
	}
	if cfg.BackoffCapSeconds != 8 {
		t.Errorf("BackoffCapSeconds = %d, want 8", cfg.BackoffCapSeconds)
	}
	if cfg.RefreshWindowSeconds != 3600 {
		t.Errorf("RefreshWindowSeconds = %d, want 3600", cfg.RefreshWindowSeconds)
	}
	if cfg.BackendHost() != "api.waypost.example" {
		t.Errorf("BackendHost() = %q, want api.waypost.example", cfg.BackendHost())
	}
	if got := cfg.CredentialFile(); got != filepath.Join("/tmp/waypost-test", "session.json") {
		t.Errorf("CredentialFile() = %q", got)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `backend-url: https://api.waypost.example
auth-dir: /tmp/waypost-test
cookie-name: wp_session
cookie-mode: true
session-ttl-seconds: 86400
request-retry: 5
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.CookieName != "wp_session" || !cfg.CookieMode || cfg.SessionTTLSeconds != 86400 || cfg.RequestRetry != 5 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
}

func TestLoadConfigRejectsBadBackendURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"missing backend-url", "auth-dir: /tmp/x\n"},
		{"relative backend-url", "backend-url: api.waypost.example\n"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := LoadConfig(writeConfig(t, tt.body)); err == nil {
				t.Error("LoadConfig() succeeded, want error")
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("LoadConfig() on missing file succeeded, want error")
	}
}
