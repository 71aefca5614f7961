//go:build !integration

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
database:
  url: postgres://u:p@localhost:5432/db
auth:
  jwt_secret: s3cret
payment:
  provider: noop
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.HTTP.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.HTTP.Port)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("unexpected log defaults: %+v", cfg.Log)
	}
	if cfg.Payment.Currency != "usd" {
		t.Errorf("expected usd, got %s", cfg.Payment.Currency)
	}
	if cfg.Redis.LockTTL != 30*time.Second {
		t.Errorf("expected 30s lock ttl, got %s", cfg.Redis.LockTTL)
	}
	if cfg.Reconciler.Interval != time.Minute || cfg.Reconciler.StaleAfter != 10*time.Minute || cfg.Reconciler.MaxAge != 48*time.Hour {
		t.Errorf("unexpected reconciler defaults: %+v", cfg.Reconciler)
	}
}

func TestParse_Validation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"missing database", "auth: {jwt_secret: x}\npayment: {provider: noop}", "database.url"},
		{"missing jwt secret", "database: {url: x}\npayment: {provider: noop}", "auth.jwt_secret"},
		{"stripe without key", "database: {url: x}\nauth: {jwt_secret: x}\npayment: {provider: stripe, success_url: http://x}", "secret_key"},
		{"zarinpal without merchant", "database: {url: x}\nauth: {jwt_secret: x}\npayment: {provider: zarinpal, success_url: http://x}", "merchant_id"},
		{"unknown provider", "database: {url: x}\nauth: {jwt_secret: x}\npayment: {provider: paypal}", "not supported"},
		{"missing success url", "database: {url: x}\nauth: {jwt_secret: x}\npayment: {provider: stripe, stripe: {secret_key: sk}}", "success_url"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			if err == nil {
				t.Fatal("expected an error, got nil")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadConfig_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML+"\nreconciler:\n  interval: 30s\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadConfig(path, true)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if !cfg.Runtime.Dev {
		t.Error("expected dev mode")
	}
	if cfg.Reconciler.Interval != 30*time.Second {
		t.Errorf("expected 30s interval, got %s", cfg.Reconciler.Interval)
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), false); err == nil {
		t.Error("expected error for missing file")
	}
}
