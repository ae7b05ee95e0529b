package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "proxy.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
upstream: "example.com:8080"
canonical_host: "example.com"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Listen.Port)
	}
	if cfg.Limits.MaxConnections != 256 {
		t.Errorf("expected default max_connections 256, got %d", cfg.Limits.MaxConnections)
	}
	if cfg.Limits.BufferSize != 8192 {
		t.Errorf("expected default buffer_size 8192, got %d", cfg.Limits.BufferSize)
	}
	if cfg.Timeouts.RequestRead != 10*time.Second {
		t.Errorf("expected default request_read 10s, got %v", cfg.Timeouts.RequestRead)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected default log level info, got %q", cfg.Logging.Level)
	}
}

func TestLoadHonorsExplicitValues(t *testing.T) {
	path := writeConfig(t, `
listen:
  port: 9090
  accept_all: true
upstream: "origin.internal:80"
canonical_host: "www.example.com"
limits:
  max_connections: 64
timeouts:
  request_read: 2s
logging:
  level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen.Port != 9090 || !cfg.Listen.AcceptAll {
		t.Errorf("expected explicit listen config preserved, got %+v", cfg.Listen)
	}
	if cfg.Limits.MaxConnections != 64 {
		t.Errorf("expected explicit max_connections 64, got %d", cfg.Limits.MaxConnections)
	}
	if cfg.Timeouts.RequestRead != 2*time.Second {
		t.Errorf("expected explicit request_read 2s, got %v", cfg.Timeouts.RequestRead)
	}
	// Unset timeouts still receive their default.
	if cfg.Timeouts.Connection != 30*time.Second {
		t.Errorf("expected default connection timeout 30s, got %v", cfg.Timeouts.Connection)
	}
}

func TestLoadRejectsMissingUpstream(t *testing.T) {
	path := writeConfig(t, `
canonical_host: "example.com"
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for missing upstream")
	}
}

func TestLoadRejectsMissingCanonicalHost(t *testing.T) {
	path := writeConfig(t, `
upstream: "example.com:8080"
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for missing canonical_host")
	}
}

func TestLoadRejectsBadPort(t *testing.T) {
	path := writeConfig(t, `
listen:
  port: 70000
upstream: "example.com:8080"
canonical_host: "example.com"
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for out-of-range port")
	}
}

func TestLoadDefaultsTLSProfileWhenEnabled(t *testing.T) {
	path := writeConfig(t, `
upstream: "example.com:8080"
canonical_host: "example.com"
listen:
  tls:
    enabled: true
    cert_file: "/etc/reverseproxyd/tls.crt"
    key_file: "/etc/reverseproxyd/tls.key"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen.TLS.Profile != "secure" {
		t.Errorf("expected default tls profile secure, got %q", cfg.Listen.TLS.Profile)
	}
}

func TestLoadRejectsTLSEnabledWithoutCertOrKey(t *testing.T) {
	path := writeConfig(t, `
upstream: "example.com:8080"
canonical_host: "example.com"
listen:
  tls:
    enabled: true
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for tls enabled without cert/key files")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
