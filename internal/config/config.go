// Package config loads and validates the proxy's YAML configuration,
// applying documented defaults wherever a field is left zero.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Listen configures the TCP listener.
type Listen struct {
	Port      int  `yaml:"port"`
	AcceptAll bool `yaml:"accept_all"`
	TLS       TLS  `yaml:"tls"`
}

// TLS configures the optional TLS-terminating front end. When Enabled, the
// dispatcher's epoll loop never sees Listen.Port directly: a small
// goroutine-per-connection front end (internal/tlsconfig.RunFrontend)
// terminates TLS there and forwards plaintext bytes to the dispatcher over
// loopback, since the event loop's raw, non-blocking fds cannot drive a
// crypto/tls handshake themselves.
type TLS struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	Profile  string `yaml:"profile"` // modern, secure, compatible, legacy
}

// Limits bounds per-connection resource use.
type Limits struct {
	MaxConnections int `yaml:"max_connections"`
	BufferSize     int `yaml:"buffer_size"`
	MaxBodyBytes   int `yaml:"max_body_bytes"`
}

// Timeouts holds the timeout-wheel default TTLs.
type Timeouts struct {
	RequestRead   time.Duration `yaml:"request_read"`
	RequestWrite  time.Duration `yaml:"request_write"`
	ResponseRead  time.Duration `yaml:"response_read"`
	ResponseWrite time.Duration `yaml:"response_write"`
	Connection    time.Duration `yaml:"connection"`
}

// Logging configures the logrus logger built by internal/logging.
type Logging struct {
	Level    string `yaml:"level"`
	Warnings bool   `yaml:"warnings"`
}

// Config is the full, validated configuration surface for one proxy
// instance: one listener, one upstream, one canonical host.
type Config struct {
	Listen        Listen   `yaml:"listen"`
	Upstream      string   `yaml:"upstream"`
	CanonicalHost string   `yaml:"canonical_host"`
	Limits        Limits   `yaml:"limits"`
	Timeouts      Timeouts `yaml:"timeouts"`
	Logging       Logging  `yaml:"logging"`
}

// Load reads and parses path, applies defaults to any zero-valued field,
// and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// applyDefaults fills in every field's documented default when the YAML
// left it at its zero value.
func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.Limits.MaxConnections == 0 {
		c.Limits.MaxConnections = 256
	}
	if c.Limits.BufferSize == 0 {
		c.Limits.BufferSize = 8192
	}
	if c.Limits.MaxBodyBytes == 0 {
		c.Limits.MaxBodyBytes = 10 * 1 << 20
	}
	if c.Timeouts.RequestRead == 0 {
		c.Timeouts.RequestRead = 10 * time.Second
	}
	if c.Timeouts.RequestWrite == 0 {
		c.Timeouts.RequestWrite = 5 * time.Second
	}
	if c.Timeouts.ResponseRead == 0 {
		c.Timeouts.ResponseRead = 20 * time.Second
	}
	if c.Timeouts.ResponseWrite == 0 {
		c.Timeouts.ResponseWrite = 5 * time.Second
	}
	if c.Timeouts.Connection == 0 {
		c.Timeouts.Connection = 30 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Listen.TLS.Enabled && c.Listen.TLS.Profile == "" {
		c.Listen.TLS.Profile = "secure"
	}
}

// Validate checks the fields that have no sensible default: the upstream
// and canonical host must be set, and the resource limits must be sane.
func (c *Config) Validate() error {
	if c.Upstream == "" {
		return fmt.Errorf("upstream is required")
	}
	if c.CanonicalHost == "" {
		return fmt.Errorf("canonical_host is required")
	}
	if c.Listen.Port <= 0 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range", c.Listen.Port)
	}
	if c.Limits.MaxConnections <= 0 {
		return fmt.Errorf("limits.max_connections must be positive")
	}
	if c.Limits.BufferSize <= 0 {
		return fmt.Errorf("limits.buffer_size must be positive")
	}
	if c.Limits.MaxBodyBytes <= 0 {
		return fmt.Errorf("limits.max_body_bytes must be positive")
	}
	if c.Listen.TLS.Enabled {
		if c.Listen.TLS.CertFile == "" || c.Listen.TLS.KeyFile == "" {
			return fmt.Errorf("listen.tls.cert_file and listen.tls.key_file are required when listen.tls.enabled is set")
		}
	}
	return nil
}
