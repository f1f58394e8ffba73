// Package config decodes the YAML configuration consumed by cmd/ofssl-probe:
// the stream credential set, the listen/dial endpoints for the probe's
// active and passive test harness, and the telemetry exporter settings.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// TelemetryConfig configures pkg/telemetry.SetupProvider.
type TelemetryConfig struct {
	ServiceName  string `yaml:"service_name,omitempty" json:"service_name,omitempty"`
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty" json:"otlp_endpoint,omitempty"`
	Insecure     bool   `yaml:"insecure,omitempty" json:"insecure,omitempty"`
}

// Config is the top-level shape decoded from the probe's YAML file.
type Config struct {
	Stream    TLSConfig       `yaml:"stream" json:"stream"`
	Listen    string          `yaml:"listen,omitempty" json:"listen,omitempty"`
	Dial      string          `yaml:"dial,omitempty" json:"dial,omitempty"`
	AdminAddr string          `yaml:"admin_addr,omitempty" json:"admin_addr,omitempty"`
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty" json:"telemetry,omitempty"`
}

// Validate checks field presence and internal consistency. It does not
// touch the filesystem.
func (c *Config) Validate() error {
	if err := c.Stream.Validate(); err != nil {
		return err
	}
	if c.Listen == "" && c.Dial == "" {
		return NewConfigValidationError("listen/dial", nil,
			"at least one of listen or dial must be set")
	}
	if c.AdminAddr == "" {
		c.AdminAddr = ":9653"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "ofssl-probe"
	}
	return nil
}

// Load reads and parses the YAML configuration file at path, applies
// OFSSL_-prefixed environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	// #nosec G304 -- path is an operator-supplied startup argument.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OFSSL_KEY_FILE"); v != "" {
		cfg.Stream.KeyFile = v
	}
	if v := os.Getenv("OFSSL_CERT_FILE"); v != "" {
		cfg.Stream.CertFile = v
	}
	if v := os.Getenv("OFSSL_CA_FILE"); v != "" {
		cfg.Stream.CAFile = v
	}
	if v := os.Getenv("OFSSL_PEER_CA_CERT_FILE"); v != "" {
		cfg.Stream.PeerCACertFile = v
	}
	if v := os.Getenv("OFSSL_BOOTSTRAP"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Stream.Bootstrap = b
		}
	}
	if v := os.Getenv("OFSSL_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("OFSSL_DIAL"); v != "" {
		cfg.Dial = v
	}
	if v := os.Getenv("OFSSL_ADMIN_ADDR"); v != "" {
		cfg.AdminAddr = v
	}
	if v := os.Getenv("OFSSL_OTLP_ENDPOINT"); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	if v := os.Getenv("OFSSL_OTLP_INSECURE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Telemetry.Insecure = b
		}
	}
}
