package config

import (
	"fmt"
	"strings"
)

// ConfigError reports a single field-level configuration validation failure.
type ConfigError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error in field %q: %s", e.Field, e.Reason)
}

func NewConfigMissingError(field string) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf("required field %q is missing", field)}
}

func NewConfigValidationError(field string, value interface{}, reason string) *ConfigError {
	return &ConfigError{Field: field, Value: value, Reason: reason}
}

// TLSConfig is the on-disk shape of the six stream configuration setters:
// KeyFile/CertFile load the local identity, CAFile installs (or, when
// Bootstrap is set, defers) the peer trust store, and PeerCACertFile feeds
// SetPeerCACertFile, which records an extra certificate without sending it
// to peers. It has no analogue
// for cipher suite or version overrides since internal/stream.Context pins
// both unconditionally to TLS 1.2+ with Go's default cipher preference.
type TLSConfig struct {
	KeyFile        string `yaml:"key_file" json:"key_file"`
	CertFile       string `yaml:"cert_file" json:"cert_file"`
	CAFile         string `yaml:"ca_file,omitempty" json:"ca_file,omitempty"`
	Bootstrap      bool   `yaml:"bootstrap,omitempty" json:"bootstrap,omitempty"`
	PeerCACertFile string `yaml:"peer_ca_cert_file,omitempty" json:"peer_ca_cert_file,omitempty"`
}

// Validate checks the presence and consistency of the fields, but does not
// touch the filesystem: existence and PEM-decodability are the loader's job,
// caught the moment internal/stream.Context.SetPrivateKeyFile and friends run.
func (c *TLSConfig) Validate() error {
	if strings.TrimSpace(c.KeyFile) == "" {
		return NewConfigMissingError("stream.key_file")
	}
	if strings.TrimSpace(c.CertFile) == "" {
		return NewConfigMissingError("stream.cert_file")
	}
	if !c.Bootstrap && strings.TrimSpace(c.CAFile) == "" {
		return NewConfigValidationError("stream.ca_file", c.CAFile,
			"ca_file is required unless bootstrap is enabled")
	}
	return nil
}
