// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

// Package config loads and validates the sync engine configuration from
// defaults, an optional YAML file, and LAIKA_-prefixed environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration.
type Config struct {
	Logging    LoggingConfig           `koanf:"logging"`
	Encryption EncryptionConfig        `koanf:"encryption"`
	Database   DatabaseConfig          `koanf:"database"`
	State      StateConfig             `koanf:"state"`
	Server     ServerConfig            `koanf:"server"`
	Sync       SyncConfig              `koanf:"sync"`
	Alerts     AlertsConfig            `koanf:"alerts"`
	Vendors    map[string]VendorConfig `koanf:"vendors"`
}

// LoggingConfig controls the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn error fatal panic"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// EncryptionConfig holds the secret-vault master key. The key is required:
// the engine refuses to start without encryption at rest.
type EncryptionConfig struct {
	// Key is the base64-encoded master encryption key (32 bytes recommended).
	Key string `koanf:"key" validate:"required"`
}

// DatabaseConfig locates the DuckDB store.
type DatabaseConfig struct {
	Path string `koanf:"path" validate:"required"`

	// Threads caps DuckDB worker threads; 0 uses all CPUs.
	Threads int `koanf:"threads"`
}

// StateConfig locates the BadgerDB directory used for OAuth state
// correlation entries.
type StateConfig struct {
	Path string `koanf:"path" validate:"required"`
}

// ServerConfig controls the inbound HTTP surface (callbacks, webhooks,
// health, metrics).
type ServerConfig struct {
	Addr string `koanf:"addr" validate:"required"`

	// UIRedirectURL is where successful OAuth callbacks send the browser.
	UIRedirectURL string `koanf:"ui_redirect_url" validate:"required,url"`

	// RateLimit caps inbound requests per client IP per RateWindow.
	RateLimit  int           `koanf:"rate_limit" validate:"min=1"`
	RateWindow time.Duration `koanf:"rate_window" validate:"min=1s"`

	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// SyncConfig controls retry and deadline behavior shared by all adapters.
type SyncConfig struct {
	// RetryAttempts bounds retries for transient outbound failures.
	RetryAttempts int `koanf:"retry_attempts" validate:"min=1,max=10"`

	// RetryDelay is the initial backoff delay; doubles per attempt.
	RetryDelay time.Duration `koanf:"retry_delay" validate:"min=100ms"`

	// AttemptTimeout is the overall deadline of one sync attempt unless the
	// vendor overrides it.
	AttemptTimeout time.Duration `koanf:"attempt_timeout" validate:"min=1m"`

	// RequestTimeout bounds a single outbound HTTP request unless the vendor
	// overrides it.
	RequestTimeout time.Duration `koanf:"request_timeout" validate:"min=1s"`
}

// AlertsConfig controls the outbound alert bus consumed by the delivery
// pipeline.
type AlertsConfig struct {
	// NATSEnabled publishes emitted alerts to NATS JetStream when true;
	// otherwise alerts are only persisted.
	NATSEnabled bool   `koanf:"nats_enabled"`
	NATSURL     string `koanf:"nats_url" validate:"required_if=NATSEnabled true,omitempty,url"`
	Topic       string `koanf:"topic"`
}

// VendorConfig holds per-vendor client credentials and overrides. Which
// fields apply depends on the vendor's auth mode; adapters fail with
// INSUFFICIENT_CONFIG_DATA when a required field is empty.
type VendorConfig struct {
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`

	// BaseURL overrides the vendor API base, mainly for tests and
	// region-pinned tenants.
	BaseURL string `koanf:"base_url" validate:"omitempty,url"`

	// TokenURL overrides the vendor token endpoint.
	TokenURL string `koanf:"token_url" validate:"omitempty,url"`

	// RedirectURI is the registered OAuth redirect for this deployment.
	RedirectURI string `koanf:"redirect_uri" validate:"omitempty,url"`

	// AppID and PrivateKey serve JWT-signing vendors (GitHub App).
	AppID      string `koanf:"app_id"`
	PrivateKey string `koanf:"private_key"`

	// AttemptTimeout / RequestTimeout override the global sync values.
	AttemptTimeout time.Duration `koanf:"attempt_timeout"`
	RequestTimeout time.Duration `koanf:"request_timeout"`

	// WebhookSecret verifies inbound webhook signatures where the vendor
	// signs payloads.
	WebhookSecret string `koanf:"webhook_secret"`
}

// Vendor returns the configuration for a vendor id, zero-valued when the
// deployment has not configured the vendor.
func (c *Config) Vendor(id string) VendorConfig {
	if c.Vendors == nil {
		return VendorConfig{}
	}
	return c.Vendors[id]
}

// AttemptTimeoutFor resolves the attempt deadline for a vendor.
func (c *Config) AttemptTimeoutFor(vendor string) time.Duration {
	if v := c.Vendor(vendor); v.AttemptTimeout > 0 {
		return v.AttemptTimeout
	}
	return c.Sync.AttemptTimeout
}

// RequestTimeoutFor resolves the per-request timeout for a vendor.
func (c *Config) RequestTimeoutFor(vendor string) time.Duration {
	if v := c.Vendor(vendor); v.RequestTimeout > 0 {
		return v.RequestTimeout
	}
	return c.Sync.RequestTimeout
}

// Validate checks the configuration. Field rules come from validator tags;
// cross-field rules are applied after.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	for id, vendor := range c.Vendors {
		if err := validate.Struct(vendor); err != nil {
			return fmt.Errorf("invalid configuration for vendor %s: %w", id, err)
		}
	}

	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server read/write timeouts must be positive")
	}

	return nil
}
