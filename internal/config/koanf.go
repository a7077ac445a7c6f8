// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in priority
// order. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/laika-sync/config.yaml",
	"/etc/laika-sync/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// envPrefix namespaces our environment variables.
const envPrefix = "LAIKA_"

// defaultConfig returns a Config with all defaults applied. File and env
// values override these.
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Database: DatabaseConfig{
			Path: "data/laika-sync.db",
		},
		State: StateConfig{
			Path: "data/state",
		},
		Server: ServerConfig{
			Addr:            ":8085",
			UIRedirectURL:   "https://app.heylaika.com/integrations/callback",
			RateLimit:       120,
			RateWindow:      time.Minute,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Sync: SyncConfig{
			RetryAttempts:  3,
			RetryDelay:     time.Second,
			AttemptTimeout: 30 * time.Minute,
			RequestTimeout: 30 * time.Second,
		},
		Alerts: AlertsConfig{
			NATSEnabled: false,
			Topic:       "laika.alerts",
		},
		Vendors: map[string]VendorConfig{},
	}
}

// Load builds the configuration from defaults, the first config file found
// (or CONFIG_PATH), and LAIKA_-prefixed environment variables, then
// validates it.
//
// Environment mapping: LAIKA_SECTION__FIELD with double underscores as
// section separators, e.g. LAIKA_ENCRYPTION__KEY, LAIKA_SYNC__RETRY_ATTEMPTS,
// LAIKA_VENDORS__GITHUB__CLIENT_SECRET.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyToPath), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// findConfigFile resolves the config file path: CONFIG_PATH wins, then the
// default search paths. Empty means no file.
func findConfigFile() string {
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		return path
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envKeyToPath maps LAIKA_SECTION__FIELD to section.field. Single
// underscores stay inside segment names (retry_attempts).
func envKeyToPath(key string) string {
	key = strings.TrimPrefix(key, envPrefix)
	key = strings.ToLower(key)
	return strings.ReplaceAll(key, "__", ".")
}
