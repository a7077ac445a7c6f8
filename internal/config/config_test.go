// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

package config

import (
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Encryption.Key = "dGhpcy1pcy1hLXRlc3Qta2V5LTMyLWJ5dGVzISE="
	return cfg
}

func TestValidate_Defaults(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Expected defaults plus key to validate, got %v", err)
	}
}

func TestValidate_MissingEncryptionKey(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("Expected validation failure without encryption key")
	}
}

func TestValidate_BadVendorURL(t *testing.T) {
	cfg := validConfig()
	cfg.Vendors["github"] = VendorConfig{BaseURL: "not a url"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("Expected validation failure for malformed vendor base URL")
	}
}

func TestTimeoutResolution(t *testing.T) {
	cfg := validConfig()
	cfg.Sync.AttemptTimeout = 30 * time.Minute
	cfg.Sync.RequestTimeout = 30 * time.Second
	cfg.Vendors["google"] = VendorConfig{
		AttemptTimeout: time.Hour,
		RequestTimeout: 2 * time.Minute,
	}

	if got := cfg.AttemptTimeoutFor("google"); got != time.Hour {
		t.Errorf("AttemptTimeoutFor(google) = %v, want vendor override", got)
	}
	if got := cfg.AttemptTimeoutFor("slack"); got != 30*time.Minute {
		t.Errorf("AttemptTimeoutFor(slack) = %v, want global default", got)
	}
	if got := cfg.RequestTimeoutFor("google"); got != 2*time.Minute {
		t.Errorf("RequestTimeoutFor(google) = %v, want vendor override", got)
	}
	if got := cfg.RequestTimeoutFor("slack"); got != 30*time.Second {
		t.Errorf("RequestTimeoutFor(slack) = %v, want global default", got)
	}
}

func TestVendor_Unconfigured(t *testing.T) {
	cfg := validConfig()
	v := cfg.Vendor("nonexistent")
	if v.ClientID != "" || v.ClientSecret != "" {
		t.Error("Expected zero VendorConfig for unconfigured vendor")
	}
}

func TestEnvKeyToPath(t *testing.T) {
	cases := map[string]string{
		"LAIKA_ENCRYPTION__KEY":                "encryption.key",
		"LAIKA_SYNC__RETRY_ATTEMPTS":           "sync.retry_attempts",
		"LAIKA_VENDORS__GITHUB__CLIENT_SECRET": "vendors.github.client_secret",
		"LAIKA_SERVER__UI_REDIRECT_URL":        "server.ui_redirect_url",
	}
	for in, want := range cases {
		if got := envKeyToPath(in); got != want {
			t.Errorf("envKeyToPath(%q) = %q, want %q", in, got, want)
		}
	}
}
