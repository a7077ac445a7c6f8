// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

// Package providers implements the vendor adapters. Each vendor lives in its
// own file and plugs into the engine through the integration.Adapter contract;
// Registry lists them all.
package providers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/heylaika/laika-sync/internal/errcode"
	"github.com/heylaika/laika-sync/internal/httpclient"
	"github.com/heylaika/laika-sync/internal/integration"
)

// Registry returns the adapter table keyed by vendor id.
func Registry() map[string]integration.Adapter {
	adapters := []integration.Adapter{
		&Checkr{},
		&GitHub{},
		&Google{},
		&Microsoft365{},
		&Intune{},
		&Slack{},
		&Auth0{},
		&DigitalOcean{},
		&Shortcut{},
		&Finch{},
		&Datadog{},
	}

	table := make(map[string]integration.Adapter, len(adapters))
	for _, adapter := range adapters {
		table[adapter.Vendor()] = adapter
	}
	return table
}

// tokenResponse is the common OAuth token-endpoint payload shape.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
}

// exchangeOAuthCode posts an authorization-code grant to the vendor's token
// endpoint. A rejected exchange is a BAD_CLIENT_CREDENTIALS condition, not a
// transient failure.
func exchangeOAuthCode(ctx context.Context, s *integration.Session, tokenURL string, form url.Values) (*tokenResponse, error) {
	resp, err := s.Client.Do(ctx, httpclient.Request{
		Method:   http.MethodPost,
		URL:      tokenURL,
		FormBody: form,
	})
	if err != nil {
		if cfgErr, ok := errcode.AsConfigurationError(err); ok {
			return nil, errcode.NewConfigurationError(errcode.BadClientCredentials,
				fmt.Sprintf("%s token exchange failed: %s", s.Connection.Vendor, cfgErr.Message),
				cfgErr.Response)
		}
		return nil, err
	}

	var token tokenResponse
	if err := resp.Decode(&token); err != nil {
		return nil, errcode.NewConfigurationError(errcode.ProviderServerError,
			fmt.Sprintf("%s token endpoint returned a malformed response", s.Connection.Vendor), "")
	}
	if token.AccessToken == "" {
		return nil, errcode.NewConfigurationError(errcode.BadClientCredentials,
			fmt.Sprintf("%s token exchange returned no access token", s.Connection.Vendor),
			string(resp.Body))
	}
	return &token, nil
}

// requireCallbackCode enforces the consent pre-condition of every OAuth
// callback.
func requireCallbackCode(params integration.CallbackParams) error {
	if params.Code == "" {
		return errcode.NewConfigurationError(errcode.DenialOfConsent,
			"the authorization code is missing; the user canceled the consent screen", "")
	}
	return nil
}

// requireClientCredentials checks the deployment-level vendor secrets.
func requireClientCredentials(s *integration.Session) error {
	if s.Vendor.ClientID == "" || s.Vendor.ClientSecret == "" {
		return errcode.NewConfigurationError(errcode.InsufficientConfigData,
			fmt.Sprintf("%s client credentials are not configured", s.Connection.Vendor), "")
	}
	return nil
}

// fingerprintSecret hashes a secret so identity comparison never handles the
// raw value.
func fingerprintSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// bearer builds an Authorization header.
func bearer(token string) http.Header {
	return http.Header{"Authorization": []string{"Bearer " + token}}
}

// isoDate parses the date layouts the vendors use, returning the zero time
// when none match.
func isoDate(value string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02", "2006-01-02T15:04:05Z0700"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}
