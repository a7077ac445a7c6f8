// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

package errcode

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestValid_CoversAllCodes(t *testing.T) {
	for _, c := range All {
		if !Valid(c) {
			t.Errorf("Expected %s to be valid", c)
		}
	}
	if Valid(Code("BOGUS")) {
		t.Error("Expected unknown code to be invalid")
	}
}

func TestMessage_EveryCodeHasCatalogueEntry(t *testing.T) {
	for _, c := range All {
		if Message(c) == "" {
			t.Errorf("Code %s has no catalogue message", c)
		}
	}
	// Unknown codes fall back to the OTHER message.
	if Message(Code("BOGUS")) != Message(Other) {
		t.Error("Expected unknown code to use the OTHER message")
	}
}

func TestFromStatus(t *testing.T) {
	cases := []struct {
		status          int
		expirationAware bool
		want            Code
	}{
		{http.StatusBadRequest, false, UserInputError},
		{http.StatusUnauthorized, false, BadClientCredentials},
		{http.StatusUnauthorized, true, ExpiredToken},
		{http.StatusForbidden, false, InsufficientPermissions},
		{http.StatusNotFound, false, ResourceNotFound},
		{http.StatusUnprocessableEntity, false, BadClientCredentials},
		{http.StatusTooManyRequests, false, APILimit},
		{http.StatusInternalServerError, false, ProviderServerError},
		{http.StatusBadGateway, false, ProviderServerError},
		{http.StatusTeapot, false, Other},
	}
	for _, tc := range cases {
		if got := FromStatus(tc.status, tc.expirationAware); got != tc.want {
			t.Errorf("FromStatus(%d, %v) = %s, want %s", tc.status, tc.expirationAware, got, tc.want)
		}
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(nil); got != None {
		t.Errorf("CodeOf(nil) = %s, want NONE", got)
	}

	cfgErr := NewConfigurationError(ExpiredToken, "token expired", "")
	wrapped := fmt.Errorf("run checkr: %w", cfgErr)
	if got := CodeOf(wrapped); got != ExpiredToken {
		t.Errorf("CodeOf(wrapped ConfigurationError) = %s, want EXPIRED_TOKEN", got)
	}

	if got := CodeOf(errors.New("boom")); got != Other {
		t.Errorf("CodeOf(plain error) = %s, want OTHER", got)
	}
}

func TestConfigurationError_Error(t *testing.T) {
	err := NewConfigurationError(BadClientCredentials, "provider said no", "401 body")
	want := "BAD_CLIENT_CREDENTIALS: provider said no"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	bare := &ConfigurationError{Code: Other}
	if bare.Error() != "OTHER" {
		t.Errorf("Error() without message = %q, want OTHER", bare.Error())
	}
}
