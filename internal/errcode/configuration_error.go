// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

package errcode

import (
	"errors"
	"fmt"
)

// ConfigurationError is the typed failure an adapter or the HTTP layer raises
// when a sync attempt cannot proceed. The state machine catches it at the run
// boundary and writes (status, error_code, result) onto the connection.
type ConfigurationError struct {
	// Code classifies the failure within the taxonomy.
	Code Code

	// Message is an operator-facing summary of what went wrong.
	Message string

	// Response is the raw provider response (or other diagnostic detail)
	// captured for the connection's result column. May be empty.
	Response string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewConfigurationError builds a ConfigurationError with an optional raw
// provider response.
func NewConfigurationError(code Code, message, response string) *ConfigurationError {
	return &ConfigurationError{Code: code, Message: message, Response: response}
}

// AsConfigurationError unwraps err into a *ConfigurationError if one is in
// the chain.
func AsConfigurationError(err error) (*ConfigurationError, bool) {
	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) {
		return cfgErr, true
	}
	return nil, false
}

// CodeOf returns the taxonomy code for an arbitrary error: the embedded code
// for a ConfigurationError, ConnectionTimeout for a deadline expiry, and
// Other for everything else.
func CodeOf(err error) Code {
	if err == nil {
		return None
	}
	if cfgErr, ok := AsConfigurationError(err); ok {
		return cfgErr.Code
	}
	return Other
}
