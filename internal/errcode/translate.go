// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

package errcode

import "net/http"

// FromStatus maps a non-retryable HTTP status to a taxonomy code.
//
// expirationAware selects EXPIRED_TOKEN over BAD_CLIENT_CREDENTIALS for 401
// responses on calls where the caller knows the stored token can expire (e.g.
// refreshable OAuth tokens); for static credentials a 401 means the secrets
// themselves are wrong.
func FromStatus(status int, expirationAware bool) Code {
	switch status {
	case http.StatusBadRequest:
		return UserInputError
	case http.StatusUnauthorized:
		if expirationAware {
			return ExpiredToken
		}
		return BadClientCredentials
	case http.StatusForbidden:
		return InsufficientPermissions
	case http.StatusNotFound:
		return ResourceNotFound
	case http.StatusUnprocessableEntity:
		return BadClientCredentials
	case http.StatusTooManyRequests:
		return APILimit
	}
	if status >= 500 {
		return ProviderServerError
	}
	return Other
}
