// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

// Package errcode defines the closed error taxonomy for connection accounts.
//
// Every terminal failure of a sync attempt is classified into one of these
// codes. The codes are persisted on the connection account and rendered to
// users by the surrounding product via the message catalogue; the core never
// invents codes outside this set.
package errcode

// Code identifies one entry of the error taxonomy.
type Code string

const (
	// None indicates success.
	None Code = "NONE"

	// DenialOfConsent: the user canceled the OAuth consent screen.
	DenialOfConsent Code = "DENIAL_OF_CONSENT"

	// BadClientCredentials: the provider rejected our secrets.
	BadClientCredentials Code = "BAD_CLIENT_CREDENTIALS"

	// ExpiredToken: the access token needs a refresh or re-auth.
	ExpiredToken Code = "EXPIRED_TOKEN"

	// InsufficientPermissions: scopes are missing or an admin-only endpoint
	// denied the request.
	InsufficientPermissions Code = "INSUFFICIENT_PERMISSIONS"

	// AccessRevoked: the provider revoked our access.
	AccessRevoked Code = "ACCESS_REVOKED"

	// ResourceNotFound: an expected provider resource is absent, e.g. the
	// organization uninstalled the app.
	ResourceNotFound Code = "RESOURCE_NOT_FOUND"

	// APILimit: the provider rate limit was still exceeded after retries.
	APILimit Code = "API_LIMIT"

	// ConnectionTimeout: our request or the overall attempt timed out.
	ConnectionTimeout Code = "CONNECTION_TIMEOUT"

	// ProviderServerError: provider 5xx or a malformed response.
	ProviderServerError Code = "PROVIDER_SERVER_ERROR"

	// MissingGitHubOrganization: the configured GitHub organization does not
	// exist or is not visible to the app.
	MissingGitHubOrganization Code = "MISSING_GITHUB_ORGANIZATION"

	// MissingGitHubAppInstallation: the GitHub App is not installed on the
	// configured organization.
	MissingGitHubAppInstallation Code = "MISSING_GITHUB_APP_INSTALLATION"

	// InsufficientConfigData: user-submitted settings are incomplete.
	InsufficientConfigData Code = "INSUFFICIENT_CONFIG_DATA"

	// UserInputError: catch-all user-actionable input problem.
	UserInputError Code = "USER_INPUT_ERROR"

	// Other: unclassified; the connection result carries detail.
	Other Code = "OTHER"
)

// All lists every taxonomy code. Used to seed the error catalogue and to
// verify error-code closure.
var All = []Code{
	None,
	DenialOfConsent,
	BadClientCredentials,
	ExpiredToken,
	InsufficientPermissions,
	AccessRevoked,
	ResourceNotFound,
	APILimit,
	ConnectionTimeout,
	ProviderServerError,
	MissingGitHubOrganization,
	MissingGitHubAppInstallation,
	InsufficientConfigData,
	UserInputError,
	Other,
}

// Valid reports whether c is a member of the taxonomy.
func Valid(c Code) bool {
	for _, known := range All {
		if c == known {
			return true
		}
	}
	return false
}

// Message returns the user-facing catalogue message for a code. The same
// strings are seeded into the persisted error catalogue at migration time.
func Message(c Code) string {
	if msg, ok := messages[c]; ok {
		return msg
	}
	return messages[Other]
}

var messages = map[Code]string{
	None:                         "Connected.",
	DenialOfConsent:              "Authorization was canceled. Please retry and grant access.",
	BadClientCredentials:         "The provider rejected the supplied credentials. Please re-enter them.",
	ExpiredToken:                 "The access token has expired. Please reconnect the integration.",
	InsufficientPermissions:      "The connected account is missing required permissions.",
	AccessRevoked:                "Access was revoked on the provider side. Please reconnect.",
	ResourceNotFound:             "An expected resource was not found. The app may have been uninstalled.",
	APILimit:                     "The provider rate limit was exceeded. The sync will be retried later.",
	ConnectionTimeout:            "The provider did not respond in time. The sync will be retried later.",
	ProviderServerError:          "The provider returned an unexpected error. The sync will be retried later.",
	MissingGitHubOrganization:    "The configured GitHub organization could not be found.",
	MissingGitHubAppInstallation: "The GitHub App is not installed on the configured organization.",
	InsufficientConfigData:       "The integration settings are incomplete. Please complete them.",
	UserInputError:               "The submitted settings are invalid. Please correct them.",
	Other:                        "The sync failed unexpectedly. Our team has been notified.",
}
