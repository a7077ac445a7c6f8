// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

// Package integration defines the contract provider adapters implement and
// the session bundle the engine hands them. An adapter's Run performs one
// full sync attempt; the optional interfaces add OAuth callback handling,
// webhook ingestion, user-facing field options, and duplicate-identity
// fingerprints.
package integration

import (
	"context"
	"net/url"
)

// Adapter is one vendor integration.
type Adapter interface {
	// Vendor returns the stable vendor id ("checkr", "github", ...).
	Vendor() string

	// Run executes a full sync attempt: validate credentials, fetch, map,
	// and reconcile every entity the integration covers. Failures surface
	// as *errcode.ConfigurationError for taxonomy-coded conditions.
	Run(ctx context.Context, session *Session) error
}

// CallbackParams carries an OAuth redirect's parameters.
type CallbackParams struct {
	Code        string
	State       string
	RedirectURI string
	Query       url.Values
}

// CallbackHandler is implemented by adapters with an OAuth authorization-code
// dance. HandleCallback exchanges the code, encrypts the tokens into the
// connection's authentication container, and leaves the connection PENDING.
type CallbackHandler interface {
	HandleCallback(ctx context.Context, session *Session, params CallbackParams) error
}

// WebhookEvent is one inbound vendor notification.
type WebhookEvent struct {
	Type string
	Body []byte
}

// WebhookHandler is implemented by adapters that fold vendor push events into
// the corpus between scheduled syncs.
type WebhookHandler interface {
	HandleWebhook(ctx context.Context, session *Session, event WebhookEvent) error

	// MatchesWebhook reports whether the event addresses this session's
	// connection (vendor account id, token fingerprint).
	MatchesWebhook(ctx context.Context, session *Session, event WebhookEvent) (bool, error)
}

// FieldOption is one selectable value for a user-facing configuration field.
type FieldOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// FieldOptionsProvider is implemented by adapters whose configuration form
// offers vendor-derived choices (projects, workflows, groups).
type FieldOptionsProvider interface {
	FieldOptions(ctx context.Context, session *Session, field string) ([]FieldOption, error)
}

// Fingerprinter is implemented by adapters that can name the external
// identity a connection binds to (access token hash, installation id, team
// id). Two active sibling connections sharing a fingerprint are duplicates.
type Fingerprinter interface {
	Fingerprint(ctx context.Context, session *Session) (string, error)
}
