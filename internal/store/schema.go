// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

/*
schema.go - Database Schema Management

Tables:
  - organization / org_user: tenancy and alert receivers
  - integration / integration_version: vendor catalogue and scope snapshots
  - connection_account: per-organization provider connections (state machine)
  - object_type / laika_object: the canonical normalized corpus
  - alert / alert_receiver: emitted alert records and their recipients
  - error_catalogue: persisted taxonomy codes with user-facing messages

All columns are defined in the initial CREATE TABLE statements; JSON payloads
(authentication, configuration_state, result, data, attributes, metadata) are
stored as TEXT holding marshaled JSON.
*/
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/heylaika/laika-sync/internal/errcode"
)

var schemaStatements = []string{
	`CREATE SEQUENCE IF NOT EXISTS integration_id_seq`,
	`CREATE SEQUENCE IF NOT EXISTS integration_version_id_seq`,
	`CREATE SEQUENCE IF NOT EXISTS connection_account_id_seq`,
	`CREATE SEQUENCE IF NOT EXISTS object_type_id_seq`,
	`CREATE SEQUENCE IF NOT EXISTS laika_object_id_seq`,
	`CREATE SEQUENCE IF NOT EXISTS alert_id_seq`,

	`CREATE TABLE IF NOT EXISTS organization (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT current_timestamp
	)`,

	`CREATE TABLE IF NOT EXISTS org_user (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		email TEXT NOT NULL,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'MEMBER',
		created_at TIMESTAMP NOT NULL DEFAULT current_timestamp
	)`,

	`CREATE TABLE IF NOT EXISTS integration (
		id BIGINT PRIMARY KEY DEFAULT nextval('integration_id_seq'),
		vendor TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}'
	)`,

	`CREATE TABLE IF NOT EXISTS integration_version (
		id BIGINT PRIMARY KEY DEFAULT nextval('integration_version_id_seq'),
		integration_id BIGINT NOT NULL,
		version_number INTEGER NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL DEFAULT current_timestamp,
		UNIQUE (integration_id, version_number)
	)`,

	`CREATE TABLE IF NOT EXISTS connection_account (
		id BIGINT PRIMARY KEY DEFAULT nextval('connection_account_id_seq'),
		organization_id TEXT NOT NULL,
		integration_id BIGINT NOT NULL,
		integration_version_id BIGINT,
		alias TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'PENDING',
		error_code TEXT NOT NULL DEFAULT 'NONE',
		result TEXT NOT NULL DEFAULT '{}',
		authentication TEXT NOT NULL DEFAULT '{}',
		configuration_state TEXT NOT NULL DEFAULT '{}',
		control TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT current_timestamp,
		updated_at TIMESTAMP NOT NULL DEFAULT current_timestamp
	)`,

	`CREATE TABLE IF NOT EXISTS object_type (
		id BIGINT PRIMARY KEY DEFAULT nextval('object_type_id_seq'),
		organization_id TEXT NOT NULL,
		type_name TEXT NOT NULL,
		attributes TEXT NOT NULL,
		UNIQUE (organization_id, type_name)
	)`,

	`CREATE TABLE IF NOT EXISTS laika_object (
		id BIGINT PRIMARY KEY DEFAULT nextval('laika_object_id_seq'),
		object_type_id BIGINT NOT NULL,
		connection_account_id BIGINT,
		object_key TEXT,
		data TEXT NOT NULL,
		is_manually_created BOOLEAN NOT NULL DEFAULT false,
		deleted_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT current_timestamp,
		updated_at TIMESTAMP NOT NULL DEFAULT current_timestamp
	)`,

	// Manual records carry NULL connection and key; the unique identity only
	// binds connection-owned rows.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_laika_object_identity
		ON laika_object (connection_account_id, object_type_id, object_key)`,

	`CREATE INDEX IF NOT EXISTS idx_laika_object_scope
		ON laika_object (connection_account_id, object_type_id, is_manually_created)`,

	`CREATE TABLE IF NOT EXISTS alert (
		id BIGINT PRIMARY KEY DEFAULT nextval('alert_id_seq'),
		alert_type TEXT NOT NULL,
		sender TEXT NOT NULL DEFAULT '',
		related_object_type TEXT NOT NULL DEFAULT '',
		related_object_id TEXT NOT NULL DEFAULT '',
		transition_key TEXT NOT NULL DEFAULT '',
		payload TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL DEFAULT current_timestamp
	)`,

	`CREATE UNIQUE INDEX IF NOT EXISTS idx_alert_transition
		ON alert (alert_type, related_object_type, related_object_id, transition_key)`,

	`CREATE TABLE IF NOT EXISTS alert_receiver (
		alert_id BIGINT NOT NULL,
		user_id TEXT NOT NULL,
		delivered BOOLEAN NOT NULL DEFAULT false,
		UNIQUE (alert_id, user_id)
	)`,

	`CREATE TABLE IF NOT EXISTS error_catalogue (
		code TEXT PRIMARY KEY,
		message TEXT NOT NULL
	)`,
}

// seedErrorCatalogue upserts the taxonomy codes with their user-facing
// messages. Messages are refreshed on every startup so catalogue wording
// follows the binary.
func (s *Store) seedErrorCatalogue() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, code := range errcode.All {
		_, err := s.conn.ExecContext(ctx,
			`INSERT INTO error_catalogue (code, message) VALUES (?, ?)
			 ON CONFLICT (code) DO UPDATE SET message = excluded.message`,
			string(code), errcode.Message(code))
		if err != nil {
			return fmt.Errorf("seed error code %s: %w", code, err)
		}
	}
	return nil
}

// ErrorMessage returns the catalogue message for a code, empty when unknown.
func (s *Store) ErrorMessage(ctx context.Context, code errcode.Code) (string, error) {
	var message string
	err := s.conn.QueryRowContext(ctx,
		`SELECT message FROM error_catalogue WHERE code = ?`, string(code)).Scan(&message)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query error catalogue: %w", err)
	}
	return message, nil
}
