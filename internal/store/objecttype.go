// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/heylaika/laika-sync/internal/metrics"
	"github.com/heylaika/laika-sync/internal/objects"
)

// GetOrCreateObjectType implements objects.TypePersistence. The unique
// (organization_id, type_name) constraint arbitrates concurrent first use:
// a losing insert falls back to reading the winner's row.
func (s *Store) GetOrCreateObjectType(ctx context.Context, organizationID, typeName string, attributes []objects.Attribute) (int64, error) {
	start := time.Now()

	id, err := s.lookupObjectType(ctx, organizationID, typeName)
	if err == nil {
		metrics.ObserveStoreQuery("get_object_type", start, nil)
		return id, nil
	}
	if err != sql.ErrNoRows {
		metrics.ObserveStoreQuery("get_object_type", start, err)
		return 0, fmt.Errorf("query object type: %w", err)
	}

	payload, err := json.Marshal(attributes)
	if err != nil {
		return 0, fmt.Errorf("marshal type attributes: %w", err)
	}

	err = s.conn.QueryRowContext(ctx,
		`INSERT INTO object_type (organization_id, type_name, attributes)
		 VALUES (?, ?, ?) RETURNING id`,
		organizationID, typeName, string(payload)).Scan(&id)
	if err != nil {
		// Lost the race; the row exists now.
		if lookupID, lookupErr := s.lookupObjectType(ctx, organizationID, typeName); lookupErr == nil {
			metrics.ObserveStoreQuery("create_object_type", start, nil)
			return lookupID, nil
		}
		metrics.ObserveStoreQuery("create_object_type", start, err)
		return 0, fmt.Errorf("insert object type: %w", err)
	}

	metrics.ObserveStoreQuery("create_object_type", start, nil)
	return id, nil
}

func (s *Store) lookupObjectType(ctx context.Context, organizationID, typeName string) (int64, error) {
	var id int64
	err := s.conn.QueryRowContext(ctx,
		`SELECT id FROM object_type WHERE organization_id = ? AND type_name = ?`,
		organizationID, typeName).Scan(&id)
	return id, err
}
