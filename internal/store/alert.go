// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/heylaika/laika-sync/internal/metrics"
)

// InsertAlert persists an alert and its receivers. It reports false when an
// alert for the same (type, related object, transition) already exists, in
// which case nothing is written.
func (s *Store) InsertAlert(ctx context.Context, alert *Alert, receivers []string) (bool, error) {
	start := time.Now()

	var existing int
	err := s.conn.QueryRowContext(ctx,
		`SELECT count(*) FROM alert
		 WHERE alert_type = ? AND related_object_type = ?
		   AND related_object_id = ? AND transition_key = ?`,
		alert.Type, alert.RelatedObjectType, alert.RelatedObjectID, alert.TransitionKey).
		Scan(&existing)
	if err != nil {
		metrics.ObserveStoreQuery("insert_alert", start, err)
		return false, fmt.Errorf("query alert transition: %w", err)
	}
	if existing > 0 {
		metrics.ObserveStoreQuery("insert_alert", start, nil)
		return false, nil
	}

	if alert.Payload == nil {
		alert.Payload = map[string]any{}
	}
	payload, err := json.Marshal(alert.Payload)
	if err != nil {
		return false, fmt.Errorf("marshal alert payload: %w", err)
	}

	err = s.conn.QueryRowContext(ctx,
		`INSERT INTO alert
			(alert_type, sender, related_object_type, related_object_id, transition_key, payload)
		 VALUES (?, ?, ?, ?, ?, ?)
		 RETURNING id`,
		alert.Type, alert.Sender, alert.RelatedObjectType, alert.RelatedObjectID,
		alert.TransitionKey, string(payload)).Scan(&alert.ID)
	if err != nil {
		metrics.ObserveStoreQuery("insert_alert", start, err)
		return false, fmt.Errorf("insert alert: %w", err)
	}

	for _, userID := range receivers {
		_, err := s.conn.ExecContext(ctx,
			`INSERT INTO alert_receiver (alert_id, user_id) VALUES (?, ?)
			 ON CONFLICT (alert_id, user_id) DO NOTHING`,
			alert.ID, userID)
		if err != nil {
			metrics.ObserveStoreQuery("insert_alert", start, err)
			return false, fmt.Errorf("insert alert receiver: %w", err)
		}
	}

	metrics.ObserveStoreQuery("insert_alert", start, nil)
	return true, nil
}

// AlertsByType lists alerts of one type, newest first.
func (s *Store) AlertsByType(ctx context.Context, alertType string) ([]Alert, error) {
	start := time.Now()
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, alert_type, sender, related_object_type, related_object_id,
		        transition_key, payload, created_at
		 FROM alert WHERE alert_type = ? ORDER BY id DESC`, alertType)
	metrics.ObserveStoreQuery("alerts_by_type", start, err)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []Alert
	for rows.Next() {
		var (
			a       Alert
			payload string
		)
		if err := rows.Scan(&a.ID, &a.Type, &a.Sender, &a.RelatedObjectType,
			&a.RelatedObjectID, &a.TransitionKey, &payload, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &a.Payload); err != nil {
			return nil, fmt.Errorf("decode alert payload: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// AlertReceivers lists the user ids an alert addresses.
func (s *Store) AlertReceivers(ctx context.Context, alertID int64) ([]string, error) {
	start := time.Now()
	rows, err := s.conn.QueryContext(ctx,
		`SELECT user_id FROM alert_receiver WHERE alert_id = ? ORDER BY user_id`, alertID)
	metrics.ObserveStoreQuery("alert_receivers", start, err)
	if err != nil {
		return nil, fmt.Errorf("query alert receivers: %w", err)
	}
	defer rows.Close()

	var receivers []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan alert receiver: %w", err)
		}
		receivers = append(receivers, userID)
	}
	return receivers, rows.Err()
}
