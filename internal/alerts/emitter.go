// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

// Package alerts emits typed alert records to organization admins. Alerts are
// persisted through the store's per-transition deduplication and optionally
// forwarded onto a watermill/NATS bus for the external delivery pipeline.
package alerts

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/heylaika/laika-sync/internal/logging"
	"github.com/heylaika/laika-sync/internal/metrics"
	"github.com/heylaika/laika-sync/internal/store"
)

// Alert types the engine emits.
const (
	TypeIntegrationFailed                  = "INTEGRATION_FAILED"
	TypeVendorDiscovery                    = "VENDOR_DISCOVERY"
	TypeBackgroundCheckChangedStatus       = "LO_BACKGROUND_CHECK_CHANGED_STATUS"
	TypeBackgroundCheckSingleMatchUserToLO = "LO_BACKGROUND_CHECK_SINGLE_MATCH_USER_TO_LO"
	TypeBackgroundCheckAccountCredentialed = "LO_BACKGROUND_CHECK_ACCOUNT_CREDENTIALED"
	TypeBackgroundCheckTokenDeauthorized   = "LO_BACKGROUND_CHECK_TOKEN_DEAUTHORIZED"
)

// Emitter persists alerts for an organization's admins and mirrors created
// alerts onto the bus. A nil publisher disables bus delivery.
type Emitter struct {
	store     *store.Store
	publisher *Publisher
	topic     string
}

// NewEmitter creates an emitter. publisher may be nil.
func NewEmitter(s *store.Store, publisher *Publisher, topic string) *Emitter {
	return &Emitter{store: s, publisher: publisher, topic: topic}
}

// Emit addresses the alert to the organization's admins and persists it. A
// repeat of the same (type, related object, transition) is suppressed and
// reported as created=false.
func (e *Emitter) Emit(ctx context.Context, organizationID string, alert *store.Alert) (bool, error) {
	receivers, err := e.store.OrgAdmins(ctx, organizationID)
	if err != nil {
		return false, fmt.Errorf("resolve alert receivers: %w", err)
	}

	created, err := e.store.InsertAlert(ctx, alert, receivers)
	if err != nil {
		return false, fmt.Errorf("persist %s alert: %w", alert.Type, err)
	}
	if !created {
		metrics.AlertsSuppressed.WithLabelValues(alert.Type).Inc()
		logging.Ctx(ctx).Debug().
			Str("alert_type", alert.Type).
			Str("related_object", alert.RelatedObjectID).
			Str("transition", alert.TransitionKey).
			Msg("Alert suppressed, transition already recorded")
		return false, nil
	}

	metrics.AlertsEmitted.WithLabelValues(alert.Type).Inc()
	logging.Ctx(ctx).Info().
		Str("alert_type", alert.Type).
		Str("related_object", alert.RelatedObjectID).
		Int("receivers", len(receivers)).
		Msg("Alert emitted")

	e.publish(ctx, organizationID, alert, receivers)
	return true, nil
}

// publish mirrors the alert onto the bus. Bus failures are logged, never
// propagated: the persisted alert is the source of truth.
func (e *Emitter) publish(ctx context.Context, organizationID string, alert *store.Alert, receivers []string) {
	if e.publisher == nil {
		return
	}

	payload, err := json.Marshal(map[string]any{
		"id":              alert.ID,
		"type":            alert.Type,
		"organization_id": organizationID,
		"related_object": map[string]string{
			"type": alert.RelatedObjectType,
			"id":   alert.RelatedObjectID,
		},
		"transition": alert.TransitionKey,
		"receivers":  receivers,
		"payload":    alert.Payload,
	})
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Failed to serialize alert for bus")
		return
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set("alert_type", alert.Type)
	if err := e.publisher.Publish(e.topic, msg); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("topic", e.topic).Msg("Failed to publish alert to bus")
	}
}
