// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

// Package metrics provides Prometheus instrumentation for the sync engine:
// sync attempts, outbound provider calls, reconciliation results, webhook
// ingestion, and alert emission.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync attempt metrics
	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_attempt_duration_seconds",
			Help:    "Duration of connection sync attempts in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"vendor", "outcome"}, // outcome: "success", "error", "refused"
	)

	SyncAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_attempts_total",
			Help: "Total number of connection sync attempts",
		},
		[]string{"vendor", "outcome", "error_code"},
	)

	// Outbound provider HTTP metrics
	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_requests_total",
			Help: "Total outbound provider API requests",
		},
		[]string{"vendor", "status_code"},
	)

	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_request_duration_seconds",
			Help:    "Outbound provider API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"vendor"},
	)

	ProviderRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_request_retries_total",
			Help: "Total outbound request retries by reason",
		},
		[]string{"vendor", "reason"}, // reason: "rate_limited", "transient"
	)

	// Reconciliation metrics
	ReconciledRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciled_records_total",
			Help: "Laika object records touched by reconciliation",
		},
		[]string{"vendor", "object_type", "action"}, // action: "inserted", "updated", "soft_deleted", "skipped"
	)

	// Webhook metrics
	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Inbound webhook events by vendor, event type, and result",
		},
		[]string{"vendor", "event_type", "result"}, // result: "handled", "unmatched", "rejected"
	)

	// Alert metrics
	AlertsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_emitted_total",
			Help: "Alert records emitted by type",
		},
		[]string{"alert_type"},
	)

	AlertsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_suppressed_total",
			Help: "Alerts suppressed by per-transition deduplication",
		},
		[]string{"alert_type"},
	)

	// Store metrics
	StoreQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_query_duration_seconds",
			Help:    "Duration of store operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	StoreQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_query_errors_total",
			Help: "Total store operation errors",
		},
		[]string{"operation"},
	)
)

// ObserveStoreQuery records one store operation's duration, and its failure
// if err is non-nil.
func ObserveStoreQuery(operation string, start time.Time, err error) {
	StoreQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		StoreQueryErrors.WithLabelValues(operation).Inc()
	}
}
