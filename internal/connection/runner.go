// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

// Package connection drives the connection account state machine. A Run
// claims the SYNC state, executes the vendor adapter under the attempt
// deadline, and records the terminal state with a taxonomy code. Failures
// emit an INTEGRATION_FAILED alert once per consecutive same-code streak.
package connection

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/heylaika/laika-sync/internal/alerts"
	"github.com/heylaika/laika-sync/internal/config"
	"github.com/heylaika/laika-sync/internal/errcode"
	"github.com/heylaika/laika-sync/internal/httpclient"
	"github.com/heylaika/laika-sync/internal/integration"
	"github.com/heylaika/laika-sync/internal/logging"
	"github.com/heylaika/laika-sync/internal/metrics"
	"github.com/heylaika/laika-sync/internal/objects"
	"github.com/heylaika/laika-sync/internal/store"
	"github.com/heylaika/laika-sync/internal/vault"
)

var (
	// ErrAttemptInProgress is returned when the connection is already in SYNC.
	ErrAttemptInProgress = errors.New("sync attempt already in progress")

	// ErrDuplicateConnection is returned when an active sibling connection
	// shares the adapter's identity fingerprint.
	ErrDuplicateConnection = errors.New("duplicate connection for the same external identity")

	// ErrUnknownVendor is returned when no adapter is registered for the
	// connection's vendor.
	ErrUnknownVendor = errors.New("unknown vendor")
)

// Runner executes sync attempts.
type Runner struct {
	store    *store.Store
	registry *objects.Registry
	vault    *vault.Vault
	alerts   *alerts.Emitter
	adapters map[string]integration.Adapter
	cfg      *config.Config
}

// NewRunner creates a runner over the registered adapters.
func NewRunner(s *store.Store, registry *objects.Registry, v *vault.Vault, emitter *alerts.Emitter, adapters map[string]integration.Adapter, cfg *config.Config) *Runner {
	return &Runner{
		store:    s,
		registry: registry,
		vault:    v,
		alerts:   emitter,
		adapters: adapters,
		cfg:      cfg,
	}
}

// Run executes one sync attempt for the connection. The connection moves
// PENDING/SUCCESS/ERROR → SYNC → SUCCESS or ERROR; a refused attempt leaves
// the store untouched and returns ErrAttemptInProgress or
// ErrDuplicateConnection.
func (r *Runner) Run(ctx context.Context, connectionID int64) error {
	conn, err := r.store.GetConnection(ctx, connectionID)
	if err != nil {
		return err
	}

	adapter, ok := r.adapters[conn.Vendor]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownVendor, conn.Vendor)
	}

	ctx = logging.WithSync(ctx, conn.Vendor, conn.ID)
	log := logging.Ctx(ctx)

	session := r.NewSession(conn)

	if err := r.refuseIfDuplicate(ctx, adapter, session); err != nil {
		metrics.SyncAttempts.WithLabelValues(conn.Vendor, "refused", "").Inc()
		return err
	}

	claimed, err := r.store.TryBeginSync(ctx, conn.ID)
	if err != nil {
		return err
	}
	if !claimed {
		metrics.SyncAttempts.WithLabelValues(conn.Vendor, "refused", "").Inc()
		return fmt.Errorf("connection %d: %w", conn.ID, ErrAttemptInProgress)
	}

	// Streak suppression compares against the state before this attempt.
	prevStatus, prevCode := conn.Status, conn.ErrorCode

	attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeoutFor(conn.Vendor))
	defer cancel()

	start := time.Now()
	log.Info().Msg("Sync attempt started")
	runErr := runAdapter(attemptCtx, adapter, session)
	elapsed := time.Since(start)

	return r.finish(ctx, session, prevStatus, prevCode, runErr, elapsed)
}

// NewSession builds the adapter session for a connection, including its
// instrumented HTTP client.
func (r *Runner) NewSession(conn *store.ConnectionAccount) *integration.Session {
	return &integration.Session{
		Store:      r.store,
		Registry:   r.registry,
		Vault:      r.vault,
		Alerts:     r.alerts,
		Connection: conn,
		Vendor:     r.cfg.Vendor(conn.Vendor),
		Client: httpclient.New(httpclient.Config{
			Vendor:         conn.Vendor,
			RequestTimeout: r.cfg.RequestTimeoutFor(conn.Vendor),
			RetryAttempts:  r.cfg.Sync.RetryAttempts,
			RetryDelay:     r.cfg.Sync.RetryDelay,
		}),
	}
}

// refuseIfDuplicate compares the adapter's identity fingerprint against all
// sibling connections. Only fingerprint-capable adapters participate.
func (r *Runner) refuseIfDuplicate(ctx context.Context, adapter integration.Adapter, session *integration.Session) error {
	fingerprinter, ok := adapter.(integration.Fingerprinter)
	if !ok {
		return nil
	}

	own, err := fingerprinter.Fingerprint(ctx, session)
	if err != nil || own == "" {
		// A connection that cannot produce a fingerprint yet (no tokens)
		// cannot collide.
		return nil //nolint:nilerr
	}

	siblings, err := r.store.SiblingConnections(ctx, session.Connection)
	if err != nil {
		return err
	}
	for _, sibling := range siblings {
		siblingSession := r.NewSession(sibling)
		theirs, err := fingerprinter.Fingerprint(ctx, siblingSession)
		if err != nil {
			continue
		}
		if theirs != "" && theirs == own {
			return fmt.Errorf("connection %d collides with %d: %w",
				session.Connection.ID, sibling.ID, ErrDuplicateConnection)
		}
	}
	return nil
}

// runAdapter executes the adapter with panic containment.
func runAdapter(ctx context.Context, adapter integration.Adapter, session *integration.Session) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &panicError{value: p, stack: debug.Stack()}
		}
	}()
	return adapter.Run(ctx, session)
}

type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("adapter panic: %v", e.value)
}

// finish records the attempt outcome and emits alerts.
func (r *Runner) finish(ctx context.Context, session *integration.Session, prevStatus store.Status, prevCode errcode.Code, runErr error, elapsed time.Duration) error {
	conn := session.Connection
	log := logging.Ctx(ctx)

	if runErr == nil {
		counts := session.TotalCounts()
		recordCounts := make(map[string]any)
		for entity, c := range session.Counts() {
			recordCounts[entity] = c.Inserted + c.Upserted
		}
		result := map[string]any{"counts": counts, "record_counts": recordCounts}
		if err := r.store.FinishAttempt(ctx, conn.ID, store.StatusSuccess, errcode.None, result); err != nil {
			return err
		}
		if err := r.store.PromoteLatestVersion(ctx, conn); err != nil {
			log.Error().Err(err).Msg("Failed to promote integration version")
		}
		metrics.SyncDuration.WithLabelValues(conn.Vendor, "success").Observe(elapsed.Seconds())
		metrics.SyncAttempts.WithLabelValues(conn.Vendor, "success", string(errcode.None)).Inc()
		log.Info().
			Dur("elapsed", elapsed).
			Int("inserted", counts.Inserted).
			Int("upserted", counts.Upserted).
			Int("soft_deleted", counts.SoftDeleted).
			Msg("Sync attempt succeeded")
		return nil
	}

	status, code, result := classify(runErr)

	if err := r.store.FinishAttempt(ctx, conn.ID, status, code, result); err != nil {
		return err
	}
	metrics.SyncDuration.WithLabelValues(conn.Vendor, "error").Observe(elapsed.Seconds())
	metrics.SyncAttempts.WithLabelValues(conn.Vendor, "error", string(code)).Inc()
	log.Warn().
		Err(runErr).
		Str("error_code", string(code)).
		Str("status", string(status)).
		Dur("elapsed", elapsed).
		Msg("Sync attempt failed")

	if status == store.StatusError {
		r.emitFailureAlert(ctx, conn, prevStatus, prevCode, code)
	}
	return runErr
}

// classify maps an attempt error onto (status, code, result).
func classify(runErr error) (store.Status, errcode.Code, map[string]any) {
	var pErr *panicError
	if errors.As(runErr, &pErr) {
		return store.StatusError, errcode.Other, map[string]any{
			"error": pErr.Error(),
			"stack": string(pErr.stack),
		}
	}

	if cfgErr, ok := errcode.AsConfigurationError(runErr); ok {
		result := map[string]any{"error": cfgErr.Message}
		if cfgErr.Response != "" {
			result["response"] = cfgErr.Response
		}
		// Denial of consent is a user-actionable pre-condition: the
		// connection waits in PENDING for the user to retry the dance.
		if cfgErr.Code == errcode.DenialOfConsent {
			return store.StatusPending, cfgErr.Code, result
		}
		return store.StatusError, cfgErr.Code, result
	}

	if errors.Is(runErr, context.DeadlineExceeded) {
		return store.StatusError, errcode.ConnectionTimeout,
			map[string]any{"error": "attempt deadline exceeded"}
	}

	return store.StatusError, errcode.Other, map[string]any{"error": runErr.Error()}
}

// emitFailureAlert emits INTEGRATION_FAILED unless the previous attempt
// already failed with the same code (one alert per consecutive streak).
func (r *Runner) emitFailureAlert(ctx context.Context, conn *store.ConnectionAccount, prevStatus store.Status, prevCode errcode.Code, code errcode.Code) {
	if prevStatus == store.StatusError && prevCode == code {
		metrics.AlertsSuppressed.WithLabelValues(alerts.TypeIntegrationFailed).Inc()
		return
	}

	// The transition key carries a timestamp so a fresh streak after a
	// recovery emits again; streak suppression happens above.
	_, err := r.alerts.Emit(ctx, conn.OrganizationID, &store.Alert{
		Type:              alerts.TypeIntegrationFailed,
		RelatedObjectType: "connection_account",
		RelatedObjectID:   strconv.FormatInt(conn.ID, 10),
		TransitionKey:     string(code) + ":" + strconv.FormatInt(time.Now().UnixNano(), 10),
		Payload: map[string]any{
			"vendor":     conn.Vendor,
			"alias":      conn.Alias,
			"error_code": string(code),
		},
	})
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Failed to emit integration failure alert")
	}
}
