// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

// Package webhook hosts the inbound HTTP surface: OAuth callbacks, vendor
// webhook ingestion, health, and metrics. Everything else about the platform
// talks to the engine through the store, not through HTTP.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/heylaika/laika-sync/internal/config"
	"github.com/heylaika/laika-sync/internal/connection"
	"github.com/heylaika/laika-sync/internal/errcode"
	"github.com/heylaika/laika-sync/internal/integration"
	"github.com/heylaika/laika-sync/internal/logging"
	"github.com/heylaika/laika-sync/internal/metrics"
	"github.com/heylaika/laika-sync/internal/oauthstate"
	"github.com/heylaika/laika-sync/internal/store"
)

// maxWebhookBody bounds inbound payloads; vendor events are small.
const maxWebhookBody = 1 << 20

// Server is the inbound HTTP surface of the sync engine.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	runner   *connection.Runner
	states   *oauthstate.Store
	adapters map[string]integration.Adapter
	locks    *keyedLocks

	httpServer *http.Server
}

func NewServer(cfg *config.Config, s *store.Store, runner *connection.Runner,
	states *oauthstate.Store, adapters map[string]integration.Adapter) *Server {
	srv := &Server{
		cfg:      cfg,
		store:    s,
		runner:   runner,
		states:   states,
		adapters: adapters,
		locks:    newKeyedLocks(),
	}
	srv.httpServer = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return srv
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger)
	r.Use(httprate.LimitByIP(s.cfg.Server.RateLimit, s.cfg.Server.RateWindow))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/integration/{vendor}/callback", s.handleCallback)
	r.Post("/integration/{vendor}/webhook", s.handleWebhook)
	return r
}

// Serve runs the listener until the context is cancelled, then drains within
// the configured shutdown window. The signature fits a suture service.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	}
}

// RunSync triggers one sync attempt under the connection's advisory lock.
func (s *Server) RunSync(ctx context.Context, connectionID int64) error {
	unlock := s.locks.lock(connectionID)
	defer unlock()
	return s.runner.Run(ctx, connectionID)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCallback completes an OAuth dance begun with an oauthstate entry. The
// browser always ends up at the UI; errors travel as a query parameter.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	vendor := chi.URLParam(r, "vendor")
	query := r.URL.Query()
	state := query.Get("state")

	entry, err := s.states.Take(state)
	if err != nil {
		if errors.Is(err, oauthstate.ErrStateNotFound) {
			s.redirectUI(w, r, vendor, state, "unknown or expired state")
			return
		}
		logging.Ctx(r.Context()).Error().Err(err).Msg("OAuth state lookup failed")
		s.redirectUI(w, r, vendor, state, "state lookup failed")
		return
	}
	if entry.Vendor != vendor {
		s.redirectUI(w, r, vendor, state, "state belongs to a different vendor")
		return
	}

	conn, err := s.store.GetConnection(r.Context(), entry.ConnectionID)
	if err != nil {
		s.redirectUI(w, r, vendor, state, "connection not found")
		return
	}

	adapter, ok := s.adapters[vendor]
	if !ok {
		s.redirectUI(w, r, vendor, state, "unknown vendor")
		return
	}
	handler, ok := adapter.(integration.CallbackHandler)
	if !ok {
		s.redirectUI(w, r, vendor, state, "vendor has no callback flow")
		return
	}

	ctx := logging.WithSync(r.Context(), vendor, conn.ID)
	session := s.runner.NewSession(conn)
	err = handler.HandleCallback(ctx, session, integration.CallbackParams{
		Code:        query.Get("code"),
		State:       state,
		RedirectURI: s.cfg.Vendor(vendor).RedirectURI,
		Query:       query,
	})
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("OAuth callback rejected")
		s.recordCallbackFailure(ctx, conn.ID, err)
		s.redirectUI(w, r, vendor, state, err.Error())
		return
	}

	// First sync starts immediately so the connection leaves PENDING without
	// waiting for the scheduler.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.AttemptTimeoutFor(vendor))
		defer cancel()
		if err := s.RunSync(ctx, conn.ID); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Int64("connection_id", conn.ID).
				Msg("Post-callback sync failed")
		}
	}()

	s.redirectUI(w, r, vendor, state, "")
}

// recordCallbackFailure persists the taxonomy code of a failed OAuth dance.
// Denial of consent keeps the connection PENDING so the user can retry the
// dance; other configuration errors park it in ERROR.
func (s *Server) recordCallbackFailure(ctx context.Context, connID int64, callbackErr error) {
	cfgErr, ok := errcode.AsConfigurationError(callbackErr)
	if !ok {
		return
	}
	status := store.StatusError
	if cfgErr.Code == errcode.DenialOfConsent {
		status = store.StatusPending
	}
	result := map[string]any{"error": cfgErr.Message}
	if cfgErr.Response != "" {
		result["response"] = cfgErr.Response
	}
	if err := s.store.FinishAttempt(ctx, connID, status, cfgErr.Code, result); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Failed to record callback failure")
	}
}

func (s *Server) redirectUI(w http.ResponseWriter, r *http.Request, vendor, state, errMsg string) {
	target, err := url.Parse(s.cfg.Server.UIRedirectURL)
	if err != nil {
		http.Error(w, "bad redirect target", http.StatusInternalServerError)
		return
	}
	q := target.Query()
	q.Set("vendor", vendor)
	if state != "" {
		q.Set("correlation_id", state)
	}
	if errMsg != "" {
		q.Set("error", errMsg)
	}
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// handleWebhook fans a vendor event out to the matching connection. Vendor
// retry queues treat any 5xx as a delivery failure, so unmatched or failing
// events still answer 200 with an error body.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	vendor := chi.URLParam(r, "vendor")
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(vendor, "unknown", "rejected").Inc()
		writeJSON(w, http.StatusOK, map[string]string{"error": "unreadable body"})
		return
	}

	var envelope struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(body, &envelope)
	eventType := envelope.Type
	if eventType == "" {
		eventType = "unknown"
	}

	if secret := s.cfg.Vendor(vendor).WebhookSecret; secret != "" {
		if !verifySignature(r.Header.Get("X-Checkr-Signature"), body, secret) {
			metrics.WebhookEvents.WithLabelValues(vendor, eventType, "rejected").Inc()
			logging.Ctx(ctx).Warn().Str("vendor", vendor).Msg("Webhook signature mismatch")
			writeJSON(w, http.StatusOK, map[string]string{"error": "invalid signature"})
			return
		}
	}

	adapter, ok := s.adapters[vendor]
	if !ok {
		metrics.WebhookEvents.WithLabelValues(vendor, eventType, "rejected").Inc()
		writeJSON(w, http.StatusOK, map[string]string{"error": "unknown vendor"})
		return
	}
	handler, ok := adapter.(integration.WebhookHandler)
	if !ok {
		metrics.WebhookEvents.WithLabelValues(vendor, eventType, "rejected").Inc()
		writeJSON(w, http.StatusOK, map[string]string{"error": "vendor does not accept webhooks"})
		return
	}

	conns, err := s.store.ConnectionsByVendor(ctx, vendor)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(vendor, eventType, "rejected").Inc()
		logging.Ctx(ctx).Error().Err(err).Msg("Webhook connection lookup failed")
		writeJSON(w, http.StatusOK, map[string]string{"error": "connection lookup failed"})
		return
	}

	event := integration.WebhookEvent{Type: eventType, Body: body}
	for _, conn := range conns {
		session := s.runner.NewSession(conn)
		matched, err := handler.MatchesWebhook(ctx, session, event)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Int64("connection_id", conn.ID).
				Msg("Webhook match check failed")
			continue
		}
		if !matched {
			continue
		}

		syncCtx := logging.WithSync(ctx, vendor, conn.ID)
		unlock := s.locks.lock(conn.ID)
		err = handler.HandleWebhook(syncCtx, session, event)
		unlock()
		if err != nil {
			metrics.WebhookEvents.WithLabelValues(vendor, eventType, "rejected").Inc()
			logging.Ctx(syncCtx).Error().Err(err).Str("event_type", eventType).
				Msg("Webhook handling failed")
			writeJSON(w, http.StatusOK, map[string]string{"error": "event handling failed"})
			return
		}
		metrics.WebhookEvents.WithLabelValues(vendor, eventType, "handled").Inc()
		writeJSON(w, http.StatusOK, map[string]string{"status": "handled"})
		return
	}

	metrics.WebhookEvents.WithLabelValues(vendor, eventType, "unmatched").Inc()
	writeJSON(w, http.StatusOK, map[string]string{"error": "no matching connection"})
}

// verifySignature checks the hex HMAC-SHA256 the vendor computes over the
// raw body.
func verifySignature(signature string, body []byte, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logging.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
