// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/heylaika/laika-sync/internal/alerts"
	"github.com/heylaika/laika-sync/internal/config"
	"github.com/heylaika/laika-sync/internal/connection"
	"github.com/heylaika/laika-sync/internal/errcode"
	"github.com/heylaika/laika-sync/internal/integration"
	"github.com/heylaika/laika-sync/internal/oauthstate"
	"github.com/heylaika/laika-sync/internal/objects"
	"github.com/heylaika/laika-sync/internal/store"
	"github.com/heylaika/laika-sync/internal/vault"
)

type stubAdapter struct {
	vendor      string
	accountID   string
	callbackErr error

	callbacks atomic.Int64
	webhooks  atomic.Int64
	syncs     atomic.Int64
}

func (a *stubAdapter) Vendor() string { return a.vendor }

func (a *stubAdapter) Run(ctx context.Context, session *integration.Session) error {
	a.syncs.Add(1)
	return nil
}

func (a *stubAdapter) HandleCallback(ctx context.Context, session *integration.Session, params integration.CallbackParams) error {
	a.callbacks.Add(1)
	return a.callbackErr
}

func (a *stubAdapter) MatchesWebhook(ctx context.Context, session *integration.Session, event integration.WebhookEvent) (bool, error) {
	var envelope struct {
		AccountID string `json:"account_id"`
	}
	if err := json.Unmarshal(event.Body, &envelope); err != nil {
		return false, err
	}
	return envelope.AccountID == a.accountID, nil
}

func (a *stubAdapter) HandleWebhook(ctx context.Context, session *integration.Session, event integration.WebhookEvent) error {
	a.webhooks.Add(1)
	return nil
}

type serverFixture struct {
	server  *Server
	store   *store.Store
	states  *oauthstate.Store
	conn    *store.ConnectionAccount
	adapter *stubAdapter
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	ctx := context.Background()

	s, err := store.Open(config.DatabaseConfig{Path: ""})
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	states, err := oauthstate.Open("")
	if err != nil {
		t.Fatalf("oauthstate.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = states.Close() })

	if err := s.CreateOrganization(ctx, store.Organization{ID: "org-1", Name: "Org"}); err != nil {
		t.Fatalf("CreateOrganization() error = %v", err)
	}

	adapter := &stubAdapter{vendor: "checkr", accountID: "acct_1"}
	integrationID, err := s.GetOrCreateIntegration(ctx, adapter.vendor, adapter.vendor)
	if err != nil {
		t.Fatalf("GetOrCreateIntegration() error = %v", err)
	}
	conn := &store.ConnectionAccount{
		OrganizationID: "org-1",
		IntegrationID:  integrationID,
		Vendor:         adapter.vendor,
		Alias:          "checkr connection",
	}
	if _, err := s.CreateConnection(ctx, conn); err != nil {
		t.Fatalf("CreateConnection() error = %v", err)
	}
	if err := s.SaveConfigurationState(ctx, conn.ID, map[string]any{"account_id": "acct_1"}); err != nil {
		t.Fatalf("SaveConfigurationState() error = %v", err)
	}

	masterKey, err := vault.GenerateKey()
	if err != nil {
		t.Fatalf("vault.GenerateKey() error = %v", err)
	}
	v, err := vault.New(vault.Config{MasterKey: masterKey})
	if err != nil {
		t.Fatalf("vault.New() error = %v", err)
	}

	cfg := &config.Config{
		Server: config.ServerConfig{
			Addr:            "127.0.0.1:0",
			UIRedirectURL:   "http://ui.example/integrations",
			RateLimit:       100,
			RateWindow:      time.Minute,
			ShutdownTimeout: time.Second,
		},
		Sync: config.SyncConfig{
			RetryAttempts:  1,
			RetryDelay:     time.Millisecond,
			AttemptTimeout: 5 * time.Second,
			RequestTimeout: time.Second,
		},
	}

	adapters := map[string]integration.Adapter{adapter.vendor: adapter}
	runner := connection.NewRunner(s, objects.NewRegistry(s), v,
		alerts.NewEmitter(s, nil, ""), adapters, cfg)

	return &serverFixture{
		server:  NewServer(cfg, s, runner, states, adapters),
		store:   s,
		states:  states,
		conn:    conn,
		adapter: adapter,
	}
}

func (f *serverFixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	f.server.routes().ServeHTTP(rec, req)
	return rec
}

func (f *serverFixture) post(t *testing.T, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.server.routes().ServeHTTP(rec, req)
	return rec
}

func redirectQuery(t *testing.T, rec *httptest.ResponseRecorder) url.Values {
	t.Helper()
	target, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse redirect location: %v", err)
	}
	return target.Query()
}

func redirectError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return redirectQuery(t, rec).Get("error")
}

func TestCallbackCompletesAndTriggersSync(t *testing.T) {
	f := newServerFixture(t)

	state, err := f.states.Begin(f.conn.ID, "checkr", time.Minute)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	rec := f.get(t, "/integration/checkr/callback?code=auth-code&state="+url.QueryEscape(state))
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusFound)
	}
	if msg := redirectError(t, rec); msg != "" {
		t.Fatalf("redirect error = %q, want none", msg)
	}
	query := redirectQuery(t, rec)
	if got := query.Get("vendor"); got != "checkr" {
		t.Errorf("redirect vendor = %q, want checkr", got)
	}
	if got := query.Get("correlation_id"); got != state {
		t.Errorf("redirect correlation_id = %q, want the OAuth state", got)
	}
	if got := f.adapter.callbacks.Load(); got != 1 {
		t.Errorf("callback invocations = %d, want 1", got)
	}

	// The first sync is kicked off in the background.
	deadline := time.Now().Add(2 * time.Second)
	for f.adapter.syncs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if f.adapter.syncs.Load() == 0 {
		t.Error("post-callback sync never ran")
	}
}

func TestCallbackRejectsVendorMismatch(t *testing.T) {
	f := newServerFixture(t)

	state, err := f.states.Begin(f.conn.ID, "checkr", time.Minute)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	rec := f.get(t, "/integration/slack/callback?code=auth-code&state="+url.QueryEscape(state))
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusFound)
	}
	if msg := redirectError(t, rec); msg == "" {
		t.Error("vendor mismatch must surface as a redirect error")
	}
	if got := f.adapter.callbacks.Load(); got != 0 {
		t.Errorf("callback invocations = %d, want 0", got)
	}
}

func TestCallbackStateIsSingleUse(t *testing.T) {
	f := newServerFixture(t)

	state, err := f.states.Begin(f.conn.ID, "checkr", time.Minute)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	path := "/integration/checkr/callback?code=auth-code&state=" + url.QueryEscape(state)
	if msg := redirectError(t, f.get(t, path)); msg != "" {
		t.Fatalf("first callback error = %q, want none", msg)
	}
	if msg := redirectError(t, f.get(t, path)); msg == "" {
		t.Error("replayed state must surface as a redirect error")
	}
}

func TestCallbackDenialOfConsentKeepsConnectionPending(t *testing.T) {
	f := newServerFixture(t)
	f.adapter.callbackErr = errcode.NewConfigurationError(
		errcode.DenialOfConsent, "authorization code missing from callback", "")

	state, err := f.states.Begin(f.conn.ID, "checkr", time.Minute)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	// The user cancelled the dance, so the vendor redirects without a code.
	rec := f.get(t, "/integration/checkr/callback?state="+url.QueryEscape(state))
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusFound)
	}
	if msg := redirectError(t, rec); msg == "" {
		t.Error("rejected callback must surface as a redirect error")
	}

	conn, err := f.store.GetConnection(context.Background(), f.conn.ID)
	if err != nil {
		t.Fatalf("GetConnection() error = %v", err)
	}
	if conn.Status != store.StatusPending {
		t.Errorf("status = %s, want %s", conn.Status, store.StatusPending)
	}
	if conn.ErrorCode != errcode.DenialOfConsent {
		t.Errorf("error_code = %s, want %s", conn.ErrorCode, errcode.DenialOfConsent)
	}
	if f.adapter.syncs.Load() != 0 {
		t.Error("rejected callback must not start a sync")
	}
}

func TestCallbackConfigurationErrorParksConnectionInError(t *testing.T) {
	f := newServerFixture(t)
	f.adapter.callbackErr = errcode.NewConfigurationError(
		errcode.BadClientCredentials, "token endpoint rejected the client", "invalid_client")

	state, err := f.states.Begin(f.conn.ID, "checkr", time.Minute)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	f.get(t, "/integration/checkr/callback?code=auth-code&state="+url.QueryEscape(state))

	conn, err := f.store.GetConnection(context.Background(), f.conn.ID)
	if err != nil {
		t.Fatalf("GetConnection() error = %v", err)
	}
	if conn.Status != store.StatusError {
		t.Errorf("status = %s, want %s", conn.Status, store.StatusError)
	}
	if conn.ErrorCode != errcode.BadClientCredentials {
		t.Errorf("error_code = %s, want %s", conn.ErrorCode, errcode.BadClientCredentials)
	}
}

func TestWebhookDispatchesToMatchingConnection(t *testing.T) {
	f := newServerFixture(t)

	rec := f.post(t, "/integration/checkr/webhook",
		`{"type":"report.completed","account_id":"acct_1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := f.adapter.webhooks.Load(); got != 1 {
		t.Errorf("webhook invocations = %d, want 1", got)
	}

	var reply map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply["status"] != "handled" {
		t.Errorf("reply = %v, want handled status", reply)
	}
}

func TestWebhookUnmatchedAnswersOKWithError(t *testing.T) {
	f := newServerFixture(t)

	rec := f.post(t, "/integration/checkr/webhook",
		`{"type":"report.completed","account_id":"acct_other"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (vendors retry on 5xx)", rec.Code, http.StatusOK)
	}
	if got := f.adapter.webhooks.Load(); got != 0 {
		t.Errorf("webhook invocations = %d, want 0", got)
	}

	var reply map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply["error"] == "" {
		t.Error("unmatched webhook must carry an error body")
	}
}

func TestWebhookUnknownVendorAnswersOK(t *testing.T) {
	f := newServerFixture(t)

	rec := f.post(t, "/integration/nonesuch/webhook", `{"type":"anything"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestWebhookSignatureVerification(t *testing.T) {
	f := newServerFixture(t)
	f.server.cfg.Vendors = map[string]config.VendorConfig{
		"checkr": {WebhookSecret: "whsec"},
	}

	rec := f.post(t, "/integration/checkr/webhook",
		`{"type":"report.completed","account_id":"acct_1"}`)
	if got := f.adapter.webhooks.Load(); got != 0 {
		t.Errorf("unsigned webhook invocations = %d, want 0", got)
	}
	var reply map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply["error"] != "invalid signature" {
		t.Errorf("reply error = %q, want invalid signature", reply["error"])
	}
}

func TestHealthEndpoint(t *testing.T) {
	f := newServerFixture(t)
	rec := f.get(t, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}
