// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

package connection

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/heylaika/laika-sync/internal/alerts"
	"github.com/heylaika/laika-sync/internal/config"
	"github.com/heylaika/laika-sync/internal/errcode"
	"github.com/heylaika/laika-sync/internal/integration"
	"github.com/heylaika/laika-sync/internal/objects"
	"github.com/heylaika/laika-sync/internal/store"
	"github.com/heylaika/laika-sync/internal/vault"
)

type fakeAdapter struct {
	vendor      string
	run         func(ctx context.Context, session *integration.Session) error
	fingerprint string
}

func (a *fakeAdapter) Vendor() string { return a.vendor }

func (a *fakeAdapter) Run(ctx context.Context, session *integration.Session) error {
	if a.run != nil {
		return a.run(ctx, session)
	}
	return nil
}

func (a *fakeAdapter) Fingerprint(ctx context.Context, session *integration.Session) (string, error) {
	return a.fingerprint, nil
}

type fixture struct {
	store  *store.Store
	runner *Runner
	conn   *store.ConnectionAccount
}

func newFixture(t *testing.T, adapter *fakeAdapter) *fixture {
	t.Helper()
	ctx := context.Background()

	s, err := store.Open(config.DatabaseConfig{Path: ""})
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.CreateOrganization(ctx, store.Organization{ID: "org-1", Name: "Org"}); err != nil {
		t.Fatalf("CreateOrganization() error = %v", err)
	}
	if err := s.CreateOrgUser(ctx, store.OrgUser{
		ID: "admin-1", OrganizationID: "org-1", Email: "admin@example.com", Role: store.RoleAdmin,
	}); err != nil {
		t.Fatalf("CreateOrgUser() error = %v", err)
	}

	integrationID, err := s.GetOrCreateIntegration(ctx, adapter.vendor, adapter.vendor)
	if err != nil {
		t.Fatalf("GetOrCreateIntegration() error = %v", err)
	}
	conn := &store.ConnectionAccount{
		OrganizationID: "org-1",
		IntegrationID:  integrationID,
		Vendor:         adapter.vendor,
		Alias:          "test connection",
	}
	if _, err := s.CreateConnection(ctx, conn); err != nil {
		t.Fatalf("CreateConnection() error = %v", err)
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
		Sync: config.SyncConfig{
			RetryAttempts:  2,
			RetryDelay:     time.Millisecond,
			AttemptTimeout: 5 * time.Second,
			RequestTimeout: time.Second,
		},
	}

	emitter := alerts.NewEmitter(s, nil, "")
	runner := NewRunner(s, objects.NewRegistry(s), v, emitter,
		map[string]integration.Adapter{adapter.vendor: adapter}, cfg)

	return &fixture{store: s, runner: runner, conn: conn}
}

func (f *fixture) reload(t *testing.T) *store.ConnectionAccount {
	t.Helper()
	conn, err := f.store.GetConnection(context.Background(), f.conn.ID)
	if err != nil {
		t.Fatalf("GetConnection() error = %v", err)
	}
	return conn
}

func TestRunSuccessRecordsCounts(t *testing.T) {
	adapter := &fakeAdapter{
		vendor: "slack",
		run: func(ctx context.Context, session *integration.Session) error {
			session.AddCounts("user", store.Counts{Inserted: 5, Upserted: 2, SoftDeleted: 1})
			session.AddCounts("event", store.Counts{Inserted: 3})
			return nil
		},
	}
	f := newFixture(t, adapter)

	if err := f.runner.Run(context.Background(), f.conn.ID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	conn := f.reload(t)
	if conn.Status != store.StatusSuccess || conn.ErrorCode != errcode.None {
		t.Errorf("connection = %s/%s, want SUCCESS/NONE", conn.Status, conn.ErrorCode)
	}
	counts, ok := conn.Result["counts"].(map[string]any)
	if !ok {
		t.Fatalf("result = %v, want counts captured", conn.Result)
	}
	if counts["inserted"] != float64(8) {
		t.Errorf("inserted = %v, want 8", counts["inserted"])
	}
	recordCounts, ok := conn.Result["record_counts"].(map[string]any)
	if !ok {
		t.Fatalf("result = %v, want record_counts captured", conn.Result)
	}
	if recordCounts["user"] != float64(7) {
		t.Errorf("record_counts.user = %v, want 7", recordCounts["user"])
	}
	if recordCounts["event"] != float64(3) {
		t.Errorf("record_counts.event = %v, want 3", recordCounts["event"])
	}
}

func TestRunConfigurationErrorSetsErrorState(t *testing.T) {
	adapter := &fakeAdapter{
		vendor: "github",
		run: func(ctx context.Context, session *integration.Session) error {
			return errcode.NewConfigurationError(errcode.ExpiredToken, "token expired", `{"message":"401"}`)
		},
	}
	f := newFixture(t, adapter)

	err := f.runner.Run(context.Background(), f.conn.ID)
	if errcode.CodeOf(err) != errcode.ExpiredToken {
		t.Fatalf("Run() error = %v, want EXPIRED_TOKEN", err)
	}

	conn := f.reload(t)
	if conn.Status != store.StatusError || conn.ErrorCode != errcode.ExpiredToken {
		t.Errorf("connection = %s/%s, want ERROR/EXPIRED_TOKEN", conn.Status, conn.ErrorCode)
	}
	if conn.Result["response"] != `{"message":"401"}` {
		t.Errorf("result = %v, want provider response preserved", conn.Result)
	}
}

func TestRunDenialOfConsentStaysPending(t *testing.T) {
	adapter := &fakeAdapter{
		vendor: "checkr",
		run: func(ctx context.Context, session *integration.Session) error {
			return errcode.NewConfigurationError(errcode.DenialOfConsent, "user declined", "")
		},
	}
	f := newFixture(t, adapter)

	_ = f.runner.Run(context.Background(), f.conn.ID)

	conn := f.reload(t)
	if conn.Status != store.StatusPending {
		t.Errorf("status = %s, want PENDING after denial of consent", conn.Status)
	}
	if conn.ErrorCode != errcode.DenialOfConsent {
		t.Errorf("error_code = %s, want DENIAL_OF_CONSENT", conn.ErrorCode)
	}
}

func TestRunPanicIsContained(t *testing.T) {
	adapter := &fakeAdapter{
		vendor: "datadog",
		run: func(ctx context.Context, session *integration.Session) error {
			panic("mapper exploded")
		},
	}
	f := newFixture(t, adapter)

	err := f.runner.Run(context.Background(), f.conn.ID)
	if err == nil {
		t.Fatal("Run() error = nil, want contained panic")
	}

	conn := f.reload(t)
	if conn.Status != store.StatusError || conn.ErrorCode != errcode.Other {
		t.Errorf("connection = %s/%s, want ERROR/OTHER", conn.Status, conn.ErrorCode)
	}
	stack, _ := conn.Result["stack"].(string)
	if !strings.Contains(stack, "runner_test") {
		t.Error("result should capture the panic stack")
	}
}

func TestRunRefusedWhileSyncInProgress(t *testing.T) {
	adapter := &fakeAdapter{vendor: "slack"}
	f := newFixture(t, adapter)
	ctx := context.Background()

	if _, err := f.store.TryBeginSync(ctx, f.conn.ID); err != nil {
		t.Fatalf("TryBeginSync() error = %v", err)
	}

	err := f.runner.Run(ctx, f.conn.ID)
	if !errors.Is(err, ErrAttemptInProgress) {
		t.Errorf("Run() error = %v, want ErrAttemptInProgress", err)
	}
}

func TestRunRefusesDuplicateFingerprint(t *testing.T) {
	adapter := &fakeAdapter{vendor: "github", fingerprint: "installation-77"}
	f := newFixture(t, adapter)
	ctx := context.Background()

	sibling := &store.ConnectionAccount{
		OrganizationID: "org-1",
		IntegrationID:  f.conn.IntegrationID,
		Vendor:         "github",
		Alias:          "second connection",
	}
	if _, err := f.store.CreateConnection(ctx, sibling); err != nil {
		t.Fatalf("CreateConnection() error = %v", err)
	}

	err := f.runner.Run(ctx, f.conn.ID)
	if !errors.Is(err, ErrDuplicateConnection) {
		t.Fatalf("Run() error = %v, want ErrDuplicateConnection", err)
	}

	// The refusal must leave the store untouched.
	conn := f.reload(t)
	if conn.Status != store.StatusPending {
		t.Errorf("status = %s, want PENDING untouched after refusal", conn.Status)
	}
}

func TestRunDeadlineMapsToConnectionTimeout(t *testing.T) {
	adapter := &fakeAdapter{
		vendor: "auth0",
		run: func(ctx context.Context, session *integration.Session) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	f := newFixture(t, adapter)
	f.runner.cfg.Sync.AttemptTimeout = 50 * time.Millisecond

	_ = f.runner.Run(context.Background(), f.conn.ID)

	conn := f.reload(t)
	if conn.Status != store.StatusError || conn.ErrorCode != errcode.ConnectionTimeout {
		t.Errorf("connection = %s/%s, want ERROR/CONNECTION_TIMEOUT", conn.Status, conn.ErrorCode)
	}
}

func TestFailureAlertOncePerStreak(t *testing.T) {
	code := errcode.ExpiredToken
	failing := true
	adapter := &fakeAdapter{vendor: "github"}
	adapter.run = func(ctx context.Context, session *integration.Session) error {
		if failing {
			return errcode.NewConfigurationError(code, "token expired", "")
		}
		return nil
	}
	f := newFixture(t, adapter)
	ctx := context.Background()

	// Two consecutive failures with the same code: one alert.
	_ = f.runner.Run(ctx, f.conn.ID)
	_ = f.runner.Run(ctx, f.conn.ID)

	emitted, err := f.store.AlertsByType(ctx, alerts.TypeIntegrationFailed)
	if err != nil {
		t.Fatalf("AlertsByType() error = %v", err)
	}
	if len(emitted) != 1 {
		t.Fatalf("alerts = %d, want 1 per consecutive streak", len(emitted))
	}

	// Recovery, then a fresh failure: a second alert.
	failing = false
	if err := f.runner.Run(ctx, f.conn.ID); err != nil {
		t.Fatalf("Run() recovery error = %v", err)
	}
	failing = true
	_ = f.runner.Run(ctx, f.conn.ID)

	emitted, err = f.store.AlertsByType(ctx, alerts.TypeIntegrationFailed)
	if err != nil {
		t.Fatalf("AlertsByType() error = %v", err)
	}
	if len(emitted) != 2 {
		t.Errorf("alerts = %d, want new alert after recovery", len(emitted))
	}
}
