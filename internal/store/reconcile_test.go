// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

package store

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/heylaika/laika-sync/internal/config"
	"github.com/heylaika/laika-sync/internal/mapper"
	"github.com/heylaika/laika-sync/internal/objects"
)

type fakeUser struct {
	ID    string
	Name  string
	Email string
}

var fakeUserMapper = mapper.Mapper[fakeUser]{
	Spec: objects.UserSpec,
	Keys: []string{"Id"},
	Map: func(raw fakeUser, alias string) (objects.Record, error) {
		rec := objects.Record{
			"First Name":    objects.Text(raw.Name),
			"Email":         objects.Text(raw.Email),
			"Source System": objects.Text(alias),
		}
		if raw.ID != "" {
			rec["Id"] = objects.Text(raw.ID)
		}
		return rec, nil
	},
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(config.DatabaseConfig{Path: ""})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedConnection(t *testing.T, s *Store, orgID, vendor string) *ConnectionAccount {
	t.Helper()
	ctx := context.Background()

	if err := s.CreateOrganization(ctx, Organization{ID: orgID, Name: orgID}); err != nil {
		t.Fatalf("CreateOrganization() error = %v", err)
	}
	integrationID, err := s.GetOrCreateIntegration(ctx, vendor, vendor)
	if err != nil {
		t.Fatalf("GetOrCreateIntegration() error = %v", err)
	}

	conn := &ConnectionAccount{
		OrganizationID: orgID,
		IntegrationID:  integrationID,
		Vendor:         vendor,
		Alias:          vendor + " connection",
	}
	if _, err := s.CreateConnection(ctx, conn); err != nil {
		t.Fatalf("CreateConnection() error = %v", err)
	}
	return conn
}

func sliceSeq[T any](items []T) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for _, item := range items {
			if !yield(item, nil) {
				return
			}
		}
	}
}

func TestReconcileInsertsUpdatesAndSoftDeletes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	registry := objects.NewRegistry(s)
	conn := seedConnection(t, s, "org-1", "slack")

	first := []fakeUser{
		{ID: "u1", Name: "Ada", Email: "ada@example.com"},
		{ID: "u2", Name: "Grace", Email: "grace@example.com"},
	}
	counts, err := Reconcile(ctx, s, registry, conn, fakeUserMapper, sliceSeq(first))
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if counts.Inserted != 2 || counts.Upserted != 0 || counts.SoftDeleted != 0 {
		t.Errorf("counts = %+v, want 2 inserted", counts)
	}

	// Second pass: u1 updated, u2 gone, u3 new.
	second := []fakeUser{
		{ID: "u1", Name: "Ada L.", Email: "ada@example.com"},
		{ID: "u3", Name: "Edsger", Email: "edsger@example.com"},
	}
	counts, err = Reconcile(ctx, s, registry, conn, fakeUserMapper, sliceSeq(second))
	if err != nil {
		t.Fatalf("Reconcile() second pass error = %v", err)
	}
	if counts.Inserted != 1 || counts.Upserted != 1 || counts.SoftDeleted != 1 {
		t.Errorf("counts = %+v, want {Upserted:1 Inserted:1 SoftDeleted:1}", counts)
	}

	typeID, err := registry.Resolve(ctx, conn.OrganizationID, objects.UserSpec)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	rows, err := s.ObjectsForConnection(ctx, conn.ID, typeID, objects.UserSpec)
	if err != nil {
		t.Fatalf("ObjectsForConnection() error = %v", err)
	}
	byKey := map[string]ObjectRow{}
	for _, row := range rows {
		byKey[row.Key] = row
	}

	if row := byKey["u1"]; row.DeletedAt != nil || row.Data["First Name"].String() != "Ada L." {
		t.Errorf("u1 = %+v, want live with updated name", row)
	}
	if row := byKey["u2"]; row.DeletedAt == nil {
		t.Error("u2 should be soft-deleted after second pass")
	}
	if row := byKey["u3"]; row.DeletedAt != nil {
		t.Error("u3 should be live")
	}
}

func TestReconcileRevivesSoftDeletedRecord(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	registry := objects.NewRegistry(s)
	conn := seedConnection(t, s, "org-1", "slack")

	user := fakeUser{ID: "u1", Name: "Ada", Email: "ada@example.com"}
	if _, err := Reconcile(ctx, s, registry, conn, fakeUserMapper, sliceSeq([]fakeUser{user})); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if _, err := Reconcile(ctx, s, registry, conn, fakeUserMapper, sliceSeq([]fakeUser{})); err != nil {
		t.Fatalf("Reconcile() empty pass error = %v", err)
	}

	counts, err := Reconcile(ctx, s, registry, conn, fakeUserMapper, sliceSeq([]fakeUser{user}))
	if err != nil {
		t.Fatalf("Reconcile() revival pass error = %v", err)
	}
	if counts.Upserted != 1 || counts.Inserted != 0 {
		t.Errorf("counts = %+v, want revival as upsert, not insert", counts)
	}

	typeID, _ := registry.Resolve(ctx, conn.OrganizationID, objects.UserSpec)
	row, err := s.FindObjectByKey(ctx, conn.ID, typeID, "u1", objects.UserSpec)
	if err != nil {
		t.Fatalf("FindObjectByKey() error = %v", err)
	}
	if row == nil || row.DeletedAt != nil {
		t.Errorf("row = %+v, want revived live record", row)
	}
}

func TestReconcileNeverTouchesManualRecords(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	registry := objects.NewRegistry(s)
	conn := seedConnection(t, s, "org-1", "slack")

	typeID, err := registry.Resolve(ctx, conn.OrganizationID, objects.UserSpec)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	manualID, err := s.InsertManualObject(ctx, typeID, objects.Record{
		"Id":         objects.Text("manual-1"),
		"First Name": objects.Text("Manual"),
	})
	if err != nil {
		t.Fatalf("InsertManualObject() error = %v", err)
	}

	// A full cleanup pass with an empty snapshot must leave the manual row.
	if _, err := Reconcile(ctx, s, registry, conn, fakeUserMapper, sliceSeq([]fakeUser{})); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	var deleted bool
	err = s.conn.QueryRowContext(ctx,
		`SELECT deleted_at IS NOT NULL FROM laika_object WHERE id = ?`, manualID).Scan(&deleted)
	if err != nil {
		t.Fatalf("query manual row: %v", err)
	}
	if deleted {
		t.Error("manual record was soft-deleted by reconciliation")
	}
}

func TestReconcileSkipsRecordsMissingKeyAttribute(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	registry := objects.NewRegistry(s)
	conn := seedConnection(t, s, "org-1", "slack")

	counts, err := Reconcile(ctx, s, registry, conn, fakeUserMapper, sliceSeq([]fakeUser{
		{ID: "", Name: "No Key", Email: "nokey@example.com"},
		{ID: "u1", Name: "Ada", Email: "ada@example.com"},
	}))
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if counts.Inserted != 1 {
		t.Errorf("Inserted = %d, want 1 (keyless record skipped)", counts.Inserted)
	}
}

func TestReconcileDuplicateKeyLastSeenWins(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	registry := objects.NewRegistry(s)
	conn := seedConnection(t, s, "org-1", "slack")

	counts, err := Reconcile(ctx, s, registry, conn, fakeUserMapper, sliceSeq([]fakeUser{
		{ID: "u1", Name: "First", Email: "a@example.com"},
		{ID: "u1", Name: "Last", Email: "a@example.com"},
	}))
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if counts.Inserted != 1 || counts.Upserted != 1 {
		t.Errorf("counts = %+v, want one insert then one overwrite", counts)
	}

	typeID, _ := registry.Resolve(ctx, conn.OrganizationID, objects.UserSpec)
	row, err := s.FindObjectByKey(ctx, conn.ID, typeID, "u1", objects.UserSpec)
	if err != nil || row == nil {
		t.Fatalf("FindObjectByKey() = %v, %v", row, err)
	}
	if got := row.Data["First Name"].String(); got != "Last" {
		t.Errorf("First Name = %q, want last-seen value", got)
	}
}

func TestReconcilePreservesPartialResultOnStreamError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	registry := objects.NewRegistry(s)
	conn := seedConnection(t, s, "org-1", "slack")

	streamErr := errors.New("provider gave up")
	broken := func(yield func(fakeUser, error) bool) {
		if !yield(fakeUser{ID: "u1", Name: "Ada"}, nil) {
			return
		}
		var zero fakeUser
		yield(zero, streamErr)
	}

	counts, err := Reconcile(ctx, s, registry, conn, fakeUserMapper, broken)
	if !errors.Is(err, streamErr) {
		t.Fatalf("Reconcile() error = %v, want stream error", err)
	}
	if counts.Inserted != 1 {
		t.Errorf("Inserted = %d, want 1 record persisted before failure", counts.Inserted)
	}

	typeID, _ := registry.Resolve(ctx, conn.OrganizationID, objects.UserSpec)
	row, err := s.FindObjectByKey(ctx, conn.ID, typeID, "u1", objects.UserSpec)
	if err != nil || row == nil {
		t.Fatalf("FindObjectByKey() = %v, %v; partial result must survive", row, err)
	}
}

func TestReconcileOneSkipsCleanup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	registry := objects.NewRegistry(s)
	conn := seedConnection(t, s, "org-1", "checkr")

	if _, err := Reconcile(ctx, s, registry, conn, fakeUserMapper, sliceSeq([]fakeUser{
		{ID: "u1", Name: "Ada", Email: "ada@example.com"},
		{ID: "u2", Name: "Grace", Email: "grace@example.com"},
	})); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	counts, err := ReconcileOne(ctx, s, registry, conn, fakeUserMapper,
		fakeUser{ID: "u1", Name: "Ada L.", Email: "ada@example.com"})
	if err != nil {
		t.Fatalf("ReconcileOne() error = %v", err)
	}
	if counts.Upserted != 1 || counts.SoftDeleted != 0 {
		t.Errorf("counts = %+v, want single upsert without cleanup", counts)
	}

	typeID, _ := registry.Resolve(ctx, conn.OrganizationID, objects.UserSpec)
	row, err := s.FindObjectByKey(ctx, conn.ID, typeID, "u2", objects.UserSpec)
	if err != nil || row == nil {
		t.Fatalf("FindObjectByKey() = %v, %v", row, err)
	}
	if row.DeletedAt != nil {
		t.Error("u2 was soft-deleted by a single-record apply")
	}
}

func TestReconcileRecordAppliesMergedPatch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	registry := objects.NewRegistry(s)
	conn := seedConnection(t, s, "org-1", "checkr")

	if _, err := ReconcileOne(ctx, s, registry, conn, fakeUserMapper,
		fakeUser{ID: "u1", Name: "Ada", Email: "ada@example.com"}); err != nil {
		t.Fatalf("ReconcileOne() error = %v", err)
	}
	typeID, err := registry.Resolve(ctx, conn.OrganizationID, objects.UserSpec)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	existing, err := s.FindObjectByKey(ctx, conn.ID, typeID, "u1", objects.UserSpec)
	if err != nil || existing == nil {
		t.Fatalf("FindObjectByKey() = %v, %v", existing, err)
	}

	// A partial event carries only the changed attribute.
	patch, err := fakeUserMapper.Map(fakeUser{ID: "u1", Email: "ada@new.example.com"}, conn.Alias)
	if err != nil {
		t.Fatalf("Map() error = %v", err)
	}
	counts, err := ReconcileRecord(ctx, s, registry, conn, fakeUserMapper,
		objects.Merge(existing.Data, patch))
	if err != nil {
		t.Fatalf("ReconcileRecord() error = %v", err)
	}
	if counts.Upserted != 1 || counts.Inserted != 0 {
		t.Errorf("counts = %+v, want single upsert", counts)
	}

	row, err := s.FindObjectByKey(ctx, conn.ID, typeID, "u1", objects.UserSpec)
	if err != nil || row == nil {
		t.Fatalf("FindObjectByKey() = %v, %v", row, err)
	}
	if got := row.Data["Email"].String(); got != "ada@new.example.com" {
		t.Errorf("Email = %q, want the patched address", got)
	}
	if got := row.Data["First Name"].String(); got != "Ada" {
		t.Errorf("First Name = %q, want the merged base value", got)
	}

	if _, err := ReconcileRecord(ctx, s, registry, conn, fakeUserMapper,
		objects.Record{"Email": objects.Text("nobody@example.com")}); err == nil {
		t.Error("ReconcileRecord() accepted a record without key attributes")
	}
}
