// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

package objects

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValue_Kinds(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	cases := []struct {
		name string
		v    Value
		kind Kind
		str  string
	}{
		{"text", Text("hello"), KindText, "hello"},
		{"bool", Boolean(true), KindBoolean, "true"},
		{"number", Number(51), KindNumber, "51"},
		{"date", Date(now), KindDate, "2026-03-14T09:26:53Z"},
		{"user", UserRef("jo@example.com"), KindUser, "jo@example.com"},
		{"select", SingleSelect("Clear"), KindSingleSelect, "Clear"},
	}
	for _, tc := range cases {
		if tc.v.Kind() != tc.kind {
			t.Errorf("%s: Kind = %s, want %s", tc.name, tc.v.Kind(), tc.kind)
		}
		if tc.v.String() != tc.str {
			t.Errorf("%s: String = %q, want %q", tc.name, tc.v.String(), tc.str)
		}
	}
}

func TestEncodeDecodeRecord_RoundTrip(t *testing.T) {
	rec := Record{
		"Id":         Text("cand-1"),
		"Status":     SingleSelect("Pending"),
		"Is Admin":   Boolean(false),
		"Amount":     Number(12.5),
		"Date":       Date(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)),
		"Extra Blob": JSONValue(map[string]any{"nested": true}),
	}

	spec := TypeSpec{
		Name: "mixed",
		Attributes: []Attribute{
			{Name: "Id", Kind: KindText},
			{Name: "Status", Kind: KindSingleSelect},
			{Name: "Is Admin", Kind: KindBoolean},
			{Name: "Amount", Kind: KindNumber},
			{Name: "Date", Kind: KindDate},
			{Name: "Extra Blob", Kind: KindJSON},
		},
	}

	encoded, err := EncodeRecord(rec)
	if err != nil {
		t.Fatalf("EncodeRecord: %v", err)
	}

	decoded, err := DecodeRecord(spec, encoded)
	if err != nil {
		t.Fatalf("DecodeRecord: %v", err)
	}

	if decoded["Id"].String() != "cand-1" {
		t.Errorf("Id = %q", decoded["Id"].String())
	}
	if decoded["Status"].String() != "Pending" {
		t.Errorf("Status = %q", decoded["Status"].String())
	}
	if decoded["Is Admin"].Bool() {
		t.Error("Is Admin should be false")
	}
	if decoded["Amount"].Float() != 12.5 {
		t.Errorf("Amount = %v", decoded["Amount"].Float())
	}
	if !decoded["Date"].Time().Equal(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Date = %v", decoded["Date"].Time())
	}
}

func TestEncodeRecord_Deterministic(t *testing.T) {
	rec := Record{"B": Text("2"), "A": Text("1"), "C": Text("3")}
	a, err := EncodeRecord(rec)
	if err != nil {
		t.Fatalf("EncodeRecord: %v", err)
	}
	b, _ := EncodeRecord(rec)
	if string(a) != string(b) {
		t.Error("Expected deterministic encoding for equal records")
	}
}

func TestDecodeRecord_UndeclaredAttributeKept(t *testing.T) {
	spec := TypeSpec{Name: "narrow", Attributes: []Attribute{{Name: "Id", Kind: KindText}}}
	data := []byte(`{"Id":"x","Legacy Field":{"a":1}}`)

	rec, err := DecodeRecord(spec, data)
	if err != nil {
		t.Fatalf("DecodeRecord: %v", err)
	}
	if rec["Legacy Field"].Kind() != KindJSON {
		t.Errorf("Undeclared attribute kind = %s, want JSON", rec["Legacy Field"].Kind())
	}
}

func TestMerge_PatchWins(t *testing.T) {
	base := Record{
		"Status":     SingleSelect("Pending"),
		"Id":         Text("1"),
		"First Name": Text("Robin"),
	}
	patch := Record{
		"Status":        SingleSelect("Clear"),
		"People Status": SingleSelect("passed"),
		"First Name":    Text(""),
	}

	merged := Merge(base, patch)
	if merged["Status"].String() != "Clear" {
		t.Errorf("Status = %q, want Clear", merged["Status"].String())
	}
	if merged["Id"].String() != "1" {
		t.Error("Expected base attribute to survive merge")
	}
	if merged["People Status"].String() != "passed" {
		t.Error("Expected patch-only attribute to appear")
	}
	if merged["First Name"].String() != "Robin" {
		t.Error("Zero patch attribute must keep the base value")
	}
	// Base untouched.
	if base["Status"].String() != "Pending" {
		t.Error("Merge must not mutate base")
	}
}

func TestCatalogue_SpecsWellFormed(t *testing.T) {
	for name, spec := range Catalogue {
		if spec.Name != name {
			t.Errorf("Catalogue key %q maps to spec named %q", name, spec.Name)
		}
		if len(spec.Attributes) == 0 {
			t.Errorf("Spec %q has no attributes", name)
		}
		seen := map[string]bool{}
		for _, attr := range spec.Attributes {
			if seen[attr.Name] {
				t.Errorf("Spec %q declares attribute %q twice", name, attr.Name)
			}
			seen[attr.Name] = true
			if attr.Kind == "" {
				t.Errorf("Spec %q attribute %q has no kind", name, attr.Name)
			}
		}
	}
}

// fakePersistence counts materializations per (org, type).
type fakePersistence struct {
	calls  int
	nextID int64
	fail   bool
}

func (f *fakePersistence) GetOrCreateObjectType(_ context.Context, _, _ string, _ []Attribute) (int64, error) {
	if f.fail {
		return 0, errors.New("db down")
	}
	f.calls++
	f.nextID++
	return f.nextID, nil
}

func TestRegistry_ResolveIdempotent(t *testing.T) {
	p := &fakePersistence{}
	r := NewRegistry(p)
	ctx := context.Background()

	first, err := r.Resolve(ctx, "org-1", UserSpec)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	second, err := r.Resolve(ctx, "org-1", UserSpec)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if first != second {
		t.Errorf("Resolve returned %d then %d for same pair", first, second)
	}
	if p.calls != 1 {
		t.Errorf("Expected a single materialization, got %d", p.calls)
	}

	// Different org materializes separately.
	other, err := r.Resolve(ctx, "org-2", UserSpec)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if other == first {
		t.Error("Expected distinct ids per organization")
	}
}

func TestRegistry_PersistenceErrorNotCached(t *testing.T) {
	p := &fakePersistence{fail: true}
	r := NewRegistry(p)

	_, err := r.Resolve(context.Background(), "org-1", DeviceSpec)
	if err == nil || !strings.Contains(err.Error(), "resolve object type") {
		t.Fatalf("Expected wrapped resolve error, got %v", err)
	}

	p.fail = false
	if _, err := r.Resolve(context.Background(), "org-1", DeviceSpec); err != nil {
		t.Errorf("Expected recovery after persistence error, got %v", err)
	}
}
