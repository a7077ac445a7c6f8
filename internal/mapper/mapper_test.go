// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

package mapper

import (
	"testing"

	"github.com/heylaika/laika-sync/internal/objects"
)

func TestProjectKey_SingleAttribute(t *testing.T) {
	rec := objects.Record{"Id": objects.Text("42"), "Email": objects.Text("a@b.c")}

	key, ok := ProjectKey(rec, []string{"Id"})
	if !ok {
		t.Fatal("Expected key projection to succeed")
	}
	if key != "42" {
		t.Errorf("key = %q, want %q", key, "42")
	}
}

func TestProjectKey_Composite(t *testing.T) {
	rec := objects.Record{
		"Key":        objects.Text("PR-7"),
		"Repository": objects.Text("laika-sync"),
	}

	key, ok := ProjectKey(rec, []string{"Repository", "Key"})
	if !ok {
		t.Fatal("Expected key projection to succeed")
	}
	// Composite keys are order-sensitive and separator-delimited.
	other, _ := ProjectKey(rec, []string{"Key", "Repository"})
	if key == other {
		t.Error("Expected different attribute order to yield a different key")
	}
}

func TestProjectKey_MissingAttribute(t *testing.T) {
	rec := objects.Record{"Email": objects.Text("a@b.c")}
	if _, ok := ProjectKey(rec, []string{"Id"}); ok {
		t.Error("Expected projection to fail when a key attribute is absent")
	}
}

func TestProjectKey_EmptyAttribute(t *testing.T) {
	rec := objects.Record{"Id": objects.Text("")}
	if _, ok := ProjectKey(rec, []string{"Id"}); ok {
		t.Error("Expected projection to fail when a key attribute is empty")
	}
}

func TestMapper_KeyDeterminism(t *testing.T) {
	m := Mapper[map[string]string]{
		Map: func(raw map[string]string, alias string) (objects.Record, error) {
			return objects.Record{
				"Id":              objects.Text(raw["id"]),
				"Email":           objects.Text(raw["email"]),
				"Connection Name": objects.Text(alias),
			}, nil
		},
		Keys: []string{"Id"},
		Spec: objects.UserSpec,
	}

	raw := map[string]string{"id": "u-1", "email": "u@example.com"}
	recA, err := m.Map(raw, "alias-a")
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	recB, _ := m.Map(raw, "alias-b")

	keyA, _ := m.Key(recA)
	keyB, _ := m.Key(recB)
	if keyA != keyB {
		t.Errorf("Key depends on connection alias: %q vs %q", keyA, keyB)
	}
}
