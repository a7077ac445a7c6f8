// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

package oauthstate

import (
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBeginAndTake(t *testing.T) {
	s := openTestStore(t)

	state, err := s.Begin(42, "checkr", time.Minute)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if state == "" {
		t.Fatal("Begin() returned empty state")
	}

	entry, err := s.Take(state)
	if err != nil {
		t.Fatalf("Take() error = %v", err)
	}
	if entry.ConnectionID != 42 || entry.Vendor != "checkr" {
		t.Errorf("entry = %+v, want connection 42 vendor checkr", entry)
	}
}

func TestTakeIsSingleUse(t *testing.T) {
	s := openTestStore(t)

	state, err := s.Begin(7, "slack", time.Minute)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if _, err := s.Take(state); err != nil {
		t.Fatalf("Take() error = %v", err)
	}
	if _, err := s.Take(state); !errors.Is(err, ErrStateNotFound) {
		t.Errorf("Take() replay error = %v, want ErrStateNotFound", err)
	}
}

func TestTakeUnknownState(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Take("never-issued"); !errors.Is(err, ErrStateNotFound) {
		t.Errorf("Take() error = %v, want ErrStateNotFound", err)
	}
}

func TestStatesAreUnique(t *testing.T) {
	s := openTestStore(t)
	first, err := s.Begin(1, "checkr", time.Minute)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	second, err := s.Begin(1, "checkr", time.Minute)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if first == second {
		t.Error("two dances produced the same state")
	}
}
