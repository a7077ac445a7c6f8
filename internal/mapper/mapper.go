// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

// Package mapper bridges raw provider payloads to canonical records. A mapper
// is a pure map function plus the key attributes that identify a record and
// the type spec the output conforms to.
package mapper

import (
	"strings"

	"github.com/heylaika/laika-sync/internal/objects"
)

// Mapper converts raw provider entities of type T into canonical records.
// Map must be pure: the same raw input yields the same record regardless of
// invocation order. Keys names the display-name attributes whose values form
// the reconciliation key.
type Mapper[T any] struct {
	Map  func(raw T, connectionAlias string) (objects.Record, error)
	Keys []string
	Spec objects.TypeSpec
}

// keySeparator joins projected key values. Unit separator keeps composite
// keys unambiguous for any printable attribute content.
const keySeparator = "\x1f"

// ProjectKey projects the key attributes out of a canonical record. The
// second return is false when any key attribute is missing or empty, in
// which case the record must be skipped by reconciliation.
func ProjectKey(rec objects.Record, keys []string) (string, bool) {
	parts := make([]string, 0, len(keys))
	for _, name := range keys {
		value, ok := rec[name]
		if !ok || value.IsZero() {
			return "", false
		}
		parts = append(parts, value.String())
	}
	return strings.Join(parts, keySeparator), true
}

// Key projects the mapper's own key attributes out of a record.
func (m Mapper[T]) Key(rec objects.Record) (string, bool) {
	return ProjectKey(rec, m.Keys)
}
