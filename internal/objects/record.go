// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

package objects

import (
	"fmt"
	"sort"

	"github.com/goccy/go-json"
)

// Record is one canonical laika-object payload: a mapping from attribute
// display name to typed value, conforming to a TypeSpec.
type Record map[string]Value

// EncodeRecord serializes a record to the JSON stored in the data column.
// Keys are emitted in sorted order so equal records encode byte-equal.
func EncodeRecord(rec Record) (json.RawMessage, error) {
	names := make([]string, 0, len(rec))
	for name := range rec {
		names = append(names, name)
	}
	sort.Strings(names)

	ordered := make(map[string]json.RawMessage, len(rec))
	for _, name := range names {
		raw, err := json.Marshal(rec[name])
		if err != nil {
			return nil, fmt.Errorf("encode attribute %q: %w", name, err)
		}
		ordered[name] = raw
	}
	return json.Marshal(ordered)
}

// DecodeRecord re-types a stored data column back into a Record using the
// spec's declared kinds. Attributes present in the data but absent from the
// spec are kept as JSON values so no provider data is dropped.
func DecodeRecord(spec TypeSpec, data json.RawMessage) (Record, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}

	rec := make(Record, len(raw))
	for name, rawValue := range raw {
		attr, declared := spec.Attribute(name)
		if !declared {
			rec[name] = Value{kind: KindJSON, raw: rawValue}
			continue
		}
		value, err := decodeValue(attr.Kind, rawValue)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", name, err)
		}
		rec[name] = value
	}
	return rec, nil
}

// Merge overlays the non-zero attributes of patch onto base and returns the
// result. Used by webhook-driven partial updates, which carry only the
// attributes the event changed; zero patch attributes keep the base value.
func Merge(base, patch Record) Record {
	merged := make(Record, len(base)+len(patch))
	for name, value := range base {
		merged[name] = value
	}
	for name, value := range patch {
		if value.IsZero() {
			continue
		}
		merged[name] = value
	}
	return merged
}
