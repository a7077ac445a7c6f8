// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

package objects

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// Value is the tagged sum over the attribute kinds. Mapper outputs are built
// from the kind constructors below; values serialize to the JSON shape stored
// in the laika_object data column.
type Value struct {
	kind    Kind
	text    string
	boolean bool
	number  float64
	date    time.Time
	raw     json.RawMessage
}

// Text builds a TEXT value.
func Text(s string) Value { return Value{kind: KindText, text: s} }

// Boolean builds a BOOLEAN value.
func Boolean(b bool) Value { return Value{kind: KindBoolean, boolean: b} }

// Number builds a NUMBER value.
func Number(f float64) Value { return Value{kind: KindNumber, number: f} }

// Date builds a DATE value.
func Date(t time.Time) Value { return Value{kind: KindDate, date: t} }

// UserRef builds a USER value holding the referenced user's email or name.
func UserRef(s string) Value { return Value{kind: KindUser, text: s} }

// SingleSelect builds a SINGLE_SELECT value.
func SingleSelect(s string) Value { return Value{kind: KindSingleSelect, text: s} }

// JSONValue builds a JSON value from any marshalable payload.
func JSONValue(v any) Value {
	raw, err := json.Marshal(v)
	if err != nil {
		// A mapper handing us an unmarshalable value is a programming error;
		// store the error string rather than dropping the attribute silently.
		raw, _ = json.Marshal(fmt.Sprintf("marshal error: %v", err))
	}
	return Value{kind: KindJSON, raw: raw}
}

// Kind returns the value's kind tag.
func (v Value) Kind() Kind { return v.kind }

// String returns the textual content for TEXT, USER, and SINGLE_SELECT
// values, and a formatted rendering for the other kinds.
func (v Value) String() string {
	switch v.kind {
	case KindText, KindUser, KindSingleSelect:
		return v.text
	case KindBoolean:
		return strconv.FormatBool(v.boolean)
	case KindNumber:
		return strconv.FormatFloat(v.number, 'f', -1, 64)
	case KindDate:
		if v.date.IsZero() {
			return ""
		}
		return v.date.UTC().Format(time.RFC3339)
	case KindJSON:
		return string(v.raw)
	}
	return ""
}

// Bool returns the boolean content of a BOOLEAN value.
func (v Value) Bool() bool { return v.boolean }

// Float returns the numeric content of a NUMBER value.
func (v Value) Float() float64 { return v.number }

// Time returns the time content of a DATE value.
func (v Value) Time() time.Time { return v.date }

// IsZero reports whether the value carries no content for its kind.
func (v Value) IsZero() bool {
	switch v.kind {
	case KindText, KindUser, KindSingleSelect:
		return v.text == ""
	case KindDate:
		return v.date.IsZero()
	case KindJSON:
		return len(v.raw) == 0 || string(v.raw) == "null"
	case "":
		return true
	}
	return false
}

// MarshalJSON writes the value in its wire shape: plain string for textual
// kinds, native bool/number, RFC3339 for dates, raw payload for JSON.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindText, KindUser, KindSingleSelect:
		return json.Marshal(v.text)
	case KindBoolean:
		return json.Marshal(v.boolean)
	case KindNumber:
		return json.Marshal(v.number)
	case KindDate:
		if v.date.IsZero() {
			return json.Marshal(nil)
		}
		return json.Marshal(v.date.UTC().Format(time.RFC3339))
	case KindJSON:
		if len(v.raw) == 0 {
			return []byte("null"), nil
		}
		return v.raw, nil
	}
	return json.Marshal(nil)
}

// decodeValue re-types a raw JSON value according to the declared kind.
// Used when reading records back out of the store.
func decodeValue(kind Kind, raw json.RawMessage) (Value, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return Value{kind: kind}, nil
	}
	switch kind {
	case KindText, KindUser, KindSingleSelect:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Value{}, fmt.Errorf("decode %s value: %w", kind, err)
		}
		return Value{kind: kind, text: s}, nil
	case KindBoolean:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return Value{}, fmt.Errorf("decode BOOLEAN value: %w", err)
		}
		return Boolean(b), nil
	case KindNumber:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return Value{}, fmt.Errorf("decode NUMBER value: %w", err)
		}
		return Number(f), nil
	case KindDate:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Value{}, fmt.Errorf("decode DATE value: %w", err)
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return Value{}, fmt.Errorf("parse DATE value: %w", err)
		}
		return Date(t), nil
	case KindJSON:
		return Value{kind: KindJSON, raw: raw}, nil
	}
	return Value{}, fmt.Errorf("unknown attribute kind %q", kind)
}
