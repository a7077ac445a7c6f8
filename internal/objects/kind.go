// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

// Package objects defines the canonical record shape every provider entity is
// normalized into: attribute kinds, the tagged Value type, schema-declared
// type specs, and the per-organization object type registry.
package objects

// Kind enumerates the attribute kinds a canonical type may declare.
type Kind string

const (
	KindText         Kind = "TEXT"
	KindBoolean      Kind = "BOOLEAN"
	KindNumber       Kind = "NUMBER"
	KindDate         Kind = "DATE"
	KindUser         Kind = "USER"
	KindSingleSelect Kind = "SINGLE_SELECT"
	KindJSON         Kind = "JSON"
)

// Attribute declares one named, typed attribute of a canonical type.
// Name is the display name mapper outputs must use verbatim.
type Attribute struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

// TypeSpec names a canonical type and declares its ordered attributes.
// The global catalogue in catalogue.go holds one spec per canonical type;
// the registry materializes one ObjectType row per (organization, type name).
type TypeSpec struct {
	Name       string
	Attributes []Attribute
}

// Attribute returns the declared attribute with the given display name.
func (s TypeSpec) Attribute(name string) (Attribute, bool) {
	for _, attr := range s.Attributes {
		if attr.Name == name {
			return attr, true
		}
	}
	return Attribute{}, false
}
