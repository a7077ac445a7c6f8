// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

package objects

import (
	"context"
	"fmt"
	"sync"
)

// TypePersistence is the store-side contract the registry materializes
// object types through. Implemented by internal/store.
type TypePersistence interface {
	// GetOrCreateObjectType returns the id of the (organization, type name)
	// row, creating it with the given attributes on first use.
	GetOrCreateObjectType(ctx context.Context, organizationID, typeName string, attributes []Attribute) (int64, error)
}

// Registry resolves canonical type specs to per-organization object type ids.
// Resolution is idempotent: the first call for a (organization, type name)
// pair materializes the row, later calls hit the in-memory cache.
type Registry struct {
	persistence TypePersistence

	mu    sync.RWMutex
	cache map[registryKey]int64
}

type registryKey struct {
	organizationID string
	typeName       string
}

// NewRegistry creates a registry backed by the given persistence.
func NewRegistry(persistence TypePersistence) *Registry {
	return &Registry{
		persistence: persistence,
		cache:       make(map[registryKey]int64),
	}
}

// Resolve returns the object type id for the spec within the organization,
// creating the type on first use.
func (r *Registry) Resolve(ctx context.Context, organizationID string, spec TypeSpec) (int64, error) {
	key := registryKey{organizationID: organizationID, typeName: spec.Name}

	r.mu.RLock()
	id, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return id, nil
	}

	id, err := r.persistence.GetOrCreateObjectType(ctx, organizationID, spec.Name, spec.Attributes)
	if err != nil {
		return 0, fmt.Errorf("resolve object type %s: %w", spec.Name, err)
	}

	r.mu.Lock()
	r.cache[key] = id
	r.mu.Unlock()
	return id, nil
}
