// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

package integration

import (
	"context"
	"fmt"
	"sync"

	"github.com/heylaika/laika-sync/internal/alerts"
	"github.com/heylaika/laika-sync/internal/config"
	"github.com/heylaika/laika-sync/internal/httpclient"
	"github.com/heylaika/laika-sync/internal/objects"
	"github.com/heylaika/laika-sync/internal/store"
	"github.com/heylaika/laika-sync/internal/vault"
)

// Session bundles everything an adapter needs for one attempt against one
// connection.
type Session struct {
	Store      *store.Store
	Registry   *objects.Registry
	Vault      *vault.Vault
	Alerts     *alerts.Emitter
	Client     *httpclient.Client
	Connection *store.ConnectionAccount
	Vendor     config.VendorConfig

	mu     sync.Mutex
	counts map[string]store.Counts
}

// AddCounts folds one reconciliation pass into the attempt's accounting,
// keyed by the laika object type the pass reconciled.
func (s *Session) AddCounts(entity string, c store.Counts) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts == nil {
		s.counts = make(map[string]store.Counts)
	}
	total := s.counts[entity]
	total.Add(c)
	s.counts[entity] = total
}

// Counts returns the attempt's record counts per laika object type.
func (s *Session) Counts() map[string]store.Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]store.Counts, len(s.counts))
	for entity, c := range s.counts {
		out[entity] = c
	}
	return out
}

// TotalCounts sums the attempt's counts across all object types.
func (s *Session) TotalCounts() store.Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total store.Counts
	for _, c := range s.counts {
		total.Add(c)
	}
	return total
}

// Token decrypts a field of the connection's authentication container.
// A value stored before encryption was introduced is re-encrypted in place.
func (s *Session) Token(ctx context.Context, key string) (string, error) {
	plaintext, err := s.Vault.GetOrReencrypt(s.Connection.Authentication, key,
		func(container map[string]string) error {
			return s.Store.SaveAuthentication(ctx, s.Connection.ID, container)
		})
	if err != nil {
		return "", fmt.Errorf("read %s token: %w", s.Connection.Vendor, err)
	}
	return plaintext, nil
}

// SaveToken encrypts and persists one authentication field.
func (s *Session) SaveToken(ctx context.Context, key, plaintext string) error {
	ciphertext, err := s.Vault.Encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("encrypt %s token: %w", s.Connection.Vendor, err)
	}
	if s.Connection.Authentication == nil {
		s.Connection.Authentication = map[string]string{}
	}
	s.Connection.Authentication[key] = ciphertext
	return s.Store.SaveAuthentication(ctx, s.Connection.ID, s.Connection.Authentication)
}

// Credential decrypts an encrypted field stored in the configuration state's
// credentials container (service-account files, API keys the user pasted).
func (s *Session) Credential(ctx context.Context, key string) (string, error) {
	raw, ok := s.Connection.ConfigurationState["credentials"].(map[string]any)
	if !ok {
		return "", fmt.Errorf("read %s credential: %w", s.Connection.Vendor, vault.ErrFieldMissing)
	}
	container := make(map[string]string, len(raw))
	for name, value := range raw {
		if text, ok := value.(string); ok {
			container[name] = text
		}
	}

	plaintext, err := s.Vault.GetOrReencrypt(container, key,
		func(updated map[string]string) error {
			persisted := make(map[string]any, len(updated))
			for name, value := range updated {
				persisted[name] = value
			}
			s.Connection.ConfigurationState["credentials"] = persisted
			return s.Store.SaveConfigurationState(ctx, s.Connection.ID, s.Connection.ConfigurationState)
		})
	if err != nil {
		return "", fmt.Errorf("read %s credential: %w", s.Connection.Vendor, err)
	}
	return plaintext, nil
}
