// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

// Package oauthstate correlates OAuth callbacks with the connection account
// that initiated the dance. States are single-use, TTL-bound entries in an
// embedded Badger store so they survive restarts mid-dance.
package oauthstate

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/heylaika/laika-sync/internal/logging"
)

var (
	// ErrStateNotFound is returned for unknown, expired, or replayed states.
	ErrStateNotFound = errors.New("oauth state not found")
)

// DefaultTTL bounds how long a user may sit on the vendor's consent screen.
const DefaultTTL = 30 * time.Minute

const keyPrefix = "oauthstate:"

// Store persists pending OAuth states.
type Store struct {
	db *badger.DB
}

// Open creates the store at path. An empty path keeps the store in memory,
// which tests use.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	if path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open oauth state store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying store.
func (s *Store) Close() error {
	return s.db.Close()
}

// Entry is a pending OAuth dance.
type Entry struct {
	ConnectionID int64
	Vendor       string
}

// Begin generates a fresh random state for the connection and stores it with
// the TTL. The returned state goes into the vendor's authorize URL and into
// the connection's control column.
func (s *Store) Begin(connectionID int64, vendor string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate oauth state: %w", err)
	}
	state := base64.RawURLEncoding.EncodeToString(raw)

	value := make([]byte, 8+len(vendor))
	binary.BigEndian.PutUint64(value[:8], uint64(connectionID))
	copy(value[8:], vendor)

	err := s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(keyPrefix+state), value).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return "", fmt.Errorf("store oauth state: %w", err)
	}

	logging.Debug().Str("vendor", vendor).Int64("connection_id", connectionID).Msg("OAuth state issued")
	return state, nil
}

// Take resolves and consumes a state. A second Take of the same state fails
// with ErrStateNotFound, so callbacks cannot be replayed.
func (s *Store) Take(state string) (Entry, error) {
	var entry Entry
	key := []byte(keyPrefix + state)

	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrStateNotFound
		}
		if err != nil {
			return fmt.Errorf("read oauth state: %w", err)
		}

		err = item.Value(func(value []byte) error {
			if len(value) < 8 {
				return ErrStateNotFound
			}
			entry.ConnectionID = int64(binary.BigEndian.Uint64(value[:8]))
			entry.Vendor = string(value[8:])
			return nil
		})
		if err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}
