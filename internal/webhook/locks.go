// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

package webhook

import "sync"

// keyedLocks hands out one mutex per connection id so webhook handling and
// locally triggered syncs never interleave on the same connection. The SYNC
// status guard in the store covers other processes.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[int64]*sync.Mutex)}
}

func (k *keyedLocks) lock(id int64) func() {
	k.mu.Lock()
	m, ok := k.locks[id]
	if !ok {
		m = &sync.Mutex{}
		k.locks[id] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
