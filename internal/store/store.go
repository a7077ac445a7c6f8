// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

// Package store persists the sync engine's state in DuckDB: organizations and
// their users, integrations and versions, connection accounts, the laika
// object corpus, emitted alerts, and the error catalogue. It also implements
// the generic reconciliation algorithm that converges provider snapshots into
// laika objects.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/heylaika/laika-sync/internal/config"
	"github.com/heylaika/laika-sync/internal/logging"
)

// Store wraps the DuckDB connection and provides data access methods.
type Store struct {
	conn *sql.DB
}

// Open creates the database connection, initializes the schema, and seeds the
// error catalogue. An empty path opens an in-memory database.
func Open(cfg config.DatabaseConfig) (*Store, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	connStr := ""
	if cfg.Path != "" {
		// Ensure the parent directory exists for file-backed databases.
		dbDir := filepath.Dir(cfg.Path)
		if dbDir != "" && dbDir != "." {
			if err := os.MkdirAll(dbDir, 0o750); err != nil {
				return nil, fmt.Errorf("create database directory %s: %w", dbDir, err)
			}
		}
		connStr = fmt.Sprintf("%s?access_mode=read_write&threads=%d", cfg.Path, numThreads)
	}

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// DuckDB is embedded; a single connection avoids write contention.
	conn.SetMaxOpenConns(1)

	s := &Store{conn: conn}
	if err := s.createSchema(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	if err := s.seedErrorCatalogue(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("seed error catalogue: %w", err)
	}

	logging.Info().Str("path", cfg.Path).Msg("Store opened")
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// schemaContext bounds schema operations.
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

func (s *Store) createSchema() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, query := range schemaStatements {
		if _, err := s.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("execute schema statement: %s: %w", query, err)
		}
	}
	return nil
}
