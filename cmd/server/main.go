// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

// Package main boots the sync engine: configuration, the encrypted secret
// vault, the DuckDB reconciliation store, the BadgerDB OAuth state store,
// the optional NATS alert publisher, and the supervised HTTP surface for
// OAuth callbacks and vendor webhooks.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/heylaika/laika-sync/internal/alerts"
	"github.com/heylaika/laika-sync/internal/config"
	"github.com/heylaika/laika-sync/internal/connection"
	"github.com/heylaika/laika-sync/internal/logging"
	"github.com/heylaika/laika-sync/internal/oauthstate"
	"github.com/heylaika/laika-sync/internal/objects"
	"github.com/heylaika/laika-sync/internal/providers"
	"github.com/heylaika/laika-sync/internal/store"
	"github.com/heylaika/laika-sync/internal/supervisor"
	"github.com/heylaika/laika-sync/internal/vault"
	"github.com/heylaika/laika-sync/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})
	logging.Info().Str("addr", cfg.Server.Addr).Msg("Starting laika-sync")

	v, err := vault.New(vault.Config{MasterKey: cfg.Encryption.Key})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize secret vault")
	}

	s, err := store.Open(cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open store")
	}
	defer func() {
		if err := s.Close(); err != nil {
			logging.Error().Err(err).Msg("Store close failed")
		}
	}()

	states, err := oauthstate.Open(cfg.State.Path)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open OAuth state store")
	}
	defer func() {
		if err := states.Close(); err != nil {
			logging.Error().Err(err).Msg("OAuth state store close failed")
		}
	}()

	var publisher *alerts.Publisher
	if cfg.Alerts.NATSEnabled {
		publisher, err = alerts.NewNATSPublisher(alerts.NATSConfig{
			URL: cfg.Alerts.NATSURL,
		}, watermill.NewStdLogger(false, false))
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to connect alert publisher")
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				logging.Error().Err(err).Msg("Alert publisher close failed")
			}
		}()
		logging.Info().Str("url", cfg.Alerts.NATSURL).Msg("Alert delivery via NATS enabled")
	} else {
		logging.Info().Msg("Alert delivery bus disabled, alerts persist to store only")
	}

	adapters := providers.Registry()
	emitter := alerts.NewEmitter(s, publisher, cfg.Alerts.Topic)
	runner := connection.NewRunner(s, objects.NewRegistry(s), v, emitter, adapters, cfg)
	server := webhook.NewServer(cfg, s, runner, states, adapters)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddIngestService(supervisor.ServiceFunc(server.Serve))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logging.Error().Err(err).Msg("Supervisor exited")
		os.Exit(1)
	}
	logging.Info().Msg("Shutdown complete")
}
