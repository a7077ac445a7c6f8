// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

// Package supervisor runs the engine's long-lived services under a suture v4
// tree. The ingest layer (HTTP surface) and the delivery layer (alert bus)
// restart independently so a crashing webhook handler cannot take the alert
// pipeline down with it.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig tunes restart behavior; zero values take suture's defaults.
type TreeConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

// Tree is the two-layer supervision tree.
type Tree struct {
	root     *suture.Supervisor
	ingest   *suture.Supervisor
	delivery *suture.Supervisor
}

// NewTree builds the tree with sutureslog relaying supervisor events into
// the process log.
func NewTree(logger *slog.Logger, cfg TreeConfig) *Tree {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = 30
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = 15 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	handler := &sutureslog.Handler{Logger: logger}
	rootSpec := suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}

	root := suture.New("laika-sync", rootSpec)
	ingest := suture.New("ingest", childSpec)
	delivery := suture.New("delivery", childSpec)
	root.Add(ingest)
	root.Add(delivery)

	return &Tree{root: root, ingest: ingest, delivery: delivery}
}

// AddIngestService supervises an inbound-facing service (the HTTP surface).
func (t *Tree) AddIngestService(svc suture.Service) suture.ServiceToken {
	return t.ingest.Add(svc)
}

// AddDeliveryService supervises an outbound-facing service (alert delivery).
func (t *Tree) AddDeliveryService(svc suture.Service) suture.ServiceToken {
	return t.delivery.Add(svc)
}

// Serve blocks until the context is cancelled and all services drained.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServiceFunc adapts a plain function to suture.Service.
type ServiceFunc func(ctx context.Context) error

func (f ServiceFunc) Serve(ctx context.Context) error { return f(ctx) }
