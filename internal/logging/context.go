// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Context keys for logging.
type contextKey string

const (
	// vendorKey is the context key for the integration vendor name.
	vendorKey contextKey = "vendor"

	// connectionIDKey is the context key for the connection account id.
	connectionIDKey contextKey = "connection_id"

	// requestIDKey is the context key for inbound HTTP request IDs.
	requestIDKey contextKey = "request_id"
)

// GenerateRequestID creates a new unique request ID for inbound webhook and
// callback requests.
func GenerateRequestID() string {
	return uuid.New().String()
}

// WithSync returns a context scoped to one sync attempt. Every log line
// emitted via Ctx during the attempt carries the vendor and connection id.
func WithSync(ctx context.Context, vendor string, connectionID int64) context.Context {
	ctx = context.WithValue(ctx, vendorKey, vendor)
	return context.WithValue(ctx, connectionIDKey, connectionID)
}

// VendorFromContext retrieves the vendor name from context.
// Returns empty string if not present.
func VendorFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(vendorKey).(string); ok {
		return v
	}
	return ""
}

// ConnectionIDFromContext retrieves the connection account id from context.
// Returns 0 if not present.
func ConnectionIDFromContext(ctx context.Context) int64 {
	if id, ok := ctx.Value(connectionIDKey).(int64); ok {
		return id
	}
	return 0
}

// ContextWithRequestID returns a new context with the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if not present.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// Ctx returns a logger with context values (vendor, connection_id, request_id)
// automatically added. This is the recommended way to log inside adapters,
// the HTTP client, and the reconciliation store.
//
//	logging.Ctx(ctx).Info().Msg("Fetching page")
//	// {"level":"info","vendor":"github","connection_id":42,"message":"Fetching page"}
func Ctx(ctx context.Context) *zerolog.Logger {
	logCtx := CtxWith(ctx)
	logger := logCtx.Logger()
	return &logger
}

// CtxWith returns a logger context builder with context values pre-populated.
// Use this when additional default fields are needed beyond the sync scope.
//
//	logger := logging.CtxWith(ctx).Str("object_type", spec.Name).Logger()
func CtxWith(ctx context.Context) zerolog.Context {
	logCtx := Logger().With()

	if vendor := VendorFromContext(ctx); vendor != "" {
		logCtx = logCtx.Str("vendor", vendor)
	}
	if connID := ConnectionIDFromContext(ctx); connID != 0 {
		logCtx = logCtx.Int64("connection_id", connID)
	}
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		logCtx = logCtx.Str("request_id", requestID)
	}

	return logCtx
}
