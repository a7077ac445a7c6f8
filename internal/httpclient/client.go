// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

// Package httpclient is the single outbound HTTP path for provider adapters.
// Every call is logged with its sync scope, retried on the transient set with
// exponential backoff, slowed down on HTTP 429 per the vendor's Retry-After
// hint, optionally guarded by a circuit breaker, and translated into the
// connection error taxonomy when it terminally fails.
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/heylaika/laika-sync/internal/errcode"
	"github.com/heylaika/laika-sync/internal/logging"
	"github.com/heylaika/laika-sync/internal/metrics"
)

// Transport errors surfaced to the retry loop.
var (
	// ErrRateLimited is returned when HTTP 429 persists past the retry budget.
	ErrRateLimited = errors.New("provider rate limit exceeded")

	// ErrCircuitOpen is returned while the provider circuit breaker is open.
	ErrCircuitOpen = errors.New("provider circuit open")
)

// Request describes one outbound call.
type Request struct {
	Method string
	URL    string
	Query  url.Values
	Header http.Header

	// JSONBody is marshaled into the request body when non-nil.
	JSONBody any

	// FormBody is form-encoded into the request body when non-nil.
	// Used by OAuth token exchanges.
	FormBody url.Values

	// ExpirationAware selects EXPIRED_TOKEN over BAD_CLIENT_CREDENTIALS for
	// 401 responses; set it on calls made with a refreshable token.
	ExpirationAware bool

	// Timeout overrides the client's per-request timeout when positive.
	Timeout time.Duration
}

// Response is a fully-read provider response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the response body into out.
func (r *Response) Decode(out any) error {
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Config tunes one provider client.
type Config struct {
	// Vendor names the provider in logs and metrics.
	Vendor string

	// RequestTimeout bounds a single request (default 30s).
	RequestTimeout time.Duration

	// RetryAttempts bounds retries of the transient set (default 3).
	RetryAttempts int

	// RetryDelay is the initial backoff delay, doubling per attempt
	// (default 1s).
	RetryDelay time.Duration

	// RatePerSecond enables client-side request pacing when positive.
	RatePerSecond float64

	// BreakerEnabled wraps calls in a circuit breaker.
	BreakerEnabled bool

	// Transport overrides the underlying RoundTripper, mainly for tests.
	Transport http.RoundTripper
}

// Client executes requests against one provider.
type Client struct {
	vendor  string
	http    *http.Client
	cfg     Config
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*http.Response]
}

// New creates a provider client.
func New(cfg Config) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	c := &Client{
		vendor: cfg.Vendor,
		cfg:    cfg,
		http: &http.Client{
			Transport: cfg.Transport,
		},
	}

	if cfg.RatePerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}

	if cfg.BreakerEnabled {
		c.breaker = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
			Name: cfg.Vendor,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 10 && failureRate >= 0.6
			},
			Timeout: 60 * time.Second,
		})
	}

	return c
}

// Do executes the request with retry, rate-limit handling, and error
// translation. Terminal failures are *errcode.ConfigurationError values
// carrying the taxonomy code.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	var lastErr error
	delay := c.cfg.RetryDelay

	for attempt := 0; attempt < c.cfg.RetryAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, c.translateContextErr(ctx)
		}

		resp, retryable, err := c.doOnce(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err

		if attempt < c.cfg.RetryAttempts-1 {
			metrics.ProviderRetries.WithLabelValues(c.vendor, retryReason(err)).Inc()
			logging.Ctx(ctx).Warn().Err(err).Int("attempt", attempt+1).Int("max_attempts", c.cfg.RetryAttempts).Dur("delay", delay).Msg("Retrying provider request")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, c.translateContextErr(ctx)
			}
			delay *= 2
		}
	}

	return nil, c.translateExhausted(lastErr)
}

// doOnce executes a single attempt. The bool reports whether the error is
// retryable.
func (c *Client) doOnce(ctx context.Context, req Request) (*Response, bool, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, false, c.translateContextErr(ctx)
		}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.cfg.RequestTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := c.buildRequest(reqCtx, req)
	if err != nil {
		return nil, false, err
	}

	start := time.Now()
	httpResp, err := c.roundTrip(httpReq)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return nil, false, errcode.NewConfigurationError(errcode.ProviderServerError, "provider circuit open", "")
		}
		c.logCall(ctx, req, 0, elapsed, err)
		metrics.ProviderRequests.WithLabelValues(c.vendor, "transport_error").Inc()
		if isTimeout(err) {
			return nil, true, fmt.Errorf("request timed out: %w", err)
		}
		if isTransient(err) {
			return nil, true, fmt.Errorf("transient transport error: %w", err)
		}
		return nil, false, errcode.NewConfigurationError(errcode.Other, fmt.Sprintf("request failed: %v", err), "")
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read response body: %w", err)
	}

	c.logCall(ctx, req, httpResp.StatusCode, elapsed, nil)
	metrics.ProviderRequests.WithLabelValues(c.vendor, strconv.Itoa(httpResp.StatusCode)).Inc()
	metrics.ProviderRequestDuration.WithLabelValues(c.vendor).Observe(elapsed.Seconds())

	resp := &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: body}

	switch {
	case httpResp.StatusCode < 400:
		return resp, false, nil

	case httpResp.StatusCode == http.StatusTooManyRequests:
		hint := retryAfterHint(resp)
		logging.Ctx(ctx).Warn().Dur("retry_after", hint).Msg("Provider rate limited (HTTP 429)")
		select {
		case <-time.After(hint):
		case <-ctx.Done():
			return nil, false, c.translateContextErr(ctx)
		}
		return nil, true, fmt.Errorf("%w: HTTP 429", ErrRateLimited)

	case isRetryableStatus(httpResp.StatusCode):
		return nil, true, fmt.Errorf("transient provider status %d", httpResp.StatusCode)

	default:
		code := errcode.FromStatus(httpResp.StatusCode, req.ExpirationAware)
		return nil, false, errcode.NewConfigurationError(code,
			fmt.Sprintf("provider returned HTTP %d", httpResp.StatusCode),
			truncate(string(body), 2048))
	}
}

// roundTrip executes the request, through the circuit breaker when enabled.
func (c *Client) roundTrip(req *http.Request) (*http.Response, error) {
	if c.breaker == nil {
		return c.http.Do(req)
	}
	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		return c.http.Do(req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, c.vendor)
	}
	return resp, err
}

// buildRequest assembles the http.Request for one attempt. Bodies are rebuilt
// per attempt so retries never reuse a drained reader.
func (c *Client) buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	reqURL := req.URL
	if len(req.Query) > 0 {
		sep := "?"
		if strings.Contains(reqURL, "?") {
			sep = "&"
		}
		reqURL += sep + req.Query.Encode()
	}

	var body io.Reader = http.NoBody
	contentType := ""
	switch {
	case req.JSONBody != nil:
		payload, err := json.Marshal(req.JSONBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		body = bytes.NewReader(payload)
		contentType = "application/json"
	case req.FormBody != nil:
		body = strings.NewReader(req.FormBody.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	for name, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(name, value)
		}
	}
	if contentType != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}

	return httpReq, nil
}

// logCall emits the per-call structured log line. URLs are logged without
// query strings, which may carry tokens on some vendors.
func (c *Client) logCall(ctx context.Context, req Request, status int, elapsed time.Duration, err error) {
	target := req.URL
	if i := strings.IndexByte(target, '?'); i >= 0 {
		target = target[:i]
	}

	event := logging.Ctx(ctx).Debug().
		Str("vendor", c.vendor).
		Str("method", req.Method).
		Str("url", target).
		Dur("elapsed", elapsed)
	if status > 0 {
		event = event.Int("status", status)
	}
	if err != nil {
		event = event.Err(err)
	}
	event.Msg("Provider request")
}

// translateContextErr maps context expiry to the taxonomy.
func (c *Client) translateContextErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errcode.NewConfigurationError(errcode.ConnectionTimeout, "attempt deadline exceeded", "")
	}
	return ctx.Err()
}

// translateExhausted classifies the final error after the retry budget.
func (c *Client) translateExhausted(lastErr error) error {
	if lastErr == nil {
		return errcode.NewConfigurationError(errcode.Other, "retries exhausted", "")
	}
	if cfgErr, ok := errcode.AsConfigurationError(lastErr); ok {
		return cfgErr
	}
	switch {
	case errors.Is(lastErr, ErrRateLimited):
		return errcode.NewConfigurationError(errcode.APILimit, "rate limit exceeded after retries", "")
	case isTimeout(lastErr):
		return errcode.NewConfigurationError(errcode.ConnectionTimeout, lastErr.Error(), "")
	default:
		return errcode.NewConfigurationError(errcode.ProviderServerError, lastErr.Error(), "")
	}
}

// retryReason labels the retry metric.
func retryReason(err error) string {
	if errors.Is(err, ErrRateLimited) {
		return "rate_limited"
	}
	return "transient"
}

// isRetryableStatus reports whether the status belongs to the transient set.
func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// isTimeout reports whether the transport error is a timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isTransient reports whether the transport error is worth retrying.
func isTransient(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// retryAfterHint extracts the vendor's retry hint: the Retry-After header in
// seconds, a retry_after body field, or a 1s default.
func retryAfterHint(resp *Response) time.Duration {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && seconds >= 0 {
			return time.Duration(seconds) * time.Second
		}
	}

	var body struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if err := json.Unmarshal(resp.Body, &body); err == nil && body.RetryAfter > 0 {
		return time.Duration(body.RetryAfter * float64(time.Second))
	}

	return time.Second
}

// truncate bounds diagnostic payloads captured into connection results.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// CheckGraphQLErrors maps an HTTP 200 GraphQL envelope carrying errors[] to
// the taxonomy. Call it on responses from GraphQL vendors before decoding.
func CheckGraphQLErrors(resp *Response) error {
	var envelope struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return nil // not an envelope; let the caller's decode surface it
	}
	if len(envelope.Errors) == 0 {
		return nil
	}
	return errcode.NewConfigurationError(errcode.ProviderServerError,
		fmt.Sprintf("provider GraphQL error: %s", envelope.Errors[0].Message),
		truncate(string(resp.Body), 2048))
}
