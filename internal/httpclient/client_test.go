// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/heylaika/laika-sync/internal/errcode"
)

func testClient(vendor string) *Client {
	return New(Config{
		Vendor:         vendor,
		RequestTimeout: 5 * time.Second,
		RetryAttempts:  3,
		RetryDelay:     10 * time.Millisecond,
	})
}

func TestDoSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "application/json" {
			t.Errorf("Accept = %q, want application/json", got)
		}
		w.Write([]byte(`{"name":"acme"}`))
	}))
	defer server.Close()

	resp, err := testClient("test").Do(context.Background(), Request{Method: http.MethodGet, URL: server.URL})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	var body struct {
		Name string `json:"name"`
	}
	if err := resp.Decode(&body); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if body.Name != "acme" {
		t.Errorf("name = %q, want acme", body.Name)
	}
}

func TestDoRetriesRateLimitThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	resp, err := testClient("test").Do(context.Background(), Request{Method: http.MethodGet, URL: server.URL})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestDoRateLimitExhaustedMapsToAPILimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := testClient("test").Do(context.Background(), Request{Method: http.MethodGet, URL: server.URL})
	if got := errcode.CodeOf(err); got != errcode.APILimit {
		t.Errorf("CodeOf(err) = %v, want API_LIMIT", got)
	}
}

func TestDoRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	if _, err := testClient("test").Do(context.Background(), Request{Method: http.MethodGet, URL: server.URL}); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestDoClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := testClient("test").Do(context.Background(), Request{Method: http.MethodGet, URL: server.URL})
	if got := errcode.CodeOf(err); got != errcode.BadClientCredentials {
		t.Errorf("CodeOf(err) = %v, want BAD_CLIENT_CREDENTIALS", got)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestDoUnauthorizedExpirationAware(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := testClient("test").Do(context.Background(), Request{
		Method:          http.MethodGet,
		URL:             server.URL,
		ExpirationAware: true,
	})
	if got := errcode.CodeOf(err); got != errcode.ExpiredToken {
		t.Errorf("CodeOf(err) = %v, want EXPIRED_TOKEN", got)
	}
}

func TestDoDeadlineMapsToConnectionTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := testClient("test").Do(ctx, Request{Method: http.MethodGet, URL: server.URL})
	if got := errcode.CodeOf(err); got != errcode.ConnectionTimeout {
		t.Errorf("CodeOf(err) = %v, want CONNECTION_TIMEOUT", got)
	}
}

func TestCheckGraphQLErrors(t *testing.T) {
	resp := &Response{
		StatusCode: http.StatusOK,
		Body:       []byte(`{"errors":[{"message":"rate budget exhausted"}],"data":null}`),
	}
	err := CheckGraphQLErrors(resp)
	if got := errcode.CodeOf(err); got != errcode.ProviderServerError {
		t.Errorf("CodeOf(err) = %v, want PROVIDER_SERVER_ERROR", got)
	}

	clean := &Response{StatusCode: http.StatusOK, Body: []byte(`{"data":{"ok":true}}`)}
	if err := CheckGraphQLErrors(clean); err != nil {
		t.Errorf("CheckGraphQLErrors(clean) = %v, want nil", err)
	}
}

func TestRetryAfterHintFromBody(t *testing.T) {
	resp := &Response{
		Header: http.Header{},
		Body:   []byte(`{"ok":false,"error":"rate_limited","retry_after":2.5}`),
	}
	if got := retryAfterHint(resp); got != 2500*time.Millisecond {
		t.Errorf("retryAfterHint() = %v, want 2.5s", got)
	}
}

func TestPaginateWalksAllPages(t *testing.T) {
	pages := map[string]struct {
		items []int
		next  string
	}{
		"":   {items: []int{1, 2}, next: "p2"},
		"p2": {items: []int{3, 4}, next: "p3"},
		"p3": {items: []int{5}, next: ""},
	}

	seq := Paginate(context.Background(), func(ctx context.Context, cursor string) ([]int, string, error) {
		page := pages[cursor]
		return page.items, page.next, nil
	})

	got, err := Collect(seq)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(got) != 5 || got[0] != 1 || got[4] != 5 {
		t.Errorf("Collect() = %v, want [1 2 3 4 5]", got)
	}
}

func TestPaginateStopsEarlyWithoutFetchingMore(t *testing.T) {
	var fetches atomic.Int32
	seq := Paginate(context.Background(), func(ctx context.Context, cursor string) ([]int, string, error) {
		fetches.Add(1)
		return []int{1, 2}, "more", nil
	})

	for range seq {
		break
	}
	if got := fetches.Load(); got != 1 {
		t.Errorf("fetches = %d, want 1", got)
	}
}

func TestPaginateSurfacesFetchError(t *testing.T) {
	wantErr := errors.New("page fetch failed")
	seq := Paginate(context.Background(), func(ctx context.Context, cursor string) ([]int, string, error) {
		if cursor == "" {
			return []int{1}, "p2", nil
		}
		return nil, "", wantErr
	})

	_, err := Collect(seq)
	if !errors.Is(err, wantErr) {
		t.Errorf("Collect() error = %v, want %v", err, wantErr)
	}
}
