// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/heylaika/laika-sync/internal/errcode"
	"github.com/heylaika/laika-sync/internal/httpclient"
	"github.com/heylaika/laika-sync/internal/integration"
	"github.com/heylaika/laika-sync/internal/mapper"
	"github.com/heylaika/laika-sync/internal/objects"
	"github.com/heylaika/laika-sync/internal/store"
)

// Auth0 syncs tenant users into User records and machine-to-machine
// applications into ServiceAccount records through the Management API.
// The tenant domain comes from configuration, not an OAuth dance.
type Auth0 struct{}

func (a *Auth0) Vendor() string { return "auth0" }

func (a *Auth0) domain(s *integration.Session) (string, error) {
	domain := s.Connection.CredentialString("domain")
	if domain == "" {
		domain = s.Vendor.BaseURL
	}
	if domain == "" {
		return "", errcode.NewConfigurationError(errcode.InsufficientConfigData,
			"the Auth0 tenant domain is not configured", "")
	}
	domain = strings.TrimSuffix(domain, "/")
	if !strings.HasPrefix(domain, "http") {
		domain = "https://" + domain
	}
	return domain, nil
}

// accessToken runs the client-credentials grant against the tenant.
func (a *Auth0) accessToken(ctx context.Context, s *integration.Session, domain string) (string, error) {
	if err := requireClientCredentials(s); err != nil {
		return "", err
	}
	token, err := exchangeOAuthCode(ctx, s, domain+"/oauth/token", url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {s.Vendor.ClientID},
		"client_secret": {s.Vendor.ClientSecret},
		"audience":      {domain + "/api/v2/"},
	})
	if err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

// Fingerprint is the tenant domain itself.
func (a *Auth0) Fingerprint(ctx context.Context, s *integration.Session) (string, error) {
	domain, err := a.domain(s)
	if err != nil {
		return "", nil
	}
	return "domain:" + strings.ToLower(strings.TrimPrefix(domain, "https://")), nil
}

type auth0User struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	GivenName   string `json:"given_name"`
	FamilyName  string `json:"family_name"`
	Name        string `json:"name"`
	LastLogin   string `json:"last_login"`
	Multifactor []any  `json:"multifactor"`
}

var auth0UserMapper = mapper.Mapper[auth0User]{
	Spec: objects.UserSpec,
	Keys: []string{"Id"},
	Map: func(raw auth0User, alias string) (objects.Record, error) {
		first := raw.GivenName
		if first == "" {
			first = raw.Name
		}
		return objects.Record{
			"Id":              objects.Text(raw.UserID),
			"First Name":      objects.Text(first),
			"Last Name":       objects.Text(raw.FamilyName),
			"Email":           objects.Text(raw.Email),
			"Mfa Enabled":     objects.Boolean(len(raw.Multifactor) > 0),
			"Source System":   objects.Text("auth0"),
			"Connection Name": objects.Text(alias),
		}, nil
	},
}

type auth0Client struct {
	ClientID    string `json:"client_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	AppType     string `json:"app_type"`
	IsGlobal    bool   `json:"global"`
}

var auth0ClientMapper = mapper.Mapper[auth0Client]{
	Spec: objects.ServiceAccountSpec,
	Keys: []string{"Id"},
	Map: func(raw auth0Client, alias string) (objects.Record, error) {
		return objects.Record{
			"Id":              objects.Text(raw.ClientID),
			"Display Name":    objects.Text(raw.Name),
			"Description":     objects.Text(raw.Description),
			"Is Active":       objects.Boolean(!raw.IsGlobal),
			"Source System":   objects.Text("auth0"),
			"Connection Name": objects.Text(alias),
		}, nil
	},
}

func (a *Auth0) Run(ctx context.Context, s *integration.Session) error {
	domain, err := a.domain(s)
	if err != nil {
		return err
	}
	token, err := a.accessToken(ctx, s, domain)
	if err != nil {
		return err
	}

	users := auth0Paginate[auth0User](ctx, s, token, domain+"/api/v2/users", nil)
	counts, err := store.Reconcile(ctx, s.Store, s.Registry, s.Connection, auth0UserMapper, users)
	s.AddCounts(auth0UserMapper.Spec.Name, counts)
	if err != nil {
		return err
	}

	// Only machine-to-machine applications count as service accounts.
	clients := auth0Paginate[auth0Client](ctx, s, token, domain+"/api/v2/clients",
		url.Values{"app_type": {"non_interactive"}})
	counts, err = store.Reconcile(ctx, s.Store, s.Registry, s.Connection, auth0ClientMapper, clients)
	s.AddCounts(auth0ClientMapper.Spec.Name, counts)
	return err
}

// auth0Paginate walks a Management API listing by page number. An empty page
// ends the walk since Auth0 omits totals unless asked.
func auth0Paginate[T any](ctx context.Context, s *integration.Session, token, target string, extra url.Values) func(func(T, error) bool) {
	return httpclient.Paginate(ctx, func(ctx context.Context, cursor string) ([]T, string, error) {
		page := 0
		if cursor != "" {
			page, _ = strconv.Atoi(cursor)
		}
		query := url.Values{"per_page": {"100"}, "page": {strconv.Itoa(page)}}
		for k, vs := range extra {
			query[k] = vs
		}
		resp, err := s.Client.Do(ctx, httpclient.Request{
			Method: http.MethodGet,
			URL:    target,
			Query:  query,
			Header: bearer(token),
		})
		if err != nil {
			return nil, "", err
		}
		var items []T
		if err := resp.Decode(&items); err != nil {
			return nil, "", fmt.Errorf("decode Auth0 page %d: %w", page, err)
		}
		if len(items) < 100 {
			return items, "", nil
		}
		return items, strconv.Itoa(page + 1), nil
	})
}
