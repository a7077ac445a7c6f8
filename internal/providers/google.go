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
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"

	"github.com/heylaika/laika-sync/internal/alerts"
	"github.com/heylaika/laika-sync/internal/errcode"
	"github.com/heylaika/laika-sync/internal/httpclient"
	"github.com/heylaika/laika-sync/internal/integration"
	"github.com/heylaika/laika-sync/internal/mapper"
	"github.com/heylaika/laika-sync/internal/objects"
	"github.com/heylaika/laika-sync/internal/store"
)

const (
	googleDefaultBaseURL  = "https://admin.googleapis.com"
	googleDefaultTokenURL = "https://oauth2.googleapis.com/token"
	googleDirectoryScope  = "https://www.googleapis.com/auth/admin.directory.user.readonly"
	googleReportsScope    = "https://www.googleapis.com/auth/admin.reports.audit.readonly"
)

// Google syncs Workspace directory users and login audit events through a
// domain-delegated service account. Third-party OAuth grants seen in the
// audit log surface as vendor discovery alerts.
type Google struct{}

func (g *Google) Vendor() string { return "google" }

func (g *Google) baseURL(s *integration.Session) string {
	if s.Vendor.BaseURL != "" {
		return s.Vendor.BaseURL
	}
	return googleDefaultBaseURL
}

func (g *Google) tokenURL(s *integration.Session) string {
	if s.Vendor.TokenURL != "" {
		return s.Vendor.TokenURL
	}
	return googleDefaultTokenURL
}

type googleServiceAccount struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	TokenURI    string `json:"token_uri"`
}

// accessToken performs the two-legged JWT-bearer grant, impersonating the
// configured Workspace admin.
func (g *Google) accessToken(ctx context.Context, s *integration.Session) (string, error) {
	raw, err := s.Credential(ctx, "service_account")
	if err != nil {
		return "", errcode.NewConfigurationError(errcode.InsufficientConfigData,
			"the Google service account key is not configured", "")
	}
	var sa googleServiceAccount
	if err := json.Unmarshal([]byte(raw), &sa); err != nil || sa.ClientEmail == "" || sa.PrivateKey == "" {
		return "", errcode.NewConfigurationError(errcode.InsufficientConfigData,
			"the Google service account key is not a valid key file", "")
	}
	admin := s.Connection.CredentialString("admin_email")
	if admin == "" {
		return "", errcode.NewConfigurationError(errcode.InsufficientConfigData,
			"the Workspace admin email to impersonate is not configured", "")
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(sa.PrivateKey))
	if err != nil {
		return "", errcode.NewConfigurationError(errcode.InsufficientConfigData,
			"the Google service account private key is not a valid RSA PEM", "")
	}

	tokenURL := g.tokenURL(s)
	now := time.Now()
	assertion := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":   sa.ClientEmail,
		"sub":   admin,
		"aud":   tokenURL,
		"scope": googleDirectoryScope + " " + googleReportsScope,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	})
	signed, err := assertion.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign Google service account assertion: %w", err)
	}

	resp, err := s.Client.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		URL:    tokenURL,
		FormBody: url.Values{
			"grant_type": {"urn:ietf:params:oauth:grant-type:jwt-bearer"},
			"assertion":  {signed},
		},
	})
	if err != nil {
		if cerr, ok := errcode.AsConfigurationError(err); ok && cerr.Code != errcode.APILimit {
			return "", errcode.NewConfigurationError(errcode.BadClientCredentials,
				"Google rejected the service account assertion", cerr.Response)
		}
		return "", err
	}
	var token tokenResponse
	if err := resp.Decode(&token); err != nil || token.AccessToken == "" {
		return "", errcode.NewConfigurationError(errcode.BadClientCredentials,
			"Google returned no access token for the service account", "")
	}
	return token.AccessToken, nil
}

// Fingerprint identifies the connection by the impersonated admin's domain.
func (g *Google) Fingerprint(ctx context.Context, s *integration.Session) (string, error) {
	admin := s.Connection.CredentialString("admin_email")
	if _, domain, found := strings.Cut(admin, "@"); found {
		return "domain:" + strings.ToLower(domain), nil
	}
	return "", nil
}

type googleUser struct {
	ID           string `json:"id"`
	PrimaryEmail string `json:"primaryEmail"`
	IsAdmin      bool   `json:"isAdmin"`
	IsEnrolledIn bool   `json:"isEnrolledIn2Sv"`
	IsEnforcedIn bool   `json:"isEnforcedIn2Sv"`
	OrgUnitPath  string `json:"orgUnitPath"`
	Name         struct {
		GivenName  string `json:"givenName"`
		FamilyName string `json:"familyName"`
	} `json:"name"`
}

var googleUserMapper = mapper.Mapper[googleUser]{
	Spec: objects.UserSpec,
	Keys: []string{"Id"},
	Map: func(raw googleUser, alias string) (objects.Record, error) {
		return objects.Record{
			"Id":              objects.Text(raw.ID),
			"First Name":      objects.Text(raw.Name.GivenName),
			"Last Name":       objects.Text(raw.Name.FamilyName),
			"Email":           objects.Text(raw.PrimaryEmail),
			"Is Admin":        objects.Boolean(raw.IsAdmin),
			"Groups":          objects.Text(raw.OrgUnitPath),
			"Mfa Enabled":     objects.Boolean(raw.IsEnrolledIn),
			"Mfa Enforced":    objects.Boolean(raw.IsEnforcedIn),
			"Source System":   objects.Text("google"),
			"Connection Name": objects.Text(alias),
		}, nil
	},
}

type googleAuditEvent struct {
	ID struct {
		Time     string `json:"time"`
		UniqueID string `json:"uniqueQualifier"`
	} `json:"id"`
	Actor struct {
		Email string `json:"email"`
	} `json:"actor"`
	Events []struct {
		Name       string `json:"name"`
		Parameters []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"parameters"`
	} `json:"events"`
}

func (e googleAuditEvent) parameter(name string) string {
	for _, ev := range e.Events {
		for _, p := range ev.Parameters {
			if p.Name == name {
				return p.Value
			}
		}
	}
	return ""
}

func (e googleAuditEvent) eventName() string {
	if len(e.Events) > 0 {
		return e.Events[0].Name
	}
	return ""
}

var googleEventMapper = mapper.Mapper[googleAuditEvent]{
	Spec: objects.EventSpec,
	Keys: []string{"Id"},
	Map: func(raw googleAuditEvent, alias string) (objects.Record, error) {
		rec := objects.Record{
			"Id":              objects.Text(raw.ID.UniqueID),
			"Name":            objects.Text(raw.eventName()),
			"Type":            objects.SingleSelect("login"),
			"User":            objects.UserRef(raw.Actor.Email),
			"Source System":   objects.Text("google"),
			"Connection Name": objects.Text(alias),
		}
		if t := isoDate(raw.ID.Time); !t.IsZero() {
			rec["Date"] = objects.Date(t)
		}
		return rec, nil
	},
}

// Run syncs directory users and the last month of login events, then scans
// OAuth token grants for new third-party vendors.
func (g *Google) Run(ctx context.Context, s *integration.Session) error {
	token, err := g.accessToken(ctx, s)
	if err != nil {
		return err
	}
	base := g.baseURL(s)

	users := httpclient.Paginate(ctx, func(ctx context.Context, cursor string) ([]googleUser, string, error) {
		query := url.Values{"customer": {"my_customer"}, "maxResults": {"500"}}
		if cursor != "" {
			query.Set("pageToken", cursor)
		}
		resp, err := s.Client.Do(ctx, httpclient.Request{
			Method: http.MethodGet,
			URL:    base + "/admin/directory/v1/users",
			Query:  query,
			Header: bearer(token),
		})
		if err != nil {
			return nil, "", err
		}
		var page struct {
			Users         []googleUser `json:"users"`
			NextPageToken string       `json:"nextPageToken"`
		}
		if err := resp.Decode(&page); err != nil {
			return nil, "", err
		}
		return page.Users, page.NextPageToken, nil
	})
	counts, err := store.Reconcile(ctx, s.Store, s.Registry, s.Connection, googleUserMapper, users)
	s.AddCounts(googleUserMapper.Spec.Name, counts)
	if err != nil {
		return err
	}

	since := time.Now().AddDate(0, -1, 0).UTC().Format(time.RFC3339)
	logins := g.auditEvents(ctx, s, token, "login", since)
	counts, err = store.Reconcile(ctx, s.Store, s.Registry, s.Connection, googleEventMapper, logins)
	s.AddCounts(googleEventMapper.Spec.Name, counts)
	if err != nil {
		return err
	}

	return g.discoverVendors(ctx, s, token, since)
}

func (g *Google) auditEvents(ctx context.Context, s *integration.Session, token, application, since string) func(func(googleAuditEvent, error) bool) {
	base := g.baseURL(s)
	return httpclient.Paginate(ctx, func(ctx context.Context, cursor string) ([]googleAuditEvent, string, error) {
		query := url.Values{"startTime": {since}, "maxResults": {"1000"}}
		if cursor != "" {
			query.Set("pageToken", cursor)
		}
		resp, err := s.Client.Do(ctx, httpclient.Request{
			Method: http.MethodGet,
			URL:    base + "/admin/reports/v1/activity/users/all/applications/" + application,
			Query:  query,
			Header: bearer(token),
		})
		if err != nil {
			return nil, "", err
		}
		var page struct {
			Items         []googleAuditEvent `json:"items"`
			NextPageToken string             `json:"nextPageToken"`
		}
		if err := resp.Decode(&page); err != nil {
			return nil, "", err
		}
		return page.Items, page.NextPageToken, nil
	})
}

// discoverVendors raises one VENDOR_DISCOVERY alert per application name seen
// in recent OAuth token grants. The store's transition dedup keeps repeats
// quiet across runs.
func (g *Google) discoverVendors(ctx context.Context, s *integration.Session, token, since string) error {
	if s.Alerts == nil {
		return nil
	}
	seen := map[string]bool{}
	for event, err := range g.auditEvents(ctx, s, token, "token", since) {
		if err != nil {
			return err
		}
		app := event.parameter("app_name")
		if app == "" || seen[app] {
			continue
		}
		seen[app] = true

		_, err = s.Alerts.Emit(ctx, s.Connection.OrganizationID, &store.Alert{
			Type:              alerts.TypeVendorDiscovery,
			RelatedObjectType: "connection_account",
			RelatedObjectID:   strconv.FormatInt(s.Connection.ID, 10),
			TransitionKey:     "vendor:" + strings.ToLower(app),
			Payload: map[string]any{
				"vendor_name": app,
				"grantor":     event.Actor.Email,
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}
