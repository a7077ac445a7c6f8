// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

package providers

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/heylaika/laika-sync/internal/errcode"
	"github.com/heylaika/laika-sync/internal/httpclient"
	"github.com/heylaika/laika-sync/internal/integration"
	"github.com/heylaika/laika-sync/internal/mapper"
	"github.com/heylaika/laika-sync/internal/objects"
	"github.com/heylaika/laika-sync/internal/store"
)

const (
	graphDefaultBaseURL    = "https://graph.microsoft.com/v1.0"
	microsoftDefaultScope  = "https://graph.microsoft.com/.default offline_access"
	microsoftTokenTemplate = "https://login.microsoftonline.com/common/oauth2/v2.0/token"
)

func graphBaseURL(s *integration.Session) string {
	if s.Vendor.BaseURL != "" {
		return s.Vendor.BaseURL
	}
	return graphDefaultBaseURL
}

func microsoftTokenURL(s *integration.Session) string {
	if s.Vendor.TokenURL != "" {
		return s.Vendor.TokenURL
	}
	return microsoftTokenTemplate
}

// microsoftCallback runs the shared authorization-code exchange for the two
// Graph-backed adapters and records both tokens.
func microsoftCallback(ctx context.Context, s *integration.Session, params integration.CallbackParams) error {
	if err := requireCallbackCode(params); err != nil {
		return err
	}
	if err := requireClientCredentials(s); err != nil {
		return err
	}

	token, err := exchangeOAuthCode(ctx, s, microsoftTokenURL(s), url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {params.Code},
		"client_id":     {s.Vendor.ClientID},
		"client_secret": {s.Vendor.ClientSecret},
		"redirect_uri":  {params.RedirectURI},
		"scope":         {microsoftDefaultScope},
	})
	if err != nil {
		return err
	}
	if err := s.SaveToken(ctx, "access_token", token.AccessToken); err != nil {
		return err
	}
	if token.RefreshToken != "" {
		if err := s.SaveToken(ctx, "refresh_token", token.RefreshToken); err != nil {
			return err
		}
	}
	return s.Store.PromoteLatestVersion(ctx, s.Connection)
}

// graphToken refreshes the access token when a refresh token is on file,
// otherwise falls back to the stored access token.
func graphToken(ctx context.Context, s *integration.Session) (string, error) {
	refresh, err := s.Token(ctx, "refresh_token")
	if err == nil && refresh != "" {
		token, err := exchangeOAuthCode(ctx, s, microsoftTokenURL(s), url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {refresh},
			"client_id":     {s.Vendor.ClientID},
			"client_secret": {s.Vendor.ClientSecret},
			"scope":         {microsoftDefaultScope},
		})
		if err != nil {
			return "", err
		}
		if token.RefreshToken != "" && token.RefreshToken != refresh {
			if err := s.SaveToken(ctx, "refresh_token", token.RefreshToken); err != nil {
				return "", err
			}
		}
		if err := s.SaveToken(ctx, "access_token", token.AccessToken); err != nil {
			return "", err
		}
		return token.AccessToken, nil
	}

	access, err := s.Token(ctx, "access_token")
	if err != nil || access == "" {
		return "", errcode.NewConfigurationError(errcode.InsufficientConfigData,
			"the connection has no Microsoft token on file", "")
	}
	return access, nil
}

// graphTenant reads the tenant id recorded during the first successful run.
func graphFingerprint(s *integration.Session) (string, error) {
	if tenant := s.Connection.CredentialString("tenant_id"); tenant != "" {
		return "tenant:" + tenant, nil
	}
	return "", nil
}

// recordTenant looks up the signed-in organization and pins its tenant id to
// the connection so duplicate connections are refused on later runs.
func recordTenant(ctx context.Context, s *integration.Session, token string) error {
	resp, err := s.Client.Do(ctx, httpclient.Request{
		Method: http.MethodGet,
		URL:    graphBaseURL(s) + "/organization",
		Header: bearer(token),
	})
	if err != nil {
		return err
	}
	var page struct {
		Value []struct {
			ID string `json:"id"`
		} `json:"value"`
	}
	if err := resp.Decode(&page); err != nil || len(page.Value) == 0 {
		return nil
	}
	tenant := page.Value[0].ID
	if tenant == "" || s.Connection.CredentialString("tenant_id") == tenant {
		return nil
	}
	s.Connection.ConfigurationState["tenant_id"] = tenant
	return s.Store.SaveConfigurationState(ctx, s.Connection.ID, s.Connection.ConfigurationState)
}

// graphPaginate walks a Graph collection following @odata.nextLink.
func graphPaginate[T any](ctx context.Context, s *integration.Session, token, firstURL string) func(func(T, error) bool) {
	return httpclient.Paginate(ctx, func(ctx context.Context, cursor string) ([]T, string, error) {
		target := cursor
		if target == "" {
			target = firstURL
		}
		resp, err := s.Client.Do(ctx, httpclient.Request{
			Method:          http.MethodGet,
			URL:             target,
			Header:          bearer(token),
			ExpirationAware: true,
		})
		if err != nil {
			return nil, "", err
		}
		var page struct {
			Value    []T    `json:"value"`
			NextLink string `json:"@odata.nextLink"`
		}
		if err := resp.Decode(&page); err != nil {
			return nil, "", err
		}
		return page.Value, page.NextLink, nil
	})
}

// Microsoft365 syncs Entra ID users into User records.
type Microsoft365 struct{}

func (m *Microsoft365) Vendor() string { return "microsoft_365" }

func (m *Microsoft365) HandleCallback(ctx context.Context, s *integration.Session, params integration.CallbackParams) error {
	return microsoftCallback(ctx, s, params)
}

func (m *Microsoft365) Fingerprint(ctx context.Context, s *integration.Session) (string, error) {
	return graphFingerprint(s)
}

type graphUser struct {
	ID                string   `json:"id"`
	GivenName         string   `json:"givenName"`
	Surname           string   `json:"surname"`
	Mail              string   `json:"mail"`
	UserPrincipalName string   `json:"userPrincipalName"`
	JobTitle          string   `json:"jobTitle"`
	CompanyName       string   `json:"companyName"`
	AccountEnabled    bool     `json:"accountEnabled"`
	BusinessPhones    []string `json:"businessPhones"`
}

var microsoftUserMapper = mapper.Mapper[graphUser]{
	Spec: objects.UserSpec,
	Keys: []string{"Id"},
	Map: func(raw graphUser, alias string) (objects.Record, error) {
		email := raw.Mail
		if email == "" {
			email = raw.UserPrincipalName
		}
		return objects.Record{
			"Id":                objects.Text(raw.ID),
			"First Name":        objects.Text(raw.GivenName),
			"Last Name":         objects.Text(raw.Surname),
			"Email":             objects.Text(email),
			"Title":             objects.Text(raw.JobTitle),
			"Organization Name": objects.Text(raw.CompanyName),
			"Source System":     objects.Text("microsoft_365"),
			"Connection Name":   objects.Text(alias),
		}, nil
	},
}

func (m *Microsoft365) Run(ctx context.Context, s *integration.Session) error {
	token, err := graphToken(ctx, s)
	if err != nil {
		return err
	}
	if err := recordTenant(ctx, s, token); err != nil {
		return err
	}

	users := graphPaginate[graphUser](ctx, s, token,
		graphBaseURL(s)+"/users?$select=id,givenName,surname,mail,userPrincipalName,jobTitle,companyName,accountEnabled&$top=100")
	counts, err := store.Reconcile(ctx, s.Store, s.Registry, s.Connection, microsoftUserMapper, users)
	s.AddCounts(microsoftUserMapper.Spec.Name, counts)
	return err
}

// Intune syncs managed devices into Device records. It shares the Graph
// token and pagination plumbing with Microsoft365.
type Intune struct{}

func (i *Intune) Vendor() string { return "intune" }

func (i *Intune) HandleCallback(ctx context.Context, s *integration.Session, params integration.CallbackParams) error {
	return microsoftCallback(ctx, s, params)
}

func (i *Intune) Fingerprint(ctx context.Context, s *integration.Session) (string, error) {
	return graphFingerprint(s)
}

type intuneDevice struct {
	ID               string `json:"id"`
	DeviceName       string `json:"deviceName"`
	OperatingSystem  string `json:"operatingSystem"`
	OSVersion        string `json:"osVersion"`
	SerialNumber     string `json:"serialNumber"`
	Model            string `json:"model"`
	Manufacturer     string `json:"manufacturer"`
	UserPrincipal    string `json:"userPrincipalName"`
	Ownership        string `json:"managedDeviceOwnerType"`
	IsEncrypted      bool   `json:"isEncrypted"`
	ComplianceState  string `json:"complianceState"`
	EnrolledDateTime string `json:"enrolledDateTime"`
}

var intuneDeviceMapper = mapper.Mapper[intuneDevice]{
	Spec: objects.DeviceSpec,
	Keys: []string{"Id"},
	Map: func(raw intuneDevice, alias string) (objects.Record, error) {
		encryption := "Unencrypted"
		if raw.IsEncrypted {
			encryption = "Encrypted"
		}
		return objects.Record{
			"Id":                objects.Text(raw.ID),
			"Name":              objects.Text(raw.DeviceName),
			"Device Type":       objects.SingleSelect(strings.ToLower(raw.OperatingSystem)),
			"Company Issued":    objects.Boolean(strings.EqualFold(raw.Ownership, "company")),
			"Serial Number":     objects.Text(raw.SerialNumber),
			"Model":             objects.Text(raw.Model),
			"Brand":             objects.Text(raw.Manufacturer),
			"Operating System":  objects.Text(raw.OperatingSystem),
			"OS Version":        objects.Text(raw.OSVersion),
			"Owner":             objects.UserRef(raw.UserPrincipal),
			"Issuance Status":   objects.SingleSelect(raw.ComplianceState),
			"Encryption Status": objects.SingleSelect(encryption),
			"Source System":     objects.Text("intune"),
			"Connection Name":   objects.Text(alias),
		}, nil
	},
}

func (i *Intune) Run(ctx context.Context, s *integration.Session) error {
	token, err := graphToken(ctx, s)
	if err != nil {
		return err
	}
	if err := recordTenant(ctx, s, token); err != nil {
		return err
	}

	devices := graphPaginate[intuneDevice](ctx, s, token,
		graphBaseURL(s)+"/deviceManagement/managedDevices?$top=100")
	counts, err := store.Reconcile(ctx, s.Store, s.Registry, s.Connection, intuneDeviceMapper, devices)
	s.AddCounts(intuneDeviceMapper.Spec.Name, counts)
	return err
}
