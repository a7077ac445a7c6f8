// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

package providers

import (
	"context"
	"net/http"
	"net/url"

	"github.com/heylaika/laika-sync/internal/errcode"
	"github.com/heylaika/laika-sync/internal/httpclient"
	"github.com/heylaika/laika-sync/internal/integration"
	"github.com/heylaika/laika-sync/internal/mapper"
	"github.com/heylaika/laika-sync/internal/objects"
	"github.com/heylaika/laika-sync/internal/store"
)

const digitaloceanDefaultBaseURL = "https://api.digitalocean.com"

// DigitalOcean syncs team members into Account records using a personal
// access token stored in the connection's credentials.
type DigitalOcean struct{}

func (d *DigitalOcean) Vendor() string { return "digitalocean" }

func (d *DigitalOcean) baseURL(s *integration.Session) string {
	if s.Vendor.BaseURL != "" {
		return s.Vendor.BaseURL
	}
	return digitaloceanDefaultBaseURL
}

func (d *DigitalOcean) token(ctx context.Context, s *integration.Session) (string, error) {
	token, err := s.Credential(ctx, "api_token")
	if err != nil || token == "" {
		return "", errcode.NewConfigurationError(errcode.InsufficientConfigData,
			"the DigitalOcean API token is not configured", "")
	}
	return token, nil
}

// Fingerprint hashes the API token so two connections cannot share one.
func (d *DigitalOcean) Fingerprint(ctx context.Context, s *integration.Session) (string, error) {
	token, err := s.Credential(ctx, "api_token")
	if err != nil || token == "" {
		return "", nil
	}
	return "token:" + fingerprintSecret(token), nil
}

type doMember struct {
	ID     string `json:"uuid"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Status string `json:"status"`
}

var digitaloceanAccountMapper = mapper.Mapper[doMember]{
	Spec: objects.AccountSpec,
	Keys: []string{"Id"},
	Map: func(raw doMember, alias string) (objects.Record, error) {
		return objects.Record{
			"Id":              objects.Text(raw.ID),
			"Name":            objects.Text(raw.Name),
			"Email":           objects.Text(raw.Email),
			"Is Active":       objects.Boolean(raw.Status == "active"),
			"Notes":           objects.Text(raw.Role),
			"Source System":   objects.Text("digitalocean"),
			"Connection Name": objects.Text(alias),
		}, nil
	},
}

func (d *DigitalOcean) Run(ctx context.Context, s *integration.Session) error {
	token, err := d.token(ctx, s)
	if err != nil {
		return err
	}
	base := d.baseURL(s)

	members := httpclient.Paginate(ctx, func(ctx context.Context, cursor string) ([]doMember, string, error) {
		target := cursor
		if target == "" {
			target = base + "/v2/teams/my-team/members?" + url.Values{"per_page": {"200"}}.Encode()
		}
		resp, err := s.Client.Do(ctx, httpclient.Request{
			Method: http.MethodGet,
			URL:    target,
			Header: bearer(token),
		})
		if err != nil {
			return nil, "", err
		}
		var page struct {
			Members []doMember `json:"members"`
			Links   struct {
				Pages struct {
					Next string `json:"next"`
				} `json:"pages"`
			} `json:"links"`
		}
		if err := resp.Decode(&page); err != nil {
			return nil, "", err
		}
		return page.Members, page.Links.Pages.Next, nil
	})

	counts, err := store.Reconcile(ctx, s.Store, s.Registry, s.Connection, digitaloceanAccountMapper, members)
	s.AddCounts(digitaloceanAccountMapper.Spec.Name, counts)
	return err
}
