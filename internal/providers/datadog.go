// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

package providers

import (
	"context"
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

const datadogDefaultBaseURL = "https://api.datadoghq.com"

// Datadog syncs monitors into Monitor records and organization users into
// User records. Authentication is the API and application key pair stored in
// the connection's credentials.
type Datadog struct{}

func (d *Datadog) Vendor() string { return "datadog" }

func (d *Datadog) baseURL(s *integration.Session) string {
	if s.Vendor.BaseURL != "" {
		return s.Vendor.BaseURL
	}
	return datadogDefaultBaseURL
}

func (d *Datadog) header(ctx context.Context, s *integration.Session) (http.Header, error) {
	apiKey, err := s.Credential(ctx, "api_key")
	if err != nil || apiKey == "" {
		return nil, errcode.NewConfigurationError(errcode.InsufficientConfigData,
			"the Datadog API key is not configured", "")
	}
	appKey, err := s.Credential(ctx, "application_key")
	if err != nil || appKey == "" {
		return nil, errcode.NewConfigurationError(errcode.InsufficientConfigData,
			"the Datadog application key is not configured", "")
	}
	return http.Header{
		"DD-API-KEY":         {apiKey},
		"DD-APPLICATION-KEY": {appKey},
	}, nil
}

func (d *Datadog) Fingerprint(ctx context.Context, s *integration.Session) (string, error) {
	apiKey, err := s.Credential(ctx, "api_key")
	if err != nil || apiKey == "" {
		return "", nil
	}
	return "key:" + fingerprintSecret(apiKey), nil
}

type datadogMonitor struct {
	ID           int64    `json:"id"`
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Query        string   `json:"query"`
	Message      string   `json:"message"`
	Tags         []string `json:"tags"`
	OverallState string   `json:"overall_state"`
	Created      string   `json:"created"`
	Creator      struct {
		Email string `json:"email"`
	} `json:"creator"`
}

var datadogMonitorMapper = mapper.Mapper[datadogMonitor]{
	Spec: objects.MonitorSpec,
	Keys: []string{"Id"},
	Map: func(raw datadogMonitor, alias string) (objects.Record, error) {
		rec := objects.Record{
			"Id":              objects.Text(strconv.FormatInt(raw.ID, 10)),
			"Name":            objects.Text(raw.Name),
			"Type":            objects.SingleSelect(raw.Type),
			"Query":           objects.Text(raw.Query),
			"Tags":            objects.Text(strings.Join(raw.Tags, ", ")),
			"Message":         objects.Text(raw.Message),
			"Overall State":   objects.SingleSelect(raw.OverallState),
			"Created By":      objects.UserRef(raw.Creator.Email),
			"Source System":   objects.Text("datadog"),
			"Connection Name": objects.Text(alias),
		}
		if t := isoDate(raw.Created); !t.IsZero() {
			rec["Created At"] = objects.Date(t)
		}
		return rec, nil
	},
}

type datadogUser struct {
	ID         string `json:"id"`
	Attributes struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Title    string `json:"title"`
		Disabled bool   `json:"disabled"`
		MfaEnab  bool   `json:"mfa_enabled"`
	} `json:"attributes"`
}

var datadogUserMapper = mapper.Mapper[datadogUser]{
	Spec: objects.UserSpec,
	Keys: []string{"Id"},
	Map: func(raw datadogUser, alias string) (objects.Record, error) {
		first, last, _ := strings.Cut(raw.Attributes.Name, " ")
		return objects.Record{
			"Id":              objects.Text(raw.ID),
			"First Name":      objects.Text(first),
			"Last Name":       objects.Text(last),
			"Email":           objects.Text(raw.Attributes.Email),
			"Title":           objects.Text(raw.Attributes.Title),
			"Mfa Enabled":     objects.Boolean(raw.Attributes.MfaEnab),
			"Source System":   objects.Text("datadog"),
			"Connection Name": objects.Text(alias),
		}, nil
	},
}

func (d *Datadog) Run(ctx context.Context, s *integration.Session) error {
	header, err := d.header(ctx, s)
	if err != nil {
		return err
	}
	base := d.baseURL(s)

	monitors := httpclient.Paginate(ctx, func(ctx context.Context, cursor string) ([]datadogMonitor, string, error) {
		page := 0
		if cursor != "" {
			page, _ = strconv.Atoi(cursor)
		}
		resp, err := s.Client.Do(ctx, httpclient.Request{
			Method: http.MethodGet,
			URL:    base + "/api/v1/monitor",
			Query:  url.Values{"page": {strconv.Itoa(page)}, "page_size": {"100"}},
			Header: header,
		})
		if err != nil {
			return nil, "", err
		}
		var items []datadogMonitor
		if err := resp.Decode(&items); err != nil {
			return nil, "", err
		}
		if len(items) < 100 {
			return items, "", nil
		}
		return items, strconv.Itoa(page + 1), nil
	})
	counts, err := store.Reconcile(ctx, s.Store, s.Registry, s.Connection, datadogMonitorMapper, monitors)
	s.AddCounts(datadogMonitorMapper.Spec.Name, counts)
	if err != nil {
		return err
	}

	users := httpclient.Paginate(ctx, func(ctx context.Context, cursor string) ([]datadogUser, string, error) {
		page := 0
		if cursor != "" {
			page, _ = strconv.Atoi(cursor)
		}
		resp, err := s.Client.Do(ctx, httpclient.Request{
			Method: http.MethodGet,
			URL:    base + "/api/v2/users",
			Query: url.Values{
				"page[number]":   {strconv.Itoa(page)},
				"page[size]":     {"100"},
				"filter[status]": {"Active"},
			},
			Header: header,
		})
		if err != nil {
			return nil, "", err
		}
		var body struct {
			Data []datadogUser `json:"data"`
			Meta struct {
				Page struct {
					TotalCount int `json:"total_count"`
				} `json:"page"`
			} `json:"meta"`
		}
		if err := resp.Decode(&body); err != nil {
			return nil, "", err
		}
		if (page+1)*100 >= body.Meta.Page.TotalCount {
			return body.Data, "", nil
		}
		return body.Data, strconv.Itoa(page + 1), nil
	})
	counts, err = store.Reconcile(ctx, s.Store, s.Registry, s.Connection, datadogUserMapper, users)
	s.AddCounts(datadogUserMapper.Spec.Name, counts)
	return err
}
