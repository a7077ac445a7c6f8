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
	"time"

	"github.com/heylaika/laika-sync/internal/errcode"
	"github.com/heylaika/laika-sync/internal/httpclient"
	"github.com/heylaika/laika-sync/internal/integration"
	"github.com/heylaika/laika-sync/internal/mapper"
	"github.com/heylaika/laika-sync/internal/objects"
	"github.com/heylaika/laika-sync/internal/store"
)

const (
	finchDefaultBaseURL  = "https://api.tryfinch.com"
	finchDefaultTokenURL = "https://api.tryfinch.com/auth/token"
)

// Finch syncs HRIS directory individuals into User records and payroll
// payments into Charge records. The access token Finch issues never expires,
// so there is no refresh flow.
type Finch struct{}

func (f *Finch) Vendor() string { return "finch" }

func (f *Finch) baseURL(s *integration.Session) string {
	if s.Vendor.BaseURL != "" {
		return s.Vendor.BaseURL
	}
	return finchDefaultBaseURL
}

func (f *Finch) HandleCallback(ctx context.Context, s *integration.Session, params integration.CallbackParams) error {
	if err := requireCallbackCode(params); err != nil {
		return err
	}
	if err := requireClientCredentials(s); err != nil {
		return err
	}

	tokenURL := s.Vendor.TokenURL
	if tokenURL == "" {
		tokenURL = finchDefaultTokenURL
	}
	token, err := exchangeOAuthCode(ctx, s, tokenURL, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {params.Code},
		"client_id":     {s.Vendor.ClientID},
		"client_secret": {s.Vendor.ClientSecret},
		"redirect_uri":  {params.RedirectURI},
	})
	if err != nil {
		return err
	}
	if err := s.SaveToken(ctx, "access_token", token.AccessToken); err != nil {
		return err
	}
	return s.Store.PromoteLatestVersion(ctx, s.Connection)
}

// Fingerprint is the payroll provider's company id, recorded on first sync.
func (f *Finch) Fingerprint(ctx context.Context, s *integration.Session) (string, error) {
	if company := s.Connection.CredentialString("company_id"); company != "" {
		return "company:" + company, nil
	}
	return "", nil
}

type finchIndividual struct {
	ID         string `json:"id"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	IsActive   bool   `json:"is_active"`
	Department struct {
		Name string `json:"name"`
	} `json:"department"`
	Emails []struct {
		Data string `json:"data"`
		Type string `json:"type"`
	} `json:"emails"`
}

func (i finchIndividual) workEmail() string {
	for _, email := range i.Emails {
		if email.Type == "work" {
			return email.Data
		}
	}
	if len(i.Emails) > 0 {
		return i.Emails[0].Data
	}
	return ""
}

var finchUserMapper = mapper.Mapper[finchIndividual]{
	Spec: objects.UserSpec,
	Keys: []string{"Id"},
	Map: func(raw finchIndividual, alias string) (objects.Record, error) {
		return objects.Record{
			"Id":              objects.Text(raw.ID),
			"First Name":      objects.Text(raw.FirstName),
			"Last Name":       objects.Text(raw.LastName),
			"Email":           objects.Text(raw.workEmail()),
			"Groups":          objects.Text(raw.Department.Name),
			"Source System":   objects.Text("finch"),
			"Connection Name": objects.Text(alias),
		}, nil
	},
}

type finchPayment struct {
	ID       string `json:"id"`
	PayDate  string `json:"pay_date"`
	Currency string `json:"currency"`
	GrossPay struct {
		Amount int64 `json:"amount"`
	} `json:"gross_pay"`
	PayPeriod struct {
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
	} `json:"pay_period"`
}

var finchChargeMapper = mapper.Mapper[finchPayment]{
	Spec: objects.ChargeSpec,
	Keys: []string{"Id"},
	Map: func(raw finchPayment, alias string) (objects.Record, error) {
		rec := objects.Record{
			"Id":              objects.Text(raw.ID),
			"Description":     objects.Text("Payroll " + raw.PayPeriod.StartDate + " to " + raw.PayPeriod.EndDate),
			"Amount":          objects.Number(float64(raw.GrossPay.Amount) / 100),
			"Currency":        objects.Text(raw.Currency),
			"Status":          objects.SingleSelect("paid"),
			"Source System":   objects.Text("finch"),
			"Connection Name": objects.Text(alias),
		}
		if t := isoDate(raw.PayDate); !t.IsZero() {
			rec["Date"] = objects.Date(t)
		}
		return rec, nil
	},
}

func (f *Finch) Run(ctx context.Context, s *integration.Session) error {
	token, err := s.Token(ctx, "access_token")
	if err != nil || token == "" {
		return errcode.NewConfigurationError(errcode.InsufficientConfigData,
			"the connection has no Finch token on file", "")
	}
	base := f.baseURL(s)
	header := bearer(token)
	header.Set("Finch-API-Version", "2020-09-17")

	if err := f.recordCompany(ctx, s, header); err != nil {
		return err
	}

	individuals := httpclient.Paginate(ctx, func(ctx context.Context, cursor string) ([]finchIndividual, string, error) {
		offset := 0
		if cursor != "" {
			offset, _ = strconv.Atoi(cursor)
		}
		resp, err := s.Client.Do(ctx, httpclient.Request{
			Method: http.MethodGet,
			URL:    base + "/employer/directory",
			Query:  url.Values{"limit": {"250"}, "offset": {strconv.Itoa(offset)}},
			Header: header,
		})
		if err != nil {
			return nil, "", err
		}
		var page struct {
			Individuals []finchIndividual `json:"individuals"`
			Paging      struct {
				Count  int `json:"count"`
				Offset int `json:"offset"`
			} `json:"paging"`
		}
		if err := resp.Decode(&page); err != nil {
			return nil, "", err
		}
		next := ""
		if page.Paging.Offset+len(page.Individuals) < page.Paging.Count {
			next = strconv.Itoa(page.Paging.Offset + len(page.Individuals))
		}
		return page.Individuals, next, nil
	})
	counts, err := store.Reconcile(ctx, s.Store, s.Registry, s.Connection, finchUserMapper, individuals)
	s.AddCounts(finchUserMapper.Spec.Name, counts)
	if err != nil {
		return err
	}

	// Finch's payment listing is bounded by a date window, not a cursor.
	end := time.Now().UTC()
	start := end.AddDate(-1, 0, 0)
	resp, err := s.Client.Do(ctx, httpclient.Request{
		Method: http.MethodGet,
		URL:    base + "/employer/payment",
		Query: url.Values{
			"start_date": {start.Format("2006-01-02")},
			"end_date":   {end.Format("2006-01-02")},
		},
		Header: header,
	})
	if err != nil {
		return err
	}
	var payments []finchPayment
	if err := resp.Decode(&payments); err != nil {
		return err
	}
	counts, err = store.Reconcile(ctx, s.Store, s.Registry, s.Connection, finchChargeMapper,
		sliceStream(payments))
	s.AddCounts(finchChargeMapper.Spec.Name, counts)
	return err
}

func (f *Finch) recordCompany(ctx context.Context, s *integration.Session, header http.Header) error {
	resp, err := s.Client.Do(ctx, httpclient.Request{
		Method: http.MethodGet,
		URL:    f.baseURL(s) + "/employer/company",
		Header: header,
	})
	if err != nil {
		return err
	}
	var company struct {
		ID string `json:"id"`
	}
	if err := resp.Decode(&company); err != nil || company.ID == "" {
		return nil
	}
	if s.Connection.CredentialString("company_id") == company.ID {
		return nil
	}
	s.Connection.ConfigurationState["company_id"] = company.ID
	return s.Store.SaveConfigurationState(ctx, s.Connection.ID, s.Connection.ConfigurationState)
}
