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

const (
	slackDefaultBaseURL  = "https://slack.com/api"
	slackDefaultTokenURL = "https://slack.com/api/oauth.v2.access"
)

// Slack syncs workspace members into User records. Slack reports API errors
// inside a 200 response, so every call checks the ok flag.
type Slack struct{}

func (s *Slack) Vendor() string { return "slack" }

func (s *Slack) baseURL(session *integration.Session) string {
	if session.Vendor.BaseURL != "" {
		return session.Vendor.BaseURL
	}
	return slackDefaultBaseURL
}

func (s *Slack) HandleCallback(ctx context.Context, session *integration.Session, params integration.CallbackParams) error {
	if err := requireCallbackCode(params); err != nil {
		return err
	}
	if err := requireClientCredentials(session); err != nil {
		return err
	}

	tokenURL := session.Vendor.TokenURL
	if tokenURL == "" {
		tokenURL = slackDefaultTokenURL
	}
	resp, err := session.Client.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		URL:    tokenURL,
		FormBody: url.Values{
			"code":          {params.Code},
			"client_id":     {session.Vendor.ClientID},
			"client_secret": {session.Vendor.ClientSecret},
			"redirect_uri":  {params.RedirectURI},
		},
	})
	if err != nil {
		return err
	}
	var grant struct {
		OK          bool   `json:"ok"`
		Error       string `json:"error"`
		AccessToken string `json:"access_token"`
		Team        struct {
			ID string `json:"id"`
		} `json:"team"`
	}
	if err := resp.Decode(&grant); err != nil {
		return err
	}
	if !grant.OK || grant.AccessToken == "" {
		return errcode.NewConfigurationError(errcode.BadClientCredentials,
			"Slack rejected the authorization code", grant.Error)
	}

	if err := session.SaveToken(ctx, "access_token", grant.AccessToken); err != nil {
		return err
	}
	if grant.Team.ID != "" {
		session.Connection.ConfigurationState["team_id"] = grant.Team.ID
		if err := session.Store.SaveConfigurationState(ctx, session.Connection.ID, session.Connection.ConfigurationState); err != nil {
			return err
		}
	}
	return session.Store.PromoteLatestVersion(ctx, session.Connection)
}

// Fingerprint is the Slack workspace id granted during the OAuth dance.
func (s *Slack) Fingerprint(ctx context.Context, session *integration.Session) (string, error) {
	if team := session.Connection.CredentialString("team_id"); team != "" {
		return "team:" + team, nil
	}
	return "", nil
}

type slackMember struct {
	ID       string `json:"id"`
	TeamID   string `json:"team_id"`
	Name     string `json:"name"`
	Deleted  bool   `json:"deleted"`
	IsAdmin  bool   `json:"is_admin"`
	IsOwner  bool   `json:"is_owner"`
	IsBot    bool   `json:"is_bot"`
	Has2FA   bool   `json:"has_2fa"`
	RealName string `json:"real_name"`
	Profile  struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Email     string `json:"email"`
		Title     string `json:"title"`
	} `json:"profile"`
}

var slackUserMapper = mapper.Mapper[slackMember]{
	Spec: objects.UserSpec,
	Keys: []string{"Id"},
	Map: func(raw slackMember, alias string) (objects.Record, error) {
		first := raw.Profile.FirstName
		if first == "" {
			first = raw.RealName
		}
		return objects.Record{
			"Id":              objects.Text(raw.ID),
			"First Name":      objects.Text(first),
			"Last Name":       objects.Text(raw.Profile.LastName),
			"Email":           objects.Text(raw.Profile.Email),
			"Is Admin":        objects.Boolean(raw.IsAdmin || raw.IsOwner),
			"Title":           objects.Text(raw.Profile.Title),
			"Mfa Enabled":     objects.Boolean(raw.Has2FA),
			"Source System":   objects.Text("slack"),
			"Connection Name": objects.Text(alias),
		}, nil
	},
}

func (s *Slack) Run(ctx context.Context, session *integration.Session) error {
	token, err := session.Token(ctx, "access_token")
	if err != nil || token == "" {
		return errcode.NewConfigurationError(errcode.InsufficientConfigData,
			"the connection has no Slack token on file", "")
	}
	base := s.baseURL(session)

	members := httpclient.Paginate(ctx, func(ctx context.Context, cursor string) ([]slackMember, string, error) {
		query := url.Values{"limit": {"200"}}
		if cursor != "" {
			query.Set("cursor", cursor)
		}
		resp, err := session.Client.Do(ctx, httpclient.Request{
			Method: http.MethodGet,
			URL:    base + "/users.list",
			Query:  query,
			Header: bearer(token),
		})
		if err != nil {
			return nil, "", err
		}
		var page struct {
			OK       bool          `json:"ok"`
			Error    string        `json:"error"`
			Members  []slackMember `json:"members"`
			Metadata struct {
				NextCursor string `json:"next_cursor"`
			} `json:"response_metadata"`
		}
		if err := resp.Decode(&page); err != nil {
			return nil, "", err
		}
		if !page.OK {
			code := errcode.ProviderServerError
			switch page.Error {
			case "invalid_auth", "not_authed":
				code = errcode.ExpiredToken
			case "token_revoked", "account_inactive":
				code = errcode.AccessRevoked
			case "ratelimited":
				code = errcode.APILimit
			}
			return nil, "", errcode.NewConfigurationError(code,
				"Slack reported an API error", page.Error)
		}
		// Deactivated members and bots never become User records.
		active := page.Members[:0:0]
		for _, m := range page.Members {
			if !m.Deleted && !m.IsBot {
				active = append(active, m)
			}
		}
		return active, page.Metadata.NextCursor, nil
	})

	counts, err := store.Reconcile(ctx, session.Store, session.Registry, session.Connection, slackUserMapper, members)
	session.AddCounts(slackUserMapper.Spec.Name, counts)
	return err
}
