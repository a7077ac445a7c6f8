// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

package providers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/heylaika/laika-sync/internal/errcode"
	"github.com/heylaika/laika-sync/internal/httpclient"
	"github.com/heylaika/laika-sync/internal/integration"
	"github.com/heylaika/laika-sync/internal/mapper"
	"github.com/heylaika/laika-sync/internal/objects"
	"github.com/heylaika/laika-sync/internal/store"
)

const githubDefaultBaseURL = "https://api.github.com"

// GitHub syncs an organization's members, repositories, and pull requests
// through a GitHub App installation. Authentication is the App JWT exchanged
// for a short-lived installation token; the installation id is the
// connection's identity fingerprint.
type GitHub struct{}

func (g *GitHub) Vendor() string { return "github" }

func (g *GitHub) baseURL(s *integration.Session) string {
	if s.Vendor.BaseURL != "" {
		return s.Vendor.BaseURL
	}
	return githubDefaultBaseURL
}

func (g *GitHub) organization(s *integration.Session) (string, error) {
	org := s.Connection.CredentialString("organization")
	if org == "" {
		return "", errcode.NewConfigurationError(errcode.InsufficientConfigData,
			"the GitHub organization name is not configured", "")
	}
	return org, nil
}

// appJWT signs the short-lived App JWT with the deployment's private key.
func (g *GitHub) appJWT(s *integration.Session) (string, error) {
	if s.Vendor.AppID == "" || s.Vendor.PrivateKey == "" {
		return "", errcode.NewConfigurationError(errcode.InsufficientConfigData,
			"the GitHub App id or private key is not configured", "")
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(s.Vendor.PrivateKey))
	if err != nil {
		return "", errcode.NewConfigurationError(errcode.InsufficientConfigData,
			"the GitHub App private key is not a valid RSA PEM", "")
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Issuer:    s.Vendor.AppID,
		IssuedAt:  jwt.NewNumericDate(now.Add(-30 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(9 * time.Minute)),
	})
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign GitHub App JWT: %w", err)
	}
	return signed, nil
}

// resolveInstallation finds the App installation on the organization,
// distinguishing a missing organization from a missing installation.
func (g *GitHub) resolveInstallation(ctx context.Context, s *integration.Session, appJWT, org string) (int64, error) {
	base := g.baseURL(s)

	_, err := s.Client.Do(ctx, httpclient.Request{
		Method: http.MethodGet,
		URL:    base + "/orgs/" + org,
		Header: bearer(appJWT),
	})
	if errcode.CodeOf(err) == errcode.ResourceNotFound {
		return 0, errcode.NewConfigurationError(errcode.MissingGitHubOrganization,
			fmt.Sprintf("the GitHub organization %q could not be found", org), "")
	}
	if err != nil {
		return 0, err
	}

	resp, err := s.Client.Do(ctx, httpclient.Request{
		Method: http.MethodGet,
		URL:    base + "/orgs/" + org + "/installation",
		Header: bearer(appJWT),
	})
	if errcode.CodeOf(err) == errcode.ResourceNotFound {
		return 0, errcode.NewConfigurationError(errcode.MissingGitHubAppInstallation,
			fmt.Sprintf("the GitHub App is not installed on organization %q", org), "")
	}
	if err != nil {
		return 0, err
	}

	var installation struct {
		ID int64 `json:"id"`
	}
	if err := resp.Decode(&installation); err != nil {
		return 0, err
	}
	return installation.ID, nil
}

// installationToken exchanges the App JWT for an installation access token.
func (g *GitHub) installationToken(ctx context.Context, s *integration.Session, appJWT string, installationID int64) (string, error) {
	resp, err := s.Client.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		URL:    fmt.Sprintf("%s/app/installations/%d/access_tokens", g.baseURL(s), installationID),
		Header: bearer(appJWT),
	})
	if err != nil {
		return "", err
	}
	var token struct {
		Token string `json:"token"`
	}
	if err := resp.Decode(&token); err != nil || token.Token == "" {
		return "", errcode.NewConfigurationError(errcode.ProviderServerError,
			"GitHub returned no installation token", "")
	}
	return token.Token, nil
}

// Fingerprint is the recorded installation id. Connections that never ran
// have no identity yet.
func (g *GitHub) Fingerprint(ctx context.Context, s *integration.Session) (string, error) {
	if id := s.Connection.CredentialString("installation_id"); id != "" {
		return "installation:" + id, nil
	}
	return "", nil
}

type githubMember struct {
	ID      int64  `json:"id"`
	Login   string `json:"login"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	SiteAdm bool   `json:"site_admin"`
}

var githubUserMapper = mapper.Mapper[githubMember]{
	Spec: objects.UserSpec,
	Keys: []string{"Id"},
	Map: func(raw githubMember, alias string) (objects.Record, error) {
		rec := objects.Record{
			"Id":              objects.Text(strconv.FormatInt(raw.ID, 10)),
			"First Name":      objects.Text(raw.Login),
			"Email":           objects.Text(raw.Email),
			"Is Admin":        objects.Boolean(raw.SiteAdm),
			"Source System":   objects.Text("github"),
			"Connection Name": objects.Text(alias),
		}
		if raw.Name != "" {
			rec["First Name"] = objects.Text(raw.Name)
		}
		return rec, nil
	},
}

type githubRepo struct {
	Name      string `json:"name"`
	FullName  string `json:"full_name"`
	HTMLURL   string `json:"html_url"`
	Archived  bool   `json:"archived"`
	Disabled  bool   `json:"disabled"`
	Private   bool   `json:"private"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	Owner     struct {
		Login string `json:"login"`
	} `json:"owner"`
}

var githubRepoMapper = mapper.Mapper[githubRepo]{
	Spec: objects.RepositorySpec,
	Keys: []string{"Organization", "Name"},
	Map: func(raw githubRepo, alias string) (objects.Record, error) {
		visibility := "public"
		if raw.Private {
			visibility = "private"
		}
		rec := objects.Record{
			"Name":            objects.Text(raw.Name),
			"Organization":    objects.Text(raw.Owner.Login),
			"Public URL":      objects.Text(raw.HTMLURL),
			"Is Active":       objects.Boolean(!raw.Archived && !raw.Disabled),
			"Visibility":      objects.SingleSelect(visibility),
			"Source System":   objects.Text("github"),
			"Connection Name": objects.Text(alias),
		}
		if t := isoDate(raw.CreatedAt); !t.IsZero() {
			rec["Created On"] = objects.Date(t)
		}
		if t := isoDate(raw.UpdatedAt); !t.IsZero() {
			rec["Updated On"] = objects.Date(t)
		}
		return rec, nil
	},
}

type githubPull struct {
	Number    int    `json:"number"`
	Title     string `json:"title"`
	State     string `json:"state"`
	HTMLURL   string `json:"html_url"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	MergedAt  string `json:"merged_at"`
	User      struct {
		Login string `json:"login"`
	} `json:"user"`
	Base struct {
		Ref  string `json:"ref"`
		Repo struct {
			Name string `json:"name"`
		} `json:"repo"`
	} `json:"base"`
	Head struct {
		Ref string `json:"ref"`
	} `json:"head"`
}

var githubPullMapper = mapper.Mapper[githubPull]{
	Spec: objects.PullRequestSpec,
	Keys: []string{"Repository", "Key"},
	Map: func(raw githubPull, alias string) (objects.Record, error) {
		state := raw.State
		if raw.MergedAt != "" {
			state = "merged"
		}
		rec := objects.Record{
			"Key":             objects.Text(strconv.Itoa(raw.Number)),
			"Repository":      objects.Text(raw.Base.Repo.Name),
			"Target":          objects.Text(raw.Base.Ref),
			"Source":          objects.Text(raw.Head.Ref),
			"State":           objects.SingleSelect(state),
			"Title":           objects.Text(raw.Title),
			"Url":             objects.Text(raw.HTMLURL),
			"Reporter":        objects.UserRef(raw.User.Login),
			"Source System":   objects.Text("github"),
			"Connection Name": objects.Text(alias),
		}
		if t := isoDate(raw.CreatedAt); !t.IsZero() {
			rec["Created On"] = objects.Date(t)
		}
		if t := isoDate(raw.UpdatedAt); !t.IsZero() {
			rec["Updated On"] = objects.Date(t)
		}
		return rec, nil
	},
}

// Run validates the App installation, mints an installation token, and syncs
// members, repositories, and pull requests.
func (g *GitHub) Run(ctx context.Context, s *integration.Session) error {
	org, err := g.organization(s)
	if err != nil {
		return err
	}
	appJWT, err := g.appJWT(s)
	if err != nil {
		return err
	}

	installationID, err := g.resolveInstallation(ctx, s, appJWT, org)
	if err != nil {
		return err
	}

	recorded := s.Connection.CredentialString("installation_id")
	if current := strconv.FormatInt(installationID, 10); recorded != current {
		s.Connection.ConfigurationState["installation_id"] = current
		if err := s.Store.SaveConfigurationState(ctx, s.Connection.ID, s.Connection.ConfigurationState); err != nil {
			return err
		}
	}

	token, err := g.installationToken(ctx, s, appJWT, installationID)
	if err != nil {
		return err
	}
	base := g.baseURL(s)

	members := githubPaginate[githubMember](ctx, s, token,
		base+"/orgs/"+org+"/members?per_page=100")
	counts, err := store.Reconcile(ctx, s.Store, s.Registry, s.Connection, githubUserMapper, members)
	s.AddCounts(githubUserMapper.Spec.Name, counts)
	if err != nil {
		return err
	}

	var repoNames []string
	repos := githubPaginate[githubRepo](ctx, s, token,
		base+"/orgs/"+org+"/repos?per_page=100")
	observed := func(yield func(githubRepo, error) bool) {
		for repo, err := range repos {
			if err == nil {
				repoNames = append(repoNames, repo.Name)
			}
			if !yield(repo, err) {
				return
			}
		}
	}
	counts, err = store.Reconcile(ctx, s.Store, s.Registry, s.Connection, githubRepoMapper, observed)
	s.AddCounts(githubRepoMapper.Spec.Name, counts)
	if err != nil {
		return err
	}

	pulls := func(yield func(githubPull, error) bool) {
		for _, repo := range repoNames {
			page := githubPaginate[githubPull](ctx, s, token,
				fmt.Sprintf("%s/repos/%s/%s/pulls?state=all&per_page=100", base, org, repo))
			for pull, err := range page {
				if !yield(pull, err) {
					return
				}
				if err != nil {
					return
				}
			}
		}
	}
	counts, err = store.Reconcile(ctx, s.Store, s.Registry, s.Connection, githubPullMapper, pulls)
	s.AddCounts(githubPullMapper.Spec.Name, counts)
	return err
}

// githubPaginate walks GitHub's page-numbered listings: a full page implies
// another one may follow.
func githubPaginate[T any](ctx context.Context, s *integration.Session, token, firstURL string) func(func(T, error) bool) {
	return httpclient.Paginate(ctx, func(ctx context.Context, cursor string) ([]T, string, error) {
		target := cursor
		if target == "" {
			target = firstURL + "&page=1"
		}
		resp, err := s.Client.Do(ctx, httpclient.Request{
			Method: http.MethodGet,
			URL:    target,
			Header: bearer(token),
		})
		if err != nil {
			return nil, "", err
		}
		var items []T
		if err := resp.Decode(&items); err != nil {
			return nil, "", err
		}
		next := nextGitHubPage(resp.Header.Get("Link"))
		return items, next, nil
	})
}

// nextGitHubPage extracts the rel="next" target from a Link header.
func nextGitHubPage(link string) string {
	for _, segment := range strings.Split(link, ",") {
		fields := strings.Split(segment, ";")
		if len(fields) < 2 {
			continue
		}
		target := strings.TrimSpace(fields[0])
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		for _, attr := range fields[1:] {
			if strings.TrimSpace(attr) == `rel="next"` {
				return strings.Trim(target, "<>")
			}
		}
	}
	return ""
}
