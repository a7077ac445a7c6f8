// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

package providers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/heylaika/laika-sync/internal/alerts"
	"github.com/heylaika/laika-sync/internal/errcode"
	"github.com/heylaika/laika-sync/internal/httpclient"
	"github.com/heylaika/laika-sync/internal/integration"
	"github.com/heylaika/laika-sync/internal/logging"
	"github.com/heylaika/laika-sync/internal/mapper"
	"github.com/heylaika/laika-sync/internal/objects"
	"github.com/heylaika/laika-sync/internal/store"
	"github.com/heylaika/laika-sync/internal/vault"
)

const (
	checkrDefaultBaseURL  = "https://api.checkr.com"
	checkrDefaultTokenURL = "https://api.checkr.com/v1/oauth/tokens"
)

// Checkr syncs background checks: candidates merged with their latest report
// into BackgroundCheck records. Connections authenticate through the Checkr
// partner OAuth dance; report progress also arrives through webhooks.
type Checkr struct{}

func (c *Checkr) Vendor() string { return "checkr" }

type checkrCandidate struct {
	ID        string   `json:"id"`
	FirstName string   `json:"first_name"`
	LastName  string   `json:"last_name"`
	Email     string   `json:"email"`
	CreatedAt string   `json:"created_at"`
	ReportIDs []string `json:"report_ids"`
}

type checkrReport struct {
	ID                      string `json:"id"`
	Status                  string `json:"status"`
	Result                  string `json:"result"`
	CandidateID             string `json:"candidate_id"`
	Package                 string `json:"package"`
	CreatedAt               string `json:"created_at"`
	EstimatedCompletionTime string `json:"estimated_completion_time"`
}

// checkrBackgroundCheck is the composite raw record the mapper consumes.
type checkrBackgroundCheck struct {
	Candidate checkrCandidate
	Report    *checkrReport
}

// checkrStatus maps a report status/result onto the display value and the
// people status.
func checkrStatus(report *checkrReport) (status, peopleStatus string) {
	if report == nil {
		return "Invitation Sent", "pending"
	}
	switch {
	case report.Status == "complete" && report.Result == "clear",
		report.Status == "clear":
		return "Clear", "passed"
	case report.Status == "complete" && report.Result == "consider",
		report.Status == "consider":
		return "Consider", "flagged"
	case report.Status == "suspended":
		return "Suspended", "pending"
	case report.Status == "dispute":
		return "Dispute", "flagged"
	default:
		return "Pending", "pending"
	}
}

var checkrMapper = mapper.Mapper[checkrBackgroundCheck]{
	Spec: objects.BackgroundCheckSpec,
	Keys: []string{"Id"},
	Map: func(raw checkrBackgroundCheck, alias string) (objects.Record, error) {
		status, peopleStatus := checkrStatus(raw.Report)
		rec := objects.Record{
			"Id":            objects.Text(raw.Candidate.ID),
			"First Name":    objects.Text(raw.Candidate.FirstName),
			"Last Name":     objects.Text(raw.Candidate.LastName),
			"Email":         objects.Text(raw.Candidate.Email),
			"Status":        objects.SingleSelect(status),
			"People Status": objects.SingleSelect(peopleStatus),
			"Source System": objects.Text(alias),
		}
		if raw.Report != nil {
			rec["Check Name"] = objects.Text(raw.Report.Package)
			rec["Package"] = objects.Text(raw.Report.Package)
			if t := isoDate(raw.Report.CreatedAt); !t.IsZero() {
				rec["Initiation Date"] = objects.Date(t)
			}
			if t := isoDate(raw.Report.EstimatedCompletionTime); !t.IsZero() {
				rec["Estimated Completion Date"] = objects.Date(t)
			}
		}
		return rec, nil
	},
}

func (c *Checkr) baseURL(s *integration.Session) string {
	if s.Vendor.BaseURL != "" {
		return s.Vendor.BaseURL
	}
	return checkrDefaultBaseURL
}

// checkrAuth builds the Basic header Checkr expects: the account token as
// username with an empty password.
func checkrAuth(token string) http.Header {
	encoded := base64.StdEncoding.EncodeToString([]byte(token + ":"))
	return http.Header{"Authorization": []string{"Basic " + encoded}}
}

func (c *Checkr) token(ctx context.Context, s *integration.Session) (string, error) {
	token, err := s.Token(ctx, "access_token")
	if err != nil {
		return "", errcode.NewConfigurationError(errcode.InsufficientConfigData,
			"the Checkr connection has no access token; complete the authorization first", "")
	}
	return token, nil
}

// HandleCallback exchanges the authorization code for the account token and
// records the Checkr account id for webhook matching.
func (c *Checkr) HandleCallback(ctx context.Context, s *integration.Session, params integration.CallbackParams) error {
	if err := requireCallbackCode(params); err != nil {
		return err
	}
	if err := requireClientCredentials(s); err != nil {
		return err
	}

	tokenURL := s.Vendor.TokenURL
	if tokenURL == "" {
		tokenURL = checkrDefaultTokenURL
	}

	resp, err := s.Client.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		URL:    tokenURL,
		JSONBody: map[string]string{
			"code":          params.Code,
			"client_id":     s.Vendor.ClientID,
			"client_secret": s.Vendor.ClientSecret,
		},
	})
	if err != nil {
		if cfgErr, ok := errcode.AsConfigurationError(err); ok {
			return errcode.NewConfigurationError(errcode.BadClientCredentials,
				"Checkr rejected the authorization code", cfgErr.Response)
		}
		return err
	}

	var token struct {
		AccessToken     string `json:"access_token"`
		CheckrAccountID string `json:"checkr_account_id"`
	}
	if err := resp.Decode(&token); err != nil || token.AccessToken == "" {
		return errcode.NewConfigurationError(errcode.BadClientCredentials,
			"Checkr token exchange returned no access token", string(resp.Body))
	}

	if err := s.SaveToken(ctx, "access_token", token.AccessToken); err != nil {
		return err
	}
	if token.CheckrAccountID != "" {
		s.Connection.ConfigurationState["account_id"] = token.CheckrAccountID
		if err := s.Store.SaveConfigurationState(ctx, s.Connection.ID, s.Connection.ConfigurationState); err != nil {
			return err
		}
	}
	return s.Store.PromoteLatestVersion(ctx, s.Connection)
}

// Fingerprint is the Checkr account id, falling back to the token hash.
func (c *Checkr) Fingerprint(ctx context.Context, s *integration.Session) (string, error) {
	if accountID := s.Connection.CredentialString("account_id"); accountID != "" {
		return "account:" + accountID, nil
	}
	token, err := s.Token(ctx, "access_token")
	if err != nil {
		return "", nil //nolint:nilerr // no token yet, no identity to collide on
	}
	return "token:" + fingerprintSecret(token), nil
}

// Run pulls all candidates and reports and reconciles them into
// BackgroundCheck records.
func (c *Checkr) Run(ctx context.Context, s *integration.Session) error {
	token, err := c.token(ctx, s)
	if err != nil {
		return err
	}
	base := c.baseURL(s)

	reports, err := c.fetchReports(ctx, s, base, token)
	if err != nil {
		return err
	}

	candidates := httpclient.Paginate(ctx, func(ctx context.Context, cursor string) ([]checkrCandidate, string, error) {
		target := cursor
		if target == "" {
			target = base + "/v1/candidates?per_page=100"
		}
		resp, err := s.Client.Do(ctx, httpclient.Request{
			Method: http.MethodGet,
			URL:    target,
			Header: checkrAuth(token),
		})
		if err != nil {
			return nil, "", err
		}
		var page struct {
			Data     []checkrCandidate `json:"data"`
			NextHref string            `json:"next_href"`
		}
		if err := resp.Decode(&page); err != nil {
			return nil, "", err
		}
		return page.Data, page.NextHref, nil
	})

	merged := func(yield func(checkrBackgroundCheck, error) bool) {
		for candidate, err := range candidates {
			if err != nil {
				var zero checkrBackgroundCheck
				yield(zero, err)
				return
			}
			if !yield(checkrBackgroundCheck{Candidate: candidate, Report: reports[candidate.ID]}, nil) {
				return
			}
		}
	}

	counts, err := store.Reconcile(ctx, s.Store, s.Registry, s.Connection, checkrMapper, merged)
	s.AddCounts(checkrMapper.Spec.Name, counts)
	return err
}

// fetchReports indexes each candidate's most recent report.
func (c *Checkr) fetchReports(ctx context.Context, s *integration.Session, base, token string) (map[string]*checkrReport, error) {
	byCandidate := make(map[string]*checkrReport)

	pages := httpclient.Paginate(ctx, func(ctx context.Context, cursor string) ([]checkrReport, string, error) {
		target := cursor
		if target == "" {
			target = base + "/v1/reports?per_page=100"
		}
		resp, err := s.Client.Do(ctx, httpclient.Request{
			Method: http.MethodGet,
			URL:    target,
			Header: checkrAuth(token),
		})
		if err != nil {
			return nil, "", err
		}
		var page struct {
			Data     []checkrReport `json:"data"`
			NextHref string         `json:"next_href"`
		}
		if err := resp.Decode(&page); err != nil {
			return nil, "", err
		}
		return page.Data, page.NextHref, nil
	})

	for report, err := range pages {
		if err != nil {
			return nil, err
		}
		report := report
		existing := byCandidate[report.CandidateID]
		if existing == nil || isoDate(report.CreatedAt).After(isoDate(existing.CreatedAt)) {
			byCandidate[report.CandidateID] = &report
		}
	}
	return byCandidate, nil
}

// checkrEvent is the vendor webhook envelope.
type checkrEvent struct {
	Type      string `json:"type"`
	AccountID string `json:"account_id"`
	Data      struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// MatchesWebhook compares the event's account id against the connection's
// recorded Checkr account, falling back to a token-fingerprint comparison.
func (c *Checkr) MatchesWebhook(ctx context.Context, s *integration.Session, event integration.WebhookEvent) (bool, error) {
	var envelope checkrEvent
	if err := json.Unmarshal(event.Body, &envelope); err != nil {
		return false, fmt.Errorf("decode checkr event: %w", err)
	}
	if envelope.AccountID == "" {
		return false, nil
	}
	if accountID := s.Connection.CredentialString("account_id"); accountID != "" {
		return accountID == envelope.AccountID, nil
	}

	// Legacy connections predate account_id capture; compare against the
	// token-derived identity the event may carry.
	token, err := s.Token(ctx, "access_token")
	if err != nil {
		if errors.Is(err, vault.ErrFieldMissing) {
			return false, nil
		}
		return false, err
	}
	return fingerprintSecret(token) == envelope.AccountID, nil
}

// HandleWebhook folds one Checkr event into the corpus and emits alerts per
// the event table.
func (c *Checkr) HandleWebhook(ctx context.Context, s *integration.Session, event integration.WebhookEvent) error {
	var envelope checkrEvent
	if err := json.Unmarshal(event.Body, &envelope); err != nil {
		return fmt.Errorf("decode checkr event: %w", err)
	}

	switch {
	case strings.HasPrefix(envelope.Type, "report."):
		return c.applyReportEvent(ctx, s, envelope)
	case strings.HasPrefix(envelope.Type, "invitation."):
		return c.applyInvitationEvent(ctx, s, envelope)
	case envelope.Type == "candidate.created":
		return c.applyCandidateCreated(ctx, s, envelope)
	case envelope.Type == "account.credentialed":
		return c.emitConnectionAlert(ctx, s, alerts.TypeBackgroundCheckAccountCredentialed, "credentialed")
	case envelope.Type == "token.deauthorized":
		return c.emitConnectionAlert(ctx, s, alerts.TypeBackgroundCheckTokenDeauthorized, "deauthorized")
	default:
		logging.Ctx(ctx).Debug().Str("event_type", envelope.Type).Msg("Ignoring unhandled Checkr event")
		return nil
	}
}

func (c *Checkr) applyReportEvent(ctx context.Context, s *integration.Session, envelope checkrEvent) error {
	var report checkrReport
	if err := json.Unmarshal(envelope.Data.Object, &report); err != nil {
		return fmt.Errorf("decode checkr report: %w", err)
	}
	if report.CandidateID == "" {
		return nil
	}

	typeID, err := s.Registry.Resolve(ctx, s.Connection.OrganizationID, objects.BackgroundCheckSpec)
	if err != nil {
		return err
	}
	existing, err := s.Store.FindObjectByKey(ctx, s.Connection.ID, typeID, report.CandidateID, objects.BackgroundCheckSpec)
	if err != nil {
		return err
	}

	// The event carries only the report; candidate attributes on the
	// existing record survive the merge.
	rec, err := checkrMapper.Map(checkrBackgroundCheck{
		Candidate: checkrCandidate{ID: report.CandidateID},
		Report:    &report,
	}, s.Connection.Alias)
	if err != nil {
		return err
	}
	previousStatus := ""
	if existing != nil {
		previousStatus = existing.Data["Status"].String()
		rec = objects.Merge(existing.Data, rec)
	}

	counts, err := store.ReconcileRecord(ctx, s.Store, s.Registry, s.Connection, checkrMapper, rec)
	if err != nil {
		return err
	}
	s.AddCounts(checkrMapper.Spec.Name, counts)

	newStatus, _ := checkrStatus(&report)
	if newStatus != previousStatus {
		_, err = s.Alerts.Emit(ctx, s.Connection.OrganizationID, &store.Alert{
			Type:              alerts.TypeBackgroundCheckChangedStatus,
			RelatedObjectType: "laika_object",
			RelatedObjectID:   report.CandidateID,
			TransitionKey:     previousStatus + "->" + newStatus,
			Payload: map[string]any{
				"candidate_id": report.CandidateID,
				"status":       newStatus,
			},
		})
		if err != nil {
			return err
		}
	}

	if envelope.Type == "report.completed" {
		return c.matchCandidateToUser(ctx, s, checkrCandidate{
			ID:        report.CandidateID,
			FirstName: rec["First Name"].String(),
			LastName:  rec["Last Name"].String(),
			Email:     rec["Email"].String(),
		})
	}
	return nil
}

// matchCandidateToUser emits the single-match alert when exactly one
// organization member matches the completed candidate by name and email.
func (c *Checkr) matchCandidateToUser(ctx context.Context, s *integration.Session, candidate checkrCandidate) error {
	if candidate.Email == "" {
		return nil
	}
	users, err := s.Store.FindUsersByEmail(ctx, s.Connection.OrganizationID, candidate.Email)
	if err != nil {
		return err
	}

	var matched []store.OrgUser
	for _, user := range users {
		if strings.EqualFold(user.FirstName, candidate.FirstName) &&
			strings.EqualFold(user.LastName, candidate.LastName) {
			matched = append(matched, user)
		}
	}
	if len(matched) != 1 {
		return nil
	}

	_, err = s.Alerts.Emit(ctx, s.Connection.OrganizationID, &store.Alert{
		Type:              alerts.TypeBackgroundCheckSingleMatchUserToLO,
		RelatedObjectType: "laika_object",
		RelatedObjectID:   candidate.ID,
		TransitionKey:     "match:" + matched[0].ID,
		Payload: map[string]any{
			"candidate_id": candidate.ID,
			"user_id":      matched[0].ID,
		},
	})
	return err
}

func (c *Checkr) applyInvitationEvent(ctx context.Context, s *integration.Session, envelope checkrEvent) error {
	var invitation struct {
		CandidateID string `json:"candidate_id"`
		Status      string `json:"status"`
	}
	if err := json.Unmarshal(envelope.Data.Object, &invitation); err != nil {
		return fmt.Errorf("decode checkr invitation: %w", err)
	}
	if invitation.CandidateID == "" {
		return nil
	}

	typeID, err := s.Registry.Resolve(ctx, s.Connection.OrganizationID, objects.BackgroundCheckSpec)
	if err != nil {
		return err
	}
	existing, err := s.Store.FindObjectByKey(ctx, s.Connection.ID, typeID, invitation.CandidateID, objects.BackgroundCheckSpec)
	if err != nil || existing != nil {
		// A candidate with a record already tracks report progress; the
		// invitation event adds nothing.
		return err
	}

	counts, err := store.ReconcileOne(ctx, s.Store, s.Registry, s.Connection, checkrMapper,
		checkrBackgroundCheck{Candidate: checkrCandidate{ID: invitation.CandidateID}})
	if err != nil {
		return err
	}
	s.AddCounts(checkrMapper.Spec.Name, counts)
	return nil
}

func (c *Checkr) applyCandidateCreated(ctx context.Context, s *integration.Session, envelope checkrEvent) error {
	var candidate checkrCandidate
	if err := json.Unmarshal(envelope.Data.Object, &candidate); err != nil {
		return fmt.Errorf("decode checkr candidate: %w", err)
	}
	if candidate.ID == "" {
		return nil
	}

	counts, err := store.ReconcileOne(ctx, s.Store, s.Registry, s.Connection, checkrMapper,
		checkrBackgroundCheck{Candidate: candidate})
	if err != nil {
		return err
	}
	s.AddCounts(checkrMapper.Spec.Name, counts)
	return nil
}

func (c *Checkr) emitConnectionAlert(ctx context.Context, s *integration.Session, alertType, transition string) error {
	_, err := s.Alerts.Emit(ctx, s.Connection.OrganizationID, &store.Alert{
		Type:              alertType,
		RelatedObjectType: "connection_account",
		RelatedObjectID:   strconv.FormatInt(s.Connection.ID, 10),
		TransitionKey:     transition,
		Payload:           map[string]any{"vendor": "checkr", "alias": s.Connection.Alias},
	})
	return err
}
