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

	"github.com/heylaika/laika-sync/internal/errcode"
	"github.com/heylaika/laika-sync/internal/httpclient"
	"github.com/heylaika/laika-sync/internal/integration"
	"github.com/heylaika/laika-sync/internal/mapper"
	"github.com/heylaika/laika-sync/internal/objects"
	"github.com/heylaika/laika-sync/internal/store"
)

const shortcutDefaultBaseURL = "https://api.app.shortcut.com"

// Shortcut syncs stories into ChangeRequest records and workspace members
// into Account records. The configuration form lets the user narrow the sync
// to one workflow, so the adapter also serves workflow options.
type Shortcut struct{}

func (sc *Shortcut) Vendor() string { return "shortcut" }

func (sc *Shortcut) baseURL(s *integration.Session) string {
	if s.Vendor.BaseURL != "" {
		return s.Vendor.BaseURL
	}
	return shortcutDefaultBaseURL
}

func (sc *Shortcut) token(ctx context.Context, s *integration.Session) (string, error) {
	token, err := s.Credential(ctx, "api_token")
	if err != nil || token == "" {
		return "", errcode.NewConfigurationError(errcode.InsufficientConfigData,
			"the Shortcut API token is not configured", "")
	}
	return token, nil
}

func shortcutHeader(token string) http.Header {
	return http.Header{"Shortcut-Token": {token}}
}

func (sc *Shortcut) Fingerprint(ctx context.Context, s *integration.Session) (string, error) {
	token, err := s.Credential(ctx, "api_token")
	if err != nil || token == "" {
		return "", nil
	}
	return "token:" + fingerprintSecret(token), nil
}

type shortcutWorkflow struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	States []struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"states"`
}

// FieldOptions serves the workflow and project pickers on the configuration
// form.
func (sc *Shortcut) FieldOptions(ctx context.Context, s *integration.Session, field string) ([]integration.FieldOption, error) {
	token, err := sc.token(ctx, s)
	if err != nil {
		return nil, err
	}
	switch field {
	case "workflow_id":
		workflows, err := sc.fetchWorkflows(ctx, s, token)
		if err != nil {
			return nil, err
		}
		options := make([]integration.FieldOption, 0, len(workflows))
		for _, wf := range workflows {
			options = append(options, integration.FieldOption{
				Value: strconv.FormatInt(wf.ID, 10),
				Label: wf.Name,
			})
		}
		return options, nil
	case "project_id":
		resp, err := s.Client.Do(ctx, httpclient.Request{
			Method: http.MethodGet,
			URL:    sc.baseURL(s) + "/api/v3/projects",
			Header: shortcutHeader(token),
		})
		if err != nil {
			return nil, err
		}
		var projects []struct {
			ID   int64  `json:"id"`
			Name string `json:"name"`
		}
		if err := resp.Decode(&projects); err != nil {
			return nil, err
		}
		options := make([]integration.FieldOption, 0, len(projects))
		for _, p := range projects {
			options = append(options, integration.FieldOption{
				Value: strconv.FormatInt(p.ID, 10),
				Label: p.Name,
			})
		}
		return options, nil
	default:
		return nil, fmt.Errorf("unknown shortcut configuration field %q", field)
	}
}

func (sc *Shortcut) fetchWorkflows(ctx context.Context, s *integration.Session, token string) ([]shortcutWorkflow, error) {
	resp, err := s.Client.Do(ctx, httpclient.Request{
		Method: http.MethodGet,
		URL:    sc.baseURL(s) + "/api/v3/workflows",
		Header: shortcutHeader(token),
	})
	if err != nil {
		return nil, err
	}
	var workflows []shortcutWorkflow
	if err := resp.Decode(&workflows); err != nil {
		return nil, err
	}
	return workflows, nil
}

type shortcutMember struct {
	ID       string `json:"id"`
	Disabled bool   `json:"disabled"`
	Profile  struct {
		Name         string `json:"name"`
		EmailAddress string `json:"email_address"`
	} `json:"profile"`
	CreatedAt string `json:"created_at"`
}

var shortcutAccountMapper = mapper.Mapper[shortcutMember]{
	Spec: objects.AccountSpec,
	Keys: []string{"Id"},
	Map: func(raw shortcutMember, alias string) (objects.Record, error) {
		rec := objects.Record{
			"Id":              objects.Text(raw.ID),
			"Name":            objects.Text(raw.Profile.Name),
			"Email":           objects.Text(raw.Profile.EmailAddress),
			"Is Active":       objects.Boolean(!raw.Disabled),
			"Source System":   objects.Text("shortcut"),
			"Connection Name": objects.Text(alias),
		}
		if t := isoDate(raw.CreatedAt); !t.IsZero() {
			rec["Created On"] = objects.Date(t)
		}
		return rec, nil
	},
}

type shortcutStory struct {
	ID              int64    `json:"id"`
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	AppURL          string   `json:"app_url"`
	WorkflowStateID int64    `json:"workflow_state_id"`
	EpicID          *int64   `json:"epic_id"`
	OwnerIDs        []string `json:"owner_ids"`
	RequestedByID   string   `json:"requested_by_id"`
	StartedAt       string   `json:"started_at"`
	CompletedAt     string   `json:"completed_at"`
}

// shortcutStoryMapper needs workspace context (state and member names), so
// Shortcut builds it per run instead of declaring it as a package value.
func (sc *Shortcut) storyMapper(states map[int64]string, members map[string]string, epics map[int64]string) mapper.Mapper[shortcutStory] {
	return mapper.Mapper[shortcutStory]{
		Spec: objects.ChangeRequestSpec,
		Keys: []string{"Key"},
		Map: func(raw shortcutStory, alias string) (objects.Record, error) {
			rec := objects.Record{
				"Key":             objects.Text(strconv.FormatInt(raw.ID, 10)),
				"Title":           objects.Text(raw.Name),
				"Description":     objects.Text(raw.Description),
				"Status":          objects.SingleSelect(states[raw.WorkflowStateID]),
				"Reporter":        objects.UserRef(members[raw.RequestedByID]),
				"Url":             objects.Text(raw.AppURL),
				"Source System":   objects.Text("shortcut"),
				"Connection Name": objects.Text(alias),
			}
			if len(raw.OwnerIDs) > 0 {
				rec["Assignee"] = objects.UserRef(members[raw.OwnerIDs[0]])
			}
			if raw.EpicID != nil {
				rec["Epic"] = objects.Text(epics[*raw.EpicID])
			}
			if t := isoDate(raw.StartedAt); !t.IsZero() {
				rec["Started"] = objects.Date(t)
			}
			if t := isoDate(raw.CompletedAt); !t.IsZero() {
				rec["Ended"] = objects.Date(t)
			}
			return rec, nil
		},
	}
}

func (sc *Shortcut) Run(ctx context.Context, s *integration.Session) error {
	token, err := sc.token(ctx, s)
	if err != nil {
		return err
	}
	base := sc.baseURL(s)

	var allMembers []shortcutMember
	resp, err := s.Client.Do(ctx, httpclient.Request{
		Method: http.MethodGet,
		URL:    base + "/api/v3/members",
		Header: shortcutHeader(token),
	})
	if err != nil {
		return err
	}
	if err := resp.Decode(&allMembers); err != nil {
		return err
	}
	counts, err := store.Reconcile(ctx, s.Store, s.Registry, s.Connection, shortcutAccountMapper,
		sliceStream(allMembers))
	s.AddCounts(shortcutAccountMapper.Spec.Name, counts)
	if err != nil {
		return err
	}

	workflows, err := sc.fetchWorkflows(ctx, s, token)
	if err != nil {
		return err
	}
	states := map[int64]string{}
	for _, wf := range workflows {
		for _, st := range wf.States {
			states[st.ID] = st.Name
		}
	}
	memberNames := make(map[string]string, len(allMembers))
	for _, m := range allMembers {
		memberNames[m.ID] = m.Profile.Name
	}
	epics, err := sc.fetchEpicNames(ctx, s, token)
	if err != nil {
		return err
	}

	workflowFilter := s.Connection.CredentialString("workflow_id")
	stories := httpclient.Paginate(ctx, func(ctx context.Context, cursor string) ([]shortcutStory, string, error) {
		target := cursor
		if target == "" {
			target = base + "/api/v3/search/stories?query=!is:archived&page_size=25"
		} else {
			target = base + target
		}
		resp, err := s.Client.Do(ctx, httpclient.Request{
			Method: http.MethodGet,
			URL:    target,
			Header: shortcutHeader(token),
		})
		if err != nil {
			return nil, "", err
		}
		var page struct {
			Data []shortcutStory `json:"data"`
			Next string          `json:"next"`
		}
		if err := resp.Decode(&page); err != nil {
			return nil, "", err
		}
		return page.Data, page.Next, nil
	})

	filtered := stories
	if workflowFilter != "" {
		wanted := map[int64]bool{}
		for _, wf := range workflows {
			if strconv.FormatInt(wf.ID, 10) == workflowFilter {
				for _, st := range wf.States {
					wanted[st.ID] = true
				}
			}
		}
		filtered = func(yield func(shortcutStory, error) bool) {
			for story, err := range stories {
				if err == nil && !wanted[story.WorkflowStateID] {
					continue
				}
				if !yield(story, err) {
					return
				}
			}
		}
	}

	counts, err = store.Reconcile(ctx, s.Store, s.Registry, s.Connection,
		sc.storyMapper(states, memberNames, epics), filtered)
	s.AddCounts(objects.ChangeRequestSpec.Name, counts)
	return err
}

func (sc *Shortcut) fetchEpicNames(ctx context.Context, s *integration.Session, token string) (map[int64]string, error) {
	resp, err := s.Client.Do(ctx, httpclient.Request{
		Method: http.MethodGet,
		URL:    sc.baseURL(s) + "/api/v3/epics",
		Header: shortcutHeader(token),
	})
	if err != nil {
		return nil, err
	}
	var epics []struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}
	if err := resp.Decode(&epics); err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(epics))
	for _, e := range epics {
		names[e.ID] = e.Name
	}
	return names, nil
}

// sliceStream adapts an already-fetched slice to the record stream shape.
func sliceStream[T any](items []T) func(func(T, error) bool) {
	return func(yield func(T, error) bool) {
		for _, item := range items {
			if !yield(item, nil) {
				return
			}
		}
	}
}
