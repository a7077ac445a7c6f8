// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

package store

import (
	"time"

	"github.com/heylaika/laika-sync/internal/errcode"
)

// Status is the connection account lifecycle state.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSync    Status = "SYNC"
	StatusSuccess Status = "SUCCESS"
	StatusError   Status = "ERROR"
)

// Organization is a tenant.
type Organization struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// OrgUser is a member of an organization. Admins receive alerts.
type OrgUser struct {
	ID             string
	OrganizationID string
	Email          string
	FirstName      string
	LastName       string
	Role           string
}

const RoleAdmin = "ADMIN"

// Integration is a vendor entry in the catalogue.
type Integration struct {
	ID          int64
	Vendor      string
	DisplayName string
	Metadata    map[string]any
}

// IntegrationVersion snapshots the scopes and capabilities a vendor
// integration requests at a point in time.
type IntegrationVersion struct {
	ID            int64
	IntegrationID int64
	VersionNumber int
	Metadata      map[string]any
	CreatedAt     time.Time
}

// ConnectionAccount is one organization's connection to a vendor.
//
// Authentication holds encrypted token fields; ConfigurationState holds
// user-submitted settings, possibly with encrypted credentials under
// "credentials". Control is the opaque correlation id matching OAuth
// callbacks back to the connection.
type ConnectionAccount struct {
	ID                   int64
	OrganizationID       string
	IntegrationID        int64
	IntegrationVersionID *int64
	Vendor               string
	Alias                string
	Status               Status
	ErrorCode            errcode.Code
	Result               map[string]any
	Authentication       map[string]string
	ConfigurationState   map[string]any
	Control              string
	CreatedBy            string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// CredentialString reads a string field from the configuration state.
func (c *ConnectionAccount) CredentialString(key string) string {
	if c.ConfigurationState == nil {
		return ""
	}
	value, _ := c.ConfigurationState[key].(string)
	return value
}

// Alert is a persisted alert record. TransitionKey identifies the state
// transition that produced the alert; a second alert for the same
// (type, related object, transition) is suppressed.
type Alert struct {
	ID                int64
	Type              string
	Sender            string
	RelatedObjectType string
	RelatedObjectID   string
	TransitionKey     string
	Payload           map[string]any
	CreatedAt         time.Time
}
