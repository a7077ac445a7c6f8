// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/heylaika/laika-sync/internal/metrics"
)

// CreateOrganization inserts a tenant.
func (s *Store) CreateOrganization(ctx context.Context, org Organization) error {
	start := time.Now()
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO organization (id, name) VALUES (?, ?)`, org.ID, org.Name)
	metrics.ObserveStoreQuery("create_organization", start, err)
	if err != nil {
		return fmt.Errorf("insert organization: %w", err)
	}
	return nil
}

// CreateOrgUser inserts an organization member.
func (s *Store) CreateOrgUser(ctx context.Context, user OrgUser) error {
	start := time.Now()
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO org_user (id, organization_id, email, first_name, last_name, role)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID, user.OrganizationID, user.Email, user.FirstName, user.LastName, user.Role)
	metrics.ObserveStoreQuery("create_org_user", start, err)
	if err != nil {
		return fmt.Errorf("insert org user: %w", err)
	}
	return nil
}

// OrgAdmins returns the user ids of an organization's admins, the default
// alert receivers.
func (s *Store) OrgAdmins(ctx context.Context, organizationID string) ([]string, error) {
	start := time.Now()
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id FROM org_user WHERE organization_id = ? AND role = ? ORDER BY id`,
		organizationID, RoleAdmin)
	metrics.ObserveStoreQuery("org_admins", start, err)
	if err != nil {
		return nil, fmt.Errorf("query org admins: %w", err)
	}
	defer rows.Close()

	var admins []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan org admin: %w", err)
		}
		admins = append(admins, id)
	}
	return admins, rows.Err()
}

// FindUsersByEmail returns organization members matching an email address,
// case-insensitively. Used to match background-check candidates to platform
// users.
func (s *Store) FindUsersByEmail(ctx context.Context, organizationID, email string) ([]OrgUser, error) {
	start := time.Now()
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, organization_id, email, first_name, last_name, role
		 FROM org_user
		 WHERE organization_id = ? AND lower(email) = lower(?)`,
		organizationID, email)
	metrics.ObserveStoreQuery("find_users_by_email", start, err)
	if err != nil {
		return nil, fmt.Errorf("query users by email: %w", err)
	}
	defer rows.Close()

	var users []OrgUser
	for rows.Next() {
		var u OrgUser
		if err := rows.Scan(&u.ID, &u.OrganizationID, &u.Email, &u.FirstName, &u.LastName, &u.Role); err != nil {
			return nil, fmt.Errorf("scan org user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// GetOrCreateIntegration resolves a vendor's catalogue entry, creating it on
// first use.
func (s *Store) GetOrCreateIntegration(ctx context.Context, vendor, displayName string) (int64, error) {
	start := time.Now()
	var id int64
	err := s.conn.QueryRowContext(ctx,
		`SELECT id FROM integration WHERE vendor = ?`, vendor).Scan(&id)
	if err == nil {
		metrics.ObserveStoreQuery("get_integration", start, nil)
		return id, nil
	}
	if err != sql.ErrNoRows {
		metrics.ObserveStoreQuery("get_integration", start, err)
		return 0, fmt.Errorf("query integration: %w", err)
	}

	err = s.conn.QueryRowContext(ctx,
		`INSERT INTO integration (vendor, display_name) VALUES (?, ?) RETURNING id`,
		vendor, displayName).Scan(&id)
	metrics.ObserveStoreQuery("create_integration", start, err)
	if err != nil {
		return 0, fmt.Errorf("insert integration: %w", err)
	}
	return id, nil
}

// CreateIntegrationVersion records a new scope snapshot for an integration.
func (s *Store) CreateIntegrationVersion(ctx context.Context, integrationID int64, versionNumber int, metadata map[string]any) (int64, error) {
	payload, err := json.Marshal(metadata)
	if err != nil {
		return 0, fmt.Errorf("marshal version metadata: %w", err)
	}

	start := time.Now()
	var id int64
	err = s.conn.QueryRowContext(ctx,
		`INSERT INTO integration_version (integration_id, version_number, metadata)
		 VALUES (?, ?, ?) RETURNING id`,
		integrationID, versionNumber, string(payload)).Scan(&id)
	metrics.ObserveStoreQuery("create_integration_version", start, err)
	if err != nil {
		return 0, fmt.Errorf("insert integration version: %w", err)
	}
	return id, nil
}

// LatestIntegrationVersion returns the highest-numbered version for an
// integration, or nil when none exists.
func (s *Store) LatestIntegrationVersion(ctx context.Context, integrationID int64) (*IntegrationVersion, error) {
	start := time.Now()
	var (
		v       IntegrationVersion
		rawMeta string
	)
	err := s.conn.QueryRowContext(ctx,
		`SELECT id, integration_id, version_number, metadata, created_at
		 FROM integration_version
		 WHERE integration_id = ?
		 ORDER BY version_number DESC
		 LIMIT 1`, integrationID).
		Scan(&v.ID, &v.IntegrationID, &v.VersionNumber, &rawMeta, &v.CreatedAt)
	if err == sql.ErrNoRows {
		metrics.ObserveStoreQuery("latest_integration_version", start, nil)
		return nil, nil
	}
	metrics.ObserveStoreQuery("latest_integration_version", start, err)
	if err != nil {
		return nil, fmt.Errorf("query latest integration version: %w", err)
	}

	if err := json.Unmarshal([]byte(rawMeta), &v.Metadata); err != nil {
		return nil, fmt.Errorf("decode version metadata: %w", err)
	}
	return &v, nil
}
