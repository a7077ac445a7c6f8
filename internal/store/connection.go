// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/heylaika/laika-sync/internal/errcode"
	"github.com/heylaika/laika-sync/internal/metrics"
)

var (
	// ErrConnectionNotFound is returned when no connection matches the lookup.
	ErrConnectionNotFound = errors.New("connection account not found")

	// ErrSyncInProgress is returned when a connection in SYNC is deleted.
	ErrSyncInProgress = errors.New("connection has a sync attempt in progress")
)

const connectionColumns = `c.id, c.organization_id, c.integration_id, c.integration_version_id,
	i.vendor, c.alias, c.status, c.error_code, c.result, c.authentication,
	c.configuration_state, c.control, c.created_by, c.created_at, c.updated_at`

// CreateConnection inserts a connection account in PENDING and returns its id.
func (s *Store) CreateConnection(ctx context.Context, conn *ConnectionAccount) (int64, error) {
	auth, cfgState, result, err := encodeConnectionJSON(conn)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	var id int64
	err = s.conn.QueryRowContext(ctx,
		`INSERT INTO connection_account
			(organization_id, integration_id, alias, status, error_code, result,
			 authentication, configuration_state, control, created_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 RETURNING id`,
		conn.OrganizationID, conn.IntegrationID, conn.Alias,
		string(StatusPending), string(errcode.None), result,
		auth, cfgState, conn.Control, conn.CreatedBy).Scan(&id)
	metrics.ObserveStoreQuery("create_connection", start, err)
	if err != nil {
		return 0, fmt.Errorf("insert connection: %w", err)
	}

	conn.ID = id
	conn.Status = StatusPending
	conn.ErrorCode = errcode.None
	if conn.Authentication == nil {
		conn.Authentication = map[string]string{}
	}
	if conn.ConfigurationState == nil {
		conn.ConfigurationState = map[string]any{}
	}
	if conn.Result == nil {
		conn.Result = map[string]any{}
	}
	return id, nil
}

// GetConnection loads a connection account by id.
func (s *Store) GetConnection(ctx context.Context, id int64) (*ConnectionAccount, error) {
	start := time.Now()
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+connectionColumns+`
		 FROM connection_account c
		 JOIN integration i ON i.id = c.integration_id
		 WHERE c.id = ?`, id)
	conn, err := scanConnection(row)
	metrics.ObserveStoreQuery("get_connection", start, err)
	return conn, err
}

// FindConnectionByControl resolves the connection an OAuth callback belongs
// to via its correlation id.
func (s *Store) FindConnectionByControl(ctx context.Context, control string) (*ConnectionAccount, error) {
	if control == "" {
		return nil, ErrConnectionNotFound
	}
	start := time.Now()
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+connectionColumns+`
		 FROM connection_account c
		 JOIN integration i ON i.id = c.integration_id
		 WHERE c.control = ?`, control)
	conn, err := scanConnection(row)
	metrics.ObserveStoreQuery("find_connection_by_control", start, err)
	return conn, err
}

// ConnectionsByVendor returns all connection accounts of one vendor.
func (s *Store) ConnectionsByVendor(ctx context.Context, vendor string) ([]*ConnectionAccount, error) {
	start := time.Now()
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+connectionColumns+`
		 FROM connection_account c
		 JOIN integration i ON i.id = c.integration_id
		 WHERE i.vendor = ?
		 ORDER BY c.id`, vendor)
	metrics.ObserveStoreQuery("connections_by_vendor", start, err)
	if err != nil {
		return nil, fmt.Errorf("query connections by vendor: %w", err)
	}
	defer rows.Close()
	return scanConnections(rows)
}

// SiblingConnections returns the other connections of the same organization
// and integration, the candidate set for duplicate-identity detection.
func (s *Store) SiblingConnections(ctx context.Context, conn *ConnectionAccount) ([]*ConnectionAccount, error) {
	start := time.Now()
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+connectionColumns+`
		 FROM connection_account c
		 JOIN integration i ON i.id = c.integration_id
		 WHERE c.organization_id = ? AND c.integration_id = ? AND c.id <> ?
		 ORDER BY c.id`,
		conn.OrganizationID, conn.IntegrationID, conn.ID)
	metrics.ObserveStoreQuery("sibling_connections", start, err)
	if err != nil {
		return nil, fmt.Errorf("query sibling connections: %w", err)
	}
	defer rows.Close()
	return scanConnections(rows)
}

// TryBeginSync atomically moves the connection into SYNC. It reports false
// when another attempt already holds the state.
func (s *Store) TryBeginSync(ctx context.Context, id int64) (bool, error) {
	start := time.Now()
	res, err := s.conn.ExecContext(ctx,
		`UPDATE connection_account
		 SET status = ?, updated_at = current_timestamp
		 WHERE id = ? AND status <> ?`,
		string(StatusSync), id, string(StatusSync))
	metrics.ObserveStoreQuery("try_begin_sync", start, err)
	if err != nil {
		return false, fmt.Errorf("begin sync: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("begin sync rows affected: %w", err)
	}
	return affected > 0, nil
}

// FinishAttempt records the terminal state of a sync attempt.
func (s *Store) FinishAttempt(ctx context.Context, id int64, status Status, code errcode.Code, result map[string]any) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal attempt result: %w", err)
	}
	if result == nil {
		payload = []byte("{}")
	}

	start := time.Now()
	_, err = s.conn.ExecContext(ctx,
		`UPDATE connection_account
		 SET status = ?, error_code = ?, result = ?, updated_at = current_timestamp
		 WHERE id = ?`,
		string(status), string(code), string(payload), id)
	metrics.ObserveStoreQuery("finish_attempt", start, err)
	if err != nil {
		return fmt.Errorf("finish attempt: %w", err)
	}
	return nil
}

// SaveAuthentication replaces the encrypted token container.
func (s *Store) SaveAuthentication(ctx context.Context, id int64, authentication map[string]string) error {
	payload, err := json.Marshal(authentication)
	if err != nil {
		return fmt.Errorf("marshal authentication: %w", err)
	}
	start := time.Now()
	_, err = s.conn.ExecContext(ctx,
		`UPDATE connection_account
		 SET authentication = ?, updated_at = current_timestamp
		 WHERE id = ?`, string(payload), id)
	metrics.ObserveStoreQuery("save_authentication", start, err)
	if err != nil {
		return fmt.Errorf("save authentication: %w", err)
	}
	return nil
}

// SaveConfigurationState replaces the user-submitted settings container.
func (s *Store) SaveConfigurationState(ctx context.Context, id int64, state map[string]any) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal configuration state: %w", err)
	}
	start := time.Now()
	_, err = s.conn.ExecContext(ctx,
		`UPDATE connection_account
		 SET configuration_state = ?, updated_at = current_timestamp
		 WHERE id = ?`, string(payload), id)
	metrics.ObserveStoreQuery("save_configuration_state", start, err)
	if err != nil {
		return fmt.Errorf("save configuration state: %w", err)
	}
	return nil
}

// SetControl stores the OAuth correlation id for callback matching.
func (s *Store) SetControl(ctx context.Context, id int64, control string) error {
	start := time.Now()
	_, err := s.conn.ExecContext(ctx,
		`UPDATE connection_account
		 SET control = ?, updated_at = current_timestamp
		 WHERE id = ?`, control, id)
	metrics.ObserveStoreQuery("set_control", start, err)
	if err != nil {
		return fmt.Errorf("set control: %w", err)
	}
	return nil
}

// PromoteLatestVersion points the connection at its integration's newest
// version. A connection with no published versions keeps a NULL pointer.
func (s *Store) PromoteLatestVersion(ctx context.Context, conn *ConnectionAccount) error {
	latest, err := s.LatestIntegrationVersion(ctx, conn.IntegrationID)
	if err != nil {
		return err
	}
	if latest == nil {
		return nil
	}

	start := time.Now()
	_, err = s.conn.ExecContext(ctx,
		`UPDATE connection_account
		 SET integration_version_id = ?, updated_at = current_timestamp
		 WHERE id = ?`, latest.ID, conn.ID)
	metrics.ObserveStoreQuery("promote_version", start, err)
	if err != nil {
		return fmt.Errorf("promote integration version: %w", err)
	}
	conn.IntegrationVersionID = &latest.ID
	return nil
}

// DeleteConnection hard-deletes a connection and its non-manual records.
// Refused while an attempt is in progress.
func (s *Store) DeleteConnection(ctx context.Context, id int64) error {
	conn, err := s.GetConnection(ctx, id)
	if err != nil {
		return err
	}
	if conn.Status == StatusSync {
		return ErrSyncInProgress
	}

	start := time.Now()
	_, err = s.conn.ExecContext(ctx,
		`DELETE FROM laika_object
		 WHERE connection_account_id = ? AND is_manually_created = false`, id)
	if err != nil {
		metrics.ObserveStoreQuery("delete_connection", start, err)
		return fmt.Errorf("delete connection records: %w", err)
	}
	_, err = s.conn.ExecContext(ctx, `DELETE FROM connection_account WHERE id = ?`, id)
	metrics.ObserveStoreQuery("delete_connection", start, err)
	if err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	return nil
}

func encodeConnectionJSON(conn *ConnectionAccount) (auth, cfgState, result string, err error) {
	if conn.Authentication == nil {
		conn.Authentication = map[string]string{}
	}
	if conn.ConfigurationState == nil {
		conn.ConfigurationState = map[string]any{}
	}
	if conn.Result == nil {
		conn.Result = map[string]any{}
	}

	authBytes, err := json.Marshal(conn.Authentication)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal authentication: %w", err)
	}
	stateBytes, err := json.Marshal(conn.ConfigurationState)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal configuration state: %w", err)
	}
	resultBytes, err := json.Marshal(conn.Result)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal result: %w", err)
	}
	return string(authBytes), string(stateBytes), string(resultBytes), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnection(row rowScanner) (*ConnectionAccount, error) {
	var (
		conn                   ConnectionAccount
		versionID              sql.NullInt64
		status, code           string
		auth, cfgState, result string
	)
	err := row.Scan(&conn.ID, &conn.OrganizationID, &conn.IntegrationID, &versionID,
		&conn.Vendor, &conn.Alias, &status, &code, &result, &auth,
		&cfgState, &conn.Control, &conn.CreatedBy, &conn.CreatedAt, &conn.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrConnectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan connection: %w", err)
	}

	conn.Status = Status(status)
	conn.ErrorCode = errcode.Code(code)
	if versionID.Valid {
		conn.IntegrationVersionID = &versionID.Int64
	}
	if err := json.Unmarshal([]byte(auth), &conn.Authentication); err != nil {
		return nil, fmt.Errorf("decode authentication: %w", err)
	}
	if err := json.Unmarshal([]byte(cfgState), &conn.ConfigurationState); err != nil {
		return nil, fmt.Errorf("decode configuration state: %w", err)
	}
	if err := json.Unmarshal([]byte(result), &conn.Result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &conn, nil
}

func scanConnections(rows *sql.Rows) ([]*ConnectionAccount, error) {
	var conns []*ConnectionAccount
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}
	return conns, rows.Err()
}
