// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

package store

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"time"

	"github.com/heylaika/laika-sync/internal/logging"
	"github.com/heylaika/laika-sync/internal/mapper"
	"github.com/heylaika/laika-sync/internal/metrics"
	"github.com/heylaika/laika-sync/internal/objects"
)

// Counts accounts for one reconciliation pass.
type Counts struct {
	Upserted    int `json:"upserted"`
	Inserted    int `json:"inserted"`
	SoftDeleted int `json:"soft_deleted"`
}

// Add accumulates another pass into the receiver.
func (c *Counts) Add(other Counts) {
	c.Upserted += other.Upserted
	c.Inserted += other.Inserted
	c.SoftDeleted += other.SoftDeleted
}

// Reconcile converges the connection's records of one canonical type onto the
// provider snapshot in raws. Each raw record is mapped, keyed, and upserted;
// live non-manual records absent from the snapshot are soft-deleted. Manual
// records are never touched. Records missing a key attribute are logged and
// skipped; when two raws share a key in one pass the last seen wins.
//
// Each record commits independently, so a mid-stream failure (provider error,
// deadline) preserves the partial result and returns the counts so far.
func Reconcile[T any](ctx context.Context, s *Store, registry *objects.Registry, conn *ConnectionAccount, m mapper.Mapper[T], raws iter.Seq2[T, error]) (Counts, error) {
	return reconcile(ctx, s, registry, conn, m, raws, true)
}

// ReconcileOne applies a single record without the cleanup phase. Webhook
// handlers use it to fold one provider event into the corpus without
// soft-deleting everything the event did not mention.
func ReconcileOne[T any](ctx context.Context, s *Store, registry *objects.Registry, conn *ConnectionAccount, m mapper.Mapper[T], raw T) (Counts, error) {
	single := func(yield func(T, error) bool) {
		yield(raw, nil)
	}
	return reconcile(ctx, s, registry, conn, m, single, false)
}

// ReconcileRecord upserts one already-mapped record, skipping the map phase.
// Webhook handlers use it after merging event attributes into an existing
// record with objects.Merge.
func ReconcileRecord[T any](ctx context.Context, s *Store, registry *objects.Registry, conn *ConnectionAccount, m mapper.Mapper[T], rec objects.Record) (Counts, error) {
	var counts Counts

	typeID, err := registry.Resolve(ctx, conn.OrganizationID, m.Spec)
	if err != nil {
		return counts, err
	}
	key, ok := m.Key(rec)
	if !ok {
		return counts, fmt.Errorf("%s record missing key attributes %v", m.Spec.Name, m.Keys)
	}

	inserted, err := s.upsertObject(ctx, conn.ID, typeID, key, rec)
	if err != nil {
		return counts, err
	}
	if inserted {
		counts.Inserted++
		metrics.ReconciledRecords.WithLabelValues(conn.Vendor, m.Spec.Name, "inserted").Inc()
	} else {
		counts.Upserted++
		metrics.ReconciledRecords.WithLabelValues(conn.Vendor, m.Spec.Name, "updated").Inc()
	}
	return counts, nil
}

func reconcile[T any](ctx context.Context, s *Store, registry *objects.Registry, conn *ConnectionAccount, m mapper.Mapper[T], raws iter.Seq2[T, error], cleanup bool) (Counts, error) {
	var counts Counts

	typeID, err := registry.Resolve(ctx, conn.OrganizationID, m.Spec)
	if err != nil {
		return counts, err
	}

	log := logging.Ctx(ctx)
	seen := make(map[string]struct{})

	for raw, rawErr := range raws {
		if rawErr != nil {
			return counts, rawErr
		}
		if err := ctx.Err(); err != nil {
			return counts, err
		}

		rec, err := m.Map(raw, conn.Alias)
		if err != nil {
			return counts, fmt.Errorf("map %s record: %w", m.Spec.Name, err)
		}

		key, ok := m.Key(rec)
		if !ok {
			log.Warn().Str("object_type", m.Spec.Name).Strs("key_attributes", m.Keys).Msg("Record missing key attribute, skipped")
			metrics.ReconciledRecords.WithLabelValues(conn.Vendor, m.Spec.Name, "skipped").Inc()
			continue
		}
		if _, dup := seen[key]; dup {
			log.Warn().Str("object_type", m.Spec.Name).Str("object_key", key).Msg("Duplicate key within one sync, last record wins")
		}

		inserted, err := s.upsertObject(ctx, conn.ID, typeID, key, rec)
		if err != nil {
			return counts, err
		}
		if inserted {
			counts.Inserted++
			metrics.ReconciledRecords.WithLabelValues(conn.Vendor, m.Spec.Name, "inserted").Inc()
		} else {
			counts.Upserted++
			metrics.ReconciledRecords.WithLabelValues(conn.Vendor, m.Spec.Name, "updated").Inc()
		}
		seen[key] = struct{}{}
	}

	if cleanup {
		deleted, err := s.softDeleteUnseen(ctx, conn.ID, typeID, seen)
		if err != nil {
			return counts, err
		}
		counts.SoftDeleted = deleted
		if deleted > 0 {
			metrics.ReconciledRecords.WithLabelValues(conn.Vendor, m.Spec.Name, "soft_deleted").Add(float64(deleted))
		}
	}

	log.Debug().
		Str("object_type", m.Spec.Name).
		Int("inserted", counts.Inserted).
		Int("upserted", counts.Upserted).
		Int("soft_deleted", counts.SoftDeleted).
		Msg("Reconciled records")
	return counts, nil
}

// upsertObject writes one canonical record. It reports whether a new row was
// inserted. An existing row (live or soft-deleted) with the same identity is
// overwritten and revived; manual rows are outside the identity space and
// never match.
func (s *Store) upsertObject(ctx context.Context, connID, typeID int64, key string, rec objects.Record) (bool, error) {
	data, err := objects.EncodeRecord(rec)
	if err != nil {
		return false, fmt.Errorf("encode record: %w", err)
	}

	start := time.Now()
	var existingID int64
	err = s.conn.QueryRowContext(ctx,
		`SELECT id FROM laika_object
		 WHERE connection_account_id = ? AND object_type_id = ? AND object_key = ?
		   AND is_manually_created = false`,
		connID, typeID, key).Scan(&existingID)

	switch {
	case err == sql.ErrNoRows:
		_, err = s.conn.ExecContext(ctx,
			`INSERT INTO laika_object
				(object_type_id, connection_account_id, object_key, data, is_manually_created)
			 VALUES (?, ?, ?, ?, false)`,
			typeID, connID, key, string(data))
		metrics.ObserveStoreQuery("insert_object", start, err)
		if err != nil {
			return false, fmt.Errorf("insert laika object: %w", err)
		}
		return true, nil

	case err != nil:
		metrics.ObserveStoreQuery("upsert_object", start, err)
		return false, fmt.Errorf("query laika object: %w", err)

	default:
		_, err = s.conn.ExecContext(ctx,
			`UPDATE laika_object
			 SET data = ?, deleted_at = NULL, updated_at = current_timestamp
			 WHERE id = ?`,
			string(data), existingID)
		metrics.ObserveStoreQuery("upsert_object", start, err)
		if err != nil {
			return false, fmt.Errorf("update laika object: %w", err)
		}
		return false, nil
	}
}

// softDeleteUnseen marks live non-manual records of the (connection, type)
// scope whose key the pass never produced.
func (s *Store) softDeleteUnseen(ctx context.Context, connID, typeID int64, seen map[string]struct{}) (int, error) {
	start := time.Now()
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, object_key FROM laika_object
		 WHERE connection_account_id = ? AND object_type_id = ?
		   AND is_manually_created = false AND deleted_at IS NULL`,
		connID, typeID)
	if err != nil {
		metrics.ObserveStoreQuery("soft_delete_unseen", start, err)
		return 0, fmt.Errorf("query live records: %w", err)
	}

	var stale []int64
	for rows.Next() {
		var (
			id  int64
			key string
		)
		if err := rows.Scan(&id, &key); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan live record: %w", err)
		}
		if _, ok := seen[key]; !ok {
			stale = append(stale, id)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("iterate live records: %w", err)
	}
	rows.Close()

	for _, id := range stale {
		_, err := s.conn.ExecContext(ctx,
			`UPDATE laika_object
			 SET deleted_at = current_timestamp, updated_at = current_timestamp
			 WHERE id = ?`, id)
		if err != nil {
			metrics.ObserveStoreQuery("soft_delete_unseen", start, err)
			return 0, fmt.Errorf("soft-delete record %d: %w", id, err)
		}
	}

	metrics.ObserveStoreQuery("soft_delete_unseen", start, nil)
	return len(stale), nil
}

// ObjectRow is a stored laika object, decoded for inspection by adapters and
// tests.
type ObjectRow struct {
	ID                int64
	ObjectTypeID      int64
	ConnectionID      *int64
	Key               string
	Data              objects.Record
	IsManuallyCreated bool
	DeletedAt         *time.Time
}

// ObjectsForConnection lists a connection's records of one type, including
// soft-deleted rows.
func (s *Store) ObjectsForConnection(ctx context.Context, connID, typeID int64, spec objects.TypeSpec) ([]ObjectRow, error) {
	start := time.Now()
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, object_type_id, connection_account_id, object_key, data,
		        is_manually_created, deleted_at
		 FROM laika_object
		 WHERE connection_account_id = ? AND object_type_id = ?
		 ORDER BY id`,
		connID, typeID)
	metrics.ObserveStoreQuery("objects_for_connection", start, err)
	if err != nil {
		return nil, fmt.Errorf("query connection objects: %w", err)
	}
	defer rows.Close()
	return scanObjects(rows, spec)
}

// FindObjectByKey loads one record by its reconciliation identity. Returns
// nil when absent.
func (s *Store) FindObjectByKey(ctx context.Context, connID, typeID int64, key string, spec objects.TypeSpec) (*ObjectRow, error) {
	start := time.Now()
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, object_type_id, connection_account_id, object_key, data,
		        is_manually_created, deleted_at
		 FROM laika_object
		 WHERE connection_account_id = ? AND object_type_id = ? AND object_key = ?
		   AND is_manually_created = false`,
		connID, typeID, key)
	metrics.ObserveStoreQuery("find_object_by_key", start, err)
	if err != nil {
		return nil, fmt.Errorf("query object by key: %w", err)
	}
	defer rows.Close()

	objectRows, err := scanObjects(rows, spec)
	if err != nil || len(objectRows) == 0 {
		return nil, err
	}
	return &objectRows[0], nil
}

// InsertManualObject creates a manually-created record, outside any
// connection's scope. Reconciliation never touches it.
func (s *Store) InsertManualObject(ctx context.Context, typeID int64, rec objects.Record) (int64, error) {
	data, err := objects.EncodeRecord(rec)
	if err != nil {
		return 0, fmt.Errorf("encode record: %w", err)
	}

	start := time.Now()
	var id int64
	err = s.conn.QueryRowContext(ctx,
		`INSERT INTO laika_object (object_type_id, data, is_manually_created)
		 VALUES (?, ?, true) RETURNING id`,
		typeID, string(data)).Scan(&id)
	metrics.ObserveStoreQuery("insert_manual_object", start, err)
	if err != nil {
		return 0, fmt.Errorf("insert manual object: %w", err)
	}
	return id, nil
}

func scanObjects(rows *sql.Rows, spec objects.TypeSpec) ([]ObjectRow, error) {
	var out []ObjectRow
	for rows.Next() {
		var (
			row       ObjectRow
			connID    sql.NullInt64
			key       sql.NullString
			data      string
			deletedAt sql.NullTime
		)
		if err := rows.Scan(&row.ID, &row.ObjectTypeID, &connID, &key, &data,
			&row.IsManuallyCreated, &deletedAt); err != nil {
			return nil, fmt.Errorf("scan laika object: %w", err)
		}
		if connID.Valid {
			row.ConnectionID = &connID.Int64
		}
		if key.Valid {
			row.Key = key.String
		}
		if deletedAt.Valid {
			row.DeletedAt = &deletedAt.Time
		}

		rec, err := objects.DecodeRecord(spec, []byte(data))
		if err != nil {
			return nil, err
		}
		row.Data = rec
		out = append(out, row)
	}
	return out, rows.Err()
}
