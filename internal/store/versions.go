package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// ListVersions returns the entity's ledger snapshots newest first. The
// ledger is append-only: results for an entity only ever grow by prefix,
// earlier snapshots never change.
func (s *Store) ListVersions(ctx context.Context, projectID, entityType, entityID string, limit, offset int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
	SELECT project_id, entity_type, entity_id, seq, operation, actor, message, payload, created_at
	FROM versions
	WHERE project_id = ? AND entity_type = ? AND entity_id = ?
	ORDER BY seq DESC
	LIMIT ? OFFSET ?`,
		projectID, entityType, entityID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	return out, rows.Err()
}

// CountVersions returns the total number of ledger snapshots for an entity.
func (s *Store) CountVersions(ctx context.Context, projectID, entityType, entityID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM versions WHERE project_id = ? AND entity_type = ? AND entity_id = ?`,
		projectID, entityType, entityID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count versions: %w", err)
	}
	return n, nil
}

// GetVersion returns one snapshot by sequence number.
func (s *Store) GetVersion(ctx context.Context, projectID, entityType, entityID string, seq int64) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT project_id, entity_type, entity_id, seq, operation, actor, message, payload, created_at
	FROM versions
	WHERE project_id = ? AND entity_type = ? AND entity_id = ? AND seq = ?`,
		projectID, entityType, entityID, seq)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: version %d of %s %s", ErrNotFound, seq, entityType, entityID)
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func scanSnapshot(row rowScanner) (*Snapshot, error) {
	var snap Snapshot
	var payload string
	err := row.Scan(
		&snap.ProjectID, &snap.EntityType, &snap.EntityID, &snap.Seq,
		&snap.Operation, &snap.Actor, &snap.Message, &payload, &snap.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan version: %w", err)
	}
	snap.Payload = json.RawMessage(payload)
	return &snap, nil
}

func getVersionTx(tx *sql.Tx, projectID, entityType, entityID string, seq int64) (*Snapshot, error) {
	row := tx.QueryRow(`
	SELECT project_id, entity_type, entity_id, seq, operation, actor, message, payload, created_at
	FROM versions
	WHERE project_id = ? AND entity_type = ? AND entity_id = ? AND seq = ?`,
		projectID, entityType, entityID, seq)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: version %d of %s %s", ErrNotFound, seq, entityType, entityID)
	}
	return snap, err
}

// maxVersionSeqTx returns the highest recorded seq for an entity, so a
// re-created entity continues its sequence instead of reusing numbers.
func maxVersionSeqTx(tx *sql.Tx, projectID, entityType, entityID string) (int64, error) {
	var max sql.NullInt64
	err := tx.QueryRow(
		`SELECT MAX(seq) FROM versions WHERE project_id = ? AND entity_type = ? AND entity_id = ?`,
		projectID, entityType, entityID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max version seq: %w", err)
	}
	if !max.Valid {
		return 0, fmt.Errorf("%w: no versions for %s %s", ErrNotFound, entityType, entityID)
	}
	return max.Int64, nil
}
