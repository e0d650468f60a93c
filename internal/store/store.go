// Package store is the SQLite-backed data engine: partition-scoped tasks
// and memories guarded by optimistic concurrency, an append-only version
// ledger, and an append-only audit log. Every mutation commits the entity
// write, its ledger snapshot, and its audit row in one transaction.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// AuditSink receives committed audit entries for mirroring to an external
// system. Delivery is best-effort: the SQLite row is the source of truth.
type AuditSink interface {
	Publish(ctx context.Context, entry AuditEntry) error
}

// Store owns the database handle. Safe for concurrent use.
type Store struct {
	db   *sql.DB
	sink AuditSink
}

const busyAttempts = 3

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// DB returns the underlying handle for shared access (e.g. CLI inspection).
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error {
	return s.db.Close()
}

// SetAuditSink installs an optional mirror for committed audit entries.
func (s *Store) SetAuditSink(sink AuditSink) { s.sink = sink }

// withTx runs fn in a transaction, retrying the whole transaction a bounded
// number of times on transient lock errors. Domain errors from fn are never
// retried. After the retries a still-busy failure is reported as
// ErrStorageUnavailable.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var err error
	for attempt := 0; attempt < busyAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err = s.runTx(ctx, fn)
		if err == nil || !isBusy(err) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}

func (s *Store) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ensureProject creates the partition row on first write. Reads never call
// this: a read of an unknown partition stays a miss.
func ensureProject(tx *sql.Tx, projectID string) error {
	_, err := tx.Exec(`INSERT OR IGNORE INTO projects (project_id, created_at) VALUES (?, ?)`, projectID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("ensure project: %w", err)
	}
	return nil
}

func appendVersionTx(tx *sql.Tx, snap Snapshot) error {
	_, err := tx.Exec(`
	INSERT INTO versions (project_id, entity_type, entity_id, seq, operation, actor, message, payload, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ProjectID, snap.EntityType, snap.EntityID, snap.Seq,
		snap.Operation, snap.Actor, snap.Message, string(snap.Payload), snap.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append version: %w", err)
	}
	return nil
}

func appendAuditTx(tx *sql.Tx, entry AuditEntry) error {
	_, err := tx.Exec(`
	INSERT INTO audit_log (project_id, entity_type, entity_id, operation, actor, outcome, reason, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ProjectID, entry.EntityType, entry.EntityID, entry.Operation,
		entry.Actor, entry.Outcome, entry.Reason, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// recordFailure appends a failure audit row outside the rolled-back
// transaction, so audit completeness does not depend on the mutation's
// success. Best-effort: a second storage failure is only logged.
func (s *Store) recordFailure(ctx context.Context, projectID, entityType, entityID, operation, actor string, cause error) {
	entry := AuditEntry{
		ProjectID:  projectID,
		EntityType: entityType,
		EntityID:   entityID,
		Operation:  operation,
		Actor:      actor,
		Outcome:    OutcomeFailure,
		Reason:     cause.Error(),
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.AppendAudit(ctx, entry); err != nil {
		slog.Warn("Failed to record failure audit entry", "project", projectID, "entity", entityID, "error", err)
	}
}

// publishAudit mirrors a committed entry to the configured sink, if any.
func (s *Store) publishAudit(ctx context.Context, entry AuditEntry) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Publish(ctx, entry); err != nil {
		slog.Warn("Audit relay publish failed", "project", entry.ProjectID, "entity", entry.EntityID, "error", err)
	}
}

func normalizeActor(actor string) string {
	if actor == "" {
		return "system"
	}
	return actor
}

func marshalPayload(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return b, nil
}
