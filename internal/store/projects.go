package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ProjectDeletion reports what a partition delete removed.
type ProjectDeletion struct {
	ProjectID        string `json:"project_id"`
	TasksDeleted     int64  `json:"tasks_deleted"`
	MemoriesDeleted  int64  `json:"memories_deleted"`
	SnapshotsDeleted int64  `json:"snapshots_deleted"`
}

// ListProjects returns every known partition, oldest first.
func (s *Store) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT project_id, created_at FROM projects ORDER BY created_at ASC, project_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetProject returns a partition record. Reads never create a partition.
func (s *Store) GetProject(ctx context.Context, projectID string) (*Project, error) {
	var p Project
	err := s.db.QueryRowContext(ctx, `SELECT project_id, created_at FROM projects WHERE project_id = ?`, projectID).
		Scan(&p.ID, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: project %s", ErrNotFound, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return &p, nil
}

// DeleteProject removes a partition: its tasks, memories, version ledger and
// the project row itself, all in one transaction. The audit log is exempt,
// so the trail of what happened in the partition survives its deletion.
func (s *Store) DeleteProject(ctx context.Context, projectID, actor string) (*ProjectDeletion, error) {
	actor = normalizeActor(actor)
	del, err := s.deleteProject(ctx, projectID, actor)
	if err != nil {
		s.recordFailure(ctx, projectID, EntityProject, projectID, OpDelete, actor, err)
		return nil, err
	}
	return del, nil
}

func (s *Store) deleteProject(ctx context.Context, projectID, actor string) (*ProjectDeletion, error) {
	del := &ProjectDeletion{ProjectID: projectID}
	var auditEntry AuditEntry
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRow(`SELECT COUNT(1) FROM projects WHERE project_id = ?`, projectID).Scan(&exists); err != nil {
			return fmt.Errorf("check project: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("%w: project %s", ErrNotFound, projectID)
		}
		var err error
		if del.TasksDeleted, err = execCount(tx, `DELETE FROM tasks WHERE project_id = ?`, projectID); err != nil {
			return fmt.Errorf("delete tasks: %w", err)
		}
		if del.MemoriesDeleted, err = execCount(tx, `DELETE FROM memories WHERE project_id = ?`, projectID); err != nil {
			return fmt.Errorf("delete memories: %w", err)
		}
		if del.SnapshotsDeleted, err = execCount(tx, `DELETE FROM versions WHERE project_id = ?`, projectID); err != nil {
			return fmt.Errorf("delete versions: %w", err)
		}
		if _, err = tx.Exec(`DELETE FROM projects WHERE project_id = ?`, projectID); err != nil {
			return fmt.Errorf("delete project: %w", err)
		}
		auditEntry = AuditEntry{
			ProjectID: projectID, EntityType: EntityProject, EntityID: projectID,
			Operation: OpDelete, Actor: actor, Outcome: OutcomeSuccess,
			Reason:    fmt.Sprintf("deleted %d tasks, %d memories, %d snapshots", del.TasksDeleted, del.MemoriesDeleted, del.SnapshotsDeleted),
			CreatedAt: time.Now().UTC(),
		}
		return appendAuditTx(tx, auditEntry)
	})
	if err != nil {
		return nil, err
	}
	s.publishAudit(ctx, auditEntry)
	return del, nil
}

func execCount(tx *sql.Tx, query string, args ...any) (int64, error) {
	res, err := tx.Exec(query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
