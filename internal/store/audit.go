package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// AppendAudit writes one audit row outside any caller transaction. Mutation
// paths write their success rows inside the mutation's transaction; this
// entry point exists for failure outcomes, which must land even though the
// mutation itself rolled back.
func (s *Store) AppendAudit(ctx context.Context, entry AuditEntry) error {
	entry.Actor = normalizeActor(entry.Actor)
	if entry.Outcome == "" {
		entry.Outcome = OutcomeSuccess
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO audit_log (project_id, entity_type, entity_id, operation, actor, outcome, reason, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ProjectID, entry.EntityType, entry.EntityID, entry.Operation,
		entry.Actor, entry.Outcome, entry.Reason, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// QueryAudit returns audit rows for one project, newest first. Every filter
// field is optional; zero values mean "any".
func (s *Store) QueryAudit(ctx context.Context, projectID string, filter AuditFilter) ([]AuditEntry, error) {
	query := `
	SELECT id, project_id, entity_type, entity_id, operation, actor, outcome, reason, created_at
	FROM audit_log
	WHERE project_id = ?`
	args := []any{projectID}

	var conds []string
	if filter.EntityType != "" {
		conds = append(conds, "entity_type = ?")
		args = append(args, filter.EntityType)
	}
	if filter.EntityID != "" {
		conds = append(conds, "entity_id = ?")
		args = append(args, filter.EntityID)
	}
	if filter.Operation != "" {
		conds = append(conds, "operation = ?")
		args = append(args, filter.Operation)
	}
	if filter.Actor != "" {
		conds = append(conds, "actor = ?")
		args = append(args, filter.Actor)
	}
	if filter.Outcome != "" {
		conds = append(conds, "outcome = ?")
		args = append(args, filter.Outcome)
	}
	if filter.Since != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, filter.Since.UTC())
	}
	if filter.Until != nil {
		conds = append(conds, "created_at <= ?")
		args = append(args, filter.Until.UTC())
	}
	if len(conds) > 0 {
		query += " AND " + strings.Join(conds, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.EntityType, &e.EntityID,
			&e.Operation, &e.Actor, &e.Outcome, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
