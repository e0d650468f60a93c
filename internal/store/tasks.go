package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taskledger/taskledger/internal/depgraph"
)

// TaskPatch carries the fields of an optimistic task update. Nil fields are
// left untouched.
type TaskPatch struct {
	Name                 *string        `json:"name,omitempty"`
	Description          *string        `json:"description,omitempty"`
	Status               *string        `json:"status,omitempty"`
	Dependencies         *[]string      `json:"dependencies,omitempty"`
	Notes                *string        `json:"notes,omitempty"`
	ImplementationGuide  *string        `json:"implementation_guide,omitempty"`
	VerificationCriteria *string        `json:"verification_criteria,omitempty"`
	Summary              *string        `json:"summary,omitempty"`
	RelatedFiles         *[]RelatedFile `json:"related_files,omitempty"`
	Todos                *[]TodoItem    `json:"todos,omitempty"`
}

// CreateTask inserts a task into its partition with version_number 0 and
// appends the create snapshot and audit row in the same transaction. The id
// is assigned when absent; a caller-supplied id that already exists in the
// partition is a conflict. Dependency references may be task ids or task
// names; names are resolved to ids.
func (s *Store) CreateTask(ctx context.Context, task *Task, actor, message string) (*Task, error) {
	actor = normalizeActor(actor)
	if task.ProjectID == "" {
		task.ProjectID = DefaultProject
	}
	created, err := s.createTask(ctx, task, actor, message)
	if err != nil {
		s.recordFailure(ctx, task.ProjectID, EntityTask, task.ID, OpCreate, actor, err)
		return nil, err
	}
	return created, nil
}

func (s *Store) createTask(ctx context.Context, task *Task, actor, message string) (*Task, error) {
	t := *task
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = TaskStatusPending
	}
	if err := validateTask(&t); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	t.VersionNumber = 0
	t.CreatedAt = now
	t.UpdatedAt = now

	var auditEntry AuditEntry
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureProject(tx, t.ProjectID); err != nil {
			return err
		}
		var exists int
		err := tx.QueryRow(`SELECT COUNT(1) FROM tasks WHERE project_id = ? AND task_id = ?`, t.ProjectID, t.ID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check task id: %w", err)
		}
		if exists > 0 {
			return fmt.Errorf("%w: task id %s already exists", ErrConflict, t.ID)
		}
		graph, names, err := loadGraphTx(tx, t.ProjectID)
		if err != nil {
			return err
		}
		resolved, err := resolveDeps(t.ID, t.Dependencies, graph, names)
		if err != nil {
			return err
		}
		t.Dependencies = resolved
		if err := depgraph.Validate(graph, t.ID, t.Dependencies); err != nil {
			return err
		}
		if err := insertTaskTx(tx, &t); err != nil {
			return err
		}
		payload, err := marshalPayload(&t)
		if err != nil {
			return err
		}
		if err := appendVersionTx(tx, Snapshot{
			ProjectID: t.ProjectID, EntityType: EntityTask, EntityID: t.ID,
			Seq: 0, Operation: OpCreate, Actor: actor, Message: message,
			Payload: payload, CreatedAt: now,
		}); err != nil {
			return err
		}
		auditEntry = AuditEntry{
			ProjectID: t.ProjectID, EntityType: EntityTask, EntityID: t.ID,
			Operation: OpCreate, Actor: actor, Outcome: OutcomeSuccess, CreatedAt: now,
		}
		return appendAuditTx(tx, auditEntry)
	})
	if err != nil {
		return nil, err
	}
	s.publishAudit(ctx, auditEntry)
	return &t, nil
}

// GetTask returns a task by id within its partition. Reads never create a
// partition: an unknown partition is just a miss.
func (s *Store) GetTask(ctx context.Context, projectID, taskID string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, taskSelect+` WHERE project_id = ? AND task_id = ?`, projectID, taskID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: task %s", ErrNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// ListTasks returns the partition's tasks ordered by creation time, with an
// optional status filter.
func (s *Store) ListTasks(ctx context.Context, projectID, status string, limit, offset int) ([]Task, error) {
	if limit <= 0 {
		limit = 100
	}
	query := taskSelect + ` WHERE project_id = ?`
	args := []interface{}{projectID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at ASC, task_id ASC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// UpdateTask applies patch if the stored version_number equals expected.
// Exactly one of two writers racing on the same expected version wins; the
// loser gets ErrConflict and must re-read. On success the version advances
// by exactly 1 and the update snapshot and audit row commit atomically with
// the entity write.
func (s *Store) UpdateTask(ctx context.Context, projectID, taskID string, expected int64, patch TaskPatch, actor, message string) (*Task, error) {
	actor = normalizeActor(actor)
	updated, err := s.updateTask(ctx, projectID, taskID, expected, patch, actor, message, OpUpdate)
	if err != nil {
		s.recordFailure(ctx, projectID, EntityTask, taskID, OpUpdate, actor, err)
		return nil, err
	}
	return updated, nil
}

func (s *Store) updateTask(ctx context.Context, projectID, taskID string, expected int64, patch TaskPatch, actor, message, operation string) (*Task, error) {
	var t *Task
	var auditEntry AuditEntry
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := getTaskTx(tx, projectID, taskID)
		if err != nil {
			return err
		}
		if cur.VersionNumber != expected {
			return fmt.Errorf("%w: task %s is at version %d, expected %d", ErrConflict, taskID, cur.VersionNumber, expected)
		}
		next := *cur
		applyTaskPatch(&next, patch)
		if err := validateTask(&next); err != nil {
			return err
		}
		if patch.Dependencies != nil {
			graph, names, err := loadGraphTx(tx, projectID)
			if err != nil {
				return err
			}
			resolved, err := resolveDeps(taskID, next.Dependencies, graph, names)
			if err != nil {
				return err
			}
			next.Dependencies = resolved
			if err := depgraph.Validate(graph, taskID, next.Dependencies); err != nil {
				return err
			}
		}
		now := time.Now().UTC()
		next.VersionNumber = expected + 1
		next.UpdatedAt = now
		if err := casUpdateTaskTx(tx, &next, expected); err != nil {
			return err
		}
		payload, err := marshalPayload(&next)
		if err != nil {
			return err
		}
		if err := appendVersionTx(tx, Snapshot{
			ProjectID: projectID, EntityType: EntityTask, EntityID: taskID,
			Seq: next.VersionNumber, Operation: operation, Actor: actor, Message: message,
			Payload: payload, CreatedAt: now,
		}); err != nil {
			return err
		}
		auditEntry = AuditEntry{
			ProjectID: projectID, EntityType: EntityTask, EntityID: taskID,
			Operation: operation, Actor: actor, Outcome: OutcomeSuccess, CreatedAt: now,
		}
		if err := appendAuditTx(tx, auditEntry); err != nil {
			return err
		}
		t = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publishAudit(ctx, auditEntry)
	return t, nil
}

// DeleteTask removes the task row if the stored version matches expected.
// The final state is preserved as a delete snapshot; earlier snapshots and
// all audit rows stay behind.
func (s *Store) DeleteTask(ctx context.Context, projectID, taskID string, expected int64, actor, message string) error {
	actor = normalizeActor(actor)
	err := s.deleteTask(ctx, projectID, taskID, expected, actor, message)
	if err != nil {
		s.recordFailure(ctx, projectID, EntityTask, taskID, OpDelete, actor, err)
	}
	return err
}

func (s *Store) deleteTask(ctx context.Context, projectID, taskID string, expected int64, actor, message string) error {
	var auditEntry AuditEntry
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := getTaskTx(tx, projectID, taskID)
		if err != nil {
			return err
		}
		if cur.VersionNumber != expected {
			return fmt.Errorf("%w: task %s is at version %d, expected %d", ErrConflict, taskID, cur.VersionNumber, expected)
		}
		res, err := tx.Exec(`DELETE FROM tasks WHERE project_id = ? AND task_id = ? AND version_number = ?`, projectID, taskID, expected)
		if err != nil {
			return fmt.Errorf("delete task: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: task %s changed concurrently", ErrConflict, taskID)
		}
		now := time.Now().UTC()
		final := *cur
		final.VersionNumber = expected + 1
		final.UpdatedAt = now
		payload, err := marshalPayload(&final)
		if err != nil {
			return err
		}
		if err := appendVersionTx(tx, Snapshot{
			ProjectID: projectID, EntityType: EntityTask, EntityID: taskID,
			Seq: final.VersionNumber, Operation: OpDelete, Actor: actor, Message: message,
			Payload: payload, CreatedAt: now,
		}); err != nil {
			return err
		}
		auditEntry = AuditEntry{
			ProjectID: projectID, EntityType: EntityTask, EntityID: taskID,
			Operation: OpDelete, Actor: actor, Outcome: OutcomeSuccess, CreatedAt: now,
		}
		return appendAuditTx(tx, auditEntry)
	})
	if err != nil {
		return err
	}
	s.publishAudit(ctx, auditEntry)
	return nil
}

// RevertTask restores the payload of ledger snapshot seq as a new, later
// version tagged rollback. The ledger is never truncated. When the task row
// is gone (the history ended in a delete), the task is re-created and its
// version continues past the highest recorded seq, so sequence numbers are
// never reused.
func (s *Store) RevertTask(ctx context.Context, projectID, taskID string, seq int64, actor string) (*Task, error) {
	actor = normalizeActor(actor)
	t, err := s.revertTask(ctx, projectID, taskID, seq, actor)
	if err != nil {
		s.recordFailure(ctx, projectID, EntityTask, taskID, OpRollback, actor, err)
		return nil, err
	}
	return t, nil
}

func (s *Store) revertTask(ctx context.Context, projectID, taskID string, seq int64, actor string) (*Task, error) {
	var t *Task
	var auditEntry AuditEntry
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		snap, err := getVersionTx(tx, projectID, EntityTask, taskID, seq)
		if err != nil {
			return err
		}
		var target Task
		if err := json.Unmarshal(snap.Payload, &target); err != nil {
			return fmt.Errorf("decode snapshot payload: %w", err)
		}
		message := fmt.Sprintf("reverted to version %d", seq)
		now := time.Now().UTC()

		cur, err := getTaskTx(tx, projectID, taskID)
		switch {
		case err == nil:
			next := *cur
			restoreTaskPayload(&next, &target)
			next.VersionNumber = cur.VersionNumber + 1
			next.UpdatedAt = now
			if err := casUpdateTaskTx(tx, &next, cur.VersionNumber); err != nil {
				return err
			}
			t = &next
		case errors.Is(err, ErrNotFound):
			maxSeq, err := maxVersionSeqTx(tx, projectID, EntityTask, taskID)
			if err != nil {
				return err
			}
			next := target
			next.ProjectID = projectID
			next.ID = taskID
			next.VersionNumber = maxSeq + 1
			next.UpdatedAt = now
			if next.CreatedAt.IsZero() {
				next.CreatedAt = now
			}
			if err := insertTaskTx(tx, &next); err != nil {
				return err
			}
			t = &next
		default:
			return err
		}

		payload, err := marshalPayload(t)
		if err != nil {
			return err
		}
		if err := appendVersionTx(tx, Snapshot{
			ProjectID: projectID, EntityType: EntityTask, EntityID: taskID,
			Seq: t.VersionNumber, Operation: OpRollback, Actor: actor, Message: message,
			Payload: payload, CreatedAt: now,
		}); err != nil {
			return err
		}
		auditEntry = AuditEntry{
			ProjectID: projectID, EntityType: EntityTask, EntityID: taskID,
			Operation: OpRollback, Actor: actor, Outcome: OutcomeSuccess,
			Reason: message, CreatedAt: now,
		}
		return appendAuditTx(tx, auditEntry)
	})
	if err != nil {
		return nil, err
	}
	s.publishAudit(ctx, auditEntry)
	return t, nil
}

// BulkCreateTasks creates a batch of tasks in one transaction. Dependency
// references may name sibling tasks in the batch; the whole batch is
// resolved and validated as a unit before anything commits.
func (s *Store) BulkCreateTasks(ctx context.Context, projectID string, drafts []*Task, actor, message string) ([]Task, error) {
	actor = normalizeActor(actor)
	if projectID == "" {
		projectID = DefaultProject
	}
	created, err := s.bulkCreateTasks(ctx, projectID, drafts, actor, message)
	if err != nil {
		s.recordFailure(ctx, projectID, EntityTask, "", OpCreate, actor, err)
		return nil, err
	}
	return created, nil
}

func (s *Store) bulkCreateTasks(ctx context.Context, projectID string, drafts []*Task, actor, message string) ([]Task, error) {
	if len(drafts) == 0 {
		return nil, fmt.Errorf("%w: at least one task is required", ErrValidation)
	}
	now := time.Now().UTC()
	batch := make([]Task, len(drafts))
	batchNames := make(map[string]string, len(drafts))
	for i, d := range drafts {
		t := *d
		t.ProjectID = projectID
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if t.Status == "" {
			t.Status = TaskStatusPending
		}
		t.VersionNumber = 0
		t.CreatedAt = now
		t.UpdatedAt = now
		if err := validateTask(&t); err != nil {
			return nil, fmt.Errorf("task %q: %w", t.Name, err)
		}
		if _, dup := batchNames[t.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate task name %q in batch", ErrValidation, t.Name)
		}
		batchNames[t.Name] = t.ID
		batch[i] = t
	}

	var entries []AuditEntry
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureProject(tx, projectID); err != nil {
			return err
		}
		graph, names, err := loadGraphTx(tx, projectID)
		if err != nil {
			return err
		}
		// Batch members take part in resolution and cycle checking before
		// any of them exists in the table.
		for i := range batch {
			if _, ok := graph[batch[i].ID]; ok {
				return fmt.Errorf("%w: task id %s already exists", ErrConflict, batch[i].ID)
			}
			graph[batch[i].ID] = nil
			if _, taken := names[batch[i].Name]; !taken {
				names[batch[i].Name] = batch[i].ID
			}
		}
		for i := range batch {
			resolved, err := resolveDeps(batch[i].ID, batch[i].Dependencies, graph, names)
			if err != nil {
				return fmt.Errorf("task %q: %w", batch[i].Name, err)
			}
			batch[i].Dependencies = resolved
		}
		for i := range batch {
			graph[batch[i].ID] = batch[i].Dependencies
		}
		for i := range batch {
			if err := depgraph.Validate(graph, batch[i].ID, batch[i].Dependencies); err != nil {
				return fmt.Errorf("task %q: %w", batch[i].Name, err)
			}
		}
		entries = entries[:0]
		for i := range batch {
			if err := insertTaskTx(tx, &batch[i]); err != nil {
				return err
			}
			payload, err := marshalPayload(&batch[i])
			if err != nil {
				return err
			}
			if err := appendVersionTx(tx, Snapshot{
				ProjectID: projectID, EntityType: EntityTask, EntityID: batch[i].ID,
				Seq: 0, Operation: OpCreate, Actor: actor, Message: message,
				Payload: payload, CreatedAt: now,
			}); err != nil {
				return err
			}
			entry := AuditEntry{
				ProjectID: projectID, EntityType: EntityTask, EntityID: batch[i].ID,
				Operation: OpCreate, Actor: actor, Outcome: OutcomeSuccess, CreatedAt: now,
			}
			if err := appendAuditTx(tx, entry); err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		s.publishAudit(ctx, entry)
	}
	return batch, nil
}

// TaskStatistics returns the total and per-status task counts for a
// partition.
func (s *Store) TaskStatistics(ctx context.Context, projectID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM tasks WHERE project_id = ? GROUP BY status`, projectID)
	if err != nil {
		return nil, fmt.Errorf("task statistics: %w", err)
	}
	defer rows.Close()

	stats := map[string]int{
		TaskStatusPending:    0,
		TaskStatusInProgress: 0,
		TaskStatusCompleted:  0,
		TaskStatusFailed:     0,
		TaskStatusCancelled:  0,
	}
	total := 0
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan statistics: %w", err)
		}
		stats[status] = count
		total += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	stats["total"] = total
	return stats, nil
}

// Dependents returns the tasks in the partition that list taskID as a
// dependency. The JSON LIKE is a prefilter; the decoded list is the truth.
func (s *Store) Dependents(ctx context.Context, projectID, taskID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx,
		taskSelect+` WHERE project_id = ? AND dependencies LIKE ? ORDER BY created_at ASC, task_id ASC`,
		projectID, `%"`+taskID+`"%`)
	if err != nil {
		return nil, fmt.Errorf("list dependents: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		for _, dep := range t.Dependencies {
			if dep == taskID {
				out = append(out, *t)
				break
			}
		}
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Internals
// ---------------------------------------------------------------------------

const taskSelect = `SELECT project_id, task_id, name, description, status, dependencies,
	notes, implementation_guide, verification_criteria, summary, related_files, todos,
	version_number, created_at, updated_at
FROM tasks`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var deps, files, todos string
	err := row.Scan(
		&t.ProjectID, &t.ID, &t.Name, &t.Description, &t.Status, &deps,
		&t.Notes, &t.ImplementationGuide, &t.VerificationCriteria, &t.Summary, &files, &todos,
		&t.VersionNumber, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(deps), &t.Dependencies); err != nil {
		return nil, fmt.Errorf("decode dependencies: %w", err)
	}
	if err := json.Unmarshal([]byte(files), &t.RelatedFiles); err != nil {
		return nil, fmt.Errorf("decode related files: %w", err)
	}
	if err := json.Unmarshal([]byte(todos), &t.Todos); err != nil {
		return nil, fmt.Errorf("decode todos: %w", err)
	}
	return &t, nil
}

func getTaskTx(tx *sql.Tx, projectID, taskID string) (*Task, error) {
	row := tx.QueryRow(taskSelect+` WHERE project_id = ? AND task_id = ?`, projectID, taskID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: task %s", ErrNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func insertTaskTx(tx *sql.Tx, t *Task) error {
	deps, err := marshalPayload(sliceOrEmpty(t.Dependencies))
	if err != nil {
		return err
	}
	files, err := marshalPayload(filesOrEmpty(t.RelatedFiles))
	if err != nil {
		return err
	}
	todos, err := marshalPayload(todosOrEmpty(t.Todos))
	if err != nil {
		return err
	}
	_, err = tx.Exec(`
	INSERT INTO tasks (project_id, task_id, name, description, status, dependencies,
		notes, implementation_guide, verification_criteria, summary, related_files, todos,
		version_number, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ProjectID, t.ID, t.Name, t.Description, t.Status, string(deps),
		t.Notes, t.ImplementationGuide, t.VerificationCriteria, t.Summary, string(files), string(todos),
		t.VersionNumber, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// casUpdateTaskTx writes the new state guarded by the previous version
// number. A zero row count after the in-transaction version check means a
// concurrent writer slipped in between: still a conflict, never a partial
// write.
func casUpdateTaskTx(tx *sql.Tx, t *Task, prevVersion int64) error {
	deps, err := marshalPayload(sliceOrEmpty(t.Dependencies))
	if err != nil {
		return err
	}
	files, err := marshalPayload(filesOrEmpty(t.RelatedFiles))
	if err != nil {
		return err
	}
	todos, err := marshalPayload(todosOrEmpty(t.Todos))
	if err != nil {
		return err
	}
	res, err := tx.Exec(`
	UPDATE tasks SET name = ?, description = ?, status = ?, dependencies = ?,
		notes = ?, implementation_guide = ?, verification_criteria = ?, summary = ?,
		related_files = ?, todos = ?, version_number = ?, updated_at = ?
	WHERE project_id = ? AND task_id = ? AND version_number = ?`,
		t.Name, t.Description, t.Status, string(deps),
		t.Notes, t.ImplementationGuide, t.VerificationCriteria, t.Summary,
		string(files), string(todos), t.VersionNumber, t.UpdatedAt,
		t.ProjectID, t.ID, prevVersion,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: task %s changed concurrently", ErrConflict, t.ID)
	}
	return nil
}

// loadGraphTx snapshots the partition's dependency adjacency and a
// name -> id index inside the caller's transaction, so validation and name
// resolution see exactly the state the write will commit against.
func loadGraphTx(tx *sql.Tx, projectID string) (depgraph.Graph, map[string]string, error) {
	rows, err := tx.Query(`SELECT task_id, name, dependencies FROM tasks WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, nil, fmt.Errorf("load dependency graph: %w", err)
	}
	defer rows.Close()

	graph := depgraph.Graph{}
	names := map[string]string{}
	for rows.Next() {
		var id, name, deps string
		if err := rows.Scan(&id, &name, &deps); err != nil {
			return nil, nil, fmt.Errorf("scan dependency row: %w", err)
		}
		var edges []string
		if err := json.Unmarshal([]byte(deps), &edges); err != nil {
			return nil, nil, fmt.Errorf("decode dependencies: %w", err)
		}
		graph[id] = edges
		names[name] = id
	}
	return graph, names, rows.Err()
}

// resolveDeps maps dependency references to task ids. A reference that
// matches an existing id is kept; otherwise it is treated as a task name.
// selfID short-circuits self-references before resolution so the rejection
// reason is stable whether the caller referenced the task by id or by name.
func resolveDeps(selfID string, refs []string, graph depgraph.Graph, names map[string]string) ([]string, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	resolved := make([]string, 0, len(refs))
	seen := make(map[string]bool, len(refs))
	for _, ref := range refs {
		if ref == selfID {
			return nil, depgraph.ErrSelfReference
		}
		id := ref
		if _, ok := graph[ref]; !ok {
			byName, ok := names[ref]
			if !ok {
				return nil, fmt.Errorf("%w: %q", depgraph.ErrUnknownDependency, ref)
			}
			id = byName
		}
		if !seen[id] {
			seen[id] = true
			resolved = append(resolved, id)
		}
	}
	return resolved, nil
}

func applyTaskPatch(t *Task, p TaskPatch) {
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Dependencies != nil {
		t.Dependencies = *p.Dependencies
	}
	if p.Notes != nil {
		t.Notes = *p.Notes
	}
	if p.ImplementationGuide != nil {
		t.ImplementationGuide = *p.ImplementationGuide
	}
	if p.VerificationCriteria != nil {
		t.VerificationCriteria = *p.VerificationCriteria
	}
	if p.Summary != nil {
		t.Summary = *p.Summary
	}
	if p.RelatedFiles != nil {
		t.RelatedFiles = *p.RelatedFiles
	}
	if p.Todos != nil {
		t.Todos = *p.Todos
	}
}

// restoreTaskPayload copies the snapshot's content fields onto the live
// task. Identity, creation time, and version bookkeeping stay with the live
// row: a revert restores content, not history.
func restoreTaskPayload(t *Task, from *Task) {
	t.Name = from.Name
	t.Description = from.Description
	t.Status = from.Status
	t.Dependencies = from.Dependencies
	t.Notes = from.Notes
	t.ImplementationGuide = from.ImplementationGuide
	t.VerificationCriteria = from.VerificationCriteria
	t.Summary = from.Summary
	t.RelatedFiles = from.RelatedFiles
	t.Todos = from.Todos
}

var taskStatuses = map[string]bool{
	TaskStatusPending:    true,
	TaskStatusInProgress: true,
	TaskStatusCompleted:  true,
	TaskStatusFailed:     true,
	TaskStatusCancelled:  true,
}

var todoStatuses = map[string]bool{
	TodoStatusPending:    true,
	TodoStatusInProgress: true,
	TodoStatusCompleted:  true,
}

var todoPriorities = map[string]bool{
	TodoPriorityLow:    true,
	TodoPriorityMedium: true,
	TodoPriorityHigh:   true,
}

var fileRoles = map[string]bool{
	FileRoleToModify:   true,
	FileRoleReference:  true,
	FileRoleCreate:     true,
	FileRoleDependency: true,
	FileRoleOther:      true,
}

func validateTask(t *Task) error {
	if t.Name == "" {
		return fmt.Errorf("%w: task name is required", ErrValidation)
	}
	if !taskStatuses[t.Status] {
		return fmt.Errorf("%w: invalid task status %q", ErrValidation, t.Status)
	}
	for i, todo := range t.Todos {
		if todo.Content == "" {
			return fmt.Errorf("%w: todo %d is missing content", ErrValidation, i)
		}
		if !todoStatuses[todo.Status] {
			return fmt.Errorf("%w: invalid todo status %q", ErrValidation, todo.Status)
		}
		if !todoPriorities[todo.Priority] {
			return fmt.Errorf("%w: invalid todo priority %q", ErrValidation, todo.Priority)
		}
	}
	for i, f := range t.RelatedFiles {
		if f.Path == "" {
			return fmt.Errorf("%w: related file %d is missing a path", ErrValidation, i)
		}
		if !fileRoles[f.Role] {
			return fmt.Errorf("%w: invalid related file role %q", ErrValidation, f.Role)
		}
	}
	return nil
}

func sliceOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func filesOrEmpty(s []RelatedFile) []RelatedFile {
	if s == nil {
		return []RelatedFile{}
	}
	return s
}

func todosOrEmpty(s []TodoItem) []TodoItem {
	if s == nil {
		return []TodoItem{}
	}
	return s
}
