package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MemoryPatch carries the fields of an optimistic memory update. Nil fields
// are left untouched.
type MemoryPatch struct {
	TaskID       *string            `json:"task_id,omitempty"`
	Title        *string            `json:"title,omitempty"`
	Content      *string            `json:"content,omitempty"`
	Summary      *string            `json:"summary,omitempty"`
	Tags         *[]string          `json:"tags,omitempty"`
	Metadata     *map[string]string `json:"metadata,omitempty"`
	EmbeddingRef *string            `json:"embedding_ref,omitempty"`
}

// MemoryFilter holds query parameters for listing memories.
type MemoryFilter struct {
	TaskID string
	Tags   []string // any-match
	Query  string   // substring over title and content
	Limit  int
	Offset int
}

// CreateMemory inserts a memory into its partition with version_number 0. A
// non-empty TaskID must name an existing task in the same partition; it is a
// back-reference only, so later deletion of the task leaves the memory alone.
func (s *Store) CreateMemory(ctx context.Context, mem *Memory, actor, message string) (*Memory, error) {
	actor = normalizeActor(actor)
	if mem.ProjectID == "" {
		mem.ProjectID = DefaultProject
	}
	created, err := s.createMemory(ctx, mem, actor, message)
	if err != nil {
		s.recordFailure(ctx, mem.ProjectID, EntityMemory, mem.ID, OpCreate, actor, err)
		return nil, err
	}
	return created, nil
}

func (s *Store) createMemory(ctx context.Context, mem *Memory, actor, message string) (*Memory, error) {
	m := *mem
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if err := validateMemory(&m); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	m.VersionNumber = 0
	m.CreatedAt = now
	m.UpdatedAt = now

	var auditEntry AuditEntry
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureProject(tx, m.ProjectID); err != nil {
			return err
		}
		var exists int
		err := tx.QueryRow(`SELECT COUNT(1) FROM memories WHERE project_id = ? AND memory_id = ?`, m.ProjectID, m.ID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check memory id: %w", err)
		}
		if exists > 0 {
			return fmt.Errorf("%w: memory id %s already exists", ErrConflict, m.ID)
		}
		if err := checkTaskRefTx(tx, m.ProjectID, m.TaskID); err != nil {
			return err
		}
		if err := insertMemoryTx(tx, &m); err != nil {
			return err
		}
		payload, err := marshalPayload(&m)
		if err != nil {
			return err
		}
		if err := appendVersionTx(tx, Snapshot{
			ProjectID: m.ProjectID, EntityType: EntityMemory, EntityID: m.ID,
			Seq: 0, Operation: OpCreate, Actor: actor, Message: message,
			Payload: payload, CreatedAt: now,
		}); err != nil {
			return err
		}
		auditEntry = AuditEntry{
			ProjectID: m.ProjectID, EntityType: EntityMemory, EntityID: m.ID,
			Operation: OpCreate, Actor: actor, Outcome: OutcomeSuccess, CreatedAt: now,
		}
		return appendAuditTx(tx, auditEntry)
	})
	if err != nil {
		return nil, err
	}
	s.publishAudit(ctx, auditEntry)
	return &m, nil
}

// GetMemory returns a memory by id within its partition.
func (s *Store) GetMemory(ctx context.Context, projectID, memoryID string) (*Memory, error) {
	row := s.db.QueryRowContext(ctx, memorySelect+` WHERE project_id = ? AND memory_id = ?`, projectID, memoryID)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: memory %s", ErrNotFound, memoryID)
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return m, nil
}

// ListMemories returns the partition's memories ordered by creation time.
// Tag filtering is any-match; Query is a case-insensitive substring match
// over title and content.
func (s *Store) ListMemories(ctx context.Context, projectID string, filter MemoryFilter) ([]Memory, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query := memorySelect + ` WHERE project_id = ?`
	args := []interface{}{projectID}
	if filter.TaskID != "" {
		query += ` AND task_id = ?`
		args = append(args, filter.TaskID)
	}
	if len(filter.Tags) > 0 {
		// JSON LIKE prefilter so pagination sees only candidate rows; the
		// decoded list below is the truth.
		likes := make([]string, 0, len(filter.Tags))
		for _, tag := range filter.Tags {
			likes = append(likes, `tags LIKE ?`)
			args = append(args, `%"`+tag+`"%`)
		}
		query += ` AND (` + strings.Join(likes, " OR ") + `)`
	}
	if filter.Query != "" {
		query += ` AND (title LIKE ? OR content LIKE ?)`
		like := "%" + filter.Query + "%"
		args = append(args, like, like)
	}
	query += ` ORDER BY created_at ASC, memory_id ASC LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	var out []Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		if len(filter.Tags) > 0 && !anyTagMatch(m.Tags, filter.Tags) {
			continue
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// UpdateMemory applies patch if the stored version_number equals expected.
func (s *Store) UpdateMemory(ctx context.Context, projectID, memoryID string, expected int64, patch MemoryPatch, actor, message string) (*Memory, error) {
	actor = normalizeActor(actor)
	updated, err := s.updateMemory(ctx, projectID, memoryID, expected, patch, actor, message)
	if err != nil {
		s.recordFailure(ctx, projectID, EntityMemory, memoryID, OpUpdate, actor, err)
		return nil, err
	}
	return updated, nil
}

func (s *Store) updateMemory(ctx context.Context, projectID, memoryID string, expected int64, patch MemoryPatch, actor, message string) (*Memory, error) {
	var m *Memory
	var auditEntry AuditEntry
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := getMemoryTx(tx, projectID, memoryID)
		if err != nil {
			return err
		}
		if cur.VersionNumber != expected {
			return fmt.Errorf("%w: memory %s is at version %d, expected %d", ErrConflict, memoryID, cur.VersionNumber, expected)
		}
		next := *cur
		applyMemoryPatch(&next, patch)
		if err := validateMemory(&next); err != nil {
			return err
		}
		if patch.TaskID != nil {
			if err := checkTaskRefTx(tx, projectID, next.TaskID); err != nil {
				return err
			}
		}
		now := time.Now().UTC()
		next.VersionNumber = expected + 1
		next.UpdatedAt = now
		if err := casUpdateMemoryTx(tx, &next, expected); err != nil {
			return err
		}
		payload, err := marshalPayload(&next)
		if err != nil {
			return err
		}
		if err := appendVersionTx(tx, Snapshot{
			ProjectID: projectID, EntityType: EntityMemory, EntityID: memoryID,
			Seq: next.VersionNumber, Operation: OpUpdate, Actor: actor, Message: message,
			Payload: payload, CreatedAt: now,
		}); err != nil {
			return err
		}
		auditEntry = AuditEntry{
			ProjectID: projectID, EntityType: EntityMemory, EntityID: memoryID,
			Operation: OpUpdate, Actor: actor, Outcome: OutcomeSuccess, CreatedAt: now,
		}
		if err := appendAuditTx(tx, auditEntry); err != nil {
			return err
		}
		m = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publishAudit(ctx, auditEntry)
	return m, nil
}

// DeleteMemory removes the memory row if the stored version_number equals
// expected. The version ledger and audit rows survive the deletion.
func (s *Store) DeleteMemory(ctx context.Context, projectID, memoryID string, expected int64, actor, message string) error {
	actor = normalizeActor(actor)
	if err := s.deleteMemory(ctx, projectID, memoryID, expected, actor, message); err != nil {
		s.recordFailure(ctx, projectID, EntityMemory, memoryID, OpDelete, actor, err)
		return err
	}
	return nil
}

func (s *Store) deleteMemory(ctx context.Context, projectID, memoryID string, expected int64, actor, message string) error {
	var auditEntry AuditEntry
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := getMemoryTx(tx, projectID, memoryID)
		if err != nil {
			return err
		}
		if cur.VersionNumber != expected {
			return fmt.Errorf("%w: memory %s is at version %d, expected %d", ErrConflict, memoryID, cur.VersionNumber, expected)
		}
		res, err := tx.Exec(`DELETE FROM memories WHERE project_id = ? AND memory_id = ? AND version_number = ?`,
			projectID, memoryID, expected)
		if err != nil {
			return fmt.Errorf("delete memory: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: memory %s changed concurrently", ErrConflict, memoryID)
		}
		now := time.Now().UTC()
		payload, err := marshalPayload(cur)
		if err != nil {
			return err
		}
		if err := appendVersionTx(tx, Snapshot{
			ProjectID: projectID, EntityType: EntityMemory, EntityID: memoryID,
			Seq: expected + 1, Operation: OpDelete, Actor: actor, Message: message,
			Payload: payload, CreatedAt: now,
		}); err != nil {
			return err
		}
		auditEntry = AuditEntry{
			ProjectID: projectID, EntityType: EntityMemory, EntityID: memoryID,
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

// RevertMemory restores the memory's content fields from the ledger snapshot
// at seq. The ledger is never truncated: the revert itself appends a new
// rollback snapshot. Reverting a deleted memory re-creates the row with the
// sequence continuing past its highest recorded value.
func (s *Store) RevertMemory(ctx context.Context, projectID, memoryID string, seq int64, actor string) (*Memory, error) {
	actor = normalizeActor(actor)
	m, err := s.revertMemory(ctx, projectID, memoryID, seq, actor)
	if err != nil {
		s.recordFailure(ctx, projectID, EntityMemory, memoryID, OpRollback, actor, err)
		return nil, err
	}
	return m, nil
}

func (s *Store) revertMemory(ctx context.Context, projectID, memoryID string, seq int64, actor string) (*Memory, error) {
	var m *Memory
	var auditEntry AuditEntry
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		snap, err := getVersionTx(tx, projectID, EntityMemory, memoryID, seq)
		if err != nil {
			return err
		}
		var restored Memory
		if err := json.Unmarshal(snap.Payload, &restored); err != nil {
			return fmt.Errorf("decode snapshot payload: %w", err)
		}

		now := time.Now().UTC()
		cur, err := getMemoryTx(tx, projectID, memoryID)
		switch {
		case err == nil:
			next := *cur
			restoreMemoryPayload(&next, &restored)
			next.VersionNumber = cur.VersionNumber + 1
			next.UpdatedAt = now
			if err := casUpdateMemoryTx(tx, &next, cur.VersionNumber); err != nil {
				return err
			}
			m = &next
		case errors.Is(err, ErrNotFound):
			maxSeq, err := maxVersionSeqTx(tx, projectID, EntityMemory, memoryID)
			if err != nil {
				return err
			}
			next := restored
			next.ProjectID = projectID
			next.ID = memoryID
			next.VersionNumber = maxSeq + 1
			next.UpdatedAt = now
			if next.CreatedAt.IsZero() {
				next.CreatedAt = now
			}
			if err := insertMemoryTx(tx, &next); err != nil {
				return err
			}
			m = &next
		default:
			return err
		}

		payload, err := marshalPayload(m)
		if err != nil {
			return err
		}
		reason := fmt.Sprintf("reverted to version %d", seq)
		if err := appendVersionTx(tx, Snapshot{
			ProjectID: projectID, EntityType: EntityMemory, EntityID: memoryID,
			Seq: m.VersionNumber, Operation: OpRollback, Actor: actor, Message: reason,
			Payload: payload, CreatedAt: now,
		}); err != nil {
			return err
		}
		auditEntry = AuditEntry{
			ProjectID: projectID, EntityType: EntityMemory, EntityID: memoryID,
			Operation: OpRollback, Actor: actor, Outcome: OutcomeSuccess,
			Reason: reason, CreatedAt: now,
		}
		return appendAuditTx(tx, auditEntry)
	})
	if err != nil {
		return nil, err
	}
	s.publishAudit(ctx, auditEntry)
	return m, nil
}

const memorySelect = `
SELECT project_id, memory_id, task_id, title, content, summary, tags, metadata, embedding_ref, version_number, created_at, updated_at
FROM memories`

func scanMemory(row rowScanner) (*Memory, error) {
	var m Memory
	var tags, metadata string
	err := row.Scan(
		&m.ProjectID, &m.ID, &m.TaskID, &m.Title, &m.Content, &m.Summary,
		&tags, &metadata, &m.EmbeddingRef, &m.VersionNumber, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &m.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &m.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &m, nil
}

func getMemoryTx(tx *sql.Tx, projectID, memoryID string) (*Memory, error) {
	row := tx.QueryRow(memorySelect+` WHERE project_id = ? AND memory_id = ?`, projectID, memoryID)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: memory %s", ErrNotFound, memoryID)
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return m, nil
}

func insertMemoryTx(tx *sql.Tx, m *Memory) error {
	tags, err := json.Marshal(sliceOrEmpty(m.Tags))
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	metadata, err := json.Marshal(mapOrEmpty(m.Metadata))
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = tx.Exec(`
	INSERT INTO memories (project_id, memory_id, task_id, title, content, summary, tags, metadata, embedding_ref, version_number, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ProjectID, m.ID, m.TaskID, m.Title, m.Content, m.Summary,
		string(tags), string(metadata), m.EmbeddingRef, m.VersionNumber, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

func casUpdateMemoryTx(tx *sql.Tx, m *Memory, prevVersion int64) error {
	tags, err := json.Marshal(sliceOrEmpty(m.Tags))
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	metadata, err := json.Marshal(mapOrEmpty(m.Metadata))
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	res, err := tx.Exec(`
	UPDATE memories
	SET task_id = ?, title = ?, content = ?, summary = ?, tags = ?, metadata = ?, embedding_ref = ?, version_number = ?, updated_at = ?
	WHERE project_id = ? AND memory_id = ? AND version_number = ?`,
		m.TaskID, m.Title, m.Content, m.Summary, string(tags), string(metadata),
		m.EmbeddingRef, m.VersionNumber, m.UpdatedAt,
		m.ProjectID, m.ID, prevVersion)
	if err != nil {
		return fmt.Errorf("update memory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: memory %s changed concurrently", ErrConflict, m.ID)
	}
	return nil
}

// checkTaskRefTx verifies a memory's task back-reference inside the write
// transaction. An empty ref is fine.
func checkTaskRefTx(tx *sql.Tx, projectID, taskID string) error {
	if taskID == "" {
		return nil
	}
	var exists int
	if err := tx.QueryRow(`SELECT COUNT(1) FROM tasks WHERE project_id = ? AND task_id = ?`, projectID, taskID).Scan(&exists); err != nil {
		return fmt.Errorf("check task ref: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: task %s does not exist", ErrValidation, taskID)
	}
	return nil
}

func applyMemoryPatch(m *Memory, patch MemoryPatch) {
	if patch.TaskID != nil {
		m.TaskID = *patch.TaskID
	}
	if patch.Title != nil {
		m.Title = *patch.Title
	}
	if patch.Content != nil {
		m.Content = *patch.Content
	}
	if patch.Summary != nil {
		m.Summary = *patch.Summary
	}
	if patch.Tags != nil {
		m.Tags = *patch.Tags
	}
	if patch.Metadata != nil {
		m.Metadata = *patch.Metadata
	}
	if patch.EmbeddingRef != nil {
		m.EmbeddingRef = *patch.EmbeddingRef
	}
}

// restoreMemoryPayload copies the content fields from a snapshot onto a live
// row. Identity, created_at and the version counter are not restored.
func restoreMemoryPayload(dst, src *Memory) {
	dst.TaskID = src.TaskID
	dst.Title = src.Title
	dst.Content = src.Content
	dst.Summary = src.Summary
	dst.Tags = src.Tags
	dst.Metadata = src.Metadata
	dst.EmbeddingRef = src.EmbeddingRef
}

func validateMemory(m *Memory) error {
	if strings.TrimSpace(m.Title) == "" {
		return fmt.Errorf("%w: memory title is required", ErrValidation)
	}
	return nil
}

func anyTagMatch(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

func mapOrEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
