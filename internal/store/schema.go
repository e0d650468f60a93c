package store

import (
	"encoding/json"
	"time"
)

// Task statuses. The status machine (pending -> in_progress -> terminal) is
// advisory metadata: the store never rejects a transition, because operators
// are allowed to correct status by hand.
const (
	TaskStatusPending    = "pending"
	TaskStatusInProgress = "in_progress"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
	TaskStatusCancelled  = "cancelled"
)

// Todo item statuses and priorities.
const (
	TodoStatusPending    = "pending"
	TodoStatusInProgress = "in_progress"
	TodoStatusCompleted  = "completed"

	TodoPriorityLow    = "low"
	TodoPriorityMedium = "medium"
	TodoPriorityHigh   = "high"
)

// Related-file roles.
const (
	FileRoleToModify   = "to_modify"
	FileRoleReference  = "reference"
	FileRoleCreate     = "create"
	FileRoleDependency = "dependency"
	FileRoleOther      = "other"
)

// Operations recorded in the version ledger and audit log.
const (
	OpCreate   = "create"
	OpUpdate   = "update"
	OpDelete   = "delete"
	OpRollback = "rollback"
)

// Entity types.
const (
	EntityTask    = "task"
	EntityMemory  = "memory"
	EntityProject = "project"
)

// Audit outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// DefaultProject is the partition used when the caller names none.
const DefaultProject = "default"

// TodoItem is a sub-item owned by a task. Its lifecycle is tied to the task;
// the id only distinguishes items within one task and is never indexed.
type TodoItem struct {
	ID       string `json:"id"`
	Content  string `json:"content"`
	Status   string `json:"status"`
	Priority string `json:"priority"`
}

// RelatedFile points at a file relevant to a task, with an optional line range.
type RelatedFile struct {
	Path        string `json:"path"`
	Role        string `json:"role"`
	Description string `json:"description,omitempty"`
	LineStart   *int   `json:"line_start,omitempty"`
	LineEnd     *int   `json:"line_end,omitempty"`
}

// Task is a task record as stored. VersionNumber is the optimistic-lock
// token: it starts at 0 on create and every successful mutation increments
// it by exactly 1.
type Task struct {
	ID                   string        `json:"id"`
	ProjectID            string        `json:"project_id"`
	Name                 string        `json:"name"`
	Description          string        `json:"description,omitempty"`
	Status               string        `json:"status"`
	Dependencies         []string      `json:"dependencies"`
	Notes                string        `json:"notes,omitempty"`
	ImplementationGuide  string        `json:"implementation_guide,omitempty"`
	VerificationCriteria string        `json:"verification_criteria,omitempty"`
	Summary              string        `json:"summary,omitempty"`
	RelatedFiles         []RelatedFile `json:"related_files"`
	Todos                []TodoItem    `json:"todos"`
	VersionNumber        int64         `json:"version_number"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// Memory is a knowledge record. TaskID is a back-reference only, not
// ownership: deleting the task leaves the memory in place. EmbeddingRef is
// an opaque pointer into an external vector index; the store never computes
// or interprets it.
type Memory struct {
	ID            string            `json:"id"`
	ProjectID     string            `json:"project_id"`
	TaskID        string            `json:"task_id,omitempty"`
	Title         string            `json:"title"`
	Content       string            `json:"content,omitempty"`
	Summary       string            `json:"summary,omitempty"`
	Tags          []string          `json:"tags"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	EmbeddingRef  string            `json:"embedding_ref,omitempty"`
	VersionNumber int64             `json:"version_number"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Project is a tenant partition.
type Project struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// Snapshot is one immutable version-ledger entry. Seq equals the entity's
// version_number at the moment of the operation and is never reused.
type Snapshot struct {
	ProjectID  string          `json:"project_id"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Seq        int64           `json:"seq"`
	Operation  string          `json:"operation"`
	Actor      string          `json:"actor"`
	Message    string          `json:"message,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
}

// AuditEntry is one append-only audit row. Rows are retained even after the
// referenced entity or the whole partition is deleted.
type AuditEntry struct {
	ID         int64     `json:"id"`
	ProjectID  string    `json:"project_id"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id,omitempty"`
	Operation  string    `json:"operation"`
	Actor      string    `json:"actor"`
	Outcome    string    `json:"outcome"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// AuditFilter holds query parameters for the audit log.
type AuditFilter struct {
	EntityType string
	EntityID   string
	Operation  string
	Actor      string
	Outcome    string
	Since      *time.Time
	Until      *time.Time
	Limit      int
	Offset     int
}

const Schema = `
CREATE TABLE IF NOT EXISTS projects (
	project_id TEXT PRIMARY KEY,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS tasks (
	project_id TEXT NOT NULL,
	task_id TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	dependencies TEXT NOT NULL DEFAULT '[]',
	notes TEXT NOT NULL DEFAULT '',
	implementation_guide TEXT NOT NULL DEFAULT '',
	verification_criteria TEXT NOT NULL DEFAULT '',
	summary TEXT NOT NULL DEFAULT '',
	related_files TEXT NOT NULL DEFAULT '[]',
	todos TEXT NOT NULL DEFAULT '[]',
	version_number INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (project_id, task_id)
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(project_id, status);
CREATE INDEX IF NOT EXISTS idx_tasks_name ON tasks(project_id, name);

CREATE TABLE IF NOT EXISTS memories (
	project_id TEXT NOT NULL,
	memory_id TEXT NOT NULL,
	task_id TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	summary TEXT NOT NULL DEFAULT '',
	tags TEXT NOT NULL DEFAULT '[]',
	metadata TEXT NOT NULL DEFAULT '{}',
	embedding_ref TEXT NOT NULL DEFAULT '',
	version_number INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (project_id, memory_id)
);
CREATE INDEX IF NOT EXISTS idx_memories_task ON memories(project_id, task_id);

CREATE TABLE IF NOT EXISTS versions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	operation TEXT NOT NULL,
	actor TEXT NOT NULL DEFAULT 'system',
	message TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	UNIQUE (project_id, entity_type, entity_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_versions_entity ON versions(project_id, entity_type, entity_id, seq);

CREATE TABLE IF NOT EXISTS audit_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL DEFAULT '',
	operation TEXT NOT NULL,
	actor TEXT NOT NULL DEFAULT 'system',
	outcome TEXT NOT NULL DEFAULT 'success',
	reason TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_project ON audit_log(project_id, created_at);
CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_log(project_id, entity_type, entity_id);
`
