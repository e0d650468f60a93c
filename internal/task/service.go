// Package task exposes the task-facing operations on top of the store:
// CRUD, bulk creation, verification, todo management, dependency insight
// and the version ledger. All mutations keep the store's optimistic
// concurrency semantics; the service never bypasses version checks.
package task

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/taskledger/taskledger/internal/store"
)

// VerifyThreshold is the minimum score that marks a task completed.
const VerifyThreshold = 80

// Service wraps the store with task workflows.
type Service struct {
	store  *store.Store
	logger *slog.Logger
}

// NewService creates a task service. A nil logger falls back to the default.
func NewService(st *store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, logger: logger}
}

// DependencyInfo describes a task's position in the partition's DAG.
type DependencyInfo struct {
	TaskID       string       `json:"task_id"`
	Dependencies []store.Task `json:"dependencies"`
	Dependents   []store.Task `json:"dependents"`
	CanStart     bool         `json:"can_start"`
}

// VerifyResult is the outcome of a verification.
type VerifyResult struct {
	Task      *store.Task `json:"task"`
	Score     int         `json:"score"`
	Completed bool        `json:"completed"`
}

func (s *Service) Create(ctx context.Context, t *store.Task, actor, message string) (*store.Task, error) {
	created, err := s.store.CreateTask(ctx, t, actor, message)
	if err != nil {
		return nil, err
	}
	s.logger.Info("task created", "project", created.ProjectID, "task", created.ID, "name", created.Name)
	return created, nil
}

func (s *Service) Get(ctx context.Context, projectID, taskID string) (*store.Task, error) {
	return s.store.GetTask(ctx, projectID, taskID)
}

func (s *Service) List(ctx context.Context, projectID, status string, limit, offset int) ([]store.Task, error) {
	return s.store.ListTasks(ctx, projectID, status, limit, offset)
}

func (s *Service) Update(ctx context.Context, projectID, taskID string, expected int64, patch store.TaskPatch, actor, message string) (*store.Task, error) {
	updated, err := s.store.UpdateTask(ctx, projectID, taskID, expected, patch, actor, message)
	if err != nil {
		return nil, err
	}
	s.logger.Info("task updated", "project", projectID, "task", taskID, "version", updated.VersionNumber)
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, projectID, taskID string, expected int64, actor, message string) error {
	if err := s.store.DeleteTask(ctx, projectID, taskID, expected, actor, message); err != nil {
		return err
	}
	s.logger.Info("task deleted", "project", projectID, "task", taskID)
	return nil
}

func (s *Service) BulkCreate(ctx context.Context, projectID string, tasks []*store.Task, actor, message string) ([]store.Task, error) {
	created, err := s.store.BulkCreateTasks(ctx, projectID, tasks, actor, message)
	if err != nil {
		return nil, err
	}
	s.logger.Info("tasks bulk created", "project", projectID, "count", len(created))
	return created, nil
}

func (s *Service) Revert(ctx context.Context, projectID, taskID string, seq int64, actor string) (*store.Task, error) {
	reverted, err := s.store.RevertTask(ctx, projectID, taskID, seq, actor)
	if err != nil {
		return nil, err
	}
	s.logger.Info("task reverted", "project", projectID, "task", taskID, "to_seq", seq, "version", reverted.VersionNumber)
	return reverted, nil
}

func (s *Service) Versions(ctx context.Context, projectID, taskID string, limit, offset int) ([]store.Snapshot, error) {
	return s.store.ListVersions(ctx, projectID, store.EntityTask, taskID, limit, offset)
}

func (s *Service) Statistics(ctx context.Context, projectID string) (map[string]int, error) {
	return s.store.TaskStatistics(ctx, projectID)
}

// Dependencies reports the task's direct dependencies and dependents, and
// whether every dependency is completed. An edge to a task that no longer
// exists counts as unmet: the referenced work has not demonstrably finished.
func (s *Service) Dependencies(ctx context.Context, projectID, taskID string) (*DependencyInfo, error) {
	t, err := s.store.GetTask(ctx, projectID, taskID)
	if err != nil {
		return nil, err
	}
	info := &DependencyInfo{TaskID: taskID, CanStart: true}
	for _, depID := range t.Dependencies {
		dep, err := s.store.GetTask(ctx, projectID, depID)
		if err != nil {
			info.CanStart = false
			continue
		}
		info.Dependencies = append(info.Dependencies, *dep)
		if dep.Status != store.TaskStatusCompleted {
			info.CanStart = false
		}
	}
	dependents, err := s.store.Dependents(ctx, projectID, taskID)
	if err != nil {
		return nil, err
	}
	info.Dependents = dependents
	return info, nil
}

// Verify judges a task against its verification criteria. A score at or
// above VerifyThreshold completes the task and records the summary; a lower
// score moves a pending task to in_progress and keeps the summary as the
// latest assessment. Only pending and in_progress tasks can be verified.
// The write is an ordinary optimistic update against expected.
func (s *Service) Verify(ctx context.Context, projectID, taskID string, expected int64, score int, summary, actor string) (*VerifyResult, error) {
	if score < 0 || score > 100 {
		return nil, fmt.Errorf("%w: score must be between 0 and 100", store.ErrValidation)
	}
	t, err := s.store.GetTask(ctx, projectID, taskID)
	if err != nil {
		return nil, err
	}
	if t.Status != store.TaskStatusPending && t.Status != store.TaskStatusInProgress {
		return nil, fmt.Errorf("%w: task %s is %s, only pending or in_progress tasks can be verified", store.ErrValidation, taskID, t.Status)
	}

	status := store.TaskStatusInProgress
	completed := score >= VerifyThreshold
	if completed {
		status = store.TaskStatusCompleted
	}
	patch := store.TaskPatch{Status: &status, Summary: &summary}
	message := fmt.Sprintf("verified with score %d", score)
	updated, err := s.store.UpdateTask(ctx, projectID, taskID, expected, patch, actor, message)
	if err != nil {
		return nil, err
	}
	s.logger.Info("task verified", "project", projectID, "task", taskID, "score", score, "completed", completed)
	return &VerifyResult{Task: updated, Score: score, Completed: completed}, nil
}

// Todos returns the task's todo list.
func (s *Service) Todos(ctx context.Context, projectID, taskID string) ([]store.TodoItem, error) {
	t, err := s.store.GetTask(ctx, projectID, taskID)
	if err != nil {
		return nil, err
	}
	return t.Todos, nil
}

// SetTodos replaces the task's todo list. Notes explaining the change are
// required. Items missing an id, status or priority get defaults assigned.
func (s *Service) SetTodos(ctx context.Context, projectID, taskID string, expected int64, todos []store.TodoItem, notes, actor string) (*store.Task, error) {
	if notes == "" {
		return nil, fmt.Errorf("%w: notes are required when replacing todos", store.ErrValidation)
	}
	for i := range todos {
		if todos[i].ID == "" {
			todos[i].ID = fmt.Sprintf("todo_%d", i+1)
		}
		if todos[i].Status == "" {
			todos[i].Status = store.TodoStatusPending
		}
		if todos[i].Priority == "" {
			todos[i].Priority = store.TodoPriorityMedium
		}
	}
	patch := store.TaskPatch{Todos: &todos, Notes: &notes}
	return s.store.UpdateTask(ctx, projectID, taskID, expected, patch, actor, "todos replaced")
}
