// Package memory exposes the memory-facing operations on top of the store.
// Memories are versioned knowledge records; a memory may point back at a
// task, but the task never owns it.
package memory

import (
	"context"
	"log/slog"

	"github.com/taskledger/taskledger/internal/store"
)

// Service wraps the store's memory operations.
type Service struct {
	store  *store.Store
	logger *slog.Logger
}

// NewService creates a memory service. A nil logger falls back to the
// default.
func NewService(st *store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, logger: logger}
}

func (s *Service) Create(ctx context.Context, m *store.Memory, actor, message string) (*store.Memory, error) {
	created, err := s.store.CreateMemory(ctx, m, actor, message)
	if err != nil {
		return nil, err
	}
	s.logger.Info("memory created", "project", created.ProjectID, "memory", created.ID, "title", created.Title)
	return created, nil
}

func (s *Service) Get(ctx context.Context, projectID, memoryID string) (*store.Memory, error) {
	return s.store.GetMemory(ctx, projectID, memoryID)
}

func (s *Service) List(ctx context.Context, projectID string, filter store.MemoryFilter) ([]store.Memory, error) {
	return s.store.ListMemories(ctx, projectID, filter)
}

func (s *Service) Update(ctx context.Context, projectID, memoryID string, expected int64, patch store.MemoryPatch, actor, message string) (*store.Memory, error) {
	updated, err := s.store.UpdateMemory(ctx, projectID, memoryID, expected, patch, actor, message)
	if err != nil {
		return nil, err
	}
	s.logger.Info("memory updated", "project", projectID, "memory", memoryID, "version", updated.VersionNumber)
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, projectID, memoryID string, expected int64, actor, message string) error {
	if err := s.store.DeleteMemory(ctx, projectID, memoryID, expected, actor, message); err != nil {
		return err
	}
	s.logger.Info("memory deleted", "project", projectID, "memory", memoryID)
	return nil
}

func (s *Service) Revert(ctx context.Context, projectID, memoryID string, seq int64, actor string) (*store.Memory, error) {
	reverted, err := s.store.RevertMemory(ctx, projectID, memoryID, seq, actor)
	if err != nil {
		return nil, err
	}
	s.logger.Info("memory reverted", "project", projectID, "memory", memoryID, "to_seq", seq, "version", reverted.VersionNumber)
	return reverted, nil
}

func (s *Service) Versions(ctx context.Context, projectID, memoryID string, limit, offset int) ([]store.Snapshot, error) {
	return s.store.ListVersions(ctx, projectID, store.EntityMemory, memoryID, limit, offset)
}
