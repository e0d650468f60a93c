package store

import (
	"context"
	"errors"
	"testing"
)

func TestAuditRecordsSuccessAndFailure(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	created := mustCreateTask(t, st, &Task{Name: "audited"})

	// A losing CAS still leaves a failure row behind.
	name := "never lands"
	if _, err := st.UpdateTask(ctx, DefaultProject, created.ID, 7, TaskPatch{Name: &name}, "intruder", ""); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	entries, err := st.QueryAudit(ctx, DefaultProject, AuditFilter{})
	if err != nil {
		t.Fatalf("query audit: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	// Newest first: the failed update on top.
	if entries[0].Outcome != OutcomeFailure || entries[0].Operation != OpUpdate || entries[0].Actor != "intruder" {
		t.Fatalf("unexpected failure entry: %+v", entries[0])
	}
	if entries[0].Reason == "" {
		t.Fatal("failure entry must carry a reason")
	}
	if entries[1].Outcome != OutcomeSuccess || entries[1].Operation != OpCreate {
		t.Fatalf("unexpected success entry: %+v", entries[1])
	}
}

func TestAuditFilters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	task := mustCreateTask(t, st, &Task{Name: "t"})
	if _, err := st.CreateMemory(ctx, &Memory{Title: "m"}, "alice", ""); err != nil {
		t.Fatalf("create memory: %v", err)
	}

	byType, err := st.QueryAudit(ctx, DefaultProject, AuditFilter{EntityType: EntityMemory})
	if err != nil {
		t.Fatalf("query by type: %v", err)
	}
	if len(byType) != 1 || byType[0].Actor != "alice" {
		t.Fatalf("unexpected type filter result: %+v", byType)
	}

	byEntity, err := st.QueryAudit(ctx, DefaultProject, AuditFilter{EntityID: task.ID, Outcome: OutcomeSuccess})
	if err != nil {
		t.Fatalf("query by entity: %v", err)
	}
	if len(byEntity) != 1 || byEntity[0].EntityID != task.ID {
		t.Fatalf("unexpected entity filter result: %+v", byEntity)
	}
}

func TestAuditDefaultsActorToSystem(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	mustCreateTask(t, st, &Task{Name: "anonymous"})

	entries, err := st.QueryAudit(ctx, DefaultProject, AuditFilter{})
	if err != nil {
		t.Fatalf("query audit: %v", err)
	}
	if len(entries) != 1 || entries[0].Actor != "system" {
		t.Fatalf("expected system actor, got %+v", entries)
	}
}

func TestAuditSurvivesProjectDeletion(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	task := mustCreateTask(t, st, &Task{ProjectID: "doomed", Name: "short-lived"})
	if _, err := st.CreateMemory(ctx, &Memory{ProjectID: "doomed", Title: "note"}, "", ""); err != nil {
		t.Fatalf("create memory: %v", err)
	}

	del, err := st.DeleteProject(ctx, "doomed", "janitor")
	if err != nil {
		t.Fatalf("delete project: %v", err)
	}
	if del.TasksDeleted != 1 || del.MemoriesDeleted != 1 || del.SnapshotsDeleted != 2 {
		t.Fatalf("unexpected deletion counts: %+v", del)
	}

	// Entities and ledger are gone.
	if _, err := st.GetTask(ctx, "doomed", task.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected task gone, got %v", err)
	}
	versions, err := st.ListVersions(ctx, "doomed", EntityTask, task.ID, 0, 0)
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if len(versions) != 0 {
		t.Fatalf("ledger should be gone with the partition, got %d", len(versions))
	}

	// The audit trail is not.
	entries, err := st.QueryAudit(ctx, "doomed", AuditFilter{})
	if err != nil {
		t.Fatalf("query audit: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected create+create+delete entries to survive, got %d", len(entries))
	}
	if entries[0].EntityType != EntityProject || entries[0].Operation != OpDelete || entries[0].Actor != "janitor" {
		t.Fatalf("unexpected top entry: %+v", entries[0])
	}
}

func TestDeleteUnknownProject(t *testing.T) {
	st := newTestStore(t)
	if _, err := st.DeleteProject(context.Background(), "never-was", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
