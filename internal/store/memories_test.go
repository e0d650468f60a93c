package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestMemoryLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	created, err := st.CreateMemory(ctx, &Memory{
		Title:   "decision record",
		Content: "we chose sqlite",
		Tags:    []string{"adr", "storage"},
	}, "tester", "")
	if err != nil {
		t.Fatalf("create memory: %v", err)
	}
	if created.VersionNumber != 0 {
		t.Fatalf("expected version 0, got %d", created.VersionNumber)
	}

	content := "we chose sqlite, in WAL mode"
	updated, err := st.UpdateMemory(ctx, DefaultProject, created.ID, 0, MemoryPatch{Content: &content}, "tester", "")
	if err != nil {
		t.Fatalf("update memory: %v", err)
	}
	if updated.VersionNumber != 1 || updated.Content != content {
		t.Fatalf("unexpected update result: %+v", updated)
	}

	// Stale version loses.
	if _, err := st.UpdateMemory(ctx, DefaultProject, created.ID, 0, MemoryPatch{Content: &content}, "", ""); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	if err := st.DeleteMemory(ctx, DefaultProject, created.ID, 1, "tester", ""); err != nil {
		t.Fatalf("delete memory: %v", err)
	}
	if _, err := st.GetMemory(ctx, DefaultProject, created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryTitleRequired(t *testing.T) {
	st := newTestStore(t)
	if _, err := st.CreateMemory(context.Background(), &Memory{Content: "untitled"}, "", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMemoryTaskBackref(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.CreateMemory(ctx, &Memory{Title: "orphan ref", TaskID: "missing"}, "", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for unknown task, got %v", err)
	}

	task := mustCreateTask(t, st, &Task{Name: "anchor"})
	mem, err := st.CreateMemory(ctx, &Memory{Title: "linked", TaskID: task.ID}, "", "")
	if err != nil {
		t.Fatalf("create memory with backref: %v", err)
	}

	// Deleting the task leaves the memory in place: the reference is not
	// ownership.
	if err := st.DeleteTask(ctx, DefaultProject, task.ID, 0, "", ""); err != nil {
		t.Fatalf("delete task: %v", err)
	}
	got, err := st.GetMemory(ctx, DefaultProject, mem.ID)
	if err != nil {
		t.Fatalf("memory should survive task deletion: %v", err)
	}
	if got.TaskID != task.ID {
		t.Fatalf("backref rewritten: %q", got.TaskID)
	}
}

func TestMemoryListFilters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	task := mustCreateTask(t, st, &Task{Name: "carrier"})
	if _, err := st.CreateMemory(ctx, &Memory{Title: "alpha notes", Content: "retry budget is three", Tags: []string{"ops"}}, "", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := st.CreateMemory(ctx, &Memory{Title: "beta notes", TaskID: task.ID, Tags: []string{"design", "ops"}}, "", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := st.CreateMemory(ctx, &Memory{Title: "unrelated", Tags: []string{"misc"}}, "", ""); err != nil {
		t.Fatalf("create: %v", err)
	}

	byTask, err := st.ListMemories(ctx, DefaultProject, MemoryFilter{TaskID: task.ID})
	if err != nil {
		t.Fatalf("list by task: %v", err)
	}
	if len(byTask) != 1 || byTask[0].Title != "beta notes" {
		t.Fatalf("unexpected task filter result: %+v", byTask)
	}

	byTag, err := st.ListMemories(ctx, DefaultProject, MemoryFilter{Tags: []string{"ops", "nope"}})
	if err != nil {
		t.Fatalf("list by tag: %v", err)
	}
	if len(byTag) != 2 {
		t.Fatalf("expected any-match on tags to return 2, got %d", len(byTag))
	}

	byQuery, err := st.ListMemories(ctx, DefaultProject, MemoryFilter{Query: "retry budget"})
	if err != nil {
		t.Fatalf("list by query: %v", err)
	}
	if len(byQuery) != 1 || byQuery[0].Title != "alpha notes" {
		t.Fatalf("unexpected query result: %+v", byQuery)
	}
}

func TestMemoryTagFilterPaginatesOverMatchesOnly(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// Several untagged rows ahead of the one match: the tag filter must
	// narrow the row set before limit/offset apply, not after.
	for i := 0; i < 4; i++ {
		if _, err := st.CreateMemory(ctx, &Memory{Title: fmt.Sprintf("filler %d", i)}, "", ""); err != nil {
			t.Fatalf("create filler: %v", err)
		}
	}
	tagged, err := st.CreateMemory(ctx, &Memory{Title: "the one", Tags: []string{"wanted"}}, "", "")
	if err != nil {
		t.Fatalf("create tagged: %v", err)
	}

	got, err := st.ListMemories(ctx, DefaultProject, MemoryFilter{Tags: []string{"wanted"}, Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != tagged.ID {
		t.Fatalf("expected the tagged memory within limit 2, got %+v", got)
	}

	// Offsets count matches, not raw rows.
	got, err = st.ListMemories(ctx, DefaultProject, MemoryFilter{Tags: []string{"wanted"}, Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("list with offset: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no second page of matches, got %+v", got)
	}
}

func TestMemoryRevertAfterDelete(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	created, err := st.CreateMemory(ctx, &Memory{Title: "keeper", Content: "original"}, "tester", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	content := "revised"
	if _, err := st.UpdateMemory(ctx, DefaultProject, created.ID, 0, MemoryPatch{Content: &content}, "", ""); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := st.DeleteMemory(ctx, DefaultProject, created.ID, 1, "", ""); err != nil {
		t.Fatalf("delete: %v", err)
	}

	reverted, err := st.RevertMemory(ctx, DefaultProject, created.ID, 1, "tester")
	if err != nil {
		t.Fatalf("revert: %v", err)
	}
	if reverted.VersionNumber != 3 {
		t.Fatalf("expected sequence to continue at 3, got %d", reverted.VersionNumber)
	}
	if reverted.Content != "revised" {
		t.Fatalf("expected snapshot 1 content, got %q", reverted.Content)
	}
	if !reverted.CreatedAt.Equal(created.CreatedAt) {
		t.Fatalf("re-creation changed created_at: got %v, want %v", reverted.CreatedAt, created.CreatedAt)
	}

	versions, err := st.ListVersions(ctx, DefaultProject, EntityMemory, created.ID, 0, 0)
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	// create, update, delete, rollback.
	if len(versions) != 4 || versions[0].Operation != OpRollback {
		t.Fatalf("unexpected ledger: %+v", versions)
	}
}
