package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/taskledger/taskledger/internal/depgraph"
)

func mustCreateTask(t *testing.T, st *Store, task *Task) *Task {
	t.Helper()
	created, err := st.CreateTask(context.Background(), task, "tester", "")
	if err != nil {
		t.Fatalf("create task %q: %v", task.Name, err)
	}
	return created
}

func TestCreateTaskStartsAtVersionZero(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	created := mustCreateTask(t, st, &Task{Name: "bootstrap"})
	if created.ID == "" {
		t.Fatal("expected assigned id")
	}
	if created.VersionNumber != 0 {
		t.Fatalf("expected version 0, got %d", created.VersionNumber)
	}
	if created.ProjectID != DefaultProject {
		t.Fatalf("expected default project, got %q", created.ProjectID)
	}
	if created.Status != TaskStatusPending {
		t.Fatalf("expected pending status, got %q", created.Status)
	}

	versions, err := st.ListVersions(ctx, DefaultProject, EntityTask, created.ID, 0, 0)
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if len(versions) != 1 || versions[0].Seq != 0 || versions[0].Operation != OpCreate {
		t.Fatalf("expected single create snapshot at seq 0, got %+v", versions)
	}
}

func TestGetTaskUnknownPartitionDoesNotCreateIt(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.GetTask(ctx, "ghost", "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := st.GetProject(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("read must not create the partition: %v", err)
	}
}

func TestUpdateTaskOptimisticConcurrency(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	created := mustCreateTask(t, st, &Task{Name: "doc"})

	name := "doc v2"
	updated, err := st.UpdateTask(ctx, DefaultProject, created.ID, 0, TaskPatch{Name: &name}, "tester", "rename")
	if err != nil {
		t.Fatalf("update at version 0: %v", err)
	}
	if updated.VersionNumber != 1 {
		t.Fatalf("expected version 1, got %d", updated.VersionNumber)
	}
	if updated.Name != "doc v2" {
		t.Fatalf("patch not applied: %q", updated.Name)
	}

	// Stale writer re-using version 0 must lose.
	stale := "doc v2 stale"
	_, err = st.UpdateTask(ctx, DefaultProject, created.ID, 0, TaskPatch{Name: &stale}, "tester", "")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict for stale version, got %v", err)
	}

	got, err := st.GetTask(ctx, DefaultProject, created.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Name != "doc v2" || got.VersionNumber != 1 {
		t.Fatalf("losing write leaked: %+v", got)
	}

	versions, err := st.ListVersions(ctx, DefaultProject, EntityTask, created.ID, 0, 0)
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(versions))
	}
	if versions[0].Seq != 1 || versions[1].Seq != 0 {
		t.Fatalf("expected newest first ordering, got %d then %d", versions[0].Seq, versions[1].Seq)
	}
}

func TestUpdateTaskNilPatchFieldsUntouched(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	created := mustCreateTask(t, st, &Task{Name: "keep", Description: "original", Notes: "note"})

	status := TaskStatusInProgress
	updated, err := st.UpdateTask(ctx, DefaultProject, created.ID, 0, TaskPatch{Status: &status}, "", "")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Description != "original" || updated.Notes != "note" {
		t.Fatalf("nil patch fields modified: %+v", updated)
	}
	if updated.Status != TaskStatusInProgress {
		t.Fatalf("status patch not applied: %q", updated.Status)
	}
}

func TestConcurrentUpdatesExactlyOneWinner(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	created := mustCreateTask(t, st, &Task{Name: "contested"})

	const writers = 8
	var wg sync.WaitGroup
	results := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := TaskStatusInProgress
			_, err := st.UpdateTask(ctx, DefaultProject, created.ID, 0, TaskPatch{Status: &status}, "tester", "")
			results[i] = err
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrConflict):
		case errors.Is(err, ErrStorageUnavailable):
			// A loser may exhaust its busy retries under write contention.
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}

	got, err := st.GetTask(ctx, DefaultProject, created.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.VersionNumber != 1 {
		t.Fatalf("expected final version 1, got %d", got.VersionNumber)
	}
}

func TestDependencyValidation(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	a := mustCreateTask(t, st, &Task{Name: "a"})
	b := mustCreateTask(t, st, &Task{Name: "b", Dependencies: []string{a.ID}})

	// Closing the loop a -> b must be rejected and leave a untouched.
	_, err := st.UpdateTask(ctx, DefaultProject, a.ID, 0, TaskPatch{Dependencies: &[]string{b.ID}}, "", "")
	if !errors.Is(err, depgraph.ErrCycleDetected) {
		t.Fatalf("expected cycle, got %v", err)
	}
	got, err := st.GetTask(ctx, DefaultProject, a.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if len(got.Dependencies) != 0 || got.VersionNumber != 0 {
		t.Fatalf("rejected write leaked: %+v", got)
	}

	if _, err := st.CreateTask(ctx, &Task{Name: "selfish", ID: "self-1", Dependencies: []string{"self-1"}}, "", ""); !errors.Is(err, depgraph.ErrSelfReference) {
		t.Fatalf("expected self reference, got %v", err)
	}
	if _, err := st.CreateTask(ctx, &Task{Name: "dangling", Dependencies: []string{"no-such-task"}}, "", ""); !errors.Is(err, depgraph.ErrUnknownDependency) {
		t.Fatalf("expected unknown dependency, got %v", err)
	}
}

func TestDependencyResolutionByName(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	base := mustCreateTask(t, st, &Task{Name: "schema migration"})
	dep := mustCreateTask(t, st, &Task{Name: "api", Dependencies: []string{"schema migration"}})

	if len(dep.Dependencies) != 1 || dep.Dependencies[0] != base.ID {
		t.Fatalf("expected name resolved to id %s, got %v", base.ID, dep.Dependencies)
	}
	_ = ctx
}

func TestDeleteTaskAndRevertRecreates(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	created := mustCreateTask(t, st, &Task{Name: "phoenix", Description: "rises"})

	if err := st.DeleteTask(ctx, DefaultProject, created.ID, 5, "", ""); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict for wrong version, got %v", err)
	}
	if err := st.DeleteTask(ctx, DefaultProject, created.ID, 0, "tester", "obsolete"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := st.GetTask(ctx, DefaultProject, created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}

	// History survives the row: create at 0, delete at 1.
	versions, err := st.ListVersions(ctx, DefaultProject, EntityTask, created.ID, 0, 0)
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if len(versions) != 2 || versions[0].Operation != OpDelete {
		t.Fatalf("expected delete snapshot on top, got %+v", versions)
	}

	reverted, err := st.RevertTask(ctx, DefaultProject, created.ID, 0, "tester")
	if err != nil {
		t.Fatalf("revert deleted task: %v", err)
	}
	if reverted.VersionNumber != 2 {
		t.Fatalf("expected sequence to continue at 2, got %d", reverted.VersionNumber)
	}
	if reverted.Description != "rises" {
		t.Fatalf("content not restored: %+v", reverted)
	}

	versions, err = st.ListVersions(ctx, DefaultProject, EntityTask, created.ID, 0, 0)
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if len(versions) != 3 || versions[0].Operation != OpRollback {
		t.Fatalf("revert must append, not truncate: %+v", versions)
	}
}

func TestRevertLiveTaskAppendsRollback(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	created := mustCreateTask(t, st, &Task{Name: "draft", Description: "v0 text"})
	desc := "v1 text"
	if _, err := st.UpdateTask(ctx, DefaultProject, created.ID, 0, TaskPatch{Description: &desc}, "", ""); err != nil {
		t.Fatalf("update: %v", err)
	}

	reverted, err := st.RevertTask(ctx, DefaultProject, created.ID, 0, "tester")
	if err != nil {
		t.Fatalf("revert: %v", err)
	}
	if reverted.VersionNumber != 2 {
		t.Fatalf("expected version 2 after revert, got %d", reverted.VersionNumber)
	}
	if reverted.Description != "v0 text" {
		t.Fatalf("expected restored description, got %q", reverted.Description)
	}

	if _, err := st.RevertTask(ctx, DefaultProject, created.ID, 99, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for missing snapshot, got %v", err)
	}
}

func TestRevertOfRevertRestoresSameContent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	created := mustCreateTask(t, st, &Task{Name: "seed", Description: "first"})
	desc := "second"
	if _, err := st.UpdateTask(ctx, DefaultProject, created.ID, 0, TaskPatch{Description: &desc}, "", ""); err != nil {
		t.Fatalf("update: %v", err)
	}

	first, err := st.RevertTask(ctx, DefaultProject, created.ID, 0, "")
	if err != nil {
		t.Fatalf("first revert: %v", err)
	}
	// Reverting to the snapshot the revert itself produced must restore the
	// same content again, at a strictly later version.
	second, err := st.RevertTask(ctx, DefaultProject, created.ID, first.VersionNumber, "")
	if err != nil {
		t.Fatalf("second revert: %v", err)
	}
	if second.Description != first.Description || second.Name != first.Name {
		t.Fatalf("content diverged across reverts: %+v vs %+v", second, first)
	}
	if second.VersionNumber != first.VersionNumber+1 {
		t.Fatalf("revert must always advance the version, got %d then %d", first.VersionNumber, second.VersionNumber)
	}
}

func TestBulkCreateResolvesSiblingNames(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	created, err := st.BulkCreateTasks(ctx, "planner", []*Task{
		{Name: "design"},
		{Name: "implement", Dependencies: []string{"design"}},
		{Name: "ship", Dependencies: []string{"implement", "design"}},
	}, "tester", "initial plan")
	if err != nil {
		t.Fatalf("bulk create: %v", err)
	}
	if len(created) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(created))
	}
	if created[1].Dependencies[0] != created[0].ID {
		t.Fatalf("sibling name not resolved: %v", created[1].Dependencies)
	}
	for _, c := range created {
		if c.VersionNumber != 0 {
			t.Fatalf("bulk-created task not at version 0: %+v", c)
		}
	}
}

func TestBulkCreateRejectsCycleAtomically(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.BulkCreateTasks(ctx, "planner", []*Task{
		{Name: "x", Dependencies: []string{"y"}},
		{Name: "y", Dependencies: []string{"x"}},
	}, "tester", "")
	if !errors.Is(err, depgraph.ErrCycleDetected) {
		t.Fatalf("expected cycle, got %v", err)
	}

	list, err := st.ListTasks(ctx, "planner", "", 0, 0)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("rejected batch partially committed: %d tasks", len(list))
	}
}

func TestListTasksStatusFilter(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	a := mustCreateTask(t, st, &Task{Name: "one"})
	mustCreateTask(t, st, &Task{Name: "two"})
	status := TaskStatusCompleted
	if _, err := st.UpdateTask(ctx, DefaultProject, a.ID, 0, TaskPatch{Status: &status}, "", ""); err != nil {
		t.Fatalf("update: %v", err)
	}

	done, err := st.ListTasks(ctx, DefaultProject, TaskStatusCompleted, 0, 0)
	if err != nil {
		t.Fatalf("list completed: %v", err)
	}
	if len(done) != 1 || done[0].ID != a.ID {
		t.Fatalf("unexpected filter result: %+v", done)
	}

	stats, err := st.TaskStatistics(ctx, DefaultProject)
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats["total"] != 2 || stats[TaskStatusCompleted] != 1 || stats[TaskStatusPending] != 1 {
		t.Fatalf("unexpected statistics: %v", stats)
	}
}

func TestDependents(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	base := mustCreateTask(t, st, &Task{Name: "core"})
	child := mustCreateTask(t, st, &Task{Name: "child", Dependencies: []string{base.ID}})
	mustCreateTask(t, st, &Task{Name: "bystander"})

	deps, err := st.Dependents(ctx, DefaultProject, base.ID)
	if err != nil {
		t.Fatalf("dependents: %v", err)
	}
	if len(deps) != 1 || deps[0].ID != child.ID {
		t.Fatalf("unexpected dependents: %+v", deps)
	}
}

func TestPartitionIsolation(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	alpha := mustCreateTask(t, st, &Task{ProjectID: "alpha", Name: "shared-name"})
	beta := mustCreateTask(t, st, &Task{ProjectID: "beta", Name: "shared-name"})

	// Same explicit id in another partition is fine.
	if _, err := st.CreateTask(ctx, &Task{ProjectID: "gamma", ID: alpha.ID, Name: "clone"}, "", ""); err != nil {
		t.Fatalf("same id in another partition: %v", err)
	}

	// Cross-partition dependency cannot resolve.
	if _, err := st.CreateTask(ctx, &Task{ProjectID: "beta", Name: "crosser", Dependencies: []string{alpha.ID}}, "", ""); !errors.Is(err, depgraph.ErrUnknownDependency) {
		t.Fatalf("expected unknown dependency across partitions, got %v", err)
	}

	list, err := st.ListTasks(ctx, "alpha", "", 0, 0)
	if err != nil {
		t.Fatalf("list alpha: %v", err)
	}
	if len(list) != 1 || list[0].ID != alpha.ID {
		t.Fatalf("partition leak: %+v", list)
	}
	_ = beta
}
