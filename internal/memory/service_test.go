package memory

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/taskledger/taskledger/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "memories.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return NewService(st, slog.Default())
}

func TestMemoryServiceRoundTrip(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, &store.Memory{
		Title:    "postmortem",
		Content:  "lock contention on the versions table",
		Tags:     []string{"incident"},
		Metadata: map[string]string{"severity": "2"},
	}, "oncall", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := svc.Get(ctx, store.DefaultProject, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Metadata["severity"] != "2" || len(got.Tags) != 1 {
		t.Fatalf("round trip lost fields: %+v", got)
	}

	title := "postmortem (final)"
	updated, err := svc.Update(ctx, store.DefaultProject, created.ID, 0, store.MemoryPatch{Title: &title}, "oncall", "")
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	reverted, err := svc.Revert(ctx, store.DefaultProject, created.ID, 0, "oncall")
	if err != nil {
		t.Fatalf("revert: %v", err)
	}
	if reverted.Title != "postmortem" {
		t.Fatalf("expected original title restored, got %q", reverted.Title)
	}
	if reverted.VersionNumber != updated.VersionNumber+1 {
		t.Fatalf("revert must advance the version, got %d", reverted.VersionNumber)
	}

	versions, err := svc.Versions(ctx, store.DefaultProject, created.ID, 0, 0)
	if err != nil {
		t.Fatalf("versions: %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("expected 3 ledger entries, got %d", len(versions))
	}

	if err := svc.Delete(ctx, store.DefaultProject, created.ID, reverted.VersionNumber, "oncall", ""); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(ctx, store.DefaultProject, created.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
