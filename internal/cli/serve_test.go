package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/taskledger/taskledger/internal/memory"
	"github.com/taskledger/taskledger/internal/store"
	"github.com/taskledger/taskledger/internal/task"
)

func newTestAPI(t *testing.T) http.Handler {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	logger := slog.Default()
	return newAPIMux(task.NewService(st, logger), memory.NewService(st, logger), st)
}

func doJSON(t *testing.T, h http.Handler, method, path, project string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if project != "" {
		req.Header.Set("X-Project-ID", project)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeTask(t *testing.T, rec *httptest.ResponseRecorder) store.Task {
	t.Helper()
	var tk store.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &tk); err != nil {
		t.Fatalf("decode task: %v (body %s)", err, rec.Body.String())
	}
	return tk
}

func TestAPITaskLifecycle(t *testing.T) {
	h := newTestAPI(t)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/tasks", "", map[string]any{
		"name":  "ship release",
		"actor": "alice",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeTask(t, rec)
	if created.VersionNumber != 0 || created.ProjectID != store.DefaultProject {
		t.Fatalf("unexpected create response: %+v", created)
	}

	rec = doJSON(t, h, http.MethodPatch, "/api/v1/tasks/"+created.ID, "", map[string]any{
		"expected_version": 0,
		"status":           store.TaskStatusInProgress,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch status %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeTask(t, rec); got.VersionNumber != 1 || got.Status != store.TaskStatusInProgress {
		t.Fatalf("unexpected patch result: %+v", got)
	}

	// Stale expected version maps to 409.
	rec = doJSON(t, h, http.MethodPatch, "/api/v1/tasks/"+created.ID, "", map[string]any{
		"expected_version": 0,
		"status":           store.TaskStatusCompleted,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for stale version, got %d", rec.Code)
	}

	// Missing expected version maps to 422.
	rec = doJSON(t, h, http.MethodPatch, "/api/v1/tasks/"+created.ID, "", map[string]any{
		"status": store.TaskStatusCompleted,
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 without expected_version, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/tasks/"+created.ID+"/versions", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("versions status %d", rec.Code)
	}
	var versions []store.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &versions); err != nil {
		t.Fatalf("decode versions: %v", err)
	}
	if len(versions) != 2 || versions[0].Seq != 1 {
		t.Fatalf("unexpected ledger: %+v", versions)
	}

	rec = doJSON(t, h, http.MethodDelete, fmt.Sprintf("/api/v1/tasks/%s?expected_version=1", created.ID), "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status %d: %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, h, http.MethodGet, "/api/v1/tasks/"+created.ID, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/tasks/"+created.ID+"/revert", "", map[string]any{
		"version": 0,
		"actor":   "alice",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("revert status %d: %s", rec.Code, rec.Body.String())
	}
	// Ledger so far: create 0, update 1, delete 2; re-creation continues at 3.
	if got := decodeTask(t, rec); got.VersionNumber != 3 {
		t.Fatalf("expected re-created at version 3, got %+v", got)
	}
}

func TestAPIProjectHeaderPartitions(t *testing.T) {
	h := newTestAPI(t)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/tasks", "team-a", map[string]any{"name": "a-only"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/tasks", "team-b", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status %d", rec.Code)
	}
	var teamB []store.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &teamB); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(teamB) != 0 {
		t.Fatalf("partition leak across header values: %+v", teamB)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/tasks", "team-a", nil)
	var teamA []store.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &teamA); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(teamA) != 1 {
		t.Fatalf("expected 1 task for team-a, got %d", len(teamA))
	}
}

func TestAPIDependencyRejectionsMapTo422(t *testing.T) {
	h := newTestAPI(t)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/tasks", "", map[string]any{
		"name":         "broken",
		"dependencies": []string{"no-such-task"},
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unknown dependency, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/tasks/bulk", "", map[string]any{
		"tasks": []map[string]any{
			{"name": "x", "dependencies": []string{"y"}},
			{"name": "y", "dependencies": []string{"x"}},
		},
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for cycle, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAPIVerifyAndTodos(t *testing.T) {
	h := newTestAPI(t)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/tasks", "", map[string]any{"name": "candidate"})
	created := decodeTask(t, rec)

	rec = doJSON(t, h, http.MethodPut, "/api/v1/tasks/"+created.ID+"/todos", "", map[string]any{
		"expected_version": 0,
		"todos":            []map[string]any{{"content": "add tests"}},
		"notes":            "review feedback",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("put todos status %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/tasks/"+created.ID+"/verify", "", map[string]any{
		"expected_version": 1,
		"score":            92,
		"summary":          "done well",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("verify status %d: %s", rec.Code, rec.Body.String())
	}
	var result task.VerifyResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode verify: %v", err)
	}
	if !result.Completed || result.Task.Status != store.TaskStatusCompleted {
		t.Fatalf("unexpected verify result: %+v", result)
	}
}

func TestAPIAuditEndpoint(t *testing.T) {
	h := newTestAPI(t)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/tasks", "audited", map[string]any{"name": "tracked", "actor": "bob"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/audit?outcome=success", "audited", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("audit status %d", rec.Code)
	}
	var entries []store.AuditEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode audit: %v", err)
	}
	if len(entries) != 1 || entries[0].Actor != "bob" || entries[0].Operation != store.OpCreate {
		t.Fatalf("unexpected audit entries: %+v", entries)
	}
}
