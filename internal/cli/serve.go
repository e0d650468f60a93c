package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/taskledger/taskledger/internal/depgraph"
	"github.com/taskledger/taskledger/internal/memory"
	"github.com/taskledger/taskledger/internal/relay"
	"github.com/taskledger/taskledger/internal/store"
	"github.com/taskledger/taskledger/internal/task"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "Bind address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	st, cfg, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if cfg.Relay.Brokers != "" {
		r := relay.NewAuditRelay(cfg.Relay.Brokers, cfg.Relay.Topic, cfg.Relay.Timeout)
		defer r.Close()
		st.SetAuditSink(r)
		logger.Info("audit relay enabled", "brokers", cfg.Relay.Brokers, "topic", cfg.Relay.Topic)
	}

	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = cfg.Server.Addr
	}

	taskSvc := task.NewService(st, logger)
	memSvc := memory.NewService(st, logger)
	srv := &http.Server{
		Addr:    addr,
		Handler: newAPIMux(taskSvc, memSvc, st),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http api listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

// newAPIMux builds the REST surface. Handlers are closures over the
// services; the tenant comes from the X-Project-ID header.
func newAPIMux(tasks *task.Service, memories *memory.Service, st *store.Store) *http.ServeMux {
	mux := http.NewServeMux()

	// Tasks
	mux.HandleFunc("POST /api/v1/tasks", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			store.Task
			Actor   string `json:"actor"`
			Message string `json:"message"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		req.Task.ProjectID = requestProject(r)
		created, err := tasks.Create(r.Context(), &req.Task, req.Actor, req.Message)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	})

	mux.HandleFunc("POST /api/v1/tasks/bulk", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Tasks   []*store.Task `json:"tasks"`
			Actor   string        `json:"actor"`
			Message string        `json:"message"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		created, err := tasks.BulkCreate(r.Context(), requestProject(r), req.Tasks, req.Actor, req.Message)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	})

	mux.HandleFunc("GET /api/v1/tasks", func(w http.ResponseWriter, r *http.Request) {
		limit, offset := pageParams(r)
		list, err := tasks.List(r.Context(), requestProject(r), r.URL.Query().Get("status"), limit, offset)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, orEmpty(list))
	})

	mux.HandleFunc("GET /api/v1/tasks/stats", func(w http.ResponseWriter, r *http.Request) {
		stats, err := tasks.Statistics(r.Context(), requestProject(r))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	})

	mux.HandleFunc("GET /api/v1/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		t, err := tasks.Get(r.Context(), requestProject(r), r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	})

	mux.HandleFunc("PATCH /api/v1/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ExpectedVersion *int64 `json:"expected_version"`
			store.TaskPatch
			Actor   string `json:"actor"`
			Message string `json:"message"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.ExpectedVersion == nil {
			writeJSON(w, http.StatusUnprocessableEntity, errorBody("expected_version is required"))
			return
		}
		updated, err := tasks.Update(r.Context(), requestProject(r), r.PathValue("id"), *req.ExpectedVersion, req.TaskPatch, req.Actor, req.Message)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	})

	mux.HandleFunc("DELETE /api/v1/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		expected, ok := expectedVersionParam(w, r)
		if !ok {
			return
		}
		err := tasks.Delete(r.Context(), requestProject(r), r.PathValue("id"), expected, r.URL.Query().Get("actor"), "")
		if err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /api/v1/tasks/{id}/versions", func(w http.ResponseWriter, r *http.Request) {
		limit, offset := pageParams(r)
		project := requestProject(r)
		list, err := tasks.Versions(r.Context(), project, r.PathValue("id"), limit, offset)
		if err != nil {
			writeError(w, err)
			return
		}
		total, err := st.CountVersions(r.Context(), project, store.EntityTask, r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("X-Total-Count", strconv.FormatInt(total, 10))
		writeJSON(w, http.StatusOK, orEmpty(list))
	})

	mux.HandleFunc("POST /api/v1/tasks/{id}/revert", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Version *int64 `json:"version"`
			Actor   string `json:"actor"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Version == nil {
			writeJSON(w, http.StatusUnprocessableEntity, errorBody("version is required"))
			return
		}
		reverted, err := tasks.Revert(r.Context(), requestProject(r), r.PathValue("id"), *req.Version, req.Actor)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, reverted)
	})

	mux.HandleFunc("GET /api/v1/tasks/{id}/todos", func(w http.ResponseWriter, r *http.Request) {
		todos, err := tasks.Todos(r.Context(), requestProject(r), r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, orEmpty(todos))
	})

	mux.HandleFunc("PUT /api/v1/tasks/{id}/todos", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ExpectedVersion *int64           `json:"expected_version"`
			Todos           []store.TodoItem `json:"todos"`
			Notes           string           `json:"notes"`
			Actor           string           `json:"actor"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.ExpectedVersion == nil {
			writeJSON(w, http.StatusUnprocessableEntity, errorBody("expected_version is required"))
			return
		}
		updated, err := tasks.SetTodos(r.Context(), requestProject(r), r.PathValue("id"), *req.ExpectedVersion, req.Todos, req.Notes, req.Actor)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	})

	mux.HandleFunc("POST /api/v1/tasks/{id}/verify", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ExpectedVersion *int64 `json:"expected_version"`
			Score           int    `json:"score"`
			Summary         string `json:"summary"`
			Actor           string `json:"actor"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.ExpectedVersion == nil {
			writeJSON(w, http.StatusUnprocessableEntity, errorBody("expected_version is required"))
			return
		}
		result, err := tasks.Verify(r.Context(), requestProject(r), r.PathValue("id"), *req.ExpectedVersion, req.Score, req.Summary, req.Actor)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	})

	mux.HandleFunc("GET /api/v1/tasks/{id}/dependencies", func(w http.ResponseWriter, r *http.Request) {
		info, err := tasks.Dependencies(r.Context(), requestProject(r), r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, info)
	})

	// Memories
	mux.HandleFunc("POST /api/v1/memories", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			store.Memory
			Actor   string `json:"actor"`
			Message string `json:"message"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		req.Memory.ProjectID = requestProject(r)
		created, err := memories.Create(r.Context(), &req.Memory, req.Actor, req.Message)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	})

	mux.HandleFunc("GET /api/v1/memories", func(w http.ResponseWriter, r *http.Request) {
		limit, offset := pageParams(r)
		q := r.URL.Query()
		filter := store.MemoryFilter{
			TaskID: q.Get("task_id"),
			Query:  q.Get("q"),
			Tags:   q["tag"],
			Limit:  limit,
			Offset: offset,
		}
		list, err := memories.List(r.Context(), requestProject(r), filter)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, orEmpty(list))
	})

	mux.HandleFunc("GET /api/v1/memories/{id}", func(w http.ResponseWriter, r *http.Request) {
		m, err := memories.Get(r.Context(), requestProject(r), r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	})

	mux.HandleFunc("PATCH /api/v1/memories/{id}", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ExpectedVersion *int64 `json:"expected_version"`
			store.MemoryPatch
			Actor   string `json:"actor"`
			Message string `json:"message"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.ExpectedVersion == nil {
			writeJSON(w, http.StatusUnprocessableEntity, errorBody("expected_version is required"))
			return
		}
		updated, err := memories.Update(r.Context(), requestProject(r), r.PathValue("id"), *req.ExpectedVersion, req.MemoryPatch, req.Actor, req.Message)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	})

	mux.HandleFunc("DELETE /api/v1/memories/{id}", func(w http.ResponseWriter, r *http.Request) {
		expected, ok := expectedVersionParam(w, r)
		if !ok {
			return
		}
		err := memories.Delete(r.Context(), requestProject(r), r.PathValue("id"), expected, r.URL.Query().Get("actor"), "")
		if err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /api/v1/memories/{id}/versions", func(w http.ResponseWriter, r *http.Request) {
		limit, offset := pageParams(r)
		project := requestProject(r)
		list, err := memories.Versions(r.Context(), project, r.PathValue("id"), limit, offset)
		if err != nil {
			writeError(w, err)
			return
		}
		total, err := st.CountVersions(r.Context(), project, store.EntityMemory, r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("X-Total-Count", strconv.FormatInt(total, 10))
		writeJSON(w, http.StatusOK, orEmpty(list))
	})

	mux.HandleFunc("POST /api/v1/memories/{id}/revert", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Version *int64 `json:"version"`
			Actor   string `json:"actor"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Version == nil {
			writeJSON(w, http.StatusUnprocessableEntity, errorBody("version is required"))
			return
		}
		reverted, err := memories.Revert(r.Context(), requestProject(r), r.PathValue("id"), *req.Version, req.Actor)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, reverted)
	})

	// Projects
	mux.HandleFunc("GET /api/v1/projects", func(w http.ResponseWriter, r *http.Request) {
		list, err := st.ListProjects(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, orEmpty(list))
	})

	mux.HandleFunc("DELETE /api/v1/projects/{id}", func(w http.ResponseWriter, r *http.Request) {
		del, err := st.DeleteProject(r.Context(), r.PathValue("id"), r.URL.Query().Get("actor"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, del)
	})

	// Audit
	mux.HandleFunc("GET /api/v1/audit", func(w http.ResponseWriter, r *http.Request) {
		limit, offset := pageParams(r)
		q := r.URL.Query()
		filter := store.AuditFilter{
			EntityType: q.Get("entity_type"),
			EntityID:   q.Get("entity_id"),
			Operation:  q.Get("operation"),
			Actor:      q.Get("actor"),
			Outcome:    q.Get("outcome"),
			Limit:      limit,
			Offset:     offset,
		}
		entries, err := st.QueryAudit(r.Context(), requestProject(r), filter)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, orEmpty(entries))
	})

	mux.HandleFunc("GET /api/v1/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version})
	})

	return mux
}

func requestProject(r *http.Request) string {
	if p := r.Header.Get("X-Project-ID"); p != "" {
		return p
	}
	return store.DefaultProject
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody(fmt.Sprintf("invalid request body: %v", err)))
		return false
	}
	return true
}

func expectedVersionParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.URL.Query().Get("expected_version")
	if raw == "" {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody("expected_version is required"))
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody("expected_version must be an integer"))
		return 0, false
	}
	return v, true
}

func pageParams(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	limit, _ = strconv.Atoi(q.Get("limit"))
	offset, _ = strconv.Atoi(q.Get("offset"))
	return limit, offset
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, store.ErrValidation),
		errors.Is(err, depgraph.ErrSelfReference),
		errors.Is(err, depgraph.ErrUnknownDependency),
		errors.Is(err, depgraph.ErrCycleDetected):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrStorageUnavailable):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, errorBody(err.Error()))
}

// orEmpty keeps list responses as [] instead of null.
func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
