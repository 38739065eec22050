// Package api serves the kernel's introspection endpoints over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ramiqadoumi/go-task-kernel/internal/domain"
	"github.com/ramiqadoumi/go-task-kernel/internal/kernel"
	redisstore "github.com/ramiqadoumi/go-task-kernel/internal/redis"
	"github.com/ramiqadoumi/go-task-kernel/internal/workload"
	"github.com/ramiqadoumi/go-task-kernel/pkg/telemetry"
)

// TaskTable is the part of *kernel.Table the API needs.
type TaskTable interface {
	Spawn(name string, prog kernel.Program) (int, error)
	Snapshot(id int) (kernel.TaskView, error)
	List() []kernel.TaskView
	Reap(id int) (kernel.TaskView, error)
}

// REST handles introspection requests against one kernel's task table.
type REST struct {
	table    TaskTable
	kernelID string
	cache    redisstore.SnapshotStore
	checks   []telemetry.ReadyCheck
	logger   *slog.Logger
}

// Option configures REST.
type Option func(*REST)

// WithCache enables the Redis fallback for tasks no longer in the table.
func WithCache(c redisstore.SnapshotStore) Option {
	return func(h *REST) { h.cache = c }
}

func WithReadyChecks(checks ...telemetry.ReadyCheck) Option {
	return func(h *REST) { h.checks = append(h.checks, checks...) }
}

func WithLogger(l *slog.Logger) Option {
	return func(h *REST) { h.logger = l }
}

// NewREST creates a REST handler.
func NewREST(table TaskTable, kernelID string, opts ...Option) *REST {
	h := &REST{table: table, kernelID: kernelID, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// TaskResponse is a task view plus where it was read from: "live" for the
// task table, "cache" for the last exported snapshot.
type TaskResponse struct {
	kernel.TaskView
	Source     string     `json:"source"`
	ExportedAt *time.Time `json:"exported_at,omitempty"`
}

// ListResponse is the GET /api/v1/tasks body.
type ListResponse struct {
	KernelID string            `json:"kernel_id"`
	Tasks    []kernel.TaskView `json:"tasks"`
}

// SpawnResponse is the 201 body for POST /api/v1/tasks.
type SpawnResponse struct {
	ID     int           `json:"id"`
	Name   string        `json:"name"`
	Status domain.Status `json:"status"`
}

// ListTasks handles GET /api/v1/tasks.
func (h *REST) ListTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ListResponse{KernelID: h.kernelID, Tasks: h.table.List()})
}

// GetTask handles GET /api/v1/tasks/{id}.
func (h *REST) GetTask(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("api").Start(r.Context(), "api.get_task")
	defer span.End()

	id, ok := taskID(w, r)
	if !ok {
		return
	}
	span.SetAttributes(attribute.Int("task.id", id))

	view, err := h.table.Snapshot(id)
	if err == nil {
		writeJSON(w, http.StatusOK, TaskResponse{TaskView: view, Source: "live"})
		return
	}

	var notFound *domain.TaskNotFoundError
	if !errors.As(err, &notFound) || h.cache == nil {
		h.writeTaskError(w, id, err)
		return
	}

	cached, err := h.cache.GetSnapshot(ctx, h.kernelID, id)
	if err != nil {
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		h.logger.Error("snapshot cache error", slog.Int("task_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to retrieve task")
		return
	}
	exportedAt := cached.ExportedAt
	writeJSON(w, http.StatusOK, TaskResponse{TaskView: cached.TaskView, Source: "cache", ExportedAt: &exportedAt})
}

// SpawnTask handles POST /api/v1/tasks. The body uses the workload manifest
// task format.
func (h *REST) SpawnTask(w http.ResponseWriter, r *http.Request) {
	var spec workload.TaskSpec
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	prog, err := spec.Compile()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.table.Spawn(spec.Name, prog)
	if err != nil {
		var full *domain.TaskTableFullError
		if errors.As(err, &full) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		h.logger.Error("spawn failed", slog.String("task", spec.Name), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to spawn task")
		return
	}

	h.logger.Info("task spawned", slog.Int("task_id", id), slog.String("task", spec.Name), slog.Int("instructions", len(prog)))
	writeJSON(w, http.StatusCreated, SpawnResponse{ID: id, Name: spec.Name, Status: domain.StatusReady})
}

// ReapTask handles DELETE /api/v1/tasks/{id}. The final view is written to
// the cache so it stays readable after the slot is reused.
func (h *REST) ReapTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	view, err := h.table.Reap(id)
	if err != nil {
		h.writeTaskError(w, id, err)
		return
	}
	if h.cache != nil {
		if err := h.cache.SetSnapshot(r.Context(), h.kernelID, view); err != nil {
			h.logger.Warn("cache final snapshot", slog.Int("task_id", id), slog.String("error", err.Error()))
		}
	}
	writeJSON(w, http.StatusOK, TaskResponse{TaskView: view, Source: "live"})
}

// Healthz handles GET /healthz.
func (h *REST) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz handles GET /readyz.
func (h *REST) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for _, check := range h.checks {
		if err := check(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "not ready: "+err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *REST) writeTaskError(w http.ResponseWriter, id int, err error) {
	var (
		notFound  *domain.TaskNotFoundError
		notExited *domain.TaskNotExitedError
	)
	switch {
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, "task not found")
	case errors.As(err, &notExited):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("task table error", slog.Int("task_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to retrieve task")
	}
}

func taskID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 0 {
		writeError(w, http.StatusBadRequest, "task id must be a non-negative integer")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
