package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	redisstore "github.com/ramiqadoumi/go-task-kernel/internal/redis"
)

// NewRouter mounts h. limiter may be nil to disable rate limiting; health
// endpoints are never limited.
func NewRouter(h *REST, limiter redisstore.RateLimiter, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(RequestLogger(logger))
	r.Use(MaxBodySize(1 << 20))

	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	r.Route("/api/v1", func(r chi.Router) {
		if limiter != nil {
			r.Use(RateLimit(limiter, logger))
		}
		r.Get("/tasks", h.ListTasks)
		r.Post("/tasks", h.SpawnTask)
		r.Get("/tasks/{id}", h.GetTask)
		r.Delete("/tasks/{id}", h.ReapTask)
	})
	return r
}
