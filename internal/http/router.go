package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"ai-lecture-transcriber/internal/app"
	"ai-lecture-transcriber/internal/observability/metrics"
	"ai-lecture-transcriber/internal/service/engine"
	"ai-lecture-transcriber/internal/service/session"
)

// Sessions is the session registry view served under /v1/sessions.
type Sessions interface {
	List() []session.Snapshot
	Snapshot(id string) (session.Snapshot, error)
	ResetSession(id string) error
}

// Backends exposes engine statistics.
type Backends interface {
	Stats() map[string]engine.BackendStats
	Strategy() engine.Strategy
}

// Deps are the handlers' collaborators.
type Deps struct {
	Sessions Sessions
	Backends Backends
	// Ready reports readiness; nil is always ready.
	Ready func() bool
	// QueueDepth reports the batch queue depth; nil omits it.
	QueueDepth func() int
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(application *app.Application) http.Handler {
	deps := Deps{
		Sessions: application.Orchestrator,
		Backends: application.Engine,
		Ready:    application.Ready,
		Logger:   application.Logger,
	}
	if application.Scheduler != nil {
		deps.QueueDepth = application.Scheduler.Depth
	}
	return newRouter(deps)
}

func newRouter(deps Deps) http.Handler {
	if deps.Metrics == nil {
		deps.Metrics = metrics.DefaultMetrics
	}
	h := &handlers{deps: deps, logger: deps.Logger.With().Str("component", "http").Logger()}

	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.instrument)

	r.Handle("/metrics", promhttp.Handler())

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", h.readiness)

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Get("/sessions", h.listSessions)
		r.Get("/sessions/{id}", h.getSession)
		r.Post("/sessions/{id}/reset", h.resetSession)
		r.Get("/backends", h.backends)
	})

	return r
}

type handlers struct {
	deps   Deps
	logger zerolog.Logger
}

func (h *handlers) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		h.deps.Metrics.RecordHTTP(route, ww.Status())
		h.logger.Debug().
			Str("route", route).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("requestId", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

func (h *handlers) readiness(w http.ResponseWriter, _ *http.Request) {
	if h.deps.Ready != nil && !h.deps.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (h *handlers) listSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := h.deps.Sessions.List()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(sessions),
		"sessions": sessions,
	})
}

func (h *handlers) getSession(w http.ResponseWriter, r *http.Request) {
	snap, err := h.deps.Sessions.Snapshot(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

func (h *handlers) resetSession(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Sessions.ResetSession(chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type backendView struct {
	engine.BackendStats
	SuccessRate float64 `json:"successRate"`
}

func (h *handlers) backends(w http.ResponseWriter, _ *http.Request) {
	stats := h.deps.Backends.Stats()
	views := make(map[string]backendView, len(stats))
	for kind, s := range stats {
		views[kind] = backendView{BackendStats: s, SuccessRate: s.SuccessRate()}
	}
	body := map[string]any{
		"strategy": h.deps.Backends.Strategy().String(),
		"backends": views,
	}
	if h.deps.QueueDepth != nil {
		body["queueDepth"] = h.deps.QueueDepth()
	}
	h.writeJSON(w, http.StatusOK, body)
}

func (h *handlers) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		code = http.StatusNotFound
	case errors.Is(err, session.ErrSessionInactive):
		code = http.StatusConflict
	}
	h.writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (h *handlers) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to write response")
	}
}
