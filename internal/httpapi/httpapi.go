// Package httpapi exposes internal/engine.Engine over HTTP: two domain
// endpoints (ingest, retrieve), a liveness check, an index health check,
// and a Prometheus scrape endpoint. It carries no business logic beyond
// marshaling to/from the engine.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/latticemem/engine/internal/engine"
	"github.com/latticemem/engine/internal/hnsw"
	"github.com/latticemem/engine/internal/middleware"
	"github.com/latticemem/engine/internal/retrieval"
)

// Version is reported on /healthz.
const Version = "0.1.0"

// Service is the subset of *engine.Engine the HTTP surface calls,
// narrowed for handler-level testability.
type Service interface {
	Ingest(ctx context.Context, req engine.IngestRequest) (int64, error)
	Retrieve(ctx context.Context, req retrieval.Request) (retrieval.Response, error)
	HealthReport() hnsw.HealthReport
}

// Dependencies bundles everything the router needs.
type Dependencies struct {
	Engine      Service
	Metrics     *middleware.Metrics
	MetricsReg  *prometheus.Registry
	RateLimiter *middleware.RateLimiter
}

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// New builds the chi router: chi's own RequestID/Logger/Recoverer plus
// this repo's security headers and Prometheus monitoring, then the
// domain routes.
func New(deps Dependencies) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.SecurityHeaders)
	if deps.Metrics != nil {
		r.Use(middleware.Monitoring(deps.Metrics))
	}

	r.Get("/healthz", healthzHandler)
	if deps.MetricsReg != nil {
		r.Handle("/metrics", middleware.MetricsHandler(deps.MetricsReg))
	}

	domain := chi.NewRouter()
	if deps.RateLimiter != nil {
		domain.Use(middleware.RateLimit(deps.RateLimiter))
	}
	domain.With(middleware.Timeout(30 * time.Second)).Post("/memories", ingestHandler(deps.Engine))
	domain.With(middleware.Timeout(10 * time.Second)).Post("/retrieve", retrieveHandler(deps.Engine))
	domain.Get("/health/index", indexHealthHandler(deps.Engine))
	domain.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusNotFound, envelope{Success: false, Error: "route not found"})
	})
	r.Mount("/v1", domain)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusNotFound, envelope{Success: false, Error: "route not found"})
	})

	return r
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]string{
		"status":  "ok",
		"version": Version,
	}})
}
