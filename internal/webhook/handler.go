// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package webhook serves the intake service's HTTP surface: the inbound
// email and SMS webhooks, the review action endpoints, health and metrics.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/engagetrack/intake/internal/ingest"
	"github.com/engagetrack/intake/internal/materialize"
	"github.com/engagetrack/intake/internal/models"
	"github.com/engagetrack/intake/internal/review"
	"github.com/engagetrack/intake/internal/routing"
)

// Ingester runs the ingestion pipeline.
type Ingester interface {
	Ingest(ctx context.Context, d ingest.Delivery) (*ingest.Outcome, error)
	Reclassify(ctx context.Context, messageID string) (*routing.Decision, error)
}

// Reviewer applies review resolutions.
type Reviewer interface {
	Resolve(ctx context.Context, reviewID string, a review.Action) (*review.Outcome, error)
	ResolveReply(ctx context.Context, from, body string) (*review.Outcome, error)
	Renotify(ctx context.Context, reviewID string) error
}

// Materializer exposes saga resumption and link inspection.
type Materializer interface {
	Resume(ctx context.Context, runID string) (*models.MaterializationRun, error)
	ResolveLinks(ctx context.Context, ref models.EntityRef) ([]materialize.ResolvedLink, error)
}

// Pinger is a dependency the health check pings.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config wires a Handler. An empty Secret disables signature checks on the
// email webhook.
type Config struct {
	Ingester     Ingester
	Reviewer     Reviewer
	Materializer Materializer
	Secret       string
	MaxSkew      time.Duration
	Checks       map[string]Pinger
}

// Handler serves all intake endpoints.
type Handler struct {
	ingester     Ingester
	reviewer     Reviewer
	materializer Materializer
	secret       string
	maxSkew      time.Duration
	checks       map[string]Pinger
	now          func() time.Time
}

// NewHandler creates a Handler.
func NewHandler(cfg Config) *Handler {
	skew := cfg.MaxSkew
	if skew <= 0 {
		skew = DefaultMaxSkew
	}
	if cfg.Secret == "" {
		slog.Warn("webhook signing secret not set, email webhook is unauthenticated")
	}
	return &Handler{
		ingester:     cfg.Ingester,
		reviewer:     cfg.Reviewer,
		materializer: cfg.Materializer,
		secret:       cfg.Secret,
		maxSkew:      skew,
		checks:       cfg.Checks,
		now:          time.Now,
	}
}

// Routes returns the mux with every endpoint registered.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /webhooks/email", h.ServeEmail)
	mux.HandleFunc("POST /webhooks/sms", h.ServeSMS)

	mux.HandleFunc("POST /reviews/{id}/resolve", h.ServeResolve)
	mux.HandleFunc("POST /reviews/{id}/notify", h.ServeNotify)
	mux.HandleFunc("POST /messages/{id}/reclassify", h.ServeReclassify)
	mux.HandleFunc("POST /materializations/{id}/resume", h.ServeResume)
	mux.HandleFunc("GET /entities/{kind}/{id}/links", h.ServeLinks)

	mux.HandleFunc("GET /health", h.ServeHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	return logRequests(mux)
}

// ServeHealth pings every configured dependency.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	unhealthy := map[string]string{}
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			unhealthy[name] = err.Error()
		}
	}
	if len(unhealthy) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":    "unhealthy",
			"unhealthy": unhealthy,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Serve starts the HTTP server on the given port.
// It binds the port immediately and signals readiness via the returned channel
// before starting to accept connections. The server shuts down when ctx is
// cancelled, giving in-flight requests up to 15 seconds.
func Serve(ctx context.Context, port int, handler http.Handler) (<-chan struct{}, error) {
	server := &http.Server{
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", "error", err)
		}
	}()

	go func() {
		slog.Info("http server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	return ready, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": msg})
}

// statusRecorder captures the response code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			return
		}
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
