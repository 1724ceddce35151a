package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"routerd/pkg/types"
)

// Service defines the engine methods required by the HTTP API layer.
type Service interface {
	State() types.StatusResponse
	SelectModel(ctx context.Context, hints types.RouteHints) types.RouteDecision
	RefreshHealth(ctx context.Context)
	RequestCompleted(model string)
	Ready() bool
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type"},
		}))
	}

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(svc.State()); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
			return
		}
	})

	r.Post("/route", func(w http.ResponseWriter, r *http.Request) {
		var hints types.RouteHints
		if !decodeJSONBody(w, r, &hints) {
			return
		}
		start := time.Now()
		// Join server base context with request context so shutdown cancels
		// an in-flight staleness refresh too.
		joinedCtx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		d := svc.SelectModel(joinedCtx, hints)
		if zlog != nil {
			z := zlog.Info().
				Str("target", d.Target).
				Str("source", string(d.Source)).
				Str("reason", d.Reason).
				Dur("dur", time.Since(start))
			if rid := middleware.GetReqID(r.Context()); rid != "" {
				z = z.Str("request_id", rid)
			}
			z.Msg("route")
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(d); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
			return
		}
	})

	r.Post("/refresh", func(w http.ResponseWriter, r *http.Request) {
		joinedCtx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		svc.RefreshHealth(joinedCtx)
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(svc.State()); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
			return
		}
	})

	r.Post("/completed", func(w http.ResponseWriter, r *http.Request) {
		var req types.CompletedRequest
		if !decodeJSONBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Model) == "" {
			writeJSONError(w, http.StatusBadRequest, "model is required")
			return
		}
		// Fire-and-forget keep-alive; never blocks the caller.
		svc.RequestCompleted(req.Model)
		w.WriteHeader(http.StatusAccepted)
	})

	r.Get("/dashboard", func(w http.ResponseWriter, r *http.Request) {
		renderDashboard(w, svc.State())
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("waiting for first health check"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", metricsHandler().ServeHTTP)

	MountSwagger(r)

	return r
}

// decodeJSONBody enforces Content-Type and the body size cap, then decodes
// into v. An empty body leaves v at its zero value. Writes the error response
// itself and returns false on failure.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && err != io.EOF {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}
