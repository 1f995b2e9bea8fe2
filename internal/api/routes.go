package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gjallarhorn-io/gjallarhorn/internal/api/middleware"
)

const (
	healthCheckTimeout = 2 * time.Second
	serviceName        = "gjallarhorn"
	versionHeader      = "X-Gjallarhorn-Version"
)

// setupRoutes registers every route on mux.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	s.registerRoutes(mux,
		Route{"GET /ping", s.handlePing},     // K8s liveness probe
		Route{"GET /ready", s.handleReady},   // K8s readiness probe
		Route{"GET /health", s.handleHealth}, // status, uptime, version
		Route{"/", s.handleNotFound},

		Route{"POST /api/v1/kvasir/sonarqube", s.handleQualityGate},
		Route{"POST /api/v1/test", s.handleScenarios},
	)
}

func (s *Server) registerRoutes(mux *http.ServeMux, routes ...Route) {
	for _, route := range routes {
		mux.Handle(route.Pattern, route.Handler)
	}
}

// writeText writes a plain-text probe response.
func (s *Server) writeText(w http.ResponseWriter, r *http.Request, statusCode int, body string) {
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set(versionHeader, s.config.Version)
	w.WriteHeader(statusCode)

	if _, err := w.Write([]byte(body)); err != nil {
		s.logger.Error("Failed to write probe response",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
}

// handlePing responds to liveness probes.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	s.writeText(w, r, http.StatusOK, "pong")
}

// handleReady responds to readiness probes after pinging storage.
//
// Response codes:
//   - 200 OK: storage answered within 2 seconds
//   - 503 Service Unavailable: storage is unhealthy or unreachable
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.healthChecker == nil {
		s.writeText(w, r, http.StatusOK, "ready")

		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.healthChecker.HealthCheck(ctx); err != nil {
		s.logger.Error("Storage health check failed",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)

		s.writeText(w, r, http.StatusServiceUnavailable, "storage unavailable")

		return
	}

	s.writeText(w, r, http.StatusOK, "ready")
}

// handleHealth returns service status, version and uptime.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var uptime string
	if !s.startTime.IsZero() {
		uptime = time.Since(s.startTime).Round(time.Second).String()
	}

	w.Header().Set(versionHeader, s.config.Version)

	s.writeJSON(w, r, http.StatusOK, HealthStatus{
		Status:      "healthy",
		ServiceName: serviceName,
		Version:     s.config.Version,
		Uptime:      uptime,
	})
}

// handleNotFound returns RFC 7807 compliant 404 responses for unknown endpoints.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFound("The requested resource was not found"))
}
