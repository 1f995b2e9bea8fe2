package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gjallarhorn-io/gjallarhorn/internal/api/middleware"
	"github.com/gjallarhorn-io/gjallarhorn/internal/ingestion"
)

// hasJSONContentType checks if Content-Type header starts with "application/json".
// This allows charset parameters (e.g., "application/json; charset=utf-8").
func hasJSONContentType(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "application/json")
}

// decodeJSONBody decodes exactly one JSON value from the request body into dst.
//
// Returns a problem for:
//   - 415 when Content-Type is not application/json
//   - 413 when the body exceeds MaxRequestSize
//   - 400 when the body is empty, malformed or followed by trailing data
func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) *ProblemDetail {
	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		return UnsupportedMediaType("Content-Type must be application/json")
	}

	tooLarge := PayloadTooLarge(fmt.Sprintf("Request body exceeds maximum size of %d bytes", s.config.MaxRequestSize))

	// Fail fast when the declared size is known; -1 (unknown) is checked while reading.
	if r.ContentLength > s.config.MaxRequestSize {
		return tooLarge
	}

	if r.ContentLength == 0 {
		return BadRequest("Request body cannot be empty")
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize))

	if err := decoder.Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError

		switch {
		case errors.As(err, &maxBytesErr):
			return tooLarge
		case errors.Is(err, io.EOF):
			return BadRequest("Request body cannot be empty")
		default:
			return BadRequest("Invalid JSON: " + err.Error())
		}
	}

	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return BadRequest("Request body must contain a single JSON value")
	}

	return nil
}

// ingestionProblem maps a failed ingestion to a 422 problem. Validation and not-found
// failures expose their message; storage failures are logged and reported generically.
func (s *Server) ingestionProblem(r *http.Request, what string, err error) *ProblemDetail {
	correlationID := middleware.GetCorrelationID(r.Context())

	var verr *ingestion.ValidationError

	switch {
	case errors.As(err, &verr):
		s.logger.Info("Rejected invalid "+what,
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)

		return UnprocessableEntity(ingestion.ErrValidation.Error()).WithErrors(verr.Problems...)
	case errors.Is(err, ingestion.ErrNotFound):
		s.logger.Info("Rejected "+what+" for unknown entity",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)

		return UnprocessableEntity(err.Error())
	default:
		s.logger.Error("Failed to store "+what,
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)

		return UnprocessableEntity(fmt.Sprintf("The %s could not be stored", what))
	}
}

// writeJSON marshals body and writes it with statusCode. It returns the status actually sent.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, statusCode int, body any) int {
	correlationID := middleware.GetCorrelationID(r.Context())

	data, err := json.Marshal(body)
	if err != nil {
		s.logger.Error("Failed to marshal response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("Failed to write response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}

	return statusCode
}
