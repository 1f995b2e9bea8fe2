package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gjallarhorn-io/gjallarhorn/internal/api/middleware"
	"github.com/gjallarhorn-io/gjallarhorn/internal/ingestion"
)

// mapQualityGateRequest converts the request into the domain report.
// Every unusable field is reported in one *ingestion.ValidationError.
func mapQualityGateRequest(req *QualityGateRequest) (*ingestion.QualityGateReport, error) {
	var problems []string

	report := &ingestion.QualityGateReport{
		ProjectName: strings.TrimSpace(req.ProjectName),
		Conditions:  make([]ingestion.Condition, 0, len(req.Conditions)),
	}

	if report.ProjectName == "" {
		problems = append(problems, "projectName is required")
	}

	for i, c := range req.Conditions {
		condition := ingestion.Condition{
			Metric: strings.TrimSpace(c.Metric),
			Level:  strings.TrimSpace(c.Level),
		}

		if condition.Metric == "" {
			problems = append(problems, fmt.Sprintf("conditions[%d].metric is required", i))
		}

		fields := []struct {
			name  string
			value NullableNumber
			dst   **float64
		}{
			{"warning", c.Warning, &condition.Warning},
			{"error", c.Error, &condition.Error},
			{"actual", c.Actual, &condition.Actual},
		}

		for _, f := range fields {
			v, err := f.value.Float()
			if err != nil {
				problems = append(problems, fmt.Sprintf("conditions[%d].%s: %v", i, f.name, err))

				continue
			}

			*f.dst = v
		}

		report.Conditions = append(report.Conditions, condition)
	}

	if len(problems) > 0 {
		return nil, ingestion.NewValidationError(problems...)
	}

	return report, nil
}

// handleQualityGate ingests a quality-gate report.
// POST /api/v1/kvasir/sonarqube
//
// Responses:
//   - 201 Created: at least one measure was created
//   - 200 OK: every measure already existed and was updated
//   - 422 Unprocessable Entity: invalid report, unknown project or storage failure
//   - 415, 413, 400: wrong content type, oversized body, malformed JSON
func (s *Server) handleQualityGate(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	correlationID := middleware.GetCorrelationID(r.Context())

	var req QualityGateRequest
	if problem := s.decodeJSONBody(w, r, &req); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	s.logger.Info("Received quality gate",
		slog.String("correlation_id", correlationID),
		slog.String("project", req.ProjectName),
		slog.Int("conditions", len(req.Conditions)),
	)

	report, err := mapQualityGateRequest(&req)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, s.ingestionProblem(r, "quality gate", err))

		return
	}

	result, err := s.qualityGates.Upsert(r.Context(), report)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, s.ingestionProblem(r, "quality gate", err))

		return
	}

	statusCode, response := buildQualityGateResponse(correlationID, result)
	statusCode = s.writeJSON(w, r, statusCode, response)

	s.logger.Info("Quality gate processed",
		slog.String("correlation_id", correlationID),
		slog.String("project", result.Project.Name),
		slog.Int("measures", len(result.Measures)),
		slog.Int("status_code", statusCode),
		slog.Duration("duration", time.Since(startTime)),
	)
}

func buildQualityGateResponse(correlationID string, result *ingestion.UpsertResult) (int, *QualityGateResponse) {
	statusCode, status := http.StatusOK, string(ingestion.OutcomeUpdated)
	if result.Created() {
		statusCode, status = http.StatusCreated, string(ingestion.OutcomeCreated)
	}

	measures := make([]MeasureResponse, 0, len(result.Measures))
	for _, m := range result.Measures {
		measures = append(measures, MeasureResponse{
			ID:      m.Measure.ID.String(),
			Metric:  m.Measure.Metric,
			Outcome: string(m.Outcome),
		})
	}

	return statusCode, &QualityGateResponse{
		Status:        status,
		Project:       result.Project.Name,
		Measures:      measures,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
}
