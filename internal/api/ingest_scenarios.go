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

// mapScenarioRequests converts the request batch into domain inputs, preserving order.
// Step statuses are parsed case-insensitively; unknown values are validation problems.
func mapScenarioRequests(reqs []ScenarioRequest) ([]ingestion.ScenarioInput, error) {
	var problems []string

	inputs := make([]ingestion.ScenarioInput, 0, len(reqs))

	for i, sr := range reqs {
		input := ingestion.ScenarioInput{
			Project:     strings.TrimSpace(sr.Project),
			Environment: strings.TrimSpace(sr.Environment),
			Description: sr.Description,
			ExecutedAt:  sr.ExecutedAt,
			Tests:       make([]ingestion.TestInput, 0, len(sr.Tests)),
		}

		for j, tr := range sr.Tests {
			test := ingestion.TestInput{
				Description: tr.Description,
				Steps:       make([]ingestion.StepInput, 0, len(tr.Steps)),
			}

			for k, step := range tr.Steps {
				status, err := ingestion.ParseStepStatus(step.Status)
				if err != nil {
					problems = append(problems, fmt.Sprintf("[%d].tests[%d].steps[%d].status: %v", i, j, k, err))
				}

				test.Steps = append(test.Steps, ingestion.StepInput{
					Description:  step.Description,
					Status:       status,
					Duration:     step.Duration,
					ErrorMessage: step.ErrorMessage,
				})
			}

			input.Tests = append(input.Tests, test)
		}

		inputs = append(inputs, input)
	}

	if len(problems) > 0 {
		return nil, ingestion.NewValidationError(problems...)
	}

	return inputs, nil
}

// handleScenarios ingests a batch of end-to-end scenarios in one transaction.
// POST /api/v1/test
//
// Responses:
//   - 201 Created: the whole batch was committed
//   - 422 Unprocessable Entity: any failure; nothing from the batch is persisted
//   - 415, 413, 400: wrong content type, oversized body, malformed JSON
func (s *Server) handleScenarios(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	correlationID := middleware.GetCorrelationID(r.Context())

	var reqs []ScenarioRequest
	if problem := s.decodeJSONBody(w, r, &reqs); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	inputs, err := mapScenarioRequests(reqs)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, s.ingestionProblem(r, "scenario batch", err))

		return
	}

	result, err := s.scenarios.SaveEntities(r.Context(), inputs)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, s.ingestionProblem(r, "scenario batch", err))

		return
	}

	response := buildScenarioBatchResponse(correlationID, result)
	statusCode := s.writeJSON(w, r, http.StatusCreated, response)

	s.logger.Info("Scenario batch processed",
		slog.String("correlation_id", correlationID),
		slog.Int("scenarios", response.Summary.Scenarios),
		slog.Int("tests", response.Summary.Tests),
		slog.Int("steps", response.Summary.Steps),
		slog.Int("status_code", statusCode),
		slog.Duration("duration", time.Since(startTime)),
	)
}

func buildScenarioBatchResponse(correlationID string, result *ingestion.SaveResult) *ScenarioBatchResponse {
	scenarios, tests, steps := result.Counts()

	saved := make([]ScenarioResponse, 0, len(result.Scenarios))
	for _, sc := range result.Scenarios {
		testIDs := make([]int64, 0, len(sc.Tests))
		for _, t := range sc.Tests {
			testIDs = append(testIDs, t.Test.ID)
		}

		saved = append(saved, ScenarioResponse{ID: sc.Scenario.ID, TestIDs: testIDs})
	}

	return &ScenarioBatchResponse{
		Scenarios:     saved,
		Summary:       BatchSummary{Scenarios: scenarios, Tests: tests, Steps: steps},
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
}
