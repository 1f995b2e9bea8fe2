package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var errNotANumber = errors.New("not a number")

type (
	// HealthStatus represents the health check response structure.
	HealthStatus struct {
		Status      string `json:"status"`
		ServiceName string `json:"serviceName"`
		Version     string `json:"version"`
		Uptime      string `json:"uptime,omitempty"`
	}

	// QualityGateRequest is the body of POST /api/v1/kvasir/sonarqube.
	QualityGateRequest struct {
		ProjectName string             `json:"projectName"`
		Conditions  []ConditionRequest `json:"conditions"`
	}

	// ConditionRequest is one metric evaluation of a quality gate.
	// Threshold and actual values may be JSON numbers, numeric strings or null.
	ConditionRequest struct {
		Metric  string         `json:"metric"`
		Level   string         `json:"level"`
		Warning NullableNumber `json:"warning"`
		Error   NullableNumber `json:"error"`
		Actual  NullableNumber `json:"actual"`
	}

	// QualityGateResponse describes a committed quality-gate upsert.
	QualityGateResponse struct {
		Status        string            `json:"status"`
		Project       string            `json:"project"`
		Measures      []MeasureResponse `json:"measures"`
		CorrelationID string            `json:"correlation_id"` //nolint:tagliatelle
		Timestamp     string            `json:"timestamp"`
	}

	// MeasureResponse identifies one written measure.
	MeasureResponse struct {
		ID      string `json:"id"`
		Metric  string `json:"metric"`
		Outcome string `json:"outcome"`
	}

	// ScenarioRequest is one element of the POST /api/v1/test body.
	ScenarioRequest struct {
		Project     string        `json:"project"`
		Environment string        `json:"environment"`
		Description string        `json:"description"`
		ExecutedAt  *time.Time    `json:"executed_at,omitempty"` //nolint:tagliatelle
		Tests       []TestRequest `json:"tests"`
	}

	// TestRequest is one test of a scenario.
	TestRequest struct {
		Description string        `json:"description"`
		Steps       []StepRequest `json:"steps"`
	}

	// StepRequest is one executed step of a test. Duration is in milliseconds.
	StepRequest struct {
		Description  string  `json:"description"`
		Status       string  `json:"status"`
		Duration     *int64  `json:"duration"`
		ErrorMessage *string `json:"error_message"` //nolint:tagliatelle
	}

	// ScenarioBatchResponse describes a committed scenario batch.
	ScenarioBatchResponse struct {
		Scenarios     []ScenarioResponse `json:"scenarios"`
		Summary       BatchSummary       `json:"summary"`
		CorrelationID string             `json:"correlation_id"` //nolint:tagliatelle
		Timestamp     string             `json:"timestamp"`
	}

	// ScenarioResponse identifies one persisted scenario and its children.
	ScenarioResponse struct {
		ID      int64   `json:"id"`
		TestIDs []int64 `json:"test_ids"` //nolint:tagliatelle
	}

	// BatchSummary counts the rows persisted by a scenario batch.
	BatchSummary struct {
		Scenarios int `json:"scenarios"`
		Tests     int `json:"tests"`
		Steps     int `json:"steps"`
	}

	// Route pairs a ServeMux pattern with its handler.
	Route struct {
		Pattern string
		Handler http.HandlerFunc
	}
)

// NullableNumber is a JSON value that must resolve to a number or to nothing.
// Code analysis servers send thresholds both as numbers and as strings.
type NullableNumber struct {
	raw json.RawMessage
}

// UnmarshalJSON stores the raw value; Float interprets it.
func (n *NullableNumber) UnmarshalJSON(data []byte) error {
	n.raw = append(n.raw[:0], data...)

	return nil
}

// Float returns nil for an absent value, null or a blank string, the parsed value for a
// number or numeric string, and an error for anything else.
func (n NullableNumber) Float() (*float64, error) {
	raw := bytes.TrimSpace(n.raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil //nolint:nilnil
	}

	text := string(raw)

	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, fmt.Errorf("%w: %s", errNotANumber, raw)
		}

		text = strings.TrimSpace(text)
		if text == "" {
			return nil, nil //nolint:nilnil
		}
	}

	v, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("%w: %s", errNotANumber, raw)
	}

	return &v, nil
}
