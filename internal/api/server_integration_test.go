package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/gjallarhorn-io/gjallarhorn/internal/config"
	"github.com/gjallarhorn-io/gjallarhorn/internal/ingestion"
	"github.com/gjallarhorn-io/gjallarhorn/internal/storage"
)

// TestIngestionIntegration drives both endpoints through a real server and database.
func TestIngestionIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	conn := &storage.Connection{DB: testDB.Connection}
	logger := slog.New(slog.DiscardHandler)

	store, err := storage.NewIngestionStore(conn, 10*time.Second, storage.WithLogger(logger))
	require.NoError(t, err)

	rules := &ingestion.Rules{
		Scenarios: ingestion.ScenarioRules{AllowedEnvironments: []string{"web", "android", "ios"}},
	}

	upserter, err := ingestion.NewQualityGateUpserter(store,
		ingestion.WithQualityGateValidator(rules.QualityGateValidator()),
		ingestion.WithUpserterLogger(logger),
	)
	require.NoError(t, err)

	writer, err := ingestion.NewScenarioTreeWriter(store,
		ingestion.WithScenarioValidator(rules.ScenarioValidator()),
		ingestion.WithWriterLogger(logger),
	)
	require.NoError(t, err)

	server, err := NewServer(testServerConfig(), logger, Dependencies{
		QualityGates:  upserter,
		Scenarios:     writer,
		HealthChecker: store,
	})
	require.NoError(t, err)

	httpServer := httptest.NewServer(server.Handler())
	t.Cleanup(httpServer.Close)

	projectID := uuid.New()
	_, err = conn.ExecContext(ctx, `INSERT INTO project (id, name) VALUES ($1, $2)`, projectID, "alpha")
	require.NoError(t, err)

	post := func(t *testing.T, path, body string) *http.Response {
		t.Helper()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, httpServer.URL+path, strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })

		return resp
	}

	count := func(t *testing.T, table string) int {
		t.Helper()

		var n int
		require.NoError(t, conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n)) //nolint:gosec

		return n
	}

	t.Run("Ready", func(t *testing.T) {
		resp, err := http.Get(httpServer.URL + "/ready") //nolint:noctx
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })

		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	var measureID string

	t.Run("QualityGate_Create", func(t *testing.T) {
		resp := post(t, "/api/v1/kvasir/sonarqube",
			`{"projectName":"alpha","conditions":[{"metric":"coverage","level":"OK","warning":80,"error":70,"actual":85}]}`)

		require.Equal(t, http.StatusCreated, resp.StatusCode)

		var body QualityGateResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.Len(t, body.Measures, 1)
		measureID = body.Measures[0].ID

		var actual float64
		require.NoError(t, conn.QueryRowContext(ctx,
			`SELECT actualvalue FROM measure WHERE metric = 'coverage' AND project_id = $1`, projectID,
		).Scan(&actual))
		assert.InDelta(t, 85.0, actual, 0)
	})

	t.Run("QualityGate_Update", func(t *testing.T) {
		resp := post(t, "/api/v1/kvasir/sonarqube",
			`{"projectName":"alpha","conditions":[{"metric":"coverage","level":"OK","warning":80,"error":70,"actual":90}]}`)

		require.Equal(t, http.StatusOK, resp.StatusCode)

		var (
			id     string
			actual float64
		)

		require.NoError(t, conn.QueryRowContext(ctx,
			`SELECT id, actualvalue FROM measure WHERE metric = 'coverage' AND project_id = $1`, projectID,
		).Scan(&id, &actual))
		assert.Equal(t, measureID, id, "update keeps the measure id")
		assert.InDelta(t, 90.0, actual, 0)
		assert.Equal(t, 1, count(t, "measure"))
	})

	t.Run("QualityGate_UnknownProject", func(t *testing.T) {
		resp := post(t, "/api/v1/kvasir/sonarqube",
			`{"projectName":"ghost","conditions":[{"metric":"coverage","level":"OK"}]}`)

		require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		assert.Equal(t, contentTypeProblemJSON, resp.Header.Get("Content-Type"))
		assert.Equal(t, 1, count(t, "measure"))
	})

	t.Run("Scenarios_Committed", func(t *testing.T) {
		resp := post(t, "/api/v1/test",
			`[{"project":"alpha","environment":"web","description":"login flow","tests":[`+
				`{"description":"valid login","steps":[{"description":"enter creds","status":"passed"},`+
				`{"description":"submit","status":"failed","error_message":"timeout"}]}]}]`)

		require.Equal(t, http.StatusCreated, resp.StatusCode)

		assert.Equal(t, 1, count(t, "scenario"))
		assert.Equal(t, 1, count(t, "test"))
		assert.Equal(t, 2, count(t, "step"))

		var status, errorMessage string
		require.NoError(t, conn.QueryRowContext(ctx,
			`SELECT status, error_message FROM step WHERE description = 'submit'`,
		).Scan(&status, &errorMessage))
		assert.Equal(t, "failed", status)
		assert.Equal(t, "timeout", errorMessage)
	})

	t.Run("Scenarios_RollbackOnOversizedStep", func(t *testing.T) {
		resp := post(t, "/api/v1/test",
			`[{"project":"alpha","environment":"web","description":"login flow","tests":[`+
				`{"description":"valid login","steps":[{"description":"enter creds","status":"passed"},`+
				`{"description":"`+strings.Repeat("x", 300)+`","status":"failed"}]}]}]`)

		require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

		assert.Equal(t, 1, count(t, "scenario"), "only the earlier batch remains")
		assert.Equal(t, 1, count(t, "test"))
		assert.Equal(t, 2, count(t, "step"))
	})

	t.Run("Scenarios_RejectedEnvironment", func(t *testing.T) {
		resp := post(t, "/api/v1/test",
			`[{"project":"alpha","environment":"desktop","description":"d","tests":[]}]`)

		require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

		var problem ProblemDetail
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&problem))
		assert.NotEmpty(t, problem.Errors)
		assert.Equal(t, 1, count(t, "scenario"))
	})
}
