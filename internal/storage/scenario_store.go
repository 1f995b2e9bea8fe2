package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gjallarhorn-io/gjallarhorn/internal/ingestion"
)

const (
	createScenarioQuery = `
		INSERT INTO scenario (project, environment, description, executed_at)
		VALUES ($1, $2, $3, COALESCE($4, CURRENT_TIMESTAMP))
		RETURNING id, executed_at`

	createTestQuery = `
		INSERT INTO test (description)
		VALUES ($1)
		RETURNING id`

	createStepQuery = `
		INSERT INTO step (description, status, duration, error_message)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	linkStepQuery = `
		UPDATE step
		SET test_id = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`

	linkTestQuery = `
		UPDATE test
		SET scenario_id = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`
)

// scenarioTx implements ingestion.ScenarioTx on one *sql.Tx.
type scenarioTx struct {
	tx *sql.Tx
}

func (s *scenarioTx) CreateScenario(ctx context.Context, scenario *ingestion.Scenario) error {
	executedAt := sql.NullTime{Time: scenario.ExecutedAt, Valid: !scenario.ExecutedAt.IsZero()}

	err := s.tx.QueryRowContext(ctx, createScenarioQuery,
		scenario.Project, scenario.Environment, scenario.Description, executedAt,
	).Scan(&scenario.ID, &scenario.ExecutedAt)
	if err != nil {
		return classify("create scenario", err)
	}

	return nil
}

func (s *scenarioTx) CreateTest(ctx context.Context, test *ingestion.Test) error {
	if err := s.tx.QueryRowContext(ctx, createTestQuery, test.Description).Scan(&test.ID); err != nil {
		return classify("create test", err)
	}

	return nil
}

func (s *scenarioTx) CreateStep(ctx context.Context, step *ingestion.Step) error {
	status := sql.NullString{String: step.Status.String(), Valid: step.Status != ""}

	err := s.tx.QueryRowContext(ctx, createStepQuery,
		step.Description, status, step.Duration, step.ErrorMessage,
	).Scan(&step.ID)
	if err != nil {
		return classify("create step", err)
	}

	return nil
}

func (s *scenarioTx) LinkStep(ctx context.Context, stepID, testID int64) error {
	return s.link(ctx, "link step", linkStepQuery, stepID, testID)
}

func (s *scenarioTx) LinkTest(ctx context.Context, testID, scenarioID int64) error {
	return s.link(ctx, "link test", linkTestQuery, testID, scenarioID)
}

func (s *scenarioTx) link(ctx context.Context, op, query string, childID, parentID int64) error {
	result, err := s.tx.ExecContext(ctx, query, childID, parentID)
	if err != nil {
		return classify(op, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return classify(op, err)
	}

	if affected != 1 {
		return classify(op, fmt.Errorf("%w: id %d", ErrRowNotUpdated, childID))
	}

	return nil
}
