package ingestion

import (
	"context"

	"github.com/google/uuid"
)

// The interfaces below describe what the core needs from persistence. Concrete
// implementations live in internal/storage.
//
// Both stores expose a single scoped-acquisition contract: Run*Tx opens a
// transaction, passes it to fn, commits when fn returns nil and rolls back
// otherwise (including when fn panics). The transaction handle must not be used
// after fn returns.
type (
	// QualityGateStore runs quality-gate work inside one transaction.
	QualityGateStore interface {
		RunQualityGateTx(ctx context.Context, fn func(ctx context.Context, tx QualityGateTx) error) error
	}

	// QualityGateTx holds the find/create/update primitives for projects and measures.
	QualityGateTx interface {
		// FindProjectByName returns the first project with the given name.
		// found is false when no project matches.
		FindProjectByName(ctx context.Context, name string) (project *Project, found bool, err error)

		// FindMeasure returns the measure keyed by (metric, projectID).
		// Implementations should lock the row for the rest of the transaction.
		FindMeasure(ctx context.Context, metric string, projectID uuid.UUID) (measure *Measure, found bool, err error)

		// CreateMeasure inserts m with its pre-assigned ID.
		// Returns an error wrapping ErrMeasureExists when (metric, projectID) is taken.
		CreateMeasure(ctx context.Context, m *Measure) error

		// UpdateMeasure overwrites every field of the measure identified by m.ID.
		UpdateMeasure(ctx context.Context, m *Measure) error
	}

	// ScenarioStore runs a scenario tree write inside one transaction.
	ScenarioStore interface {
		RunScenarioTx(ctx context.Context, fn func(ctx context.Context, tx ScenarioTx) error) error
	}

	// ScenarioTx holds the create/link primitives for scenarios, tests and steps.
	// Create methods set the store-assigned ID on their argument.
	ScenarioTx interface {
		CreateScenario(ctx context.Context, s *Scenario) error
		CreateTest(ctx context.Context, t *Test) error
		CreateStep(ctx context.Context, s *Step) error
		LinkStep(ctx context.Context, stepID, testID int64) error
		LinkTest(ctx context.Context, testID, scenarioID int64) error
	}
)
