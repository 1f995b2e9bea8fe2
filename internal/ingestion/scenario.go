package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// StepStatus is the outcome of one executed step.
type StepStatus string

const (
	StepStatusPassed  StepStatus = "passed"
	StepStatusFailed  StepStatus = "failed"
	StepStatusSkipped StepStatus = "skipped"
)

// ErrInvalidStepStatus is returned by ParseStepStatus for unknown values.
var ErrInvalidStepStatus = errors.New("invalid step status")

// ParseStepStatus converts s to a StepStatus. An empty string yields the empty status,
// which is stored as NULL. Matching is case-insensitive.
func ParseStepStatus(s string) (StepStatus, error) {
	status := StepStatus(strings.ToLower(strings.TrimSpace(s)))
	if !status.IsValid() {
		return "", fmt.Errorf("%w: %q (valid: passed, failed, skipped)", ErrInvalidStepStatus, s)
	}

	return status, nil
}

// IsValid reports whether ss is a known status or empty.
func (ss StepStatus) IsValid() bool {
	switch ss {
	case "", StepStatusPassed, StepStatusFailed, StepStatusSkipped:
		return true
	default:
		return false
	}
}

func (ss StepStatus) String() string {
	return string(ss)
}

type (
	// ScenarioInput is one end-to-end run as reported by a test runner.
	ScenarioInput struct {
		Project     string
		Environment string
		Description string
		// ExecutedAt defaults to the insert time when nil.
		ExecutedAt *time.Time
		Tests      []TestInput
	}

	// TestInput is one test inside a ScenarioInput.
	TestInput struct {
		Description string
		Steps       []StepInput
	}

	// StepInput is one executed step inside a TestInput.
	StepInput struct {
		Description  string
		Status       StepStatus
		Duration     *int64
		ErrorMessage *string
	}

	// Scenario is a persisted end-to-end run. IDs are assigned by the store.
	Scenario struct {
		ID          int64
		Project     string
		Environment string
		Description string
		ExecutedAt  time.Time
	}

	// Test is a persisted test. ScenarioID is zero until the test is linked.
	Test struct {
		ID          int64
		Description string
		ScenarioID  int64
	}

	// Step is a persisted step. TestID is zero until the step is linked.
	Step struct {
		ID           int64
		Description  string
		Status       StepStatus
		Duration     *int64
		ErrorMessage *string
		TestID       int64
	}

	// SavedScenario is a committed scenario with its tests.
	SavedScenario struct {
		Scenario *Scenario
		Tests    []SavedTest
	}

	// SavedTest is a committed test with its steps.
	SavedTest struct {
		Test  *Test
		Steps []*Step
	}

	// SaveResult is the committed tree of one SaveEntities call.
	SaveResult struct {
		Scenarios []SavedScenario
	}
)

// Counts returns the number of persisted scenarios, tests and steps.
func (r *SaveResult) Counts() (scenarios, tests, steps int) {
	for _, s := range r.Scenarios {
		scenarios++

		for _, t := range s.Tests {
			tests++
			steps += len(t.Steps)
		}
	}

	return scenarios, tests, steps
}

type (
	// ScenarioTreeWriter persists Scenario, Test and Step hierarchies all-or-nothing.
	//
	// A whole SaveEntities batch runs inside one store transaction; a failure at any
	// depth rolls back every row the call created.
	ScenarioTreeWriter struct {
		store     ScenarioStore
		validator Validator[[]ScenarioInput]
		notifier  Notifier
		logger    *slog.Logger
	}

	// WriterOption configures a ScenarioTreeWriter.
	WriterOption func(*ScenarioTreeWriter)
)

// WithScenarioValidator sets the validator run before the transaction begins.
func WithScenarioValidator(v Validator[[]ScenarioInput]) WriterOption {
	return func(w *ScenarioTreeWriter) {
		if v != nil {
			w.validator = v
		}
	}
}

// WithWriterNotifier sets the notifier that receives one event per committed scenario.
func WithWriterNotifier(n Notifier) WriterOption {
	return func(w *ScenarioTreeWriter) {
		if n != nil {
			w.notifier = n
		}
	}
}

// WithWriterLogger sets the logger.
func WithWriterLogger(logger *slog.Logger) WriterOption {
	return func(w *ScenarioTreeWriter) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewScenarioTreeWriter creates a ScenarioTreeWriter backed by store.
func NewScenarioTreeWriter(store ScenarioStore, opts ...WriterOption) (*ScenarioTreeWriter, error) {
	if store == nil {
		return nil, ErrNilStore
	}

	w := &ScenarioTreeWriter{
		store:     store,
		validator: PassThrough[[]ScenarioInput](),
		notifier:  NopNotifier{},
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w, nil
}

// SaveEntities creates every scenario, test and step in input order in one transaction.
//
// Each step is linked to its test as soon as it is created; each test is linked to its
// scenario after all of its steps. Nothing is visible to other readers until commit.
func (w *ScenarioTreeWriter) SaveEntities(ctx context.Context, scenarios []ScenarioInput) (*SaveResult, error) {
	if err := w.validator.Validate(scenarios); err != nil {
		return nil, asValidationError(err)
	}

	start := time.Now()

	var result *SaveResult

	err := w.store.RunScenarioTx(ctx, func(ctx context.Context, tx ScenarioTx) error {
		result = &SaveResult{Scenarios: make([]SavedScenario, 0, len(scenarios))}

		for i, input := range scenarios {
			saved, err := w.saveScenario(ctx, tx, input)
			if err != nil {
				return fmt.Errorf("scenario %d: %w", i, err)
			}

			result.Scenarios = append(result.Scenarios, saved)
		}

		return nil
	})
	if err != nil {
		w.logger.WarnContext(ctx, "Scenario batch rolled back",
			slog.Int("scenarios", len(scenarios)),
			slog.String("error", err.Error()),
		)

		return nil, err
	}

	w.afterCommit(ctx, result, time.Since(start))

	return result, nil
}

func (w *ScenarioTreeWriter) saveScenario(ctx context.Context, tx ScenarioTx, input ScenarioInput) (SavedScenario, error) {
	scenario := &Scenario{
		Project:     input.Project,
		Environment: input.Environment,
		Description: input.Description,
	}
	if input.ExecutedAt != nil {
		scenario.ExecutedAt = *input.ExecutedAt
	}

	if err := tx.CreateScenario(ctx, scenario); err != nil {
		return SavedScenario{}, fmt.Errorf("create scenario: %w", err)
	}

	saved := SavedScenario{Scenario: scenario, Tests: make([]SavedTest, 0, len(input.Tests))}

	for i, testInput := range input.Tests {
		test, err := w.saveTest(ctx, tx, scenario, testInput)
		if err != nil {
			return SavedScenario{}, fmt.Errorf("test %d: %w", i, err)
		}

		saved.Tests = append(saved.Tests, test)
	}

	return saved, nil
}

func (w *ScenarioTreeWriter) saveTest(
	ctx context.Context,
	tx ScenarioTx,
	scenario *Scenario,
	input TestInput,
) (SavedTest, error) {
	test := &Test{Description: input.Description}

	if err := tx.CreateTest(ctx, test); err != nil {
		return SavedTest{}, fmt.Errorf("create test: %w", err)
	}

	saved := SavedTest{Test: test, Steps: make([]*Step, 0, len(input.Steps))}

	for i, stepInput := range input.Steps {
		if !stepInput.Status.IsValid() {
			return SavedTest{}, NewValidationError(
				fmt.Sprintf("step %d: %s: %q", i, ErrInvalidStepStatus, stepInput.Status))
		}

		step := &Step{
			Description:  stepInput.Description,
			Status:       stepInput.Status,
			Duration:     stepInput.Duration,
			ErrorMessage: stepInput.ErrorMessage,
		}

		if err := tx.CreateStep(ctx, step); err != nil {
			return SavedTest{}, fmt.Errorf("step %d: create step: %w", i, err)
		}

		if err := tx.LinkStep(ctx, step.ID, test.ID); err != nil {
			return SavedTest{}, fmt.Errorf("step %d: link to test %d: %w", i, test.ID, err)
		}

		step.TestID = test.ID
		saved.Steps = append(saved.Steps, step)
	}

	if err := tx.LinkTest(ctx, test.ID, scenario.ID); err != nil {
		return SavedTest{}, fmt.Errorf("link to scenario %d: %w", scenario.ID, err)
	}

	test.ScenarioID = scenario.ID

	return saved, nil
}

func (w *ScenarioTreeWriter) afterCommit(ctx context.Context, result *SaveResult, elapsed time.Duration) {
	scenarios, tests, steps := result.Counts()

	w.logger.InfoContext(ctx, "Saved scenario batch",
		slog.Int("scenarios", scenarios),
		slog.Int("tests", tests),
		slog.Int("steps", steps),
		slog.Duration("duration", elapsed),
	)

	now := time.Now().UTC()

	for _, saved := range result.Scenarios {
		stepCount := 0
		for _, t := range saved.Tests {
			stepCount += len(t.Steps)
		}

		event := Event{
			Type:        EventScenarioSaved,
			OccurredAt:  now,
			Project:     saved.Scenario.Project,
			Environment: saved.Scenario.Environment,
			ScenarioID:  saved.Scenario.ID,
			Tests:       len(saved.Tests),
			Steps:       stepCount,
		}

		if err := w.notifier.Notify(ctx, event); err != nil {
			w.logger.WarnContext(ctx, "Failed to publish scenario event",
				slog.Int64("scenario_id", saved.Scenario.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}
