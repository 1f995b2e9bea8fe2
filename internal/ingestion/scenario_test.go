package ingestion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func int64Ptr(v int64) *int64 { return &v }

// loginFlow is one scenario with one test and two steps, the second failing.
func loginFlow() []ScenarioInput {
	return []ScenarioInput{
		{
			Project:     "alpha",
			Environment: "web",
			Description: "login flow",
			Tests: []TestInput{
				{
					Description: "valid login",
					Steps: []StepInput{
						{Description: "enter creds", Status: StepStatusPassed},
						{Description: "submit", Status: StepStatusFailed, ErrorMessage: strPtr("timeout")},
					},
				},
			},
		},
	}
}

// regressionBatch has 2 scenarios, 3 tests and 5 steps.
func regressionBatch() []ScenarioInput {
	return []ScenarioInput{
		{
			Project:     "alpha",
			Environment: "android",
			Description: "checkout",
			Tests: []TestInput{
				{
					Description: "add to cart",
					Steps: []StepInput{
						{Description: "open product", Status: StepStatusPassed, Duration: int64Ptr(120)},
						{Description: "tap add", Status: StepStatusPassed, Duration: int64Ptr(80)},
					},
				},
				{
					Description: "pay",
					Steps: []StepInput{
						{Description: "enter card", Status: StepStatusSkipped},
					},
				},
			},
		},
		{
			Project:     "alpha",
			Environment: "ios",
			Description: "search",
			Tests: []TestInput{
				{
					Description: "by keyword",
					Steps: []StepInput{
						{Description: "type keyword", Status: StepStatusPassed},
						{Description: "see results", Status: StepStatusPassed},
					},
				},
			},
		},
	}
}

func newTestWriter(t *testing.T, store ScenarioStore, opts ...WriterOption) *ScenarioTreeWriter {
	t.Helper()

	w, err := NewScenarioTreeWriter(store, opts...)
	require.NoError(t, err)

	return w
}

func TestNewScenarioTreeWriter_NilStore(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	w, err := NewScenarioTreeWriter(nil)

	require.ErrorIs(t, err, ErrNilStore)
	assert.Nil(t, w)
}

func TestSaveEntities_PersistsTree(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	store := newFakeStore()
	w := newTestWriter(t, store)

	result, err := w.SaveEntities(context.Background(), loginFlow())
	require.NoError(t, err)

	scenarios, tests, steps := result.Counts()
	assert.Equal(t, 1, scenarios)
	assert.Equal(t, 1, tests)
	assert.Equal(t, 2, steps)

	s, te, st := store.rowCounts()
	assert.Equal(t, 1, s)
	assert.Equal(t, 1, te)
	assert.Equal(t, 2, st)

	scenario := store.scenarios[0]
	test := store.tests[0]

	assert.Equal(t, "login flow", scenario.Description)
	assert.False(t, scenario.ExecutedAt.IsZero(), "executed_at defaults to insert time")
	assert.Equal(t, scenario.ID, test.ScenarioID)

	for _, step := range store.steps {
		assert.Equal(t, test.ID, step.TestID)
	}

	assert.Equal(t, StepStatusFailed, store.steps[1].Status)
	require.NotNil(t, store.steps[1].ErrorMessage)
	assert.Equal(t, "timeout", *store.steps[1].ErrorMessage)
	assert.Equal(t, 1, store.commits)
}

func TestSaveEntities_PersistsNPlusTPlusSRows(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	store := newFakeStore()
	w := newTestWriter(t, store)

	result, err := w.SaveEntities(context.Background(), regressionBatch())
	require.NoError(t, err)

	s, te, st := store.rowCounts()
	assert.Equal(t, 2, s)
	assert.Equal(t, 3, te)
	assert.Equal(t, 5, st)

	for _, saved := range result.Scenarios {
		for _, test := range saved.Tests {
			assert.Equal(t, saved.Scenario.ID, test.Test.ScenarioID)

			for _, step := range test.Steps {
				assert.Equal(t, test.Test.ID, step.TestID)
			}
		}
	}
}

func TestSaveEntities_PreservesInputOrder(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	store := newFakeStore()
	w := newTestWriter(t, store)

	_, err := w.SaveEntities(context.Background(), regressionBatch())
	require.NoError(t, err)

	want := []string{"open product", "tap add", "enter card", "type keyword", "see results"}
	got := make([]string, 0, len(store.steps))

	for i, step := range store.steps {
		got = append(got, step.Description)

		if i > 0 {
			assert.Greater(t, step.ID, store.steps[i-1].ID)
		}
	}

	assert.Equal(t, want, got)
	assert.Equal(t, "add to cart", store.tests[0].Description)
	assert.Equal(t, "search", store.scenarios[1].Description)
}

func TestSaveEntities_FailureAtAnyDepthRollsBack(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name string
		op   string
		call int
	}{
		{name: "first scenario", op: "CreateScenario", call: 1},
		{name: "second scenario", op: "CreateScenario", call: 2},
		{name: "second test", op: "CreateTest", call: 2},
		{name: "first step", op: "CreateStep", call: 1},
		{name: "last step of last test", op: "CreateStep", call: 5},
		{name: "step link", op: "LinkStep", call: 3},
		{name: "last test link", op: "LinkTest", call: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			store.failAt(tt.op, tt.call)
			notifier := &recordingNotifier{}
			w := newTestWriter(t, store, WithWriterNotifier(notifier))

			result, err := w.SaveEntities(context.Background(), regressionBatch())

			require.ErrorIs(t, err, errInjected)
			assert.Nil(t, result)

			s, te, st := store.rowCounts()
			assert.Zero(t, s, "no scenario survives")
			assert.Zero(t, te, "no test survives")
			assert.Zero(t, st, "no step survives")
			assert.Equal(t, 1, store.rollbacks)
			assert.Zero(t, store.commits)
			assert.Empty(t, notifier.recorded())
		})
	}
}

func TestSaveEntities_SecondStepRejected(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	store := newFakeStore()
	store.failAt("CreateStep", 2)
	w := newTestWriter(t, store)

	_, err := w.SaveEntities(context.Background(), loginFlow())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "scenario 0: test 0: step 1")

	s, te, st := store.rowCounts()
	assert.Zero(t, s+te+st)
}

func TestSaveEntities_InvalidStepStatus(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	store := newFakeStore()
	w := newTestWriter(t, store)

	input := loginFlow()
	input[0].Tests[0].Steps[1].Status = "broken"

	_, err := w.SaveEntities(context.Background(), input)

	require.ErrorIs(t, err, ErrValidation)

	s, te, st := store.rowCounts()
	assert.Zero(t, s+te+st)
	assert.Equal(t, 1, store.rollbacks)
}

func TestSaveEntities_ValidatorRejects(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	store := newFakeStore()
	reject := ValidatorFunc[[]ScenarioInput](func([]ScenarioInput) error {
		return NewValidationError("[0].environment: \"desktop\" is not one of web, android, ios")
	})
	w := newTestWriter(t, store, WithScenarioValidator(reject))

	_, err := w.SaveEntities(context.Background(), loginFlow())

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Problems, 1)
	assert.Zero(t, store.txs)
}

func TestSaveEntities_EmptyBatch(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	store := newFakeStore()
	w := newTestWriter(t, store)

	result, err := w.SaveEntities(context.Background(), nil)
	require.NoError(t, err)

	scenarios, tests, steps := result.Counts()
	assert.Zero(t, scenarios+tests+steps)
	assert.Equal(t, 1, store.commits)
}

func TestSaveEntities_KeepsExecutedAt(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	store := newFakeStore()
	w := newTestWriter(t, store)

	executedAt := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	input := loginFlow()
	input[0].ExecutedAt = &executedAt

	result, err := w.SaveEntities(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, executedAt, result.Scenarios[0].Scenario.ExecutedAt)
}

func TestSaveEntities_NotifiesPerScenario(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	store := newFakeStore()
	notifier := &recordingNotifier{err: errors.New("broker unavailable")}
	w := newTestWriter(t, store, WithWriterNotifier(notifier))

	_, err := w.SaveEntities(context.Background(), regressionBatch())
	require.NoError(t, err)

	events := notifier.recorded()
	require.Len(t, events, 2)

	assert.Equal(t, EventScenarioSaved, events[0].Type)
	assert.Equal(t, "android", events[0].Environment)
	assert.Equal(t, 2, events[0].Tests)
	assert.Equal(t, 3, events[0].Steps)
	assert.Equal(t, 1, events[1].Tests)
	assert.Equal(t, 2, events[1].Steps)
	assert.NotZero(t, events[1].ScenarioID)
}

func TestParseStepStatus(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		input   string
		want    StepStatus
		wantErr bool
	}{
		{input: "passed", want: StepStatusPassed},
		{input: "FAILED", want: StepStatusFailed},
		{input: " skipped ", want: StepStatusSkipped},
		{input: "", want: ""},
		{input: "broken", wantErr: true},
		{input: "pass", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseStepStatus(tt.input)

			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidStepStatus)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
