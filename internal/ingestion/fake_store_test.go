package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var errInjected = errors.New("injected storage failure")

type measureKey struct {
	metric    string
	projectID uuid.UUID
}

// fakeStore is an in-memory QualityGateStore and ScenarioStore.
//
// Writes made inside a transaction are staged and only become visible on commit.
// failOn makes the n-th call (1-based, counted across the store's lifetime) of an
// operation return errInjected.
type fakeStore struct {
	mu sync.Mutex

	projects  []*Project
	measures  map[measureKey]*Measure
	scenarios []*Scenario
	tests     []*Test
	steps     []*Step
	nextID    int64

	failOn map[string]int
	calls  map[string]int

	// onCreateMeasure runs before CreateMeasure touches staged state.
	onCreateMeasure func(tx *fakeTx, m *Measure) error

	txs       int
	commits   int
	rollbacks int
}

func newFakeStore(projects ...*Project) *fakeStore {
	return &fakeStore{
		projects: projects,
		measures: make(map[measureKey]*Measure),
		failOn:   make(map[string]int),
		calls:    make(map[string]int),
	}
}

func (s *fakeStore) failAt(op string, call int) {
	s.failOn[op] = call
}

func (s *fakeStore) check(op string) error {
	s.calls[op]++
	if n, ok := s.failOn[op]; ok && n == s.calls[op] {
		return fmt.Errorf("%s: %w", op, errInjected)
	}

	return nil
}

func (s *fakeStore) measureCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.measures)
}

func (s *fakeStore) rowCounts() (scenarios, tests, steps int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.scenarios), len(s.tests), len(s.steps)
}

func (s *fakeStore) measure(metric string, projectID uuid.UUID) (*Measure, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.measures[measureKey{metric: metric, projectID: projectID}]
	if !ok {
		return nil, false
	}

	clone := *m

	return &clone, true
}

// fakeTx stages writes for one transaction.
type fakeTx struct {
	store     *fakeStore
	measures  map[measureKey]*Measure
	scenarios []*Scenario
	tests     []*Test
	steps     []*Step
}

func (s *fakeStore) begin() *fakeTx {
	tx := &fakeTx{store: s, measures: make(map[measureKey]*Measure, len(s.measures))}
	for k, m := range s.measures {
		clone := *m
		tx.measures[k] = &clone
	}

	s.txs++

	return tx
}

func (s *fakeStore) run(ctx context.Context, fn func(tx *fakeTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := s.begin()

	committed := false

	defer func() {
		if !committed {
			s.rollbacks++
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	s.measures = tx.measures
	s.scenarios = append(s.scenarios, tx.scenarios...)
	s.tests = append(s.tests, tx.tests...)
	s.steps = append(s.steps, tx.steps...)
	s.commits++
	committed = true

	return nil
}

func (s *fakeStore) RunQualityGateTx(ctx context.Context, fn func(context.Context, QualityGateTx) error) error {
	return s.run(ctx, func(tx *fakeTx) error { return fn(ctx, tx) })
}

func (s *fakeStore) RunScenarioTx(ctx context.Context, fn func(context.Context, ScenarioTx) error) error {
	return s.run(ctx, func(tx *fakeTx) error { return fn(ctx, tx) })
}

func (tx *fakeTx) FindProjectByName(_ context.Context, name string) (*Project, bool, error) {
	if err := tx.store.check("FindProjectByName"); err != nil {
		return nil, false, err
	}

	for _, p := range tx.store.projects {
		if p.Name == name {
			clone := *p

			return &clone, true, nil
		}
	}

	return nil, false, nil
}

func (tx *fakeTx) FindMeasure(_ context.Context, metric string, projectID uuid.UUID) (*Measure, bool, error) {
	if err := tx.store.check("FindMeasure"); err != nil {
		return nil, false, err
	}

	m, ok := tx.measures[measureKey{metric: metric, projectID: projectID}]
	if !ok {
		return nil, false, nil
	}

	clone := *m

	return &clone, true, nil
}

func (tx *fakeTx) CreateMeasure(_ context.Context, m *Measure) error {
	if err := tx.store.check("CreateMeasure"); err != nil {
		return err
	}

	if hook := tx.store.onCreateMeasure; hook != nil {
		if err := hook(tx, m); err != nil {
			return err
		}
	}

	key := measureKey{metric: m.Metric, projectID: m.ProjectID}
	if _, exists := tx.measures[key]; exists {
		return ErrMeasureExists
	}

	clone := *m
	tx.measures[key] = &clone

	return nil
}

func (tx *fakeTx) UpdateMeasure(_ context.Context, m *Measure) error {
	if err := tx.store.check("UpdateMeasure"); err != nil {
		return err
	}

	key := measureKey{metric: m.Metric, projectID: m.ProjectID}
	existing, ok := tx.measures[key]

	if !ok || existing.ID != m.ID {
		return fmt.Errorf("measure %s not found", m.ID)
	}

	clone := *m
	tx.measures[key] = &clone

	return nil
}

func (tx *fakeTx) id() int64 {
	tx.store.nextID++

	return tx.store.nextID
}

func (tx *fakeTx) CreateScenario(_ context.Context, s *Scenario) error {
	if err := tx.store.check("CreateScenario"); err != nil {
		return err
	}

	s.ID = tx.id()
	if s.ExecutedAt.IsZero() {
		s.ExecutedAt = time.Now().UTC()
	}

	tx.scenarios = append(tx.scenarios, s)

	return nil
}

func (tx *fakeTx) CreateTest(_ context.Context, t *Test) error {
	if err := tx.store.check("CreateTest"); err != nil {
		return err
	}

	t.ID = tx.id()
	tx.tests = append(tx.tests, &Test{ID: t.ID, Description: t.Description})

	return nil
}

func (tx *fakeTx) CreateStep(_ context.Context, s *Step) error {
	if err := tx.store.check("CreateStep"); err != nil {
		return err
	}

	s.ID = tx.id()
	clone := *s
	tx.steps = append(tx.steps, &clone)

	return nil
}

func (tx *fakeTx) LinkStep(_ context.Context, stepID, testID int64) error {
	if err := tx.store.check("LinkStep"); err != nil {
		return err
	}

	for _, s := range tx.steps {
		if s.ID == stepID {
			s.TestID = testID

			return nil
		}
	}

	return fmt.Errorf("step %d not found", stepID)
}

func (tx *fakeTx) LinkTest(_ context.Context, testID, scenarioID int64) error {
	if err := tx.store.check("LinkTest"); err != nil {
		return err
	}

	for _, t := range tx.tests {
		if t.ID == testID {
			t.ScenarioID = scenarioID

			return nil
		}
	}

	return fmt.Errorf("test %d not found", testID)
}

// recordingNotifier collects published events.
type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, event Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.events = append(n.events, event)

	return n.err
}

func (n *recordingNotifier) recorded() []Event {
	n.mu.Lock()
	defer n.mu.Unlock()

	return append([]Event(nil), n.events...)
}

func float(v float64) *float64 { return &v }
