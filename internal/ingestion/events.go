package ingestion

import (
	"context"
	"time"
)

// EventType identifies what a committed ingestion Event describes.
type EventType string

const (
	EventMeasureUpserted EventType = "measure.upserted"
	EventScenarioSaved   EventType = "scenario.saved"
)

// Event describes a committed ingestion write. Fields not relevant to Type are empty.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurredAt"`
	Project    string    `json:"project"`

	// measure.upserted
	Metric    string  `json:"metric,omitempty"`
	MeasureID string  `json:"measureId,omitempty"`
	Outcome   Outcome `json:"outcome,omitempty"`

	// scenario.saved
	Environment string `json:"environment,omitempty"`
	ScenarioID  int64  `json:"scenarioId,omitempty"`
	Tests       int    `json:"tests,omitempty"`
	Steps       int    `json:"steps,omitempty"`
}

// Notifier receives events after their data has been committed.
// A Notify error never undoes the write; callers only log it.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// NopNotifier discards every event.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(context.Context, Event) error { return nil }
