package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

type (
	// QualityGateReport is a quality-gate evaluation reported by a code analysis server.
	QualityGateReport struct {
		ProjectName string
		Conditions  []Condition
	}

	// Condition is a single metric evaluation inside a QualityGateReport.
	//
	// Level is the gate outcome for the metric (for example OK, WARN, ERROR) and is
	// stored as the measure status. Threshold and actual values are optional.
	Condition struct {
		Metric  string
		Level   string
		Warning *float64
		Error   *float64
		Actual  *float64
	}

	// Project is a code project known to the store, looked up by name.
	Project struct {
		ID    uuid.UUID
		Name  string
		Image string
	}

	// Measure is the latest value of one metric for one project.
	// (Metric, ProjectID) is its natural key.
	Measure struct {
		ID           uuid.UUID
		Metric       string
		Status       string
		WarningValue *float64
		ErrorValue   *float64
		ActualValue  *float64
		ProjectID    uuid.UUID
	}

	// Outcome tells whether an upsert created or updated a measure.
	Outcome string

	// MeasureResult pairs a persisted measure with the write that produced it.
	MeasureResult struct {
		Measure *Measure
		Outcome Outcome
	}

	// UpsertResult is the result of a committed quality-gate upsert.
	UpsertResult struct {
		Project  *Project
		Measures []MeasureResult
	}
)

const (
	OutcomeCreated Outcome = "created"
	OutcomeUpdated Outcome = "updated"
)

// Created reports whether any measure was created by the upsert.
func (r *UpsertResult) Created() bool {
	for _, m := range r.Measures {
		if m.Outcome == OutcomeCreated {
			return true
		}
	}

	return false
}

// apply overwrites the measure's mutable fields with the condition's values.
func (m *Measure) apply(c Condition) {
	m.Status = c.Level
	m.WarningValue = c.Warning
	m.ErrorValue = c.Error
	m.ActualValue = c.Actual
}

type (
	// QualityGateUpserter resolves a project and finds-or-creates one Measure per condition.
	//
	// All writes of a call happen inside a single store transaction. A missing
	// project fails the call before any write.
	QualityGateUpserter struct {
		store     QualityGateStore
		validator Validator[*QualityGateReport]
		notifier  Notifier
		logger    *slog.Logger
		newID     func() uuid.UUID
		firstOnly bool
	}

	// UpserterOption configures a QualityGateUpserter.
	UpserterOption func(*QualityGateUpserter)
)

// WithQualityGateValidator sets the validator run before any storage work.
func WithQualityGateValidator(v Validator[*QualityGateReport]) UpserterOption {
	return func(u *QualityGateUpserter) {
		if v != nil {
			u.validator = v
		}
	}
}

// WithFirstConditionOnly makes Upsert stop after the first condition of a report.
// Older clients depend on this behaviour.
func WithFirstConditionOnly(enabled bool) UpserterOption {
	return func(u *QualityGateUpserter) {
		u.firstOnly = enabled
	}
}

// WithUpserterNotifier sets the notifier that receives one event per committed measure.
func WithUpserterNotifier(n Notifier) UpserterOption {
	return func(u *QualityGateUpserter) {
		if n != nil {
			u.notifier = n
		}
	}
}

// WithUpserterLogger sets the logger.
func WithUpserterLogger(logger *slog.Logger) UpserterOption {
	return func(u *QualityGateUpserter) {
		if logger != nil {
			u.logger = logger
		}
	}
}

// WithIDGenerator replaces the generator used for new measure ids.
func WithIDGenerator(newID func() uuid.UUID) UpserterOption {
	return func(u *QualityGateUpserter) {
		if newID != nil {
			u.newID = newID
		}
	}
}

// NewQualityGateUpserter creates a QualityGateUpserter backed by store.
func NewQualityGateUpserter(store QualityGateStore, opts ...UpserterOption) (*QualityGateUpserter, error) {
	if store == nil {
		return nil, ErrNilStore
	}

	u := &QualityGateUpserter{
		store:     store,
		validator: PassThrough[*QualityGateReport](),
		notifier:  NopNotifier{},
		logger:    slog.Default(),
		newID:     uuid.New,
	}

	for _, opt := range opts {
		opt(u)
	}

	return u, nil
}

// Upsert validates report, then finds-or-creates a Measure for each condition in input order.
//
// Errors:
//   - *ValidationError (errors.Is ErrValidation) when the report is rejected
//   - *NotFoundError (errors.Is ErrProjectNotFound) when no project has the report's name
//   - any store error; nothing is committed in that case
func (u *QualityGateUpserter) Upsert(ctx context.Context, report *QualityGateReport) (*UpsertResult, error) {
	if report == nil {
		return nil, NewValidationError("report cannot be nil")
	}

	if err := u.validator.Validate(report); err != nil {
		return nil, asValidationError(err)
	}

	conditions := report.Conditions
	if u.firstOnly && len(conditions) > 1 {
		conditions = conditions[:1]
	}

	var result *UpsertResult

	err := u.store.RunQualityGateTx(ctx, func(ctx context.Context, tx QualityGateTx) error {
		project, found, err := tx.FindProjectByName(ctx, report.ProjectName)
		if err != nil {
			return fmt.Errorf("find project %q: %w", report.ProjectName, err)
		}

		if !found {
			return projectNotFound(report.ProjectName)
		}

		result = &UpsertResult{Project: project, Measures: make([]MeasureResult, 0, len(conditions))}

		for _, condition := range conditions {
			measure, outcome, err := u.upsertMeasure(ctx, tx, project, condition)
			if err != nil {
				return err
			}

			result.Measures = append(result.Measures, MeasureResult{Measure: measure, Outcome: outcome})
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	u.afterCommit(ctx, result)

	return result, nil
}

func (u *QualityGateUpserter) upsertMeasure(
	ctx context.Context,
	tx QualityGateTx,
	project *Project,
	condition Condition,
) (*Measure, Outcome, error) {
	existing, found, err := tx.FindMeasure(ctx, condition.Metric, project.ID)
	if err != nil {
		return nil, "", fmt.Errorf("find measure %q: %w", condition.Metric, err)
	}

	if found {
		return u.updateMeasure(ctx, tx, existing, condition)
	}

	measure := &Measure{
		ID:        u.newID(),
		Metric:    condition.Metric,
		ProjectID: project.ID,
	}
	measure.apply(condition)

	err = tx.CreateMeasure(ctx, measure)
	if err == nil {
		return measure, OutcomeCreated, nil
	}

	if !errors.Is(err, ErrMeasureExists) {
		return nil, "", fmt.Errorf("create measure %q: %w", condition.Metric, err)
	}

	// A concurrent request created the row between find and create: update the winner.
	existing, found, err = tx.FindMeasure(ctx, condition.Metric, project.ID)
	if err != nil {
		return nil, "", fmt.Errorf("find measure %q after conflict: %w", condition.Metric, err)
	}

	if !found {
		return nil, "", fmt.Errorf("create measure %q: %w", condition.Metric, ErrMeasureExists)
	}

	return u.updateMeasure(ctx, tx, existing, condition)
}

func (u *QualityGateUpserter) updateMeasure(
	ctx context.Context,
	tx QualityGateTx,
	measure *Measure,
	condition Condition,
) (*Measure, Outcome, error) {
	measure.apply(condition)

	if err := tx.UpdateMeasure(ctx, measure); err != nil {
		return nil, "", fmt.Errorf("update measure %q: %w", condition.Metric, err)
	}

	return measure, OutcomeUpdated, nil
}

// afterCommit logs and publishes committed measures. Publish failures are logged only.
func (u *QualityGateUpserter) afterCommit(ctx context.Context, result *UpsertResult) {
	now := time.Now().UTC()

	for _, m := range result.Measures {
		msg := "Updated metric"
		if m.Outcome == OutcomeCreated {
			msg = "Created metric"
		}

		u.logger.InfoContext(ctx, msg,
			slog.String("metric", m.Measure.Metric),
			slog.String("project", result.Project.Name),
			slog.String("measure_id", m.Measure.ID.String()),
		)

		event := Event{
			Type:       EventMeasureUpserted,
			OccurredAt: now,
			Project:    result.Project.Name,
			Metric:     m.Measure.Metric,
			MeasureID:  m.Measure.ID.String(),
			Outcome:    m.Outcome,
		}

		if err := u.notifier.Notify(ctx, event); err != nil {
			u.logger.WarnContext(ctx, "Failed to publish measure event",
				slog.String("metric", m.Measure.Metric),
				slog.String("project", result.Project.Name),
				slog.String("error", err.Error()),
			)
		}
	}
}
