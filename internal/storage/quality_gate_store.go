package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/gjallarhorn-io/gjallarhorn/internal/ingestion"
)

// ErrRowNotUpdated is returned when an UPDATE matched no row.
var ErrRowNotUpdated = errors.New("no row updated")

const (
	findProjectByNameQuery = `
		SELECT id, name, image
		FROM project
		WHERE name = $1
		ORDER BY created_at, id
		LIMIT 1`

	// FOR UPDATE serializes concurrent upserts of the same measure.
	findMeasureQuery = `
		SELECT id, metric, status, warningvalue, errorvalue, actualvalue, project_id
		FROM measure
		WHERE metric = $1 AND project_id = $2
		FOR UPDATE`

	// The unique index on (metric, project_id) turns a lost find-then-create race
	// into zero affected rows instead of a duplicate.
	createMeasureQuery = `
		INSERT INTO measure (id, metric, status, warningvalue, errorvalue, actualvalue, project_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (metric, project_id) DO NOTHING`

	updateMeasureQuery = `
		UPDATE measure
		SET metric = $2,
		    status = $3,
		    warningvalue = $4,
		    errorvalue = $5,
		    actualvalue = $6,
		    project_id = $7,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`
)

// qualityGateTx implements ingestion.QualityGateTx on one *sql.Tx.
type qualityGateTx struct {
	tx *sql.Tx
}

func (q *qualityGateTx) FindProjectByName(ctx context.Context, name string) (*ingestion.Project, bool, error) {
	var p ingestion.Project

	err := q.tx.QueryRowContext(ctx, findProjectByNameQuery, name).Scan(&p.ID, &p.Name, &p.Image)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, classify("find project", err)
	}

	return &p, true, nil
}

func (q *qualityGateTx) FindMeasure(
	ctx context.Context,
	metric string,
	projectID uuid.UUID,
) (*ingestion.Measure, bool, error) {
	var (
		m                       ingestion.Measure
		warning, errVal, actual sql.NullFloat64
	)

	err := q.tx.QueryRowContext(ctx, findMeasureQuery, metric, projectID).
		Scan(&m.ID, &m.Metric, &m.Status, &warning, &errVal, &actual, &m.ProjectID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, classify("find measure", err)
	}

	m.WarningValue = floatPtr(warning)
	m.ErrorValue = floatPtr(errVal)
	m.ActualValue = floatPtr(actual)

	return &m, true, nil
}

func (q *qualityGateTx) CreateMeasure(ctx context.Context, m *ingestion.Measure) error {
	result, err := q.tx.ExecContext(ctx, createMeasureQuery,
		m.ID, m.Metric, m.Status, m.WarningValue, m.ErrorValue, m.ActualValue, m.ProjectID)
	if err != nil {
		return classify("create measure", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return classify("create measure", err)
	}

	if affected == 0 {
		return fmt.Errorf("%w: metric=%s project=%s", ingestion.ErrMeasureExists, m.Metric, m.ProjectID)
	}

	return nil
}

func (q *qualityGateTx) UpdateMeasure(ctx context.Context, m *ingestion.Measure) error {
	result, err := q.tx.ExecContext(ctx, updateMeasureQuery,
		m.ID, m.Metric, m.Status, m.WarningValue, m.ErrorValue, m.ActualValue, m.ProjectID)
	if err != nil {
		return classify("update measure", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return classify("update measure", err)
	}

	if affected != 1 {
		return classify("update measure", fmt.Errorf("%w: measure %s", ErrRowNotUpdated, m.ID))
	}

	return nil
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}

	f := v.Float64

	return &f
}
