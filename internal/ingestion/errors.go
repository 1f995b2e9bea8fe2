// Package ingestion provides the quality-gate and end-to-end scenario ingestion core.
package ingestion

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for ingestion failures.
//
// Callers classify failures with errors.Is; the concrete types below carry the
// details that end up in problem responses.
var (
	ErrValidation      = errors.New("validation failed")
	ErrNotFound        = errors.New("not found")
	ErrProjectNotFound = fmt.Errorf("project name %w", ErrNotFound)
	ErrMeasureExists   = errors.New("measure already exists for metric and project")
	ErrNilStore        = errors.New("store cannot be nil")
)

// ValidationError lists every problem found in a rejected input.
type ValidationError struct {
	Problems []string
}

// NewValidationError creates a ValidationError from one or more problem descriptions.
func NewValidationError(problems ...string) *ValidationError {
	return &ValidationError{Problems: problems}
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 0 {
		return ErrValidation.Error()
	}

	return ErrValidation.Error() + ": " + strings.Join(e.Problems, "; ")
}

// Unwrap lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NotFoundError reports that a referenced entity does not exist.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Entity, ErrNotFound.Error(), e.Key)
}

// Is matches ErrNotFound, and ErrProjectNotFound when the entity is a project.
func (e *NotFoundError) Is(target error) bool {
	switch target { //nolint:errorlint
	case ErrNotFound:
		return true
	case ErrProjectNotFound:
		return e.Entity == entityProjectName
	default:
		return false
	}
}

const entityProjectName = "project name"

func projectNotFound(name string) *NotFoundError {
	return &NotFoundError{Entity: entityProjectName, Key: name}
}

// asValidationError normalizes any validator failure into a *ValidationError.
func asValidationError(err error) *ValidationError {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr
	}

	return NewValidationError(err.Error())
}
