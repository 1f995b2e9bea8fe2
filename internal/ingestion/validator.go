package ingestion

import "errors"

// Validator checks a typed input before any storage work happens.
//
// A Validator returns nil when the input is acceptable. Any returned error is
// reported to callers as a *ValidationError; implementations that want to list
// several problems should return one directly.
type Validator[T any] interface {
	Validate(input T) error
}

// ValidatorFunc adapts a plain function to the Validator interface.
type ValidatorFunc[T any] func(input T) error

// Validate calls f(input).
func (f ValidatorFunc[T]) Validate(input T) error {
	return f(input)
}

// PassThrough returns a Validator that accepts every input.
func PassThrough[T any]() Validator[T] {
	return ValidatorFunc[T](func(T) error { return nil })
}

// Chain runs validators in order and merges their problems into one *ValidationError.
// Nil validators are skipped.
func Chain[T any](validators ...Validator[T]) Validator[T] {
	return ValidatorFunc[T](func(input T) error {
		var problems []string

		for _, v := range validators {
			if v == nil {
				continue
			}

			err := v.Validate(input)
			if err == nil {
				continue
			}

			var verr *ValidationError
			if errors.As(err, &verr) && len(verr.Problems) > 0 {
				problems = append(problems, verr.Problems...)
			} else {
				problems = append(problems, err.Error())
			}
		}

		if len(problems) == 0 {
			return nil
		}

		return NewValidationError(problems...)
	})
}
