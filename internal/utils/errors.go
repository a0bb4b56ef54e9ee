package utils

import (
	"errors"
	"fmt"
)

// Kind is the stable error category surfaced to callers.
type Kind string

const (
	KindInternal              Kind = "internal"
	KindValidation            Kind = "validation"
	KindInvalidPrediction     Kind = "invalid_prediction_input"
	KindDependencyUnavailable Kind = "dependency_unavailable"
	KindConfiguration         Kind = "configuration"
	KindAuthorization         Kind = "authorization"
	KindTimeout               Kind = "timeout"
	KindNotFound              Kind = "not_found"
)

// AppError wraps an operation, human-facing message, and underlying error.
type AppError struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError of the internal kind.
func NewAppError(op, msg string, err error) error {
	return &AppError{Kind: KindInternal, Op: op, Msg: msg, Err: err}
}

// NewValidationError reports malformed input. Never retried.
func NewValidationError(op, msg string) error {
	return &AppError{Kind: KindValidation, Op: op, Msg: msg}
}

// NewInvalidPredictionError reports a prediction context that cannot be scored.
func NewInvalidPredictionError(op, msg string) error {
	return &AppError{Kind: KindInvalidPrediction, Op: op, Msg: msg}
}

// NewDependencyError reports an upstream source that could not answer.
func NewDependencyError(op, msg string, err error) error {
	return &AppError{Kind: KindDependencyUnavailable, Op: op, Msg: msg, Err: err}
}

// NewConfigurationError reports a fatal misconfiguration.
func NewConfigurationError(op, msg string) error {
	return &AppError{Kind: KindConfiguration, Op: op, Msg: msg}
}

// NewAuthorizationError reports a missing authorization assertion.
func NewAuthorizationError(op, msg string) error {
	return &AppError{Kind: KindAuthorization, Op: op, Msg: msg}
}

// NewTimeoutError reports an exceeded latency budget.
func NewTimeoutError(op, msg string, err error) error {
	return &AppError{Kind: KindTimeout, Op: op, Msg: msg, Err: err}
}

// NewNotFoundError reports a lookup for something that was never recorded.
func NewNotFoundError(op, msg string) error {
	return &AppError{Kind: KindNotFound, Op: op, Msg: msg}
}

// KindOf returns the kind of the first AppError in the chain, or KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Kind != "" {
		return appErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsInputError reports whether err was caused by the caller's input.
func IsInputError(err error) bool {
	k := KindOf(err)
	return k == KindValidation || k == KindInvalidPrediction
}
