package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a record does not exist for the tenant.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput is returned for missing or malformed arguments.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNoActiveConfiguration is returned when no ParameterSet is valid for
	// the requested scope and date. It is not retryable.
	ErrNoActiveConfiguration = errors.New("no active configuration")
)

// MalformedRuleError describes a bin list or segment condition that could
// not be parsed. Scoring absorbs it; configuration endpoints reject it.
type MalformedRuleError struct {
	ParameterSetID string
	SegmentID      string
	Dimension      string
	Err            error
}

func (e *MalformedRuleError) Error() string {
	if e.SegmentID != "" {
		return fmt.Sprintf("malformed rule: segment %s dimension %s: %v", e.SegmentID, e.Dimension, e.Err)
	}
	return fmt.Sprintf("malformed rule: parameter set %s dimension %s: %v", e.ParameterSetID, e.Dimension, e.Err)
}

func (e *MalformedRuleError) Unwrap() error {
	return e.Err
}
