package models

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every pipeline component. Callers match with errors.Is.
var (
	ErrInvalidMeasurement   = errors.New("invalid measurement")
	ErrDuplicateMeasurement = errors.New("duplicate measurement")
	ErrInsufficientData     = errors.New("insufficient data")
	ErrModelUnavailable     = errors.New("model unavailable")
	ErrPersistenceFailure   = errors.New("persistence failure")
)

// ValidationError describes a measurement rejected at the ingestion boundary
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid measurement: %s: %s", e.Field, e.Message)
}

// Is reports ErrInvalidMeasurement so callers need not know the concrete type.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidMeasurement
}

// PersistenceError wraps a failed durable write
type PersistenceError struct {
	Op       string
	Location string
	Err      error
}

func (e *PersistenceError) Error() string {
	if e.Location != "" {
		return fmt.Sprintf("persistence failure during %s at %s: %v", e.Op, e.Location, e.Err)
	}
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistenceFailure
}

// DataError reports that a component had too little usable input
type DataError struct {
	Component string
	Message   string
}

func (e *DataError) Error() string {
	return fmt.Sprintf("insufficient data for %s: %s", e.Component, e.Message)
}

func (e *DataError) Is(target error) bool {
	return target == ErrInsufficientData
}
