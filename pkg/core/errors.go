package core

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the store and observers.
var (
	ErrIntegrity      = errors.New("content digest mismatch")
	ErrRunNotFound    = errors.New("run not found")
	ErrNoActiveRun    = errors.New("no active run")
	ErrRunFinished    = errors.New("run already finished")
	ErrInvalidStatus  = errors.New("invalid run status")
	ErrInvalidSeries  = errors.New("invalid metric series")
	ErrLinearization  = errors.New("metric linearization failed")
	ErrInvalidPayload = errors.New("invalid event payload")
)

// IntegrityError reports a source file whose content on disk does not hash
// to the digest the caller supplied.
type IntegrityError struct {
	Filename string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("source %s: expected digest %s, got %s", e.Filename, e.Expected, e.Actual)
}

// Unwrap lets errors.Is match ErrIntegrity.
func (e *IntegrityError) Unwrap() error {
	return ErrIntegrity
}
