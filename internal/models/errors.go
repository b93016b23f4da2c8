package models

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the pipeline. Match with errors.Is.
var (
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrSchema            = errors.New("schema error")
	ErrFormat            = errors.New("format error")
	ErrConversion        = errors.New("conversion error")
	ErrWrite             = errors.New("write error")

	// ErrRunInProgress is returned when another run holds the run lock
	ErrRunInProgress = errors.New("run already in progress")
	// ErrRunNotFound is returned for unknown run ids
	ErrRunNotFound = errors.New("run not found")
	// ErrOutputLocation is returned for output overrides outside the
	// configured output directory or bucket prefix
	ErrOutputLocation = errors.New("output location not allowed")
)

// StageError records the pipeline state in which a run failed
type StageError struct {
	Stage  string
	Source SourceSystem
	Err    error
}

func (e *StageError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("%s (%s): %v", e.Stage, e.Source, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
