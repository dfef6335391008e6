package finance

import (
	"errors"
	"fmt"
)

var (
	// ErrSchema marks malformed or ambiguous input structure.
	ErrSchema = errors.New("schema error")
	// ErrEmptyResult marks a transform that legitimately produced zero rows.
	ErrEmptyResult = errors.New("empty result")
	// ErrInsufficientData marks a series too short for the requested computation.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrProvider marks an upstream market-data failure.
	ErrProvider = errors.New("provider error")
)

// SchemaError reports a malformed table: label collisions, missing date index, ragged columns.
type SchemaError struct {
	Reason string
}

func (e *SchemaError) Error() string { return "schema error: " + e.Reason }

func (e *SchemaError) Is(target error) bool { return target == ErrSchema }

func schemaErrorf(format string, args ...any) error {
	return &SchemaError{Reason: fmt.Sprintf(format, args...)}
}

// EmptyResultError reports that cleaning dropped every row.
type EmptyResultError struct {
	Stage string
	Rows  int // rows before the stage ran
}

func (e *EmptyResultError) Error() string {
	return fmt.Sprintf("empty result: %s dropped all %d rows", e.Stage, e.Rows)
}

func (e *EmptyResultError) Is(target error) bool { return target == ErrEmptyResult }

// InsufficientDataError reports that fewer observations are available than required.
type InsufficientDataError struct {
	What string
	Have int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for %s: have %d observations, need %d", e.What, e.Have, e.Need)
}

func (e *InsufficientDataError) Is(target error) bool { return target == ErrInsufficientData }

// ProviderError wraps a failure from the market-data provider. The original
// error is kept intact and reachable through errors.Unwrap.
type ProviderError struct {
	Provider string
	Ticker   string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Ticker == "" {
		return fmt.Sprintf("%s: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Ticker, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool { return target == ErrProvider }
