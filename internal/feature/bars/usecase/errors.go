// Package usecase implements the incremental daily-bar ingestion engine.
package usecase

import (
	"context"
	"errors"
	"fmt"

	"stock_ingest/internal/feature/bars/domain/entity"
)

var (
	// ErrCapabilityNotSupported is returned by a market adapter registry for markets without an upstream source.
	ErrCapabilityNotSupported = errors.New("market capability not supported")

	// ErrSchema marks upstream shape drift: a mapped column is missing for the market.
	ErrSchema = errors.New("schema error")

	// ErrMalformedRow is returned when a mapped cell cannot be parsed.
	ErrMalformedRow = errors.New("malformed row")

	// ErrTransient marks failures that are retried by the next scheduled cycle.
	ErrTransient = errors.New("transient error")

	// ErrUniverseLoad is returned when the symbol universe of a market cannot be read or is empty.
	ErrUniverseLoad = errors.New("universe load error")

	// ErrCycleInProgress is returned when a cycle for the same market is already running.
	ErrCycleInProgress = errors.New("cycle already in progress")
)

// SchemaError reports a column the market's mapping expects but the raw rows lack.
type SchemaError struct {
	Market entity.Market
	Column string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("schema error: market %s: %s", e.Market, e.Reason)
	}
	return fmt.Sprintf("schema error: market %s: column %q missing", e.Market, e.Column)
}

// Is makes errors.Is(err, ErrSchema) hold for any *SchemaError.
func (e *SchemaError) Is(target error) bool {
	return target == ErrSchema
}

// TransientError wraps an upstream or store failure of one pipeline stage.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrTransient) hold for any *TransientError.
func (e *TransientError) Is(target error) bool {
	return target == ErrTransient
}

// transient wraps err unless it already carries a classification.
func transient(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrSchema) || errors.Is(err, ErrCapabilityNotSupported) || errors.Is(err, ErrTransient) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransientError{Op: op, Err: fmt.Errorf("timeout: %w", err)}
	}
	return &TransientError{Op: op, Err: err}
}
