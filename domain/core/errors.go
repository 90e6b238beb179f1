package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Invalid-state errors: a statistic was requested before its
	// prerequisite was computed.
	ErrInvalidState     = errors.New("invalid state")
	ErrMissingResiduals = fmt.Errorf("%w: residuals required", ErrInvalidState)
	ErrNotConfigured    = fmt.Errorf("%w: model not configured", ErrInvalidState)

	// Shape errors
	ErrShapeMismatch = errors.New("shape mismatch")

	// Numerical errors
	ErrSingularMatrix = errors.New("singular matrix")
	ErrFactorization  = errors.New("matrix factorization failed")

	// Batch errors
	ErrSourceExhausted = errors.New("data source exhausted")
	ErrChunkFailed     = errors.New("chunk fit failed")
)

// Error constructors with context
func NewShapeMismatchError(what string, got, want int) error {
	return fmt.Errorf("%w: %s is %d, want %d", ErrShapeMismatch, what, got, want)
}

func NewSingularMatrixError(what string) error {
	return fmt.Errorf("%w: %s", ErrSingularMatrix, what)
}

func NewChunkError(index int, err error) error {
	return fmt.Errorf("%w: chunk %d: %w", ErrChunkFailed, index, err)
}

// Error checking helpers
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

func IsShapeMismatch(err error) bool {
	return errors.Is(err, ErrShapeMismatch)
}

func IsSingular(err error) bool {
	return errors.Is(err, ErrSingularMatrix) || errors.Is(err, ErrFactorization)
}
