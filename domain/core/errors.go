package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Input shape errors
	ErrInvalidInput      = errors.New("invalid input")
	ErrDimensionMismatch = fmt.Errorf("%w: dimension mismatch", ErrInvalidInput)
	ErrEmptyActiveSet    = fmt.Errorf("%w: empty active set", ErrInvalidInput)
	ErrInvalidPartition  = fmt.Errorf("%w: active/inactive partition", ErrInvalidInput)
	ErrInvalidSigns      = fmt.Errorf("%w: signs must be +1 or -1", ErrInvalidInput)
	ErrEmptySample       = fmt.Errorf("%w: empty sample", ErrInvalidInput)
	ErrNegativeWeight    = fmt.Errorf("%w: negative weight", ErrInvalidInput)

	// Numerical errors (fatal for a replicate, never retried)
	ErrNumerical           = errors.New("numerical failure")
	ErrSingularMatrix      = fmt.Errorf("%w: singular matrix", ErrNumerical)
	ErrNotPositiveDefinite = fmt.Errorf("%w: matrix not positive definite", ErrNumerical)
	ErrWeightPole          = fmt.Errorf("%w: weight gradient evaluated at its pole", ErrNumerical)
	ErrNonFinite           = fmt.Errorf("%w: non-finite value", ErrNumerical)

	// Configuration errors
	ErrUnknownFamily = errors.New("unknown distribution family")
	ErrBurnIn        = errors.New("burn-in must be smaller than total steps")

	// Determinism errors
	ErrNonDeterministic = errors.New("non-deterministic result")
	ErrSeedMismatch     = errors.New("seed mismatch")
)

// Error constructors with context
func NewDimensionError(what string, got, want int) error {
	return fmt.Errorf("%w: %s has length %d, expected %d", ErrDimensionMismatch, what, got, want)
}

func NewSingularError(what string) error {
	return fmt.Errorf("%w: %s", ErrSingularMatrix, what)
}

func NewUnknownFamilyError(kind, name string) error {
	return fmt.Errorf("%w: %s family %q", ErrUnknownFamily, kind, name)
}

// Error checking helpers
func IsNumericalError(err error) bool {
	return errors.Is(err, ErrNumerical)
}

func IsInputError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

func IsConfigError(err error) bool {
	return errors.Is(err, ErrUnknownFamily) ||
		errors.Is(err, ErrBurnIn)
}

func IsDeterminismError(err error) bool {
	return errors.Is(err, ErrNonDeterministic) ||
		errors.Is(err, ErrSeedMismatch)
}
