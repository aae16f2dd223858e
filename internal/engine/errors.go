package engine

import (
	"errors"
	"fmt"
)

// Error classes for lifecycle operations. Callers branch with errors.Is.
var (
	// ErrValidation means the caller supplied an illegal transition input;
	// no state was mutated.
	ErrValidation = errors.New("invalid input")
	// ErrConflict means the optimistic state check failed: the request
	// changed since it was read. Re-read and retry or abandon; never
	// overwrite.
	ErrConflict = errors.New("state conflict")
	// ErrConfiguration means a required policy is missing. It aborts a
	// whole run; it is never a per-candidate failure.
	ErrConfiguration = errors.New("configuration error")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

func conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrConflict}, args...)...)
}

func configErrf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrConfiguration}, args...)...)
}
