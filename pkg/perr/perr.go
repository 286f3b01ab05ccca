// Package perr provides the error kinds reported by the compositing
// engine.
//
// Two kinds are fatal (InputError, IOFailure) and abort a run. The
// other two (ConvergenceWarning, PrecisionLoss) are warnings: the
// engine logs them and carries on with the best result it has.
package perr

import (
	"errors"
	"fmt"
)

// Kind is a machine-readable error category.
type Kind string

const (
	InputError         Kind = "INPUT_ERROR"
	IOFailure          Kind = "IO_FAILURE"
	ConvergenceWarning Kind = "CONVERGENCE_WARNING"
	PrecisionLoss      Kind = "PRECISION_LOSS"
)

// Error is a structured error with a kind and optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Cause
	}
	return false
}

// KindOf returns the kind of the first *Error in the chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsWarning is true for the non-fatal kinds.
func IsWarning(err error) bool {
	switch KindOf(err) {
	case ConvergenceWarning, PrecisionLoss:
		return true
	}
	return false
}
