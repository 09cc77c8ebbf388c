// Package apperr defines the error kinds returned across the API boundary.
package apperr

import (
	"errors"
	"fmt"
)

// Kind names an error category.
type Kind string

const (
	KindNotFound        Kind = "NotFound"
	KindInvalidState    Kind = "InvalidState"
	KindFull            Kind = "Full"
	KindAlreadyEnrolled Kind = "AlreadyEnrolled"
	KindTooLate         Kind = "TooLate"
	KindNotEligible     Kind = "NotEligible"
	KindUnauthorized    Kind = "Unauthorized"
	KindInvalid         Kind = "Invalid"
	KindInternal        Kind = "Internal"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidState    = errors.New("invalid state")
	ErrFull            = errors.New("session full")
	ErrAlreadyEnrolled = errors.New("already enrolled")
	ErrTooLate         = errors.New("cancellation window closed")
	ErrNotEligible     = errors.New("not eligible")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrInvalid         = errors.New("invalid input")
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrNotFound, KindNotFound},
	{ErrInvalidState, KindInvalidState},
	{ErrFull, KindFull},
	{ErrAlreadyEnrolled, KindAlreadyEnrolled},
	{ErrTooLate, KindTooLate},
	{ErrNotEligible, KindNotEligible},
	{ErrUnauthorized, KindUnauthorized},
	{ErrInvalid, KindInvalid},
}

// KindOf classifies err. Anything not wrapping a known sentinel is Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// Wrap annotates a sentinel with detail while keeping errors.Is matching.
func Wrap(sentinel error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}
