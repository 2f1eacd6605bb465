package domain

import (
	"context"
	"errors"
	"fmt"
)

// ProviderErrorKind classifies failures of the external data provider.
type ProviderErrorKind int

const (
	// ProviderTransient covers network failures, timeouts, 429 and 5xx answers.
	ProviderTransient ProviderErrorKind = iota
	// ProviderFatal covers auth failures and malformed requests. Never retried.
	ProviderFatal
)

func (k ProviderErrorKind) String() string {
	if k == ProviderFatal {
		return "fatal"
	}
	return "transient"
}

// ProviderError is returned by provider adapters for every failed page request.
type ProviderError struct {
	Kind   ProviderErrorKind
	Status int // HTTP status when known, 0 otherwise
	Err    error
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("provider %s error (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("provider %s error: %v", e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func Transient(status int, err error) error {
	return &ProviderError{Kind: ProviderTransient, Status: status, Err: err}
}

func Fatal(status int, err error) error {
	return &ProviderError{Kind: ProviderFatal, Status: status, Err: err}
}

// IsRetryable reports whether a job failing with err may be re-submitted.
// Transient provider errors and Reaper timeouts qualify; validation errors,
// fatal provider errors and user stops do not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind == ProviderTransient
	}
	switch {
	case errors.Is(err, ErrJobTimeout), errors.Is(err, ErrStaleJob):
		return true
	case errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return false
}

// IsTransientProvider reports whether err carries a transient ProviderError.
func IsTransientProvider(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == ProviderTransient
}
