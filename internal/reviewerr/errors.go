// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package reviewerr defines the sentinel error kinds shared across the
// review pipeline (C1-C8) and the HTTP status codes they map to.
package reviewerr

import (
	"errors"
	"fmt"
)

// Sentinel error kinds, per spec §7.
var (
	ErrNotFound               = errors.New("reviewerr: not found")
	ErrCredentialError        = errors.New("reviewerr: object store credential rejection")
	ErrSourceUnavailable      = errors.New("reviewerr: source download unavailable")
	ErrTimeout                = errors.New("reviewerr: operation timed out")
	ErrIOError                = errors.New("reviewerr: local disk error")
	ErrTranscodeStartupFailed = errors.New("reviewerr: transcoder failed before readiness")
	ErrTranscodeFailedMidRun  = errors.New("reviewerr: transcoder failed after readiness")
	ErrAnalysisFailed         = errors.New("reviewerr: analysis worker failed")
	ErrCancelled              = errors.New("reviewerr: request superseded or aborted")
)

// Error wraps a sentinel kind with operation context and an optional cause,
// mirroring the shape of the object-store client's wrapped errors.
type Error struct {
	Kind      error
	Operation string
	Key       string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s[%s]: %s: %v", e.Operation, e.Key, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s[%s]: %s", e.Operation, e.Key, e.Kind)
}

func (e *Error) Unwrap() error { return e.Kind }

// Wrap produces an *Error for the given kind, operation, key and cause.
func Wrap(kind error, operation, key string, cause error) *Error {
	return &Error{Kind: kind, Operation: operation, Key: key, Err: cause}
}

// StatusCode maps a sentinel kind to the HTTP status it is propagated as
// per spec §7's propagation policy.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return 404
	case errors.Is(err, ErrCredentialError):
		return 401
	case errors.Is(err, ErrSourceUnavailable),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrIOError),
		errors.Is(err, ErrTranscodeStartupFailed),
		errors.Is(err, ErrAnalysisFailed):
		return 500
	default:
		return 500
	}
}
