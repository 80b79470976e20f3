// Package messaging classifies handler failures and retries transient ones.
package messaging

import (
	"errors"

	"github.com/example/ec-checkout-saga/internal/contracts"
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	var p *permanentError
	if errors.As(err, &p) {
		return err
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err must skip the retry loop and go to the
// dead-letter topic. Malformed envelopes and unknown message types are
// always permanent.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var p *permanentError
	if errors.As(err, &p) {
		return true
	}
	return errors.Is(err, contracts.ErrMalformedEnvelope) || errors.Is(err, contracts.ErrUnknownMessageType)
}

// PermanentIf wraps err with Permanent when it matches one of targets.
func PermanentIf(err error, targets ...error) error {
	for _, t := range targets {
		if errors.Is(err, t) {
			return Permanent(err)
		}
	}
	return err
}
