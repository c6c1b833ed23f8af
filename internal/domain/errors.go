package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidStyle        = errors.New("invalid dance style")
	ErrQuotaExceeded       = errors.New("free tier quota exceeded")
	ErrImageNotUploaded    = errors.New("image was never uploaded")
	ErrStorageUnavailable  = errors.New("storage unavailable")
	ErrProviderUnavailable = errors.New("inference provider unavailable")
	ErrNoUsableOutput      = errors.New("no usable output in provider response")
)

// StateError reports a transition attempted against a job that is not in the
// required state. Current carries the status actually observed so callers can
// tell "already started" apart from a genuine conflict.
type StateError struct {
	Current JobStatus
}

func (e *StateError) Error() string {
	return fmt.Sprintf("job is not in the required state (current: %s)", e.Current)
}
