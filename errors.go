package profiles

import "errors"

var (
	ErrProfileNotFound = errors.New("profile not found")
	// Unique user id violation, a concurrent creator won the race.
	ErrConflict = errors.New("profile conflict")
	// Connection loss or timeout, the whole operation is safe to retry.
	ErrTransient = errors.New("transient store failure")
	// Schema or programming error, never retried.
	ErrFatal = errors.New("fatal store failure")
	// Authoritative backend failed on the critical path.
	ErrBackendUnavailable = errors.New("backend unavailable")

	ErrUnresolvableType = errors.New("could not determine file extension")
	ErrInvalidKey       = errors.New("object key cannot be empty")
	ErrBackend          = errors.New("object storage failure")
	ErrEmptyIcon        = errors.New("icon file is empty")
)

// BadRequestError is a client input problem. Reason is safe to show to the caller.
type BadRequestError struct {
	Reason string
	Err    error
}

func (e *BadRequestError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *BadRequestError) Unwrap() error {
	return e.Err
}
