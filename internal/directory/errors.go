package directory

import (
	"errors"
	"fmt"
)

// TransientError wraps a network, timeout, or 5xx condition. Transient
// failures are eligible for bounded retry with backoff; the adapter retries
// internally and surfaces a TransientError only once retries are exhausted.
type TransientError struct {
	Op     string // "list", "disable", "delete", ...
	Status int    // HTTP status, 0 for transport-level failures
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: transient HTTP %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps a 4xx/auth condition. Never retried; the caller
// decides whether it is fatal (listing) or local to one device (mutation).
type PermanentError struct {
	Op     string
	Status int
	Detail string
}

func (e *PermanentError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.Status, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Detail)
}

// PreconditionError reports that the server rejected a delete because the
// device was not in the disabled state. The driver re-verifies remote status
// on this error rather than forcing the call.
type PreconditionError struct {
	GUID   string
	Detail string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("delete %s: precondition failed: %s", e.GUID, e.Detail)
}

// PolicyError reports a malformed or inconsistent device record (missing
// required fields, duplicate enumeration, implausible timestamps). The device
// is skipped, logged, and counted as failed; the run continues.
type PolicyError struct {
	DeviceID string
	Detail   string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("device %q: %s", e.DeviceID, e.Detail)
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err is (or wraps) a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// IsPrecondition reports whether err is (or wraps) a PreconditionError.
func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}
