package audit

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidDomain is returned when a domain fails validation.
	ErrInvalidDomain = errors.New("invalid domain")
	// ErrInvalidEmail is returned when an email address fails validation.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrInvalidMode is returned for modes other than fast and complete.
	ErrInvalidMode = errors.New("invalid mode")
	// ErrStaleTimestamp is returned when a request timestamp is outside the accepted skew.
	ErrStaleTimestamp = errors.New("request timestamp out of range")
	// ErrNotFound is returned by stores when an entry does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable is returned when a backing service cannot be reached.
	ErrUnavailable = errors.New("unavailable")
)

// FailedError reports that a mandatory probe failed and the audit was aborted.
type FailedError struct {
	Probe string
	Err   error
}

func (e *FailedError) Error() string {
	if e.Probe == "" {
		return fmt.Sprintf("audit failed: %v", e.Err)
	}
	return fmt.Sprintf("audit failed: %s: %v", e.Probe, e.Err)
}

func (e *FailedError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is one of the input validation errors.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidDomain) ||
		errors.Is(err, ErrInvalidEmail) ||
		errors.Is(err, ErrInvalidMode) ||
		errors.Is(err, ErrStaleTimestamp)
}
