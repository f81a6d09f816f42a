package domain

import "errors"

var (
	// ErrTransient is a network or navigation hiccup. It is retried inside
	// the current tier only.
	ErrTransient = errors.New("transient I/O failure")

	// ErrNoMatch is the expected negative outcome of a lookup: no suitable
	// product was found. It advances resolution to the next tier.
	ErrNoMatch = errors.New("no matching product found")

	// ErrAddRejected is returned when the storefront refused an add-to-cart.
	ErrAddRejected = errors.New("add to cart rejected")

	// ErrSessionExpired means the session was lost and must be re-established.
	ErrSessionExpired = errors.New("session expired")

	// ErrAuthExhausted is fatal: re-authentication retries ran out.
	ErrAuthExhausted = errors.New("re-authentication attempts exhausted")

	// ErrStagingCorrupt is fatal at startup: the staging record is unreadable.
	ErrStagingCorrupt = errors.New("staging record corrupt")

	// ErrStagingNotFound is returned when no staging record exists.
	ErrStagingNotFound = errors.New("staging record not found")

	// ErrCacheMiss is returned when data is not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrNotifyFailed is returned when a notification could not be delivered.
	ErrNotifyFailed = errors.New("notification delivery failed")

	// ErrInvalidConfig is returned when configuration fails validation.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ErrorClass is the taxonomy bucket of a collaborator error.
type ErrorClass int

const (
	ClassNone ErrorClass = iota
	ClassTransient
	ClassNoMatch
	ClassSessionExpired
	ClassUnexpected
)

func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassTransient:
		return "transient"
	case ClassNoMatch:
		return "no_match"
	case ClassSessionExpired:
		return "session_expired"
	default:
		return "unexpected"
	}
}

// Classify maps a collaborator error onto the failure taxonomy. A rejected
// add is a negative outcome, like a missing match.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrSessionExpired):
		return ClassSessionExpired
	case errors.Is(err, ErrNoMatch), errors.Is(err, ErrAddRejected):
		return ClassNoMatch
	case errors.Is(err, ErrTransient):
		return ClassTransient
	default:
		return ClassUnexpected
	}
}
