package identity

import "errors"

// Signing failures are local and typed so callers can tell the reasons
// apart instead of collapsing them into a single nil result.
var (
	// ErrEmptyChallenge is returned when a signature is requested over an
	// empty challenge string.
	ErrEmptyChallenge = errors.New("challenge is empty")

	// ErrNoKey is returned when no HMAC key is available to sign with.
	ErrNoKey = errors.New("no HMAC key available")
)
