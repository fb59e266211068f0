// Package common defines shared constants and sentinel errors used across
// client and server layers of fieldsync. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// ErrNotFound is returned by repositories and the remote API when the
	// requested record does not exist. Read paths resolve it as "empty",
	// never as a failure.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable covers transient transport failures: timeouts,
	// connection refused, 5xx responses. Queue entries hitting it are
	// retried with backoff.
	ErrUnavailable = errors.New("server unavailable")

	// ErrRejected means the server refused the payload (validation or
	// conflict). Retrying the same payload cannot succeed, so the sync
	// engine quarantines the entry immediately.
	ErrRejected = errors.New("rejected by server")

	// ErrUnauthorized is returned when the session token is missing,
	// expired, or invalid.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidToken is the auth-layer variant used by the server when a
	// presented JWT fails verification.
	ErrInvalidToken = errors.New("invalid token")
)

// AccessTokenHeaderName is the HTTP header carrying the access token on
// authenticated requests.
const AccessTokenHeaderName = "Authorization"

// IdempotencyKeyHeaderName carries the client-supplied idempotency key on
// CREATE requests so a retried create never produces a duplicate entity.
const IdempotencyKeyHeaderName = "Idempotency-Key"
