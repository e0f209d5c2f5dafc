package domain

import "errors"

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates an entity already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotImplemented indicates functionality is not yet available.
	ErrNotImplemented = errors.New("not implemented")

	// ErrUnsupportedType indicates an unknown connector or parser type.
	ErrUnsupportedType = errors.New("unsupported type")

	// Connection Errors.

	// ErrNotInitialized indicates an adapter method was called before
	// Initialize provided credentials.
	ErrNotInitialized = errors.New("adapter not initialized")

	// ErrNotConnected indicates an operation requires an authenticated
	// session but the connector is not connected.
	ErrNotConnected = errors.New("not connected")

	// ErrConnectionFailed indicates the endpoint is unreachable or the
	// credentials were rejected.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrSessionExpired indicates a previously valid session was lost
	// mid-operation. Distinct from an empty result.
	ErrSessionExpired = errors.New("session expired")

	// ErrConnectorClosed indicates the connector has been disconnected.
	ErrConnectorClosed = errors.New("connector closed")

	// ErrBusy indicates another operation is already in flight for this
	// connector. Operations on one connector are serialized.
	ErrBusy = errors.New("operation already in progress")

	// ErrRateLimited indicates the endpoint rate limit was exceeded.
	ErrRateLimited = errors.New("rate limited")

	// MFA Errors.

	// ErrNoPendingChallenge indicates an MFA code was submitted but no
	// challenge is outstanding. State is left unchanged.
	ErrNoPendingChallenge = errors.New("no pending MFA challenge")

	// ErrMFAInvalid indicates the submitted second factor was rejected.
	ErrMFAInvalid = errors.New("MFA code invalid")

	// ErrMFAExpired indicates the challenge expired before resolution.
	ErrMFAExpired = errors.New("MFA challenge expired")

	// Parser Errors.

	// ErrUnsupportedFormat indicates a parser could not identify the
	// schema of the input.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrTimeout indicates a bounded wait was exceeded.
	ErrTimeout = errors.New("timeout")
)
