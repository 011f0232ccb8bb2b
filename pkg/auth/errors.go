package auth

import "errors"

// Package-level errors. The API layer maps these onto HTTP status codes:
// missing/invalid token 401, peer failures 403, malformed headers 400.
var (
	// ErrMissingToken is returned when a token is required but absent.
	ErrMissingToken = errors.New("auth: missing token")

	// ErrInvalidToken is returned when the presented token does not match.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrNotLoopback is returned when a tokenless request arrives from a
	// non-loopback address on a fresh install.
	ErrNotLoopback = errors.New("auth: remote access requires a token")

	// ErrMalformedHeaders is returned when the peer headers are incomplete
	// or unparseable.
	ErrMalformedHeaders = errors.New("auth: malformed peer headers")

	// ErrStaleTimestamp is returned when a peer timestamp falls outside the
	// replay window.
	ErrStaleTimestamp = errors.New("auth: timestamp expired")

	// ErrUnknownPeer is returned when the peer id has no paired record.
	ErrUnknownPeer = errors.New("auth: unknown peer")

	// ErrUntrustedPeer is returned when the peer record is not trusted.
	ErrUntrustedPeer = errors.New("auth: peer not trusted")

	// ErrBadSignature is returned when HMAC verification fails.
	ErrBadSignature = errors.New("auth: HMAC verification failed")
)
