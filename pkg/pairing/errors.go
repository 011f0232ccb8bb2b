package pairing

import "errors"

// Package-level errors.
var (
	// ErrChallengeNotFound is returned when a challenge id is unknown or expired.
	ErrChallengeNotFound = errors.New("pairing: challenge not found or expired")

	// ErrPeerNotFound is returned when a peer id has no paired record.
	ErrPeerNotFound = errors.New("pairing: peer not found")

	// ErrAlreadyPaired is returned when creating a pending request for a
	// peer that already has a trusted record.
	ErrAlreadyPaired = errors.New("pairing: peer already paired")

	// ErrClosed is returned after the store has been closed.
	ErrClosed = errors.New("pairing: store closed")
)
