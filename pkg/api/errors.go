package api

import "errors"

// Package-level errors.
var (
	// ErrNoGate is returned when Config.Gate is nil.
	ErrNoGate = errors.New("api: auth gate is required")

	// ErrNoStore is returned when Config.Store is nil.
	ErrNoStore = errors.New("api: pairing store is required")

	// ErrAlreadyStarted is returned when Start() is called twice.
	ErrAlreadyStarted = errors.New("api: server already started")

	// ErrClosed is returned after Stop().
	ErrClosed = errors.New("api: server closed")
)
