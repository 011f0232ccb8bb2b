package orchestrator

import "errors"

var (
	// ErrNotPaired is returned when the named peer has no pairing record.
	ErrNotPaired = errors.New("orchestrator: peer is not paired")

	// ErrNoAddress is returned when a peer's address is unknown to both
	// discovery and the pairing record.
	ErrNoAddress = errors.New("orchestrator: peer address unknown")

	// ErrNoProvider is returned when a local-source operation needs a
	// platform provider that is not configured.
	ErrNoProvider = errors.New("orchestrator: required provider unavailable")

	// ErrUnknownDataType is returned for sync requests naming a dataset
	// the orchestrator cannot move.
	ErrUnknownDataType = errors.New("orchestrator: unknown data type")
)
