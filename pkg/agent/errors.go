package agent

import "errors"

var (
	// ErrAlreadyStarted is returned when starting a started agent.
	ErrAlreadyStarted = errors.New("agent: already started")

	// ErrClosed is returned when the agent has been stopped.
	ErrClosed = errors.New("agent: closed")
)
