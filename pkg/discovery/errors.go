package discovery

import "errors"

var (
	// ErrClosed is returned when an operation is attempted on a closed component.
	ErrClosed = errors.New("discovery: closed")

	// ErrAlreadyStarted is returned when starting an already-started component.
	ErrAlreadyStarted = errors.New("discovery: already started")

	// ErrNotStarted is returned when stopping a component that was not started.
	ErrNotStarted = errors.New("discovery: not started")

	// ErrInvalidPort is returned when the advertised port is out of range.
	ErrInvalidPort = errors.New("discovery: invalid port (must be 1-65535)")
)
