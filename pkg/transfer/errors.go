package transfer

import "errors"

var (
	// ErrAlreadyStarted is returned when starting a started server.
	ErrAlreadyStarted = errors.New("transfer: already started")

	// ErrClosed is returned when an operation is attempted after Stop.
	ErrClosed = errors.New("transfer: closed")

	// ErrHeaderTooLarge is returned when a header does not fit the frame.
	ErrHeaderTooLarge = errors.New("transfer: header exceeds frame size")

	// ErrBadFrame is returned for malformed header frames.
	ErrBadFrame = errors.New("transfer: malformed header frame")

	// ErrRejected is returned by the client when the server answers with
	// an error status.
	ErrRejected = errors.New("transfer: server rejected the request")
)
