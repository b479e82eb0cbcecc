package messaging

import "errors"

var (
	// ErrTornDown indicates the underlying Networker is dead.
	ErrTornDown = errors.New("networker is torn down")

	// ErrShortHeader indicates a body shorter than the messaging header.
	ErrShortHeader = errors.New("body shorter than messaging header")

	// ErrUnknownType indicates an unrecognized packet type byte.
	ErrUnknownType = errors.New("unknown messaging packet type")
)
