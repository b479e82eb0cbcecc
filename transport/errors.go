package transport

import "errors"

var (
	// ErrShortPacket indicates a datagram shorter than the envelope header.
	ErrShortPacket = errors.New("packet shorter than envelope header")

	// ErrNotForUs indicates an envelope whose receiver is not the local address.
	ErrNotForUs = errors.New("envelope addressed to another peer")

	// ErrClosed indicates an operation on a closed endpoint.
	ErrClosed = errors.New("transport closed")
)
