// Package limits centralises the size limits of the overlay so every layer
// agrees on how much payload fits in one datagram.
//
// # Size Hierarchy
//
// A datagram on the wire is at most MaxDatagram bytes. Each layer takes its
// share from the front:
//
//   - EnvelopeHeader (64 bytes): sender and receiver addresses.
//   - SealOverhead (40 bytes): nonce and Poly1305 tag, only when the secure
//     layer is in use.
//   - MessagingHeader (5 bytes): packet type and sequence number.
//
// MaxMessagePayload and MaxSealedMessagePayload are what remains for the
// application in the plain and encrypted stacks.
//
// # Validation
//
//	if err := limits.ValidateMessageSize(payload, limits.MaxMessagePayload); err != nil {
//	    // errors.Is(err, limits.ErrMessageTooLarge)
//	}
//
// Empty payloads are valid: an acknowledged empty message is still a
// meaningful signal.
package limits
