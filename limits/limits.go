package limits

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/box"

	"github.com/opd-ai/rendezvous/address"
)

const (
	// MaxDatagram bounds one serialized overlay datagram: the largest UDP
	// payload over IPv4, 65535 minus the 8-byte UDP and 20-byte IP headers.
	MaxDatagram = 65535 - 8 - 20

	// EnvelopeHeader is the sender and receiver address pair.
	EnvelopeHeader = 2 * address.Size

	// MaxBody is the largest envelope body.
	MaxBody = MaxDatagram - EnvelopeHeader

	// MessagingHeader is the reliable messaging type byte and sequence.
	MessagingHeader = 5

	// NonceSize is the crypto_box nonce prefixed to sealed bodies.
	NonceSize = 24

	// SealOverhead is what the secure layer adds to a body.
	SealOverhead = NonceSize + box.Overhead

	// MaxMessagePayload is the largest reliable message on a plain stack.
	MaxMessagePayload = MaxBody - MessagingHeader

	// MaxSealedMessagePayload is the largest reliable message when bodies
	// are sealed.
	MaxSealedMessagePayload = MaxBody - SealOverhead - MessagingHeader
)

// ErrMessageTooLarge is returned when a payload exceeds its limit.
var ErrMessageTooLarge = errors.New("message too large")

// ValidateMessageSize checks data against maxSize.
func ValidateMessageSize(data []byte, maxSize int) error {
	if len(data) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(data), maxSize)
	}
	return nil
}
