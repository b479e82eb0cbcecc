package transport

import (
	"fmt"

	"github.com/opd-ai/rendezvous/address"
	"github.com/opd-ai/rendezvous/limits"
)

const (
	// HeaderSize is the envelope header: sender and receiver addresses.
	HeaderSize = 2 * address.Size

	// MaxDatagramSize bounds a serialized envelope. Larger bodies are
	// truncated; fragmentation is left to callers.
	MaxDatagramSize = limits.MaxDatagram

	// MaxBodySize is the largest body that fits in one datagram.
	MaxBodySize = MaxDatagramSize - HeaderSize
)

// Envelope is one overlay datagram.
type Envelope struct {
	Sender   address.Address
	Receiver address.Address
	Body     []byte
}

// NewPing builds the keepalive ping a device sends to its router.
func NewPing(from address.Address) *Envelope {
	return &Envelope{Sender: from, Receiver: address.Sentinel}
}

// NewPong builds the router's answer to a ping from to.
func NewPong(to address.Address) *Envelope {
	return &Envelope{Sender: address.Sentinel, Receiver: to}
}

// IsPing reports whether the envelope is addressed to the router itself.
func (e *Envelope) IsPing() bool {
	return e.Receiver.IsSentinel()
}

// IsPong reports whether the envelope is router control traffic.
func (e *Envelope) IsPong() bool {
	return e.Sender.IsSentinel()
}

// Serialize encodes the envelope, truncating the body to MaxBodySize.
func (e *Envelope) Serialize() []byte {
	return e.AppendTo(make([]byte, 0, HeaderSize+min(len(e.Body), MaxBodySize)))
}

// AppendTo appends the encoded envelope to dst and returns the result.
func (e *Envelope) AppendTo(dst []byte) []byte {
	body := e.Body
	if len(body) > MaxBodySize {
		body = body[:MaxBodySize]
	}
	dst = append(dst, e.Sender[:]...)
	dst = append(dst, e.Receiver[:]...)
	return append(dst, body...)
}

// ParseEnvelope decodes data. The returned body is a copy, so data may be
// reused by the caller.
func ParseEnvelope(data []byte) (*Envelope, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(data))
	}

	e := &Envelope{}
	copy(e.Sender[:], data[:address.Size])
	copy(e.Receiver[:], data[address.Size:HeaderSize])
	if len(data) > HeaderSize {
		e.Body = make([]byte, len(data)-HeaderSize)
		copy(e.Body, data[HeaderSize:])
	}
	return e, nil
}

// PeekEnvelope decodes the header of data without copying the body: the
// returned Body aliases data and is only valid until data is reused.
func PeekEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if len(data) < HeaderSize {
		return e, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(data))
	}
	copy(e.Sender[:], data[:address.Size])
	copy(e.Receiver[:], data[address.Size:HeaderSize])
	e.Body = data[HeaderSize:]
	return e, nil
}

// CheckReceiver returns an error wrapping ErrNotForUs unless the envelope is
// addressed to self.
func (e *Envelope) CheckReceiver(self address.Address) error {
	if e.Receiver != self {
		return fmt.Errorf("%w: receiver %s", ErrNotForUs, e.Receiver.Short())
	}
	return nil
}
