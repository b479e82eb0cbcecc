package messaging

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/opd-ai/rendezvous/address"
	"github.com/opd-ai/rendezvous/limits"
)

// PacketType identifies a messaging datagram.
type PacketType uint8

const (
	// PacketSend carries a payload that must be acknowledged.
	PacketSend PacketType = 0
	// PacketAck echoes the sequence number of a received PacketSend.
	PacketAck PacketType = 1
)

// HeaderSize is the type byte plus the 32-bit sequence number.
const HeaderSize = limits.MessagingHeader

func (t PacketType) String() string {
	switch t {
	case PacketSend:
		return "SEND"
	case PacketAck:
		return "ACK"
	default:
		return fmt.Sprintf("PacketType(%d)", uint8(t))
	}
}

// encodePacket builds a messaging body.
func encodePacket(t PacketType, seq uint32, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = byte(t)
	binary.BigEndian.PutUint32(buf[1:HeaderSize], seq)
	copy(buf[HeaderSize:], payload)
	return buf
}

// decodePacket parses a messaging body. The payload aliases data.
func decodePacket(data []byte) (PacketType, uint32, []byte, error) {
	if len(data) < HeaderSize {
		return 0, 0, nil, fmt.Errorf("%w: %d bytes", ErrShortHeader, len(data))
	}
	t := PacketType(data[0])
	if t != PacketSend && t != PacketAck {
		return 0, 0, nil, fmt.Errorf("%w: %d", ErrUnknownType, data[0])
	}
	return t, binary.BigEndian.Uint32(data[1:HeaderSize]), data[HeaderSize:], nil
}

// MessageID identifies a message by sequence number and peer. On the send
// side the peer is the receiver and the ID correlates acknowledgements; on
// the receive side the peer is the sender and the ID keys the duplicate
// window. Sequence numbers wrap at 2^32, so uniqueness only holds within a
// heuristic time frame.
type MessageID struct {
	Sequence uint32
	Peer     address.Address
}

func (id MessageID) String() string {
	return fmt.Sprintf("%s#%d", id.Peer.Short(), id.Sequence)
}

// RequestState is the delivery state of a Request.
type RequestState uint8

const (
	// StatePending means the message is still being sent or retried.
	StatePending RequestState = iota
	// StateCompleted means an acknowledgement arrived.
	StateCompleted
	// StateFailed means the retry budget ran out without an acknowledgement.
	StateFailed
)

func (s RequestState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Request is the handle for one call to Messenger.Send. The same pointer is
// passed to SendCompleted or SendFailed.
type Request struct {
	id      MessageID
	payload []byte
	wire    []byte

	mu       sync.Mutex
	state    RequestState
	attempts int

	// Owned by the messenger's schedule, guarded by the messenger mutex.
	due       int64
	heapIndex int
}

func newRequest(seq uint32, receiver address.Address, payload []byte) *Request {
	p := make([]byte, len(payload))
	copy(p, payload)
	return &Request{
		id:        MessageID{Sequence: seq, Peer: receiver},
		payload:   p,
		wire:      encodePacket(PacketSend, seq, p),
		heapIndex: -1,
	}
}

// ID returns the message's (sequence, receiver) identifier.
func (r *Request) ID() MessageID { return r.id }

// Sequence returns the sequence number assigned to the message.
func (r *Request) Sequence() uint32 { return r.id.Sequence }

// Receiver returns the destination address.
func (r *Request) Receiver() address.Address { return r.id.Peer }

// Payload returns the message payload. Callers must not modify it.
func (r *Request) Payload() []byte { return r.payload }

// State returns the current delivery state.
func (r *Request) State() RequestState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// IsCompleted reports whether the message was acknowledged.
func (r *Request) IsCompleted() bool { return r.State() == StateCompleted }

// IsFailed reports whether the messenger gave up on the message.
func (r *Request) IsFailed() bool { return r.State() == StateFailed }

// Attempts returns how many times the message has been transmitted.
func (r *Request) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

func (r *Request) incrementAttempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts++
	return r.attempts
}

func (r *Request) setState(s RequestState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}
