package messaging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/rendezvous/address"
)

func TestEncodePacketLayout(t *testing.T) {
	data := encodePacket(PacketSend, 0x01020304, []byte("abc"))
	assert.Equal(t, []byte{0, 1, 2, 3, 4, 'a', 'b', 'c'}, data)

	ack := encodePacket(PacketAck, 7, nil)
	assert.Equal(t, []byte{1, 0, 0, 0, 7}, ack)
}

func TestDecodePacket(t *testing.T) {
	typ, seq, payload, err := decodePacket([]byte{1, 0xff, 0, 0, 1})
	require.NoError(t, err)
	assert.Equal(t, PacketAck, typ)
	assert.Equal(t, uint32(0xff000001), seq)
	assert.Empty(t, payload)

	_, _, _, err = decodePacket([]byte{0, 0, 0})
	assert.ErrorIs(t, err, ErrShortHeader)

	_, _, _, err = decodePacket([]byte{7, 0, 0, 0, 0})
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestRequestAccessors(t *testing.T) {
	to := address.MustRandom()
	payload := []byte("data")
	r := newRequest(42, to, payload)
	payload[0] = 'X'

	assert.Equal(t, MessageID{Sequence: 42, Peer: to}, r.ID())
	assert.Equal(t, []byte("data"), r.Payload(), "payload is copied")
	assert.Equal(t, StatePending, r.State())
	assert.Zero(t, r.Attempts())
	assert.Equal(t, encodePacket(PacketSend, 42, []byte("data")), r.wire)

	r.incrementAttempts()
	r.setState(StateFailed)
	assert.Equal(t, 1, r.Attempts())
	assert.True(t, r.IsFailed())
	assert.False(t, r.IsCompleted())
}

func TestStringers(t *testing.T) {
	assert.Equal(t, "SEND", PacketSend.String())
	assert.Equal(t, "ACK", PacketAck.String())
	assert.Equal(t, "PacketType(9)", PacketType(9).String())
	assert.Equal(t, "completed", StateCompleted.String())

	id := MessageID{Sequence: 3, Peer: address.Sentinel}
	assert.Equal(t, "0000000000000000#3", id.String())
}
