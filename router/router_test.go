package router

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/rendezvous/address"
	"github.com/opd-ai/rendezvous/transport"
)

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type written struct {
	data []byte
	to   net.Addr
}

// recordingConn is a net.PacketConn that records writes and never reads.
type recordingConn struct {
	mu     sync.Mutex
	writes []written
}

func (c *recordingConn) ReadFrom([]byte) (int, net.Addr, error) { return 0, nil, net.ErrClosed }
func (c *recordingConn) Close() error                           { return nil }
func (c *recordingConn) LocalAddr() net.Addr                    { return fakeAddr("router") }
func (c *recordingConn) SetDeadline(time.Time) error            { return nil }
func (c *recordingConn) SetReadDeadline(time.Time) error        { return nil }
func (c *recordingConn) SetWriteDeadline(time.Time) error       { return nil }

func (c *recordingConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, written{data: append([]byte(nil), b...), to: addr})
	return len(b), nil
}

func (c *recordingConn) take() []written {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := c.writes
	c.writes = nil
	return w
}

type fakeAddr string

func (a fakeAddr) Network() string { return "fake" }
func (a fakeAddr) String() string  { return string(a) }

func newTestRouter(t *testing.T, interval time.Duration) (*Router, *recordingConn, *mockClock) {
	t.Helper()
	conn := &recordingConn{}
	clock := &mockClock{now: time.Unix(1_700_000_000, 0)}
	cfg := DefaultConfig()
	cfg.RotationInterval = interval
	cfg.TimeProvider = clock
	r, err := New(conn, cfg)
	require.NoError(t, err)
	return r, conn, clock
}

func envelope(from, to address.Address, body string) []byte {
	return (&transport.Envelope{Sender: from, Receiver: to, Body: []byte(body)}).Serialize()
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(nil, DefaultConfig())
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.RotationInterval = 0
	_, err = New(&recordingConn{}, cfg)
	assert.Error(t, err)
}

func TestPingIsAnsweredWithPong(t *testing.T) {
	r, conn, _ := newTestRouter(t, time.Minute)
	pinger := address.MustRandom()

	r.handlePacket(transport.NewPing(pinger).Serialize(), fakeAddr("pinger"))

	writes := conn.take()
	require.Len(t, writes, 1)
	assert.Equal(t, fakeAddr("pinger"), writes[0].to)

	pong, err := transport.ParseEnvelope(writes[0].data)
	require.NoError(t, err)
	assert.True(t, pong.Sender.IsSentinel())
	assert.Equal(t, pinger, pong.Receiver)
	assert.Empty(t, pong.Body)

	loc, ok := r.Lookup(pinger)
	require.True(t, ok, "pinger must be registered")
	assert.Equal(t, fakeAddr("pinger"), loc)
}

func TestForwardsUnmodifiedDatagram(t *testing.T) {
	r, conn, _ := newTestRouter(t, time.Minute)
	a, b := address.MustRandom(), address.MustRandom()

	r.handlePacket(transport.NewPing(a).Serialize(), fakeAddr("a"))
	conn.take()

	data := envelope(b, a, "payload")
	r.handlePacket(data, fakeAddr("b"))

	writes := conn.take()
	require.Len(t, writes, 1)
	assert.Equal(t, fakeAddr("a"), writes[0].to)
	assert.Equal(t, data, writes[0].data)

	_, ok := r.Lookup(b)
	assert.True(t, ok, "sender refreshed after forwarding")

	stats := r.Stats()
	assert.EqualValues(t, 2, stats.Packets)
	assert.EqualValues(t, 1, stats.Routed)
}

func TestUnroutableIsDroppedButSenderRegistered(t *testing.T) {
	r, conn, _ := newTestRouter(t, time.Minute)
	a, unknown := address.MustRandom(), address.MustRandom()

	r.handlePacket(envelope(a, unknown, "hello?"), fakeAddr("a"))

	assert.Empty(t, conn.take(), "nothing is sent back for an unroutable datagram")
	_, ok := r.Lookup(a)
	assert.True(t, ok)
}

func TestShortDatagramIsIgnored(t *testing.T) {
	r, conn, _ := newTestRouter(t, time.Minute)
	a := address.MustRandom()

	short := transport.NewPing(a).Serialize()[:transport.HeaderSize-1]
	r.handlePacket(short, fakeAddr("a"))

	assert.Empty(t, conn.take())
	_, ok := r.Lookup(a)
	assert.False(t, ok)
	assert.EqualValues(t, 0, r.Stats().Packets)
}

func TestLatestLocationWins(t *testing.T) {
	r, conn, clock := newTestRouter(t, time.Minute)
	a, b := address.MustRandom(), address.MustRandom()

	r.handlePacket(transport.NewPing(a).Serialize(), fakeAddr("a-old"))
	clock.Advance(time.Minute)
	r.rotate(clock.Now())
	r.handlePacket(transport.NewPing(a).Serialize(), fakeAddr("a-new"))
	conn.take()

	r.handlePacket(envelope(b, a, "x"), fakeAddr("b"))
	writes := conn.take()
	require.Len(t, writes, 1)
	assert.Equal(t, fakeAddr("a-new"), writes[0].to)
}

func TestEvictionBound(t *testing.T) {
	interval := 200 * time.Millisecond

	for _, offset := range []time.Duration{0, 50 * time.Millisecond, 199 * time.Millisecond} {
		r, _, clock := newTestRouter(t, interval)
		a := address.MustRandom()

		clock.Advance(offset)
		r.rotate(clock.Now())
		r.handlePacket(transport.NewPing(a).Serialize(), fakeAddr("a"))

		clock.Advance(interval)
		r.rotate(clock.Now())
		_, ok := r.Lookup(a)
		assert.True(t, ok, "offset %v: routable at T+interval", offset)

		clock.Advance(interval)
		r.rotate(clock.Now())
		_, ok = r.Lookup(a)
		assert.False(t, ok, "offset %v: unroutable by T+2*interval", offset)
	}
}

// startUDPRouter runs a real router on the loopback interface.
func startUDPRouter(t *testing.T, interval time.Duration) *Router {
	t.Helper()
	cfg := DefaultConfig()
	cfg.RotationInterval = interval
	cfg.PollInterval = 20 * time.Millisecond

	r, err := Listen("127.0.0.1:0", cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		r.Close()
	})
	return r
}

type peer struct {
	id   address.Address
	conn net.PacketConn
}

func newPeer(t *testing.T) *peer {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &peer{id: address.MustRandom(), conn: conn}
}

func (p *peer) send(t *testing.T, r *Router, e *transport.Envelope) {
	t.Helper()
	_, err := p.conn.WriteTo(e.Serialize(), r.Addr())
	require.NoError(t, err)
}

func (p *peer) recv(wait time.Duration) (*transport.Envelope, bool) {
	buf := make([]byte, transport.MaxDatagramSize)
	n, _, err := transport.ReadFrom(p.conn, buf, time.Now().Add(wait))
	if err != nil {
		return nil, false
	}
	e, err := transport.ParseEnvelope(buf[:n])
	return e, err == nil
}

func TestUDPRelay(t *testing.T) {
	r := startUDPRouter(t, time.Minute)
	a, b := newPeer(t), newPeer(t)

	a.send(t, r, transport.NewPing(a.id))
	pong, ok := a.recv(time.Second)
	require.True(t, ok, "expected pong")
	assert.True(t, pong.IsPong())
	assert.Equal(t, a.id, pong.Receiver)

	b.send(t, r, &transport.Envelope{Sender: b.id, Receiver: a.id, Body: []byte("hi")})
	got, ok := a.recv(time.Second)
	require.True(t, ok, "expected forwarded datagram")
	assert.Equal(t, b.id, got.Sender)
	assert.Equal(t, []byte("hi"), got.Body)

	a.send(t, r, &transport.Envelope{Sender: a.id, Receiver: b.id, Body: []byte("back")})
	got, ok = b.recv(time.Second)
	require.True(t, ok, "sender must be routable after sending")
	assert.Equal(t, []byte("back"), got.Body)
}

func TestUDPRelayForgetsSilentPeers(t *testing.T) {
	interval := 200 * time.Millisecond
	r := startUDPRouter(t, interval)
	a, b := newPeer(t), newPeer(t)

	a.send(t, r, transport.NewPing(a.id))
	_, ok := a.recv(time.Second)
	require.True(t, ok)

	time.Sleep(2*interval + 100*time.Millisecond)

	b.send(t, r, &transport.Envelope{Sender: b.id, Receiver: a.id, Body: []byte("late")})
	_, ok = a.recv(150 * time.Millisecond)
	assert.False(t, ok, "a silent peer must be evicted after two rotations")
}

func TestServeStopsOnClose(t *testing.T) {
	r, err := Listen("127.0.0.1:0", DefaultConfig())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- r.Serve(context.Background()) }()

	require.NoError(t, r.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
}
