package device

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/rendezvous/address"
	"github.com/opd-ai/rendezvous/router"
	"github.com/opd-ai/rendezvous/transport"
)

const (
	testWait = 2 * time.Second
	testTick = 10 * time.Millisecond
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PollInterval = 20 * time.Millisecond
	return cfg
}

func startRouter(t *testing.T) string {
	t.Helper()
	cfg := router.DefaultConfig()
	cfg.PollInterval = 20 * time.Millisecond
	r, err := router.Listen("127.0.0.1:0", cfg)
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
	return r.Addr().String()
}

// fakeRouter is a bare UDP socket standing in for a router under test control.
type fakeRouter struct {
	conn net.PacketConn

	mu    sync.Mutex
	pings []time.Time
	peer  net.Addr
}

func newFakeRouter(t *testing.T) *fakeRouter {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	f := &fakeRouter{conn: conn}
	go f.read()
	t.Cleanup(func() { conn.Close() })
	return f
}

func (f *fakeRouter) addr() string { return f.conn.LocalAddr().String() }

func (f *fakeRouter) read() {
	buf := make([]byte, transport.MaxDatagramSize)
	for {
		n, from, err := f.conn.ReadFrom(buf)
		if err != nil {
			return
		}
		e, err := transport.ParseEnvelope(buf[:n])
		if err != nil {
			continue
		}
		f.mu.Lock()
		f.peer = from
		if e.IsPing() {
			f.pings = append(f.pings, time.Now())
		}
		f.mu.Unlock()
	}
}

func (f *fakeRouter) pingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pings)
}

func (f *fakeRouter) sendRaw(t *testing.T, data []byte) {
	t.Helper()
	f.mu.Lock()
	peer := f.peer
	f.mu.Unlock()
	require.NotNil(t, peer, "device has not contacted the fake router yet")
	_, err := f.conn.WriteTo(data, peer)
	require.NoError(t, err)
}

type recorder struct {
	mu       sync.Mutex
	received []received
	killed   atomic.Int32
}

type received struct {
	sender address.Address
	data   []byte
}

func (r *recorder) Receive(sender address.Address, data []byte) {
	r.mu.Lock()
	r.received = append(r.received, received{sender, append([]byte(nil), data...)})
	r.mu.Unlock()
}

func (r *recorder) Killed() { r.killed.Add(1) }

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.received)
}

func (r *recorder) last() received {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.received[len(r.received)-1]
}

func TestDeviceBecomesLive(t *testing.T) {
	routerAddr := startRouter(t)

	n := NewNetworker(address.MustRandom(), testConfig())
	defer n.Kill()
	require.False(t, n.IsLive())

	require.NoError(t, n.Bind(routerAddr))
	assert.Eventually(t, n.IsLive, testWait, testTick, "pong should make the device live")
	assert.Equal(t, StateLive, n.Device().State())
	assert.True(t, n.Device().IsActive())
	assert.Equal(t, routerAddr, n.Device().RouterAddr())
}

func TestNetworkersExchangeDatagrams(t *testing.T) {
	routerAddr := startRouter(t)

	a := NewNetworker(address.MustRandom(), testConfig())
	b := NewNetworker(address.MustRandom(), testConfig())
	defer a.Kill()
	defer b.Kill()

	ra, rb := &recorder{}, &recorder{}
	a.SetListener(ra)
	b.SetListener(rb)
	require.NoError(t, a.Bind(routerAddr))
	require.NoError(t, b.Bind(routerAddr))
	require.Eventually(t, func() bool { return a.IsLive() && b.IsLive() }, testWait, testTick)

	a.Send(b.ID(), []byte("ping from a"))
	require.Eventually(t, func() bool { return rb.count() == 1 }, testWait, testTick)
	got := rb.last()
	assert.Equal(t, a.ID(), got.sender)
	assert.Equal(t, []byte("ping from a"), got.data)

	b.Send(a.ID(), []byte("reply"))
	require.Eventually(t, func() bool { return ra.count() == 1 }, testWait, testTick)
	assert.Equal(t, []byte("reply"), ra.last().data)

	// Pongs are never handed to the listener.
	assert.Equal(t, 1, ra.count())
}

func TestDeviceDiscardsForeignAndMalformedDatagrams(t *testing.T) {
	fake := newFakeRouter(t)
	self := address.MustRandom()
	other := address.MustRandom()

	rec := &recorder{}
	n := NewNetworker(self, testConfig())
	n.SetListener(rec)
	defer n.Kill()
	require.NoError(t, n.Bind(fake.addr()))
	require.Eventually(t, func() bool { return fake.pingCount() >= 1 }, testWait, testTick)

	fake.sendRaw(t, []byte("too short"))
	fake.sendRaw(t, (&transport.Envelope{Sender: other, Receiver: address.MustRandom(), Body: []byte("not mine")}).Serialize())
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 0, rec.count())
	assert.False(t, n.IsLive(), "foreign datagrams must not count as router contact")

	fake.sendRaw(t, (&transport.Envelope{Sender: other, Receiver: self, Body: []byte("mine")}).Serialize())
	require.Eventually(t, func() bool { return rec.count() == 1 }, testWait, testTick)
	assert.Equal(t, []byte("mine"), rec.last().data)
	assert.True(t, n.IsLive(), "forwarded traffic proves the route like a pong")
}

func TestDeviceBacksOffAgainstSilentRouter(t *testing.T) {
	fake := newFakeRouter(t)
	self := address.MustRandom()

	cfg := testConfig()
	cfg.PollInterval = 5 * time.Millisecond
	cfg.Keepalive = KeepaliveConfig{
		InitialBackoff:      40 * time.Millisecond,
		MaxBackoff:          time.Second,
		RefreshInterval:     time.Minute,
		UnresponsiveBackoff: 640 * time.Millisecond,
	}

	n := NewNetworker(self, cfg)
	defer n.Kill()
	require.NoError(t, n.Bind(fake.addr()))

	// Pings at 0, 40, 120, 280 ms; the next one is not due until 600 ms.
	time.Sleep(450 * time.Millisecond)
	count := fake.pingCount()
	assert.GreaterOrEqual(t, count, 3)
	assert.LessOrEqual(t, count, 4)
	assert.False(t, n.IsLive())
	assert.Equal(t, StatePinging, n.Device().State())

	fake.sendRaw(t, transport.NewPong(self).Serialize())
	assert.Eventually(t, n.IsLive, testWait, testTick)
}

func TestNetworkerKill(t *testing.T) {
	routerAddr := startRouter(t)

	rec := &recorder{}
	n := NewNetworker(address.MustRandom(), testConfig())
	n.SetListener(rec)
	require.NoError(t, n.Bind(routerAddr))
	require.Eventually(t, n.IsLive, testWait, testTick)

	n.Kill()
	assert.True(t, n.IsDead())

	select {
	case <-n.Done():
	case <-time.After(testWait):
		t.Fatal("teardown did not complete")
	}
	assert.EqualValues(t, 1, rec.killed.Load())
	assert.False(t, n.Device().IsActive())
	assert.False(t, n.IsLive())

	n.Kill()
	n.Send(address.MustRandom(), []byte("ignored"))
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, rec.killed.Load(), "Killed fires at most once")
	assert.ErrorIs(t, n.Bind(routerAddr), transport.ErrClosed)
}

func TestNetworkerKillWithoutBind(t *testing.T) {
	rec := &recorder{}
	n := NewNetworker(address.MustRandom(), testConfig())
	n.SetListener(rec)

	n.Kill()
	select {
	case <-n.Done():
	case <-time.After(testWait):
		t.Fatal("teardown did not complete")
	}
	assert.EqualValues(t, 1, rec.killed.Load())
}

func TestDeviceRebind(t *testing.T) {
	first := newFakeRouter(t)
	second := newFakeRouter(t)

	n := NewNetworker(address.MustRandom(), testConfig())
	defer n.Kill()

	require.NoError(t, n.Bind(first.addr()))
	require.Eventually(t, func() bool { return first.pingCount() == 1 }, testWait, testTick)

	require.NoError(t, n.Bind(second.addr()))
	require.Eventually(t, func() bool { return second.pingCount() == 1 }, testWait, testTick)
	assert.Equal(t, second.addr(), n.Device().RouterAddr())
	assert.Equal(t, 1, first.pingCount(), "old binding must stop pinging")
}

func TestSendWhileUnboundIsDropped(t *testing.T) {
	d := New(address.MustRandom(), nil, testConfig())
	d.Send(address.MustRandom(), []byte("nowhere"))
	assert.False(t, d.IsActive())
	assert.Nil(t, d.LocalAddr())
	assert.Equal(t, StateIdle, d.State())
	<-d.Close()
}
