package messaging

import (
	"sync"
	"time"

	"github.com/opd-ai/rendezvous/address"
	"github.com/opd-ai/rendezvous/simnet"
)

// isKind matches datagrams carrying a messaging packet of type t.
func isKind(t PacketType) simnet.Filter {
	return func(r simnet.DeliveryRecord) bool {
		return len(r.Data) > 0 && PacketType(r.Data[0]) == t
	}
}

// countPackets returns how many packets of type t went from -> to.
func countPackets(n *simnet.Network, from, to address.Address, t PacketType) int {
	kind := isKind(t)
	return n.Count(func(r simnet.DeliveryRecord) bool {
		return r.From == from && r.To == to && kind(r)
	})
}

type delivery struct {
	from address.Address
	data []byte
}

// recordingListener captures messenger callbacks.
type recordingListener struct {
	mu        sync.Mutex
	completed []*Request
	failed    []*Request
	received  []delivery
}

func (l *recordingListener) SendCompleted(r *Request) {
	l.mu.Lock()
	l.completed = append(l.completed, r)
	l.mu.Unlock()
}

func (l *recordingListener) SendFailed(r *Request) {
	l.mu.Lock()
	l.failed = append(l.failed, r)
	l.mu.Unlock()
}

func (l *recordingListener) Receive(sender address.Address, payload []byte) {
	l.mu.Lock()
	l.received = append(l.received, delivery{from: sender, data: payload})
	l.mu.Unlock()
}

func (l *recordingListener) counts() (completed, failed, received int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.completed), len(l.failed), len(l.received)
}

// outcomes returns how many callbacks fired for r.
func (l *recordingListener) outcomes(r *Request) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.completed {
		if c == r {
			n++
		}
	}
	for _, f := range l.failed {
		if f == r {
			n++
		}
	}
	return n
}

// mockClock is a manually advanced transport.TimeProvider.
type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func newMockClock() *mockClock {
	return &mockClock{now: time.Unix(1700000000, 0)}
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
