package simnet

import (
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rendezvous/address"
	"github.com/opd-ai/rendezvous/transport"
)

// DeliveryRecord is one datagram seen by the network.
type DeliveryRecord struct {
	From, To  address.Address
	Data      []byte
	Delivered bool

	// At is the network clock reading when the datagram was sent.
	At time.Time
}

// Filter decides whether a datagram is dropped.
type Filter func(r DeliveryRecord) bool

// DropRandom drops each datagram with probability p. rng is only used
// under the network lock.
func DropRandom(rng *rand.Rand, p float64) Filter {
	return func(DeliveryRecord) bool { return rng.Float64() < p }
}

// DropFirst drops the first n datagrams matching match.
func DropFirst(n int, match Filter) Filter {
	return func(r DeliveryRecord) bool {
		if n > 0 && match(r) {
			n--
			return true
		}
		return false
	}
}

// Network is an in-memory overlay.
type Network struct {
	mu        sync.Mutex
	peers     map[address.Address]*Networker
	log       []DeliveryRecord
	drop      Filter
	duplicate Filter
	clock     transport.TimeProvider
}

// New creates an empty network.
func New() *Network {
	return &Network{
		peers: make(map[address.Address]*Networker),
		clock: transport.ClockOrDefault(nil),
	}
}

// SetClock replaces the clock used to stamp delivery records.
func (n *Network) SetClock(c transport.TimeProvider) {
	n.mu.Lock()
	n.clock = transport.ClockOrDefault(c)
	n.mu.Unlock()
}

// Join attaches a Networker with a fresh random address.
func (n *Network) Join() *Networker {
	return n.JoinAs(address.MustRandom())
}

// JoinAs attaches a Networker with the given address, replacing any
// previous member with that address.
func (n *Network) JoinAs(id address.Address) *Networker {
	p := &Networker{network: n, id: id}
	n.mu.Lock()
	n.peers[id] = p
	n.mu.Unlock()
	return p
}

// Remove detaches the member with address id.
func (n *Network) Remove(id address.Address) {
	n.mu.Lock()
	delete(n.peers, id)
	n.mu.Unlock()
}

// SetDropFilter installs f; nil delivers everything.
func (n *Network) SetDropFilter(f Filter) {
	n.mu.Lock()
	n.drop = f
	n.mu.Unlock()
}

// SetDuplicateFilter installs f; matching datagrams are delivered twice.
func (n *Network) SetDuplicateFilter(f Filter) {
	n.mu.Lock()
	n.duplicate = f
	n.mu.Unlock()
}

// DeliveryLog returns a copy of every datagram sent so far.
func (n *Network) DeliveryLog() []DeliveryRecord {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]DeliveryRecord(nil), n.log...)
}

// Count returns how many logged datagrams match f.
func (n *Network) Count(f Filter) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, r := range n.log {
		if f(r) {
			c++
		}
	}
	return c
}

func (n *Network) send(from, to address.Address, data []byte) {
	r := DeliveryRecord{From: from, To: to, Data: append([]byte(nil), data...)}

	n.mu.Lock()
	r.At = n.clock.Now()
	dst := n.peers[to]
	dropped := n.drop != nil && n.drop(r)
	copies := 1
	if n.duplicate != nil && n.duplicate(r) {
		copies = 2
	}
	r.Delivered = dst != nil && !dropped
	n.log = append(n.log, r)
	n.mu.Unlock()

	if !r.Delivered {
		logrus.WithFields(logrus.Fields{
			"function": "send",
			"package":  "simnet",
			"from":     from.Short(),
			"to":       to.Short(),
			"dropped":  dropped,
		}).Debug("Simulated datagram not delivered")
		return
	}
	for i := 0; i < copies; i++ {
		dst.deliver(from, r.Data)
	}
}

// Networker is a transport.Networker attached to a Network.
type Networker struct {
	network *Network
	id      address.Address

	mu       sync.Mutex
	listener transport.Listener
	dead     bool
}

var _ transport.Networker = (*Networker)(nil)

// Send delivers data to receiver if it is on the network.
func (p *Networker) Send(receiver address.Address, data []byte) {
	if p.IsDead() {
		return
	}
	p.network.send(p.id, receiver, data)
}

func (p *Networker) deliver(sender address.Address, data []byte) {
	p.mu.Lock()
	l, dead := p.listener, p.dead
	p.mu.Unlock()
	if dead || l == nil {
		return
	}
	l.Receive(sender, append([]byte(nil), data...))
}

// ID returns the member's address.
func (p *Networker) ID() address.Address { return p.id }

// SetListener replaces the listener.
func (p *Networker) SetListener(l transport.Listener) {
	p.mu.Lock()
	p.listener = l
	p.mu.Unlock()
}

// Listener returns the current listener.
func (p *Networker) Listener() transport.Listener {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listener
}

// Kill marks the member dead and notifies the listener once, on a new
// goroutine.
func (p *Networker) Kill() {
	p.mu.Lock()
	if p.dead {
		p.mu.Unlock()
		return
	}
	p.dead = true
	l := p.listener
	p.mu.Unlock()
	if l != nil {
		go l.Killed()
	}
}

// IsDead reports whether Kill has been called.
func (p *Networker) IsDead() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dead
}
