package device

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rendezvous/address"
	"github.com/opd-ai/rendezvous/transport"
)

// Networker is a transport.Networker that routes over a single rendezvous
// router through one Device.
//
// Typical use is to create it, set a listener and then Bind it:
//
//	n := device.NewNetworker(id, device.DefaultConfig())
//	n.SetListener(listener)
//	if err := n.Bind("relay.example.org:65235"); err != nil {
//	    log.Fatal(err)
//	}
//	defer n.Kill()
type Networker struct {
	id     address.Address
	device *Device
	log    *logrus.Entry

	mu       sync.RWMutex
	listener transport.Listener
	dead     bool
	done     chan struct{}
}

var _ transport.Networker = (*Networker)(nil)

// NewNetworker creates an unbound Networker for id.
func NewNetworker(id address.Address, cfg Config) *Networker {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.WithField("package", "device")
	}
	n := &Networker{
		id:   id,
		log:  logger.WithField("address", id.Short()),
		done: make(chan struct{}),
	}
	n.device = New(id, n.receive, cfg)
	return n
}

// Bind connects the Networker to the router at routerAddr. Calling Bind
// again moves the Networker to a different router.
func (n *Networker) Bind(routerAddr string) error {
	if n.IsDead() {
		return transport.ErrClosed
	}
	return n.device.Connect(routerAddr)
}

// ID returns the local overlay address.
func (n *Networker) ID() address.Address {
	return n.id
}

// SetListener replaces the listener.
func (n *Networker) SetListener(l transport.Listener) {
	n.mu.Lock()
	n.listener = l
	n.mu.Unlock()
}

// Listener returns the current listener.
func (n *Networker) Listener() transport.Listener {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.listener
}

// Send sends an unreliable datagram to receiver. It does nothing once the
// Networker is dead.
func (n *Networker) Send(receiver address.Address, data []byte) {
	if n.IsDead() {
		return
	}
	n.device.Send(receiver, data)
}

// Kill tears the Networker down. The dead flag is set before anything
// else, and the listener's Killed notification fires once the device loop
// has stopped, so a loop polling IsDead can be joined from Killed.
func (n *Networker) Kill() {
	n.mu.Lock()
	if n.dead {
		n.mu.Unlock()
		return
	}
	n.dead = true
	listener := n.listener
	n.mu.Unlock()

	stopped := n.device.Close()
	n.log.WithField("function", "Kill").Info("Networker killed")

	go func() {
		<-stopped
		if listener != nil {
			listener.Killed()
		}
		close(n.done)
	}()
}

// IsDead reports whether Kill has been called.
func (n *Networker) IsDead() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.dead
}

// Done returns a channel closed after teardown has completed and the
// listener has been notified.
func (n *Networker) Done() <-chan struct{} {
	return n.done
}

// IsLive reports whether the router is believed to route to us.
func (n *Networker) IsLive() bool {
	return !n.IsDead() && n.device.IsLive()
}

// Device returns the underlying device.
func (n *Networker) Device() *Device {
	return n.device
}

// receive is the device handler.
func (n *Networker) receive(sender address.Address, data []byte) {
	n.mu.RLock()
	dead := n.dead
	listener := n.listener
	n.mu.RUnlock()

	if dead || listener == nil {
		return
	}
	listener.Receive(sender, data)
}
