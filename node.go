package rendezvous

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rendezvous/address"
	"github.com/opd-ai/rendezvous/crypto"
	"github.com/opd-ai/rendezvous/device"
	"github.com/opd-ai/rendezvous/limits"
	"github.com/opd-ai/rendezvous/messaging"
	"github.com/opd-ai/rendezvous/secure"
	"github.com/opd-ai/rendezvous/transport"
)

// Options contains configuration for creating a Node.
type Options struct {
	// Identity is the node's key pair. A fresh one is generated when nil.
	Identity *crypto.KeyPair

	// Encrypt seals every datagram body for its receiver.
	Encrypt bool

	Device    device.Config
	Messenger messaging.Config
}

// NewOptions returns the reference settings with encryption off.
func NewOptions() *Options {
	return &Options{
		Device:    device.DefaultConfig(),
		Messenger: messaging.DefaultConfig(),
	}
}

// MessageCallback is called once per distinct message received.
type MessageCallback func(sender address.Address, payload []byte)

// RequestCallback is called with the handle returned by Send.
type RequestCallback func(r *messaging.Request)

// Node is a peer on the rendezvous overlay.
type Node struct {
	keys      *crypto.KeyPair
	device    *device.Networker
	transport transport.Networker
	messenger *messaging.Messenger
	log       *logrus.Entry

	mu                sync.RWMutex
	messageCallback   MessageCallback
	completedCallback RequestCallback
	failedCallback    RequestCallback
}

// New creates an unbound Node.
func New(options *Options) (*Node, error) {
	if options == nil {
		options = NewOptions()
	}

	keys := options.Identity
	if keys == nil {
		var err error
		keys, err = crypto.GenerateKeyPair()
		if err != nil {
			return nil, err
		}
	}

	n := &Node{
		keys: keys,
		log: logrus.WithFields(logrus.Fields{
			"package": "rendezvous",
			"address": keys.Address().Short(),
		}),
	}

	n.device = device.NewNetworker(keys.Address(), options.Device)
	n.transport = n.device
	mc := options.Messenger
	if options.Encrypt {
		if mc.MaxPayload > limits.MaxSealedMessagePayload {
			mc.MaxPayload = limits.MaxSealedMessagePayload
		}
		s, err := secure.Wrap(n.device, keys)
		if err != nil {
			n.device.Kill()
			return nil, err
		}
		n.transport = s
	}

	m, err := messaging.New(n.transport, n, mc)
	if err != nil {
		n.device.Kill()
		return nil, fmt.Errorf("create messenger: %w", err)
	}
	n.messenger = m

	n.log.WithFields(logrus.Fields{
		"function": "New",
		"encrypt":  options.Encrypt,
	}).Info("Node created")
	return n, nil
}

// Bind connects the node to a router (host:port). Binding again moves the
// node to another router.
func (n *Node) Bind(routerAddr string) error {
	return n.device.Bind(routerAddr)
}

// Send queues payload for reliable delivery to receiver.
func (n *Node) Send(receiver address.Address, payload []byte) (*messaging.Request, error) {
	return n.messenger.Send(receiver, payload)
}

// OnMessage sets the callback for received messages.
func (n *Node) OnMessage(callback MessageCallback) {
	n.mu.Lock()
	n.messageCallback = callback
	n.mu.Unlock()
}

// OnSendCompleted sets the callback for acknowledged messages.
func (n *Node) OnSendCompleted(callback RequestCallback) {
	n.mu.Lock()
	n.completedCallback = callback
	n.mu.Unlock()
}

// OnSendFailed sets the callback for messages that ran out of attempts.
func (n *Node) OnSendFailed(callback RequestCallback) {
	n.mu.Lock()
	n.failedCallback = callback
	n.mu.Unlock()
}

// OnTeardown sets a callback that runs once after the node has stopped.
func (n *Node) OnTeardown(callback func()) {
	n.messenger.OnTeardown(callback)
}

// Kill shuts the node down. It is safe to call more than once.
func (n *Node) Kill() {
	n.messenger.Kill()
}

// Done returns a channel closed once the node has fully stopped.
func (n *Node) Done() <-chan struct{} {
	return n.messenger.Done()
}

// IsDead reports whether Kill has been called.
func (n *Node) IsDead() bool {
	return n.transport.IsDead()
}

// IsLive reports whether the router is believed to route to this node.
func (n *Node) IsLive() bool {
	return n.device.IsLive()
}

// ID returns the node's overlay address.
func (n *Node) ID() address.Address {
	return n.keys.Address()
}

// Keys returns the node's key pair.
func (n *Node) Keys() *crypto.KeyPair {
	return n.keys
}

// Pending returns the number of unacknowledged messages.
func (n *Node) Pending() int {
	return n.messenger.Pending()
}

// Capabilities reports what the node's transport stack can do.
func (n *Node) Capabilities() transport.CapabilitySet {
	return transport.CapabilitiesOf(n.transport)
}

// Messenger returns the node's messenger.
func (n *Node) Messenger() *messaging.Messenger {
	return n.messenger
}

// Networker returns the node's device networker.
func (n *Node) Networker() *device.Networker {
	return n.device
}

// SendCompleted implements messaging.Listener.
func (n *Node) SendCompleted(r *messaging.Request) {
	n.mu.RLock()
	cb := n.completedCallback
	n.mu.RUnlock()
	if cb != nil {
		cb(r)
	}
}

// SendFailed implements messaging.Listener.
func (n *Node) SendFailed(r *messaging.Request) {
	n.mu.RLock()
	cb := n.failedCallback
	n.mu.RUnlock()
	if cb != nil {
		cb(r)
	}
}

// Receive implements messaging.Listener.
func (n *Node) Receive(sender address.Address, payload []byte) {
	n.mu.RLock()
	cb := n.messageCallback
	n.mu.RUnlock()
	if cb != nil {
		cb(sender, payload)
	}
}
