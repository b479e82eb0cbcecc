// Package secure wraps a transport.Networker so that every datagram body is
// sealed with crypto_box for its receiver.
//
// Addresses must be Curve25519 public keys: the local address is the
// public half of the wrapper's key pair and every receiver address is used
// as the receiver's public key. Inbound datagrams that fail to open are
// dropped, so the layer above sees the same unreliable contract as before.
package secure

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rendezvous/address"
	"github.com/opd-ai/rendezvous/crypto"
	"github.com/opd-ai/rendezvous/telemetry"
	"github.com/opd-ai/rendezvous/transport"
)

// ErrAddressMismatch indicates the inner networker's address is not the
// key pair's public key.
var ErrAddressMismatch = errors.New("networker address does not match key pair")

// Networker seals outbound bodies and opens inbound ones.
type Networker struct {
	inner transport.Networker
	keys  *crypto.KeyPair
	log   *logrus.Entry

	mu       sync.RWMutex
	listener transport.Listener
}

var (
	_ transport.Networker    = (*Networker)(nil)
	_ transport.Listener     = (*Networker)(nil)
	_ transport.Capabilities = (*Networker)(nil)
)

// Wrap layers encryption over inner and installs itself as inner's
// listener.
func Wrap(inner transport.Networker, keys *crypto.KeyPair) (*Networker, error) {
	if inner.ID() != keys.Address() {
		return nil, ErrAddressMismatch
	}
	n := &Networker{
		inner: inner,
		keys:  keys,
		log: logrus.WithFields(logrus.Fields{
			"package": "secure",
			"address": inner.ID().Short(),
		}),
	}
	inner.SetListener(n)
	return n, nil
}

// Send seals data for receiver and hands it to the inner networker.
func (n *Networker) Send(receiver address.Address, data []byte) {
	sealed, err := crypto.Seal(data, receiver, &n.keys.Private)
	if err != nil {
		telemetry.SecureDrops.WithLabelValues("outbound").Inc()
		n.log.WithFields(logrus.Fields{
			"function": "Send",
			"error":    err.Error(),
		}).Warn("Failed to seal datagram")
		return
	}
	n.inner.Send(receiver, sealed)
}

// Receive implements transport.Listener for the inner networker.
func (n *Networker) Receive(sender address.Address, data []byte) {
	plain, err := crypto.Open(data, sender, &n.keys.Private)
	if err != nil {
		telemetry.SecureDrops.WithLabelValues("inbound").Inc()
		n.log.WithFields(logrus.Fields{
			"function": "Receive",
			"sender":   sender.Short(),
			"error":    err.Error(),
		}).Debug("Dropping datagram that failed to open")
		return
	}
	if l := n.Listener(); l != nil {
		l.Receive(sender, plain)
	}
}

// Killed implements transport.Listener for the inner networker.
func (n *Networker) Killed() {
	if l := n.Listener(); l != nil {
		l.Killed()
	}
}

// ID returns the local address, the public key.
func (n *Networker) ID() address.Address { return n.inner.ID() }

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

// Kill kills the inner networker.
func (n *Networker) Kill() { n.inner.Kill() }

// IsDead reports whether the inner networker is dead.
func (n *Networker) IsDead() bool { return n.inner.IsDead() }

// CanSign reports false: datagrams are authenticated by the box, not signed.
func (n *Networker) CanSign() bool { return false }

// CanEncrypt reports true.
func (n *Networker) CanEncrypt() bool { return true }

// CanCheckSignatures reports false.
func (n *Networker) CanCheckSignatures() bool { return false }

// CanDecrypt reports true.
func (n *Networker) CanDecrypt() bool { return true }
