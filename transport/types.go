package transport

import "github.com/opd-ai/rendezvous/address"

// Sender sends unreliable, unordered, duplicate-prone datagrams.
// Send is best effort and reports nothing back to the caller.
type Sender interface {
	Send(receiver address.Address, data []byte)
}

// Listener receives datagrams and the teardown notification from a
// Networker.
type Listener interface {
	// Receive is called for every datagram delivered to the local address.
	Receive(sender address.Address, data []byte)

	// Killed is called at most once, after the Networker is dead and its
	// I/O loop has stopped.
	Killed()
}

// Networker is the minimal datagram contract the messaging layer is written
// against. Implementations must be safe for concurrent use.
type Networker interface {
	Sender

	// ID returns the local overlay address. It never changes.
	ID() address.Address

	// SetListener replaces the listener. A nil listener drops inbound data.
	SetListener(l Listener)

	// Listener returns the current listener, possibly nil.
	Listener() Listener

	// Kill tears the Networker down. Only the first call has an effect.
	Kill()

	// IsDead reports whether Kill has been called.
	IsDead() bool
}

// Capabilities is implemented by transports that can sign, verify, encrypt
// or decrypt datagrams. None of it is required by the core.
type Capabilities interface {
	CanSign() bool
	CanEncrypt() bool
	CanCheckSignatures() bool
	CanDecrypt() bool
}

// CapabilitySet is a plain-value Capabilities.
type CapabilitySet struct {
	Sign            bool
	Encrypt         bool
	CheckSignatures bool
	Decrypt         bool
}

// CanSign implements Capabilities.
func (c CapabilitySet) CanSign() bool { return c.Sign }

// CanEncrypt implements Capabilities.
func (c CapabilitySet) CanEncrypt() bool { return c.Encrypt }

// CanCheckSignatures implements Capabilities.
func (c CapabilitySet) CanCheckSignatures() bool { return c.CheckSignatures }

// CanDecrypt implements Capabilities.
func (c CapabilitySet) CanDecrypt() bool { return c.Decrypt }

// CapabilitiesOf returns the capabilities advertised by v, or an all-false
// set when v does not implement Capabilities.
func CapabilitiesOf(v any) CapabilitySet {
	c, ok := v.(Capabilities)
	if !ok {
		return CapabilitySet{}
	}
	return CapabilitySet{
		Sign:            c.CanSign(),
		Encrypt:         c.CanEncrypt(),
		CheckSignatures: c.CanCheckSignatures(),
		Decrypt:         c.CanDecrypt(),
	}
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are no-ops.
type ListenerFuncs struct {
	OnReceive func(sender address.Address, data []byte)
	OnKilled  func()
}

// Receive implements Listener.
func (f ListenerFuncs) Receive(sender address.Address, data []byte) {
	if f.OnReceive != nil {
		f.OnReceive(sender, data)
	}
}

// Killed implements Listener.
func (f ListenerFuncs) Killed() {
	if f.OnKilled != nil {
		f.OnKilled()
	}
}
