// Package transport defines the overlay wire envelope and the minimal
// datagram contract shared by the rendezvous device, the router and the
// reliable messenger.
//
// # Envelope
//
// Every physical packet carries one envelope:
//
//	sender_address (32 bytes) || receiver_address (32 bytes) || body
//
// Packets shorter than HeaderSize are discarded by every receiver. A
// receiver address equal to address.Sentinel is a keepalive ping addressed
// to the router itself; the router answers with a pong whose sender is the
// sentinel and whose receiver is the pinger.
//
// # Collaborator contract
//
// Higher layers are written against Networker: best-effort Send, a Listener
// receiving (sender, bytes) callbacks, IsDead polling and an at-most-once
// Killed notification. Richer transports may also implement Capabilities;
// CapabilitiesOf reports every capability as unsupported for those that
// don't.
package transport
