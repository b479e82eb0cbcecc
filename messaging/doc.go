// Package messaging implements reliable messaging on top of an unreliable
// transport.Networker.
//
// # Overview
//
// A [Messenger] gives each outgoing message a sequence number, transmits it
// immediately, retransmits it every retry interval until an acknowledgement
// matching its [MessageID] arrives, and gives up after a bounded number of
// attempts. Exactly one of [Listener.SendCompleted] or [Listener.SendFailed]
// fires for every [Request]. A failure only means the messenger stopped
// waiting for proof: the payload may still have reached the peer.
//
// On the receiving side every SEND packet is acknowledged, including
// duplicates, because acknowledgements can be lost too. Application
// delivery is suppressed for a (sender, sequence) pair already seen within
// the two-generation duplicate window.
//
// There is no ordering between distinct messages, no flow control and no
// fragmentation.
//
// # Wire format
//
// Each datagram body starts with a five byte header:
//
//	type (1 byte: 0=SEND, 1=ACK) || sequence (4 bytes, big endian) || payload
//
// Unknown types and short bodies are discarded.
//
// # Concurrency
//
// Send may be called from any goroutine. One background goroutine per
// Messenger owns retransmission and duplicate-window rotation; it blocks on
// a timer set to the next retry deadline and is woken early by Send. The
// retry schedule and the acknowledgement index are updated together under
// one mutex, so an acknowledgement never observes one without the other.
//
// Example:
//
//	m, err := messaging.New(networker, listener, messaging.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	req, err := m.Send(peer, []byte("hi"))
package messaging
