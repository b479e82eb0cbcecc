// Package rendezvous connects peers behind NATs through a single relay
// router and gives them reliable, acknowledged messaging on top of it.
//
// # Getting Started
//
// Run a router somewhere reachable (see cmd/rendezvous-router), then create
// a Node on each peer:
//
//	options := rendezvous.NewOptions()
//	options.Encrypt = true
//
//	node, err := rendezvous.New(options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Kill()
//
//	node.OnMessage(func(sender address.Address, payload []byte) {
//	    fmt.Printf("%s: %s\n", sender.Short(), payload)
//	})
//	node.OnSendFailed(func(r *messaging.Request) {
//	    log.Printf("gave up on message %s", r.ID())
//	})
//
//	if err := node.Bind("relay.example.org:65235"); err != nil {
//	    log.Fatal(err)
//	}
//	req, err := node.Send(peer, []byte("hello"))
//
// # Layers
//
// A Node stacks, from the bottom:
//
//   - [device.Networker]: one UDP socket to the router, keepalive pings and
//     the at-most-once teardown notification
//   - [secure.Networker] (optional): crypto_box sealing with the node's
//     address doubling as its public key
//   - [messaging.Messenger]: sequence numbers, acknowledgements,
//     retransmission and duplicate suppression
//
// Each layer can be used on its own; the Node only wires them together and
// fans events out to the registered callbacks.
//
// # Delivery Semantics
//
// OnSendCompleted and OnSendFailed fire exactly once per Request. A failure
// means no acknowledgement arrived within the retry budget; the message may
// still have been delivered. Messages are not ordered relative to each
// other.
package rendezvous
