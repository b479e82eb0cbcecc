// Package simnet provides an in-memory overlay for deterministic tests of
// code written against transport.Networker.
//
// # Overview
//
// A Network connects any number of Networkers by address. Send delivers
// synchronously to the receiver's listener on the caller's goroutine, and
// every datagram is appended to a delivery log that tests can inspect.
// A drop filter simulates loss, and Duplicate simulates the network
// delivering the same datagram twice.
//
// # Usage
//
//	network := simnet.New()
//	a, b := network.Join(), network.Join()
//	network.SetDropFilter(simnet.DropRandom(rand.New(rand.NewSource(1)), 0.3))
//
//	b.SetListener(listener)
//	a.Send(b.ID(), []byte("hello"))
//
//	for _, r := range network.DeliveryLog() {
//	    fmt.Println(r.From.Short(), r.To.Short(), r.Delivered)
//	}
//
// Delivery is synchronous, so listeners that send in response recurse into
// the network. Listeners must not hold locks across Send.
package simnet
