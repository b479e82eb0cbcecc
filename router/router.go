// Package router implements the rendezvous router: a single relay process
// that forwards overlay datagrams between devices by address lookup.
//
// The router keeps no per-peer configuration and no persistent state. Every
// valid inbound datagram refreshes the sender's address -> transport location
// mapping in a two-generation table; the table rotates on a fixed interval
// so an address that stops talking becomes unroutable after one to two
// intervals. Datagrams addressed to the sentinel address are keepalive pings
// and are answered with a pong. Anything unroutable is dropped silently.
//
// The serve loop is single threaded: one blocking receive with a bounded
// wait and inline rotation checks.
package router

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rendezvous/address"
	"github.com/opd-ai/rendezvous/gentable"
	"github.com/opd-ai/rendezvous/telemetry"
	"github.com/opd-ai/rendezvous/transport"
)

// DefaultPort is the UDP port a router listens on when none is given.
const DefaultPort = 65235

// Config holds router settings.
type Config struct {
	// RotationInterval is how often routing table generations rotate.
	RotationInterval time.Duration

	// PollInterval bounds each blocking receive so cancellation and
	// rotations are noticed while idle.
	PollInterval time.Duration

	// TableSizeHint preallocates each routing table generation.
	TableSizeHint int

	// Logger overrides the default package logger.
	Logger *logrus.Entry

	// TimeProvider overrides the system clock.
	TimeProvider transport.TimeProvider
}

// DefaultConfig returns the reference router settings.
func DefaultConfig() Config {
	return Config{
		RotationInterval: 30 * time.Minute,
		PollInterval:     time.Second,
		TableSizeHint:    1024,
	}
}

// Stats is a snapshot of router activity.
type Stats struct {
	CurrentEntries  int
	PreviousEntries int
	Packets         uint64
	Routed          uint64
}

// Router relays datagrams between devices.
type Router struct {
	conn    net.PacketConn
	routes  *gentable.Table[address.Address, net.Addr]
	clock   transport.TimeProvider
	log     *logrus.Entry
	poll    time.Duration
	packets atomic.Uint64
	routed  atomic.Uint64
	pong    []byte
}

// New creates a router serving on conn. The router takes ownership of conn.
func New(conn net.PacketConn, cfg Config) (*Router, error) {
	if conn == nil {
		return nil, fmt.Errorf("router requires a packet connection")
	}
	if cfg.RotationInterval <= 0 {
		return nil, fmt.Errorf("invalid rotation interval %v", cfg.RotationInterval)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}

	clock := transport.ClockOrDefault(cfg.TimeProvider)
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.WithField("package", "router")
	}

	return &Router{
		conn:   conn,
		routes: gentable.New[address.Address, net.Addr](cfg.RotationInterval, clock.Now(), cfg.TableSizeHint),
		clock:  clock,
		log:    logger,
		poll:   cfg.PollInterval,
		pong:   make([]byte, 0, transport.HeaderSize),
	}, nil
}

// Listen binds a UDP socket on listenAddr and creates a router on it.
// A bind failure is returned to the caller; there is no retry.
func Listen(listenAddr string, cfg Config) (*Router, error) {
	conn, err := transport.ListenUDP(listenAddr)
	if err != nil {
		return nil, err
	}
	r, err := New(conn, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return r, nil
}

// Addr returns the local address the router is bound to.
func (r *Router) Addr() net.Addr {
	return r.conn.LocalAddr()
}

// Close closes the router socket, which also ends Serve.
func (r *Router) Close() error {
	return r.conn.Close()
}

// Serve runs the receive loop until ctx is cancelled or the socket is
// closed. Transient read errors are logged and ignored.
func (r *Router) Serve(ctx context.Context) error {
	r.log.WithFields(logrus.Fields{
		"function": "Serve",
		"addr":     r.conn.LocalAddr().String(),
		"rotation": r.routes.Interval().String(),
	}).Info("Rendezvous router serving")

	buf := make([]byte, transport.MaxDatagramSize)
	for {
		if ctx.Err() != nil {
			return nil
		}

		wait := r.poll
		if d := r.routes.NextRotation().Sub(r.clock.Now()); d < wait {
			wait = max(d, 0)
		}

		// Socket deadlines are wall-clock even when the clock is injected.
		n, from, err := transport.ReadFrom(r.conn, buf, time.Now().Add(wait))
		now := r.clock.Now()
		r.rotate(now)

		if err != nil {
			if transport.IsTimeout(err) {
				continue
			}
			if transport.IsClosed(err) {
				r.log.WithField("function", "Serve").Info("Rendezvous router stopped")
				return nil
			}
			r.log.WithFields(logrus.Fields{
				"function": "Serve",
				"error":    err.Error(),
			}).Warn("Router read error")
			continue
		}

		r.handlePacket(buf[:n], from)
	}
}

// handlePacket processes one inbound datagram from the transport location from.
func (r *Router) handlePacket(data []byte, from net.Addr) {
	e, err := transport.PeekEnvelope(data)
	if err != nil {
		telemetry.RouterPackets.WithLabelValues("malformed").Inc()
		return
	}
	r.packets.Add(1)

	if e.IsPing() {
		r.answerPing(e.Sender, from)
	} else {
		r.forward(e.Receiver, data)
	}

	if !e.IsPong() {
		r.routes.Put(e.Sender, from)
	}
}

// answerPing replies to a keepalive ping without forwarding anything.
func (r *Router) answerPing(sender address.Address, from net.Addr) {
	telemetry.RouterPackets.WithLabelValues("ping").Inc()

	r.pong = transport.NewPong(sender).AppendTo(r.pong[:0])
	if _, err := r.conn.WriteTo(r.pong, from); err != nil {
		r.log.WithFields(logrus.Fields{
			"function": "answerPing",
			"peer":     sender.Short(),
			"error":    err.Error(),
		}).Warn("Failed to send pong")
	}
}

// forward relays the unmodified datagram to receiver's last known location.
func (r *Router) forward(receiver address.Address, data []byte) {
	dst, ok := r.routes.Get(receiver)
	if !ok {
		telemetry.RouterPackets.WithLabelValues("unroutable").Inc()
		r.log.WithFields(logrus.Fields{
			"function": "forward",
			"receiver": receiver.Short(),
		}).Debug("Dropping datagram for unknown receiver")
		return
	}

	if _, err := r.conn.WriteTo(data, dst); err != nil {
		r.log.WithFields(logrus.Fields{
			"function": "forward",
			"receiver": receiver.Short(),
			"error":    err.Error(),
		}).Warn("Failed to forward datagram")
		return
	}
	r.routed.Add(1)
	telemetry.RouterPackets.WithLabelValues("routed").Inc()
}

// rotate performs any routing table rotation that has come due.
func (r *Router) rotate(now time.Time) {
	n := r.routes.Advance(now)
	if n == 0 {
		return
	}
	telemetry.RouterRotations.Add(float64(n))

	stats := r.Stats()
	telemetry.RouterEntries.WithLabelValues("current").Set(float64(stats.CurrentEntries))
	telemetry.RouterEntries.WithLabelValues("previous").Set(float64(stats.PreviousEntries))

	r.log.WithFields(logrus.Fields{
		"function": "rotate",
		"entries":  stats.CurrentEntries + stats.PreviousEntries,
		"packets":  stats.Packets,
		"routed":   stats.Routed,
	}).Info("Rotated routing tables")
}

// Lookup returns the transport location currently routable for a.
func (r *Router) Lookup(a address.Address) (net.Addr, bool) {
	return r.routes.Get(a)
}

// Stats returns a snapshot of routing table sizes and packet counters.
func (r *Router) Stats() Stats {
	cur, prev := r.routes.Len()
	return Stats{
		CurrentEntries:  cur,
		PreviousEntries: prev,
		Packets:         r.packets.Load(),
		Routed:          r.routed.Load(),
	}
}
