// Package device implements the transport binding between a peer and its
// rendezvous router.
//
// A Device owns one UDP socket connected to one router and runs the
// keepalive state machine described by Liveness: ping immediately on bind,
// back off 4s, 8s, 16s ... up to 600s while the router stays silent, and
// leave the router alone for 10 minutes after any datagram arrives from it.
// The receive loop polls with a bounded wait so scheduled pings are never
// late by more than the poll interval.
//
// A Networker wraps a Device with the overlay address, a listener and
// at-most-once teardown; it is the transport.Networker the messaging layer
// runs on.
package device

import (
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rendezvous/address"
	"github.com/opd-ai/rendezvous/telemetry"
	"github.com/opd-ai/rendezvous/transport"
)

// Config holds device settings.
type Config struct {
	Keepalive KeepaliveConfig

	// PollInterval bounds each blocking receive.
	PollInterval time.Duration

	// Logger overrides the default package logger.
	Logger *logrus.Entry

	// TimeProvider overrides the system clock for keepalive decisions.
	TimeProvider transport.TimeProvider
}

// DefaultConfig returns the reference device settings.
func DefaultConfig() Config {
	return Config{
		Keepalive:    DefaultKeepaliveConfig(),
		PollInterval: 2 * time.Second,
	}
}

// Handler receives datagrams from other peers. Router control traffic is
// consumed by the device and never reaches the handler.
type Handler func(sender address.Address, data []byte)

// binding is one connection of the device to one router.
type binding struct {
	routerAddr string
	conn       *net.UDPConn
	liveness   *Liveness
	stop       chan struct{}
	done       chan struct{}
	stopOnce   sync.Once
}

func (b *binding) shutdown() {
	b.stopOnce.Do(func() {
		close(b.stop)
		b.conn.Close()
	})
}

// Device is a rendezvous transport binding for one local address.
type Device struct {
	id      address.Address
	handler Handler
	cfg     Config
	clock   transport.TimeProvider
	log     *logrus.Entry

	mu      sync.Mutex
	current *binding
	closed  bool
}

// New creates an unbound device for id. handler may be nil.
func New(id address.Address, handler Handler, cfg Config) *Device {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.Keepalive == (KeepaliveConfig{}) {
		cfg.Keepalive = DefaultKeepaliveConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.WithField("package", "device")
	}

	return &Device{
		id:      id,
		handler: handler,
		cfg:     cfg,
		clock:   transport.ClockOrDefault(cfg.TimeProvider),
		log:     logger.WithField("address", id.Short()),
	}
}

// Connect binds the device to the router at routerAddr (host:port). A
// previous binding is torn down first. The first ping goes out immediately.
// Connect must not be called from the device's own handler.
func (d *Device) Connect(routerAddr string) error {
	conn, err := transport.DialUDP(routerAddr)
	if err != nil {
		return err
	}

	b := &binding{
		routerAddr: routerAddr,
		conn:       conn,
		liveness:   NewLiveness(d.cfg.Keepalive, d.clock.Now()),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		conn.Close()
		return transport.ErrClosed
	}
	old := d.current
	d.current = b
	d.mu.Unlock()

	if old != nil {
		old.shutdown()
		<-old.done
	}

	d.log.WithFields(logrus.Fields{
		"function": "Connect",
		"router":   routerAddr,
		"local":    conn.LocalAddr().String(),
	}).Info("Device bound to rendezvous router")

	go d.run(b)
	return nil
}

// Send wraps data in an envelope to receiver and writes it to the router.
// Delivery is best effort; failures are logged and otherwise ignored.
func (d *Device) Send(receiver address.Address, data []byte) {
	d.mu.Lock()
	b := d.current
	d.mu.Unlock()
	if b == nil {
		return
	}

	e := transport.Envelope{Sender: d.id, Receiver: receiver, Body: data}
	if _, err := b.conn.Write(e.Serialize()); err != nil {
		d.log.WithFields(logrus.Fields{
			"function": "Send",
			"receiver": receiver.Short(),
			"error":    err.Error(),
		}).Debug("Datagram send failed")
	}
}

// Close stops the current binding. The returned channel is closed once the
// receive loop has exited. Close must not be waited on from the handler.
func (d *Device) Close() <-chan struct{} {
	d.mu.Lock()
	d.closed = true
	b := d.current
	d.current = nil
	d.mu.Unlock()

	if b == nil {
		done := make(chan struct{})
		close(done)
		return done
	}

	b.shutdown()
	d.log.WithField("function", "Close").Info("Device closed")
	return b.done
}

// IsActive reports whether the device is bound and its loop is running.
func (d *Device) IsActive() bool {
	d.mu.Lock()
	b := d.current
	d.mu.Unlock()
	if b == nil {
		return false
	}
	select {
	case <-b.done:
		return false
	default:
		return true
	}
}

// IsLive reports whether the device is active and has heard from its
// router recently enough to believe it is routable.
func (d *Device) IsLive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current != nil && d.current.liveness.IsLive()
}

// State returns the keepalive state of the current binding.
func (d *Device) State() LivenessState {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return StateIdle
	}
	return d.current.liveness.State()
}

// RouterAddr returns the router the device is bound to, or "".
func (d *Device) RouterAddr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return ""
	}
	return d.current.routerAddr
}

// LocalAddr returns the local socket address, or nil when unbound.
func (d *Device) LocalAddr() net.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return nil
	}
	return d.current.conn.LocalAddr()
}

// run is the receive and keepalive loop of one binding.
func (d *Device) run(b *binding) {
	defer close(b.done)

	buf := make([]byte, transport.MaxDatagramSize)
	for {
		select {
		case <-b.stop:
			return
		default:
		}

		wait := d.keepalive(b)

		n, err := transport.Read(b.conn, buf, time.Now().Add(wait))
		if err != nil {
			if transport.IsTimeout(err) {
				continue
			}
			if transport.IsClosed(err) {
				return
			}
			// Connected UDP sockets surface ICMP errors here; the
			// keepalive schedule covers them.
			d.log.WithFields(logrus.Fields{
				"function": "run",
				"error":    err.Error(),
			}).Debug("Device read error")
			continue
		}

		d.handleDatagram(b, buf[:n])
	}
}

// keepalive sends a ping if one is due and returns how long the loop may
// block before the next keepalive decision.
func (d *Device) keepalive(b *binding) time.Duration {
	now := d.clock.Now()

	d.mu.Lock()
	due := b.liveness.PingDue(now)
	var wentDown bool
	if due {
		wentDown = b.liveness.OnPing(now)
	}
	wait := b.liveness.NextPing().Sub(now)
	d.mu.Unlock()

	if wentDown {
		telemetry.DeviceTransitions.WithLabelValues("unresponsive").Inc()
		d.log.WithFields(logrus.Fields{
			"function": "keepalive",
			"router":   b.routerAddr,
		}).Warn("Rendezvous router stopped answering")
	}

	if due {
		telemetry.DevicePings.Inc()
		if _, err := b.conn.Write(transport.NewPing(d.id).Serialize()); err != nil {
			d.log.WithFields(logrus.Fields{
				"function": "keepalive",
				"error":    err.Error(),
			}).Debug("Ping send failed")
		}
	}

	if wait <= 0 || wait > d.cfg.PollInterval {
		wait = d.cfg.PollInterval
	}
	return wait
}

// handleDatagram validates one inbound datagram, refreshes liveness and
// hands peer traffic to the handler.
func (d *Device) handleDatagram(b *binding, data []byte) {
	e, err := transport.ParseEnvelope(data)
	if err != nil {
		d.log.WithFields(logrus.Fields{
			"function": "handleDatagram",
			"error":    err.Error(),
		}).Debug("Discarding malformed datagram")
		return
	}
	if err := e.CheckReceiver(d.id); err != nil {
		d.log.WithFields(logrus.Fields{
			"function": "handleDatagram",
			"error":    err.Error(),
		}).Debug("Discarding datagram")
		return
	}

	d.mu.Lock()
	cameUp := b.liveness.OnReceive(d.clock.Now())
	d.mu.Unlock()

	if cameUp {
		telemetry.DeviceTransitions.WithLabelValues("live").Inc()
		d.log.WithFields(logrus.Fields{
			"function": "handleDatagram",
			"router":   b.routerAddr,
		}).Info("Rendezvous router reachable")
	}

	// Pongs only prove the route; they carry nothing for the application.
	if e.IsPong() || d.handler == nil {
		return
	}
	d.handler(e.Sender, e.Body)
}
