package messaging

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rendezvous/address"
	"github.com/opd-ai/rendezvous/gentable"
	"github.com/opd-ai/rendezvous/limits"
	"github.com/opd-ai/rendezvous/telemetry"
	"github.com/opd-ai/rendezvous/transport"
)

// Listener is the application side of a Messenger. Callbacks run on the
// messenger's goroutines and must not block for long.
type Listener interface {
	// SendCompleted fires once when the message was acknowledged.
	SendCompleted(r *Request)

	// SendFailed fires once when the retry budget ran out. The payload may
	// still have been delivered.
	SendFailed(r *Request)

	// Receive is called once per distinct (sender, sequence) within the
	// duplicate window. payload is owned by the callee.
	Receive(sender address.Address, payload []byte)
}

// Config holds messenger settings.
type Config struct {
	// RetryInterval is the delay between transmissions of one message.
	RetryInterval time.Duration

	// MaxAttempts is the number of transmissions before giving up. After the
	// last one the messenger waits one more RetryInterval for its ack.
	MaxAttempts int

	// DuplicateWindow is the rotation interval of the duplicate filter.
	DuplicateWindow time.Duration

	// PollInterval bounds how long the loop sleeps without re-checking the
	// schedule and the networker.
	PollInterval time.Duration

	// MaxPayload is the largest payload Send accepts.
	MaxPayload int

	// Logger overrides the default package logger.
	Logger *logrus.Entry

	// TimeProvider overrides the system clock.
	TimeProvider transport.TimeProvider
}

// DefaultConfig returns the reference messenger settings.
func DefaultConfig() Config {
	return Config{
		RetryInterval:   3 * time.Second,
		MaxAttempts:     5,
		DuplicateWindow: 10 * time.Minute,
		PollInterval:    500 * time.Millisecond,
		MaxPayload:      limits.MaxMessagePayload,
	}
}

func (c Config) validate() error {
	switch {
	case c.RetryInterval <= 0:
		return errors.New("retry interval must be positive")
	case c.MaxAttempts < 1:
		return errors.New("max attempts must be at least 1")
	case c.DuplicateWindow <= 0:
		return errors.New("duplicate window must be positive")
	case c.PollInterval <= 0:
		return errors.New("poll interval must be positive")
	case c.MaxPayload < 0 || c.MaxPayload > limits.MaxMessagePayload:
		return fmt.Errorf("max payload must be within 0..%d", limits.MaxMessagePayload)
	}
	return nil
}

// Messenger adds acknowledgements, retransmission and duplicate suppression
// on top of a transport.Networker. It installs itself as the networker's
// listener.
type Messenger struct {
	net      transport.Networker
	listener Listener
	cfg      Config
	clock    transport.TimeProvider
	log      *logrus.Entry

	// mu guards the schedule and its ack index as one unit, and seq.
	mu    sync.Mutex
	sched *schedule
	seq   uint32

	seen *gentable.Table[MessageID, struct{}]

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	teardownMu sync.Mutex
	onTeardown func()
}

var _ transport.Listener = (*Messenger)(nil)

// New creates a Messenger over net and starts its retry loop. listener may
// be nil, in which case deliveries and outcomes are only logged.
func New(net transport.Networker, listener Listener, cfg Config) (*Messenger, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if net.IsDead() {
		return nil, ErrTornDown
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.WithField("package", "messaging")
	}
	clock := transport.ClockOrDefault(cfg.TimeProvider)

	m := &Messenger{
		net:      net,
		listener: listener,
		cfg:      cfg,
		clock:    clock,
		log:      logger.WithField("address", net.ID().Short()),
		sched:    newSchedule(),
		seen:     gentable.New[MessageID, struct{}](cfg.DuplicateWindow, clock.Now(), 256),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	net.SetListener(m)
	go m.run()
	return m, nil
}

// Send queues payload for reliable delivery to receiver and returns its
// handle. The first transmission happens on the messenger goroutine right
// away. Send returns ErrTornDown once the networker is dead, and an error
// wrapping limits.ErrMessageTooLarge for payloads over MaxPayload.
func (m *Messenger) Send(receiver address.Address, payload []byte) (*Request, error) {
	if m.net.IsDead() || m.stopped() {
		return nil, ErrTornDown
	}
	if err := limits.ValidateMessageSize(payload, m.cfg.MaxPayload); err != nil {
		return nil, err
	}

	m.mu.Lock()
	seq := m.nextSequenceLocked(receiver)
	r := newRequest(seq, receiver, payload)
	m.sched.insert(r, m.clock.Now().UnixNano())
	m.mu.Unlock()

	telemetry.MessengerPending.Inc()
	m.log.WithFields(logrus.Fields{
		"function": "Send",
		"receiver": receiver.Short(),
		"sequence": seq,
		"size":     len(payload),
	}).Debug("Message queued")

	m.signal()
	return r, nil
}

// nextSequenceLocked draws from the shared counter, skipping a number that
// is still outstanding to the same receiver after a wrap.
func (m *Messenger) nextSequenceLocked(receiver address.Address) uint32 {
	for {
		seq := m.seq
		m.seq++
		if !m.sched.contains(MessageID{Sequence: seq, Peer: receiver}) {
			return seq
		}
	}
}

// Receive implements transport.Listener.
func (m *Messenger) Receive(sender address.Address, data []byte) {
	t, seq, payload, err := decodePacket(data)
	if err != nil {
		telemetry.MessengerEvents.WithLabelValues("discarded").Inc()
		m.log.WithFields(logrus.Fields{
			"function": "Receive",
			"sender":   sender.Short(),
			"error":    err.Error(),
		}).Debug("Discarding messaging packet")
		return
	}

	id := MessageID{Sequence: seq, Peer: sender}
	switch t {
	case PacketAck:
		m.handleAck(id)
	case PacketSend:
		m.handleSend(id, payload)
	}
}

func (m *Messenger) handleAck(id MessageID) {
	m.mu.Lock()
	r := m.sched.remove(id)
	m.mu.Unlock()

	if r == nil {
		m.log.WithFields(logrus.Fields{
			"function": "handleAck",
			"message":  id.String(),
		}).Debug("Ignoring ack for unknown message")
		return
	}

	r.setState(StateCompleted)
	telemetry.MessengerPending.Dec()
	telemetry.MessengerEvents.WithLabelValues("completed").Inc()
	m.log.WithFields(logrus.Fields{
		"function": "handleAck",
		"message":  id.String(),
		"attempts": r.Attempts(),
	}).Debug("Message acknowledged")

	if m.listener != nil {
		m.listener.SendCompleted(r)
	}
}

func (m *Messenger) handleSend(id MessageID, payload []byte) {
	// Acks can be lost, so every copy of a message is acknowledged.
	m.net.Send(id.Peer, encodePacket(PacketAck, id.Sequence, nil))
	telemetry.MessengerEvents.WithLabelValues("ack_sent").Inc()

	m.seen.Advance(m.clock.Now())
	if !m.seen.Insert(id, struct{}{}) {
		telemetry.MessengerEvents.WithLabelValues("duplicate").Inc()
		m.log.WithFields(logrus.Fields{
			"function": "handleSend",
			"message":  id.String(),
		}).Debug("Suppressing duplicate message")
		return
	}

	telemetry.MessengerEvents.WithLabelValues("delivered").Inc()
	if m.listener != nil {
		m.listener.Receive(id.Peer, append([]byte(nil), payload...))
	}
}

// Killed implements transport.Listener. It stops the retry loop; the
// teardown callback fires after the loop has exited.
func (m *Messenger) Killed() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// Kill tears down the underlying networker.
func (m *Messenger) Kill() {
	m.net.Kill()
}

// OnTeardown registers f to run once, after the retry loop has stopped.
// If the loop has already stopped f runs immediately.
func (m *Messenger) OnTeardown(f func()) {
	m.teardownMu.Lock()
	select {
	case <-m.done:
		m.teardownMu.Unlock()
		if f != nil {
			f()
		}
		return
	default:
	}
	m.onTeardown = f
	m.teardownMu.Unlock()
}

// Done returns a channel that is closed when the retry loop has exited.
func (m *Messenger) Done() <-chan struct{} {
	return m.done
}

// Pending returns the number of messages awaiting acknowledgement.
func (m *Messenger) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sched.len()
}

// Networker returns the transport the messenger runs on.
func (m *Messenger) Networker() transport.Networker {
	return m.net
}

func (m *Messenger) stopped() bool {
	select {
	case <-m.stop:
		return true
	default:
		return false
	}
}

func (m *Messenger) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// run is the retry loop. It sleeps until the earliest deadline, the poll
// interval or a wake-up from Send, whichever comes first.
func (m *Messenger) run() {
	defer m.finish()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		if m.net.IsDead() {
			return
		}
		timer.Reset(m.tick())

		select {
		case <-m.stop:
			return
		case <-m.wake:
		case <-timer.C:
		}
	}
}

func (m *Messenger) finish() {
	m.teardownMu.Lock()
	close(m.done)
	f := m.onTeardown
	m.onTeardown = nil
	m.teardownMu.Unlock()

	m.log.WithFields(logrus.Fields{
		"function": "run",
		"pending":  m.Pending(),
	}).Info("Messenger stopped")

	if f != nil {
		f()
	}
}

// tick services every due request and returns how long to sleep.
func (m *Messenger) tick() time.Duration {
	now := m.clock.Now()
	m.seen.Advance(now)
	nowNano := now.UnixNano()
	retry := int64(m.cfg.RetryInterval)

	var transmit, failed []*Request

	m.mu.Lock()
	for r := m.sched.peek(); r != nil && r.due <= nowNano; r = m.sched.peek() {
		if r.Attempts() >= m.cfg.MaxAttempts {
			m.sched.remove(r.id)
			failed = append(failed, r)
			continue
		}
		r.incrementAttempts()
		transmit = append(transmit, r)
		m.sched.reschedule(r, nowNano+retry)
	}
	wait := m.cfg.PollInterval
	if next := m.sched.peek(); next != nil {
		if d := time.Duration(next.due - nowNano); d < wait {
			wait = d
		}
	}
	m.mu.Unlock()

	for _, r := range transmit {
		m.net.Send(r.Receiver(), r.wire)
		if r.Attempts() == 1 {
			telemetry.MessengerEvents.WithLabelValues("sent").Inc()
		} else {
			telemetry.MessengerEvents.WithLabelValues("retransmitted").Inc()
		}
	}

	for _, r := range failed {
		r.setState(StateFailed)
		telemetry.MessengerPending.Dec()
		telemetry.MessengerEvents.WithLabelValues("failed").Inc()
		m.log.WithFields(logrus.Fields{
			"function": "tick",
			"message":  r.id.String(),
			"attempts": r.Attempts(),
		}).Warn("Giving up on message")
		if m.listener != nil {
			m.listener.SendFailed(r)
		}
	}

	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait
}
