package device

import "time"

// KeepaliveConfig holds the keepalive schedule for a device.
type KeepaliveConfig struct {
	// InitialBackoff is the delay after the first unanswered ping.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between unanswered pings.
	MaxBackoff time.Duration

	// RefreshInterval is how long the device leaves the router alone after
	// hearing from it.
	RefreshInterval time.Duration

	// UnresponsiveBackoff is the backoff at which an unanswered ping makes
	// the device consider itself no longer live.
	UnresponsiveBackoff time.Duration
}

// DefaultKeepaliveConfig returns the reference schedule: 4s doubling to a
// 600s cap, a 10 minute refresh, and unresponsive after the third doubling.
func DefaultKeepaliveConfig() KeepaliveConfig {
	return KeepaliveConfig{
		InitialBackoff:      4 * time.Second,
		MaxBackoff:          600 * time.Second,
		RefreshInterval:     10 * time.Minute,
		UnresponsiveBackoff: 32 * time.Second,
	}
}

// LivenessState is the externally visible keepalive state.
type LivenessState uint8

const (
	// StateIdle means the device has not pinged yet.
	StateIdle LivenessState = iota
	// StatePinging means pings are outstanding and the router has not answered.
	StatePinging
	// StateLive means the router was heard from recently.
	StateLive
	// StateUnresponsive means several pings in a row went unanswered.
	StateUnresponsive
)

func (s LivenessState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePinging:
		return "pinging"
	case StateLive:
		return "live"
	case StateUnresponsive:
		return "unresponsive"
	default:
		return "unknown"
	}
}

// Liveness is the keepalive state machine of one device bound to one router.
// It holds no clock of its own: every transition takes the current time,
// which keeps it deterministic under test. Liveness is not safe for
// concurrent use; the device serializes access.
type Liveness struct {
	cfg      KeepaliveConfig
	backoff  time.Duration
	nextPing time.Time
	live     bool
	state    LivenessState
}

// NewLiveness returns a state machine with a ping due immediately at now.
func NewLiveness(cfg KeepaliveConfig, now time.Time) *Liveness {
	return &Liveness{
		cfg:      cfg,
		backoff:  cfg.InitialBackoff,
		nextPing: now,
		state:    StateIdle,
	}
}

// PingDue reports whether a keepalive ping should be sent at now.
func (l *Liveness) PingDue(now time.Time) bool {
	return !now.Before(l.nextPing)
}

// OnPing records that a ping is being sent at now. It schedules the next
// ping after the current backoff and doubles the backoff up to the cap.
// It reports whether this ping flipped the device to not-live.
func (l *Liveness) OnPing(now time.Time) (wentDown bool) {
	// Reaching the threshold means three doublings went unanswered.
	if l.backoff >= l.cfg.UnresponsiveBackoff {
		wentDown = l.live
		l.live = false
		l.state = StateUnresponsive
	} else if l.state != StateUnresponsive {
		l.state = StatePinging
	}

	l.nextPing = now.Add(l.backoff)
	l.backoff *= 2
	if l.backoff > l.cfg.MaxBackoff {
		l.backoff = l.cfg.MaxBackoff
	}
	return wentDown
}

// OnReceive records a datagram from the router at now: the device is live,
// the backoff resets, and the next keepalive moves RefreshInterval ahead.
// It reports whether the device was not live before.
func (l *Liveness) OnReceive(now time.Time) (cameUp bool) {
	cameUp = !l.live
	l.live = true
	l.state = StateLive
	l.backoff = l.cfg.InitialBackoff
	l.nextPing = now.Add(l.cfg.RefreshInterval)
	return cameUp
}

// IsLive reports whether the router is believed to have a fresh route to us.
func (l *Liveness) IsLive() bool {
	return l.live
}

// State returns the current keepalive state.
func (l *Liveness) State() LivenessState {
	return l.state
}

// NextPing returns the time the next ping is due.
func (l *Liveness) NextPing() time.Time {
	return l.nextPing
}

// Backoff returns the delay that will follow the next ping.
func (l *Liveness) Backoff() time.Duration {
	return l.backoff
}
