// Package config loads YAML configuration files for the rendezvous router
// and node commands.
//
// Durations are written as Go duration strings ("30m", "4s"). A missing
// file is not an error: the defaults are returned instead.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/opd-ai/rendezvous/device"
	"github.com/opd-ai/rendezvous/messaging"
	"github.com/opd-ai/rendezvous/router"
)

// DefaultPort is the router's reference UDP port.
const DefaultPort = router.DefaultPort

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid configuration")

// Logging selects the logrus level and output format.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Router is the router process configuration.
type Router struct {
	Port             int           `yaml:"port"`
	Host             string        `yaml:"host"`
	RotationInterval time.Duration `yaml:"rotation_interval"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	TableSizeHint    int           `yaml:"table_size_hint"`
	MetricsListen    string        `yaml:"metrics_listen"`
	Logging          Logging       `yaml:"logging"`
}

// Keepalive mirrors device.KeepaliveConfig.
type Keepalive struct {
	InitialBackoff      time.Duration `yaml:"initial_backoff"`
	MaxBackoff          time.Duration `yaml:"max_backoff"`
	RefreshInterval     time.Duration `yaml:"refresh_interval"`
	UnresponsiveBackoff time.Duration `yaml:"unresponsive_backoff"`
	PollInterval        time.Duration `yaml:"poll_interval"`
}

// Messaging mirrors messaging.Config.
type Messaging struct {
	RetryInterval   time.Duration `yaml:"retry_interval"`
	MaxAttempts     int           `yaml:"max_attempts"`
	DuplicateWindow time.Duration `yaml:"duplicate_window"`
	PollInterval    time.Duration `yaml:"poll_interval"`
}

// Node is the peer process configuration.
type Node struct {
	Router string `yaml:"router"`

	// SecretKey is a hex encoded Curve25519 private key. Empty means a new
	// identity on every start.
	SecretKey string `yaml:"secret_key"`

	Encrypt   bool      `yaml:"encrypt"`
	Keepalive Keepalive `yaml:"keepalive"`
	Messaging Messaging `yaml:"messaging"`
	Logging   Logging   `yaml:"logging"`
}

// DefaultRouter returns the reference router configuration.
func DefaultRouter() *Router {
	rc := router.DefaultConfig()
	return &Router{
		Port:             DefaultPort,
		RotationInterval: rc.RotationInterval,
		PollInterval:     rc.PollInterval,
		TableSizeHint:    rc.TableSizeHint,
		Logging:          Logging{Level: "info", Format: "text"},
	}
}

// DefaultNode returns the reference node configuration.
func DefaultNode() *Node {
	dc := device.DefaultConfig()
	mc := messaging.DefaultConfig()
	return &Node{
		Router: fmt.Sprintf("127.0.0.1:%d", DefaultPort),
		Keepalive: Keepalive{
			InitialBackoff:      dc.Keepalive.InitialBackoff,
			MaxBackoff:          dc.Keepalive.MaxBackoff,
			RefreshInterval:     dc.Keepalive.RefreshInterval,
			UnresponsiveBackoff: dc.Keepalive.UnresponsiveBackoff,
			PollInterval:        dc.PollInterval,
		},
		Messaging: Messaging{
			RetryInterval:   mc.RetryInterval,
			MaxAttempts:     mc.MaxAttempts,
			DuplicateWindow: mc.DuplicateWindow,
			PollInterval:    mc.PollInterval,
		},
		Logging: Logging{Level: "info", Format: "text"},
	}
}

// LoadRouter reads a router configuration on top of the defaults.
func LoadRouter(path string) (*Router, error) {
	cfg := DefaultRouter()
	if err := load(path, cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// LoadNode reads a node configuration on top of the defaults.
func LoadNode(path string) (*Node, error) {
	cfg := DefaultNode()
	if err := load(path, cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func load(path string, out any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// ClampPort forces p into the valid UDP port range.
func ClampPort(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 65535:
		return 65535
	default:
		return p
	}
}

// ListenAddr returns the host:port the router binds to.
func (c *Router) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, ClampPort(c.Port))
}

// Validate checks the router configuration.
func (c *Router) Validate() error {
	if c.RotationInterval <= 0 {
		return fmt.Errorf("%w: rotation_interval must be positive", ErrInvalid)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll_interval must be positive", ErrInvalid)
	}
	return c.Logging.validate()
}

// Settings converts the file configuration into router.Config.
func (c *Router) Settings() router.Config {
	rc := router.DefaultConfig()
	rc.RotationInterval = c.RotationInterval
	rc.PollInterval = c.PollInterval
	if c.TableSizeHint > 0 {
		rc.TableSizeHint = c.TableSizeHint
	}
	return rc
}

// Validate checks the node configuration.
func (c *Node) Validate() error {
	if c.Router == "" {
		return fmt.Errorf("%w: router address is required", ErrInvalid)
	}
	k := c.Keepalive
	if k.InitialBackoff <= 0 || k.MaxBackoff < k.InitialBackoff {
		return fmt.Errorf("%w: keepalive backoff must be positive and below max_backoff", ErrInvalid)
	}
	if k.RefreshInterval <= 0 || k.PollInterval <= 0 {
		return fmt.Errorf("%w: keepalive intervals must be positive", ErrInvalid)
	}
	m := c.Messaging
	if m.RetryInterval <= 0 || m.DuplicateWindow <= 0 || m.PollInterval <= 0 {
		return fmt.Errorf("%w: messaging intervals must be positive", ErrInvalid)
	}
	if m.MaxAttempts < 1 {
		return fmt.Errorf("%w: max_attempts must be at least 1", ErrInvalid)
	}
	return c.Logging.validate()
}

// DeviceSettings converts the keepalive section into device.Config.
func (c *Node) DeviceSettings() device.Config {
	return device.Config{
		Keepalive: device.KeepaliveConfig{
			InitialBackoff:      c.Keepalive.InitialBackoff,
			MaxBackoff:          c.Keepalive.MaxBackoff,
			RefreshInterval:     c.Keepalive.RefreshInterval,
			UnresponsiveBackoff: c.Keepalive.UnresponsiveBackoff,
		},
		PollInterval: c.Keepalive.PollInterval,
	}
}

// MessagingSettings converts the messaging section into messaging.Config.
func (c *Node) MessagingSettings() messaging.Config {
	mc := messaging.DefaultConfig()
	mc.RetryInterval = c.Messaging.RetryInterval
	mc.MaxAttempts = c.Messaging.MaxAttempts
	mc.DuplicateWindow = c.Messaging.DuplicateWindow
	mc.PollInterval = c.Messaging.PollInterval
	return mc
}

func (l Logging) validate() error {
	if _, err := logrus.ParseLevel(l.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	switch strings.ToLower(l.Format) {
	case "", "text", "json":
		return nil
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalid, l.Format)
	}
}

// Apply configures the standard logrus logger.
func (l Logging) Apply() error {
	if err := l.validate(); err != nil {
		return err
	}
	level, _ := logrus.ParseLevel(l.Level)
	logrus.SetLevel(level)
	if strings.EqualFold(l.Format, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
