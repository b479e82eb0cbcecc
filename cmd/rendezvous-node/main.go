// Command rendezvous-node is a small peer for trying out a rendezvous
// router.
//
//	rendezvous-node id
//	rendezvous-node listen --router relay:65235 --secret-key <hex>
//	rendezvous-node send <address> <message> --router relay:65235
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/rendezvous"
	"github.com/opd-ai/rendezvous/address"
	"github.com/opd-ai/rendezvous/config"
	"github.com/opd-ai/rendezvous/crypto"
	"github.com/opd-ai/rendezvous/messaging"
)

// ErrSendFailed is returned by send when no acknowledgement arrived.
var ErrSendFailed = errors.New("message was not acknowledged")

type options struct {
	configFile string
	router     string
	secretKey  string
	encrypt    bool
	logLevel   string
	logFormat  string
	timeout    time.Duration
}

func newRootCmd(opts *options) *cobra.Command {
	var cfg *config.Node

	root := &cobra.Command{
		Use:           "rendezvous-node",
		Short:         "Send and receive reliable messages through a rendezvous router",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = resolveConfig(cmd, opts)
			if err != nil {
				return err
			}
			return cfg.Logging.Apply()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configFile, "config", "", "YAML configuration file")
	pf.StringVar(&opts.router, "router", "", "router address host:port")
	pf.StringVar(&opts.secretKey, "secret-key", "", "hex encoded secret key (default: new identity)")
	pf.BoolVar(&opts.encrypt, "encrypt", false, "seal message bodies for their receiver")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&opts.logFormat, "log-format", "", "log format: text or json")

	idCmd := &cobra.Command{
		Use:   "id",
		Short: "Generate a new identity and print it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := crypto.GenerateKeyPair()
			if err != nil {
				return err
			}
			printIdentity(cmd.OutOrStdout(), keys)
			return nil
		},
	}

	listenCmd := &cobra.Command{
		Use:   "listen",
		Short: "Print every message received until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return listen(ctx, cfg, cmd.OutOrStdout())
		},
	}

	sendCmd := &cobra.Command{
		Use:   "send <address> <message>",
		Short: "Send one message and wait for its acknowledgement",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, err := address.FromHex(args[0])
			if err != nil {
				return fmt.Errorf("receiver: %w", err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			return send(ctx, cfg, to, []byte(args[1]), cmd.OutOrStdout())
		},
	}
	sendCmd.Flags().DurationVar(&opts.timeout, "timeout", time.Minute, "give up after this long")

	root.AddCommand(idCmd, listenCmd, sendCmd)
	return root
}

func resolveConfig(cmd *cobra.Command, opts *options) (*config.Node, error) {
	cfg, err := config.LoadNode(opts.configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	flags := cmd.Flags()
	if flags.Changed("router") {
		cfg.Router = opts.router
	}
	if flags.Changed("secret-key") {
		cfg.SecretKey = opts.secretKey
	}
	if flags.Changed("encrypt") {
		cfg.Encrypt = opts.encrypt
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = opts.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format = opts.logFormat
	}
	return cfg, cfg.Validate()
}

// identity decodes the configured secret key, or returns nil for a fresh
// identity.
func identity(cfg *config.Node) (*crypto.KeyPair, error) {
	if cfg.SecretKey == "" {
		return nil, nil
	}
	raw, err := hex.DecodeString(cfg.SecretKey)
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("secret key must be 64 hex characters")
	}
	return crypto.FromSecretKey([32]byte(raw))
}

func printIdentity(w io.Writer, keys *crypto.KeyPair) {
	fmt.Fprintf(w, "address:    %s\n", keys.Address())
	fmt.Fprintf(w, "secret key: %s\n", hex.EncodeToString(keys.Private[:]))
}

func startNode(cfg *config.Node) (*rendezvous.Node, error) {
	keys, err := identity(cfg)
	if err != nil {
		return nil, err
	}
	options := rendezvous.NewOptions()
	options.Identity = keys
	options.Encrypt = cfg.Encrypt
	options.Device = cfg.DeviceSettings()
	options.Messenger = cfg.MessagingSettings()

	node, err := rendezvous.New(options)
	if err != nil {
		return nil, err
	}
	if err := node.Bind(cfg.Router); err != nil {
		node.Kill()
		return nil, err
	}
	return node, nil
}

func listen(ctx context.Context, cfg *config.Node, out io.Writer) error {
	node, err := startNode(cfg)
	if err != nil {
		return err
	}
	defer func() {
		node.Kill()
		<-node.Done()
	}()

	node.OnMessage(func(sender address.Address, payload []byte) {
		fmt.Fprintf(out, "%s: %s\n", sender, payload)
	})
	fmt.Fprintf(out, "listening as %s\n", node.ID())

	<-ctx.Done()
	return nil
}

func send(ctx context.Context, cfg *config.Node, to address.Address, payload []byte, out io.Writer) error {
	node, err := startNode(cfg)
	if err != nil {
		return err
	}
	defer func() {
		node.Kill()
		<-node.Done()
	}()

	outcome := make(chan error, 1)
	node.OnSendCompleted(func(r *messaging.Request) { outcome <- nil })
	node.OnSendFailed(func(r *messaging.Request) { outcome <- ErrSendFailed })

	req, err := node.Send(to, payload)
	if err != nil {
		return err
	}

	select {
	case err := <-outcome:
		if err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"function": "send",
			"attempts": req.Attempts(),
		}).Debug("Message acknowledged")
		fmt.Fprintf(out, "delivered %s\n", req.ID())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func main() {
	if err := newRootCmd(&options{}).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
