// Command rendezvous-router runs a rendezvous relay on one UDP port.
//
// Usage:
//
//	rendezvous-router [port] [flags]
//
// The port defaults to 65235 and is clamped into 0..65535.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/rendezvous/config"
	"github.com/opd-ai/rendezvous/router"
	"github.com/opd-ai/rendezvous/telemetry"
)

var version = "dev"

type options struct {
	configFile    string
	host          string
	rotation      time.Duration
	metricsListen string
	logLevel      string
	logFormat     string
}

func newRootCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "rendezvous-router [port]",
		Short:         "Relay datagrams between peers by overlay address",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, opts, args)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configFile, "config", "", "YAML configuration file")
	flags.StringVar(&opts.host, "host", "", "address to bind (default all interfaces)")
	flags.DurationVar(&opts.rotation, "rotation", 0, "routing table rotation interval (default 30m)")
	flags.StringVar(&opts.metricsListen, "metrics-listen", "", "serve Prometheus metrics on this address, e.g. :9100")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&opts.logFormat, "log-format", "", "log format: text or json")
	return cmd
}

// resolveConfig layers the config file, the positional port and flags.
func resolveConfig(cmd *cobra.Command, opts *options, args []string) (*config.Router, error) {
	cfg, err := config.LoadRouter(opts.configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if len(args) == 1 {
		port, err := strconv.Atoi(args[0])
		if err != nil {
			return nil, fmt.Errorf("invalid port %q: %w", args[0], err)
		}
		cfg.Port = port
	}
	cfg.Port = config.ClampPort(cfg.Port)

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Host = opts.host
	}
	if flags.Changed("rotation") {
		cfg.RotationInterval = opts.rotation
	}
	if flags.Changed("metrics-listen") {
		cfg.MetricsListen = opts.metricsListen
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = opts.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format = opts.logFormat
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, cfg *config.Router) error {
	if err := cfg.Logging.Apply(); err != nil {
		return err
	}
	telemetry.SetBuildInfo(version)

	r, err := router.Listen(cfg.ListenAddr(), cfg.Settings())
	if err != nil {
		return fmt.Errorf("bind %s: %w", cfg.ListenAddr(), err)
	}
	defer r.Close()

	var metrics *http.Server
	if cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.MetricsHandler())
		metrics = &http.Server{Addr: cfg.MetricsListen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logrus.WithFields(logrus.Fields{
					"function": "run",
					"error":    err.Error(),
				}).Error("Metrics server failed")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logrus.WithFields(logrus.Fields{
		"function": "run",
		"addr":     r.Addr().String(),
		"metrics":  cfg.MetricsListen,
		"version":  version,
	}).Info("Rendezvous router started")

	err = r.Serve(ctx)

	if metrics != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metrics.Shutdown(shutdownCtx)
	}
	logrus.WithField("function", "run").Info("Rendezvous router stopped")
	return err
}

func main() {
	if err := newRootCmd(&options{}).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
