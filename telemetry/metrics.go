// Package telemetry exposes Prometheus metrics for the router, devices and
// messengers running in this process.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rendezvous"

var (
	Registry = prometheus.NewRegistry()

	// RouterPackets counts inbound router datagrams by outcome:
	// ping, routed, unroutable or malformed.
	RouterPackets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "packets_total",
			Help:      "Datagrams received by the router, by outcome.",
		},
		[]string{"outcome"},
	)

	RouterRotations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "rotations_total",
			Help:      "Routing table generation rotations.",
		},
	)

	RouterEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "route_entries",
			Help:      "Routing entries held per generation.",
		},
		[]string{"generation"},
	)

	// DevicePings counts keepalive pings sent by all devices.
	DevicePings = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "pings_total",
			Help:      "Keepalive pings sent to rendezvous routers.",
		},
	)

	// DeviceTransitions counts liveness flips, labelled live or unresponsive.
	DeviceTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "liveness_transitions_total",
			Help:      "Device liveness state changes.",
		},
		[]string{"state"},
	)

	// MessengerEvents counts reliable messaging events: sent, retransmitted,
	// completed, failed, delivered, duplicate, ack_sent and discarded.
	MessengerEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messenger",
			Name:      "events_total",
			Help:      "Reliable messenger events.",
		},
		[]string{"event"},
	)

	MessengerPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "messenger",
			Name:      "pending_sends",
			Help:      "Outgoing messages awaiting acknowledgement.",
		},
	)

	// SecureDrops counts datagrams the secure layer could not seal or open,
	// labelled by direction (outbound or inbound).
	SecureDrops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "secure",
			Name:      "dropped_total",
			Help:      "Datagrams dropped by the encryption layer.",
		},
		[]string{"direction"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version).",
		},
		[]string{"version"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		RouterPackets, RouterRotations, RouterEntries,
		DevicePings, DeviceTransitions,
		MessengerEvents, MessengerPending,
		SecureDrops,
		buildInfo, uptime,
	)
}

// MetricsHandler exposes the registry. Mount it with
// mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup.
func SetBuildInfo(version string) {
	buildInfo.WithLabelValues(version).Set(1)
}
