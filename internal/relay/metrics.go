package relay

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all wsclip Prometheus collectors. Uses an isolated
// prometheus.Registry so server metrics don't collide with the global
// default registry and each test gets its own instance.
type Metrics struct {
	Registry *prometheus.Registry

	// Connection lifecycle
	ConnectionsTotal   *prometheus.CounterVec // accepted/rejected by outcome
	ActiveConnections  prometheus.Gauge
	ActiveChannels     prometheus.Gauge
	UpgradesRejected   *prometheus.CounterVec // by error code

	// Relay traffic
	MessagesRelayedTotal *prometheus.CounterVec // by send status
	BytesRelayedTotal    prometheus.Counter

	// Protocol failures
	ErrorsTotal *prometheus.CounterVec // by error code

	// Build info
	BuildInfo *prometheus.GaugeVec
}

// NewMetrics creates a Metrics instance with all collectors registered
// on an isolated registry.
func NewMetrics(version, goVersion string) *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		ConnectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wsclip_connections_total",
				Help: "Total WebSocket connections by outcome.",
			},
			[]string{"outcome"},
		),
		ActiveConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "wsclip_active_connections",
				Help: "Number of currently connected peers.",
			},
		),
		ActiveChannels: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "wsclip_active_channels",
				Help: "Number of channels with at least one peer.",
			},
		),
		UpgradesRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wsclip_upgrades_rejected_total",
				Help: "Upgrade requests rejected before admission, by error code.",
			},
			[]string{"code"},
		),
		MessagesRelayedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wsclip_messages_relayed_total",
				Help: "Frames relayed between peers, by send status.",
			},
			[]string{"status"},
		),
		BytesRelayedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wsclip_bytes_relayed_total",
				Help: "Total payload bytes relayed between peers.",
			},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wsclip_errors_total",
				Help: "Protocol errors by catalog code.",
			},
			[]string{"code"},
		),
		BuildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wsclip_info",
				Help: "Build information.",
			},
			[]string{"version", "go_version"},
		),
	}

	reg.MustRegister(
		m.ConnectionsTotal,
		m.ActiveConnections,
		m.ActiveChannels,
		m.UpgradesRejected,
		m.MessagesRelayedTotal,
		m.BytesRelayedTotal,
		m.ErrorsTotal,
		m.BuildInfo,
	)

	m.BuildInfo.WithLabelValues(version, goVersion).Set(1)
	return m
}
