package metrics

import "github.com/prometheus/client_golang/prometheus"

// RealtimeMetrics holds Prometheus metrics for the live delivery hub.
type RealtimeMetrics struct {
	ActiveConnections  prometheus.Gauge
	AuthenticatedUsers prometheus.Gauge
	MessagesSent       prometheus.Counter
	Broadcasts         prometheus.Counter
	SlowClientsEvicted prometheus.Counter
	ProtocolErrors     prometheus.Counter
}

// NewRealtimeMetrics creates and registers hub metrics on the given registry.
func NewRealtimeMetrics(reg prometheus.Registerer) *RealtimeMetrics {
	m := &RealtimeMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "active_connections",
			Help:      "Number of live WebSocket connections.",
		}),
		AuthenticatedUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "authenticated_users",
			Help:      "Number of users with at least one live connection.",
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "messages_sent_total",
			Help:      "Total messages written to live connections.",
		}),
		Broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "broadcasts_total",
			Help:      "Total broadcast dispatches.",
		}),
		SlowClientsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "slow_clients_evicted_total",
			Help:      "Connections dropped because their send buffer was full.",
		}),
		ProtocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "protocol_errors_total",
			Help:      "Inbound messages rejected as unparseable or unknown.",
		}),
	}

	reg.MustRegister(
		m.ActiveConnections,
		m.AuthenticatedUsers,
		m.MessagesSent,
		m.Broadcasts,
		m.SlowClientsEvicted,
		m.ProtocolErrors,
	)
	return m
}
