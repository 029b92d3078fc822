package gateway

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the gateway's prometheus collectors
type Metrics struct {
	OnlineUsers   prometheus.Gauge
	Connections   prometheus.Gauge
	Events        *prometheus.CounterVec
	DroppedEvents *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OnlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "estatechat",
			Subsystem: "gateway",
			Name:      "online_users",
			Help:      "Users with at least one open connection.",
		}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "estatechat",
			Subsystem: "gateway",
			Name:      "connections",
			Help:      "Open websocket connections.",
		}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "estatechat",
			Subsystem: "gateway",
			Name:      "events_total",
			Help:      "Events received from clients by name.",
		}, []string{"event"}),
		DroppedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "estatechat",
			Subsystem: "gateway",
			Name:      "dropped_events_total",
			Help:      "Events that were not delivered or not handled.",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(m.OnlineUsers, m.Connections, m.Events, m.DroppedEvents)
	}
	return m
}
