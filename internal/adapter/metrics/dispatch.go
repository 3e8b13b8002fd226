package metrics

import "github.com/prometheus/client_golang/prometheus"

// DispatchMetrics covers session membership and event fan-out.
type DispatchMetrics struct {
	ActiveSessions      prometheus.Gauge
	EventsPublished     *prometheus.CounterVec
	Deliveries          prometheus.Counter
	SlowSessionsEvicted prometheus.Counter
	CommandQueueDepth   prometheus.Gauge
	Panics              prometheus.Counter
}

func NewDispatchMetrics(reg prometheus.Registerer) *DispatchMetrics {
	m := &DispatchMetrics{
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "active_sessions",
			Help:      "Connected transport sessions.",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "events_published_total",
			Help:      "Events handed to the dispatcher, by event name.",
		}, []string{"event"}),
		Deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "deliveries_total",
			Help:      "Per-session deliveries enqueued.",
		}),
		SlowSessionsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "slow_sessions_evicted_total",
			Help:      "Sessions dropped because their send buffer was full.",
		}),
		CommandQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "command_queue_depth",
			Help:      "Pending commands in the dispatcher loop.",
		}),
		Panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "panics_total",
			Help:      "Recovered panics in the dispatcher loop.",
		}),
	}

	reg.MustRegister(m.ActiveSessions, m.EventsPublished, m.Deliveries, m.SlowSessionsEvicted, m.CommandQueueDepth, m.Panics)
	return m
}
