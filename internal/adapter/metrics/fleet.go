package metrics

import "github.com/prometheus/client_golang/prometheus"

// FleetMetrics covers heartbeats, the liveness sweep, and remote control.
type FleetMetrics struct {
	Heartbeats      *prometheus.CounterVec
	SweepDuration   prometheus.Histogram
	SweepRuns       *prometheus.CounterVec
	ScreensDemoted  prometheus.Counter
	RemoteCommands  *prometheus.CounterVec
	CaptureRequests *prometheus.CounterVec
	CaptureDuration prometheus.Histogram
}

func NewFleetMetrics(reg prometheus.Registerer) *FleetMetrics {
	m := &FleetMetrics{
		Heartbeats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Heartbeats received, by result.",
		}, []string{"result"}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "liveness",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of liveness sweeps.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		SweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "liveness",
			Name:      "sweeps_total",
			Help:      "Liveness sweeps, by result.",
		}, []string{"result"}),
		ScreensDemoted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "liveness",
			Name:      "screens_demoted_total",
			Help:      "Screens flipped to offline by the sweep.",
		}),
		RemoteCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "commands_total",
			Help:      "Remote control commands forwarded, by action.",
		}, []string{"action"}),
		CaptureRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "capture_requests_total",
			Help:      "Capture requests, by outcome.",
		}, []string{"outcome"}),
		CaptureDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "capture_duration_seconds",
			Help:      "Time from capture request to reply or timeout.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 10},
		}),
	}

	reg.MustRegister(m.Heartbeats, m.SweepDuration, m.SweepRuns, m.ScreensDemoted,
		m.RemoteCommands, m.CaptureRequests, m.CaptureDuration)
	return m
}
