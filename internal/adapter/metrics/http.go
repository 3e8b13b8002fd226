package metrics

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics tracks the operator and device REST surface by route template.
type HTTPMetrics struct {
	RequestDuration *prometheus.HistogramVec
	RequestsTotal   *prometheus.CounterVec
	InFlight        prometheus.Gauge
}

var requestLabels = []string{"method", "route", "status_code"}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency of REST requests by route template.",
			// Upper buckets cover the capture route, which blocks until the
			// screen replies or the capture timeout fires.
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10},
		}, requestLabels),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "REST requests by route template and status.",
		}, requestLabels),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "REST requests currently being served.",
		}),
	}

	reg.MustRegister(m.RequestDuration, m.RequestsTotal, m.InFlight)
	return m
}

// untracked reports routes that are not part of the REST surface: probes,
// the scrape endpoint itself, and socket upgrades whose "duration" is the
// whole session.
func untracked(route string) bool {
	switch {
	case route == "" || route == "/metrics" || route == "/version":
		return true
	case strings.HasPrefix(route, "/health/"), strings.HasPrefix(route, "/ws/"):
		return true
	}
	return false
}

// Middleware observes each REST request under its route template, so
// /api/screens/:id is one series regardless of the id.
func (m *HTTPMetrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := c.Path()
			if untracked(route) {
				return next(c)
			}

			m.InFlight.Inc()
			start := time.Now()
			err := next(c)
			m.InFlight.Dec()

			labels := prometheus.Labels{
				"method":      c.Request().Method,
				"route":       route,
				"status_code": strconv.Itoa(statusOf(c, err)),
			}
			m.RequestDuration.With(labels).Observe(time.Since(start).Seconds())
			m.RequestsTotal.With(labels).Inc()
			return err
		}
	}
}

// statusOf prefers an unwritten echo.HTTPError's code; the central error
// handler writes those after the middleware chain has returned.
func statusOf(c echo.Context, err error) int {
	var httpErr *echo.HTTPError
	if !c.Response().Committed && errors.As(err, &httpErr) {
		return httpErr.Code
	}
	return c.Response().Status
}
