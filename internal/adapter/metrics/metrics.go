// Package metrics defines the coordinator's Prometheus collectors. Every
// collector lives under the "signage" namespace; each constructor registers
// its own set against the registerer it is given.
package metrics

import (
	"net/http"

	"github.com/crxwnd/digitalizacionTV/internal/platform/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "signage"

// NewRegistry returns a private registry carrying runtime, process and build
// info collectors. A private registry keeps tests free of global state.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()

	info := version.Get()
	build := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build of the running coordinator; always 1.",
		ConstLabels: prometheus.Labels{
			"version":    info.Version,
			"commit":     info.Commit,
			"go_version": info.GoVersion,
		},
	})
	build.Set(1)

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		build,
	)
	return reg
}

// Handler serves reg in the text exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		Registry:          reg,
		ErrorHandling:     promhttp.ContinueOnError,
		EnableOpenMetrics: false,
	})
}
