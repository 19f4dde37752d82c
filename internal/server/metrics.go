package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsHandler exposes the bridge registry plus scrape statistics about
// the handler itself. Collection errors are served as partial results.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		ErrorHandling:     promhttp.ContinueOnError,
		Registry:          registry,
		EnableOpenMetrics: true,
	})
	return promhttp.InstrumentMetricHandler(registry, handler)
}
