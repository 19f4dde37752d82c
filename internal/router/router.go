package router

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"

	"github.com/joshp123/flairbridge/internal/core"
	"github.com/joshp123/flairbridge/internal/server"
)

// RegisterPlugins registers the health service and plugin services on the gRPC server.
func RegisterPlugins(s *grpc.Server, plugins []core.Plugin, health *core.HealthRegistry) {
	health.RegisterGRPC(s)

	for _, p := range plugins {
		p.RegisterGRPC(s)
	}
}

// HTTP assembles the HTTP surface: health, metrics, dashboards, the
// accessory API and any plugin routes.
func HTTP(plugins []core.Plugin, health *core.HealthRegistry, metrics *prometheus.Registry, accessories server.Accessories) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /health", server.HealthHandler(health))
	mux.Handle("GET /metrics", server.MetricsHandler(metrics))
	mux.Handle("GET /dashboards/", server.DashboardsHandler(core.DashboardsMap(plugins)))
	server.RegisterAccessories(mux, accessories)

	for _, p := range plugins {
		if r, ok := p.(core.HTTPRegistrant); ok {
			r.RegisterHTTP(mux)
		}
	}
	return mux
}
