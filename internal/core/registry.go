package core

import (
	"sort"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthRegistry publishes plugin and accessory health over grpc.health.v1.
// Plugins are keyed by their ID; accessories by "<plugin>/<kind>/<device-id>".
type HealthRegistry struct {
	server  *health.Server
	plugins []Plugin

	mu       sync.RWMutex
	statuses map[string]healthpb.HealthCheckResponse_ServingStatus
}

func NewHealthRegistry(plugins []Plugin) *HealthRegistry {
	r := &HealthRegistry{
		server:   health.NewServer(),
		plugins:  plugins,
		statuses: make(map[string]healthpb.HealthCheckResponse_ServingStatus),
	}
	r.SyncPlugins()
	return r
}

// Track adds plugins built after the registry and mirrors their health.
func (r *HealthRegistry) Track(plugins ...Plugin) {
	r.mu.Lock()
	r.plugins = append(r.plugins, plugins...)
	r.mu.Unlock()
	r.SyncPlugins()
}

// RegisterGRPC exposes the health service on the given server.
func (r *HealthRegistry) RegisterGRPC(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, r.server)
}

// Server exposes the underlying health server for in-process checks.
func (r *HealthRegistry) Server() healthpb.HealthServer {
	return r.server
}

// SyncPlugins mirrors each plugin's Health() into its serving status.
func (r *HealthRegistry) SyncPlugins() {
	r.mu.RLock()
	plugins := append([]Plugin(nil), r.plugins...)
	r.mu.RUnlock()

	overall := healthpb.HealthCheckResponse_SERVING
	for _, p := range plugins {
		status := healthpb.HealthCheckResponse_SERVING
		if p.Health() == HealthError {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			overall = healthpb.HealthCheckResponse_NOT_SERVING
		}
		r.set(p.ID(), status)
	}
	r.set("", overall)
}

// SetServing records the result of the latest check for service.
func (r *HealthRegistry) SetServing(service string, ok bool) {
	status := healthpb.HealthCheckResponse_SERVING
	if !ok {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	r.set(service, status)
}

// Remove forgets service. Watchers see SERVICE_UNKNOWN.
func (r *HealthRegistry) Remove(service string) {
	r.mu.Lock()
	delete(r.statuses, service)
	r.mu.Unlock()
	r.server.SetServingStatus(service, healthpb.HealthCheckResponse_SERVICE_UNKNOWN)
}

// Snapshot returns every known service with its status name, sorted by service.
func (r *HealthRegistry) Snapshot() []ServiceStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ServiceStatus, 0, len(r.statuses))
	for service, status := range r.statuses {
		if service == "" {
			continue
		}
		out = append(out, ServiceStatus{Service: service, Status: status.String()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}

// Shutdown flips every service to NOT_SERVING ahead of a graceful stop.
func (r *HealthRegistry) Shutdown() {
	r.server.Shutdown()
}

func (r *HealthRegistry) set(service string, status healthpb.HealthCheckResponse_ServingStatus) {
	r.mu.Lock()
	r.statuses[service] = status
	r.mu.Unlock()
	r.server.SetServingStatus(service, status)
}

// ServiceStatus is one row of a health snapshot.
type ServiceStatus struct {
	Service string `json:"service"`
	Status  string `json:"status"`
}
