package core

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

type stubPlugin struct {
	id            string
	name          string
	version       string
	services      []string
	dashboards    []Dashboard
	collectors    []prometheus.Collector
	health        HealthStatus
	healthMessage string
}

func (s stubPlugin) ID() string { return s.id }

func (s stubPlugin) Manifest() Manifest {
	return Manifest{
		PluginID:    s.id,
		DisplayName: s.name,
		Version:     s.version,
		Services:    s.services,
	}
}

func (s stubPlugin) Dashboards() []Dashboard { return s.dashboards }

func (s stubPlugin) RegisterGRPC(*grpc.Server) {}

func (s stubPlugin) Collectors() []prometheus.Collector { return s.collectors }

func (s stubPlugin) Health() HealthStatus { return s.health }

func (s stubPlugin) HealthMessage() string { return s.healthMessage }

func newStubPlugin(id string) stubPlugin {
	return stubPlugin{
		id:         id,
		name:       "Demo",
		version:    "0.1.0",
		services:   []string{"grpc.health.v1.Health"},
		health:     HealthHealthy,
		dashboards: []Dashboard{{Name: "demo", JSON: []byte("{}")}},
	}
}

func check(t *testing.T, r *HealthRegistry, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := r.Server().Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q): %v", service, err)
	}
	return resp.Status
}

func TestHealthRegistryPlugins(t *testing.T) {
	broken := newStubPlugin("broken")
	broken.health = HealthError
	r := NewHealthRegistry([]Plugin{newStubPlugin("demo"), broken})

	if got := check(t, r, "demo"); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("demo status = %v", got)
	}
	if got := check(t, r, "broken"); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("broken status = %v", got)
	}
	if got := check(t, r, ""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("overall status = %v", got)
	}
}

func TestHealthRegistryAccessoryLifecycle(t *testing.T) {
	r := NewHealthRegistry(nil)

	r.SetServing("flair/vents/V1", true)
	if got := check(t, r, "flair/vents/V1"); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("status = %v", got)
	}
	r.SetServing("flair/vents/V1", false)
	if got := check(t, r, "flair/vents/V1"); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("status after failure = %v", got)
	}

	snap := r.Snapshot()
	if len(snap) != 1 || snap[0].Service != "flair/vents/V1" || snap[0].Status != "NOT_SERVING" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	r.Remove("flair/vents/V1")
	if len(r.Snapshot()) != 0 {
		t.Fatalf("expected empty snapshot after remove")
	}
	if got := check(t, r, "flair/vents/V1"); got != healthpb.HealthCheckResponse_SERVICE_UNKNOWN {
		t.Fatalf("status after remove = %v", got)
	}
}

func TestHealthRegistryUnknownService(t *testing.T) {
	r := NewHealthRegistry(nil)
	_, err := r.Server().Check(context.Background(), &healthpb.HealthCheckRequest{Service: "nope"})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestValidatePlugins(t *testing.T) {
	if err := ValidatePlugins([]Plugin{newStubPlugin("flair")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidatePlugins([]Plugin{newStubPlugin("flair"), newStubPlugin("flair")}); err == nil {
		t.Fatalf("expected duplicate id error")
	}
	if err := ValidatePlugins([]Plugin{newStubPlugin("Flair")}); err == nil {
		t.Fatalf("expected pattern error")
	}
}

func TestDashboardsMap(t *testing.T) {
	dashboards := DashboardsMap([]Plugin{newStubPlugin("demo")})
	if _, ok := dashboards["/dashboards/demo/demo.json"]; !ok {
		t.Fatalf("unexpected dashboard paths: %v", dashboards)
	}
}

func TestMetricsRegistry(t *testing.T) {
	plugin := newStubPlugin("demo")
	plugin.collectors = []prometheus.Collector{prometheus.NewGauge(prometheus.GaugeOpts{Name: "demo_gauge", Help: "demo"})}
	shared := prometheus.NewCounter(prometheus.CounterOpts{Name: "shared_total", Help: "shared"})

	registry := MetricsRegistry([]Plugin{plugin}, shared)
	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) != 2 {
		t.Fatalf("expected 2 metric families, got %d", len(families))
	}
}

func TestHealthRegistryTrackLatePlugins(t *testing.T) {
	r := NewHealthRegistry(nil)
	broken := newStubPlugin("flair")
	broken.health = HealthError
	r.Track(broken)

	if got := check(t, r, "flair"); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("flair status = %v", got)
	}
	if got := check(t, r, ""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("overall status = %v", got)
	}
}
