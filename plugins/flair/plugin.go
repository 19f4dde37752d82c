package flair

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"

	"github.com/joshp123/flairbridge/internal/config"
	"github.com/joshp123/flairbridge/internal/core"
	"github.com/joshp123/flairbridge/internal/oauth"
	"github.com/joshp123/flairbridge/internal/rate"
)

const PluginID = "flair"

//go:embed dashboard.json
var dashboardJSON []byte

// Plugin implements the bridge plugin contract for the Flair cloud.
type Plugin struct {
	log             logr.Logger
	oauth           *oauth.Manager
	refreshInterval time.Duration
	platform        *Platform
	metrics         *Metrics

	mu            sync.RWMutex
	health        core.HealthStatus
	healthMessage string
	cancel        context.CancelFunc
}

// OAuthManager builds the token manager for the configured Flair account.
func OAuthManager(cfg *config.Config) (*oauth.Manager, error) {
	creds, err := cfg.Flair.Credentials()
	if err != nil {
		return nil, err
	}
	blob, err := oauth.NewBlobStore(cfg.OAuth.Blob)
	if err != nil {
		return nil, err
	}
	flow := oauth.FlowPassword
	if creds.Username == "" {
		flow = oauth.FlowClientCredentials
	}
	return oauth.NewManager(oauth.Declaration{
		Provider:  PluginID,
		Flow:      flow,
		TokenURL:  cfg.Flair.TokenURL,
		Scope:     oauth.FlairScope,
		StatePath: cfg.OAuth.StatePath,
	}, oauth.BootstrapFromCredentials(creds), blob)
}

// RateLimit is the request budget every Flair call goes through.
func RateLimit(cfg config.FlairConfig) rate.Declaration {
	return rate.Provider(PluginID).
		MaxRequestsPer(rate.Minute, cfg.MaxRequestsPerMinute).
		CacheFor(time.Duration(cfg.CacheTTLSeconds) * time.Second).
		WaitUpTo(5 * time.Second).
		ReadHeaders(rate.StandardHeaders())
}

// NewPlugin wires the OAuth manager, the rate-limited client and the
// platform. Configuration problems surface through Health.
func NewPlugin(log logr.Logger, cfg *config.Config, host Host, health HealthReporter) *Plugin {
	p := &Plugin{log: log.WithName("plugin"), metrics: NewMetrics(), health: core.HealthHealthy}
	opts, err := OptionsFromConfig(cfg.Flair)
	if err != nil {
		p.fail(err)
		return p
	}
	manager, err := OAuthManager(cfg)
	if err != nil {
		p.fail(err)
		return p
	}
	p.oauth = manager
	p.refreshInterval = oauth.RefreshInterval(cfg.OAuth)

	httpClient := rate.WrapHTTP(RateLimit(cfg.Flair), &http.Client{Timeout: 20 * time.Second})
	client := NewClient(cfg.Flair.BaseURL, manager, httpClient, cfg.Flair.StructureID)
	p.platform = NewPlatform(log, client, host, opts, WithHealth(health), WithMetrics(p.metrics))
	return p
}

func (p *Plugin) ID() string {
	return PluginID
}

func (p *Plugin) Manifest() core.Manifest {
	return core.Manifest{
		PluginID:    PluginID,
		DisplayName: "Flair",
		Version:     "0.1.0",
		Services:    []string{"grpc.health.v1.Health"},
	}
}

func (p *Plugin) Dashboards() []core.Dashboard {
	return []core.Dashboard{{Name: "flair-overview", JSON: dashboardJSON}}
}

// RegisterGRPC is a no-op; device state is served through the health
// registry and the HTTP surface.
func (p *Plugin) RegisterGRPC(*grpc.Server) {}

func (p *Plugin) Collectors() []prometheus.Collector {
	out := p.metrics.Collectors()
	if p.platform != nil {
		out = append(out, NewReadingsCollector(p.platform))
	}
	return out
}

func (p *Plugin) Health() core.HealthStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.health
}

func (p *Plugin) HealthMessage() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.healthMessage
}

// Platform exposes the reconciler, nil when configuration failed.
func (p *Plugin) Platform() *Platform {
	return p.platform
}

func (p *Plugin) Start(ctx context.Context) error {
	if p.platform == nil {
		return errors.New(p.HealthMessage())
	}
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	p.oauth.StartWithInterval(ctx, p.refreshInterval)
	if err := p.platform.Start(ctx); err != nil {
		p.fail(err)
		return err
	}
	return nil
}

func (p *Plugin) Stop() {
	if p.platform != nil {
		p.platform.Stop()
	}
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()
}

// Reconcile runs one pass and records a partial failure as degraded health.
func (p *Plugin) Reconcile(ctx context.Context) (Result, error) {
	if p.platform == nil {
		return Result{}, errors.New(p.HealthMessage())
	}
	res, err := p.platform.Reconcile(ctx)
	p.mu.Lock()
	if err != nil {
		p.health, p.healthMessage = core.HealthDegraded, err.Error()
	} else {
		p.health, p.healthMessage = core.HealthHealthy, ""
	}
	p.mu.Unlock()
	return res, err
}

func (p *Plugin) RegisterHTTP(mux *http.ServeMux) {
	mux.HandleFunc("POST /reconcile", p.handleReconcile)
	mux.HandleFunc("GET /flair/devices", p.handleDevices)
	mux.HandleFunc("GET /flair/structure", p.handleStructure)
}

type reconcileResponse struct {
	Result
	Error string `json:"error,omitempty"`
}

func (p *Plugin) handleReconcile(w http.ResponseWriter, r *http.Request) {
	res, err := p.Reconcile(r.Context())
	out := reconcileResponse{Result: res}
	status := http.StatusOK
	if err != nil {
		out.Error = err.Error()
		status = http.StatusBadGateway
	}
	writeJSON(w, status, out)
}

func (p *Plugin) handleDevices(w http.ResponseWriter, _ *http.Request) {
	if p.platform == nil {
		http.Error(w, p.HealthMessage(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, p.platform.Devices())
}

func (p *Plugin) handleStructure(w http.ResponseWriter, _ *http.Request) {
	if p.platform == nil {
		http.Error(w, p.HealthMessage(), http.StatusServiceUnavailable)
		return
	}
	st, ok := p.platform.Coordinator().Current()
	if !ok {
		http.Error(w, "structure not loaded", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (p *Plugin) fail(err error) {
	p.log.Error(err, "Flair plugin unavailable")
	p.mu.Lock()
	p.health, p.healthMessage = core.HealthError, err.Error()
	p.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
