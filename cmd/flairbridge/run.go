package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/joshp123/flairbridge/internal/config"
	"github.com/joshp123/flairbridge/internal/core"
	"github.com/joshp123/flairbridge/internal/history"
	"github.com/joshp123/flairbridge/internal/host"
	"github.com/joshp123/flairbridge/internal/logging"
	"github.com/joshp123/flairbridge/internal/oauth"
	"github.com/joshp123/flairbridge/internal/plugins"
	"github.com/joshp123/flairbridge/internal/rate"
	"github.com/joshp123/flairbridge/internal/router"
	"github.com/joshp123/flairbridge/internal/server"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bridge daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, closer, err := logging.New(cfg.Log)
		if err != nil {
			return err
		}
		defer closer.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return run(ctx, log, cfg)
	},
}

func run(ctx context.Context, log logr.Logger, cfg *config.Config) error {
	store, err := host.OpenStore(log, cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open accessory store: %w", err)
	}
	defer store.Close()

	accessories := host.New(log, store)

	if cfg.InfluxDB.Enabled {
		writer := history.NewWriter(ctx, log, cfg.InfluxDB)
		defer writer.Close()
		accessories.AddPublisher(ctx, writer)
	}

	if cfg.MQTT.IsEnabled() {
		brokerURL := cfg.MQTT.Broker
		if brokerURL == "" {
			broker, err := host.StartBroker(log, cfg.MQTT.EmbeddedListen)
			if err != nil {
				return fmt.Errorf("start embedded mqtt broker: %w", err)
			}
			defer broker.Close()
			brokerURL = broker.URL()
		}
		bridge := host.NewMQTTBridge(log, cfg.MQTT, brokerURL)
		if err := bridge.Start(accessories); err != nil {
			return fmt.Errorf("connect mqtt: %w", err)
		}
		defer bridge.Close()
		accessories.AddPublisher(ctx, bridge)
	}

	health := core.NewHealthRegistry(nil)
	loaded := plugins.Compiled(plugins.Env{Log: log, Config: cfg, Host: accessories, Health: health})
	if err := core.ValidatePlugins(loaded); err != nil {
		return err
	}
	health.Track(loaded...)

	grpcServer, err := server.NewGRPCServer(cfg.Core.GRPCAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	router.RegisterPlugins(grpcServer.Server, loaded, health)

	shared := append(oauth.MetricsCollectors(), rate.MetricsCollectors()...)
	shared = append(shared, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "flairbridge_build_info",
		Help:        "Build information",
		ConstLabels: prometheus.Labels{"commit": Commit},
	}, func() float64 { return 1 }))
	metrics := core.MetricsRegistry(loaded, shared...)

	httpServer := server.NewHTTPServer(cfg.Core.HTTPAddr, router.HTTP(loaded, health, metrics, accessories))

	for _, p := range loaded {
		r, ok := p.(core.Runner)
		if !ok {
			continue
		}
		if err := r.Start(ctx); err != nil {
			log.Error(err, "Plugin failed to start", "plugin", p.ID())
			continue
		}
		defer r.Stop()
	}
	health.SyncPlugins()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP listening", "addr", cfg.Core.HTTPAddr)
		return httpServer.ListenAndServe()
	})
	g.Go(func() error {
		log.Info("gRPC listening", "addr", grpcServer.Addr())
		return grpcServer.Serve()
	})
	g.Go(func() error {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				health.SyncPlugins()
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")
		health.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		grpcServer.Stop()
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
