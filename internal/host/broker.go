package host

import (
	"fmt"
	"log/slog"

	"github.com/go-logr/logr"
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
)

// Broker is the embedded MQTT broker used when no external broker is configured.
type Broker struct {
	server *mochi.Server
	addr   string
	log    logr.Logger
}

// StartBroker listens on addr and serves in the background.
func StartBroker(log logr.Logger, addr string) (*Broker, error) {
	log = log.WithName("broker")

	server := mochi.New(&mochi.Options{
		Capabilities: mochi.NewDefaultServerCapabilities(),
		InlineClient: true,
		Logger:       slog.New(logr.ToSlogHandler(log)),
	})
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		return nil, fmt.Errorf("add auth hook: %w", err)
	}
	tcp := listeners.NewTCP(listeners.Config{ID: "tcp", Address: addr})
	if err := server.AddListener(tcp); err != nil {
		return nil, fmt.Errorf("listen mqtt %s: %w", addr, err)
	}
	if err := server.Serve(); err != nil {
		return nil, fmt.Errorf("serve mqtt: %w", err)
	}
	log.Info("Embedded MQTT broker listening", "addr", addr)
	return &Broker{server: server, addr: addr, log: log}, nil
}

// URL is the address clients dial.
func (b *Broker) URL() string {
	return "tcp://" + b.addr
}

func (b *Broker) Clients() int {
	return len(b.server.Clients.GetAll())
}

func (b *Broker) Close() error {
	return b.server.Close()
}
