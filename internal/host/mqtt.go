package host

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-logr/logr"

	"github.com/joshp123/flairbridge/internal/accessory"
	"github.com/joshp123/flairbridge/internal/config"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttPublishTimeout = 5 * time.Second
	mqttCommandTimeout = 30 * time.Second
)

// Commander applies user commands received from a publisher.
type Commander interface {
	Set(ctx context.Context, uuid string, service accessory.ServiceType, char accessory.Characteristic, value any) error
}

// MQTTBridge publishes accessories as retained topics and accepts commands:
//
//	<prefix>/status                                    online | offline (LWT)
//	<prefix>/accessories/<uuid>/config                 accessory metadata JSON
//	<prefix>/accessories/<uuid>/<service>/<char>       characteristic value JSON
//	<prefix>/accessories/<uuid>/<service>/<char>/set   command input
type MQTTBridge struct {
	client mqtt.Client
	prefix string
	qos    byte
	log    logr.Logger

	mu       sync.RWMutex
	commands Commander
}

// NewMQTTBridge builds a paho client for broker. It does not connect.
func NewMQTTBridge(log logr.Logger, cfg config.MQTTConfig, broker string) *MQTTBridge {
	b := &MQTTBridge{
		prefix: cfg.TopicPrefix,
		qos:    cfg.QoS,
		log:    log.WithName("mqtt"),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetOrderMatters(false)
	opts.SetWill(b.statusTopic(), "offline", cfg.QoS, true)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		b.onConnect()
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		b.log.Error(err, "MQTT connection lost")
	})

	b.client = mqtt.NewClient(opts)
	return b
}

func newMQTTBridgeWithClient(log logr.Logger, client mqtt.Client, prefix string, qos byte) *MQTTBridge {
	return &MQTTBridge{client: client, prefix: prefix, qos: qos, log: log}
}

// Start connects and subscribes to command topics routed to commands.
func (b *MQTTBridge) Start(commands Commander) error {
	b.mu.Lock()
	b.commands = commands
	b.mu.Unlock()

	if b.client.IsConnected() {
		b.onConnect()
		return nil
	}
	token := b.client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return fmt.Errorf("mqtt connect: timeout after %v", mqttConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

func (b *MQTTBridge) Close() {
	if b.client.IsConnected() {
		b.wait(b.client.Publish(b.statusTopic(), b.qos, true, "offline"), b.statusTopic())
	}
	b.client.Disconnect(250)
}

func (b *MQTTBridge) onConnect() {
	b.wait(b.client.Publish(b.statusTopic(), b.qos, true, "online"), b.statusTopic())

	b.mu.RLock()
	commands := b.commands
	b.mu.RUnlock()
	if commands == nil {
		return
	}
	topic := b.prefix + "/accessories/+/+/+/set"
	b.wait(b.client.Subscribe(topic, b.qos, b.handleSet), topic)
	b.log.Info("Subscribed to commands", "topic", topic)
}

func (b *MQTTBridge) Announce(_ context.Context, snap accessory.Snapshot) error {
	payload, err := json.Marshal(announcement{
		UUID:        snap.UUID,
		DisplayName: snap.DisplayName,
		Category:    snap.Category,
		Services:    snap.Services,
		Writable:    snap.Writable,
	})
	if err != nil {
		return fmt.Errorf("encode announcement: %w", err)
	}
	topic := b.configTopic(snap.UUID)
	if err := b.wait(b.client.Publish(topic, b.qos, true, payload), topic); err != nil {
		return err
	}
	for service, values := range snap.Services {
		for char, value := range values {
			b.Publish(snap, service, char, value)
		}
	}
	return nil
}

func (b *MQTTBridge) Publish(snap accessory.Snapshot, service accessory.ServiceType, char accessory.Characteristic, value any) {
	payload, err := json.Marshal(value)
	if err != nil {
		b.log.Error(err, "Unencodable characteristic value", "uuid", snap.UUID, "service", service, "characteristic", char)
		return
	}
	topic := b.valueTopic(snap.UUID, service, char)
	_ = b.wait(b.client.Publish(topic, b.qos, true, payload), topic)
}

// Retract clears every retained topic of the accessory.
func (b *MQTTBridge) Retract(_ context.Context, snap accessory.Snapshot) error {
	for service, values := range snap.Services {
		for char := range values {
			topic := b.valueTopic(snap.UUID, service, char)
			_ = b.wait(b.client.Publish(topic, b.qos, true, []byte{}), topic)
		}
	}
	topic := b.configTopic(snap.UUID)
	return b.wait(b.client.Publish(topic, b.qos, true, []byte{}), topic)
}

func (b *MQTTBridge) handleSet(_ mqtt.Client, msg mqtt.Message) {
	uuid, service, char, ok := parseSetTopic(b.prefix, msg.Topic())
	if !ok {
		b.log.V(1).Info("Ignoring unexpected command topic", "topic", msg.Topic())
		return
	}
	value := decodeValue(msg.Payload())

	b.mu.RLock()
	commands := b.commands
	b.mu.RUnlock()
	if commands == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), mqttCommandTimeout)
	defer cancel()
	if err := commands.Set(ctx, uuid, service, char, value); err != nil {
		b.log.Error(err, "Command failed", "uuid", uuid, "service", service, "characteristic", char, "value", value)
		return
	}
	b.log.V(1).Info("Command applied", "uuid", uuid, "service", service, "characteristic", char, "value", value)
}

func (b *MQTTBridge) wait(token mqtt.Token, topic string) error {
	if !token.WaitTimeout(mqttPublishTimeout) {
		err := fmt.Errorf("mqtt %s: timeout after %v", topic, mqttPublishTimeout)
		b.log.Error(err, "MQTT operation timed out")
		return err
	}
	if err := token.Error(); err != nil {
		b.log.Error(err, "MQTT operation failed", "topic", topic)
		return fmt.Errorf("mqtt %s: %w", topic, err)
	}
	return nil
}

func (b *MQTTBridge) statusTopic() string {
	return b.prefix + "/status"
}

func (b *MQTTBridge) configTopic(uuid string) string {
	return b.prefix + "/accessories/" + uuid + "/config"
}

func (b *MQTTBridge) valueTopic(uuid string, service accessory.ServiceType, char accessory.Characteristic) string {
	return b.prefix + "/accessories/" + uuid + "/" + string(service) + "/" + string(char)
}

func parseSetTopic(prefix, topic string) (string, accessory.ServiceType, accessory.Characteristic, bool) {
	rest, ok := strings.CutPrefix(topic, prefix+"/accessories/")
	if !ok {
		return "", "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 4 || parts[3] != "set" || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", false
	}
	return parts[0], accessory.ServiceType(parts[1]), accessory.Characteristic(parts[2]), true
}

// decodeValue accepts JSON scalars and falls back to the raw string.
func decodeValue(payload []byte) any {
	var v any
	if err := json.Unmarshal(payload, &v); err == nil {
		return v
	}
	return strings.TrimSpace(string(payload))
}

type announcement struct {
	UUID        string                                                     `json:"uuid"`
	DisplayName string                                                     `json:"display_name"`
	Category    string                                                     `json:"category"`
	Services    map[accessory.ServiceType]map[accessory.Characteristic]any `json:"services"`
	Writable    map[accessory.ServiceType][]accessory.Characteristic       `json:"writable,omitempty"`
}
