// Package history records characteristic changes as InfluxDB points.
package history

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/joshp123/flairbridge/internal/accessory"
	"github.com/joshp123/flairbridge/internal/config"
)

const (
	Measurement = "flair_characteristic"
	pingTimeout = 5 * time.Second
)

// Writer is a host publisher that batches numeric values into InfluxDB.
type Writer struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	log      logr.Logger
	now      func() time.Time
}

// NewWriter connects to InfluxDB. An unreachable server is logged, not fatal;
// the write API buffers and retries.
func NewWriter(ctx context.Context, log logr.Logger, cfg config.InfluxDBConfig) *Writer {
	log = log.WithName("influxdb")
	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(cfg.BatchSize).
			SetFlushInterval(cfg.FlushIntervalMS),
	)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if ok, err := client.Ping(pingCtx); err != nil || !ok {
		log.Error(err, "InfluxDB not reachable; points will be buffered", "url", cfg.URL)
	}

	w := &Writer{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		log:      log,
		now:      time.Now,
	}
	go w.drainErrors()
	return w
}

func (w *Writer) drainErrors() {
	for err := range w.writeAPI.Errors() {
		w.log.Error(err, "InfluxDB write failed")
	}
}

// Announce records the accessory's current values.
func (w *Writer) Announce(_ context.Context, snap accessory.Snapshot) error {
	ts := w.now()
	for service, values := range snap.Services {
		for char, value := range values {
			if p := Point(snap, service, char, value, ts); p != nil {
				w.writeAPI.WritePoint(p)
			}
		}
	}
	return nil
}

func (w *Writer) Publish(snap accessory.Snapshot, service accessory.ServiceType, char accessory.Characteristic, value any) {
	if p := Point(snap, service, char, value, w.now()); p != nil {
		w.writeAPI.WritePoint(p)
	}
}

// Retract is a no-op; history outlives the accessory.
func (w *Writer) Retract(context.Context, accessory.Snapshot) error {
	return nil
}

func (w *Writer) Close() {
	w.writeAPI.Flush()
	w.client.Close()
}

// Point builds the InfluxDB point for one characteristic value, or nil when
// the value is not numeric.
func Point(snap accessory.Snapshot, service accessory.ServiceType, char accessory.Characteristic, value any, ts time.Time) *write.Point {
	if service == accessory.ServiceAccessoryInformation {
		return nil
	}
	if _, ok := value.(string); ok {
		return nil
	}
	f, err := accessory.Float(value)
	if err != nil {
		return nil
	}
	return write.NewPoint(
		Measurement,
		map[string]string{
			"uuid":           snap.UUID,
			"accessory":      snap.DisplayName,
			"category":       snap.Category,
			"service":        string(service),
			"characteristic": string(char),
		},
		map[string]interface{}{"value": f},
		ts,
	)
}
