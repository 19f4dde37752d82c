package flair

import (
	"context"

	"github.com/go-logr/logr"

	"github.com/joshp123/flairbridge/internal/accessory"
)

// Synchronizer bridges one remote device and its accessory.
type Synchronizer interface {
	Kind() Kind
	Accessory() *accessory.Accessory
	// Device returns the last confirmed snapshot.
	Device() Device
	// Refresh polls the device. On failure the previous snapshot is
	// returned together with the error and no characteristic changes.
	Refresh(ctx context.Context) (Device, error)
}

// HealthReporter records per-device serving status.
type HealthReporter interface {
	SetServing(service string, ok bool)
	Remove(service string)
}

type nopHealth struct{}

func (nopHealth) SetServing(string, bool) {}
func (nopHealth) Remove(string)           {}

// deps are shared by every synchronizer of a platform.
type deps struct {
	api     API
	host    accessory.Host
	log     logr.Logger
	health  HealthReporter
	metrics *Metrics
}

type base struct {
	deps
	acc  *accessory.Accessory
	kind Kind
	id   string
}

func newBase(d deps, acc *accessory.Accessory, dev Device) base {
	b := base{deps: d, acc: acc, kind: dev.Kind, id: dev.ID()}
	b.log = d.log.WithValues("kind", dev.Kind, "id", dev.ID(), "name", acc.DisplayName)
	return b
}

func (b *base) Kind() Kind                      { return b.kind }
func (b *base) Accessory() *accessory.Accessory { return b.acc }

// commit stores the confirmed snapshot as the accessory context and persists it.
func (b *base) commit(ctx context.Context, dev Device) {
	if err := b.acc.SetContext(dev); err != nil {
		b.log.Error(err, "Failed to encode accessory context")
		return
	}
	if err := b.host.Update(ctx, b.acc); err != nil {
		b.log.V(1).Info("Accessory update not persisted", "error", err.Error())
	}
}

// polled records the outcome of a poll. It reports false once ctx is
// cancelled: the accessory was evicted and the reading must not be applied.
func (b *base) polled(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	service := healthService(b.kind, b.id)
	b.health.SetServing(service, err == nil)
	if ctx.Err() != nil {
		// Eviction cancels before it removes the service.
		b.health.Remove(service)
		return false
	}
	b.metrics.poll(b.kind, err)
	if err != nil {
		b.log.V(1).Info("Poll failed, keeping last reading", "error", err.Error())
	}
	return true
}

func (b *base) commanded(command string, err error) {
	b.metrics.command(b.kind, command, err)
	if err != nil {
		b.log.Error(err, "Command failed", "command", command)
		return
	}
	b.log.V(1).Info("Command applied", "command", command)
}

func information(acc *accessory.Accessory, model, serial, firmware string) {
	svc := acc.AddService(accessory.ServiceAccessoryInformation)
	svc.Update(accessory.Name, acc.DisplayName)
	svc.Update(accessory.Manufacturer, "Flair")
	svc.Update(accessory.Model, model)
	svc.Update(accessory.SerialNumber, serial)
	if firmware != "" {
		svc.Update(accessory.FirmwareRevision, firmware)
	}
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
