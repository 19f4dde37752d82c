// Package host is the accessory runtime: it persists registered
// accessories, restores them at startup, routes user commands to their
// handlers, and fans value changes out to publishers (MQTT, InfluxDB).
package host

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-logr/logr"

	"github.com/joshp123/flairbridge/internal/accessory"
)

var (
	ErrUnknownAccessory  = errors.New("unknown accessory")
	ErrAlreadyRegistered = errors.New("accessory already registered")
)

// Publisher mirrors accessories to an external surface.
type Publisher interface {
	Announce(ctx context.Context, snap accessory.Snapshot) error
	Publish(snap accessory.Snapshot, service accessory.ServiceType, char accessory.Characteristic, value any)
	Retract(ctx context.Context, snap accessory.Snapshot) error
}

// Persister is the storage Host writes through to.
type Persister interface {
	Save(ctx context.Context, snap accessory.Snapshot) error
	Delete(ctx context.Context, uuid string) error
	LoadAll(ctx context.Context) ([]accessory.Snapshot, error)
}

type Host struct {
	store Persister
	log   logr.Logger

	mu          sync.RWMutex
	accessories map[string]*accessory.Accessory
	surfaces    map[string]string
	publishers  []Publisher
}

func New(log logr.Logger, store Persister, publishers ...Publisher) *Host {
	return &Host{
		store:       store,
		log:         log.WithName("host"),
		accessories: make(map[string]*accessory.Accessory),
		surfaces:    make(map[string]string),
		publishers:  publishers,
	}
}

// AddPublisher attaches p and announces every registered accessory to it.
func (h *Host) AddPublisher(ctx context.Context, p Publisher) {
	h.mu.Lock()
	h.publishers = append(h.publishers, p)
	registered := h.registeredLocked()
	h.mu.Unlock()

	for _, acc := range registered {
		if err := p.Announce(ctx, acc.Snapshot()); err != nil {
			h.log.Error(err, "Announce failed", "uuid", acc.UUID)
		}
	}
}

// Restore loads every cached accessory, marks it registered, and hands it to
// configure. configure may call Unregister to drop it.
func (h *Host) Restore(ctx context.Context, configure func(context.Context, *accessory.Accessory)) error {
	snaps, err := h.store.LoadAll(ctx)
	if err != nil {
		return err
	}
	for _, snap := range snaps {
		acc := accessory.FromSnapshot(snap)
		h.attach(acc)
		h.announce(ctx, acc)
		h.log.V(1).Info("Restored cached accessory", "uuid", acc.UUID, "name", acc.DisplayName, "category", acc.Category)
		configure(ctx, acc)
	}
	return nil
}

func (h *Host) Register(ctx context.Context, acc *accessory.Accessory) error {
	h.mu.RLock()
	_, exists := h.accessories[acc.UUID]
	h.mu.RUnlock()
	if exists {
		return fmt.Errorf("%s (%s): %w", acc.DisplayName, acc.UUID, ErrAlreadyRegistered)
	}
	if err := h.store.Save(ctx, acc.Snapshot()); err != nil {
		return err
	}
	h.attach(acc)
	h.announce(ctx, acc)
	h.log.Info("Registered accessory", "uuid", acc.UUID, "name", acc.DisplayName, "category", acc.Category)
	return nil
}

func (h *Host) Unregister(ctx context.Context, acc *accessory.Accessory) error {
	acc.SetObserver(nil)
	h.mu.Lock()
	delete(h.accessories, acc.UUID)
	delete(h.surfaces, acc.UUID)
	publishers := append([]Publisher(nil), h.publishers...)
	h.mu.Unlock()

	snap := acc.Snapshot()
	for _, p := range publishers {
		if err := p.Retract(ctx, snap); err != nil {
			h.log.Error(err, "Retract failed", "uuid", acc.UUID)
		}
	}
	if err := h.store.Delete(ctx, acc.UUID); err != nil {
		return err
	}
	h.log.Info("Unregistered accessory", "uuid", acc.UUID, "name", acc.DisplayName, "category", acc.Category)
	return nil
}

// Update persists the accessory's current context and values, and
// re-announces it when its service set changed since the last announcement.
func (h *Host) Update(ctx context.Context, acc *accessory.Accessory) error {
	h.mu.RLock()
	_, ok := h.accessories[acc.UUID]
	announced := h.surfaces[acc.UUID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("update %s: %w", acc.UUID, ErrUnknownAccessory)
	}
	if err := h.store.Save(ctx, acc.Snapshot()); err != nil {
		return err
	}
	if surfaceKey(acc) != announced {
		h.announce(ctx, acc)
	}
	return nil
}

// Accessory returns a registered accessory by UUID.
func (h *Host) Accessory(uuid string) (*accessory.Accessory, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	acc, ok := h.accessories[uuid]
	return acc, ok
}

// Accessories lists registered accessories by display name.
func (h *Host) Accessories() []accessory.Snapshot {
	h.mu.RLock()
	registered := h.registeredLocked()
	h.mu.RUnlock()

	out := make([]accessory.Snapshot, 0, len(registered))
	for _, acc := range registered {
		out = append(out, acc.Snapshot())
	}
	return out
}

// Set routes a user command to a registered accessory.
func (h *Host) Set(ctx context.Context, uuid string, service accessory.ServiceType, char accessory.Characteristic, value any) error {
	acc, ok := h.Accessory(uuid)
	if !ok {
		return fmt.Errorf("%s: %w", uuid, ErrUnknownAccessory)
	}
	return acc.Set(ctx, service, char, value)
}

func (h *Host) CharacteristicChanged(acc *accessory.Accessory, service accessory.ServiceType, char accessory.Characteristic, value any) {
	h.mu.RLock()
	publishers := append([]Publisher(nil), h.publishers...)
	h.mu.RUnlock()
	if len(publishers) == 0 {
		return
	}
	snap := accessory.Snapshot{UUID: acc.UUID, DisplayName: acc.DisplayName, Category: acc.Category}
	for _, p := range publishers {
		p.Publish(snap, service, char, value)
	}
}

func (h *Host) attach(acc *accessory.Accessory) {
	h.mu.Lock()
	h.accessories[acc.UUID] = acc
	h.mu.Unlock()
	acc.SetObserver(h)
}

func (h *Host) announce(ctx context.Context, acc *accessory.Accessory) {
	h.mu.Lock()
	h.surfaces[acc.UUID] = surfaceKey(acc)
	publishers := append([]Publisher(nil), h.publishers...)
	h.mu.Unlock()
	snap := acc.Snapshot()
	for _, p := range publishers {
		if err := p.Announce(ctx, snap); err != nil {
			h.log.Error(err, "Announce failed", "uuid", acc.UUID)
		}
	}
}

func surfaceKey(acc *accessory.Accessory) string {
	types := acc.ServiceTypes()
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}

func (h *Host) registeredLocked() []*accessory.Accessory {
	out := make([]*accessory.Accessory, 0, len(h.accessories))
	for _, acc := range h.accessories {
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName == out[j].DisplayName {
			return out[i].UUID < out[j].UUID
		}
		return out[i].DisplayName < out[j].DisplayName
	})
	return out
}
