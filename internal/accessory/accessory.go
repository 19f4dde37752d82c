// Package accessory models the exposed surface of a bridged device: an
// identity, a category tag, an opaque context blob, and a set of services
// holding characteristic values and command handlers.
package accessory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

var (
	ErrServiceNotFound = errors.New("service not found")
	ErrReadOnly        = errors.New("characteristic is read-only")
)

// Host is the runtime that persists and exposes accessories.
type Host interface {
	Register(ctx context.Context, acc *Accessory) error
	Unregister(ctx context.Context, acc *Accessory) error
	Update(ctx context.Context, acc *Accessory) error
}

// Observer receives every characteristic change that alters a value.
type Observer interface {
	CharacteristicChanged(acc *Accessory, service ServiceType, char Characteristic, value any)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(acc *Accessory, service ServiceType, char Characteristic, value any)

func (f ObserverFunc) CharacteristicChanged(acc *Accessory, service ServiceType, char Characteristic, value any) {
	f(acc, service, char, value)
}

// SetHandler applies a user command. It must not write the characteristic
// itself; confirmed state arrives through Service.Update.
type SetHandler func(ctx context.Context, value any) error

type Accessory struct {
	UUID        string
	DisplayName string
	Category    string

	mu       sync.RWMutex
	context  json.RawMessage
	services map[ServiceType]*Service
	observer Observer
}

// New creates an accessory exposing only AccessoryInformation.
func New(uuid, displayName, category string) *Accessory {
	a := &Accessory{
		UUID:        uuid,
		DisplayName: displayName,
		Category:    category,
		services:    make(map[ServiceType]*Service),
	}
	a.AddService(ServiceAccessoryInformation).Update(Name, displayName)
	return a
}

// Context returns a copy of the persisted context blob.
func (a *Accessory) Context() json.RawMessage {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append(json.RawMessage(nil), a.context...)
}

func (a *Accessory) SetContext(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}
	a.mu.Lock()
	a.context = data
	a.mu.Unlock()
	return nil
}

func (a *Accessory) DecodeContext(v any) error {
	raw := a.Context()
	if len(raw) == 0 {
		return fmt.Errorf("accessory %s has no context", a.UUID)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode context: %w", err)
	}
	return nil
}

// SetObserver replaces the change observer; nil detaches it.
func (a *Accessory) SetObserver(o Observer) {
	a.mu.Lock()
	a.observer = o
	a.mu.Unlock()
}

// Service returns the service of type t, or nil.
func (a *Accessory) Service(t ServiceType) *Service {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.services[t]
}

// AddService returns the existing service of type t or creates it.
func (a *Accessory) AddService(t ServiceType) *Service {
	a.mu.Lock()
	defer a.mu.Unlock()
	if svc, ok := a.services[t]; ok {
		return svc
	}
	svc := &Service{
		Type:     t,
		acc:      a,
		values:   make(map[Characteristic]any),
		handlers: make(map[Characteristic]SetHandler),
	}
	a.services[t] = svc
	return svc
}

// RemoveService drops the service and its handlers. It reports whether it existed.
func (a *Accessory) RemoveService(t ServiceType) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.services[t]; !ok {
		return false
	}
	delete(a.services, t)
	return true
}

// ServiceTypes lists exposed services in name order.
func (a *Accessory) ServiceTypes() []ServiceType {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]ServiceType, 0, len(a.services))
	for t := range a.services {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Set routes a user command to the characteristic's handler.
func (a *Accessory) Set(ctx context.Context, service ServiceType, char Characteristic, value any) error {
	svc := a.Service(service)
	if svc == nil {
		return fmt.Errorf("%s on %s: %w", service, a.DisplayName, ErrServiceNotFound)
	}
	return svc.Set(ctx, char, value)
}

// Value reads one characteristic.
func (a *Accessory) Value(service ServiceType, char Characteristic) (any, bool) {
	svc := a.Service(service)
	if svc == nil {
		return nil, false
	}
	return svc.Value(char)
}

func (a *Accessory) notify(service ServiceType, char Characteristic, value any) {
	a.mu.RLock()
	o := a.observer
	a.mu.RUnlock()
	if o != nil {
		o.CharacteristicChanged(a, service, char, value)
	}
}

type Service struct {
	Type ServiceType

	acc      *Accessory
	mu       sync.RWMutex
	values   map[Characteristic]any
	handlers map[Characteristic]SetHandler
}

// Update stores value and notifies the observer when it changed.
func (s *Service) Update(char Characteristic, value any) *Service {
	s.mu.Lock()
	old, ok := s.values[char]
	changed := !ok || !reflect.DeepEqual(old, value)
	s.values[char] = value
	s.mu.Unlock()

	if changed {
		s.acc.notify(s.Type, char, value)
	}
	return s
}

func (s *Service) Value(char Characteristic) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[char]
	return v, ok
}

// Values returns a copy of every characteristic value.
func (s *Service) Values() map[Characteristic]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Characteristic]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// OnSet installs the command handler for char, replacing any previous one.
func (s *Service) OnSet(char Characteristic, h SetHandler) *Service {
	s.mu.Lock()
	s.handlers[char] = h
	s.mu.Unlock()
	return s
}

// Writable reports whether char accepts commands.
func (s *Service) Writable(char Characteristic) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.handlers[char]
	return ok
}

func (s *Service) Set(ctx context.Context, char Characteristic, value any) error {
	s.mu.RLock()
	h, ok := s.handlers[char]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s.%s: %w", s.Type, char, ErrReadOnly)
	}
	return h(ctx, value)
}
