package flair

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"

	"github.com/joshp123/flairbridge/internal/accessory"
)

// StructureListener is told about every confirmed structure snapshot.
type StructureListener interface {
	StructureChanged(Structure)
}

// Coordinator owns the structure snapshot. Every remote structure call runs
// under one mutation lock, so a mode change is never interleaved with another.
type Coordinator struct {
	api API
	log logr.Logger

	mutate sync.Mutex

	mu        sync.RWMutex
	current   *Structure
	listeners []StructureListener
}

func NewCoordinator(api API, log logr.Logger) *Coordinator {
	return &Coordinator{api: api, log: log.WithName("structure")}
}

// Current returns the cached structure without calling the API.
func (c *Coordinator) Current() (Structure, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return Structure{}, false
	}
	return *c.current, true
}

// Structure fetches the primary structure once and serves the cache after.
func (c *Coordinator) Structure(ctx context.Context) (Structure, error) {
	c.mutate.Lock()
	defer c.mutate.Unlock()
	return c.resolveLocked(ctx)
}

// SetMode applies the operating mode and then the heat/cool mode. The result
// is broadcast to every listener before SetMode returns.
func (c *Coordinator) SetMode(ctx context.Context, mode FlairMode, heatCool HeatCoolMode) (Structure, error) {
	c.mutate.Lock()
	defer c.mutate.Unlock()

	st, err := c.resolveLocked(ctx)
	if err != nil {
		return Structure{}, err
	}
	st, err = c.api.SetStructureMode(ctx, st.ID, mode)
	if err != nil {
		c.invalidate()
		return Structure{}, fmt.Errorf("set structure mode %s: %w", mode, err)
	}
	st, err = c.api.SetStructureHeatCoolMode(ctx, st.ID, heatCool)
	if err != nil {
		c.invalidate()
		return Structure{}, fmt.Errorf("set structure heat/cool mode %s: %w", heatCool, err)
	}
	c.log.Info("Structure mode set", "mode", st.Mode, "heat_cool_mode", st.StructureHeatCoolMode)
	c.publish(st)
	return st, nil
}

func (c *Coordinator) SetSetpoint(ctx context.Context, celsius float64) (Structure, error) {
	c.mutate.Lock()
	defer c.mutate.Unlock()

	st, err := c.resolveLocked(ctx)
	if err != nil {
		return Structure{}, err
	}
	st, err = c.api.SetStructureSetpoint(ctx, st.ID, celsius)
	if err != nil {
		c.invalidate()
		return Structure{}, fmt.Errorf("set structure setpoint: %w", err)
	}
	c.publish(st)
	return st, nil
}

// Refresh re-reads the structure and broadcasts it. A failure keeps the
// cached snapshot.
func (c *Coordinator) Refresh(ctx context.Context) (Structure, error) {
	c.mutate.Lock()
	defer c.mutate.Unlock()

	cached, ok := c.Current()
	var (
		st  Structure
		err error
	)
	if ok {
		st, err = c.api.ReadStructure(ctx, cached.ID)
	} else {
		st, err = c.api.PrimaryStructure(ctx)
	}
	if err != nil {
		c.log.V(1).Info("Structure refresh failed, keeping last reading", "error", err.Error())
		return cached, err
	}
	c.publish(st)
	return st, nil
}

func (c *Coordinator) AddListener(l StructureListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.listeners {
		if existing == l {
			return
		}
	}
	c.listeners = append(c.listeners, l)
}

func (c *Coordinator) RemoveListener(l StructureListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.listeners {
		if existing == l {
			c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
			return
		}
	}
}

// Listeners reports the roster size.
func (c *Coordinator) Listeners() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.listeners)
}

func (c *Coordinator) resolveLocked(ctx context.Context) (Structure, error) {
	if st, ok := c.Current(); ok {
		return st, nil
	}
	st, err := c.api.PrimaryStructure(ctx)
	if err != nil {
		return Structure{}, fmt.Errorf("get primary structure: %w", err)
	}
	c.mu.Lock()
	c.current = &st
	c.mu.Unlock()
	return st, nil
}

func (c *Coordinator) invalidate() {
	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
}

func (c *Coordinator) publish(st Structure) {
	c.mu.Lock()
	c.current = &st
	listeners := append([]StructureListener(nil), c.listeners...)
	c.mu.Unlock()
	for _, l := range listeners {
		l.StructureChanged(st)
	}
}

// StructureSync exposes the structure as a thermostat. It follows the
// coordinator's broadcasts instead of polling on its own.
type StructureSync struct {
	base
	coord *Coordinator

	mu        sync.Mutex
	structure Structure
}

func NewStructureSync(d deps, acc *accessory.Accessory, st Structure, coord *Coordinator) *StructureSync {
	s := &StructureSync{base: newBase(d, acc, StructureDevice(st)), coord: coord, structure: st}

	accessory.ApplySurface(acc, []accessory.ServiceType{accessory.ServiceThermostat})
	acc.Service(accessory.ServiceThermostat).
		OnSet(accessory.TargetTemperature, func(ctx context.Context, v any) error {
			celsius, err := accessory.Float(v)
			if err != nil {
				return err
			}
			_, err = coord.SetSetpoint(ctx, celsius)
			s.commanded("set_point", err)
			return err
		}).
		OnSet(accessory.TargetHeatingCoolingState, func(ctx context.Context, v any) error {
			state, err := accessory.Int(v)
			if err != nil {
				return err
			}
			mode, err := heatCoolFromTarget(state)
			if err != nil {
				return err
			}
			_, err = coord.SetMode(ctx, ModeAuto, mode)
			s.commanded("heat_cool_mode", err)
			return err
		})
	s.apply(st)
	return s
}

func (s *StructureSync) Device() Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StructureDevice(s.structure)
}

func (s *StructureSync) Refresh(ctx context.Context) (Device, error) {
	_, err := s.coord.Refresh(ctx)
	if !s.polled(ctx, err) {
		return s.Device(), ctx.Err()
	}
	if err != nil {
		return s.Device(), err
	}
	return s.Device(), nil
}

func (s *StructureSync) StructureChanged(st Structure) {
	if st.ID != s.id {
		return
	}
	s.apply(st)
	s.commit(context.Background(), StructureDevice(st))
}

func (s *StructureSync) apply(st Structure) {
	s.mu.Lock()
	s.structure = st
	s.mu.Unlock()

	information(s.acc, "Structure", st.ID, "")
	s.acc.Service(accessory.ServiceThermostat).
		Update(accessory.CurrentTemperature, st.SetPointTemperatureC).
		Update(accessory.TargetTemperature, st.SetPointTemperatureC).
		Update(accessory.TemperatureDisplayUnits, accessory.DisplayCelsius).
		Update(accessory.CurrentHeatingCoolingState, CurrentHeatingCoolingState(true, st.StructureHeatCoolMode)).
		Update(accessory.TargetHeatingCoolingState, TargetHeatingCoolingState(true, st.StructureHeatCoolMode))
}
