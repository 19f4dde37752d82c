package flair

import (
	"context"
	"fmt"
	"sync"

	"github.com/joshp123/flairbridge/internal/accessory"
)

type VentSync struct {
	base
	presentation Presentation
	sensors      bool

	mu   sync.Mutex
	vent Vent
}

// NewVentSync shapes acc for the presentation and wires its command handlers.
func NewVentSync(d deps, acc *accessory.Accessory, vent Vent, presentation Presentation, hideSensors bool) (*VentSync, error) {
	services, err := presentation.Services(!hideSensors)
	if err != nil {
		return nil, err
	}
	s := &VentSync{
		base:         newBase(d, acc, VentDevice(vent)),
		presentation: presentation,
		sensors:      !hideSensors,
		vent:         vent,
	}

	if added, removed := accessory.ApplySurface(acc, services); len(added) > 0 || len(removed) > 0 {
		s.log.Info("Vent surface changed", "presentation", presentation, "added", added, "removed", removed)
	}
	s.wire()
	s.apply(vent)
	return s, nil
}

func (s *VentSync) wire() {
	setPercent := func(ctx context.Context, v any) error {
		pct, err := accessory.Int(v)
		if err != nil {
			return err
		}
		_, err = s.SetPercentOpen(ctx, pct)
		return err
	}
	switch s.presentation {
	case PresentWindowCovering:
		s.acc.Service(accessory.ServiceWindowCovering).OnSet(accessory.TargetPosition, setPercent)
	case PresentFan:
		s.acc.Service(accessory.ServiceFan).
			OnSet(accessory.RotationSpeed, setPercent).
			OnSet(accessory.Active, s.setActive)
	case PresentAirPurifier:
		s.acc.Service(accessory.ServiceAirPurifier).
			OnSet(accessory.RotationSpeed, setPercent).
			OnSet(accessory.Active, s.setActive)
	}
}

// setActive opens a closed vent fully and closes an open one. Activating an
// already open vent is a no-op.
func (s *VentSync) setActive(ctx context.Context, v any) error {
	active, err := accessory.Int(v)
	if err != nil {
		return err
	}
	if active == accessory.ActiveInactive {
		_, err = s.SetPercentOpen(ctx, 0)
		return err
	}
	if s.current().PercentOpen > 0 {
		return nil
	}
	_, err = s.SetPercentOpen(ctx, 100)
	return err
}

func (s *VentSync) Device() Device {
	return VentDevice(s.current())
}

func (s *VentSync) current() Vent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vent
}

func (s *VentSync) Refresh(ctx context.Context) (Device, error) {
	vent, err := s.api.ReadVent(ctx, s.id)
	if !s.polled(ctx, err) {
		return s.Device(), ctx.Err()
	}
	if err != nil {
		return s.Device(), fmt.Errorf("read vent %s: %w", s.id, err)
	}
	s.update(ctx, vent)
	return VentDevice(vent), nil
}

// SetPercentOpen constrains pct to the presentation and applies the
// server's answer, not the request.
func (s *VentSync) SetPercentOpen(ctx context.Context, pct int) (Vent, error) {
	pct = s.presentation.Constrain(pct)
	vent, err := s.api.SetVentPercentOpen(ctx, s.id, pct)
	s.commanded("percent_open", err)
	if err != nil {
		return s.current(), fmt.Errorf("set vent %s to %d%%: %w", s.id, pct, err)
	}
	s.update(ctx, vent)
	return vent, nil
}

func (s *VentSync) update(ctx context.Context, vent Vent) {
	s.apply(vent)
	s.commit(ctx, VentDevice(vent))
	s.log.V(1).Info("Vent reading applied", "percent_open", vent.PercentOpen, "duct_temperature_c", vent.DuctTemperatureC)
}

func (s *VentSync) apply(vent Vent) {
	s.mu.Lock()
	s.vent = vent
	s.mu.Unlock()

	information(s.acc, "Vent", vent.ID, vent.FirmwareVersionS)

	pct := clampPercent(vent.PercentOpen)
	open := boolInt(pct > 0)
	switch s.presentation {
	case PresentWindowCovering:
		s.acc.Service(accessory.ServiceWindowCovering).
			Update(accessory.CurrentPosition, pct).
			Update(accessory.TargetPosition, pct).
			Update(accessory.PositionState, accessory.PositionStopped)
	case PresentFan:
		s.acc.Service(accessory.ServiceFan).
			Update(accessory.Active, open).
			Update(accessory.RotationSpeed, pct)
	case PresentAirPurifier:
		state := accessory.PurifierInactive
		if pct > 0 {
			state = accessory.PurifierPurifying
		}
		s.acc.Service(accessory.ServiceAirPurifier).
			Update(accessory.Active, open).
			Update(accessory.CurrentAirPurifierState, state).
			Update(accessory.TargetAirPurifierState, accessory.PurifierTargetManual).
			Update(accessory.RotationSpeed, pct)
	}

	if s.sensors {
		s.acc.Service(accessory.ServiceTemperatureSensor).Update(accessory.CurrentTemperature, vent.DuctTemperatureC)
		s.acc.Service(accessory.ServicePressureSensor).Update(accessory.CurrentPressure, vent.DuctPressure)
	}
}
