package flair

import (
	"context"
	"fmt"
	"sync"

	"github.com/joshp123/flairbridge/internal/accessory"
)

var puckServices = []accessory.ServiceType{
	accessory.ServiceTemperatureSensor,
	accessory.ServiceHumiditySensor,
	accessory.ServicePressureSensor,
}

// PuckSync is read-only: pucks take no commands.
type PuckSync struct {
	base

	mu   sync.Mutex
	puck Puck
}

func NewPuckSync(d deps, acc *accessory.Accessory, puck Puck) *PuckSync {
	s := &PuckSync{base: newBase(d, acc, PuckDevice(puck)), puck: puck}
	accessory.ApplySurface(acc, puckServices)
	s.apply(puck)
	return s
}

func (s *PuckSync) Device() Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return PuckDevice(s.puck)
}

func (s *PuckSync) Refresh(ctx context.Context) (Device, error) {
	puck, err := s.api.ReadPuck(ctx, s.id)
	if !s.polled(ctx, err) {
		return s.Device(), ctx.Err()
	}
	if err != nil {
		return s.Device(), fmt.Errorf("read puck %s: %w", s.id, err)
	}
	s.apply(puck)
	s.commit(ctx, PuckDevice(puck))
	s.log.V(1).Info("Puck reading applied", "temperature_c", puck.CurrentTemperatureC, "humidity", puck.CurrentHumidity)
	return PuckDevice(puck), nil
}

func (s *PuckSync) apply(puck Puck) {
	s.mu.Lock()
	s.puck = puck
	s.mu.Unlock()

	serial := puck.DisplayNumber
	if serial == "" {
		serial = puck.ID
	}
	information(s.acc, "Puck", serial, puck.FirmwareVersionS)

	s.acc.Service(accessory.ServiceTemperatureSensor).Update(accessory.CurrentTemperature, puck.CurrentTemperatureC)
	s.acc.Service(accessory.ServiceHumiditySensor).Update(accessory.CurrentRelativeHumidity, puck.CurrentHumidity)
	s.acc.Service(accessory.ServicePressureSensor).Update(accessory.CurrentPressure, puck.CurrentRoomPressure)
}
