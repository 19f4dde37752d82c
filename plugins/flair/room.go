package flair

import (
	"context"
	"fmt"
	"sync"

	"github.com/joshp123/flairbridge/internal/accessory"
)

// CurrentHeatingCoolingState derives a room's displayed current state.
// AUTO shows as COOL: the API does not expose what the system is doing.
func CurrentHeatingCoolingState(active bool, mode HeatCoolMode) int {
	if !active {
		return accessory.HeatingCoolingOff
	}
	switch mode {
	case HeatCoolHeat:
		return accessory.HeatingCoolingHeat
	case HeatCoolCool, HeatCoolAuto:
		return accessory.HeatingCoolingCool
	default:
		return accessory.HeatingCoolingOff
	}
}

// TargetHeatingCoolingState derives a room's displayed target state.
func TargetHeatingCoolingState(active bool, mode HeatCoolMode) int {
	if !active {
		return accessory.HeatingCoolingOff
	}
	switch mode {
	case HeatCoolHeat:
		return accessory.HeatingCoolingHeat
	case HeatCoolCool:
		return accessory.HeatingCoolingCool
	case HeatCoolAuto:
		return accessory.HeatingCoolingAuto
	default:
		return accessory.HeatingCoolingOff
	}
}

// heatCoolFromTarget maps a target heating/cooling characteristic value.
func heatCoolFromTarget(state int) (HeatCoolMode, error) {
	switch state {
	case accessory.HeatingCoolingOff:
		return HeatCoolOff, nil
	case accessory.HeatingCoolingHeat:
		return HeatCoolHeat, nil
	case accessory.HeatingCoolingCool:
		return HeatCoolCool, nil
	case accessory.HeatingCoolingAuto:
		return HeatCoolAuto, nil
	default:
		return "", fmt.Errorf("invalid target heating cooling state %d", state)
	}
}

type RoomSync struct {
	base
	coord *Coordinator

	mu        sync.Mutex
	room      Room
	structure *Structure
}

func NewRoomSync(d deps, acc *accessory.Accessory, room Room, coord *Coordinator) *RoomSync {
	s := &RoomSync{base: newBase(d, acc, RoomDevice(room)), coord: coord, room: room}
	if st, ok := coord.Current(); ok {
		s.structure = &st
	}

	accessory.ApplySurface(acc, []accessory.ServiceType{accessory.ServiceThermostat})
	acc.Service(accessory.ServiceThermostat).
		OnSet(accessory.TargetTemperature, func(ctx context.Context, v any) error {
			c, err := accessory.Float(v)
			if err != nil {
				return err
			}
			_, err = s.SetSetpoint(ctx, c)
			return err
		}).
		OnSet(accessory.TargetHeatingCoolingState, func(ctx context.Context, v any) error {
			state, err := accessory.Int(v)
			if err != nil {
				return err
			}
			return s.SetTargetState(ctx, state)
		})
	s.apply()
	return s
}

func (s *RoomSync) Device() Device {
	return RoomDevice(s.current())
}

func (s *RoomSync) Refresh(ctx context.Context) (Device, error) {
	if _, ok := s.coord.Current(); !ok {
		if st, err := s.coord.Structure(ctx); err == nil {
			s.StructureChanged(st)
		}
	}
	room, err := s.api.ReadRoom(ctx, s.id)
	if !s.polled(ctx, err) {
		return s.Device(), ctx.Err()
	}
	if err != nil {
		return s.Device(), fmt.Errorf("read room %s: %w", s.id, err)
	}
	s.update(ctx, room)
	return RoomDevice(room), nil
}

// StructureChanged recomputes the derived heating/cooling state without polling.
func (s *RoomSync) StructureChanged(st Structure) {
	s.mu.Lock()
	s.structure = &st
	s.mu.Unlock()
	s.apply()
	s.log.V(1).Info("Structure applied to room", "heat_cool_mode", st.StructureHeatCoolMode)
}

func (s *RoomSync) SetSetpoint(ctx context.Context, celsius float64) (Room, error) {
	room, err := s.api.SetRoomSetpoint(ctx, s.id, celsius)
	s.commanded("set_point", err)
	if err != nil {
		return s.current(), fmt.Errorf("set room %s setpoint: %w", s.id, err)
	}
	s.update(ctx, room)
	return room, nil
}

func (s *RoomSync) SetAway(ctx context.Context, away bool) (Room, error) {
	room, err := s.api.SetRoomAway(ctx, s.id, away)
	s.commanded("away", err)
	if err != nil {
		return s.current(), fmt.Errorf("set room %s away=%v: %w", s.id, away, err)
	}
	s.update(ctx, room)
	return room, nil
}

// SetTargetState turns OFF into away. Any other state reactivates the room
// when needed and then sets the structure heat/cool mode.
func (s *RoomSync) SetTargetState(ctx context.Context, state int) error {
	mode, err := heatCoolFromTarget(state)
	if err != nil {
		return err
	}
	if mode == HeatCoolOff {
		_, err := s.SetAway(ctx, true)
		return err
	}
	if !s.current().Active {
		if _, err := s.SetAway(ctx, false); err != nil {
			return err
		}
	}
	st, err := s.coord.SetMode(ctx, ModeAuto, mode)
	s.commanded("heat_cool_mode", err)
	if err != nil {
		return err
	}
	s.StructureChanged(st)
	return nil
}

func (s *RoomSync) update(ctx context.Context, room Room) {
	s.mu.Lock()
	s.room = room
	s.mu.Unlock()
	s.apply()
	s.commit(ctx, RoomDevice(room))
	s.log.V(1).Info("Room reading applied", "temperature_c", room.CurrentTemperatureC, "set_point_c", room.SetPointC, "active", room.Active)
}

func (s *RoomSync) apply() {
	s.mu.Lock()
	room := s.room
	var mode HeatCoolMode
	if s.structure != nil {
		mode = s.structure.StructureHeatCoolMode
	}
	s.mu.Unlock()

	information(s.acc, "Room", room.ID, "")
	s.acc.Service(accessory.ServiceThermostat).
		Update(accessory.CurrentTemperature, room.CurrentTemperatureC).
		Update(accessory.TargetTemperature, room.SetPointC).
		Update(accessory.CurrentRelativeHumidity, room.CurrentHumidity).
		Update(accessory.TemperatureDisplayUnits, accessory.DisplayCelsius).
		Update(accessory.CurrentHeatingCoolingState, CurrentHeatingCoolingState(room.Active, mode)).
		Update(accessory.TargetHeatingCoolingState, TargetHeatingCoolingState(room.Active, mode))
}

func (s *RoomSync) current() Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}
