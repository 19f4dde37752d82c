package flair

import (
	"errors"
	"fmt"

	"github.com/joshp123/flairbridge/internal/accessory"
)

var ErrUnknownKind = errors.New("unknown device kind")

// Device is a closed tagged variant over the remote device types. Exactly
// the payload named by Kind is set. It is the persisted accessory context.
type Device struct {
	Kind      Kind       `json:"kind"`
	Vent      *Vent      `json:"vent,omitempty"`
	Puck      *Puck      `json:"puck,omitempty"`
	Room      *Room      `json:"room,omitempty"`
	Structure *Structure `json:"structure,omitempty"`
}

func VentDevice(v Vent) Device           { return Device{Kind: KindVent, Vent: &v} }
func PuckDevice(p Puck) Device           { return Device{Kind: KindPuck, Puck: &p} }
func RoomDevice(r Room) Device           { return Device{Kind: KindRoom, Room: &r} }
func StructureDevice(s Structure) Device { return Device{Kind: KindStructure, Structure: &s} }

// Validate checks that the payload matches the discriminant.
func (d Device) Validate() error {
	var ok bool
	switch d.Kind {
	case KindVent:
		ok = d.Vent != nil
	case KindPuck:
		ok = d.Puck != nil
	case KindRoom:
		ok = d.Room != nil
	case KindStructure:
		ok = d.Structure != nil
	default:
		return fmt.Errorf("%q: %w", d.Kind, ErrUnknownKind)
	}
	if !ok {
		return fmt.Errorf("%s device without %s payload", d.Kind, d.Kind)
	}
	if d.ID() == "" {
		return fmt.Errorf("%s device without id", d.Kind)
	}
	return nil
}

func (d Device) ID() string {
	switch d.Kind {
	case KindVent:
		if d.Vent != nil {
			return d.Vent.ID
		}
	case KindPuck:
		if d.Puck != nil {
			return d.Puck.ID
		}
	case KindRoom:
		if d.Room != nil {
			return d.Room.ID
		}
	case KindStructure:
		if d.Structure != nil {
			return d.Structure.ID
		}
	}
	return ""
}

func (d Device) Name() string {
	switch d.Kind {
	case KindVent:
		if d.Vent != nil {
			return d.Vent.Name
		}
	case KindPuck:
		if d.Puck != nil {
			return d.Puck.Name
		}
	case KindRoom:
		if d.Room != nil {
			return d.Room.Name
		}
	case KindStructure:
		if d.Structure != nil {
			return d.Structure.Name
		}
	}
	return ""
}

// Identity is the accessory UUID. It depends on the device id only.
func (d Device) Identity() string {
	return accessory.Identity(d.ID())
}

// HealthService names the device in the gRPC health registry.
func (d Device) HealthService() string {
	return healthService(d.Kind, d.ID())
}

func healthService(kind Kind, id string) string {
	return PluginID + "/" + string(kind) + "/" + id
}
