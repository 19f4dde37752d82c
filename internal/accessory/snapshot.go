package accessory

import (
	"encoding/json"
	"sort"
)

// Snapshot is the serializable form of an accessory, used for persistence and display.
type Snapshot struct {
	UUID        string                                 `json:"uuid"`
	DisplayName string                                 `json:"display_name"`
	Category    string                                 `json:"category"`
	Context     json.RawMessage                        `json:"context,omitempty"`
	Services    map[ServiceType]map[Characteristic]any `json:"services"`
	Writable    map[ServiceType][]Characteristic       `json:"writable,omitempty"`
}

func (a *Accessory) Snapshot() Snapshot {
	snap := Snapshot{
		UUID:        a.UUID,
		DisplayName: a.DisplayName,
		Category:    a.Category,
		Context:     a.Context(),
		Services:    make(map[ServiceType]map[Characteristic]any),
	}
	for _, t := range a.ServiceTypes() {
		svc := a.Service(t)
		if svc == nil {
			continue
		}
		values := svc.Values()
		snap.Services[t] = values
		for char := range values {
			if svc.Writable(char) {
				if snap.Writable == nil {
					snap.Writable = make(map[ServiceType][]Characteristic)
				}
				snap.Writable[t] = append(snap.Writable[t], char)
			}
		}
		sort.Slice(snap.Writable[t], func(i, j int) bool { return snap.Writable[t][i] < snap.Writable[t][j] })
	}
	return snap
}

// FromSnapshot rebuilds a cached accessory. Handlers are not restored; the
// owner re-attaches them.
func FromSnapshot(snap Snapshot) *Accessory {
	a := &Accessory{
		UUID:        snap.UUID,
		DisplayName: snap.DisplayName,
		Category:    snap.Category,
		context:     append(json.RawMessage(nil), snap.Context...),
		services:    make(map[ServiceType]*Service),
	}
	for t, values := range snap.Services {
		svc := a.AddService(t)
		for char, v := range values {
			svc.values[char] = v
		}
	}
	if a.Service(ServiceAccessoryInformation) == nil {
		a.AddService(ServiceAccessoryInformation).Update(Name, snap.DisplayName)
	}
	return a
}
