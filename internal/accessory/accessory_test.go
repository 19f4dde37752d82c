package accessory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestIdentityIsDeterministic(t *testing.T) {
	a := Identity("V1")
	if a != Identity("V1") {
		t.Fatalf("identity changed between calls")
	}
	if a == Identity("V2") {
		t.Fatalf("distinct ids share identity %s", a)
	}
	if len(a) != 36 {
		t.Fatalf("expected canonical uuid, got %q", a)
	}
}

func TestUpdateNotifiesOnlyOnChange(t *testing.T) {
	acc := New(Identity("V1"), "Office Vent", "vents")
	var events []string
	acc.SetObserver(ObserverFunc(func(_ *Accessory, svc ServiceType, char Characteristic, value any) {
		events = append(events, string(svc)+"."+string(char))
	}))

	svc := acc.AddService(ServiceWindowCovering)
	svc.Update(CurrentPosition, 40)
	svc.Update(CurrentPosition, 40)
	svc.Update(CurrentPosition, 50)

	if len(events) != 2 {
		t.Fatalf("expected 2 change events, got %v", events)
	}
	if v, _ := acc.Value(ServiceWindowCovering, CurrentPosition); v != 50 {
		t.Fatalf("expected 50, got %v", v)
	}
}

func TestSetRoutesToHandler(t *testing.T) {
	acc := New(Identity("V1"), "Office Vent", "vents")
	svc := acc.AddService(ServiceWindowCovering)
	var got any
	svc.OnSet(TargetPosition, func(_ context.Context, v any) error {
		got = v
		return nil
	})

	if err := acc.Set(context.Background(), ServiceWindowCovering, TargetPosition, 70); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got != 70 {
		t.Fatalf("handler got %v", got)
	}
	if _, ok := svc.Value(TargetPosition); ok {
		t.Fatalf("Set must not write the characteristic")
	}

	err := acc.Set(context.Background(), ServiceWindowCovering, CurrentPosition, 1)
	if !errors.Is(err, ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
	err = acc.Set(context.Background(), ServiceFan, Active, 1)
	if !errors.Is(err, ErrServiceNotFound) {
		t.Fatalf("expected ErrServiceNotFound, got %v", err)
	}
}

func TestApplySurfaceIsIdempotent(t *testing.T) {
	acc := New(Identity("V1"), "Office Vent", "vents")

	added, removed := ApplySurface(acc, []ServiceType{ServiceWindowCovering, ServiceTemperatureSensor})
	if len(added) != 2 || len(removed) != 0 {
		t.Fatalf("first apply: added=%v removed=%v", added, removed)
	}
	acc.Service(ServiceWindowCovering).Update(CurrentPosition, 40)

	added, removed = ApplySurface(acc, []ServiceType{ServiceWindowCovering, ServiceTemperatureSensor})
	if len(added) != 0 || len(removed) != 0 {
		t.Fatalf("second apply must be a no-op: added=%v removed=%v", added, removed)
	}
	if v, _ := acc.Value(ServiceWindowCovering, CurrentPosition); v != 40 {
		t.Fatalf("unchanged surface lost state: %v", v)
	}

	added, removed = ApplySurface(acc, []ServiceType{ServiceFan, ServiceTemperatureSensor})
	if len(added) != 1 || added[0] != ServiceFan {
		t.Fatalf("expected fan added, got %v", added)
	}
	if len(removed) != 1 || removed[0] != ServiceWindowCovering {
		t.Fatalf("expected window covering removed, got %v", removed)
	}
	if acc.Service(ServiceAccessoryInformation) == nil {
		t.Fatalf("accessory information must survive surface changes")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	acc := New(Identity("P1"), "Kitchen Puck", "pucks")
	if err := acc.SetContext(map[string]string{"id": "P1"}); err != nil {
		t.Fatalf("set context: %v", err)
	}
	acc.AddService(ServiceTemperatureSensor).Update(CurrentTemperature, 21.5)
	acc.AddService(ServiceThermostat).OnSet(TargetTemperature, func(context.Context, any) error { return nil }).Update(TargetTemperature, 20.0)

	data, err := json.Marshal(acc.Snapshot())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := snap.Writable[ServiceThermostat]; len(got) != 1 || got[0] != TargetTemperature {
		t.Fatalf("unexpected writable list: %v", got)
	}

	restored := FromSnapshot(snap)
	if restored.UUID != acc.UUID || restored.Category != "pucks" {
		t.Fatalf("unexpected restored accessory: %+v", restored.Snapshot())
	}
	if v, _ := restored.Value(ServiceTemperatureSensor, CurrentTemperature); v != 21.5 {
		t.Fatalf("expected restored temperature, got %v", v)
	}
	var ctx map[string]string
	if err := restored.DecodeContext(&ctx); err != nil || ctx["id"] != "P1" {
		t.Fatalf("context not restored: %v %v", ctx, err)
	}
	if restored.Service(ServiceThermostat).Writable(TargetTemperature) {
		t.Fatalf("handlers must not be restored")
	}
}

func TestIntCoercion(t *testing.T) {
	cases := []struct {
		in   any
		want int
	}{
		{40, 40},
		{49.6, 50},
		{"25", 25},
		{json.Number("75"), 75},
		{true, 1},
	}
	for _, c := range cases {
		got, err := Int(c.in)
		if err != nil {
			t.Fatalf("Int(%v): %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("Int(%v) = %d, want %d", c.in, got, c.want)
		}
	}
	if _, err := Int([]int{1}); err == nil {
		t.Fatalf("expected error for slice")
	}
}
