package host

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-logr/logr/testr"

	"github.com/joshp123/flairbridge/internal/accessory"
)

type recordingPublisher struct {
	mu         sync.Mutex
	announced  []string
	retracted  []string
	published  []string
	lastValues map[string]any
}

func (p *recordingPublisher) Announce(_ context.Context, snap accessory.Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.announced = append(p.announced, snap.UUID)
	return nil
}

func (p *recordingPublisher) Publish(snap accessory.Snapshot, service accessory.ServiceType, char accessory.Characteristic, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := snap.UUID + "/" + string(service) + "/" + string(char)
	p.published = append(p.published, key)
	if p.lastValues == nil {
		p.lastValues = make(map[string]any)
	}
	p.lastValues[key] = value
}

func (p *recordingPublisher) Retract(_ context.Context, snap accessory.Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retracted = append(p.retracted, snap.UUID)
	return nil
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(testr.New(t), filepath.Join(t.TempDir(), "accessories.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRegisterPersistsAndAnnounces(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	pub := &recordingPublisher{}
	h := New(testr.New(t), store, pub)

	acc := accessory.New(accessory.Identity("V1"), "Office Vent", "vents")
	acc.AddService(accessory.ServiceWindowCovering).Update(accessory.CurrentPosition, 40)
	if err := h.Register(ctx, acc); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := h.Register(ctx, acc); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}

	snaps, err := store.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(snaps) != 1 || snaps[0].UUID != acc.UUID {
		t.Fatalf("unexpected persisted accessories: %+v", snaps)
	}
	if len(pub.announced) != 1 {
		t.Fatalf("expected one announcement, got %v", pub.announced)
	}

	acc.Service(accessory.ServiceWindowCovering).Update(accessory.CurrentPosition, 60)
	key := acc.UUID + "/WindowCovering/CurrentPosition"
	if pub.lastValues[key] != 60 {
		t.Fatalf("change not published: %v", pub.lastValues)
	}
}

func TestRestoreHandsCachedAccessoriesToOwner(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	first := New(testr.New(t), store)
	kept := accessory.New(accessory.Identity("V1"), "Office Vent", "vents")
	_ = kept.SetContext(map[string]string{"id": "V1"})
	stale := accessory.New(accessory.Identity("V9"), "Old Vent", "vents")
	for _, acc := range []*accessory.Accessory{kept, stale} {
		if err := first.Register(ctx, acc); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	pub := &recordingPublisher{}
	second := New(testr.New(t), store, pub)
	var seen []string
	err := second.Restore(ctx, func(ctx context.Context, acc *accessory.Accessory) {
		seen = append(seen, acc.DisplayName)
		if acc.UUID == stale.UUID {
			if err := second.Unregister(ctx, acc); err != nil {
				t.Fatalf("unregister: %v", err)
			}
		}
	})
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("expected both cached accessories, got %v", seen)
	}
	if _, ok := second.Accessory(kept.UUID); !ok {
		t.Fatalf("kept accessory not registered after restore")
	}
	if _, ok := second.Accessory(stale.UUID); ok {
		t.Fatalf("stale accessory still registered")
	}
	if len(pub.retracted) != 1 || pub.retracted[0] != stale.UUID {
		t.Fatalf("expected stale accessory retracted, got %v", pub.retracted)
	}

	snaps, _ := store.LoadAll(ctx)
	if len(snaps) != 1 || snaps[0].UUID != kept.UUID {
		t.Fatalf("store not pruned: %+v", snaps)
	}
}

func TestUpdateReannouncesOnSurfaceChange(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	h := New(testr.New(t), openTestStore(t), pub)

	acc := accessory.New(accessory.Identity("V1"), "Office Vent", "vents")
	accessory.ApplySurface(acc, []accessory.ServiceType{accessory.ServiceWindowCovering})
	if err := h.Register(ctx, acc); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := h.Update(ctx, acc); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(pub.announced) != 1 {
		t.Fatalf("unchanged surface re-announced: %v", pub.announced)
	}

	accessory.ApplySurface(acc, []accessory.ServiceType{accessory.ServiceFan})
	if err := h.Update(ctx, acc); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(pub.announced) != 2 {
		t.Fatalf("expected re-announcement after surface change, got %v", pub.announced)
	}

	other := accessory.New(accessory.Identity("V2"), "Den Vent", "vents")
	if err := h.Update(ctx, other); !errors.Is(err, ErrUnknownAccessory) {
		t.Fatalf("expected ErrUnknownAccessory, got %v", err)
	}
}

func TestSetRoutesToRegisteredAccessory(t *testing.T) {
	ctx := context.Background()
	h := New(testr.New(t), openTestStore(t))

	acc := accessory.New(accessory.Identity("V1"), "Office Vent", "vents")
	var got any
	acc.AddService(accessory.ServiceWindowCovering).OnSet(accessory.TargetPosition, func(_ context.Context, v any) error {
		got = v
		return nil
	})
	if err := h.Register(ctx, acc); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := h.Set(ctx, acc.UUID, accessory.ServiceWindowCovering, accessory.TargetPosition, 70.0); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got != 70.0 {
		t.Fatalf("handler got %v", got)
	}
	if err := h.Set(ctx, "missing", accessory.ServiceWindowCovering, accessory.TargetPosition, 1); !errors.Is(err, ErrUnknownAccessory) {
		t.Fatalf("expected ErrUnknownAccessory, got %v", err)
	}
}

func TestAccessoriesSortedByName(t *testing.T) {
	ctx := context.Background()
	h := New(testr.New(t), openTestStore(t))
	for _, name := range []string{"Zeta Vent", "Alpha Puck", "Mid Room"} {
		if err := h.Register(ctx, accessory.New(accessory.Identity(name), name, "vents")); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	snaps := h.Accessories()
	if len(snaps) != 3 || snaps[0].DisplayName != "Alpha Puck" || snaps[2].DisplayName != "Zeta Vent" {
		t.Fatalf("unexpected order: %+v", snaps)
	}
}
