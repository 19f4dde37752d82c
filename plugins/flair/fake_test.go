package flair

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/testr"

	"github.com/joshp123/flairbridge/internal/accessory"
	"github.com/joshp123/flairbridge/internal/schedule"
)

var errUnavailable = errors.New("flair unavailable")

// fakeAPI is an in-memory Flair account. Reads return copies; mutations
// apply to the stored device and echo it back like the real API.
type fakeAPI struct {
	mu sync.Mutex

	vents     map[string]Vent
	pucks     map[string]Puck
	rooms     map[string]Room
	structure Structure

	listErr map[Kind]error
	readErr error
	setErr  error
	calls   []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		vents:     make(map[string]Vent),
		pucks:     make(map[string]Puck),
		rooms:     make(map[string]Room),
		structure: Structure{ID: "s1", Name: "Home", Mode: ModeManual, StructureHeatCoolMode: HeatCoolHeat, SetPointTemperatureC: 21},
		listErr:   make(map[Kind]error),
	}
}

func (f *fakeAPI) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeAPI) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeAPI) putVent(v Vent) {
	f.mu.Lock()
	f.vents[v.ID] = v
	f.mu.Unlock()
}

func (f *fakeAPI) putRoom(r Room) {
	f.mu.Lock()
	f.rooms[r.ID] = r
	f.mu.Unlock()
}

func (f *fakeAPI) putPuck(p Puck) {
	f.mu.Lock()
	f.pucks[p.ID] = p
	f.mu.Unlock()
}

func (f *fakeAPI) deleteVent(id string) {
	f.mu.Lock()
	delete(f.vents, id)
	f.mu.Unlock()
}

func (f *fakeAPI) failList(kind Kind, err error) {
	f.mu.Lock()
	f.listErr[kind] = err
	f.mu.Unlock()
}

func (f *fakeAPI) failReads(err error) {
	f.mu.Lock()
	f.readErr = err
	f.mu.Unlock()
}

func (f *fakeAPI) failSets(err error) {
	f.mu.Lock()
	f.setErr = err
	f.mu.Unlock()
}

func (f *fakeAPI) CheckCredentials(context.Context) error { return nil }

func (f *fakeAPI) ListVents(context.Context) ([]Vent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.listErr[KindVent]; err != nil {
		return nil, err
	}
	out := make([]Vent, 0, len(f.vents))
	for _, v := range f.vents {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeAPI) ListRooms(context.Context) ([]Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.listErr[KindRoom]; err != nil {
		return nil, err
	}
	out := make([]Room, 0, len(f.rooms))
	for _, r := range f.rooms {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeAPI) ListPucks(context.Context) ([]Puck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.listErr[KindPuck]; err != nil {
		return nil, err
	}
	out := make([]Puck, 0, len(f.pucks))
	for _, p := range f.pucks {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeAPI) ReadVent(_ context.Context, id string) (Vent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return Vent{}, f.readErr
	}
	v, ok := f.vents[id]
	if !ok {
		return Vent{}, &HTTPStatusError{Status: 404, Body: "vent not found"}
	}
	return v, nil
}

func (f *fakeAPI) ReadPuck(_ context.Context, id string) (Puck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return Puck{}, f.readErr
	}
	p, ok := f.pucks[id]
	if !ok {
		return Puck{}, &HTTPStatusError{Status: 404, Body: "puck not found"}
	}
	return p, nil
}

func (f *fakeAPI) ReadRoom(_ context.Context, id string) (Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return Room{}, f.readErr
	}
	r, ok := f.rooms[id]
	if !ok {
		return Room{}, &HTTPStatusError{Status: 404, Body: "room not found"}
	}
	return r, nil
}

func (f *fakeAPI) SetVentPercentOpen(_ context.Context, id string, percent int) (Vent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("vent %s percent_open=%d", id, percent))
	if f.setErr != nil {
		return Vent{}, f.setErr
	}
	v := f.vents[id]
	v.PercentOpen = percent
	f.vents[id] = v
	return v, nil
}

func (f *fakeAPI) SetRoomSetpoint(_ context.Context, id string, celsius float64) (Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("room %s set_point=%g", id, celsius))
	if f.setErr != nil {
		return Room{}, f.setErr
	}
	r := f.rooms[id]
	r.SetPointC = celsius
	f.rooms[id] = r
	return r, nil
}

func (f *fakeAPI) SetRoomAway(_ context.Context, id string, away bool) (Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("room %s away=%v", id, away))
	if f.setErr != nil {
		return Room{}, f.setErr
	}
	r := f.rooms[id]
	r.Active = !away
	f.rooms[id] = r
	return r, nil
}

func (f *fakeAPI) PrimaryStructure(context.Context) (Structure, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.listErr[KindStructure]; err != nil {
		return Structure{}, err
	}
	return f.structure, nil
}

func (f *fakeAPI) ReadStructure(_ context.Context, id string) (Structure, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return Structure{}, f.readErr
	}
	return f.structure, nil
}

func (f *fakeAPI) SetStructureMode(_ context.Context, id string, mode FlairMode) (Structure, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("structure %s mode=%s", id, mode))
	if f.setErr != nil {
		return Structure{}, f.setErr
	}
	f.structure.Mode = mode
	return f.structure, nil
}

func (f *fakeAPI) SetStructureHeatCoolMode(_ context.Context, id string, mode HeatCoolMode) (Structure, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("structure %s heat_cool=%s", id, mode))
	if f.setErr != nil {
		return Structure{}, f.setErr
	}
	f.structure.StructureHeatCoolMode = mode
	return f.structure, nil
}

func (f *fakeAPI) SetStructureSetpoint(_ context.Context, id string, celsius float64) (Structure, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("structure %s set_point=%g", id, celsius))
	if f.setErr != nil {
		return Structure{}, f.setErr
	}
	f.structure.SetPointTemperatureC = celsius
	return f.structure, nil
}

// fakeHost records registrations and keeps a restorable cache.
type fakeHost struct {
	mu           sync.Mutex
	registered   map[string]*accessory.Accessory
	cached       []accessory.Snapshot
	registers    int
	unregistered []string
	updates      int
}

func newFakeHost() *fakeHost {
	return &fakeHost{registered: make(map[string]*accessory.Accessory)}
}

func (h *fakeHost) Register(_ context.Context, acc *accessory.Accessory) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.registered[acc.UUID]; ok {
		return fmt.Errorf("%s already registered", acc.UUID)
	}
	h.registered[acc.UUID] = acc
	h.registers++
	return nil
}

func (h *fakeHost) Unregister(_ context.Context, acc *accessory.Accessory) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.registered, acc.UUID)
	h.unregistered = append(h.unregistered, acc.UUID)
	return nil
}

func (h *fakeHost) Update(_ context.Context, acc *accessory.Accessory) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.registered[acc.UUID]; !ok {
		return fmt.Errorf("%s not registered", acc.UUID)
	}
	h.updates++
	return nil
}

func (h *fakeHost) Restore(ctx context.Context, configure func(context.Context, *accessory.Accessory)) error {
	h.mu.Lock()
	snaps := append([]accessory.Snapshot(nil), h.cached...)
	h.mu.Unlock()
	for _, snap := range snaps {
		acc := accessory.FromSnapshot(snap)
		h.mu.Lock()
		h.registered[acc.UUID] = acc
		h.mu.Unlock()
		configure(ctx, acc)
	}
	return nil
}

func (h *fakeHost) Registered() map[string]*accessory.Accessory {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]*accessory.Accessory, len(h.registered))
	for k, v := range h.registered {
		out[k] = v
	}
	return out
}

func (h *fakeHost) Registers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registers
}

// recordingHealth keeps the latest status per service.
type recordingHealth struct {
	mu       sync.Mutex
	statuses map[string]bool
}

func newRecordingHealth() *recordingHealth {
	return &recordingHealth{statuses: make(map[string]bool)}
}

func (h *recordingHealth) SetServing(service string, ok bool) {
	h.mu.Lock()
	h.statuses[service] = ok
	h.mu.Unlock()
}

func (h *recordingHealth) Remove(service string) {
	h.mu.Lock()
	delete(h.statuses, service)
	h.mu.Unlock()
}

func (h *recordingHealth) Status(service string) (bool, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ok, known := h.statuses[service]
	return ok, known
}

// testPlatform builds a platform whose polls wait an hour after the first run.
func testPlatform(t *testing.T, api API, host Host, opts Options, options ...PlatformOption) *Platform {
	t.Helper()
	if opts.Presentation == "" {
		opts.Presentation = PresentWindowCovering
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = time.Hour
	}
	if opts.StructureInterval == 0 {
		opts.StructureInterval = time.Hour
	}
	sched := schedule.New(context.Background(), logr.Discard())
	t.Cleanup(sched.Stop)
	options = append([]PlatformOption{WithScheduler(sched)}, options...)
	return NewPlatform(testr.New(t), api, host, opts, options...)
}

// testDeps builds synchronizer dependencies around a host that already
// holds acc.
func testDeps(t *testing.T, api API, host *fakeHost, acc *accessory.Accessory) deps {
	t.Helper()
	if acc != nil {
		if err := host.Register(context.Background(), acc); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	return deps{api: api, host: host, log: testr.New(t), health: nopHealth{}}
}

func intValue(t *testing.T, acc *accessory.Accessory, svc accessory.ServiceType, char accessory.Characteristic) int {
	t.Helper()
	v, ok := acc.Value(svc, char)
	if !ok {
		t.Fatalf("%s.%s not set", svc, char)
	}
	n, err := accessory.Int(v)
	if err != nil {
		t.Fatalf("%s.%s: %v", svc, char, err)
	}
	return n
}

func floatValue(t *testing.T, acc *accessory.Accessory, svc accessory.ServiceType, char accessory.Characteristic) float64 {
	t.Helper()
	v, ok := acc.Value(svc, char)
	if !ok {
		t.Fatalf("%s.%s not set", svc, char)
	}
	n, err := accessory.Float(v)
	if err != nil {
		t.Fatalf("%s.%s: %v", svc, char, err)
	}
	return n
}

// inFlight tracks the peak number of concurrent calls.
type inFlight struct {
	mu       sync.Mutex
	cur, max int
}

func (g *inFlight) enter() {
	g.mu.Lock()
	g.cur++
	if g.cur > g.max {
		g.max = g.cur
	}
	g.mu.Unlock()
}

func (g *inFlight) leave() {
	g.mu.Lock()
	g.cur--
	g.mu.Unlock()
}

func (g *inFlight) Max() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.max
}

// slowAPI holds structure mutations and vent listings open for delay.
type slowAPI struct {
	*fakeAPI
	delay     time.Duration
	mutations inFlight
	listings  inFlight
}

func (s *slowAPI) SetStructureMode(ctx context.Context, id string, mode FlairMode) (Structure, error) {
	s.mutations.enter()
	defer s.mutations.leave()
	time.Sleep(s.delay)
	return s.fakeAPI.SetStructureMode(ctx, id, mode)
}

func (s *slowAPI) SetStructureHeatCoolMode(ctx context.Context, id string, mode HeatCoolMode) (Structure, error) {
	s.mutations.enter()
	defer s.mutations.leave()
	time.Sleep(s.delay)
	return s.fakeAPI.SetStructureHeatCoolMode(ctx, id, mode)
}

func (s *slowAPI) ListVents(ctx context.Context) ([]Vent, error) {
	s.listings.enter()
	defer s.listings.leave()
	time.Sleep(s.delay)
	return s.fakeAPI.ListVents(ctx)
}

// gatedAPI blocks vent reads until release is closed.
type gatedAPI struct {
	*fakeAPI
	entered chan string
	release chan struct{}
}

func (g *gatedAPI) ReadVent(ctx context.Context, id string) (Vent, error) {
	g.entered <- id
	<-g.release
	return g.fakeAPI.ReadVent(ctx, id)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
