package flair

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/joshp123/flairbridge/internal/accessory"
	"github.com/joshp123/flairbridge/internal/config"
	"github.com/joshp123/flairbridge/internal/schedule"
)

// kinds is the reconciliation order.
var kinds = []Kind{KindVent, KindRoom, KindPuck, KindStructure}

// Host is the accessory runtime the platform registers into.
type Host interface {
	accessory.Host
	Restore(ctx context.Context, configure func(context.Context, *accessory.Accessory)) error
}

type Options struct {
	Presentation      Presentation
	HideVentSensors   bool
	HideRooms         bool
	HidePucks         bool
	ExposeStructure   bool
	PollInterval      time.Duration
	PollJitter        time.Duration
	StructureInterval time.Duration
	// RediscoverInterval re-runs reconciliation periodically; zero disables it.
	RediscoverInterval time.Duration
}

func OptionsFromConfig(cfg config.FlairConfig) (Options, error) {
	presentation, err := ParsePresentation(cfg.VentPresentation)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Presentation:       presentation,
		HideVentSensors:    cfg.HideVentTemperatureSensors,
		HideRooms:          cfg.HidePuckRooms,
		HidePucks:          cfg.HidePuckSensors,
		ExposeStructure:    cfg.ExposeStructure,
		PollInterval:       time.Duration(cfg.PollIntervalSeconds) * time.Second,
		PollJitter:         time.Duration(cfg.PollJitterSeconds) * time.Second,
		StructureInterval:  time.Duration(cfg.StructurePollIntervalSeconds) * time.Second,
		RediscoverInterval: time.Duration(cfg.RediscoverIntervalSeconds) * time.Second,
	}, nil
}

// Hidden reports whether a kind is suppressed by configuration.
func (o Options) Hidden(kind Kind) bool {
	switch kind {
	case KindVent:
		return o.Presentation == PresentHidden
	case KindRoom:
		return o.HideRooms
	case KindPuck:
		return o.HidePucks
	case KindStructure:
		return !o.ExposeStructure
	default:
		return true
	}
}

// Result lists accessory UUIDs by reconciliation outcome.
type Result struct {
	Added   []string `json:"added"`
	Kept    []string `json:"kept"`
	Removed []string `json:"removed"`
}

type entry struct {
	sync   Synchronizer
	cancel schedule.CancelFunc
}

// Platform reconciles the Flair fleet against the host's accessories and
// keeps one synchronizer per registered device.
type Platform struct {
	deps
	host  Host
	opts  Options
	coord *Coordinator
	sched *schedule.Scheduler

	// pass serializes Restore, Reconcile and eviction.
	pass sync.Mutex

	mu      sync.RWMutex
	entries map[string]*entry
	tasks   []schedule.CancelFunc
}

type PlatformOption func(*Platform)

func WithHealth(h HealthReporter) PlatformOption {
	return func(p *Platform) {
		if h != nil {
			p.health = h
		}
	}
}

func WithMetrics(m *Metrics) PlatformOption {
	return func(p *Platform) {
		p.metrics = m
	}
}

func WithScheduler(s *schedule.Scheduler) PlatformOption {
	return func(p *Platform) {
		p.sched = s
	}
}

func NewPlatform(log logr.Logger, api API, host Host, opts Options, options ...PlatformOption) *Platform {
	log = log.WithName("flair")
	p := &Platform{
		deps: deps{
			api:    api,
			host:   host,
			log:    log,
			health: nopHealth{},
		},
		host:    host,
		opts:    opts,
		coord:   NewCoordinator(api, log),
		entries: make(map[string]*entry),
	}
	for _, opt := range options {
		opt(p)
	}
	if p.sched == nil {
		p.sched = schedule.New(context.Background(), log)
	}
	return p
}

func (p *Platform) Coordinator() *Coordinator {
	return p.coord
}

// Start verifies credentials, restores cached accessories, reconciles, and
// schedules the structure refresh and optional rediscovery.
func (p *Platform) Start(ctx context.Context) error {
	if err := p.api.CheckCredentials(ctx); err != nil {
		p.health.SetServing(PluginID, false)
		return fmt.Errorf("flair credentials rejected: %w", err)
	}
	if err := p.host.Restore(ctx, p.Restore); err != nil {
		p.log.Error(err, "Restoring cached accessories failed")
	}
	res, err := p.Reconcile(ctx)
	if err != nil {
		p.log.Error(err, "Initial reconciliation incomplete")
	}
	p.log.Info("Flair platform started", "added", len(res.Added), "kept", len(res.Kept), "removed", len(res.Removed))
	p.health.SetServing(PluginID, true)

	p.mu.Lock()
	p.tasks = append(p.tasks, p.sched.Schedule("structure", p.opts.StructureInterval, p.opts.PollJitter, p.refreshStructure))
	if p.opts.RediscoverInterval > 0 {
		p.tasks = append(p.tasks, p.sched.Schedule("rediscover", p.opts.RediscoverInterval, p.opts.PollJitter, func(ctx context.Context) {
			if _, err := p.Reconcile(ctx); err != nil {
				p.log.Error(err, "Rediscovery incomplete")
			}
		}))
	}
	p.mu.Unlock()
	return nil
}

// Stop cancels every poll. Accessories stay registered for the next run.
func (p *Platform) Stop() {
	p.sched.Stop()
}

// Restore rebuilds the synchronizer of a cached accessory, or drops the
// record when it can no longer be served.
func (p *Platform) Restore(ctx context.Context, acc *accessory.Accessory) {
	p.pass.Lock()
	defer p.pass.Unlock()

	log := p.log.WithValues("uuid", acc.UUID, "name", acc.DisplayName, "category", acc.Category)
	var dev Device
	if err := acc.DecodeContext(&dev); err != nil {
		log.Error(err, "Dropping cached accessory with unreadable context")
		p.drop(ctx, acc)
		return
	}
	if err := dev.Validate(); err != nil {
		log.Error(err, "Dropping invalid cached accessory")
		p.drop(ctx, acc)
		return
	}
	if Kind(acc.Category) != dev.Kind {
		log.Error(fmt.Errorf("context kind %s", dev.Kind), "Dropping cached accessory with mismatched category")
		p.drop(ctx, acc)
		return
	}
	if p.opts.Hidden(dev.Kind) {
		log.Info("Removing cached accessory since its category is hidden")
		p.drop(ctx, acc)
		return
	}

	s, err := p.newSync(acc, dev)
	if err != nil {
		log.Error(err, "Dropping cached accessory that cannot be built")
		p.drop(ctx, acc)
		return
	}
	log.Info("Restoring accessory from cache")
	if err := p.host.Update(ctx, acc); err != nil {
		log.V(1).Info("Restored accessory not persisted", "error", err.Error())
	}
	p.track(acc.UUID, s)
}

// Reconcile diffs the remote roster against the registered accessories.
// A category that failed to list keeps its accessories; the joined fetch
// errors are returned alongside a complete Result.
func (p *Platform) Reconcile(ctx context.Context) (Result, error) {
	p.pass.Lock()
	defer p.pass.Unlock()

	rosters := p.fetch(ctx)

	var (
		res    Result
		errs   []error
		seen   = make(map[string]bool)
		failed = make(map[Kind]bool)
	)
	for _, kind := range kinds {
		roster := rosters[kind]
		if roster.hidden {
			continue
		}
		if roster.err != nil {
			failed[kind] = true
			errs = append(errs, fmt.Errorf("list %s: %w", kind, roster.err))
			p.log.Error(roster.err, "Listing devices failed, keeping cached accessories", "kind", kind)
			continue
		}
		for _, dev := range roster.devices {
			uuid := dev.Identity()
			if seen[uuid] {
				continue
			}
			seen[uuid] = true

			if e, ok := p.entry(uuid); ok {
				if e.sync.Kind() != dev.Kind {
					p.log.Info("Warning: device reported under a different kind; leaving cached accessory", "uuid", uuid, "id", dev.ID(), "cached", e.sync.Kind(), "remote", dev.Kind)
				} else {
					p.log.V(1).Info("Discovered accessory already exists", "uuid", uuid, "name", dev.Name())
				}
				res.Kept = append(res.Kept, uuid)
				continue
			}
			if err := p.add(ctx, dev); err != nil {
				p.log.Error(err, "Adding accessory failed", "kind", dev.Kind, "id", dev.ID(), "name", dev.Name())
				continue
			}
			res.Added = append(res.Added, uuid)
		}
	}

	for uuid, e := range p.snapshotEntries() {
		if seen[uuid] {
			continue
		}
		if failed[e.sync.Kind()] {
			res.Kept = append(res.Kept, uuid)
			continue
		}
		p.log.Info("Removing not found device", "uuid", uuid, "name", e.sync.Accessory().DisplayName, "kind", e.sync.Kind())
		if err := p.evict(ctx, uuid, e); err != nil {
			errs = append(errs, err)
			continue
		}
		res.Removed = append(res.Removed, uuid)
	}

	sort.Strings(res.Added)
	sort.Strings(res.Kept)
	sort.Strings(res.Removed)
	p.metrics.reconciled(res)
	p.log.Info("Reconciled accessories", "added", len(res.Added), "kept", len(res.Kept), "removed", len(res.Removed))
	return res, errors.Join(errs...)
}

type roster struct {
	devices []Device
	err     error
	hidden  bool
}

// fetch lists every visible category concurrently. One category failing
// does not cancel the others. Each goroutine owns one slot of results.
func (p *Platform) fetch(ctx context.Context) map[Kind]roster {
	results := make([]roster, len(kinds))
	var g errgroup.Group
	for i, kind := range kinds {
		if p.opts.Hidden(kind) {
			results[i] = roster{hidden: true}
			continue
		}
		g.Go(func() error {
			devices, err := p.list(ctx, kind)
			results[i] = roster{devices: devices, err: err}
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[Kind]roster, len(kinds))
	for i, kind := range kinds {
		out[kind] = results[i]
	}
	return out
}

func (p *Platform) list(ctx context.Context, kind Kind) ([]Device, error) {
	var out []Device
	switch kind {
	case KindVent:
		vents, err := p.api.ListVents(ctx)
		if err != nil {
			return nil, err
		}
		for _, v := range vents {
			out = append(out, VentDevice(v))
		}
	case KindRoom:
		rooms, err := p.api.ListRooms(ctx)
		if err != nil {
			return nil, err
		}
		for _, r := range rooms {
			if r.PucksInactive == RoomActivePucks {
				out = append(out, RoomDevice(r))
			}
		}
	case KindPuck:
		pucks, err := p.api.ListPucks(ctx)
		if err != nil {
			return nil, err
		}
		for _, pk := range pucks {
			out = append(out, PuckDevice(pk))
		}
	case KindStructure:
		st, err := p.coord.Structure(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, StructureDevice(st))
	default:
		return nil, fmt.Errorf("%q: %w", kind, ErrUnknownKind)
	}
	return out, nil
}

func (p *Platform) add(ctx context.Context, dev Device) error {
	if err := dev.Validate(); err != nil {
		return err
	}
	acc := accessory.New(dev.Identity(), dev.Name(), string(dev.Kind))
	if err := acc.SetContext(dev); err != nil {
		return err
	}
	s, err := p.newSync(acc, dev)
	if err != nil {
		return err
	}
	if err := p.host.Register(ctx, acc); err != nil {
		return fmt.Errorf("register %s: %w", dev.Name(), err)
	}
	p.log.Info("Registering new accessory", "kind", dev.Kind, "name", dev.Name(), "uuid", acc.UUID)
	p.track(acc.UUID, s)
	return nil
}

// newSync dispatches on the device kind.
func (p *Platform) newSync(acc *accessory.Accessory, dev Device) (Synchronizer, error) {
	switch dev.Kind {
	case KindVent:
		return NewVentSync(p.deps, acc, *dev.Vent, p.opts.Presentation, p.opts.HideVentSensors)
	case KindPuck:
		return NewPuckSync(p.deps, acc, *dev.Puck), nil
	case KindRoom:
		return NewRoomSync(p.deps, acc, *dev.Room, p.coord), nil
	case KindStructure:
		return NewStructureSync(p.deps, acc, *dev.Structure, p.coord), nil
	default:
		return nil, fmt.Errorf("%q: %w", dev.Kind, ErrUnknownKind)
	}
}

// track records the synchronizer, joins the structure roster when it listens,
// and starts polling. Structure accessories follow the structure task. An
// entry already tracked under uuid is stopped and replaced.
func (p *Platform) track(uuid string, s Synchronizer) {
	e := &entry{sync: s}
	if s.Kind() != KindStructure {
		name := string(s.Kind()) + "/" + s.Accessory().DisplayName
		e.cancel = p.sched.Schedule(name, p.opts.PollInterval, p.opts.PollJitter, func(ctx context.Context) {
			_, _ = s.Refresh(ctx)
		})
	}
	p.mu.Lock()
	old := p.entries[uuid]
	p.entries[uuid] = e
	p.mu.Unlock()

	if old != nil {
		if old.cancel != nil {
			old.cancel()
		}
		if l, ok := old.sync.(StructureListener); ok {
			p.coord.RemoveListener(l)
		}
	}
	if l, ok := s.(StructureListener); ok {
		p.coord.AddListener(l)
	}
}

func (p *Platform) evict(ctx context.Context, uuid string, e *entry) error {
	if e.cancel != nil {
		e.cancel()
	}
	if l, ok := e.sync.(StructureListener); ok {
		p.coord.RemoveListener(l)
	}
	p.health.Remove(e.sync.Device().HealthService())

	p.mu.Lock()
	delete(p.entries, uuid)
	p.mu.Unlock()

	if err := p.host.Unregister(ctx, e.sync.Accessory()); err != nil {
		return fmt.Errorf("unregister %s: %w", uuid, err)
	}
	return nil
}

// drop unregisters a cached accessory that never got a synchronizer.
func (p *Platform) drop(ctx context.Context, acc *accessory.Accessory) {
	if err := p.host.Unregister(ctx, acc); err != nil {
		p.log.Error(err, "Unregistering cached accessory failed", "uuid", acc.UUID)
	}
}

func (p *Platform) refreshStructure(ctx context.Context) {
	for _, e := range p.snapshotEntries() {
		if e.sync.Kind() == KindStructure {
			_, _ = e.sync.Refresh(ctx)
			return
		}
	}
	_, _ = p.coord.Refresh(ctx)
}

func (p *Platform) entry(uuid string) (*entry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[uuid]
	return e, ok
}

func (p *Platform) snapshotEntries() map[string]*entry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]*entry, len(p.entries))
	for k, v := range p.entries {
		out[k] = v
	}
	return out
}

// Synchronizer returns the synchronizer of a registered accessory.
func (p *Platform) Synchronizer(uuid string) (Synchronizer, bool) {
	e, ok := p.entry(uuid)
	if !ok {
		return nil, false
	}
	return e.sync, true
}

// Devices lists the last confirmed snapshot of every tracked device.
func (p *Platform) Devices() []Device {
	entries := p.snapshotEntries()
	out := make([]Device, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.sync.Device())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}
