// Package schedule runs repeating tasks with per-firing random jitter.
package schedule

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// Task is one unit of periodic work. It owns its own error handling.
type Task func(ctx context.Context)

// CancelFunc stops a single scheduled task. It is safe to call more than once.
type CancelFunc func()

type Option func(*Scheduler)

// WithStep sets the jitter granularity. The default is one second.
func WithStep(step time.Duration) Option {
	return func(s *Scheduler) {
		if step > 0 {
			s.step = step
		}
	}
}

// WithRand replaces the jitter source.
func WithRand(r *rand.Rand) Option {
	return func(s *Scheduler) {
		s.rng = r
	}
}

type Scheduler struct {
	log  logr.Logger
	step time.Duration

	rngMu sync.Mutex
	rng   *rand.Rand

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	active int
}

func New(ctx context.Context, log logr.Logger, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(ctx)
	s := &Scheduler{
		log:    log.WithName("schedule"),
		step:   time.Second,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule runs task once immediately and then every interval plus a random
// 1..jitter/step steps, drawn anew for each firing. The next delay starts when
// the previous run returns, so a task never overlaps itself.
func (s *Scheduler) Schedule(name string, interval, jitter time.Duration, task Task) CancelFunc {
	ctx, cancel := context.WithCancel(s.ctx)

	s.mu.Lock()
	s.active++
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.active--
			s.mu.Unlock()
			s.wg.Done()
		}()

		s.run(ctx, name, task)
		for {
			timer := time.NewTimer(s.NextDelay(interval, jitter))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			s.run(ctx, name, task)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(cancel)
	}
}

// NextDelay returns interval plus a uniform jitter in [step, jitter], rounded to step.
// A jitter smaller than one step adds nothing.
func (s *Scheduler) NextDelay(interval, jitter time.Duration) time.Duration {
	steps := int64(jitter / s.step)
	if steps < 1 {
		return interval
	}
	s.rngMu.Lock()
	k := s.rng.Int63n(steps) + 1
	s.rngMu.Unlock()
	return interval + time.Duration(k)*s.step
}

// Active reports how many tasks are still scheduled.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Stop cancels every task and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, name string, task Task) {
	if ctx.Err() != nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error(fmt.Errorf("panic: %v", r), "Scheduled task panicked", "task", name)
		}
	}()
	task(ctx)
}
