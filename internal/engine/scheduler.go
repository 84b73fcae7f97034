// Package engine provides the tick loop: the scheduler that fires ticks and
// the engine that resolves queued jobs against the world on each one.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
)

// MinutesPerTick is the in-game time that passes each tick.
const MinutesPerTick = 30

// StepFunc runs the work of one tick.
type StepFunc func(ctx context.Context, tick uint64) TickRecord

// TickEvent is the tick-complete notification.
type TickEvent struct {
	Tick     uint64
	Record   TickRecord
	Duration time.Duration
}

// Scheduler fires ticks at a fixed cadence. At most one tick runs at a time:
// a firing that arrives while a tick is still running is skipped, not queued.
type Scheduler struct {
	step StepFunc
	log  *slog.Logger

	busy    atomic.Bool
	tick    atomic.Uint64
	skipped atomic.Uint64

	subMu sync.RWMutex
	subs  []func(TickEvent)

	mu       sync.Mutex
	running  bool
	stop     chan struct{}
	loopDone chan struct{}
	inflight sync.WaitGroup
}

// NewScheduler creates a stopped scheduler around step.
func NewScheduler(step StepFunc, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{step: step, log: log}
}

// Subscribe registers fn to run after every executed tick, in the tick's goroutine.
func (s *Scheduler) Subscribe(fn func(TickEvent)) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subs = append(s.subs, fn)
}

// Resume continues numbering after last, for an instance loaded from storage.
func (s *Scheduler) Resume(last uint64) {
	s.tick.Store(last)
}

// CurrentTick returns the number of the last tick that started.
func (s *Scheduler) CurrentTick() uint64 {
	return s.tick.Load()
}

// Skipped returns how many firings were dropped because a tick was still running.
func (s *Scheduler) Skipped() uint64 {
	return s.skipped.Load()
}

// Running reports whether the scheduler is firing.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start begins firing every interval.
func (s *Scheduler) Start(interval time.Duration) error {
	if interval <= 0 {
		return eris.Errorf("tick interval must be positive, got %s", interval)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return eris.New("scheduler already running")
	}
	s.running = true
	s.stop = make(chan struct{})
	s.loopDone = make(chan struct{})

	go s.loop(interval, s.stop, s.loopDone)
	s.log.Info("tick scheduler started", "interval", interval, "tick", s.CurrentTick())
	return nil
}

// Stop halts future firings and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	done := s.loopDone
	s.mu.Unlock()

	<-done
	s.inflight.Wait()
	s.log.Info("tick scheduler stopped", "tick", s.CurrentTick(), "skipped", s.Skipped())
}

func (s *Scheduler) loop(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !s.busy.CompareAndSwap(false, true) {
				n := s.skipped.Add(1)
				s.log.Warn("tick still running, skipping firing", "tick", s.CurrentTick(), "skipped", n)
				continue
			}
			s.inflight.Add(1)
			go func() {
				defer s.inflight.Done()
				defer s.busy.Store(false)
				s.run()
			}()
		}
	}
}

// Trigger runs one tick now under the same guard as timed firings. It reports
// false, without running anything, when a tick is already in progress.
func (s *Scheduler) Trigger() (TickEvent, bool) {
	if !s.busy.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		return TickEvent{}, false
	}
	s.inflight.Add(1)
	defer s.inflight.Done()
	defer s.busy.Store(false)
	return s.run(), true
}

func (s *Scheduler) run() (ev TickEvent) {
	tick := s.tick.Add(1)
	start := time.Now()
	ev.Tick = tick

	func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("tick panicked", "tick", tick, "panic", r)
				ev.Record = TickRecord{Tick: tick, Timestamp: start, Status: TickFailed}
			}
		}()
		ev.Record = s.step(context.Background(), tick)
	}()
	ev.Duration = time.Since(start)

	s.subMu.RLock()
	subs := slices.Clone(s.subs)
	s.subMu.RUnlock()
	for _, fn := range subs {
		s.notify(fn, ev)
	}
	return ev
}

func (s *Scheduler) notify(fn func(TickEvent), ev TickEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("tick subscriber panicked", "tick", ev.Tick, "panic", r)
		}
	}()
	fn(ev)
}

// GameTime returns a human-readable in-game time for a tick number.
func GameTime(tick uint64) string {
	totalMinutes := tick * MinutesPerTick
	minutes := totalMinutes % 60
	totalHours := totalMinutes / 60
	hours := totalHours % 24
	totalDays := totalHours / 24
	days := totalDays%90 + 1
	seasons := totalDays / 90
	season := seasons % 4
	years := seasons/4 + 1

	seasonNames := [4]string{"Spring", "Summer", "Autumn", "Winter"}

	return fmt.Sprintf("%s Day %d, %d:%02d Year %d",
		seasonNames[season], days, hours, minutes, years)
}
