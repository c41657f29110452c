package reconcile

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"ordersync/internal/apperr"
	"ordersync/internal/metrics"
	"ordersync/internal/model"
)

// DefaultFrequency is the interval between scheduled passes.
const DefaultFrequency = 5 * time.Minute

// Syncer runs one reconciliation pass.
type Syncer interface {
	Sync(ctx context.Context, trigger string) model.SyncRun
}

// Scheduler runs passes on a ticker and on demand. Ticks and manual
// triggers share one running guard, so passes never overlap.
type Scheduler struct {
	syncer  Syncer
	log     *zap.Logger
	running *atomic.Bool

	mu      sync.Mutex
	freq    time.Duration
	stop    chan struct{}
	done    chan struct{}
	last    *model.SyncRun
	started bool
}

// SchedulerStatus is the externally visible scheduler state.
type SchedulerStatus struct {
	Running   bool           `json:"running"`
	InFlight  bool           `json:"inFlight"`
	Frequency string         `json:"frequency"`
	LastRun   *model.SyncRun `json:"lastRun,omitempty"`
}

func NewScheduler(s Syncer, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		syncer:  s,
		log:     log,
		running: atomic.NewBool(false),
		freq:    DefaultFrequency,
	}
}

// Start begins periodic passes with an immediate first pass. A zero freq
// keeps the current frequency. Starting twice restarts the ticker.
func (s *Scheduler) Start(freq time.Duration) error {
	if freq < 0 {
		return apperr.Invalid("frequency must be positive")
	}
	s.Stop()
	s.mu.Lock()
	if freq > 0 {
		s.freq = freq
	}
	stop, done := make(chan struct{}), make(chan struct{})
	s.stop, s.done, s.started = stop, done, true
	every := s.freq
	s.mu.Unlock()

	s.log.Info("sync scheduler started", zap.Duration("frequency", every))
	go s.loop(every, stop, done)
	return nil
}

func (s *Scheduler) loop(every time.Duration, stop, done chan struct{}) {
	defer close(done)
	s.runOnce(context.Background(), TriggerStartup)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.runOnce(context.Background(), TriggerScheduled)
		}
	}
}

// Stop halts the ticker. A pass already running is allowed to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	close(s.stop)
	s.started = false
	s.mu.Unlock()
	s.log.Info("sync scheduler stopped")
}

// Wait blocks until the loop goroutine of the last Start has exited.
func (s *Scheduler) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// SetFrequency changes the interval, restarting the ticker when running.
func (s *Scheduler) SetFrequency(d time.Duration) error {
	if d <= 0 {
		return apperr.Invalid("frequency must be positive")
	}
	s.mu.Lock()
	s.freq = d
	started := s.started
	s.mu.Unlock()
	s.log.Info("sync frequency changed", zap.Duration("frequency", d))
	if started {
		return s.Start(d)
	}
	return nil
}

// Trigger runs a manual pass now unless one is in flight.
func (s *Scheduler) Trigger(ctx context.Context) model.SyncRun {
	return s.runOnce(ctx, TriggerManual)
}

func (s *Scheduler) runOnce(ctx context.Context, trigger string) model.SyncRun {
	if !s.running.CAS(false, true) {
		s.log.Info("sync already in progress", zap.String("trigger", trigger))
		metrics.SyncRuns.WithLabelValues(trigger, "skipped").Inc()
		return model.SyncRun{Trigger: trigger, StartedAt: time.Now(), Skipped: true}
	}
	defer s.running.Store(false)

	// A started pass runs to completion; provider calls carry their own
	// timeouts.
	run := s.syncer.Sync(context.WithoutCancel(ctx), trigger)
	s.mu.Lock()
	s.last = &run
	s.mu.Unlock()
	return run
}

func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := SchedulerStatus{
		Running:   s.started,
		InFlight:  s.running.Load(),
		Frequency: s.freq.String(),
	}
	if s.last != nil {
		last := *s.last
		st.LastRun = &last
	}
	return st
}
