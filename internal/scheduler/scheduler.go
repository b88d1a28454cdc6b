// Package scheduler fires recurring sync jobs: one global pass on a fixed
// interval plus an extra pass per rule that carries its own interval.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/voyagen/collectarr/internal/cache"
	"github.com/voyagen/collectarr/internal/models"
)

// Dispatcher receives a due job. The dispatcher decides how the job runs:
// pushed onto the Redis queue when one is configured, executed inline
// otherwise. Jobs are plain values so they survive the queue round trip.
type Dispatcher func(ctx context.Context, job cache.SyncJob)

// Scheduler owns one goroutine for the global interval and one per rule
// with its own interval. Reload replaces the per-rule set; stale goroutines
// are cancelled rather than reused.
type Scheduler struct {
	interval time.Duration
	dispatch Dispatcher

	mu      sync.Mutex
	ctx     context.Context
	cancels map[string]context.CancelFunc
	pending []models.Rule
}

// New creates a scheduler with the given global interval. An interval of
// zero disables the global pass; per-rule jobs still run.
func New(interval time.Duration, dispatch Dispatcher) *Scheduler {
	return &Scheduler{
		interval: interval,
		dispatch: dispatch,
		cancels:  map[string]context.CancelFunc{},
	}
}

// Start launches the global ticker and applies any rules loaded before
// Start. All jobs stop when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	if s.pending != nil {
		s.reloadLocked(s.pending)
		s.pending = nil
	}
	s.mu.Unlock()

	go s.runGlobal(ctx)
}

// Reload replaces the per-rule jobs with the given rule set. Disabled rules
// and rules without their own interval get no job. Safe to call before
// Start; the set is applied once the scheduler runs.
func (s *Scheduler) Reload(rules []models.Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		s.pending = rules
		return
	}
	s.reloadLocked(rules)
}

func (s *Scheduler) reloadLocked(rules []models.Rule) {
	for id, cancel := range s.cancels {
		cancel()
		delete(s.cancels, id)
	}
	for _, r := range rules {
		if !r.Enabled || r.SyncIntervalMinutes <= 0 {
			continue
		}
		jctx, cancel := context.WithCancel(s.ctx)
		s.cancels[r.ID] = cancel
		go s.runRule(jctx, r.ID, time.Duration(r.SyncIntervalMinutes)*time.Minute)
	}
	log.Printf("schedule: %d per-rule jobs active", len(s.cancels))
}

func (s *Scheduler) runGlobal(ctx context.Context) {
	if s.interval <= 0 {
		log.Println("schedule: global sync disabled")
		return
	}
	log.Printf("schedule: global sync every %s", s.interval)
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.dispatch(ctx, cache.SyncJob{RequestedAt: time.Now().UTC()})
		}
	}
}

func (s *Scheduler) runRule(ctx context.Context, ruleID string, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.dispatch(ctx, cache.SyncJob{RuleID: ruleID, RequestedAt: time.Now().UTC()})
		}
	}
}
