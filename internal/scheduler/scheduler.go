// Package scheduler is the scheduling glue (C10): it accepts a Schedule
// (cron expression or fixed interval) and fires a backup round at each
// tick, rejecting an overlapping tick while the previous round is still
// running.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ringbackup/sidecar/internal/events"
	"github.com/ringbackup/sidecar/internal/logging"
	"github.com/ringbackup/sidecar/internal/registry"
	"github.com/ringbackup/sidecar/internal/upload"
)

// RoundFunc runs one backup round to completion.
type RoundFunc func(ctx context.Context) error

// Scheduler drives RoundFunc on Schedule's ticks.
type Scheduler struct {
	schedule Schedule
	round    RoundFunc
	registry *registry.Registry
	logger   *logging.Logger

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New builds a Scheduler. reg and logger may be nil.
func New(schedule Schedule, round RoundFunc, reg *registry.Registry, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewDefault()
	}
	return &Scheduler{
		schedule: schedule,
		round:    round,
		registry: reg,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start begins the scheduling loop in a background goroutine. Start is not
// idempotent: each call starts another loop on the same Scheduler. Stop
// closes stopChan, so calling Stop a second time panics.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop signals the loop to exit and waits for it to finish. A round already
// in progress is allowed to complete; Stop does not cancel it.
func (s *Scheduler) Stop() {
	close(s.stopChan)
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	next := s.schedule.Next(time.Now())
	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-timer.C:
			s.tick(ctx)
			next = s.schedule.Next(time.Now())
			timer.Reset(time.Until(next))
		}
	}
}

// tick runs one round if no round is currently in progress, otherwise skips
// it and publishes EventRoundSkipped.
func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warnf("skipping backup round: previous round still in progress")
		s.record(&events.RoundEvent{
			BaseEvent: events.BaseEvent{EventType: events.EventRoundSkipped, Time: time.Now()},
			Reason:    "previous round still running",
		})
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	roundID := time.Now().UTC().Format(time.RFC3339)
	s.record(&events.RoundEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventRoundStarted, Time: time.Now()},
		RoundID:   roundID,
	})

	if err := s.round(ctx); err != nil {
		var partial *upload.PartialFailureError
		if errors.As(err, &partial) {
			// A partial failure is a completed round, just one that could
			// not publish a manifest; it is not the same terminal state as
			// a round that produced nothing at all.
			s.logger.Warnf("backup round %s completed with %d failure(s), no manifest published", roundID, partial.Failed)
			s.record(&events.RoundEvent{
				BaseEvent: events.BaseEvent{EventType: events.EventRoundCompleted, Time: time.Now()},
				RoundID:   roundID,
				Failed:    partial.Failed,
			})
			return
		}
		s.logger.Errorf(err, "backup round %s failed", roundID)
		s.record(&events.RoundEvent{
			BaseEvent: events.BaseEvent{EventType: events.EventRoundFailed, Time: time.Now()},
			RoundID:   roundID,
			Reason:    err.Error(),
		})
		return
	}

	s.record(&events.RoundEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventRoundCompleted, Time: time.Now()},
		RoundID:   roundID,
	})
}

// RunOnce runs a single round immediately, outside the schedule, subject to
// the same overlap rejection as a normal tick. Useful for a one-shot CLI
// invocation or for testing.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.tick(ctx)
}

func (s *Scheduler) record(e events.Event) {
	if s.registry != nil {
		s.registry.Record(e)
	}
}
