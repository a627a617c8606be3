package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Task is invoked on every firing of a recurring binding.
type Task func(ctx context.Context)

// Recurring binds identifiers to periodic tasks. Scheduling an id that is
// already bound replaces the previous binding.
type Recurring interface {
	Schedule(id string, period time.Duration, task Task)
	Cancel(id string)
	Stop()
}

// Timer is a Recurring backed by one timer loop per binding. Each firing runs
// on its own goroutine so a slow task never delays another binding.
type Timer struct {
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	jobs   map[string]context.CancelFunc
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// NewTimer constructs a Timer scheduler.
func NewTimer(logger zerolog.Logger) *Timer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Timer{
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]context.CancelFunc),
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// Schedule binds task to id with the given period. Non-positive periods are ignored.
func (s *Timer) Schedule(id string, period time.Duration, task Task) {
	if period <= 0 {
		s.logger.Warn().Str("id", id).Dur("period", period).Msg("ignoring non-positive period")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return
	}
	if cancel, ok := s.jobs[id]; ok {
		cancel()
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.jobs[id] = cancel

	s.wg.Add(1)
	go s.loop(ctx, id, period, task)
	s.logger.Debug().Str("id", id).Dur("period", period).Msg("binding scheduled")
}

// Cancel removes the binding for id. A firing already in progress is not interrupted.
func (s *Timer) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.jobs[id]; ok {
		cancel()
		delete(s.jobs, id)
	}
}

// Stop cancels every binding and the context of running tasks, then waits
// for loops and tasks to return.
func (s *Timer) Stop() {
	s.mu.Lock()
	s.cancel()
	s.jobs = make(map[string]context.CancelFunc)
	s.mu.Unlock()
	s.wg.Wait()
}

// loop owns the timer for one binding. ctx ends the loop only; firings run
// under the scheduler context so Cancel and re-Schedule never interrupt them.
func (s *Timer) loop(ctx context.Context, id string, period time.Duration, task Task) {
	defer s.wg.Done()

	next := time.Now().Add(period)
	for {
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.logger.Debug().Str("id", id).Msg("firing")
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			task(s.ctx)
		}()

		next = next.Add(period)
		if now := time.Now(); next.Before(now) {
			next = now.Add(period)
		}
	}
}

var _ Recurring = (*Timer)(nil)
