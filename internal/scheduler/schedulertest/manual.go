// Package schedulertest provides a virtual-clock scheduler for tests.
package schedulertest

import (
	"context"
	"sync"
	"time"

	"shopwatch/internal/scheduler"
)

type binding struct {
	period time.Duration
	next   time.Time
	task   scheduler.Task
}

// Manual is a scheduler.Recurring driven by Advance. Tasks run synchronously
// on the goroutine calling Advance or Fire.
type Manual struct {
	mu       sync.Mutex
	now      time.Time
	bindings map[string]*binding
	stopped  bool
}

// NewManual returns a Manual whose clock starts at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start, bindings: make(map[string]*binding)}
}

func (m *Manual) Schedule(id string, period time.Duration, task scheduler.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped || period <= 0 {
		return
	}
	m.bindings[id] = &binding{period: period, next: m.now.Add(period), task: task}
}

func (m *Manual) Cancel(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bindings, id)
}

func (m *Manual) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	m.bindings = make(map[string]*binding)
}

// Now reports the virtual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Period reports the period bound to id.
func (m *Manual) Period(id string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bindings[id]
	if !ok {
		return 0, false
	}
	return b.period, true
}

// Len reports the number of live bindings.
func (m *Manual) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bindings)
}

// Task returns the task currently bound to id, so tests can replay a firing
// after the binding has gone.
func (m *Manual) Task(id string) scheduler.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.bindings[id]; ok {
		return b.task
	}
	return nil
}

// Fire runs the task bound to id once without moving the clock.
func (m *Manual) Fire(id string) bool {
	task := m.Task(id)
	if task == nil {
		return false
	}
	task(context.Background())
	return true
}

// Advance moves the clock forward by d, running every firing that falls due
// in time order.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		var (
			dueID string
			due   *binding
		)
		for id, b := range m.bindings {
			if b.next.After(target) {
				continue
			}
			if due == nil || b.next.Before(due.next) || (b.next.Equal(due.next) && id < dueID) {
				dueID, due = id, b
			}
		}
		if due == nil {
			m.now = target
			m.mu.Unlock()
			return
		}
		m.now = due.next
		due.next = due.next.Add(due.period)
		task := due.task
		m.mu.Unlock()

		task(context.Background())
	}
}

var _ scheduler.Recurring = (*Manual)(nil)
