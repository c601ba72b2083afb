// Package schedule enforces minimum display times for loading states.
//
// The scheduler records when each element's loading state was activated
// and defers the real removal until at least MinDisplay has elapsed, so a
// fast response does not produce a sub-perceptual flash of spinner.
// Everything is driven through a clockz.Clock, which keeps the timing
// paths testable with a fake clock.
package schedule

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/clockz"
)

// Task is one cancellable deferred invocation. Tasks are returned by every
// scheduling call so callers can cancel a stale timer before it destroys a
// newer loading cycle.
type Task struct {
	mu        sync.Mutex
	fired     bool
	cancelled bool
	stop      chan struct{}
	timer     clockz.Timer
}

// firedTask is the zero-delay case: the work already ran synchronously.
func firedTask() *Task {
	return &Task{fired: true}
}

func newTask(clock clockz.Clock, d time.Duration, fn func()) *Task {
	t := &Task{stop: make(chan struct{}), timer: clock.NewTimer(d)}
	go func() {
		select {
		case <-t.timer.C():
			t.mu.Lock()
			if t.cancelled {
				t.mu.Unlock()
				return
			}
			t.fired = true
			t.mu.Unlock()
			fn()
		case <-t.stop:
		}
	}()
	return t
}

// Cancel stops the task if it has not fired. It reports whether the task
// was actually cancelled; cancelling a fired or already-cancelled task is
// a safe no-op returning false.
func (t *Task) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired || t.cancelled {
		return false
	}
	t.cancelled = true
	if t.timer != nil {
		t.timer.Stop()
	}
	close(t.stop)
	return true
}

// Active reports whether the task is still waiting to fire.
func (t *Task) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.fired && !t.cancelled
}

// Fired reports whether the task's function ran.
func (t *Task) Fired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired
}

// Stats counts scheduler activity. Read with Snapshot.
type Stats struct {
	Activations uint64 `json:"activations"`
	Scheduled   uint64 `json:"scheduled"` // removals deferred behind a timer
	Immediate   uint64 `json:"immediate"` // removals run synchronously (delay <= 0)
	Cancelled   uint64 `json:"cancelled"` // pending removals cancelled by re-activation or teardown
}

// Scheduler tracks activation timestamps per element and schedules
// minimum-display-honoring removals. Element keys are dom element IDs;
// the scheduler itself never touches the document.
type Scheduler struct {
	clock clockz.Clock

	mu        sync.Mutex
	activated map[uint64]time.Time
	pending   map[uint64]*Task

	activations atomic.Uint64
	scheduled   atomic.Uint64
	immediate   atomic.Uint64
	cancelled   atomic.Uint64
}

// New builds a scheduler. A nil clock means the real one.
func New(clock clockz.Clock) *Scheduler {
	if clock == nil {
		clock = clockz.RealClock
	}
	return &Scheduler{
		clock:     clock,
		activated: make(map[uint64]time.Time),
		pending:   make(map[uint64]*Task),
	}
}

// Activate records the activation instant for an element and cancels any
// removal still pending from a previous cycle, so the stale timer cannot
// tear down the state being installed now.
func (s *Scheduler) Activate(id uint64) {
	s.mu.Lock()
	s.activated[id] = s.clock.Now()
	prev := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()

	s.activations.Add(1)
	if prev != nil && prev.Cancel() {
		s.cancelled.Add(1)
	}
}

// ActivatedAt returns the recorded activation time for an element.
func (s *Scheduler) ActivatedAt(id uint64) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.activated[id]
	return at, ok
}

// RequestRemoval schedules fn to run once the element has been visibly
// loading for at least minDisplay. A missing activation record counts as
// zero elapsed time. Any removal already pending for the element is
// cancelled first. When the minimum has already elapsed fn runs
// synchronously before RequestRemoval returns.
func (s *Scheduler) RequestRemoval(id uint64, minDisplay time.Duration, fn func()) *Task {
	s.mu.Lock()
	var elapsed time.Duration
	if at, ok := s.activated[id]; ok {
		elapsed = s.clock.Since(at)
	}
	delay := minDisplay - elapsed
	prev := s.pending[id]
	delete(s.pending, id)

	if delay <= 0 {
		delete(s.activated, id)
		s.mu.Unlock()
		if prev != nil && prev.Cancel() {
			s.cancelled.Add(1)
		}
		s.immediate.Add(1)
		fn()
		return firedTask()
	}

	task := newTask(s.clock, delay, func() {
		s.mu.Lock()
		delete(s.activated, id)
		delete(s.pending, id)
		s.mu.Unlock()
		fn()
	})
	s.pending[id] = task
	s.mu.Unlock()

	if prev != nil && prev.Cancel() {
		s.cancelled.Add(1)
	}
	s.scheduled.Add(1)
	return task
}

// Cancel drops the pending removal and activation record for an element.
// Used when the element leaves the document mid-cycle.
func (s *Scheduler) Cancel(id uint64) bool {
	s.mu.Lock()
	task := s.pending[id]
	delete(s.pending, id)
	delete(s.activated, id)
	s.mu.Unlock()

	if task != nil && task.Cancel() {
		s.cancelled.Add(1)
		return true
	}
	return false
}

// After schedules a free-standing deferred call, unrelated to any element
// record. Fallback timers and deferred cleanups use it. Zero or negative
// delays run fn synchronously.
func (s *Scheduler) After(d time.Duration, fn func()) *Task {
	if d <= 0 {
		s.immediate.Add(1)
		fn()
		return firedTask()
	}
	s.scheduled.Add(1)
	return newTask(s.clock, d, fn)
}

// Now exposes the scheduler's clock reading.
func (s *Scheduler) Now() time.Time {
	return s.clock.Now()
}

// Stop cancels every pending removal and clears all records. Safe to call
// repeatedly.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	tasks := make([]*Task, 0, len(s.pending))
	for _, t := range s.pending {
		tasks = append(tasks, t)
	}
	s.pending = make(map[uint64]*Task)
	s.activated = make(map[uint64]time.Time)
	s.mu.Unlock()

	for _, t := range tasks {
		if t.Cancel() {
			s.cancelled.Add(1)
		}
	}
}

// Pending reports how many removals are waiting on their timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Snapshot returns current counter values.
func (s *Scheduler) Snapshot() Stats {
	return Stats{
		Activations: s.activations.Load(),
		Scheduled:   s.scheduled.Load(),
		Immediate:   s.immediate.Load(),
		Cancelled:   s.cancelled.Load(),
	}
}
