package schedule

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
)

// settle gives task goroutines a moment to drain fake-clock deliveries.
func settle(clock *clockz.FakeClock) {
	clock.BlockUntilReady()
	time.Sleep(10 * time.Millisecond)
}

func TestImmediateRemovalWhenMinElapsed(t *testing.T) {
	clock := clockz.NewFakeClock()
	s := New(clock)

	s.Activate(1)
	clock.Advance(400 * time.Millisecond)

	ran := false
	task := s.RequestRemoval(1, 300*time.Millisecond, func() { ran = true })
	if !ran {
		t.Fatal("removal did not run synchronously after minimum elapsed")
	}
	if !task.Fired() {
		t.Error("task.Fired: got false")
	}
	if task.Cancel() {
		t.Error("Cancel on fired task: got true, want false")
	}
}

func TestRemovalWaitsForMinimumDisplay(t *testing.T) {
	clock := clockz.NewFakeClock()
	s := New(clock)

	var fired atomic.Bool
	s.Activate(1)
	clock.Advance(50 * time.Millisecond)

	// Cleanup requested 50ms in: 250ms of the 300ms minimum remain.
	s.RequestRemoval(1, 300*time.Millisecond, func() { fired.Store(true) })
	if fired.Load() {
		t.Fatal("removal fired immediately, want deferred")
	}

	clock.Advance(249 * time.Millisecond)
	settle(clock)
	if fired.Load() {
		t.Fatal("removal fired before 250ms remainder elapsed")
	}

	clock.Advance(1 * time.Millisecond)
	settle(clock)
	if !fired.Load() {
		t.Fatal("removal did not fire once minimum elapsed")
	}
}

func TestMissingActivationCountsAsZeroElapsed(t *testing.T) {
	clock := clockz.NewFakeClock()
	s := New(clock)

	var fired atomic.Bool
	s.RequestRemoval(9, 100*time.Millisecond, func() { fired.Store(true) })
	if fired.Load() {
		t.Fatal("removal fired immediately despite missing record")
	}
	clock.Advance(100 * time.Millisecond)
	settle(clock)
	if !fired.Load() {
		t.Fatal("removal did not fire after full minimum")
	}
}

func TestActivationRecordDeletedAfterFire(t *testing.T) {
	clock := clockz.NewFakeClock()
	s := New(clock)

	s.Activate(1)
	s.RequestRemoval(1, 100*time.Millisecond, func() {})
	clock.Advance(100 * time.Millisecond)
	settle(clock)

	if _, ok := s.ActivatedAt(1); ok {
		t.Error("activation record survived the fired removal")
	}
	if s.Pending() != 0 {
		t.Errorf("Pending: got %d, want 0", s.Pending())
	}
}

func TestReactivationCancelsPendingRemoval(t *testing.T) {
	clock := clockz.NewFakeClock()
	s := New(clock)

	var fired atomic.Int32
	s.Activate(1)
	s.RequestRemoval(1, 200*time.Millisecond, func() { fired.Add(1) })

	// New cycle begins before the old removal fires.
	s.Activate(1)

	clock.Advance(500 * time.Millisecond)
	settle(clock)
	if got := fired.Load(); got != 0 {
		t.Errorf("stale removal fired %d times after re-activation, want 0", got)
	}
	if _, ok := s.ActivatedAt(1); !ok {
		t.Error("re-activation record missing")
	}
}

func TestSecondRequestReplacesFirst(t *testing.T) {
	clock := clockz.NewFakeClock()
	s := New(clock)

	var first, second atomic.Bool
	s.Activate(1)
	s.RequestRemoval(1, 200*time.Millisecond, func() { first.Store(true) })
	s.RequestRemoval(1, 200*time.Millisecond, func() { second.Store(true) })

	clock.Advance(200 * time.Millisecond)
	settle(clock)
	if first.Load() {
		t.Error("superseded removal fired")
	}
	if !second.Load() {
		t.Error("replacement removal did not fire")
	}
}

func TestAfterRunsAndCancels(t *testing.T) {
	clock := clockz.NewFakeClock()
	s := New(clock)

	var ran atomic.Bool
	task := s.After(100*time.Millisecond, func() { ran.Store(true) })
	if !task.Active() {
		t.Fatal("task not active before firing")
	}
	if !task.Cancel() {
		t.Fatal("Cancel: got false on active task")
	}
	clock.Advance(time.Second)
	settle(clock)
	if ran.Load() {
		t.Error("cancelled task still ran")
	}

	sync := false
	s.After(0, func() { sync = true })
	if !sync {
		t.Error("zero-delay After did not run synchronously")
	}
}

func TestCancelByElement(t *testing.T) {
	clock := clockz.NewFakeClock()
	s := New(clock)

	var fired atomic.Bool
	s.Activate(1)
	s.RequestRemoval(1, 100*time.Millisecond, func() { fired.Store(true) })
	if !s.Cancel(1) {
		t.Fatal("Cancel(1): got false, want true")
	}
	if _, ok := s.ActivatedAt(1); ok {
		t.Error("activation record survived Cancel")
	}
	clock.Advance(time.Second)
	settle(clock)
	if fired.Load() {
		t.Error("cancelled removal fired")
	}
	if s.Cancel(1) {
		t.Error("second Cancel: got true, want false")
	}
}

func TestStopCancelsEverything(t *testing.T) {
	clock := clockz.NewFakeClock()
	s := New(clock)

	var fired atomic.Int32
	for id := uint64(1); id <= 3; id++ {
		s.Activate(id)
		s.RequestRemoval(id, 100*time.Millisecond, func() { fired.Add(1) })
	}
	s.Stop()
	s.Stop() // idempotent

	clock.Advance(time.Second)
	settle(clock)
	if got := fired.Load(); got != 0 {
		t.Errorf("removals fired after Stop: got %d, want 0", got)
	}
	if s.Pending() != 0 {
		t.Errorf("Pending after Stop: got %d, want 0", s.Pending())
	}
}

func TestSnapshotCounters(t *testing.T) {
	clock := clockz.NewFakeClock()
	s := New(clock)

	s.Activate(1)
	s.RequestRemoval(1, 100*time.Millisecond, func() {}) // scheduled
	s.Activate(1)                                        // cancels pending
	s.RequestRemoval(1, 0, func() {})                    // immediate

	st := s.Snapshot()
	if st.Activations != 2 {
		t.Errorf("Activations: got %d, want 2", st.Activations)
	}
	if st.Scheduled != 1 {
		t.Errorf("Scheduled: got %d, want 1", st.Scheduled)
	}
	if st.Immediate != 1 {
		t.Errorf("Immediate: got %d, want 1", st.Immediate)
	}
	if st.Cancelled != 1 {
		t.Errorf("Cancelled: got %d, want 1", st.Cancelled)
	}
}
