package chat

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type expiryRecorder struct {
	mu  sync.Mutex
	got []time.Time
}

func (r *expiryRecorder) record(uint, uint) {
	r.mu.Lock()
	r.got = append(r.got, time.Now())
	r.mu.Unlock()
}

func (r *expiryRecorder) times() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Time(nil), r.got...)
}

func (t *TypingTracker) isTyping(projectID, userID uint) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.active[typingKey{projectID, userID}]
	return ok
}

// signal reports the changed flag passed to notify, false once the tracker is closed.
func signal(tr *TypingTracker, projectID, userID uint, typing bool) bool {
	var changed bool
	tr.Signal(projectID, userID, typing, func(c bool) { changed = c })
	return changed
}

func TestTypingTracker_ExpiresOnce(t *testing.T) {
	window := 100 * time.Millisecond
	rec := &expiryRecorder{}
	tr := NewTypingTracker(window, rec.record)
	defer tr.Close()

	start := time.Now()
	if !signal(tr, 42, 1, true) {
		t.Fatal("signal(true) from Idle = false, want true")
	}
	time.Sleep(3 * window)

	got := rec.times()
	if len(got) != 1 {
		t.Fatalf("expiries = %d, want 1", len(got))
	}
	if d := got[0].Sub(start); d < window || d > window+150*time.Millisecond {
		t.Errorf("expired after %v, want about %v", d, window)
	}
	if tr.isTyping(42, 1) {
		t.Error("isTyping() = true after expiry")
	}
}

func TestTypingTracker_ResetNotStacked(t *testing.T) {
	window := 100 * time.Millisecond
	rec := &expiryRecorder{}
	tr := NewTypingTracker(window, rec.record)
	defer tr.Close()

	signal(tr, 42, 1, true)
	time.Sleep(window / 2)
	resetAt := time.Now()
	if signal(tr, 42, 1, true) {
		t.Error("signal(true) while Typing = true, want false")
	}
	time.Sleep(3 * window)

	got := rec.times()
	if len(got) != 1 {
		t.Fatalf("expiries = %d, want exactly 1", len(got))
	}
	if d := got[0].Sub(resetAt); d < window {
		t.Errorf("expired %v after reset, want at least %v", d, window)
	}
}

func TestTypingTracker_StopCancels(t *testing.T) {
	var fired atomic.Int32
	tr := NewTypingTracker(50*time.Millisecond, func(uint, uint) { fired.Add(1) })
	defer tr.Close()

	signal(tr, 42, 1, true)
	if !signal(tr, 42, 1, false) {
		t.Error("signal(false) while Typing = false, want true")
	}
	if signal(tr, 42, 1, false) {
		t.Error("signal(false) while Idle = true, want false")
	}
	time.Sleep(150 * time.Millisecond)
	if fired.Load() != 0 {
		t.Errorf("onExpire fired %d times after stop", fired.Load())
	}
}

func TestTypingTracker_IndependentPairs(t *testing.T) {
	tr := NewTypingTracker(time.Second, nil)
	defer tr.Close()

	signal(tr, 42, 2, true)
	signal(tr, 42, 1, true)
	signal(tr, 7, 1, true)
	got := tr.Typing(42)
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("Typing(42) = %v, want [1 2]", got)
	}
	signal(tr, 42, 1, false)
	if !tr.isTyping(7, 1) {
		t.Error("stopping (42,1) affected (7,1)")
	}
}

func TestTypingTracker_CloseSilencesTimers(t *testing.T) {
	var fired atomic.Int32
	tr := NewTypingTracker(30*time.Millisecond, func(uint, uint) { fired.Add(1) })
	signal(tr, 42, 1, true)
	tr.Close()
	if signal(tr, 42, 2, true) {
		t.Error("signal(true) after Close() = true")
	}
	time.Sleep(100 * time.Millisecond)
	if fired.Load() != 0 {
		t.Errorf("onExpire fired %d times after Close", fired.Load())
	}
}

func TestTypingTracker_SignalOrderedAfterSlowExpiry(t *testing.T) {
	var (
		mu     sync.Mutex
		events []bool
	)
	record := func(v bool) {
		mu.Lock()
		events = append(events, v)
		mu.Unlock()
	}
	expiring := make(chan struct{})
	tr := NewTypingTracker(20*time.Millisecond, func(uint, uint) {
		close(expiring)
		// broadcasting the expiry is slow; a new typing signal must wait for it
		time.Sleep(50 * time.Millisecond)
		record(false)
	})
	defer tr.Close()

	signal(tr, 42, 1, true)
	select {
	case <-expiring:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
	tr.Signal(42, 1, true, func(changed bool) {
		if !changed {
			t.Error("Signal(true) after expiry: changed = false, want true")
		}
		record(true)
	})

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 || events[0] || !events[1] {
		t.Fatalf("events = %v, want [false true]", events)
	}
	if !tr.isTyping(42, 1) {
		t.Error("isTyping() = false, want true after the new signal")
	}
}

func TestTypingTracker_SignalStop(t *testing.T) {
	tr := NewTypingTracker(time.Second, nil)
	defer tr.Close()

	var got []bool
	tr.Signal(42, 1, false, func(changed bool) { got = append(got, changed) })
	tr.Signal(42, 1, true, func(changed bool) { got = append(got, changed) })
	tr.Signal(42, 1, true, func(changed bool) { got = append(got, changed) })
	tr.Signal(42, 1, false, func(changed bool) { got = append(got, changed) })
	want := []bool{false, true, false, true}
	for i := range want {
		if i >= len(got) || got[i] != want[i] {
			t.Fatalf("changed = %v, want %v", got, want)
		}
	}

	tr.Close()
	called := false
	tr.Signal(42, 1, true, func(bool) { called = true })
	if called {
		t.Error("notify called after Close()")
	}
}
