package gateway

import (
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestLoadingTrackerNeverNegative(t *testing.T) {
	l := NewLoadingTracker(0) // immediate decrement

	l.Finish()
	l.Finish()
	if l.Count() != 0 {
		t.Errorf("Count() = %d, want 0 after unmatched Finish", l.Count())
	}

	l.Start()
	if l.Count() != 1 || !l.IsLoading() {
		t.Errorf("Count() = %d, IsLoading() = %v after Start", l.Count(), l.IsLoading())
	}
	l.Finish()
	if l.Count() != 0 || l.IsLoading() {
		t.Errorf("Count() = %d, IsLoading() = %v after Finish", l.Count(), l.IsLoading())
	}
}

func TestLoadingTrackerTrailingDelay(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := NewLoadingTracker(100 * time.Millisecond)

	l.Start()
	l.Finish()

	// Still loading during the trailing window.
	if !l.IsLoading() {
		t.Error("IsLoading() should stay true during the trailing delay")
	}

	deadline := time.Now().Add(2 * time.Second)
	for l.IsLoading() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if l.IsLoading() || l.Count() != 0 {
		t.Errorf("IsLoading() = %v, Count() = %d, want settled", l.IsLoading(), l.Count())
	}
}

func TestLoadingTrackerRapidSequentialCallsDoNotFlicker(t *testing.T) {
	l := NewLoadingTracker(50 * time.Millisecond)

	ch := l.Loading()
	defer l.Unsubscribe(ch)
	if v := <-ch; v {
		t.Fatal("initial state should be false")
	}

	// Two quick back-to-back requests: the trailing delay keeps the busy
	// signal from dipping between them.
	l.Start()
	l.Finish()
	l.Start()
	l.Finish()

	if v := <-ch; !v {
		t.Fatal("expected busy=true while requests run")
	}

	deadline := time.Now().Add(2 * time.Second)
	for l.IsLoading() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	// Exactly one false emission: no flicker in between.
	var emissions []bool
	for {
		select {
		case v := <-ch:
			emissions = append(emissions, v)
			continue
		default:
		}
		break
	}
	if len(emissions) != 1 || emissions[0] {
		t.Errorf("emissions after busy = %v, want a single false", emissions)
	}
}

func TestLoadingTrackerReset(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := NewLoadingTracker(time.Hour) // pending decrements far in the future

	l.Start()
	l.Start()
	l.Finish()
	l.Finish()

	l.Reset()
	if l.Count() != 0 || l.IsLoading() {
		t.Errorf("Count() = %d, IsLoading() = %v after Reset", l.Count(), l.IsLoading())
	}

	// A canceled timer that already fired must not drive the count negative.
	time.Sleep(10 * time.Millisecond)
	if l.Count() != 0 {
		t.Errorf("Count() = %d, want 0", l.Count())
	}
}
