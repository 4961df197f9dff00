package gateway

import (
	"sync"
	"time"

	"github.com/medcontrol/sessiongate/internal/signal"
)

// DefaultLoadingDelay is the trailing delay before a finished request stops
// counting as "loading". It keeps the busy indicator from flickering across
// rapid sequential calls.
const DefaultLoadingDelay = 700 * time.Millisecond

// LoadingTracker counts tracked requests and publishes a derived "busy"
// signal (count > 0). Decrements are deferred by the trailing delay; the
// counter never goes below zero. Timers are owned explicitly so Reset can
// cancel them instead of letting them fire stale.
type LoadingTracker struct {
	mu     sync.Mutex
	count  int
	delay  time.Duration
	timers map[*time.Timer]struct{}
	busy   *signal.Bool
}

// NewLoadingTracker creates a tracker with the given trailing delay.
func NewLoadingTracker(delay time.Duration) *LoadingTracker {
	return &LoadingTracker{
		delay:  delay,
		timers: make(map[*time.Timer]struct{}),
		busy:   signal.NewBool(false),
	}
}

// Start counts a request as in flight.
func (l *LoadingTracker) Start() {
	l.mu.Lock()
	l.count++
	l.busy.Set(l.count > 0)
	l.mu.Unlock()
}

// Finish schedules the matching decrement after the trailing delay.
// Called on every outcome path, success or failure.
func (l *LoadingTracker) Finish() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.delay <= 0 {
		l.decrementLocked(nil)
		return
	}

	var timer *time.Timer
	timer = time.AfterFunc(l.delay, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.decrementLocked(timer)
	})
	l.timers[timer] = struct{}{}
}

// decrementLocked applies one decrement and drops the fired timer.
// Callers must hold l.mu.
func (l *LoadingTracker) decrementLocked(timer *time.Timer) {
	if timer != nil {
		if _, ok := l.timers[timer]; !ok {
			// Canceled by Reset after firing; the count was already zeroed.
			return
		}
		delete(l.timers, timer)
	}
	if l.count > 0 {
		l.count--
	}
	l.busy.Set(l.count > 0)
}

// Reset cancels all pending decrements and zeroes the counter.
func (l *LoadingTracker) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for timer := range l.timers {
		timer.Stop()
		delete(l.timers, timer)
	}
	l.count = 0
	l.busy.Set(false)
}

// Count returns the current counter value.
func (l *LoadingTracker) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// IsLoading reports whether any tracked request is outstanding.
func (l *LoadingTracker) IsLoading() bool {
	return l.busy.Get()
}

// Loading returns an observer of the busy state. The channel carries the
// current value immediately, then one value per transition.
func (l *LoadingTracker) Loading() <-chan bool {
	return l.busy.Subscribe()
}

// Unsubscribe releases an observer obtained from Loading.
func (l *LoadingTracker) Unsubscribe(ch <-chan bool) {
	l.busy.Unsubscribe(ch)
}
