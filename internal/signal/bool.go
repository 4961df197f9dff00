// Package signal provides a minimal observable boolean used to publish the
// "logged in" and "loading" states to the rest of the application.
package signal

import "sync"

// subscriberBuffer bounds each subscriber channel. Emissions never block the
// publisher: when a subscriber falls behind, its oldest pending value is
// dropped so the latest state always gets through.
const subscriberBuffer = 16

// Bool is a concurrency-safe observable boolean. New subscribers immediately
// receive the current value; afterwards a value is emitted only on change.
type Bool struct {
	mu      sync.Mutex
	current bool
	subs    map[<-chan bool]chan bool
}

// NewBool creates an observable with the given initial value.
func NewBool(initial bool) *Bool {
	return &Bool{
		current: initial,
		subs:    make(map[<-chan bool]chan bool),
	}
}

// Get returns the current value.
func (b *Bool) Get() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Set updates the value and notifies subscribers if it changed.
func (b *Bool) Set(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v == b.current {
		return
	}
	b.current = v
	for _, ch := range b.subs {
		send(ch, v)
	}
}

// Subscribe registers a new observer. The returned channel carries the
// current value immediately, then one value per state transition.
// Callers must Unsubscribe when done.
func (b *Bool) Subscribe() <-chan bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan bool, subscriberBuffer)
	ch <- b.current
	b.subs[ch] = ch
	return ch
}

// Unsubscribe removes an observer and closes its channel.
func (b *Bool) Unsubscribe(ch <-chan bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(sub)
	}
}

// send delivers v without blocking, evicting the oldest pending value when
// the subscriber buffer is full.
func send(ch chan bool, v bool) {
	select {
	case ch <- v:
	default:
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}
