package signal

import (
	"testing"
	"time"
)

func recv(t *testing.T, ch <-chan bool) bool {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for signal value")
		return false
	}
}

func TestSubscribeDeliversCurrentValue(t *testing.T) {
	b := NewBool(true)
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	if got := recv(t, ch); !got {
		t.Error("new subscriber should receive the current value true")
	}
}

func TestSetEmitsOnlyOnTransition(t *testing.T) {
	b := NewBool(false)
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	recv(t, ch) // initial false

	b.Set(false) // no transition, no emission
	b.Set(true)

	if got := recv(t, ch); !got {
		t.Error("expected transition to true")
	}
	select {
	case v := <-ch:
		t.Errorf("unexpected extra emission %v", v)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBool(false)
	ch := b.Subscribe()
	recv(t, ch)

	b.Unsubscribe(ch)

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Unsubscribe")
	}

	// Double unsubscribe must not panic.
	b.Unsubscribe(ch)
}

func TestSlowSubscriberKeepsLatestValue(t *testing.T) {
	b := NewBool(false)
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Overflow the buffer with alternating transitions and never read.
	for i := 0; i < 3*subscriberBuffer; i++ {
		b.Set(i%2 == 0)
	}
	final := b.Get()

	// Drain: the last delivered value must match the current state.
	var last bool
	for {
		select {
		case v := <-ch:
			last = v
			continue
		default:
		}
		break
	}
	if last != final {
		t.Errorf("last delivered = %v, want current state %v", last, final)
	}
}
