package pipeline

import (
	"testing"
)

func TestTrackerStateAndSubscribe(t *testing.T) {
	tracker := NewTracker()

	if s := tracker.State(); s.Running {
		t.Error("fresh tracker must not be running")
	}

	sub := tracker.Subscribe()
	tracker.Set(true, "fetch", "polling feeds", 2, 10)

	s := tracker.State()
	if !s.Running || s.Stage != "fetch" || s.Done != 2 || s.Total != 10 {
		t.Errorf("State() = %+v", s)
	}
	if s.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}

	select {
	case got := <-sub:
		if got.Stage != "fetch" || got.Detail != "polling feeds" {
			t.Errorf("subscriber received %+v", got)
		}
	default:
		t.Fatal("subscriber did not receive the update")
	}
}

func TestTrackerSlowSubscriberDropsUpdates(t *testing.T) {
	tracker := NewTracker()
	sub := tracker.Subscribe()

	// Overflow the subscriber buffer; Set must never block.
	for i := 0; i < 100; i++ {
		tracker.Set(true, "analyze", "", i, 100)
	}

	received := 0
	for {
		select {
		case <-sub:
			received++
			continue
		default:
		}
		break
	}
	if received == 0 || received > 16 {
		t.Errorf("received %d updates, want between 1 and the buffer size", received)
	}
	if s := tracker.State(); s.Done != 99 {
		t.Errorf("latest state Done = %d, want 99", s.Done)
	}
}

func TestTrackerUnsubscribeCloses(t *testing.T) {
	tracker := NewTracker()
	sub := tracker.Subscribe()
	tracker.Unsubscribe(sub)

	if _, open := <-sub; open {
		t.Error("channel must be closed after Unsubscribe")
	}

	// A second Unsubscribe of the same channel is a no-op, not a double close.
	tracker.Unsubscribe(sub)

	// Updates after unsubscribe must not panic on the closed channel.
	tracker.Set(false, "idle", "", 0, 0)
}
