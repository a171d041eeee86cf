package pipeline

import (
	"sync"
	"time"
)

// Progress is a snapshot of the current pipeline run for the admin surface.
type Progress struct {
	Running   bool      `json:"running"`
	Stage     string    `json:"stage"`
	Detail    string    `json:"detail"`
	Done      int       `json:"done"`
	Total     int       `json:"total"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tracker publishes pipeline progress to any number of subscribers (the
// websocket hub among them). Slow subscribers drop updates instead of
// blocking the pipeline.
type Tracker struct {
	mu    sync.RWMutex
	state Progress
	subs  map[chan Progress]struct{}
}

// NewTracker builds an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{subs: make(map[chan Progress]struct{})}
}

// Set replaces the current state and notifies subscribers.
func (t *Tracker) Set(running bool, stage, detail string, done, total int) {
	t.mu.Lock()
	t.state = Progress{
		Running:   running,
		Stage:     stage,
		Detail:    detail,
		Done:      done,
		Total:     total,
		UpdatedAt: time.Now().UTC(),
	}
	state := t.state
	subs := make([]chan Progress, 0, len(t.subs))
	for ch := range t.subs {
		subs = append(subs, ch)
	}
	t.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- state:
		default:
		}
	}
}

// State returns the latest snapshot.
func (t *Tracker) State() Progress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Subscribe returns a channel receiving progress updates until Unsubscribe.
func (t *Tracker) Subscribe() chan Progress {
	ch := make(chan Progress, 16)
	t.mu.Lock()
	t.subs[ch] = struct{}{}
	t.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (t *Tracker) Unsubscribe(ch chan Progress) {
	t.mu.Lock()
	if _, ok := t.subs[ch]; ok {
		delete(t.subs, ch)
		close(ch)
	}
	t.mu.Unlock()
}
