package gateway

import (
	"sync"
	"time"
)

const feedBacklog = 50

// Event is one pipeline activity entry published to the live feed.
type Event struct {
	Stage   string    `json:"stage"`
	EventID string    `json:"event_id"`
	Repo    string    `json:"repo"`
	Actor   string    `json:"actor,omitempty"`
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time"`
}

// Feed fans pipeline activity out to WebSocket subscribers and keeps a short
// backlog for newly connected clients. Safe for concurrent use.
type Feed struct {
	mu     sync.RWMutex
	subs   map[chan *Event]struct{}
	recent []*Event
}

// NewFeed creates an empty activity feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[chan *Event]struct{})}
}

// Publish records the event and delivers it to every subscriber. A slow
// subscriber's delivery is dropped rather than blocking the publisher.
func (f *Feed) Publish(event *Event) {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}

	f.mu.Lock()
	f.recent = append(f.recent, event)
	if len(f.recent) > feedBacklog {
		f.recent = f.recent[len(f.recent)-feedBacklog:]
	}
	for sub := range f.subs {
		select {
		case sub <- event:
		default:
		}
	}
	f.mu.Unlock()
}

// Subscribe registers a new subscriber channel.
func (f *Feed) Subscribe() chan *Event {
	ch := make(chan *Event, 16)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (f *Feed) Unsubscribe(ch chan *Event) {
	f.mu.Lock()
	if _, ok := f.subs[ch]; ok {
		delete(f.subs, ch)
		close(ch)
	}
	f.mu.Unlock()
}

// Recent returns the backlog in chronological order.
func (f *Feed) Recent() []*Event {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*Event, len(f.recent))
	copy(out, f.recent)
	return out
}

// Count returns the number of active subscribers.
func (f *Feed) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}
