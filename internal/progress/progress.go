// Package progress broadcasts percent/stage/message updates from long
// operations to any number of subscribers, typically an SSE stream.
package progress

import "sync"

// Event is one progress update.
type Event struct {
	Type    string  `json:"type"`
	Stage   string  `json:"stage"`
	Percent float64 `json:"percent"`
	Message string  `json:"message"`
	Source  string  `json:"source,omitempty"`
}

const subscriberBuffer = 64

// Broadcaster fans events out to subscribers. Publishing never blocks: a
// subscriber that falls behind misses events instead of stalling the
// worker that reports them.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event)}
}

// Subscribe registers a listener. The returned cancel func must be called
// to release it.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber with room in its buffer.
func (b *Broadcaster) Publish(ev Event) {
	if ev.Type == "" {
		ev.Type = "progress"
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Tracker reports progress for one named operation.
type Tracker struct {
	b      *Broadcaster
	source string
}

// Tracker returns a tracker bound to a source name. A nil broadcaster
// yields a tracker whose reports are dropped, so callers need no nil
// checks.
func (b *Broadcaster) Tracker(source string) *Tracker {
	return &Tracker{b: b, source: source}
}

// Report publishes one update.
func (t *Tracker) Report(stage string, percent float64, message string) {
	if t == nil || t.b == nil {
		return
	}
	t.b.Publish(Event{
		Type:    "progress",
		Stage:   stage,
		Percent: percent,
		Message: message,
		Source:  t.source,
	})
}
