package cache

import (
	"strings"
	"sync"
)

// Event announces that the record at Key changed. Subscribers re-query the
// store; events carry no payload so a slow subscriber can only ever miss
// repeats, never observe stale data.
type Event struct {
	Key string
}

// Bus is the change-notification mechanism behind reactive queries: the
// presentation layer subscribes to a key prefix and re-renders on events.
// Delivery is best-effort per subscriber; a full subscriber channel drops
// the event rather than blocking store writes.
type Bus struct {
	mu   sync.Mutex
	next int
	subs map[int]*subscription
}

type subscription struct {
	prefix string
	ch     chan Event
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: map[int]*subscription{}}
}

// Subscribe registers interest in all keys starting with prefix. The
// returned cancel func must be called to release the subscription.
func (b *Bus) Subscribe(prefix string, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &subscription{prefix: prefix, ch: make(chan Event, buffer)}
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()
	cancel := func() {
		b.mu.Lock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
		b.mu.Unlock()
	}
	return sub.ch, cancel
}

// Notify fans an event out to every subscriber whose prefix matches key.
func (b *Bus) Notify(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if !strings.HasPrefix(key, sub.prefix) {
			continue
		}
		select {
		case sub.ch <- Event{Key: key}:
		default:
			signalDropTotal.Inc()
		}
	}
}
