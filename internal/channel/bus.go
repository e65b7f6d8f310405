package channel

import (
	"context"
	"sync"
)

// Listener handles an event and reports whether it consumed it.
type Listener func(ctx context.Context, ev Event) bool

type SubscribeOptions struct {
	// SelfDestruct removes the listener once it consumes an event.
	SelfDestruct bool
	// FilterBySender restricts delivery to events from this address.
	FilterBySender string
}

// Subscription identifies a registered listener.
type Subscription uint64

type entry struct {
	id       Subscription
	topic    string
	listener Listener
	opts     SubscribeOptions
}

// Bus fans inbound events out to listeners. Sender-filtered listeners are
// offered an event before global ones, and delivery stops at the first
// listener that consumes it.
type Bus struct {
	mu      sync.Mutex
	next    Subscription
	entries map[string][]*entry
}

func NewBus() *Bus {
	return &Bus{entries: make(map[string][]*entry)}
}

func (b *Bus) Subscribe(topic string, l Listener, opts SubscribeOptions) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	b.entries[topic] = append(b.entries[topic], &entry{
		id:       b.next,
		topic:    topic,
		listener: l,
		opts:     opts,
	})
	return b.next
}

// Unsubscribe removes a listener. It reports whether the subscription was
// still registered.
func (b *Bus) Unsubscribe(sub Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, list := range b.entries {
		for i, e := range list {
			if e.id == sub {
				b.entries[topic] = append(list[:i:i], list[i+1:]...)
				return true
			}
		}
	}
	return false
}

// Publish offers ev to the listeners of topic and reports whether one
// consumed it.
func (b *Bus) Publish(ctx context.Context, topic string, ev Event) bool {
	for _, e := range b.snapshot(topic, ev.SenderID) {
		if !b.registered(e) {
			continue
		}
		if !e.listener(ctx, ev) {
			continue
		}
		if e.opts.SelfDestruct {
			b.Unsubscribe(e.id)
		}
		return true
	}
	return false
}

// Len returns the number of listeners registered for topic.
func (b *Bus) Len(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries[topic])
}

func (b *Bus) snapshot(topic, sender string) []*entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	var filtered, global []*entry
	for _, e := range b.entries[topic] {
		switch e.opts.FilterBySender {
		case "":
			global = append(global, e)
		case sender:
			filtered = append(filtered, e)
		}
	}
	return append(filtered, global...)
}

func (b *Bus) registered(target *entry) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.entries[target.topic] {
		if e == target {
			return true
		}
	}
	return false
}
