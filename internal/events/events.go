// Package events carries engagement notifications from the simulation to
// whoever is listening: the coordinator, metrics and the event log.
package events

import (
	"sync"

	"github.com/signalsfoundry/engagement-simulator/core"
)

// Kind indicates what happened.
type Kind int

const (
	KindHit Kind = iota
	KindMiss
	KindTerminated
	KindReleased
	KindAssigned
	KindEscaped
	KindEvaded
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindHit:
		return "hit"
	case KindMiss:
		return "miss"
	case KindTerminated:
		return "terminated"
	case KindReleased:
		return "released"
	case KindAssigned:
		return "assigned"
	case KindEscaped:
		return "escaped"
	case KindEvaded:
		return "evaded"
	default:
		return "unknown"
	}
}

// Event is one notification. Agent is the acting agent and Other the agent
// it acted on, when there is one.
type Event struct {
	Kind     Kind
	Time     float64
	Agent    string
	Other    string
	Position core.Vec3
	Detail   string
}

type subscription struct {
	id uint64
	fn func(Event)
}

// Bus fans events out to subscribers synchronously, in subscription order.
// It is safe for concurrent use.
type Bus struct {
	mu   sync.RWMutex
	next uint64
	subs []subscription
}

// NewBus constructs a bus without subscribers.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers fn for every published event. It returns an
// unsubscribe function; calling it more than once is harmless.
func (b *Bus) Subscribe(fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	id := b.next
	b.subs = append(b.subs, subscription{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers e to every subscriber. Subscribers run outside the lock
// and may subscribe or publish themselves.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subs := append([]subscription(nil), b.subs...)
	b.mu.RUnlock()

	for _, s := range subs {
		s.fn(e)
	}
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
