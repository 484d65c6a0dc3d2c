package events

import (
	"sync"

	"salechain/core/types"
)

// Broker fans committed events out to live subscribers. Delivery never
// blocks the emitter: a subscriber whose buffer is full misses the event and
// has its Dropped count raised.
type Broker struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*Subscription
}

// Subscription receives flattened events until cancelled.
type Subscription struct {
	id      uint64
	filter  map[string]struct{}
	ch      chan *types.Event
	broker  *Broker
	once    sync.Once
	mu      sync.Mutex
	dropped uint64
}

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[uint64]*Subscription)}
}

// Subscribe registers a subscriber with the given channel buffer. When
// eventTypes is non-empty only those event types are delivered.
func (b *Broker) Subscribe(buffer int, eventTypes ...string) *Subscription {
	if buffer <= 0 {
		buffer = 1
	}
	sub := &Subscription{ch: make(chan *types.Event, buffer), broker: b}
	if len(eventTypes) > 0 {
		sub.filter = make(map[string]struct{}, len(eventTypes))
		for _, t := range eventTypes {
			sub.filter[t] = struct{}{}
		}
	}
	b.mu.Lock()
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	b.mu.Unlock()
	return sub
}

// Subscribers reports the number of live subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Emit implements Emitter.
func (b *Broker) Emit(evt Event) {
	flat := Flatten(evt)
	if flat == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.filter != nil {
			if _, ok := sub.filter[flat.Type]; !ok {
				continue
			}
		}
		select {
		case sub.ch <- flat:
		default:
			sub.mu.Lock()
			sub.dropped++
			sub.mu.Unlock()
		}
	}
}

// C returns the delivery channel. It is closed by Cancel.
func (s *Subscription) C() <-chan *types.Event { return s.ch }

// Dropped reports how many events were discarded because the buffer was full.
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Cancel unregisters the subscription and closes its channel.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.broker.mu.Lock()
		delete(s.broker.subs, s.id)
		s.broker.mu.Unlock()
		close(s.ch)
	})
}
