// Package bus implements the process-wide event broker. Producers publish
// events on (scope, id, verb) topics; consumers subscribe with an optional
// id wildcard. Delivery to each subscription is ordered.
package bus

import (
	"fmt"
	"sync"
)

// Wildcard matches any topic id in a subscription pattern.
const Wildcard = "*"

// Topic identifies an event stream as (scope, id-or-wildcard, verb).
type Topic struct {
	Scope string
	ID    string
	Verb  string
}

func (t Topic) String() string {
	return t.Scope + "/" + t.ID + "/" + t.Verb
}

func (t Topic) matches(pattern Topic) bool {
	if pattern.Scope != t.Scope || pattern.Verb != t.Verb {
		return false
	}
	return pattern.ID == Wildcard || pattern.ID == t.ID
}

// Event is one published notification.
type Event struct {
	Topic   Topic
	Payload interface{}
}

// Handler consumes one event. Handlers for a single subscription run one at
// a time, in publish order.
type Handler func(Event)

// Subscription is one registered consumer of a topic pattern.
type Subscription struct {
	id      int
	pattern Topic
	ch      chan Event
	done    chan struct{}

	mu     sync.Mutex
	closed bool
}

func (s *Subscription) deliver(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.ch <- ev
}

func (s *Subscription) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

const subscriptionBuffer = 256

// Broker routes published events to matching subscriptions. It must be
// started before use and stopped to release subscription goroutines.
type Broker struct {
	mu      sync.Mutex
	subs    map[int]*Subscription
	nextID  int
	started bool
	stopped bool
	wg      sync.WaitGroup
}

// NewBroker returns an unstarted broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[int]*Subscription)}
}

// Start makes the broker accept subscriptions and events.
func (b *Broker) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return fmt.Errorf("bus: broker already started")
	}
	b.started = true
	return nil
}

// Stop closes all subscriptions and waits for in-flight deliveries to drain.
// The broker cannot be restarted.
func (b *Broker) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	for id, sub := range b.subs {
		sub.shutdown()
		delete(b.subs, id)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

// Subscribe registers a handler for a topic pattern. Events are delivered to
// the handler one at a time, in the order they were published.
func (b *Broker) Subscribe(pattern Topic, h Handler) (*Subscription, error) {
	if h == nil {
		return nil, fmt.Errorf("bus: handler is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started || b.stopped {
		return nil, fmt.Errorf("bus: broker is not running")
	}
	b.nextID++
	sub := &Subscription{
		id:      b.nextID,
		pattern: pattern,
		ch:      make(chan Event, subscriptionBuffer),
		done:    make(chan struct{}),
	}
	b.subs[sub.id] = sub
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(sub.done)
		for ev := range sub.ch {
			h(ev)
		}
	}()
	return sub, nil
}

// Unsubscribe removes a subscription and waits for its pending events to be
// handled.
func (b *Broker) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	if _, ok := b.subs[sub.id]; !ok {
		b.mu.Unlock()
		return
	}
	delete(b.subs, sub.id)
	b.mu.Unlock()
	sub.shutdown()
	<-sub.done
}

// Publish delivers an event to every matching subscription. It blocks only
// if a subscription's buffer is full, providing backpressure rather than
// dropping events.
func (b *Broker) Publish(topic Topic, payload interface{}) {
	b.mu.Lock()
	var targets []*Subscription
	for _, sub := range b.subs {
		if topic.matches(sub.pattern) {
			targets = append(targets, sub)
		}
	}
	b.mu.Unlock()

	ev := Event{Topic: topic, Payload: payload}
	for _, sub := range targets {
		sub.deliver(ev)
	}
}
