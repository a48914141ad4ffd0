// Package broker fans broadcast messages out to viewers. One producer,
// many subscribers, each with its own bounded backlog. Delivery is
// intentionally lossy: a slow subscriber loses its oldest unread
// messages and sees a lag count instead of ever backpressuring the
// producer. Anything needing guaranteed state must poll the read
// accessors.
package broker

import (
	"sync"
	"sync/atomic"

	"roondisplay/internal/models"
)

const DefaultBacklog = 100

type Subscriber struct {
	ch     chan models.Message
	lagged atomic.Uint64
}

// C is the subscriber's receive channel. It is closed on Unsubscribe and
// when the broker shuts down.
func (s *Subscriber) C() <-chan models.Message {
	return s.ch
}

// Lagged returns how many messages were dropped for this subscriber
// because its backlog was full.
func (s *Subscriber) Lagged() uint64 {
	return s.lagged.Load()
}

type Broker struct {
	backlog int

	mu          sync.Mutex
	subscribers map[*Subscriber]struct{}
	closed      bool
}

func New(backlog int) *Broker {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	return &Broker{
		backlog:     backlog,
		subscribers: make(map[*Subscriber]struct{}),
	}
}

// Subscribe registers a new subscriber. It receives messages published
// after this call only; a fresh viewer re-pulls full state through the
// read accessors.
func (b *Broker) Subscribe() *Subscriber {
	sub := &Subscriber{ch: make(chan models.Message, b.backlog)}
	b.mu.Lock()
	if !b.closed {
		b.subscribers[sub] = struct{}{}
	} else {
		close(sub.ch)
	}
	b.mu.Unlock()
	return sub
}

func (b *Broker) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	_, ok := b.subscribers[sub]
	delete(b.subscribers, sub)
	b.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// Publish delivers msg to every subscriber without blocking. When a
// subscriber's backlog is full its oldest unread message is dropped and
// its lag count incremented. Only one goroutine may publish.
func (b *Broker) Publish(msg models.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subscribers {
		select {
		case sub.ch <- msg:
			continue
		default:
		}
		// Backlog full. Evict the oldest entry; the subscriber may have
		// drained concurrently, in which case the retry just succeeds.
		select {
		case <-sub.ch:
			sub.lagged.Add(1)
		default:
		}
		select {
		case sub.ch <- msg:
		default:
			sub.lagged.Add(1)
		}
	}
}

// Close shuts down all subscriber channels. Publish after Close is a
// no-op.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, sub)
	}
}

// Len reports the current subscriber count.
func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
