// Package queue tracks the single upstream play-queue subscription and
// its cached item list.
package queue

import (
	"context"
	"log"
	"sync"
	"time"

	"roondisplay/internal/models"
)

// DefaultWait bounds how long EnsureSubscribed blocks for the first
// queue snapshot after subscribing.
const DefaultWait = 2 * time.Second

// DefaultPageSize is how many queue items are requested from the core.
const DefaultPageSize = 50

// Subscriber issues the upstream queue subscribe/unsubscribe calls.
type Subscriber interface {
	SubscribeQueue(ctx context.Context, zoneID string, maxItems int) error
	UnsubscribeQueue(ctx context.Context) error
}

// Manager holds at most one active queue subscription at a time. A
// request for a different zone replaces the old subscription before the
// new one is issued.
type Manager struct {
	wait time.Duration

	// switchMu serializes subscription switches, held across the
	// upstream unsubscribe/subscribe pair so concurrent callers cannot
	// interleave their calls and leave the core holding a subscription
	// that disagrees with the slot.
	switchMu sync.Mutex

	mu       sync.Mutex
	active   string
	items    []models.QueueItem
	hasItems bool
	ready    chan struct{}
}

func NewManager() *Manager {
	return &Manager{wait: DefaultWait}
}

// EnsureSubscribed makes zoneID the subscribed queue. It is a no-op when
// already subscribed to it. Otherwise it unsubscribes the previous zone,
// subscribes the new one and blocks until the first snapshot arrives or
// the wait elapses. A timeout is not an error; the cache stays empty
// until data shows up.
func (m *Manager) EnsureSubscribed(ctx context.Context, sub Subscriber, zoneID string) error {
	ready, err := m.switchTo(ctx, sub, zoneID)
	if err != nil {
		return err
	}

	select {
	case <-ready:
	case <-time.After(m.wait):
		log.Printf("timeout waiting for queue data for zone %s", zoneID)
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// switchTo moves the slot to zoneID and returns the rendezvous channel
// for its first snapshot. The whole switch runs under switchMu so the
// upstream only ever sees unsubscribe-then-subscribe pairs in order.
func (m *Manager) switchTo(ctx context.Context, sub Subscriber, zoneID string) (chan struct{}, error) {
	m.switchMu.Lock()
	defer m.switchMu.Unlock()

	m.mu.Lock()
	if m.active == zoneID {
		ready := m.ready
		m.mu.Unlock()
		return ready, nil
	}
	hadPrevious := m.active != ""
	m.mu.Unlock()

	if hadPrevious {
		if err := sub.UnsubscribeQueue(ctx); err != nil {
			log.Printf("queue unsubscribe: %v", err)
		}
	}

	// Commit the slot before subscribing: the first snapshot can race
	// the subscribe call's return and must land under the new zone.
	m.mu.Lock()
	m.active = zoneID
	m.items = nil
	m.hasItems = false
	m.ready = make(chan struct{})
	ready := m.ready
	m.mu.Unlock()

	if err := sub.SubscribeQueue(ctx, zoneID, DefaultPageSize); err != nil {
		m.mu.Lock()
		if m.active == zoneID {
			m.active = ""
			m.ready = nil
		}
		m.mu.Unlock()
		return nil, err
	}
	return ready, nil
}

// StoreSnapshot caches a full queue snapshot for the active zone and
// releases any rendezvous waiter. A snapshot with no active subscription
// is dropped.
func (m *Manager) StoreSnapshot(items []models.QueueItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == "" {
		log.Printf("dropping queue snapshot: no active queue subscription")
		return
	}
	m.items = items
	m.hasItems = true
	if m.ready != nil {
		select {
		case <-m.ready:
		default:
			close(m.ready)
		}
	}
}

// ApplyChanges applies ordered insert/remove deltas against the cached
// list. Deltas arriving before a snapshot, or after the subscription has
// moved to another zone, are dropped. Returns the zone the changes were
// applied to, or "" when dropped.
func (m *Manager) ApplyChanges(changes []models.QueueChange) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == "" {
		log.Printf("dropping queue changes: no active queue subscription")
		return ""
	}
	if !m.hasItems {
		log.Printf("dropping queue changes for zone %s: no snapshot cached yet", m.active)
		return ""
	}
	for _, ch := range changes {
		switch ch.Operation {
		case models.QueueOpInsert:
			idx := clamp(ch.Index, 0, len(m.items))
			m.items = append(m.items[:idx], append(append([]models.QueueItem{}, ch.Items...), m.items[idx:]...)...)
		case models.QueueOpRemove:
			count := ch.Count
			if count <= 0 {
				count = 1
			}
			start := clamp(ch.Index, 0, len(m.items))
			end := clamp(ch.Index+count, start, len(m.items))
			m.items = append(m.items[:start], m.items[end:]...)
		default:
			log.Printf("unknown queue operation %q, skipping", ch.Operation)
		}
	}
	return m.active
}

// QueueFor returns the cached queue for zoneID, or nil when it is not
// the subscribed zone or no snapshot has arrived yet.
func (m *Manager) QueueFor(zoneID string) []models.QueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != zoneID || !m.hasItems {
		return nil
	}
	out := make([]models.QueueItem, len(m.items))
	copy(out, m.items)
	return out
}

// Active returns the currently subscribed zone id, if any.
func (m *Manager) Active() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Reset drops the subscription slot and cache, e.g. on connection loss.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = ""
	m.items = nil
	m.hasItems = false
	m.ready = nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
