// Package debounce tracks per-zone delayed settle tasks. Each zone id
// holds at most one pending task; scheduling a replacement cancels the
// previous one first. Fire functions run on their own goroutine and must
// read fresh state at fire time rather than capturing it at schedule
// time.
package debounce

import (
	"log"
	"sync"
	"time"
)

type Kind int

const (
	StopSettle Kind = iota
	FormatSettle
)

func (k Kind) String() string {
	switch k {
	case StopSettle:
		return "stop-settle"
	case FormatSettle:
		return "format-settle"
	default:
		return "unknown"
	}
}

type task struct {
	kind  Kind
	timer *time.Timer
}

type Table struct {
	mu      sync.Mutex
	pending map[string]*task
}

func NewTable() *Table {
	return &Table{pending: make(map[string]*task)}
}

// Schedule arms a settle task for id, cancelling any existing one. When
// the delay elapses the task removes itself from the table and runs fire.
func (t *Table) Schedule(id string, kind Kind, delay time.Duration, fire func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.pending[id]; ok {
		prev.timer.Stop()
	}
	tk := &task{kind: kind}
	tk.timer = time.AfterFunc(delay, func() {
		t.mu.Lock()
		// Only fire if the slot still holds this task; a replacement
		// or cancel may have raced the timer.
		cur, ok := t.pending[id]
		if !ok || cur != tk {
			t.mu.Unlock()
			return
		}
		delete(t.pending, id)
		t.mu.Unlock()

		defer func() {
			if r := recover(); r != nil {
				log.Printf("settle task panic for zone %s (%s): %v", id, kind, r)
			}
		}()
		fire()
	})
	t.pending[id] = tk
}

// Cancel aborts and removes the pending task for id, if any.
func (t *Table) Cancel(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	tk, ok := t.pending[id]
	if !ok {
		return false
	}
	tk.timer.Stop()
	delete(t.pending, id)
	return true
}

// Pending reports the kind of the outstanding task for id, if any.
func (t *Table) Pending(id string) (Kind, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tk, ok := t.pending[id]
	if !ok {
		return 0, false
	}
	return tk.kind, true
}

func (t *Table) CancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, tk := range t.pending {
		tk.timer.Stop()
		delete(t.pending, id)
	}
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
