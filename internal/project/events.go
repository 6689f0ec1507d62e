package project

import (
	"sync"
	"time"
)

const defaultMaxEvents = 500

// ChangeType classifies store mutations.
type ChangeType string

const (
	ChangeCreated ChangeType = "created"
	ChangeUpdated ChangeType = "updated"
	ChangeDeleted ChangeType = "deleted"
	ChangeActive  ChangeType = "active"
)

// Change is a sequenced snapshot of one mutation.
type Change struct {
	Seq       int64      `json:"seq"`
	Timestamp time.Time  `json:"timestamp"`
	Type      ChangeType `json:"type"`
	ProjectID string     `json:"projectId"`
	ActiveID  string     `json:"activeId"`
	Project   *Project   `json:"project,omitempty"`
}

// EventBus stores recent changes and provides incremental reads.
type EventBus struct {
	mu          sync.RWMutex
	nextSeq     int64
	maxEvents   int
	events      []Change
	subscribers map[chan struct{}]struct{}
}

// NewEventBus creates a bounded in-memory change buffer.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = defaultMaxEvents
	}

	return &EventBus{
		maxEvents:   maxEvents,
		events:      make([]Change, 0, maxEvents),
		subscribers: make(map[chan struct{}]struct{}),
	}
}

// Publish appends one change and assigns sequence and timestamp.
func (b *EventBus) Publish(change Change) Change {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	change.Seq = b.nextSeq

	if change.Timestamp.IsZero() {
		change.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, change)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Change(nil), b.events[trim:]...)
	}

	for wake := range b.subscribers {
		select {
		case wake <- struct{}{}:
		default:
		}
	}

	return change
}

// Since returns changes with sequence strictly greater than seq.
func (b *EventBus) Since(seq int64) []Change {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}

	out := make([]Change, 0, len(b.events))
	for _, change := range b.events {
		if change.Seq > seq {
			out = append(out, change)
		}
	}

	return out
}

// LastSeq returns the sequence number of the newest change.
func (b *EventBus) LastSeq() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.nextSeq
}

// Subscribe returns a channel that receives a signal after every publish. Signals
// coalesce, so readers must catch up with Since. The returned func unsubscribes.
func (b *EventBus) Subscribe() (<-chan struct{}, func()) {
	wake := make(chan struct{}, 1)

	b.mu.Lock()
	b.subscribers[wake] = struct{}{}
	b.mu.Unlock()

	var once sync.Once

	return wake, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, wake)
			b.mu.Unlock()
		})
	}
}
