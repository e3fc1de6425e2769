// Package events is a small in-process bus for engine notifications.
//
// Publish never blocks. Subscribers get a buffered channel; when a subscriber
// falls behind, events addressed to it are dropped.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"feedrouter/internal/model"
)

// Event types published by the engine.
const (
	FetchFailed        = "fetch.failed"
	DeliverySucceeded  = "delivery.succeeded"
	DeliveryFailed     = "delivery.failed"
	DeliveryDuplicate  = "delivery.duplicate"
	DeliveryUnrecorded = "delivery.unrecorded"
	CycleFinished      = "cycle.finished"
)

// Event is a single notification. Data holds one of the payload types below.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Delivery is the payload of the delivery.* events.
type Delivery struct {
	ArticleID   string
	Destination model.Destination
	MessageID   int
	Err         error
}

// Fetch is the payload of fetch.failed.
type Fetch struct {
	Channel model.Channel
	Err     error
}

// CycleReport is the payload of cycle.finished.
type CycleReport struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Fetched    map[model.Channel]int
	Articles   int
	Delivered  int
	Failed     int
	Duplicates int
	Unrecorded int
	Fallbacks  int
}

// Bus fans events out to subscribers.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// Nop is a Bus that drops everything.
type Nop struct{}

func (Nop) Publish(Event) {}

func (Nop) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}

// New returns an in-memory Bus with no background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			// Holding the write lock guarantees no Publish is mid-send.
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}
