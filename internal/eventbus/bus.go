// Package eventbus fans registry and discovery events out to transports
// through a bounded worker pool.
package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// EventType represents the type of event
type EventType string

const (
	EventTypeDeviceRegistered   EventType = "device_registered"
	EventTypeDeviceUnregistered EventType = "device_unregistered"
	EventTypeAttributeChanged   EventType = "attribute_changed"
	EventTypeCommandFailed      EventType = "command_failed"
	EventTypeDiscoveryCompleted EventType = "discovery_completed"
)

// Default configuration
const (
	DefaultWorkerCount = 4
	DefaultQueueSize   = 100
)

// Event is one notification about a device or the bridge
type Event struct {
	Type     EventType
	DeviceID string
	Time     time.Time
	Data     map[string]any
}

// Handler is a function that handles events
type Handler func(Event)

// Stats counts deliveries since the bus was created
type Stats struct {
	Published uint64 `json:"published"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
	Panics    uint64 `json:"panics"`
}

type subscriber struct {
	id      uint64
	handler Handler
}

type delivery struct {
	event   Event
	handler Handler
}

// Bus routes events to subscribers. Handlers run on the worker pool, so a
// slow handler delays others but never blocks Publish.
type Bus struct {
	mu     sync.RWMutex
	subs   map[EventType][]subscriber
	nextID uint64

	queue chan delivery
	wg    sync.WaitGroup

	// closeMu guards queue against sends after close
	closeMu   sync.RWMutex
	closed    bool
	closeOnce sync.Once

	published, delivered, dropped, panics atomic.Uint64
}

// New creates a new event bus with default settings
func New() *Bus {
	return NewWithConfig(DefaultWorkerCount, DefaultQueueSize)
}

// NewWithConfig creates a bus with workerCount workers and a queue of queueSize deliveries
func NewWithConfig(workerCount, queueSize int) *Bus {
	if workerCount <= 0 {
		workerCount = DefaultWorkerCount
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	b := &Bus{
		subs:  make(map[EventType][]subscriber),
		queue: make(chan delivery, queueSize),
	}

	b.wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go b.worker(i)
	}

	log.Debug().Int("workers", workerCount).Int("queue_size", queueSize).Msg("Event bus started")
	return b
}

func (b *Bus) worker(id int) {
	defer b.wg.Done()
	for d := range b.queue {
		b.deliver(id, d)
	}
}

func (b *Bus) deliver(worker int, d delivery) {
	defer func() {
		if r := recover(); r != nil {
			b.panics.Add(1)
			log.Error().
				Interface("panic", r).
				Str("event_type", string(d.event.Type)).
				Str("device", d.event.DeviceID).
				Int("worker", worker).
				Msg("Event handler panicked")
		}
	}()
	d.handler(d.event)
	b.delivered.Add(1)
}

// Subscribe registers handler for eventType and returns a function removing it
func (b *Bus) Subscribe(eventType EventType, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[eventType] = append(b.subs[eventType], subscriber{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[eventType]
		for i, s := range subs {
			if s.id == id {
				b.subs[eventType] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish queues event for every subscriber of its type. It never blocks:
// deliveries that do not fit in the queue, or arrive after Close, are dropped.
func (b *Bus) Publish(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	b.published.Add(1)

	b.mu.RLock()
	subs := b.subs[event.Type]
	b.mu.RUnlock()

	b.closeMu.RLock()
	defer b.closeMu.RUnlock()

	if b.closed {
		b.dropped.Add(uint64(len(subs)))
		log.Debug().Str("event_type", string(event.Type)).Msg("Event bus closed, dropping event")
		return
	}

	for _, s := range subs {
		select {
		case b.queue <- delivery{event: event, handler: s.handler}:
		default:
			b.dropped.Add(1)
			log.Warn().
				Str("event_type", string(event.Type)).
				Str("device", event.DeviceID).
				Msg("Event bus queue full, dropping event")
		}
	}
}

// Stats returns delivery counters
func (b *Bus) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
		Dropped:   b.dropped.Load(),
		Panics:    b.panics.Load(),
	}
}

// Close stops accepting events, drains queued deliveries and waits for the
// workers until ctx expires. Safe to call more than once.
func (b *Bus) Close(ctx context.Context) {
	b.closeOnce.Do(func() {
		b.closeMu.Lock()
		b.closed = true
		close(b.queue)
		b.closeMu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug().Msg("Event bus workers stopped")
	case <-ctx.Done():
		log.Warn().Msg("Event bus shutdown timed out, some events may be lost")
	}
}
