// Package eventbus routes device and cycle events between the shade bridge,
// the verification engines and the notification side of the daemon.
package eventbus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// EventType represents the type of event
type EventType string

const (
	// EventTypeGroupCommand is a status transition observed on a group
	// controller. This is the only event that arms verification.
	EventTypeGroupCommand EventType = "group_command"

	// EventTypeMemberStatus is an individual member status/position change.
	// Diagnostic only: it must never trigger verification directly.
	EventTypeMemberStatus EventType = "member_status"

	// EventTypeCycleDone reports a finished verification cycle.
	EventTypeCycleDone EventType = "cycle_done"
)

// Default configuration
const (
	DefaultWorkerCount = 4
	DefaultQueueSize   = 100
)

// Event is a typed event record. Fields are populated per event type:
// Group for group_command and cycle_done, Device for member_status.
//
// Seq is a bus-wide monotonic sequence stamped at publish time. Handlers run
// on a worker pool and may observe events out of publish order; consumers
// that need ordering (the verification engines) compare Seq instead of
// relying on arrival order.
type Event struct {
	Seq      uint64
	Type     EventType
	Group    string
	Device   string
	Status   string // raw reported status value
	Position *int   // reported position, when the device supports one
	Verdict  string // cycle_done outcome
}

// Handler is a function that handles events
type Handler func(Event)

// work represents a unit of work for the worker pool
type work struct {
	event   Event
	handler Handler
}

// Bus provides event routing with a bounded worker pool
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler

	// Worker pool
	workQueue chan work
	wg        sync.WaitGroup

	// Monotonic publish sequence, stamped onto every event
	seq atomic.Uint64

	// Shutdown signaling - closing this channel signals publishers to stop
	// Using a channel in select is race-free (unlike mutex + bool)
	closing   chan struct{}
	closeOnce sync.Once
}

// New creates a new event bus with default settings
func New() *Bus {
	return NewWithConfig(DefaultWorkerCount, DefaultQueueSize)
}

// NewWithConfig creates a new event bus with custom worker count and queue size
func NewWithConfig(workerCount, queueSize int) *Bus {
	b := &Bus{
		handlers:  make(map[EventType][]Handler),
		workQueue: make(chan work, queueSize),
		closing:   make(chan struct{}),
	}

	// Start worker pool
	for i := 0; i < workerCount; i++ {
		b.wg.Add(1)
		go b.worker(i)
	}

	log.Debug().Int("workers", workerCount).Int("queue_size", queueSize).Msg("Event bus worker pool started")
	return b
}

// worker processes events from the work queue
func (b *Bus) worker(id int) {
	defer b.wg.Done()

	for w := range b.workQueue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Str("event_type", string(w.event.Type)).
						Int("worker", id).
						Msg("Event handler panicked")
				}
			}()
			w.handler(w.event)
		}()
	}
}

// Subscribe registers a handler for a specific event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish sends an event to all subscribed handlers.
// Non-blocking: if the work queue is full or bus is closing, events are dropped.
// Uses channel-based signaling for race-free shutdown detection.
func (b *Bus) Publish(event Event) {
	event.Seq = b.seq.Add(1)

	b.mu.RLock()
	handlers := b.handlers[event.Type]
	b.mu.RUnlock()

	for _, handler := range handlers {
		select {
		case <-b.closing:
			log.Warn().Str("event_type", string(event.Type)).Msg("Event bus closing, dropping event")
			return
		case b.workQueue <- work{event: event, handler: handler}:
			// Successfully queued
		default:
			// Queue full - drop event with warning
			log.Warn().
				Str("event_type", string(event.Type)).
				Str("group", event.Group).
				Msg("Event bus queue full, dropping event")
		}
	}
}

// Close shuts down the worker pool gracefully.
// First signals publishers to stop, then closes the work queue and waits for workers.
func (b *Bus) Close(ctx context.Context) {
	// Signal publishers to stop sending
	b.closeOnce.Do(func() {
		close(b.closing)
	})

	// Now it's safe to close the work queue - no new sends after closing is signaled
	close(b.workQueue)

	// Wait for workers to finish with timeout
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug().Msg("Event bus workers stopped gracefully")
	case <-ctx.Done():
		log.Warn().Msg("Event bus shutdown timed out, some events may be lost")
	}
}

// Clear removes all handlers
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers = make(map[EventType][]Handler)
}
