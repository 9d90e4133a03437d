// Package telemetry emits progress events outward for observability.
// Emission is fire-and-forget: a slow or absent observer can never stall
// task execution, because sends are non-blocking and drop on full buffers.
package telemetry

import (
	"sync"
	"time"
)

type EventType string

const (
	EventTaskStarted        EventType = "task_started"
	EventTaskCompleted      EventType = "task_completed"
	EventTaskFailed         EventType = "task_failed"
	EventPhaseTransition    EventType = "phase_transition"
	EventArtifactCreated    EventType = "artifact_created"
	EventCheckpointWaiting  EventType = "checkpoint_waiting"
	EventCheckpointApproved EventType = "checkpoint_approved"
)

type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]any
}

type Subscriber func(Event)

// Emitter is a non-blocking pub/sub channel for progress events. Delivery
// is asynchronous via buffered channels; a full channel drops the event
// for that subscriber.
type Emitter struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
}

func NewEmitter(bufferSize int) *Emitter {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Emitter{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a subscriber for one event type and returns an
// unsubscribe function. The subscriber runs in its own goroutine;
// panics are recovered so one observer cannot disrupt the emitter.
func (e *Emitter) Subscribe(eventType EventType, fn Subscriber) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan Event, e.bufferSize)
	e.subscribers[eventType] = append(e.subscribers[eventType], ch)

	go func() {
		for event := range ch {
			func() {
				defer func() {
					_ = recover()
				}()
				fn(event)
			}()
		}
	}()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()

		subs := e.subscribers[eventType]
		for i, subCh := range subs {
			if subCh == ch {
				e.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
}

// Emit sends an event to all subscribers of the type without ever
// blocking the caller.
func (e *Emitter) Emit(eventType EventType, data map[string]any) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	for _, ch := range e.subscribers[eventType] {
		select {
		case ch <- event:
		default:
			// observer too slow, drop
		}
	}
}

// Close closes all subscriber channels and clears subscriptions.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for eventType, subs := range e.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(e.subscribers, eventType)
	}
}
