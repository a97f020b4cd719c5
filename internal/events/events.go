// Package events provides the in-process event bus used to surface pipeline
// lifecycle to interested subscribers (websocket clients, tests).
package events

import (
	"sync"
	"time"
)

// EventType identifies the kind of event
type EventType string

const (
	// Time-chunking pipeline events
	EventChunkingStarted   EventType = "chunking.started"
	EventChunkingCompleted EventType = "chunking.completed"
	EventChunkingFailed    EventType = "chunking.failed"

	// Adaptive bitrate pipeline events
	EventGenerationStarted   EventType = "generation.started"
	EventGenerationCompleted EventType = "generation.completed"
	EventGenerationFailed    EventType = "generation.failed"
	EventRenditionReady      EventType = "generation.rendition.ready"
	EventStreamCleaned       EventType = "generation.cleaned"
)

// Event is a single bus message
type Event struct {
	Type      EventType              `json:"type"`
	VideoID   string                 `json:"video_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// EventBus distributes events to subscribers. Publish never blocks; slow
// subscribers lose events rather than stalling the pipelines.
type EventBus interface {
	Publish(event Event)
	Subscribe(buffer int) (<-chan Event, func())
	Shutdown()
}

type memoryBus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewEventBus creates an in-memory event bus
func NewEventBus() EventBus {
	return &memoryBus{subs: make(map[int]chan Event)}
}

func (b *memoryBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			// Subscriber is not keeping up; drop rather than block.
		}
	}
}

func (b *memoryBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (b *memoryBus) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

var (
	globalBus     EventBus
	globalBusOnce sync.Once
	globalBusLock sync.RWMutex
)

// SetGlobalEventBus sets the global event bus instance
func SetGlobalEventBus(bus EventBus) {
	globalBusLock.Lock()
	defer globalBusLock.Unlock()
	globalBus = bus
}

// GetGlobalEventBus returns the global event bus, creating it on first use
func GetGlobalEventBus() EventBus {
	globalBusLock.RLock()
	bus := globalBus
	globalBusLock.RUnlock()
	if bus != nil {
		return bus
	}

	globalBusOnce.Do(func() {
		SetGlobalEventBus(NewEventBus())
	})

	globalBusLock.RLock()
	defer globalBusLock.RUnlock()
	return globalBus
}
