// Package events provides an in-memory event bus using Go channels.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrBusClosed = errors.New("event bus is closed")
)

// EventType represents the type of event.
type EventType string

const (
	// Task lifecycle
	EventTaskQueued    EventType = "task.queued"
	EventTaskStarted   EventType = "task.started"
	EventTaskCompleted EventType = "task.completed"
	EventTaskFailed    EventType = "task.failed"
	EventTaskRetried   EventType = "task.retried"

	// Actor lifecycle
	EventActorSpawned EventType = "actor.spawned"
	EventActorStopped EventType = "actor.stopped"

	// Scheduler lifecycle
	EventSchedulerJoined EventType = "scheduler.joined"

	// Producers
	EventTriggerFired EventType = "trigger.fired"
)

// EventSource identifies the component that emitted an event.
type EventSource string

const (
	SourceScheduler EventSource = "scheduler"
	SourceTrigger   EventSource = "trigger"
	SourceWorker    EventSource = "worker"
	SourceGateway   EventSource = "gateway"
)

// Event represents an event in the system.
type Event struct {
	ID        string         `json:"id"`
	RunID     string         `json:"run_id,omitempty"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Source    EventSource    `json:"source"`
	Payload   map[string]any `json:"payload"`
}

// eventIDCounter is used to generate sequential event IDs.
var eventIDCounter uint64

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType EventType, source EventSource, payload map[string]any) Event {
	return Event{
		ID:        generateEventID(),
		Type:      eventType,
		Timestamp: time.Now(),
		Source:    source,
		Payload:   payload,
	}
}

func generateEventID() string {
	seq := atomic.AddUint64(&eventIDCounter, 1)
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), seq)
}

// Subscriber is a function that receives events.
type Subscriber func(Event)

// subscription delivers matching events to its handler, one at a time and
// in publish order, from its own goroutine.
type subscription struct {
	id         int
	eventTypes []EventType
	handler    Subscriber
	queue      chan Event
	stop       chan struct{}
	done       chan struct{}
	stopOnce   sync.Once
}

func (s *subscription) run() {
	defer close(s.done)
	for {
		select {
		case e := <-s.queue:
			s.handler(e)
		case <-s.stop:
			// Deliver what was already queued.
			for {
				select {
				case e := <-s.queue:
					s.handler(e)
				default:
					return
				}
			}
		}
	}
}

// close stops the subscription once its queue is drained and waits for it.
func (s *subscription) close() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// Bus is an in-memory event bus using Go channels. Each subscriber has a
// queue of the bus buffer size; events that find a queue full are dropped
// and counted.
type Bus struct {
	mu           sync.RWMutex
	subscribers  map[int]*subscription
	nextID       int
	eventChan    chan Event
	bufferSize   int
	ringBuffer   *RingBuffer
	closed       bool
	done         chan struct{}
	dispatchDone chan struct{}
	dropped      atomic.Uint64
}

// DefaultBufferSize is used when NewBus is given a non-positive size.
const DefaultBufferSize = 1024

// NewBus creates a new event bus.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	b := &Bus{
		subscribers:  make(map[int]*subscription),
		eventChan:    make(chan Event, bufferSize),
		bufferSize:   bufferSize,
		ringBuffer:   NewRingBuffer(bufferSize),
		done:         make(chan struct{}),
		dispatchDone: make(chan struct{}),
	}
	go b.dispatch()
	return b
}

func (b *Bus) dispatch() {
	defer close(b.dispatchDone)
	for {
		select {
		case event := <-b.eventChan:
			b.deliver(event)
		case <-b.done:
			for {
				select {
				case event := <-b.eventChan:
					b.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) deliver(event Event) {
	b.ringBuffer.Add(event)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		if !b.matches(sub, event) {
			continue
		}
		select {
		case sub.queue <- event:
		default:
			b.drop(event, "subscriber")
		}
	}
}

func (b *Bus) drop(event Event, stage string) {
	n := b.dropped.Add(1)
	if n == 1 || n%1000 == 0 {
		slog.Warn("event bus dropping events", "stage", stage, "type", event.Type, "dropped", n)
	}
}

// Dropped returns how many deliveries were lost to full buffers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

func (b *Bus) matches(sub *subscription, event Event) bool {
	if len(sub.eventTypes) == 0 {
		return true
	}
	for _, t := range sub.eventTypes {
		if t == event.Type {
			return true
		}
	}
	return false
}

// Publish sends an event to the bus without blocking. The event is dropped
// when the bus buffer is full.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()

	if closed {
		return
	}

	select {
	case b.eventChan <- event:
	default:
		b.drop(event, "publish")
	}
}

// PublishAsync sends an event with context cancellation support.
func (b *Bus) PublishAsync(ctx context.Context, event Event) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()

	if closed {
		return ErrBusClosed
	}

	select {
	case b.eventChan <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers a handler for specific event types. The handler sees
// events in publish order. The returned unsubscribe function waits until
// the handler has consumed what was already queued, so it must not be
// called from the handler itself.
func (b *Bus) Subscribe(handler Subscriber, eventTypes ...EventType) func() {
	sub := &subscription{
		eventTypes: eventTypes,
		handler:    handler,
		queue:      make(chan Event, b.bufferSize),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	b.mu.Lock()
	sub.id = b.nextID
	b.nextID++
	b.subscribers[sub.id] = sub
	b.mu.Unlock()
	go sub.run()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, sub.id)
		b.mu.Unlock()
		sub.close()
	}
}

// SubscribeChan returns a channel that receives events. Events are dropped
// when the channel is full.
func (b *Bus) SubscribeChan(bufSize int, eventTypes ...EventType) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)

	var (
		mu     sync.Mutex
		closed bool
	)
	unsubscribe := b.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- e:
		default:
			b.drop(e, "channel")
		}
	}, eventTypes...)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			unsubscribe()
			mu.Lock()
			closed = true
			close(ch)
			mu.Unlock()
		})
	}
}

// History returns recent events from the ring buffer.
func (b *Bus) History(limit int) []Event {
	return b.ringBuffer.Get(limit)
}

// Close shuts down the event bus. Events already accepted are delivered
// before Close returns.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()

	<-b.dispatchDone

	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.mu.Unlock()
	for _, sub := range subs {
		sub.close()
	}
}

// RingBuffer is a circular buffer for storing recent events.
type RingBuffer struct {
	mu     sync.RWMutex
	events []Event
	size   int
	pos    int
	count  int
}

// NewRingBuffer creates a new ring buffer.
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{
		events: make([]Event, size),
		size:   size,
	}
}

func (r *RingBuffer) Add(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events[r.pos] = event
	r.pos = (r.pos + 1) % r.size
	if r.count < r.size {
		r.count++
	}
}

func (r *RingBuffer) Get(n int) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n > r.count {
		n = r.count
	}
	if n <= 0 {
		return nil
	}

	result := make([]Event, n)
	start := (r.pos - n + r.size) % r.size
	for i := 0; i < n; i++ {
		result[i] = r.events[(start+i)%r.size]
	}
	return result
}

func (r *RingBuffer) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pos = 0
	r.count = 0
}
