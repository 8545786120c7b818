package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventExecutionScheduled  EventType = "execution.scheduled"
	EventExecutionStarting   EventType = "execution.starting"
	EventExecutionRunning    EventType = "execution.running"
	EventExecutionRequeued   EventType = "execution.requeued"
	EventExecutionCleaningUp EventType = "execution.cleaning_up"
	EventExecutionFinished   EventType = "execution.finished"
	EventExecutionFailed     EventType = "execution.failed"
	EventExecutionDeleted    EventType = "execution.deleted"
	EventMonitorDied         EventType = "service.monitor_died"

	// EventNotification is the user-facing notice sent when an execution ends
	EventNotification EventType = "execution.notification"
)

// Event is a lifecycle notification about one execution
type Event struct {
	ID          string
	Type        EventType
	Timestamp   time.Time
	ExecutionID uint64
	Message     string
	Metadata    map[string]string
}

// NewEvent creates an event with a fresh id
func NewEvent(t EventType, executionID uint64, message string) *Event {
	return &Event{
		ID:          uuid.New().String(),
		Type:        t,
		Timestamp:   time.Now(),
		ExecutionID: executionID,
		Message:     message,
	}
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker fans events out to subscribers. Publishing never blocks: when the
// broker queue is full the event is dropped and counted.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	stopOnce    sync.Once
	dropped     atomic.Uint64
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker; it is safe to call more than once
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish queues an event for all subscribers
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	default:
		b.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded because the queue was full
func (b *Broker) Dropped() uint64 {
	return b.dropped.Load()
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
