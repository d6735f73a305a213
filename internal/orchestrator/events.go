package orchestrator

import "sync"

// EventType defines the type of event
type EventType string

const (
	EventRunStarted    EventType = "run_started"
	EventStageStarted  EventType = "stage_started"
	EventStageFinished EventType = "stage_finished"
	EventDiscovery     EventType = "discovery"
	EventRunFinished   EventType = "run_finished"
)

// Event represents progress within a run
type Event struct {
	Type    EventType   `json:"type"`
	Stage   string      `json:"stage,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

// EventBus allows publishing and subscribing to events
type EventBus struct {
	mu          sync.RWMutex
	subscribers []chan<- Event
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make([]chan<- Event, 0),
	}
}

// Subscribe adds a subscriber to receive events
func (eb *EventBus) Subscribe(ch chan<- Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers = append(eb.subscribers, ch)
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	for _, ch := range eb.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber is slow, skip
		}
	}
}

// PublishDiscoveryEvent forwards scanner progress onto the bus
func (eb *EventBus) PublishDiscoveryEvent(eventType string, payload map[string]interface{}) {
	eb.Publish(Event{Type: EventDiscovery, Stage: eventType, Payload: payload})
}
