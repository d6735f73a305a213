package discovery

// Discovery event types
const (
	EventStarted      = "discovery-started"
	EventTierStarted  = "tier-started"
	EventConfirmed    = "device-confirmed"
	EventTierComplete = "tier-complete"
	EventComplete     = "discovery-complete"
)

// EventPublisher receives discovery progress
type EventPublisher interface {
	PublishDiscoveryEvent(eventType string, payload map[string]interface{})
}

// PublisherFunc adapts a function to EventPublisher
type PublisherFunc func(eventType string, payload map[string]interface{})

// PublishDiscoveryEvent implements EventPublisher
func (f PublisherFunc) PublishDiscoveryEvent(eventType string, payload map[string]interface{}) {
	f(eventType, payload)
}
