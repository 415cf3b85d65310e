package notify

// EventType discriminates lifecycle broadcast messages.
const (
	EventSubscriptionCreated = "subscription_created"
	EventSubscriptionUpdated = "subscription_updated"
)

// Event is one lifecycle notification pushed to connected dashboards.
// The JSON shape matches what the frontend's websocket hook consumes.
type Event struct {
	Type           string `json:"type"`
	UserID         string `json:"userId,omitempty"`
	SubscriptionID string `json:"subscriptionId,omitempty"`
}

// Notifier is the fire-and-forget broadcast seam the lifecycle engine
// depends on. Implementations must never block the caller on slow
// observers.
type Notifier interface {
	Broadcast(event Event)
}

// NoopNotifier discards all events. Used in tests and the seed CLI.
type NoopNotifier struct{}

func (NoopNotifier) Broadcast(Event) {}
