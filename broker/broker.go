package broker

import "time"

// EventType identifies a billing lifecycle event published for downstream
// consumers (email notifier, audit trail)
type EventType string

// define constants
const (
	EventSubscriptionActivated EventType = "subscription.activated"
	EventSubscriptionPaused    EventType = "subscription.paused"
	EventSubscriptionResumed   EventType = "subscription.resumed"
	EventSubscriptionCancelled EventType = "subscription.cancelled"
	EventPlanChanged           EventType = "plan.changed"
	EventAddonGranted          EventType = "addon.granted"
)

// Event is the JSON payload published on the billing exchange
type Event struct {
	Type           EventType `json:"type"`
	OrganizationID string    `json:"organizationId"`
	SubscriptionID string    `json:"subscriptionId,omitempty"`
	PlanSlug       string    `json:"planSlug,omitempty"`
	At             time.Time `json:"at"`
}

// Producer defines the interface for publishing billing events via message broker
type Producer interface {
	Close()
	PublishBillingEvent(e *Event) error
}
