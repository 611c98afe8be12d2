package subscription

// Status is the custom type to define the current state of a subscription
type Status string

// Defining the soft lifecycle markers for a Subscription. Rows are never
// physically deleted; cancellation is a status transition.
const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCancelled Status = "cancelled"
)
