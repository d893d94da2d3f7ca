package bus

import "time"

// Event is a normalized domain event published on the bus. Device scopes
// the event to one messaging session; it is empty for panel-wide events.
// Message payloads always carry canonical conversation identifiers, never
// the raw protocol-issued ones.
type Event struct {
	Kind      string
	Device    string
	Timestamp time.Time
	Payload   any
}
