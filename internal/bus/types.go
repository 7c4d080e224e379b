// Package bus provides in-process event fan-out between the run pipeline and
// its consumers (gateway WebSocket clients, notifiers, CLI tails).
package bus

// Event is a server-side event broadcast to subscribers. Name matches the
// event names written to the run event log.
type Event struct {
	Name    string      `json:"name"`
	Payload interface{} `json:"payload,omitempty"`
}

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription.
// Used by the gateway server and notifiers to decouple from the concrete bus.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}
