package events

import "github.com/Ayush1832/tg-escrow-bot-sub001/core/types"

// Event represents a structured state change emitted by an engine.
type Event interface {
	EventType() string
}

// Payload is implemented by events that carry a canonical attribute payload.
type Payload interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. websocket streams,
// audit sinks).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Capture is an Emitter that records every event it receives. Tests use it to
// assert on emitted payloads.
type Capture struct {
	Events []Event
}

// Emit implements the Emitter interface.
func (c *Capture) Emit(evt Event) {
	if c == nil || evt == nil {
		return
	}
	c.Events = append(c.Events, evt)
}

// Types returns the type of every captured event in order.
func (c *Capture) Types() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.Events))
	for _, evt := range c.Events {
		out = append(out, evt.EventType())
	}
	return out
}

// Last returns the most recent payload of the given type, or nil.
func (c *Capture) Last(eventType string) *types.Event {
	if c == nil {
		return nil
	}
	for i := len(c.Events) - 1; i >= 0; i-- {
		evt := c.Events[i]
		if evt.EventType() != eventType {
			continue
		}
		if payload, ok := evt.(Payload); ok {
			return payload.Event()
		}
		return &types.Event{Type: eventType}
	}
	return nil
}
