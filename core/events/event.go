package events

import "repchain/core/types"

// Event represents a structured state change emitted by the chain.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Fanout emits every event to each non-nil emitter in order.
type Fanout []Emitter

// Emit implements the Emitter interface.
func (f Fanout) Emit(evt Event) {
	for _, e := range f {
		if e != nil {
			e.Emit(evt)
		}
	}
}

// Render returns the wire form of evt. Events without attributes render as a
// bare type.
func Render(evt Event) types.Event {
	switch e := evt.(type) {
	case nil:
		return types.Event{}
	case *types.Event:
		if e != nil {
			return *e
		}
		return types.Event{}
	case interface{ Event() *types.Event }:
		if rendered := e.Event(); rendered != nil {
			return *rendered
		}
	}
	return types.Event{Type: evt.EventType()}
}
