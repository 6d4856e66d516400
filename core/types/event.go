package types

// Event represents a typed event emitted during cycle transitions.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// EventType lets an *Event travel through an events.Emitter unchanged.
func (e *Event) EventType() string {
	if e == nil {
		return ""
	}
	return e.Type
}
