package model

// Event is one inbound publication delivered on a subscribed topic.
type Event struct {
	ID         string         `json:"id"`
	Topic      string         `json:"topic"`
	Args       []any          `json:"args,omitempty"`
	Kwargs     map[string]any `json:"kwargs,omitempty"`
	OccurredAt int64          `json:"occurred_at,omitempty"`
}
