package events

// StreamLifecyclePayload is the payload for every stream.* event. The Type
// field (one of the EventTypeStream* constants) discriminates which
// transition fired.
type StreamLifecyclePayload struct {
	Type        string `json:"type"`
	StreamID    string `json:"stream_id"`
	TriggerName string `json:"trigger_name"`
	State       string `json:"state"`     // human-readable stream.State.String()
	Timestamp   string `json:"timestamp"` // RFC3339Nano
}
