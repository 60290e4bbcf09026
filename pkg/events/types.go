// Package events delivers stream lifecycle transitions to WebSocket
// clients in real time, with PostgreSQL NOTIFY/LISTEN for cross-process
// fanout when multiple oahu processes share one store.
package events

// Stream lifecycle event types, broadcast as a transition happens.
const (
	EventTypeStreamCreated     = "stream.created"
	EventTypeStreamReady       = "stream.ready"
	EventTypeStreamTriggered   = "stream.triggered"
	EventTypeStreamProcessed   = "stream.processed"
	EventTypeStreamError       = "stream.error"
	EventTypeStreamCommitError = "stream.commit_error"
)

// GlobalChannel is the channel for all stream lifecycle events, regardless
// of trigger — a debug dashboard's firehose view subscribes to this.
const GlobalChannel = "streams"

// TriggerChannel returns the channel name for one trigger definition's
// stream lifecycle events. Format: "trigger:{name}"
func TriggerChannel(triggerName string) string {
	return "trigger:" + triggerName
}

// ClientMessage is the JSON structure for client → server WebSocket messages.
type ClientMessage struct {
	Action      string `json:"action"`                  // "subscribe", "unsubscribe", "catchup", "ping"
	Channel     string `json:"channel,omitempty"`       // Channel name (e.g., "trigger:instance-deleted")
	LastEventID *int   `json:"last_event_id,omitempty"` // For catchup
}
