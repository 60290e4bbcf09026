package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTriggerChannel(t *testing.T) {
	tests := []struct {
		name        string
		triggerName string
		want        string
	}{
		{
			name:        "formats trigger channel correctly",
			triggerName: "instance-deleted",
			want:        "trigger:instance-deleted",
		},
		{
			name:        "handles names with dashes and dots",
			triggerName: "billing.invoice-closed",
			want:        "trigger:billing.invoice-closed",
		},
		{
			name:        "handles empty string",
			triggerName: "",
			want:        "trigger:",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TriggerChannel(tt.triggerName)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEventTypeConstants(t *testing.T) {
	types := []string{
		EventTypeStreamCreated,
		EventTypeStreamReady,
		EventTypeStreamTriggered,
		EventTypeStreamProcessed,
		EventTypeStreamError,
		EventTypeStreamCommitError,
	}

	seen := make(map[string]bool)
	for _, typ := range types {
		assert.NotEmpty(t, typ, "event type should not be empty")
		assert.False(t, seen[typ], "duplicate event type: %s", typ)
		seen[typ] = true
	}
}

func TestGlobalChannel(t *testing.T) {
	assert.Equal(t, "streams", GlobalChannel)
}
