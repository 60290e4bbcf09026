package trigger

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stacktach/oahu/pkg/event"
)

func TestApplies(t *testing.T) {
	d := &Definition{IdentifyingTraits: []string{"tenant_id", "payload/instance_id"}}

	e := event.Event{
		"tenant_id": "t1",
		"payload":   map[string]any{"instance_id": "i1"},
	}
	assert.True(t, d.Applies(e))

	missing := event.Event{"tenant_id": "t1"}
	assert.False(t, d.Applies(missing))
}

func TestIdentifyingTraitDictSkipsMissing(t *testing.T) {
	d := &Definition{IdentifyingTraits: []string{"tenant_id", "region"}}
	e := event.Event{"tenant_id": "t1"}

	traits := d.IdentifyingTraitDict(e)
	assert.Equal(t, "t1", traits["tenant_id"])
	_, ok := traits["region"]
	assert.False(t, ok)
}
