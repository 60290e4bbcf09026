package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStampsTimestamp(t *testing.T) {
	e := New(map[string]any{"_unique_id": "abc"})
	assert.WithinDuration(t, time.Now().UTC(), e.Timestamp(), time.Second)
}

func TestUniqueID(t *testing.T) {
	e := Event{"_unique_id": "abc-123"}
	id, err := e.UniqueID()
	require.NoError(t, err)
	assert.Equal(t, "abc-123", id)
}

func TestUniqueIDMissing(t *testing.T) {
	e := Event{"foo": "bar"}
	_, err := e.UniqueID()
	assert.ErrorIs(t, err, ErrMissingUniqueID)
}

func TestFetchNestedPath(t *testing.T) {
	e := Event{
		"payload": map[string]any{
			"audit_period_beginning": "2020-01-01T00:00:00Z",
		},
	}
	v, ok := Fetch(e, "payload/audit_period_beginning")
	require.True(t, ok)
	assert.Equal(t, "2020-01-01T00:00:00Z", v)
}

func TestFetchMissingPath(t *testing.T) {
	e := Event{"payload": map[string]any{}}
	_, ok := Fetch(e, "payload/missing")
	assert.False(t, ok)

	_, ok = Fetch(e, "absent/path")
	assert.False(t, ok)
}

func TestFetchStringTypeMismatch(t *testing.T) {
	e := Event{"count": 5}
	_, ok := FetchString(e, "count")
	assert.False(t, ok)
}
