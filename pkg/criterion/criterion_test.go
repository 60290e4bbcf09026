package criterion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/stacktach/oahu/pkg/event"
	"github.com/stacktach/oahu/pkg/stream"
)

func TestInactiveShouldFire(t *testing.T) {
	now := time.Now()
	s := &stream.Stream{LastUpdate: now.Add(-2 * time.Minute)}
	c := Inactive{Expiry: time.Minute}

	assert.True(t, c.ShouldFire(s, nil, now))

	s.LastUpdate = now.Add(-30 * time.Second)
	assert.False(t, c.ShouldFire(s, nil, now))
}

func TestEventTypeShouldFire(t *testing.T) {
	c := EventType{Type: "compute.instance.delete.end"}
	e := event.Event{"event_type": "compute.instance.delete.end"}

	assert.True(t, c.ShouldFire(nil, &e, time.Now()))

	other := event.Event{"event_type": "compute.instance.create.end"}
	assert.False(t, c.ShouldFire(nil, &other, time.Now()))

	assert.False(t, c.ShouldFire(nil, nil, time.Now()))
}

func TestAndShouldFire(t *testing.T) {
	now := time.Now()
	s := &stream.Stream{LastUpdate: now.Add(-2 * time.Minute)}
	e := event.Event{"event_type": "foo"}

	c := And{Of: []Criterion{
		Inactive{Expiry: time.Minute},
		EventType{Type: "foo"},
	}}
	assert.True(t, c.ShouldFire(s, &e, now))

	c2 := And{Of: []Criterion{
		Inactive{Expiry: time.Minute},
		EventType{Type: "bar"},
	}}
	assert.False(t, c2.ShouldFire(s, &e, now))
}

func TestEndOfDayExistsShouldFire(t *testing.T) {
	c := EndOfDayExists{ExistsName: "compute.instance.exists"}
	e := event.Event{
		"event_type": "compute.instance.exists",
		"payload": map[string]any{
			"audit_period_beginning": "2020-01-01T00:00:00Z",
			"audit_period_ending":    "2020-01-02T00:00:00Z",
		},
	}
	assert.True(t, c.ShouldFire(nil, &e, time.Now()))

	notMidnight := event.Event{
		"event_type": "compute.instance.exists",
		"payload": map[string]any{
			"audit_period_beginning": "2020-01-01T00:00:00Z",
			"audit_period_ending":    "2020-01-02T01:00:00Z",
		},
	}
	assert.False(t, c.ShouldFire(nil, &notMidnight, time.Now()))

	wrongType := event.Event{
		"event_type": "compute.instance.delete.end",
		"payload": map[string]any{
			"audit_period_beginning": "2020-01-01T00:00:00Z",
			"audit_period_ending":    "2020-01-02T00:00:00Z",
		},
	}
	assert.False(t, c.ShouldFire(nil, &wrongType, time.Now()))
}

func TestEndOfDayExistsFallsBackToLoadEvents(t *testing.T) {
	e := event.Event{
		"event_type": "compute.instance.exists",
		"payload": map[string]any{
			"audit_period_beginning": "2020-01-01T00:00:00Z",
			"audit_period_ending":    "2020-01-02T00:00:00Z",
		},
	}
	c := EndOfDayExists{
		ExistsName: "compute.instance.exists",
		LoadEvents: func(s *stream.Stream) ([]event.Event, error) {
			return []event.Event{e}, nil
		},
	}
	assert.True(t, c.ShouldFire(&stream.Stream{}, nil, time.Now()))
}

func TestEndOfDayExistsNoLoaderOnPeriodicCheck(t *testing.T) {
	c := EndOfDayExists{ExistsName: "compute.instance.exists"}
	assert.False(t, c.ShouldFire(&stream.Stream{}, nil, time.Now()))
}
