// Package criterion defines the pluggable firing conditions a trigger
// definition evaluates against a stream.
package criterion

import (
	"time"

	"github.com/stacktach/oahu/pkg/event"
	"github.com/stacktach/oahu/pkg/stream"
)

// Criterion decides whether a stream should fire. lastEvent is nil when
// the check runs on a periodic expiry sweep with no new event.
type Criterion interface {
	ShouldFire(s *stream.Stream, lastEvent *event.Event, now time.Time) bool
}

// Inactive fires once a stream has gone quiet for longer than Expiry.
type Inactive struct {
	Expiry time.Duration
}

// ShouldFire reports whether more than Expiry has elapsed since the
// stream's last update.
func (c Inactive) ShouldFire(s *stream.Stream, _ *event.Event, now time.Time) bool {
	return now.Sub(s.LastUpdate) > c.Expiry
}

// EventType fires when the most recent event that fed the stream carries
// the given event_type field.
type EventType struct {
	Type string
}

// ShouldFire reports whether lastEvent's "event_type" field equals Type.
// It never fires on a periodic (event-less) check.
func (c EventType) ShouldFire(_ *stream.Stream, lastEvent *event.Event, _ time.Time) bool {
	if lastEvent == nil {
		return false
	}
	t, ok := event.FetchString(*lastEvent, "event_type")
	return ok && t == c.Type
}

// And fires only when every sub-criterion fires.
type And struct {
	Of []Criterion
}

// ShouldFire is the conjunction of all sub-criteria.
func (c And) ShouldFire(s *stream.Stream, lastEvent *event.Event, now time.Time) bool {
	for _, sub := range c.Of {
		if !sub.ShouldFire(s, lastEvent, now) {
			return false
		}
	}
	return true
}

// EndOfDayExists fires once the most recent event has event_type ExistsName
// and its payload's audit_period_beginning/audit_period_ending both land on
// a day boundary (00:00:00), checking the in-memory lastEvent or, absent
// one, the stream's replayed event history.
type EndOfDayExists struct {
	ExistsName string // required event_type of the most recent event
	// LoadEvents replays a stream's events in arrival order when no
	// in-memory lastEvent is available (e.g. a periodic sweep). It may be
	// nil, in which case the criterion never fires on a periodic check.
	LoadEvents func(s *stream.Stream) ([]event.Event, error)
}

// ShouldFire reports whether the most recent event has event_type
// ExistsName and its payload.audit_period_beginning/audit_period_ending
// both fall exactly on midnight.
func (c EndOfDayExists) ShouldFire(s *stream.Stream, lastEvent *event.Event, _ time.Time) bool {
	if lastEvent != nil {
		return isZeroHourPeriod(*lastEvent, c.ExistsName)
	}
	if c.LoadEvents == nil {
		return false
	}
	events, err := c.LoadEvents(s)
	if err != nil || len(events) == 0 {
		return false
	}
	return isZeroHourPeriod(events[len(events)-1], c.ExistsName)
}

func isZeroHourPeriod(e event.Event, existsName string) bool {
	t, ok := event.FetchString(e, "event_type")
	if !ok || t != existsName {
		return false
	}
	beginning, ok := event.FetchString(e, "payload/audit_period_beginning")
	if !ok {
		return false
	}
	ending, ok := event.FetchString(e, "payload/audit_period_ending")
	if !ok {
		return false
	}
	return isMidnight(beginning) && isMidnight(ending)
}

func isMidnight(ts string) bool {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return false
	}
	return t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0
}
