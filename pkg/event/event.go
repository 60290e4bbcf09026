// Package event defines the Event type ingested by the pipeline: an
// immutable, freeform field dictionary identified by a unique message ID.
package event

import (
	"errors"
	"strings"
	"time"
)

// UniqueIDField is the well-known field every event must carry so the
// store can deduplicate and order events.
const UniqueIDField = "_unique_id"

// ErrMissingUniqueID is returned when an event has no usable unique ID.
var ErrMissingUniqueID = errors.New("event has no _unique_id")

// Event is a structured, read-only field dictionary. Values may be
// scalars, nested maps, or slices — trait paths descend through nested
// maps only.
type Event map[string]any

// New builds an Event from a flat or nested field map, stamping a
// timestamp if the caller did not already record one under "timestamp".
func New(fields map[string]any) Event {
	e := Event(fields)
	if e == nil {
		e = Event{}
	}
	if _, ok := e["timestamp"]; !ok {
		e["timestamp"] = time.Now().UTC()
	}
	return e
}

// UniqueID returns the event's deduplication key.
func (e Event) UniqueID() (string, error) {
	v, ok := e[UniqueIDField]
	if !ok {
		return "", ErrMissingUniqueID
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", ErrMissingUniqueID
	}
	return s, nil
}

// Timestamp returns the event's recorded time, or the zero time if absent
// or of an unexpected type.
func (e Event) Timestamp() time.Time {
	v, ok := e["timestamp"]
	if !ok {
		return time.Time{}
	}
	switch t := v.(type) {
	case time.Time:
		return t
	default:
		return time.Time{}
	}
}

// Fetch descends a "/"-separated path through nested maps, returning the
// value at that path and whether it was found. A path like "payload/id"
// looks up e["payload"], expects it to be a map, and looks up "id" inside
// it. Missing keys or non-map intermediate values both yield ok=false,
// mirroring the identifying-trait lookup rules used when building a
// stream's identifying trait dictionary.
func Fetch(e Event, path string) (any, bool) {
	parts := strings.Split(path, "/")
	var cur any = map[string]any(e)
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			if asEvent, ok2 := cur.(Event); ok2 {
				m = map[string]any(asEvent)
			} else {
				return nil, false
			}
		}
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// FetchString is a convenience wrapper around Fetch for string-valued traits.
func FetchString(e Event, path string) (string, bool) {
	v, ok := Fetch(e, path)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
