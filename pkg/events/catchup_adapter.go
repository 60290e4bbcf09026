package events

import (
	"context"
	"sort"
	"strings"

	"github.com/stacktach/oahu/pkg/stream"
)

// catchupStates are the states worth replaying to a newly (re)subscribed
// client: streams stuck in Error or CommitError are exactly what a debug
// dashboard watcher wants to catch up on after a reconnect.
var catchupStates = []stream.State{stream.Error, stream.CommitError}

// streamQuerier abstracts the store method StreamCatchupAdapter needs.
// Implemented by *store's concrete Store implementations.
type streamQuerier interface {
	FindStreams(ctx context.Context, triggerName string, state stream.State, limit int) ([]*stream.Stream, error)
}

// StreamCatchupAdapter implements CatchupQuerier over a Store. Unlike the
// teacher's persisted-event-log catchup, there is no notification log to
// replay here — stream state is already durable, so catchup reconstructs
// a snapshot of the streams a client would care about instead of replaying
// exactly what it missed. sinceID is interpreted as a LastUpdate UnixNano
// watermark rather than a row ID.
//
// The global channel has no single trigger to scope a query to, so it
// always returns no catchup events; a global-channel subscriber only sees
// events broadcast after it connects.
type StreamCatchupAdapter struct {
	store streamQuerier
}

// NewStreamCatchupAdapter creates a CatchupQuerier backed by a Store.
func NewStreamCatchupAdapter(s streamQuerier) *StreamCatchupAdapter {
	return &StreamCatchupAdapter{store: s}
}

// GetCatchupEvents returns a snapshot of Error/CommitError streams for the
// trigger named by channel (format "trigger:{name}"), as synthetic catchup
// events ordered by LastUpdate, filtered to those newer than sinceID.
func (a *StreamCatchupAdapter) GetCatchupEvents(ctx context.Context, channel string, sinceID, limit int) ([]CatchupEvent, error) {
	triggerName, ok := strings.CutPrefix(channel, "trigger:")
	if !ok {
		return nil, nil
	}

	var all []*stream.Stream
	for _, st := range catchupStates {
		streams, err := a.store.FindStreams(ctx, triggerName, st, 0)
		if err != nil {
			return nil, err
		}
		all = append(all, streams...)
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].LastUpdate.Before(all[j].LastUpdate)
	})

	result := make([]CatchupEvent, 0, len(all))
	for _, st := range all {
		id := int(st.LastUpdate.UnixNano())
		if id <= sinceID {
			continue
		}
		result = append(result, CatchupEvent{
			ID: id,
			Payload: map[string]any{
				"type":         eventTypeForState(st.State),
				"stream_id":    st.ID,
				"trigger_name": st.TriggerName,
				"state":        st.State.String(),
				"timestamp":    st.LastUpdate.Format(rfc3339Nano),
			},
		})
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

const rfc3339Nano = "2006-01-02T15:04:05.999999999Z07:00"

// eventTypeForState maps a stream state to the lifecycle event type a
// transition into it would have broadcast.
func eventTypeForState(s stream.State) string {
	switch s {
	case stream.Collecting:
		return EventTypeStreamCreated
	case stream.Ready:
		return EventTypeStreamReady
	case stream.Triggered:
		return EventTypeStreamTriggered
	case stream.Processed:
		return EventTypeStreamProcessed
	case stream.Error:
		return EventTypeStreamError
	case stream.CommitError:
		return EventTypeStreamCommitError
	default:
		return ""
	}
}
