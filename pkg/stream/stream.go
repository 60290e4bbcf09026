// Package stream defines the Stream and StreamMembership types and the
// lifecycle state machine streams move through.
package stream

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// State is a stream's lifecycle state.
type State int

const (
	// Collecting streams are still accumulating events and are eligible
	// for a firing check on every new matching event.
	Collecting State = 1
	// Ready streams have satisfied their trigger criterion and are
	// waiting to be claimed by a "ready" role worker.
	Ready State = 2
	// Triggered streams have been claimed and are running the on_trigger
	// phase of their callback pipeline.
	Triggered State = 3
	// Processed streams completed both callback phases successfully.
	Processed State = 4
	// Error streams failed during the on_trigger phase.
	Error State = 5
	// CommitError streams failed during the commit phase, after
	// on_trigger already ran.
	CommitError State = 6
)

// String returns a short human-readable label for a state, matching the
// original system's state name table.
func (s State) String() string {
	switch s {
	case Collecting:
		return "collecting"
	case Ready:
		return "ready"
	case Triggered:
		return "triggered"
	case Processed:
		return "processed"
	case Error:
		return "error"
	case CommitError:
		return "commit_error"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// legalTransitions enumerates every state change the store is allowed to
// perform. Anything not listed here is a programming error, not a race to
// retry.
var legalTransitions = map[State]map[State]bool{
	Collecting:  {Ready: true},
	Ready:       {Triggered: true},
	Triggered:   {Processed: true, Error: true, CommitError: true},
	Error:       {},
	CommitError: {},
	Processed:   {},
}

// CanTransition reports whether moving a stream from "from" to "to" is a
// legal state transition.
func CanTransition(from, to State) bool {
	next, ok := legalTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// IdentifyingTraits is the ordered key/value dictionary that uniquely
// identifies a stream within a trigger definition's namespace.
type IdentifyingTraits map[string]string

// Stream groups related events under a single trigger definition until
// the trigger's criterion fires.
type Stream struct {
	ID                string
	TriggerName       string
	State             State
	StateVersion      int64 // incremented on every state transition; used for optimistic CAS
	IdentifyingTraits IdentifyingTraits
	LastUpdate        time.Time
	CreatedAt         time.Time
	LastError         string // free-form message from the most recent Error/CommitError transition
	CommitErrors      int    // incremented each time the stream moves to CommitError
}

// New creates a fresh Collecting stream for the given trigger and
// identifying traits.
func New(triggerName string, traits IdentifyingTraits, now time.Time) *Stream {
	return &Stream{
		ID:                uuid.NewString(),
		TriggerName:       triggerName,
		State:             Collecting,
		StateVersion:      0,
		IdentifyingTraits: traits,
		LastUpdate:        now,
		CreatedAt:         now,
	}
}

// Matches reports whether this stream's identifying traits equal the
// supplied trait dictionary — streams are keyed by exact trait-value
// equality within a trigger's namespace.
func (s *Stream) Matches(traits IdentifyingTraits) bool {
	if len(s.IdentifyingTraits) != len(traits) {
		return false
	}
	for k, v := range s.IdentifyingTraits {
		if traits[k] != v {
			return false
		}
	}
	return true
}

// Membership records that an event contributed to a stream, in arrival
// order. Memberships are never deleted by the core engine (invariant I4);
// only a Processed stream's memberships may later be purged by the
// "completed" role.
type Membership struct {
	StreamID string
	EventID  string
	When     time.Time
	Sequence int64 // monotonically increasing per stream, for FIFO replay
}
