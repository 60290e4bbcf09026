// Package store defines the Store contract: the durable boundary between
// the pipeline and whatever persists events, streams, and memberships.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/stacktach/oahu/pkg/event"
	"github.com/stacktach/oahu/pkg/stream"
)

// ErrNotFound is returned when a stream or event lookup finds nothing.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned by a CAS transition when the stream's
// state_version no longer matches the expected value — another worker
// already moved it. Callers should treat this as "skip, don't retry
// blindly".
var ErrConflict = errors.New("store: state version conflict")

// ErrDuplicateEvent is returned when SaveEvent is called twice with the
// same unique ID. Ingestion is idempotent: this is not a fatal error, the
// caller should treat it as "already recorded".
var ErrDuplicateEvent = errors.New("store: duplicate event")

// Cursor is an opaque, monotonically advancing position into a result
// set, used to page through large result sets across repeated periodic
// passes without re-scanning already-handled rows and without numeric
// offset wraparound.
type Cursor struct {
	UpdatedAt time.Time
	ID        string
}

// Store is the full persistence contract the pipeline and the periodic
// roles depend on. Two implementations exist: pkg/store/memory (single
// process, no durability) and pkg/store/postgres (durable, safe for
// multiple cooperating worker processes).
type Store interface {
	// SaveEvent durably records an event exactly once, keyed by its
	// unique ID. Returns ErrDuplicateEvent on a repeat.
	SaveEvent(ctx context.Context, e event.Event) error

	// AppendEvent attaches an event to the active Collecting stream for
	// triggerName/traits, creating one if none exists. Returns the
	// stream and whether it was newly created.
	AppendEvent(ctx context.Context, triggerName string, traits stream.IdentifyingTraits, e event.Event, now time.Time) (s *stream.Stream, created bool, err error)

	// LoadEvents replays a stream's member events in arrival (FIFO) order.
	LoadEvents(ctx context.Context, streamID string) ([]event.Event, error)

	// GetStream fetches a single stream by ID.
	GetStream(ctx context.Context, streamID string) (*stream.Stream, error)

	// FindStreams returns streams for a trigger in a given state, for
	// debug/CLI inspection (e.g. listing Error/CommitError streams).
	FindStreams(ctx context.Context, triggerName string, state stream.State, limit int) ([]*stream.Stream, error)

	// CollectingStreams returns every Collecting stream for a trigger,
	// used by the periodic expiry ("trigger" role) sweep. cursor is nil
	// on the first call; chunkSize <= 0 means unbounded.
	CollectingStreams(ctx context.Context, triggerName string, cursor *Cursor, chunkSize int) (streams []*stream.Stream, next *Cursor, err error)

	// MarkReady transitions a Collecting stream to Ready. Returns
	// ErrConflict if the stream is no longer Collecting.
	MarkReady(ctx context.Context, streamID string, expectedVersion int64) error

	// ClaimReady optimistically transitions a single Ready stream to
	// Triggered, using a compare-and-swap on state_version so that only
	// one of several concurrent "ready" role workers wins the claim.
	// Returns ErrConflict if another worker already claimed it.
	ClaimReady(ctx context.Context, streamID string, expectedVersion int64) error

	// ReadyStreams returns up to chunkSize streams in the Ready state,
	// for a worker to attempt to claim.
	ReadyStreams(ctx context.Context, chunkSize int) ([]*stream.Stream, error)

	// MarkProcessed, MarkError, and MarkCommitError record the outcome
	// of running a Triggered stream's callback pipeline. MarkError and
	// MarkCommitError persist msg as the stream's last_error; MarkCommitError
	// additionally increments the stream's commit_errors counter.
	MarkProcessed(ctx context.Context, streamID string, expectedVersion int64) error
	MarkError(ctx context.Context, streamID string, expectedVersion int64, msg string) error
	MarkCommitError(ctx context.Context, streamID string, expectedVersion int64, msg string) error

	// PurgeProcessed deletes up to chunkSize Processed streams (their
	// memberships too, never the underlying events — invariant I4). Used
	// by the "completed" periodic role. Returns the number purged.
	PurgeProcessed(ctx context.Context, chunkSize int) (int, error)

	// NumActiveStreams counts streams not yet Processed for a trigger.
	NumActiveStreams(ctx context.Context, triggerName string) (int, error)

	// FlushAll wipes all state. Test/debug use only.
	FlushAll(ctx context.Context) error
}
