// Package memory implements store.Store entirely in process memory,
// guarded by per-trigger mutexes — suitable for a single-process
// deployment or for tests. Nothing here survives a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stacktach/oahu/pkg/event"
	"github.com/stacktach/oahu/pkg/store"
	"github.com/stacktach/oahu/pkg/stream"
)

type triggerBucket struct {
	mu      sync.Mutex
	streams map[string]*stream.Stream // by stream ID
}

// Store is an in-memory store.Store.
type Store struct {
	eventsMu sync.RWMutex
	events   map[string]event.Event // by unique ID, insertion order tracked separately
	order    []string                // unique IDs in arrival order

	membershipsMu sync.RWMutex
	memberships   map[string][]stream.Membership // streamID -> memberships, FIFO order

	bucketsMu sync.Mutex
	buckets   map[string]*triggerBucket // triggerName -> bucket
}

// New constructs an empty in-memory store.
func New() *Store {
	return &Store{
		events:      make(map[string]event.Event),
		memberships: make(map[string][]stream.Membership),
		buckets:     make(map[string]*triggerBucket),
	}
}

func (s *Store) bucket(triggerName string) *triggerBucket {
	s.bucketsMu.Lock()
	defer s.bucketsMu.Unlock()
	b, ok := s.buckets[triggerName]
	if !ok {
		b = &triggerBucket{streams: make(map[string]*stream.Stream)}
		s.buckets[triggerName] = b
	}
	return b
}

// SaveEvent implements store.Store.
func (s *Store) SaveEvent(_ context.Context, e event.Event) error {
	id, err := e.UniqueID()
	if err != nil {
		return err
	}
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	if _, exists := s.events[id]; exists {
		return store.ErrDuplicateEvent
	}
	s.events[id] = e
	s.order = append(s.order, id)
	return nil
}

// AppendEvent implements store.Store.
func (s *Store) AppendEvent(_ context.Context, triggerName string, traits stream.IdentifyingTraits, e event.Event, now time.Time) (*stream.Stream, bool, error) {
	id, err := e.UniqueID()
	if err != nil {
		return nil, false, err
	}

	b := s.bucket(triggerName)
	b.mu.Lock()
	defer b.mu.Unlock()

	var target *stream.Stream
	for _, st := range b.streams {
		if st.State == stream.Collecting && st.Matches(traits) {
			target = st
			break
		}
	}

	created := false
	if target == nil {
		target = stream.New(triggerName, traits, now)
		b.streams[target.ID] = target
		created = true
	} else {
		target.LastUpdate = now
	}

	s.membershipsMu.Lock()
	seq := int64(len(s.memberships[target.ID]))
	s.memberships[target.ID] = append(s.memberships[target.ID], stream.Membership{
		StreamID: target.ID,
		EventID:  id,
		When:     now,
		Sequence: seq,
	})
	s.membershipsMu.Unlock()

	cp := *target
	return &cp, created, nil
}

// LoadEvents implements store.Store.
func (s *Store) LoadEvents(_ context.Context, streamID string) ([]event.Event, error) {
	s.membershipsMu.RLock()
	members := append([]stream.Membership(nil), s.memberships[streamID]...)
	s.membershipsMu.RUnlock()

	sort.Slice(members, func(i, j int) bool { return members[i].Sequence < members[j].Sequence })

	s.eventsMu.RLock()
	defer s.eventsMu.RUnlock()
	out := make([]event.Event, 0, len(members))
	for _, m := range members {
		if e, ok := s.events[m.EventID]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) findStream(streamID string) *stream.Stream {
	s.bucketsMu.Lock()
	buckets := make([]*triggerBucket, 0, len(s.buckets))
	for _, b := range s.buckets {
		buckets = append(buckets, b)
	}
	s.bucketsMu.Unlock()

	for _, b := range buckets {
		b.mu.Lock()
		st, ok := b.streams[streamID]
		b.mu.Unlock()
		if ok {
			return st
		}
	}
	return nil
}

// GetStream implements store.Store.
func (s *Store) GetStream(_ context.Context, streamID string) (*stream.Stream, error) {
	st := s.findStream(streamID)
	if st == nil {
		return nil, store.ErrNotFound
	}
	cp := *st
	return &cp, nil
}

// FindStreams implements store.Store.
func (s *Store) FindStreams(_ context.Context, triggerName string, state stream.State, limit int) ([]*stream.Stream, error) {
	b := s.bucket(triggerName)
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []*stream.Stream
	for _, st := range b.streams {
		if st.State == state {
			cp := *st
			out = append(out, &cp)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// CollectingStreams implements store.Store. The in-memory store has no
// durable index, so it ignores the cursor and simply returns up to
// chunkSize Collecting streams each call with no next cursor, so a
// trigger-role pass checks at most chunkSize streams per trigger (all of
// them when chunkSize <= 0).
func (s *Store) CollectingStreams(ctx context.Context, triggerName string, _ *store.Cursor, chunkSize int) ([]*stream.Stream, *store.Cursor, error) {
	streams, err := s.FindStreams(ctx, triggerName, stream.Collecting, chunkSize)
	return streams, nil, err
}

func (s *Store) transition(streamID string, expectedVersion int64, to stream.State) error {
	return s.transitionWithError(streamID, expectedVersion, to, "", false)
}

// transitionWithError performs the same CAS transition as transition, and
// additionally persists msg as last_error (when non-empty) and bumps
// commit_errors when bumpCommitErrors is set — used by MarkError and
// MarkCommitError.
func (s *Store) transitionWithError(streamID string, expectedVersion int64, to stream.State, msg string, bumpCommitErrors bool) error {
	st := s.findStream(streamID)
	if st == nil {
		return store.ErrNotFound
	}

	b := s.bucket(st.TriggerName)
	b.mu.Lock()
	defer b.mu.Unlock()

	cur, ok := b.streams[streamID]
	if !ok {
		return store.ErrNotFound
	}
	if cur.StateVersion != expectedVersion {
		return store.ErrConflict
	}
	if !stream.CanTransition(cur.State, to) {
		return store.ErrConflict
	}
	cur.State = to
	cur.StateVersion++
	cur.LastUpdate = time.Now().UTC()
	if msg != "" {
		cur.LastError = msg
	}
	if bumpCommitErrors {
		cur.CommitErrors++
	}
	return nil
}

// MarkReady implements store.Store.
func (s *Store) MarkReady(_ context.Context, streamID string, expectedVersion int64) error {
	return s.transition(streamID, expectedVersion, stream.Ready)
}

// ClaimReady implements store.Store.
func (s *Store) ClaimReady(_ context.Context, streamID string, expectedVersion int64) error {
	return s.transition(streamID, expectedVersion, stream.Triggered)
}

// ReadyStreams implements store.Store.
func (s *Store) ReadyStreams(_ context.Context, chunkSize int) ([]*stream.Stream, error) {
	s.bucketsMu.Lock()
	buckets := make([]*triggerBucket, 0, len(s.buckets))
	for _, b := range s.buckets {
		buckets = append(buckets, b)
	}
	s.bucketsMu.Unlock()

	var out []*stream.Stream
	for _, b := range buckets {
		b.mu.Lock()
		for _, st := range b.streams {
			if st.State == stream.Ready {
				cp := *st
				out = append(out, &cp)
				if chunkSize > 0 && len(out) >= chunkSize {
					b.mu.Unlock()
					return out, nil
				}
			}
		}
		b.mu.Unlock()
	}
	return out, nil
}

// MarkProcessed implements store.Store.
func (s *Store) MarkProcessed(_ context.Context, streamID string, expectedVersion int64) error {
	return s.transition(streamID, expectedVersion, stream.Processed)
}

// MarkError implements store.Store.
func (s *Store) MarkError(_ context.Context, streamID string, expectedVersion int64, msg string) error {
	return s.transitionWithError(streamID, expectedVersion, stream.Error, msg, false)
}

// MarkCommitError implements store.Store.
func (s *Store) MarkCommitError(_ context.Context, streamID string, expectedVersion int64, msg string) error {
	return s.transitionWithError(streamID, expectedVersion, stream.CommitError, msg, true)
}

// PurgeProcessed implements store.Store. It deletes Processed streams and
// their memberships only — the underlying events are left untouched
// (invariant I4).
func (s *Store) PurgeProcessed(_ context.Context, chunkSize int) (int, error) {
	s.bucketsMu.Lock()
	buckets := make([]*triggerBucket, 0, len(s.buckets))
	for _, b := range s.buckets {
		buckets = append(buckets, b)
	}
	s.bucketsMu.Unlock()

	purged := 0
	for _, b := range buckets {
		b.mu.Lock()
		for id, st := range b.streams {
			if st.State != stream.Processed {
				continue
			}
			delete(b.streams, id)
			s.membershipsMu.Lock()
			delete(s.memberships, id)
			s.membershipsMu.Unlock()
			purged++
			if chunkSize > 0 && purged >= chunkSize {
				b.mu.Unlock()
				return purged, nil
			}
		}
		b.mu.Unlock()
	}
	return purged, nil
}

// NumActiveStreams implements store.Store.
func (s *Store) NumActiveStreams(_ context.Context, triggerName string) (int, error) {
	b := s.bucket(triggerName)
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, st := range b.streams {
		if st.State != stream.Processed {
			n++
		}
	}
	return n, nil
}

// FlushAll implements store.Store.
func (s *Store) FlushAll(_ context.Context) error {
	s.eventsMu.Lock()
	s.events = make(map[string]event.Event)
	s.order = nil
	s.eventsMu.Unlock()

	s.membershipsMu.Lock()
	s.memberships = make(map[string][]stream.Membership)
	s.membershipsMu.Unlock()

	s.bucketsMu.Lock()
	s.buckets = make(map[string]*triggerBucket)
	s.bucketsMu.Unlock()
	return nil
}
