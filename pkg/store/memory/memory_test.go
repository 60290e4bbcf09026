package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacktach/oahu/pkg/event"
	"github.com/stacktach/oahu/pkg/store"
	"github.com/stacktach/oahu/pkg/stream"
)

func TestSaveEventDuplicate(t *testing.T) {
	ctx := context.Background()
	s := New()
	e := event.Event{"_unique_id": "e1"}

	require.NoError(t, s.SaveEvent(ctx, e))
	err := s.SaveEvent(ctx, e)
	assert.ErrorIs(t, err, store.ErrDuplicateEvent)
}

func TestAppendEventCreatesAndReusesStream(t *testing.T) {
	ctx := context.Background()
	s := New()
	traits := stream.IdentifyingTraits{"tenant": "t1"}
	now := time.Now().UTC()

	e1 := event.Event{"_unique_id": "e1"}
	st1, created, err := s.AppendEvent(ctx, "trigger-a", traits, e1, now)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, stream.Collecting, st1.State)

	e2 := event.Event{"_unique_id": "e2"}
	st2, created2, err := s.AppendEvent(ctx, "trigger-a", traits, e2, now.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, created2)
	assert.Equal(t, st1.ID, st2.ID)

	events, err := s.LoadEvents(ctx, st1.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	id0, _ := events[0].UniqueID()
	id1, _ := events[1].UniqueID()
	assert.Equal(t, "e1", id0)
	assert.Equal(t, "e2", id1)
}

func TestReadyTriggerProcessedLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	traits := stream.IdentifyingTraits{"tenant": "t1"}
	now := time.Now().UTC()

	e1 := event.Event{"_unique_id": "e1"}
	st, _, err := s.AppendEvent(ctx, "trigger-a", traits, e1, now)
	require.NoError(t, err)

	require.NoError(t, s.MarkReady(ctx, st.ID, st.StateVersion))

	got, err := s.GetStream(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, stream.Ready, got.State)

	ready, err := s.ReadyStreams(ctx, 10)
	require.NoError(t, err)
	require.Len(t, ready, 1)

	require.NoError(t, s.ClaimReady(ctx, st.ID, got.StateVersion))

	// second claim attempt with the stale version must conflict
	err = s.ClaimReady(ctx, st.ID, got.StateVersion)
	assert.ErrorIs(t, err, store.ErrConflict)

	claimed, err := s.GetStream(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, stream.Triggered, claimed.State)

	require.NoError(t, s.MarkProcessed(ctx, st.ID, claimed.StateVersion))

	n, err := s.PurgeProcessed(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.GetStream(ctx, st.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMarkErrorAndMarkCommitErrorPersistLastErrorAndCount(t *testing.T) {
	ctx := context.Background()
	s := New()
	traits := stream.IdentifyingTraits{"tenant": "t1"}
	e1 := event.Event{"_unique_id": "e1"}

	st, _, err := s.AppendEvent(ctx, "trigger-a", traits, e1, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, s.MarkReady(ctx, st.ID, st.StateVersion))
	ready, err := s.GetStream(ctx, st.ID)
	require.NoError(t, err)
	require.NoError(t, s.ClaimReady(ctx, st.ID, ready.StateVersion))
	triggered, err := s.GetStream(ctx, st.ID)
	require.NoError(t, err)

	require.NoError(t, s.MarkError(ctx, st.ID, triggered.StateVersion, "boom"))
	errored, err := s.GetStream(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, stream.Error, errored.State)
	assert.Equal(t, "boom", errored.LastError)
	assert.Equal(t, 0, errored.CommitErrors)

	// A separate stream to exercise MarkCommitError's counter bump.
	e2 := event.Event{"_unique_id": "e2"}
	st2, _, err := s.AppendEvent(ctx, "trigger-a", stream.IdentifyingTraits{"tenant": "t2"}, e2, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, s.MarkReady(ctx, st2.ID, st2.StateVersion))
	ready2, err := s.GetStream(ctx, st2.ID)
	require.NoError(t, err)
	require.NoError(t, s.ClaimReady(ctx, st2.ID, ready2.StateVersion))
	triggered2, err := s.GetStream(ctx, st2.ID)
	require.NoError(t, err)

	require.NoError(t, s.MarkCommitError(ctx, st2.ID, triggered2.StateVersion, "commit boom"))
	committed, err := s.GetStream(ctx, st2.ID)
	require.NoError(t, err)
	assert.Equal(t, stream.CommitError, committed.State)
	assert.Equal(t, "commit boom", committed.LastError)
	assert.Equal(t, 1, committed.CommitErrors)
}

func TestMarkReadyConflictOnStaleVersion(t *testing.T) {
	ctx := context.Background()
	s := New()
	traits := stream.IdentifyingTraits{"tenant": "t1"}
	e1 := event.Event{"_unique_id": "e1"}
	st, _, err := s.AppendEvent(ctx, "trigger-a", traits, e1, time.Now())
	require.NoError(t, err)

	err = s.MarkReady(ctx, st.ID, st.StateVersion+1)
	assert.ErrorIs(t, err, store.ErrConflict)
}
