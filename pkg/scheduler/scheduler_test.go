package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacktach/oahu/pkg/criterion"
	"github.com/stacktach/oahu/pkg/event"
	"github.com/stacktach/oahu/pkg/store/memory"
	"github.com/stacktach/oahu/pkg/stream"
	"github.com/stacktach/oahu/pkg/trigger"
)

type recordingCallback struct {
	onTriggerErr error
	commitErr    error
	triggered    bool
	committed    bool
}

func (c *recordingCallback) Name() string { return "recording" }
func (c *recordingCallback) OnTrigger(_ *stream.Stream, _ map[string]any) error {
	c.triggered = true
	return c.onTriggerErr
}
func (c *recordingCallback) Commit(_ *stream.Stream, _ map[string]any) error {
	c.committed = true
	return c.commitErr
}

func TestRunTriggerRoleFiresExpiredStream(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	def := &trigger.Definition{
		Name:              "inactive",
		IdentifyingTraits: []string{"tenant_id"},
		Criterion:         criterion.Inactive{Expiry: 0},
	}
	_, _, err := s.AppendEvent(ctx, def.Name, stream.IdentifyingTraits{"tenant_id": "t1"}, event.Event{"_unique_id": "e1"}, time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)

	d := NewDriver(s, []*trigger.Definition{def}, nil, ChunkSizes{Expiry: -1, Ready: -1, Completed: -1})
	checked, err := d.RunTriggerRole(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, checked)

	ready, err := s.FindStreams(ctx, def.Name, stream.Ready, 10)
	require.NoError(t, err)
	assert.Len(t, ready, 1)
}

func TestRunReadyRoleRunsCallbacksToProcessed(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	cb := &recordingCallback{}
	def := &trigger.Definition{
		Name:              "t1",
		IdentifyingTraits: []string{"tenant_id"},
		PipelineCallbacks: []trigger.Callback{cb},
	}

	st, _, err := s.AppendEvent(ctx, def.Name, stream.IdentifyingTraits{"tenant_id": "t1"}, event.Event{"_unique_id": "e1"}, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, s.MarkReady(ctx, st.ID, st.StateVersion))

	d := NewDriver(s, []*trigger.Definition{def}, nil, ChunkSizes{Expiry: -1, Ready: -1, Completed: -1})
	n, err := d.RunReadyRole(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, cb.triggered)
	assert.True(t, cb.committed)

	got, err := s.GetStream(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, stream.Processed, got.State)
}

func TestRunCompletedRolePurges(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	def := &trigger.Definition{Name: "t1", IdentifyingTraits: []string{"tenant_id"}}
	st, _, err := s.AppendEvent(ctx, def.Name, stream.IdentifyingTraits{"tenant_id": "t1"}, event.Event{"_unique_id": "e1"}, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, s.MarkReady(ctx, st.ID, st.StateVersion))
	require.NoError(t, s.ClaimReady(ctx, st.ID, st.StateVersion+1))
	require.NoError(t, s.MarkProcessed(ctx, st.ID, st.StateVersion+2))

	d := NewDriver(s, []*trigger.Definition{def}, nil, ChunkSizes{Expiry: -1, Ready: -1, Completed: -1})
	purged, err := d.RunCompletedRole(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)
}
