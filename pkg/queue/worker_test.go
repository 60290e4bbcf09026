package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stacktach/oahu/pkg/callback"
	"github.com/stacktach/oahu/pkg/config"
	"github.com/stacktach/oahu/pkg/event"
	"github.com/stacktach/oahu/pkg/store/memory"
	"github.com/stacktach/oahu/pkg/stream"
	"github.com/stacktach/oahu/pkg/trigger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testQueueConfig() *config.QueueConfig {
	return &config.QueueConfig{
		WorkerCount:             5,
		MaxConcurrentStreams:    5,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		CallbackTimeout:         15 * time.Minute,
		GracefulShutdownTimeout: 15 * time.Minute,
		StaleTriggeredInterval:  5 * time.Minute,
		StaleTriggeredThreshold: 15 * time.Minute,
	}
}

func definitionSlice(m map[string]*trigger.Definition) []*trigger.Definition {
	out := make([]*trigger.Definition, 0, len(m))
	for _, d := range m {
		out = append(out, d)
	}
	return out
}

// newWorkerForTest builds a Worker backed by a real in-memory store and a
// real WorkerPool (used only for its StreamRegistry/debuggerFor methods).
func newWorkerForTest(s *memory.Store, cfg *config.QueueConfig, triggers map[string]*trigger.Definition) *Worker {
	host := callback.NewHost(s)
	pool := NewWorkerPool("test-pod", s, cfg, definitionSlice(triggers), nil)
	return NewWorker("test-worker", "test-pod", s, cfg, host, triggers, pool)
}

func TestWorkerPollInterval(t *testing.T) {
	cfg := testQueueConfig()
	w := newWorkerForTest(memory.New(), cfg, nil)

	// Poll interval should be within [base - jitter, base + jitter]
	for i := 0; i < 100; i++ {
		d := w.pollInterval()
		assert.GreaterOrEqual(t, d, 500*time.Millisecond, "poll interval below minimum")
		assert.LessOrEqual(t, d, 1500*time.Millisecond, "poll interval above maximum")
	}
}

func TestWorkerPollIntervalNoJitter(t *testing.T) {
	cfg := testQueueConfig()
	cfg.PollIntervalJitter = 0
	w := newWorkerForTest(memory.New(), cfg, nil)

	for i := 0; i < 10; i++ {
		d := w.pollInterval()
		assert.Equal(t, 1*time.Second, d, "poll interval should equal base when jitter is 0")
	}
}

func TestWorkerPollIntervalWithNegativeJitter(t *testing.T) {
	cfg := testQueueConfig()
	cfg.PollInterval = 1 * time.Second
	cfg.PollIntervalJitter = -100 * time.Millisecond
	w := newWorkerForTest(memory.New(), cfg, nil)

	// Negative jitter should be treated as zero
	for i := 0; i < 10; i++ {
		d := w.pollInterval()
		assert.Equal(t, 1*time.Second, d)
	}
}

func TestWorkerHealth(t *testing.T) {
	cfg := testQueueConfig()
	w := newWorkerForTest(memory.New(), cfg, nil)

	h := w.Health()
	assert.Equal(t, "test-worker", h.ID)
	assert.Equal(t, string(WorkerStatusIdle), h.Status)
	assert.Equal(t, "", h.CurrentStreamID)
	assert.Equal(t, 0, h.StreamsProcessed)

	// Simulate working state
	w.setStatus(WorkerStatusWorking, "stream-abc")
	h = w.Health()
	assert.Equal(t, string(WorkerStatusWorking), h.Status)
	assert.Equal(t, "stream-abc", h.CurrentStreamID)

	// Back to idle
	w.setStatus(WorkerStatusIdle, "")
	h = w.Health()
	assert.Equal(t, string(WorkerStatusIdle), h.Status)
	assert.Equal(t, "", h.CurrentStreamID)
}

func TestWorkerStopIdempotent(t *testing.T) {
	cfg := testQueueConfig()
	w := newWorkerForTest(memory.New(), cfg, nil)

	// First stop should succeed
	assert.NotPanics(t, func() { w.Stop() })

	// Second stop should also succeed (no panic)
	assert.NotPanics(t, func() { w.Stop() })
}

// stubCallback is a pipeline callback whose OnTrigger/Commit outcomes are
// fixed, for exercising the worker's claim-and-run path end to end.
type stubCallback struct {
	name         string
	onTriggerRan bool
	commitRan    bool
}

func (c *stubCallback) Name() string { return c.name }

func (c *stubCallback) OnTrigger(_ *stream.Stream, _ map[string]any) error {
	c.onTriggerRan = true
	return nil
}

func (c *stubCallback) Commit(_ *stream.Stream, _ map[string]any) error {
	c.commitRan = true
	return nil
}

func TestWorkerClaimNextStream_ClaimsReadyStream(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	traits := stream.IdentifyingTraits{"resource_id": "r-1"}
	e := event.Event{"resource_id": "r-1", "event_type": "thing.created"}
	st, _, err := s.AppendEvent(ctx, "my-trigger", traits, e, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, s.MarkReady(ctx, st.ID, st.StateVersion))

	def := &trigger.Definition{Name: "my-trigger"}
	triggers := map[string]*trigger.Definition{"my-trigger": def}

	w := newWorkerForTest(s, testQueueConfig(), triggers)

	claimed, gotDef, err := w.claimNextStream(ctx)
	require.NoError(t, err)
	assert.Equal(t, st.ID, claimed.ID)
	assert.Equal(t, stream.Triggered, claimed.State)
	assert.Same(t, def, gotDef)
}

func TestWorkerClaimNextStream_NoneAvailable(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	triggers := map[string]*trigger.Definition{"my-trigger": {Name: "my-trigger"}}
	w := newWorkerForTest(s, testQueueConfig(), triggers)

	_, _, err := w.claimNextStream(ctx)
	assert.ErrorIs(t, err, ErrNoStreamsAvailable)
}

func TestWorkerClaimNextStream_SkipsUnknownTriggerName(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	traits := stream.IdentifyingTraits{"resource_id": "r-1"}
	e := event.Event{"resource_id": "r-1"}
	st, _, err := s.AppendEvent(ctx, "orphan-trigger", traits, e, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, s.MarkReady(ctx, st.ID, st.StateVersion))

	// No definition registered for "orphan-trigger".
	triggers := map[string]*trigger.Definition{"other-trigger": {Name: "other-trigger"}}
	w := newWorkerForTest(s, testQueueConfig(), triggers)

	_, _, err = w.claimNextStream(ctx)
	assert.ErrorIs(t, err, ErrNoStreamsAvailable)

	// The stream itself should remain untouched (still Ready).
	reloaded, err := s.GetStream(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, stream.Ready, reloaded.State)
}

func TestWorkerPollAndProcess_RunsPipelineToProcessed(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	traits := stream.IdentifyingTraits{"resource_id": "r-1"}
	e := event.Event{"resource_id": "r-1", "event_type": "thing.created"}
	st, _, err := s.AppendEvent(ctx, "my-trigger", traits, e, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, s.MarkReady(ctx, st.ID, st.StateVersion))

	cb := &stubCallback{name: "noop"}
	def := &trigger.Definition{Name: "my-trigger", PipelineCallbacks: []trigger.Callback{cb}}
	triggers := map[string]*trigger.Definition{"my-trigger": def}

	w := newWorkerForTest(s, testQueueConfig(), triggers)

	err = w.pollAndProcess(ctx)
	require.NoError(t, err)

	assert.True(t, cb.onTriggerRan)
	assert.True(t, cb.commitRan)

	final, err := s.GetStream(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, stream.Processed, final.State)

	h := w.Health()
	assert.Equal(t, 1, h.StreamsProcessed)
}

func TestWorkerPollAndProcess_AtCapacity(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	traits := stream.IdentifyingTraits{"resource_id": "r-1"}
	e := event.Event{"resource_id": "r-1"}
	st, _, err := s.AppendEvent(ctx, "my-trigger", traits, e, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, s.MarkReady(ctx, st.ID, st.StateVersion))

	def := &trigger.Definition{Name: "my-trigger"}
	triggers := map[string]*trigger.Definition{"my-trigger": def}

	cfg := testQueueConfig()
	cfg.MaxConcurrentStreams = 0
	w := newWorkerForTest(s, cfg, triggers)

	err = w.pollAndProcess(ctx)
	assert.ErrorIs(t, err, ErrAtCapacity)
}
