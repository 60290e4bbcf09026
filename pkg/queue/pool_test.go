package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stacktach/oahu/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRegisterAndCancelStream(t *testing.T) {
	pool := &WorkerPool{
		activeStreams: make(map[string]context.CancelFunc),
	}

	ctx, cancel := context.WithCancel(context.Background())
	pool.RegisterStream("stream-1", cancel)

	assert.True(t, pool.CancelStream("stream-1"))
	assert.Error(t, ctx.Err())

	assert.False(t, pool.CancelStream("unknown"))
}

func TestPoolUnregisterStream(t *testing.T) {
	pool := &WorkerPool{
		activeStreams: make(map[string]context.CancelFunc),
	}

	_, cancel := context.WithCancel(context.Background())
	pool.RegisterStream("stream-1", cancel)

	assert.True(t, pool.CancelStream("stream-1"))

	pool.UnregisterStream("stream-1")

	assert.False(t, pool.CancelStream("stream-1"))
}

func TestPoolGetActiveStreamIDs(t *testing.T) {
	pool := &WorkerPool{
		activeStreams: make(map[string]context.CancelFunc),
	}

	ids := pool.getActiveStreamIDs()
	assert.Empty(t, ids)

	_, cancel1 := context.WithCancel(context.Background())
	defer cancel1()
	_, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	pool.RegisterStream("stream-a", cancel1)
	pool.RegisterStream("stream-b", cancel2)

	ids = pool.getActiveStreamIDs()
	require.Len(t, ids, 2)
	assert.Contains(t, ids, "stream-a")
	assert.Contains(t, ids, "stream-b")
}

func TestPoolStopTwiceDoesNotPanic(t *testing.T) {
	pool := &WorkerPool{
		stopCh:        make(chan struct{}),
		activeStreams: make(map[string]context.CancelFunc),
	}

	pool.Stop()

	assert.NotPanics(t, func() { pool.Stop() })
}

func TestPoolRegisterStreamConcurrency(t *testing.T) {
	pool := &WorkerPool{
		activeStreams: make(map[string]context.CancelFunc),
	}

	const numStreams = 100
	for i := 0; i < numStreams; i++ {
		go func(id int) {
			_, cancel := context.WithCancel(context.Background())
			defer cancel()
			streamID := fmt.Sprintf("stream-%d", id)
			pool.RegisterStream(streamID, cancel)
		}(i)
	}

	require.Eventually(t, func() bool {
		pool.mu.RLock()
		defer pool.mu.RUnlock()
		return len(pool.activeStreams) == numStreams
	}, 1*time.Second, 10*time.Millisecond)
}

func TestPoolCancelNonExistentStream(t *testing.T) {
	pool := &WorkerPool{
		activeStreams: make(map[string]context.CancelFunc),
	}

	assert.False(t, pool.CancelStream("nonexistent-stream"))
}

func TestPoolUnregisterNonExistentStream(t *testing.T) {
	pool := &WorkerPool{
		activeStreams: make(map[string]context.CancelFunc),
	}

	assert.NotPanics(t, func() {
		pool.UnregisterStream("nonexistent-stream")
	})
}

func TestPoolMultipleStreamLifecycle(t *testing.T) {
	pool := &WorkerPool{
		activeStreams: make(map[string]context.CancelFunc),
	}

	streams := []string{"stream-1", "stream-2", "stream-3"}

	for _, sid := range streams {
		_, cancel := context.WithCancel(context.Background())
		defer cancel()
		pool.RegisterStream(sid, cancel)
	}

	ids := pool.getActiveStreamIDs()
	require.Len(t, ids, 3)

	assert.True(t, pool.CancelStream("stream-2"))

	pool.UnregisterStream("stream-2")

	ids = pool.getActiveStreamIDs()
	require.Len(t, ids, 2)
	assert.Contains(t, ids, "stream-1")
	assert.Contains(t, ids, "stream-3")
	assert.NotContains(t, ids, "stream-2")
}

func TestPoolRegisterSameStreamTwice(t *testing.T) {
	pool := &WorkerPool{
		activeStreams: make(map[string]context.CancelFunc),
	}

	ctx1, cancel1 := context.WithCancel(context.Background())
	defer cancel1()
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()

	pool.RegisterStream("stream-1", cancel1)
	pool.RegisterStream("stream-1", cancel2) // overwrites

	assert.True(t, pool.CancelStream("stream-1"))

	assert.Error(t, ctx2.Err())
	assert.NoError(t, ctx1.Err())
}

func TestPoolConcurrentCancellation(t *testing.T) {
	pool := &WorkerPool{
		activeStreams: make(map[string]context.CancelFunc),
	}

	ctx, cancel := context.WithCancel(context.Background())
	pool.RegisterStream("stream-racy", cancel)

	const numGoroutines = 10
	results := make(chan bool, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func() {
			results <- pool.CancelStream("stream-racy")
		}()
	}

	var trueCount int
	for i := 0; i < numGoroutines; i++ {
		if <-results {
			trueCount++
		}
	}

	assert.Equal(t, numGoroutines, trueCount)
	assert.Error(t, ctx.Err())
}

func TestPoolDebuggerForFallsBackToNoOp(t *testing.T) {
	pool := NewWorkerPool("pod-1", nil, config.DefaultQueueConfig(), nil, nil)

	dbg := pool.debuggerFor("unknown-trigger")
	require.NotNil(t, dbg)
	// Should not panic and should behave as a no-op.
	dbg.TraitMatch()
	assert.Equal(t, "", dbg.Snapshot().TriggerName)
}
