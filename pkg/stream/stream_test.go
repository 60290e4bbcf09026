package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(Collecting, Ready))
	assert.True(t, CanTransition(Ready, Triggered))
	assert.True(t, CanTransition(Triggered, Processed))
	assert.True(t, CanTransition(Triggered, Error))
	assert.True(t, CanTransition(Triggered, CommitError))

	assert.False(t, CanTransition(Collecting, Triggered))
	assert.False(t, CanTransition(Ready, Collecting))
	assert.False(t, CanTransition(Processed, Collecting))
	assert.False(t, CanTransition(Error, Ready))
}

func TestStreamMatches(t *testing.T) {
	s := New("trigger-a", IdentifyingTraits{"tenant": "t1", "region": "us"}, time.Now())

	assert.True(t, s.Matches(IdentifyingTraits{"tenant": "t1", "region": "us"}))
	assert.False(t, s.Matches(IdentifyingTraits{"tenant": "t1"}))
	assert.False(t, s.Matches(IdentifyingTraits{"tenant": "t1", "region": "eu"}))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "collecting", Collecting.String())
	assert.Equal(t, "commit_error", CommitError.String())
}
