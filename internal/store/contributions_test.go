package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvaslab/emergence/internal/core"
	"github.com/canvaslab/emergence/internal/logging"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(t *testing.T, opts ...ContributionOption) (*ContributionStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	opts = append([]ContributionOption{WithClock(clock.Now)}, opts...)
	return NewContributionStore(logging.NewNop(), opts...), clock
}

func TestUpdate_ShiftsPredictionChain(t *testing.T) {
	s, _ := newTestStore(t)

	s.Update("a1", &core.Contribution{
		Iteration:   1,
		Predictions: map[string]string{"self": "red line"},
	})
	s.Update("a1", &core.Contribution{
		Iteration:   2,
		Predictions: map[string]string{"self": "blue line"},
	})

	rec, ok := s.Get("a1")
	require.True(t, ok)
	assert.Equal(t, 2, rec.Iteration)
	assert.Equal(t, 1, rec.PreviousIteration)
	assert.Equal(t, "blue line", rec.Predictions["self"])
	assert.Equal(t, "red line", rec.PreviousPredictions["self"])
	assert.True(t, rec.HasCompletedCycle())
}

func TestUpdate_HeartbeatOnlyTouchesTimestamp(t *testing.T) {
	s, clock := newTestStore(t)

	s.Update("a1", &core.Contribution{
		Iteration:   3,
		Predictions: map[string]string{"self": "spiral"},
	})
	before, _ := s.Get("a1")

	clock.Advance(10 * time.Second)
	s.Update("a1", &core.Contribution{Heartbeat: true})

	after, ok := s.Get("a1")
	require.True(t, ok)
	assert.Equal(t, before.Iteration, after.Iteration)
	assert.Equal(t, before.Predictions, after.Predictions)
	assert.Nil(t, after.PreviousPredictions)
	assert.Equal(t, clock.Now(), after.Timestamp)
}

func TestUpdate_HeartbeatCreatesPlaceholder(t *testing.T) {
	s, _ := newTestStore(t)

	s.Update("a1", &core.Contribution{Heartbeat: true, Position: core.Position{3, 4}})

	rec, ok := s.Get("a1")
	require.True(t, ok)
	assert.True(t, rec.Heartbeat)
	assert.NotEmpty(t, rec.Strategy)
	assert.Equal(t, core.Position{3, 4}, rec.Position)
	assert.Empty(t, rec.Predictions)
}

func TestAll_ReturnsDeepCopies(t *testing.T) {
	s, _ := newTestStore(t)
	s.Update("a1", &core.Contribution{Predictions: map[string]string{"self": "x"}})

	all := s.All()
	all["a1"].Predictions["self"] = "mutated"

	rec, _ := s.Get("a1")
	assert.Equal(t, "x", rec.Predictions["self"])
}

func TestEvictStale_AdaptiveTimeouts(t *testing.T) {
	timeouts := ContributionTimeouts{
		Initial:     60 * time.Second,
		Established: 8 * time.Minute,
		Grace:       60 * time.Second,
	}
	s, clock := newTestStore(t, WithTimeouts(timeouts))

	// Veteran: one full cycle behind it, long timeout applies.
	s.Update("veteran", &core.Contribution{Iteration: 1, Predictions: map[string]string{"self": "a"}})
	s.Update("veteran", &core.Contribution{Iteration: 2, Predictions: map[string]string{"self": "b"}})
	// Newcomer with predictions: initial + grace.
	s.Update("newcomer", &core.Contribution{Iteration: 1, Predictions: map[string]string{"self": "c"}})
	// Heartbeat-only: short initial timeout.
	s.Update("ghost", &core.Contribution{Heartbeat: true})

	clock.Advance(61 * time.Second)
	evicted := s.EvictStale()
	assert.ElementsMatch(t, []core.AgentID{"ghost"}, evicted)
	assert.Equal(t, 2, s.Len())

	clock.Advance(60 * time.Second) // 2m1s total
	evicted = s.EvictStale()
	assert.ElementsMatch(t, []core.AgentID{"newcomer"}, evicted)

	clock.Advance(6 * time.Minute) // 8m1s total
	evicted = s.EvictStale()
	assert.ElementsMatch(t, []core.AgentID{"veteran"}, evicted)
	assert.Zero(t, s.Len())
}

func TestEvictStale_ExactThresholdSurvives(t *testing.T) {
	timeouts := DefaultContributionTimeouts()
	s, clock := newTestStore(t, WithTimeouts(timeouts))

	s.Update("a1", &core.Contribution{Heartbeat: true})
	clock.Advance(timeouts.Initial)

	assert.Empty(t, s.EvictStale())
	assert.Equal(t, 1, s.Len())

	clock.Advance(time.Nanosecond)
	assert.Len(t, s.EvictStale(), 1)
}

func TestQuiescent(t *testing.T) {
	s, clock := newTestStore(t)

	quiet, since := s.Quiescent(5 * time.Second)
	assert.True(t, quiet, "empty store is vacuously quiescent")
	assert.Zero(t, since)

	s.Update("a1", &core.Contribution{Heartbeat: true})
	quiet, _ = s.Quiescent(5 * time.Second)
	assert.False(t, quiet)

	clock.Advance(5 * time.Second)
	quiet, since = s.Quiescent(5 * time.Second)
	assert.True(t, quiet)
	assert.Equal(t, 5*time.Second, since)
}

func TestActivePositions(t *testing.T) {
	s, _ := newTestStore(t)
	s.Update("a1", &core.Contribution{Position: core.Position{1, 2}})
	s.Update("a2", &core.Contribution{Position: core.Position{7, 0}})

	positions := s.ActivePositions()
	assert.Equal(t, map[core.AgentID]core.Position{
		"a1": {1, 2},
		"a2": {7, 0},
	}, positions)
}

func TestReset(t *testing.T) {
	s, _ := newTestStore(t)
	s.Update("a1", &core.Contribution{Heartbeat: true})

	s.Reset()
	assert.Zero(t, s.Len())
	assert.True(t, s.LastUpdate().IsZero())
}
