package orchestrator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvaslab/emergence/internal/core"
	"github.com/canvaslab/emergence/internal/events"
	"github.com/canvaslab/emergence/internal/logging"
	"github.com/canvaslab/emergence/internal/ranking"
	"github.com/canvaslab/emergence/internal/service"
	"github.com/canvaslab/emergence/internal/stage"
	"github.com/canvaslab/emergence/internal/store"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// routingGenerator answers observation and narration prompts from separate
// scripts. It keys on "narration stage", which only the narration template
// contains; the observation wording also appears in narration prompts.
type routingGenerator struct {
	mu          sync.Mutex
	obsReplies  []string
	narrReplies []string
	obsCalls    int
	narrCalls   int
	failObsAll  bool
	failNarrAll bool
}

func (g *routingGenerator) Generate(ctx context.Context, req core.GenerateRequest) (*core.GenerateResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if strings.Contains(req.Prompt, "narration stage") {
		g.narrCalls++
		if g.failNarrAll {
			return nil, core.ErrExecution(core.CodeEmptyResponse, "scripted narration failure")
		}
		reply := g.narrReplies[min(g.narrCalls-1, len(g.narrReplies)-1)]
		return &core.GenerateResult{Text: reply}, nil
	}

	g.obsCalls++
	if g.failObsAll {
		return nil, core.ErrExecution(core.CodeEmptyResponse, "scripted observation failure")
	}
	reply := g.obsReplies[min(g.obsCalls-1, len(g.obsReplies)-1)]
	return &core.GenerateResult{Text: reply}, nil
}

type capturingPublisher struct {
	mu        sync.Mutex
	snapshots []*core.Snapshot
}

func (p *capturingPublisher) Publish(s *core.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshots = append(p.snapshots, s)
}

func (p *capturingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.snapshots)
}

const obsReply = `{
  "structures": [{"name": "cluster", "agent_positions": [[0,0],[1,0]]}],
  "simplicity_assessment": {"C_d_current": {"value": 10, "description": "one cluster"}},
  "reasoning": "tight grouping"
}`

const narrReply = `{
  "narrative": {"summary": "agents build a cluster"},
  "prediction_errors": {
    "a1": {"error": 0.1, "explanation": "close"},
    "a2": {"error": 0.3, "explanation": "drift"},
    "a3": {"error": 0.2, "explanation": "fair"}
  },
  "simplicity_assessment": {"C_w_current": {"value": 22, "description": "coordinated"}},
  "reasoning": "shared intent"
}`

type fixture struct {
	orch          *Orchestrator
	clock         *fakeClock
	contributions *store.ContributionStore
	canvas        *store.CanvasState
	gen           *routingGenerator
	pub           *capturingPublisher
	bus           *events.EventBus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	log := logging.NewNop()

	contributions := store.NewContributionStore(log, store.WithClock(clock.Now))
	canvas := store.NewCanvasState(store.WithCanvasClock(clock.Now))

	templates, err := stage.LoadTemplates("", log)
	require.NoError(t, err)

	gen := &routingGenerator{obsReplies: []string{obsReply}, narrReplies: []string{narrReply}}
	retry := service.NewRetryPolicy(
		service.WithMaxAttempts(3),
		service.WithBaseDelay(time.Millisecond),
		service.WithJitter(0),
	)
	obsClient := stage.NewObservationClient(gen, templates, retry, log)
	narrClient := stage.NewNarrationClient(gen, templates, retry, log)

	bus := events.New(16)
	t.Cleanup(bus.Close)
	pub := &capturingPublisher{}

	cfg := DefaultConfig()
	cfg.MinImageBytes = 10

	orch := New(cfg, contributions, canvas, obsClient, narrClient,
		ranking.NewEngine(), bus, pub, log, WithClock(clock.Now))

	return &fixture{
		orch:          orch,
		clock:         clock,
		contributions: contributions,
		canvas:        canvas,
		gen:           gen,
		pub:           pub,
		bus:           bus,
	}
}

func (f *fixture) seedThreeAgents() {
	f.canvas.SetAgentsCount(3)
	f.canvas.SetImage(strings.Repeat("A", 64))
	for i, id := range []core.AgentID{"a1", "a2", "a3"} {
		f.contributions.Update(id, &core.Contribution{
			Position:    core.Position{i, 0},
			Iteration:   1,
			Predictions: map[string]string{"self": "keep building"},
		})
	}
}

func TestTick_NoAgentsWhenEmpty(t *testing.T) {
	f := newFixture(t)
	f.canvas.SetImage(strings.Repeat("A", 64))

	f.orch.Tick(context.Background())

	assert.Equal(t, PhaseNoAgents, f.orch.Phase())
	assert.Empty(t, f.canvas.Image(), "canvas cleared while no agents")
}

func TestTick_WarmupGatesFirstCycle(t *testing.T) {
	f := newFixture(t)
	f.canvas.SetAgentsCount(4)
	f.canvas.SetImage(strings.Repeat("A", 64))
	f.contributions.Update("a1", &core.Contribution{Iteration: 1})

	f.clock.Advance(10 * time.Second)
	f.orch.Tick(context.Background())

	// 1 of 4 reporting (quota 3) and only 10s elapsed.
	assert.Equal(t, PhaseWarmup, f.orch.Phase())
	assert.Nil(t, f.orch.Latest())
}

func TestTick_WarmupTimeoutForcesProgress(t *testing.T) {
	f := newFixture(t)
	f.canvas.SetAgentsCount(4)
	f.canvas.SetImage(strings.Repeat("A", 64))
	f.contributions.Update("a1", &core.Contribution{Iteration: 1, Predictions: map[string]string{"self": "x"}})

	f.clock.Advance(61 * time.Second)
	f.canvas.SetImage(strings.Repeat("A", 64)) // keep image fresh
	f.orch.Tick(context.Background())

	require.NotNil(t, f.orch.Latest(), "warmup timeout must force the first cycle")
	assert.Equal(t, 1, f.orch.Latest().Version)
}

func TestTick_FullCyclePublishesVersionOne(t *testing.T) {
	f := newFixture(t)
	f.seedThreeAgents()

	f.clock.Advance(31 * time.Second)
	f.orch.Tick(context.Background())

	snap := f.orch.Latest()
	require.NotNil(t, snap)
	assert.Equal(t, 1, snap.Version)
	assert.False(t, snap.Pending)
	assert.Equal(t, PhasePublished, f.orch.Phase())

	assert.Equal(t, 10.0, snap.Assessment.CD.Value)
	assert.Equal(t, 22.0, snap.Assessment.CW.Value)
	assert.Equal(t, 12.0, snap.Assessment.U)
	assert.Equal(t, core.InterpretationStrong, snap.Assessment.Interpretation)

	require.Len(t, snap.AgentRankings, 3)
	assert.Equal(t, 1, snap.AgentRankings["a1"].Rank)
	assert.Equal(t, 3, snap.AgentRankings["a2"].Rank)
	assert.Equal(t, 0.1, snap.PredictionErrors["a1"].Error)

	assert.Equal(t, 1, f.gen.obsCalls, "one observation call")
	assert.Equal(t, 1, f.gen.narrCalls, "one narration call")
	assert.Equal(t, 1, f.pub.count(), "publisher received the snapshot")
}

func TestTick_VersionsIncreaseByOne(t *testing.T) {
	f := newFixture(t)
	f.seedThreeAgents()

	f.clock.Advance(31 * time.Second)
	f.orch.Tick(context.Background())
	require.Equal(t, 1, f.orch.Latest().Version)

	// New activity, then settle again.
	f.seedThreeAgents()
	f.clock.Advance(10 * time.Second)
	f.orch.Tick(context.Background())

	assert.Equal(t, 2, f.orch.Latest().Version)
}

func TestTick_StageAFailureFirstCyclePublishesPlaceholder(t *testing.T) {
	f := newFixture(t)
	f.seedThreeAgents()
	f.gen.failObsAll = true

	failures := f.bus.Subscribe(events.TypeAnalysisFailed)

	f.clock.Advance(31 * time.Second)
	f.orch.Tick(context.Background())

	snap := f.orch.Latest()
	require.NotNil(t, snap)
	assert.True(t, snap.Pending)
	assert.Equal(t, 1, snap.Version, "placeholder consumes a version number")
	assert.Equal(t, core.InterpretationWaiting, snap.Assessment.Interpretation)

	ev := <-failures
	assert.Equal(t, "observation", ev.(events.AnalysisFailed).Stage)
}

func TestTick_StageAFailureKeepsPreviousSnapshot(t *testing.T) {
	f := newFixture(t)
	f.seedThreeAgents()

	f.clock.Advance(31 * time.Second)
	f.orch.Tick(context.Background())
	first := f.orch.Latest()
	require.Equal(t, 1, first.Version)

	f.gen.failObsAll = true
	f.seedThreeAgents()
	f.clock.Advance(10 * time.Second)
	f.orch.Tick(context.Background())

	assert.Same(t, first, f.orch.Latest(), "previous snapshot untouched")
	assert.Equal(t, PhaseReadyWait, f.orch.Phase())
}

func TestTick_StageBFailureReusesPreviousNarrative(t *testing.T) {
	f := newFixture(t)
	f.seedThreeAgents()

	f.clock.Advance(31 * time.Second)
	f.orch.Tick(context.Background())
	require.Equal(t, 1, f.orch.Latest().Version)

	f.gen.failNarrAll = true
	f.seedThreeAgents()
	f.clock.Advance(10 * time.Second)
	f.orch.Tick(context.Background())

	snap := f.orch.Latest()
	require.Equal(t, 2, snap.Version, "fallback cycles still consume a version")
	assert.Equal(t, "agents build a cluster", snap.Narrative.Summary)
	assert.Equal(t, 22.0, snap.Assessment.CW.Value)
	assert.Empty(t, snap.PredictionErrors, "unscored cycle publishes no errors")

	// The ranking history must hold only the genuinely scored cycle: a1's
	// mean stays 0.1 instead of being diluted by a synthetic zero.
	require.Contains(t, snap.AgentRankings, core.AgentID("a1"))
	assert.InDelta(t, 0.1, snap.AgentRankings["a1"].AvgError, 1e-9)
	assert.Equal(t, 1, snap.AgentRankings["a1"].TotalIterations)
}

func TestTick_SimultaneousStalenessDisconnects(t *testing.T) {
	f := newFixture(t)
	f.canvas.SetAgentsCount(1)
	f.canvas.SetImage(strings.Repeat("A", 64))
	// Veteran record with the long eviction timeout so it survives.
	f.contributions.Update("a1", &core.Contribution{Iteration: 1, Predictions: map[string]string{"self": "x"}})
	f.contributions.Update("a1", &core.Contribution{Iteration: 2, Predictions: map[string]string{"self": "y"}})

	f.clock.Advance(2 * time.Minute) // beyond StaleShort, below eviction timeout

	f.orch.Tick(context.Background())

	assert.Equal(t, PhaseNoAgents, f.orch.Phase())
	assert.Zero(t, f.canvas.AgentsCount())
	assert.Empty(t, f.canvas.Image())
}

func TestTick_PartialStalenessDoesNotDisconnect(t *testing.T) {
	f := newFixture(t)
	f.canvas.SetAgentsCount(1)
	f.contributions.Update("a1", &core.Contribution{Iteration: 1, Predictions: map[string]string{"self": "x"}})
	f.contributions.Update("a1", &core.Contribution{Iteration: 2, Predictions: map[string]string{"self": "y"}})

	f.clock.Advance(2 * time.Minute)
	f.canvas.SetImage(strings.Repeat("A", 64)) // image fresh, contributions stale

	f.orch.Tick(context.Background())

	assert.NotEqual(t, PhaseNoAgents, f.orch.Phase())
	assert.Equal(t, 1, f.canvas.AgentsCount())
}

func TestTick_QuiescenceDebouncesBursts(t *testing.T) {
	f := newFixture(t)
	f.seedThreeAgents()

	f.clock.Advance(31 * time.Second)
	f.contributions.Update("a1", &core.Contribution{Iteration: 2}) // burst in progress
	f.clock.Advance(2 * time.Second)
	f.canvas.SetImage(strings.Repeat("A", 64))

	f.orch.Tick(context.Background())

	assert.Equal(t, PhaseReadyWait, f.orch.Phase())
	assert.Nil(t, f.orch.Latest())
}

func TestReset_ReturnsToColdStart(t *testing.T) {
	f := newFixture(t)
	f.seedThreeAgents()
	f.clock.Advance(31 * time.Second)
	f.orch.Tick(context.Background())
	require.NotNil(t, f.orch.Latest())

	f.orch.Reset()

	assert.Nil(t, f.orch.Latest())
	assert.Equal(t, PhaseColdStart, f.orch.Phase())
	assert.Zero(t, f.orch.CyclesCompleted())
	assert.Zero(t, f.contributions.Len())
}
