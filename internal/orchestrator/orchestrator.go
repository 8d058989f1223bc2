// Package orchestrator drives the recurring two-stage analysis cycle: it
// decides when enough fresh agent activity justifies an external analysis,
// runs both stages with retries and fallbacks, and publishes monotonically
// versioned snapshots that never regress.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/canvaslab/emergence/internal/core"
	"github.com/canvaslab/emergence/internal/events"
	"github.com/canvaslab/emergence/internal/logging"
	"github.com/canvaslab/emergence/internal/ranking"
	"github.com/canvaslab/emergence/internal/stage"
	"github.com/canvaslab/emergence/internal/store"
)

// Phase is the orchestrator's externally visible state.
type Phase string

const (
	PhaseColdStart Phase = "COLD_START"
	PhaseNoAgents  Phase = "NO_AGENTS"
	PhaseWarmup    Phase = "WARMUP"
	PhaseReadyWait Phase = "READY_WAIT"
	PhaseStageA    Phase = "RUNNING_STAGE_A"
	PhaseStageB    Phase = "RUNNING_STAGE_B"
	PhasePublished Phase = "PUBLISHED"
)

// steadyStateCycles is how many published cycles mark the transition from
// startup staleness thresholds to steady-state ones.
const steadyStateCycles = 3

// Config holds the timing policy. Zero values are replaced by defaults.
type Config struct {
	TickInterval      time.Duration
	WarmupDelay       time.Duration
	WarmupTimeout     time.Duration
	WarmupRatio       float64
	QuiescenceFirst   time.Duration
	QuiescenceSteady  time.Duration
	ReadyWaitTimeout  time.Duration
	ImageFreshness    time.Duration
	ImageLagTolerance time.Duration
	StaleShort        time.Duration
	StaleLong         time.Duration
	MinImageBytes     int
	Bands             core.UBands
}

// DefaultConfig returns the production timing policy.
func DefaultConfig() Config {
	return Config{
		TickInterval:      2 * time.Second,
		WarmupDelay:       30 * time.Second,
		WarmupTimeout:     60 * time.Second,
		WarmupRatio:       0.75,
		QuiescenceFirst:   6 * time.Second,
		QuiescenceSteady:  5 * time.Second,
		ReadyWaitTimeout:  2 * time.Minute,
		ImageFreshness:    60 * time.Second,
		ImageLagTolerance: 2 * time.Second,
		StaleShort:        90 * time.Second,
		StaleLong:         10 * time.Minute,
		MinImageBytes:     1000,
		Bands:             core.DefaultUBands(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.TickInterval == 0 {
		c.TickInterval = def.TickInterval
	}
	if c.WarmupDelay == 0 {
		c.WarmupDelay = def.WarmupDelay
	}
	if c.WarmupTimeout == 0 {
		c.WarmupTimeout = def.WarmupTimeout
	}
	if c.WarmupRatio == 0 {
		c.WarmupRatio = def.WarmupRatio
	}
	if c.QuiescenceFirst == 0 {
		c.QuiescenceFirst = def.QuiescenceFirst
	}
	if c.QuiescenceSteady == 0 {
		c.QuiescenceSteady = def.QuiescenceSteady
	}
	if c.ReadyWaitTimeout == 0 {
		c.ReadyWaitTimeout = def.ReadyWaitTimeout
	}
	if c.ImageFreshness == 0 {
		c.ImageFreshness = def.ImageFreshness
	}
	if c.ImageLagTolerance == 0 {
		c.ImageLagTolerance = def.ImageLagTolerance
	}
	if c.StaleShort == 0 {
		c.StaleShort = def.StaleShort
	}
	if c.StaleLong == 0 {
		c.StaleLong = def.StaleLong
	}
	if c.MinImageBytes == 0 {
		c.MinImageBytes = def.MinImageBytes
	}
	if c.Bands == (core.UBands{}) {
		c.Bands = def.Bands
	}
	return c
}

// CycleRecorder receives every published snapshot, fire-and-forget.
type CycleRecorder interface {
	RecordSnapshot(*core.Snapshot)
}

// Orchestrator owns the single analysis control loop. Ingestion happens
// concurrently through the stores; only this loop mutates the snapshot.
type Orchestrator struct {
	cfg           Config
	contributions *store.ContributionStore
	canvas        *store.CanvasState
	observation   *stage.ObservationClient
	narration     *stage.NarrationClient
	rankings      *ranking.Engine
	bus           *events.EventBus
	publisher     core.SnapshotPublisher
	recorder      CycleRecorder
	log           *logging.Logger
	now           func() time.Time

	mu             sync.RWMutex
	latest         *core.Snapshot
	phase          Phase
	cycles         int
	readyWaitSince time.Time
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithClock injects a time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithRecorder attaches a session recorder.
func WithRecorder(r CycleRecorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// New creates an orchestrator. The publisher may be core.NopPublisher{}.
func New(
	cfg Config,
	contributions *store.ContributionStore,
	canvas *store.CanvasState,
	observation *stage.ObservationClient,
	narration *stage.NarrationClient,
	rankings *ranking.Engine,
	bus *events.EventBus,
	publisher core.SnapshotPublisher,
	log *logging.Logger,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		cfg:           cfg.withDefaults(),
		contributions: contributions,
		canvas:        canvas,
		observation:   observation,
		narration:     narration,
		rankings:      rankings,
		bus:           bus,
		publisher:     publisher,
		log:           log,
		now:           time.Now,
		phase:         PhaseColdStart,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run drives Tick on the configured interval until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.log.Info("analysis loop started", "tick", o.cfg.TickInterval.String())
	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.log.Info("analysis loop stopped")
			return ctx.Err()
		case <-ticker.C:
			o.Tick(ctx)
		}
	}
}

// Tick evaluates liveness, warmup and readiness, and runs one full cycle
// when the canvas is ready. There is no mid-cycle cancellation beyond ctx:
// a stage call completes, times out at the collaborator boundary, or is
// abandoned after its retry budget.
func (o *Orchestrator) Tick(ctx context.Context) {
	now := o.now()

	evicted := o.contributions.EvictStale()
	if len(evicted) > 0 {
		o.bus.Publish(events.NewAgentsDisconnected(evicted))
	}

	if !o.alive(now) {
		o.setPhase(PhaseNoAgents)
		return
	}

	if o.Latest() == nil && !o.warmupDone(now) {
		o.setPhase(PhaseWarmup)
		return
	}

	if !o.readyForAnalysis(now) {
		o.enterReadyWait(now)
		return
	}

	o.runCycle(ctx)
}

// Latest returns the last published snapshot, nil before the first cycle.
func (o *Orchestrator) Latest() *core.Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.latest
}

// Phase returns the current phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.phase
}

// CyclesCompleted returns the number of published cycles.
func (o *Orchestrator) CyclesCompleted() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cycles
}

// Reset discards the published snapshot, ranking history and both stores,
// returning the engine to a cold start.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	o.latest = nil
	o.phase = PhaseColdStart
	o.cycles = 0
	o.readyWaitSince = time.Time{}
	o.mu.Unlock()

	o.contributions.Reset()
	o.canvas.Reset()
	o.rankings.Reset()
	o.log.Info("engine reset to cold start")
}

func (o *Orchestrator) setPhase(p Phase) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.phase != p {
		o.log.Debug("phase transition", "from", string(o.phase), "to", string(p))
	}
	o.phase = p
	if p != PhaseReadyWait {
		o.readyWaitSince = time.Time{}
	}
}

func (o *Orchestrator) enterReadyWait(now time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.phase != PhaseReadyWait || o.readyWaitSince.IsZero() {
		o.readyWaitSince = now
	}
	o.phase = PhaseReadyWait
}

func (o *Orchestrator) readyWaitStart() time.Time {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.readyWaitSince
}

func (o *Orchestrator) setLatest(s *core.Snapshot) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.latest = s
	o.cycles++
	o.phase = PhasePublished
	o.readyWaitSince = time.Time{}
}
