package orchestrator

import (
	"context"

	"github.com/canvaslab/emergence/internal/core"
	"github.com/canvaslab/emergence/internal/events"
	"github.com/canvaslab/emergence/internal/stage"
)

// fallbackCW is the generative-complexity score published when Stage-B
// exhausts its retries on the very first cycle, before any previous value
// exists to reuse.
const fallbackCW = 15

// runCycle executes one full Stage-A → Stage-B → combine → publish pass.
// Every failure path preserves the last known-good snapshot: Stage-A
// exhaustion keeps it untouched (or publishes a pending placeholder when
// none exists yet), Stage-B exhaustion reuses its previous fields.
func (o *Orchestrator) runCycle(ctx context.Context) {
	previous := o.Latest()

	o.setPhase(PhaseStageA)
	positions := o.contributions.ActivePositions()
	obs, err := o.observation.Run(ctx, stage.ObservationInput{
		ImageB64:    o.canvas.Image(),
		AgentsCount: o.canvas.AgentsCount(),
		Positions:   positions,
	})
	if err != nil {
		o.log.Error("observation stage failed for this cycle", "error", err)
		o.bus.Publish(events.NewAnalysisFailed("observation", err.Error()))
		if previous == nil {
			o.publishPlaceholder()
		} else {
			o.setPhase(PhaseReadyWait)
		}
		return
	}

	// Time has passed; re-read the store so narration sees fresh reports.
	o.setPhase(PhaseStageB)
	contributions := o.contributions.All()
	narr, err := o.narration.Run(ctx, stage.NarrationInput{
		Observation:   obs,
		Contributions: contributions,
		Previous:      previous,
	})
	if err != nil {
		o.log.Error("narration stage failed, degrading to previous narrative", "error", err)
		o.bus.Publish(events.NewAnalysisFailed("narration", err.Error()))
		narr = narrationFallback(previous)
	}

	o.publish(obs, narr, contributions)
}

// narrationFallback reuses the previous snapshot's narrative and C_w. The
// cycle was never scored, so the prediction-error set stays empty and no
// synthetic entries reach the ranking history.
func narrationFallback(previous *core.Snapshot) *stage.NarrationResult {
	result := &stage.NarrationResult{
		Narrative:        core.Narrative{Summary: "interpretation pending"},
		CW:               core.ComplexityScore{Value: fallbackCW, Description: "fallback, narration unavailable"},
		PredictionErrors: map[core.AgentID]core.PredictionError{},
	}
	if previous != nil && !previous.Pending {
		result.Narrative = previous.Narrative
		result.CW = previous.Assessment.CW
	}
	return result
}

// publish combines both stage outputs into the next snapshot version and
// fans it out. Publisher and recorder are fire-and-forget; their failures
// never reach this loop.
func (o *Orchestrator) publish(obs *stage.ObservationResult, narr *stage.NarrationResult, contributions map[core.AgentID]*core.Contribution) {
	previous := o.Latest()
	version := 1
	if previous != nil {
		version = previous.Version + 1
	}

	positions := make(map[core.AgentID]core.Position, len(contributions))
	for id, rec := range contributions {
		positions[id] = rec.Position
	}

	o.rankings.Ingest(narr.PredictionErrors, version)
	ranked := o.rankings.Rank(positions)

	u := narr.CW.Value - obs.CD.Value
	snapshot := &core.Snapshot{
		Version:          version,
		Timestamp:        o.now(),
		Structures:       obs.Structures,
		Narrative:        narr.Narrative,
		PredictionErrors: narr.PredictionErrors,
		AgentRankings:    ranked,
		Assessment: core.Assessment{
			CD:             obs.CD,
			CW:             narr.CW,
			U:              u,
			Interpretation: o.cfg.Bands.Interpret(u),
			ReasoningA:     obs.Reasoning,
			ReasoningB:     narr.Reasoning,
		},
		AgentsCount: o.canvas.AgentsCount(),
	}

	o.setLatest(snapshot)
	o.log.Info("snapshot published",
		"version", snapshot.Version,
		"c_d", obs.CD.Value,
		"c_w", narr.CW.Value,
		"u", u,
		"interpretation", string(snapshot.Assessment.Interpretation),
		"ranked_agents", len(ranked))

	o.fanOut(snapshot)
}

// publishPlaceholder publishes a pending snapshot after a first-cycle
// Stage-A failure. It consumes a version number like any other publish.
func (o *Orchestrator) publishPlaceholder() {
	snapshot := core.PlaceholderSnapshot(o.now())
	snapshot.Version = 1
	snapshot.AgentsCount = o.canvas.AgentsCount()

	o.setLatest(snapshot)
	o.log.Warn("published pending placeholder snapshot", "version", snapshot.Version)
	o.fanOut(snapshot)
}

func (o *Orchestrator) fanOut(snapshot *core.Snapshot) {
	o.bus.PublishPriority(events.NewSnapshotPublished(snapshot))
	o.publisher.Publish(snapshot)
	if o.recorder != nil {
		o.recorder.RecordSnapshot(snapshot)
	}
}
