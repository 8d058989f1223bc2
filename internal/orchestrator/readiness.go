package orchestrator

import (
	"math"
	"time"

	"github.com/canvaslab/emergence/internal/events"
)

// alive decides whether there is a live collective worth analyzing. It
// returns false for the NO_AGENTS state and handles forced disconnection
// when the canvas and the contribution store go stale together. Either
// signal alone can be legitimately delayed by a slow external call, so
// only simultaneous staleness counts as real disconnection.
func (o *Orchestrator) alive(now time.Time) bool {
	if o.contributions.Len() == 0 {
		if o.canvas.Image() != "" || o.canvas.AgentsCount() > 0 {
			o.canvas.Clear()
			o.log.Info("no active agents, canvas state cleared")
		}
		return false
	}

	staleTimeout := o.cfg.StaleShort
	if o.CyclesCompleted() >= steadyStateCycles {
		staleTimeout = o.cfg.StaleLong
	}
	canvasStale := o.canvas.IsStale(staleTimeout)
	lastContribution := o.contributions.LastUpdate()
	contributionsStale := !lastContribution.IsZero() && now.Sub(lastContribution) > staleTimeout

	if canvasStale && contributionsStale {
		o.log.Warn("canvas and contributions both stale, treating all agents as disconnected",
			"timeout", staleTimeout.String())
		o.canvas.Clear()
		o.bus.Publish(events.NewAgentsDisconnected(nil))
		return false
	}

	if o.canvas.AgentsCount() == 0 {
		return false
	}
	if len(o.canvas.Image()) < o.cfg.MinImageBytes {
		return false
	}
	return true
}

// warmupDone gates the very first cycle: enough declared agents must have
// reported AND a minimum settling time must have passed, unless the
// absolute warmup timeout forces progress to guarantee liveness when some
// agents never report.
func (o *Orchestrator) warmupDone(now time.Time) bool {
	first := o.canvas.FirstUpdate()
	if first.IsZero() {
		return false
	}
	elapsed := now.Sub(first)

	if elapsed >= o.cfg.WarmupTimeout {
		o.log.Warn("warmup timeout, forcing first cycle",
			"elapsed", elapsed.Round(time.Second).String(),
			"reporting", o.contributions.Len(),
			"declared", o.canvas.AgentsCount())
		return true
	}

	return o.contributions.Len() >= o.minReportingAgents() && elapsed >= o.cfg.WarmupDelay
}

// minReportingAgents is the warmup quota: exactly 1 when one agent is
// declared, otherwise 75% of the declared count with a floor of 2.
func (o *Orchestrator) minReportingAgents() int {
	declared := o.canvas.AgentsCount()
	switch {
	case declared == 1:
		return 1
	case declared > 1:
		quota := int(math.Floor(float64(declared) * o.cfg.WarmupRatio))
		if quota < 2 {
			quota = 2
		}
		return quota
	default:
		return 2
	}
}

// readyForAnalysis requires contribution quiescence and a fresh image that
// is not lagging the newest contribution, with an absolute wait timeout
// bounding worst-case latency when agents stop drawing.
func (o *Orchestrator) readyForAnalysis(now time.Time) bool {
	if start := o.readyWaitStart(); !start.IsZero() && now.Sub(start) >= o.cfg.ReadyWaitTimeout {
		o.log.Warn("ready-wait timeout, forcing cycle with current state",
			"waited", now.Sub(start).Round(time.Second).String())
		return true
	}

	debounce := o.cfg.QuiescenceSteady
	if o.Latest() == nil {
		debounce = o.cfg.QuiescenceFirst
	}
	quiet, since := o.contributions.Quiescent(debounce)
	if !quiet {
		o.log.Debug("waiting for quiescence", "since_last_update", since.Round(time.Millisecond).String())
		return false
	}

	if o.canvas.IsStale(o.cfg.ImageFreshness) {
		o.log.Debug("image too old for analysis")
		return false
	}

	lastContribution := o.contributions.LastUpdate()
	lastImage := o.canvas.LastUpdate()
	if !lastContribution.IsZero() && lastContribution.Sub(lastImage) > o.cfg.ImageLagTolerance {
		o.log.Debug("image lags newest contribution",
			"lag", lastContribution.Sub(lastImage).Round(time.Millisecond).String())
		return false
	}

	return true
}
