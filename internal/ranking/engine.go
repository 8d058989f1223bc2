// Package ranking accumulates per-cycle prediction errors and turns them
// into a leaderboard of predictive accuracy across active agents.
package ranking

import (
	"sort"
	"sync"

	"github.com/canvaslab/emergence/internal/core"
)

// Engine keeps the full error history per agent, keyed by the snapshot
// version that produced each score. Version keying makes ingestion
// idempotent: redelivering the same cycle's errors cannot double-count.
type Engine struct {
	mu      sync.RWMutex
	history map[core.AgentID]map[int]float64
}

// NewEngine creates an empty engine.
func NewEngine() *Engine {
	return &Engine{history: make(map[core.AgentID]map[int]float64)}
}

// Ingest records one cycle's prediction errors under cycleVersion. The
// first write for an (agent, version) pair wins; later deliveries of the
// same version are ignored.
func (e *Engine) Ingest(errors map[core.AgentID]core.PredictionError, cycleVersion int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, pe := range errors {
		byVersion, ok := e.history[id]
		if !ok {
			byVersion = make(map[int]float64)
			e.history[id] = byVersion
		}
		if _, seen := byVersion[cycleVersion]; seen {
			continue
		}
		byVersion[cycleVersion] = pe.Error
	}
}

// Rank computes standings for the given active agents only. Agents with no
// history are skipped. Ordering is by mean error ascending, ties broken by
// agent id so the result is deterministic.
func (e *Engine) Rank(active map[core.AgentID]core.Position) map[core.AgentID]core.AgentRanking {
	e.mu.RLock()
	defer e.mu.RUnlock()

	type entry struct {
		id       core.AgentID
		avgError float64
		cycles   int
	}

	entries := make([]entry, 0, len(active))
	for id := range active {
		byVersion := e.history[id]
		if len(byVersion) == 0 {
			continue
		}
		var sum float64
		for _, v := range byVersion {
			sum += v
		}
		entries = append(entries, entry{
			id:       id,
			avgError: sum / float64(len(byVersion)),
			cycles:   len(byVersion),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].avgError != entries[j].avgError {
			return entries[i].avgError < entries[j].avgError
		}
		return entries[i].id < entries[j].id
	})

	out := make(map[core.AgentID]core.AgentRanking, len(entries))
	for i, en := range entries {
		out[en.id] = core.AgentRanking{
			Rank:            i + 1,
			AvgError:        en.avgError,
			TotalIterations: en.cycles,
			Position:        active[en.id],
		}
	}
	return out
}

// History returns a copy of one agent's recorded errors by version.
func (e *Engine) History(id core.AgentID) map[int]float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	byVersion, ok := e.history[id]
	if !ok {
		return nil
	}
	out := make(map[int]float64, len(byVersion))
	for v, err := range byVersion {
		out[v] = err
	}
	return out
}

// Remove forgets one agent's history.
func (e *Engine) Remove(id core.AgentID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.history, id)
}

// Reset forgets everything.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = make(map[core.AgentID]map[int]float64)
}
