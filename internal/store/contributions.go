// Package store holds the in-memory shared state the analysis loop reads:
// agent contributions and the canvas image. Both stores are safe for
// concurrent use and keep no history beyond the latest record per agent.
package store

import (
	"sync"
	"time"

	"github.com/canvaslab/emergence/internal/core"
	"github.com/canvaslab/emergence/internal/logging"
)

// ContributionTimeouts controls adaptive staleness eviction. Agents that
// survived a full analysis cycle earn the long Established timeout; agents
// with fresh predictions but no completed cycle get Initial plus Grace so
// they are not dropped right before their first evaluation.
type ContributionTimeouts struct {
	Initial     time.Duration
	Established time.Duration
	Grace       time.Duration
}

// DefaultContributionTimeouts matches the slow cadence of the external
// analysis stages.
func DefaultContributionTimeouts() ContributionTimeouts {
	return ContributionTimeouts{
		Initial:     60 * time.Second,
		Established: 8 * time.Minute,
		Grace:       60 * time.Second,
	}
}

// ContributionStore keeps the latest contribution per agent.
type ContributionStore struct {
	mu         sync.RWMutex
	records    map[core.AgentID]*core.Contribution
	lastUpdate time.Time
	timeouts   ContributionTimeouts
	now        func() time.Time
	log        *logging.Logger
}

// ContributionOption customizes a ContributionStore.
type ContributionOption func(*ContributionStore)

// WithClock injects a time source.
func WithClock(now func() time.Time) ContributionOption {
	return func(s *ContributionStore) { s.now = now }
}

// WithTimeouts overrides the eviction timeouts.
func WithTimeouts(t ContributionTimeouts) ContributionOption {
	return func(s *ContributionStore) { s.timeouts = t }
}

// NewContributionStore creates an empty store.
func NewContributionStore(log *logging.Logger, opts ...ContributionOption) *ContributionStore {
	s := &ContributionStore{
		records:  make(map[core.AgentID]*core.Contribution),
		timeouts: DefaultContributionTimeouts(),
		now:      time.Now,
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Update ingests one report for an agent. Heartbeats only refresh the
// record's timestamp (creating a minimal placeholder when the agent is
// unknown) and never advance the prediction chain. Real updates shift the
// previous Predictions and Iteration into their Previous* slots so Stage-B
// can score last cycle's predictions against this cycle's actions.
func (s *ContributionStore) Update(id core.AgentID, c *core.Contribution) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.lastUpdate = now

	prev := s.records[id]

	if c.Heartbeat {
		if prev != nil {
			prev.Timestamp = now
			return
		}
		s.records[id] = &core.Contribution{
			AgentID:   id,
			Position:  c.Position,
			Strategy:  "presence",
			Rationale: "agent connected, no action reported yet",
			Timestamp: now,
			Heartbeat: true,
		}
		return
	}

	rec := c.Clone()
	rec.AgentID = id
	rec.Timestamp = now
	rec.Heartbeat = false
	if prev != nil {
		rec.PreviousPredictions = cloneMap(prev.Predictions)
		rec.PreviousIteration = prev.Iteration
	}
	s.records[id] = rec
}

// Get returns a copy of one agent's record.
func (s *ContributionStore) Get(id core.AgentID) (*core.Contribution, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// All returns a deep copy of every record, keyed by agent.
func (s *ContributionStore) All() map[core.AgentID]*core.Contribution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[core.AgentID]*core.Contribution, len(s.records))
	for id, rec := range s.records {
		out[id] = rec.Clone()
	}
	return out
}

// ActivePositions returns the grid position of every live agent.
func (s *ContributionStore) ActivePositions() map[core.AgentID]core.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[core.AgentID]core.Position, len(s.records))
	for id, rec := range s.records {
		out[id] = rec.Position
	}
	return out
}

// Len returns the number of live agents.
func (s *ContributionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// EvictStale drops records whose age strictly exceeds their adaptive
// timeout and returns the evicted agent ids. A record exactly at its
// timeout survives.
func (s *ContributionStore) EvictStale() []core.AgentID {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var evicted []core.AgentID
	for id, rec := range s.records {
		timeout := s.timeoutFor(rec)
		if elapsed := now.Sub(rec.Timestamp); elapsed > timeout {
			delete(s.records, id)
			evicted = append(evicted, id)
			s.log.Info("evicted stale agent",
				"agent_id", string(id),
				"elapsed", elapsed.Round(time.Second).String(),
				"timeout", timeout.String())
		}
	}
	return evicted
}

func (s *ContributionStore) timeoutFor(rec *core.Contribution) time.Duration {
	switch {
	case rec.HasCompletedCycle():
		return s.timeouts.Established
	case len(rec.Predictions) > 0:
		return s.timeouts.Initial + s.timeouts.Grace
	default:
		return s.timeouts.Initial
	}
}

// Quiescent reports whether no update has arrived for at least delay, and
// how long it has been since the last one. An empty store has nothing in
// flight and is vacuously quiescent.
func (s *ContributionStore) Quiescent(delay time.Duration) (bool, time.Duration) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.records) == 0 || s.lastUpdate.IsZero() {
		return true, 0
	}
	since := s.now().Sub(s.lastUpdate)
	return since >= delay, since
}

// LastUpdate returns the time of the most recent ingestion, zero if none.
func (s *ContributionStore) LastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}

// Reset drops every record.
func (s *ContributionStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[core.AgentID]*core.Contribution)
	s.lastUpdate = time.Time{}
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
