package events

import (
	"github.com/canvaslab/emergence/internal/core"
)

// Event type constants.
const (
	TypeSnapshotPublished    = "snapshot_published"
	TypeAnalysisFailed       = "analysis_failed"
	TypeAgentsDisconnected   = "agents_disconnected"
	TypeContributionReceived = "contribution_received"
)

// SnapshotPublished fires once per completed analysis cycle.
type SnapshotPublished struct {
	BaseEvent
	Snapshot *core.Snapshot `json:"snapshot"`
}

// NewSnapshotPublished creates a snapshot_published event.
func NewSnapshotPublished(s *core.Snapshot) SnapshotPublished {
	return SnapshotPublished{
		BaseEvent: NewBaseEvent(TypeSnapshotPublished),
		Snapshot:  s,
	}
}

// AnalysisFailed fires when a stage exhausts its retries. The cycle still
// publishes a fallback snapshot; this event exists for observers.
type AnalysisFailed struct {
	BaseEvent
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

// NewAnalysisFailed creates an analysis_failed event.
func NewAnalysisFailed(stage, reason string) AnalysisFailed {
	return AnalysisFailed{
		BaseEvent: NewBaseEvent(TypeAnalysisFailed),
		Stage:     stage,
		Reason:    reason,
	}
}

// AgentsDisconnected fires when simultaneous staleness forces the engine to
// treat every agent as gone.
type AgentsDisconnected struct {
	BaseEvent
	EvictedAgents []core.AgentID `json:"evicted_agents,omitempty"`
}

// NewAgentsDisconnected creates an agents_disconnected event.
func NewAgentsDisconnected(evicted []core.AgentID) AgentsDisconnected {
	return AgentsDisconnected{
		BaseEvent:     NewBaseEvent(TypeAgentsDisconnected),
		EvictedAgents: evicted,
	}
}

// ContributionReceived fires on every non-heartbeat ingestion.
type ContributionReceived struct {
	BaseEvent
	AgentID   core.AgentID `json:"agent_id"`
	Iteration int          `json:"iteration"`
}

// NewContributionReceived creates a contribution_received event.
func NewContributionReceived(id core.AgentID, iteration int) ContributionReceived {
	return ContributionReceived{
		BaseEvent: NewBaseEvent(TypeContributionReceived),
		AgentID:   id,
		Iteration: iteration,
	}
}
