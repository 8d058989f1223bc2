package core

import (
	"encoding/json"
	"time"
)

// AgentID identifies a contributing agent.
type AgentID string

// Position is an agent's stable grid coordinate, serialized as [x,y].
type Position [2]int

// X returns the horizontal coordinate.
func (p Position) X() int { return p[0] }

// Y returns the vertical coordinate.
func (p Position) Y() int { return p[1] }

// Contribution is one agent's latest reported action and self-predictions.
// Records are owned by the contribution store; callers receive copies.
type Contribution struct {
	AgentID             AgentID           `json:"agent_id"`
	Position            Position          `json:"position"`
	Iteration           int               `json:"iteration"`
	PreviousIteration   int               `json:"previous_iteration"`
	Strategy            string            `json:"strategy"`
	Rationale           string            `json:"rationale"`
	Predictions         map[string]string `json:"predictions"`
	PreviousPredictions map[string]string `json:"previous_predictions"`
	Pixels              json.RawMessage   `json:"pixels,omitempty"`
	Timestamp           time.Time         `json:"timestamp"`
	Heartbeat           bool              `json:"is_heartbeat,omitempty"`
}

// HasCompletedCycle reports whether the agent has lived through at least one
// full analysis cycle (its predictions have been shifted forward once).
func (c *Contribution) HasCompletedCycle() bool {
	return len(c.PreviousPredictions) > 0
}

// Clone returns a deep copy of the contribution.
func (c *Contribution) Clone() *Contribution {
	cp := *c
	cp.Predictions = cloneStringMap(c.Predictions)
	cp.PreviousPredictions = cloneStringMap(c.PreviousPredictions)
	if c.Pixels != nil {
		cp.Pixels = append(json.RawMessage(nil), c.Pixels...)
	}
	return &cp
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
