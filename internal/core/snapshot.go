package core

import "time"

// Interpretation is the ordinal emergence band derived from U = C_w - C_d.
type Interpretation string

const (
	InterpretationNone        Interpretation = "NO_EMERGENCE"
	InterpretationWeak        Interpretation = "WEAK_EMERGENCE"
	InterpretationModerate    Interpretation = "MODERATE_EMERGENCE"
	InterpretationStrong      Interpretation = "STRONG_EMERGENCE"
	InterpretationExceptional Interpretation = "EXCEPTIONAL_EMERGENCE"
	InterpretationWaiting     Interpretation = "WAITING"
)

// UBands holds the ordinal cutoffs for interpreting U. A value below Weak is
// no emergence; at or above Exceptional is exceptional.
type UBands struct {
	Weak        float64 `json:"weak" mapstructure:"weak"`
	Moderate    float64 `json:"moderate" mapstructure:"moderate"`
	Strong      float64 `json:"strong" mapstructure:"strong"`
	Exceptional float64 `json:"exceptional" mapstructure:"exceptional"`
}

// DefaultUBands returns the default emergence cutoffs.
func DefaultUBands() UBands {
	return UBands{Weak: 0, Moderate: 6, Strong: 11, Exceptional: 16}
}

// Interpret classifies a U value into its ordinal band.
func (b UBands) Interpret(u float64) Interpretation {
	switch {
	case u < b.Weak:
		return InterpretationNone
	case u < b.Moderate:
		return InterpretationWeak
	case u < b.Strong:
		return InterpretationModerate
	case u < b.Exceptional:
		return InterpretationStrong
	default:
		return InterpretationExceptional
	}
}

// Structure is one observed grouping of agent positions on the canvas
// (Stage-A output, opaque beyond ownership validation).
type Structure struct {
	Name           string     `json:"name,omitempty"`
	Description    string     `json:"description,omitempty"`
	AgentPositions []Position `json:"agent_positions"`
}

// Narrative is the Stage-B free-text interpretation of the canvas.
type Narrative struct {
	Summary string `json:"summary"`
	Detail  string `json:"detail,omitempty"`
}

// PredictionError scores one agent's prior-cycle predictions against what
// actually happened.
type PredictionError struct {
	Error       float64 `json:"error"`
	Explanation string  `json:"explanation"`
}

// NoPriorPrediction is the backfill entry for agents with nothing to
// evaluate against (their first cycle).
func NoPriorPrediction() PredictionError {
	return PredictionError{Error: 0.0, Explanation: "no prior prediction"}
}

// AgentRanking is one agent's cumulative predictive-accuracy standing.
type AgentRanking struct {
	Rank            int      `json:"rank"`
	AvgError        float64  `json:"avg_error"`
	TotalIterations int      `json:"total_iterations"`
	Position        Position `json:"position"`
}

// ComplexityScore is a single complexity measurement with its reasoning.
type ComplexityScore struct {
	Value       float64 `json:"value"`
	Description string  `json:"description,omitempty"`
}

// Assessment combines both stages' complexity scores and the derived
// emergence indicator.
type Assessment struct {
	CD             ComplexityScore `json:"c_d"`
	CW             ComplexityScore `json:"c_w"`
	U              float64         `json:"u"`
	Interpretation Interpretation  `json:"interpretation"`
	ReasoningA     string          `json:"reasoning_observation,omitempty"`
	ReasoningB     string          `json:"reasoning_narration,omitempty"`
}

// Snapshot is the immutable, versioned combination of both analysis stages'
// outputs plus derived rankings. Version increases by exactly one on every
// publish and never regresses.
type Snapshot struct {
	Version          int                         `json:"version"`
	Timestamp        time.Time                   `json:"timestamp"`
	Pending          bool                        `json:"pending,omitempty"`
	Structures       []Structure                 `json:"structures"`
	Narrative        Narrative                   `json:"narrative"`
	PredictionErrors map[AgentID]PredictionError `json:"prediction_errors"`
	AgentRankings    map[AgentID]AgentRanking    `json:"agent_rankings"`
	Assessment       Assessment                  `json:"simplicity_assessment"`
	AgentsCount      int                         `json:"agents_count"`
}

// PlaceholderSnapshot returns a well-formed snapshot for consumers that ask
// before any analysis cycle has completed.
func PlaceholderSnapshot(now time.Time) *Snapshot {
	return &Snapshot{
		Version:          0,
		Timestamp:        now,
		Pending:          true,
		Structures:       []Structure{},
		Narrative:        Narrative{Summary: ""},
		PredictionErrors: map[AgentID]PredictionError{},
		AgentRankings:    map[AgentID]AgentRanking{},
		Assessment: Assessment{
			CD:             ComplexityScore{Description: "awaiting first observation"},
			Interpretation: InterpretationWaiting,
		},
	}
}

// Personalize returns a copy of the snapshot with prediction errors and
// rankings restricted to one agent, using filler values when the agent has
// no entry yet.
func (s *Snapshot) Personalize(agentID AgentID) *Snapshot {
	view := *s

	errEntry, ok := s.PredictionErrors[agentID]
	if !ok {
		errEntry = NoPriorPrediction()
	}
	view.PredictionErrors = map[AgentID]PredictionError{agentID: errEntry}

	view.AgentRankings = map[AgentID]AgentRanking{}
	if ranking, ok := s.AgentRankings[agentID]; ok {
		view.AgentRankings[agentID] = ranking
	}

	return &view
}
