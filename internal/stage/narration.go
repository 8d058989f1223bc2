package stage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/canvaslab/emergence/internal/core"
	"github.com/canvaslab/emergence/internal/jsonx"
	"github.com/canvaslab/emergence/internal/logging"
	"github.com/canvaslab/emergence/internal/service"
)

// rationaleMaxLen bounds free-text agent fields before prompt inclusion to
// control external-call cost.
const rationaleMaxLen = 100

// NarrationInput is everything Stage-B needs for one attempt.
type NarrationInput struct {
	Observation   *ObservationResult
	Contributions map[core.AgentID]*core.Contribution
	Previous      *core.Snapshot
}

// NarrationResult is the backfilled Stage-B output.
type NarrationResult struct {
	Narrative        core.Narrative
	PredictionErrors map[core.AgentID]core.PredictionError
	CW               core.ComplexityScore
	Reasoning        string
}

// NarrationClient runs the Stage-B interpretation pass.
type NarrationClient struct {
	gen       core.TextGenerator
	templates *Templates
	retry     *service.RetryPolicy
	log       *logging.Logger
}

// NewNarrationClient creates a Stage-B client.
func NewNarrationClient(gen core.TextGenerator, templates *Templates, retry *service.RetryPolicy, log *logging.Logger) *NarrationClient {
	return &NarrationClient{
		gen:       gen,
		templates: templates,
		retry:     retry,
		log:       log.WithStage("narration"),
	}
}

// compactAgent is the bounded per-agent view injected into the prompt.
type compactAgent struct {
	AgentID             core.AgentID      `json:"agent_id"`
	Position            core.Position     `json:"position"`
	Iteration           int               `json:"iteration"`
	Strategy            string            `json:"strategy"`
	Rationale           string            `json:"rationale"`
	Predictions         map[string]string `json:"predictions"`
	PreviousPredictions map[string]string `json:"previous_predictions"`
}

// compactPrevious is the continuity slice of the previous snapshot.
type compactPrevious struct {
	Version    int             `json:"version"`
	Narrative  core.Narrative  `json:"narrative"`
	Assessment core.Assessment `json:"simplicity_assessment"`
}

// Run executes Stage-B under the retry policy. Every agent present in the
// input ends up with a prediction-error entry: entries the collaborator
// omitted (or scored non-numerically) are backfilled rather than failing.
func (c *NarrationClient) Run(ctx context.Context, in NarrationInput) (*NarrationResult, error) {
	prompt, err := c.renderPrompt(in)
	if err != nil {
		return nil, err
	}

	var result *NarrationResult
	err = c.retry.ExecuteWithNotify(ctx, func(ctx context.Context) error {
		r, err := c.attempt(ctx, prompt)
		if err != nil {
			return err
		}
		result = r
		return nil
	}, func(attempt int, err error, delay time.Duration) {
		c.log.Warn("narration attempt failed", "attempt", attempt, "retry_in", delay.String(), "error", err)
	})
	if err != nil {
		return nil, err
	}

	backfillMissing(result.PredictionErrors, in.Contributions)
	return result, nil
}

func (c *NarrationClient) renderPrompt(in NarrationInput) (string, error) {
	observation, err := json.Marshal(map[string]any{
		"structures": in.Observation.Structures,
		"c_d":        in.Observation.CD,
		"reasoning":  in.Observation.Reasoning,
	})
	if err != nil {
		return "", err
	}

	agents := make(map[core.AgentID]compactAgent, len(in.Contributions))
	for id, rec := range in.Contributions {
		agents[id] = compactAgent{
			AgentID:             id,
			Position:            rec.Position,
			Iteration:           rec.Iteration,
			Strategy:            rec.Strategy,
			Rationale:           truncate(rec.Rationale, rationaleMaxLen),
			Predictions:         rec.Predictions,
			PreviousPredictions: rec.PreviousPredictions,
		}
	}
	agentsJSON, err := json.Marshal(agents)
	if err != nil {
		return "", err
	}

	previousJSON := []byte("null")
	if in.Previous != nil && !in.Previous.Pending {
		previousJSON, err = json.Marshal(compactPrevious{
			Version:    in.Previous.Version,
			Narrative:  in.Previous.Narrative,
			Assessment: in.Previous.Assessment,
		})
		if err != nil {
			return "", err
		}
	}

	return c.templates.Render("narration", map[string]string{
		"observation":       string(observation),
		"agents_data":       string(agentsJSON),
		"previous_snapshot": string(previousJSON),
	})
}

func (c *NarrationClient) attempt(ctx context.Context, prompt string) (*NarrationResult, error) {
	reply, err := c.gen.Generate(ctx, core.GenerateRequest{Prompt: prompt})
	if err != nil {
		return nil, err
	}

	decoded, repair, ok := jsonx.Decode(reply.Text)
	if !ok {
		return nil, core.ErrParse("narration reply contains no JSON object")
	}
	if repair != jsonx.RepairNone {
		c.log.Debug("narration reply repaired", "repair", string(repair))
	}

	cw, ok := extractScore(decoded, "C_w_current")
	if !ok {
		return nil, core.ErrIntegrity(core.CodeMissingAssessment, "narration reply lacks C_w assessment")
	}

	result := &NarrationResult{
		PredictionErrors: extractPredictionErrors(decoded),
		CW:               cw,
		Reasoning:        getString(decoded, "reasoning"),
	}
	if narrative := getMap(decoded, "narrative"); narrative != nil {
		result.Narrative = core.Narrative{
			Summary: getString(narrative, "summary"),
			Detail:  getString(narrative, "detail"),
		}
	}

	c.log.Info("narration complete",
		"scored_agents", len(result.PredictionErrors),
		"c_w", cw.Value,
		"output_tokens", reply.OutputTokens)

	return result, nil
}

// extractPredictionErrors keeps only entries with a numeric error field.
// Collaborators occasionally score with strings like "N/A"; those agents
// fall through to the backfill.
func extractPredictionErrors(decoded map[string]any) map[core.AgentID]core.PredictionError {
	out := make(map[core.AgentID]core.PredictionError)
	raw := getMap(decoded, "prediction_errors")
	for id, v := range raw {
		entry, ok := v.(map[string]any)
		if !ok {
			continue
		}
		errVal, ok := getFloat(entry, "error")
		if !ok {
			continue
		}
		out[core.AgentID(id)] = core.PredictionError{
			Error:       errVal,
			Explanation: getString(entry, "explanation"),
		}
	}
	return out
}

func backfillMissing(errors map[core.AgentID]core.PredictionError, contributions map[core.AgentID]*core.Contribution) {
	for id := range contributions {
		if _, ok := errors[id]; !ok {
			errors[id] = core.NoPriorPrediction()
		}
	}
}
