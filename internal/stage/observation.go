package stage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/canvaslab/emergence/internal/core"
	"github.com/canvaslab/emergence/internal/jsonx"
	"github.com/canvaslab/emergence/internal/logging"
	"github.com/canvaslab/emergence/internal/service"
)

// gridSpanThreshold is the agent count above which the rendered position
// list gains an explicit grid-span summary, keeping large canvases legible
// to the collaborator.
const gridSpanThreshold = 25

// ObservationInput is everything Stage-A needs for one attempt.
type ObservationInput struct {
	ImageB64    string
	AgentsCount int
	Positions   map[core.AgentID]core.Position
}

// ObservationResult is the validated Stage-A output.
type ObservationResult struct {
	Structures []core.Structure
	CD         core.ComplexityScore
	Reasoning  string
}

// ObservationClient runs the Stage-A measurement pass.
type ObservationClient struct {
	gen       core.TextGenerator
	templates *Templates
	retry     *service.RetryPolicy
	log       *logging.Logger
}

// NewObservationClient creates a Stage-A client.
func NewObservationClient(gen core.TextGenerator, templates *Templates, retry *service.RetryPolicy, log *logging.Logger) *ObservationClient {
	return &ObservationClient{
		gen:       gen,
		templates: templates,
		retry:     retry,
		log:       log.WithStage("observation"),
	}
}

// Run executes Stage-A under the retry policy. Parse failures and
// structure-ownership collisions invalidate the whole attempt and retry;
// exhaustion surfaces as a RetryExhaustedError for the caller's fallback.
func (c *ObservationClient) Run(ctx context.Context, in ObservationInput) (*ObservationResult, error) {
	prompt, err := c.templates.Render("observation", map[string]string{
		"agents_count":    fmt.Sprintf("%d", in.AgentsCount),
		"agent_positions": renderPositions(in.Positions),
	})
	if err != nil {
		return nil, err
	}

	var result *ObservationResult
	err = c.retry.ExecuteWithNotify(ctx, func(ctx context.Context) error {
		r, err := c.attempt(ctx, prompt, in.ImageB64)
		if err != nil {
			return err
		}
		result = r
		return nil
	}, func(attempt int, err error, delay time.Duration) {
		c.log.Warn("observation attempt failed", "attempt", attempt, "retry_in", delay.String(), "error", err)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *ObservationClient) attempt(ctx context.Context, prompt, imageB64 string) (*ObservationResult, error) {
	reply, err := c.gen.Generate(ctx, core.GenerateRequest{Prompt: prompt, ImageB64: imageB64})
	if err != nil {
		return nil, err
	}

	decoded, repair, ok := jsonx.Decode(reply.Text)
	if !ok {
		return nil, core.ErrParse("observation reply contains no JSON object")
	}
	if repair != jsonx.RepairNone {
		c.log.Debug("observation reply repaired", "repair", string(repair))
	}

	cd, ok := extractScore(decoded, "C_d_current")
	if !ok {
		return nil, core.ErrIntegrity(core.CodeMissingAssessment, "observation reply lacks C_d assessment")
	}

	structures := extractStructures(decoded)
	if valid, collisions := ValidateStructures(structures); !valid {
		c.log.Warn("observation structures overlap", "collisions", strings.Join(collisions, "; "))
		return nil, core.ErrIntegrity(core.CodeStructureOverlap,
			fmt.Sprintf("%d position collisions across structures", len(collisions)))
	}

	c.log.Info("observation complete",
		"structures", len(structures),
		"c_d", cd.Value,
		"output_tokens", reply.OutputTokens)

	return &ObservationResult{
		Structures: structures,
		CD:         cd,
		Reasoning:  getString(decoded, "reasoning"),
	}, nil
}

// renderPositions formats positions row-major (by y, then x). Once the
// agent count reaches gridSpanThreshold a span summary line is appended.
func renderPositions(positions map[core.AgentID]core.Position) string {
	if len(positions) == 0 {
		return "no agent positions available"
	}

	sorted := make([]core.Position, 0, len(positions))
	for _, p := range positions {
		sorted = append(sorted, p)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Y() != sorted[j].Y() {
			return sorted[i].Y() < sorted[j].Y()
		}
		return sorted[i].X() < sorted[j].X()
	})

	parts := make([]string, len(sorted))
	minX, maxX := sorted[0].X(), sorted[0].X()
	minY, maxY := sorted[0].Y(), sorted[0].Y()
	for i, p := range sorted {
		parts[i] = fmt.Sprintf("[%d,%d]", p.X(), p.Y())
		minX, maxX = min(minX, p.X()), max(maxX, p.X())
		minY, maxY = min(minY, p.Y()), max(maxY, p.Y())
	}

	rendered := strings.Join(parts, ", ")
	if len(sorted) >= gridSpanThreshold {
		rendered += fmt.Sprintf("\nGRID SPAN: X=[%d to %d], Y=[%d to %d]. [0,0] is CENTER.",
			minX, maxX, minY, maxY)
	}
	return rendered
}
