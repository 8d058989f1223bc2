package stage

import (
	"github.com/canvaslab/emergence/internal/core"
)

// Helpers for pulling typed values out of jsonx-decoded maps. Collaborator
// output is only loosely schema-shaped; absence is normal, wrong types are
// treated as absence.

func getMap(m map[string]any, key string) map[string]any {
	v, ok := m[key].(map[string]any)
	if !ok {
		return nil
	}
	return v
}

func getString(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func getFloat(m map[string]any, key string) (float64, bool) {
	v, ok := m[key].(float64)
	return v, ok
}

// extractScore reads simplicity_assessment.<key>.{value,description}.
func extractScore(result map[string]any, key string) (core.ComplexityScore, bool) {
	assessment := getMap(result, "simplicity_assessment")
	if assessment == nil {
		return core.ComplexityScore{}, false
	}
	entry := getMap(assessment, key)
	if entry == nil {
		return core.ComplexityScore{}, false
	}
	value, ok := getFloat(entry, "value")
	if !ok {
		return core.ComplexityScore{}, false
	}
	return core.ComplexityScore{
		Value:       value,
		Description: getString(entry, "description"),
	}, true
}

// extractStructures converts the loose structures list into typed values.
// Entries without a well-formed agent_positions list contribute no
// positions but are kept (names still matter to narration).
func extractStructures(result map[string]any) []core.Structure {
	raw, ok := result["structures"].([]any)
	if !ok {
		return []core.Structure{}
	}

	out := make([]core.Structure, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		s := core.Structure{
			Name:        getString(m, "name"),
			Description: getString(m, "description"),
		}
		if positions, ok := m["agent_positions"].([]any); ok {
			for _, p := range positions {
				if pos, ok := toPosition(p); ok {
					s.AgentPositions = append(s.AgentPositions, pos)
				}
			}
		}
		out = append(out, s)
	}
	return out
}

func toPosition(v any) (core.Position, bool) {
	pair, ok := v.([]any)
	if !ok || len(pair) != 2 {
		return core.Position{}, false
	}
	x, okX := pair[0].(float64)
	y, okY := pair[1].(float64)
	if !okX || !okY {
		return core.Position{}, false
	}
	return core.Position{int(x), int(y)}, true
}
