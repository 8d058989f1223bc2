package stage

import (
	"fmt"

	"github.com/canvaslab/emergence/internal/core"
)

// ValidateStructures checks that no agent position is claimed by more than
// one structure. Downstream complexity accounting assumes a partition, so
// any collision invalidates the whole observation result.
func ValidateStructures(structures []core.Structure) (bool, []string) {
	claimed := make(map[core.Position]int)
	var collisions []string

	for idx, s := range structures {
		for _, pos := range s.AgentPositions {
			if otherIdx, ok := claimed[pos]; ok {
				collisions = append(collisions,
					fmt.Sprintf("position [%d,%d] in structure %d and %d", pos.X(), pos.Y(), otherIdx, idx))
				continue
			}
			claimed[pos] = idx
		}
	}

	return len(collisions) == 0, collisions
}
