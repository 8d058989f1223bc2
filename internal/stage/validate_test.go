package stage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvaslab/emergence/internal/core"
)

func TestValidateStructures_NoOverlap(t *testing.T) {
	ok, collisions := ValidateStructures([]core.Structure{
		{Name: "line", AgentPositions: []core.Position{{0, 0}, {1, 1}}},
		{Name: "blob", AgentPositions: []core.Position{{2, 2}, {3, 3}}},
	})
	assert.True(t, ok)
	assert.Empty(t, collisions)
}

func TestValidateStructures_SingleCollision(t *testing.T) {
	ok, collisions := ValidateStructures([]core.Structure{
		{AgentPositions: []core.Position{{0, 0}, {1, 1}}},
		{AgentPositions: []core.Position{{1, 1}, {2, 2}}},
	})
	assert.False(t, ok)
	require.Len(t, collisions, 1)
	assert.Contains(t, collisions[0], "[1,1]")
}

func TestValidateStructures_Empty(t *testing.T) {
	ok, collisions := ValidateStructures(nil)
	assert.True(t, ok)
	assert.Empty(t, collisions)
}
