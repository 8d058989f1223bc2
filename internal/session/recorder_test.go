package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvaslab/emergence/internal/core"
	"github.com/canvaslab/emergence/internal/logging"
)

func snapshotV(version int) *core.Snapshot {
	return &core.Snapshot{
		Version: version,
		Assessment: core.Assessment{
			CD:             core.ComplexityScore{Value: 10},
			CW:             core.ComplexityScore{Value: 16},
			U:              6,
			Interpretation: core.InterpretationModerate,
		},
		PredictionErrors: map[core.AgentID]core.PredictionError{
			"a1": {Error: 0.25},
		},
		AgentsCount: 2,
	}
}

func TestRecorder_SummaryTracksCycles(t *testing.T) {
	r := NewRecorder(logging.NewNop())

	r.RecordSnapshot(snapshotV(1))
	r.RecordSnapshot(snapshotV(2))
	r.RecordAction("a1")
	r.RecordAction("a1")
	r.RecordAction("a2")

	s := r.Summary()
	assert.NotEmpty(t, s.SessionID)
	assert.Equal(t, 2, s.CyclesRecorded)
	assert.Equal(t, 2, s.LastVersion)
	assert.Equal(t, 2, s.AgentActions["a1"])
	assert.Equal(t, 1, s.AgentActions["a2"])
	require.Len(t, s.LatestCycles, 2)
	assert.Equal(t, 0.25, s.LatestCycles[0].AgentErrors["a1"])
}

func TestRecorder_HistoryBounded(t *testing.T) {
	r := NewRecorder(logging.NewNop(), WithHistoryLimit(3))

	for v := 1; v <= 5; v++ {
		r.RecordSnapshot(snapshotV(v))
	}

	s := r.Summary()
	assert.Equal(t, 3, s.CyclesRecorded)
	assert.Equal(t, 5, s.LastVersion)
	assert.Equal(t, 3, s.LatestCycles[0].Version, "oldest entries evicted")
}

func TestRecorder_Export(t *testing.T) {
	r := NewRecorder(logging.NewNop())
	r.RecordSnapshot(snapshotV(1))
	r.RecordAction("a1")

	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, r.Export(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var out struct {
		SessionID string `json:"session_id"`
		Cycles    []struct {
			Version int     `json:"version"`
			U       float64 `json:"u"`
		} `json:"cycles"`
	}
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, r.Summary().SessionID, out.SessionID)
	require.Len(t, out.Cycles, 1)
	assert.Equal(t, 6.0, out.Cycles[0].U)
}

func TestRecorder_ClearStartsNewSession(t *testing.T) {
	r := NewRecorder(logging.NewNop())
	r.RecordSnapshot(snapshotV(1))
	oldID := r.Summary().SessionID

	r.Clear()

	s := r.Summary()
	assert.NotEqual(t, oldID, s.SessionID)
	assert.Zero(t, s.CyclesRecorded)
	assert.Empty(t, s.AgentActions)
}
