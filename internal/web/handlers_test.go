package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvaslab/emergence/internal/core"
	"github.com/canvaslab/emergence/internal/events"
	"github.com/canvaslab/emergence/internal/logging"
	"github.com/canvaslab/emergence/internal/orchestrator"
	"github.com/canvaslab/emergence/internal/session"
	"github.com/canvaslab/emergence/internal/store"
)

type stubSource struct {
	snapshot *core.Snapshot
	phase    orchestrator.Phase
}

func (s *stubSource) Latest() *core.Snapshot    { return s.snapshot }
func (s *stubSource) Phase() orchestrator.Phase { return s.phase }

type webFixture struct {
	server        *Server
	contributions *store.ContributionStore
	canvas        *store.CanvasState
	source        *stubSource
	recorder      *session.Recorder
	bus           *events.EventBus
}

func newWebFixture(t *testing.T) *webFixture {
	t.Helper()
	log := logging.NewNop()
	contributions := store.NewContributionStore(log)
	canvas := store.NewCanvasState()
	source := &stubSource{phase: orchestrator.PhaseColdStart}
	recorder := session.NewRecorder(log)
	bus := events.New(16)
	t.Cleanup(bus.Close)

	api := NewAPI(contributions, canvas, source, recorder, bus, "", log)
	server := New(DefaultConfig(), api, bus, log)

	return &webFixture{
		server:        server,
		contributions: contributions,
		canvas:        canvas,
		source:        source,
		recorder:      recorder,
		bus:           bus,
	}
}

func (f *webFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	f := newWebFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, string(orchestrator.PhaseColdStart), body["phase"])
}

func TestSetImage(t *testing.T) {
	f := newWebFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/canvas/image",
		`{"image_base64": "data:image/png;base64,aVZCT1J3", "agents_count": 3}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "aVZCT1J3", f.canvas.Image(), "data-URL prefix stripped")
	assert.Equal(t, 3, f.canvas.AgentsCount())
}

func TestSetImage_Validation(t *testing.T) {
	f := newWebFixture(t)

	tests := []struct {
		name string
		body string
		code string
	}{
		{"missing image", `{}`, core.CodeInvalidImage},
		{"invalid base64", `{"image_base64": "%%% not base64 %%%"}`, core.CodeInvalidImage},
		{"malformed json", `{`, core.CodeParseFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/v1/canvas/image", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, false, body["ok"])
			assert.NotEmpty(t, body["error"])
			assert.Equal(t, tt.code, body["code"])
		})
	}
}

func TestSetAgents(t *testing.T) {
	f := newWebFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/canvas/agents", `{"count": 5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, f.canvas.AgentsCount())

	rec = f.do(t, http.MethodPost, "/api/v1/canvas/agents", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, core.CodeMissingCount, body["code"])
}

func TestReportContribution(t *testing.T) {
	f := newWebFixture(t)
	received := f.bus.Subscribe(events.TypeContributionReceived)

	rec := f.do(t, http.MethodPost, "/api/v1/contributions", `{
		"agent_id": "a1",
		"position": [2, 3],
		"iteration": 4,
		"strategy": "spiral",
		"predictions": {"self": "extend arm"}
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	stored, ok := f.contributions.Get("a1")
	require.True(t, ok)
	assert.Equal(t, core.Position{2, 3}, stored.Position)
	assert.Equal(t, 4, stored.Iteration)

	ev := <-received
	assert.Equal(t, core.AgentID("a1"), ev.(events.ContributionReceived).AgentID)
	assert.Equal(t, 1, f.recorder.Summary().AgentActions["a1"])
}

func TestReportContribution_RequiresAgentID(t *testing.T) {
	f := newWebFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/contributions", `{"iteration": 1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, core.CodeMissingAgentID, body["code"])
}

func TestReportContribution_HeartbeatSkipsEvents(t *testing.T) {
	f := newWebFixture(t)
	received := f.bus.Subscribe(events.TypeContributionReceived)

	rec := f.do(t, http.MethodPost, "/api/v1/contributions",
		`{"agent_id": "a1", "is_heartbeat": true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case <-received:
		t.Fatal("heartbeat must not emit a contribution event")
	default:
	}
	assert.Empty(t, f.recorder.Summary().AgentActions)
}

func TestGetSnapshot_PlaceholderBeforeFirstCycle(t *testing.T) {
	f := newWebFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/snapshot", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap core.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.True(t, snap.Pending)
	assert.Zero(t, snap.Version)
}

func TestGetSnapshot_Personalized(t *testing.T) {
	f := newWebFixture(t)
	f.source.snapshot = &core.Snapshot{
		Version: 3,
		PredictionErrors: map[core.AgentID]core.PredictionError{
			"a1": {Error: 0.4, Explanation: "off"},
			"a2": {Error: 0.1, Explanation: "close"},
		},
		AgentRankings: map[core.AgentID]core.AgentRanking{
			"a1": {Rank: 2}, "a2": {Rank: 1},
		},
	}

	rec := f.do(t, http.MethodGet, "/api/v1/snapshot?agent_id=a1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap core.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 3, snap.Version)
	require.Len(t, snap.PredictionErrors, 1)
	assert.Equal(t, 0.4, snap.PredictionErrors["a1"].Error)
}

func TestSessionLifecycle(t *testing.T) {
	f := newWebFixture(t)
	f.recorder.RecordSnapshot(&core.Snapshot{Version: 1})

	rec := f.do(t, http.MethodGet, "/api/v1/session/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var summary session.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary.CyclesRecorded)

	rec = f.do(t, http.MethodDelete, "/api/v1/session", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, f.recorder.Summary().CyclesRecorded)
}

func TestSessionExport(t *testing.T) {
	f := newWebFixture(t)
	f.recorder.RecordSnapshot(&core.Snapshot{Version: 1})

	path := t.TempDir() + "/export.json"
	rec := f.do(t, http.MethodPost, "/api/v1/session/export", `{"path": "`+path+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.FileExists(t, path)
}
