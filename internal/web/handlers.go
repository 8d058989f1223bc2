package web

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/canvaslab/emergence/internal/core"
	"github.com/canvaslab/emergence/internal/events"
	"github.com/canvaslab/emergence/internal/logging"
	"github.com/canvaslab/emergence/internal/orchestrator"
	"github.com/canvaslab/emergence/internal/session"
	"github.com/canvaslab/emergence/internal/store"
)

// SnapshotSource is the read side of the analysis loop.
type SnapshotSource interface {
	Latest() *core.Snapshot
	Phase() orchestrator.Phase
}

// API implements the HTTP handlers. Ingestion endpoints only touch the
// thread-safe stores and never block on the analysis loop.
type API struct {
	contributions *store.ContributionStore
	canvas        *store.CanvasState
	snapshots     SnapshotSource
	recorder      *session.Recorder
	bus           *events.EventBus
	log           *logging.Logger
	exportPath    string
	now           func() time.Time
}

// NewAPI wires the handler set.
func NewAPI(
	contributions *store.ContributionStore,
	canvas *store.CanvasState,
	snapshots SnapshotSource,
	recorder *session.Recorder,
	bus *events.EventBus,
	exportPath string,
	log *logging.Logger,
) *API {
	if exportPath == "" {
		exportPath = "session-export.json"
	}
	return &API{
		contributions: contributions,
		canvas:        canvas,
		snapshots:     snapshots,
		recorder:      recorder,
		bus:           bus,
		log:           log,
		exportPath:    exportPath,
		now:           time.Now,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func writeValidationError(w http.ResponseWriter, err *core.DomainError) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"ok":    false,
		"error": err.Message,
		"code":  err.Code,
	})
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"phase":  a.snapshots.Phase(),
		"agents": a.contributions.Len(),
	})
}

type setImageRequest struct {
	ImageBase64 string `json:"image_base64"`
	AgentsCount *int   `json:"agents_count,omitempty"`
}

func (a *API) handleSetImage(w http.ResponseWriter, r *http.Request) {
	var req setImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, core.ErrParse("malformed JSON body"))
		return
	}
	if req.ImageBase64 == "" {
		writeValidationError(w, core.ErrValidation(core.CodeInvalidImage, "image_base64 is required"))
		return
	}

	payload := strings.TrimPrefix(req.ImageBase64, "data:image/png;base64,")
	if _, err := base64.StdEncoding.DecodeString(payload); err != nil {
		writeValidationError(w, core.ErrValidation(core.CodeInvalidImage, "image_base64 is not valid base64"))
		return
	}

	a.canvas.SetImage(payload)
	if req.AgentsCount != nil {
		a.canvas.SetAgentsCount(*req.AgentsCount)
	}
	writeOK(w)
}

func (a *API) handleGetImage(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"image_base64": a.canvas.Image(),
		"agents_count": a.canvas.AgentsCount(),
		"updated_at":   a.canvas.LastUpdate(),
	})
}

type setAgentsRequest struct {
	Count *int `json:"count"`
}

func (a *API) handleSetAgents(w http.ResponseWriter, r *http.Request) {
	var req setAgentsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, core.ErrParse("malformed JSON body"))
		return
	}
	if req.Count == nil {
		writeValidationError(w, core.ErrValidation(core.CodeMissingCount, "count is required"))
		return
	}

	a.canvas.SetAgentsCount(*req.Count)
	writeOK(w)
}

type contributionRequest struct {
	AgentID     string            `json:"agent_id"`
	Position    core.Position     `json:"position"`
	Iteration   int               `json:"iteration"`
	Strategy    string            `json:"strategy"`
	Rationale   string            `json:"rationale"`
	Predictions map[string]string `json:"predictions"`
	Pixels      json.RawMessage   `json:"pixels,omitempty"`
	Heartbeat   bool              `json:"is_heartbeat,omitempty"`
}

// handleReportContribution ingests one agent report. Beyond agent_id
// presence there is no validation; ingestion is fire-and-forget by
// design and failures surface in logs only.
func (a *API) handleReportContribution(w http.ResponseWriter, r *http.Request) {
	var req contributionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, core.ErrParse("malformed JSON body"))
		return
	}
	if req.AgentID == "" {
		writeValidationError(w, core.ErrValidation(core.CodeMissingAgentID, "agent_id is required"))
		return
	}

	id := core.AgentID(req.AgentID)
	a.contributions.Update(id, &core.Contribution{
		Position:    req.Position,
		Iteration:   req.Iteration,
		Strategy:    req.Strategy,
		Rationale:   req.Rationale,
		Predictions: req.Predictions,
		Pixels:      req.Pixels,
		Heartbeat:   req.Heartbeat,
	})

	if !req.Heartbeat {
		if a.recorder != nil {
			a.recorder.RecordAction(id)
		}
		if a.bus != nil {
			a.bus.Publish(events.NewContributionReceived(id, req.Iteration))
		}
	}

	writeOK(w)
}

func (a *API) handleDumpContributions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  a.contributions.Len(),
		"agents": a.contributions.All(),
	})
}

// handleGetSnapshot serves the latest snapshot, personalized when
// agent_id is given. Before any completed cycle it serves a well-formed
// pending placeholder instead of an error.
func (a *API) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot := a.snapshots.Latest()
	if snapshot == nil {
		snapshot = core.PlaceholderSnapshot(a.now())
	}

	if agentID := r.URL.Query().Get("agent_id"); agentID != "" {
		snapshot = snapshot.Personalize(core.AgentID(agentID))
	}

	writeJSON(w, http.StatusOK, snapshot)
}

func (a *API) handleSessionSummary(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.recorder.Summary())
}

type exportRequest struct {
	Path string `json:"path,omitempty"`
}

func (a *API) handleSessionExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	path := req.Path
	if path == "" {
		path = a.exportPath
	}

	if err := a.recorder.Export(path); err != nil {
		a.log.Error("session export failed", "path", path, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "export failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "path": path})
}

func (a *API) handleSessionClear(w http.ResponseWriter, _ *http.Request) {
	a.recorder.Clear()
	writeOK(w)
}
