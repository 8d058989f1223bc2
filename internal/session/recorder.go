// Package session keeps a bounded in-memory record of what the engine did
// while running: one entry per published snapshot plus per-agent action
// counts, exportable as JSON for later inspection.
package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"

	"github.com/canvaslab/emergence/internal/core"
	"github.com/canvaslab/emergence/internal/logging"
)

// DefaultHistoryLimit bounds the per-cycle history.
const DefaultHistoryLimit = 500

// CycleRecord is the retained summary of one published snapshot.
type CycleRecord struct {
	Version        int                      `json:"version"`
	Timestamp      time.Time                `json:"timestamp"`
	Pending        bool                     `json:"pending,omitempty"`
	CD             float64                  `json:"c_d"`
	CW             float64                  `json:"c_w"`
	U              float64                  `json:"u"`
	Interpretation core.Interpretation      `json:"interpretation"`
	AgentsCount    int                      `json:"agents_count"`
	AgentErrors    map[core.AgentID]float64 `json:"agent_errors,omitempty"`
}

// Summary is the queryable view of the running session.
type Summary struct {
	SessionID      string               `json:"session_id"`
	StartedAt      time.Time            `json:"started_at"`
	CyclesRecorded int                  `json:"cycles_recorded"`
	LastVersion    int                  `json:"last_version"`
	AgentActions   map[core.AgentID]int `json:"agent_actions"`
	LatestCycles   []CycleRecord        `json:"latest_cycles"`
}

// export is the full on-disk shape.
type export struct {
	Summary
	Cycles []CycleRecord `json:"cycles"`
}

// Recorder accumulates session history. Safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	id      string
	started time.Time
	limit   int
	cycles  []CycleRecord
	actions map[core.AgentID]int
	log     *logging.Logger
	now     func() time.Time
}

// Option customizes a Recorder.
type Option func(*Recorder)

// WithHistoryLimit overrides the per-cycle history bound.
func WithHistoryLimit(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.limit = n
		}
	}
}

// WithClock injects a time source.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder starts a fresh session.
func NewRecorder(log *logging.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		limit:   DefaultHistoryLimit,
		actions: make(map[core.AgentID]int),
		log:     log,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.id = uuid.NewString()
	r.started = r.now()
	return r
}

// RecordSnapshot appends one cycle entry, evicting the oldest beyond the
// history limit.
func (r *Recorder) RecordSnapshot(s *core.Snapshot) {
	rec := CycleRecord{
		Version:        s.Version,
		Timestamp:      s.Timestamp,
		Pending:        s.Pending,
		CD:             s.Assessment.CD.Value,
		CW:             s.Assessment.CW.Value,
		U:              s.Assessment.U,
		Interpretation: s.Assessment.Interpretation,
		AgentsCount:    s.AgentsCount,
	}
	if len(s.PredictionErrors) > 0 {
		rec.AgentErrors = make(map[core.AgentID]float64, len(s.PredictionErrors))
		for id, pe := range s.PredictionErrors {
			rec.AgentErrors[id] = pe.Error
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cycles = append(r.cycles, rec)
	if len(r.cycles) > r.limit {
		r.cycles = r.cycles[len(r.cycles)-r.limit:]
	}
}

// RecordAction counts one non-heartbeat agent contribution.
func (r *Recorder) RecordAction(id core.AgentID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[id]++
}

// Summary returns the session overview with the most recent cycles
// (newest last, at most ten).
func (r *Recorder) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summaryLocked()
}

func (r *Recorder) summaryLocked() Summary {
	s := Summary{
		SessionID:      r.id,
		StartedAt:      r.started,
		CyclesRecorded: len(r.cycles),
		AgentActions:   make(map[core.AgentID]int, len(r.actions)),
	}
	for id, n := range r.actions {
		s.AgentActions[id] = n
	}
	if n := len(r.cycles); n > 0 {
		s.LastVersion = r.cycles[n-1].Version
		tail := 10
		if n < tail {
			tail = n
		}
		s.LatestCycles = append([]CycleRecord(nil), r.cycles[n-tail:]...)
	}
	return s
}

// Export writes the full session as indented JSON, atomically: readers
// never observe a partially written file.
func (r *Recorder) Export(path string) error {
	r.mu.Lock()
	out := export{
		Summary: r.summaryLocked(),
		Cycles:  append([]CycleRecord(nil), r.cycles...),
	}
	r.mu.Unlock()

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	r.log.Info("session exported", "path", path, "cycles", len(out.Cycles))
	return nil
}

// Clear discards everything and starts a new session id.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.id = uuid.NewString()
	r.started = r.now()
	r.cycles = nil
	r.actions = make(map[core.AgentID]int)
}
