package store

import (
	"sync"
	"time"
)

// CanvasState tracks the latest shared canvas image and the declared agent
// count pushed by the canvas server.
type CanvasState struct {
	mu           sync.RWMutex
	imageB64     string
	agentsCount  int
	firstUpdate  time.Time
	lastUpdate   time.Time
	updatesCount int
	now          func() time.Time
}

// CanvasOption customizes a CanvasState.
type CanvasOption func(*CanvasState)

// WithCanvasClock injects a time source.
func WithCanvasClock(now func() time.Time) CanvasOption {
	return func(s *CanvasState) { s.now = now }
}

// NewCanvasState creates an empty canvas state.
func NewCanvasState(opts ...CanvasOption) *CanvasState {
	s := &CanvasState{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetImage stores a new base64-encoded canvas image.
func (s *CanvasState) SetImage(imageB64 string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.imageB64 = imageB64
	if s.firstUpdate.IsZero() {
		s.firstUpdate = now
	}
	s.lastUpdate = now
	s.updatesCount++
}

// SetAgentsCount stores the declared number of connected agents, clamped to
// zero. Like SetImage it counts as a canvas update for staleness purposes.
func (s *CanvasState) SetAgentsCount(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 0 {
		n = 0
	}
	s.agentsCount = n
	now := s.now()
	if s.firstUpdate.IsZero() {
		s.firstUpdate = now
	}
	s.lastUpdate = now
	s.updatesCount++
}

// Image returns the current base64 image, empty if none was ever pushed.
func (s *CanvasState) Image() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.imageB64
}

// AgentsCount returns the declared agent count.
func (s *CanvasState) AgentsCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agentsCount
}

// IsStale reports whether no image has arrived within timeout. A canvas
// that never received an image is stale.
func (s *CanvasState) IsStale(timeout time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastUpdate.IsZero() {
		return true
	}
	return s.now().Sub(s.lastUpdate) > timeout
}

// FirstUpdate returns when the first image arrived, zero if none.
func (s *CanvasState) FirstUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.firstUpdate
}

// LastUpdate returns when the latest image arrived, zero if none.
func (s *CanvasState) LastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}

// UpdatesCount returns how many images have been pushed.
func (s *CanvasState) UpdatesCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatesCount
}

// Clear drops the image and zeroes the agent count. Used when every agent
// is judged disconnected. Update counters survive so uptime stays honest.
func (s *CanvasState) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.imageB64 = ""
	s.agentsCount = 0
}

// Reset restores the state to empty, counters included.
func (s *CanvasState) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.imageB64 = ""
	s.agentsCount = 0
	s.firstUpdate = time.Time{}
	s.lastUpdate = time.Time{}
	s.updatesCount = 0
}
