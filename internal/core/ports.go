package core

import "context"

// GenerateRequest is one synchronous request to the external text-generation
// collaborator. ImageB64, when set, is attached as an inline PNG.
type GenerateRequest struct {
	Prompt   string
	ImageB64 string
}

// GenerateResult is the collaborator's raw reply. Text is free-form and is
// expected, not guaranteed, to contain one JSON object.
type GenerateResult struct {
	Text         string
	OutputTokens int
}

// TextGenerator is the engine's sole dependency on an external generative
// collaborator. Implementations must honor ctx and return DomainErrors so
// the retry layer can classify failures.
type TextGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
}

// SnapshotPublisher pushes published snapshots to an external consumer.
// Publish is best-effort and must never block the analysis loop; delivery
// failures are the implementation's problem, not the caller's.
type SnapshotPublisher interface {
	Publish(snapshot *Snapshot)
}

// NopPublisher discards snapshots.
type NopPublisher struct{}

// Publish implements SnapshotPublisher.
func (NopPublisher) Publish(*Snapshot) {}
