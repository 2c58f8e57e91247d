package core

import (
	"time"

	"github.com/google/uuid"
)

// EventType classifies the progress facts recorded for a run.
type EventType string

const (
	// EventRunStarted marks the creation of a run.
	EventRunStarted EventType = "run.started"
	// EventRunPaused marks a pause taking effect at a phase boundary.
	EventRunPaused EventType = "run.paused"
	// EventRunResumed marks continuation after a pause or interruption.
	EventRunResumed EventType = "run.resumed"
	// EventRunInterrupted marks a run found mid-flight after a process restart.
	EventRunInterrupted EventType = "run.interrupted"
	// EventRunCancelled marks final, unresumable termination by request.
	EventRunCancelled EventType = "run.cancelled"
	// EventRunCompleted marks successful completion of all phases.
	EventRunCompleted EventType = "run.completed"
	// EventRunErrored marks unrecoverable failure.
	EventRunErrored EventType = "run.errored"

	// EventPhaseStarted marks the beginning of one phase's execution.
	EventPhaseStarted EventType = "phase.started"
	// EventPhaseCompleted carries a phase's canonical validated content.
	EventPhaseCompleted EventType = "phase.completed"
	// EventPhaseFailed surfaces a typed validation failure for a phase. The
	// run continues when fallback content exists; the event is diagnostic.
	EventPhaseFailed EventType = "phase.failed"

	// EventAgentPartial carries an incremental content fragment emitted by a
	// generator before its final result.
	EventAgentPartial EventType = "agent.partial"

	// EventSceneDrafted carries one drafted scene keyed by scene number.
	EventSceneDrafted EventType = "scene.drafted"
	// EventScenePolished carries one polished scene keyed by scene number.
	EventScenePolished EventType = "scene.polished"
)

// Event is an immutable, timestamped, typed fact about a run's progress.
// Events are append-only and ordered per run (Seq is assigned by the event
// log on append); they are the sole channel through which observers learn
// about in-flight state. Replaying all events of a run in order must
// deterministically reconstruct the same logical state the run state machine
// holds.
type Event struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Seq       int64     `json:"seq"`
	Type      EventType `json:"type"`
	Phase     Phase     `json:"phase,omitempty"`
	Scene     *int      `json:"scene,omitempty"`
	Content   string    `json:"content,omitempty"`
	Message   string    `json:"message,omitempty"`
	Carried   bool      `json:"carried,omitempty"`
	Warnings  []string  `json:"warnings,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent creates a bare event for a run. Seq stays zero until the event
// log assigns it on append.
func NewEvent(runID string, t EventType) Event {
	return Event{
		ID:        NewID(),
		RunID:     runID,
		Type:      t,
		Timestamp: time.Now().UTC(),
	}
}

// NewRunEvent creates a lifecycle event with a human-readable message.
func NewRunEvent(runID string, t EventType, message string) Event {
	e := NewEvent(runID, t)
	e.Message = message
	return e
}

// NewPhaseStartedEvent marks the start of a phase.
func NewPhaseStartedEvent(runID string, phase Phase) Event {
	e := NewEvent(runID, EventPhaseStarted)
	e.Phase = phase
	return e
}

// NewPhaseCompletedEvent records a phase's canonical content. carried marks
// content frozen from a prior run rather than freshly generated.
func NewPhaseCompletedEvent(runID string, phase Phase, content string, warnings []string, carried bool) Event {
	e := NewEvent(runID, EventPhaseCompleted)
	e.Phase = phase
	e.Content = content
	e.Warnings = warnings
	e.Carried = carried
	return e
}

// NewPhaseFailedEvent surfaces a typed per-phase failure to observers.
func NewPhaseFailedEvent(runID string, phase Phase, kind, message string) Event {
	e := NewEvent(runID, EventPhaseFailed)
	e.Phase = phase
	e.ErrorKind = kind
	e.Message = message
	return e
}

// NewSceneEvent records one scene completion keyed by scene number.
func NewSceneEvent(runID string, t EventType, phase Phase, scene int, content string, carried bool) Event {
	e := NewEvent(runID, t)
	e.Phase = phase
	e.Scene = &scene
	e.Content = content
	e.Carried = carried
	return e
}

// NewPartialEvent carries an incremental content fragment from a generator.
func NewPartialEvent(runID string, phase Phase, fragment string) Event {
	e := NewEvent(runID, EventAgentPartial)
	e.Phase = phase
	e.Content = fragment
	return e
}

// NewID generates a unique identifier for runs and events.
func NewID() string { return uuid.NewString() }

// IsTerminal reports whether the event marks a terminal run condition.
func (e Event) IsTerminal() bool {
	switch e.Type {
	case EventRunCompleted, EventRunCancelled, EventRunErrored:
		return true
	}
	return false
}

// IsSceneCompletion reports whether the event is a scene-keyed completion.
func (e Event) IsSceneCompletion() bool {
	return e.Type == EventSceneDrafted || e.Type == EventScenePolished
}

// HasContent reports whether the event carries generator content.
func (e Event) HasContent() bool { return e.Content != "" }
