package eventlog

import "github.com/storyloom/storyloom/core"

// RunView is derived run state folded incrementally from the event log.
// Each new event updates the view in place instead of re-scanning the full
// history, while the result stays a pure function of the log: folding the
// same events in order always yields the same view. Apply is idempotent
// under re-delivery, so reconnect-and-replay observers can feed every event
// they receive without duplicate effects.
type RunView struct {
	RunID        string
	Status       core.Status
	CurrentPhase core.Phase
	Completed    []core.Phase
	Scenes       map[int]string
	Warnings     []string
	Message      string
	LastSeq      int64
}

// NewRunView creates an empty view for a run.
func NewRunView(runID string) *RunView {
	return &RunView{RunID: runID, Status: core.StatusPending, Scenes: map[int]string{}}
}

// Apply folds one event into the view. Events at or below the high-water
// sequence number are skipped; the return reports whether the event was new.
func (v *RunView) Apply(ev core.Event) bool {
	if ev.RunID != v.RunID || ev.Seq <= v.LastSeq {
		return false
	}
	v.LastSeq = ev.Seq

	switch ev.Type {
	case core.EventRunStarted, core.EventRunResumed:
		v.Status = core.StatusGenerating
	case core.EventRunPaused:
		v.Status = core.StatusPaused
	case core.EventRunInterrupted:
		v.Status = core.StatusInterrupted
	case core.EventRunCancelled:
		v.Status = core.StatusCancelled
	case core.EventRunCompleted:
		v.Status = core.StatusCompleted
		v.Message = ev.Message
	case core.EventRunErrored:
		v.Status = core.StatusErrored
		v.Message = ev.Message
	case core.EventPhaseStarted:
		v.CurrentPhase = ev.Phase
	case core.EventPhaseCompleted:
		if !v.hasCompleted(ev.Phase) {
			v.Completed = append(v.Completed, ev.Phase)
		}
		v.Warnings = append(v.Warnings, ev.Warnings...)
	case core.EventPhaseFailed:
		v.Warnings = append(v.Warnings, ev.ErrorKind)
	case core.EventSceneDrafted, core.EventScenePolished:
		key := 0
		if ev.Scene != nil {
			key = *ev.Scene
		}
		v.Scenes[key] = ev.Content
	}
	return true
}

// LastCompletedPhase returns the most recently completed phase.
func (v *RunView) LastCompletedPhase() (core.Phase, bool) {
	if len(v.Completed) == 0 {
		return "", false
	}
	return v.Completed[len(v.Completed)-1], true
}

func (v *RunView) hasCompleted(p core.Phase) bool {
	for _, c := range v.Completed {
		if c == p {
			return true
		}
	}
	return false
}

// Fold builds a view from an already-replayed slice of events.
func Fold(runID string, events []core.Event) *RunView {
	v := NewRunView(runID)
	for _, ev := range events {
		v.Apply(ev)
	}
	return v
}
