package core

import "time"

// Status is the lifecycle state of a run.
type Status string

const (
	// StatusPending marks a run created but not yet executing.
	StatusPending Status = "pending"
	// StatusGenerating marks a run actively executing phases.
	StatusGenerating Status = "generating"
	// StatusPaused marks a run stopped at a phase boundary, resumable.
	StatusPaused Status = "paused"
	// StatusInterrupted marks a run found mid-flight after a process
	// restart. Inferred, never requested; resumable via an explicit call.
	StatusInterrupted Status = "interrupted"
	// StatusCancelled marks final termination by request. Not resumable.
	StatusCancelled Status = "cancelled"
	// StatusCompleted marks successful completion of all phases.
	StatusCompleted Status = "completed"
	// StatusErrored marks unrecoverable failure. The error and last known
	// good phase are preserved for diagnosis and possible resume.
	StatusErrored Status = "errored"
)

// Terminal reports whether the status admits no further transitions except,
// for errored runs with a checkpoint, an explicit resume.
func (s Status) Terminal() bool {
	switch s {
	case StatusCancelled, StatusCompleted, StatusErrored:
		return true
	}
	return false
}

// EditRecord is a user-supplied replacement for a phase's generated content
// together with the mandatory free-text explanation behind it.
type EditRecord struct {
	Content string `json:"content"`
	Comment string `json:"comment"`
}

// PhaseOutput is the validated result of one phase within a run. Content is
// always a JSON document in the phase's canonical shape; Raw preserves the
// original generator text when decoding needed a fallback. Outputs are
// retained for the life of the run so later regenerations can carry locked
// content forward verbatim.
type PhaseOutput struct {
	RunID    string      `json:"run_id"`
	Phase    Phase       `json:"phase"`
	Content  string      `json:"content"`
	Raw      string      `json:"raw,omitempty"`
	Warnings []string    `json:"warnings,omitempty"`
	Carried  bool        `json:"carried,omitempty"`
	Locked   bool        `json:"locked,omitempty"`
	Edit     *EditRecord `json:"edit,omitempty"`
	Updated  time.Time   `json:"updated"`
}

// Seed holds the parameters a run is created from. For regenerated runs it
// carries frozen content for locked and upstream phases, the authoritative
// user edit, and the guidance comment passed to every regenerated phase.
type Seed struct {
	Premise string           `json:"premise"`
	Frozen  map[Phase]string `json:"frozen,omitempty"`
	// FrozenScenes keeps non-selected scene text per phase, so a carried
	// scene preserves both its drafted and its polished version.
	FrozenScenes map[Phase]map[int]string `json:"frozen_scenes,omitempty"`
	Edits        map[Phase]EditRecord     `json:"edits,omitempty"`
	Guidance     string                   `json:"guidance,omitempty"`
	Scenes       []int                    `json:"scenes,omitempty"`
}

// RegenerationRequest is a user-issued edit: the edited phase, its
// replacement content, a mandatory explanation, the set of phases whose
// content is frozen, and an optional subset of scene numbers to regenerate
// instead of the whole downstream set.
type RegenerationRequest struct {
	Phase   Phase   `json:"phase"`
	Content string  `json:"content"`
	Comment string  `json:"comment"`
	Locked  []Phase `json:"locked,omitempty"`
	Scenes  []int   `json:"scenes,omitempty"`
}

// Run is one end-to-end execution attempt of the pipeline. It is mutated
// only by the run state machine; its record persists after termination so a
// later resume or regeneration can reconstruct it.
type Run struct {
	ID           string                 `json:"id"`
	ParentID     string                 `json:"parent_id,omitempty"`
	Status       Status                 `json:"status"`
	CurrentPhase Phase                  `json:"current_phase,omitempty"`
	Phases       []Phase                `json:"phases"`
	Completed    []Phase                `json:"completed"`
	Outputs      map[Phase]*PhaseOutput `json:"outputs"`
	Seed         Seed                   `json:"seed"`
	Error        string                 `json:"error,omitempty"`
	Created      time.Time              `json:"created"`
	Updated      time.Time              `json:"updated"`
}

// NewRun creates a pending run for the given seed. An empty phase list
// defaults to the canonical order.
func NewRun(seed Seed, phases []Phase) *Run {
	if len(phases) == 0 {
		phases = CanonicalOrder()
	}
	now := time.Now().UTC()
	return &Run{
		ID:      NewID(),
		Status:  StatusPending,
		Phases:  phases,
		Outputs: map[Phase]*PhaseOutput{},
		Seed:    seed,
		Created: now,
		Updated: now,
	}
}

// HasCompleted reports whether the phase already finished in this run.
func (r *Run) HasCompleted(p Phase) bool {
	for _, c := range r.Completed {
		if c == p {
			return true
		}
	}
	return false
}

// LastCompletedPhase returns the most recently completed phase. The second
// return is false when no phase has completed yet.
func (r *Run) LastCompletedPhase() (Phase, bool) {
	if len(r.Completed) == 0 {
		return "", false
	}
	return r.Completed[len(r.Completed)-1], true
}

// ResumeFrom computes the phase execution restarts from: the first phase in
// the run's order that has not completed, or the first phase when nothing
// has. Derived purely from durable data so it survives process restarts.
func (r *Run) ResumeFrom() Phase {
	for _, p := range r.Phases {
		if !r.HasCompleted(p) {
			return p
		}
	}
	if len(r.Phases) > 0 {
		return r.Phases[len(r.Phases)-1]
	}
	return PhaseGenesis
}

// Resumable reports whether a resume request can legally restart this run:
// it must hold a completed-phase checkpoint or be at the very start, and must
// not have been cancelled or completed.
func (r *Run) Resumable() bool {
	switch r.Status {
	case StatusCancelled, StatusCompleted:
		return false
	case StatusErrored:
		_, ok := r.LastCompletedPhase()
		return ok
	}
	return len(r.Completed) == 0 || len(r.Completed) < len(r.Phases)
}

// RecordOutput stores a phase output and marks the phase completed.
func (r *Run) RecordOutput(out *PhaseOutput) {
	r.Outputs[out.Phase] = out
	if !r.HasCompleted(out.Phase) {
		r.Completed = append(r.Completed, out.Phase)
	}
	r.Updated = time.Now().UTC()
}

// Clone returns a deep copy safe for independent mutation.
func (r *Run) Clone() *Run {
	clone := *r
	clone.Phases = append([]Phase(nil), r.Phases...)
	clone.Completed = append([]Phase(nil), r.Completed...)
	clone.Outputs = make(map[Phase]*PhaseOutput, len(r.Outputs))
	for p, out := range r.Outputs {
		o := *out
		o.Warnings = append([]string(nil), out.Warnings...)
		if out.Edit != nil {
			e := *out.Edit
			o.Edit = &e
		}
		clone.Outputs[p] = &o
	}
	clone.Seed = r.Seed.clone()
	return &clone
}

func (s Seed) clone() Seed {
	c := s
	if s.Frozen != nil {
		c.Frozen = make(map[Phase]string, len(s.Frozen))
		for k, v := range s.Frozen {
			c.Frozen[k] = v
		}
	}
	if s.FrozenScenes != nil {
		c.FrozenScenes = make(map[Phase]map[int]string, len(s.FrozenScenes))
		for p, scenes := range s.FrozenScenes {
			inner := make(map[int]string, len(scenes))
			for k, v := range scenes {
				inner[k] = v
			}
			c.FrozenScenes[p] = inner
		}
	}
	if s.Edits != nil {
		c.Edits = make(map[Phase]EditRecord, len(s.Edits))
		for k, v := range s.Edits {
			c.Edits[k] = v
		}
	}
	c.Scenes = append([]int(nil), s.Scenes...)
	return c
}
