package core

import "errors"

// Sentinel errors for caller contract violations and control failures.
// Decode and validation problems are recovered locally wherever a fallback
// exists; only these propagate as user-visible errors.
var (
	// ErrRunNotFound is returned when a run id resolves to no known run.
	ErrRunNotFound = errors.New("run not found")

	// ErrNonResumable is returned when resume is requested on a run with no
	// recoverable checkpoint. The run's state is left unchanged.
	ErrNonResumable = errors.New("run is not resumable")

	// ErrEmptyComment rejects regeneration requests without an explanation.
	// The comment becomes contextual guidance for every regenerated phase,
	// so an empty one must fail before any downstream work is scheduled.
	ErrEmptyComment = errors.New("regeneration comment must not be empty")

	// ErrUnknownPhase rejects a lock or edit referring to a phase outside
	// the canonical order.
	ErrUnknownPhase = errors.New("unknown phase")

	// ErrMissingLockedOutput rejects a lock on a phase that has no prior
	// output to carry forward verbatim.
	ErrMissingLockedOutput = errors.New("locked phase has no prior output")

	// ErrInvalidTransition is returned for control requests that name a
	// state the run cannot legally move to.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrCallBudgetExceeded is returned when a run exhausts its model-call
	// budget.
	ErrCallBudgetExceeded = errors.New("model call budget exceeded")
)
