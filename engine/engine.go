// Package engine implements the run state machine: it sequences phases in
// canonical order, records validated outputs, appends every progress fact to
// the event log, and honors pause/resume/cancel control requests at phase
// boundaries. Run lifecycle is governed solely by explicit control requests
// and phase completion, never by observer presence.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/storyloom/storyloom/core"
	"github.com/storyloom/storyloom/executor"
	"github.com/storyloom/storyloom/logging"
	"github.com/storyloom/storyloom/plan"
	"github.com/storyloom/storyloom/reconcile"
)

// Options holds dependency and configuration overrides passed to New().
type Options struct {
	// MaxAttempts bounds executor retries per phase (or per scene).
	MaxAttempts int
	// RetryBackoff is the base delay between executor retries.
	RetryBackoff time.Duration
	// MaxModelCalls limits generator calls per run. 0 means unlimited.
	MaxModelCalls int
	// SceneConcurrency bounds concurrent scene generation within a phase.
	SceneConcurrency int
	// Logger receives structured engine logs.
	Logger logging.Logger
}

// Engine coordinates run execution. Public methods are safe for concurrent
// use; all run mutation happens here and is persisted before the matching
// event is appended, so replaying the log always reconstructs the same
// logical state the engine holds.
type Engine struct {
	runs core.RunStore
	log  core.EventLog
	exec executor.PhaseExecutor

	maxAttempts      int
	retryBackoff     time.Duration
	maxModelCalls    int
	sceneConcurrency int
	logger           logging.Logger
	diag             logging.DiagnosticLogger // nil unless logger provides it

	mu     sync.Mutex
	active map[string]*control
}

// control tracks one in-flight run: its cancel function and the pause flag
// checked at every phase boundary.
type control struct {
	ctx     context.Context
	cancel  context.CancelFunc
	pause   chan struct{} // closed on pause request
	limiter *core.CallLimiter
	once    sync.Once
}

func (c *control) requestPause() { c.once.Do(func() { close(c.pause) }) }

func (c *control) pauseRequested() bool {
	select {
	case <-c.pause:
		return true
	default:
		return false
	}
}

// New constructs an Engine with optional overrides.
func New(runs core.RunStore, log core.EventLog, exec executor.PhaseExecutor, optFns ...func(o *Options)) *Engine {
	opts := Options{
		MaxAttempts:      3,
		RetryBackoff:     time.Second,
		MaxModelCalls:    100,
		SceneConcurrency: 4,
		Logger:           logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	e := &Engine{
		runs:             runs,
		log:              log,
		exec:             executor.NewRetry(exec, opts.MaxAttempts, opts.RetryBackoff, opts.Logger),
		maxAttempts:      opts.MaxAttempts,
		retryBackoff:     opts.RetryBackoff,
		maxModelCalls:    opts.MaxModelCalls,
		sceneConcurrency: opts.SceneConcurrency,
		logger:           opts.Logger,
		active:           make(map[string]*control),
	}
	if d, ok := opts.Logger.(logging.DiagnosticLogger); ok {
		e.diag = d
	}
	return e
}

// StartRun creates a run from seed parameters and begins executing phases
// asynchronously in dependency order. The run identifier returns
// immediately.
func (e *Engine) StartRun(ctx context.Context, seed core.Seed, phases []core.Phase) (string, error) {
	run := core.NewRun(seed, phases)
	if err := e.runs.Create(ctx, run); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	if err := e.emit(ctx, core.NewRunEvent(run.ID, core.EventRunStarted, "run created")); err != nil {
		return "", err
	}
	e.launch(run.ID)
	return run.ID, nil
}

// launch reserves a control handle and starts the drive goroutine. The run
// outlives the caller's request context; its lifetime is bound to the handle.
func (e *Engine) launch(runID string) bool {
	ctrl, ok := e.reserve(runID)
	if !ok {
		return false
	}
	go e.drive(ctrl.ctx, runID, ctrl)
	return true
}

// reserve registers a fresh control handle for runID. The already-active
// check and the registration are one critical section: of two racing
// callers, exactly one gets a handle, so a run never has two drivers
// executing phases concurrently.
func (e *Engine) reserve(runID string) (*control, bool) {
	runCtx, cancel := context.WithCancel(context.Background())
	ctrl := &control{
		ctx:     runCtx,
		cancel:  cancel,
		pause:   make(chan struct{}),
		limiter: core.NewCallLimiter(e.maxModelCalls),
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.active[runID]; ok {
		cancel()
		return nil, false
	}
	e.active[runID] = ctrl
	return ctrl, true
}

// Pause requests a stop at the next safe checkpoint: the in-flight phase
// finishes its current unit of work, then the run stops emitting further
// phase starts. Idempotent: pausing an already-paused run is a no-op.
func (e *Engine) Pause(ctx context.Context, runID string) error {
	run, err := e.runs.Get(ctx, runID)
	if err != nil {
		return err
	}
	switch run.Status {
	case core.StatusPaused:
		return nil
	case core.StatusPending, core.StatusGenerating:
		e.mu.Lock()
		ctrl, ok := e.active[runID]
		e.mu.Unlock()
		if !ok {
			// no live driver (process restarted); persist directly
			return e.transition(ctx, run, core.StatusPaused, core.NewRunEvent(runID, core.EventRunPaused, "paused"))
		}
		ctrl.requestPause()
		return nil
	default:
		return fmt.Errorf("pause %s run: %w", run.Status, core.ErrInvalidTransition)
	}
}

// Resume continues a paused, interrupted or errored-with-checkpoint run from
// the first not-yet-completed phase. Idempotent: resuming a generating run
// is a no-op. Resume re-validates that the run is actually resumable before
// transitioning; otherwise it fails with core.ErrNonResumable and leaves the
// run unchanged.
func (e *Engine) Resume(ctx context.Context, runID string) error {
	run, err := e.runs.Get(ctx, runID)
	if err != nil {
		return err
	}
	switch run.Status {
	case core.StatusGenerating, core.StatusPending:
		return nil
	case core.StatusPaused, core.StatusInterrupted, core.StatusErrored:
		if !run.Resumable() {
			return fmt.Errorf("resume %s: %w", runID, core.ErrNonResumable)
		}
	default:
		return fmt.Errorf("resume %s run: %w", run.Status, core.ErrNonResumable)
	}

	// Reserve the control handle before touching run state so concurrent
	// resumes collapse to one driver and one run.resumed event.
	ctrl, ok := e.reserve(runID)
	if !ok {
		return nil
	}

	run.Status = core.StatusGenerating
	run.Error = ""
	if err := e.runs.Update(ctx, run); err != nil {
		e.release(runID, ctrl)
		ctrl.cancel()
		return err
	}
	msg := fmt.Sprintf("resuming from %s", run.ResumeFrom())
	if err := e.emit(ctx, core.NewRunEvent(runID, core.EventRunResumed, msg)); err != nil {
		e.release(runID, ctrl)
		ctrl.cancel()
		return err
	}
	go e.drive(ctrl.ctx, runID, ctrl)
	return nil
}

// Cancel terminates a run. Cancellation is final and unresumable.
// Idempotent: cancelling an already-cancelled run is a no-op.
func (e *Engine) Cancel(ctx context.Context, runID string) error {
	run, err := e.runs.Get(ctx, runID)
	if err != nil {
		return err
	}
	switch run.Status {
	case core.StatusCancelled:
		return nil
	case core.StatusCompleted, core.StatusErrored:
		return fmt.Errorf("cancel %s run: %w", run.Status, core.ErrInvalidTransition)
	}

	e.mu.Lock()
	ctrl, ok := e.active[runID]
	if ok {
		delete(e.active, runID)
	}
	e.mu.Unlock()
	if ok {
		ctrl.cancel()
	}

	return e.transition(ctx, run, core.StatusCancelled, core.NewRunEvent(runID, core.EventRunCancelled, "cancelled by request"))
}

// RunState is the externally observable control-plane view of a run.
type RunState struct {
	RunID              string      `json:"run_id"`
	Status             core.Status `json:"status"`
	CurrentPhase       core.Phase  `json:"current_phase,omitempty"`
	LastCompletedPhase core.Phase  `json:"last_completed_phase,omitempty"`
	ResumeFromPhase    core.Phase  `json:"resume_from_phase,omitempty"`
	Resumable          bool        `json:"resumable"`
	Error              string      `json:"error,omitempty"`
}

// GetRunState reports status, the last fully completed phase and the
// computed resume point. ResumeFromPhase is only meaningful when the run is
// paused or interrupted.
func (e *Engine) GetRunState(ctx context.Context, runID string) (*RunState, error) {
	run, err := e.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	st := &RunState{
		RunID:        run.ID,
		Status:       run.Status,
		CurrentPhase: run.CurrentPhase,
		Resumable:    run.Resumable(),
		Error:        run.Error,
	}
	if last, ok := run.LastCompletedPhase(); ok {
		st.LastCompletedPhase = last
	}
	if run.Status == core.StatusPaused || run.Status == core.StatusInterrupted {
		st.ResumeFromPhase = run.ResumeFrom()
	}
	return st, nil
}

// Regenerate validates the request, computes the regeneration plan against
// the prior run, and starts a new run seeded from it. Locked and upstream
// phases carry their prior content forward verbatim and are never
// re-invoked.
func (e *Engine) Regenerate(ctx context.Context, runID string, req core.RegenerationRequest) (string, error) {
	run, err := e.runs.Get(ctx, runID)
	if err != nil {
		return "", err
	}
	p, err := plan.Build(run, req)
	if err != nil {
		return "", err
	}

	newRun := core.NewRun(p.Seed, run.Phases)
	newRun.ParentID = run.ID
	if err := e.runs.Create(ctx, newRun); err != nil {
		return "", fmt.Errorf("create regenerated run: %w", err)
	}
	msg := fmt.Sprintf("regeneration of %s: %d phases scheduled", run.ID, len(p.Affected))
	if err := e.emit(ctx, core.NewRunEvent(newRun.ID, core.EventRunStarted, msg)); err != nil {
		return "", err
	}
	e.launch(newRun.ID)
	return newRun.ID, nil
}

// RecoverInterrupted marks runs persisted as generating (a process restart
// left them mid-flight) as interrupted, preserving their checkpoints for a
// later explicit resume. Call once at startup.
func (e *Engine) RecoverInterrupted(ctx context.Context) ([]string, error) {
	runs, err := e.runs.List(ctx)
	if err != nil {
		return nil, err
	}
	var recovered []string
	for _, run := range runs {
		if run.Status != core.StatusGenerating && run.Status != core.StatusPending {
			continue
		}
		e.mu.Lock()
		_, live := e.active[run.ID]
		e.mu.Unlock()
		if live {
			continue
		}
		msg := "interrupted by process restart"
		if err := e.transition(ctx, run, core.StatusInterrupted, core.NewRunEvent(run.ID, core.EventRunInterrupted, msg)); err != nil {
			return recovered, err
		}
		recovered = append(recovered, run.ID)
	}
	return recovered, nil
}

// ListRuns returns all known runs ordered by creation time.
func (e *Engine) ListRuns(ctx context.Context) ([]*core.Run, error) {
	return e.runs.List(ctx)
}

// Events subscribes to a run's event stream: full replay of history first,
// then live events as they are appended, until ctx is done. Delivery is
// at-least-once; consumers deduplicate by sequence number.
func (e *Engine) Events(ctx context.Context, runID string) (<-chan core.Event, error) {
	if _, err := e.runs.Get(ctx, runID); err != nil {
		return nil, err
	}
	return e.log.Subscribe(ctx, runID)
}

// Artifact reconciles the run's event log into the final artifact.
func (e *Engine) Artifact(ctx context.Context, runID string) (*reconcile.Artifact, error) {
	if _, err := e.runs.Get(ctx, runID); err != nil {
		return nil, err
	}
	events, err := e.log.Replay(ctx, runID)
	if err != nil {
		return nil, err
	}
	art, ok := reconcile.Reconcile(events, e.logger)
	if !ok {
		return nil, fmt.Errorf("run %s has no reconcilable content yet", runID)
	}
	return art, nil
}

// drive executes phases sequentially from the first incomplete one. It is
// the only writer of run state while it is live.
func (e *Engine) drive(ctx context.Context, runID string, ctrl *control) {
	defer e.release(runID, ctrl)

	run, err := e.runs.Get(context.Background(), runID)
	if err != nil {
		e.logger.Error("drive: load run failed", "run_id", runID, "error", err.Error())
		return
	}

	for _, phase := range run.Phases {
		if run.HasCompleted(phase) {
			continue
		}
		if ctx.Err() != nil {
			return // cancelled; Cancel already persisted the terminal state
		}
		if ctrl.pauseRequested() {
			e.release(runID, ctrl)
			if err := e.transition(ctx, run, core.StatusPaused, core.NewRunEvent(runID, core.EventRunPaused, "paused")); err != nil {
				e.logger.Error("drive: persist pause failed", "run_id", runID, "error", err.Error())
			}
			return
		}

		run.Status = core.StatusGenerating
		run.CurrentPhase = phase
		if err := e.runs.Update(ctx, run); err != nil {
			e.logger.Error("drive: persist phase start failed", "run_id", runID, "error", err.Error())
			return
		}
		if err := e.emit(ctx, core.NewPhaseStartedEvent(runID, phase)); err != nil {
			return
		}

		started := time.Now()
		out, err := e.executePhase(ctx, run, ctrl, phase)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			e.logPhase(runID, phase, time.Since(started), err)
			e.release(runID, ctrl)
			run.Error = err.Error()
			ev := core.NewRunEvent(runID, core.EventRunErrored, fmt.Sprintf("phase %s failed: %v", phase.DisplayName(), err))
			if terr := e.transition(ctx, run, core.StatusErrored, ev); terr != nil {
				e.logger.Error("drive: persist error state failed", "run_id", runID, "error", terr.Error())
			}
			return
		}
		e.logPhase(runID, phase, time.Since(started), nil)

		run.RecordOutput(out)
		if err := e.runs.Update(ctx, run); err != nil {
			e.logger.Error("drive: persist output failed", "run_id", runID, "error", err.Error())
			return
		}
		if err := e.emit(ctx, core.NewPhaseCompletedEvent(runID, phase, out.Content, out.Warnings, out.Carried)); err != nil {
			return
		}
	}

	e.release(runID, ctrl)
	e.finish(ctx, run)
}

// logPhase records one phase execution outcome, preferring the diagnostic
// logger when the configured logger provides it.
func (e *Engine) logPhase(runID string, phase core.Phase, dur time.Duration, err error) {
	if e.diag != nil {
		e.diag.LogPhaseExecution(string(phase), dur, err == nil, err)
		return
	}
	if err != nil {
		e.logger.Error("phase execution failed", "run_id", runID, "phase", string(phase), "error", err.Error())
		return
	}
	e.logger.Debug("phase completed", "run_id", runID, "phase", string(phase), "duration", dur.String())
}

// release drops the control handle so a later Resume can relaunch. Safe to
// call more than once; only the handle's own entry is removed. The handle
// must be released before the matching terminal or paused event is emitted,
// otherwise an observer reacting to that event could race a stale entry.
func (e *Engine) release(runID string, ctrl *control) {
	e.mu.Lock()
	if e.active[runID] == ctrl {
		delete(e.active, runID)
	}
	e.mu.Unlock()
}

// finish reconciles the log and records the terminal completed state. A run
// only completes when reconciliation yields a non-empty artifact.
func (e *Engine) finish(ctx context.Context, run *core.Run) {
	events, err := e.log.Replay(ctx, run.ID)
	if err != nil {
		e.logger.Error("finish: replay failed", "run_id", run.ID, "error", err.Error())
		return
	}
	art, ok := reconcile.Reconcile(events, e.logger)
	if !ok {
		run.Error = "reconciliation produced an empty artifact"
		ev := core.NewRunEvent(run.ID, core.EventRunErrored, run.Error)
		if err := e.transition(ctx, run, core.StatusErrored, ev); err != nil {
			e.logger.Error("finish: persist error state failed", "run_id", run.ID, "error", err.Error())
		}
		return
	}

	summary := fmt.Sprintf("%d phases completed, %d scenes assembled", len(run.Completed), len(art.Scenes))
	ev := core.NewRunEvent(run.ID, core.EventRunCompleted, summary)
	if err := e.transition(ctx, run, core.StatusCompleted, ev); err != nil {
		e.logger.Error("finish: persist completed state failed", "run_id", run.ID, "error", err.Error())
	}
}

// transition persists a status change, then appends the matching event.
// Persist-then-emit keeps the log a faithful record of durable state.
func (e *Engine) transition(ctx context.Context, run *core.Run, status core.Status, ev core.Event) error {
	run.Status = status
	run.Updated = time.Now().UTC()
	if err := e.runs.Update(ctx, run); err != nil {
		return err
	}
	return e.emit(ctx, ev)
}

func (e *Engine) emit(ctx context.Context, ev core.Event) error {
	if err := e.log.Append(ctx, &ev); err != nil {
		e.logger.Error("event append failed", "run_id", ev.RunID, "type", string(ev.Type), "error", err.Error())
		return err
	}
	return nil
}
