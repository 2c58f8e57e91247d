// Package storyloom provides a high-level façade over the run engine and its
// service abstractions (run store, event log, phase executor, logging) for
// embedding the multi-phase generation pipeline in a Go program. Most
// applications interact with this package by:
//  1. Creating a Storyloom via New() (optionally overriding default in-memory services)
//  2. Starting runs from a premise (StartRun) and controlling them (Pause, Resume, Cancel)
//  3. Observing progress through Subscribe and retrieving the result via Artifact
//
// The façade delegates orchestration to engine.Engine while keeping setup
// concise. All defaults are safe for local development and testing; production
// deployments typically supply the SQLite store and a structured logger.
package storyloom

import (
	"context"

	"github.com/storyloom/storyloom/core"
	"github.com/storyloom/storyloom/engine"
	"github.com/storyloom/storyloom/eventlog"
	"github.com/storyloom/storyloom/executor"
	"github.com/storyloom/storyloom/logging"
	"github.com/storyloom/storyloom/reconcile"
	"github.com/storyloom/storyloom/store"
)

// Options configures the Storyloom instance.
type Options struct {
	// RunStore persists run state (defaults to in-memory if not provided).
	RunStore core.RunStore
	// EventLog persists the append-only event stream (defaults to in-memory).
	EventLog core.EventLog
	// MaxAttempts bounds executor retries per phase.
	MaxAttempts int
	// MaxModelCalls limits generator calls per run. 0 means unlimited.
	MaxModelCalls int
	// SceneConcurrency bounds concurrent scene generation within a phase.
	SceneConcurrency int
	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
}

// Storyloom is the high-level façade aggregating the engine and its services.
type Storyloom struct {
	opts   Options
	engine *engine.Engine
}

// New creates a Storyloom instance around a phase executor with optional
// overrides. Any unset service is initialized with an in-memory
// implementation.
func New(exec executor.PhaseExecutor, optFns ...func(o *Options)) *Storyloom {
	opts := Options{
		RunStore:         store.NewInMemoryStore(),
		EventLog:         eventlog.NewInMemoryLog(),
		MaxAttempts:      3,
		MaxModelCalls:    100,
		SceneConcurrency: 4,
		Logger:           logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	eng := engine.New(opts.RunStore, opts.EventLog, exec, func(o *engine.Options) {
		o.MaxAttempts = opts.MaxAttempts
		o.MaxModelCalls = opts.MaxModelCalls
		o.SceneConcurrency = opts.SceneConcurrency
		o.Logger = opts.Logger
	})

	return &Storyloom{opts: opts, engine: eng}
}

// StartRun begins a new run from a premise, executing all canonical phases
// asynchronously. It returns the run identifier immediately.
func (s *Storyloom) StartRun(ctx context.Context, premise string) (string, error) {
	return s.engine.StartRun(ctx, core.Seed{Premise: premise}, nil)
}

// StartRunWithSeed begins a new run with full control over seed parameters
// and the phase list (nil means the canonical order).
func (s *Storyloom) StartRunWithSeed(ctx context.Context, seed core.Seed, phases []core.Phase) (string, error) {
	return s.engine.StartRun(ctx, seed, phases)
}

// Pause requests a stop at the next phase boundary. Idempotent.
func (s *Storyloom) Pause(ctx context.Context, runID string) error {
	return s.engine.Pause(ctx, runID)
}

// Resume continues a paused or interrupted run from its first incomplete
// phase. Idempotent.
func (s *Storyloom) Resume(ctx context.Context, runID string) error {
	return s.engine.Resume(ctx, runID)
}

// Cancel terminates a run. Cancellation is final. Idempotent.
func (s *Storyloom) Cancel(ctx context.Context, runID string) error {
	return s.engine.Cancel(ctx, runID)
}

// State reports the run's control-plane view: status, progress and the
// computed resume point.
func (s *Storyloom) State(ctx context.Context, runID string) (*engine.RunState, error) {
	return s.engine.GetRunState(ctx, runID)
}

// Runs lists all known runs ordered by creation time.
func (s *Storyloom) Runs(ctx context.Context) ([]*core.Run, error) {
	return s.engine.ListRuns(ctx)
}

// Regenerate starts a new run seeded from a prior one with an edited phase
// output, a mandatory comment, and optional locks and scene selection.
func (s *Storyloom) Regenerate(ctx context.Context, runID string, req core.RegenerationRequest) (string, error) {
	return s.engine.Regenerate(ctx, runID, req)
}

// Subscribe returns the run's event stream: full history replay first, then
// live events until ctx is done. Delivery is at-least-once; consumers
// deduplicate by sequence number.
func (s *Storyloom) Subscribe(ctx context.Context, runID string) (<-chan core.Event, error) {
	return s.engine.Events(ctx, runID)
}

// Artifact reconciles the run's event log into the final artifact.
func (s *Storyloom) Artifact(ctx context.Context, runID string) (*reconcile.Artifact, error) {
	return s.engine.Artifact(ctx, runID)
}

// RecoverInterrupted marks runs persisted as in-flight by a previous process
// as interrupted. Call once at startup when using a durable store.
func (s *Storyloom) RecoverInterrupted(ctx context.Context) ([]string, error) {
	return s.engine.RecoverInterrupted(ctx)
}
