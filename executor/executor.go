// Package executor defines the boundary to the generative-model layer. A
// PhaseExecutor receives a phase name plus upstream context and returns raw
// text, optionally emitting progress sub-events before its final result.
// The orchestration engine treats this interface as untrusted: everything it
// returns passes through the tolerant decoder and the schema validator
// before being recorded.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/storyloom/storyloom/core"
	"github.com/storyloom/storyloom/logging"
)

// Request carries one unit of generation work. Context is a JSON document
// holding the premise, the canonical outputs of upstream phases, and any
// regeneration guidance. Scene is set for per-scene work within Drafting and
// Polish.
type Request struct {
	RunID    string
	Phase    core.Phase
	Scene    *int
	Context  string
	Guidance string
}

// EmitFunc lets an executor surface progress sub-events (partial content)
// while a generation is in flight. Implementations may call it zero or more
// times before returning.
type EmitFunc func(core.Event)

// PhaseExecutor produces one phase's (or one scene's) raw output.
type PhaseExecutor interface {
	Execute(ctx context.Context, req Request, emit EmitFunc) (string, error)
}

// Retry wraps an executor with a bounded retry policy: the same request is
// re-issued with the same upstream context up to Attempts times before the
// failure propagates. Context cancellation is never retried.
type Retry struct {
	Next     PhaseExecutor
	Attempts int
	Backoff  time.Duration
	Logger   logging.Logger
}

// NewRetry wraps next with a bounded retry policy.
func NewRetry(next PhaseExecutor, attempts int, backoff time.Duration, logger logging.Logger) *Retry {
	if attempts < 1 {
		attempts = 1
	}
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Retry{Next: next, Attempts: attempts, Backoff: backoff, Logger: logger}
}

// Execute implements PhaseExecutor.
func (r *Retry) Execute(ctx context.Context, req Request, emit EmitFunc) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= r.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		raw, err := r.Next.Execute(ctx, req, emit)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		r.Logger.Warn("phase executor attempt failed", "phase", string(req.Phase), "attempt", attempt, "error", err.Error())
		if attempt < r.Attempts && r.Backoff > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(r.Backoff * time.Duration(attempt)):
			}
		}
	}
	return "", fmt.Errorf("phase %s failed after %d attempts: %w", req.Phase, r.Attempts, lastErr)
}
