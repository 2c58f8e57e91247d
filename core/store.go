package core

import "context"

// RunStore persists runs and their phase outputs. Update must persist the
// whole run including outputs; resume state is derived from this durable
// data, never from in-memory-only state.
type RunStore interface {
	Create(ctx context.Context, run *Run) error
	Get(ctx context.Context, id string) (*Run, error)
	Update(ctx context.Context, run *Run) error
	List(ctx context.Context) ([]*Run, error)
}

// EventLog is the append-only, ordered record of everything that happened
// during a run. Append assigns the per-run sequence number. Subscribe yields
// the full ordered log from the beginning followed by live events with no
// gap; delivery is at-least-once and observers must fold idempotently.
type EventLog interface {
	Append(ctx context.Context, ev *Event) error
	Replay(ctx context.Context, runID string) ([]Event, error)
	Subscribe(ctx context.Context, runID string) (<-chan Event, error)
}
