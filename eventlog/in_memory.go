package eventlog

import (
	"context"
	"sync"
	"time"

	"github.com/storyloom/storyloom/core"
)

// InMemoryLog is a volatile core.EventLog storing per-run event slices in a
// process-local map. It is safe for concurrent access and best suited for
// tests, embedding and ephemeral demo servers. Subscribers each hold their
// own read cursor: a subscription replays the full ordered log from the
// beginning and continues with live events with no gap.
type InMemoryLog struct {
	mu   sync.Mutex
	cond *sync.Cond
	runs map[string][]core.Event

	// subscriberBuffer sets channel buffering for delivered events.
	subscriberBuffer int
}

// NewInMemoryLog constructs an empty in-memory event log.
func NewInMemoryLog() *InMemoryLog {
	l := &InMemoryLog{runs: make(map[string][]core.Event), subscriberBuffer: 64}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Append assigns the next per-run sequence number and records the event.
// Ordering is per run; Append never blocks on slow observers.
func (l *InMemoryLog) Append(_ context.Context, ev *core.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ev.ID == "" {
		ev.ID = core.NewID()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	ev.Seq = int64(len(l.runs[ev.RunID]) + 1)
	l.runs[ev.RunID] = append(l.runs[ev.RunID], *ev)
	l.cond.Broadcast()
	return nil
}

// Replay returns a defensive copy of the full ordered log for a run.
func (l *InMemoryLog) Replay(_ context.Context, runID string) ([]core.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	events := make([]core.Event, len(l.runs[runID]))
	copy(events, l.runs[runID])
	return events, nil
}

// Subscribe yields the ordered event log from the beginning followed by live
// events as they are appended. The channel closes when ctx is done. Each
// subscriber advances independently; a dropped subscriber never affects run
// progress or other observers.
func (l *InMemoryLog) Subscribe(ctx context.Context, runID string) (<-chan core.Event, error) {
	ch := make(chan core.Event, l.subscriberBuffer)

	// Wake the cursor loop when the subscriber goes away. The broadcast
	// must happen under the mutex so it cannot land between the cursor's
	// condition check and its Wait and be lost.
	go func() {
		<-ctx.Done()
		l.mu.Lock()
		l.cond.Broadcast()
		l.mu.Unlock()
	}()

	go func() {
		defer close(ch)
		cursor := 0
		for {
			l.mu.Lock()
			for cursor >= len(l.runs[runID]) && ctx.Err() == nil {
				l.cond.Wait()
			}
			if ctx.Err() != nil {
				l.mu.Unlock()
				return
			}
			batch := make([]core.Event, len(l.runs[runID])-cursor)
			copy(batch, l.runs[runID][cursor:])
			cursor += len(batch)
			l.mu.Unlock()

			for _, ev := range batch {
				select {
				case <-ctx.Done():
					return
				case ch <- ev:
				}
			}
		}
	}()

	return ch, nil
}
