package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/storyloom/storyloom/core"
)

// Scripted is a deterministic PhaseExecutor returning canned output per
// phase (and per scene for scene-keyed work). It records every request it
// receives and can block on a gate channel so tests can inject control
// requests mid-run.
type Scripted struct {
	// Outputs maps phases to raw output. Missing phases yield a small
	// well-formed JSON document.
	Outputs map[core.Phase]string
	// SceneOutputs maps scene numbers to raw output for Drafting/Polish.
	SceneOutputs map[int]string
	// Partials are emitted as agent.partial sub-events before each result.
	Partials []string
	// Fail makes every call for the given phase return an error.
	Fail map[core.Phase]error
	// Gate, when non-nil, is received from once per Execute call.
	Gate chan struct{}

	mu    sync.Mutex
	calls []Request
}

// Execute implements PhaseExecutor.
func (s *Scripted) Execute(ctx context.Context, req Request, emit EmitFunc) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()

	if s.Gate != nil {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-s.Gate:
		}
	}

	if err, ok := s.Fail[req.Phase]; ok && err != nil {
		return "", err
	}

	for _, p := range s.Partials {
		if emit != nil {
			emit(core.NewPartialEvent(req.RunID, req.Phase, p))
		}
	}

	if req.Scene != nil {
		if out, ok := s.SceneOutputs[*req.Scene]; ok {
			return out, nil
		}
		return fmt.Sprintf(`{"number": %d, "text": "Scene %d prose."}`, *req.Scene, *req.Scene), nil
	}
	if out, ok := s.Outputs[req.Phase]; ok {
		return out, nil
	}
	return defaultOutput(req.Phase), nil
}

// Calls returns a copy of the recorded requests.
func (s *Scripted) Calls() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.calls))
	copy(out, s.calls)
	return out
}

// CalledPhases returns the distinct phases that were executed, in order of
// first call.
func (s *Scripted) CalledPhases() []core.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[core.Phase]bool{}
	var out []core.Phase
	for _, c := range s.calls {
		if !seen[c.Phase] {
			seen[c.Phase] = true
			out = append(out, c.Phase)
		}
	}
	return out
}

func defaultOutput(p core.Phase) string {
	switch p {
	case core.PhaseCharacters:
		return `{"characters": [{"name": "Ada", "role": "Protagonist", "description": "A cartographer."}]}`
	case core.PhaseOutlining:
		return `{"scenes": [{"number": 1, "title": "Opening", "summary": "We begin."}, {"number": 2, "title": "Turn", "summary": "It turns."}]}`
	case core.PhaseMotifLayer:
		return `{"constraints": [{"name": "maps", "value": "Maps recur in every scene."}]}`
	case core.PhaseDrafting, core.PhasePolish:
		return `{"scenes": [{"number": 1, "text": "Prose."}]}`
	default:
		return fmt.Sprintf(`{"premise": "generated %s", "text": "generated %s"}`, p, p)
	}
}
