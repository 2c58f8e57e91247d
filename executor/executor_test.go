package executor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyloom/storyloom/core"
)

type flaky struct {
	failures int32
	calls    int32
}

func (f *flaky) Execute(_ context.Context, _ Request, _ EmitFunc) (string, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= atomic.LoadInt32(&f.failures) {
		return "", errors.New("transient")
	}
	return "ok", nil
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	f := &flaky{failures: 2}
	r := NewRetry(f, 3, 0, nil)

	raw, err := r.Execute(context.Background(), Request{Phase: core.PhaseGenesis}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", raw)
	assert.Equal(t, int32(3), atomic.LoadInt32(&f.calls))
}

func TestRetryExhaustsAttempts(t *testing.T) {
	f := &flaky{failures: 10}
	r := NewRetry(f, 3, 0, nil)

	_, err := r.Execute(context.Background(), Request{Phase: core.PhaseGenesis}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, int32(3), atomic.LoadInt32(&f.calls))
}

func TestRetryStopsOnCancelledContext(t *testing.T) {
	f := &flaky{failures: 10}
	r := NewRetry(f, 5, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Execute(ctx, Request{Phase: core.PhaseGenesis}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.calls))
}

func TestScriptedRecordsCalls(t *testing.T) {
	s := &Scripted{}
	_, err := s.Execute(context.Background(), Request{RunID: "r", Phase: core.PhaseGenesis}, nil)
	require.NoError(t, err)
	scene := 2
	_, err = s.Execute(context.Background(), Request{RunID: "r", Phase: core.PhaseDrafting, Scene: &scene}, nil)
	require.NoError(t, err)

	calls := s.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, core.PhaseGenesis, calls[0].Phase)
	require.NotNil(t, calls[1].Scene)
	assert.Equal(t, 2, *calls[1].Scene)

	assert.Equal(t, []core.Phase{core.PhaseGenesis, core.PhaseDrafting}, s.CalledPhases())
}

func TestScriptedEmitsPartials(t *testing.T) {
	s := &Scripted{Partials: []string{"a", "b"}}
	var got []core.Event
	_, err := s.Execute(context.Background(), Request{RunID: "r", Phase: core.PhaseGenesis}, func(ev core.Event) {
		got = append(got, ev)
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, core.EventAgentPartial, got[0].Type)
	assert.Equal(t, "a", got[0].Content)
}

func TestBuildUserPromptIncludesSceneAndGuidance(t *testing.T) {
	scene := 3
	prompt := BuildUserPrompt(Request{
		Phase:    core.PhaseDrafting,
		Scene:    &scene,
		Context:  `{"premise": "p"}`,
		Guidance: "keep it short",
	})
	assert.Contains(t, prompt, `{"premise": "p"}`)
	assert.Contains(t, prompt, "scene 3")
	assert.Contains(t, prompt, "keep it short")
}

func TestInstructionCoversAllPhases(t *testing.T) {
	for _, p := range core.CanonicalOrder() {
		assert.NotEmpty(t, Instruction(p), "phase %s", p)
	}
}
