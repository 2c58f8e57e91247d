package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyloom/storyloom/core"
)

func newSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteRunRoundTrip(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()

	run := core.NewRun(core.Seed{
		Premise: "a drowned city",
		Frozen:  map[core.Phase]string{core.PhaseGenesis: `{"text": "frozen"}`},
	}, nil)
	run.ParentID = "parent-1"
	require.NoError(t, s.Create(ctx, run))

	run.Status = core.StatusGenerating
	run.CurrentPhase = core.PhaseCharacters
	run.RecordOutput(&core.PhaseOutput{
		RunID:    run.ID,
		Phase:    core.PhaseGenesis,
		Content:  `{"premise": "a drowned city"}`,
		Warnings: []string{"w1"},
		Updated:  time.Now().UTC(),
	})
	require.NoError(t, s.Update(ctx, run))

	got, err := s.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "parent-1", got.ParentID)
	assert.Equal(t, core.StatusGenerating, got.Status)
	assert.Equal(t, core.PhaseCharacters, got.CurrentPhase)
	assert.Equal(t, []core.Phase{core.PhaseGenesis}, got.Completed)
	assert.Equal(t, "a drowned city", got.Seed.Premise)
	assert.Equal(t, `{"text": "frozen"}`, got.Seed.Frozen[core.PhaseGenesis])

	out, ok := got.Outputs[core.PhaseGenesis]
	require.True(t, ok)
	assert.Equal(t, `{"premise": "a drowned city"}`, out.Content)
	assert.Equal(t, []string{"w1"}, out.Warnings)
}

func TestSQLiteGetNotFound(t *testing.T) {
	s := newSQLite(t)
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrRunNotFound)
}

func TestSQLiteUpdateNotFound(t *testing.T) {
	s := newSQLite(t)
	run := core.NewRun(core.Seed{}, nil)
	assert.ErrorIs(t, s.Update(context.Background(), run), core.ErrRunNotFound)
}

func TestSQLiteUpdateOverwritesOutput(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()

	run := core.NewRun(core.Seed{}, nil)
	require.NoError(t, s.Create(ctx, run))

	run.RecordOutput(&core.PhaseOutput{RunID: run.ID, Phase: core.PhaseGenesis, Content: `{"v": 1}`, Updated: time.Now().UTC()})
	require.NoError(t, s.Update(ctx, run))
	run.Outputs[core.PhaseGenesis].Content = `{"v": 2}`
	require.NoError(t, s.Update(ctx, run))

	got, err := s.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, `{"v": 2}`, got.Outputs[core.PhaseGenesis].Content)
}

func TestSQLiteRecoverInterrupted(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()

	stale := core.NewRun(core.Seed{}, nil)
	stale.Status = core.StatusGenerating
	require.NoError(t, s.Create(ctx, stale))

	settled := core.NewRun(core.Seed{}, nil)
	settled.Status = core.StatusCompleted
	require.NoError(t, s.Create(ctx, settled))

	ids, err := s.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{stale.ID}, ids)

	got, err := s.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusInterrupted, got.Status)

	still, err := s.Get(ctx, settled.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, still.Status)
}

func TestSQLiteEventAppendAndReplay(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ev := core.NewPhaseStartedEvent("run-a", core.PhaseGenesis)
		require.NoError(t, s.Append(ctx, &ev))
		assert.Equal(t, int64(i+1), ev.Seq)
	}
	other := core.NewSceneEvent("run-b", core.EventSceneDrafted, core.PhaseDrafting, 2, `{"text": "two"}`, false)
	require.NoError(t, s.Append(ctx, &other))
	assert.Equal(t, int64(1), other.Seq)

	events, err := s.Replay(ctx, "run-a")
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Seq)
		assert.Equal(t, core.EventPhaseStarted, ev.Type)
	}

	bEvents, err := s.Replay(ctx, "run-b")
	require.NoError(t, err)
	require.Len(t, bEvents, 1)
	require.NotNil(t, bEvents[0].Scene)
	assert.Equal(t, 2, *bEvents[0].Scene)
	assert.Equal(t, `{"text": "two"}`, bEvents[0].Content)
}

func TestSQLiteSubscribeDeliversReplayAndLive(t *testing.T) {
	s := newSQLite(t)
	s.pollInterval = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := core.NewRunEvent("run-a", core.EventRunStarted, "m")
	require.NoError(t, s.Append(ctx, &first))

	ch, err := s.Subscribe(ctx, "run-a")
	require.NoError(t, err)

	select {
	case ev := <-ch:
		assert.Equal(t, int64(1), ev.Seq)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for replayed event")
	}

	live := core.NewRunEvent("run-a", core.EventRunCompleted, "done")
	require.NoError(t, s.Append(ctx, &live))
	select {
	case ev := <-ch:
		assert.Equal(t, int64(2), ev.Seq)
		assert.Equal(t, core.EventRunCompleted, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for live event")
	}
}
