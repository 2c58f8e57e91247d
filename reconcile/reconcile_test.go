package reconcile

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyloom/storyloom/core"
)

func sceneEvent(t core.EventType, scene int, text string, seq int64) core.Event {
	ev := core.NewSceneEvent("r", t, core.PhaseDrafting, scene, `{"text": "`+text+`"}`, false)
	ev.Seq = seq
	return ev
}

func TestReconcileAssemblesScenesInAscendingOrder(t *testing.T) {
	events := []core.Event{
		sceneEvent(core.EventSceneDrafted, 3, "three", 1),
		sceneEvent(core.EventSceneDrafted, 1, "one", 2),
		sceneEvent(core.EventSceneDrafted, 2, "two", 3),
	}
	art, ok := Reconcile(events, nil)
	require.True(t, ok)
	assert.Equal(t, "scenes", art.Source)
	require.Len(t, art.Scenes, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{art.Scenes[0].Number, art.Scenes[1].Number, art.Scenes[2].Number})
	assert.Equal(t, "one\n\ntwo\n\nthree", art.Text)
}

func TestReconcileDeduplicatesBySceneKeyKeepingLatest(t *testing.T) {
	events := []core.Event{
		sceneEvent(core.EventSceneDrafted, 3, "first attempt", 1),
		sceneEvent(core.EventSceneDrafted, 3, "second attempt", 2),
	}
	art, ok := Reconcile(events, nil)
	require.True(t, ok)
	require.Len(t, art.Scenes, 1)
	assert.Equal(t, "second attempt", art.Scenes[0].Text)
}

func TestReconcilePolishedBeatsDrafted(t *testing.T) {
	// The polished event arrives earlier but still wins on processing level.
	events := []core.Event{
		sceneEvent(core.EventScenePolished, 1, "polished", 1),
		sceneEvent(core.EventSceneDrafted, 1, "redrafted later", 2),
	}
	art, ok := Reconcile(events, nil)
	require.True(t, ok)
	require.Len(t, art.Scenes, 1)
	assert.Equal(t, "polished", art.Scenes[0].Text)
}

func TestReconcileMissingSceneKeyFoldsToZero(t *testing.T) {
	ev := core.NewEvent("r", core.EventSceneDrafted)
	ev.Content = `{"text": "orphan scene"}`
	ev.Seq = 1

	art, ok := Reconcile([]core.Event{ev}, nil)
	require.True(t, ok)
	require.Len(t, art.Scenes, 1)
	assert.Equal(t, 0, art.Scenes[0].Number)
	assert.Equal(t, "orphan scene", art.Scenes[0].Text)
}

func TestReconcileFallsBackToLastSubstantialMessage(t *testing.T) {
	long := strings.Repeat("prose ", 20)
	events := []core.Event{
		{RunID: "r", Seq: 1, Type: core.EventPhaseCompleted, Phase: core.PhaseGenesis, Content: `{"text": "short"}`},
		{RunID: "r", Seq: 2, Type: core.EventPhaseCompleted, Phase: core.PhaseDrafting, Content: `{"text": "` + long + `"}`},
	}
	art, ok := Reconcile(events, nil)
	require.True(t, ok)
	assert.Equal(t, "message", art.Source)
	assert.Equal(t, strings.TrimSpace(long), art.Text)
	assert.Empty(t, art.Scenes)
}

func TestReconcileFallsBackToSummary(t *testing.T) {
	events := []core.Event{
		{RunID: "r", Seq: 1, Type: core.EventRunCompleted, Message: "9 phases completed"},
	}
	art, ok := Reconcile(events, nil)
	require.True(t, ok)
	assert.Equal(t, "summary", art.Source)
	assert.Equal(t, "9 phases completed", art.Text)
}

func TestReconcileNothingUsable(t *testing.T) {
	events := []core.Event{
		{RunID: "r", Seq: 1, Type: core.EventRunStarted, Message: "run created"},
	}
	_, ok := Reconcile(events, nil)
	assert.False(t, ok)
}

func TestReconcileScenesWinOverMessageAndSummary(t *testing.T) {
	long := strings.Repeat("prose ", 20)
	events := []core.Event{
		{RunID: "r", Seq: 1, Type: core.EventPhaseCompleted, Phase: core.PhaseDrafting, Content: `{"text": "` + long + `"}`},
		sceneEvent(core.EventScenePolished, 1, "the real scene", 2),
		{RunID: "r", Seq: 3, Type: core.EventRunCompleted, Message: "done"},
	}
	art, ok := Reconcile(events, nil)
	require.True(t, ok)
	assert.Equal(t, "scenes", art.Source)
	assert.Equal(t, "the real scene", art.Text)
}

func TestReconcileSkipsEmptySceneContent(t *testing.T) {
	empty := core.NewSceneEvent("r", core.EventSceneDrafted, core.PhaseDrafting, 1, "", false)
	empty.Seq = 1
	events := []core.Event{
		empty,
		sceneEvent(core.EventSceneDrafted, 2, "kept", 2),
	}
	art, ok := Reconcile(events, nil)
	require.True(t, ok)
	require.Len(t, art.Scenes, 1)
	assert.Equal(t, 2, art.Scenes[0].Number)
}
