package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyloom/storyloom/core"
)

func completedRun(t *testing.T) *core.Run {
	t.Helper()
	run := core.NewRun(core.Seed{Premise: "a drowned city"}, nil)
	for _, p := range core.CanonicalOrder() {
		run.RecordOutput(&core.PhaseOutput{
			RunID:   run.ID,
			Phase:   p,
			Content: `{"text": "output of ` + string(p) + `"}`,
		})
	}
	run.Status = core.StatusCompleted
	return run
}

func TestBuildAffectedIsDownstreamOfEdit(t *testing.T) {
	run := completedRun(t)
	p, err := Build(run, core.RegenerationRequest{
		Phase:   core.PhaseNarratorDesign,
		Content: `{"voice": "wry"}`,
		Comment: "make the narrator wry",
	})
	require.NoError(t, err)

	want := []core.Phase{
		core.PhaseWorldbuilding,
		core.PhaseOutlining,
		core.PhaseMotifLayer,
		core.PhaseAdvancedPlanning,
		core.PhaseDrafting,
		core.PhasePolish,
	}
	assert.Equal(t, want, p.Affected)
}

func TestBuildLockedPhasesExcludedAndFrozen(t *testing.T) {
	run := completedRun(t)
	p, err := Build(run, core.RegenerationRequest{
		Phase:   core.PhaseNarratorDesign,
		Content: `{"voice": "wry"}`,
		Comment: "make the narrator wry",
		Locked:  []core.Phase{core.PhaseWorldbuilding},
	})
	require.NoError(t, err)

	assert.NotContains(t, p.Affected, core.PhaseWorldbuilding)
	assert.Contains(t, p.Affected, core.PhaseOutlining)

	// Locked content carries forward verbatim.
	assert.Equal(t, run.Outputs[core.PhaseWorldbuilding].Content, p.Seed.Frozen[core.PhaseWorldbuilding])
	// Upstream phases are frozen too.
	assert.Equal(t, run.Outputs[core.PhaseGenesis].Content, p.Seed.Frozen[core.PhaseGenesis])
	// The edited phase itself is never frozen; the edit is authoritative.
	_, frozen := p.Seed.Frozen[core.PhaseNarratorDesign]
	assert.False(t, frozen)
}

func TestBuildEmptyCommentRejected(t *testing.T) {
	run := completedRun(t)
	_, err := Build(run, core.RegenerationRequest{
		Phase:   core.PhaseNarratorDesign,
		Content: `{"voice": "wry"}`,
		Comment: "   ",
	})
	assert.ErrorIs(t, err, core.ErrEmptyComment)
}

func TestBuildUnknownPhaseRejected(t *testing.T) {
	run := completedRun(t)
	_, err := Build(run, core.RegenerationRequest{
		Phase:   core.Phase("prologue"),
		Comment: "change it",
	})
	assert.ErrorIs(t, err, core.ErrUnknownPhase)

	_, err = Build(run, core.RegenerationRequest{
		Phase:   core.PhaseGenesis,
		Comment: "change it",
		Locked:  []core.Phase{core.Phase("prologue")},
	})
	assert.ErrorIs(t, err, core.ErrUnknownPhase)
}

func TestBuildLockedPhaseWithoutOutputRejected(t *testing.T) {
	run := core.NewRun(core.Seed{Premise: "p"}, nil)
	run.RecordOutput(&core.PhaseOutput{RunID: run.ID, Phase: core.PhaseGenesis, Content: "{}"})

	_, err := Build(run, core.RegenerationRequest{
		Phase:   core.PhaseGenesis,
		Content: "{}",
		Comment: "restart",
		Locked:  []core.Phase{core.PhaseDrafting},
	})
	assert.ErrorIs(t, err, core.ErrMissingLockedOutput)
}

func TestBuildCarriesEditAndGuidance(t *testing.T) {
	run := completedRun(t)
	p, err := Build(run, core.RegenerationRequest{
		Phase:   core.PhaseOutlining,
		Content: `{"scenes": [{"number": 1}]}`,
		Comment: "tighten the outline",
	})
	require.NoError(t, err)

	edit, ok := p.Seed.Edits[core.PhaseOutlining]
	require.True(t, ok)
	assert.Equal(t, "tighten the outline", edit.Comment)
	assert.Equal(t, "tighten the outline", p.Seed.Guidance)
	assert.Equal(t, run.Seed.Premise, p.Seed.Premise)
}

func TestBuildSceneSelectionFreezesUnselectedScenesPerPhase(t *testing.T) {
	run := completedRun(t)
	run.Outputs[core.PhaseDrafting].Content = `{"scenes": [
		{"number": 1, "text": "one"},
		{"number": 2, "text": "two"},
		{"number": 3, "text": "three"}
	]}`
	run.Outputs[core.PhasePolish].Content = `{"scenes": [
		{"number": 1, "text": "POLISHED one"},
		{"number": 2, "text": "POLISHED two"},
		{"number": 3, "text": "POLISHED three"}
	]}`

	p, err := Build(run, core.RegenerationRequest{
		Phase:   core.PhaseAdvancedPlanning,
		Content: `{"pacing": "faster"}`,
		Comment: "pick up the pace in scene 2",
		Scenes:  []int{2},
	})
	require.NoError(t, err)

	assert.Equal(t, []int{2}, p.Seed.Scenes)
	// Drafting keeps the drafted text, Polish keeps the polished text.
	assert.Equal(t, "one", p.Seed.FrozenScenes[core.PhaseDrafting][1])
	assert.Equal(t, "three", p.Seed.FrozenScenes[core.PhaseDrafting][3])
	assert.Equal(t, "POLISHED one", p.Seed.FrozenScenes[core.PhasePolish][1])
	assert.Equal(t, "POLISHED three", p.Seed.FrozenScenes[core.PhasePolish][3])
	// The selected scene is never frozen in either phase.
	_, frozen := p.Seed.FrozenScenes[core.PhaseDrafting][2]
	assert.False(t, frozen)
	_, frozen = p.Seed.FrozenScenes[core.PhasePolish][2]
	assert.False(t, frozen)
}
