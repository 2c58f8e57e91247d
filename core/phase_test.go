package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalOrder(t *testing.T) {
	order := CanonicalOrder()
	require.Len(t, order, 9)
	assert.Equal(t, PhaseGenesis, order[0])
	assert.Equal(t, PhasePolish, order[len(order)-1])

	// Returned slice is a copy; mutating it must not affect the order.
	order[0] = Phase("mutated")
	assert.Equal(t, PhaseGenesis, CanonicalOrder()[0])
}

func TestPhaseKnown(t *testing.T) {
	assert.True(t, PhaseNarratorDesign.Known())
	assert.False(t, Phase("prologue").Known())
	assert.False(t, Phase("").Known())
}

func TestDownstream(t *testing.T) {
	got := PhaseNarratorDesign.Downstream()
	want := []Phase{
		PhaseWorldbuilding,
		PhaseOutlining,
		PhaseMotifLayer,
		PhaseAdvancedPlanning,
		PhaseDrafting,
		PhasePolish,
	}
	assert.Equal(t, want, got)
}

func TestDownstreamOfLastPhaseIsEmpty(t *testing.T) {
	assert.Empty(t, PhasePolish.Downstream())
}

func TestDownstreamUnknownPhaseFailsOpen(t *testing.T) {
	// An unrecognized phase regenerates everything rather than nothing.
	assert.Equal(t, CanonicalOrder(), Phase("prologue").Downstream())
}

func TestNext(t *testing.T) {
	next, ok := PhaseGenesis.Next()
	require.True(t, ok)
	assert.Equal(t, PhaseCharacters, next)

	_, ok = PhasePolish.Next()
	assert.False(t, ok)

	_, ok = Phase("prologue").Next()
	assert.False(t, ok)
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Narrator Design", PhaseNarratorDesign.DisplayName())
	assert.Equal(t, "Genesis", PhaseGenesis.DisplayName())
}

func TestParsePhase(t *testing.T) {
	cases := map[string]Phase{
		"narrator_design": PhaseNarratorDesign,
		"Narrator Design": PhaseNarratorDesign,
		"NARRATOR-DESIGN": PhaseNarratorDesign,
		" genesis ":       PhaseGenesis,
	}
	for in, want := range cases {
		got, ok := ParsePhase(in)
		require.True(t, ok, "input %q", in)
		assert.Equal(t, want, got)
	}

	_, ok := ParsePhase("prologue")
	assert.False(t, ok)
}
