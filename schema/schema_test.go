package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyloom/storyloom/core"
)

func decodeJSON(t *testing.T, s string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(s), &v))
	return v
}

func TestValidateGenesis(t *testing.T) {
	v := decodeJSON(t, `{"premise": "a drowned city", "themes": ["memory", "tide"], "tone": "elegiac"}`)
	out, err := Validate(core.PhaseGenesis, v)
	require.NoError(t, err)

	var g Genesis
	require.NoError(t, json.Unmarshal([]byte(out), &g))
	assert.Equal(t, "a drowned city", g.Premise)
	assert.Equal(t, []string{"memory", "tide"}, g.Themes)
	assert.Equal(t, "elegiac", g.Tone)
}

func TestValidateGenesisUnionShapes(t *testing.T) {
	// themes as a single string, premise under an alias key
	v := decodeJSON(t, `{"logline": "a drowned city", "themes": "memory"}`)
	out, err := Validate(core.PhaseGenesis, v)
	require.NoError(t, err)

	var g Genesis
	require.NoError(t, json.Unmarshal([]byte(out), &g))
	assert.Equal(t, "a drowned city", g.Premise)
	assert.Equal(t, []string{"memory"}, g.Themes)
}

func TestValidateCharactersFiltersMalformedEntries(t *testing.T) {
	v := decodeJSON(t, `{"characters": [
		{"name": "Ada", "role": "PROTAGONIST"},
		{"role": "antagonist"},
		{"name": "Bey", "role": "Mentor"}
	]}`)
	out, err := Validate(core.PhaseCharacters, v)
	require.NoError(t, err)

	var c Characters
	require.NoError(t, json.Unmarshal([]byte(out), &c))
	require.Len(t, c.Characters, 2)
	assert.Equal(t, "Ada", c.Characters[0].Name)
	assert.Equal(t, "protagonist", c.Characters[0].Role)
	assert.Equal(t, "mentor", c.Characters[1].Role)
}

func TestValidateCharactersUnknownRoleKeptRaw(t *testing.T) {
	v := decodeJSON(t, `{"characters": [{"name": "Ada", "role": "Reluctant Hero"}]}`)
	out, err := Validate(core.PhaseCharacters, v)
	require.NoError(t, err)

	var c Characters
	require.NoError(t, json.Unmarshal([]byte(out), &c))
	assert.Equal(t, "Reluctant Hero", c.Characters[0].Role)
}

func TestValidateCharactersBareArray(t *testing.T) {
	v := decodeJSON(t, `[{"name": "Ada"}]`)
	out, err := Validate(core.PhaseCharacters, v)
	require.NoError(t, err)
	assert.Contains(t, out, "Ada")
}

func TestValidateCharactersAllMalformed(t *testing.T) {
	v := decodeJSON(t, `{"characters": [{"role": "foil"}, "just a string"]}`)
	_, err := Validate(core.PhaseCharacters, v)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "no_valid_entries", verr.Kind)
	assert.Equal(t, core.PhaseCharacters, verr.Phase)
}

func TestValidateOutlineDropsNonNumericEntries(t *testing.T) {
	v := decodeJSON(t, `{"scenes": [
		{"number": 2, "title": "Turn"},
		{"number": "one", "title": "Bad"},
		{"number": 1, "title": "Opening"}
	]}`)
	out, err := Validate(core.PhaseOutlining, v)
	require.NoError(t, err)

	var o Outline
	require.NoError(t, json.Unmarshal([]byte(out), &o))
	require.Len(t, o.Scenes, 2)
	// sorted ascending by number
	assert.Equal(t, 1, o.Scenes[0].Number)
	assert.Equal(t, 2, o.Scenes[1].Number)
}

func TestValidateOutlineStringDigitsAccepted(t *testing.T) {
	v := decodeJSON(t, `{"scenes": [{"number": "3", "title": "Three"}]}`)
	out, err := Validate(core.PhaseOutlining, v)
	require.NoError(t, err)

	var o Outline
	require.NoError(t, json.Unmarshal([]byte(out), &o))
	assert.Equal(t, 3, o.Scenes[0].Number)
}

func TestValidateMotifsFiltersEmptyValues(t *testing.T) {
	v := decodeJSON(t, `{"constraints": [
		{"name": "maps", "value": "Maps recur."},
		{"name": "empty", "value": ""},
		{"name": "tide", "value": "The tide rises each act.", "scenes": [1, 3]}
	]}`)
	out, err := Validate(core.PhaseMotifLayer, v)
	require.NoError(t, err)

	var m Motifs
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	require.Len(t, m.Constraints, 2)
	assert.Equal(t, "maps", m.Constraints[0].Name)
	assert.Equal(t, []int{1, 3}, m.Constraints[1].Scenes)
}

func TestValidateNarratorObjectShapedVoice(t *testing.T) {
	v := decodeJSON(t, `{"voice": {"description": "wry, distant"}, "pov": "third"}`)
	out, err := Validate(core.PhaseNarratorDesign, v)
	require.NoError(t, err)

	var n Narrator
	require.NoError(t, json.Unmarshal([]byte(out), &n))
	assert.Equal(t, "wry, distant", n.Voice)
	assert.Equal(t, "third", n.POV)
}

func TestValidateWorldLocationsAsStrings(t *testing.T) {
	v := decodeJSON(t, `{"setting": "archipelago", "locations": ["The Spire", {"name": "Harbor"}]}`)
	out, err := Validate(core.PhaseWorldbuilding, v)
	require.NoError(t, err)

	var w World
	require.NoError(t, json.Unmarshal([]byte(out), &w))
	require.Len(t, w.Locations, 2)
	assert.Equal(t, "The Spire", w.Locations[0].Name)
	assert.Equal(t, "Harbor", w.Locations[1].Name)
}

func TestValidateDraft(t *testing.T) {
	v := decodeJSON(t, `{"scenes": [
		{"number": 2, "text": "Second."},
		{"number": 1, "prose": "First."}
	]}`)
	out, err := Validate(core.PhaseDrafting, v)
	require.NoError(t, err)

	var d Draft
	require.NoError(t, json.Unmarshal([]byte(out), &d))
	require.Len(t, d.Scenes, 2)
	assert.Equal(t, "First.", d.Scenes[0].Text)
	assert.Equal(t, "Second.", d.Scenes[1].Text)
}

func TestValidateScene(t *testing.T) {
	v := decodeJSON(t, `{"number": 4, "title": "Storm", "text": "Rain fell."}`)
	sd, err := ValidateScene(core.PhaseDrafting, v, 9)
	require.NoError(t, err)
	assert.Equal(t, 4, sd.Number)
	assert.Equal(t, "Rain fell.", sd.Text)
}

func TestValidateSceneFallbackNumber(t *testing.T) {
	v := decodeJSON(t, `{"text": "Rain fell."}`)
	sd, err := ValidateScene(core.PhasePolish, v, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, sd.Number)
}

func TestValidateSceneEmpty(t *testing.T) {
	v := decodeJSON(t, `{"number": 1}`)
	_, err := ValidateScene(core.PhaseDrafting, v, 1)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "empty_scene", verr.Kind)
}

func TestTextFallbackProducesValidJSON(t *testing.T) {
	out := TextFallback(`raw "quoted" text`)
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	assert.Equal(t, `raw "quoted" text`, m["text"])
}

func TestParseOutlineRoundTrip(t *testing.T) {
	v := decodeJSON(t, `{"scenes": [{"number": 1, "summary": "We begin."}]}`)
	out, err := Validate(core.PhaseOutlining, v)
	require.NoError(t, err)

	scenes, err := ParseOutline(out)
	require.NoError(t, err)
	require.Len(t, scenes, 1)
	assert.Equal(t, "We begin.", scenes[0].Summary)
}

func TestValidateNilValue(t *testing.T) {
	_, err := Validate(core.PhaseGenesis, nil)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "empty", verr.Kind)
}
