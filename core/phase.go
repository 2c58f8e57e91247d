package core

import "strings"

// Phase identifies one named stage of the generation pipeline. Phases have a
// fixed position in the canonical order; later phases consume the canonical
// output of earlier phases as input context.
type Phase string

const (
	// PhaseGenesis seeds the premise, themes and tone.
	PhaseGenesis Phase = "genesis"
	// PhaseCharacters produces the character roster.
	PhaseCharacters Phase = "characters"
	// PhaseNarratorDesign fixes voice, point of view and tense.
	PhaseNarratorDesign Phase = "narrator_design"
	// PhaseWorldbuilding produces the setting, locations and world rules.
	PhaseWorldbuilding Phase = "worldbuilding"
	// PhaseOutlining produces the numbered scene outline.
	PhaseOutlining Phase = "outlining"
	// PhaseMotifLayer produces recurring motifs and continuity constraints.
	PhaseMotifLayer Phase = "motif_layer"
	// PhaseAdvancedPlanning produces plot threads and pacing notes.
	PhaseAdvancedPlanning Phase = "advanced_planning"
	// PhaseDrafting writes scene prose; scenes are independent sub-units.
	PhaseDrafting Phase = "drafting"
	// PhasePolish rewrites drafted scenes into final prose.
	PhasePolish Phase = "polish"
)

// canonicalOrder is the fixed execution order of the pipeline.
var canonicalOrder = []Phase{
	PhaseGenesis,
	PhaseCharacters,
	PhaseNarratorDesign,
	PhaseWorldbuilding,
	PhaseOutlining,
	PhaseMotifLayer,
	PhaseAdvancedPlanning,
	PhaseDrafting,
	PhasePolish,
}

// CanonicalOrder returns a copy of the fixed phase order.
func CanonicalOrder() []Phase {
	out := make([]Phase, len(canonicalOrder))
	copy(out, canonicalOrder)
	return out
}

// Known reports whether p is a member of the canonical order.
func (p Phase) Known() bool {
	for _, c := range canonicalOrder {
		if c == p {
			return true
		}
	}
	return false
}

// Downstream returns the phases causally downstream of p: the suffix of the
// canonical order starting immediately after p. An unknown phase yields the
// full canonical order, failing open toward "regenerate everything" rather
// than silently skipping work.
func (p Phase) Downstream() []Phase {
	for i, c := range canonicalOrder {
		if c == p {
			out := make([]Phase, len(canonicalOrder)-i-1)
			copy(out, canonicalOrder[i+1:])
			return out
		}
	}
	return CanonicalOrder()
}

// Next returns the phase immediately following p in canonical order.
// The second return is false when p is the last phase or unknown.
func (p Phase) Next() (Phase, bool) {
	for i, c := range canonicalOrder {
		if c == p && i+1 < len(canonicalOrder) {
			return canonicalOrder[i+1], true
		}
	}
	return "", false
}

// DisplayName returns a human-readable name, e.g. "Narrator Design".
func (p Phase) DisplayName() string {
	words := strings.Split(string(p), "_")
	for i, w := range words {
		if len(w) > 0 {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// ParsePhase maps free-form user input ("Narrator Design", "narrator_design",
// "NARRATOR-DESIGN") onto a canonical Phase. The second return is false when
// the input names no known phase.
func ParsePhase(s string) (Phase, bool) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	p := Phase(norm)
	if p.Known() {
		return p, true
	}
	return "", false
}
