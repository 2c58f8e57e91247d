package executor

import (
	"fmt"
	"strings"

	"github.com/storyloom/storyloom/core"
)

// instructions holds the per-phase system prompt. Every phase demands a JSON
// reply; the tolerant decoder cleans up what comes back anyway.
var instructions = map[core.Phase]string{
	core.PhaseGenesis:          "Develop the story premise. Reply with a JSON object holding premise, themes (array) and tone.",
	core.PhaseCharacters:       "Create the character roster for this story. Reply with a JSON object holding a characters array; each entry has name, role, description and arc.",
	core.PhaseNarratorDesign:   "Design the narrator. Reply with a JSON object holding voice, pov, tense and style_notes (array).",
	core.PhaseWorldbuilding:    "Build the story world. Reply with a JSON object holding setting, locations (array of name/description) and rules (array).",
	core.PhaseOutlining:        "Outline the story scene by scene. Reply with a JSON object holding a scenes array; each entry has number, title and summary.",
	core.PhaseMotifLayer:       "Define recurring motifs and continuity constraints. Reply with a JSON object holding a constraints array; each entry has name, value and scenes (array of numbers).",
	core.PhaseAdvancedPlanning: "Plan plot threads and pacing across the outline. Reply with a JSON object holding threads (array) and pacing.",
	core.PhaseDrafting:         "Write the prose for the requested scene. Reply with a JSON object holding number, title and text.",
	core.PhasePolish:           "Polish the drafted scene into final prose. Reply with a JSON object holding number and text.",
}

// Instruction returns the system prompt for a phase.
func Instruction(p core.Phase) string {
	if ins, ok := instructions[p]; ok {
		return ins
	}
	return fmt.Sprintf("Produce the %s stage of the story as a JSON object.", p.DisplayName())
}

// BuildUserPrompt assembles the user message for a request from the upstream
// context document, the optional scene key and any regeneration guidance.
func BuildUserPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("Story context so far:\n")
	b.WriteString(req.Context)
	if req.Scene != nil {
		fmt.Fprintf(&b, "\n\nWork on scene %d only.", *req.Scene)
	}
	if req.Guidance != "" {
		fmt.Fprintf(&b, "\n\nThe author asked for this revision: %s", req.Guidance)
	}
	return b.String()
}
