// Package schema normalizes decoded generator output into one canonical
// shape per phase. Generative output is syntactically valid but semantically
// loose: a field that should be a string arrives as an object or an array,
// list entries are individually malformed, enum values come back in random
// casing. The validator accepts the union of observed shapes, normalizes to
// the canonical shape, and filters out only the malformed entries rather
// than rejecting whole payloads; partial usable output beats total
// rejection. Union shapes never propagate past this boundary.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/storyloom/storyloom/core"
)

// ValidationError is a typed per-phase validation failure.
type ValidationError struct {
	Kind  string
	Phase core.Phase
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Phase, e.Kind)
}

// Canonical shapes, one per phase.

// Genesis is the canonical Genesis output.
type Genesis struct {
	Premise string   `json:"premise"`
	Themes  []string `json:"themes,omitempty"`
	Tone    string   `json:"tone,omitempty"`
}

// Character is one entry of the character roster.
type Character struct {
	Name        string `json:"name"`
	Role        string `json:"role,omitempty"`
	Description string `json:"description,omitempty"`
	Arc         string `json:"arc,omitempty"`
}

// Characters is the canonical Characters output.
type Characters struct {
	Characters []Character `json:"characters"`
}

// Narrator is the canonical Narrator Design output.
type Narrator struct {
	Voice      string   `json:"voice"`
	POV        string   `json:"pov,omitempty"`
	Tense      string   `json:"tense,omitempty"`
	StyleNotes []string `json:"style_notes,omitempty"`
}

// Location is one named place in the world.
type Location struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// World is the canonical Worldbuilding output.
type World struct {
	Setting   string     `json:"setting"`
	Locations []Location `json:"locations,omitempty"`
	Rules     []string   `json:"rules,omitempty"`
}

// SceneOutline is one numbered scene in the outline.
type SceneOutline struct {
	Number  int    `json:"number"`
	Title   string `json:"title,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// Outline is the canonical Outlining output.
type Outline struct {
	Scenes []SceneOutline `json:"scenes"`
}

// Constraint is one motif or continuity constraint. Entries with an empty
// value are discarded during validation.
type Constraint struct {
	Name   string `json:"name,omitempty"`
	Value  string `json:"value"`
	Scenes []int  `json:"scenes,omitempty"`
}

// Motifs is the canonical Motif Layer output.
type Motifs struct {
	Constraints []Constraint `json:"constraints"`
}

// PlanNotes is the canonical Advanced Planning output.
type PlanNotes struct {
	Threads []string `json:"threads,omitempty"`
	Pacing  string   `json:"pacing,omitempty"`
}

// SceneDraft is one drafted or polished scene keyed by number.
type SceneDraft struct {
	Number int    `json:"number"`
	Title  string `json:"title,omitempty"`
	Text   string `json:"text"`
}

// Draft is the canonical Drafting and Polish output.
type Draft struct {
	Scenes []SceneDraft `json:"scenes"`
}

// knownRoles is the constrained value set for Character.Role. Values are
// matched case-insensitively; unmatched input falls back to the raw string.
var knownRoles = []string{
	"protagonist", "antagonist", "deuteragonist",
	"mentor", "supporting", "foil", "narrator", "love interest",
}

// Validate normalizes a decoded value into the phase's canonical shape and
// returns it serialized as JSON. It returns a *ValidationError when no
// usable canonical value can be produced at all.
func Validate(phase core.Phase, v any) (string, error) {
	if v == nil {
		return "", &ValidationError{Kind: "empty", Phase: phase}
	}
	var canonical any
	switch phase {
	case core.PhaseGenesis:
		canonical = validateGenesis(v)
	case core.PhaseCharacters:
		c := validateCharacters(v)
		if len(c.Characters) == 0 {
			return "", &ValidationError{Kind: "no_valid_entries", Phase: phase}
		}
		canonical = c
	case core.PhaseNarratorDesign:
		canonical = validateNarrator(v)
	case core.PhaseWorldbuilding:
		canonical = validateWorld(v)
	case core.PhaseOutlining:
		o := validateOutline(v)
		if len(o.Scenes) == 0 {
			return "", &ValidationError{Kind: "no_valid_entries", Phase: phase}
		}
		canonical = o
	case core.PhaseMotifLayer:
		m := validateMotifs(v)
		if len(m.Constraints) == 0 {
			return "", &ValidationError{Kind: "no_valid_entries", Phase: phase}
		}
		canonical = m
	case core.PhaseAdvancedPlanning:
		canonical = validatePlanNotes(v)
	case core.PhaseDrafting, core.PhasePolish:
		d := validateDraft(v)
		if len(d.Scenes) == 0 {
			return "", &ValidationError{Kind: "no_valid_entries", Phase: phase}
		}
		canonical = d
	default:
		return "", &ValidationError{Kind: "unknown_phase", Phase: phase}
	}
	return marshal(canonical, phase)
}

// ValidateScene normalizes the decoded output of a single scene generation.
// fallbackNumber is used when the payload carries no usable scene number.
func ValidateScene(phase core.Phase, v any, fallbackNumber int) (SceneDraft, error) {
	m, ok := v.(map[string]any)
	if !ok {
		text := asText(v)
		if text == "" {
			return SceneDraft{}, &ValidationError{Kind: "empty_scene", Phase: phase}
		}
		return SceneDraft{Number: fallbackNumber, Text: text}, nil
	}
	sd := SceneDraft{Number: fallbackNumber}
	if n, ok := asInt(field(m, "number", "scene", "scene_number", "index")); ok {
		sd.Number = n
	}
	sd.Title = asText(field(m, "title", "name"))
	sd.Text = asText(field(m, "text", "prose", "content", "draft", "body"))
	if sd.Text == "" {
		sd.Text = asText(field(m, "summary"))
	}
	if sd.Text == "" {
		return SceneDraft{}, &ValidationError{Kind: "empty_scene", Phase: phase}
	}
	return sd, nil
}

// TextFallback wraps opaque text into a minimal canonical JSON document so
// downstream context assembly always works with valid JSON.
func TextFallback(raw string) string {
	b, _ := json.Marshal(struct {
		Text string `json:"text"`
	}{Text: raw})
	return string(b)
}

// ParseOutline reads a canonical Outlining document back into scene entries.
func ParseOutline(content string) ([]SceneOutline, error) {
	var o Outline
	if err := json.Unmarshal([]byte(content), &o); err != nil {
		return nil, fmt.Errorf("parse outline: %w", err)
	}
	return o.Scenes, nil
}

// ParseDraft reads a canonical Drafting or Polish document back into scenes.
func ParseDraft(content string) ([]SceneDraft, error) {
	var d Draft
	if err := json.Unmarshal([]byte(content), &d); err != nil {
		return nil, fmt.Errorf("parse draft: %w", err)
	}
	return d.Scenes, nil
}

func marshal(v any, phase core.Phase) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", &ValidationError{Kind: "marshal", Phase: phase}
	}
	return string(b), nil
}

func validateGenesis(v any) Genesis {
	m := asObject(v)
	g := Genesis{
		Premise: asText(field(m, "premise", "logline", "concept", "idea")),
		Themes:  asTextList(field(m, "themes", "theme")),
		Tone:    asText(field(m, "tone", "mood")),
	}
	if g.Premise == "" {
		g.Premise = asText(v)
	}
	return g
}

func validateCharacters(v any) Characters {
	list := asList(v, "characters", "cast", "roster")
	out := Characters{}
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		c := Character{
			Name:        asText(field(m, "name", "character", "title")),
			Role:        normalizeRole(asText(field(m, "role", "type", "archetype"))),
			Description: asText(field(m, "description", "desc", "bio", "about")),
			Arc:         asText(field(m, "arc", "journey", "development")),
		}
		if c.Name == "" {
			continue // malformed entry, drop it
		}
		out.Characters = append(out.Characters, c)
	}
	return out
}

func validateNarrator(v any) Narrator {
	m := asObject(v)
	n := Narrator{
		Voice:      asText(field(m, "voice", "narrator", "narrative_voice")),
		POV:        asText(field(m, "pov", "point_of_view", "perspective")),
		Tense:      asText(field(m, "tense")),
		StyleNotes: asTextList(field(m, "style_notes", "style", "notes")),
	}
	if n.Voice == "" {
		n.Voice = asText(v)
	}
	return n
}

func validateWorld(v any) World {
	m := asObject(v)
	w := World{
		Setting: asText(field(m, "setting", "world", "overview")),
		Rules:   asTextList(field(m, "rules", "laws", "constraints")),
	}
	for _, item := range asList(field(m, "locations", "places"), "") {
		lm, ok := item.(map[string]any)
		if !ok {
			if t := asText(item); t != "" {
				w.Locations = append(w.Locations, Location{Name: t})
			}
			continue
		}
		loc := Location{
			Name:        asText(field(lm, "name", "location", "place")),
			Description: asText(field(lm, "description", "desc")),
		}
		if loc.Name == "" {
			continue
		}
		w.Locations = append(w.Locations, loc)
	}
	if w.Setting == "" {
		w.Setting = asText(field(m, "description"))
	}
	return w
}

func validateOutline(v any) Outline {
	list := asList(v, "scenes", "outline", "scene_list", "beats")
	out := Outline{}
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		n, ok := asInt(field(m, "number", "scene", "scene_number", "index"))
		if !ok {
			continue // non-numeric index, drop the entry
		}
		out.Scenes = append(out.Scenes, SceneOutline{
			Number:  n,
			Title:   asText(field(m, "title", "name")),
			Summary: asText(field(m, "summary", "description", "beat")),
		})
	}
	sort.SliceStable(out.Scenes, func(i, j int) bool {
		return out.Scenes[i].Number < out.Scenes[j].Number
	})
	return out
}

func validateMotifs(v any) Motifs {
	list := asList(v, "constraints", "motifs", "entries")
	out := Motifs{}
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		c := Constraint{
			Name:  asText(field(m, "name", "motif", "key")),
			Value: asText(field(m, "value", "rule", "description")),
		}
		if c.Value == "" {
			continue // required field missing, drop the entry
		}
		for _, s := range asList(field(m, "scenes", "scene_numbers"), "") {
			if n, ok := asInt(s); ok {
				c.Scenes = append(c.Scenes, n)
			}
		}
		out.Constraints = append(out.Constraints, c)
	}
	return out
}

func validatePlanNotes(v any) PlanNotes {
	m := asObject(v)
	p := PlanNotes{
		Threads: asTextList(field(m, "threads", "plot_threads", "arcs")),
		Pacing:  asText(field(m, "pacing", "rhythm", "notes")),
	}
	if len(p.Threads) == 0 && p.Pacing == "" {
		p.Pacing = asText(v)
	}
	return p
}

func validateDraft(v any) Draft {
	list := asList(v, "scenes", "drafts", "chapters")
	out := Draft{}
	for i, item := range list {
		sd, err := ValidateScene(core.PhaseDrafting, item, i+1)
		if err != nil {
			continue
		}
		out.Scenes = append(out.Scenes, sd)
	}
	sort.SliceStable(out.Scenes, func(i, j int) bool {
		return out.Scenes[i].Number < out.Scenes[j].Number
	})
	return out
}

// normalizeRole maps known role values case-insensitively, falling back to
// the original raw string rather than erroring.
func normalizeRole(raw string) string {
	trimmed := strings.TrimSpace(raw)
	lower := strings.ToLower(trimmed)
	for _, r := range knownRoles {
		if lower == r {
			return r
		}
	}
	return trimmed
}

// field returns the first present key among the given aliases.
func field(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v
		}
	}
	return nil
}

func asObject(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// asList accepts either a bare array or an object wrapping the array under
// one of the alias keys.
func asList(v any, keys ...string) []any {
	switch t := v.(type) {
	case []any:
		return t
	case map[string]any:
		for _, k := range keys {
			if k == "" {
				continue
			}
			if inner, ok := t[k].([]any); ok {
				return inner
			}
		}
	}
	return nil
}

// textKeys are the preferred carriers of prose inside an object-shaped field.
var textKeys = []string{"text", "description", "content", "summary", "value", "name"}

// asText folds the union of observed shapes (string, object, array, number,
// bool) into one string. Objects prefer a known text-bearing key; arrays
// join their elements.
func asText(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		for _, k := range textKeys {
			if s := asText(t[k]); s != "" {
				return s
			}
		}
		return ""
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := asText(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n\n")
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

// asTextList folds string-or-array shapes into a string slice.
func asTextList(v any) []string {
	switch t := v.(type) {
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return []string{s}
		}
		return nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s := asText(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case map[string]any:
		if s := asText(t); s != "" {
			return []string{s}
		}
	}
	return nil
}

// asInt folds numeric union shapes (float64, string digits) into an int.
func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case int:
		return t, true
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n, true
		}
	}
	return 0, false
}
