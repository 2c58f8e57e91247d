// Package plan computes regeneration plans: given an edit to one phase's
// output plus a lock set, it derives the minimal set of downstream phases to
// re-execute and the frozen content carried forward verbatim for everything
// else. Locked phases are never re-invoked; the edit comment is mandatory
// because it becomes contextual guidance for every regenerated phase.
package plan

import (
	"fmt"
	"strings"

	"github.com/storyloom/storyloom/core"
	"github.com/storyloom/storyloom/schema"
)

// Plan is the resolved outcome of a regeneration request: the phases that
// will actually re-execute and the seed for the replacement run.
type Plan struct {
	// Affected lists the phases scheduled for regeneration, in canonical
	// order: downstream of the edited phase minus the lock set.
	Affected []core.Phase
	// Seed carries frozen content, the authoritative edit and the guidance
	// comment into the new run.
	Seed core.Seed
}

// Build validates the request against the prior run and computes the plan.
// It fails before any downstream work is scheduled when the comment is empty
// or a phase reference falls outside the canonical order.
func Build(run *core.Run, req core.RegenerationRequest) (*Plan, error) {
	if strings.TrimSpace(req.Comment) == "" {
		return nil, core.ErrEmptyComment
	}
	if !req.Phase.Known() {
		return nil, fmt.Errorf("edited phase %q: %w", req.Phase, core.ErrUnknownPhase)
	}
	locked := map[core.Phase]bool{}
	for _, p := range req.Locked {
		if !p.Known() {
			return nil, fmt.Errorf("locked phase %q: %w", p, core.ErrUnknownPhase)
		}
		locked[p] = true
	}

	var affected []core.Phase
	for _, p := range req.Phase.Downstream() {
		if !locked[p] {
			affected = append(affected, p)
		}
	}

	seed := core.Seed{
		Premise:  run.Seed.Premise,
		Frozen:   map[core.Phase]string{},
		Edits:    map[core.Phase]core.EditRecord{req.Phase: {Content: req.Content, Comment: req.Comment}},
		Guidance: req.Comment,
		Scenes:   append([]int(nil), req.Scenes...),
	}

	// Everything not regenerated and not edited keeps its prior content
	// verbatim: upstream phases and the lock set.
	regen := map[core.Phase]bool{}
	for _, p := range affected {
		regen[p] = true
	}
	for _, p := range run.Phases {
		if p == req.Phase || regen[p] {
			continue
		}
		out, ok := run.Outputs[p]
		if !ok || out.Content == "" {
			if locked[p] {
				return nil, fmt.Errorf("phase %s: %w", p, core.ErrMissingLockedOutput)
			}
			continue
		}
		seed.Frozen[p] = out.Content
	}

	// A scene selection narrows regeneration inside Drafting and Polish:
	// non-selected scenes of the prior draft are carried forward verbatim.
	if len(req.Scenes) > 0 {
		seed.FrozenScenes = frozenScenes(run, req.Scenes)
	}

	return &Plan{Affected: affected, Seed: seed}, nil
}

// frozenScenes keeps non-selected scene text keyed by phase, so a carried
// scene is frozen at its drafted text for Drafting and at its polished text
// for Polish instead of both collapsing to one version.
func frozenScenes(run *core.Run, selection []int) map[core.Phase]map[int]string {
	selected := map[int]bool{}
	for _, n := range selection {
		selected[n] = true
	}
	frozen := map[core.Phase]map[int]string{}
	for _, phase := range []core.Phase{core.PhaseDrafting, core.PhasePolish} {
		out, ok := run.Outputs[phase]
		if !ok || out.Content == "" {
			continue
		}
		scenes, err := schema.ParseDraft(out.Content)
		if err != nil {
			continue
		}
		for _, sc := range scenes {
			if selected[sc.Number] {
				continue
			}
			if frozen[phase] == nil {
				frozen[phase] = map[int]string{}
			}
			frozen[phase][sc.Number] = sc.Text
		}
	}
	return frozen
}
