package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tidwall/sjson"
	"golang.org/x/sync/errgroup"

	"github.com/storyloom/storyloom/core"
	"github.com/storyloom/storyloom/decode"
	"github.com/storyloom/storyloom/executor"
	"github.com/storyloom/storyloom/schema"
)

// executePhase produces one phase's output: frozen content is carried
// forward verbatim, user edits are authoritative, scene-decomposed phases
// fan out per scene, everything else is one executor call. All generator
// output passes through the tolerant decoder and the schema validator
// before being recorded.
func (e *Engine) executePhase(ctx context.Context, run *core.Run, ctrl *control, phase core.Phase) (*core.PhaseOutput, error) {
	if frozen, ok := run.Seed.Frozen[phase]; ok {
		return &core.PhaseOutput{
			RunID:   run.ID,
			Phase:   phase,
			Content: frozen,
			Carried: true,
			Locked:  true,
			Updated: time.Now().UTC(),
		}, nil
	}

	if edit, ok := run.Seed.Edits[phase]; ok {
		return e.applyEdit(run, phase, edit), nil
	}

	if phase == core.PhaseDrafting || phase == core.PhasePolish {
		if out, ok, err := e.executeScenes(ctx, run, ctrl, phase); err != nil || ok {
			return out, err
		}
		// no outline to decompose against; fall through to a single call
	}

	raw, err := e.callExecutor(ctx, run, ctrl, executor.Request{
		RunID:    run.ID,
		Phase:    phase,
		Context:  e.buildContext(run),
		Guidance: run.Seed.Guidance,
	})
	if err != nil {
		return nil, err
	}
	return e.record(ctx, run, phase, raw), nil
}

// applyEdit turns a user-supplied replacement into the phase output without
// invoking a generator. The edit text still goes through decode+validate so
// downstream phases see canonical shapes; raw text survives as fallback.
func (e *Engine) applyEdit(run *core.Run, phase core.Phase, edit core.EditRecord) *core.PhaseOutput {
	out := &core.PhaseOutput{
		RunID:   run.ID,
		Phase:   phase,
		Edit:    &edit,
		Updated: time.Now().UTC(),
	}
	if v, ok := decode.Decode(edit.Content); ok {
		if canonical, err := schema.Validate(phase, v); err == nil {
			out.Content = canonical
			return out
		}
	}
	out.Content = schema.TextFallback(edit.Content)
	out.Raw = edit.Content
	out.Warnings = append(out.Warnings, "edit content kept as opaque text")
	return out
}

// record decodes and validates raw generator output into a phase output,
// recovering locally wherever a fallback exists: raw text on decode
// failure, text fallback plus a typed failure event on validation failure.
func (e *Engine) record(ctx context.Context, run *core.Run, phase core.Phase, raw string) *core.PhaseOutput {
	out := &core.PhaseOutput{RunID: run.ID, Phase: phase, Updated: time.Now().UTC()}

	v, ok := decode.Decode(raw)
	if !ok {
		e.logDecodeFallback(run.ID, phase, len(raw))
		out.Content = schema.TextFallback(raw)
		out.Raw = raw
		out.Warnings = append(out.Warnings, "decode: output kept as opaque text")
		return out
	}

	canonical, err := schema.Validate(phase, v)
	if err != nil {
		kind := "validation"
		var verr *schema.ValidationError
		if errors.As(err, &verr) {
			kind = "validation:" + verr.Kind
		}
		_ = e.emit(ctx, core.NewPhaseFailedEvent(run.ID, phase, kind, err.Error()))
		out.Content = schema.TextFallback(raw)
		out.Raw = raw
		out.Warnings = append(out.Warnings, kind)
		return out
	}

	out.Content = canonical
	return out
}

// executeScenes fans scene generation out across the outline with bounded
// concurrency. Frozen scenes (from a scene-selection regeneration) are
// carried forward verbatim and never re-invoke a generator; generated and
// carried scenes alike are emitted as scene-keyed completion events for
// later deduplication. Returns ok=false when there is no outline to
// decompose against.
func (e *Engine) executeScenes(ctx context.Context, run *core.Run, ctrl *control, phase core.Phase) (*core.PhaseOutput, bool, error) {
	outlines := e.sceneOutlines(run, phase)
	if len(outlines) == 0 {
		return nil, false, nil
	}

	eventType := core.EventSceneDrafted
	if phase == core.PhasePolish {
		eventType = core.EventScenePolished
	}
	selected := map[int]bool{}
	for _, n := range run.Seed.Scenes {
		selected[n] = true
	}

	var mu sync.Mutex
	results := make(map[int]schema.SceneDraft, len(outlines))
	warnings := []string{}

	// Frozen text is kept per phase so a carried Polish scene keeps its
	// polished prose rather than regressing to the draft.
	frozenForPhase := run.Seed.FrozenScenes[phase]

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.sceneConcurrency)
	for _, sc := range outlines {
		sc := sc
		if frozen, ok := frozenForPhase[sc.Number]; ok && (len(selected) == 0 || !selected[sc.Number]) {
			draft := schema.SceneDraft{Number: sc.Number, Title: sc.Title, Text: frozen}
			mu.Lock()
			results[sc.Number] = draft
			mu.Unlock()
			content, _ := json.Marshal(draft)
			if err := e.emit(ctx, core.NewSceneEvent(run.ID, eventType, phase, sc.Number, string(content), true)); err != nil {
				return nil, true, err
			}
			continue
		}
		g.Go(func() error {
			n := sc.Number
			raw, err := e.callExecutor(gctx, run, ctrl, executor.Request{
				RunID:    run.ID,
				Phase:    phase,
				Scene:    &n,
				Context:  e.buildContext(run),
				Guidance: run.Seed.Guidance,
			})
			if err != nil {
				return fmt.Errorf("scene %d: %w", n, err)
			}

			draft := e.recordScene(run, phase, n, raw, &mu, &warnings)
			mu.Lock()
			results[n] = draft
			mu.Unlock()

			content, _ := json.Marshal(draft)
			return e.emit(gctx, core.NewSceneEvent(run.ID, eventType, phase, n, string(content), false))
		})
	}
	if err := g.Wait(); err != nil {
		return nil, true, err
	}

	numbers := make([]int, 0, len(results))
	for n := range results {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	draft := schema.Draft{}
	for _, n := range numbers {
		draft.Scenes = append(draft.Scenes, results[n])
	}
	content, err := json.Marshal(draft)
	if err != nil {
		return nil, true, fmt.Errorf("marshal %s output: %w", phase, err)
	}
	return &core.PhaseOutput{
		RunID:    run.ID,
		Phase:    phase,
		Content:  string(content),
		Warnings: warnings,
		Updated:  time.Now().UTC(),
	}, true, nil
}

// recordScene decodes and validates one scene's raw output, falling back to
// the raw prose when the payload is not usable JSON.
func (e *Engine) recordScene(run *core.Run, phase core.Phase, number int, raw string, mu *sync.Mutex, warnings *[]string) schema.SceneDraft {
	if v, ok := decode.Decode(raw); ok {
		if draft, err := schema.ValidateScene(phase, v, number); err == nil {
			draft.Number = pinSceneNumber(draft.Number, number)
			return draft
		}
	}
	e.logger.Warn("scene decode failed, keeping raw text", "run_id", run.ID, "phase", string(phase), "scene", number)
	mu.Lock()
	*warnings = append(*warnings, fmt.Sprintf("scene %d: output kept as opaque text", number))
	mu.Unlock()
	return schema.SceneDraft{Number: number, Text: raw}
}

// logDecodeFallback records one kept-as-text decode failure, preferring the
// diagnostic logger when the configured logger provides it.
func (e *Engine) logDecodeFallback(runID string, phase core.Phase, rawLen int) {
	if e.diag != nil {
		e.diag.LogDecodeFallback(string(phase), rawLen)
		return
	}
	e.logger.Warn("decode failed, keeping raw text", "run_id", runID, "phase", string(phase), "raw_len", rawLen)
}

// pinSceneNumber keeps the scene keyed by the number it was dispatched
// under; generators occasionally renumber scenes and that would collide
// during deduplication.
func pinSceneNumber(got, dispatched int) int {
	if got != dispatched {
		return dispatched
	}
	return got
}

// sceneOutlines returns the sub-units a phase decomposes into: the outline
// scenes for Drafting, the drafted scenes for Polish.
func (e *Engine) sceneOutlines(run *core.Run, phase core.Phase) []schema.SceneOutline {
	if phase == core.PhasePolish {
		source, ok := run.Outputs[core.PhaseDrafting]
		if !ok {
			if frozen, ok := run.Seed.Frozen[core.PhaseDrafting]; ok {
				source = &core.PhaseOutput{Content: frozen}
			}
		}
		if source != nil {
			if scenes, err := schema.ParseDraft(source.Content); err == nil {
				out := make([]schema.SceneOutline, 0, len(scenes))
				for _, s := range scenes {
					out = append(out, schema.SceneOutline{Number: s.Number, Title: s.Title, Summary: s.Text})
				}
				return out
			}
		}
		return nil
	}

	source, ok := run.Outputs[core.PhaseOutlining]
	if !ok {
		if frozen, ok := run.Seed.Frozen[core.PhaseOutlining]; ok {
			source = &core.PhaseOutput{Content: frozen}
		}
	}
	if source == nil {
		return nil
	}
	scenes, err := schema.ParseOutline(source.Content)
	if err != nil {
		return nil
	}
	return scenes
}

// callExecutor runs one generator call through the per-run budget and the
// bounded retry wrapper, forwarding progress sub-events to the log.
func (e *Engine) callExecutor(ctx context.Context, run *core.Run, ctrl *control, req executor.Request) (string, error) {
	if err := ctrl.limiter.Increment(); err != nil {
		return "", err
	}
	emit := func(ev core.Event) {
		ev.RunID = run.ID
		_ = e.emit(ctx, ev)
	}
	return e.exec.Execute(ctx, req, emit)
}

// buildContext assembles the upstream context document: the premise, each
// completed phase's canonical output under its phase key, and any
// regeneration guidance.
func (e *Engine) buildContext(run *core.Run) string {
	doc := "{}"
	doc, _ = sjson.Set(doc, "premise", run.Seed.Premise)
	for _, phase := range run.Phases {
		out, ok := run.Outputs[phase]
		if !ok || out.Content == "" {
			continue
		}
		doc, _ = sjson.SetRaw(doc, string(phase), out.Content)
	}
	if run.Seed.Guidance != "" {
		doc, _ = sjson.Set(doc, "guidance", run.Seed.Guidance)
	}
	return doc
}
