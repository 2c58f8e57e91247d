// Package reconcile derives one canonical final artifact from a run's event
// log. Phases may emit multiple overlapping completion events for the same
// scene (retries, reconnects, resumed runs re-emitting history), so
// reconciliation deduplicates by scene key keeping only the most recent
// event per key, prefers the most fully-processed completion kind, and
// assembles scenes in ascending key order. It is a total function of the
// event log and depends on nothing else.
package reconcile

import (
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/storyloom/storyloom/core"
	"github.com/storyloom/storyloom/logging"
)

// substantialLen is the minimum length for a content-bearing message to
// qualify as an artifact fallback source.
const substantialLen = 40

// Scene is one reconciled sub-unit of the artifact.
type Scene struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// Artifact is the reconciled final result of a run. Source names the
// priority level that produced it: "scenes", "message" or "summary".
type Artifact struct {
	Scenes []Scene `json:"scenes,omitempty"`
	Text   string  `json:"text"`
	Source string  `json:"source"`
}

type sceneEntry struct {
	text string
	rank int
	seq  int64
}

// rank orders completion kinds by processing level: a polished completion
// beats a drafted one for the same scene key.
func rank(t core.EventType) int {
	switch t {
	case core.EventScenePolished:
		return 2
	case core.EventSceneDrafted:
		return 1
	}
	return 0
}

// Reconcile folds the ordered event log into an artifact. The second return
// is false when no usable content exists at any priority level. Events
// missing a scene key fold to key 0; that is logged as a data-quality
// condition, never a failure.
func Reconcile(events []core.Event, logger logging.Logger) (*Artifact, bool) {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}

	scenes := map[int]sceneEntry{}
	var lastMessage string
	var summary string

	for _, ev := range events {
		switch {
		case ev.IsSceneCompletion():
			key := 0
			if ev.Scene != nil {
				key = *ev.Scene
			} else {
				logger.Warn("scene completion without scene key, folding to key 0",
					"run_id", ev.RunID, "event_id", ev.ID)
			}
			entry := sceneEntry{text: sceneText(ev.Content), rank: rank(ev.Type), seq: ev.Seq}
			if entry.text == "" {
				continue
			}
			prev, ok := scenes[key]
			if !ok || entry.rank > prev.rank || (entry.rank == prev.rank && entry.seq >= prev.seq) {
				scenes[key] = entry
			}
		case ev.Type == core.EventPhaseCompleted || ev.Type == core.EventAgentPartial:
			if text := sceneText(ev.Content); len(text) >= substantialLen {
				lastMessage = text
			}
		case ev.Type == core.EventRunCompleted:
			if ev.Message != "" {
				summary = ev.Message
			}
		}
	}

	if len(scenes) > 0 {
		keys := make([]int, 0, len(scenes))
		for k := range scenes {
			keys = append(keys, k)
		}
		sort.Ints(keys)
		art := &Artifact{Source: "scenes"}
		var parts []string
		for _, k := range keys {
			art.Scenes = append(art.Scenes, Scene{Number: k, Text: scenes[k].text})
			parts = append(parts, scenes[k].text)
		}
		art.Text = strings.Join(parts, "\n\n")
		return art, true
	}
	if lastMessage != "" {
		return &Artifact{Text: lastMessage, Source: "message"}, true
	}
	if summary != "" {
		return &Artifact{Text: summary, Source: "summary"}, true
	}
	return nil, false
}

// sceneText pulls prose out of event content: the text field of a canonical
// scene document, or the content itself when it is not JSON.
func sceneText(content string) string {
	if content == "" {
		return ""
	}
	if gjson.Valid(content) {
		if t := gjson.Get(content, "text"); t.Exists() {
			return strings.TrimSpace(t.String())
		}
		if t := gjson.Get(content, "scenes.#.text"); t.IsArray() {
			var parts []string
			for _, r := range t.Array() {
				if s := strings.TrimSpace(r.String()); s != "" {
					parts = append(parts, s)
				}
			}
			if len(parts) > 0 {
				return strings.Join(parts, "\n\n")
			}
		}
	}
	return strings.TrimSpace(content)
}
