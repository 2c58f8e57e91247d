// Package core defines the shared domain model of the storyloom pipeline:
// the canonical phase order and dependency graph, run lifecycle states,
// phase outputs, regeneration requests, the typed progress event, and the
// store interfaces the orchestration engine is built against.
//
// Types here are plain data. The engine package owns all mutation of runs;
// observers learn about in-flight state exclusively through the event log.
package core
