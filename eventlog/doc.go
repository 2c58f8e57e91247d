// Package eventlog implements the append-only, replayable event stream for
// runs: an in-memory core.EventLog with per-subscriber cursors and an
// incremental fold (RunView) that reconstructs derived run state from the
// log without rescanning history. Delivery is at-least-once with per-run
// ordering preserved; observers tolerate re-delivery by folding
// idempotently.
package eventlog
