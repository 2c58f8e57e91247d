// Package store provides run persistence: a volatile in-memory store for
// tests and embedding, and a SQLite-backed store that also serves as the
// durable event log. Resume state always derives from what these stores
// hold, never from in-memory-only engine state.
package store
