// Package jobstore persists ingestion jobs, their per-media work items, and
// the content-addressed artifact index in SQLite. It is the single
// authoritative source of truth for item status; jobs carry only aggregate
// counters recomputed from this store.
package jobstore
