// Package batch executes one scheduler-driven batch of work items against a
// job. Each invocation selects pending items, fans them out in bounded waves,
// records per-item outcomes, and recounts job progress from the item table.
// Every operation is safe to re-invoke: the scheduler delivers at least once,
// so a repeated batch must land on the same final state.
package batch
